package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const (
	issLine1 = "1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9005"
	issLine2 = "2 25544  51.6400 208.9163 0006317  69.9862 290.2000 15.49814600431350"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func validYAML() string {
	return `
log_level: debug
http_addr: ":9090"
engine:
  mode: sgp4
orbital:
  cache_ttl_seconds: 120
  max_attempts: 4
  breaker:
    failure_threshold: 3
detector:
  interval_seconds: 30
  horizon_seconds: 3600
  step_seconds: 30
  altitude_band_km: 150
planner:
  lead_time_minutes: 45
assets:
  - id: SAT-1
    name: ORBITWATCH-1
    line1: "` + issLine1 + `"
    line2: "` + issLine2 + `"
    mass_kg: 500
    rcs_m2: 4
    fuel_budget_kg: 50
    thrust_n: 2
    isp_seconds: 3100
`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML()))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTPAddr != ":9090" {
		t.Errorf("http_addr = %q, want :9090", cfg.HTTPAddr)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", cfg.SlogLevel())
	}

	oc := cfg.OrbitalConfig()
	if oc.CacheTTL != 2*time.Minute || oc.MaxAttempts != 4 {
		t.Errorf("orbital config = %+v, want 2m TTL and 4 attempts", oc)
	}
	if oc.Breaker.FailureThreshold != 3 {
		t.Errorf("breaker threshold = %d, want 3", oc.Breaker.FailureThreshold)
	}

	dc := cfg.DetectorConfig()
	if dc.Interval != 30*time.Second || dc.Horizon != time.Hour {
		t.Errorf("detector config = %+v, want 30s interval and 1h horizon", dc)
	}

	if got := cfg.PlannerConfig().LeadTime; got != 45*time.Minute {
		t.Errorf("planner lead time = %v, want 45m", got)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		wantSub string
	}{
		{
			name:    "no assets",
			mutate:  func(y string) string { return y[:strings.Index(y, "assets:")] },
			wantSub: "at least one protected asset",
		},
		{
			name:    "bad engine mode",
			mutate:  func(y string) string { return strings.Replace(y, "mode: sgp4", "mode: psychic", 1) },
			wantSub: "engine.mode",
		},
		{
			name:    "http engine without url",
			mutate:  func(y string) string { return strings.Replace(y, "mode: sgp4", "mode: http", 1) },
			wantSub: "engine.url",
		},
		{
			name:    "truncated element line",
			mutate:  func(y string) string { return strings.Replace(y, issLine1, issLine1[:40], 1) },
			wantSub: "SAT-1",
		},
		{
			name:    "zero mass",
			mutate:  func(y string) string { return strings.Replace(y, "mass_kg: 500", "mass_kg: 0", 1) },
			wantSub: "mass_kg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.mutate(validYAML())))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML()))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	t.Setenv("ORBITWATCH_HTTP_ADDR", ":7070")
	t.Setenv("ORBITWATCH_DETECT_INTERVAL", "15")
	t.Setenv("ORBITWATCH_MAX_ATTEMPTS", "not-a-number")
	cfg.ApplyEnv(testLogger())

	if cfg.HTTPAddr != ":7070" {
		t.Errorf("http_addr = %q, want :7070", cfg.HTTPAddr)
	}
	if cfg.Detector.IntervalSeconds != 15 {
		t.Errorf("interval = %d, want 15", cfg.Detector.IntervalSeconds)
	}
	if cfg.Orbital.MaxAttempts != 4 {
		t.Errorf("max attempts = %d, want the configured 4 after an unparsable override", cfg.Orbital.MaxAttempts)
	}
}

func TestBuildCatalogWithElementsFile(t *testing.T) {
	elements := "TEST OBJECT\n" + issLine1 + "\n" + issLine2 + "\n"
	elementsPath := filepath.Join(t.TempDir(), "objects.txt")
	if err := os.WriteFile(elementsPath, []byte(elements), 0o600); err != nil {
		t.Fatalf("writing elements file: %v", err)
	}

	yaml := validYAML() + "\nelements_file: " + elementsPath + "\ndefault_rcs_m2: 1.5\n"
	cfg, err := Load(writeConfig(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cat, err := cfg.BuildCatalog(testLogger())
	if err != nil {
		t.Fatalf("BuildCatalog failed: %v", err)
	}
	if len(cat.Assets()) != 1 {
		t.Errorf("catalog has %d assets, want 1", len(cat.Assets()))
	}
	if len(cat.Objects()) != 1 {
		t.Errorf("catalog has %d objects, want 1 from the elements file", len(cat.Objects()))
	}
}
