// Package config loads the YAML service configuration and applies
// environment overrides. Invalid env values log a warning and keep the
// file/default value rather than failing startup.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orbitwatch/orbitwatch/internal/catalog"
	"github.com/orbitwatch/orbitwatch/internal/coa"
	"github.com/orbitwatch/orbitwatch/internal/conjunction"
	"github.com/orbitwatch/orbitwatch/internal/ephemeris"
	"github.com/orbitwatch/orbitwatch/internal/orbital"
)

// Asset configures one protected satellite.
type Asset struct {
	ID           string  `yaml:"id"`
	Name         string  `yaml:"name"`
	Line1        string  `yaml:"line1"`
	Line2        string  `yaml:"line2"`
	MassKG       float64 `yaml:"mass_kg"`
	RCSM2        float64 `yaml:"rcs_m2"`
	FuelBudgetKG float64 `yaml:"fuel_budget_kg"`
	ThrustN      float64 `yaml:"thrust_n"`
	ISPSeconds   float64 `yaml:"isp_seconds"`
}

// Object configures one inline tracked object. Bulk objects usually come
// from elements_file instead.
type Object struct {
	ID    string  `yaml:"id"`
	Name  string  `yaml:"name"`
	Line1 string  `yaml:"line1"`
	Line2 string  `yaml:"line2"`
	RCSM2 float64 `yaml:"rcs_m2"`
}

// Engine selects and tunes the propagation engine.
type Engine struct {
	Mode           string `yaml:"mode"` // "sgp4" (embedded) or "http" (remote)
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Breaker tunes the orbital access layer's circuit breaker.
type Breaker struct {
	FailureThreshold     int `yaml:"failure_threshold"`
	FailureWindowSeconds int `yaml:"failure_window_seconds"`
	CooldownSeconds      int `yaml:"cooldown_seconds"`
}

// Orbital tunes the resilient propagation client.
type Orbital struct {
	CacheTTLSeconds    int     `yaml:"cache_ttl_seconds"`
	MaxAttempts        uint    `yaml:"max_attempts"`
	RetryBackoffMillis int     `yaml:"retry_backoff_ms"`
	CallTimeoutSeconds int     `yaml:"call_timeout_seconds"`
	Breaker            Breaker `yaml:"breaker"`
}

// Detector tunes the screening loop.
type Detector struct {
	IntervalSeconds int     `yaml:"interval_seconds"`
	HorizonSeconds  int     `yaml:"horizon_seconds"`
	StepSeconds     int     `yaml:"step_seconds"`
	AltitudeBandKM  float64 `yaml:"altitude_band_km"`
}

// Planner tunes COA candidate generation.
type Planner struct {
	LeadTimeMinutes     int     `yaml:"lead_time_minutes"`
	AltitudeDropKM      float64 `yaml:"altitude_drop_km"`
	InclinationDeltaDeg float64 `yaml:"inclination_delta_deg"`
}

// Config is the root service configuration.
type Config struct {
	LogLevel     string   `yaml:"log_level"`
	HTTPAddr     string   `yaml:"http_addr"`
	Engine       Engine   `yaml:"engine"`
	Orbital      Orbital  `yaml:"orbital"`
	Detector     Detector `yaml:"detector"`
	Planner      Planner  `yaml:"planner"`
	Assets       []Asset  `yaml:"assets"`
	Objects      []Object `yaml:"objects"`
	ElementsFile string   `yaml:"elements_file"`
	DefaultRCSM2 float64  `yaml:"default_rcs_m2"`
}

// Load reads, parses, and validates the YAML config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{
		LogLevel: "info",
		HTTPAddr: ":8080",
		Engine:   Engine{Mode: "sgp4", TimeoutSeconds: 10},
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configs the service cannot start with.
func (c *Config) Validate() error {
	switch c.Engine.Mode {
	case "sgp4":
	case "http":
		if c.Engine.URL == "" {
			return fmt.Errorf("engine.url is required when engine.mode is %q", c.Engine.Mode)
		}
	default:
		return fmt.Errorf("unknown engine.mode %q (want sgp4 or http)", c.Engine.Mode)
	}

	if len(c.Assets) == 0 {
		return fmt.Errorf("at least one protected asset is required")
	}

	seen := make(map[string]bool, len(c.Assets))
	for i, a := range c.Assets {
		if a.ID == "" {
			return fmt.Errorf("assets[%d]: id is required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("assets[%d]: duplicate id %q", i, a.ID)
		}
		seen[a.ID] = true
		if err := ephemeris.ValidateElementLines(a.Line1, a.Line2); err != nil {
			return fmt.Errorf("assets[%d] (%s): %w", i, a.ID, err)
		}
		if a.MassKG <= 0 {
			return fmt.Errorf("assets[%d] (%s): mass_kg must be positive", i, a.ID)
		}
	}

	for i, o := range c.Objects {
		if o.ID == "" {
			return fmt.Errorf("objects[%d]: id is required", i)
		}
		if err := ephemeris.ValidateElementLines(o.Line1, o.Line2); err != nil {
			return fmt.Errorf("objects[%d] (%s): %w", i, o.ID, err)
		}
	}

	return nil
}

// ApplyEnv overrides file values from ORBITWATCH_* environment variables.
// Unparsable values log a warning and keep the configured value.
func (c *Config) ApplyEnv(logger *slog.Logger) {
	if v := os.Getenv("ORBITWATCH_HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("ORBITWATCH_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("ORBITWATCH_ENGINE_URL"); v != "" {
		c.Engine.URL = v
		c.Engine.Mode = "http"
	}

	if v := os.Getenv("ORBITWATCH_DETECT_INTERVAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid ORBITWATCH_DETECT_INTERVAL value, using configured interval", "value", v)
		} else {
			c.Detector.IntervalSeconds = n
		}
	}

	if v := os.Getenv("ORBITWATCH_DETECT_HORIZON"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid ORBITWATCH_DETECT_HORIZON value, using configured horizon", "value", v)
		} else {
			c.Detector.HorizonSeconds = n
		}
	}

	if v := os.Getenv("ORBITWATCH_CACHE_TTL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid ORBITWATCH_CACHE_TTL value, using configured TTL", "value", v)
		} else {
			c.Orbital.CacheTTLSeconds = n
		}
	}

	if v := os.Getenv("ORBITWATCH_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid ORBITWATCH_MAX_ATTEMPTS value, using configured attempts", "value", v)
		} else {
			c.Orbital.MaxAttempts = uint(n)
		}
	}
}

// BuildCatalog assembles the asset/object catalog from inline entries plus
// the optional bulk elements file.
func (c *Config) BuildCatalog(logger *slog.Logger) (*catalog.Catalog, error) {
	assets := make([]catalog.ProtectedAsset, 0, len(c.Assets))
	for _, a := range c.Assets {
		assets = append(assets, catalog.ProtectedAsset{
			ID:                  a.ID,
			Name:                a.Name,
			Elements:            ephemeris.ElementSet{Line1: a.Line1, Line2: a.Line2},
			MassKG:              a.MassKG,
			RadarCrossSectionM2: a.RCSM2,
			FuelBudgetKG:        a.FuelBudgetKG,
			ThrustN:             a.ThrustN,
			ISPSeconds:          a.ISPSeconds,
		})
	}

	objects := make([]catalog.TrackedObject, 0, len(c.Objects))
	for _, o := range c.Objects {
		objects = append(objects, catalog.TrackedObject{
			ID:                  o.ID,
			Name:                o.Name,
			Elements:            ephemeris.ElementSet{Line1: o.Line1, Line2: o.Line2},
			RadarCrossSectionM2: o.RCSM2,
		})
	}

	if c.ElementsFile != "" {
		f, err := os.Open(c.ElementsFile)
		if err != nil {
			return nil, fmt.Errorf("opening elements file: %w", err)
		}
		defer f.Close()

		parsed, err := catalog.ParseElements(f, c.DefaultRCSM2, logger)
		if err != nil {
			return nil, fmt.Errorf("parsing elements file %s: %w", c.ElementsFile, err)
		}
		objects = append(objects, parsed...)
	}

	return catalog.New(assets, objects), nil
}

// SlogLevel maps the configured log level name to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// OrbitalConfig converts the YAML knobs to the orbital client config.
// Zero values fall through to the client's defaults.
func (c *Config) OrbitalConfig() orbital.Config {
	return orbital.Config{
		CacheTTL:     time.Duration(c.Orbital.CacheTTLSeconds) * time.Second,
		MaxAttempts:  c.Orbital.MaxAttempts,
		RetryBackoff: time.Duration(c.Orbital.RetryBackoffMillis) * time.Millisecond,
		CallTimeout:  time.Duration(c.Orbital.CallTimeoutSeconds) * time.Second,
		Breaker: orbital.BreakerConfig{
			FailureThreshold: c.Orbital.Breaker.FailureThreshold,
			FailureWindow:    time.Duration(c.Orbital.Breaker.FailureWindowSeconds) * time.Second,
			Cooldown:         time.Duration(c.Orbital.Breaker.CooldownSeconds) * time.Second,
		},
	}
}

// DetectorConfig converts the YAML knobs to the detector config.
func (c *Config) DetectorConfig() conjunction.DetectorConfig {
	return conjunction.DetectorConfig{
		Interval:       time.Duration(c.Detector.IntervalSeconds) * time.Second,
		Horizon:        time.Duration(c.Detector.HorizonSeconds) * time.Second,
		Step:           time.Duration(c.Detector.StepSeconds) * time.Second,
		AltitudeBandKM: c.Detector.AltitudeBandKM,
	}
}

// PlannerConfig converts the YAML knobs to the COA planner config.
func (c *Config) PlannerConfig() coa.PlannerConfig {
	return coa.PlannerConfig{
		LeadTime:            time.Duration(c.Planner.LeadTimeMinutes) * time.Minute,
		AltitudeDropKM:      c.Planner.AltitudeDropKM,
		InclinationDeltaDeg: c.Planner.InclinationDeltaDeg,
	}
}

// EngineTimeout returns the remote engine call timeout.
func (c *Config) EngineTimeout() time.Duration {
	if c.Engine.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Engine.TimeoutSeconds) * time.Second
}
