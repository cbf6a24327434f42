package ephemeris

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPEngine talks to a remote propagation service over JSON/HTTP.
// The service is assumed unreliable; callers shield themselves through
// internal/orbital, not here.
type HTTPEngine struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPEngine creates a client for the propagation service at baseURL.
func NewHTTPEngine(baseURL string, timeout time.Duration) *HTTPEngine {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPEngine{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type propagateRequest struct {
	Line1 string    `json:"line1"`
	Line2 string    `json:"line2"`
	Time  time.Time `json:"time,omitempty"`
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
	StepS float64   `json:"step_s,omitempty"`
}

type stateResponse struct {
	PositionKM    [3]float64 `json:"position_km"`
	VelocityKMS   [3]float64 `json:"velocity_km_s"`
	Geodetic      *Geodetic  `json:"geodetic,omitempty"`
	TimestampUTC  time.Time  `json:"timestamp"`
	ErrorMessage  string     `json:"error,omitempty"`
}

type rangeResponse struct {
	Samples []stateResponse `json:"samples"`
}

type healthResponse struct {
	Healthy bool    `json:"healthy"`
	Version string  `json:"version"`
	UptimeS float64 `json:"uptime_s"`
}

// Propagate requests a single state vector from the remote service.
func (e *HTTPEngine) Propagate(ctx context.Context, el ElementSet, t time.Time) (StateVector, error) {
	var out stateResponse
	err := e.post(ctx, "/api/v1/propagate", propagateRequest{
		Line1: el.Line1,
		Line2: el.Line2,
		Time:  t.UTC(),
	}, &out)
	if err != nil {
		return StateVector{}, err
	}
	if out.ErrorMessage != "" {
		return StateVector{}, fmt.Errorf("propagation service: %s", out.ErrorMessage)
	}
	return StateVector{Position: out.PositionKM, Velocity: out.VelocityKMS}, nil
}

// PropagateRange requests ordered samples over [start, end] at the given step.
func (e *HTTPEngine) PropagateRange(ctx context.Context, el ElementSet, start, end time.Time, step time.Duration) ([]Sample, error) {
	var out rangeResponse
	err := e.post(ctx, "/api/v1/propagate/range", propagateRequest{
		Line1: el.Line1,
		Line2: el.Line2,
		Start: start.UTC(),
		End:   end.UTC(),
		StepS: step.Seconds(),
	}, &out)
	if err != nil {
		return nil, err
	}

	samples := make([]Sample, 0, len(out.Samples))
	for _, s := range out.Samples {
		samples = append(samples, Sample{
			Time:  s.TimestampUTC,
			State: StateVector{Position: s.PositionKM, Velocity: s.VelocityKMS},
		})
	}
	return samples, nil
}

// HealthCheck queries the service health endpoint.
func (e *HTTPEngine) HealthCheck(ctx context.Context) (Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/healthz", nil)
	if err != nil {
		return Health{}, fmt.Errorf("creating request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Health{}, fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Health{Healthy: false}, nil
	}

	var out healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Health{}, fmt.Errorf("decoding health response: %w", err)
	}
	return Health{Healthy: out.Healthy, Version: out.Version, UptimeS: out.UptimeS}, nil
}

// post sends a JSON request body and decodes the JSON response into out.
func (e *HTTPEngine) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling propagation service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, e.baseURL+path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
