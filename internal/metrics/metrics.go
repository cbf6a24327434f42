package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitwatch_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orbitwatch_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	propCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitwatch_prop_cache_hits_total",
		Help: "Propagation cache hits.",
	})

	propCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitwatch_prop_cache_misses_total",
		Help: "Propagation cache misses.",
	})

	propCacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbitwatch_prop_cache_entries",
		Help: "Unexpired propagation cache entries.",
	})

	engineCallDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orbitwatch_engine_call_duration_seconds",
		Help:    "Upstream propagation call duration including retries.",
		Buckets: prometheus.DefBuckets,
	})

	engineErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitwatch_engine_errors_total",
		Help: "Failed upstream propagation attempts.",
	})

	breakerRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitwatch_breaker_rejections_total",
		Help: "Calls rejected fast by an open circuit breaker.",
	})

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orbitwatch_breaker_state",
			Help: "Circuit breaker state (1 for the active state, 0 otherwise).",
		},
		[]string{"state"},
	)

	screeningDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orbitwatch_screening_duration_seconds",
		Help:    "Duration of a full conjunction screening pass.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	screeningPairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitwatch_screening_pairs_total",
			Help: "Asset/object pairs screened, by outcome.",
		},
		[]string{"outcome"},
	)

	conjunctionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orbitwatch_conjunctions_active",
			Help: "Active conjunctions by severity.",
		},
		[]string{"severity"},
	)

	coaDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitwatch_coa_decisions_total",
			Help: "COA decision actions, by action and outcome.",
		},
		[]string{"action", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		propCacheHits,
		propCacheMisses,
		propCacheEntries,
		engineCallDuration,
		engineErrors,
		breakerRejections,
		breakerState,
		screeningDuration,
		screeningPairsTotal,
		conjunctionsActive,
		coaDecisionsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncPropCacheHits counts a propagation cache hit.
func IncPropCacheHits() { propCacheHits.Inc() }

// IncPropCacheMisses counts a propagation cache miss.
func IncPropCacheMisses() { propCacheMisses.Inc() }

// SetPropCacheEntries publishes the current cache size.
func SetPropCacheEntries(n int) { propCacheEntries.Set(float64(n)) }

// ObserveEngineCallDuration records one guarded upstream call.
func ObserveEngineCallDuration(d time.Duration) { engineCallDuration.Observe(d.Seconds()) }

// IncEngineErrors counts a failed upstream attempt.
func IncEngineErrors() { engineErrors.Inc() }

// IncBreakerRejections counts a fail-fast rejection.
func IncBreakerRejections() { breakerRejections.Inc() }

// SetBreakerState publishes the breaker position as a one-hot gauge.
func SetBreakerState(state string) {
	for _, s := range []string{"closed", "open", "half_open"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		breakerState.WithLabelValues(s).Set(v)
	}
}

// ObserveScreeningDuration records one full screening pass.
func ObserveScreeningDuration(d time.Duration) { screeningDuration.Observe(d.Seconds()) }

// IncScreeningPairs counts screened pairs by outcome (hit/clear/skipped).
func IncScreeningPairs(outcome string) { screeningPairsTotal.WithLabelValues(outcome).Inc() }

// SetActiveConjunctions publishes the active conjunction count for a severity.
func SetActiveConjunctions(severity string, n int) {
	conjunctionsActive.WithLabelValues(severity).Set(float64(n))
}

// IncCOADecision counts a decision attempt (select/approve/reject) by outcome.
func IncCOADecision(action, outcome string) {
	coaDecisionsTotal.WithLabelValues(action, outcome).Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}

// knownRoutes are the exact paths the ops server registers. Anything else
// collapses to "other" so scanner traffic can't explode label cardinality.
var knownRoutes = map[string]struct{}{
	"/healthz":             {},
	"/readyz":              {},
	"/metrics":             {},
	"/api/v1/status":       {},
	"/api/v1/detect":       {},
	"/api/v1/conjunctions": {},
}

// routeActions are the recognized trailing segments of the parametrized
// /api/v1/conjunctions/{id}/... and /api/v1/coas/{id}/... routes.
var routeActions = map[string]struct{}{
	"plan":     {},
	"coas":     {},
	"simulate": {},
	"select":   {},
	"approve":  {},
	"reject":   {},
}

// normalizeRoute maps a request path to a bounded metrics label, replacing
// path parameters with :id.
func normalizeRoute(path string) string {
	if _, ok := knownRoutes[path]; ok {
		return path
	}

	for _, prefix := range []string{"/api/v1/conjunctions/", "/api/v1/coas/"} {
		rest, ok := strings.CutPrefix(path, prefix)
		if !ok {
			continue
		}
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			if _, ok := routeActions[rest[i+1:]]; ok {
				return prefix + ":id/" + rest[i+1:]
			}
		}
	}
	return "other"
}
