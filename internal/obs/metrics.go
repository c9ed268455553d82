package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tellerline.org/internal/errs"
)

// Login outcomes. NotFound and bad password stay distinct here even though
// callers only ever see invalid credentials.
const (
	LoginSuccess         = "success"
	LoginUnknownIdentity = "unknown_identity"
	LoginBadPassword     = "bad_password"
	LoginIntegrity       = "integrity_violation"
	LoginError           = "error"
)

var (
	initOnce sync.Once

	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tellerline_logins_total",
			Help: "Authentication attempts by outcome.",
		},
		[]string{"outcome"},
	)

	linkOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tellerline_account_link_ops_total",
			Help: "Account link registry operations by outcome kind.",
		},
		[]string{"op", "outcome"},
	)

	scopeOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tellerline_scope_ops_total",
			Help: "Session scope operations by outcome kind.",
		},
		[]string{"op", "outcome"},
	)

	liveScopes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tellerline_live_scopes",
		Help: "Account scopes currently open across all principals.",
	})

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tellerline_ready",
		Help: "1 when the last readiness probe succeeded.",
	})

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Init registers every collector in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			loginsTotal, linkOpsTotal, scopeOpsTotal, liveScopes, ready,
			httpInFlight, httpRequestsTotal, httpRequestDuration,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveLogin(outcome string) {
	loginsTotal.WithLabelValues(outcome).Inc()
}

func ObserveLinkOp(op string, err error) {
	linkOpsTotal.WithLabelValues(op, Outcome(err)).Inc()
}

func ObserveScopeOp(op string, err error) {
	scopeOpsTotal.WithLabelValues(op, Outcome(err)).Inc()
}

// ScopeOpened and ScopesClosed track the live scope gauge.
func ScopeOpened() { liveScopes.Inc() }

func ScopesClosed(n int) { liveScopes.Sub(float64(n)) }

func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// Outcome turns an operation error into a low-cardinality metric label.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(errs.KindOf(err))
}

// Instrument records in-flight count, totals and latency for next.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

var knownPaths = map[string]struct{}{
	"/healthz":      {},
	"/readyz":       {},
	"/metrics":      {},
	"/v1/info":      {},
	"/v1/reference": {},
}

// CanonicalPath collapses unknown paths into one label value.
func CanonicalPath(path string) string {
	if _, ok := knownPaths[path]; ok {
		return path
	}
	return "other"
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
