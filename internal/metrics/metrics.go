// Package metrics holds the Prometheus collectors for the verification
// service. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the service collectors.
type Metrics struct {
	verifications *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	degraded      *prometheus.CounterVec
	ledgerCalls   *prometheus.CounterVec
	ledgerCache   *prometheus.CounterVec
	fuzzyScore    prometheus.Histogram
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New registers the collectors on reg. Passing a fresh prometheus.NewRegistry()
// keeps tests independent of the default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "credverify_verifications_total",
			Help: "Verification requests by match mode and result.",
		}, []string{"mode", "result"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "credverify_verification_duration_seconds",
			Help:    "End-to-end verification latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
		degraded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "credverify_extraction_degraded_total",
			Help: "Text extractions that failed or were skipped.",
		}, []string{"reason"}),
		ledgerCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "credverify_ledger_calls_total",
			Help: "Ledger operations by result.",
		}, []string{"op", "result"}),
		ledgerCache: f.NewCounterVec(prometheus.CounterOpts{
			Name: "credverify_ledger_cache_total",
			Help: "Registration cache lookups.",
		}, []string{"result"}),
		fuzzyScore: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "credverify_fuzzy_score",
			Help:    "Best composite fuzzy score per matched request.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "credverify_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "credverify_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Verification records one finished verification.
func (m *Metrics) Verification(mode, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(mode, result).Inc()
	m.duration.WithLabelValues(mode).Observe(took.Seconds())
}

// ExtractionDegraded counts a text extraction that produced nothing.
func (m *Metrics) ExtractionDegraded(reason string) {
	if m == nil {
		return
	}
	m.degraded.WithLabelValues(reason).Inc()
}

// LedgerCall counts a ledger operation; err decides the result label.
func (m *Metrics) LedgerCall(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ledgerCalls.WithLabelValues(op, result).Inc()
}

// LedgerCache counts a registration cache lookup.
func (m *Metrics) LedgerCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.ledgerCache.WithLabelValues("hit").Inc()
		return
	}
	m.ledgerCache.WithLabelValues("miss").Inc()
}

// FuzzyScore observes the winning composite score.
func (m *Metrics) FuzzyScore(score float64) {
	if m == nil {
		return
	}
	m.fuzzyScore.Observe(score)
}

// Middleware records request counts and latency. route returns the label
// for a request; callers pass the router's pattern so ids do not explode
// cardinality.
func (m *Metrics) Middleware(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			label := route(r)
			m.httpRequests.WithLabelValues(r.Method, label, strconv.Itoa(rw.status)).Inc()
			m.httpDuration.WithLabelValues(r.Method, label).Observe(time.Since(start).Seconds())
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
