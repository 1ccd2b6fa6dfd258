package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	httpDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	ruleEvaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_evaluations_total",
			Help: "Rule evaluations by outcome (matched, unmatched, inactive)",
		},
		[]string{"result"},
	)
	degradedConditions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_degraded_conditions_total",
			Help: "Conditions that could not be evaluated, by reason",
		},
		[]string{"reason"},
	)

	webhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Rule change webhook deliveries by result (succeeded, failed, dropped)",
		},
		[]string{"result"},
	)

	SnapshotRules = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "snapshot_rules",
		Help: "Number of rules currently in the in-memory snapshot",
	})

	initOnce sync.Once
)

// Init registers all collectors with the default registry. Safe to call more
// than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpReqs, httpDur, ruleEvaluations, degradedConditions, webhookDeliveries, SnapshotRules)
	})
}

// Evaluation outcomes used as the result label.
const (
	ResultMatched   = "matched"
	ResultUnmatched = "unmatched"
	ResultInactive  = "inactive"
)

// Webhook delivery outcomes used as the result label.
const (
	DeliverySucceeded = "succeeded"
	DeliveryFailed    = "failed"
	DeliveryDropped   = "dropped"
)

// RecordEvaluation counts one rule evaluation.
func RecordEvaluation(result string) {
	ruleEvaluations.WithLabelValues(result).Inc()
}

// RecordDegraded counts one condition that could not be evaluated.
func RecordDegraded(reason string) {
	degradedConditions.WithLabelValues(reason).Inc()
}

// RecordWebhookDelivery counts one webhook delivery outcome.
func RecordWebhookDelivery(result string) {
	webhookDeliveries.WithLabelValues(result).Inc()
}

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)

		// route pattern is only complete after routing
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}

		httpReqs.WithLabelValues(route, r.Method, http.StatusText(ww.status)).Inc()
		httpDur.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
