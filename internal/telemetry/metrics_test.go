package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordEvaluation(t *testing.T) {
	before := testutil.ToFloat64(ruleEvaluations.WithLabelValues(ResultMatched))
	RecordEvaluation(ResultMatched)
	RecordEvaluation(ResultMatched)
	after := testutil.ToFloat64(ruleEvaluations.WithLabelValues(ResultMatched))

	if after-before != 2 {
		t.Errorf("expected 2 new matched evaluations, got %v", after-before)
	}
}

func TestRecordDegraded(t *testing.T) {
	before := testutil.ToFloat64(degradedConditions.WithLabelValues("INVALID_PATTERN"))
	RecordDegraded("INVALID_PATTERN")
	after := testutil.ToFloat64(degradedConditions.WithLabelValues("INVALID_PATTERN"))

	if after-before != 1 {
		t.Errorf("expected 1 new degraded condition, got %v", after-before)
	}
}

func TestRecordWebhookDelivery(t *testing.T) {
	before := testutil.ToFloat64(webhookDeliveries.WithLabelValues(DeliveryFailed))
	RecordWebhookDelivery(DeliveryFailed)
	after := testutil.ToFloat64(webhookDeliveries.WithLabelValues(DeliveryFailed))

	if after-before != 1 {
		t.Errorf("expected 1 new failed delivery, got %v", after-before)
	}
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/rules/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	counter := httpReqs.WithLabelValues("/rules/{id}", http.MethodGet, http.StatusText(http.StatusNotFound))
	before := testutil.ToFloat64(counter)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rules/abc", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("expected request counted under route pattern, delta=%v", got)
	}
}

func TestInit_Idempotent(t *testing.T) {
	Init()
	Init()
}
