package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorsAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.JobsFinished.WithLabelValues("completed").Inc()
	if got := testutil.ToFloat64(b.JobsFinished.WithLabelValues("completed")); got != 0 {
		t.Fatalf("collectors share state: %v", got)
	}
}

func TestHandlerExposesStepDurations(t *testing.T) {
	c := New()
	c.ObserveStep("embeddings", false, 2*time.Second)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `kgraph_processing_step_duration_seconds_count{result="error",step="embeddings"} 1`) {
		t.Fatalf("step histogram missing from output:\n%s", body)
	}
}
