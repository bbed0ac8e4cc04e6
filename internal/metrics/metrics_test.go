package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveLifecycleLabelsResult(t *testing.T) {
	m := New()
	m.ObserveLifecycle("activate", nil)
	m.ObserveLifecycle("activate", errors.New("boom"))
	m.ObserveLifecycle("activate", errors.New("boom"))

	if got := testutil.ToFloat64(m.Lifecycle.WithLabelValues("activate", "ok")); got != 1 {
		t.Fatalf("expected 1 ok activate, got %v", got)
	}
	if got := testutil.ToFloat64(m.Lifecycle.WithLabelValues("activate", "error")); got != 2 {
		t.Fatalf("expected 2 failed activates, got %v", got)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("cache-first", "hit")
	m.AddEvictions(3)
	m.AddPrefetched(1)
	m.SetContentSize(4)
}

func TestEvictionsIgnoreNonPositive(t *testing.T) {
	m := New()
	m.AddEvictions(0)
	m.AddEvictions(2)
	if got := testutil.ToFloat64(m.Evictions); got != 2 {
		t.Fatalf("expected 2 evictions, got %v", got)
	}
}
