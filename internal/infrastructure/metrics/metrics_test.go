package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistersMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()

	m := New(registry)

	if m.Operations == nil || m.HTTPRequests == nil || m.CacheHits == nil || m.QueueDepth == nil {
		t.Fatalf("expected key metrics to be initialized: %+v", m)
	}

	m.Operations.WithLabelValues("add", "completed").Inc()

	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	if len(metricFamilies) == 0 {
		t.Fatalf("expected registered metrics, got none")
	}
}

func TestNewUnregisteredIsolated(t *testing.T) {
	a := NewUnregistered()
	b := NewUnregistered()

	a.CacheHits.Inc()

	if got := testutil.ToFloat64(a.CacheHits); got != 1 {
		t.Fatalf("expected 1 hit on a, got %v", got)
	}
	if got := testutil.ToFloat64(b.CacheHits); got != 0 {
		t.Fatalf("expected b to be untouched, got %v", got)
	}
}
