package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegistered(t *testing.T) {
	// promauto registers on import; this catches nil collectors and
	// duplicate registration panics.
	tests := []struct {
		name   string
		metric prometheus.Collector
	}{
		{"Enqueued", Enqueued},
		{"Dropped", Dropped},
		{"QueueDepth", QueueDepth},
		{"Sent", Sent},
		{"SendFailures", SendFailures},
		{"SendDuration", SendDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.metric == nil {
				t.Errorf("%s is nil", tt.name)
			}
		})
	}
}

func TestDroppedByReason(t *testing.T) {
	before := testutil.ToFloat64(Dropped.WithLabelValues(DropRate))
	Dropped.WithLabelValues(DropRate).Inc()
	Dropped.WithLabelValues(DropOverflow).Inc()

	if got := testutil.ToFloat64(Dropped.WithLabelValues(DropRate)) - before; got != 1 {
		t.Fatalf("rate drops delta=%v want 1", got)
	}
}

func TestSentByKind(t *testing.T) {
	Sent.WithLabelValues(KindText).Inc()
	Sent.WithLabelValues(KindFile).Inc()
	SendDuration.WithLabelValues(KindFile).Observe(0.2)

	if n := testutil.CollectAndCount(Sent); n < 2 {
		t.Fatalf("sent series=%d want >= 2", n)
	}
}

func TestQueueDepth(t *testing.T) {
	QueueDepth.Set(3)
	if got := testutil.ToFloat64(QueueDepth); got != 3 {
		t.Fatalf("queue depth=%v", got)
	}
	QueueDepth.Set(0)
}
