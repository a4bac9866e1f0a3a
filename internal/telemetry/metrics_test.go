package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(DeathsTotal)
	DeathsTotal.Inc()
	after := testutil.ToFloat64(DeathsTotal)
	if after != before+1 {
		t.Errorf("DeathsTotal after Inc = %v, want %v", after, before+1)
	}
}

func TestProbesTotalLabeled(t *testing.T) {
	ProbesTotal.WithLabelValues("direct").Inc()
	v := testutil.ToFloat64(ProbesTotal.WithLabelValues("direct"))
	if v < 1 {
		t.Errorf("ProbesTotal{outcome=direct} = %v, want >= 1", v)
	}
}

func TestBroadcastQueueDepthGauge(t *testing.T) {
	BroadcastQueueDepth.Set(5)
	if got := testutil.ToFloat64(BroadcastQueueDepth); got != 5 {
		t.Errorf("BroadcastQueueDepth = %v, want 5", got)
	}
}
