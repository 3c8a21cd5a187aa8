package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Window(true)
	m.Window(true)
	m.Window(false)
	m.Observed(7)
	m.Novel(2)
	m.Notification("telegram", nil)
	m.Notification("telegram", errors.New("boom"))
	m.SeenSet(5)
	m.Cycle("check", time.Now())

	if got := testutil.ToFloat64(m.windows.WithLabelValues("ok")); got != 2 {
		t.Errorf("windows{ok} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.windows.WithLabelValues("error")); got != 1 {
		t.Errorf("windows{error} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.observed); got != 7 {
		t.Errorf("events_observed = %v, want 7", got)
	}
	if got := testutil.ToFloat64(m.novel); got != 2 {
		t.Errorf("novel_events_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.notifications.WithLabelValues("telegram", "error")); got != 1 {
		t.Errorf("notifications{telegram,error} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.seenSetSize); got != 5 {
		t.Errorf("seen_set_size = %v, want 5", got)
	}
	if got := testutil.CollectAndCount(m.cycleDuration); got != 1 {
		t.Errorf("cycle_duration series = %d, want 1", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Window(true)
	m.Observed(1)
	m.Novel(1)
	m.Notification("mock", nil)
	m.Cycle("check", time.Now())
	m.SeenSet(1)
}
