package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if unitsTotal == nil || gateWaitSeconds == nil || fetchDurationSeconds == nil ||
		commitDurationSeconds == nil || inflightUnits == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveUnit(t *testing.T) {
	Init()
	before := testutil.ToFloat64(unitsTotal.WithLabelValues("restaurant", "committed"))
	ObserveUnit("restaurant", "committed")
	ObserveUnit("restaurant", "committed")
	if got := testutil.ToFloat64(unitsTotal.WithLabelValues("restaurant", "committed")) - before; got != 2 {
		t.Errorf("expected 2 committed units, got %f", got)
	}
}

func TestInflightGauge(t *testing.T) {
	IncInflight("tag")
	IncInflight("tag")
	DecInflight("tag")
	if got := testutil.ToFloat64(inflightUnits.WithLabelValues("tag")); got != 1 {
		t.Errorf("expected 1 in-flight tag unit, got %f", got)
	}
	DecInflight("tag")
}

func TestObserveRowsIgnoresEmpty(t *testing.T) {
	ObserveRows("items", 3)
	ObserveRows("items", 0)
	if got := testutil.ToFloat64(rowsWrittenTotal.WithLabelValues("items")); got != 3 {
		t.Errorf("expected 3 item rows, got %f", got)
	}
}

func TestObserveDurations(t *testing.T) {
	ObserveGateWait("location", 20*time.Millisecond)
	ObserveFetch("location", 150*time.Millisecond)
	ObserveCommit("location", 5*time.Millisecond)
	if n := testutil.CollectAndCount(fetchDurationSeconds); n == 0 {
		t.Error("expected fetch histogram to have series")
	}
}
