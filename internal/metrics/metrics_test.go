package metrics

import (
	"errors"
	"testing"
)

func TestTimerRecordsSuccessAndError(t *testing.T) {
	c := NewCollector(0)
	c.Timer("stt").Stop(nil)
	c.Timer("stt").Stop(errors.New("boom"))

	snap := c.Snapshot()
	stats, ok := snap.Stages["stt"]
	if !ok {
		t.Fatal("expected stt stage to be recorded")
	}
	if stats.Calls != 2 || stats.Successes != 1 || stats.Errors != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRollingWindowP95Formula(t *testing.T) {
	w := newRollingWindow()
	for i := 1; i <= 20; i++ {
		w.add(float64(i))
	}
	// n=20, idx = int(20*0.95) = 19 -> sorted[19] = 20 (max, 0-indexed last)
	if got := w.p95(); got != 20 {
		t.Fatalf("p95 = %v, want 20", got)
	}
}

func TestRollingWindowWrapsAfterCapacity(t *testing.T) {
	w := newRollingWindow()
	for i := 0; i < windowSize+10; i++ {
		w.add(float64(i))
	}
	if !w.full {
		t.Fatal("expected window to report full after exceeding capacity")
	}
}

func TestRecordRequestUpdatesSystemStats(t *testing.T) {
	c := NewCollector(0)
	c.RecordRequest(100_000_000, true) // 100ms
	snap := c.Snapshot()
	if snap.Requests != 1 || snap.Successes != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}
