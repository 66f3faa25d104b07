package stats

import (
	"testing"
	"time"
)

func TestAggregateCounters(t *testing.T) {
	a := NewAggregate(50)

	a.ClientConnectionOpened()
	a.ClientConnectionOpened()
	a.ClientConnectionClosed()

	snap := a.Snapshot()
	if snap.OpenedClientConnections != 2 {
		t.Fatalf("got %d opened, want 2", snap.OpenedClientConnections)
	}
	if snap.OpenClientConnections != 1 {
		t.Fatalf("got %d open, want 1", snap.OpenClientConnections)
	}
	if snap.PeakSession != 2 {
		t.Fatalf("got peak %d, want 2", snap.PeakSession)
	}
}

func TestAggregateQueryClassesAndRingWraparound(t *testing.T) {
	a := NewAggregate(10)
	now := time.Unix(1000, 0)

	for i := 0; i < QPSKeepSeconds+5; i++ {
		a.RecordQuery(ClassSelect, now.Add(time.Duration(i)*time.Second), 1)
	}

	snap := a.Snapshot()
	if snap.QueryCounts[ClassSelect] != uint64(QPSKeepSeconds+5) {
		t.Fatalf("got %d, want %d (ring wraparound must not reset the running total)", snap.QueryCounts[ClassSelect], QPSKeepSeconds+5)
	}
}

func TestSlotTruncation(t *testing.T) {
	s := &Slot{Index: 3}
	long := make([]byte, SQLTextMaxLen+50)
	for i := range long {
		long[i] = 'x'
	}
	s.SetSQLText(string(long))
	if len(s.SQLText) != SQLTextMaxLen {
		t.Fatalf("got len %d, want %d", len(s.SQLText), SQLTextMaxLen)
	}
}

func TestSlotReset(t *testing.T) {
	s := &Slot{Index: 5, InUse: true, NPing: 4}
	s.Reset()
	if s.InUse || s.NPing != 0 {
		t.Fatalf("expected reset slot, got %+v", s)
	}
	if s.Index != 5 {
		t.Fatalf("expected index to survive reset, got %d", s.Index)
	}
}
