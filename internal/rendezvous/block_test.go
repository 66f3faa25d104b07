package rendezvous

import (
	"testing"
	"time"
)

func TestReserveAndReleaseSlot(t *testing.T) {
	b := NewBlock(10)

	h, err := b.ReserveSlot()
	if err != nil {
		t.Fatal(err)
	}
	if !h.Slot().InUse {
		t.Fatal("expected slot to be marked in use")
	}

	h.ReleaseSlot()
	if b.PerConnectionStats[h.Index()].InUse {
		t.Fatal("expected slot to be freed")
	}
}

func TestReserveSlotExhaustion(t *testing.T) {
	b := NewBlock(10)
	handles := make([]*SlotHandle, 0)
	for i := 0; i < 100; i++ {
		h, err := b.ReserveSlot()
		if err != nil {
			t.Fatalf("unexpected error at slot %d: %v", i, err)
		}
		handles = append(handles, h)
	}
	if _, err := b.ReserveSlot(); err != ErrNoFreeSlots {
		t.Fatalf("got %v, want ErrNoFreeSlots", err)
	}

	handles[0].ReleaseSlot()
	if _, err := b.ReserveSlot(); err != nil {
		t.Fatalf("expected a slot to be reservable after release, got %v", err)
	}
}

func TestAnnounceHandoffSequence(t *testing.T) {
	b := NewBlock(10)

	done := make(chan HandoffInfo, 1)
	go func() {
		b.Sem.AcquireAnnounceMutex()
		defer b.Sem.ReleaseAnnounceMutex()

		b.WriteAnnouncement("conn-1", HandoffInfo{Mode: HandoffPass, SocketPath: "/tmp/sqlrelay.sock"})
		b.Sem.SignalListenerReady()
		b.Sem.WaitListenerDone()
	}()

	b.Sem.WaitListenerReady()
	info := b.Handoff
	connID := b.ConnectionID
	b.IncrInUse()
	b.Sem.SignalListenerDone()

	done <- info
	got := <-done

	if connID != "conn-1" {
		t.Fatalf("got connection id %q", connID)
	}
	if got.SocketPath != "/tmp/sqlrelay.sock" {
		t.Fatalf("got handoff %+v", got)
	}
	if b.ConnectionsInUse.Load() != 1 {
		t.Fatalf("got in-use %d, want 1", b.ConnectionsInUse.Load())
	}
}

func TestDecrInUseSignalsScaler(t *testing.T) {
	b := NewBlock(10)
	b.IncrInUse()
	b.DecrInUse()

	select {
	case <-b.ScalerWake():
	case <-time.After(time.Second):
		t.Fatal("expected scaler wake signal on decrement")
	}
}

func TestShmReadAccessSharedVsExclusive(t *testing.T) {
	b := NewBlock(10)

	b.Sem.AcquireShmReadAccess(true)
	b.Sem.AcquireShmReadAccess(true)
	b.Sem.ReleaseShmReadAccess(true)
	b.Sem.ReleaseShmReadAccess(true)

	b.Sem.AcquireShmReadAccess(false)
	b.Sem.ReleaseShmReadAccess(false)
}
