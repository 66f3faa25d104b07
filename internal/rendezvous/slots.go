package rendezvous

import (
	"errors"

	"sqlrelay/internal/stats"
)

// ErrNoFreeSlots is returned by ReserveSlot when every slot in the fixed
// table is taken. sqlrelayd logs it and skips that connection; the scaler
// wraps and returns it from a failed spawn.
var ErrNoFreeSlots = errors.New("rendezvous: no free connection slots")

// SlotHandle is a reservation into Block.PerConnectionStats, held by one
// connection daemon for its lifetime.
type SlotHandle struct {
	block *Block
	index int
}

// Index returns the reserved slot's position in the fixed table.
func (h *SlotHandle) Index() int { return h.index }

// Slot returns the reserved stats.Slot for direct mutation. Callers must
// hold AcquireShmReadAccess(false) while writing to it.
func (h *SlotHandle) Slot() *stats.Slot {
	return &h.block.PerConnectionStats[h.index]
}

// ReserveSlot linear-scans the fixed-size slot table under connCountMutex
// and claims the first free entry, mirroring the original's "reserved at
// daemon start by linear scan + CAS-like mutex."
func (b *Block) ReserveSlot() (*SlotHandle, error) {
	b.Sem.connCountMutex.Lock()
	defer b.Sem.connCountMutex.Unlock()

	for i := range b.PerConnectionStats {
		if !b.PerConnectionStats[i].InUse {
			b.PerConnectionStats[i].InUse = true
			return &SlotHandle{block: b, index: i}, nil
		}
	}
	return nil, ErrNoFreeSlots
}

// ReleaseSlot frees a reservation. A daemon whose goroutine panics
// releases its slot via a deferred call to this from its run loop,
// standing in for the original's "scaler notices the slot's pid is dead."
// There is no pid to go stale in-process, so release is synchronous and
// unconditional instead of poll-detected.
func (h *SlotHandle) ReleaseSlot() {
	h.block.Sem.connCountMutex.Lock()
	defer h.block.Sem.connCountMutex.Unlock()
	h.block.PerConnectionStats[h.index].Reset()
}
