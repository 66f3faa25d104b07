// Package scaler is the daemon-pool supervisor: a ticker-driven goroutine
// that grows the pool when queue pressure rises, shrinks it when a daemon
// has sat idle past its ttl, and reaps exited daemon goroutines.
package scaler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"sqlrelay/internal/daemon"
	"sqlrelay/internal/logging"
	"sqlrelay/internal/rendezvous"
	"sqlrelay/internal/stats"
)

// Config bundles the pool-sizing parameters read from instance.env
// (config.Instance's MinConnections/MaxConnections/GrowBy/MaxQueueLength/
// TTL fields).
type Config struct {
	MinConnections int
	MaxConnections int
	GrowBy         int
	MaxQueueLength int
	TTL            time.Duration
	PollInterval   time.Duration
}

// DaemonFactory builds a new, not-yet-started Daemon bound to the given id
// and already-reserved slot. The scaler owns reserving/releasing the slot;
// the factory only wires up the driver and hands back the Daemon.
type DaemonFactory func(id string, slot *rendezvous.SlotHandle) *daemon.Daemon

// Scaler grows and shrinks a pool of connection daemons around a shared
// rendezvous.Block, the in-process stand-in for the original's
// scaleup/scaledown helper process.
type Scaler struct {
	cfg     Config
	block   *rendezvous.Block
	factory DaemonFactory
	log     *logrus.Logger
	idBase  string

	mu      sync.Mutex
	running map[int]context.CancelFunc

	seq atomic.Int64
	wg  sync.WaitGroup
}

// New builds a Scaler. idBase prefixes the ids given to dynamically grown
// daemons (e.g. "conn-a-dyn-3"), keeping them distinguishable in logs and
// the monitor from the statically configured ones.
func New(cfg Config, block *rendezvous.Block, factory DaemonFactory, idBase string, log *logrus.Logger) *Scaler {
	return &Scaler{
		cfg:     cfg,
		block:   block,
		factory: factory,
		idBase:  idBase,
		log:     log,
		running: make(map[int]context.CancelFunc),
	}
}

// Seed launches an already-built daemon (typically one of the statically
// configured connections from conn.*.env) under the scaler's supervision,
// so it counts toward TotalConnections and is eligible for shrinkIdle like
// any dynamically grown daemon. Call before Run.
func (s *Scaler) Seed(ctx context.Context, slot *rendezvous.SlotHandle, d *daemon.Daemon) {
	s.launch(ctx, slot, d)
}

// Run tops the pool up to MinConnections (counting any daemons already
// Seeded) and then supervises it until ctx is cancelled, growing on queue
// pressure and shrinking idle daemons past their ttl.
func (s *Scaler) Run(ctx context.Context) {
	for s.Running() < s.cfg.MinConnections {
		if err := s.spawn(ctx); err != nil {
			logging.Dbg(s.log, "scaler", "bootstrap spawn failed: %v", err)
			break
		}
	}

	interval := s.cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			s.evaluate(ctx)
		case <-s.block.ScalerWake():
			s.evaluate(ctx)
		}
	}
}

// evaluate runs one grow-then-shrink pass. Growing and shrinking in the
// same pass (rather than picking one) matches a connection count that just
// crossed both thresholds at once, e.g. immediately after a burst of
// sessions ended.
func (s *Scaler) evaluate(ctx context.Context) {
	s.growIfNeeded(ctx)
	s.shrinkIdle()
}

func (s *Scaler) growIfNeeded(ctx context.Context) {
	total := s.block.TotalConnections.Load()
	inUse := s.block.ConnectionsInUse.Load()

	if int(inUse)+s.cfg.MaxQueueLength <= int(total) || int(total) >= s.cfg.MaxConnections {
		return
	}

	grow := s.cfg.GrowBy
	if grow <= 0 {
		grow = 1
	}
	if int(total)+grow > s.cfg.MaxConnections {
		grow = s.cfg.MaxConnections - int(total)
	}

	for i := 0; i < grow; i++ {
		if err := s.spawn(ctx); err != nil {
			logging.Dbg(s.log, "scaler", "grow spawn failed: %v", err)
			break
		}
	}
}

// shrinkIdle cancels daemons that have sat in ANNOUNCE_AVAILABILITY (idle,
// not mid-session) longer than ttl, stopping once the pool would drop below
// MinConnections. Cancelling lets the daemon's own Run loop notice ctx.Done
// between sessions and exit on its own, rather than this goroutine tearing
// it down directly, so a daemon that picks up a session in the instant
// between this check and the cancel still finishes it.
func (s *Scaler) shrinkIdle() {
	if int(s.block.TotalConnections.Load()) <= s.cfg.MinConnections {
		return
	}

	s.mu.Lock()
	indexes := make([]int, 0, len(s.running))
	for idx := range s.running {
		indexes = append(indexes, idx)
	}
	s.mu.Unlock()

	now := time.Now()
	var stale []int
	s.block.Sem.AcquireShmReadAccess(true)
	for _, idx := range indexes {
		slot := &s.block.PerConnectionStats[idx]
		if slot.InUse && slot.State == stats.AnnounceAvailability && now.Sub(slot.StateEnteredAt) > s.cfg.TTL {
			stale = append(stale, idx)
		}
	}
	s.block.Sem.ReleaseShmReadAccess(true)

	total := int(s.block.TotalConnections.Load())
	for _, idx := range stale {
		if total <= s.cfg.MinConnections {
			return
		}
		s.mu.Lock()
		cancel, ok := s.running[idx]
		s.mu.Unlock()
		if ok {
			cancel()
			total--
		}
	}
}

// spawn reserves a slot, builds a daemon through the factory, and launches
// it, tracking its cancel func for shrinkIdle and reaping it on exit.
func (s *Scaler) spawn(ctx context.Context) error {
	slot, err := s.block.ReserveSlot()
	if err != nil {
		return fmt.Errorf("scaler: %w", err)
	}

	id := fmt.Sprintf("%s-dyn-%d", s.idBase, s.seq.Add(1))
	d := s.factory(id, slot)
	s.launch(ctx, slot, d)
	return nil
}

// launch tracks a daemon's cancel func for shrinkIdle, counts it toward
// TotalConnections, and reaps the slot and the count when it exits.
func (s *Scaler) launch(ctx context.Context, slot *rendezvous.SlotHandle, d *daemon.Daemon) {
	dctx, cancel := context.WithCancel(ctx)
	idx := slot.Index()

	s.mu.Lock()
	s.running[idx] = cancel
	s.mu.Unlock()

	s.block.TotalConnections.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		d.Run(dctx)

		s.mu.Lock()
		delete(s.running, idx)
		s.mu.Unlock()

		s.block.TotalConnections.Add(-1)
		s.block.SignalScaler()
	}()
}

// Running reports how many daemons the scaler currently supervises,
// statically or dynamically spawned; Run uses it to top the pool up to
// MinConnections.
func (s *Scaler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}
