package scaler

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"sqlrelay/internal/daemon"
	"sqlrelay/internal/driverapi/stubdriver"
	"sqlrelay/internal/handoff"
	"sqlrelay/internal/rendezvous"
	"sqlrelay/internal/stats"
	"sqlrelay/internal/wireproto"
)

func newTestScaler(t *testing.T, cfg Config) (*Scaler, *rendezvous.Block, context.CancelFunc) {
	t.Helper()
	block := rendezvous.NewBlock(10)
	broker := handoff.NewBroker()
	log := logrus.New()
	log.SetOutput(io.Discard)

	factory := func(id string, slot *rendezvous.SlotHandle) *daemon.Daemon {
		dcfg := daemon.Config{ID: id, CursorPoolSize: 2, ResultSetBufSize: 4, LoginTries: 1, Limits: wireproto.DefaultLimits()}
		return daemon.New(dcfg, stubdriver.New(), block, slot, broker, nil, log)
	}

	sc := New(cfg, block, factory, "conn-a", log)
	_, cancel := context.WithCancel(context.Background())
	return sc, block, cancel
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestRunBootstrapsToMinConnections(t *testing.T) {
	sc, _, cancel := newTestScaler(t, Config{MinConnections: 2, MaxConnections: 4, GrowBy: 1, MaxQueueLength: 1, TTL: time.Hour, PollInterval: 20 * time.Millisecond})
	defer cancel()

	go sc.Run(context.Background())

	waitFor(t, time.Second, func() bool { return sc.Running() == 2 })
	cancel()
}

func TestGrowOnQueuePressure(t *testing.T) {
	sc, block, cancel := newTestScaler(t, Config{MinConnections: 1, MaxConnections: 4, GrowBy: 1, MaxQueueLength: 0, TTL: time.Hour, PollInterval: 20 * time.Millisecond})
	defer cancel()

	ctx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	go sc.Run(ctx)

	waitFor(t, time.Second, func() bool { return sc.Running() == 1 })

	// Simulate queue pressure: ConnectionsInUse exceeding TotalConnections
	// is what growIfNeeded watches for.
	block.IncrInUse()
	block.IncrInUse()
	block.SignalScaler()

	waitFor(t, time.Second, func() bool { return sc.Running() == 2 })

	if int(block.TotalConnections.Load()) != sc.Running() {
		t.Fatalf("TotalConnections=%d does not match Running=%d", block.TotalConnections.Load(), sc.Running())
	}
}

func TestGrowStopsAtMaxConnections(t *testing.T) {
	sc, block, cancel := newTestScaler(t, Config{MinConnections: 1, MaxConnections: 2, GrowBy: 5, MaxQueueLength: 0, TTL: time.Hour, PollInterval: 20 * time.Millisecond})
	defer cancel()

	ctx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	go sc.Run(ctx)

	waitFor(t, time.Second, func() bool { return sc.Running() == 1 })

	block.IncrInUse()
	block.IncrInUse()
	block.SignalScaler()

	waitFor(t, time.Second, func() bool { return sc.Running() == 2 })

	// Give a further evaluate pass a chance to run; it must not exceed the ceiling.
	time.Sleep(100 * time.Millisecond)
	if sc.Running() > 2 {
		t.Fatalf("scaler grew past MaxConnections: running=%d", sc.Running())
	}
}

// TestShrinkIdleCancelsStaleDaemon exercises shrinkIdle directly against
// synthetic slot state, sidestepping the real announce/hand-off cycle
// (which needs a listener on the other end to ever complete) so the test
// can assert precisely on which daemon gets cancelled.
func TestShrinkIdleCancelsStaleDaemon(t *testing.T) {
	sc, block, cancel := newTestScaler(t, Config{MinConnections: 1, MaxConnections: 4, TTL: 50 * time.Millisecond})
	defer cancel()

	var canceledFresh, canceledStale bool
	block.TotalConnections.Store(2)

	freshSlot := &block.PerConnectionStats[0]
	freshSlot.InUse = true
	freshSlot.EnterState(stats.AnnounceAvailability, time.Now())
	sc.running[0] = func() { canceledFresh = true }

	staleSlot := &block.PerConnectionStats[1]
	staleSlot.InUse = true
	staleSlot.EnterState(stats.AnnounceAvailability, time.Now().Add(-time.Hour))
	sc.running[1] = func() { canceledStale = true }

	sc.shrinkIdle()

	if canceledFresh {
		t.Fatal("shrinkIdle cancelled a daemon that had not sat idle past ttl")
	}
	if !canceledStale {
		t.Fatal("shrinkIdle did not cancel a daemon idle well past ttl")
	}
}

// TestShrinkIdleNoopAtFloor confirms shrinkIdle never touches a pool
// already at MinConnections, even when every daemon in it looks idle.
func TestShrinkIdleNoopAtFloor(t *testing.T) {
	sc, block, cancel := newTestScaler(t, Config{MinConnections: 1, MaxConnections: 4, TTL: 50 * time.Millisecond})
	defer cancel()

	var canceled bool
	block.TotalConnections.Store(1)

	slot := &block.PerConnectionStats[0]
	slot.InUse = true
	slot.EnterState(stats.AnnounceAvailability, time.Now().Add(-time.Hour))
	sc.running[0] = func() { canceled = true }

	sc.shrinkIdle()

	if canceled {
		t.Fatal("shrinkIdle cancelled the last daemon at MinConnections")
	}
}
