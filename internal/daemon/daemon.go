// Package daemon implements the connection-daemon session state machine:
// one goroutine per configured connection, authenticating once against a
// backend driver and then serving a sequence of client sessions handed
// off by the listener.
package daemon

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"sqlrelay/internal/cursor"
	"sqlrelay/internal/driverapi"
	"sqlrelay/internal/handoff"
	"sqlrelay/internal/logging"
	"sqlrelay/internal/rendezvous"
	"sqlrelay/internal/stats"
	"sqlrelay/internal/wireproto"
)

// Config bundles the per-connection parameters a Daemon needs beyond its
// driver and slot; populated from internal/config.Connection /
// config.Instance by the caller (cmd/sqlrelayd).
type Config struct {
	ID                string
	ConnectParams     map[string]string
	CursorPoolSize    int
	ResultSetBufSize  int
	PingInterval      time.Duration
	LoginTries        int
	Limits            wireproto.Limits
	FakeTransactionBlocks bool
	SuspendTimeout    time.Duration
	IdleClientTimeout time.Duration
}

// Daemon is one connection daemon: one backend driver connection, one
// cursor pool, one rendezvous slot.
type Daemon struct {
	cfg    Config
	driver driverapi.Driver
	pool   *cursor.Pool
	slot   *rendezvous.SlotHandle
	block  *rendezvous.Block
	broker *handoff.Broker
	audit  *logging.AuditLogger
	log    *logrus.Logger

	mu            sync.Mutex
	dead          bool
	authenticated bool

	sessionTempTables []string
	txTempTables      []string

	suspended map[uint16]*cursor.Cursor

	// runCtx is set once at the top of Run, in the Run goroutine, before
	// any code path that reads it can execute (handleSession is only ever
	// invoked from that same goroutine). ensureReconnectAddress/
	// reconnectAcceptLoop use it as the parent context for the dedicated
	// per-daemon listener a suspended cursor requires.
	runCtx context.Context

	reconnectMu sync.Mutex
	reconnectLn net.Listener
}

// New builds a Daemon ready to have Run called on it. drv must already be
// unconnected; Run performs the initial login.
func New(cfg Config, drv driverapi.Driver, block *rendezvous.Block, slot *rendezvous.SlotHandle, broker *handoff.Broker, audit *logging.AuditLogger, log *logrus.Logger) *Daemon {
	return &Daemon{
		cfg:       cfg,
		driver:    drv,
		pool:      cursor.NewPool(drv, cfg.CursorPoolSize, cfg.ResultSetBufSize),
		slot:      slot,
		block:     block,
		broker:    broker,
		audit:     audit,
		log:       log,
		suspended: make(map[uint16]*cursor.Cursor),
	}
}

func (d *Daemon) enterState(s stats.ConnState) {
	d.block.Sem.AcquireShmReadAccess(false)
	d.slot.Slot().EnterState(s, time.Now())
	d.block.Sem.ReleaseShmReadAccess(false)
}

// Run is the daemon's top-level loop: log in, then repeatedly announce
// availability, accept a hand-off, and serve one client session:
// INIT -> WAIT_FOR_AVAIL_DB -> ... -> SESSION_END -> (loop).
func (d *Daemon) Run(ctx context.Context) {
	defer d.slot.ReleaseSlot()
	defer d.closeReconnectListener()

	d.runCtx = ctx
	d.enterState(stats.Init)
	if err := d.login(ctx); err != nil {
		logging.Dbg(d.log, d.cfg.ID, "initial login failed: %v", err)
		return
	}

	inbox := d.broker.Register(d.cfg.ID)
	defer d.broker.Unregister(d.cfg.ID)

	go d.pingLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			d.driver.LogOut(context.Background())
			return
		default:
		}

		d.enterState(stats.WaitForAvailDB)
		if d.isDead() {
			if err := d.relogin(ctx); err != nil {
				time.Sleep(time.Second)
				continue
			}
		}

		d.enterState(stats.AnnounceAvailability)
		if !d.announce(ctx) {
			continue
		}

		select {
		case conn := <-inbox:
			d.enterState(stats.WaitClient)
			d.handleSession(ctx, conn)
		case <-ctx.Done():
			d.driver.LogOut(context.Background())
			return
		}
	}
}

// announce publishes this daemon's id and hand-off info to the rendezvous
// block and waits for the listener to claim it, holding the announce
// mutex for the whole sequence so no other daemon's announcement can be
// interleaved with this one. Returns
// false if ctx was cancelled before a listener claimed the announcement.
func (d *Daemon) announce(ctx context.Context) bool {
	d.block.Sem.AcquireAnnounceMutex()
	defer d.block.Sem.ReleaseAnnounceMutex()

	d.block.Sem.AcquireShmReadAccess(false)
	d.block.WriteAnnouncement(d.cfg.ID, rendezvous.HandoffInfo{Mode: rendezvous.HandoffPass})
	d.block.Sem.ReleaseShmReadAccess(false)

	d.block.Sem.SignalListenerReady()

	done := make(chan struct{})
	go func() {
		d.block.Sem.WaitListenerDone()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// ensureReconnectAddress lazily opens this daemon's own TCP listener the
// first time a cursor is suspended, since the shared listener's FIFO
// announce rotation has no way to route a RESUME_RESULT_SET reconnect to
// the one daemon holding the suspended cursor. The client dials this
// address directly and bypasses the shared listener entirely.
func (d *Daemon) ensureReconnectAddress() (handoff.ReconnectAddress, error) {
	d.reconnectMu.Lock()
	defer d.reconnectMu.Unlock()

	if d.reconnectLn == nil {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return handoff.ReconnectAddress{}, err
		}
		d.reconnectLn = ln
		go d.reconnectAcceptLoop(ln)
	}
	return handoff.ReconnectAddress{Network: "tcp", Address: d.reconnectLn.Addr().String()}, nil
}

// reconnectAcceptLoop serves every connection dialed against the
// reconnect address as a full session in its own right: the client
// authenticates again and then issues RESUME_RESULT_SET, same as any
// other session, just without going through announce/negotiate/hand-off.
// It takes IncrInUse itself since handleSession unconditionally balances
// it with DecrInUse at session end.
func (d *Daemon) reconnectAcceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		d.block.IncrInUse()
		go d.handleSession(d.runCtx, conn)
	}
}

func (d *Daemon) closeReconnectListener() {
	d.reconnectMu.Lock()
	defer d.reconnectMu.Unlock()
	if d.reconnectLn != nil {
		d.reconnectLn.Close()
	}
}

func (d *Daemon) login(ctx context.Context) error {
	tries := d.cfg.LoginTries
	if tries <= 0 {
		tries = 1
	}
	var err error
	backoff := 100 * time.Millisecond
	for i := 0; i < tries; i++ {
		if err = d.driver.Connect(ctx, d.cfg.ConnectParams); err == nil {
			d.setDead(false)
			return nil
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return err
}

func (d *Daemon) relogin(ctx context.Context) error {
	if err := d.login(ctx); err != nil {
		return err
	}
	d.setDead(false)
	return nil
}

func (d *Daemon) isDead() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dead
}

func (d *Daemon) setDead(v bool) {
	d.mu.Lock()
	d.dead = v
	d.mu.Unlock()
}

// pingLoop issues the driver's ping on an interval while the daemon is
// idle (between sessions), marking it dead on failure so Run removes it
// from announce rotation until a re-login succeeds.
func (d *Daemon) pingLoop(ctx context.Context) {
	interval := d.cfg.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			d.block.Sem.AcquireShmReadAccess(true)
			idle := d.slot.Slot().State == stats.AnnounceAvailability
			d.block.Sem.ReleaseShmReadAccess(true)
			if !idle {
				continue
			}
			if err := d.driver.Ping(ctx); err != nil {
				var de *driverapi.DriverError
				if errors.As(err, &de) && !de.ConnectionAlive {
					d.setDead(true)
				}
			}
		}
	}
}

// handleSession runs one client session end to end: reads opcodes off
// conn until END_SESSION, a protocol error, or a fatal driver error.
func (d *Daemon) handleSession(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	d.enterState(stats.SessionStart)
	d.authenticated = false
	d.sessionTempTables = d.sessionTempTables[:0]

	r := wireproto.NewReader(conn)
	w := wireproto.NewWriter(conn)

	start := time.Now()
	opcodeCounts := map[string]int{}
	var finalErrorCode int64

	for {
		d.enterState(stats.GetCommand)
		op, err := r.ReadOpcode()
		if err != nil {
			break // protocol/short-read: fatal to session, not daemon
		}
		opcodeCounts[op.String()]++
		d.slot.Slot().CommandStarted = time.Now()

		d.enterState(stats.ProcessSQL)
		fatal, code := d.dispatch(ctx, op, r, w)
		if code != 0 {
			finalErrorCode = code
		}
		if fatal {
			break
		}
		if op == wireproto.OpEndSession {
			break
		}
	}

	d.enterState(stats.SessionEnd)
	d.drainSessionTempTables(ctx)
	d.pool.FreeAll()
	d.block.DecrInUse()

	if d.audit != nil {
		d.audit.SessionClosed(d.cfg.ID, d.cfg.ID, time.Since(start), opcodeCounts, finalErrorCode)
	}
}

func (d *Daemon) drainSessionTempTables(ctx context.Context) {
	for _, name := range d.sessionTempTables {
		cur := d.driver.NewCursor()
		d.driver.Prepare(ctx, cur, "drop table "+name)
		d.driver.Execute(ctx, cur)
	}
	d.sessionTempTables = d.sessionTempTables[:0]
}

func (d *Daemon) drainTxTempTables(ctx context.Context) {
	for _, name := range d.txTempTables {
		cur := d.driver.NewCursor()
		d.driver.Prepare(ctx, cur, "truncate table "+name)
		d.driver.Execute(ctx, cur)
	}
	d.txTempTables = d.txTempTables[:0]
}

// RecordTempTable is called by the rewrite hook the driver may supply
// when it detects a client creating a session- or transaction-local
// temporary table; the core never parses SQL to discover this itself.
func (d *Daemon) RecordTempTable(name string, sessionScoped bool) {
	if sessionScoped {
		d.sessionTempTables = append(d.sessionTempTables, name)
	} else {
		d.txTempTables = append(d.txTempTables, name)
	}
}
