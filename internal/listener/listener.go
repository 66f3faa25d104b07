// Package listener runs a raw TCP/Unix accept loop that negotiates each
// accepted client against the rendezvous block and hands it off to
// whichever connection daemon announced itself.
package listener

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"

	"sqlrelay/internal/handoff"
	"sqlrelay/internal/logging"
	"sqlrelay/internal/rendezvous"
)

// Config bundles the per-instance settings a Listener needs.
type Config struct {
	ListenAddrs     []string
	UnixSocket      string
	MaxListeners    int
	ListenerTimeout time.Duration
	DynamicScaling  bool
	AllowPattern    string // optional regex; empty means allow all
	DenyPattern     string // optional regex; checked before AllowPattern
}

// Listener accepts client connections on one or more sockets and hands
// each one to the daemon that is currently announcing availability.
type Listener struct {
	cfg    Config
	block  *rendezvous.Block
	broker *handoff.Broker
	log    *logrus.Logger

	allow *regexp.Regexp
	deny  *regexp.Regexp

	gate chan struct{}
}

// New builds a Listener; allow/deny patterns are compiled eagerly so a bad
// regex fails at startup rather than per connection.
func New(cfg Config, block *rendezvous.Block, broker *handoff.Broker, log *logrus.Logger) (*Listener, error) {
	l := &Listener{cfg: cfg, block: block, broker: broker, log: log}

	if cfg.AllowPattern != "" {
		re, err := regexp.Compile(cfg.AllowPattern)
		if err != nil {
			return nil, fmt.Errorf("listener: compiling allow pattern: %w", err)
		}
		l.allow = re
	}
	if cfg.DenyPattern != "" {
		re, err := regexp.Compile(cfg.DenyPattern)
		if err != nil {
			return nil, fmt.Errorf("listener: compiling deny pattern: %w", err)
		}
		l.deny = re
	}

	maxListeners := cfg.MaxListeners
	if maxListeners <= 0 {
		maxListeners = 64
	}
	l.gate = make(chan struct{}, maxListeners)

	return l, nil
}

// Run opens every configured socket and blocks until ctx is cancelled,
// fanning accepted connections from every socket into one handler.
func (l *Listener) Run(ctx context.Context) error {
	conns := make(chan net.Conn)
	errs := make(chan error, 1)

	var listeners []net.Listener
	for _, addr := range l.cfg.ListenAddrs {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listener: listen tcp %s: %w", addr, err)
		}
		listeners = append(listeners, ln)
		go acceptLoop(ln, conns, errs)
	}
	if l.cfg.UnixSocket != "" {
		ln, err := net.Listen("unix", l.cfg.UnixSocket)
		if err != nil {
			return fmt.Errorf("listener: listen unix %s: %w", l.cfg.UnixSocket, err)
		}
		listeners = append(listeners, ln)
		go acceptLoop(ln, conns, errs)
	}
	defer func() {
		for _, ln := range listeners {
			ln.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			return err
		case conn := <-conns:
			go l.handleAccept(ctx, conn)
		}
	}
}

func acceptLoop(ln net.Listener, conns chan<- net.Conn, errs chan<- error) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			errs <- err
			return
		}
		conns <- conn
	}
}

// handleAccept runs the full per-connection accept sequence: IP filtering,
// the bounded concurrency gate, the rendezvous hand-off, and the
// configured listener timeout.
func (l *Listener) handleAccept(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	host, _, _ := net.SplitHostPort(remote)
	if host == "" {
		host = remote
	}

	if l.deny != nil && l.deny.MatchString(host) {
		conn.Close()
		return
	}
	if l.allow != nil && !l.allow.MatchString(host) {
		conn.Close()
		return
	}

	select {
	case l.gate <- struct{}{}:
		defer func() { <-l.gate }()
	default:
		l.block.Sem.AcquireShmReadAccess(false)
		l.block.Stats.ListenerRejected()
		l.block.Sem.ReleaseShmReadAccess(false)
		conn.Close()
		return
	}

	timeout := l.cfg.ListenerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hoCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	daemonID, err := l.negotiate(hoCtx)
	if err != nil {
		logging.Dbg(l.log, "listener", "negotiate failed for %s: %v", remote, err)
		conn.Close()
		return
	}

	if _, err := l.broker.Pass(hoCtx, daemonID, conn); err != nil {
		logging.Dbg(l.log, "listener", "pass to %s failed: %v", daemonID, err)
		conn.Close()
		return
	}
}

// negotiate runs the rendezvous accept sequence: wait
// for a daemon's announcement (a daemon holds the announce mutex for the
// duration of its own announce sequence, so at most one announcement is
// visible at a time), read and copy the announced id, then signal the
// daemon it is safe to proceed. If every daemon is already busy, note it
// for the scaler (watched under dynamic scaling) before waiting.
func (l *Listener) negotiate(ctx context.Context) (string, error) {
	l.block.Sem.AcquireShmReadAccess(true)
	allBusy := l.block.ConnectionsInUse.Load() >= l.block.TotalConnections.Load() && l.block.TotalConnections.Load() > 0
	l.block.Sem.ReleaseShmReadAccess(true)
	if allBusy && l.cfg.DynamicScaling {
		l.block.SignalScaler()
	}

	done := make(chan struct{})
	go func() {
		l.block.Sem.WaitListenerReady()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	l.block.Sem.AcquireShmReadAccess(true)
	daemonID := l.block.ConnectionID
	l.block.Sem.ReleaseShmReadAccess(true)

	l.block.IncrInUse()
	l.block.Sem.SignalListenerDone()

	return daemonID, nil
}
