// Package handoff models the listener<->daemon hand-off protocol as an
// in-process channel hand-off instead of a UNIX datagram carrying an
// SCM_RIGHTS file descriptor, since there is no process boundary between
// listener and daemon here. HANDOFF_RECONNECT is kept as a real
// wire-level mode because RESUME_RESULT_SET against a suspended cursor
// genuinely needs the client to dial a specific daemon directly.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"sqlrelay/internal/wireproto"
)

// ErrUnknownDaemon is returned by Pass when no daemon is registered under
// the given id.
var ErrUnknownDaemon = errors.New("handoff: unknown daemon id")

// ErrHandoffTimeout is returned when the caller's context is done before
// the daemon accepts a passed connection.
var ErrHandoffTimeout = errors.New("handoff: daemon did not accept in time")

// target is one daemon's inbox for passed-in client connections.
type target struct {
	inbox chan net.Conn
}

// Broker routes accepted client connections to the daemon the listener
// chose via the rendezvous block's announcement.
type Broker struct {
	mu      sync.Mutex
	targets map[string]*target
}

func NewBroker() *Broker {
	return &Broker{targets: make(map[string]*target)}
}

// Register gives daemonID an inbox to receive passed connections on. The
// returned channel is what the daemon's Run loop receives handed-off
// connections from.
func (b *Broker) Register(daemonID string) <-chan net.Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := &target{inbox: make(chan net.Conn)}
	b.targets[daemonID] = t
	return t.inbox
}

// Unregister removes a daemon's inbox, e.g. when it exits.
func (b *Broker) Unregister(daemonID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.targets, daemonID)
}

// Pass hands conn to the daemon identified by daemonID, modeling
// HANDOFF_PASS: the listener accepted the socket and forwards it
// in-process rather than the daemon itself calling accept().
func (b *Broker) Pass(ctx context.Context, daemonID string, conn net.Conn) (wireproto.HandoffMode, error) {
	b.mu.Lock()
	t, ok := b.targets[daemonID]
	b.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownDaemon, daemonID)
	}

	select {
	case t.inbox <- conn:
		return wireproto.HandoffPass, nil
	case <-ctx.Done():
		return 0, ErrHandoffTimeout
	}
}

// ReconnectAddress is what a daemon returns to the client when it
// suspends a result set, so that it can be dialed directly for
// RESUME_RESULT_SET, instead of going through the shared listener.
type ReconnectAddress struct {
	Network  string // "tcp" or "unix"
	Address  string
	CursorID uint16
}
