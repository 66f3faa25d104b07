// Package monitor exposes a read-only view of the rendezvous block's stats
// over HTTP: one JSON snapshot route and one live-push websocket stream
// that broadcasts a snapshot once a second.
package monitor

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"sqlrelay/internal/rendezvous"
	"sqlrelay/internal/stats"
)

// Snapshot is the JSON shape returned by /stats and pushed over /stats/ws.
type Snapshot struct {
	TotalConnections int            `json:"total-connections"`
	ConnectionsInUse int            `json:"connections-in-use"`
	Aggregate        stats.Snapshot `json:"aggregate"`
	Connections      []ConnSummary  `json:"connections"`
}

// ConnSummary is one daemon slot's externally visible state.
type ConnSummary struct {
	Index          int    `json:"index"`
	InUse          bool   `json:"in-use"`
	State          string `json:"state"`
	ClientAddr     string `json:"client-addr,omitempty"`
	SQLText        string `json:"sql-text,omitempty"`
	StateEnteredAt string `json:"state-entered-at"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Monitor serves the read-only stats surface for one instance's
// rendezvous.Block.
type Monitor struct {
	block *rendezvous.Block
	log   *logrus.Logger
}

// New builds a Monitor. Registering it with an *http.Server is the
// caller's job (cmd/sqlrelayd); Monitor does not own the server.
func New(block *rendezvous.Block, log *logrus.Logger) *Monitor {
	return &Monitor{block: block, log: log}
}

// Routes registers the snapshot and websocket routes on r, so the caller
// can mount them under its own prefix or alongside other routes.
func (m *Monitor) Routes(r *mux.Router) {
	r.HandleFunc("/stats", m.handleSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/stats/ws", m.handleStream)
}

func (m *Monitor) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := m.snapshot()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		m.log.WithError(err).Warn("monitor: encoding snapshot failed")
	}
}

// handleStream upgrades to a websocket and pushes a fresh snapshot once a
// second until the client disconnects.
func (m *Monitor) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.WithError(err).Warn("monitor: websocket upgrade failed")
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if err := conn.WriteJSON(m.snapshot()); err != nil {
			return
		}
	}
}

func (m *Monitor) snapshot() Snapshot {
	b := m.block

	snap := Snapshot{
		TotalConnections: int(b.TotalConnections.Load()),
		ConnectionsInUse: int(b.ConnectionsInUse.Load()),
	}

	b.Sem.AcquireShmReadAccess(true)
	snap.Aggregate = b.Stats.Snapshot()
	for i := range b.PerConnectionStats {
		slot := &b.PerConnectionStats[i]
		if !slot.InUse {
			continue
		}
		snap.Connections = append(snap.Connections, ConnSummary{
			Index:          slot.Index,
			InUse:          slot.InUse,
			State:          slot.State.String(),
			ClientAddr:     slot.ClientAddr,
			SQLText:        slot.SQLText,
			StateEnteredAt: slot.StateEnteredAt.Format(time.RFC3339),
		})
	}
	b.Sem.ReleaseShmReadAccess(true)

	return snap
}
