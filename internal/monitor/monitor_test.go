package monitor

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"sqlrelay/internal/rendezvous"
	"sqlrelay/internal/stats"
)

func TestSnapshotRouteReportsConnectionState(t *testing.T) {
	block := rendezvous.NewBlock(10)
	slot, err := block.ReserveSlot()
	if err != nil {
		t.Fatal(err)
	}
	block.TotalConnections.Add(1)

	block.Sem.AcquireShmReadAccess(false)
	slot.Slot().EnterState(stats.ProcessSQL, slot.Slot().StateEnteredAt)
	slot.Slot().SetSQLText("select * from accounts")
	block.Sem.ReleaseShmReadAccess(false)

	log := logrus.New()
	log.SetOutput(io.Discard)

	m := New(block, log)
	r := mux.NewRouter()
	m.Routes(r)

	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}

	if snap.TotalConnections != 1 {
		t.Fatalf("got TotalConnections=%d, want 1", snap.TotalConnections)
	}
	if len(snap.Connections) != 1 {
		t.Fatalf("got %d connections, want 1", len(snap.Connections))
	}
	if snap.Connections[0].State != "PROCESS_SQL" {
		t.Fatalf("got state %q, want PROCESS_SQL", snap.Connections[0].State)
	}
	if snap.Connections[0].SQLText != "select * from accounts" {
		t.Fatalf("got sql text %q", snap.Connections[0].SQLText)
	}
}
