package daemon

import (
	"context"
	"io"
	"net"
	"testing"

	"github.com/sirupsen/logrus"

	"sqlrelay/internal/driverapi/stubdriver"
	"sqlrelay/internal/handoff"
	"sqlrelay/internal/rendezvous"
	"sqlrelay/internal/wireproto"
)

func newTestDaemon(t *testing.T) (*Daemon, *handoff.Broker) {
	return newTestDaemonRSBS(t, 10)
}

func newTestDaemonRSBS(t *testing.T, rsbs int) (*Daemon, *handoff.Broker) {
	t.Helper()
	block := rendezvous.NewBlock(10)
	slot, err := block.ReserveSlot()
	if err != nil {
		t.Fatal(err)
	}
	broker := handoff.NewBroker()
	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := Config{
		ID:               "conn-a",
		CursorPoolSize:   4,
		ResultSetBufSize: rsbs,
		LoginTries:       1,
		Limits:           wireproto.DefaultLimits(),
	}
	d := New(cfg, stubdriver.New(), block, slot, broker, nil, log)
	return d, broker
}

// readBatch reads one writeResultSet response off r: the column-info
// preamble (full descriptors only on the first batch of a result set),
// the row-batch header, and as many rows as the header's cumulative
// actual-row count grew by since prevActual. colCount is the row width,
// which the wire only sends alongside column info, so callers must
// already know it for later batches.
func readBatch(t *testing.T, r *wireproto.Reader, colCount int, prevActual uint64, expectEnd bool) (cols []wireproto.ColumnInfo, actual uint64) {
	t.Helper()
	var err error
	cols, _, err = wireproto.ReadColumnInfo(r)
	if err != nil {
		t.Fatal(err)
	}

	hasActual, err := r.ReadU16()
	if err != nil {
		t.Fatal(err)
	}
	if hasActual == 1 {
		actual, err = r.ReadU64()
		if err != nil {
			t.Fatal(err)
		}
	}
	hasAffected, err := r.ReadU16()
	if err != nil {
		t.Fatal(err)
	}
	if hasAffected == 1 {
		if _, err := r.ReadU64(); err != nil {
			t.Fatal(err)
		}
	}

	for i := uint64(0); i < actual-prevActual; i++ {
		for c := 0; c < colCount; c++ {
			if _, err := r.ReadU8(); err != nil {
				t.Fatal(err)
			}
			if _, err := r.ReadLBytes(0); err != nil {
				t.Fatal(err)
			}
		}
	}

	if expectEnd {
		end, err := r.ReadU16()
		if err != nil {
			t.Fatal(err)
		}
		if end != wireproto.EndResultSet {
			t.Fatalf("got end marker %d, want EndResultSet", end)
		}
	}
	return cols, actual
}

func authenticate(t *testing.T, w *wireproto.Writer, r *wireproto.Reader) {
	t.Helper()
	w.WriteOpcode(wireproto.OpAuthenticate)
	w.WriteLString("user")
	w.WriteLString("pass")
	w.Flush()
	code, err := r.ReadU16()
	if err != nil {
		t.Fatal(err)
	}
	if code != wireproto.NoErrorOccurred {
		t.Fatalf("authenticate failed, code=%d", code)
	}
}

func TestSessionAuthenticateAndSelect(t *testing.T) {
	d, _ := newTestDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.login(ctx); err != nil {
		t.Fatal(err)
	}

	clientConn, daemonConn := net.Pipe()
	defer clientConn.Close()

	// handleSession is exercised directly here; the broker hand-off path
	// (listener accepts, Pass delivers to this daemon's inbox) is covered
	// by internal/handoff's own tests.
	go d.handleSession(ctx, daemonConn)

	w := wireproto.NewWriter(clientConn)
	r := wireproto.NewReader(clientConn)

	authenticate(t, w, r)

	w.WriteOpcode(wireproto.OpNewQuery)
	w.WriteLString("select * from accounts")
	w.WriteU16(0) // bind count
	w.WriteU8(uint8(wireproto.EndBindVars))
	w.Flush()

	cols, sendInfo, err := wireproto.ReadColumnInfo(r)
	if err != nil {
		t.Fatal(err)
	}
	if !sendInfo || len(cols) != 3 {
		t.Fatalf("got sendInfo=%v cols=%d, want 3 columns", sendInfo, len(cols))
	}

	hasActual, err := r.ReadU16()
	if err != nil {
		t.Fatal(err)
	}
	if hasActual == 1 {
		if _, err := r.ReadU64(); err != nil {
			t.Fatal(err)
		}
	}
	hasAffected, err := r.ReadU16()
	if err != nil {
		t.Fatal(err)
	}
	if hasAffected == 1 {
		if _, err := r.ReadU64(); err != nil {
			t.Fatal(err)
		}
	}

	// Fixture has exactly 5 accounts rows and 3 columns each; read them by
	// count rather than sniffing a marker byte, since END_RESULT_SET's u16
	// encoding is not self-delimiting against a leading row tag byte.
	for row := 0; row < 5; row++ {
		for col := 0; col < 3; col++ {
			if _, err := r.ReadU8(); err != nil {
				t.Fatal(err)
			}
			if _, err := r.ReadLBytes(0); err != nil {
				t.Fatal(err)
			}
		}
	}
	end, err := r.ReadU16()
	if err != nil {
		t.Fatal(err)
	}
	if end != wireproto.EndResultSet {
		t.Fatalf("got end marker %d, want EndResultSet", end)
	}

	w.WriteOpcode(wireproto.OpEndSession)
	w.Flush()
}

func TestSessionRejectsCommandsBeforeAuthenticate(t *testing.T) {
	d, _ := newTestDaemon(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.login(ctx); err != nil {
		t.Fatal(err)
	}

	clientConn, daemonConn := net.Pipe()
	defer clientConn.Close()
	go d.handleSession(ctx, daemonConn)

	w := wireproto.NewWriter(clientConn)
	r := wireproto.NewReader(clientConn)

	w.WriteOpcode(wireproto.OpPing)
	w.Flush()

	code, err := r.ReadU16()
	if err != nil {
		t.Fatal(err)
	}
	if code != wireproto.ErrorOccurredDisconnect {
		t.Fatalf("got code %d, want ErrorOccurredDisconnect", code)
	}
}

// TestPagedFetchOnlyFinalBatchCarriesEndMarker covers a paged fetch whose
// buffer size is smaller than the fixture's row count: 5 rows at rsbs=2
// yields three batches (2, 2, 1), and only the last carries
// END_RESULT_SET.
func TestPagedFetchOnlyFinalBatchCarriesEndMarker(t *testing.T) {
	d, _ := newTestDaemonRSBS(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.login(ctx); err != nil {
		t.Fatal(err)
	}

	clientConn, daemonConn := net.Pipe()
	defer clientConn.Close()
	go d.handleSession(ctx, daemonConn)

	w := wireproto.NewWriter(clientConn)
	r := wireproto.NewReader(clientConn)
	authenticate(t, w, r)

	w.WriteOpcode(wireproto.OpNewQuery)
	w.WriteLString("select * from accounts")
	w.WriteU16(0)
	w.WriteU8(uint8(wireproto.EndBindVars))
	w.Flush()

	const cid = 0

	cols, actual := readBatch(t, r, 3, 0, false)
	if len(cols) != 3 {
		t.Fatalf("got %d columns, want 3", len(cols))
	}
	if actual != 2 {
		t.Fatalf("batch 1: got actual=%d, want 2", actual)
	}

	w.WriteOpcode(wireproto.OpFetchResultSet)
	w.WriteU16(cid)
	w.Flush()
	if _, actual = readBatch(t, r, 3, actual, false); actual != 4 {
		t.Fatalf("batch 2: got actual=%d, want 4", actual)
	}

	w.WriteOpcode(wireproto.OpFetchResultSet)
	w.WriteU16(cid)
	w.Flush()
	if _, actual = readBatch(t, r, 3, actual, true); actual != 5 {
		t.Fatalf("batch 3: got actual=%d, want 5", actual)
	}

	w.WriteOpcode(wireproto.OpEndSession)
	w.Flush()
}

// TestSuspendAndResumeResultSet suspends a cursor mid-fetch, disconnects
// without END_SESSION, dials the reconnect address the daemon returned,
// and resumes the same cursor from a second connection: the suspended
// cursor's query, columns, and row position must all survive the first
// session's teardown.
func TestSuspendAndResumeResultSet(t *testing.T) {
	d, _ := newTestDaemonRSBS(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.runCtx = ctx
	defer d.closeReconnectListener()

	if err := d.login(ctx); err != nil {
		t.Fatal(err)
	}

	clientConn, daemonConn := net.Pipe()
	sessionDone := make(chan struct{})
	go func() {
		d.handleSession(ctx, daemonConn)
		close(sessionDone)
	}()

	w := wireproto.NewWriter(clientConn)
	r := wireproto.NewReader(clientConn)
	authenticate(t, w, r)

	w.WriteOpcode(wireproto.OpNewQuery)
	w.WriteLString("select * from accounts")
	w.WriteU16(0)
	w.WriteU8(uint8(wireproto.EndBindVars))
	w.Flush()

	const cid = 0
	_, actual := readBatch(t, r, 3, 0, false)
	if actual != 2 {
		t.Fatalf("batch 1: got actual=%d, want 2", actual)
	}

	w.WriteOpcode(wireproto.OpSuspendResultSet)
	w.WriteU16(cid)
	w.Flush()

	daemonID, err := r.ReadLString(256)
	if err != nil {
		t.Fatal(err)
	}
	network, err := r.ReadLString(256)
	if err != nil {
		t.Fatal(err)
	}
	address, err := r.ReadLString(256)
	if err != nil {
		t.Fatal(err)
	}
	gotCid, err := r.ReadU16()
	if err != nil {
		t.Fatal(err)
	}
	if gotCid != cid {
		t.Fatalf("got suspend cid %d, want %d", gotCid, cid)
	}

	// SUSPEND_RESULT_SET lets the client drop the connection without
	// END_SESSION; wait for that session's teardown to finish before
	// reconnecting so the two sessions don't race over the cursor.
	clientConn.Close()
	<-sessionDone

	conn2, err := net.Dial(network, address)
	if err != nil {
		t.Fatalf("dial reconnect address %s %s: %v", network, address, err)
	}
	defer conn2.Close()

	w2 := wireproto.NewWriter(conn2)
	r2 := wireproto.NewReader(conn2)
	authenticate(t, w2, r2)

	w2.WriteOpcode(wireproto.OpResumeResultSet)
	w2.WriteLString(daemonID)
	w2.WriteU16(cid)
	w2.Flush()

	if _, actual = readBatch(t, r2, 3, actual, false); actual != 4 {
		t.Fatalf("after resume: got actual=%d, want 4", actual)
	}

	w2.WriteOpcode(wireproto.OpFetchResultSet)
	w2.WriteU16(cid)
	w2.Flush()
	if _, actual = readBatch(t, r2, 3, actual, true); actual != 5 {
		t.Fatalf("final batch: got actual=%d, want 5", actual)
	}

	w2.WriteOpcode(wireproto.OpEndSession)
	w2.Flush()
}
