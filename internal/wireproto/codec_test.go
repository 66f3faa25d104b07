package wireproto

import (
	"bytes"
	"testing"
)

func TestCodecRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	if err := w.WriteOpcode(OpNewQuery); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteLString("select 1"); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteU64(42); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	r := NewReader(&buf)
	op, err := r.ReadOpcode()
	if err != nil {
		t.Fatal(err)
	}
	if op != OpNewQuery {
		t.Fatalf("got opcode %v, want NEW_QUERY", op)
	}
	s, err := r.ReadLString(1024)
	if err != nil {
		t.Fatal(err)
	}
	if s != "select 1" {
		t.Fatalf("got %q", s)
	}
	n, err := r.ReadU64()
	if err != nil {
		t.Fatal(err)
	}
	if n != 42 {
		t.Fatalf("got %d, want 42", n)
	}
}

func TestReadLBytesOversize(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteLBytes(make([]byte, 100)); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	r := NewReader(&buf)
	_, err := r.ReadLBytes(10)
	pe, ok := err.(*ProtocolError)
	if !ok {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if pe.Kind != "oversize-field" {
		t.Fatalf("got kind %q", pe.Kind)
	}
}

func TestReadShortRead(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00})
	r := NewReader(&buf)
	_, err := r.ReadU16()
	pe, ok := err.(*ProtocolError)
	if !ok {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if pe.Kind != "short-read" {
		t.Fatalf("got kind %q", pe.Kind)
	}
}

func TestBindBlockRoundTrip(t *testing.T) {
	binds := []Bind{
		{Name: "n", Tag: NullBind, Direction: BindIn},
		{Name: "s", Tag: StringBind, Direction: BindIn, StringVal: "hello"},
		{Name: "i", Tag: IntegerBind, Direction: BindIn, IntVal: -7},
		{Name: "d", Tag: DoubleBind, Direction: BindIn, DoubleVal: 3.25, Precision: 10, Scale: 2},
		{Name: "b", Tag: BlobBind, Direction: BindIn, BlobVal: []byte{1, 2, 3}},
		{Name: "c", Tag: ClobBind, Direction: BindIn, ClobVal: []byte("clobtext")},
		{Name: "cur", Tag: CursorBind, Direction: BindIn, CursorID: 9},
		{Name: "dt", Tag: DateBind, Direction: BindIn, DateVal: DateValue{
			Year: 2024, Month: 1, Day: 2, Hour: 3, Minute: 4, Second: 5, Microsecond: 6, TZ: "UTC",
		}},
		{Name: "out", Tag: IntegerBind, Direction: BindOut, MaxSize: 8},
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := WriteBindBlock(w, binds); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	r := NewReader(&buf)
	got, err := ReadBindBlock(r, DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(binds) {
		t.Fatalf("got %d binds, want %d", len(got), len(binds))
	}
	if got[1].StringVal != "hello" {
		t.Fatalf("string bind mismatch: %+v", got[1])
	}
	if got[3].DoubleVal != 3.25 {
		t.Fatalf("double bind mismatch: %+v", got[3])
	}
	if got[7].DateVal.TZ != "UTC" || got[7].DateVal.Microsecond != 6 {
		t.Fatalf("date bind mismatch: %+v", got[7].DateVal)
	}
	if got[8].Direction != BindOut || got[8].MaxSize != 8 {
		t.Fatalf("output bind mismatch: %+v", got[8])
	}
}

func TestBindBlockDuplicateName(t *testing.T) {
	binds := []Bind{
		{Name: "x", Tag: NullBind, Direction: BindIn},
		{Name: "x", Tag: NullBind, Direction: BindIn},
	}
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := WriteBindBlock(w, binds); err != nil {
		t.Fatal(err)
	}
	w.Flush()

	r := NewReader(&buf)
	_, err := ReadBindBlock(r, DefaultLimits())
	le, ok := err.(*LimitError)
	if !ok || le.Code != ErrDuplicateBindName {
		t.Fatalf("expected duplicate bind name limit error, got %v", err)
	}
}

func TestErrorResponseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := WriteErrorResponse(w, true, 900002, "HY000", "Maximum query length exceeded."); err != nil {
		t.Fatal(err)
	}
	w.Flush()

	r := NewReader(&buf)
	kind, err := r.ReadU16()
	if err != nil {
		t.Fatal(err)
	}
	if kind != ErrorOccurredDisconnect {
		t.Fatalf("got kind %d", kind)
	}
	code, err := r.ReadI64()
	if err != nil {
		t.Fatal(err)
	}
	if code != int64(ErrMaxQueryLength) {
		t.Fatalf("got code %d", code)
	}
}
