package stubdriver

import (
	"context"
	"errors"
	"testing"

	"sqlrelay/internal/driverapi"
)

func TestSelectFetchesSeededRows(t *testing.T) {
	d := New()
	ctx := context.Background()
	if err := d.Connect(ctx, nil); err != nil {
		t.Fatal(err)
	}

	cur := d.NewCursor()
	if err := d.Prepare(ctx, cur, "select * from accounts"); err != nil {
		t.Fatal(err)
	}
	if err := d.Execute(ctx, cur); err != nil {
		t.Fatal(err)
	}

	var rows int
	for {
		row, ok, err := d.FetchRow(ctx, cur)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		if len(row) != 3 {
			t.Fatalf("got %d columns, want 3", len(row))
		}
		rows++
	}
	if rows != 5 {
		t.Fatalf("got %d rows, want 5", rows)
	}

	n, ok := d.RowCount(cur)
	if !ok || n != 5 {
		t.Fatalf("got rowcount %d ok=%v, want 5 true", n, ok)
	}
}

func TestInsertReportsAffectedRows(t *testing.T) {
	d := New()
	ctx := context.Background()
	cur := d.NewCursor()
	if err := d.Prepare(ctx, cur, "insert into accounts (name) values (?)"); err != nil {
		t.Fatal(err)
	}
	if err := d.Execute(ctx, cur); err != nil {
		t.Fatal(err)
	}
	n, ok := d.AffectedRows(cur)
	if !ok || n != 1 {
		t.Fatalf("got affected %d ok=%v, want 1 true", n, ok)
	}
}

func TestCallProcedureOutputBind(t *testing.T) {
	d := New()
	ctx := context.Background()
	cur := d.NewCursor()
	if err := d.Prepare(ctx, cur, "call get_n(?)"); err != nil {
		t.Fatal(err)
	}
	if err := d.DefineOutput(cur, "n", driverapi.BindInteger, 0); err != nil {
		t.Fatal(err)
	}
	if err := d.Execute(ctx, cur); err != nil {
		t.Fatal(err)
	}
	out, err := d.GetOutput(cur, "n")
	if err != nil {
		t.Fatal(err)
	}
	if out != "42" {
		t.Fatalf("got output %v, want 42", out)
	}
}

func TestGetOutputWithoutCallIsError(t *testing.T) {
	d := New()
	ctx := context.Background()
	cur := d.NewCursor()
	d.Prepare(ctx, cur, "select * from accounts")
	if err := d.DefineOutput(cur, "n", driverapi.BindInteger, 0); err != nil {
		t.Fatal(err)
	}
	if err := d.Execute(ctx, cur); err != nil {
		t.Fatal(err)
	}
	if _, err := d.GetOutput(cur, "n"); err == nil {
		t.Fatal("expected error reading an output bind from a non-CALL execution")
	}
}

func TestUnknownTableIsDriverError(t *testing.T) {
	d := New()
	ctx := context.Background()
	cur := d.NewCursor()
	d.Prepare(ctx, cur, "select * from nosuchtable")
	err := d.Execute(ctx, cur)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestPingFailureMarksConnectionDead(t *testing.T) {
	d := New()
	ctx := context.Background()
	d.Connect(ctx, nil)
	d.FailNextPing()

	err := d.Ping(ctx)
	if err == nil {
		t.Fatal("expected ping failure")
	}
	var de *driverapi.DriverError
	if !errors.As(err, &de) || de.ConnectionAlive {
		t.Fatalf("got %v, want a DriverError with ConnectionAlive false", err)
	}
}
