package cursor

import (
	"context"
	"testing"

	"sqlrelay/internal/driverapi/stubdriver"
)

func TestCursorLifecycle(t *testing.T) {
	drv := stubdriver.New()
	ctx := context.Background()
	if err := drv.Connect(ctx, nil); err != nil {
		t.Fatal(err)
	}

	pool := NewPool(drv, 4, 10)
	c, err := pool.Alloc()
	if err != nil {
		t.Fatal(err)
	}
	if c.State != Allocated {
		t.Fatalf("got state %v, want Allocated", c.State)
	}

	if err := c.Prepare(ctx, drv, "select * from accounts"); err != nil {
		t.Fatal(err)
	}
	if err := c.Execute(ctx, drv); err != nil {
		t.Fatal(err)
	}
	if c.State != ResultSetOpen {
		t.Fatalf("got state %v, want ResultSetOpen", c.State)
	}

	var fetched int
	for {
		ok, err := c.FetchRow(ctx, drv)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		fetched++
	}
	if fetched != 5 {
		t.Fatalf("got %d rows, want 5", fetched)
	}
	if !c.EndOfResultSet {
		t.Fatal("expected end of result set")
	}

	pool.Free(c.ID)
	if c.State != Free {
		t.Fatalf("got state %v after Free, want Free", c.State)
	}
}

func TestPoolExhaustion(t *testing.T) {
	drv := stubdriver.New()
	pool := NewPool(drv, 2, 10)

	if _, err := pool.Alloc(); err != nil {
		t.Fatal(err)
	}
	if _, err := pool.Alloc(); err != nil {
		t.Fatal(err)
	}
	if _, err := pool.Alloc(); err != ErrPoolExhausted {
		t.Fatalf("got %v, want ErrPoolExhausted", err)
	}
}

func TestSkipRows(t *testing.T) {
	drv := stubdriver.New()
	ctx := context.Background()
	pool := NewPool(drv, 2, 10)
	c, _ := pool.Alloc()

	c.Prepare(ctx, drv, "select * from accounts")
	c.Execute(ctx, drv)

	if err := c.SkipRows(ctx, drv, 4); err != nil {
		t.Fatal(err)
	}
	ok, err := c.FetchRow(ctx, drv)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected one row left after skipping 4 of 5")
	}
	ok, _ = c.FetchRow(ctx, drv)
	if ok {
		t.Fatal("expected no more rows")
	}
}
