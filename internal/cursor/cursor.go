// Package cursor implements a fixed-size, driver-backed cursor pool owned
// by exactly one connection daemon.
package cursor

import (
	"context"

	"sqlrelay/internal/driverapi"
)

// State is the cursor lifecycle state from the protocol's cursor
// handling.
type State int

const (
	Free State = iota
	Allocated
	Prepared
	Executed
	ResultSetOpen
)

// LOBHandle stands in for a streamed large-object column value: instead
// of buffering the bytes in the row buffer, the cursor remembers where to
// pull the next chunk from on demand.
type LOBHandle struct {
	CursorID    uint16
	ColumnIndex int
}

// Bind is an input or declared-output bind variable attached to a
// cursor, recorded here alongside the value forwarded to the driver.
type Bind struct {
	Name    string
	Type    driverapi.BindType
	Value   any
	MaxSize uint32
	IsOut   bool
}

// Cursor is one daemon-owned cursor slot, reachable only from the daemon
// goroutine that owns its Pool — there is no package-level registry.
type Cursor struct {
	ID    uint16
	State State

	Handle driverapi.CursorHandle

	Query        string
	InputBinds   map[string]*Bind
	OutputBinds  map[string]*Bind
	Columns      []driverapi.ColumnDesc

	// RowBuffer holds at most rsbs (result-set-buffer-size) rows fetched
	// ahead of the client, reused across fetch batches rather than
	// freed and reallocated.
	RowBuffer     [][]driverapi.CellValue
	FirstRowIndex uint64
	RowCount      uint64
	ActualRows    uint64
	AffectedRows  uint64

	EndOfResultSet bool
	Suspended      bool
	BindCursorID   uint16

	lobs map[int]LOBHandle
	rsbs int
}

// Prepare sends sql to the driver and resets the cursor's bind tables for
// a fresh execution.
func (c *Cursor) Prepare(ctx context.Context, drv driverapi.Driver, sql string) error {
	if err := drv.Prepare(ctx, c.Handle, sql); err != nil {
		return err
	}
	c.Query = sql
	c.InputBinds = map[string]*Bind{}
	c.OutputBinds = map[string]*Bind{}
	c.State = Prepared
	return nil
}

// BindInput attaches one input bind and forwards it to the driver.
func (c *Cursor) BindInput(drv driverapi.Driver, name string, typ driverapi.BindType, value any) error {
	if err := drv.BindInput(c.Handle, name, typ, value); err != nil {
		return err
	}
	c.InputBinds[name] = &Bind{Name: name, Type: typ, Value: value}
	return nil
}

// DefineOutput declares one output bind and forwards it to the driver.
func (c *Cursor) DefineOutput(drv driverapi.Driver, name string, typ driverapi.BindType, maxSize uint32) error {
	if err := drv.DefineOutput(c.Handle, name, typ, maxSize); err != nil {
		return err
	}
	c.OutputBinds[name] = &Bind{Name: name, Type: typ, MaxSize: maxSize, IsOut: true}
	return nil
}

// Execute runs the prepared query, capturing column descriptors and the
// affected-row count the driver reports.
func (c *Cursor) Execute(ctx context.Context, drv driverapi.Driver) error {
	if err := drv.Execute(ctx, c.Handle); err != nil {
		return err
	}
	cols, err := drv.Columns(c.Handle)
	if err != nil {
		return err
	}
	c.Columns = cols
	if n, ok := drv.AffectedRows(c.Handle); ok {
		c.AffectedRows = uint64(n)
	}
	c.FirstRowIndex = 0
	c.RowCount = 0
	c.EndOfResultSet = false
	c.RowBuffer = c.RowBuffer[:0]
	if len(cols) > 0 {
		c.State = ResultSetOpen
	} else {
		c.State = Executed
	}
	return nil
}

// ExecuteBound re-binds c's stored input binds, in argument order, and
// executes.
func (c *Cursor) ExecuteBound(ctx context.Context, drv driverapi.Driver) error {
	for name, b := range c.InputBinds {
		if err := drv.BindInput(c.Handle, name, b.Type, b.Value); err != nil {
			return err
		}
	}
	return c.Execute(ctx, drv)
}

// FetchRow fetches one row from the driver and appends it to the reusable
// row buffer; the buffer's length is not checked against rsbs here.
func (c *Cursor) FetchRow(ctx context.Context, drv driverapi.Driver) (bool, error) {
	row, ok, err := drv.FetchRow(ctx, c.Handle)
	if err != nil {
		return false, err
	}
	if !ok {
		c.EndOfResultSet = true
		return false, nil
	}
	c.RowBuffer = append(c.RowBuffer, row)
	c.RowCount++
	c.ActualRows++
	return true, nil
}

// Reset clears the row buffer for the next fetch batch without
// reallocating its backing array, the Go-GC-friendly equivalent of the
// original's explicit row-buffer dealloc/realloc at each batch boundary.
func (c *Cursor) Reset(rsbs int) {
	c.rsbs = rsbs
	c.RowBuffer = c.RowBuffer[:0]
	c.FirstRowIndex += c.RowCount
	c.RowCount = 0
}

// Abort discards any open result set; a cursor in ResultSetOpen goes back
// to Executed, any other state is kept.
func (c *Cursor) Abort() {
	c.RowBuffer = c.RowBuffer[:0]
	c.RowCount = 0
	c.FirstRowIndex = 0
	c.EndOfResultSet = false
	c.Suspended = false
	if c.State == ResultSetOpen {
		c.State = Executed
	}
}

// Suspend marks the cursor as parked for a later RESUME_RESULT_SET,
// keeping its driver handle and bind state alive.
func (c *Cursor) Suspend() {
	c.Suspended = true
}

// Resume clears the suspended flag. It does not move the driver cursor:
// fetching continues from the row after the last one fetched.
func (c *Cursor) Resume() {
	c.Suspended = false
}

// Close clears the cursor's query, binds, columns and row state and returns
// it to Free; the driver Handle is kept for the slot's next use. The Pool,
// not Cursor, owns slot lifecycle bookkeeping.
func (c *Cursor) Close() {
	c.Query = ""
	c.InputBinds = nil
	c.OutputBinds = nil
	c.Columns = nil
	c.RowBuffer = nil
	c.FirstRowIndex = 0
	c.RowCount = 0
	c.ActualRows = 0
	c.AffectedRows = 0
	c.EndOfResultSet = false
	c.Suspended = false
	c.lobs = nil
	c.State = Free
}

// StreamLOB records and returns a LOBHandle for a large-object column of
// this cursor. It reads no data from the driver.
func (c *Cursor) StreamLOB(colIndex int) LOBHandle {
	if c.lobs == nil {
		c.lobs = map[int]LOBHandle{}
	}
	h := LOBHandle{CursorID: c.ID, ColumnIndex: colIndex}
	c.lobs[colIndex] = h
	return h
}

// SkipRows discards n rows by fetching and dropping them, the path every
// driver here takes since none report Capabilities.Reposition.
func (c *Cursor) SkipRows(ctx context.Context, drv driverapi.Driver, n uint64) error {
	for i := uint64(0); i < n; i++ {
		_, ok, err := drv.FetchRow(ctx, c.Handle)
		if err != nil {
			return err
		}
		if !ok {
			c.EndOfResultSet = true
			return nil
		}
	}
	return nil
}
