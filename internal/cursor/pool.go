package cursor

import (
	"errors"

	"sqlrelay/internal/driverapi"
)

// ErrPoolExhausted is returned by Alloc when every cursor slot is taken.
var ErrPoolExhausted = errors.New("cursor: pool exhausted")

// Pool is a fixed-size, array-backed cursor allocator owned by exactly
// one daemon. There is no global registry; a Cursor is only ever reached
// through the Pool that allocated it.
type Pool struct {
	drv     driverapi.Driver
	cursors []Cursor
	rsbs    int
}

// NewPool allocates size cursor slots against drv, each fetching at most
// rsbs rows per batch.
func NewPool(drv driverapi.Driver, size, rsbs int) *Pool {
	p := &Pool{drv: drv, cursors: make([]Cursor, size), rsbs: rsbs}
	for i := range p.cursors {
		p.cursors[i].ID = uint16(i)
		p.cursors[i].State = Free
	}
	return p
}

// Alloc claims the first free slot and binds it to a fresh driver-side
// cursor handle.
func (p *Pool) Alloc() (*Cursor, error) {
	for i := range p.cursors {
		if p.cursors[i].State == Free {
			c := &p.cursors[i]
			c.Handle = p.drv.NewCursor()
			c.State = Allocated
			c.Reset(p.rsbs)
			return c, nil
		}
	}
	return nil, ErrPoolExhausted
}

// Get returns the cursor at id, or nil if id is out of range or free.
func (p *Pool) Get(id uint16) *Cursor {
	if int(id) >= len(p.cursors) {
		return nil
	}
	c := &p.cursors[id]
	if c.State == Free {
		return nil
	}
	return c
}

// Free returns cursor id to the pool.
func (p *Pool) Free(id uint16) {
	if int(id) >= len(p.cursors) {
		return
	}
	p.cursors[id].Close()
}

// FreeAll returns every allocated, non-suspended cursor to the pool,
// called at SESSION_END / END_SESSION. A cursor the client suspended via
// SUSPEND_RESULT_SET must survive the session that suspended it, since a
// later RESUME_RESULT_SET on a different session still needs its query,
// binds, and row position intact.
func (p *Pool) FreeAll() {
	for i := range p.cursors {
		if p.cursors[i].State != Free && !p.cursors[i].Suspended {
			p.cursors[i].Close()
		}
	}
}

// Size returns the number of cursor slots in the pool.
func (p *Pool) Size() int { return len(p.cursors) }
