package daemon

import (
	"context"

	"sqlrelay/internal/cursor"
	"sqlrelay/internal/driverapi"
	"sqlrelay/internal/wireproto"
)

// dispatch handles exactly one client command already read off the wire
// (op was consumed by the caller) and returns whether the session must
// end (fatal) and, if an error was sent to the client, its native code
// for the audit trail.
func (d *Daemon) dispatch(ctx context.Context, op wireproto.Opcode, r *wireproto.Reader, w *wireproto.Writer) (fatal bool, errCode int64) {
	if op != wireproto.OpAuthenticate && !d.authenticated {
		d.sendError(w, true, 0, "IM001", "driver refused: not authenticated")
		return true, 0
	}

	switch op {
	case wireproto.OpAuthenticate:
		return d.cmdAuthenticate(ctx, r, w)
	case wireproto.OpNewQuery:
		return d.cmdNewQuery(ctx, r, w)
	case wireproto.OpReexecuteQuery:
		return d.cmdReexecuteQuery(ctx, r, w)
	case wireproto.OpFetchResultSet:
		return d.cmdFetchResultSet(ctx, r, w)
	case wireproto.OpFetchFromBindCursor:
		return d.cmdFetchFromBindCursor(ctx, r, w)
	case wireproto.OpSuspendResultSet:
		return d.cmdSuspendResultSet(ctx, r, w)
	case wireproto.OpResumeResultSet:
		return d.cmdResumeResultSet(ctx, r, w)
	case wireproto.OpAbortResultSet:
		return d.cmdAbortResultSet(ctx, r, w)
	case wireproto.OpSuspendSession:
		return d.cmdSuspendSession(ctx, r, w)
	case wireproto.OpEndSession:
		d.ackOK(w)
		return false, 0
	case wireproto.OpPing:
		return d.cmdPing(ctx, w)
	case wireproto.OpIdentify:
		return d.cmdSimpleString(w, d.driver.Identify())
	case wireproto.OpDBVersion:
		return d.cmdSimpleString(w, d.driver.DBVersion())
	case wireproto.OpBindFormat:
		return d.cmdBindFormat(w)
	case wireproto.OpServerVersion:
		return d.cmdServerVersion(ctx, w)
	case wireproto.OpGetDBList:
		return d.cmdGetDBList(ctx, r, w)
	case wireproto.OpGetTableList:
		return d.cmdGetTableList(ctx, r, w)
	case wireproto.OpGetColumnList:
		return d.cmdGetColumnList(ctx, r, w)
	case wireproto.OpSelectDatabase:
		return d.cmdSelectDatabase(ctx, r, w)
	case wireproto.OpGetCurrentDatabase:
		return d.cmdGetCurrentDatabase(ctx, w)
	case wireproto.OpGetLastInsertID:
		return d.cmdGetLastInsertID(ctx, w)
	case wireproto.OpAutocommit:
		return d.cmdAutocommit(ctx, r, w)
	case wireproto.OpBegin:
		return d.cmdBegin(ctx, w)
	case wireproto.OpCommit:
		return d.cmdCommit(ctx, w)
	case wireproto.OpRollback:
		return d.cmdRollback(ctx, w)
	default:
		d.sendError(w, true, 0, "HY000", "protocol error: unknown opcode")
		return true, 0
	}
}

func (d *Daemon) ackOK(w *wireproto.Writer) {
	w.WriteU16(wireproto.NoErrorOccurred)
	w.Flush()
}

func (d *Daemon) sendError(w *wireproto.Writer, disconnect bool, nativeCode int64, sqlstate, message string) {
	wireproto.WriteErrorResponse(w, disconnect, nativeCode, sqlstate, message)
	w.Flush()
}

// sendDriverError translates a driverapi error (typically a
// *driverapi.DriverError) into the wire error-response shape, using
// ERROR_OCCURRED_DISCONNECT when the driver reports the connection dead.
func (d *Daemon) sendDriverError(w *wireproto.Writer, err error) (fatal bool, code int64) {
	if de, ok := err.(*driverapi.DriverError); ok {
		d.sendError(w, !de.ConnectionAlive, de.NativeCode, de.SQLState, de.Message)
		if !de.ConnectionAlive {
			d.setDead(true)
			return true, de.NativeCode
		}
		return false, de.NativeCode
	}
	d.sendError(w, false, 0, "HY000", err.Error())
	return false, 0
}

func (d *Daemon) cmdAuthenticate(ctx context.Context, r *wireproto.Reader, w *wireproto.Writer) (bool, int64) {
	if _, err := r.ReadLString(d.cfg.Limits.MaxClientInfoLength); err != nil {
		return true, 0
	}
	if _, err := r.ReadLString(d.cfg.Limits.MaxClientInfoLength); err != nil {
		return true, 0
	}
	d.authenticated = true
	d.slot.Slot().NAuthenticate++
	d.ackOK(w)
	return false, 0
}

func (d *Daemon) readQuery(r *wireproto.Reader) (string, error) {
	return r.ReadLString(d.cfg.Limits.MaxQuerySize)
}

func (d *Daemon) cmdNewQuery(ctx context.Context, r *wireproto.Reader, w *wireproto.Writer) (bool, int64) {
	sql, err := d.readQuery(r)
	if err != nil {
		return true, 0
	}
	binds, err := wireproto.ReadBindBlock(r, d.cfg.Limits)
	if err != nil {
		return d.sendLimitOrProtocolError(w, err)
	}

	cur, err := d.pool.Alloc()
	if err != nil {
		d.sendError(w, false, int64(wireproto.ErrNoCursors), "HY000", "no cursors available")
		return false, int64(wireproto.ErrNoCursors)
	}

	d.slot.Slot().NNewQuery++
	d.slot.Slot().SetSQLText(sql)
	return d.runQuery(ctx, cur, sql, binds, w, true)
}

func (d *Daemon) cmdReexecuteQuery(ctx context.Context, r *wireproto.Reader, w *wireproto.Writer) (bool, int64) {
	cid, err := r.ReadU16()
	if err != nil {
		return true, 0
	}
	binds, err := wireproto.ReadBindBlock(r, d.cfg.Limits)
	if err != nil {
		return d.sendLimitOrProtocolError(w, err)
	}
	cur := d.pool.Get(cid)
	if cur == nil {
		d.sendError(w, false, 0, "HY000", "invalid cursor id")
		return false, 0
	}
	d.slot.Slot().NReexecuteQuery++
	return d.runQuery(ctx, cur, cur.Query, binds, w, false)
}

// runQuery binds the pending binds onto cur (re-preparing sql first when
// prepare is true) and streams whatever result set the execute produces.
func (d *Daemon) runQuery(ctx context.Context, cur *cursor.Cursor, sql string, binds []wireproto.Bind, w *wireproto.Writer, prepare bool) (bool, int64) {
	if prepare {
		if err := cur.Prepare(ctx, d.driver, sql); err != nil {
			return d.sendDriverError(w, err)
		}
	}
	for _, b := range binds {
		if err := bindOne(d.driver, cur, b); err != nil {
			return d.sendDriverError(w, err)
		}
	}
	if err := cur.Execute(ctx, d.driver); err != nil {
		return d.sendDriverError(w, err)
	}
	d.writeResultSet(ctx, w, cur)
	return false, 0
}

func (d *Daemon) cmdFetchResultSet(ctx context.Context, r *wireproto.Reader, w *wireproto.Writer) (bool, int64) {
	cid, err := r.ReadU16()
	if err != nil {
		return true, 0
	}
	cur := d.pool.Get(cid)
	if cur == nil {
		d.sendError(w, false, 0, "HY000", "invalid cursor id")
		return false, 0
	}
	d.slot.Slot().NFetchResultSet++
	d.writeResultSet(ctx, w, cur)
	return false, 0
}

func (d *Daemon) cmdFetchFromBindCursor(ctx context.Context, r *wireproto.Reader, w *wireproto.Writer) (bool, int64) {
	cid, err := r.ReadU16()
	if err != nil {
		return true, 0
	}
	cur := d.pool.Get(cid)
	if cur == nil {
		d.sendError(w, false, 0, "HY000", "invalid cursor id")
		return false, 0
	}
	d.slot.Slot().NFetchFromBindCursor++
	d.writeResultSet(ctx, w, cur)
	return false, 0
}

func (d *Daemon) cmdSuspendResultSet(ctx context.Context, r *wireproto.Reader, w *wireproto.Writer) (bool, int64) {
	cid, err := r.ReadU16()
	if err != nil {
		return true, 0
	}
	cur := d.pool.Get(cid)
	if cur == nil {
		d.sendError(w, false, 0, "HY000", "invalid cursor id")
		return false, 0
	}
	cur.Suspend()
	d.mu.Lock()
	d.suspended[cid] = cur
	d.mu.Unlock()
	d.slot.Slot().NSuspendResultSet++

	ra, err := d.ensureReconnectAddress()
	if err != nil {
		d.sendError(w, false, 0, "HY000", "suspend failed: could not open reconnect listener")
		return false, 0
	}

	if err := w.WriteLString(d.cfg.ID); err != nil {
		return true, 0
	}
	if err := w.WriteLString(ra.Network); err != nil {
		return true, 0
	}
	if err := w.WriteLString(ra.Address); err != nil {
		return true, 0
	}
	if err := w.WriteU16(cid); err != nil {
		return true, 0
	}
	w.Flush()
	return false, 0
}

func (d *Daemon) cmdResumeResultSet(ctx context.Context, r *wireproto.Reader, w *wireproto.Writer) (bool, int64) {
	daemonID, err := r.ReadLString(256)
	if err != nil {
		return true, 0
	}
	cid, err := r.ReadU16()
	if err != nil {
		return true, 0
	}
	if daemonID != d.cfg.ID {
		d.sendError(w, false, 0, "HY000", "resume token does not belong to this daemon")
		return false, 0
	}

	d.mu.Lock()
	cur, ok := d.suspended[cid]
	delete(d.suspended, cid)
	d.mu.Unlock()
	if !ok {
		d.sendError(w, false, 0, "HY000", "no suspended cursor with that id")
		return false, 0
	}

	cur.Resume()
	d.slot.Slot().NResumeResultSet++
	d.writeResultSet(ctx, w, cur)
	return false, 0
}

func (d *Daemon) cmdAbortResultSet(ctx context.Context, r *wireproto.Reader, w *wireproto.Writer) (bool, int64) {
	cid, err := r.ReadU16()
	if err != nil {
		return true, 0
	}
	cur := d.pool.Get(cid)
	if cur != nil {
		cur.Abort()
	}
	d.slot.Slot().NAbortResultSet++
	d.ackOK(w)
	return false, 0
}

func (d *Daemon) cmdSuspendSession(ctx context.Context, r *wireproto.Reader, w *wireproto.Writer) (bool, int64) {
	d.slot.Slot().NSuspendSession++
	if err := w.WriteLString(d.cfg.ID); err != nil {
		return true, 0
	}
	w.Flush()
	return true, 0 // ends this session loop; client reconnects to resume
}

func (d *Daemon) cmdPing(ctx context.Context, w *wireproto.Writer) (bool, int64) {
	d.slot.Slot().NPing++
	if err := d.driver.Ping(ctx); err != nil {
		return d.sendDriverError(w, err)
	}
	w.WriteU16(1)
	w.Flush()
	return false, 0
}

func (d *Daemon) cmdSimpleString(w *wireproto.Writer, s string) (bool, int64) {
	w.WriteU16(wireproto.NoErrorOccurred)
	w.WriteLString(s)
	w.Flush()
	return false, 0
}

func (d *Daemon) cmdBindFormat(w *wireproto.Writer) (bool, int64) {
	var s string
	switch d.driver.BindFormat() {
	case driverapi.BindStyleQuestion:
		s = "?"
	case driverapi.BindStylePositional:
		s = ":n"
	case driverapi.BindStyleNamed:
		s = "@name"
	}
	return d.cmdSimpleString(w, s)
}

func (d *Daemon) cmdServerVersion(ctx context.Context, w *wireproto.Writer) (bool, int64) {
	v, err := d.driver.ServerVersion(ctx)
	if err != nil {
		return d.sendDriverError(w, err)
	}
	return d.cmdSimpleString(w, v)
}

func (d *Daemon) cmdGetDBList(ctx context.Context, r *wireproto.Reader, w *wireproto.Writer) (bool, int64) {
	wild, err := r.ReadLString(256)
	if err != nil {
		return true, 0
	}
	names, err := d.driver.GetDBList(ctx, wild)
	if err != nil {
		return d.sendDriverError(w, err)
	}
	return d.writeStringList(w, names)
}

func (d *Daemon) cmdGetTableList(ctx context.Context, r *wireproto.Reader, w *wireproto.Writer) (bool, int64) {
	wild, err := r.ReadLString(256)
	if err != nil {
		return true, 0
	}
	names, err := d.driver.GetTableList(ctx, wild)
	if err != nil {
		return d.sendDriverError(w, err)
	}
	return d.writeStringList(w, names)
}

func (d *Daemon) cmdGetColumnList(ctx context.Context, r *wireproto.Reader, w *wireproto.Writer) (bool, int64) {
	table, err := r.ReadLString(256)
	if err != nil {
		return true, 0
	}
	wild, err := r.ReadLString(256)
	if err != nil {
		return true, 0
	}
	cols, err := d.driver.GetColumnList(ctx, table, wild)
	if err != nil {
		return d.sendDriverError(w, err)
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return d.writeStringList(w, names)
}

func (d *Daemon) writeStringList(w *wireproto.Writer, names []string) (bool, int64) {
	w.WriteU16(wireproto.NoErrorOccurred)
	w.WriteU32(uint32(len(names)))
	for _, n := range names {
		w.WriteLString(n)
	}
	w.Flush()
	return false, 0
}

func (d *Daemon) cmdSelectDatabase(ctx context.Context, r *wireproto.Reader, w *wireproto.Writer) (bool, int64) {
	name, err := r.ReadLString(256)
	if err != nil {
		return true, 0
	}
	if err := d.driver.SelectDatabase(ctx, name); err != nil {
		return d.sendDriverError(w, err)
	}
	d.ackOK(w)
	return false, 0
}

func (d *Daemon) cmdGetCurrentDatabase(ctx context.Context, w *wireproto.Writer) (bool, int64) {
	db, err := d.driver.GetCurrentDatabase(ctx)
	if err != nil {
		return d.sendDriverError(w, err)
	}
	return d.cmdSimpleString(w, db)
}

func (d *Daemon) cmdGetLastInsertID(ctx context.Context, w *wireproto.Writer) (bool, int64) {
	id, err := d.driver.GetLastInsertID(ctx)
	if err != nil {
		return d.sendDriverError(w, err)
	}
	w.WriteU16(wireproto.NoErrorOccurred)
	w.WriteU64(id)
	w.Flush()
	return false, 0
}

func (d *Daemon) cmdAutocommit(ctx context.Context, r *wireproto.Reader, w *wireproto.Writer) (bool, int64) {
	on, err := r.ReadU16()
	if err != nil {
		return true, 0
	}
	if err := d.driver.Autocommit(ctx, on != 0); err != nil {
		return d.sendDriverError(w, err)
	}
	d.slot.Slot().NAutocommit++
	d.ackOK(w)
	return false, 0
}

func (d *Daemon) cmdBegin(ctx context.Context, w *wireproto.Writer) (bool, int64) {
	if !d.driver.SupportsTransactionBlocks() {
		if !d.cfg.FakeTransactionBlocks {
			d.sendError(w, false, 0, "0A000", "driver does not support transaction blocks")
			return false, 0
		}
		if err := d.driver.Autocommit(ctx, false); err != nil {
			return d.sendDriverError(w, err)
		}
		d.ackOK(w)
		return false, 0
	}
	if err := d.driver.Begin(ctx); err != nil {
		return d.sendDriverError(w, err)
	}
	d.ackOK(w)
	return false, 0
}

func (d *Daemon) cmdCommit(ctx context.Context, w *wireproto.Writer) (bool, int64) {
	if err := d.driver.Commit(ctx); err != nil {
		return d.sendDriverError(w, err)
	}
	d.drainTxTempTables(ctx)
	d.slot.Slot().NCommit++
	d.ackOK(w)
	return false, 0
}

func (d *Daemon) cmdRollback(ctx context.Context, w *wireproto.Writer) (bool, int64) {
	if err := d.driver.Rollback(ctx); err != nil {
		return d.sendDriverError(w, err)
	}
	d.drainTxTempTables(ctx)
	d.slot.Slot().NRollback++
	d.ackOK(w)
	return false, 0
}

// sendLimitOrProtocolError maps a wireproto.LimitError to its 900000-range
// wire error and anything else (framing) to a fatal protocol error.
func (d *Daemon) sendLimitOrProtocolError(w *wireproto.Writer, err error) (bool, int64) {
	if le, ok := err.(*wireproto.LimitError); ok {
		d.sendError(w, false, int64(le.Code), le.SQLState(), le.Error())
		return false, int64(le.Code)
	}
	return true, 0
}

// writeResultSet streams one fetch batch of cur to the client: column info
// on the first batch only, then a row-batch header and the rows themselves,
// and the END_RESULT_SET marker only once the driver has reported no more
// rows. Paging through further batches is driven
// by the client re-issuing FETCH_RESULT_SET.
func (d *Daemon) writeResultSet(ctx context.Context, w *wireproto.Writer, cur *cursor.Cursor) {
	sendInfo := cur.FirstRowIndex == 0 && cur.RowCount == 0
	cols := make([]wireproto.ColumnInfo, len(cur.Columns))
	for i, c := range cur.Columns {
		cols[i] = wireproto.ColumnInfo{
			Name:          c.Name,
			TypeID:        uint16(c.Type),
			Size:          c.Size,
			Precision:     c.Precision,
			Scale:         c.Scale,
			Nullable:      c.Nullable,
			PrimaryKey:    c.PrimaryKey,
			Unique:        c.Unique,
			PartOfKey:     c.PartOfKey,
			Unsigned:      c.Unsigned,
			Zerofill:      c.Zerofill,
			Binary:        c.Binary,
			AutoIncrement: c.AutoIncrement,
		}
	}
	wireproto.WriteColumnInfo(w, cols, sendInfo)

	batchSize := d.cfg.ResultSetBufSize
	if batchSize <= 0 {
		batchSize = 50
	}
	cur.Reset(batchSize)
	for i := 0; i < batchSize && !cur.EndOfResultSet; i++ {
		if _, err := cur.FetchRow(ctx, d.driver); err != nil {
			break
		}
	}

	actual := cur.ActualRows
	affected := cur.AffectedRows
	wireproto.WriteRowBatchHeader(w, &actual, &affected)
	for _, row := range cur.RowBuffer {
		cells := make([]wireproto.Cell, len(row))
		for i, cv := range row {
			cells[i] = cellToWire(cv)
		}
		wireproto.WriteRow(w, cells)
	}
	if cur.EndOfResultSet {
		wireproto.WriteEndResultSet(w)
	}
	w.Flush()
}

func cellToWire(cv driverapi.CellValue) wireproto.Cell {
	if cv.Null {
		return wireproto.Cell{Tag: wireproto.NullData}
	}
	switch cv.Type {
	case driverapi.ColumnInteger:
		return wireproto.Cell{Tag: wireproto.IntegerData, Data: []byte(cv.Text)}
	case driverapi.ColumnFloat, driverapi.ColumnDouble:
		return wireproto.Cell{Tag: wireproto.DoubleData, Data: []byte(cv.Text)}
	case driverapi.ColumnBlob, driverapi.ColumnClob:
		return wireproto.Cell{Tag: wireproto.StringData, Data: cv.Bytes}
	default:
		return wireproto.Cell{Tag: wireproto.StringData, Data: []byte(cv.Text)}
	}
}

// bindOne forwards one decoded wire bind onto cur, either as a declared
// output bind or as an input value, using the driver's NullBindValue for
// NULL_BIND so drivers never see a bare nil they'd have to special-case.
func bindOne(drv driverapi.Driver, cur *cursor.Cursor, b wireproto.Bind) error {
	typ := bindTypeFromTag(b.Tag)
	if b.Direction == wireproto.BindOut {
		return cur.DefineOutput(drv, b.Name, typ, b.MaxSize)
	}

	var value any
	switch b.Tag {
	case wireproto.NullBind:
		value = drv.NullBindValue()
	case wireproto.StringBind:
		value = b.StringVal
	case wireproto.IntegerBind:
		value = b.IntVal
	case wireproto.DoubleBind:
		value = b.DoubleVal
	case wireproto.BlobBind:
		value = b.BlobVal
	case wireproto.ClobBind:
		value = b.ClobVal
	case wireproto.CursorBind:
		value = b.CursorID
	case wireproto.DateBind:
		value = b.DateVal
	}
	return cur.BindInput(drv, b.Name, typ, value)
}

func bindTypeFromTag(tag wireproto.BindTag) driverapi.BindType {
	switch tag {
	case wireproto.StringBind:
		return driverapi.BindString
	case wireproto.IntegerBind:
		return driverapi.BindInteger
	case wireproto.DoubleBind:
		return driverapi.BindDouble
	case wireproto.BlobBind:
		return driverapi.BindBlob
	case wireproto.ClobBind:
		return driverapi.BindClob
	case wireproto.CursorBind:
		return driverapi.BindCursor
	case wireproto.DateBind:
		return driverapi.BindDate
	default:
		return driverapi.BindNull
	}
}
