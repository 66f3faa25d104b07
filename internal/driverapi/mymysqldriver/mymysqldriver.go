// Package mymysqldriver implements driverapi.Driver directly over
// ziutek/mymysql's native protocol client instead of database/sql,
// giving it real server-side cursors: rows stream off the wire one at a
// time via Result.GetRow rather than being buffered client-side the way
// database/sql's Rows type does, so it reports ServerSideCursors: true in
// its capability map.
package mymysqldriver

import (
	"context"
	"fmt"
	"sync"

	"github.com/ziutek/mymysql/mysql"
	"github.com/ziutek/mymysql/native"

	"sqlrelay/internal/driverapi"
)

// unsignedFlag mirrors the MySQL wire protocol's UNSIGNED_FLAG bit, which
// mymysql's native package keeps unexported.
const unsignedFlag = 0x20

type cursorState struct {
	stmt     mysql.Stmt
	res      mysql.Result
	cols     []driverapi.ColumnDesc
	affected int64
	inputs   []any
}

// Driver wraps one mymysql connection. Not safe for concurrent use, same
// contract as every other driver here: exactly one daemon goroutine.
type Driver struct {
	mu      sync.Mutex
	conn    mysql.Conn
	cursors map[driverapi.CursorHandle]*cursorState
	next    int
}

func New() *Driver {
	return &Driver{cursors: make(map[driverapi.CursorHandle]*cursorState)}
}

func (d *Driver) Connect(ctx context.Context, params map[string]string) error {
	addr := fmt.Sprintf("%s:%s", params["host"], params["port"])
	conn := mysql.New("tcp", "", addr, params["user"], params["password"], params["database"])
	if err := conn.Connect(); err != nil {
		return driverapi.NewFatalDriverError(0, "08001", "mymysqldriver: "+err.Error())
	}
	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()
	return nil
}

func (d *Driver) LogOut(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}

func (d *Driver) Ping(ctx context.Context) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return driverapi.NewFatalDriverError(2006, "HY000", "mymysqldriver: not connected")
	}
	if err := conn.Ping(); err != nil {
		return driverapi.NewFatalDriverError(2006, "HY000", "mymysqldriver: "+err.Error())
	}
	return nil
}

func (d *Driver) Identify() string  { return "mymysql" }
func (d *Driver) DBVersion() string { return "ziutek/mymysql" }

func (d *Driver) ServerVersion(ctx context.Context) (string, error) {
	rows, res, err := d.conn.Query("select version()")
	if err != nil || len(rows) == 0 {
		return "", driverapi.NewDriverError(0, "HY000", "mymysqldriver: server version query failed")
	}
	_ = res
	return rows[0].Str(0), nil
}

func (d *Driver) BindFormat() driverapi.BindStyle { return driverapi.BindStyleQuestion }

func (d *Driver) Autocommit(ctx context.Context, on bool) error {
	val := "1"
	if !on {
		val = "0"
	}
	if _, _, err := d.conn.Query("set autocommit=" + val); err != nil {
		return driverapi.NewDriverError(0, "HY000", err.Error())
	}
	return nil
}

func (d *Driver) Begin(ctx context.Context) error {
	if _, err := d.conn.Start("begin"); err != nil {
		return driverapi.NewDriverError(0, "HY000", err.Error())
	}
	return nil
}

func (d *Driver) Commit(ctx context.Context) error {
	if _, err := d.conn.Start("commit"); err != nil {
		return driverapi.NewDriverError(0, "HY000", err.Error())
	}
	return nil
}

func (d *Driver) Rollback(ctx context.Context) error {
	if _, err := d.conn.Start("rollback"); err != nil {
		return driverapi.NewDriverError(0, "HY000", err.Error())
	}
	return nil
}

func (d *Driver) SupportsTransactionBlocks() bool { return true }

func (d *Driver) NewCursor() driverapi.CursorHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	h := d.next
	d.cursors[h] = &cursorState{}
	return h
}

func (d *Driver) state(cur driverapi.CursorHandle) (*cursorState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cs, ok := d.cursors[cur]
	if !ok {
		return nil, driverapi.NewDriverError(0, "HY000", "mymysqldriver: unknown cursor handle")
	}
	return cs, nil
}

func (d *Driver) Prepare(ctx context.Context, cur driverapi.CursorHandle, sql string) error {
	cs, err := d.state(cur)
	if err != nil {
		return err
	}
	stmt, err := d.conn.Prepare(sql)
	if err != nil {
		return driverapi.NewDriverError(0, "42000", err.Error())
	}
	cs.stmt = stmt
	return nil
}

// Execute runs the prepared statement and starts streaming the result
// set via Result.GetRow rather than materializing every row up front,
// the "real server-side cursor" behavior this driver exists to exercise.
func (d *Driver) Execute(ctx context.Context, cur driverapi.CursorHandle) error {
	cs, err := d.state(cur)
	if err != nil {
		return err
	}
	if cs.stmt == nil {
		return driverapi.NewDriverError(0, "HY000", "mymysqldriver: execute without prepare")
	}

	res, err := cs.stmt.Run(cs.inputs...)
	if err != nil {
		return driverapi.NewDriverError(0, "HY000", err.Error())
	}
	cs.res = res
	cs.affected = int64(res.AffectedRows())

	fields := res.Fields()
	cols := make([]driverapi.ColumnDesc, len(fields))
	for i, f := range fields {
		cols[i] = driverapi.ColumnDesc{
			Name:     f.Name,
			Type:     d.PortableType(int(f.Type)),
			Unsigned: f.Flags&unsignedFlag != 0,
		}
	}
	cs.cols = cols
	return nil
}

func (d *Driver) FetchRow(ctx context.Context, cur driverapi.CursorHandle) (driverapi.Row, bool, error) {
	cs, err := d.state(cur)
	if err != nil {
		return nil, false, err
	}
	if cs.res == nil {
		return nil, false, nil
	}
	row, err := cs.res.GetRow()
	if err != nil {
		return nil, false, driverapi.NewDriverError(0, "HY000", err.Error())
	}
	if row == nil {
		return nil, false, nil
	}

	out := make(driverapi.Row, len(row))
	for i, v := range row {
		if v == nil {
			out[i] = driverapi.CellValue{Type: cs.cols[i].Type, Null: true}
			continue
		}
		out[i] = driverapi.CellValue{Type: cs.cols[i].Type, Text: row.Str(i)}
	}
	return out, true, nil
}

func (d *Driver) RowCount(cur driverapi.CursorHandle) (int64, bool) {
	cs, err := d.state(cur)
	if err != nil || cs.res == nil {
		return 0, false
	}
	return 0, false
}

func (d *Driver) AffectedRows(cur driverapi.CursorHandle) (int64, bool) {
	cs, err := d.state(cur)
	if err != nil {
		return 0, false
	}
	return cs.affected, true
}

func (d *Driver) Columns(cur driverapi.CursorHandle) ([]driverapi.ColumnDesc, error) {
	cs, err := d.state(cur)
	if err != nil {
		return nil, err
	}
	return cs.cols, nil
}

func (d *Driver) GetDBList(ctx context.Context, wild string) ([]string, error) {
	return d.queryStrings("show databases like ?", wild)
}

func (d *Driver) GetTableList(ctx context.Context, wild string) ([]string, error) {
	// mymysql's native SHOW TABLES accepts the same LIKE clause, passed as
	// a query parameter as in GetDBList.
	return d.queryStrings("show tables like ?", wild)
}

func (d *Driver) queryStrings(query, wild string) ([]string, error) {
	if wild == "" {
		wild = "%"
	}
	rows, _, err := d.conn.Query(query, wild)
	if err != nil {
		return nil, driverapi.NewDriverError(0, "HY000", err.Error())
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Str(0)
	}
	return out, nil
}

func (d *Driver) GetColumnList(ctx context.Context, table, wild string) ([]driverapi.ColumnDesc, error) {
	rows, res, err := d.conn.Query("show columns from " + table)
	if err != nil {
		return nil, driverapi.NewDriverError(0, "42S02", err.Error())
	}
	_ = res
	out := make([]driverapi.ColumnDesc, len(rows))
	for i, r := range rows {
		out[i] = driverapi.ColumnDesc{
			Name:       r.Str(0),
			Nullable:   r.Str(2) == "YES",
			PrimaryKey: r.Str(3) == "PRI",
		}
	}
	return out, nil
}

func (d *Driver) GetCurrentDatabase(ctx context.Context) (string, error) {
	rows, _, err := d.conn.Query("select database()")
	if err != nil || len(rows) == 0 {
		return "", driverapi.NewDriverError(0, "HY000", "mymysqldriver: current database query failed")
	}
	return rows[0].Str(0), nil
}

func (d *Driver) GetLastInsertID(ctx context.Context) (uint64, error) {
	rows, _, err := d.conn.Query("select last_insert_id()")
	if err != nil || len(rows) == 0 {
		return 0, driverapi.NewDriverError(0, "HY000", "mymysqldriver: last insert id query failed")
	}
	return uint64(rows[0].Uint64(0)), nil
}

func (d *Driver) SelectDatabase(ctx context.Context, name string) error {
	if err := d.conn.Use(name); err != nil {
		return driverapi.NewDriverError(0, "42000", err.Error())
	}
	return nil
}

func (d *Driver) BindInput(cur driverapi.CursorHandle, name string, typ driverapi.BindType, value any) error {
	cs, err := d.state(cur)
	if err != nil {
		return err
	}
	cs.inputs = append(cs.inputs, value)
	return nil
}

func (d *Driver) DefineOutput(cur driverapi.CursorHandle, name string, typ driverapi.BindType, maxSize uint32) error {
	// mymysql prepared statements do not support bound OUT parameters.
	// This driver records nothing for an output bind, and GetOutput
	// reports an error for every name.
	return nil
}

func (d *Driver) GetOutput(cur driverapi.CursorHandle, name string) (any, error) {
	return nil, driverapi.NewDriverError(0, "HY000", "mymysqldriver: output binds unsupported")
}

func (d *Driver) NullBindValue() any { return nil }
func (d *Driver) IsNull(v any) bool  { return v == nil }

func (d *Driver) PortableType(nativeType int) driverapi.ColumnType {
	switch byte(nativeType) {
	case native.MYSQL_TYPE_TINY, native.MYSQL_TYPE_SHORT, native.MYSQL_TYPE_LONG,
		native.MYSQL_TYPE_LONGLONG, native.MYSQL_TYPE_INT24:
		return driverapi.ColumnInteger
	case native.MYSQL_TYPE_FLOAT:
		return driverapi.ColumnFloat
	case native.MYSQL_TYPE_DOUBLE, native.MYSQL_TYPE_DECIMAL, native.MYSQL_TYPE_NEWDECIMAL:
		return driverapi.ColumnDouble
	case native.MYSQL_TYPE_DATE:
		return driverapi.ColumnDate
	case native.MYSQL_TYPE_TIME:
		return driverapi.ColumnTime
	case native.MYSQL_TYPE_DATETIME, native.MYSQL_TYPE_TIMESTAMP:
		return driverapi.ColumnDatetime
	case native.MYSQL_TYPE_BLOB, native.MYSQL_TYPE_TINY_BLOB, native.MYSQL_TYPE_MEDIUM_BLOB, native.MYSQL_TYPE_LONG_BLOB:
		return driverapi.ColumnBlob
	case native.MYSQL_TYPE_VARCHAR, native.MYSQL_TYPE_VAR_STRING, native.MYSQL_TYPE_STRING:
		return driverapi.ColumnVarchar
	default:
		return driverapi.ColumnUnknown
	}
}

func (d *Driver) Capabilities() driverapi.Capabilities {
	return driverapi.Capabilities{
		NativeQueryTree:        false,
		StreamingLOBWrites:     true,
		ServerSideCursors:      true,
		ParameterizedTableList: true,
		TransactionBlocks:      true,
		Reposition:             false,
	}
}
