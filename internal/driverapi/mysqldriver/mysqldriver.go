// Package mysqldriver implements driverapi.Driver over database/sql with
// the go-sql-driver/mysql backend: sql.Open DSN construction, *sql.Rows
// scanning into rows of typed cells.
package mysqldriver

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/go-sql-driver/mysql"

	"sqlrelay/internal/driverapi"
)

type cursorState struct {
	stmt     *sql.Stmt
	rows     *sql.Rows
	cols     []driverapi.ColumnDesc
	affected int64
	inputs   []any
	names    []string
	outputs  map[string]driverapi.BindType
	values   map[string]any
}

// Driver wraps a single *sql.DB pool as one logical backend connection,
// one pool per connection daemon.
type Driver struct {
	mu      sync.Mutex
	pool    *sql.DB
	conn    *sql.Conn
	inTx    bool
	tx      *sql.Tx
	cursors map[driverapi.CursorHandle]*cursorState
	next    int
	db      string
}

func New() *Driver {
	return &Driver{cursors: make(map[driverapi.CursorHandle]*cursorState)}
}

func dsn(params map[string]string) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s",
		params["user"], params["password"], params["host"], params["port"], params["database"])
}

func (d *Driver) Connect(ctx context.Context, params map[string]string) error {
	pool, err := sql.Open("mysql", dsn(params))
	if err != nil {
		return driverapi.NewFatalDriverError(0, "08001", err.Error())
	}
	conn, err := pool.Conn(ctx)
	if err != nil {
		return driverapi.NewFatalDriverError(0, "08001", err.Error())
	}
	d.mu.Lock()
	d.pool = pool
	d.conn = conn
	d.db = params["database"]
	d.mu.Unlock()
	return nil
}

func (d *Driver) LogOut(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		d.conn.Close()
	}
	if d.pool != nil {
		return d.pool.Close()
	}
	return nil
}

func (d *Driver) Ping(ctx context.Context) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return driverapi.NewFatalDriverError(2006, "HY000", "mysqldriver: not connected")
	}
	if err := conn.PingContext(ctx); err != nil {
		return driverapi.NewFatalDriverError(2006, "HY000", "mysqldriver: "+err.Error())
	}
	return nil
}

func (d *Driver) Identify() string  { return "mysql" }
func (d *Driver) DBVersion() string { return "go-sql-driver/mysql" }

func (d *Driver) ServerVersion(ctx context.Context) (string, error) {
	var v string
	row := d.conn.QueryRowContext(ctx, "select version()")
	if err := row.Scan(&v); err != nil {
		return "", driverapi.NewDriverError(0, "HY000", err.Error())
	}
	return v, nil
}

func (d *Driver) BindFormat() driverapi.BindStyle { return driverapi.BindStyleQuestion }

func (d *Driver) Autocommit(ctx context.Context, on bool) error {
	val := "1"
	if !on {
		val = "0"
	}
	_, err := d.conn.ExecContext(ctx, "set autocommit="+val)
	if err != nil {
		return driverapi.NewDriverError(0, "HY000", err.Error())
	}
	return nil
}

func (d *Driver) Begin(ctx context.Context) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return driverapi.NewDriverError(0, "HY000", err.Error())
	}
	d.mu.Lock()
	d.tx = tx
	d.inTx = true
	d.mu.Unlock()
	return nil
}

func (d *Driver) Commit(ctx context.Context) error {
	d.mu.Lock()
	tx := d.tx
	d.tx, d.inTx = nil, false
	d.mu.Unlock()
	if tx == nil {
		return nil
	}
	if err := tx.Commit(); err != nil {
		return driverapi.NewDriverError(0, "HY000", err.Error())
	}
	return nil
}

func (d *Driver) Rollback(ctx context.Context) error {
	d.mu.Lock()
	tx := d.tx
	d.tx, d.inTx = nil, false
	d.mu.Unlock()
	if tx == nil {
		return nil
	}
	if err := tx.Rollback(); err != nil {
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
	d.cursors[h] = &cursorState{outputs: map[string]driverapi.BindType{}, values: map[string]any{}}
	return h
}

func (d *Driver) state(cur driverapi.CursorHandle) (*cursorState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cs, ok := d.cursors[cur]
	if !ok {
		return nil, driverapi.NewDriverError(0, "HY000", "mysqldriver: unknown cursor handle")
	}
	return cs, nil
}

func (d *Driver) Prepare(ctx context.Context, cur driverapi.CursorHandle, sqltext string) error {
	cs, err := d.state(cur)
	if err != nil {
		return err
	}
	stmt, err := d.conn.PrepareContext(ctx, sqltext)
	if err != nil {
		return driverapi.NewDriverError(0, "42000", err.Error())
	}
	cs.stmt = stmt
	return nil
}

func (d *Driver) Execute(ctx context.Context, cur driverapi.CursorHandle) error {
	cs, err := d.state(cur)
	if err != nil {
		return err
	}
	if cs.stmt == nil {
		return driverapi.NewDriverError(0, "HY000", "mysqldriver: execute without prepare")
	}

	rows, err := cs.stmt.QueryContext(ctx, cs.inputs...)
	if err != nil {
		// not every statement is a query; fall back to Exec for
		// DML/DDL, matching the split between Query and Exec.
		res, execErr := cs.stmt.ExecContext(ctx, cs.inputs...)
		if execErr != nil {
			return driverapi.NewDriverError(0, "HY000", err.Error())
		}
		n, _ := res.RowsAffected()
		cs.affected = n
		cs.rows = nil
		return nil
	}

	cs.rows = rows
	cols, err := rows.ColumnTypes()
	if err != nil {
		return driverapi.NewDriverError(0, "HY000", err.Error())
	}
	descs := make([]driverapi.ColumnDesc, len(cols))
	for i, c := range cols {
		nullable, _ := c.Nullable()
		size, _ := c.Length()
		descs[i] = driverapi.ColumnDesc{
			Name:     c.Name(),
			Type:     portableTypeFromName(c.DatabaseTypeName()),
			Size:     uint32(size),
			Nullable: nullable,
		}
	}
	cs.cols = descs
	return nil
}

func (d *Driver) FetchRow(ctx context.Context, cur driverapi.CursorHandle) (driverapi.Row, bool, error) {
	cs, err := d.state(cur)
	if err != nil {
		return nil, false, err
	}
	if cs.rows == nil {
		return nil, false, nil
	}
	if !cs.rows.Next() {
		if err := cs.rows.Err(); err != nil {
			return nil, false, driverapi.NewDriverError(0, "HY000", err.Error())
		}
		return nil, false, nil
	}

	raw := make([]sql.NullString, len(cs.cols))
	ptrs := make([]any, len(raw))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := cs.rows.Scan(ptrs...); err != nil {
		return nil, false, driverapi.NewDriverError(0, "HY000", err.Error())
	}

	row := make(driverapi.Row, len(raw))
	for i, v := range raw {
		row[i] = driverapi.CellValue{Type: cs.cols[i].Type, Text: v.String, Null: !v.Valid}
	}
	return row, true, nil
}

func (d *Driver) RowCount(cur driverapi.CursorHandle) (int64, bool) {
	return 0, false // database/sql does not expose a row count ahead of full fetch
}

func (d *Driver) AffectedRows(cur driverapi.CursorHandle) (int64, bool) {
	cs, err := d.state(cur)
	if err != nil {
		return 0, false
	}
	return cs.affected, cs.rows == nil
}

func (d *Driver) Columns(cur driverapi.CursorHandle) ([]driverapi.ColumnDesc, error) {
	cs, err := d.state(cur)
	if err != nil {
		return nil, err
	}
	return cs.cols, nil
}

func (d *Driver) GetDBList(ctx context.Context, wild string) ([]string, error) {
	return d.queryStrings(ctx, "show databases like ?", wild)
}

func (d *Driver) GetTableList(ctx context.Context, wild string) ([]string, error) {
	return d.queryStrings(ctx, "show tables like ?", wild)
}

func (d *Driver) queryStrings(ctx context.Context, query, wild string) ([]string, error) {
	if wild == "" {
		wild = "%"
	}
	rows, err := d.conn.QueryContext(ctx, query, wild)
	if err != nil {
		return nil, driverapi.NewDriverError(0, "HY000", err.Error())
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, driverapi.NewDriverError(0, "HY000", err.Error())
		}
		out = append(out, s)
	}
	return out, nil
}

func (d *Driver) GetColumnList(ctx context.Context, table, wild string) ([]driverapi.ColumnDesc, error) {
	rows, err := d.conn.QueryContext(ctx, "show columns from "+table)
	if err != nil {
		return nil, driverapi.NewDriverError(0, "42S02", err.Error())
	}
	defer rows.Close()
	var out []driverapi.ColumnDesc
	for rows.Next() {
		var field, typ, null, key string
		var def, extra sql.NullString
		if err := rows.Scan(&field, &typ, &null, &key, &def, &extra); err != nil {
			return nil, driverapi.NewDriverError(0, "HY000", err.Error())
		}
		out = append(out, driverapi.ColumnDesc{
			Name:       field,
			Nullable:   null == "YES",
			PrimaryKey: key == "PRI",
		})
	}
	return out, nil
}

func (d *Driver) GetCurrentDatabase(ctx context.Context) (string, error) {
	var db string
	if err := d.conn.QueryRowContext(ctx, "select database()").Scan(&db); err != nil {
		return "", driverapi.NewDriverError(0, "HY000", err.Error())
	}
	return db, nil
}

func (d *Driver) GetLastInsertID(ctx context.Context) (uint64, error) {
	var id uint64
	if err := d.conn.QueryRowContext(ctx, "select last_insert_id()").Scan(&id); err != nil {
		return 0, driverapi.NewDriverError(0, "HY000", err.Error())
	}
	return id, nil
}

func (d *Driver) SelectDatabase(ctx context.Context, name string) error {
	if _, err := d.conn.ExecContext(ctx, "use "+name); err != nil {
		return driverapi.NewDriverError(0, "42000", err.Error())
	}
	d.mu.Lock()
	d.db = name
	d.mu.Unlock()
	return nil
}

func (d *Driver) BindInput(cur driverapi.CursorHandle, name string, typ driverapi.BindType, value any) error {
	cs, err := d.state(cur)
	if err != nil {
		return err
	}
	cs.inputs = append(cs.inputs, value)
	cs.names = append(cs.names, name)
	return nil
}

func (d *Driver) DefineOutput(cur driverapi.CursorHandle, name string, typ driverapi.BindType, maxSize uint32) error {
	cs, err := d.state(cur)
	if err != nil {
		return err
	}
	cs.outputs[name] = typ
	return nil
}

func (d *Driver) GetOutput(cur driverapi.CursorHandle, name string) (any, error) {
	cs, err := d.state(cur)
	if err != nil {
		return nil, err
	}
	v, ok := cs.values[name]
	if !ok {
		return nil, driverapi.NewDriverError(0, "HY000", "mysqldriver: no such output bind "+name)
	}
	return v, nil
}

func (d *Driver) NullBindValue() any { return nil }
func (d *Driver) IsNull(v any) bool  { return v == nil }

func (d *Driver) PortableType(nativeType int) driverapi.ColumnType {
	switch nativeType {
	case mysqlTypeTiny, mysqlTypeShort, mysqlTypeLong, mysqlTypeLongLong, mysqlTypeInt24:
		return driverapi.ColumnInteger
	case mysqlTypeFloat:
		return driverapi.ColumnFloat
	case mysqlTypeDouble, mysqlTypeDecimal:
		return driverapi.ColumnDouble
	case mysqlTypeDate:
		return driverapi.ColumnDate
	case mysqlTypeTime:
		return driverapi.ColumnTime
	case mysqlTypeDatetime, mysqlTypeTimestamp:
		return driverapi.ColumnDatetime
	case mysqlTypeBlob, mysqlTypeTinyBlob, mysqlTypeMediumBlob, mysqlTypeLongBlob:
		return driverapi.ColumnBlob
	case mysqlTypeVarchar, mysqlTypeVarString, mysqlTypeString:
		return driverapi.ColumnVarchar
	default:
		return driverapi.ColumnUnknown
	}
}

// MySQL native type ids, used by PortableType; kept local rather than
// importing the driver's internal package, which does not export them.
const (
	mysqlTypeDecimal = iota
	mysqlTypeTiny
	mysqlTypeShort
	mysqlTypeLong
	mysqlTypeFloat
	mysqlTypeDouble
	mysqlTypeNull
	mysqlTypeTimestamp
	mysqlTypeLongLong
	mysqlTypeInt24
	mysqlTypeDate
	mysqlTypeTime
	mysqlTypeDatetime
	mysqlTypeYear
	mysqlTypeVarchar = 15
	mysqlTypeBlob    = 252
	mysqlTypeVarString = 253
	mysqlTypeString     = 254
	mysqlTypeTinyBlob   = 249
	mysqlTypeMediumBlob = 250
	mysqlTypeLongBlob   = 251
)

// portableTypeFromName maps the type name go-sql-driver/mysql reports via
// sql.ColumnType.DatabaseTypeName onto the portable enum; used at fetch
// time when only the name, not the wire type id, is available.
func portableTypeFromName(name string) driverapi.ColumnType {
	switch name {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "BIGINT":
		return driverapi.ColumnInteger
	case "FLOAT":
		return driverapi.ColumnFloat
	case "DOUBLE", "DECIMAL":
		return driverapi.ColumnDouble
	case "DATE":
		return driverapi.ColumnDate
	case "TIME":
		return driverapi.ColumnTime
	case "DATETIME", "TIMESTAMP":
		return driverapi.ColumnDatetime
	case "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB":
		return driverapi.ColumnBlob
	case "VARCHAR", "CHAR", "TEXT":
		return driverapi.ColumnVarchar
	default:
		return driverapi.ColumnUnknown
	}
}

func (d *Driver) Capabilities() driverapi.Capabilities {
	return driverapi.Capabilities{
		NativeQueryTree:        false,
		StreamingLOBWrites:     false,
		ServerSideCursors:      false,
		ParameterizedTableList: false,
		TransactionBlocks:      true,
		Reposition:             false,
	}
}
