// Package stubdriver is an in-memory test double implementing
// driverapi.Driver over a fixed literal table, the fixture backend for
// every end-to-end scenario in the connection-daemon test suite, without
// needing a real MySQL connection.
package stubdriver

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"sqlrelay/internal/driverapi"
)

// Table is a named literal result set the stub driver serves for any
// query whose lowercased text contains the table name, a deliberately
// crude stand-in for a real query planner (no SQL parsing happens here
// or anywhere in the core, per the non-goal on SQL parsing).
type Table struct {
	Columns []driverapi.ColumnDesc
	Rows    [][]driverapi.CellValue
}

// DefaultProcedures is the fixture stored-procedure set: a name matched
// the same crude way Execute matches table names, each with a fixed
// output value a caller binds via an OUT parameter.
func DefaultProcedures() map[string]int64 {
	return map[string]int64{
		"get_n": 42,
	}
}

// DefaultTables is the fixture data scenario tests run against.
func DefaultTables() map[string]*Table {
	return map[string]*Table{
		"accounts": {
			Columns: []driverapi.ColumnDesc{
				{Name: "id", Type: driverapi.ColumnInteger, NativeType: 1},
				{Name: "name", Type: driverapi.ColumnVarchar, NativeType: 2, Size: 64},
				{Name: "balance", Type: driverapi.ColumnDouble, NativeType: 3},
			},
			Rows: [][]driverapi.CellValue{
				{{Type: driverapi.ColumnInteger, Text: "1"}, {Type: driverapi.ColumnVarchar, Text: "alice"}, {Type: driverapi.ColumnDouble, Text: "125.50"}},
				{{Type: driverapi.ColumnInteger, Text: "2"}, {Type: driverapi.ColumnVarchar, Text: "bob"}, {Type: driverapi.ColumnDouble, Text: "40.00"}},
				{{Type: driverapi.ColumnInteger, Text: "3"}, {Type: driverapi.ColumnVarchar, Text: "carol"}, {Type: driverapi.ColumnDouble, Text: "980.25"}},
				{{Type: driverapi.ColumnInteger, Text: "4"}, {Type: driverapi.ColumnVarchar, Text: "dan"}, {Type: driverapi.ColumnDouble, Text: "10.00"}},
				{{Type: driverapi.ColumnInteger, Text: "5"}, {Type: driverapi.ColumnVarchar, Text: "erin"}, {Type: driverapi.ColumnDouble, Text: "500.00"}},
			},
		},
	}
}

type cursorState struct {
	query       string
	table       *Table
	pos         int
	affected    int64
	rowCount    int64
	inputs      map[string]any
	outputs     map[string]driverapi.BindType
	committed   bool
	isProcedure bool
	procResult  int64
}

// Driver is the stub driver's connection. It is safe for use by exactly
// one daemon goroutine, matching every other driver implementation here.
type Driver struct {
	mu          sync.Mutex
	connected   bool
	autocommit  bool
	inTx        bool
	tables      map[string]*Table
	procedures  map[string]int64
	cursors     map[driverapi.CursorHandle]*cursorState
	nextHandle  int
	currentDB   string
	lastInsert  uint64
	pingFail    bool
}

// New returns a stub driver seeded with DefaultTables and DefaultProcedures.
func New() *Driver {
	return &Driver{
		tables:     DefaultTables(),
		procedures: DefaultProcedures(),
		cursors:    make(map[driverapi.CursorHandle]*cursorState),
		currentDB:  "stub",
		autocommit: true,
	}
}

// FailNextPing makes the next Ping call report a dead connection, for
// exercising the daemon's ping/keep-alive failure path in tests.
func (d *Driver) FailNextPing() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pingFail = true
}

func (d *Driver) Connect(ctx context.Context, params map[string]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = true
	if db, ok := params["database"]; ok && db != "" {
		d.currentDB = db
	}
	return nil
}

func (d *Driver) LogOut(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	return nil
}

func (d *Driver) Ping(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pingFail {
		d.pingFail = false
		return driverapi.NewFatalDriverError(2006, "HY000", "stub: server has gone away")
	}
	if !d.connected {
		return driverapi.NewFatalDriverError(2006, "HY000", "stub: not connected")
	}
	return nil
}

func (d *Driver) Identify() string { return "stub" }
func (d *Driver) DBVersion() string { return "stub-1.0" }

func (d *Driver) ServerVersion(ctx context.Context) (string, error) {
	return "stubdriver 1.0 (in-memory)", nil
}

func (d *Driver) BindFormat() driverapi.BindStyle { return driverapi.BindStyleQuestion }

func (d *Driver) Autocommit(ctx context.Context, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.autocommit = on
	return nil
}

func (d *Driver) Begin(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inTx = true
	return nil
}

func (d *Driver) Commit(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inTx = false
	return nil
}

func (d *Driver) Rollback(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inTx = false
	return nil
}

func (d *Driver) SupportsTransactionBlocks() bool { return true }

func (d *Driver) NewCursor() driverapi.CursorHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextHandle++
	h := d.nextHandle
	d.cursors[h] = &cursorState{inputs: map[string]any{}, outputs: map[string]driverapi.BindType{}}
	return h
}

func (d *Driver) state(cur driverapi.CursorHandle) (*cursorState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cs, ok := d.cursors[cur]
	if !ok {
		return nil, driverapi.NewDriverError(0, "HY000", "stub: unknown cursor handle")
	}
	return cs, nil
}

func (d *Driver) Prepare(ctx context.Context, cur driverapi.CursorHandle, sql string) error {
	cs, err := d.state(cur)
	if err != nil {
		return err
	}
	cs.query = sql
	return nil
}

func (d *Driver) Execute(ctx context.Context, cur driverapi.CursorHandle) error {
	cs, err := d.state(cur)
	if err != nil {
		return err
	}

	lower := strings.ToLower(cs.query)
	trimmed := strings.TrimSpace(lower)

	if strings.HasPrefix(trimmed, "call") || strings.HasPrefix(trimmed, "{call") {
		d.mu.Lock()
		var result int64
		var found bool
		for name, v := range d.procedures {
			if strings.Contains(lower, name) {
				result, found = v, true
				break
			}
		}
		d.mu.Unlock()
		if !found {
			return driverapi.NewDriverError(1305, "42000", "stub: unknown procedure")
		}
		cs.table = nil
		cs.affected = 0
		cs.isProcedure = true
		cs.procResult = result
		return nil
	}

	d.mu.Lock()
	var tbl *Table
	for name, t := range d.tables {
		if strings.Contains(lower, name) {
			tbl = t
			break
		}
	}
	d.mu.Unlock()

	if strings.HasPrefix(trimmed, "select") {
		if tbl == nil {
			return driverapi.NewDriverError(1146, "42S02", "stub: unknown table in query")
		}
		cs.table = tbl
		cs.pos = 0
		cs.rowCount = int64(len(tbl.Rows))
		cs.affected = 0
		return nil
	}

	// non-select: insert/update/delete all "succeed" against the matched
	// table and report one affected row, enough for scenario tests that
	// assert on affected-row counts without a real engine.
	cs.table = nil
	cs.affected = 1
	if strings.HasPrefix(strings.TrimSpace(lower), "insert") {
		d.mu.Lock()
		d.lastInsert++
		d.mu.Unlock()
	}
	return nil
}

func (d *Driver) FetchRow(ctx context.Context, cur driverapi.CursorHandle) (driverapi.Row, bool, error) {
	cs, err := d.state(cur)
	if err != nil {
		return nil, false, err
	}
	if cs.table == nil || cs.pos >= len(cs.table.Rows) {
		return nil, false, nil
	}
	row := cs.table.Rows[cs.pos]
	cs.pos++
	return row, true, nil
}

func (d *Driver) RowCount(cur driverapi.CursorHandle) (int64, bool) {
	cs, err := d.state(cur)
	if err != nil {
		return 0, false
	}
	return cs.rowCount, cs.table != nil
}

func (d *Driver) AffectedRows(cur driverapi.CursorHandle) (int64, bool) {
	cs, err := d.state(cur)
	if err != nil {
		return 0, false
	}
	return cs.affected, cs.table == nil
}

func (d *Driver) Columns(cur driverapi.CursorHandle) ([]driverapi.ColumnDesc, error) {
	cs, err := d.state(cur)
	if err != nil {
		return nil, err
	}
	if cs.table == nil {
		return nil, nil
	}
	return cs.table.Columns, nil
}

func (d *Driver) GetDBList(ctx context.Context, wild string) ([]string, error) {
	return []string{"stub"}, nil
}

func (d *Driver) GetTableList(ctx context.Context, wild string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.tables))
	for name := range d.tables {
		if wild == "" || strings.Contains(name, wild) {
			names = append(names, name)
		}
	}
	return names, nil
}

func (d *Driver) GetColumnList(ctx context.Context, table, wild string) ([]driverapi.ColumnDesc, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[table]
	if !ok {
		return nil, driverapi.NewDriverError(1146, "42S02", "stub: no such table")
	}
	return t.Columns, nil
}

func (d *Driver) GetCurrentDatabase(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentDB, nil
}

func (d *Driver) GetLastInsertID(ctx context.Context) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastInsert, nil
}

func (d *Driver) SelectDatabase(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.currentDB = name
	return nil
}

func (d *Driver) BindInput(cur driverapi.CursorHandle, name string, typ driverapi.BindType, value any) error {
	cs, err := d.state(cur)
	if err != nil {
		return err
	}
	cs.inputs[name] = value
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
	typ, ok := cs.outputs[name]
	if !ok {
		return nil, driverapi.NewDriverError(0, "HY000", fmt.Sprintf("stub: no output bind named %q", name))
	}
	if !cs.isProcedure {
		return nil, driverapi.NewDriverError(0, "HY000", "stub: output binds are only populated by a CALL")
	}
	switch typ {
	case driverapi.BindInteger:
		return strconv.FormatInt(cs.procResult, 10), nil
	default:
		return "", nil
	}
}

func (d *Driver) NullBindValue() any { return nil }
func (d *Driver) IsNull(v any) bool  { return v == nil }

func (d *Driver) PortableType(nativeType int) driverapi.ColumnType {
	switch nativeType {
	case 1:
		return driverapi.ColumnInteger
	case 2:
		return driverapi.ColumnVarchar
	case 3:
		return driverapi.ColumnDouble
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
