// Package driverapi defines the backend database driver trait every
// connection daemon programs against: a pluggable interface with a
// queried-at-login capability map, instead of a hardcoded driver.
package driverapi

import "context"

// CursorHandle identifies one cursor within a driver connection; the
// concrete type is whatever the driver needs (an index, a *sql.Stmt
// wrapper, a token), opaque to callers.
type CursorHandle interface{}

// BindStyle is the placeholder syntax a driver's backend expects.
type BindStyle int

const (
	BindStyleQuestion BindStyle = iota // "?"
	BindStylePositional                // ":n"
	BindStyleNamed                      // "@name"
)

// BindType enumerates the bind-variable wire types from the protocol,
// shared between the codec layer and driver implementations.
type BindType int

const (
	BindNull BindType = iota
	BindString
	BindInteger
	BindDouble
	BindBlob
	BindClob
	BindCursor
	BindDate
)

// ColumnType is the portable column type enum drivers map their native
// type ids onto.
type ColumnType int

const (
	ColumnUnknown ColumnType = iota
	ColumnChar
	ColumnVarchar
	ColumnInteger
	ColumnFloat
	ColumnDouble
	ColumnDate
	ColumnTime
	ColumnDatetime
	ColumnBlob
	ColumnClob
	ColumnBool
)

// ColumnDesc is one result-set column descriptor as reported by a driver,
// translated into wireproto.ColumnInfo by the daemon.
type ColumnDesc struct {
	Name          string
	NativeType    int
	Type          ColumnType
	Size          uint32
	Precision     uint32
	Scale         uint32
	Nullable      bool
	PrimaryKey    bool
	Unique        bool
	PartOfKey     bool
	Unsigned      bool
	Zerofill      bool
	Binary        bool
	AutoIncrement bool
}

// CellValue is one fetched row/column value plus its null-ness.
type CellValue struct {
	Type  ColumnType
	Text  string // textual representation for STRING/INTEGER/DOUBLE/DATE data
	Bytes []byte // raw bytes for BLOB/CLOB
	Null  bool
}

// Row is one fetched row, column-major matching the prepared query's
// column list.
type Row []CellValue

// Capabilities is the capability map a driver reports once at login,
// letting the daemon adapt protocol behavior (fake transaction blocks,
// client-buffered vs server-side cursors, parameterized list calls)
// without special-casing by driver name.
type Capabilities struct {
	NativeQueryTree        bool
	StreamingLOBWrites     bool
	ServerSideCursors      bool
	ParameterizedTableList bool
	TransactionBlocks      bool
	Reposition             bool
}

// Driver is the backend database trait every connection daemon programs
// against.
type Driver interface {
	Connect(ctx context.Context, params map[string]string) error
	LogOut(ctx context.Context) error
	Ping(ctx context.Context) error
	Identify() string
	DBVersion() string
	ServerVersion(ctx context.Context) (string, error)
	BindFormat() BindStyle

	Autocommit(ctx context.Context, on bool) error
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	SupportsTransactionBlocks() bool

	Prepare(ctx context.Context, cur CursorHandle, sql string) error
	Execute(ctx context.Context, cur CursorHandle) error
	FetchRow(ctx context.Context, cur CursorHandle) (Row, bool, error)
	RowCount(cur CursorHandle) (int64, bool)
	AffectedRows(cur CursorHandle) (int64, bool)
	Columns(cur CursorHandle) ([]ColumnDesc, error)

	GetDBList(ctx context.Context, wild string) ([]string, error)
	GetTableList(ctx context.Context, wild string) ([]string, error)
	GetColumnList(ctx context.Context, table, wild string) ([]ColumnDesc, error)
	GetCurrentDatabase(ctx context.Context) (string, error)
	GetLastInsertID(ctx context.Context) (uint64, error)
	SelectDatabase(ctx context.Context, name string) error

	BindInput(cur CursorHandle, name string, typ BindType, value any) error
	DefineOutput(cur CursorHandle, name string, typ BindType, maxSize uint32) error
	GetOutput(cur CursorHandle, name string) (any, error)
	NullBindValue() any
	IsNull(v any) bool

	PortableType(nativeType int) ColumnType
	Capabilities() Capabilities

	// NewCursor allocates a driver-side cursor handle bound to this
	// connection. Pool.Alloc calls this exactly once per reused slot.
	NewCursor() CursorHandle
}
