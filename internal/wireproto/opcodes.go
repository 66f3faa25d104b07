// Package wireproto implements the client<->connection-daemon wire protocol:
// a length-prefixed, big-endian, typed-record protocol over a stream socket.
//
// Opcode and tag values match the original SQL Relay wire protocol so that
// existing client libraries keep working unmodified.
package wireproto

// Opcode is the u16 command code a client sends as the first field of every
// request.
type Opcode uint16

const (
	OpNewQuery            Opcode = 0
	OpFetchResultSet      Opcode = 1
	OpAbortResultSet      Opcode = 2
	OpSuspendResultSet    Opcode = 3
	OpResumeResultSet     Opcode = 4
	OpSuspendSession      Opcode = 5
	OpEndSession          Opcode = 6
	OpPing                Opcode = 7
	OpIdentify            Opcode = 8
	OpCommit              Opcode = 9
	OpRollback            Opcode = 10
	OpAuthenticate        Opcode = 11
	OpAutocommit          Opcode = 12
	OpReexecuteQuery      Opcode = 13
	OpFetchFromBindCursor Opcode = 14
	OpDBVersion           Opcode = 15
	OpBindFormat          Opcode = 16
	OpServerVersion       Opcode = 17
	OpGetDBList           Opcode = 18
	OpGetTableList        Opcode = 19
	OpGetColumnList       Opcode = 20
	OpSelectDatabase      Opcode = 21
	OpGetCurrentDatabase  Opcode = 22
	OpGetLastInsertID     Opcode = 23
	OpBegin               Opcode = 24
)

func (o Opcode) String() string {
	switch o {
	case OpNewQuery:
		return "NEW_QUERY"
	case OpFetchResultSet:
		return "FETCH_RESULT_SET"
	case OpAbortResultSet:
		return "ABORT_RESULT_SET"
	case OpSuspendResultSet:
		return "SUSPEND_RESULT_SET"
	case OpResumeResultSet:
		return "RESUME_RESULT_SET"
	case OpSuspendSession:
		return "SUSPEND_SESSION"
	case OpEndSession:
		return "END_SESSION"
	case OpPing:
		return "PING"
	case OpIdentify:
		return "IDENTIFY"
	case OpCommit:
		return "COMMIT"
	case OpRollback:
		return "ROLLBACK"
	case OpAuthenticate:
		return "AUTHENTICATE"
	case OpAutocommit:
		return "AUTOCOMMIT"
	case OpReexecuteQuery:
		return "REEXECUTE_QUERY"
	case OpFetchFromBindCursor:
		return "FETCH_FROM_BIND_CURSOR"
	case OpDBVersion:
		return "DBVERSION"
	case OpBindFormat:
		return "BINDFORMAT"
	case OpServerVersion:
		return "SERVERVERSION"
	case OpGetDBList:
		return "GETDBLIST"
	case OpGetTableList:
		return "GETTABLELIST"
	case OpGetColumnList:
		return "GETCOLUMNLIST"
	case OpSelectDatabase:
		return "SELECT_DATABASE"
	case OpGetCurrentDatabase:
		return "GET_CURRENT_DATABASE"
	case OpGetLastInsertID:
		return "GET_LAST_INSERT_ID"
	case OpBegin:
		return "BEGIN"
	default:
		return "UNKNOWN_OPCODE"
	}
}

// HandoffMode is the listener<->daemon hand-off mode (§6.2).
type HandoffMode uint8

const (
	HandoffPass       HandoffMode = 0
	HandoffReconnect  HandoffMode = 1
)

// DataTag marks the kind of value carried by one result-set column cell.
type DataTag uint8

const (
	NullData      DataTag = 0
	StringData    DataTag = 1
	StartLongData DataTag = 2
	EndLongData   DataTag = 3
	CursorData    DataTag = 4
	IntegerData   DataTag = 5
	DoubleData    DataTag = 6
	DateData      DataTag = 7
)

// BindTag marks the type of one client-supplied bind variable.
type BindTag uint8

const (
	NullBind    BindTag = 0
	StringBind  BindTag = 1
	IntegerBind BindTag = 2
	DoubleBind  BindTag = 3
	BlobBind    BindTag = 4
	ClobBind    BindTag = 5
	CursorBind  BindTag = 6
	DateBind    BindTag = 7
	EndBindVars BindTag = 8
)

// Result-stream framing markers (§6.1).
const (
	DontSendColumnInfo uint16 = 0
	SendColumnInfo     uint16 = 1
	EndColumnInfo      uint16 = 0
	EndResultSet       uint16 = 3
)

// Error-response kinds (§6.1, §7).
const (
	ErrorOccurred           uint16 = 0
	NoErrorOccurred         uint16 = 1
	ErrorOccurredDisconnect uint16 = 2
)
