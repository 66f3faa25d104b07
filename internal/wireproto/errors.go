package wireproto

import "fmt"

// LimitCode enumerates the reserved 900000-900009 error range. Values and
// messages match the original implementation's defines.h exactly so that
// clients keyed off the numeric code keep working.
type LimitCode int64

const (
	ErrNoCursors                LimitCode = 900000
	ErrMaxClientInfoLength      LimitCode = 900001
	ErrMaxQueryLength           LimitCode = 900002
	ErrMaxBindCount             LimitCode = 900003
	ErrMaxBindNameLength        LimitCode = 900004
	ErrMaxStringBindValueLength LimitCode = 900005
	ErrMaxLobBindValueLength    LimitCode = 900006
	ErrDuplicateBindName        LimitCode = 900007
	ErrMaxSelectList            LimitCode = 900008
	ErrResultSetNotSuspended    LimitCode = 900009
)

var limitMessages = map[LimitCode]string{
	ErrNoCursors:                "No server-side cursors were available to process the query.",
	ErrMaxClientInfoLength:      "Maximum client info length exceeded.",
	ErrMaxQueryLength:           "Maximum query length exceeded.",
	ErrMaxBindCount:             "Maximum bind variable count exceeded.",
	ErrMaxBindNameLength:        "Maximum bind variable name length exceeded.",
	ErrMaxStringBindValueLength: "Maximum string bind value length exceeded.",
	ErrMaxLobBindValueLength:    "Maximum lob bind value length exceeded.",
	ErrDuplicateBindName:        "Duplicate bind variable name.",
	ErrMaxSelectList:            "Maximum column count exceeded.",
	ErrResultSetNotSuspended:    "The requested result set was not suspended.",
}

// LimitError is returned whenever a client exceeds one of the configured
// per-instance limits. It carries a SQLSTATE-like tag so it composes with
// the same error-record framing as a driver error.
type LimitError struct {
	Code LimitCode
}

func (e *LimitError) Error() string {
	msg, ok := limitMessages[e.Code]
	if !ok {
		return fmt.Sprintf("unknown limit error %d", e.Code)
	}
	return msg
}

// SQLState is a fixed tag used for every LimitError; the original protocol
// does not define distinct SQLSTATEs per limit, only a native code.
func (e *LimitError) SQLState() string { return "HY000" }

// ProtocolError is raised by the codec itself: framing errors that are
// fatal to the session but never to the daemon.
type ProtocolError struct {
	Kind string // "short-read" | "oversize-field" | "unknown-tag"
	Detail string
}

func (e *ProtocolError) Error() string {
	if e.Detail == "" {
		return "protocol error: " + e.Kind
	}
	return "protocol error: " + e.Kind + ": " + e.Detail
}

func NewLimitError(c LimitCode) *LimitError {
	return &LimitError{Code: c}
}
