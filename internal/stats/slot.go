package stats

import "time"

// Slot mirrors struct sqlrconnstatistics: the per-connection-daemon
// counters and last-known activity visible to the monitor.
type Slot struct {
	Index int
	InUse bool

	State          ConnState
	LoggedInAt     time.Time
	StateEnteredAt time.Time
	CommandStarted time.Time

	NConnect             uint32
	NAuthenticate        uint32
	NSuspendSession      uint32
	NEndSession          uint32
	NPing                uint32
	NIdentify            uint32
	NAutocommit          uint32
	NCommit              uint32
	NRollback            uint32
	NNewQuery            uint64
	NReexecuteQuery      uint64
	NFetchFromBindCursor uint32
	NFetchResultSet      uint32
	NSuspendResultSet    uint32
	NResumeResultSet     uint32
	NAbortResultSet      uint32
	NSQLRCmd             uint32
	NSQL                 uint64
	NRelogin             uint32

	ClientAddr string
	ClientInfo string // truncated to ClientInfoMaxLen
	SQLText    string // truncated to SQLTextMaxLen
}

// EnterState records a state transition and its timestamp.
func (s *Slot) EnterState(state ConnState, at time.Time) {
	s.State = state
	s.StateEnteredAt = at
}

// SetClientInfo truncates client-supplied identification to
// ClientInfoMaxLen, per the original's fixed clientinfo[STATCLIENTINFOLEN+1].
func (s *Slot) SetClientInfo(info string) {
	s.ClientInfo = truncate(info, ClientInfoMaxLen)
}

// SetSQLText truncates the last executed statement to SQLTextMaxLen, per
// the original's fixed sqltext[STATSQLTEXTLEN+1].
func (s *Slot) SetSQLText(sql string) {
	s.SQLText = truncate(sql, SQLTextMaxLen)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// Reset clears a slot for reuse by a newly assigned connection daemon.
func (s *Slot) Reset() {
	*s = Slot{Index: s.Index}
}
