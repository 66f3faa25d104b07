package stats

import "time"

// QueryClass buckets query counters the way the original's per-class QPS
// ring buffers do (select/insert/update/delete/other/sqlrcmd).
type QueryClass int

const (
	ClassSelect QueryClass = iota
	ClassInsert
	ClassUpdate
	ClassDelete
	ClassOther
	ClassCommand
	numQueryClasses
)

// ring is a fixed-size, monotonically-overwriting per-second sample
// buffer, one per query class, sized QPSKeepSeconds (mirrors
// sqlrstatistics.qps_select/insert/update/delete/etc plus its shared
// timestamp array).
type ring struct {
	timestamps [QPSKeepSeconds]int64
	samples    [QPSKeepSeconds]uint32
	next       int
}

func (r *ring) record(sec int64, n uint32) {
	r.timestamps[r.next] = sec
	r.samples[r.next] = n
	r.next = (r.next + 1) % QPSKeepSeconds
}

// Snapshot is a point-in-time, dependency-free copy of Aggregate safe to
// hand to the monitor for JSON encoding.
type Snapshot struct {
	OpenedClientConnections uint64
	OpenClientConnections   uint64
	OpenedServerConnections uint64
	OpenServerConnections   uint64
	OpenedCursors           uint64
	OpenCursors             uint64
	TotalQueries            uint64
	TotalErrors             uint64
	ForkedListeners         uint64
	MaxListener             uint32
	MaxListenerError        uint32
	PeakListener            uint32
	PeakSession             uint32
	PeakListener1Min        uint32
	PeakSession1Min         uint32
	PeakListener1MinTime    time.Time
	PeakSession1MinTime     time.Time
	QueryCounts             [numQueryClasses]uint64
}

// Aggregate mirrors struct sqlrstatistics: epoch counters, peak counters,
// and the per-query-class QPS ring buffers. Every field mutation must
// happen while the caller holds the rendezvous block's shared-resource
// lock exclusively; readers (the monitor) take it shared.
type Aggregate struct {
	openedClientConnections uint64
	openClientConnections   uint64
	openedServerConnections uint64
	openServerConnections   uint64
	openedCursors           uint64
	openCursors             uint64
	totalErrors             uint64
	forkedListeners         uint64

	maxListener      uint32
	maxListenerError uint32
	peakListener     uint32
	peakSession      uint32

	peakListener1Min     uint32
	peakSession1Min      uint32
	peakListener1MinTime time.Time
	peakSession1MinTime  time.Time

	queryCounts [numQueryClasses]uint64
	rings       [numQueryClasses]ring
}

// NewAggregate returns a zeroed Aggregate with maxListener set to the
// configured instance limit.
func NewAggregate(maxListener uint32) *Aggregate {
	return &Aggregate{maxListener: maxListener}
}

func (a *Aggregate) ClientConnectionOpened() {
	a.openedClientConnections++
	a.openClientConnections++
	if uint32(a.openClientConnections) > a.peakSession {
		a.peakSession = uint32(a.openClientConnections)
	}
}

func (a *Aggregate) ClientConnectionClosed() {
	if a.openClientConnections > 0 {
		a.openClientConnections--
	}
}

func (a *Aggregate) ServerConnectionOpened() {
	a.openedServerConnections++
	a.openServerConnections++
}

func (a *Aggregate) ServerConnectionClosed() {
	if a.openServerConnections > 0 {
		a.openServerConnections--
	}
}

func (a *Aggregate) CursorOpened() {
	a.openedCursors++
	a.openCursors++
}

func (a *Aggregate) CursorClosed() {
	if a.openCursors > 0 {
		a.openCursors--
	}
}

func (a *Aggregate) ErrorOccurred() {
	a.totalErrors++
}

func (a *Aggregate) ListenerForked() {
	a.forkedListeners++
	if a.forkedListeners > 0 && uint32(a.forkedListeners) > a.peakListener {
		a.peakListener = uint32(a.forkedListeners)
	}
}

// ListenerRejected records one connection attempt refused because the
// instance is already at maxListener capacity.
func (a *Aggregate) ListenerRejected() {
	a.maxListenerError++
}

// RecordQuery bumps the running total for a query class and records one
// per-second sample into that class's ring buffer, overwriting the oldest
// slot once the buffer wraps (never resets the running total).
func (a *Aggregate) RecordQuery(class QueryClass, at time.Time, n uint32) {
	a.queryCounts[class] += uint64(n)
	a.rings[class].record(at.Unix(), n)
}

// RecordPeak1Min raises the one-minute peaks to the given listener/session
// counts where they exceed the recorded ones.
func (a *Aggregate) RecordPeak1Min(listeners, sessions uint32, at time.Time) {
	if listeners > a.peakListener1Min {
		a.peakListener1Min = listeners
		a.peakListener1MinTime = at
	}
	if sessions > a.peakSession1Min {
		a.peakSession1Min = sessions
		a.peakSession1MinTime = at
	}
}

// Snapshot copies the current counters out for safe concurrent reading.
func (a *Aggregate) Snapshot() Snapshot {
	return Snapshot{
		OpenedClientConnections: a.openedClientConnections,
		OpenClientConnections:   a.openClientConnections,
		OpenedServerConnections: a.openedServerConnections,
		OpenServerConnections:   a.openServerConnections,
		OpenedCursors:           a.openedCursors,
		OpenCursors:             a.openCursors,
		TotalQueries:            a.queryCounts[ClassSelect] + a.queryCounts[ClassInsert] + a.queryCounts[ClassUpdate] + a.queryCounts[ClassDelete] + a.queryCounts[ClassOther] + a.queryCounts[ClassCommand],
		TotalErrors:             a.totalErrors,
		ForkedListeners:         a.forkedListeners,
		MaxListener:             a.maxListener,
		MaxListenerError:        a.maxListenerError,
		PeakListener:            a.peakListener,
		PeakSession:             a.peakSession,
		PeakListener1Min:        a.peakListener1Min,
		PeakSession1Min:         a.peakSession1Min,
		PeakListener1MinTime:    a.peakListener1MinTime,
		PeakSession1MinTime:     a.peakSession1MinTime,
		QueryCounts:             a.queryCounts,
	}
}
