// Package logging wires the ambient debug logger and the session audit
// trail: Dbg/TimeTrack helpers on a logrus.Logger, rotated with
// orandin/lumberjackrus, plus a zerolog-based audit trail.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/orandin/lumberjackrus"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rs/zerolog"
)

// Debug is the developer debug logger, leveled and structured.
var Debug = logrus.New()

// NewDebugLogger builds a logrus.Logger that rotates into logDir via
// lumberjackrus.
func NewDebugLogger(logDir string, level logrus.Level) (*logrus.Logger, error) {
	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(&logrus.JSONFormatter{})

	hook, err := lumberjackrus.NewHook(
		&lumberjackrus.LogFile{
			Filename:   filepath.Join(logDir, "sqlrelayd.log"),
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		},
		level,
		&logrus.JSONFormatter{},
		nil,
	)
	if err != nil {
		return nil, err
	}
	l.AddHook(hook)
	return l, nil
}

// Dbg logs one debug-level line tagged with the caller's file:line and an
// arbitrary correlation id (session id, daemon id, or instance id).
func Dbg(l *logrus.Logger, id string, format string, args ...any) {
	_, file, line, ok := runtime.Caller(1)
	fl := "unknown"
	if ok {
		fl = filepath.Base(file) + ":" + strconv.Itoa(line)
	}
	l.WithFields(logrus.Fields{
		"id": id,
		"fl": fl,
	}).Debugf(format, args...)
}

// TimeTrack logs the elapsed time since start at debug level, tagged the
// same way Dbg is; callers defer it at the top of the function being timed.
func TimeTrack(l *logrus.Logger, id string, start time.Time, what string) {
	Dbg(l, id, "%s took %s", what, time.Since(start))
}

// AuditLogger is the machine-parseable session accounting trail, kept on
// a separate library from the debug logger (rs/zerolog, already in the
// teacher's go.mod) so the two concerns never get merged.
type AuditLogger struct {
	logger zerolog.Logger
}

// NewAuditLogger opens (or rotates into) <logDir>/audit.log via
// lumberjack.v2, the same rotation package the debug logger's hook
// delegates to.
func NewAuditLogger(logDir string) *AuditLogger {
	w := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "audit.log"),
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
	var out io.Writer = w
	return &AuditLogger{logger: zerolog.New(out).With().Timestamp().Logger()}
}

// SessionClosed writes one audit line per client session close, with
// duration, opcode counts, and the final error code, per the ambient
// logging spec.
func (a *AuditLogger) SessionClosed(sessionID, connectionID string, duration time.Duration, opcodeCounts map[string]int, finalErrorCode int64) {
	ev := a.logger.Info().
		Str("session_id", sessionID).
		Str("connection_id", connectionID).
		Dur("duration", duration).
		Int64("final_error_code", finalErrorCode)
	for op, n := range opcodeCounts {
		ev = ev.Int("op_"+op, n)
	}
	ev.Msg("session closed")
}

func init() {
	Debug.SetOutput(os.Stdout)
	Debug.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
