package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestNewDebugLoggerWritesRotatedFile(t *testing.T) {
	dir := t.TempDir()
	l, err := NewDebugLogger(dir, logrus.DebugLevel)
	if err != nil {
		t.Fatal(err)
	}
	Dbg(l, "sess-1", "hello %s", "world")
	if _, err := os.Stat(filepath.Join(dir, "sqlrelayd.log")); err != nil {
		t.Fatalf("expected rotated log file: %v", err)
	}
}

func TestAuditLoggerSessionClosed(t *testing.T) {
	dir := t.TempDir()
	a := NewAuditLogger(dir)
	a.SessionClosed("sess-1", "conn-a", 2*time.Second, map[string]int{"NEW_QUERY": 3}, 0)
}
