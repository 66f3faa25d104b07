// Package config loads instance and per-connection configuration from
// .env-style files with github.com/joho/godotenv, generalizing the
// ".dsn1", ".dsn2", ... numbered-file convention into instance.env plus
// conn.*.env.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"sqlrelay/internal/wireproto"
)

// Instance is the instance-wide configuration loaded from
// <dir>/instance.env.
type Instance struct {
	ID              string
	ListenAddrs     []string
	UnixSocket      string
	MinConnections  int
	MaxConnections  int
	GrowBy          int
	MaxQueueLength  int
	TTL             time.Duration
	IdleClientTimeout time.Duration
	ListenerTimeout time.Duration
	MaxListeners    int
	DynamicScaling  bool
	AllowPattern    string
	DenyPattern     string
	FakeTransactionBlocks bool
	Limits          wireproto.Limits
	MonitorAddr     string
	LogDir          string
}

// Connection is one connection daemon's configuration loaded from
// <dir>/conn.<name>.env.
type Connection struct {
	Name         string
	Driver       string // "mysql" | "mymysql" | "stub"
	Params       map[string]string
	Metric       int
	ConnectionID string
	PingInterval time.Duration
	LoginTries   int
	CursorPoolSize int
	ResultSetBufferSize int
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// LoadInstance reads <dir>/instance.env, overlaying process environment
// with the file's values exactly as godotenv.Overload does for the
// teacher's per-dsn files.
func LoadInstance(dir string) (*Instance, error) {
	path := filepath.Join(dir, "instance.env")
	if err := godotenv.Overload(path); err != nil {
		return nil, fmt.Errorf("config: loading %s: %w", path, err)
	}

	inst := &Instance{
		ID:                    getenvDefault("INSTANCE_ID", filepath.Base(dir)),
		UnixSocket:            os.Getenv("UNIX_SOCKET"),
		MinConnections:        getenvInt("MIN_CONNECTIONS", 1),
		MaxConnections:        getenvInt("MAX_CONNECTIONS", 10),
		GrowBy:                getenvInt("GROW_BY", 1),
		MaxQueueLength:        getenvInt("MAX_QUEUE_LENGTH", 0),
		TTL:                   getenvDuration("TTL", 10*time.Minute),
		IdleClientTimeout:     getenvDuration("IDLE_CLIENT_TIMEOUT", 5*time.Minute),
		ListenerTimeout:       getenvDuration("LISTENER_TIMEOUT", 30*time.Second),
		MaxListeners:          getenvInt("MAX_LISTENERS", 64),
		DynamicScaling:        getenvBool("DYNAMIC_SCALING", true),
		AllowPattern:          os.Getenv("ALLOW_PATTERN"),
		DenyPattern:           os.Getenv("DENY_PATTERN"),
		FakeTransactionBlocks: getenvBool("FAKE_TRANSACTION_BLOCKS", false),
		MonitorAddr:           getenvDefault("MONITOR_ADDR", "127.0.0.1:8600"),
		LogDir:                getenvDefault("LOG_DIR", filepath.Join(dir, "log")),
	}
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		inst.ListenAddrs = []string{addr}
	} else {
		inst.ListenAddrs = []string{"127.0.0.1:9000"}
	}

	inst.Limits = wireproto.Limits{
		MaxQuerySize:             uint32(getenvInt("MAX_QUERY_SIZE", 1<<20)),
		MaxBindCount:             uint32(getenvInt("MAX_BIND_COUNT", 256)),
		MaxBindNameLength:        uint8(getenvInt("MAX_BIND_NAME_LENGTH", 255)),
		MaxStringBindValueLength: uint32(getenvInt("MAX_STRING_BIND_VALUE_LENGTH", 1<<20)),
		MaxLobBindValueLength:    uint32(getenvInt("MAX_LOB_BIND_VALUE_LENGTH", 1<<26)),
		MaxErrorLength:           uint32(getenvInt("MAX_ERROR_LENGTH", 4096)),
		MaxClientInfoLength:      uint32(getenvInt("MAX_CLIENT_INFO_LENGTH", 512)),
	}

	return inst, nil
}

// LoadConnections reads every conn.*.env file in dir, in sorted filename
// order (matching the numbered .dsnN convention).
func LoadConnections(dir string) ([]*Connection, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "conn.*.env"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	conns := make([]*Connection, 0, len(matches))
	for _, path := range matches {
		if err := godotenv.Overload(path); err != nil {
			return nil, fmt.Errorf("config: loading %s: %w", path, err)
		}
		name := connNameFromPath(path)
		conns = append(conns, &Connection{
			Name:   name,
			Driver: getenvDefault("DRIVER", "mysql"),
			Params: map[string]string{
				"host":     os.Getenv("HOST"),
				"port":     getenvDefault("PORT", "3306"),
				"user":     os.Getenv("USR"),
				"password": os.Getenv("PASS"),
				"database": os.Getenv("DB"),
			},
			Metric:              getenvInt("METRIC", 1),
			ConnectionID:        getenvDefault("CONNECTION_ID", name),
			PingInterval:        getenvDuration("PING_INTERVAL", 30*time.Second),
			LoginTries:          getenvInt("LOGIN_TRIES", 3),
			CursorPoolSize:      getenvInt("CURSOR_POOL_SIZE", 8),
			ResultSetBufferSize: getenvInt("RESULT_SET_BUFFER_SIZE", 50),
		})
	}
	return conns, nil
}

func connNameFromPath(path string) string {
	base := filepath.Base(path)
	base = base[len("conn."):]
	if len(base) > len(".env") {
		return base[:len(base)-len(".env")]
	}
	return base
}
