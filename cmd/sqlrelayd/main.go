// Command sqlrelayd is the connection pooling/proxying daemon: it loads one
// instance's configuration, starts a connection daemon per configured
// backend, a scaler to grow/shrink the pool, a listener to accept clients,
// and a monitor HTTP surface, each running in its own goroutine.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"sqlrelay/internal/config"
	"sqlrelay/internal/daemon"
	"sqlrelay/internal/driverapi"
	"sqlrelay/internal/driverapi/mymysqldriver"
	"sqlrelay/internal/driverapi/mysqldriver"
	"sqlrelay/internal/driverapi/stubdriver"
	"sqlrelay/internal/handoff"
	"sqlrelay/internal/listener"
	"sqlrelay/internal/logging"
	"sqlrelay/internal/monitor"
	"sqlrelay/internal/rendezvous"
	"sqlrelay/internal/scaler"
)

func newDriver(name string) (driverapi.Driver, error) {
	switch name {
	case "mysql":
		return mysqldriver.New(), nil
	case "mymysql":
		return mymysqldriver.New(), nil
	case "stub":
		return stubdriver.New(), nil
	default:
		return nil, fmt.Errorf("sqlrelayd: unknown driver %q", name)
	}
}

func main() {
	dir := flag.String("instance-dir", "", "instance directory containing instance.env and conn.*.env")
	flag.Parse()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "sqlrelayd: -instance-dir is required")
		os.Exit(1)
	}

	inst, err := config.LoadInstance(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sqlrelayd: %v\n", err)
		os.Exit(1)
	}
	conns, err := config.LoadConnections(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sqlrelayd: %v\n", err)
		os.Exit(1)
	}
	if len(conns) == 0 {
		fmt.Fprintln(os.Stderr, "sqlrelayd: no conn.*.env files found")
		os.Exit(1)
	}

	if err := writePidFile(*dir); err != nil {
		fmt.Fprintf(os.Stderr, "sqlrelayd: %v\n", err)
		os.Exit(1)
	}
	defer os.Remove(pidFilePath(*dir))

	log, err := logging.NewDebugLogger(inst.LogDir, logrus.InfoLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sqlrelayd: %v\n", err)
		os.Exit(1)
	}
	audit := logging.NewAuditLogger(inst.LogDir)

	block := rendezvous.NewBlock(uint32(inst.MaxListeners))
	broker := handoff.NewBroker()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Primary connection template used for dynamically grown daemons; a
	// heterogeneous pool (distinct backends per conn.*.env) only grows
	// along the first entry's parameters, since there is no way to decide
	// which of several distinct backends a newly grown daemon should
	// target.
	primary := conns[0]

	factory := func(id string, slot *rendezvous.SlotHandle) *daemon.Daemon {
		drv, err := newDriver(primary.Driver)
		if err != nil {
			logging.Dbg(log, "sqlrelayd", "scaler: %v", err)
			drv = stubdriver.New()
		}
		cfg := daemonConfig(inst, primary)
		cfg.ID = id
		return daemon.New(cfg, drv, block, slot, broker, audit, log)
	}

	sc := scaler.New(scaler.Config{
		MinConnections: inst.MinConnections,
		MaxConnections: inst.MaxConnections,
		GrowBy:         inst.GrowBy,
		MaxQueueLength: inst.MaxQueueLength,
		TTL:            inst.TTL,
	}, block, factory, inst.ID, log)

	for _, c := range conns {
		slot, err := block.ReserveSlot()
		if err != nil {
			logging.Dbg(log, "sqlrelayd", "reserving slot for %s: %v", c.Name, err)
			continue
		}
		drv, err := newDriver(c.Driver)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sqlrelayd: %v\n", err)
			os.Exit(1)
		}
		d := daemon.New(daemonConfig(inst, c), drv, block, slot, broker, audit, log)
		sc.Seed(ctx, slot, d)
	}

	go sc.Run(ctx)

	ln, err := listener.New(listener.Config{
		ListenAddrs:     inst.ListenAddrs,
		UnixSocket:      inst.UnixSocket,
		MaxListeners:    inst.MaxListeners,
		ListenerTimeout: inst.ListenerTimeout,
		DynamicScaling:  inst.DynamicScaling,
		AllowPattern:    inst.AllowPattern,
		DenyPattern:     inst.DenyPattern,
	}, block, broker, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sqlrelayd: %v\n", err)
		os.Exit(1)
	}
	go func() {
		if err := ln.Run(ctx); err != nil {
			logging.Dbg(log, "sqlrelayd", "listener exited: %v", err)
		}
	}()

	mon := monitor.New(block, log)
	router := mux.NewRouter()
	mon.Routes(router)
	monSrv := &http.Server{Addr: inst.MonitorAddr, Handler: router}
	go func() {
		if err := monSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Dbg(log, "sqlrelayd", "monitor server exited: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Infof("sqlrelayd: %s shutting down", inst.ID)
	cancel()
	_ = monSrv.Shutdown(context.Background())
}

func daemonConfig(inst *config.Instance, c *config.Connection) daemon.Config {
	return daemon.Config{
		ID:                    c.ConnectionID,
		ConnectParams:         c.Params,
		CursorPoolSize:        c.CursorPoolSize,
		ResultSetBufSize:      c.ResultSetBufferSize,
		PingInterval:          c.PingInterval,
		LoginTries:            c.LoginTries,
		Limits:                inst.Limits,
		FakeTransactionBlocks: inst.FakeTransactionBlocks,
		IdleClientTimeout:     inst.IdleClientTimeout,
	}
}

func pidFilePath(dir string) string {
	return filepath.Join(dir, "sqlrelayd.pid")
}

// writePidFile records this process's pid next to the instance's config so
// sqlrelayctl stop can find it without a separate registry.
func writePidFile(dir string) error {
	return os.WriteFile(pidFilePath(dir), []byte(strconv.Itoa(os.Getpid())), 0o644)
}
