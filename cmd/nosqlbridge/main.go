// Command nosqlbridge runs the document-protocol-to-SQL bridge server
// (spec.md §4.1-4.7): it accepts client connections, frames their
// requests, and dispatches each to the backing relational engine.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/mariadb-corp/nosqlbridge/internal/cache"
	"github.com/mariadb-corp/nosqlbridge/internal/config"
	"github.com/mariadb-corp/nosqlbridge/internal/dispatcher"
	"github.com/mariadb-corp/nosqlbridge/internal/downstream"
	"github.com/mariadb-corp/nosqlbridge/internal/logging"
	"github.com/mariadb-corp/nosqlbridge/internal/wire"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logFile := flag.String("log-file", "", "log file path (stderr if empty)")
	listen := flag.String("listen", "", "override bridge.listen from the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Bridge.Listen = *listen
	}
	if err := config.ValidateBridge(&cfg.Bridge); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(logging.Options{Level: *logLevel, File: *logFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	down, err := downstream.Open(cfg.Bridge.DownstreamDSN)
	if err != nil {
		log.Fatal("failed to open downstream connection", zap.Error(err))
	}
	defer down.Close()

	d := dispatcher.New(log, cache.New(), cfg.Bridge.AutoCreateTables)
	d.RegisterDefaults()

	ln, err := net.Listen("tcp", cfg.Bridge.Listen)
	if err != nil {
		log.Fatal("failed to listen", zap.String("addr", cfg.Bridge.Listen), zap.Error(err))
	}
	log.Info("bridge listening", zap.String("addr", cfg.Bridge.Listen))

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Error("accept failed", zap.Error(err))
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveSession(conn, d, down, log, cfg.Bridge.Authenticate)
		}()
	}
}

// serveSession runs one client-session context (§5): cooperative,
// single-threaded, at most one outstanding downstream request.
func serveSession(conn net.Conn, d *dispatcher.Dispatcher, down dispatcher.Downstream, log *zap.Logger, authenticate bool) {
	defer conn.Close()

	roles := dispatcher.NewRoleTable()
	if !authenticate {
		roles.Grant("admin", dispatcher.RoleReadWrite|dispatcher.RoleDBAdmin)
	}
	sess := dispatcher.NewSession("", conn.RemoteAddr().String(), "admin", roles)

	framer := &wire.Framer{}
	buf := make([]byte, 32*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			framer.Feed(buf[:n])
		}
		if err != nil {
			return // transport close is a terminal error (§7)
		}

		for {
			raw, ok, ferr := framer.Next()
			if ferr != nil {
				log.Warn("malformed frame, closing session", zap.Error(ferr))
				return
			}
			if !ok {
				break
			}
			if err := handleFrame(raw, sess, d, down, conn); err != nil {
				log.Warn("session terminated", zap.Error(err))
				return
			}
		}
	}
}

func handleFrame(raw []byte, sess *dispatcher.Session, d *dispatcher.Dispatcher, down dispatcher.Downstream, conn net.Conn) error {
	hdr, err := wire.DecodeHeader(raw)
	if err != nil {
		return err
	}
	req, err := wire.ParseBody(hdr, raw[wire.HeaderSize:])
	if err != nil {
		return err
	}
	resp, dispatched := d.Dispatch(sess, req, down)
	if dispatched && resp.Frame != nil {
		if _, err := conn.Write(resp.Frame); err != nil {
			return err
		}
	}
	for _, drained := range d.Drain(sess, down) {
		if drained.Frame != nil {
			if _, err := conn.Write(drained.Frame); err != nil {
				return err
			}
		}
	}
	return nil
}
