// Command cdcreplicator runs the binlog replication consumer
// (spec.md §4.8-4.14): it connects to an upstream MariaDB primary as
// a replica, decodes its binlog stream, and emits typed change
// records to one of the pluggable sinks.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mysqlrepl "github.com/go-mysql-org/go-mysql/replication"
	"go.uber.org/zap"

	"github.com/mariadb-corp/nosqlbridge/internal/config"
	"github.com/mariadb-corp/nosqlbridge/internal/downstream"
	"github.com/mariadb-corp/nosqlbridge/internal/filter"
	"github.com/mariadb-corp/nosqlbridge/internal/logging"
	"github.com/mariadb-corp/nosqlbridge/internal/replication"
	"github.com/mariadb-corp/nosqlbridge/internal/schema"
	"github.com/mariadb-corp/nosqlbridge/internal/sink"
	"github.com/mariadb-corp/nosqlbridge/internal/statestore"
	"github.com/mariadb-corp/nosqlbridge/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logFile := flag.String("log-file", "", "log file path (stderr if empty)")
	sinkKind := flag.String("sink", "file", "sink variant: file, messagebus, loader")
	sinkDir := flag.String("sink-dir", "", "container-file directory (sink=file)")
	sinkBrokers := flag.String("sink-brokers", "", "comma-separated Kafka brokers (sink=messagebus)")
	sinkTopic := flag.String("sink-topic", "", "Kafka topic (sink=messagebus)")
	sinkDSN := flag.String("sink-dsn", "", "downstream DSN (sink=loader)")
	catalogDSN := flag.String("catalog-dsn", "", "upstream DSN used for SHOW CREATE TABLE / metadata bootstrap")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := config.ValidateReplication(&cfg.Replication); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(logging.Options{Level: *logLevel, File: *logFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	sk, err := buildSink(*sinkKind, *sinkDir, *sinkBrokers, *sinkTopic, *sinkDSN, log)
	if err != nil {
		log.Fatal("failed to build sink", zap.Error(err))
	}
	defer sk.Close()

	catalog, err := downstream.NewCatalog(*catalogDSN)
	if err != nil {
		log.Fatal("failed to open catalog connection", zap.Error(err))
	}
	defer catalog.Close()

	f, err := filter.New(cfg.Replication.Match, cfg.Replication.Exclude)
	if err != nil {
		log.Fatal("invalid filter configuration", zap.Error(err))
	}

	tracker := schema.NewTracker()
	store, err := statestore.Open(statePath(cfg.Replication.StateDir))
	if err != nil {
		log.Fatal("failed to open state store", zap.Error(err))
	}
	defer store.Close()

	committed := replication.NewGtidList()
	decoder := replication.NewDecoder(tracker, sk, f, catalog, log, committed)

	sup := supervisor.New(
		supervisor.Config{
			ReplicationConfig: replication.Config{
				ServerID:       cfg.Replication.ServerID,
				User:           cfg.Replication.User,
				Password:       cfg.Replication.Password,
				ConnectTimeout: time.Duration(cfg.Replication.TimeoutSeconds) * time.Second,
			},
			PollInterval:     time.Second,
			ReconnectBackoff: 5 * time.Second,
			StartPosition:    startPositionResolver(cfg.Replication.GTIDStart, catalog),
		},
		log, store, tracker, sk, catalog, staticCandidatesOf(cfg.Replication.Hosts), nil,
	)

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		<-ctx.Done()
		sup.Stop()
	}()

	if err := sup.Run(ctx, func(ev *mysqlrepl.BinlogEvent) error {
		if err := decoder.HandleEvent(ev); err != nil {
			return err
		}
		return store.Save(committed)
	}); err != nil {
		log.Error("supervisor exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func statePath(dir string) string {
	return dir + "/replication.pos"
}

// startPositionResolver implements the gtid_start configuration value
// (§6): "newest" asks the upstream for @@gtid_binlog_pos; "oldest" is
// not supported (replication.FetchStartPosition returns an error for
// it); a comma-list is parsed directly; empty means no override is
// configured.
func startPositionResolver(gtidStart string, catalog *downstream.Catalog) func() (*replication.GtidList, error) {
	switch gtidStart {
	case "":
		return nil
	case "newest":
		return func() (*replication.GtidList, error) {
			return replication.FetchStartPosition(catalog, true)
		}
	case "oldest":
		return func() (*replication.GtidList, error) {
			return replication.FetchStartPosition(catalog, false)
		}
	default:
		return func() (*replication.GtidList, error) {
			return replication.ParseGtidList(gtidStart)
		}
	}
}

func staticCandidatesOf(hosts []string) supervisor.StaticCandidates {
	candidates := make(supervisor.StaticCandidates, 0, len(hosts))
	for _, h := range hosts {
		host, port := splitHostPort(h)
		candidates = append(candidates, replication.Candidate{Host: host, Port: port})
	}
	return candidates
}

func splitHostPort(hostport string) (string, uint16) {
	idx := strings.LastIndex(hostport, ":")
	if idx < 0 {
		return hostport, 3306
	}
	host := hostport[:idx]
	var port uint16
	fmt.Sscanf(hostport[idx+1:], "%d", &port)
	if port == 0 {
		port = 3306
	}
	return host, port
}

// buildSink constructs the configured RowEventSink variant (§4.11).
func buildSink(kind, dir, brokers, topic, dsn string, log *zap.Logger) (sink.Sink, error) {
	switch kind {
	case "file":
		return sink.NewFileSink(dir, log)
	case "messagebus":
		return sink.NewMessageBusSink(strings.Split(brokers, ","), topic, log)
	case "loader":
		return sink.NewLoaderSink(dsn)
	default:
		return nil, fmt.Errorf("unknown sink kind %q", kind)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}
