// Package supervisor owns the replication thread (spec.md §4.14): it
// drives the startup sequence, the connect/decode/reconnect loop, and
// a controlled stop that waits for a safe point before exiting.
package supervisor

import (
	"context"
	"fmt"
	"time"

	mysqlrepl "github.com/go-mysql-org/go-mysql/replication"
	"go.uber.org/zap"

	"github.com/mariadb-corp/nosqlbridge/internal/replication"
	"github.com/mariadb-corp/nosqlbridge/internal/schema"
	"github.com/mariadb-corp/nosqlbridge/internal/sink"
	"github.com/mariadb-corp/nosqlbridge/internal/statestore"
	"github.com/mariadb-corp/nosqlbridge/internal/tokenizer"
)

// Coordinator decides leadership in cooperative mode (§4.14 "yields
// ownership if cooperative mode indicates another instance holds the
// lead"). SingleInstance below is the always-leader default; a real
// cluster deployment supplies one backed by whatever lock service the
// host environment offers.
type Coordinator interface {
	IsLeader() bool
}

// SingleInstance is the cooperative-leader-election stub: this process
// is always the leader, matching a deployment with exactly one
// replication consumer.
type SingleInstance struct{}

func (SingleInstance) IsLeader() bool { return true }

// CandidateSource refreshes the list of upstream servers BinlogClient
// may connect to, evaluated once per supervisor pass so that a
// failover promotion is picked up without a restart.
type CandidateSource interface {
	Candidates() ([]replication.Candidate, error)
}

// StaticCandidates is a CandidateSource that never changes, for
// deployments without dynamic topology discovery.
type StaticCandidates []replication.Candidate

func (s StaticCandidates) Candidates() ([]replication.Candidate, error) { return []replication.Candidate(s), nil }

// MetadataLoader bootstraps SchemaTracker at startup (§4.14
// load_metadata): every table the filter would otherwise discover
// lazily at table-map time is pre-registered from the upstream's own
// catalog.
type MetadataLoader interface {
	ListTables() (map[string][]string, error) // database -> tables
	ShowCreateTable(database, table string) (string, error)
}

// Config bundles the tunables named in SPEC_FULL.md §1/§6.
type Config struct {
	ReplicationConfig replication.Config
	PollInterval      time.Duration
	ReconnectBackoff  time.Duration

	// StartPosition resolves a starting GtidList when neither the sink
	// nor the position file has one recorded (gtid_start = "newest" or
	// "oldest" in the enumerated configuration, §6). Nil means a fresh
	// stream cannot be started from empty state — Run then errors out.
	StartPosition func() (*replication.GtidList, error)
}

// Supervisor is the replication thread owner.
type Supervisor struct {
	cfg         Config
	log         *zap.Logger
	client      *replication.Client
	store       *statestore.Store
	tracker     *schema.Tracker
	sk          sink.Sink
	fetcher     MetadataLoader
	candidates  CandidateSource
	coordinator Coordinator

	stop chan struct{}
	done chan struct{}
}

func New(cfg Config, log *zap.Logger, store *statestore.Store, tracker *schema.Tracker, sk sink.Sink, fetcher MetadataLoader, candidates CandidateSource, coordinator Coordinator) *Supervisor {
	if coordinator == nil {
		coordinator = SingleInstance{}
	}
	return &Supervisor{
		cfg:         cfg,
		log:         log,
		client:      replication.NewClient(cfg.ReplicationConfig, log),
		store:       store,
		tracker:     tracker,
		sk:          sk,
		fetcher:     fetcher,
		candidates:  candidates,
		coordinator: coordinator,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// loadLatestGTID realizes "load_latest_gtid from sink (possibly
// overriding file)": the sink's own restored position, when present,
// takes precedence over the position file, since the sink is the
// authority on what was actually durably written.
func (s *Supervisor) loadLatestGTID() (*replication.GtidList, error) {
	if sinkGTID, ok, err := s.sk.LoadLatestGTID(); err != nil {
		return nil, fmt.Errorf("sink LoadLatestGTID: %w", err)
	} else if ok {
		list := replication.NewGtidList()
		list.Set(sinkGTID)
		return list, nil
	}
	list, err := s.store.Load()
	if err != nil {
		return nil, fmt.Errorf("load position file: %w", err)
	}
	if !list.Empty() {
		return list, nil
	}
	if s.cfg.StartPosition == nil {
		return nil, fmt.Errorf("no recorded replication position and no start position configured")
	}
	return s.cfg.StartPosition()
}

// loadMetadata realizes "load_metadata(datadir) into SchemaTracker":
// every table visible to fetcher is installed up front so table-map
// events never need a live SHOW CREATE TABLE round trip for a table
// that already existed before the stream started.
func (s *Supervisor) loadMetadata(committed replication.GTID) error {
	tables, err := s.fetcher.ListTables()
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	for db, names := range tables {
		for _, table := range names {
			ddl, err := s.fetcher.ShowCreateTable(db, table)
			if err != nil {
				s.log.Warn("metadata bootstrap skipped table", zap.String("table", db+"."+table), zap.Error(err))
				continue
			}
			if err := s.tracker.Apply(db, tokenizer.Normalize(ddl), committed); err != nil {
				s.log.Warn("metadata bootstrap DDL rejected", zap.String("table", db+"."+table), zap.Error(err))
			}
		}
	}
	return nil
}

// Run executes the full §4.14 lifecycle, calling handle for each
// decoded event until Stop is called or ctx is cancelled. Run returns
// once the event loop has exited at a safe stop point.
func (s *Supervisor) Run(ctx context.Context, handle func(*mysqlrepl.BinlogEvent) error) error {
	defer close(s.done)

	position, err := s.loadLatestGTID()
	if err != nil {
		return err
	}
	// Bootstrapped tables predate the stream's starting position, so
	// they are installed at the zero GTID; the first DDL event to
	// actually touch one of them will bump its version normally.
	if err := s.loadMetadata(replication.GTID{}); err != nil {
		s.log.Warn("metadata bootstrap incomplete", zap.Error(err))
	}

	for {
		select {
		case <-s.stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !s.coordinator.IsLeader() {
			s.log.Info("yielding: another instance holds the lead")
			if !sleepOrStop(s.cfg.PollInterval, s.stop) {
				return nil
			}
			continue
		}

		candidates, err := s.candidates.Candidates()
		if err != nil {
			s.log.Error("candidate refresh failed", zap.Error(err))
			if !sleepOrStop(s.cfg.ReconnectBackoff, s.stop) {
				return nil
			}
			continue
		}

		streamer, err := s.client.Connect(candidates, position)
		if err != nil {
			s.log.Error("connect failed, backing off", zap.Error(err))
			if !sleepOrStop(s.cfg.ReconnectBackoff, s.stop) {
				return nil
			}
			continue
		}

		if err := s.drive(ctx, streamer, handle); err != nil {
			s.log.Error("replication stream ended, reconnecting", zap.Error(err))
		}
	}
}

// drive runs the fetch/handle loop on one connected streamer until a
// stop is requested (honored only at a safe point: ROTATE, GTID, XID,
// HEARTBEAT — §4.14, §5 Cancellation) or the stream errors.
func (s *Supervisor) drive(ctx context.Context, streamer *mysqlrepl.BinlogStreamer, handle func(*mysqlrepl.BinlogEvent) error) error {
	atSafePoint := true
	for {
		if atSafePoint {
			select {
			case <-s.stop:
				return nil
			default:
			}
		}

		ev, err := replication.NextEvent(ctx, streamer)
		if err != nil {
			return fmt.Errorf("CONNECTION_LOST: %w", err)
		}
		if ev == nil {
			continue // idle timeout; loop head re-checks the stop flag if the last event was a safe point
		}
		if err := handle(ev); err != nil {
			s.log.Error("event handling failed", zap.Error(err))
		}
		atSafePoint = isSafeStopPoint(ev.Header.EventType)
		if atSafePoint {
			select {
			case <-s.stop:
				return nil
			default:
			}
		}
	}
}

func isSafeStopPoint(t mysqlrepl.EventType) bool {
	switch t {
	case mysqlrepl.ROTATE_EVENT, mysqlrepl.MARIADB_GTID_EVENT, mysqlrepl.XID_EVENT, mysqlrepl.HEARTBEAT_EVENT:
		return true
	default:
		return false
	}
}

// Stop requests a controlled stop; Run exits at the next safe point.
func (s *Supervisor) Stop() {
	close(s.stop)
	<-s.done
	s.client.Close()
}

func sleepOrStop(d time.Duration, stop chan struct{}) bool {
	if d <= 0 {
		d = time.Second
	}
	select {
	case <-time.After(d):
		return true
	case <-stop:
		return false
	}
}
