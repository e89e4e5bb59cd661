package replication

import (
	"context"
	"fmt"
	"time"

	mysqlrepl "github.com/go-mysql-org/go-mysql/replication"
	"go.uber.org/zap"
)

// idleTimeout bounds each GetEvent wait so that a stop signal is
// observed within 5 seconds even on a quiet stream (§4.8).
const idleTimeout = 5 * time.Second

// Candidate is one upstream server BinlogClient may connect to.
type Candidate struct {
	Host string
	Port uint16
}

// Config configures one BinlogClient connection.
type Config struct {
	ServerID       uint32
	User           string
	Password       string
	HeartbeatEvery time.Duration
	ConnectTimeout time.Duration
}

// Client owns a single upstream replication connection (§4.8
// BinlogClient). Connect selects a candidate, negotiates the
// handshake, and starts streaming from a committed GtidList; events
// are then read from the returned streamer with NextEvent. After a
// network error the caller reconnects by calling Connect again.
type Client struct {
	cfg   Config
	log   *zap.Logger
	syncer *mysqlrepl.BinlogSyncer
}

func NewClient(cfg Config, log *zap.Logger) *Client {
	return &Client{cfg: cfg, log: log}
}

// Connect performs the §4.8 connect sequence: pick a candidate, issue
// handshake queries via the syncer's own setup path, then start
// replication from position using the configured numeric server_id.
func (c *Client) Connect(candidates []Candidate, position *GtidList) (*mysqlrepl.BinlogStreamer, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("CONNECTION_LOST: no candidate servers available")
	}

	var lastErr error
	for _, cand := range candidates {
		streamer, err := c.connectTo(cand, position)
		if err == nil {
			return streamer, nil
		}
		c.log.Warn("binlog candidate failed, trying next",
			zap.String("host", cand.Host), zap.Uint16("port", cand.Port), zap.Error(err))
		lastErr = err
	}
	return nil, fmt.Errorf("CONNECTION_LOST: all candidates exhausted: %w", lastErr)
}

func (c *Client) connectTo(cand Candidate, position *GtidList) (*mysqlrepl.BinlogStreamer, error) {
	syncCfg := mysqlrepl.BinlogSyncerConfig{
		ServerID:        c.cfg.ServerID,
		Flavor:          "mariadb",
		Host:            cand.Host,
		Port:            cand.Port,
		User:            c.cfg.User,
		Password:        c.cfg.Password,
		HeartbeatPeriod: c.cfg.HeartbeatEvery,
		ReadTimeout:     c.cfg.ConnectTimeout,
		UseDecimal:      true,
		ParseTime:       true,
		VerifyChecksum:  true,
	}
	if syncCfg.HeartbeatPeriod == 0 {
		syncCfg.HeartbeatPeriod = 30 * time.Second
	}

	if c.syncer != nil {
		c.syncer.Close()
	}
	c.syncer = mysqlrepl.NewBinlogSyncer(syncCfg)

	if position.Empty() {
		return nil, fmt.Errorf("BinlogClient.Connect requires a non-empty starting GtidList; caller must resolve FetchStartPosition first")
	}
	gset, err := position.ToMariadbGTIDSet()
	if err != nil {
		return nil, fmt.Errorf("DECODE_ERROR: invalid committed position: %w", err)
	}
	streamer, err := c.syncer.StartSyncGTID(gset)
	if err != nil {
		return nil, fmt.Errorf("CONNECTION_LOST: start replication: %w", err)
	}
	return streamer, nil
}

// FetchStartPosition queries the upstream for a fresh starting point
// when the committed GtidList is empty (§4.8). With newest set it
// reads @@gtid_binlog_pos. The oldest position is not looked up: with
// newest false it returns an error.
func FetchStartPosition(dsnQuerier interface {
	QueryRow(query string, args ...interface{}) RowScanner
}, newest bool) (*GtidList, error) {
	if !newest {
		return nil, fmt.Errorf("oldest-position discovery is not supported: only the newest position (@@gtid_binlog_pos) can be fetched")
	}
	var raw string
	if err := dsnQuerier.QueryRow("SELECT @@gtid_binlog_pos").Scan(&raw); err != nil {
		return nil, fmt.Errorf("fetch @@gtid_binlog_pos: %w", err)
	}
	return ParseGtidList(raw)
}

// RowScanner is the minimal *sql.Row surface FetchStartPosition needs,
// kept narrow so callers can pass a *sql.DB, *sql.Conn, or a test double.
type RowScanner interface {
	Scan(dest ...interface{}) error
}

// NextEvent blocks for at most idleTimeout waiting for the next binlog
// event, returning (nil, nil) on an idle timeout so the caller can
// re-check its stop flag promptly (§4.8, §5 Cancellation).
func NextEvent(ctx context.Context, streamer *mysqlrepl.BinlogStreamer) (*mysqlrepl.BinlogEvent, error) {
	waitCtx, cancel := context.WithTimeout(ctx, idleTimeout)
	defer cancel()
	ev, err := streamer.GetEvent(waitCtx)
	if err != nil {
		if err == context.DeadlineExceeded {
			return nil, nil
		}
		return nil, err
	}
	return ev, nil
}

// Close releases the underlying syncer's connection.
func (c *Client) Close() {
	if c.syncer != nil {
		c.syncer.Close()
	}
}
