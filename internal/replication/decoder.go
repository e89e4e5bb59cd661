package replication

import (
	"fmt"
	"strings"

	mysqlrepl "github.com/go-mysql-org/go-mysql/replication"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mariadb-corp/nosqlbridge/internal/classify"
	"github.com/mariadb-corp/nosqlbridge/internal/filter"
	"github.com/mariadb-corp/nosqlbridge/internal/schema"
	"github.com/mariadb-corp/nosqlbridge/internal/sink"
	"github.com/mariadb-corp/nosqlbridge/internal/tokenizer"
)

// DecodeError reports a malformed event (§4.9): a negative claimed
// size, or an event body that is not of the type its header names.
// An event's next_pos is not checked against the file position.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return fmt.Sprintf("DECODE_ERROR: %s", e.Reason) }

// SchemaFetcher resolves a table's current definition from the
// upstream when SchemaTracker has no binding yet (SHOW CREATE TABLE
// bootstrap, §4.9).
type SchemaFetcher interface {
	ShowCreateTable(database, table string) (string, error)
}

// Decoder is the stateful EventDecoder of §4.9: it owns ActiveMaps
// (table_id → schema binding), the current GTID, and dispatches
// decoded rows to a RowEventSink.
type Decoder struct {
	tracker  *schema.Tracker
	sink     sink.Sink
	filter   *filter.Filter
	fetcher  SchemaFetcher
	log      *zap.Logger
	committed *GtidList

	activeMaps map[uint64]*schema.TableSchema
	skipTable  map[uint64]bool

	current         GTID
	implicitCommit  bool
	bitWarned       bool
	typeWarned      bool
}

func NewDecoder(tracker *schema.Tracker, sk sink.Sink, f *filter.Filter, fetcher SchemaFetcher, log *zap.Logger, committed *GtidList) *Decoder {
	return &Decoder{
		tracker:    tracker,
		sink:       sk,
		filter:     f,
		fetcher:    fetcher,
		log:        log,
		committed:  committed,
		activeMaps: make(map[uint64]*schema.TableSchema),
		skipTable:  make(map[uint64]bool),
	}
}

// HandleEvent dispatches one binlog event per its type (§4.9).
func (d *Decoder) HandleEvent(ev *mysqlrepl.BinlogEvent) error {
	if int32(ev.Header.EventSize) < 0 {
		return &DecodeError{Reason: "negative claimed event size"}
	}

	switch ev.Header.EventType {
	case mysqlrepl.ROTATE_EVENT:
		return nil // safe-stop point; file tracking lives in BinlogClient/Supervisor
	case mysqlrepl.FORMAT_DESCRIPTION_EVENT:
		return nil // header-length/checksum setup is handled by the syncer itself
	case mysqlrepl.MARIADB_GTID_EVENT:
		return d.handleGTID(ev)
	case mysqlrepl.TABLE_MAP_EVENT:
		return d.handleTableMap(ev)
	case mysqlrepl.WRITE_ROWS_EVENTv0, mysqlrepl.WRITE_ROWS_EVENTv1, mysqlrepl.WRITE_ROWS_EVENTv2:
		return d.handleRows(ev, sink.Write)
	case mysqlrepl.UPDATE_ROWS_EVENTv0, mysqlrepl.UPDATE_ROWS_EVENTv1, mysqlrepl.UPDATE_ROWS_EVENTv2:
		return d.handleUpdateRows(ev)
	case mysqlrepl.DELETE_ROWS_EVENTv0, mysqlrepl.DELETE_ROWS_EVENTv1, mysqlrepl.DELETE_ROWS_EVENTv2:
		return d.handleRows(ev, sink.Delete)
	case mysqlrepl.QUERY_EVENT:
		return d.handleQuery(ev)
	case mysqlrepl.XID_EVENT:
		return d.handleXID()
	case mysqlrepl.HEARTBEAT_EVENT:
		return nil // safe-stop point; no data
	default:
		return nil
	}
}

func (d *Decoder) handleGTID(ev *mysqlrepl.BinlogEvent) error {
	gev, ok := ev.Event.(*mysqlrepl.MariadbGTIDEvent)
	if !ok {
		return &DecodeError{Reason: "malformed MARIADB_GTID_EVENT"}
	}
	d.current = GTID{
		Domain:    gev.GTID.DomainID,
		ServerID:  gev.GTID.ServerID,
		Sequence:  gev.GTID.SequenceNumber,
		Timestamp: ev.Header.Timestamp,
	}
	// FLStandalone marks a GTID that carries its own statement (typically
	// DDL) rather than wrapping it in a BEGIN/COMMIT pair — no XID_EVENT
	// follows, so the query event that applies it is itself the commit
	// boundary (§3, §4.9).
	d.implicitCommit = gev.Flags&mysqlrepl.FLStandalone != 0
	return nil
}

func (d *Decoder) handleTableMap(ev *mysqlrepl.BinlogEvent) error {
	tme, ok := ev.Event.(*mysqlrepl.TableMapEvent)
	if !ok {
		return &DecodeError{Reason: "malformed TABLE_MAP_EVENT"}
	}
	db := string(tme.Schema)
	table := string(tme.Table)

	if !d.filter.Allows(db, table) {
		d.skipTable[tme.TableID] = true
		return nil
	}

	tracked, ok := d.tracker.Lookup(db, table)
	if !ok {
		if err := d.bootstrapSchema(db, table); err != nil {
			d.log.Error("schema bootstrap failed", zap.String("table", db+"."+table), zap.Error(err))
			d.skipTable[tme.TableID] = true
			return nil
		}
		tracked, ok = d.tracker.Lookup(db, table)
		if !ok {
			d.skipTable[tme.TableID] = true
			return nil
		}
	}

	if len(tracked.Columns) != int(tme.ColumnCount) {
		d.log.Error("column count mismatch, dropping table",
			zap.String("table", db+"."+table),
			zap.Int("tracked", len(tracked.Columns)), zap.Uint64("binlog", tme.ColumnCount))
		d.skipTable[tme.TableID] = true
		return nil
	}

	d.activeMaps[tme.TableID] = tracked
	delete(d.skipTable, tme.TableID)
	return nil
}

func (d *Decoder) bootstrapSchema(db, table string) error {
	ddl, err := d.fetcher.ShowCreateTable(db, table)
	if err != nil {
		return fmt.Errorf("SHOW CREATE TABLE %s.%s: %w", db, table, err)
	}
	return d.tracker.Apply(db, tokenizer.Normalize(ddl), d.current)
}

func (d *Decoder) handleUpdateRows(ev *mysqlrepl.BinlogEvent) error {
	re, ok := ev.Event.(*mysqlrepl.RowsEvent)
	if !ok {
		return &DecodeError{Reason: "malformed UPDATE_ROWS_EVENT"}
	}
	if d.skipTable[re.TableID] {
		return nil
	}
	tracked, ok := d.activeMaps[re.TableID]
	if !ok {
		return nil
	}
	for i := 0; i+1 < len(re.Rows); i += 2 {
		if err := d.commitRow(tracked, re.Rows[i], sink.Update); err != nil {
			return err
		}
		if err := d.commitRow(tracked, re.Rows[i+1], sink.UpdateAfter); err != nil {
			return err
		}
	}
	return nil
}

func (d *Decoder) handleRows(ev *mysqlrepl.BinlogEvent, kind sink.RecordType) error {
	re, ok := ev.Event.(*mysqlrepl.RowsEvent)
	if !ok {
		return &DecodeError{Reason: "malformed ROWS_EVENT"}
	}
	if d.skipTable[re.TableID] {
		return nil
	}
	tracked, ok := d.activeMaps[re.TableID]
	if !ok {
		return nil
	}
	for _, row := range re.Rows {
		if err := d.commitRow(tracked, row, kind); err != nil {
			return err
		}
	}
	return nil
}

func (d *Decoder) commitRow(tracked *schema.TableSchema, row []interface{}, kind sink.RecordType) error {
	d.current.EventNum++
	hdr := sink.Header{
		Domain:      d.current.Domain,
		ServerID:    d.current.ServerID,
		Sequence:    d.current.Sequence,
		EventNumber: d.current.EventNum,
		Timestamp:   d.current.Timestamp,
		EventType:   kind,
	}
	if err := d.sink.PrepareTable(tracked); err != nil {
		return fmt.Errorf("prepare_table: %w", err)
	}
	if !tracked.IsOpen {
		// First use of this schema version (§4.11 "called on first use or
		// when version bumps").
		if err := d.sink.CreateTable(tracked); err != nil {
			return fmt.Errorf("create_table: %w", err)
		}
		if err := d.sink.OpenTable(tracked); err != nil {
			return fmt.Errorf("open_table: %w", err)
		}
		d.tracker.MarkOpened(tracked.Database, tracked.Table)
		tracked.IsOpen = true
	}
	if err := d.sink.PrepareRow(tracked, d.current, hdr); err != nil {
		return fmt.Errorf("prepare_row: %w", err)
	}
	for i, v := range row {
		d.emitColumn(tracked, i, v)
	}
	return d.sink.Commit(tracked, d.current)
}

// emitColumn dispatches one decoded column value to the typed
// RowEventSink method matching its Go runtime type, since
// go-mysql-org/go-mysql's RowsEvent already decodes raw binlog bytes
// into native Go values per the table map's column types.
func (d *Decoder) emitColumn(tracked *schema.TableSchema, index int, v interface{}) {
	if index < len(tracked.Columns) && tracked.Columns[index].Type == "BIT" {
		// BIT columns are decoded as zero, with a one-time warning.
		if !d.bitWarned {
			d.log.Warn("BIT column decoded as zero", zap.String("table", tracked.Database+"."+tracked.Table))
			d.bitWarned = true
		}
		d.sink.ColumnLong(tracked, index, 0)
		return
	}
	switch val := v.(type) {
	case nil:
		d.sink.ColumnNull(tracked, index)
	case int8:
		d.sink.ColumnInt(tracked, index, int64(val))
	case int16:
		d.sink.ColumnInt(tracked, index, int64(val))
	case int32:
		d.sink.ColumnInt(tracked, index, int64(val))
	case int64:
		d.sink.ColumnLong(tracked, index, val)
	case uint8:
		d.sink.ColumnInt(tracked, index, int64(val))
	case uint16:
		d.sink.ColumnInt(tracked, index, int64(val))
	case uint32:
		d.sink.ColumnInt(tracked, index, int64(val))
	case uint64:
		d.sink.ColumnLong(tracked, index, int64(val))
	case float32:
		d.sink.ColumnFloat(tracked, index, val)
	case float64:
		d.sink.ColumnDouble(tracked, index, val)
	case string:
		d.sink.ColumnString(tracked, index, val)
	case []byte:
		d.sink.ColumnBytes(tracked, index, val)
	case decimal.Decimal:
		// DECIMAL columns decode via go-mysql-org/go-mysql's own
		// shopspring/decimal-backed scaled-BCD reader; carried through
		// as its canonical string form rather than a lossy float64.
		d.sink.ColumnString(tracked, index, val.String())
	default:
		if !d.typeWarned {
			d.log.Warn("unrecognized column value type emitted as null", zap.String("go_type", fmt.Sprintf("%T", v)))
			d.typeWarned = true
		}
		d.sink.ColumnNull(tracked, index)
	}
}

func (d *Decoder) handleQuery(ev *mysqlrepl.BinlogEvent) error {
	qe, ok := ev.Event.(*mysqlrepl.QueryEvent)
	if !ok {
		return &DecodeError{Reason: "malformed QUERY_EVENT"}
	}
	db := string(qe.Schema)
	stmt := tokenizer.Normalize(string(qe.Query))

	if strings.EqualFold(stmt, "COMMIT") {
		return d.handleXID()
	}
	if isDDL(stmt) {
		if err := d.tracker.Apply(db, stmt, d.current); err != nil {
			d.log.Warn("DDL parse failed, statement skipped", zap.String("stmt", stmt), zap.Error(err))
		}
		if d.implicitCommit {
			// A standalone DDL transaction has no following XID_EVENT;
			// this query event is the only commit boundary it gets.
			d.committed.Set(d.current)
		}
		return nil
	}
	if classify.IsRowModifying(stmt) {
		d.log.Warn("row-modifying statement seen in replication stream; binlog_format is not ROW", zap.String("stmt", stmt))
	}
	return nil
}

func isDDL(stmt string) bool {
	upper := strings.ToUpper(stmt)
	for _, kw := range []string{"CREATE TABLE", "CREATE OR REPLACE TABLE", "DROP TABLE", "ALTER TABLE", "RENAME TABLE"} {
		if strings.HasPrefix(upper, kw) {
			return true
		}
	}
	return false
}

func (d *Decoder) handleXID() error {
	if err := d.sink.FlushTables(); err != nil {
		return fmt.Errorf("flush_tables: %w", err)
	}
	d.committed.Set(d.current)
	return nil
}
