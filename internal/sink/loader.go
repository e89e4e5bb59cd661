package sink

import (
	"fmt"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/go-sql-driver/mysql"

	"github.com/mariadb-corp/nosqlbridge/internal/replication"
	"github.com/mariadb-corp/nosqlbridge/internal/schema"
)

// batchSize caps how many rows LoaderSink accumulates before a
// prepared-insert batch is issued, independent of the XID-driven
// flush boundary.
const batchSize = 500

// LoaderSink batches decoded rows into prepared INSERTs against a
// target relational engine, one (database, table) destination per
// source table, using the downstream SQL path the bridge side of this
// system already speaks (jmoiron/sqlx over go-sql-driver/mysql).
type LoaderSink struct {
	db *sqlx.DB

	mu      sync.Mutex
	pending map[string][]map[string]interface{}
	tables  map[string]*schema.TableSchema
	current *fileRecord
	currKey tableKey
}

func NewLoaderSink(dsn string) (*LoaderSink, error) {
	db, err := sqlx.Connect("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to loader target: %w", err)
	}
	return &LoaderSink{
		db:      db,
		pending: make(map[string][]map[string]interface{}),
		tables:  make(map[string]*schema.TableSchema),
	}, nil
}

func (s *LoaderSink) LoadLatestGTID() (replication.GTID, bool, error) {
	return replication.GTID{}, false, nil
}

func (s *LoaderSink) key(db, table string) string { return db + "." + table }

func (s *LoaderSink) CreateTable(sc *schema.TableSchema) error {
	var cols []string
	for _, c := range sc.Columns {
		cols = append(cols, fmt.Sprintf("`%s` %s", c.Name, columnDDL(c)))
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS `%s`.`%s` (%s)", sc.Database, sc.Table, strings.Join(cols, ", "))
	_, err := s.db.Exec(ddl)
	return err
}

func columnDDL(c schema.Column) string {
	typ := c.Type
	if c.Length > 0 {
		typ = fmt.Sprintf("%s(%d)", typ, c.Length)
	}
	if c.Unsigned {
		typ += " UNSIGNED"
	}
	return typ
}

func (s *LoaderSink) OpenTable(sc *schema.TableSchema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[s.key(sc.Database, sc.Table)] = sc
	return nil
}

func (s *LoaderSink) PrepareTable(sc *schema.TableSchema) error { return nil }

func (s *LoaderSink) PrepareRow(sc *schema.TableSchema, gtid replication.GTID, hdr Header) error {
	s.current = &fileRecord{hdr: hdr, columns: make(map[string]interface{}, len(sc.Columns))}
	s.currKey = tableKey{db: sc.Database, table: sc.Table}
	return nil
}

func (s *LoaderSink) setColumn(sc *schema.TableSchema, index int, value interface{}) {
	if s.current == nil || index < 0 || index >= len(sc.Columns) {
		return
	}
	s.current.columns[sc.Columns[index].Name] = value
}

func (s *LoaderSink) ColumnInt(sc *schema.TableSchema, index int, value int64) {
	s.setColumn(sc, index, value)
}
func (s *LoaderSink) ColumnLong(sc *schema.TableSchema, index int, value int64) {
	s.setColumn(sc, index, value)
}
func (s *LoaderSink) ColumnFloat(sc *schema.TableSchema, index int, value float32) {
	s.setColumn(sc, index, value)
}
func (s *LoaderSink) ColumnDouble(sc *schema.TableSchema, index int, value float64) {
	s.setColumn(sc, index, value)
}
func (s *LoaderSink) ColumnString(sc *schema.TableSchema, index int, value string) {
	s.setColumn(sc, index, value)
}
func (s *LoaderSink) ColumnBytes(sc *schema.TableSchema, index int, value []byte) {
	s.setColumn(sc, index, value)
}
func (s *LoaderSink) ColumnNull(sc *schema.TableSchema, index int) { s.setColumn(sc, index, nil) }

// Commit queues the current row image, whatever its event type, for a
// batched INSERT into the same-named target table: UPDATE and DELETE
// images are inserted as rows just like WRITE images, not applied as
// updates or deletes, and the "_event_type" value is not among the
// inserted columns (the decoder calls Commit uniformly per spec.md
// §4.9's per-row commit contract).
func (s *LoaderSink) Commit(sc *schema.TableSchema, gtid replication.GTID) error {
	if s.current == nil {
		return nil
	}
	key := s.key(sc.Database, sc.Table)
	rec := make(map[string]interface{}, len(s.current.columns)+1)
	for k, v := range s.current.columns {
		rec[k] = v
	}
	rec["_event_type"] = s.current.hdr.EventType.String()

	s.mu.Lock()
	s.pending[key] = append(s.pending[key], rec)
	shouldFlush := len(s.pending[key]) >= batchSize
	s.mu.Unlock()
	s.current = nil

	if shouldFlush {
		return s.flushTable(sc)
	}
	return nil
}

func (s *LoaderSink) flushTable(sc *schema.TableSchema) error {
	key := s.key(sc.Database, sc.Table)
	s.mu.Lock()
	rows := s.pending[key]
	delete(s.pending, key)
	s.mu.Unlock()
	if len(rows) == 0 {
		return nil
	}

	var colNames []string
	for _, c := range sc.Columns {
		colNames = append(colNames, c.Name)
	}
	placeholders := make([]string, len(rows))
	args := make([]interface{}, 0, len(rows)*len(colNames))
	for i, row := range rows {
		var ph []string
		for _, name := range colNames {
			ph = append(ph, "?")
			args = append(args, row[name])
		}
		placeholders[i] = "(" + strings.Join(ph, ", ") + ")"
	}
	quoted := make([]string, len(colNames))
	for i, n := range colNames {
		quoted[i] = "`" + n + "`"
	}
	stmt := fmt.Sprintf("INSERT INTO `%s`.`%s` (%s) VALUES %s",
		sc.Database, sc.Table, strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	_, err := s.db.Exec(stmt, args...)
	return err
}

func (s *LoaderSink) FlushTables() error {
	s.mu.Lock()
	keys := make([]string, 0, len(s.pending))
	for k := range s.pending {
		keys = append(keys, k)
	}
	tables := make(map[string]*schema.TableSchema, len(keys))
	for _, k := range keys {
		tables[k] = s.tables[k]
	}
	s.mu.Unlock()

	for k, sc := range tables {
		if sc == nil {
			continue
		}
		if err := s.flushTable(sc); err != nil {
			return fmt.Errorf("flush %s: %w", k, err)
		}
	}
	return nil
}

func (s *LoaderSink) Close() error {
	return s.db.Close()
}
