package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/mariadb-corp/nosqlbridge/internal/replication"
	"github.com/mariadb-corp/nosqlbridge/internal/schema"
)

// normIdent applies NFC normalization to a database/table identifier
// before it becomes part of a schema filename or an Avro namespace
// field, so two byte-distinct but canonically-equivalent names (e.g.
// combining vs precomposed accents) never produce two schema files.
func normIdent(s string) string {
	return norm.NFC.String(s)
}

// avroField mirrors one entry of the Avro field list described in §6
// Persisted state layout.
type avroField struct {
	Name     string   `json:"name"`
	Type     []string `json:"type"`
	RealType string   `json:"real_type,omitempty"`
	Length   int      `json:"length,omitempty"`
	Unsigned bool     `json:"unsigned,omitempty"`
}

type avroSchema struct {
	Namespace string      `json:"namespace"`
	Type      string      `json:"type"`
	Name      string      `json:"name"`
	Table     string      `json:"table"`
	Database  string      `json:"database"`
	Version   int         `json:"version"`
	GTID      string      `json:"gtid"`
	Fields    []avroField `json:"fields"`
}

var reservedFields = []avroField{
	{Name: "domain", Type: []string{"null", "int"}},
	{Name: "server_id", Type: []string{"null", "int"}},
	{Name: "sequence", Type: []string{"null", "int"}},
	{Name: "event_number", Type: []string{"null", "int"}},
	{Name: "timestamp", Type: []string{"null", "int"}},
	{Name: "event_type", Type: []string{"null", "enum"}},
}

func avroType(col schema.Column) string {
	switch col.Type {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER":
		return "int"
	case "BIGINT":
		return "long"
	case "FLOAT":
		return "float"
	case "DOUBLE", "DECIMAL":
		return "double"
	case "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB", "BINARY", "VARBINARY":
		return "bytes"
	default:
		return "string"
	}
}

// fileRecord accumulates one row's column values prior to Commit.
type fileRecord struct {
	hdr     Header
	columns map[string]interface{}
}

// FileSink is the container-file RowEventSink variant: one open
// *os.File per (database, table), JSON-Lines encoded records, with an
// Avro schema sidecar written once per (database, table, version).
type FileSink struct {
	dir string
	log *zap.Logger

	mu         sync.Mutex
	files      map[string]*os.File
	writtenAvro map[string]bool
	current    *fileRecord
	currentKey string
}

func NewFileSink(dir string, log *zap.Logger) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sink directory: %w", err)
	}
	return &FileSink{
		dir:         dir,
		log:         log,
		files:       make(map[string]*os.File),
		writtenAvro: make(map[string]bool),
	}, nil
}

func (s *FileSink) LoadLatestGTID() (replication.GTID, bool, error) {
	return replication.GTID{}, false, nil
}

func (s *FileSink) tableKey(db, table string) string {
	return normIdent(db) + "." + normIdent(table)
}

func (s *FileSink) CreateTable(sc *schema.TableSchema) error {
	return s.writeAvroSchema(sc)
}

func (s *FileSink) OpenTable(sc *schema.TableSchema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.tableKey(sc.Database, sc.Table)
	if _, ok := s.files[key]; ok {
		return nil
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%s.%s.jsonl", normIdent(sc.Database), normIdent(sc.Table)))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open container file for %s: %w", key, err)
	}
	s.files[key] = f
	return nil
}

func (s *FileSink) PrepareTable(sc *schema.TableSchema) error {
	return s.writeAvroSchema(sc)
}

func (s *FileSink) writeAvroSchema(sc *schema.TableSchema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	database := normIdent(sc.Database)
	table := normIdent(sc.Table)
	key := fmt.Sprintf("%s.%s.%06d", database, table, sc.Version)
	if s.writtenAvro[key] {
		return nil
	}
	fields := append([]avroField(nil), reservedFields...)
	for _, c := range sc.Columns {
		fields = append(fields, avroField{
			Name:     normIdent(c.Name),
			Type:     []string{"null", avroType(c)},
			RealType: c.Type,
			Length:   c.Length,
			Unsigned: c.Unsigned,
		})
	}
	doc := avroSchema{
		Namespace: database,
		Type:      "record",
		Name:      table,
		Table:     table,
		Database:  database,
		Version:   sc.Version,
		GTID:      sc.GTID.String(),
		Fields:    fields,
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	final := filepath.Join(s.dir, key+".avsc")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write schema file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("rename schema file into place: %w", err)
	}
	s.writtenAvro[key] = true
	return nil
}

func (s *FileSink) PrepareRow(sc *schema.TableSchema, gtid replication.GTID, hdr Header) error {
	s.current = &fileRecord{hdr: hdr, columns: make(map[string]interface{}, len(sc.Columns))}
	s.currentKey = s.tableKey(sc.Database, sc.Table)
	return nil
}

func (s *FileSink) setColumn(sc *schema.TableSchema, index int, value interface{}) {
	if s.current == nil || index < 0 || index >= len(sc.Columns) {
		return
	}
	s.current.columns[sc.Columns[index].Name] = value
}

func (s *FileSink) ColumnInt(sc *schema.TableSchema, index int, value int64)     { s.setColumn(sc, index, value) }
func (s *FileSink) ColumnLong(sc *schema.TableSchema, index int, value int64)    { s.setColumn(sc, index, value) }
func (s *FileSink) ColumnFloat(sc *schema.TableSchema, index int, value float32) { s.setColumn(sc, index, value) }
func (s *FileSink) ColumnDouble(sc *schema.TableSchema, index int, value float64) {
	s.setColumn(sc, index, value)
}
func (s *FileSink) ColumnString(sc *schema.TableSchema, index int, value string) {
	s.setColumn(sc, index, value)
}
func (s *FileSink) ColumnBytes(sc *schema.TableSchema, index int, value []byte) {
	s.setColumn(sc, index, value)
}
func (s *FileSink) ColumnNull(sc *schema.TableSchema, index int) { s.setColumn(sc, index, nil) }

func (s *FileSink) Commit(sc *schema.TableSchema, gtid replication.GTID) error {
	if s.current == nil {
		return nil
	}
	rec := map[string]interface{}{
		"domain":       gtid.Domain,
		"server_id":    gtid.ServerID,
		"sequence":     gtid.Sequence,
		"event_number": s.current.hdr.EventNumber,
		"timestamp":    s.current.hdr.Timestamp,
		"event_type":   s.current.hdr.EventType.String(),
	}
	for k, v := range s.current.columns {
		rec[k] = v
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	f, ok := s.files[s.currentKey]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("commit on unopened table %s", s.currentKey)
	}
	raw = append(raw, '\n')
	if _, err := f.Write(raw); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	s.current = nil
	return nil
}

func (s *FileSink) FlushTables() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, f := range s.files {
		if err := f.Sync(); err != nil {
			s.log.Warn("file sink flush failed", zap.String("table", key), zap.Error(err))
		}
	}
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
