package sink

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/mariadb-corp/nosqlbridge/internal/replication"
	"github.com/mariadb-corp/nosqlbridge/internal/schema"
)

func TestFileSinkWritesAvroSchemaOnce(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	sc := &schema.TableSchema{Database: "app", Table: "widgets", Version: 1, Columns: []schema.Column{{Name: "id", Type: "INT"}}}
	if err := s.CreateTable(sc); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateTable(sc); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".avsc" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one .avsc file, got %d", count)
	}
}

func TestFileSinkCommitWritesJSONLRecord(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	sc := &schema.TableSchema{Database: "app", Table: "widgets", Version: 1, Columns: []schema.Column{{Name: "id", Type: "INT"}, {Name: "name", Type: "VARCHAR"}}}
	if err := s.OpenTable(sc); err != nil {
		t.Fatal(err)
	}
	gtid := replication.GTID{Domain: 0, ServerID: 1, Sequence: 7}
	if err := s.PrepareRow(sc, gtid, Header{EventType: Write, EventNumber: 1}); err != nil {
		t.Fatal(err)
	}
	s.ColumnInt(sc, 0, 42)
	s.ColumnString(sc, 1, "widget-a")
	if err := s.Commit(sc, gtid); err != nil {
		t.Fatal(err)
	}
	if err := s.FlushTables(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "app.widgets.jsonl")
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatal("expected one line of output")
	}
	var rec map[string]interface{}
	if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["name"] != "widget-a" || rec["event_type"] != "insert" {
		t.Fatalf("unexpected record: %#v", rec)
	}
}
