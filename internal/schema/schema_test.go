package schema

import (
	"testing"

	"github.com/mariadb-corp/nosqlbridge/internal/replication"
)

func TestCreateTableInstallsVersionOne(t *testing.T) {
	tr := NewTracker()
	err := tr.Apply("app", "CREATE TABLE widgets (id INT UNSIGNED, name VARCHAR(255))", replication.GTID{})
	if err != nil {
		t.Fatal(err)
	}
	s, ok := tr.Lookup("app", "widgets")
	if !ok {
		t.Fatal("expected widgets to be tracked")
	}
	if s.Version != 1 || len(s.Columns) != 2 {
		t.Fatalf("unexpected schema: %+v", s)
	}
	if s.Columns[0].Type != "INT" || s.Columns[1].Length != 255 {
		t.Fatalf("unexpected columns: %+v", s.Columns)
	}
}

func TestCreateLikeCopiesColumns(t *testing.T) {
	tr := NewTracker()
	tr.Apply("app", "CREATE TABLE a (id INT)", replication.GTID{})
	if err := tr.Apply("app", "CREATE TABLE b LIKE a", replication.GTID{}); err != nil {
		t.Fatal(err)
	}
	b, ok := tr.Lookup("app", "b")
	if !ok || len(b.Columns) != 1 {
		t.Fatalf("unexpected LIKE result: %+v ok=%v", b, ok)
	}
}

func TestAlterAddColumnBumpsVersionWhenOpen(t *testing.T) {
	tr := NewTracker()
	tr.Apply("app", "CREATE TABLE widgets (id INT)", replication.GTID{})
	tr.MarkOpened("app", "widgets")

	if err := tr.Apply("app", "ALTER TABLE widgets ADD COLUMN price DECIMAL(10,2) AFTER id", replication.GTID{Sequence: 5}); err != nil {
		t.Fatal(err)
	}
	s, _ := tr.Lookup("app", "widgets")
	if s.Version != 2 {
		t.Fatalf("expected version bump to 2, got %d", s.Version)
	}
	if s.IsOpen {
		t.Fatal("expected IsOpen cleared after ALTER")
	}
	if len(s.Columns) != 2 || s.Columns[1].Name != "price" {
		t.Fatalf("unexpected columns: %+v", s.Columns)
	}
}

func TestAlterDropColumn(t *testing.T) {
	tr := NewTracker()
	tr.Apply("app", "CREATE TABLE widgets (id INT, legacy VARCHAR(10))", replication.GTID{})
	if err := tr.Apply("app", "ALTER TABLE widgets DROP COLUMN legacy", replication.GTID{}); err != nil {
		t.Fatal(err)
	}
	s, _ := tr.Lookup("app", "widgets")
	if len(s.Columns) != 1 {
		t.Fatalf("expected column dropped, got %+v", s.Columns)
	}
}

func TestRenameTable(t *testing.T) {
	tr := NewTracker()
	tr.Apply("app", "CREATE TABLE old_name (id INT)", replication.GTID{})
	if err := tr.Apply("app", "RENAME TABLE old_name TO new_name", replication.GTID{}); err != nil {
		t.Fatal(err)
	}
	if _, ok := tr.Lookup("app", "old_name"); ok {
		t.Fatal("expected old_name no longer tracked")
	}
	if _, ok := tr.Lookup("app", "new_name"); !ok {
		t.Fatal("expected new_name tracked")
	}
}

func TestDropTableIfExists(t *testing.T) {
	tr := NewTracker()
	if err := tr.Apply("app", "DROP TABLE IF EXISTS never_created", replication.GTID{}); err != nil {
		t.Fatal(err)
	}
}

func TestAlterAddColumnFirstPrepends(t *testing.T) {
	tr := NewTracker()
	tr.Apply("app", "CREATE TABLE widgets (a INT, b INT)", replication.GTID{})
	if err := tr.Apply("app", "ALTER TABLE widgets ADD COLUMN c INT FIRST", replication.GTID{}); err != nil {
		t.Fatal(err)
	}
	s, _ := tr.Lookup("app", "widgets")
	got := []string{s.Columns[0].Name, s.Columns[1].Name, s.Columns[2].Name}
	want := []string{"c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected column order %v, got %v", want, got)
		}
	}
}

func TestAlterAddColumnAfterInsertsMidList(t *testing.T) {
	tr := NewTracker()
	tr.Apply("app", "CREATE TABLE widgets (a INT, b INT, c INT)", replication.GTID{})
	if err := tr.Apply("app", "ALTER TABLE widgets ADD COLUMN x INT AFTER a", replication.GTID{}); err != nil {
		t.Fatal(err)
	}
	s, _ := tr.Lookup("app", "widgets")
	got := []string{s.Columns[0].Name, s.Columns[1].Name, s.Columns[2].Name, s.Columns[3].Name}
	want := []string{"a", "x", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected column order %v, got %v", want, got)
		}
	}
}

func TestColumnDefParsesUnsignedFlag(t *testing.T) {
	tr := NewTracker()
	if err := tr.Apply("app", "CREATE TABLE widgets (id INT UNSIGNED, count BIGINT UNSIGNED)", replication.GTID{}); err != nil {
		t.Fatal(err)
	}
	s, _ := tr.Lookup("app", "widgets")
	if !s.Columns[0].Unsigned || !s.Columns[1].Unsigned {
		t.Fatalf("expected both columns unsigned: %+v", s.Columns)
	}
}

func TestUnknownTrailingAttributesAreSkipped(t *testing.T) {
	tr := NewTracker()
	stmt := "CREATE TABLE widgets (id INT NOT NULL AUTO_INCREMENT COMMENT 'pk', PRIMARY KEY (id))"
	if err := tr.Apply("app", stmt, replication.GTID{}); err != nil {
		t.Fatal(err)
	}
	s, _ := tr.Lookup("app", "widgets")
	if len(s.Columns) != 1 {
		t.Fatalf("expected PRIMARY KEY clause skipped, got %+v", s.Columns)
	}
}
