package statestore

import (
	"path/filepath"
	"testing"

	"github.com/mariadb-corp/nosqlbridge/internal/replication"
)

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "position")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	list, _ := replication.ParseGtidList("0-1-100,1-1-5")
	if err := s.Save(list); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	loaded, err := reopened.Load()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.String() != "0-1-100,1-1-5" {
		t.Fatalf("round trip mismatch: %s", loaded.String())
	}
}

func TestLoadOnFreshFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "position")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	list, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if !list.Empty() {
		t.Fatal("expected empty list on fresh file")
	}
}

func TestShorterOverwriteDoesNotExposeStaleTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "position")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	long, _ := replication.ParseGtidList("0-1-100,1-1-200,2-1-300")
	if err := s.Save(long); err != nil {
		t.Fatal(err)
	}
	short, _ := replication.ParseGtidList("0-1-101")
	if err := s.Save(short); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.String() != "0-1-101" {
		t.Fatalf("expected truncated value to be hidden by nul terminator, got %q", loaded.String())
	}
}
