// Package statestore implements StateStore (spec.md §4.12): a durable,
// single-writer record of the latest committed GTID list.
package statestore

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/mariadb-corp/nosqlbridge/internal/replication"
)

// maxStateFileSize bounds the read-back buffer; a GtidList string is
// never remotely this large, so a file beyond this size indicates
// corruption rather than a legitimate position.
const maxStateFileSize = 1 << 20

// Store owns one replication stream's position file. Reads are fatal
// on failure (§4.12 "State-file read errors are fatal"); writes are
// best-effort and only logged on failure by the caller.
type Store struct {
	path string
	file *os.File
}

// Open opens (creating if absent) the fixed-name position file at
// path, the single file descriptor every commit is overwritten at
// offset 0 (§4.12).
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("STATE_FILE_ERROR: open %s: %w", path, err)
	}
	return &Store{path: path, file: f}, nil
}

// Load reads and parses the persisted GTID list. A missing or empty
// file yields an empty list, not an error — there is no prior state
// on a fresh install.
func (s *Store) Load() (*replication.GtidList, error) {
	buf := make([]byte, maxStateFileSize)
	n, err := s.file.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("STATE_FILE_ERROR: read %s: %w", s.path, err)
	}
	if n == 0 {
		return replication.NewGtidList(), nil
	}
	if nulIdx := bytes.IndexByte(buf[:n], 0); nulIdx >= 0 {
		n = nulIdx
	}
	list, err := replication.ParseGtidList(string(buf[:n]))
	if err != nil {
		return nil, fmt.Errorf("STATE_FILE_ERROR: parse %s: %w", s.path, err)
	}
	return list, nil
}

// Save overwrites the position file in place with list's string form,
// nul-terminated so a shorter write never exposes truncated content
// from a prior, longer value (§4.12).
func (s *Store) Save(list *replication.GtidList) error {
	payload := append([]byte(list.String()), 0)
	if _, err := s.file.WriteAt(payload, 0); err != nil {
		return fmt.Errorf("STATE_FILE_ERROR: write %s: %w", s.path, err)
	}
	return s.file.Sync()
}

func (s *Store) Close() error {
	return s.file.Close()
}
