// Package cache implements the ResponseCache described in spec.md
// §4.7: an optional, fingerprint-keyed cache of serialized wire
// responses with per-table invalidation tags.
package cache

import (
	"sync"

	"github.com/mariadb-corp/nosqlbridge/internal/fingerprint"
	"github.com/mariadb-corp/nosqlbridge/internal/wire"
)

// Entry is one cached response together with the table it depends on.
type Entry struct {
	Response []byte
	Table    string
}

// Cache is safe for concurrent use by many reader and many writer
// sessions (§5 "many readers and many writers").
type Cache struct {
	mu      sync.RWMutex
	entries map[fingerprint.Fingerprint]Entry
	byTable map[string]map[fingerprint.Fingerprint]struct{}
}

func New() *Cache {
	return &Cache{
		entries: make(map[fingerprint.Fingerprint]Entry),
		byTable: make(map[string]map[fingerprint.Fingerprint]struct{}),
	}
}

// Get returns a copy of the cached response patched with the current
// request's requestID/responseTo, with its checksum recomputed if
// checksummed is true. The returned bytes are independent of the
// stored entry and safe for the caller to mutate or send directly.
func (c *Cache) Get(fp fingerprint.Fingerprint, requestID, responseTo int32, checksummed bool) ([]byte, bool) {
	c.mu.RLock()
	entry, ok := c.entries[fp]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	out := make([]byte, len(entry.Response))
	copy(out, entry.Response)
	wire.PatchRequestID(out, requestID, responseTo)
	if checksummed {
		wire.WriteChecksum(out)
	}
	return out, true
}

// Put stores a response for fp, tagged with the single table it
// depends on (§4.7 "the single affected table name").
func (c *Cache) Put(fp fingerprint.Fingerprint, table string, response []byte) {
	stored := make([]byte, len(response))
	copy(stored, response)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fp] = Entry{Response: stored, Table: table}
	set, ok := c.byTable[table]
	if !ok {
		set = make(map[fingerprint.Fingerprint]struct{})
		c.byTable[table] = set
	}
	set[fp] = struct{}{}
}

// InvalidateCurrent erases every entry tagged with any of tables — the
// invalidate_current policy named in §4.7.
func (c *Cache) InvalidateCurrent(tables []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, table := range tables {
		for fp := range c.byTable[table] {
			delete(c.entries, fp)
		}
		delete(c.byTable, table)
	}
}

// Len reports the number of live cache entries, for diagnostics/tests.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
