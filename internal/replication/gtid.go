// Package replication implements the upstream binlog client
// (spec.md §4.8 BinlogClient) and event decoder (§4.9 EventDecoder),
// grounded on the teacher's GTID handling in its own parser package
// and on go-mysql-org/go-mysql's replication primitives.
package replication

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-mysql-org/go-mysql/mysql"
)

// GTID is one MariaDB GTID triple (domain, server_id, sequence), the
// unit spec.md §3 describes as "{domain, server_id, sequence,
// event_num=0, timestamp}" once bound to a position in a binlog
// stream.
type GTID struct {
	Domain     uint32
	ServerID   uint32
	Sequence   uint64
	EventNum   uint32
	Timestamp  uint32
}

func (g GTID) String() string {
	return fmt.Sprintf("%d-%d-%d", g.Domain, g.ServerID, g.Sequence)
}

// ParseGTID parses a single "domain-server_id-sequence" triple.
func ParseGTID(s string) (GTID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return GTID{}, fmt.Errorf("BAD_VALUE: GTID string cannot be empty")
	}
	parts := strings.SplitN(s, "-", 3)
	if len(parts) != 3 {
		return GTID{}, fmt.Errorf("BAD_VALUE: GTID %q must be in domain-server_id-sequence form", s)
	}
	domain, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return GTID{}, fmt.Errorf("BAD_VALUE: invalid GTID domain in %q: %w", s, err)
	}
	serverID, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return GTID{}, fmt.Errorf("BAD_VALUE: invalid GTID server_id in %q: %w", s, err)
	}
	seq, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return GTID{}, fmt.Errorf("BAD_VALUE: invalid GTID sequence in %q: %w", s, err)
	}
	return GTID{Domain: uint32(domain), ServerID: uint32(serverID), Sequence: seq}, nil
}

// GtidList is the committed-position data model of §3/§4.12: the
// highest committed sequence per domain, keyed so that one domain's
// advance never clobbers another's.
type GtidList struct {
	byDomain map[uint32]GTID
}

func NewGtidList() *GtidList {
	return &GtidList{byDomain: make(map[uint32]GTID)}
}

// ParseGtidList parses the comma-separated list format persisted by
// StateStore and accepted by upstream's @slave_connect_state.
func ParseGtidList(s string) (*GtidList, error) {
	list := NewGtidList()
	s = strings.TrimSpace(s)
	if s == "" {
		return list, nil
	}
	for _, part := range strings.Split(s, ",") {
		g, err := ParseGTID(part)
		if err != nil {
			return nil, err
		}
		list.Set(g)
	}
	return list, nil
}

// Set records g as the committed position for its domain, replacing
// any prior entry for that domain.
func (l *GtidList) Set(g GTID) {
	l.byDomain[g.Domain] = g
}

// Get returns the committed GTID for domain, if any.
func (l *GtidList) Get(domain uint32) (GTID, bool) {
	g, ok := l.byDomain[domain]
	return g, ok
}

// Contains reports whether g is at or behind the committed position
// for its domain.
func (l *GtidList) Contains(g GTID) bool {
	have, ok := l.byDomain[g.Domain]
	if !ok {
		return false
	}
	return have.Sequence >= g.Sequence
}

// Empty reports whether the list has no recorded domains, the signal
// BinlogClient uses to fall back to a fresh starting position.
func (l *GtidList) Empty() bool {
	return len(l.byDomain) == 0
}

// String renders the list in the same comma-separated, domain-sorted
// form ParseGtidList accepts, so round-tripping through StateStore is
// stable.
func (l *GtidList) String() string {
	domains := make([]uint32, 0, len(l.byDomain))
	for d := range l.byDomain {
		domains = append(domains, d)
	}
	sort.Slice(domains, func(i, j int) bool { return domains[i] < domains[j] })
	parts := make([]string, 0, len(domains))
	for _, d := range domains {
		parts = append(parts, l.byDomain[d].String())
	}
	return strings.Join(parts, ",")
}

// Clone returns an independent copy.
func (l *GtidList) Clone() *GtidList {
	out := NewGtidList()
	for d, g := range l.byDomain {
		out.byDomain[d] = g
	}
	return out
}

// ToMariadbGTIDSet adapts the list to go-mysql-org/go-mysql's
// MariadbGTIDSet, the form BinlogSyncer's StartSyncGTID wants.
func (l *GtidList) ToMariadbGTIDSet() (*mysql.MariadbGTIDSet, error) {
	if l.Empty() {
		return mysql.ParseMariadbGTIDSet("")
	}
	set, err := mysql.ParseMariadbGTIDSet(l.String())
	if err != nil {
		return nil, fmt.Errorf("BAD_VALUE: %w", err)
	}
	return set.(*mysql.MariadbGTIDSet), nil
}
