// Package sink implements RowEventSink (spec.md §4.11): the
// polymorphic capability set EventDecoder drives with one decoded row
// at a time. Three variants are provided, grounded on the teacher's
// pluggable Exporter interface (exporter.Exporter, one struct per
// output format): a file writer with Avro schema sidecars, a
// message-bus producer, and a relational-engine batch loader.
package sink

import (
	"github.com/mariadb-corp/nosqlbridge/internal/replication"
	"github.com/mariadb-corp/nosqlbridge/internal/schema"
)

// RecordType tags the row image carried by one prepare_row call.
type RecordType int

const (
	Write RecordType = iota
	Update
	UpdateAfter
	Delete
)

func (t RecordType) String() string {
	switch t {
	case Write:
		return "insert"
	case Update:
		return "update_before"
	case UpdateAfter:
		return "update_after"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// Header carries the synthetic reserved fields every sink record is
// prefixed with (§6 "Persisted state layout", Schema files).
type Header struct {
	Domain      uint32
	ServerID    uint32
	Sequence    uint64
	EventNumber uint32
	Timestamp   uint32
	EventType   RecordType
}

// Sink is the RowEventSink contract of §4.11.
type Sink interface {
	// LoadLatestGTID returns a sink-persisted position to resume from,
	// if the sink tracks one externally (e.g. a message-bus consumer
	// offset), and whether one was found.
	LoadLatestGTID() (replication.GTID, bool, error)

	CreateTable(s *schema.TableSchema) error
	OpenTable(s *schema.TableSchema) error
	PrepareTable(s *schema.TableSchema) error

	PrepareRow(s *schema.TableSchema, gtid replication.GTID, hdr Header) error

	ColumnInt(s *schema.TableSchema, index int, value int64)
	ColumnLong(s *schema.TableSchema, index int, value int64)
	ColumnFloat(s *schema.TableSchema, index int, value float32)
	ColumnDouble(s *schema.TableSchema, index int, value float64)
	ColumnString(s *schema.TableSchema, index int, value string)
	ColumnBytes(s *schema.TableSchema, index int, value []byte)
	ColumnNull(s *schema.TableSchema, index int)

	Commit(s *schema.TableSchema, gtid replication.GTID) error

	// FlushTables is the durability barrier called at XID/COMMIT
	// boundaries (§4.11 flush_tables).
	FlushTables() error

	Close() error
}
