// Package classify wraps the embedded SQL parser used as the external
// operation classifier (spec.md §1 Out of scope, §4.9 QUERY_EVENT
// handling). It exposes exactly one entry point, Classify, and is not
// used for DDL: schema-mutating statements are tokenized and parsed by
// internal/schema instead.
package classify

import (
	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"
)

// Kind is the coarse statement category returned by Classify.
type Kind int

const (
	Unknown Kind = iota
	RowModifying
	TransactionControl
	Other
)

func (k Kind) String() string {
	switch k {
	case RowModifying:
		return "ROW_MODIFYING"
	case TransactionControl:
		return "TRANSACTION_CONTROL"
	case Other:
		return "OTHER"
	default:
		return "UNKNOWN"
	}
}

// Classify parses a single normalized SQL statement and reports its
// coarse kind. A parse failure is not fatal to the caller: it yields
// Unknown rather than an error, since a replication client must keep
// decoding the binlog even past a statement its classifier can't
// read (a DDL-adjacent session variable set, a vendor extension, …).
func Classify(stmt string) Kind {
	p := parser.New()
	nodes, _, err := p.ParseSQL(stmt)
	if err != nil || len(nodes) == 0 {
		return Unknown
	}
	switch nodes[0].(type) {
	case *ast.InsertStmt, *ast.UpdateStmt, *ast.DeleteStmt:
		return RowModifying
	case *ast.BeginStmt, *ast.CommitStmt, *ast.RollbackStmt:
		return TransactionControl
	default:
		return Other
	}
}

// IsRowModifying reports whether stmt classifies as an INSERT, UPDATE,
// DELETE or REPLACE — the signal used to warn about a non-ROW binlog
// format (§4.9).
func IsRowModifying(stmt string) bool {
	return Classify(stmt) == RowModifying
}
