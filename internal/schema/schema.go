// Package schema implements SchemaTracker (spec.md §4.10): a
// process-wide, GTID-versioned table schema registry fed by a
// hand-written recursive-descent parser over internal/tokenizer
// output.
package schema

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/mariadb-corp/nosqlbridge/internal/replication"
	"github.com/mariadb-corp/nosqlbridge/internal/tokenizer"
)

// Column is one column definition within a TableSchema.
type Column struct {
	Name       string
	Type       string
	Length     int
	Unsigned   bool
}

// TableSchema is the versioned, (database, table)-scoped column list
// tracked by SchemaTracker and consumed by EventDecoder/RowEventSink.
// Its version is bumped when an ALTER changes a schema the sink has
// already opened (§4.10).
type TableSchema struct {
	Database string
	Table    string
	Columns  []Column
	Version  int
	GTID     replication.GTID
	IsOpen   bool
}

func (s *TableSchema) id() string { return s.Database + "." + s.Table }

func (s *TableSchema) columnIndex(name string) int {
	for i, c := range s.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

func (s *TableSchema) clone() *TableSchema {
	cols := make([]Column, len(s.Columns))
	copy(cols, s.Columns)
	out := *s
	out.Columns = cols
	return &out
}

// Tracker is the single-writer/multi-reader schema registry: the DDL
// parser running on the replication thread is the sole writer, while
// client-session threads read snapshots (§5 "single-writer/multi-reader").
type Tracker struct {
	mu        sync.RWMutex
	schemas   map[string]*TableSchema
	versions  map[string]int
}

func NewTracker() *Tracker {
	return &Tracker{
		schemas:  make(map[string]*TableSchema),
		versions: make(map[string]int),
	}
}

// Lookup returns a read-only snapshot of the schema for db.table.
func (t *Tracker) Lookup(db, table string) (*TableSchema, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.schemas[db+"."+table]
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

// Install replaces the current tracked schema for s's (database, table).
func (t *Tracker) Install(s *TableSchema) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.schemas[s.id()] = s
}

// Drop removes the tracked schema for db.table.
func (t *Tracker) Drop(db, table string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.schemas, db+"."+table)
}

// Rename moves the tracked schema from (db,oldTable) to (db,newTable).
func (t *Tracker) Rename(db, oldTable, newTable string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := db + "." + oldTable
	s, ok := t.schemas[key]
	if !ok {
		return
	}
	delete(t.schemas, key)
	s.Table = newTable
	t.schemas[s.id()] = s
}

func (t *Tracker) nextVersion(db, table string) int {
	key := db + "." + table
	t.versions[key]++
	return t.versions[key]
}

// MarkOpened flips IsOpen once the sink has opened the current version.
func (t *Tracker) MarkOpened(db, table string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.schemas[db+"."+table]; ok {
		s.IsOpen = true
	}
}

// Error is a DDL parse or application failure. Per §4.10 a parse
// failure logs and aborts the statement without mutating state; it is
// never itself fatal to the replication stream.
type Error struct {
	Stmt string
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("DDL_PARSE_ERROR: %s: %s", e.Msg, e.Stmt) }

// Apply parses one normalized DDL statement and mutates t accordingly,
// stamping any schema it touches with gtid (§4.10's "a schema modified
// by ALTER has its gtid updated to the current GTID").
func (t *Tracker) Apply(defaultDB, stmt string, gtid replication.GTID) error {
	toks, err := tokenizer.Scan(stmt, nil)
	if err != nil {
		return &Error{Stmt: stmt, Msg: err.Error()}
	}
	p := &ddlParser{toks: toks, defaultDB: defaultDB}
	return p.parseStatement(t, gtid)
}

type ddlParser struct {
	toks      []tokenizer.Token
	pos       int
	defaultDB string
}

func (p *ddlParser) peek() tokenizer.Token { return p.toks[p.pos] }

func (p *ddlParser) next() tokenizer.Token {
	tok := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return tok
}

func (p *ddlParser) isKeyword(kw string) bool {
	t := p.peek()
	return t.Kind == tokenizer.KEYWORD && t.Tag == kw
}

func (p *ddlParser) eatKeyword(kw string) bool {
	if p.isKeyword(kw) {
		p.next()
		return true
	}
	return false
}

func (p *ddlParser) isPunct(s string) bool {
	t := p.peek()
	return t.Kind == tokenizer.PUNCTUATION && t.Tag == s
}

func (p *ddlParser) eatPunct(s string) bool {
	if p.isPunct(s) {
		p.next()
		return true
	}
	return false
}

// ident consumes the next token as a name (IDENT or any keyword used
// as a bare name, which the permissive DDL dialect allows).
func (p *ddlParser) ident() (string, error) {
	t := p.next()
	if t.Kind == tokenizer.END {
		return "", fmt.Errorf("unexpected end of statement")
	}
	return t.Tag, nil
}

// qualifiedName parses `[db.]name` and resolves the default database.
func (p *ddlParser) qualifiedName() (db, name string, err error) {
	first, err := p.ident()
	if err != nil {
		return "", "", err
	}
	if p.eatPunct(".") {
		second, err := p.ident()
		if err != nil {
			return "", "", err
		}
		return first, second, nil
	}
	return p.defaultDB, first, nil
}

func (p *ddlParser) parseStatement(t *Tracker, gtid replication.GTID) error {
	switch {
	case p.eatKeyword("CREATE"):
		return p.parseCreate(t, gtid)
	case p.eatKeyword("DROP"):
		return p.parseDrop(t)
	case p.eatKeyword("ALTER"):
		return p.parseAlter(t, gtid)
	case p.eatKeyword("RENAME"):
		return p.parseRenameTable(t, gtid)
	default:
		return &Error{Msg: "unrecognized DDL statement"}
	}
}

func (p *ddlParser) parseCreate(t *Tracker, gtid replication.GTID) error {
	p.eatKeyword("OR")
	p.eatKeyword("REPLACE")
	if !p.eatKeyword("TABLE") {
		return &Error{Msg: "expected TABLE after CREATE"}
	}
	ifNotExists := p.eatKeyword("IF") && p.eatKeyword("NOT") && p.eatKeyword("EXISTS")
	db, name, err := p.qualifiedName()
	if err != nil {
		return &Error{Msg: err.Error()}
	}

	schema := &TableSchema{Database: db, Table: name, GTID: gtid}

	if p.eatKeyword("LIKE") {
		srcDB, srcName, err := p.qualifiedName()
		if err != nil {
			return &Error{Msg: err.Error()}
		}
		src, ok := t.Lookup(srcDB, srcName)
		if !ok {
			return &Error{Msg: fmt.Sprintf("LIKE source %s.%s not tracked", srcDB, srcName)}
		}
		schema.Columns = append([]Column(nil), src.Columns...)
	} else if p.eatPunct("(") {
		cols, err := p.parseColumnList()
		if err != nil {
			return err
		}
		schema.Columns = cols
	}

	if ifNotExists {
		if _, exists := t.Lookup(db, name); exists {
			return nil
		}
	}
	schema.Version = t.nextVersion(db, name)
	t.Install(schema)
	return nil
}

// parseColumnList parses the body of `( col type(len) UNSIGNED, … )`
// up to the matching close paren, skipping table-level constraints
// (PRIMARY KEY, KEY, CONSTRAINT, …) and unknown column attributes via
// depth-balanced consumption.
func (p *ddlParser) parseColumnList() ([]Column, error) {
	var cols []Column
	for {
		if p.isKeyword("PRIMARY") || p.isKeyword("KEY") || p.isKeyword("UNIQUE") ||
			p.isKeyword("CONSTRAINT") || p.isKeyword("FOREIGN") {
			p.skipToCommaOrCloseParen()
		} else {
			col, err := p.parseColumnDef()
			if err != nil {
				return nil, err
			}
			cols = append(cols, col)
			p.skipToCommaOrCloseParen()
		}
		if p.eatPunct(")") {
			return cols, nil
		}
		if !p.eatPunct(",") {
			return nil, &Error{Msg: "expected , or ) in column list"}
		}
		if p.isPunct(")") {
			p.next()
			return cols, nil
		}
	}
}

func (p *ddlParser) parseColumnDef() (Column, error) {
	name, err := p.ident()
	if err != nil {
		return Column{}, &Error{Msg: err.Error()}
	}
	typ, err := p.ident()
	if err != nil {
		return Column{}, &Error{Msg: err.Error()}
	}
	col := Column{Name: name, Type: strings.ToUpper(typ)}
	if p.eatPunct("(") {
		lenTok, err := p.ident()
		if err != nil {
			return Column{}, &Error{Msg: err.Error()}
		}
		if n, err := strconv.Atoi(lenTok); err == nil {
			col.Length = n
		}
		for !p.eatPunct(")") {
			if p.peek().Kind == tokenizer.END {
				return Column{}, &Error{Msg: "unterminated type length"}
			}
			p.next()
		}
	}
	if p.eatKeyword("UNSIGNED") {
		col.Unsigned = true
	}
	return col, nil
}

// skipToCommaOrCloseParen consumes tokens (tracking nested parens)
// until a top-level comma or close-paren, the permissive fallback for
// unknown trailing attributes described in §4.10.
func (p *ddlParser) skipToCommaOrCloseParen() {
	depth := 0
	for {
		t := p.peek()
		if t.Kind == tokenizer.END {
			return
		}
		if t.Kind == tokenizer.PUNCTUATION {
			switch t.Tag {
			case "(":
				depth++
			case ")":
				if depth == 0 {
					return
				}
				depth--
			case ",":
				if depth == 0 {
					return
				}
			}
		}
		p.next()
	}
}

func (p *ddlParser) parseDrop(t *Tracker) error {
	if !p.eatKeyword("TABLE") {
		return &Error{Msg: "expected TABLE after DROP"}
	}
	p.eatKeyword("IF")
	p.eatKeyword("EXISTS")
	db, name, err := p.qualifiedName()
	if err != nil {
		return &Error{Msg: err.Error()}
	}
	t.Drop(db, name)
	return nil
}

func (p *ddlParser) parseAlter(t *Tracker, gtid replication.GTID) error {
	if !p.eatKeyword("TABLE") {
		return &Error{Msg: "expected TABLE after ALTER"}
	}
	db, name, err := p.qualifiedName()
	if err != nil {
		return &Error{Msg: err.Error()}
	}
	schema, ok := t.Lookup(db, name)
	if !ok {
		return &Error{Msg: fmt.Sprintf("ALTER on untracked table %s.%s", db, name)}
	}

	mutated := false
	for {
		switch {
		case p.eatKeyword("ADD"):
			p.eatKeyword("COLUMN")
			col, err := p.parseColumnDef()
			if err != nil {
				return err
			}
			first, after := p.consumePlacementHint()
			schema.Columns = insertColumn(schema.Columns, col, first, after)
			mutated = true
		case p.eatKeyword("DROP"):
			p.eatKeyword("COLUMN")
			name, err := p.ident()
			if err != nil {
				return &Error{Msg: err.Error()}
			}
			p.eatKeyword("RESTRICT")
			p.eatKeyword("CASCADE")
			if idx := schema.columnIndex(name); idx >= 0 {
				schema.Columns = append(schema.Columns[:idx], schema.Columns[idx+1:]...)
				mutated = true
			}
		case p.eatKeyword("MODIFY"):
			p.eatKeyword("COLUMN")
			col, err := p.parseColumnDef()
			if err != nil {
				return err
			}
			if idx := schema.columnIndex(col.Name); idx >= 0 {
				schema.Columns[idx] = col
				mutated = true
			}
		case p.eatKeyword("CHANGE"):
			p.eatKeyword("COLUMN")
			oldName, err := p.ident()
			if err != nil {
				return &Error{Msg: err.Error()}
			}
			col, err := p.parseColumnDef()
			if err != nil {
				return err
			}
			if idx := schema.columnIndex(oldName); idx >= 0 {
				schema.Columns[idx] = col
				mutated = true
			}
		case p.eatKeyword("RENAME"):
			p.eatKeyword("TO")
			_, newName, err := p.qualifiedName()
			if err != nil {
				return &Error{Msg: err.Error()}
			}
			t.Rename(db, name, newName)
			name = newName
			schema.Table = newName
			mutated = true
		default:
			return p.finishAlter(t, schema, gtid, mutated)
		}
		if !p.eatPunct(",") {
			return p.finishAlter(t, schema, gtid, mutated)
		}
	}
}

// consumePlacementHint parses an ADD COLUMN's trailing FIRST or
// AFTER <name> clause (§4.10) and reports where the column belongs.
func (p *ddlParser) consumePlacementHint() (first bool, after string) {
	if p.eatKeyword("AFTER") {
		name, _ := p.ident()
		return false, name
	}
	if p.eatKeyword("FIRST") {
		return true, ""
	}
	return false, ""
}

// insertColumn places a new column per an ADD COLUMN placement hint:
// FIRST prepends, AFTER <name> inserts right after that column, and no
// hint appends at the end.
func insertColumn(cols []Column, col Column, first bool, after string) []Column {
	if first {
		return append([]Column{col}, cols...)
	}
	if after != "" {
		for i, c := range cols {
			if strings.EqualFold(c.Name, after) {
				out := make([]Column, 0, len(cols)+1)
				out = append(out, cols[:i+1]...)
				out = append(out, col)
				out = append(out, cols[i+1:]...)
				return out
			}
		}
	}
	return append(cols, col)
}

func (p *ddlParser) finishAlter(t *Tracker, schema *TableSchema, gtid replication.GTID, mutated bool) error {
	if !mutated {
		return nil
	}
	schema.GTID = gtid
	if schema.IsOpen {
		schema.Version = t.nextVersion(schema.Database, schema.Table)
		schema.IsOpen = false
	}
	t.Install(schema)
	return nil
}

func (p *ddlParser) parseRenameTable(t *Tracker, gtid replication.GTID) error {
	if !p.eatKeyword("TABLE") {
		return &Error{Msg: "expected TABLE after RENAME"}
	}
	for {
		db, oldName, err := p.qualifiedName()
		if err != nil {
			return &Error{Msg: err.Error()}
		}
		if !p.eatKeyword("TO") {
			return &Error{Msg: "expected TO in RENAME TABLE"}
		}
		_, newName, err := p.qualifiedName()
		if err != nil {
			return &Error{Msg: err.Error()}
		}
		t.Rename(db, oldName, newName)
		if s, ok := t.Lookup(db, newName); ok {
			s.GTID = gtid
			t.Install(s)
		}
		if !p.eatPunct(",") {
			return nil
		}
	}
}
