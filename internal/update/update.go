// Package update translates a document update specification into a
// JSON-function expression that, applied to the original doc column,
// produces the new doc value.
package update

import (
	"fmt"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mariadb-corp/nosqlbridge/internal/predicate"
)

// MaxBSONObjectSize is the wire-level document size ceiling (§6).
const MaxBSONObjectSize = 16 * 1024 * 1024

// MaxReplacementDocumentSize is the REPLACEMENT_DOCUMENT size bound.
// §9 Open Question: the original implementation's delta below
// MaxBSONObjectSize appears ad-hoc; per spec.md's instruction this
// adopts MaxBSONObjectSize-6 rather than guessing intent further.
const MaxReplacementDocumentSize = MaxBSONObjectSize - 6

// Error is a document-shape error raised while compiling an update.
type Error struct {
	Code string
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Msg) }

func errf(code, format string, a ...interface{}) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, a...)}
}

// Kind classifies the shape of an update specification.
type Kind int

const (
	OperatorUpdate Kind = iota
	ReplacementDocument
	AggregationPipeline
)

// Compiled is the result of compiling an update specification: a SQL
// expression producing the new doc value, plus bookkeeping used by the
// dispatcher and by ResponseCache invalidation.
type Compiled struct {
	Kind    Kind
	Expr    string // SQL expression over the original "doc" column
	Replace bson.D // populated only when Kind == ReplacementDocument
}

const docCol = predicate.DocColumn

// Classify inspects a raw update specification and returns its Kind.
func Classify(spec interface{}) (Kind, error) {
	switch v := spec.(type) {
	case bson.A:
		return AggregationPipeline, nil
	case bson.D:
		hasDollar, hasPlain := false, false
		for _, e := range v {
			if strings.HasPrefix(e.Key, "$") {
				hasDollar = true
			} else {
				hasPlain = true
			}
		}
		if hasDollar && hasPlain {
			return 0, errf("FAILED_TO_PARSE", "update document mixes operator and non-operator top-level fields")
		}
		if hasDollar {
			return OperatorUpdate, nil
		}
		return ReplacementDocument, nil
	default:
		return 0, errf("FAILED_TO_PARSE", "update specification must be a document or pipeline array")
	}
}

// Compile translates spec against an (optional) original document,
// used only to preserve _id in the REPLACEMENT_DOCUMENT case.
func Compile(spec interface{}, originalID interface{}) (*Compiled, error) {
	kind, err := Classify(spec)
	if err != nil {
		return nil, err
	}
	switch kind {
	case AggregationPipeline:
		return nil, errf("COMMAND_FAILED", "aggregation pipeline updates are not supported")
	case ReplacementDocument:
		doc := spec.(bson.D)
		out := bson.D{{Key: "_id", Value: originalID}}
		for _, e := range doc {
			if e.Key == "_id" {
				continue
			}
			out = append(out, e)
		}
		raw, err := bson.Marshal(out)
		if err != nil {
			return nil, errf("FAILED_TO_PARSE", "replacement document could not be encoded: %v", err)
		}
		if len(raw) > MaxReplacementDocumentSize {
			return nil, errf("BAD_VALUE", "replacement document of %d bytes exceeds the %d byte limit", len(raw), MaxReplacementDocumentSize)
		}
		return &Compiled{Kind: ReplacementDocument, Replace: out}, nil
	default:
		return compileOperators(spec.(bson.D))
	}
}

// touched tracks the set of updated paths to detect conflicting
// updates ("a" and "a.b" in one spec) and immutable-field violations.
type touched struct {
	paths []string
}

func (t *touched) add(path string) error {
	if path == "_id" || strings.HasPrefix(path, "_id.") {
		return errf("IMMUTABLE_FIELD", "_id is immutable")
	}
	for _, p := range t.paths {
		if p == path || strings.HasPrefix(p, path+".") || strings.HasPrefix(path, p+".") {
			return errf("CONFLICTING_UPDATE_OPERATORS", "conflicting update paths %q and %q", p, path)
		}
	}
	t.paths = append(t.paths, path)
	return nil
}

func compileOperators(spec bson.D) (*Compiled, error) {
	expr := docCol
	tr := &touched{}
	for _, top := range spec {
		fields, ok := top.Value.(bson.D)
		if !ok {
			return nil, errf("FAILED_TO_PARSE", "%s requires a document of field:value pairs", top.Key)
		}
		var err error
		switch top.Key {
		case "$set":
			expr, err = compileSet(expr, fields, tr)
		case "$unset":
			expr, err = compileUnset(expr, fields, tr)
		case "$inc":
			expr, err = compileArith(expr, fields, tr, "+", 0)
		case "$mul":
			expr, err = compileArith(expr, fields, tr, "*", 1)
		case "$min":
			expr, err = compileMinMax(expr, fields, tr, "<")
		case "$max":
			expr, err = compileMinMax(expr, fields, tr, ">")
		case "$bit":
			expr, err = compileBit(expr, fields, tr)
		case "$currentDate":
			expr, err = compileCurrentDate(expr, fields, tr)
		case "$rename":
			expr, err = compileRename(expr, fields, tr)
		case "$pop":
			expr, err = compilePop(expr, fields, tr)
		case "$push":
			expr, err = compilePush(expr, fields, tr)
		default:
			return nil, errf("FAILED_TO_PARSE", "unknown update operator %q", top.Key)
		}
		if err != nil {
			return nil, err
		}
	}
	return &Compiled{Kind: OperatorUpdate, Expr: expr}, nil
}

func jsonPath(field string) (string, error) {
	if field == "" || strings.Contains(field, "$") {
		return "", errf("BAD_VALUE", "invalid field path %q", field)
	}
	var b strings.Builder
	b.WriteString("$")
	for _, seg := range strings.Split(field, ".") {
		if seg == "" {
			return "", errf("BAD_VALUE", "invalid field path %q", field)
		}
		if n, err := strconv.Atoi(seg); err == nil {
			fmt.Fprintf(&b, "[%d]", n)
		} else {
			fmt.Fprintf(&b, ".%s", seg)
		}
	}
	return b.String(), nil
}

// compileSet implements a preserve-merge: JSON_MERGE_PATCH drops keys
// set to JSON null, so a literal null value is instead written with
// JSON_SET guarded by CAST(... AS JSON) to keep the explicit null.
func compileSet(expr string, fields bson.D, tr *touched) (string, error) {
	for _, e := range fields {
		if err := tr.add(e.Key); err != nil {
			return "", err
		}
		path, err := jsonPath(e.Key)
		if err != nil {
			return "", err
		}
		lit, err := literalJSON(e.Value)
		if err != nil {
			return "", err
		}
		expr = fmt.Sprintf("JSON_SET(%s, %s, CAST(%s AS JSON))", expr, quote(path), lit)
	}
	return expr, nil
}

func compileUnset(expr string, fields bson.D, tr *touched) (string, error) {
	for _, e := range fields {
		if err := tr.add(e.Key); err != nil {
			return "", err
		}
		path, err := jsonPath(e.Key)
		if err != nil {
			return "", err
		}
		expr = fmt.Sprintf("(CASE WHEN JSON_EXTRACT(%s, %s) IS NULL THEN %s ELSE JSON_REMOVE(%s, %s) END)",
			expr, quote(path), expr, expr, quote(path))
	}
	return expr, nil
}

// compileArith implements $inc/$mul: a missing field is treated as
// identity (0 for +, 1 for *), so $inc on an absent field behaves as
// an insert of the increment value.
func compileArith(expr string, fields bson.D, tr *touched, op string, identity float64) (string, error) {
	for _, e := range fields {
		if err := tr.add(e.Key); err != nil {
			return "", err
		}
		path, err := jsonPath(e.Key)
		if err != nil {
			return "", err
		}
		n, ok := asNumber(e.Value)
		if !ok {
			return "", errf("TYPE_MISMATCH", "%s value for %q must be numeric", op, e.Key)
		}
		current := fmt.Sprintf("COALESCE(JSON_EXTRACT(%s, %s), %s)", expr, quote(path), formatFloat(identity))
		expr = fmt.Sprintf("JSON_SET(%s, %s, (%s) %s (%s))", expr, quote(path), current, op, formatFloat(n))
	}
	return expr, nil
}

func compileMinMax(expr string, fields bson.D, tr *touched, cmp string) (string, error) {
	for _, e := range fields {
		if err := tr.add(e.Key); err != nil {
			return "", err
		}
		path, err := jsonPath(e.Key)
		if err != nil {
			return "", err
		}
		n, ok := asNumber(e.Value)
		if !ok {
			return "", errf("TYPE_MISMATCH", "$min/$max value for %q must be numeric", e.Key)
		}
		newVal := formatFloat(n)
		current := fmt.Sprintf("JSON_EXTRACT(%s, %s)", expr, quote(path))
		expr = fmt.Sprintf("JSON_SET(%s, %s, (CASE WHEN %s IS NULL OR (%s) %s (%s) THEN (%s) ELSE %s END))",
			expr, quote(path), current, newVal, cmp, current, newVal, current)
	}
	return expr, nil
}

func compileBit(expr string, fields bson.D, tr *touched) (string, error) {
	for _, e := range fields {
		if err := tr.add(e.Key); err != nil {
			return "", err
		}
		ops, ok := e.Value.(bson.D)
		if !ok || len(ops) != 1 {
			return "", errf("FAILED_TO_PARSE", "$bit requires exactly one of and/or/xor for %q", e.Key)
		}
		path, err := jsonPath(e.Key)
		if err != nil {
			return "", err
		}
		sqlFn := map[string]string{"and": "%s & %d", "or": "%s | %d", "xor": "%s ^ %d"}
		fn, ok := sqlFn[ops[0].Key]
		if !ok {
			return "", errf("BAD_VALUE", "$bit operator must be and, or, or xor")
		}
		n := toIntArg(ops[0].Value)
		current := fmt.Sprintf("JSON_EXTRACT(%s, %s)", expr, quote(path))
		expr = fmt.Sprintf("JSON_SET(%s, %s, ("+fn+"))", expr, quote(path), current, n)
	}
	return expr, nil
}

func compileCurrentDate(expr string, fields bson.D, tr *touched) (string, error) {
	for _, e := range fields {
		if err := tr.add(e.Key); err != nil {
			return "", err
		}
		path, err := jsonPath(e.Key)
		if err != nil {
			return "", err
		}
		wantTimestamp := false
		if doc, ok := e.Value.(bson.D); ok {
			for _, o := range doc {
				if o.Key == "$type" && o.Value == "timestamp" {
					wantTimestamp = true
				}
			}
		} else if b, ok := e.Value.(bool); !ok || !b {
			return "", errf("BAD_VALUE", "$currentDate requires true or {$type: ...}")
		}
		var lit string
		if wantTimestamp {
			lit = "JSON_OBJECT('$timestamp', JSON_OBJECT('t', UNIX_TIMESTAMP(), 'i', 1))"
		} else {
			lit = "JSON_OBJECT('$date', UNIX_TIMESTAMP() * 1000)"
		}
		expr = fmt.Sprintf("JSON_SET(%s, %s, CAST(%s AS JSON))", expr, quote(path), lit)
	}
	return expr, nil
}

func compileRename(expr string, fields bson.D, tr *touched) (string, error) {
	for _, e := range fields {
		to, ok := e.Value.(string)
		if !ok {
			return "", errf("BAD_VALUE", "$rename target must be a string")
		}
		from := e.Key
		if from == to {
			return "", errf("BAD_VALUE", "$rename source and target must differ")
		}
		if from == "_id" || to == "_id" {
			return "", errf("IMMUTABLE_FIELD", "_id cannot be renamed")
		}
		if strings.Contains(from, "$") || strings.Contains(to, "$") {
			return "", errf("BAD_VALUE", "$rename does not support positional paths")
		}
		if strings.HasPrefix(to, from+".") || strings.HasPrefix(from, to+".") {
			return "", errf("BAD_VALUE", "$rename paths must not overlap")
		}
		if err := tr.add(from); err != nil {
			return "", err
		}
		if err := tr.add(to); err != nil {
			return "", err
		}
		fromPath, err := jsonPath(from)
		if err != nil {
			return "", err
		}
		toPath, err := jsonPath(to)
		if err != nil {
			return "", err
		}
		value := fmt.Sprintf("JSON_EXTRACT(%s, %s)", expr, quote(fromPath))
		set := fmt.Sprintf("JSON_SET(%s, %s, %s)", expr, quote(toPath), value)
		expr = fmt.Sprintf("(CASE WHEN %s IS NULL THEN %s ELSE JSON_REMOVE(%s, %s) END)", value, expr, set, quote(fromPath))
	}
	return expr, nil
}

func compilePop(expr string, fields bson.D, tr *touched) (string, error) {
	for _, e := range fields {
		if err := tr.add(e.Key); err != nil {
			return "", err
		}
		path, err := jsonPath(e.Key)
		if err != nil {
			return "", err
		}
		dir := toIntArg(e.Value)
		arr := fmt.Sprintf("JSON_EXTRACT(%s, %s)", expr, quote(path))
		var idxExpr string
		if dir < 0 {
			idxExpr = "0"
		} else {
			idxExpr = fmt.Sprintf("JSON_LENGTH(%s) - 1", arr)
		}
		removed := fmt.Sprintf("JSON_REMOVE(%s, CONCAT(%s, '[', %s, ']'))", expr, quote(path), idxExpr)
		expr = fmt.Sprintf("(CASE WHEN JSON_TYPE(%s) = 'ARRAY' AND JSON_LENGTH(%s) > 0 THEN %s ELSE %s END)", arr, arr, removed, expr)
	}
	return expr, nil
}

func compilePush(expr string, fields bson.D, tr *touched) (string, error) {
	for _, e := range fields {
		if err := tr.add(e.Key); err != nil {
			return "", err
		}
		path, err := jsonPath(e.Key)
		if err != nil {
			return "", err
		}
		var values []interface{}
		if doc, ok := e.Value.(bson.D); ok && len(doc) == 1 && doc[0].Key == "$each" {
			arr, ok := doc[0].Value.(bson.A)
			if !ok {
				return "", errf("BAD_VALUE", "$each requires an array")
			}
			values = append(values, arr...)
		} else {
			values = append(values, e.Value)
		}
		arr := fmt.Sprintf("JSON_EXTRACT(%s, %s)", expr, quote(path))
		lits := make([]string, len(values))
		for i, v := range values {
			lit, err := literalJSON(v)
			if err != nil {
				return "", err
			}
			lits[i] = lit
		}
		appended := expr
		for _, lit := range lits {
			appended = fmt.Sprintf("JSON_ARRAY_APPEND(%s, %s, CAST(%s AS JSON))", appended, quote(path), lit)
		}
		create := fmt.Sprintf("JSON_SET(%s, %s, JSON_ARRAY(%s))", expr, quote(path), strings.Join(lits, ","))
		expr = fmt.Sprintf("(CASE WHEN %s IS NULL THEN %s ELSE %s END)", arr, create, appended)
	}
	return expr, nil
}

func quote(s string) string { return "'" + predicate.Escape(s) + "'" }

func formatFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func toIntArg(v interface{}) int64 {
	switch n := v.(type) {
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func literalJSON(v interface{}) (string, error) {
	switch val := v.(type) {
	case nil:
		return "'null'", nil
	case bool:
		if val {
			return "'true'", nil
		}
		return "'false'", nil
	case string:
		return fmt.Sprintf("JSON_QUOTE(%s)", quote(val)), nil
	case int32, int64, float64:
		n, _ := asNumber(val)
		return formatFloat(n), nil
	case bson.A:
		parts := make([]string, len(val))
		for i, item := range val {
			lit, err := literalJSON(item)
			if err != nil {
				return "", err
			}
			parts[i] = fmt.Sprintf("CAST(%s AS JSON)", lit)
		}
		return "JSON_ARRAY(" + strings.Join(parts, ",") + ")", nil
	case bson.D:
		parts := make([]string, 0, len(val))
		for _, e := range val {
			lit, err := literalJSON(e.Value)
			if err != nil {
				return "", err
			}
			parts = append(parts, quote(e.Key)+",CAST("+lit+" AS JSON)")
		}
		return "JSON_OBJECT(" + strings.Join(parts, ",") + ")", nil
	default:
		return "", errf("TYPE_MISMATCH", "unsupported value type %T", v)
	}
}
