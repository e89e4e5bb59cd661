// Package predicate translates a document filter into a SQL boolean
// expression over a JSON-typed column named doc (and, for the _id key,
// a computed string column named id).
package predicate

import (
	"fmt"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mariadb-corp/nosqlbridge/internal/pathresolver"
)

// DocColumn and IDColumn name the two SQL columns predicates compile
// against.
const (
	DocColumn = "doc"
	IDColumn  = "id"
)

// Error is a document-shape error (§7: BAD_VALUE, TYPE_MISMATCH, ...).
type Error struct {
	Code string
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Msg) }

func badValue(format string, a ...interface{}) error {
	return &Error{Code: "BAD_VALUE", Msg: fmt.Sprintf(format, a...)}
}

func typeMismatch(format string, a ...interface{}) error {
	return &Error{Code: "TYPE_MISMATCH", Msg: fmt.Sprintf(format, a...)}
}

// Escape applies escape_essential_chars uniformly to identifiers and
// string literals: backslash and single quote are backslash-escaped so
// the result is safe to embed inside a single-quoted SQL literal.
func Escape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' || c == '\'' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	return b.String()
}

func quote(s string) string { return "'" + Escape(s) + "'" }

// Compile translates a top-level document filter into a SQL condition.
// An empty filter compiles to the constant condition "1".
func Compile(filter bson.D) (string, error) {
	if len(filter) == 0 {
		return "1", nil
	}
	var parts []string
	skip := map[int]bool{}
	// $regex/$options live at the same nesting level as the field they
	// annotate; pairing below only applies inside compileOperators, this
	// loop handles the top-level implicit AND.
	for i, elem := range filter {
		if skip[i] {
			continue
		}
		cond, err := compileTopLevel(elem.Key, elem.Value)
		if err != nil {
			return "", err
		}
		parts = append(parts, cond)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, " AND ") + ")", nil
}

func compileTopLevel(key string, value interface{}) (string, error) {
	if strings.HasPrefix(key, "$") {
		return compileLogical(key, value)
	}
	return compileFieldFilter(key, value)
}

func compileLogical(op string, value interface{}) (string, error) {
	switch op {
	case "$and", "$or", "$nor":
		arr, ok := value.(bson.A)
		if !ok || len(arr) == 0 {
			return "", badValue("%s requires a non-empty array", op)
		}
		var parts []string
		for _, sub := range arr {
			doc, ok := sub.(bson.D)
			if !ok {
				return "", badValue("%s elements must be documents", op)
			}
			cond, err := Compile(doc)
			if err != nil {
				return "", err
			}
			parts = append(parts, cond)
		}
		connective := " AND "
		if op == "$or" || op == "$nor" {
			connective = " OR "
		}
		joined := "(" + strings.Join(parts, connective) + ")"
		if op == "$nor" {
			return "(NOT " + joined + ")", nil
		}
		return joined, nil
	case "$alwaysTrue":
		if toInt(value) != 1 {
			return "", badValue("$alwaysTrue must be 1")
		}
		return "1", nil
	case "$alwaysFalse":
		if toInt(value) != 1 {
			return "", badValue("$alwaysFalse must be 1")
		}
		return "0", nil
	default:
		return "", badValue("unknown top-level operator %q", op)
	}
}

func toInt(v interface{}) int64 {
	switch n := v.(type) {
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return -1
	}
}

func pathExpr(field, full string) string {
	if field == "_id" {
		return IDColumn
	}
	return fmt.Sprintf("JSON_EXTRACT(%s, %s)", DocColumn, quote(full))
}

// compileFieldFilter handles one field of the implicit top-level AND:
// either a literal value (implicit $eq) or a document of operators.
func compileFieldFilter(field string, value interface{}) (string, error) {
	if doc, ok := value.(bson.D); ok && isOperatorDoc(doc) {
		return compileOperatorDoc(field, doc)
	}
	return compileEq(field, value, false)
}

func isOperatorDoc(doc bson.D) bool {
	for _, e := range doc {
		if strings.HasPrefix(e.Key, "$") {
			return true
		}
	}
	return false
}

func incarnations(field string) ([]pathresolver.Incarnation, error) {
	if field == "_id" {
		return []pathresolver.Incarnation{{FullPath: "_id"}}, nil
	}
	return pathresolver.Resolve(field)
}

// compileEq implements the $eq/$ne guarded comparison, including the
// NULL-matching special case: matching literal null requires either an
// absent path, a path whose JSON array contains null, or a path whose
// scalar value is null.
func compileEq(field string, value interface{}, negate bool) (string, error) {
	if rx, ok := value.(primitive.Regex); ok {
		cond, err := compileRegex(field, rx.Pattern, rx.Options)
		if err != nil {
			return "", err
		}
		if negate {
			return "(NOT " + cond + ")", nil
		}
		return cond, nil
	}

	incs, err := incarnations(field)
	if err != nil {
		return "", err
	}
	lit, err := literal(value)
	if err != nil {
		return "", err
	}

	var parts []string
	if value == nil {
		for _, inc := range incs {
			expr := pathExpr(field, inc.FullPath)
			parts = append(parts, fmt.Sprintf("(%s IS NULL OR JSON_CONTAINS(%s, 'null'))", expr, expr))
		}
	} else {
		for _, inc := range incs {
			expr := pathExpr(field, inc.FullPath)
			parts = append(parts, fmt.Sprintf("%s = %s", expr, lit))
		}
	}
	cond := "(" + strings.Join(parts, " OR ") + ")"
	if negate {
		return "(NOT " + cond + ")", nil
	}
	return cond, nil
}

func compileCompare(field, sqlOp string, value interface{}) (string, error) {
	incs, err := incarnations(field)
	if err != nil {
		return "", err
	}
	// $timestamp orders lexicographically on the (t, i) pair: ties on t
	// break on i, so <= and >= cannot be expressed as a single scalar
	// comparison against the JSON path.
	if ts, ok := value.(primitive.Timestamp); ok {
		var parts []string
		for _, inc := range incs {
			tExpr := pathExpr(field, inc.FullPath+".t")
			iExpr := pathExpr(field, inc.FullPath+".i")
			switch sqlOp {
			case "<=", "<":
				parts = append(parts, fmt.Sprintf("(%s < %d OR (%s = %d AND %s %s %d))", tExpr, ts.T, tExpr, ts.T, iExpr, sqlOp, ts.I))
			default:
				parts = append(parts, fmt.Sprintf("(%s > %d OR (%s = %d AND %s %s %d))", tExpr, ts.T, tExpr, ts.T, iExpr, sqlOp, ts.I))
			}
		}
		return "(" + strings.Join(parts, " OR ") + ")", nil
	}
	lit, err := literal(value)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, inc := range incs {
		expr := pathExpr(field, inc.FullPath)
		parts = append(parts, fmt.Sprintf("(%s IS NOT NULL AND %s %s %s)", expr, expr, sqlOp, lit))
	}
	return "(" + strings.Join(parts, " OR ") + ")", nil
}

// compileOperatorDoc compiles a document of $-prefixed operators for a
// single field, pairing $regex with a sibling $options first.
func compileOperatorDoc(field string, ops bson.D) (string, error) {
	var parts []string
	var regexPattern string
	var haveRegex bool
	var regexOptions string
	for _, e := range ops {
		if e.Key == "$options" {
			continue // consumed alongside $regex below
		}
		if e.Key == "$regex" {
			haveRegex = true
			switch v := e.Value.(type) {
			case string:
				regexPattern = v
			case primitive.Regex:
				regexPattern = v.Pattern
				regexOptions = v.Options
			default:
				return "", badValue("$regex must be a string or regex")
			}
		}
	}
	for _, e := range ops {
		if e.Key == "$options" {
			if found := optionsOf(regexOptions); found != "" {
				regexOptions = found
			} else if v, ok := e.Value.(string); ok {
				regexOptions = v
			}
			continue
		}
		if e.Key == "$regex" {
			continue
		}
		cond, err := compileOperator(field, e.Key, e.Value)
		if err != nil {
			return "", err
		}
		parts = append(parts, cond)
	}
	if haveRegex {
		cond, err := compileRegex(field, regexPattern, regexOptions)
		if err != nil {
			return "", err
		}
		parts = append(parts, cond)
	} else if hasOptionsOnly(ops) {
		return "", badValue("$options without $regex")
	}
	if len(parts) == 0 {
		return "1", nil
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, " AND ") + ")", nil
}

func optionsOf(s string) string { return s }

func hasOptionsOnly(ops bson.D) bool {
	hasOptions, hasRegex := false, false
	for _, e := range ops {
		if e.Key == "$options" {
			hasOptions = true
		}
		if e.Key == "$regex" {
			hasRegex = true
		}
	}
	return hasOptions && !hasRegex
}

func compileOperator(field, op string, value interface{}) (string, error) {
	switch op {
	case "$eq":
		return compileEq(field, value, false)
	case "$ne":
		return compileEq(field, value, true)
	case "$gt":
		return compileCompare(field, ">", value)
	case "$gte":
		return compileCompare(field, ">=", value)
	case "$lt":
		return compileCompare(field, "<", value)
	case "$lte":
		return compileCompare(field, "<=", value)
	case "$in":
		return compileIn(field, value, false)
	case "$nin":
		return compileIn(field, value, true)
	case "$all":
		return compileAll(field, value)
	case "$not":
		return compileNot(field, value)
	case "$elemMatch":
		return compileElemMatch(field, value)
	case "$exists":
		return compileExists(field, value)
	case "$size":
		return compileSize(field, value)
	case "$type":
		return compileType(field, value)
	case "$mod":
		return compileMod(field, value)
	default:
		return "", badValue("unknown operator %q", op)
	}
}

func compileIn(field string, value interface{}, negate bool) (string, error) {
	arr, ok := value.(bson.A)
	if !ok {
		return "", badValue("$in/$nin requires an array")
	}
	if len(arr) == 0 {
		if negate {
			return "1", nil
		}
		return "0", nil
	}
	var parts []string
	for _, v := range arr {
		cond, err := compileEq(field, v, false)
		if err != nil {
			return "", err
		}
		parts = append(parts, cond)
	}
	cond := "(" + strings.Join(parts, " OR ") + ")"
	if negate {
		return "(NOT " + cond + ")", nil
	}
	return cond, nil
}

// compileAll treats the argument as an array of values that must all
// be present, checked with JSON_CONTAINS against a constructed JSON
// array for each incarnation of field.
func compileAll(field string, value interface{}) (string, error) {
	arr, ok := value.(bson.A)
	if !ok {
		return "", badValue("$all requires an array")
	}
	lits := make([]string, 0, len(arr))
	for _, v := range arr {
		lit, err := literal(v)
		if err != nil {
			return "", err
		}
		lits = append(lits, lit)
	}
	needle := "JSON_ARRAY(" + strings.Join(lits, ",") + ")"
	incs, err := incarnations(field)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, inc := range incs {
		expr := pathExpr(field, inc.FullPath)
		parts = append(parts, fmt.Sprintf("JSON_CONTAINS(%s, %s)", expr, needle))
	}
	return "(" + strings.Join(parts, " OR ") + ")", nil
}

func compileNot(field string, value interface{}) (string, error) {
	if rx, ok := value.(primitive.Regex); ok {
		cond, err := compileRegex(field, rx.Pattern, rx.Options)
		if err != nil {
			return "", err
		}
		return "(NOT " + cond + ")", nil
	}
	doc, ok := value.(bson.D)
	if !ok || len(doc) == 0 {
		return "", badValue("$not requires a non-empty document or a regex")
	}
	cond, err := compileOperatorDoc(field, doc)
	if err != nil {
		return "", err
	}
	return "(NOT " + cond + ")", nil
}

func compileElemMatch(field string, value interface{}) (string, error) {
	doc, ok := value.(bson.D)
	if !ok {
		return "", badValue("$elemMatch requires an object")
	}
	incs, err := incarnations(field)
	if err != nil {
		return "", err
	}
	var arrayExprs []string
	for _, inc := range incs {
		if inc.ArrayPath != "" || strings.Contains(inc.FullPath, "[*]") {
			arrayExprs = append(arrayExprs, pathExpr(field, inc.FullPath))
		}
	}
	if len(arrayExprs) == 0 {
		arrayExprs = []string{pathExpr(field, "$."+field)}
	}
	var subParts []string
	for _, e := range doc {
		lit, err := literal(e.Value)
		if err != nil {
			return "", err
		}
		for _, expr := range arrayExprs {
			subParts = append(subParts, fmt.Sprintf("JSON_CONTAINS(%s, JSON_OBJECT(%s, %s))", expr, quote(e.Key), lit))
		}
	}
	return "(" + strings.Join(subParts, " AND ") + ")", nil
}

func compileExists(field string, value interface{}) (string, error) {
	want, ok := value.(bool)
	if !ok {
		return "", badValue("$exists requires a boolean")
	}
	incs, err := incarnations(field)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, inc := range incs {
		expr := pathExpr(field, inc.FullPath)
		if want {
			parts = append(parts, fmt.Sprintf("%s IS NOT NULL", expr))
		} else {
			parts = append(parts, fmt.Sprintf("%s IS NULL", expr))
		}
	}
	connective := " OR "
	if !want {
		connective = " AND "
	}
	return "(" + strings.Join(parts, connective) + ")", nil
}

func compileSize(field string, value interface{}) (string, error) {
	incs, err := incarnations(field)
	if err != nil {
		return "", err
	}
	n := toInt(value)
	if n < 0 {
		return "", badValue("$size requires a non-negative integer")
	}
	var parts []string
	for _, inc := range incs {
		expr := pathExpr(field, inc.FullPath)
		parts = append(parts, fmt.Sprintf("JSON_LENGTH(%s) = %d", expr, n))
	}
	return "(" + strings.Join(parts, " OR ") + ")", nil
}

// typeAliases maps $type string aliases to MySQL JSON_TYPE() names.
var typeAliases = map[string]string{
	"double": "DOUBLE", "string": "STRING", "object": "OBJECT",
	"array": "ARRAY", "bool": "BOOLEAN", "null": "NULL",
	"int": "INTEGER", "long": "INTEGER", "decimal": "DOUBLE",
	"binData": "OBJECT", "date": "OBJECT", "regex": "OBJECT", "timestamp": "OBJECT",
}

func compileType(field string, value interface{}) (string, error) {
	var names []string
	switch v := value.(type) {
	case string:
		t, ok := typeAliases[v]
		if !ok {
			return "", badValue("unknown $type alias %q", v)
		}
		names = append(names, t)
	case bson.A:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return "", badValue("$type array elements must be strings")
			}
			t, ok := typeAliases[s]
			if !ok {
				return "", badValue("unknown $type alias %q", s)
			}
			names = append(names, t)
		}
	default:
		return "", badValue("$type requires a string or array of strings")
	}
	incs, err := incarnations(field)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, inc := range incs {
		expr := pathExpr(field, inc.FullPath)
		for _, t := range names {
			parts = append(parts, fmt.Sprintf("JSON_TYPE(%s) = %s", expr, quote(t)))
		}
	}
	return "(" + strings.Join(parts, " OR ") + ")", nil
}

func compileMod(field string, value interface{}) (string, error) {
	arr, ok := value.(bson.A)
	if !ok || len(arr) != 2 {
		return "", badValue("$mod requires a two-element array")
	}
	divisor := toInt(arr[0])
	remainder := toInt(arr[1])
	if divisor == 0 {
		return "", badValue("$mod divisor must not be zero")
	}
	incs, err := incarnations(field)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, inc := range incs {
		expr := pathExpr(field, inc.FullPath)
		parts = append(parts, fmt.Sprintf("MOD(%s, %d) = %d", expr, divisor, remainder))
	}
	return "(" + strings.Join(parts, " OR ") + ")", nil
}

func compileRegex(field, pattern, options string) (string, error) {
	incs, err := incarnations(field)
	if err != nil {
		return "", err
	}
	flagExpr := ""
	if strings.Contains(options, "i") {
		flagExpr = ", 'i'"
	}
	var parts []string
	for _, inc := range incs {
		expr := pathExpr(field, inc.FullPath)
		parts = append(parts, fmt.Sprintf("%s REGEXP %s%s", expr, quote(pattern), flagExpr))
	}
	return "(" + strings.Join(parts, " OR ") + ")", nil
}

// literal renders a decoded BSON value as a SQL literal suitable for
// embedding inside a JSON_EXTRACT comparison. Composite types
// represented as reserved-key documents ($binary, $date, $regex,
// $timestamp) are decoded specially.
func literal(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "CAST('null' AS JSON)", nil
	case bool:
		if v {
			return "CAST('true' AS JSON)", nil
		}
		return "CAST('false' AS JSON)", nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case string:
		return quote(v), nil
	case primitive.DateTime:
		return fmt.Sprintf("JSON_OBJECT('$date', %d)", int64(v)), nil
	case primitive.Timestamp:
		return fmt.Sprintf("JSON_OBJECT('$timestamp', JSON_OBJECT('t', %d, 'i', %d))", v.T, v.I), nil
	case primitive.Binary:
		return fmt.Sprintf("JSON_OBJECT('$binary', %s)", quote(string(v.Data))), nil
	case primitive.Regex:
		return fmt.Sprintf("JSON_OBJECT('$regex', %s, '$options', %s)", quote(v.Pattern), quote(v.Options)), nil
	case bson.A:
		elems := make([]string, 0, len(v))
		for _, item := range v {
			lit, err := literal(item)
			if err != nil {
				return "", err
			}
			elems = append(elems, lit)
		}
		return "JSON_ARRAY(" + strings.Join(elems, ",") + ")", nil
	case bson.D:
		pairs := make([]string, 0, len(v))
		for _, e := range v {
			lit, err := literal(e.Value)
			if err != nil {
				return "", err
			}
			pairs = append(pairs, quote(e.Key)+","+lit)
		}
		return "JSON_OBJECT(" + strings.Join(pairs, ",") + ")", nil
	default:
		return "", typeMismatch("unsupported literal type %T", value)
	}
}
