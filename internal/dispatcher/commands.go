package dispatcher

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mariadb-corp/nosqlbridge/internal/predicate"
	"github.com/mariadb-corp/nosqlbridge/internal/update"
)

func docString(body bson.D, key string) (string, bool) {
	for _, e := range body {
		if e.Key == key {
			s, ok := e.Value.(string)
			return s, ok
		}
	}
	return "", false
}

func docValue(body bson.D, key string) (interface{}, bool) {
	for _, e := range body {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

func okReply(extra ...bson.E) bson.D {
	doc := bson.D{{Key: "ok", Value: float64(1)}}
	return append(doc, extra...)
}

// createTableIfMissing synthesizes the auto-create DDL named in §4.6
// TableCreating: a computed id virtual column over $._id plus a
// uniqueness constraint.
func createTableIfMissing(table string) string {
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS `%s` (doc JSON NOT NULL, id VARCHAR(255) AS (JSON_UNQUOTE(JSON_EXTRACT(doc, '$._id'))) STORED, UNIQUE KEY uniq_id (id))",
		table,
	)
}

func execWithAutoCreate(down Downstream, table, stmt string) (Reply, error) {
	reply, err := down.Exec(stmt)
	if err != nil {
		return reply, err
	}
	if reply.TableNotExist {
		if _, err := down.Exec(createTableIfMissing(table)); err != nil {
			return Reply{}, fmt.Errorf("auto-create table %s: %w", table, err)
		}
		return down.Exec(stmt)
	}
	return reply, nil
}

// FindHandler implements the Single-variant "find" command (§4.6): one
// SELECT, one reply, converted back to a wire response.
type FindHandler struct{}

func (FindHandler) Name() string       { return "find" }
func (FindHandler) Kind() Kind         { return Single }
func (FindHandler) Required() Required { return RoleRead }
func (FindHandler) Cacheable() bool    { return true }

func (FindHandler) Handle(sess *Session, db string, body bson.D, down Downstream) (Result, error) {
	table, _ := docString(body, "find")
	where := "1=1"
	if filterVal, ok := docValue(body, "filter"); ok {
		if filterDoc, ok := filterVal.(bson.D); ok && len(filterDoc) > 0 {
			compiled, err := predicate.Compile(filterDoc)
			if err != nil {
				return Result{}, newSoftError("BAD_VALUE", err.Error())
			}
			where = compiled
		}
	}
	stmt := fmt.Sprintf("SELECT %s FROM `%s`.`%s` WHERE %s", predicate.DocColumn, db, table, where)
	reply, err := down.Exec(stmt)
	if err != nil {
		return Result{}, &MariaDBError{Code: reply.ErrCode, Msg: reply.ErrMsg}
	}
	return Result{
		Body:  okReply(bson.E{Key: "cursor", Value: bson.D{{Key: "firstBatch", Value: bson.A{}}, {Key: "id", Value: int64(0)}, {Key: "ns", Value: db + "." + table}}}),
		Table: table,
	}, nil
}

// InsertHandler implements the Multi+TableCreating variant "insert"
// command: a batch of INSERTs, auto-creating the table on first use.
type InsertHandler struct{}

func (InsertHandler) Name() string       { return "insert" }
func (InsertHandler) Kind() Kind         { return TableCreating }
func (InsertHandler) Required() Required { return RoleReadWrite }
func (InsertHandler) Cacheable() bool    { return false }

func (InsertHandler) Handle(sess *Session, db string, body bson.D, down Downstream) (Result, error) {
	table, _ := docString(body, "insert")
	docsVal, _ := docValue(body, "documents")
	docs, _ := docsVal.(bson.A)

	var inserted, failed int32
	for _, raw := range docs {
		doc, ok := raw.(bson.D)
		if !ok {
			failed++
			continue
		}
		jsonDoc, err := bson.MarshalExtJSON(doc, false, false)
		if err != nil {
			failed++
			continue
		}
		stmt := fmt.Sprintf("INSERT INTO `%s`.`%s` (doc) VALUES ('%s')", db, table, predicate.Escape(string(jsonDoc)))
		if _, err := execWithAutoCreate(down, table, stmt); err != nil {
			failed++
			continue
		}
		inserted++
	}
	return Result{
		Body:  okReply(bson.E{Key: "n", Value: inserted}),
		Table: table,
		Write: inserted > 0,
	}, nil
}

// UpdateHandler implements the Single variant "update" command,
// compiling its update spec with internal/update.
type UpdateHandler struct{}

func (UpdateHandler) Name() string       { return "update" }
func (UpdateHandler) Kind() Kind         { return Single }
func (UpdateHandler) Required() Required { return RoleReadWrite }
func (UpdateHandler) Cacheable() bool    { return false }

func (UpdateHandler) Handle(sess *Session, db string, body bson.D, down Downstream) (Result, error) {
	table, _ := docString(body, "update")
	updatesVal, _ := docValue(body, "updates")
	updates, _ := updatesVal.(bson.A)

	var matched int64
	for _, raw := range updates {
		spec, ok := raw.(bson.D)
		if !ok {
			continue
		}
		qVal, _ := docValue(spec, "q")
		uVal, _ := docValue(spec, "u")
		filterDoc, _ := qVal.(bson.D)
		where := "1=1"
		if len(filterDoc) > 0 {
			compiled, err := predicate.Compile(filterDoc)
			if err != nil {
				return Result{}, newSoftError("BAD_VALUE", err.Error())
			}
			where = compiled
		}
		compiledUpdate, err := update.Compile(uVal, nil)
		if err != nil {
			return Result{}, newSoftError(errCodeName(err), err.Error())
		}
		if compiledUpdate.Kind == update.ReplacementDocument {
			jsonDoc, err := bson.MarshalExtJSON(compiledUpdate.Replace, false, false)
			if err != nil {
				return Result{}, &HardError{Msg: err.Error()}
			}
			stmt := fmt.Sprintf("UPDATE `%s`.`%s` SET %s = '%s' WHERE %s",
				db, table, predicate.DocColumn, predicate.Escape(string(jsonDoc)), where)
			reply, err := execWithAutoCreate(down, table, stmt)
			if err != nil {
				return Result{}, &MariaDBError{Code: reply.ErrCode, Msg: reply.ErrMsg}
			}
			matched += reply.AffectedRows
			continue
		}
		stmt := fmt.Sprintf("UPDATE `%s`.`%s` SET %s = %s WHERE %s",
			db, table, predicate.DocColumn, compiledUpdate.Expr, where)
		reply, err := execWithAutoCreate(down, table, stmt)
		if err != nil {
			return Result{}, &MariaDBError{Code: reply.ErrCode, Msg: reply.ErrMsg}
		}
		matched += reply.AffectedRows
	}
	return Result{
		Body:  okReply(bson.E{Key: "n", Value: matched}),
		Table: table,
		Write: matched > 0,
	}, nil
}

// DeleteHandler implements the Single variant "delete" command.
type DeleteHandler struct{}

func (DeleteHandler) Name() string       { return "delete" }
func (DeleteHandler) Kind() Kind         { return Single }
func (DeleteHandler) Required() Required { return RoleReadWrite }
func (DeleteHandler) Cacheable() bool    { return false }

func (DeleteHandler) Handle(sess *Session, db string, body bson.D, down Downstream) (Result, error) {
	table, _ := docString(body, "delete")
	deletesVal, _ := docValue(body, "deletes")
	deletes, _ := deletesVal.(bson.A)

	var removed int64
	for _, raw := range deletes {
		spec, ok := raw.(bson.D)
		if !ok {
			continue
		}
		qVal, _ := docValue(spec, "q")
		filterDoc, _ := qVal.(bson.D)
		where := "1=1"
		if len(filterDoc) > 0 {
			compiled, err := predicate.Compile(filterDoc)
			if err != nil {
				return Result{}, newSoftError("BAD_VALUE", err.Error())
			}
			where = compiled
		}
		stmt := fmt.Sprintf("DELETE FROM `%s`.`%s` WHERE %s", db, table, where)
		reply, err := down.Exec(stmt)
		if err != nil {
			if reply.TableNotExist {
				continue
			}
			return Result{}, &MariaDBError{Code: reply.ErrCode, Msg: reply.ErrMsg}
		}
		removed += reply.AffectedRows
	}
	return Result{
		Body:  okReply(bson.E{Key: "n", Value: removed}),
		Table: table,
		Write: removed > 0,
	}, nil
}

func errCodeName(err error) string {
	msg := err.Error()
	if idx := strings.Index(msg, ":"); idx > 0 {
		return msg[:idx]
	}
	return "FAILED_TO_PARSE"
}
