package dispatcher

import (
	"strings"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/mariadb-corp/nosqlbridge/internal/cache"
	"github.com/mariadb-corp/nosqlbridge/internal/wire"
)

type fakeDownstream struct {
	statements []string
	reply      Reply
	err        error
}

func (f *fakeDownstream) Exec(stmt string) (Reply, error) {
	f.statements = append(f.statements, stmt)
	return f.reply, f.err
}

func buildMsgRequest(t *testing.T, body bson.D) *wire.Request {
	t.Helper()
	frame, err := wire.EncodeMsg(body, false)
	if err != nil {
		t.Fatal(err)
	}
	hdr, err := wire.DecodeHeader(frame)
	if err != nil {
		t.Fatal(err)
	}
	req, err := wire.ParseBody(hdr, frame[wire.HeaderSize:])
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func readyRoles() *RoleTable {
	roles := NewRoleTable()
	roles.Grant("app", RoleRead|RoleReadWrite)
	return roles
}

func TestDispatchInsertAutoCreatesOnMissingTable(t *testing.T) {
	d := New(zap.NewNop(), cache.New(), true)
	d.RegisterDefaults()
	sess := NewSession("alice", "127.0.0.1", "app", readyRoles())

	down := &fakeDownstream{reply: Reply{OK: false, TableNotExist: true}}
	// The first call (the insert attempt) reports TableNotExist; the
	// auto-create and the retried insert that follow both succeed.
	calls := 0
	execFn := func(stmt string) (Reply, error) {
		calls++
		down.statements = append(down.statements, stmt)
		if strings.HasPrefix(stmt, "CREATE TABLE") {
			return Reply{OK: true}, nil
		}
		if calls == 1 {
			return Reply{TableNotExist: true}, nil
		}
		return Reply{OK: true, AffectedRows: 1}, nil
	}

	body := bson.D{
		{Key: "insert", Value: "widgets"},
		{Key: "documents", Value: bson.A{bson.D{{Key: "_id", Value: "1"}, {Key: "name", Value: "a"}}}},
		{Key: "$db", Value: "app"},
	}
	req := buildMsgRequest(t, body)

	resp := d.execute(sess, req, downstreamFunc(execFn))
	if resp.Frame == nil {
		t.Fatal("expected a response frame")
	}
	foundCreate := false
	for _, s := range down.statements {
		if strings.HasPrefix(s, "CREATE TABLE") {
			foundCreate = true
		}
	}
	if !foundCreate {
		t.Fatalf("expected auto-create DDL, got statements: %v", down.statements)
	}
}

func TestDispatchUnauthorizedReturnsSoftErrorWithoutDownstreamCall(t *testing.T) {
	d := New(zap.NewNop(), cache.New(), false)
	d.RegisterDefaults()
	sess := NewSession("bob", "127.0.0.1", "restricted", NewRoleTable())

	down := &fakeDownstream{}
	body := bson.D{{Key: "find", Value: "widgets"}, {Key: "$db", Value: "restricted"}}
	req := buildMsgRequest(t, body)

	resp := d.execute(sess, req, down)
	if len(down.statements) != 0 {
		t.Fatal("expected no downstream SQL before authorization passes")
	}
	if resp.Frame == nil {
		t.Fatal("expected an error response frame")
	}
}

func TestQueuedRequestsDrainInOrder(t *testing.T) {
	d := New(zap.NewNop(), cache.New(), false)
	d.RegisterDefaults()
	sess := NewSession("alice", "127.0.0.1", "app", readyRoles())

	down := &fakeDownstream{reply: Reply{OK: true}}
	body := bson.D{{Key: "find", Value: "widgets"}, {Key: "filter", Value: bson.D{}}, {Key: "$db", Value: "app"}}
	req1 := buildMsgRequest(t, body)
	req2 := buildMsgRequest(t, body)

	sess.state = Busy
	_, dispatched := d.Dispatch(sess, req2, down)
	if dispatched {
		t.Fatal("expected enqueue while BUSY")
	}
	sess.state = Ready
	_, dispatched = d.Dispatch(sess, req1, down)
	if !dispatched {
		t.Fatal("expected immediate dispatch while READY")
	}

	drained := d.Drain(sess, down)
	if len(drained) != 1 {
		t.Fatalf("expected 1 drained response, got %d", len(drained))
	}
}

// downstreamFunc adapts a plain function to the Downstream interface.
type downstreamFunc func(stmt string) (Reply, error)

func (f downstreamFunc) Exec(stmt string) (Reply, error) { return f(stmt) }
