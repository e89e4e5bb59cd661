// Package dispatcher implements CommandDispatcher (spec.md §4.6): the
// per-session state machine that resolves, authorizes, and executes
// one client command at a time, optionally consulting ResponseCache
// (§4.7) on the way.
package dispatcher

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/mariadb-corp/nosqlbridge/internal/cache"
	"github.com/mariadb-corp/nosqlbridge/internal/fingerprint"
	"github.com/mariadb-corp/nosqlbridge/internal/replication"
	"github.com/mariadb-corp/nosqlbridge/internal/wire"
)

// State is the session's position in the READY/BUSY state machine.
type State int

const (
	Ready State = iota
	Busy
)

// Downstream is the minimal surface a command handler needs against
// the backing relational engine: send one statement, get one reply.
// A real implementation wraps the bridge-side SQL connection pool;
// tests and Immediate-only handlers never need to implement it.
type Downstream interface {
	Exec(stmt string) (Reply, error)
}

// Reply is a downstream SQL reply, reduced to what handlers consume:
// whether it succeeded, the affected/matched/inserted counts, and —
// for a "table does not exist" failure — enough to let TableCreating
// decide whether to auto-create.
type Reply struct {
	OK             bool
	TableNotExist  bool
	AffectedRows   int64
	InsertedID     interface{}
	ErrCode        int
	ErrMsg         string
}

// Result is what a Handler hands back to the dispatcher: a wire
// response body plus the single table it touched, for cache tagging.
type Result struct {
	Body  bson.D
	Table string
	// Write reports whether this command mutated data, so a
	// successful Write publishes a cache invalidation for Table.
	Write bool
}

// Kind tags a Handler's execution shape (§4.6).
type Kind int

const (
	Immediate Kind = iota
	Single
	Multi
	TableCreating
)

// Handler executes one resolved command.
type Handler interface {
	Name() string
	Kind() Kind
	Required() Required
	Cacheable() bool
	Handle(sess *Session, db string, body bson.D, down Downstream) (Result, error)
}

// Session is one client connection's dispatcher state.
type Session struct {
	User      string
	Host      string
	DefaultDB string
	Roles     *RoleTable

	state     State
	queue     []*wire.Request
	lastError error
	current   replication.GTID
}

func NewSession(user, host, defaultDB string, roles *RoleTable) *Session {
	return &Session{User: user, Host: host, DefaultDB: defaultDB, Roles: roles}
}

// Dispatcher resolves and executes commands for many concurrent
// sessions, each single-threaded (§5 Client-session context).
type Dispatcher struct {
	handlers map[string]Handler
	cache    *cache.Cache
	log      *zap.Logger

	autoCreateTables bool
}

func New(log *zap.Logger, c *cache.Cache, autoCreateTables bool) *Dispatcher {
	return &Dispatcher{
		handlers:         make(map[string]Handler),
		cache:            c,
		log:              log,
		autoCreateTables: autoCreateTables,
	}
}

func (d *Dispatcher) Register(h Handler) {
	d.handlers[h.Name()] = h
}

// RegisterDefaults wires up the CRUD command set grounded on
// internal/predicate and internal/update.
func (d *Dispatcher) RegisterDefaults() {
	d.Register(FindHandler{})
	d.Register(InsertHandler{})
	d.Register(UpdateHandler{})
	d.Register(DeleteHandler{})
}

// extractDB resolves the target database: the $db field of an OP_MSG
// body, or the session's default when the body has no $db. Legacy
// opcodes never reach it, since execute rejects them first.
func extractDB(sess *Session, body bson.D) string {
	for _, e := range body {
		if e.Key == "$db" {
			if s, ok := e.Value.(string); ok {
				return s
			}
		}
	}
	return sess.DefaultDB
}

// commandName returns the first key of body — Mongo-style commands
// are single-key-first documents by convention.
func commandName(body bson.D) (string, bool) {
	if len(body) == 0 {
		return "", false
	}
	return body[0].Key, true
}

// Dispatch processes one request for sess. If sess is BUSY, req is
// enqueued and dispatched once the session returns to READY. The
// caller is responsible for re-invoking Drain after Dispatch returns
// an empty response for a queued request.
func (d *Dispatcher) Dispatch(sess *Session, req *wire.Request, down Downstream) (wire.Response, bool) {
	if sess.state == Busy {
		sess.queue = append(sess.queue, req)
		return wire.Response{}, false
	}
	return d.execute(sess, req, down), true
}

// Drain processes queued requests as long as each completes
// synchronously, i.e. every handler in this repository's scope is
// effectively synchronous from the caller's perspective once
// Downstream.Exec returns (§4.6 "draining... Immediate commands").
func (d *Dispatcher) Drain(sess *Session, down Downstream) []wire.Response {
	var out []wire.Response
	for len(sess.queue) > 0 {
		req := sess.queue[0]
		sess.queue = sess.queue[1:]
		out = append(out, d.execute(sess, req, down))
	}
	return out
}

func (d *Dispatcher) execute(sess *Session, req *wire.Request, down Downstream) wire.Response {
	sess.state = Busy
	defer func() { sess.state = Ready }()

	if req.Msg == nil {
		return d.errorResponse(req, newSoftError("UNSUPPORTED_OPCODE", fmt.Sprintf("%s not supported by the bridge dispatcher", req.Header.Opcode)), false)
	}
	body := req.Msg.Body()
	name, ok := commandName(body)
	if !ok {
		return d.errorResponse(req, newSoftError("FAILED_TO_PARSE", "empty command document"), req.Msg.ChecksumPresent)
	}
	db := extractDB(sess, body)

	handler, ok := d.handlers[name]
	if !ok {
		return d.errorResponse(req, newSoftError("BAD_VALUE", fmt.Sprintf("no such command: %s", name)), req.Msg.ChecksumPresent)
	}
	if !sess.Roles.Authorize(db, handler.Required()) {
		return d.errorResponse(req, newSoftError("UNAUTHORIZED", fmt.Sprintf("not authorized on %s to run %s", db, name)), req.Msg.ChecksumPresent)
	}

	var fp fingerprint.Fingerprint
	cacheable := handler.Cacheable() && d.cache != nil
	if cacheable {
		var err error
		fp, err = fingerprint.Compute(sess.User, sess.Host, db, body)
		if err == nil {
			if cached, hit := d.cache.Get(fp, req.Header.RequestID, req.Header.RequestID, req.Msg.ChecksumPresent); hit {
				return wire.Response{Frame: cached}
			}
		} else {
			cacheable = false
		}
	}

	result, err := handler.Handle(sess, db, body, down)
	if err != nil {
		sess.lastError = err
		return d.errorResponse(req, err, req.Msg.ChecksumPresent)
	}

	frame, encErr := wire.EncodeMsg(result.Body, req.Msg.ChecksumPresent)
	if encErr != nil {
		hardErr := &HardError{Msg: encErr.Error()}
		sess.lastError = hardErr
		return d.errorResponse(req, hardErr, req.Msg.ChecksumPresent)
	}
	wire.PatchRequestID(frame, req.Header.RequestID, req.Header.RequestID)

	if result.Write && result.Table != "" && d.cache != nil {
		d.cache.InvalidateCurrent([]string{result.Table})
	}
	if cacheable && !result.Write && result.Table != "" {
		d.cache.Put(fp, result.Table, frame)
	}

	return wire.Response{Frame: frame}
}

func (d *Dispatcher) errorResponse(req *wire.Request, err error, checksummed bool) wire.Response {
	frame, encErr := wire.EncodeMsg(ErrorDocument(err), checksummed)
	if encErr != nil {
		d.log.Error("failed to encode error response", zap.Error(encErr))
		return wire.Response{}
	}
	wire.PatchRequestID(frame, req.Header.RequestID, req.Header.RequestID)
	return wire.Response{Frame: frame}
}
