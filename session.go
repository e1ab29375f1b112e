package rexpro

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"rexpro.io/rexpro/transport"
	"rexpro.io/rexpro/transport/tcp"
)

// ErrClosed is the message of the *UsageError returned by any operation
// attempted on an already-closed Connection. The UsageError carries only
// its text, so errors.Is does not match ErrClosed.
var ErrClosed = errors.New("rexpro: connection is closed")

type connConfig struct {
	variant     Variant
	dialTimeout time.Duration
}

// ConnOption configures Dial/Open.
type ConnOption interface {
	apply(*connConfig)
}

type variantOpt Variant

func (o variantOpt) apply(c *connConfig) { c.variant = Variant(o) }

// WithVariant selects the wire envelope generation. Defaults to V1.
func WithVariant(v Variant) ConnOption { return variantOpt(v) }

type dialTimeoutOpt time.Duration

func (o dialTimeoutOpt) apply(c *connConfig) { c.dialTimeout = time.Duration(o) }

// WithDialTimeout bounds how long Dial waits to establish the TCP socket.
// Defaults to 10s. It has no effect on Open, which takes an
// already-connected Transport.
func WithDialTimeout(d time.Duration) ConnOption { return dialTimeoutOpt(d) }

func defaultConnConfig() connConfig {
	return connConfig{variant: V1, dialTimeout: 10 * time.Second}
}

// Connection owns one Transport, one session, and the transaction flag
// layered on top of it (spec §3 Entities). It is not safe for concurrent
// use: one outstanding request at a time, no pipelining (spec §5).
type Connection struct {
	tr      transport.Transport
	variant Variant

	graphName string

	sessionKey uuid.UUID
	hasSession bool

	inTransaction bool
	closed        bool

	features map[string]any
}

// Dial connects to host:port over TCP and opens a session against
// graphName, authenticating with username/password. This is the primary
// entry point named by spec §4.6/§6 ("Connection.open").
func Dial(ctx context.Context, host string, port int, graphName, username, password string, opts ...ConnOption) (*Connection, error) {
	cfg := defaultConnConfig()
	for _, o := range opts {
		o.apply(&cfg)
	}

	dialCtx := ctx
	if cfg.dialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.dialTimeout)
		defer cancel()
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	tr, err := tcp.Dial(dialCtx, "tcp", addr)
	if err != nil {
		return nil, connErr("dial", err)
	}

	conn, err := Open(ctx, tr, cfg.variant, graphName, username, password)
	if err != nil {
		_ = tr.Close()
		return nil, err
	}
	return conn, nil
}

// Open performs the RexPro session handshake over an already-connected
// Transport and returns a ready Connection. Exposed separately from Dial
// so tests (and alternative dialers) can exercise the protocol against a
// transport.TestTransport without a real socket (spec §6).
func Open(ctx context.Context, tr transport.Transport, variant Variant, graphName, username, password string) (*Connection, error) {
	c := &Connection{
		tr:        tr,
		variant:   variant,
		graphName: graphName,
	}

	if err := c.openSession(ctx, username, password); err != nil {
		c.fail()
		return nil, err
	}

	return c, nil
}

func (c *Connection) openSession(ctx context.Context, username, password string) error {
	req := &sessionRequest{
		session:  newProposedSessionID(),
		request:  newRequestID(),
		username: username,
		password: password,
	}
	if c.variant == V1 && c.graphName != "" {
		req.graphName = c.graphName
		req.graphObjName = "g"
	}

	payload, err := req.serialize(c.variant)
	if err != nil {
		c.fail()
		return connErr("serialize session request", err)
	}

	if err := c.send(ctx, transport.MsgSessionRequest, payload); err != nil {
		return err
	}

	msgType, respPayload, err := c.recv(ctx)
	if err != nil {
		return err
	}

	switch msgType {
	case transport.MsgError:
		errResp, perr := parseErrorResponse(c.variant, respPayload)
		if perr != nil {
			c.fail()
			return connErr("parse session error", perr)
		}
		c.fail()
		return connErr("open session", errors.New(errResp.message))
	case transport.MsgSessionResponse:
		sessResp, perr := parseSessionResponse(c.variant, respPayload)
		if perr != nil {
			c.fail()
			return connErr("parse session response", perr)
		}
		if sessResp.sessionKey == (uuid.UUID{}) {
			c.fail()
			return connErr("open session", fmt.Errorf("server returned a zero session key"))
		}
		c.sessionKey = sessResp.sessionKey
		c.hasSession = true
	default:
		c.fail()
		return connErr("open session", fmt.Errorf("unexpected response message type %d", msgType))
	}

	if c.variant == V0 && c.graphName != "" {
		if _, err := c.openExecute(ctx, "g = rexster.getGraph(graphname)",
			NewParams().Set("graphname", c.graphName), WithIsolate(false)); err != nil {
			return err
		}
	}

	result, err := c.openExecute(ctx, "g.getFeatures().toMap()", nil)
	if err != nil {
		return err
	}
	if m, ok := result.(map[string]any); ok {
		c.features = m
	}

	return nil
}

// openExecute runs script through Execute on behalf of openSession and
// upgrades any error — a *ScriptError from an ERROR response, a transport
// failure, whatever Execute returned — to a terminal *ConnectionError,
// closing the transport. Spec's "open" contract is stricter here than
// Execute's general one: "An ERROR at any step [of open] closes the
// transport and surfaces the server message," unlike a post-open Execute
// call, where an ERROR response is just a non-terminal *ScriptError.
func (c *Connection) openExecute(ctx context.Context, script string, params *Params, opts ...ExecuteOption) (any, error) {
	result, err := c.Execute(ctx, script, params, opts...)
	if err == nil {
		return result, nil
	}
	c.fail()
	var connectionErr *ConnectionError
	if errors.As(err, &connectionErr) {
		return nil, err
	}
	return nil, connErr("open session", err)
}

// Features returns the graph feature map fetched once at Open time
// (`g.getFeatures().toMap()`), or nil if it was never successfully
// fetched.
func (c *Connection) Features() map[string]any { return c.features }

// SessionKey returns the session key assigned by the server at Open time.
func (c *Connection) SessionKey() uuid.UUID { return c.sessionKey }

// InTransaction reports whether an explicit transaction is currently open.
func (c *Connection) InTransaction() bool { return c.inTransaction }

type executeConfig struct {
	isolate      bool
	transaction  bool
	pretty       bool
	graphName    string
	graphObjName string
}

// ExecuteOption configures a single Execute call.
type ExecuteOption interface {
	apply(*executeConfig)
}

type isolateOpt bool

func (o isolateOpt) apply(c *executeConfig) { c.isolate = bool(o) }

// WithIsolate controls whether top-level bindings made by this script are
// kept from leaking into the next request on the same session. Defaults to
// true (isolated); false lets the bindings persist.
func WithIsolate(v bool) ExecuteOption { return isolateOpt(v) }

type txnOpt bool

func (o txnOpt) apply(c *executeConfig) { c.transaction = bool(o) }

// WithTransactionWrap controls whether this single script is wrapped in an
// implicit commit/rollback by the server. Defaults to true. This is
// unrelated to OpenTransaction/CloseTransaction's explicit, multi-request
// transactions.
func WithTransactionWrap(v bool) ExecuteOption { return txnOpt(v) }

type prettyOpt bool

func (o prettyOpt) apply(c *executeConfig) { c.pretty = bool(o) }

// WithPretty left-strips the script's common leading indentation before
// sending it, so callers can write scripts as indented Go string literals.
func WithPretty(v bool) ExecuteOption { return prettyOpt(v) }

type graphBindOpt struct{ name, objName string }

func (o graphBindOpt) apply(c *executeConfig) {
	c.graphName, c.graphObjName = o.name, o.objName
	if c.graphName != "" && c.graphObjName == "" {
		c.graphObjName = "g"
	}
}

// WithGraph rebinds the script's graph object for this one request (V1
// only; spec §6's graphName/graphObjName meta keys). graphObjName defaults
// to "g" when name is non-empty and objName is empty.
func WithGraph(name, objName string) ExecuteOption { return graphBindOpt{name, objName} }

// Execute runs script against the current session with params bound, and
// returns the decoded result value (nil, a scalar, a sequence, or a
// mapping). See ExecuteOption for the isolate/transaction/pretty knobs
// (spec §4.6).
func (c *Connection) Execute(ctx context.Context, script string, params *Params, opts ...ExecuteOption) (any, error) {
	if c.closed {
		return nil, usageErrf("%s", ErrClosed)
	}
	if !c.hasSession {
		return nil, usageErrf("connection has no open session")
	}

	cfg := executeConfig{isolate: true, transaction: true}
	for _, o := range opts {
		o.apply(&cfg)
	}

	if params == nil {
		params = NewParams()
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	scriptText := script
	if cfg.pretty {
		scriptText = dedent(scriptText)
	}
	if c.variant == V0 && cfg.isolate {
		scriptText = isolateScriptV0(scriptText)
	}

	req := &scriptRequest{
		session:      c.sessionKey,
		request:      newRequestID(),
		language:     "groovy",
		script:       scriptText,
		params:       params.Map(),
		inSession:    c.variant == V1,
		isolate:      cfg.isolate,
		transaction:  cfg.transaction,
		graphName:    cfg.graphName,
		graphObjName: cfg.graphObjName,
	}

	payload, err := req.serialize(c.variant)
	if err != nil {
		return nil, usageErrf("encode script request: %v", err)
	}

	if err := c.send(ctx, transport.MsgScriptRequest, payload); err != nil {
		return nil, err
	}

	msgType, respPayload, err := c.recv(ctx)
	if err != nil {
		return nil, err
	}

	switch msgType {
	case transport.MsgError:
		errResp, perr := parseErrorResponse(c.variant, respPayload)
		if perr != nil {
			c.fail()
			return nil, connErr("parse error response", perr)
		}
		scriptErr := &ScriptError{Message: errResp.message, Flag: errResp.flag, HasFlag: errResp.hasFlag}
		if errResp.hasFlag && errResp.flag == ErrInvalidSession {
			// Spec §7: an INVALID_SESSION flag forces the caller to
			// discard the Connection.
			c.fail()
		}
		return nil, scriptErr
	case transport.MsgScriptResponse:
		sResp, perr := parseScriptResponse(c.variant, respPayload)
		if perr != nil {
			c.fail()
			return nil, connErr("parse script response", perr)
		}
		return sResp.results, nil
	default:
		c.fail()
		return nil, connErr("execute", fmt.Errorf("unexpected response message type %d", msgType))
	}
}

// OpenTransaction opens an explicit, multi-request transaction. Fails with
// a *UsageError, before any I/O, if one is already open.
func (c *Connection) OpenTransaction(ctx context.Context) error {
	if c.closed {
		return usageErrf("%s", ErrClosed)
	}
	if c.inTransaction {
		return usageErrf("transaction is already open")
	}
	if _, err := c.Execute(ctx, "g.stopTransaction(FAILURE)", nil, WithIsolate(false)); err != nil {
		return err
	}
	c.inTransaction = true
	return nil
}

// CloseTransaction closes the currently open transaction, committing if
// success is true and rolling back otherwise. Fails with a *UsageError,
// before any I/O, if no transaction is open.
//
// Spec §9 flags that one source variant's precondition check here read
// `if self._in_transaction` (i.e. it would only let you close a
// transaction that was *not* open) where the others correctly read the
// negation; this implementation always uses the corrected form.
func (c *Connection) CloseTransaction(ctx context.Context, success bool) error {
	if c.closed {
		return usageErrf("%s", ErrClosed)
	}
	if !c.inTransaction {
		return usageErrf("transaction is not open")
	}
	status := "FAILURE"
	if success {
		status = "SUCCESS"
	}
	if _, err := c.Execute(ctx, fmt.Sprintf("g.stopTransaction(%s)", status), nil, WithIsolate(false)); err != nil {
		return err
	}
	c.inTransaction = false
	return nil
}

// Transaction opens a transaction, runs fn, and closes the transaction on
// every exit path: success commits, an error from fn rolls back. If
// CloseTransaction itself fails, its error is joined with fn's (spec §5's
// scoped-acquisition requirement: release on every exit path without
// swallowing the originating error).
func (c *Connection) Transaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if err := c.OpenTransaction(ctx); err != nil {
		return err
	}

	defer func() {
		success := err == nil
		if cerr := c.CloseTransaction(ctx, success); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	err = fn(ctx)
	return err
}

// Close releases the transport. Idempotent.
func (c *Connection) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.tr.Close()
}

// fail marks the Connection terminally closed after a transport-level
// failure and releases the transport, matching spec §7's "ConnectionError
// is always terminal" rule.
func (c *Connection) fail() {
	if c.closed {
		return
	}
	c.closed = true
	_ = c.tr.Close()
}

func (c *Connection) applyDeadline(ctx context.Context) {
	dl, ok := ctx.Deadline()
	if !ok {
		return
	}
	if ds, ok := c.tr.(interface{ SetDeadline(time.Time) error }); ok {
		_ = ds.SetDeadline(dl)
	}
}

func (c *Connection) send(ctx context.Context, msgType transport.MessageType, payload []byte) error {
	c.applyDeadline(ctx)
	if err := transport.WriteFrame(c.tr, c.variant, msgType, payload); err != nil {
		c.fail()
		return connErr("write frame", err)
	}
	return nil
}

func (c *Connection) recv(ctx context.Context) (transport.MessageType, []byte, error) {
	c.applyDeadline(ctx)
	msgType, payload, err := transport.ReadFrame(c.tr, c.variant)
	if err != nil {
		c.fail()
		return 0, nil, connErr("read frame", err)
	}
	return msgType, payload, nil
}

// isolateScriptV0 wraps script in a uniquely-named closure so a V0 server,
// which has no client-settable isolation flag, still sees an isolated
// invocation: the closure's own top-level declarations stay local to it.
// The name is stable for identical script text so repeated identical
// requests don't accumulate distinct bindings.
func isolateScriptV0(script string) string {
	sum := md5.Sum([]byte(script))
	name := fmt.Sprintf("q_%x", sum)
	return fmt.Sprintf("def %s = { %s }\n %s()", name, script, name)
}

// dedent strips the common leading whitespace from every non-blank line,
// the way Python's textwrap.dedent does, so a Go caller can write a script
// as an indented multi-line string literal.
func dedent(s string) string {
	lines := strings.Split(s, "\n")

	minIndent := -1
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		indent := len(l) - len(strings.TrimLeft(l, " \t"))
		if minIndent == -1 || indent < minIndent {
			minIndent = indent
		}
	}
	if minIndent <= 0 {
		return s
	}

	for i, l := range lines {
		if len(l) >= minIndent {
			lines[i] = l[minIndent:]
		} else {
			lines[i] = strings.TrimLeft(l, " \t")
		}
	}
	return strings.Join(lines, "\n")
}
