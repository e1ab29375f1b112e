package rexpro

import (
	"fmt"

	"github.com/google/uuid"

	"rexpro.io/rexpro/internal/msgpack"
	"rexpro.io/rexpro/transport"
)

// Variant re-exports transport.Variant so callers configuring a Connection
// don't need to import the transport package directly.
type Variant = transport.Variant

const (
	V0 = transport.V0
	V1 = transport.V1
)

// rexProChannel is the V0 SESSION_REQUEST tail's channel selector: 1 is the
// string/console channel, 2 is the MessagePack channel. RexPro only ever
// speaks MessagePack to the server, so this is fixed and never exposed on
// the public API, matching the original client (which accepted a "channel"
// constructor argument but, in practice, only ever passed CHANNEL = 2).
const rexProChannel = 2

// newRequestID returns a time-ordered (v1) UUID, used as every message's
// per-request id.
func newRequestID() uuid.UUID {
	id, err := uuid.NewUUID()
	if err != nil {
		// uuid.NewUUID only fails if the host can't provide a MAC address
		// or random fallback, which stdlib's crypto/rand backing makes
		// effectively unreachable; fall back to a random v4 rather than
		// panic.
		return uuid.New()
	}
	return id
}

// newProposedSessionID returns a random (v4) UUID, used as the
// client-proposed session id sent with a SESSION_REQUEST in "open" mode.
// The server is free to assign a different session key in its response;
// Connection always uses the server's assigned key afterward.
func newProposedSessionID() uuid.UUID {
	return uuid.New()
}

// uuidFromValue converts a decoded MessagePack value (expected to be a
// 16-byte raw byte string) into a uuid.UUID.
func uuidFromValue(v any) (uuid.UUID, error) {
	b, ok := v.([]byte)
	if !ok {
		return uuid.UUID{}, fmt.Errorf("rexpro: expected 16-byte id, got %T", v)
	}
	id, err := uuid.FromBytes(b)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("rexpro: malformed id: %w", err)
	}
	return id, nil
}

// encodeEnvelope builds the MessagePack array for session/request/meta
// plus a message-specific tail, for the given variant.
func encodeEnvelope(variant Variant, session, request uuid.UUID, meta map[string]any, tail ...any) ([]byte, error) {
	var arr []any
	if variant == V1 {
		arr = append([]any{session[:], request[:], meta}, tail...)
	} else {
		// V0's base array additionally carries a message version and flag
		// byte ahead of session/request. Neither is ever varied by this
		// client; both are fixed at their only observed values.
		const v0MessageVersion = 1
		const v0Flag = 0
		arr = append([]any{int64(v0MessageVersion), int64(v0Flag), session[:], request[:]}, tail...)
	}
	return msgpack.Encode(arr)
}

// decodeEnvelope splits a decoded payload array into session id, request
// id, meta map (V1 only; nil on V0), and the message-specific tail.
func decodeEnvelope(variant Variant, payload []byte) (session, request uuid.UUID, meta map[string]any, tail []any, err error) {
	var arr []any
	if err = msgpack.Decode(payload, &arr); err != nil {
		return
	}

	if variant == V1 {
		if len(arr) < 3 {
			err = fmt.Errorf("rexpro: truncated v1 payload, got %d elements", len(arr))
			return
		}
		if session, err = uuidFromValue(arr[0]); err != nil {
			return
		}
		if request, err = uuidFromValue(arr[1]); err != nil {
			return
		}
		meta, _ = arr[2].(map[string]any)
		tail = arr[3:]
		return
	}

	if len(arr) < 4 {
		err = fmt.Errorf("rexpro: truncated v0 payload, got %d elements", len(arr))
		return
	}
	if session, err = uuidFromValue(arr[2]); err != nil {
		return
	}
	if request, err = uuidFromValue(arr[3]); err != nil {
		return
	}
	tail = arr[4:]
	return
}

// sessionRequest is SESSION_REQUEST's payload.
type sessionRequest struct {
	session      uuid.UUID
	request      uuid.UUID
	username     string
	password     string
	graphName    string
	graphObjName string
	killSession  bool
}

func (m *sessionRequest) serialize(variant Variant) ([]byte, error) {
	var meta map[string]any
	if variant == V1 {
		meta = map[string]any{}
		if m.killSession {
			meta["killSession"] = true
		} else if m.graphName != "" {
			meta["graphName"] = m.graphName
			if m.graphObjName != "" {
				meta["graphObjName"] = m.graphObjName
			}
		}
	}

	var tail []any
	if variant == V1 {
		tail = []any{m.username, m.password}
	} else {
		tail = []any{int64(rexProChannel), m.username, m.password}
	}

	return encodeEnvelope(variant, m.session, m.request, meta, tail...)
}

// sessionResponse is SESSION_RESPONSE's payload: the session key the
// server assigned and the scripting languages it supports.
type sessionResponse struct {
	sessionKey uuid.UUID
	languages  []string
}

func parseSessionResponse(variant Variant, payload []byte) (*sessionResponse, error) {
	session, _, _, tail, err := decodeEnvelope(variant, payload)
	if err != nil {
		return nil, err
	}
	if len(tail) < 1 {
		return nil, fmt.Errorf("rexpro: session response missing languages")
	}

	langs, err := toStringSlice(tail[0])
	if err != nil {
		return nil, err
	}

	return &sessionResponse{sessionKey: session, languages: langs}, nil
}

func toStringSlice(v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("rexpro: expected array, got %T", v)
	}
	out := make([]string, len(arr))
	for i, e := range arr {
		s, ok := e.(string)
		if !ok {
			return nil, fmt.Errorf("rexpro: expected string element, got %T", e)
		}
		out[i] = s
	}
	return out, nil
}

// scriptRequest is SCRIPT_REQUEST's payload.
type scriptRequest struct {
	session      uuid.UUID
	request      uuid.UUID
	language     string
	script       string
	params       map[string]any
	inSession    bool
	isolate      bool
	transaction  bool
	graphName    string
	graphObjName string
}

func (m *scriptRequest) serialize(variant Variant) ([]byte, error) {
	if m.params == nil {
		m.params = map[string]any{}
	}

	var meta map[string]any
	var paramsField any = m.params

	if variant == V1 {
		meta = map[string]any{}
		if m.graphName != "" {
			meta["graphName"] = m.graphName
			if m.graphObjName != "" {
				meta["graphObjName"] = m.graphObjName
			}
		}
		if m.inSession {
			meta["inSession"] = true
		}
		if !m.isolate {
			meta["isolate"] = false
		}
		if !m.transaction {
			meta["transaction"] = false
		}
	} else {
		// V0 has no meta map; isolation is achieved by rewriting the script
		// text (see Connection.Execute), the inSession/transaction/graph
		// flags are not sent at all, and the params slot is itself an
		// independently MessagePack-encoded blob rather than a direct map.
		blob, err := msgpack.Encode(m.params)
		if err != nil {
			return nil, fmt.Errorf("rexpro: encode v0 params blob: %w", err)
		}
		paramsField = blob
	}

	tail := []any{m.language, []byte(m.script), paramsField}
	return encodeEnvelope(variant, m.session, m.request, meta, tail...)
}

// scriptResponse is SCRIPT_RESPONSE's (V1) / MSGPACK_SCRIPT_RESPONSE's
// (V0) payload.
type scriptResponse struct {
	results  any
	bindings map[string]any
}

func parseScriptResponse(variant Variant, payload []byte) (*scriptResponse, error) {
	_, _, _, tail, err := decodeEnvelope(variant, payload)
	if err != nil {
		return nil, err
	}
	if len(tail) < 2 {
		return nil, fmt.Errorf("rexpro: script response missing results/bindings")
	}

	results := tail[0]
	if variant == V0 {
		// V0 results are themselves a MessagePack blob that must be
		// decoded again.
		blob, ok := results.([]byte)
		if !ok {
			return nil, fmt.Errorf("rexpro: expected v0 results blob, got %T", results)
		}
		results, err = msgpack.DecodeValue(blob)
		if err != nil {
			return nil, fmt.Errorf("rexpro: decode v0 results blob: %w", err)
		}
	}

	bindings, _ := tail[1].(map[string]any)

	return &scriptResponse{results: results, bindings: bindings}, nil
}

// errorResponse is ERROR's payload.
type errorResponse struct {
	message string
	flag    ErrFlag
	hasFlag bool
}

func parseErrorResponse(variant Variant, payload []byte) (*errorResponse, error) {
	_, _, meta, tail, err := decodeEnvelope(variant, payload)
	if err != nil {
		return nil, err
	}
	if len(tail) < 1 {
		return nil, fmt.Errorf("rexpro: error response missing message")
	}

	msg, ok := tail[0].(string)
	if !ok {
		return nil, fmt.Errorf("rexpro: expected error message string, got %T", tail[0])
	}

	resp := &errorResponse{message: msg}
	if variant == V1 && meta != nil {
		if raw, ok := meta["flag"]; ok {
			if f, ok := intFromAny(raw); ok {
				resp.flag = ErrFlag(f)
				resp.hasFlag = true
			}
		}
	}

	return resp, nil
}

func intFromAny(v any) (int, bool) {
	switch n := v.(type) {
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}
