// Package script offers opt-in, typed downcasts of the untyped result
// values rexpro.Connection.Execute returns. The core client never parses
// graph-element shape itself — these are convenience helpers for callers
// who know they asked for vertices or edges, not a result-object model.
package script

import "fmt"

// Vertex is a decoded graph vertex element: a mapping with "_id",
// "_properties", and "_type".
type Vertex struct {
	ID         any
	Type       string
	Properties map[string]any
}

// AsVertex downcasts a decoded map[string]any (as returned by Execute) into
// a Vertex. It returns an error if v is not a map or its "_type" key, when
// present, is not "vertex".
func AsVertex(v any) (*Vertex, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("rexpro/script: expected a map, got %T", v)
	}
	if t, ok := m["_type"].(string); ok && t != "" && t != "vertex" {
		return nil, fmt.Errorf("rexpro/script: expected a vertex, got _type %q", t)
	}

	out := &Vertex{ID: m["_id"]}
	if t, ok := m["_type"].(string); ok {
		out.Type = t
	}
	out.Properties, _ = m["_properties"].(map[string]any)
	return out, nil
}

// Edge is a decoded graph edge element: a Vertex's shape plus "_outV" and
// "_inV".
type Edge struct {
	ID         any
	Type       string
	OutV       any
	InV        any
	Properties map[string]any
}

// AsEdge downcasts a decoded map[string]any into an Edge. It returns an
// error if v is not a map or its "_type" key, when present, is not "edge".
func AsEdge(v any) (*Edge, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("rexpro/script: expected a map, got %T", v)
	}
	if t, ok := m["_type"].(string); ok && t != "" && t != "edge" {
		return nil, fmt.Errorf("rexpro/script: expected an edge, got _type %q", t)
	}

	out := &Edge{ID: m["_id"], OutV: m["_outV"], InV: m["_inV"]}
	if t, ok := m["_type"].(string); ok {
		out.Type = t
	}
	out.Properties, _ = m["_properties"].(map[string]any)
	return out, nil
}
