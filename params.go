package rexpro

import (
	"regexp"
)

var (
	paramKeyLeadingDigit = regexp.MustCompile(`^[0-9]`)
	paramKeyBadChars     = regexp.MustCompile(`[\s.]`)
)

// Params is an ordered set of Gremlin script bindings. It exists instead of
// a bare map[string]any so §4.3's validation rules have one obvious place
// to run, and so parameter order is preserved in anything that iterates
// them (e.g. for deterministic test fixtures).
type Params struct {
	order  []string
	values map[string]any
}

// NewParams returns an empty Params.
func NewParams() *Params {
	return &Params{values: make(map[string]any)}
}

// Set binds name to value, overwriting any existing binding for name
// without disturbing its position in iteration order.
func (p *Params) Set(name string, value any) *Params {
	if _, exists := p.values[name]; !exists {
		p.order = append(p.order, name)
	}
	p.values[name] = value
	return p
}

// Len returns the number of bindings.
func (p *Params) Len() int { return len(p.order) }

// Map returns the bindings as a plain map, suitable for handing to the
// MessagePack encoder.
func (p *Params) Map() map[string]any {
	m := make(map[string]any, len(p.values))
	for k, v := range p.values {
		m[k] = v
	}
	return m
}

// Validate checks every key and value against §4.3's rules: keys must not
// start with a digit or contain whitespace/'.'; values must be nil, bools,
// integers, floats, strings, sequences ([]any), or mappings
// (map[string]any), with sequence and mapping elements checked the same
// way. Other slice and map types, such as []string, are rejected. It
// returns a *UsageError on the first violation and performs no I/O.
func (p *Params) Validate() error {
	for _, k := range p.order {
		if paramKeyLeadingDigit.MatchString(k) {
			return usageErrf("parameter name %q can't begin with a digit", k)
		}
		if paramKeyBadChars.MatchString(k) {
			return usageErrf("parameter name %q can't contain whitespace or '.'", k)
		}
		if !validParamValue(p.values[k]) {
			return usageErrf("parameter %q has unsupported value type %T", k, p.values[k])
		}
	}
	return nil
}

func validParamValue(v any) bool {
	switch val := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	case []any:
		for _, e := range val {
			if !validParamValue(e) {
				return false
			}
		}
		return true
	case map[string]any:
		for _, e := range val {
			if !validParamValue(e) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
