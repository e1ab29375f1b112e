package rexpro

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParamsValidateAcceptsSupportedTypes(t *testing.T) {
	p := NewParams().
		Set("values", 1982).
		Set("pi", 3.14).
		Set("name", "gremlin").
		Set("tags", []any{"a", "b"}).
		Set("nested", map[string]any{"x": 1})

	assert.NoError(t, p.Validate())
}

func TestParamsValidateRejectsLeadingDigitKey(t *testing.T) {
	p := NewParams().Set("1bad", 1)
	err := p.Validate()
	var usageErr *UsageError
	assert.ErrorAs(t, err, &usageErr)
}

func TestParamsValidateRejectsWhitespaceKey(t *testing.T) {
	p := NewParams().Set("bad key", 1)
	assert.Error(t, p.Validate())
}

func TestParamsValidateRejectsDotKey(t *testing.T) {
	p := NewParams().Set("bad.key", 1)
	assert.Error(t, p.Validate())
}

func TestParamsValidateRejectsUnsupportedValue(t *testing.T) {
	p := NewParams().Set("fn", func() {})
	err := p.Validate()
	var usageErr *UsageError
	assert.ErrorAs(t, err, &usageErr)
}

func TestParamsSetOverwritesKeepsOrder(t *testing.T) {
	p := NewParams().Set("a", 1).Set("b", 2).Set("a", 3)
	assert.Equal(t, []string{"a", "b"}, p.order)
	assert.Equal(t, 3, p.values["a"])
}
