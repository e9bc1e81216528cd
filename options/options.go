// Package options describes typed, user-editable settings attached to system
// commands and giveaways, and validates values against their definitions.
package options

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind tags the value type an option accepts.
type Kind string

const (
	KindString   Kind = "string"
	KindNumber   Kind = "number"
	KindBoolean  Kind = "boolean"
	KindEnum     Kind = "enum"
	KindCurrency Kind = "currency-select"
	KindChatter  Kind = "chatter-select"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid option value")

// Validation holds optional constraints.
type Validation struct {
	Required bool     `json:"required,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
}

// Definition is a single option: its type, UI metadata and default.
type Definition struct {
	Type        Kind       `json:"type"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Default     any        `json:"default,omitempty"`
	Choices     []string   `json:"options,omitempty"`
	SortRank    int        `json:"sortRank,omitempty"`
	Validation  Validation `json:"validation,omitempty"`
}

// Category groups definitions under a title (giveaway settings use these).
type Category struct {
	Title       string                `json:"title"`
	Description string                `json:"description,omitempty"`
	SortRank    int                   `json:"sortRank,omitempty"`
	Settings    map[string]Definition `json:"settings"`
}

// Float64 returns a pointer for use in Validation bounds.
func Float64(v float64) *float64 { return &v }

// Validate checks v against the definition and returns it normalized
// (numbers become float64, booleans bool).
func (d Definition) Validate(v any) (any, error) {
	if v == nil {
		if d.Validation.Required {
			return nil, fmt.Errorf("%w: value required", ErrInvalid)
		}
		return d.Default, nil
	}
	switch d.Type {
	case KindNumber:
		n, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("%w: %v is not a number", ErrInvalid, v)
		}
		if d.Validation.Min != nil && n < *d.Validation.Min {
			return nil, fmt.Errorf("%w: %v is below minimum %v", ErrInvalid, n, *d.Validation.Min)
		}
		if d.Validation.Max != nil && n > *d.Validation.Max {
			return nil, fmt.Errorf("%w: %v is above maximum %v", ErrInvalid, n, *d.Validation.Max)
		}
		return n, nil
	case KindBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			p, err := strconv.ParseBool(b)
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not a boolean", ErrInvalid, b)
			}
			return p, nil
		}
		return nil, fmt.Errorf("%w: %v is not a boolean", ErrInvalid, v)
	case KindEnum:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %v is not a string", ErrInvalid, v)
		}
		for _, c := range d.Choices {
			if c == s {
				return s, nil
			}
		}
		return nil, fmt.Errorf("%w: %q not one of [%s]", ErrInvalid, s, strings.Join(d.Choices, ", "))
	case KindString, KindCurrency, KindChatter:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %v is not a string", ErrInvalid, v)
		}
		if d.Validation.Required && strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("%w: value required", ErrInvalid)
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: unknown option type %q", ErrInvalid, d.Type)
}

// Resolve fills every defined option from values, falling back to the
// default. Values without a definition are dropped.
func Resolve(defs map[string]Definition, values map[string]any) (Values, error) {
	out := make(Values, len(defs))
	var errs []error
	for name, def := range defs {
		raw, ok := values[name]
		if !ok {
			raw = nil
		}
		v, err := def.Validate(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			v = def.Default
		}
		out[name] = v
	}
	return out, errors.Join(errs...)
}

// Defaults returns the default value of every definition.
func Defaults(defs map[string]Definition) Values {
	out := make(Values, len(defs))
	for name, def := range defs {
		out[name] = def.Default
	}
	return out
}

// Values is a resolved option set.
type Values map[string]any

// String returns the named value as a string ("" when unset).
func (v Values) String(name string) string {
	switch s := v[name].(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

// Int returns the named value truncated to an int64.
func (v Values) Int(name string) int64 {
	f, _ := toFloat(v[name])
	return int64(f)
}

// Bool returns the named value as a bool.
func (v Values) Bool(name string) bool {
	b, _ := v[name].(bool)
	return b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	return 0, false
}
