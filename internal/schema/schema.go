// Package schema validates namespaced string configuration against a
// declarative field model. A FieldModel is plain data; Validate is the single
// generic function that turns raw environment strings into typed values.
package schema

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Type is the semantic type of a configuration field.
type Type int

const (
	String Type = iota
	Number
	Boolean
)

func (t Type) String() string {
	switch t {
	case String:
		return "string"
	case Number:
		return "number"
	case Boolean:
		return "boolean"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// Shared patterns for reading-source fields.
const (
	IPv4Pattern = `((25[0-5]|2[0-4][0-9]|1[0-9]{2}|[1-9]?[0-9])\.){3}(25[0-5]|2[0-4][0-9]|1[0-9]{2}|[1-9]?[0-9])`
	PortPattern = `([1-9][0-9]{0,3}|[1-5][0-9]{4}|6[0-4][0-9]{3}|65[0-4][0-9]{2}|655[0-2][0-9]|6553[0-5])`
	NamePattern = `[A-Za-z0-9][A-Za-z0-9_.-]*`
)

// FieldSpec describes one configuration field.
// Default, when non-nil, must already hold the field's Go type
// (string, float64 or bool).
type FieldSpec struct {
	Type        Type
	Default     any
	Required    bool
	Pattern     string
	Description string
}

// FieldModel maps field names to their specs.
type FieldModel map[string]FieldSpec

// Raw holds unparsed values keyed by field name.
type Raw map[string]string

// Validate applies model to raw. Every field is checked; all violations are
// collected into a single *ConfigError tagged with namespace.
func Validate(model FieldModel, raw Raw, namespace string) (Values, error) {
	names := make([]string, 0, len(model))
	for name := range model {
		names = append(names, name)
	}
	sort.Strings(names)

	values := make(Values, len(model))
	var errs error

	for _, name := range names {
		spec := model[name]
		fail := func(kind ViolationKind, value, reason string) {
			errs = multierr.Append(errs, &Violation{
				Namespace: namespace,
				Field:     name,
				Kind:      kind,
				Value:     value,
				Reason:    reason,
			})
		}

		rawValue, present := raw[name]
		if !present {
			switch {
			case spec.Default != nil:
				values[name] = spec.Default
			case spec.Required:
				fail(MissingRequired, "", "missing required field")
			}
			continue
		}

		switch spec.Type {
		case Number:
			n, err := strconv.ParseFloat(rawValue, 64)
			if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
				fail(TypeMismatch, rawValue, "not a number")
				continue
			}
			values[name] = n
		case Boolean:
			switch strings.ToLower(rawValue) {
			case "true":
				values[name] = true
			case "false":
				values[name] = false
			default:
				fail(TypeMismatch, rawValue, `not a boolean (want "true" or "false")`)
			}
		case String:
			if spec.Pattern != "" {
				re, err := regexp.Compile(`^(?:` + spec.Pattern + `)$`)
				if err != nil {
					fail(InvalidPattern, rawValue, err.Error())
					continue
				}
				if !re.MatchString(rawValue) {
					fail(PatternMismatch, rawValue, fmt.Sprintf("does not match pattern %q", spec.Pattern))
					continue
				}
			}
			values[name] = rawValue
		default:
			fail(TypeMismatch, rawValue, fmt.Sprintf("unsupported field type %s", spec.Type))
		}
	}

	if errs != nil {
		return nil, &ConfigError{Namespace: namespace, err: errs}
	}
	return values, nil
}

// Values is a validated configuration. Optional fields that were neither
// provided nor defaulted are absent.
type Values map[string]any

// Has reports whether name resolved to a value.
func (v Values) Has(name string) bool {
	_, ok := v[name]
	return ok
}

func (v Values) String(name string) (string, bool) {
	s, ok := v[name].(string)
	return s, ok
}

func (v Values) Number(name string) (float64, bool) {
	n, ok := v[name].(float64)
	return n, ok
}

func (v Values) Bool(name string) (bool, bool) {
	b, ok := v[name].(bool)
	return b, ok
}

// Int truncates a number field.
func (v Values) Int(name string) (int, bool) {
	n, ok := v.Number(name)
	return int(n), ok
}

// Whole reads a number field that must hold an integer such as a count.
func (v Values) Whole(name string) (int, error) {
	n, ok := v.Number(name)
	if !ok {
		return 0, fmt.Errorf("%s is not set", name)
	}
	if n != math.Trunc(n) {
		return 0, fmt.Errorf("%s must be a whole number (got: %v)", name, n)
	}
	return int(n), nil
}

// Duration reads a number field expressed in milliseconds.
func (v Values) Duration(name string) (time.Duration, bool) {
	n, ok := v.Number(name)
	if !ok {
		return 0, false
	}
	return time.Duration(n * float64(time.Millisecond)), true
}

// StringOr returns the string field or fallback when absent.
func (v Values) StringOr(name, fallback string) string {
	if s, ok := v.String(name); ok {
		return s
	}
	return fallback
}
