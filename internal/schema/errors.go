package schema

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// ViolationKind classifies a single field failure.
type ViolationKind string

const (
	MissingRequired ViolationKind = "missing"
	TypeMismatch    ViolationKind = "type"
	PatternMismatch ViolationKind = "pattern"
	InvalidPattern  ViolationKind = "invalid-pattern"
)

// Violation is one problem found with one field.
type Violation struct {
	Namespace string
	Field     string
	Kind      ViolationKind
	Value     string
	Reason    string
}

func (v *Violation) Error() string {
	if v.Value == "" {
		return fmt.Sprintf("%s.%s: %s", v.Namespace, v.Field, v.Reason)
	}
	return fmt.Sprintf("%s.%s: value %q %s", v.Namespace, v.Field, v.Value, v.Reason)
}

// ConfigError aggregates every violation found in one namespace.
type ConfigError struct {
	Namespace string
	err       error
}

func (e *ConfigError) Error() string {
	violations := e.Violations()
	msgs := make([]string, len(violations))
	for i, v := range violations {
		msgs[i] = v.Error()
	}
	return fmt.Sprintf("invalid %s configuration (%d problems): %s",
		e.Namespace, len(violations), strings.Join(msgs, "; "))
}

// Violations returns the individual field violations in field-name order.
func (e *ConfigError) Violations() []*Violation {
	var out []*Violation
	for _, err := range multierr.Errors(e.err) {
		if v, ok := err.(*Violation); ok {
			out = append(out, v)
		}
	}
	return out
}

// Unwrap exposes the violations to errors.Is / errors.As.
func (e *ConfigError) Unwrap() []error {
	return multierr.Errors(e.err)
}
