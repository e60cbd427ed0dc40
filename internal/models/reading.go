// Package models defines the reading structures shared by the poller and the
// sinks. Readings are serialized to JSON by the HTTP, MQTT and Kafka sinks.
package models

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// leafKey holds the value of a variable that is also the parent of other
// variables (input.voltage next to input.voltage.nominal).
const leafKey = "_value"

// Reading is a single snapshot of the variables reported by one UPS.
type Reading struct {
	UPS       string            `json:"ups"`
	Timestamp time.Time         `json:"timestamp"`
	Vars      map[string]string `json:"variables"`
}

// String returns the raw value of a variable such as "ups.status".
func (r *Reading) String(name string) (string, bool) {
	v, ok := r.Vars[name]
	return v, ok
}

// Float parses a variable as a floating point number.
func (r *Reading) Float(name string) (float64, bool) {
	v, ok := r.Vars[name]
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Int parses a variable as a number and truncates it.
func (r *Reading) Int(name string) (int64, bool) {
	f, ok := r.Float(name)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// Status returns ups.status, e.g. "OL" or "OB LB".
func (r *Reading) Status() string {
	return r.Vars["ups.status"]
}

// Names returns the variable names in sorted order.
func (r *Reading) Names() []string {
	names := make([]string, 0, len(r.Vars))
	for name := range r.Vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tree expands the dotted variable names into a nested document. Numeric
// values become float64; everything else stays a string.
func (r *Reading) Tree() map[string]any {
	root := make(map[string]any)
	for _, name := range r.Names() {
		insert(root, strings.Split(name, "."), typed(r.Vars[name]))
	}
	return root
}

func insert(node map[string]any, path []string, value any) {
	for _, key := range path[:len(path)-1] {
		switch child := node[key].(type) {
		case map[string]any:
			node = child
		case nil:
			next := make(map[string]any)
			node[key] = next
			node = next
		default:
			next := map[string]any{leafKey: child}
			node[key] = next
			node = next
		}
	}

	last := path[len(path)-1]
	if child, ok := node[last].(map[string]any); ok {
		child[leafKey] = value
		return
	}
	node[last] = value
}

// typed converts plain decimal numbers. NaN, infinities, hex floats and
// zero-padded identifiers such as serial "000123" stay strings: JSON cannot
// carry the former and the latter would lose their padding.
func typed(v string) any {
	if !isDecimal(v) {
		return v
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return v
	}
	return f
}

func isDecimal(v string) bool {
	if strings.Trim(v, "0123456789.+-eE") != "" {
		return false
	}
	digits := strings.TrimLeft(v, "+-")
	return !(len(digits) > 1 && digits[0] == '0' && digits[1] >= '0' && digits[1] <= '9')
}
