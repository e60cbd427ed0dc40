package schema

import (
	"os"
	"strings"
)

// FromEnviron extracts the fields of namespace from a KEY=value list such as
// os.Environ(). NUT_UPS_NAME=cellar becomes Raw{"UPS_NAME": "cellar"} for
// namespace "nut". Empty values count as unset.
func FromEnviron(namespace string, environ []string) Raw {
	prefix := strings.ToUpper(namespace) + "_"
	raw := make(Raw)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" || !strings.HasPrefix(key, prefix) {
			continue
		}
		raw[strings.TrimPrefix(key, prefix)] = value
	}
	return raw
}

// Lookup reads namespace from the process environment.
func Lookup(namespace string) Raw {
	return FromEnviron(namespace, os.Environ())
}
