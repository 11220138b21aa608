package enums

import (
	"fmt"
	"slices"
	"strings"
)

// set is the closed list of values an enum accepts, in declaration order.
type set[T ~string] []T

func (s set[T]) has(v T) bool {
	return slices.Contains(s, v)
}

// parse trims and lowercases raw before matching, since values arrive from
// query strings, env vars and gateway payloads with inconsistent casing.
func (s set[T]) parse(kind, raw string) (T, error) {
	v := T(strings.ToLower(strings.TrimSpace(raw)))
	if s.has(v) {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, raw)
}

func (s set[T]) strings() []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[i] = string(v)
	}
	return out
}
