// Package search implements the task-search filter-expression language and
// its autocomplete endpoints: discovering filterable keys and common
// values by sampling recent tasks, since parameters are opaque JSON the
// registry never schemas.
package search

import (
	"regexp"
	"strings"

	"github.com/stardag-dev/stardag-registry/internal/registry/store"
)

var filterClausePattern = regexp.MustCompile(`^([^:]+):([=!<>~]+)?:?(.*)$`)

var validOperators = map[string]bool{
	"=": true, "!=": true, ">": true, "<": true, ">=": true, "<=": true, "~": true,
}

// ParseFilterString parses a comma-separated `key:op:value` expression. A
// bare `key:value` clause defaults to `=`. Clauses with an unrecognized
// operator are dropped rather than rejected, so a malformed clause is
// ignored (the search runs without it) instead of failing outright.
func ParseFilterString(raw string) []store.SearchFilter {
	if raw == "" {
		return nil
	}
	var out []store.SearchFilter
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		m := filterClausePattern.FindStringSubmatch(part)
		if m == nil {
			continue
		}
		key, op, value := strings.TrimSpace(m[1]), m[2], strings.TrimSpace(m[3])
		if op == "" {
			op = "="
		}
		if !validOperators[op] {
			continue
		}
		out = append(out, store.SearchFilter{Key: key, Op: op, Value: value})
	}
	return out
}

// ParseSort splits a `field:direction` sort expression, defaulting to
// created_at descending.
func ParseSort(raw string) (key string, desc bool) {
	key, desc = "created_at", true
	if raw == "" {
		return key, desc
	}
	parts := strings.SplitN(raw, ":", 2)
	key = parts[0]
	if len(parts) > 1 && parts[1] == "asc" {
		desc = false
	}
	return key, desc
}
