package search

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stardag-dev/stardag-registry/internal/registry/store"
)

func TestParseFilterString_Empty(t *testing.T) {
	assert.Nil(t, ParseFilterString(""))
}

func TestParseFilterString_BareKeyDefaultsToEquals(t *testing.T) {
	filters := ParseFilterString("task_name:my-task")
	assert.Equal(t, []store.SearchFilter{{Key: "task_name", Op: "=", Value: "my-task"}}, filters)
}

func TestParseFilterString_ExplicitOperator(t *testing.T) {
	filters := ParseFilterString("param.retries:>:3")
	assert.Equal(t, []store.SearchFilter{{Key: "param.retries", Op: ">", Value: "3"}}, filters)
}

func TestParseFilterString_MultipleClauses(t *testing.T) {
	filters := ParseFilterString("task_namespace:=:etl,status:!=:failed")
	assert.Equal(t, []store.SearchFilter{
		{Key: "task_namespace", Op: "=", Value: "etl"},
		{Key: "status", Op: "!=", Value: "failed"},
	}, filters)
}

func TestParseFilterString_SubstringOperator(t *testing.T) {
	filters := ParseFilterString("task_name:~:daily")
	assert.Equal(t, []store.SearchFilter{{Key: "task_name", Op: "~", Value: "daily"}}, filters)
}

func TestParseFilterString_UnknownOperatorDropped(t *testing.T) {
	filters := ParseFilterString("task_name:<>:daily,status:=:running")
	assert.Equal(t, []store.SearchFilter{{Key: "status", Op: "=", Value: "running"}}, filters)
}

func TestParseFilterString_BlankClausesSkipped(t *testing.T) {
	filters := ParseFilterString("task_name:a,,status:=:running")
	assert.Equal(t, []store.SearchFilter{
		{Key: "task_name", Op: "=", Value: "a"},
		{Key: "status", Op: "=", Value: "running"},
	}, filters)
}

func TestParseFilterString_ValueContainsColons(t *testing.T) {
	filters := ParseFilterString("created_at:>=:2026-01-01T00:00:00Z")
	assert.Equal(t, []store.SearchFilter{{Key: "created_at", Op: ">=", Value: "2026-01-01T00:00:00Z"}}, filters)
}

func TestParseSort_DefaultsToCreatedAtDescending(t *testing.T) {
	key, desc := ParseSort("")
	assert.Equal(t, "created_at", key)
	assert.True(t, desc)
}

func TestParseSort_Ascending(t *testing.T) {
	key, desc := ParseSort("task_name:asc")
	assert.Equal(t, "task_name", key)
	assert.False(t, desc)
}

func TestParseSort_DescendingIsDefaultDirection(t *testing.T) {
	key, desc := ParseSort("task_name")
	assert.Equal(t, "task_name", key)
	assert.True(t, desc)
}
