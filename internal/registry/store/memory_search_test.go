package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONPath_SimpleField(t *testing.T) {
	val, ok := ExtractJSONPath([]byte(`{"region":"us-east-1"}`), []string{"region"})
	require.True(t, ok)
	assert.Equal(t, "us-east-1", val)
}

func TestExtractJSONPath_NestedField(t *testing.T) {
	val, ok := ExtractJSONPath([]byte(`{"a":{"b":{"c":"deep"}}}`), []string{"a", "b", "c"})
	require.True(t, ok)
	assert.Equal(t, "deep", val)
}

func TestExtractJSONPath_ArrayIndex(t *testing.T) {
	val, ok := ExtractJSONPath([]byte(`{"items":[{"d":"first"},{"d":"second"}]}`), []string{"items[0]", "d"})
	require.True(t, ok)
	assert.Equal(t, "first", val)

	val, ok = ExtractJSONPath([]byte(`{"items":[{"d":"first"},{"d":"second"}]}`), []string{"items[1]", "d"})
	require.True(t, ok)
	assert.Equal(t, "second", val)
}

func TestExtractJSONPath_ArrayIndexOutOfRange(t *testing.T) {
	_, ok := ExtractJSONPath([]byte(`{"items":[{"d":"first"}]}`), []string{"items[5]", "d"})
	assert.False(t, ok)
}

func TestExtractJSONPath_NumericValue(t *testing.T) {
	val, ok := ExtractJSONPath([]byte(`{"retries":3}`), []string{"retries"})
	require.True(t, ok)
	assert.Equal(t, "3", val)
}

func TestExtractJSONPath_MissingKey(t *testing.T) {
	_, ok := ExtractJSONPath([]byte(`{"region":"us-east-1"}`), []string{"missing"})
	assert.False(t, ok)
}

func TestExtractJSONPath_ObjectValueNotExtractable(t *testing.T) {
	_, ok := ExtractJSONPath([]byte(`{"a":{"b":1}}`), []string{"a"})
	assert.False(t, ok)
}

func TestMemoryStore_SearchTasksFiltersAndSorts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.CreateOrganization(ctx, Organization{ID: "org-1", Name: "Org", Slug: "org"}, "user-1")
	require.NoError(t, err)
	_, err = s.CreateWorkspace(ctx, Workspace{ID: "ws-1", OrganizationID: "org-1", Slug: "ws"})
	require.NoError(t, err)
	_, err = s.CreateEnvironment(ctx, Environment{ID: "env-1", WorkspaceID: "ws-1", Slug: "env"})
	require.NoError(t, err)

	_, _, err = s.UpsertTask(ctx, Task{TaskID: "ns.a", EnvironmentID: "env-1", Namespace: "ns", Name: "a", Parameters: []byte(`{}`)})
	require.NoError(t, err)
	_, _, err = s.UpsertTask(ctx, Task{TaskID: "ns.b", EnvironmentID: "env-1", Namespace: "ns", Name: "b", Parameters: []byte(`{}`)})
	require.NoError(t, err)
	_, _, err = s.UpsertTask(ctx, Task{TaskID: "other.c", EnvironmentID: "env-1", Namespace: "other", Name: "c", Parameters: []byte(`{}`)})
	require.NoError(t, err)

	result, err := s.SearchTasks(ctx, "env-1", TaskSearchParams{
		Filters: []SearchFilter{{Key: "task_namespace", Op: "=", Value: "ns"}},
		SortKey: "task_name", Limit: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	require.Len(t, result.Tasks, 2)
	assert.Equal(t, "a", result.Tasks[0].Name)
	assert.Equal(t, "b", result.Tasks[1].Name)
}

func TestMemoryStore_DistinctTaskColumnValues(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.CreateOrganization(ctx, Organization{ID: "org-1", Name: "Org", Slug: "org"}, "user-1")
	require.NoError(t, err)
	_, err = s.CreateWorkspace(ctx, Workspace{ID: "ws-1", OrganizationID: "org-1", Slug: "ws"})
	require.NoError(t, err)
	_, err = s.CreateEnvironment(ctx, Environment{ID: "env-1", WorkspaceID: "ws-1", Slug: "env"})
	require.NoError(t, err)

	_, _, err = s.UpsertTask(ctx, Task{TaskID: "ns.a", EnvironmentID: "env-1", Namespace: "ns", Name: "a", Parameters: []byte(`{}`)})
	require.NoError(t, err)
	_, _, err = s.UpsertTask(ctx, Task{TaskID: "ns.b", EnvironmentID: "env-1", Namespace: "ns", Name: "b", Parameters: []byte(`{}`)})
	require.NoError(t, err)

	values, err := s.DistinctTaskColumnValues(ctx, "env-1", "task_namespace", 10)
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, "ns", values[0].Value)
	assert.Equal(t, 2, values[0].Count)
}

func TestMemoryStore_SampleTaskParametersReturnsTaskParameters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.CreateOrganization(ctx, Organization{ID: "org-1", Name: "Org", Slug: "org"}, "user-1")
	require.NoError(t, err)
	_, err = s.CreateWorkspace(ctx, Workspace{ID: "ws-1", OrganizationID: "org-1", Slug: "ws"})
	require.NoError(t, err)
	_, err = s.CreateEnvironment(ctx, Environment{ID: "env-1", WorkspaceID: "ws-1", Slug: "env"})
	require.NoError(t, err)

	_, _, err = s.UpsertTask(ctx, Task{TaskID: "ns.a", EnvironmentID: "env-1", Namespace: "ns", Name: "a", Parameters: []byte(`{"n":1}`)})
	require.NoError(t, err)

	samples, err := s.SampleTaskParameters(ctx, "env-1", 5)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.JSONEq(t, `{"n":1}`, string(samples[0]))
}
