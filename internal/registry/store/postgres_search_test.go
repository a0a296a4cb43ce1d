package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestBuildTaskCondition_CoreColumn(t *testing.T) {
	args := []any{"env-1"}
	cond, needsJoin, ok := buildTaskCondition(SearchFilter{Key: "task_name", Op: "=", Value: "ingest"}, &args)
	require.True(t, ok)
	require.False(t, needsJoin)
	require.Equal(t, "t.name = $2", cond)
	require.Equal(t, "ingest", args[1])
}

func TestBuildTaskCondition_FuzzyOperatorUsesILIKE(t *testing.T) {
	args := []any{"env-1"}
	cond, _, ok := buildTaskCondition(SearchFilter{Key: "task_namespace", Op: "~", Value: "acme"}, &args)
	require.True(t, ok)
	require.Equal(t, "t.namespace ILIKE '%' || $2 || '%'", cond)
}

func TestBuildTaskCondition_BuildColumnNeedsJoin(t *testing.T) {
	args := []any{"env-1"}
	cond, needsJoin, ok := buildTaskCondition(SearchFilter{Key: "build_name", Op: "=", Value: "nightly"}, &args)
	require.True(t, ok)
	require.True(t, needsJoin)
	require.Equal(t, "b.name = $2", cond)
}

func TestBuildTaskCondition_ParamDottedPath(t *testing.T) {
	args := []any{"env-1"}
	cond, needsJoin, ok := buildTaskCondition(SearchFilter{Key: "param.config.retries", Op: "=", Value: "3"}, &args)
	require.True(t, ok)
	require.False(t, needsJoin)
	require.Equal(t, "(t.parameters->'config'->>'retries') = $2", cond)
}

func TestBuildTaskCondition_ParamArrayIndexWithNumericComparison(t *testing.T) {
	args := []any{"env-1"}
	cond, _, ok := buildTaskCondition(SearchFilter{Key: "param.items[0].weight", Op: ">=", Value: "10"}, &args)
	require.True(t, ok)
	require.Contains(t, cond, "(t.parameters->'items')->0")
	require.Contains(t, cond, "CAST(")
	require.Contains(t, cond, ">=")
}

func TestBuildTaskCondition_UnknownKeyIsNotFiltered(t *testing.T) {
	args := []any{"env-1"}
	_, _, ok := buildTaskCondition(SearchFilter{Key: "no_such_key", Op: "=", Value: "x"}, &args)
	require.False(t, ok)
	require.Len(t, args, 1) // nothing appended for a key buildTaskCondition doesn't recognize
}

func TestBuildTaskCondition_UnknownOperatorIsNotFiltered(t *testing.T) {
	args := []any{"env-1"}
	_, _, ok := buildTaskCondition(SearchFilter{Key: "task_name", Op: "~=", Value: "x"}, &args)
	require.False(t, ok)
}

func TestPostgresStore_SearchTasks_PlainQueryNoFilters(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT count\(\*\) FROM tasks t\s+WHERE t.environment_id = \$1`).
		WithArgs("env-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT t.id, t.task_id, t.environment_id, t.namespace, t.name, t.parameters, t.version, t.created_at`).
		WithArgs("env-1", 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "task_id", "environment_id", "namespace", "name", "parameters", "version", "created_at"}).
			AddRow(int64(1), "task-1", "env-1", "ns", "ingest", []byte(`{}`), "v1", now))

	result, err := s.SearchTasks(context.Background(), "env-1", TaskSearchParams{})
	require.NoError(t, err)
	require.Equal(t, 1, result.Total)
	require.Len(t, result.Tasks, 1)
	require.Equal(t, "task-1", result.Tasks[0].TaskID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SearchTasks_FilterAddsCondition(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT count\(\*\) FROM tasks t\s+WHERE t.environment_id = \$1 AND t.name = \$2`).
		WithArgs("env-1", "ingest").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT t.id, t.task_id`).
		WithArgs("env-1", "ingest", 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "task_id", "environment_id", "namespace", "name", "parameters", "version", "created_at"}))

	result, err := s.SearchTasks(context.Background(), "env-1", TaskSearchParams{
		Filters: []SearchFilter{{Key: "task_name", Op: "=", Value: "ingest"}},
	})
	require.NoError(t, err)
	require.Equal(t, 0, result.Total)
	require.Empty(t, result.Tasks)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SearchTasks_StatusFilterSkippedInSQL(t *testing.T) {
	s, mock := newMockStore(t)

	// status is never pushed to SQL, so the only bound arg is environmentID.
	mock.ExpectQuery(`SELECT count\(\*\) FROM tasks t\s+WHERE t.environment_id = \$1$`).
		WithArgs("env-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT t.id, t.task_id`).
		WithArgs("env-1", 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "task_id", "environment_id", "namespace", "name", "parameters", "version", "created_at"}))

	_, err := s.SearchTasks(context.Background(), "env-1", TaskSearchParams{
		Filters: []SearchFilter{{Key: "status", Op: "=", Value: "completed"}},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DistinctTaskColumnValues_UnknownColumnReturnsNil(t *testing.T) {
	s, _ := newMockStore(t)
	out, err := s.DistinctTaskColumnValues(context.Background(), "env-1", "no_such_column", 10)
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestPostgresStore_DistinctTaskColumnValues(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT name, count\(\*\) FROM tasks`).
		WithArgs("env-1", 5).
		WillReturnRows(sqlmock.NewRows([]string{"name", "count"}).
			AddRow("ingest", int64(4)).
			AddRow("export", int64(2)))

	out, err := s.DistinctTaskColumnValues(context.Background(), "env-1", "task_name", 5)
	require.NoError(t, err)
	require.Equal(t, []ValueCount{{Value: "ingest", Count: 4}, {Value: "export", Count: 2}}, out)
	require.NoError(t, mock.ExpectationsWereMet())
}
