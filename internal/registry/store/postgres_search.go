package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"
)

// searchArrayIndexPattern matches a `field[n]` path segment in a param.*
// filter key.
var searchArrayIndexPattern = regexp.MustCompile(`^(\w+)\[(\d+)\]$`)

// searchCoreColumns maps a filter key to its column on tasks, for keys
// filterable with any operator.
var searchCoreColumns = map[string]string{
	"task_name":      "name",
	"task_namespace": "namespace",
	"task_id":        "task_id",
	"created_at":     "created_at",
	"version":        "version",
}

// searchValueColumns is the narrower set of core columns the value-
// suggestion endpoint samples distinct values from.
var searchValueColumns = map[string]string{
	"task_name":      "name",
	"task_namespace": "namespace",
}

var searchOperatorSQL = map[string]string{
	"=": "=", "!=": "!=", ">": ">", "<": "<", ">=": ">=", "<=": "<=", "~": "ILIKE",
}

// buildTaskCondition translates one parsed filter into a SQL fragment
// against the aliased "t" (tasks) / "b" (builds) tables, appending its
// bind value to args. needsBuildJoin reports whether the builds table
// must be joined for the condition to resolve.
func buildTaskCondition(f SearchFilter, args *[]any) (condition string, needsBuildJoin bool, ok bool) {
	sqlOp, known := searchOperatorSQL[f.Op]
	if !known {
		return "", false, false
	}

	if col, isCore := searchCoreColumns[f.Key]; isCore {
		*args = append(*args, f.Value)
		idx := len(*args)
		if sqlOp == "ILIKE" {
			return fmt.Sprintf("t.%s ILIKE '%%' || $%d || '%%'", col, idx), false, true
		}
		return fmt.Sprintf("t.%s %s $%d", col, sqlOp, idx), false, true
	}

	switch f.Key {
	case "build_id":
		*args = append(*args, f.Value)
		idx := len(*args)
		if sqlOp == "ILIKE" {
			return fmt.Sprintf("b.id ILIKE '%%' || $%d || '%%'", idx), true, true
		}
		return fmt.Sprintf("b.id %s $%d", sqlOp, idx), true, true
	case "build_name":
		*args = append(*args, f.Value)
		idx := len(*args)
		if sqlOp == "ILIKE" {
			return fmt.Sprintf("b.name ILIKE '%%' || $%d || '%%'", idx), true, true
		}
		return fmt.Sprintf("b.name %s $%d", sqlOp, idx), true, true
	}

	if strings.HasPrefix(f.Key, "param.") {
		path := strings.Split(strings.TrimPrefix(f.Key, "param."), ".")
		jsonPath := "t.parameters"
		for i, part := range path {
			if m := searchArrayIndexPattern.FindStringSubmatch(part); m != nil {
				jsonPath = fmt.Sprintf("(%s->'%s')->%s", jsonPath, m[1], m[2])
				continue
			}
			if i == len(path)-1 {
				jsonPath = fmt.Sprintf("%s->>'%s'", jsonPath, part)
			} else {
				jsonPath = fmt.Sprintf("%s->'%s'", jsonPath, part)
			}
		}

		*args = append(*args, f.Value)
		idx := len(*args)
		switch {
		case sqlOp == "ILIKE":
			return fmt.Sprintf("(%s) ILIKE '%%' || $%d || '%%'", jsonPath, idx), false, true
		case f.Op == ">" || f.Op == "<" || f.Op == ">=" || f.Op == "<=":
			return fmt.Sprintf("CAST(%s AS DOUBLE PRECISION) %s CAST($%d AS DOUBLE PRECISION)", jsonPath, sqlOp, idx), false, true
		default:
			return fmt.Sprintf("(%s) %s $%d", jsonPath, sqlOp, idx), false, true
		}
	}

	return "", false, false
}

// SearchTasks applies every non-status filter and the free-text query in
// SQL, returning the matching page plus the total match count. Status
// filters are skipped here (see TaskSearchParams) and applied by the
// search service after folding each returned task's events.
func (s *PostgresStore) SearchTasks(ctx context.Context, environmentID string, params TaskSearchParams) (TaskSearchResult, error) {
	args := []any{environmentID}
	var conditions []string
	needsBuildJoin := false

	for _, f := range params.Filters {
		if f.Key == "status" {
			continue
		}
		cond, joins, ok := buildTaskCondition(f, &args)
		if !ok {
			continue
		}
		conditions = append(conditions, cond)
		if joins {
			needsBuildJoin = true
		}
	}

	if params.Query != "" {
		args = append(args, "%"+strings.ToLower(params.Query)+"%")
		idx := len(args)
		conditions = append(conditions, fmt.Sprintf("(LOWER(t.name) LIKE $%d OR LOWER(t.namespace) LIKE $%d)", idx, idx))
	}

	from := "FROM tasks t"
	if needsBuildJoin {
		from += `
			JOIN LATERAL (
				SELECT e.build_id FROM events e WHERE e.task_id = t.id ORDER BY e.created_at DESC LIMIT 1
			) ev ON true
			JOIN builds b ON b.id = ev.build_id`
	}

	where := "WHERE t.environment_id = $1"
	if len(conditions) > 0 {
		where += " AND " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf("SELECT count(*) %s %s", from, where)
	if err := s.DB.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return TaskSearchResult{}, fmt.Errorf("count search tasks: %w", err)
	}

	sortColumn := "t.created_at"
	switch params.SortKey {
	case "task_name":
		sortColumn = "t.name"
	case "task_namespace":
		sortColumn = "t.namespace"
	}
	direction := "DESC"
	if !params.SortDesc {
		direction = "ASC"
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	rowArgs := append(append([]any{}, args...), limit, params.Offset)
	limitIdx := len(args) + 1
	offsetIdx := len(args) + 2

	rowQuery := fmt.Sprintf(`
		SELECT t.id, t.task_id, t.environment_id, t.namespace, t.name, t.parameters, t.version, t.created_at
		%s
		%s
		ORDER BY %s %s
		LIMIT $%d OFFSET $%d
	`, from, where, sortColumn, direction, limitIdx, offsetIdx)

	rows, err := s.DB.QueryContext(ctx, rowQuery, rowArgs...)
	if err != nil {
		return TaskSearchResult{}, fmt.Errorf("search tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.PK, &t.TaskID, &t.EnvironmentID, &t.Namespace, &t.Name, &t.Parameters, &t.Version, &t.CreatedAt); err != nil {
			return TaskSearchResult{}, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return TaskSearchResult{}, err
	}

	return TaskSearchResult{Tasks: tasks, Total: total}, nil
}

// SampleTaskParameters returns the parameter blobs of the N most recently
// created tasks in environmentID, used to discover param.* keys/values.
func (s *PostgresStore) SampleTaskParameters(ctx context.Context, environmentID string, limit int) ([][]byte, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT parameters FROM tasks WHERE environment_id = $1 ORDER BY created_at DESC LIMIT $2
	`, environmentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var p []byte
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DistinctTaskColumnValues(ctx context.Context, environmentID, column string, limit int) ([]ValueCount, error) {
	col, ok := searchValueColumns[column]
	if !ok {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT %s, count(*) FROM tasks
		WHERE environment_id = $1 AND %s IS NOT NULL AND %s <> ''
		GROUP BY %s ORDER BY count(*) DESC LIMIT $2
	`, col, col, col, col)
	rows, err := s.DB.QueryContext(ctx, query, environmentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanValueCounts(rows)
}

func (s *PostgresStore) DistinctBuildValues(ctx context.Context, environmentID, column string, limit int) ([]ValueCount, error) {
	col := "b.id"
	if column == "build_name" {
		col = "b.name"
	}
	query := fmt.Sprintf(`
		SELECT %s, count(*) FROM builds b
		JOIN events e ON e.build_id = b.id
		JOIN tasks t ON t.id = e.task_id
		WHERE t.environment_id = $1
		GROUP BY %s ORDER BY count(*) DESC LIMIT $2
	`, col, col)
	rows, err := s.DB.QueryContext(ctx, query, environmentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanValueCounts(rows)
}

func scanValueCounts(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]ValueCount, error) {
	var out []ValueCount
	for rows.Next() {
		var vc ValueCount
		if err := rows.Scan(&vc.Value, &vc.Count); err != nil {
			return nil, err
		}
		out = append(out, vc)
	}
	return out, rows.Err()
}

// ListEventsForTasks returns every event touching any of taskPKs, across
// all builds, ordered by creation time.
func (s *PostgresStore) ListEventsForTasks(ctx context.Context, taskPKs []int64) ([]Event, error) {
	if len(taskPKs) == 0 {
		return nil, nil
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, build_id, task_id, event_type, error_message, metadata, created_at
		FROM events WHERE task_id = ANY($1) ORDER BY created_at
	`, pq.Array(taskPKs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.BuildID, &ev.TaskPK, &ev.EventType, &ev.ErrorMessage, &ev.Metadata, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListBuildsByIDs(ctx context.Context, ids []string) ([]Build, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, environment_id, user_id, name, description, commit_hash, root_task_ids, created_at
		FROM builds WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Build
	for rows.Next() {
		var b Build
		var rootTaskIDs []string
		if err := rows.Scan(&b.ID, &b.EnvironmentID, &b.UserID, &b.Name, &b.Description, &b.CommitHash, pq.Array(&rootTaskIDs), &b.CreatedAt); err != nil {
			return nil, err
		}
		b.RootTaskIDs = rootTaskIDs
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountAssetsForTasks(ctx context.Context, taskPKs []int64) (map[int64]int, error) {
	out := map[int64]int{}
	if len(taskPKs) == 0 {
		return out, nil
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT task_pk, count(*) FROM task_registry_assets WHERE task_pk = ANY($1) GROUP BY task_pk
	`, pq.Array(taskPKs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var pk int64
		var n int
		if err := rows.Scan(&pk, &n); err != nil {
			return nil, err
		}
		out[pk] = n
	}
	return out, rows.Err()
}
