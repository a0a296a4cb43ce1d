package store

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

func (s *MemoryStore) SearchTasks(_ context.Context, environmentID string, params TaskSearchParams) (TaskSearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []Task
	for _, t := range s.tasks {
		if t.EnvironmentID == environmentID {
			candidates = append(candidates, t)
		}
	}

	needsBuildJoin := false
	for _, f := range params.Filters {
		if f.Key == "build_id" || f.Key == "build_name" {
			needsBuildJoin = true
		}
	}
	var builds map[int64]Build
	if needsBuildJoin {
		builds = s.latestBuildByTaskLocked()
	}

	var filtered []Task
	for _, t := range candidates {
		matched := true
		for _, f := range params.Filters {
			if f.Key == "status" {
				continue // folded by the search service
			}
			if !matchMemoryFilter(t, f, builds) {
				matched = false
				break
			}
		}
		if matched && params.Query != "" {
			q := strings.ToLower(params.Query)
			if !strings.Contains(strings.ToLower(t.Name), q) && !strings.Contains(strings.ToLower(t.Namespace), q) {
				matched = false
			}
		}
		if matched {
			filtered = append(filtered, t)
		}
	}

	sort.Slice(filtered, func(i, j int) bool {
		switch params.SortKey {
		case "task_name":
			if params.SortDesc {
				return filtered[i].Name > filtered[j].Name
			}
			return filtered[i].Name < filtered[j].Name
		case "task_namespace":
			if params.SortDesc {
				return filtered[i].Namespace > filtered[j].Namespace
			}
			return filtered[i].Namespace < filtered[j].Namespace
		default:
			if params.SortDesc {
				return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
			}
			return filtered[i].CreatedAt.Before(filtered[j].CreatedAt)
		}
	})

	total := len(filtered)
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := params.Offset
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	page := append([]Task{}, filtered[offset:end]...)
	return TaskSearchResult{Tasks: page, Total: total}, nil
}

// latestBuildByTaskLocked must run with s.mu held. It maps each task's PK
// to the build of its most recent event, mirroring the Postgres
// implementation's latest-event-per-task join.
func (s *MemoryStore) latestBuildByTaskLocked() map[int64]Build {
	latestEvent := map[int64]Event{}
	for _, ev := range s.events {
		if ev.TaskPK == nil {
			continue
		}
		cur, ok := latestEvent[*ev.TaskPK]
		if !ok || ev.CreatedAt.After(cur.CreatedAt) {
			latestEvent[*ev.TaskPK] = ev
		}
	}
	out := map[int64]Build{}
	for pk, ev := range latestEvent {
		if b, ok := s.builds[ev.BuildID]; ok {
			out[pk] = b
		}
	}
	return out
}

func matchMemoryFilter(t Task, f SearchFilter, builds map[int64]Build) bool {
	switch f.Key {
	case "task_name":
		return compareStringFilter(t.Name, f.Op, f.Value)
	case "task_namespace":
		return compareStringFilter(t.Namespace, f.Op, f.Value)
	case "task_id":
		return compareStringFilter(t.TaskID, f.Op, f.Value)
	case "version":
		v := ""
		if t.Version != nil {
			v = *t.Version
		}
		return compareStringFilter(v, f.Op, f.Value)
	case "created_at":
		return compareStringFilter(t.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), f.Op, f.Value)
	case "build_id":
		b, ok := builds[t.PK]
		if !ok {
			return false
		}
		return compareStringFilter(b.ID, f.Op, f.Value)
	case "build_name":
		b, ok := builds[t.PK]
		if !ok {
			return false
		}
		return compareStringFilter(b.Name, f.Op, f.Value)
	}

	if strings.HasPrefix(f.Key, "param.") {
		path := strings.Split(strings.TrimPrefix(f.Key, "param."), ".")
		val, ok := ExtractJSONPath(t.Parameters, path)
		if !ok {
			return false
		}
		switch f.Op {
		case ">", "<", ">=", "<=":
			actual, err1 := strconv.ParseFloat(val, 64)
			target, err2 := strconv.ParseFloat(f.Value, 64)
			if err1 != nil || err2 != nil {
				return false
			}
			return compareFloatFilter(actual, f.Op, target)
		default:
			return compareStringFilter(val, f.Op, f.Value)
		}
	}

	// Unknown key: no-op, matching the SQL builder's silent drop.
	return true
}

func compareStringFilter(actual, op, value string) bool {
	switch op {
	case "=":
		return actual == value
	case "!=":
		return actual != value
	case ">":
		return actual > value
	case "<":
		return actual < value
	case ">=":
		return actual >= value
	case "<=":
		return actual <= value
	case "~":
		return strings.Contains(strings.ToLower(actual), strings.ToLower(value))
	}
	return false
}

func compareFloatFilter(actual float64, op string, value float64) bool {
	switch op {
	case ">":
		return actual > value
	case "<":
		return actual < value
	case ">=":
		return actual >= value
	case "<=":
		return actual <= value
	}
	return false
}

// ExtractJSONPath walks a JSON object by dotted path, where any segment
// may take the `field[n]` form to index into the array held by field and
// continue from element n. A path resolving to an object or array is
// reported as not found, since only scalar values are filterable.
// Exported for reuse by the search service's value-sampling endpoints,
// which walk the same blobs outside of a MemoryStore/PostgresStore query.
func ExtractJSONPath(raw []byte, path []string) (string, bool) {
	result := gjson.GetBytes(raw, toGjsonPath(path))
	if !result.Exists() {
		return "", false
	}
	switch result.Type {
	case gjson.String, gjson.Number, gjson.True, gjson.False:
		return result.String(), true
	default:
		return "", false
	}
}

// toGjsonPath rewrites our `field[n]` array-index segments into gjson's
// dot-index form (`field.n`).
func toGjsonPath(path []string) string {
	parts := make([]string, 0, len(path)*2)
	for _, seg := range path {
		if m := searchArrayIndexPattern.FindStringSubmatch(seg); m != nil {
			parts = append(parts, m[1], m[2])
			continue
		}
		parts = append(parts, seg)
	}
	return strings.Join(parts, ".")
}

func (s *MemoryStore) SampleTaskParameters(_ context.Context, environmentID string, limit int) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tasks []Task
	for _, t := range s.tasks {
		if t.EnvironmentID == environmentID {
			tasks = append(tasks, t)
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.After(tasks[j].CreatedAt) })
	if limit > 0 && limit < len(tasks) {
		tasks = tasks[:limit]
	}
	out := make([][]byte, len(tasks))
	for i, t := range tasks {
		out[i] = t.Parameters
	}
	return out, nil
}

func (s *MemoryStore) DistinctTaskColumnValues(_ context.Context, environmentID, column string, limit int) ([]ValueCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := map[string]int{}
	for _, t := range s.tasks {
		if t.EnvironmentID != environmentID {
			continue
		}
		var v string
		switch column {
		case "task_name":
			v = t.Name
		case "task_namespace":
			v = t.Namespace
		default:
			continue
		}
		if v != "" {
			counts[v]++
		}
	}
	return topValueCounts(counts, limit), nil
}

func (s *MemoryStore) DistinctBuildValues(_ context.Context, environmentID, column string, limit int) ([]ValueCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := map[string]int{}
	for _, ev := range s.events {
		if ev.TaskPK == nil {
			continue
		}
		t, ok := s.tasks[*ev.TaskPK]
		if !ok || t.EnvironmentID != environmentID {
			continue
		}
		b, ok := s.builds[ev.BuildID]
		if !ok {
			continue
		}
		v := b.ID
		if column == "build_name" {
			v = b.Name
		}
		if v != "" {
			counts[v]++
		}
	}
	return topValueCounts(counts, limit), nil
}

func topValueCounts(counts map[string]int, limit int) []ValueCount {
	out := make([]ValueCount, 0, len(counts))
	for v, c := range counts {
		out = append(out, ValueCount{Value: v, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

func (s *MemoryStore) ListEventsForTasks(_ context.Context, taskPKs []int64) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[int64]bool, len(taskPKs))
	for _, pk := range taskPKs {
		want[pk] = true
	}
	var out []Event
	for _, ev := range s.events {
		if ev.TaskPK != nil && want[*ev.TaskPK] {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListBuildsByIDs(_ context.Context, ids []string) ([]Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []Build
	for _, b := range s.builds {
		if want[b.ID] {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *MemoryStore) CountAssetsForTasks(_ context.Context, taskPKs []int64) (map[int64]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[int64]bool, len(taskPKs))
	for _, pk := range taskPKs {
		want[pk] = true
	}
	out := map[int64]int{}
	for _, a := range s.assets {
		if want[a.TaskPK] {
			out[a.TaskPK]++
		}
	}
	return out, nil
}
