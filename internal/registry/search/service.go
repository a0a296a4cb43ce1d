package search

import (
	"context"
	"sort"
	"strings"
	"time"

	coreservice "github.com/stardag-dev/stardag-registry/internal/app/core/service"
	"github.com/stardag-dev/stardag-registry/internal/platform/cache"
	"github.com/stardag-dev/stardag-registry/internal/registry/store"
)

const (
	defaultPageSize   = 50
	maxPageSize       = 100
	paramSampleSize   = 100
	valueSampleSize   = 500
	suggestionTTL     = 5 * time.Minute
	maxDiscoveredKeys = 100
	keyWalkDepth      = 3
	// statusFilterScanLimit bounds the unpaginated scan used when a status
	// filter is present, since status can't be pushed into the store query.
	statusFilterScanLimit = 5000
)

var coreKeys = []KeySuggestion{
	{Key: "task_name", Type: "string"},
	{Key: "task_namespace", Type: "string"},
	{Key: "task_id", Type: "string"},
	{Key: "status", Type: "string"},
	{Key: "build_id", Type: "string"},
	{Key: "build_name", Type: "string"},
	{Key: "created_at", Type: "datetime"},
}

var staticStatusValues = []ValueSuggestion{
	{Value: "pending"}, {Value: "running"}, {Value: "completed"}, {Value: "failed"},
}

// Service answers task-search queries and their autocomplete endpoints.
// Param-key and value discovery is cached per environment with a short
// TTL, since it requires sampling recent tasks.
type Service struct {
	search store.SearchStore
	events store.EventStore
	builds store.BuildStore
	assets store.AssetStore

	cache cache.Backend
}

// New builds a Service backed by an in-process suggestion cache. Use
// NewWithCache to plug in a Redis-backed cache instead.
func New(backing store.Store) *Service {
	return NewWithCache(backing, cache.New(cache.Config{DefaultTTL: suggestionTTL}))
}

// NewWithCache builds a Service with an explicit cache backend, e.g. a
// cache.RedisCache for a multi-instance deployment.
func NewWithCache(backing store.Store, backend cache.Backend) *Service {
	return &Service{
		search: backing, events: backing, builds: backing, assets: backing,
		cache: backend,
	}
}

// Search runs a filtered, paginated task search scoped to environmentID.
func (s *Service) Search(ctx context.Context, environmentID string, p Params) (Result, error) {
	page := p.Page
	if page < 1 {
		page = 1
	}
	pageSize := coreservice.ClampLimit(p.PageSize, defaultPageSize, maxPageSize)

	filters := ParseFilterString(p.Filter)
	sortKey, sortDesc := ParseSort(p.Sort)

	var statusFilter *store.SearchFilter
	for i := range filters {
		if filters[i].Key == "status" {
			statusFilter = &filters[i]
		}
	}

	params := store.TaskSearchParams{
		Filters:  filters,
		Query:    p.Query,
		SortKey:  sortKey,
		SortDesc: sortDesc,
		Limit:    pageSize,
		Offset:   (page - 1) * pageSize,
	}

	var tasks []store.Task
	var total int

	if statusFilter == nil {
		res, err := s.search.SearchTasks(ctx, environmentID, params)
		if err != nil {
			return Result{}, err
		}
		tasks, total = res.Tasks, res.Total
	} else {
		// Status is derived, not stored, so it can't be pushed into the
		// SQL WHERE clause: fetch every non-status match, fold, filter,
		// then paginate in memory.
		all, err := s.search.SearchTasks(ctx, environmentID, store.TaskSearchParams{
			Filters:  filters,
			Query:    p.Query,
			SortKey:  sortKey,
			SortDesc: sortDesc,
			Limit:    statusFilterScanLimit,
		})
		if err != nil {
			return Result{}, err
		}
		rows, err := s.rowsFor(ctx, all.Tasks)
		if err != nil {
			return Result{}, err
		}
		var matched []ResultRow
		for _, r := range rows {
			if compareStatus(string(r.Status), statusFilter.Op, statusFilter.Value) {
				matched = append(matched, r)
			}
		}
		total = len(matched)
		start := (page - 1) * pageSize
		if start > total {
			start = total
		}
		end := start + pageSize
		if end > total {
			end = total
		}
		page := matched[start:end]
		return Result{
			Tasks:            page,
			Total:            total,
			Page:             p.Page,
			PageSize:         pageSize,
			AvailableColumns: []string{"task_name", "task_namespace", "status", "build_name", "created_at"},
		}, nil
	}

	rows, err := s.rowsFor(ctx, tasks)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Tasks:            rows,
		Total:            total,
		Page:             page,
		PageSize:         pageSize,
		AvailableColumns: []string{"task_name", "task_namespace", "status", "build_name", "created_at"},
	}, nil
}

// rowsFor enriches a page of tasks with their derived status, build
// context, and asset count, batching the supporting queries rather than
// issuing one per task.
func (s *Service) rowsFor(ctx context.Context, tasks []store.Task) ([]ResultRow, error) {
	if len(tasks) == 0 {
		return nil, nil
	}

	pks := make([]int64, len(tasks))
	for i, t := range tasks {
		pks[i] = t.PK
	}

	events, err := s.events.ListEventsForTasks(ctx, pks)
	if err != nil {
		return nil, err
	}
	byTask := map[int64][]store.Event{}
	for _, ev := range events {
		if ev.TaskPK != nil {
			byTask[*ev.TaskPK] = append(byTask[*ev.TaskPK], ev)
		}
	}

	buildIDs := map[string]bool{}
	latestBuildByTask := map[int64]string{}
	for pk, evs := range byTask {
		latest := evs[len(evs)-1] // ListEventsForTasks returns events ordered by created_at
		latestBuildByTask[pk] = latest.BuildID
		buildIDs[latest.BuildID] = true
	}
	var buildIDList []string
	for id := range buildIDs {
		buildIDList = append(buildIDList, id)
	}
	builds, err := s.builds.ListBuildsByIDs(ctx, buildIDList)
	if err != nil {
		return nil, err
	}
	buildsByID := map[string]store.Build{}
	for _, b := range builds {
		buildsByID[b.ID] = b
	}

	assetCounts, err := s.assets.CountAssetsForTasks(ctx, pks)
	if err != nil {
		return nil, err
	}

	out := make([]ResultRow, 0, len(tasks))
	for _, t := range tasks {
		row := ResultRow{Task: t, Status: store.TaskStatusPending, AssetCount: assetCounts[t.PK]}

		buildID, hasBuild := latestBuildByTask[t.PK]
		if hasBuild {
			// Fold only the events belonging to this task's own most
			// recent build, per get_all_task_statuses_in_build semantics.
			var scoped []store.Event
			for _, ev := range byTask[t.PK] {
				if ev.BuildID == buildID {
					scoped = append(scoped, ev)
				}
			}
			state := store.FoldTaskEvents(scoped)
			row.Status = state.Status
			row.StartedAt = state.StartedAt
			row.CompletedAt = state.CompletedAt
			row.ErrorMessage = state.ErrorMessage

			if b, ok := buildsByID[buildID]; ok {
				id, name := b.ID, b.Name
				row.BuildID = &id
				row.BuildName = &name
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func compareStatus(actual, op, value string) bool {
	switch op {
	case "!=":
		return actual != value
	default:
		return actual == value
	}
}

// KeySuggestions returns autocomplete candidates for filter keys: the
// fixed core keys plus param.* keys discovered by sampling recent tasks.
func (s *Service) KeySuggestions(ctx context.Context, environmentID, prefix string, limit int) ([]KeySuggestion, error) {
	var keys []KeySuggestion
	if prefix == "" || !strings.HasPrefix(prefix, "param") {
		for _, k := range coreKeys {
			if prefix == "" || strings.HasPrefix(k.Key, prefix) {
				keys = append(keys, k)
			}
		}
	}

	if prefix == "" || strings.HasPrefix(prefix, "param") {
		discovered, err := s.discoverParamKeys(ctx, environmentID)
		if err != nil {
			return nil, err
		}
		paramPrefix := ""
		if strings.HasPrefix(prefix, "param.") {
			paramPrefix = prefix[len("param."):]
		}
		for _, kc := range discovered {
			if paramPrefix == "" || strings.HasPrefix(kc.Value, "param."+paramPrefix) {
				keys = append(keys, KeySuggestion{Key: kc.Value, Type: "string", Count: kc.Count})
			}
			if len(keys) >= limit {
				break
			}
		}
	}

	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

func (s *Service) discoverParamKeys(ctx context.Context, environmentID string) ([]store.ValueCount, error) {
	cacheKey := "keys:" + environmentID
	var cached []store.ValueCount
	if ok, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && ok {
		return cached, nil
	}

	samples, err := s.search.SampleTaskParameters(ctx, environmentID, paramSampleSize)
	if err != nil {
		return nil, err
	}

	counts := map[string]int{}
	for _, raw := range samples {
		extractParamKeys(raw, "param", counts, keyWalkDepth)
	}

	result := make([]store.ValueCount, 0, len(counts))
	for k, c := range counts {
		result = append(result, store.ValueCount{Value: k, Count: c})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Value < result[j].Value
	})
	if len(result) > maxDiscoveredKeys {
		result = result[:maxDiscoveredKeys]
	}

	_ = s.cache.Set(ctx, cacheKey, result, suggestionTTL)
	return result, nil
}

// ValueSuggestions returns common values for a filter key: a fixed list
// for status, a top-N by frequency for core/build columns, and a sampled
// count for param.* keys.
func (s *Service) ValueSuggestions(ctx context.Context, environmentID, key, prefix string, limit int) ([]ValueSuggestion, error) {
	if key == "status" {
		var out []ValueSuggestion
		for _, v := range staticStatusValues {
			if prefix == "" || strings.HasPrefix(v.Value, prefix) {
				out = append(out, v)
			}
		}
		return out, nil
	}

	if key == "build_id" || key == "build_name" {
		return s.cachedValues(ctx, "values:"+environmentID+":"+key, prefix, limit, func() ([]store.ValueCount, error) {
			return s.search.DistinctBuildValues(ctx, environmentID, key, 100)
		})
	}

	if key == "task_name" || key == "task_namespace" {
		return s.cachedValues(ctx, "values:"+environmentID+":"+key, prefix, limit, func() ([]store.ValueCount, error) {
			return s.search.DistinctTaskColumnValues(ctx, environmentID, key, 100)
		})
	}

	if strings.HasPrefix(key, "param.") {
		return s.cachedValues(ctx, "values:"+environmentID+":"+key, prefix, limit, func() ([]store.ValueCount, error) {
			return s.discoverParamValues(ctx, environmentID, key)
		})
	}

	return nil, nil
}

func (s *Service) cachedValues(ctx context.Context, cacheKey, prefix string, limit int, load func() ([]store.ValueCount, error)) ([]ValueSuggestion, error) {
	var counts []store.ValueCount
	if ok, err := s.cache.Get(ctx, cacheKey, &counts); err != nil || !ok {
		counts, err = load()
		if err != nil {
			return nil, err
		}
		_ = s.cache.Set(ctx, cacheKey, counts, suggestionTTL)
	}

	var out []ValueSuggestion
	lowerPrefix := strings.ToLower(prefix)
	for _, c := range counts {
		if prefix == "" || strings.HasPrefix(strings.ToLower(c.Value), lowerPrefix) {
			out = append(out, ValueSuggestion{Value: c.Value, Count: c.Count})
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Service) discoverParamValues(ctx context.Context, environmentID, key string) ([]store.ValueCount, error) {
	samples, err := s.search.SampleTaskParameters(ctx, environmentID, valueSampleSize)
	if err != nil {
		return nil, err
	}
	path := strings.Split(strings.TrimPrefix(key, "param."), ".")

	counts := map[string]int{}
	for _, raw := range samples {
		if v, ok := store.ExtractJSONPath(raw, path); ok {
			counts[v]++
		}
	}
	result := make([]store.ValueCount, 0, len(counts))
	for v, c := range counts {
		result = append(result, store.ValueCount{Value: v, Count: c})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Value < result[j].Value
	})
	if len(result) > maxDiscoveredKeys {
		result = result[:maxDiscoveredKeys]
	}
	return result, nil
}

// AvailableColumns returns the columns a results table can display: the
// fixed core set plus param keys discovered from a sample of recent tasks.
func (s *Service) AvailableColumns(ctx context.Context, environmentID string) (Columns, error) {
	samples, err := s.search.SampleTaskParameters(ctx, environmentID, paramSampleSize)
	if err != nil {
		return Columns{}, err
	}
	counts := map[string]int{}
	for _, raw := range samples {
		extractParamKeys(raw, "param", counts, keyWalkDepth)
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > 50 {
		keys = keys[:50]
	}

	return Columns{
		Core: []string{
			"task_id", "task_name", "task_namespace", "status",
			"build_id", "build_name", "created_at", "started_at", "completed_at",
		},
		Params: keys,
		Assets: nil,
	}, nil
}

