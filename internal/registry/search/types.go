package search

import (
	"time"

	"github.com/stardag-dev/stardag-registry/internal/registry/store"
)

// Params bounds one task-search request.
type Params struct {
	Filter   string
	Query    string
	Sort     string
	Page     int
	PageSize int
}

// ResultRow is one task in a search response, enriched with the task's
// status within its most recent build and its total asset count.
type ResultRow struct {
	Task         store.Task
	BuildID      *string
	BuildName    *string
	Status       store.TaskStatus
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage *string
	AssetCount   int
}

// Result is a page of search results plus the columns available for
// display given the environment's observed data.
type Result struct {
	Tasks             []ResultRow
	Total             int
	Page              int
	PageSize          int
	AvailableColumns  []string
}

// KeySuggestion is one autocomplete candidate for a filter key.
type KeySuggestion struct {
	Key   string
	Type  string // string | datetime
	Count int    // 0 for core keys, sampled frequency for param.* keys
}

// ValueSuggestion is one autocomplete candidate for a filter value.
type ValueSuggestion struct {
	Value string
	Count int
}

// Columns is the discovered set of columns a results table can display.
type Columns struct {
	Core   []string
	Params []string
	Assets []string
}
