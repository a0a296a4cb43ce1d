package httpapi

import (
	"net/http"

	"github.com/stardag-dev/stardag-registry/internal/registry/search"
	"github.com/stardag-dev/stardag-registry/pkg/apperr"
)

func (h *handler) searchTasks(w http.ResponseWriter, r *http.Request) {
	p, err := h.authSDK(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	params := search.Params{
		Filter:   q.Get("filter"),
		Query:    q.Get("query"),
		Sort:     q.Get("sort"),
		Page:     queryInt(r, "page"),
		PageSize: queryInt(r, "page_size"),
	}
	result, err := h.search.Search(r.Context(), p.EnvironmentID, params)
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) searchKeys(w http.ResponseWriter, r *http.Request) {
	p, err := h.authSDK(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	limit := queryInt(r, "limit")
	if limit <= 0 {
		limit = 20
	}
	keys, err := h.search.KeySuggestions(r.Context(), p.EnvironmentID, q.Get("prefix"), limit)
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (h *handler) searchValues(w http.ResponseWriter, r *http.Request) {
	p, err := h.authSDK(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	key := q.Get("key")
	if key == "" {
		writeError(w, apperr.Validationf("key is required"))
		return
	}
	limit := queryInt(r, "limit")
	if limit <= 0 {
		limit = 20
	}
	values, err := h.search.ValueSuggestions(r.Context(), p.EnvironmentID, key, q.Get("prefix"), limit)
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, values)
}

func (h *handler) searchColumns(w http.ResponseWriter, r *http.Request) {
	p, err := h.authSDK(r)
	if err != nil {
		writeError(w, err)
		return
	}
	columns, err := h.search.AvailableColumns(r.Context(), p.EnvironmentID)
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, columns)
}
