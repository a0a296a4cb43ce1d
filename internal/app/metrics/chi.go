package metrics

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// chiRouteContext returns the matched chi route pattern for r, or "" if r
// was not served through a chi router (e.g. unit tests calling handlers
// directly).
func chiRouteContext(r *http.Request) string {
	rc := chi.RouteContext(r.Context())
	if rc == nil {
		return ""
	}
	if pattern := rc.RoutePattern(); pattern != "" {
		return pattern
	}
	return ""
}
