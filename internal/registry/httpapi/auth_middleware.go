package httpapi

import (
	"net/http"
)

// publicPaths never require a credential at all.
var publicPaths = map[string]struct{}{
	"/api/v1/health":      {},
	"/api/v1/auth/config": {},
	"/metrics":            {},
}

// wrapWithAuth is the outermost credential gate: it lets public paths and
// CORS preflight through untouched, and otherwise requires an
// Authorization header to be present at all. Which credential kind a
// route accepts (OIDC, internal token, API key) and what it's scoped to
// is route-specific, so the actual validation happens in each handler via
// authSDK/authOIDC/authInternal; this layer only rejects requests that
// never presented anything to check.
func wrapWithAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := publicPaths[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}
		if extractToken(r) == "" {
			unauthorised(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorised(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
}
