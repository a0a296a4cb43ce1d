package httpapi

import (
	"context"
	"net/http"

	"github.com/stardag-dev/stardag-registry/internal/registry/auth"
)

type ctxKey string

const ctxPrincipalBoxKey ctxKey = "httpapi.principal_box"

// withPrincipalBox installs an empty, mutable Principal box into ctx.
// Context values can't flow back out to a middleware that already called
// next.ServeHTTP, only forward into it — so the box is a pointer a
// handler fills in deep inside the call, which the same middleware that
// installed it can still read afterward, since it holds the pointer too.
func withPrincipalBox(ctx context.Context, box *auth.Principal) context.Context {
	return context.WithValue(ctx, ctxPrincipalBoxKey, box)
}

// recordPrincipal fills in the request's principal box, if one is
// present, so the audit log can attribute the request once it completes.
func recordPrincipal(r *http.Request, p auth.Principal) {
	if box, ok := r.Context().Value(ctxPrincipalBoxKey).(*auth.Principal); ok {
		*box = p
	}
}
