package httpapi

import (
	"net/http"
	"strings"

	"github.com/stardag-dev/stardag-registry/internal/registry/auth"
	"github.com/stardag-dev/stardag-registry/pkg/apperr"
)

// extractToken reads the standard Authorization: Bearer <token> header.
func extractToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.Fields(header)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// authSDK resolves the credential presented by an SDK request: an API key
// (preferred, scoped to exactly one environment) or an internal token
// (scoped to a workspace; the caller must also name the target environment
// via the environment_id query parameter). It tries each in turn, the same
// composite-validator shape the registry uses for its other credential
// mixes, since a request can't declare its own kind up front.
func (h *handler) authSDK(r *http.Request) (auth.Principal, error) {
	token := extractToken(r)
	if token == "" {
		return auth.Principal{}, apperr.Unauthenticated("missing bearer token")
	}

	var (
		p   auth.Principal
		err error
	)
	if strings.HasPrefix(token, "sk_") {
		p, err = h.resolver.ResolveAPIKey(r.Context(), token)
	} else {
		envID := r.URL.Query().Get("environment_id")
		p, err = h.resolver.ResolveInternalToken(r.Context(), token, envID)
	}
	if err != nil {
		return auth.Principal{}, err
	}
	recordPrincipal(r, p)
	return p, nil
}

// authOIDC validates an external identity token for the bootstrap/UI
// routes that don't yet have an environment to scope an internal token to.
func (h *handler) authOIDC(r *http.Request) (auth.OIDCClaims, error) {
	token := extractToken(r)
	if token == "" {
		return auth.OIDCClaims{}, apperr.Unauthenticated("missing bearer token")
	}
	claims, err := h.oidc.Validate(token)
	if err != nil {
		return auth.OIDCClaims{}, err
	}
	recordPrincipal(r, auth.Principal{Kind: auth.CredentialOIDC, UserID: claims.Sub})
	return claims, nil
}

// authInternal validates an internal token scoped to workspaceID, the
// shape most `/ui/workspaces/{w}/...` routes require.
func (h *handler) authInternal(r *http.Request, workspaceID string) (auth.InternalClaims, error) {
	token := extractToken(r)
	if token == "" {
		return auth.InternalClaims{}, apperr.Unauthenticated("missing bearer token")
	}
	claims, err := h.internal.Validate(token)
	if err != nil {
		return auth.InternalClaims{}, err
	}
	if claims.WorkspaceID != workspaceID {
		return auth.InternalClaims{}, apperr.Forbidden("token not scoped to this workspace")
	}
	recordPrincipal(r, auth.Principal{Kind: auth.CredentialInternalToken, UserID: claims.UserID, WorkspaceID: claims.WorkspaceID})
	return claims, nil
}
