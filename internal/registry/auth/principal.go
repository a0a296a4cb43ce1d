package auth

import (
	"context"
	"strings"

	"github.com/stardag-dev/stardag-registry/internal/registry/store"
	"github.com/stardag-dev/stardag-registry/pkg/apperr"
)

// CredentialKind distinguishes the three credential types a request may
// present.
type CredentialKind string

const (
	CredentialAPIKey        CredentialKind = "api_key"
	CredentialInternalToken CredentialKind = "internal_token"
	CredentialOIDC          CredentialKind = "oidc"
)

// Principal is the normalized result of authenticating a request: an
// (environment, caller) pair every non-bootstrap handler operates on.
type Principal struct {
	Kind          CredentialKind
	EnvironmentID string
	UserID        string // empty for API-key-initiated calls with no creator on record
	WorkspaceID   string // set for internal-token principals
}

// Resolver authenticates the three credential kinds into a Principal.
// Bootstrap endpoints (GET /ui/me, workspace create, invite accept/
// decline, token exchange) use the OIDC validator directly instead of
// going through Resolve, since they don't yet have an environment.
type Resolver struct {
	apiKeys  *ApiKeyResolver
	internal *TokenIssuer
	envs     store.EnvironmentStore
}

func NewResolver(apiKeys *ApiKeyResolver, internal *TokenIssuer, envs store.EnvironmentStore) *Resolver {
	return &Resolver{apiKeys: apiKeys, internal: internal, envs: envs}
}

// ResolveAPIKey authenticates an `sk_...` credential.
func (r *Resolver) ResolveAPIKey(ctx context.Context, presented string) (Principal, error) {
	key, err := r.apiKeys.Resolve(ctx, presented)
	if err != nil {
		return Principal{}, err
	}
	userID := ""
	if key.CreatedBy != "" {
		userID = key.CreatedBy
	}
	return Principal{Kind: CredentialAPIKey, EnvironmentID: key.EnvironmentID, UserID: userID}, nil
}

// ResolveInternalToken authenticates a bearer internal token and binds it
// to the environment named by the request (query parameter or path),
// rejecting environments outside the token's workspace.
func (r *Resolver) ResolveInternalToken(ctx context.Context, bearer, requestedEnvironmentID string) (Principal, error) {
	claims, err := r.internal.Validate(bearer)
	if err != nil {
		return Principal{}, err
	}

	if requestedEnvironmentID == "" {
		return Principal{}, apperr.Validationf("environment_id is required")
	}
	env, err := r.envs.GetEnvironment(ctx, requestedEnvironmentID)
	if err != nil {
		if err == store.ErrNotFound {
			return Principal{}, apperr.NotFoundf("environment %s not found", requestedEnvironmentID)
		}
		return Principal{}, err
	}
	if env.WorkspaceID != claims.WorkspaceID {
		return Principal{}, apperr.Forbidden("environment does not belong to the token's workspace")
	}

	return Principal{
		Kind:          CredentialInternalToken,
		EnvironmentID: env.ID,
		UserID:        claims.UserID,
		WorkspaceID:   claims.WorkspaceID,
	}, nil
}

// BearerToken strips an "Authorization: Bearer <token>" header down to
// the token.
func BearerToken(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// roleRank orders the member < admin < owner hierarchy for comparisons.
var roleRank = map[store.Role]int{
	store.RoleMember: 0,
	store.RoleAdmin:  1,
	store.RoleOwner:  2,
}

// RequireRole reports whether actual satisfies at-least-required.
func RequireRole(actual, required store.Role) bool {
	return roleRank[actual] >= roleRank[required]
}

// CheckRole resolves the caller's membership in organizationID and
// enforces the required role, returning an Authorization-category error
// on failure.
func CheckRole(ctx context.Context, members store.OrganizationStore, organizationID, userID string, required store.Role) error {
	member, err := members.GetMember(ctx, organizationID, userID)
	if err != nil {
		if err == store.ErrNotFound {
			return apperr.Forbidden("not a member of this organization")
		}
		return err
	}
	if !RequireRole(member.Role, required) {
		return apperr.Forbidden("insufficient role")
	}
	return nil
}
