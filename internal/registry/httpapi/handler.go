// Package httpapi exposes the registry's HTTP surface: organizations,
// workspaces, environments, builds, tasks, locks, and task search, layered
// over internal/registry/store, lock, search, and auth.
package httpapi

import (
	"net/http"
	"time"

	"github.com/stardag-dev/stardag-registry/internal/registry/auth"
	"github.com/stardag-dev/stardag-registry/internal/registry/lock"
	"github.com/stardag-dev/stardag-registry/internal/registry/search"
	"github.com/stardag-dev/stardag-registry/internal/registry/store"
	"github.com/stardag-dev/stardag-registry/pkg/apperr"
)

// Config bounds the handler's policy knobs, independent of wiring.
type Config struct {
	OIDCIssuer              string
	OIDCClientID            string
	InternalTokenTTL        time.Duration
	MaxOrganizationsPerUser int
	MaxWorkspacesPerUser    int
	DefaultLockTTL          time.Duration
}

// handler bundles every dependency the route handlers need.
type handler struct {
	cfg Config

	store store.Store

	resolver *auth.Resolver
	oidc     *auth.OIDCValidator
	internal *auth.TokenIssuer

	locks  *lock.Service
	search *search.Service

	audit *auditLog

	startedAt time.Time
}

func newHandler(cfg Config, db store.Store, resolver *auth.Resolver, oidc *auth.OIDCValidator, internal *auth.TokenIssuer, locks *lock.Service, searchSvc *search.Service, audit *auditLog) *handler {
	return &handler{
		cfg:       cfg,
		store:     db,
		resolver:  resolver,
		oidc:      oidc,
		internal:  internal,
		locks:     locks,
		search:    searchSvc,
		audit:     audit,
		startedAt: time.Now(),
	}
}

func (h *handler) authConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"oidc_issuer":    h.cfg.OIDCIssuer,
		"oidc_client_id": h.cfg.OIDCClientID,
	})
}

// authExchange trades a verified OIDC token plus a target workspace for a
// short-lived, workspace-scoped internal token.
func (h *handler) authExchange(w http.ResponseWriter, r *http.Request) {
	claims, err := h.authOIDC(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		WorkspaceID string `json:"workspace_id"`
	}
	if err := decodeJSON(r.Body, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.WorkspaceID == "" {
		writeError(w, apperr.Validationf("workspace_id is required"))
		return
	}

	user, err := auth.ResolveUser(r.Context(), h.store, claims)
	if err != nil {
		writeError(w, err)
		return
	}
	ws, err := h.store.GetWorkspace(r.Context(), body.WorkspaceID)
	if err != nil {
		writeError(w, notFoundOr(err, "workspace %s not found", body.WorkspaceID))
		return
	}
	if err := auth.CheckRole(r.Context(), h.store, ws.OrganizationID, user.ID, store.RoleMember); err != nil {
		writeError(w, err)
		return
	}

	token, expiresIn, err := h.internal.Issue(user.ID, ws.ID)
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"expires_in":   int(expiresIn.Seconds()),
	})
}

// notFoundOr maps store.ErrNotFound to a NotFound apperr and passes any
// other error through unwrapped so its own category survives.
func notFoundOr(err error, format string, args ...any) error {
	if err == store.ErrNotFound {
		return apperr.NotFoundf(format, args...)
	}
	return err
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	claims, err := h.authOIDC(r)
	if err != nil {
		writeError(w, err)
		return
	}
	user, err := auth.ResolveUser(r.Context(), h.store, claims)
	if err != nil {
		writeError(w, err)
		return
	}
	orgs, err := h.store.ListOrganizationsForUser(r.Context(), user.ID)
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	type orgMembership struct {
		Organization store.Organization `json:"organization"`
		Role         store.Role         `json:"role"`
	}
	memberships := make([]orgMembership, 0, len(orgs))
	for _, org := range orgs {
		member, err := h.store.GetMember(r.Context(), org.ID, user.ID)
		if err != nil {
			continue
		}
		memberships = append(memberships, orgMembership{Organization: org, Role: member.Role})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":          user,
		"organizations": memberships,
	})
}

func (h *handler) meInvites(w http.ResponseWriter, r *http.Request) {
	claims, err := h.authOIDC(r)
	if err != nil {
		writeError(w, err)
		return
	}
	user, err := auth.ResolveUser(r.Context(), h.store, claims)
	if err != nil {
		writeError(w, err)
		return
	}
	orgs, err := h.store.ListOrganizationsForUser(r.Context(), user.ID)
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	var invites []store.Invite
	for _, org := range orgs {
		pending, err := h.store.ListPendingInvites(r.Context(), org.ID)
		if err != nil {
			continue
		}
		for _, inv := range pending {
			if inv.Email == claims.Email {
				invites = append(invites, inv)
			}
		}
	}
	writeJSON(w, http.StatusOK, invites)
}
