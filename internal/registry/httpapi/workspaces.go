package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stardag-dev/stardag-registry/internal/registry/auth"
	"github.com/stardag-dev/stardag-registry/internal/registry/store"
	"github.com/stardag-dev/stardag-registry/pkg/apperr"
)

// createWorkspace bootstraps a brand-new organization + workspace +
// environment in one call: the caller authenticates with their OIDC
// identity (there's no workspace yet to scope an internal token to) and
// becomes the organization's owner.
func (h *handler) createWorkspace(w http.ResponseWriter, r *http.Request) {
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

	var body struct {
		OrganizationSlug string `json:"organization_slug"`
		OrganizationName string `json:"organization_name"`
		WorkspaceSlug    string `json:"workspace_slug"`
		WorkspaceName    string `json:"workspace_name"`
		EnvironmentSlug  string `json:"environment_slug"`
		EnvironmentName  string `json:"environment_name"`
	}
	if err := decodeJSON(r.Body, &body); err != nil {
		writeError(w, err)
		return
	}
	if !validSlug(body.OrganizationSlug) || !validSlug(body.WorkspaceSlug) || !validSlug(body.EnvironmentSlug) {
		writeError(w, apperr.Validationf("organization_slug, workspace_slug, and environment_slug must match ^[a-z0-9]([a-z0-9-]*[a-z0-9])?$, length 2-64"))
		return
	}

	owned, err := h.store.CountOrganizationsOwnedBy(r.Context(), user.ID)
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	if h.cfg.MaxOrganizationsPerUser > 0 && owned >= h.cfg.MaxOrganizationsPerUser {
		writeError(w, apperr.CreationCapReached("organization", h.cfg.MaxOrganizationsPerUser))
		return
	}
	if h.cfg.MaxWorkspacesPerUser > 0 {
		workspaces, err := h.store.CountWorkspacesOwnedBy(r.Context(), user.ID)
		if err != nil {
			writeError(w, apperr.Internal(err))
			return
		}
		if workspaces >= h.cfg.MaxWorkspacesPerUser {
			writeError(w, apperr.CreationCapReached("workspace", h.cfg.MaxWorkspacesPerUser))
			return
		}
	}

	org, err := h.store.CreateOrganization(r.Context(), store.Organization{
		ID: uuid.NewString(), Name: body.OrganizationName, Slug: body.OrganizationSlug,
	}, user.ID)
	if err != nil {
		writeError(w, asConflictf(err, "organization slug %q already taken", body.OrganizationSlug))
		return
	}

	ws, err := h.store.CreateWorkspace(r.Context(), store.Workspace{
		ID: uuid.NewString(), OrganizationID: org.ID, Slug: body.WorkspaceSlug, Name: body.WorkspaceName,
	})
	if err != nil {
		writeError(w, asConflictf(err, "workspace slug %q already taken", body.WorkspaceSlug))
		return
	}

	env, err := h.store.CreateEnvironment(r.Context(), store.Environment{
		ID: uuid.NewString(), WorkspaceID: ws.ID, Slug: body.EnvironmentSlug, Name: body.EnvironmentName,
	})
	if err != nil {
		writeError(w, asConflictf(err, "environment slug %q already taken", body.EnvironmentSlug))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"organization": org,
		"workspace":    ws,
		"environment":  env,
	})
}

func asConflictf(err error, format string, args ...any) error {
	if err == store.ErrConflict {
		return apperr.Conflictf(format, args...)
	}
	return err
}

// workspaceRole authenticates an internal token scoped to workspaceID and
// enforces the caller's organization role is at least required.
func (h *handler) workspaceRole(r *http.Request, workspaceID string, required store.Role) (auth.InternalClaims, store.Workspace, error) {
	claims, err := h.authInternal(r, workspaceID)
	if err != nil {
		return auth.InternalClaims{}, store.Workspace{}, err
	}
	ws, err := h.store.GetWorkspace(r.Context(), workspaceID)
	if err != nil {
		return auth.InternalClaims{}, store.Workspace{}, notFoundOr(err, "workspace %s not found", workspaceID)
	}
	if err := auth.CheckRole(r.Context(), h.store, ws.OrganizationID, claims.UserID, required); err != nil {
		return auth.InternalClaims{}, store.Workspace{}, err
	}
	return claims, ws, nil
}

func (h *handler) getWorkspace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workspace_id")
	_, ws, err := h.workspaceRole(r, id, store.RoleMember)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

func (h *handler) patchWorkspace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workspace_id")
	_, ws, err := h.workspaceRole(r, id, store.RoleAdmin)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
	}
	if err := decodeJSON(r.Body, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Name != nil {
		ws.Name = *body.Name
	}
	if body.Description != nil {
		ws.Description = *body.Description
	}
	updated, err := h.store.CreateWorkspace(r.Context(), ws)
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) deleteWorkspace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workspace_id")
	_, _, err := h.workspaceRole(r, id, store.RoleOwner)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.store.DeleteWorkspace(r.Context(), id); err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listMembers(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workspace_id")
	_, ws, err := h.workspaceRole(r, id, store.RoleMember)
	if err != nil {
		writeError(w, err)
		return
	}
	members, err := h.store.ListMembers(r.Context(), ws.OrganizationID)
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *handler) patchMember(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workspace_id")
	userID := chi.URLParam(r, "user_id")
	_, ws, err := h.workspaceRole(r, id, store.RoleAdmin)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Role store.Role `json:"role"`
	}
	if err := decodeJSON(r.Body, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := h.store.SetMemberRole(r.Context(), ws.OrganizationID, userID, body.Role); err != nil {
		writeError(w, asMembershipErr(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *handler) removeMember(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workspace_id")
	userID := chi.URLParam(r, "user_id")
	_, ws, err := h.workspaceRole(r, id, store.RoleAdmin)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.store.RemoveMember(r.Context(), ws.OrganizationID, userID); err != nil {
		writeError(w, asMembershipErr(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// asMembershipErr maps the store's membership invariants to the apperr
// taxonomy: removing/demoting the last owner is a conflict, not an
// internal failure.
func asMembershipErr(err error) error {
	switch err {
	case store.ErrLastOwner:
		return apperr.Conflictf("cannot remove or demote the last owner")
	case store.ErrNotFound:
		return apperr.NotFoundf("membership not found")
	default:
		return apperr.Internal(err)
	}
}

// --- Invites ---

func (h *handler) listInvites(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workspace_id")
	_, ws, err := h.workspaceRole(r, id, store.RoleAdmin)
	if err != nil {
		writeError(w, err)
		return
	}
	invites, err := h.store.ListPendingInvites(r.Context(), ws.OrganizationID)
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, invites)
}

func (h *handler) createInvite(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workspace_id")
	claims, ws, err := h.workspaceRole(r, id, store.RoleAdmin)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Email string     `json:"email"`
		Role  store.Role `json:"role"`
	}
	if err := decodeJSON(r.Body, &body); err != nil {
		writeError(w, err)
		return
	}
	invite, err := h.store.CreateInvite(r.Context(), store.Invite{
		ID:             uuid.NewString(),
		OrganizationID: ws.OrganizationID,
		Email:          body.Email,
		Role:           body.Role,
		Status:         store.InvitePending,
		InvitedBy:      claims.UserID,
		ExpiresAt:      time.Now().UTC().Add(14 * 24 * time.Hour),
	})
	if err != nil {
		writeError(w, asConflictf(err, "a pending invite for %s already exists", body.Email))
		return
	}
	writeJSON(w, http.StatusCreated, invite)
}

// cancelInvite withdraws a still-pending invite. Unlike respondInvite
// (OIDC-gated, driven by the invitee) this is an admin action on the
// inviting workspace, so it's gated the same way createInvite is.
func (h *handler) cancelInvite(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workspace_id")
	_, ws, err := h.workspaceRole(r, id, store.RoleAdmin)
	if err != nil {
		writeError(w, err)
		return
	}
	inviteID := chi.URLParam(r, "invite_id")
	invite, err := h.store.GetInvite(r.Context(), inviteID)
	if err != nil {
		writeError(w, notFoundOr(err, "invite %s not found", inviteID))
		return
	}
	if invite.OrganizationID != ws.OrganizationID {
		writeError(w, apperr.NotFoundf("invite %s not found", inviteID))
		return
	}
	if invite.Status != store.InvitePending {
		writeError(w, apperr.Conflictf("invite is no longer pending"))
		return
	}
	if err := h.store.SetInviteStatus(r.Context(), inviteID, store.InviteCancelled); err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// respondInvite is OIDC-gated (the invitee usually isn't a member yet, so
// an internal token can't be minted for them before they accept).
func (h *handler) respondInvite(accept bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := h.authOIDC(r)
		if err != nil {
			writeError(w, err)
			return
		}
		inviteID := chi.URLParam(r, "invite_id")
		invite, err := h.store.GetInvite(r.Context(), inviteID)
		if err != nil {
			writeError(w, notFoundOr(err, "invite %s not found", inviteID))
			return
		}
		if invite.Email != claims.Email {
			writeError(w, apperr.Forbidden("invite is not addressed to this identity"))
			return
		}
		if invite.Status != store.InvitePending {
			writeError(w, apperr.Conflictf("invite is no longer pending"))
			return
		}
		if time.Now().UTC().After(invite.ExpiresAt) {
			writeError(w, apperr.Conflictf("invite has expired"))
			return
		}

		if accept {
			user, err := auth.ResolveUser(r.Context(), h.store, claims)
			if err != nil {
				writeError(w, err)
				return
			}
			if err := h.store.AddMember(r.Context(), store.OrganizationMember{
				ID: uuid.NewString(), OrganizationID: invite.OrganizationID, UserID: user.ID, Role: invite.Role,
			}); err != nil {
				writeError(w, apperr.Internal(err))
				return
			}
			if err := h.store.SetInviteStatus(r.Context(), inviteID, store.InviteAccepted); err != nil {
				writeError(w, apperr.Internal(err))
				return
			}
		} else {
			if err := h.store.SetInviteStatus(r.Context(), inviteID, store.InviteDeclined); err != nil {
				writeError(w, apperr.Internal(err))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}

// --- Environments ---

func (h *handler) listEnvironments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workspace_id")
	_, _, err := h.workspaceRole(r, id, store.RoleMember)
	if err != nil {
		writeError(w, err)
		return
	}
	envs, err := h.store.ListEnvironments(r.Context(), id)
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, envs)
}

func (h *handler) createEnvironment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workspace_id")
	_, _, err := h.workspaceRole(r, id, store.RoleAdmin)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Slug               string `json:"slug"`
		Name               string `json:"name"`
		Description        string `json:"description"`
		MaxConcurrentLocks *int   `json:"max_concurrent_locks"`
	}
	if err := decodeJSON(r.Body, &body); err != nil {
		writeError(w, err)
		return
	}
	if !validSlug(body.Slug) {
		writeError(w, apperr.Validationf("slug must match ^[a-z0-9]([a-z0-9-]*[a-z0-9])?$, length 2-64"))
		return
	}
	env, err := h.store.CreateEnvironment(r.Context(), store.Environment{
		ID: uuid.NewString(), WorkspaceID: id, Slug: body.Slug, Name: body.Name,
		Description: body.Description, MaxConcurrentLocks: body.MaxConcurrentLocks,
	})
	if err != nil {
		writeError(w, asConflictf(err, "environment slug %q already taken", body.Slug))
		return
	}
	writeJSON(w, http.StatusCreated, env)
}

// environmentRole authenticates an internal token scoped to the
// environment's parent workspace, enforcing role.
func (h *handler) environmentRole(r *http.Request, workspaceID, environmentID string, required store.Role) (store.Environment, error) {
	_, _, err := h.workspaceRole(r, workspaceID, required)
	if err != nil {
		return store.Environment{}, err
	}
	env, err := h.store.GetEnvironment(r.Context(), environmentID)
	if err != nil {
		return store.Environment{}, notFoundOr(err, "environment %s not found", environmentID)
	}
	if env.WorkspaceID != workspaceID {
		return store.Environment{}, apperr.NotFoundf("environment %s not found in workspace %s", environmentID, workspaceID)
	}
	return env, nil
}

// --- API keys ---

func (h *handler) listApiKeys(w http.ResponseWriter, r *http.Request) {
	wsID, envID := chi.URLParam(r, "workspace_id"), chi.URLParam(r, "environment_id")
	if _, err := h.environmentRole(r, wsID, envID, store.RoleMember); err != nil {
		writeError(w, err)
		return
	}
	keys, err := h.store.ListApiKeys(r.Context(), envID)
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (h *handler) createApiKey(w http.ResponseWriter, r *http.Request) {
	wsID, envID := chi.URLParam(r, "workspace_id"), chi.URLParam(r, "environment_id")
	claims, err := h.environmentRole(r, wsID, envID, store.RoleAdmin)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r.Body, &body); err != nil {
		writeError(w, err)
		return
	}
	plaintext, prefix, hash, err := auth.GenerateApiKey()
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	internalClaims, _ := h.authInternal(r, wsID)
	createdBy := internalClaims.UserID

	key, err := h.store.CreateApiKey(r.Context(), store.ApiKey{
		ID: uuid.NewString(), EnvironmentID: envID, Name: body.Name,
		KeyPrefix: prefix, KeyHash: hash, CreatedBy: createdBy,
	})
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	_ = claims.EnvironmentID
	writeJSON(w, http.StatusCreated, map[string]any{
		"api_key": key,
		"token":   plaintext, // returned exactly once
	})
}

func (h *handler) revokeApiKey(w http.ResponseWriter, r *http.Request) {
	wsID, envID, keyID := chi.URLParam(r, "workspace_id"), chi.URLParam(r, "environment_id"), chi.URLParam(r, "key_id")
	if _, err := h.environmentRole(r, wsID, envID, store.RoleAdmin); err != nil {
		writeError(w, err)
		return
	}
	if err := h.store.RevokeApiKey(r.Context(), keyID, time.Now().UTC()); err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Target roots ---

func (h *handler) listTargetRoots(w http.ResponseWriter, r *http.Request) {
	wsID, envID := chi.URLParam(r, "workspace_id"), chi.URLParam(r, "environment_id")
	if _, err := h.environmentRole(r, wsID, envID, store.RoleMember); err != nil {
		writeError(w, err)
		return
	}
	roots, err := h.store.ListTargetRoots(r.Context(), envID)
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, roots)
}

func (h *handler) upsertTargetRoot(w http.ResponseWriter, r *http.Request) {
	wsID, envID := chi.URLParam(r, "workspace_id"), chi.URLParam(r, "environment_id")
	if _, err := h.environmentRole(r, wsID, envID, store.RoleAdmin); err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Name string `json:"name"`
		URI  string `json:"uri"`
	}
	if err := decodeJSON(r.Body, &body); err != nil {
		writeError(w, err)
		return
	}
	tr, err := h.store.UpsertTargetRoot(r.Context(), store.TargetRoot{
		ID: uuid.NewString(), EnvironmentID: envID, Name: body.Name, URI: body.URI,
	})
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	status := http.StatusCreated
	if r.Method == http.MethodPatch {
		status = http.StatusOK
	}
	writeJSON(w, status, tr)
}

func (h *handler) deleteTargetRoot(w http.ResponseWriter, r *http.Request) {
	wsID, envID := chi.URLParam(r, "workspace_id"), chi.URLParam(r, "environment_id")
	if _, err := h.environmentRole(r, wsID, envID, store.RoleAdmin); err != nil {
		writeError(w, err)
		return
	}
	// Target roots have no dedicated delete in the store surface beyond
	// an empty-URI upsert convention; the registry never deletes a root
	// that outputs may still reference, so this clears its URI instead.
	name := chi.URLParam(r, "name")
	if _, err := h.store.UpsertTargetRoot(r.Context(), store.TargetRoot{
		ID: uuid.NewString(), EnvironmentID: envID, Name: name, URI: "",
	}); err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
