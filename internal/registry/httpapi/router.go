package httpapi

import (
	"github.com/go-chi/chi/v5"

	"github.com/stardag-dev/stardag-registry/internal/app/metrics"
	"github.com/stardag-dev/stardag-registry/internal/registry/store"
)

// newRouter builds the registry's full HTTP surface. Auth gating beyond
// "some credential is present" (wrapWithAuth) happens inside each
// handler, since which credential kind a route accepts and what
// role/scope it requires varies per route.
func newRouter(h *handler) chi.Router {
	r := chi.NewRouter()

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/health", h.health)
		api.Get("/auth/config", h.authConfig)
		api.Post("/auth/exchange", h.authExchange)

		api.Get("/admin/audit", h.adminAudit)

		api.Route("/ui", func(ui chi.Router) {
			ui.Get("/me", h.me)
			ui.Get("/me/invites", h.meInvites)

			ui.Post("/workspaces", h.createWorkspace)
			ui.Route("/workspaces/{workspace_id}", func(ws chi.Router) {
				ws.Get("/", h.getWorkspace)
				ws.Patch("/", h.patchWorkspace)
				ws.Delete("/", h.deleteWorkspace)

				ws.Get("/members", h.listMembers)
				ws.Patch("/members/{user_id}", h.patchMember)
				ws.Delete("/members/{user_id}", h.removeMember)

				ws.Get("/invites", h.listInvites)
				ws.Post("/invites", h.createInvite)
				ws.Delete("/invites/{invite_id}", h.cancelInvite)

				ws.Get("/environments", h.listEnvironments)
				ws.Post("/environments", h.createEnvironment)

				ws.Route("/environments/{environment_id}", func(env chi.Router) {
					env.Get("/api-keys", h.listApiKeys)
					env.Post("/api-keys", h.createApiKey)
					env.Delete("/api-keys/{key_id}", h.revokeApiKey)

					env.Get("/target-roots", h.listTargetRoots)
					env.Post("/target-roots", h.upsertTargetRoot)
					env.Patch("/target-roots", h.upsertTargetRoot)
					env.Delete("/target-roots/{name}", h.deleteTargetRoot)
				})
			})

			ui.Post("/invites/{invite_id}/accept", h.respondInvite(true))
			ui.Post("/invites/{invite_id}/decline", h.respondInvite(false))
		})

		api.Route("/builds", func(b chi.Router) {
			b.Get("/", h.builds)
			b.Post("/", h.builds)

			b.Route("/{build_id}", func(one chi.Router) {
				one.Get("/", h.getBuild)
				one.Post("/complete", h.completeBuild)
				one.Post("/fail", h.failBuild)
				one.Get("/events", h.buildEvents)
				one.Get("/graph", h.buildGraph)

				one.Get("/tasks", h.buildTasks)
				one.Post("/tasks", h.buildTasks)
				one.Route("/tasks/{task_id}", func(t chi.Router) {
					t.Post("/start", h.taskLifecycle(store.EventTaskStarted))
					t.Post("/complete", h.taskLifecycle(store.EventTaskCompleted))
					t.Post("/fail", h.taskLifecycle(store.EventTaskFailed))
					t.Post("/assets", h.uploadAssets)
				})
			})
		})

		api.Route("/tasks", func(t chi.Router) {
			t.Get("/", h.tasks)
			t.Get("/search", h.searchTasks)
			t.Get("/search/keys", h.searchKeys)
			t.Get("/search/values", h.searchValues)
			t.Get("/search/columns", h.searchColumns)
			t.Get("/{task_id}/assets", h.taskAssets)
		})

		api.Route("/locks", func(l chi.Router) {
			l.Get("/", h.listLocks)
			l.Get("/tasks/{task_id}/completion-status", h.lockCompletionStatus)
			l.Route("/{name}", func(one chi.Router) {
				one.Get("/", h.getLock)
				one.Post("/acquire", h.acquireLock)
				one.Post("/renew", h.renewLock)
				one.Post("/release", h.releaseLock)
			})
		})
	})

	return r
}
