package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/fleetforge/orchestrator/internal/config"
	"github.com/fleetforge/orchestrator/internal/middleware"
	"github.com/fleetforge/orchestrator/internal/obs"
	"github.com/fleetforge/orchestrator/internal/transport/ws"
)

// MountRoutes builds the full chi router for the request surface
// cataloged against the item/plan/agent/approval operations, the same
// table shape CodeForge's adapter/http.MountRoutes builds for its own
// service set. stream handles the per-item WebSocket subscribe route.
// webhook, if its Secret is set, additionally mounts an HMAC-guarded
// route that lets a pull-request review land back in the fleet
// without a human re-triggering it through the authenticated API.
func MountRoutes(h *Handlers, stream *ws.Streamer, allowedOrigin string, webhook config.Webhook) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(SecurityHeaders)
	r.Use(CORS(allowedOrigin))
	r.Use(obs.HTTPMiddleware("fleetforge"))

	r.Get("/healthz", healthHandler)

	r.Route("/api/v1/items", func(r chi.Router) {
		r.Post("/", h.CreateItem)
		r.Get("/", h.ListItems)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetItem)
			r.Patch("/", h.UpdateItem)
			r.Delete("/", h.DeleteItem)
			r.Post("/retry-setup", h.RetrySetup)
			r.Post("/create-prs", h.CreatePRs)
			r.Post("/review-receive", h.StartReviewReceive)

			r.Get("/plan", h.GetPlan)
			r.Get("/plan/content", h.GetPlanContent)
			r.Put("/plan/content", h.UpdatePlanContent)

			r.Get("/stream", stream.HandleItemStream)

			r.Get("/agents", h.ListAgentsByItem)
			r.Post("/agents", h.StartAgent)

			r.Route("/agents/{agentId}", func(r chi.Router) {
				r.Get("/", h.GetAgent)
				r.Delete("/", h.StopAgent)
				r.Post("/input", h.SendAgentInput)
				r.Get("/output", h.GetAgentOutputBuffer)
				r.Post("/resize", h.ResizeAgent)
			})

			r.Get("/approvals", h.ListPendingApprovals)
			r.Post("/approvals/decide", h.DecideApproval)
			r.Post("/approvals/batch-decide", h.BatchDecideApprovals)
		})
	})

	if webhook.Secret != "" {
		r.With(middleware.WebhookHMAC(webhook.Secret, webhook.Header)).
			Post("/api/v1/webhooks/{id}/review-receive", h.StartReviewReceive)
	}

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
