// internal/handler/router.go
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/unclebandit/voicereach-engine/internal/controller"
	"github.com/unclebandit/voicereach-engine/internal/realtime"
)

// Deps is everything the HTTP surface is built from.
type Deps struct {
	Campaigns *controller.CampaignController
	Jobs      *controller.JobsController
	Hub       http.Handler
	Auth      realtime.Authenticator
	Log       zerolog.Logger
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(d.Log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// The hub authenticates its own handshake and holds the connection open.
	r.Get("/ws", d.Hub.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(authenticate(d.Auth))

		// Campaign routes
		r.Post("/campaigns", d.Campaigns.CreateCampaign)
		r.Get("/campaigns", d.Campaigns.ListCampaigns)
		r.Get("/campaigns/{id}", d.Campaigns.GetCampaignDetails)
		r.Post("/campaigns/{id}/contacts", d.Campaigns.AddContacts)
		r.Post("/campaigns/{id}/{action}", d.Campaigns.Control)

		// Job submission
		r.Post("/jobs/analytics", d.Jobs.SubmitAnalytics)
		r.Post("/jobs/audio", d.Jobs.SubmitAudio)
		r.Post("/jobs/audio/batch", d.Jobs.SubmitAudioBatch)

		r.Get("/queues/stats", d.Jobs.QueueStats)
		r.Group(func(r chi.Router) {
			r.Use(requirePrivileged)
			r.Post("/queues/{subsystem}/pause", d.Jobs.PauseQueues)
			r.Post("/queues/{subsystem}/resume", d.Jobs.ResumeQueues)
		})
	})

	return r
}
