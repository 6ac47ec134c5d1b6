package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/technosupport/ts-streamgw/internal/middleware"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Gateway    *GatewayHandler
	Transcode  *TranscodeHandler
	CameraTest *CameraTestHandler
	Sync       *SyncHandler
	Sessions   *SessionHandler
	StreamWS   *StreamWsHandler
	Protocols  *ProtocolHandler
	Health     *HealthHandler

	Auth      *middleware.PlaybackAuth
	RateLimit *middleware.RateLimitMiddleware
}

// NewRouter assembles the route table. Control routes sit behind the
// playback auth; media routes authenticate via token query param
// inside their handlers or the same middleware.
func NewRouter(h Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.CORS)
	if h.RateLimit != nil {
		r.Use(h.RateLimit.GlobalLimiter)
	}

	r.Get("/healthz", h.Health.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/protocols", h.Protocols.List)
		r.Post("/protocols/validate", h.Protocols.Validate)

		// Signaling WS authenticates via its token query param.
		r.Get("/streams/{id}/ws", h.StreamWS.ServeWS)

		r.Group(func(r chi.Router) {
			r.Use(h.Auth.Middleware)

			r.Post("/gateway/proxy", h.Gateway.Proxy)
			r.Get("/gateway/proxy", h.Gateway.ProxyGet)

			r.Get("/transcode", h.Transcode.Serve)
			r.Delete("/transcode", h.Transcode.ResetThrottles)
			r.Get("/transcode/sessions", h.Transcode.Sessions)

			r.Post("/cameras/test", h.CameraTest.Test)
			r.Post("/sync", h.Sync.Sync)

			r.Post("/sessions", h.Sessions.Start)
			r.Delete("/sessions/{id}", h.Sessions.End)
			r.Post("/sessions/events", h.Sessions.Events)
		})
	})

	return r
}
