// Fleetdeck - Fleet Tracking Relay and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetdeck

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router assembles the HTTP surface: the relay, the control API, the live
// feed, and observability endpoints.
type Router struct {
	handler    *Handler
	feed       *FeedHandler
	middleware *Middleware
}

// NewRouter creates a router from its handlers and middleware factories.
func NewRouter(handler *Handler, feed *FeedHandler, mw *Middleware) *Router {
	if mw == nil {
		mw = NewMiddleware(nil)
	}
	return &Router{
		handler:    handler,
		feed:       feed,
		middleware: mw,
	}
}

// Setup configures all HTTP routes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to all routes in order.
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.middleware.CORS())

	// Health endpoints get permissive rate limiting so monitoring tools
	// can poll frequently.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(router.middleware.RateLimitHealth())
		r.Use(APISecurityHeaders())
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
		r.Get("/upstream", router.handler.HealthUpstream)
		r.Get("/", router.handler.Health)
	})

	// The relay carries all dashboard traffic to the tracking server.
	r.Route("/relay", func(r chi.Router) {
		r.Use(router.middleware.RateLimitRelay())
		r.HandleFunc("/*", router.handler.Relay)
	})

	// Control API.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.middleware.RateLimit())
		r.Use(APISecurityHeaders())
		r.Use(PrometheusMetrics())
		r.Use(chimiddleware.Compress(5))

		r.Post("/poll", router.handler.Poll)

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", router.handler.Notifications)
			r.Post("/read-all", router.handler.NotificationsMarkAllRead)
			r.Delete("/", router.handler.NotificationsDeleteAll)
			r.Post("/{id}/read", router.handler.NotificationMarkRead)
			r.Delete("/{id}", router.handler.NotificationDelete)
		})

		r.Route("/preferences", func(r chi.Router) {
			r.Get("/", router.handler.PreferencesGet)
			r.Put("/", router.handler.PreferencesPut)
		})
	})

	// Live feed upgrade.
	if router.feed != nil {
		r.Route("/api/v1/ws", func(r chi.Router) {
			r.Use(router.middleware.RateLimitWebSocket())
			r.Get("/", router.feed.WebSocket)
		})
	}

	// Observability.
	r.Handle("/metrics", promhttp.Handler())

	return r
}
