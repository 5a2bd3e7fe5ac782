// Fleetdeck - Fleet Tracking Relay and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetdeck

package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/tomtom215/fleetdeck/internal/logging"
	"github.com/tomtom215/fleetdeck/internal/models"
	"github.com/tomtom215/fleetdeck/internal/notify"
	"github.com/tomtom215/fleetdeck/internal/relay"
	"github.com/tomtom215/fleetdeck/internal/transport"
)

// Kicker triggers an immediate event poll.
type Kicker interface {
	Kick()
}

// FeedTransport reports the live transport connection state.
type FeedTransport interface {
	State() transport.State
}

// Handler holds dependencies for all HTTP handlers.
type Handler struct {
	gateway   *relay.Gateway
	store     *notify.Store
	poller    Kicker
	transport FeedTransport
	validate  *validator.Validate

	// defaultSound seeds the sound preference for clients that have
	// never saved preferences.
	defaultSound bool

	startTime time.Time
}

// NewHandler creates a handler with the given dependencies. poller and
// transport may be nil when those services are disabled.
func NewHandler(gateway *relay.Gateway, store *notify.Store, poller Kicker, feed FeedTransport, defaultSound bool) *Handler {
	return &Handler{
		gateway:      gateway,
		store:        store,
		poller:       poller,
		transport:    feed,
		validate:     validator.New(),
		defaultSound: defaultSound,
		startTime:    time.Now(),
	}
}

// responseHopByHop lists headers never copied from upstream responses.
var responseHopByHop = map[string]bool{
	"Connection":        true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
}

// Relay forwards a dashboard request to the tracking server, preserving
// method, headers, body, and the per-client upstream session.
func (h *Handler) Relay(w http.ResponseWriter, r *http.Request) {
	logicalPath := chi.URLParam(r, "*")
	if logicalPath == "" {
		WriteBadRequest(w, r, "Relay path required")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 32<<20))
	if err != nil {
		WriteBadRequest(w, r, "Failed to read request body")
		return
	}

	result, err := h.gateway.Forward(r.Context(), &relay.ForwardRequest{
		Method:   r.Method,
		Path:     "/" + logicalPath,
		Query:    r.URL.RawQuery,
		Header:   r.Header,
		Body:     body,
		Identity: relay.ClientIdentity(r),
	})
	if err != nil {
		if errors.Is(err, relay.ErrUpstreamUnreachable) {
			NewResponseWriter(w, r).ExternalServiceError("tracking-server", err)
			return
		}
		logging.Ctx(r.Context()).Error().Err(err).Str("path", logicalPath).Msg("Relay failed")
		NewResponseWriter(w, r).InternalError("Relay failed")
		return
	}

	for name, values := range result.Header {
		if responseHopByHop[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(result.StatusCode)
	//nolint:errcheck // HTTP response write errors are not recoverable
	w.Write(result.Body)
}

// healthStatus is the payload for the health endpoints.
type healthStatus struct {
	Status    string `json:"status"`
	UptimeSec int64  `json:"uptime_seconds"`
	Transport string `json:"transport,omitempty"`
	Unread    int    `json:"unread_notifications"`
}

// Health reports overall service health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := healthStatus{
		Status:    "ok",
		UptimeSec: int64(time.Since(h.startTime).Seconds()),
		Unread:    h.store.UnreadCount(),
	}
	if h.transport != nil {
		status.Transport = h.transport.State().String()
	}
	WriteSuccess(w, r, status)
}

// HealthLive is the liveness probe.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, map[string]string{"status": "alive"})
}

// HealthReady is the readiness probe. The relay is ready as soon as it can
// accept traffic; upstream reachability is reported separately.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, map[string]string{"status": "ready"})
}

// HealthUpstream probes the tracking server through the relay.
func (h *Handler) HealthUpstream(w http.ResponseWriter, r *http.Request) {
	result, err := h.gateway.Forward(r.Context(), &relay.ForwardRequest{
		Method:   http.MethodGet,
		Path:     "/server",
		Identity: relay.ClientIdentity(r),
	})
	if err != nil {
		NewResponseWriter(w, r).ServiceUnavailable("Tracking server unreachable")
		return
	}
	WriteSuccess(w, r, map[string]interface{}{
		"status":      "ok",
		"status_code": result.StatusCode,
	})
}

// Poll triggers an immediate event poll, used when the dashboard regains
// focus.
func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	if h.poller == nil {
		NewResponseWriter(w, r).ServiceUnavailable("Event polling disabled")
		return
	}
	h.poller.Kick()
	WriteSuccess(w, r, map[string]string{"status": "scheduled"})
}

// Notifications lists stored notifications, most recent first.
func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, h.store.List())
}

// NotificationMarkRead marks a single notification as read.
func (h *Handler) NotificationMarkRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		WriteBadRequest(w, r, "Notification ID required")
		return
	}

	if err := h.store.MarkRead(id); err != nil {
		if errors.Is(err, notify.ErrNotFound) {
			WriteNotFound(w, r, "Notification not found")
			return
		}
		NewResponseWriter(w, r).DatabaseError(err)
		return
	}
	WriteSuccess(w, r, map[string]string{"id": id})
}

// NotificationsMarkAllRead marks every stored notification as read.
func (h *Handler) NotificationsMarkAllRead(w http.ResponseWriter, r *http.Request) {
	if err := h.store.MarkAllRead(); err != nil {
		NewResponseWriter(w, r).DatabaseError(err)
		return
	}
	WriteSuccess(w, r, map[string]string{"status": "ok"})
}

// NotificationDelete removes a single notification.
func (h *Handler) NotificationDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		WriteBadRequest(w, r, "Notification ID required")
		return
	}

	if err := h.store.Delete(id); err != nil {
		if errors.Is(err, notify.ErrNotFound) {
			WriteNotFound(w, r, "Notification not found")
			return
		}
		NewResponseWriter(w, r).DatabaseError(err)
		return
	}
	NewResponseWriter(w, r).NoContent()
}

// NotificationsDeleteAll clears the notification store.
func (h *Handler) NotificationsDeleteAll(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteAll(); err != nil {
		NewResponseWriter(w, r).DatabaseError(err)
		return
	}
	NewResponseWriter(w, r).NoContent()
}

// PreferencesGet returns stored notification preferences, or defaults when
// none have been saved yet.
func (h *Handler) PreferencesGet(w http.ResponseWriter, r *http.Request) {
	prefs, ok := h.store.Preferences()
	if !ok {
		prefs = notify.DefaultPreferences(h.defaultSound)
	}
	WriteSuccess(w, r, prefs)
}

// preferencesRequest is the validated PUT /preferences payload.
type preferencesRequest struct {
	InApp  models.InAppPreferences `json:"inApp"`
	Events map[string]bool         `json:"events" validate:"required"`
}

// PreferencesPut replaces stored notification preferences.
func (h *Handler) PreferencesPut(w http.ResponseWriter, r *http.Request) {
	var req preferencesRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		WriteBadRequest(w, r, "Invalid JSON body")
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			NewResponseWriter(w, r).ValidationError("Invalid preferences", strings.Join(fields, ", "))
			return
		}
		WriteBadRequest(w, r, "Invalid preferences")
		return
	}

	prefs := models.Preferences{
		InApp:  req.InApp,
		Events: req.Events,
	}
	if err := h.store.SavePreferences(prefs); err != nil {
		NewResponseWriter(w, r).DatabaseError(err)
		return
	}
	WriteSuccess(w, r, prefs)
}
