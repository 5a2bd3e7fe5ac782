// Fleetdeck - Fleet Tracking Relay and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetdeck

package api

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/fleetdeck/internal/hub"
	"github.com/tomtom215/fleetdeck/internal/logging"
)

var feedUpgrader = websocket.Upgrader{
	ReadBufferSize:    4096,
	WriteBufferSize:   4096,
	EnableCompression: true,
	// The dashboard is served from arbitrary origins behind reverse
	// proxies; CORS is enforced at the router level.
	CheckOrigin: func(*http.Request) bool { return true },
}

// FeedHandler upgrades dashboard connections into the live feed hub.
type FeedHandler struct {
	hub *hub.Hub
}

// NewFeedHandler creates the feed upgrade handler.
func NewFeedHandler(h *hub.Hub) *FeedHandler {
	return &FeedHandler{hub: h}
}

// WebSocket upgrades the connection and registers it with the hub.
func (fh *FeedHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := feedUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Feed upgrade failed")
		return
	}

	client := hub.NewClient(fh.hub, conn)
	fh.hub.Register <- client
	client.Start()
}
