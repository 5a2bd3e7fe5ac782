// Fleetdeck - Fleet Tracking Relay and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetdeck

// Package main is the entry point for the Fleetdeck server.
//
// Fleetdeck sits between a browser dashboard and a Traccar-compatible
// GPS tracking server. It relays API traffic with per-client session
// handling, maintains a live WebSocket feed of positions and devices,
// polls for device events, and turns them into persistent, deduplicated
// in-app notifications.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2 layered loading (defaults, config.yaml, env)
//  2. Storage: BadgerDB for notifications and preferences
//  3. Relay gateway: per-client upstream sessions and path negotiation
//  4. Feed hub: WebSocket fan-out to dashboard clients
//  5. Notification pipeline, event poller, upstream transport client
//  6. HTTP server: Chi router with relay, control API, and metrics
//
// All long-lived components run under a suture supervision tree; a crash
// in the alerting layer does not take down the relay.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables, config file, built-in defaults.
//
//	export UPSTREAM_URL=http://localhost:8082
//	export HTTP_PORT=8920
//	./fleetdeck
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM: it stops
// accepting connections, drains in-flight requests, disconnects the
// upstream transport, and closes the database.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/fleetdeck/internal/api"
	"github.com/tomtom215/fleetdeck/internal/config"
	"github.com/tomtom215/fleetdeck/internal/hub"
	"github.com/tomtom215/fleetdeck/internal/logging"
	"github.com/tomtom215/fleetdeck/internal/notify"
	"github.com/tomtom215/fleetdeck/internal/relay"
	"github.com/tomtom215/fleetdeck/internal/supervisor"
	"github.com/tomtom215/fleetdeck/internal/supervisor/services"
	"github.com/tomtom215/fleetdeck/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("upstream_url", cfg.Upstream.URL).
		Str("db_path", cfg.Database.Path).
		Bool("transport_enabled", cfg.Transport.Enabled).
		Bool("poller_enabled", cfg.Poller.Enabled).
		Msg("Starting Fleetdeck")

	// Storage for notifications and preferences.
	dbOpts := badger.DefaultOptions(cfg.Database.Path).WithLogger(nil)
	if cfg.Database.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	store, err := notify.NewStore(db, cfg.Notifications.Capacity, logging.Logger())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize notification store")
	}

	// Relay gateway to the tracking server.
	gateway := relay.NewGateway(relay.Options{
		BaseURL:     cfg.Upstream.URL,
		PrefixFirst: cfg.Relay.PrefixFirst,
		Timeout:     cfg.Upstream.Timeout,
		Token:       cfg.Upstream.Token,
	}, logging.Logger())

	// Feed hub for dashboard clients.
	wsHub := hub.NewHub()

	// Notification pipeline fed by both the poller and the live feed.
	pipeline := notify.NewPipeline(store, wsHub, notify.PipelineConfig{
		DedupWindow:  cfg.Notifications.DedupWindow,
		ProcessedCap: cfg.Notifications.ProcessedCap,
		Stagger:      cfg.Notifications.Stagger,
	}, logging.Logger())

	var poller *notify.Poller
	if cfg.Poller.Enabled {
		eventsClient := notify.NewEventsClient(gateway, logging.Logger())
		poller = notify.NewPoller(eventsClient, pipeline, cfg.Poller.Interval, cfg.Poller.Window, logging.Logger())
		// A dashboard regaining focus forces an immediate catch-up poll.
		wsHub.SetFocusHandler(poller.Kick)
	}

	// Upstream live-update transport. Frames feed the dashboard hub and
	// the notification pipeline.
	var feedClient *transport.Client
	if cfg.Transport.Enabled {
		feedClient = transport.NewClient(transport.Options{
			BaseURL:           cfg.Upstream.URL,
			ReconnectInterval: cfg.Transport.ReconnectInterval,
			HandshakeTimeout:  cfg.Transport.HandshakeTimeout,
			HeaderFunc: func() http.Header {
				h := http.Header{}
				if cookie, ok := gateway.Jar().Get(notify.ServiceIdentity); ok {
					h.Set("Cookie", cookie)
				} else if cfg.Upstream.Token != "" {
					h.Set("Authorization", "Bearer "+cfg.Upstream.Token)
				}
				return h
			},
		}, logging.Logger())

		feedClient.Subscribe(func(msg transport.Message) {
			switch msg.Kind {
			case transport.KindPositions:
				//nolint:errcheck // dropped frames are reported by the hub
				wsHub.Broadcast(hub.MessageTypePositions, msg.Positions)
			case transport.KindDevices:
				pipeline.OnDevices(msg.Devices)
				//nolint:errcheck // dropped frames are reported by the hub
				wsHub.Broadcast(hub.MessageTypeDevices, msg.Devices)
			case transport.KindEvents:
				pipeline.OnNewEvents(msg.Events)
				//nolint:errcheck // dropped frames are reported by the hub
				wsHub.Broadcast(hub.MessageTypeEvents, msg.Events)
			}
		})
	}

	// HTTP surface.
	var kicker api.Kicker
	if poller != nil {
		kicker = poller
	}
	var feedState api.FeedTransport
	if feedClient != nil {
		feedState = feedClient
	}

	handler := api.NewHandler(gateway, store, kicker, feedState, cfg.Notifications.SoundEnabled)
	feedHandler := api.NewFeedHandler(wsHub)
	mw := api.NewMiddleware(&api.MiddlewareConfig{
		CORSAllowedOrigins: cfg.Security.CORSOrigins,
		CORSAllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		CORSAllowedHeaders: []string{"Content-Type", "Authorization"},
		CORSMaxAge:         86400,
		RateLimitRequests:  cfg.Security.RateLimitReqs,
		RateLimitWindow:    cfg.Security.RateLimitWindow,
		RateLimitDisabled:  cfg.Security.RateLimitDisabled,
	})
	router := api.NewRouter(handler, feedHandler, mw)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Supervision tree.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	tree.AddFeedService(wsHub)
	if feedClient != nil {
		tree.AddFeedService(services.NewTransportService(feedClient))
	}
	tree.AddAlertingService(pipeline)
	if poller != nil {
		tree.AddAlertingService(poller)
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", server.Addr).Msg("Fleetdeck listening")

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("Supervisor tree exited")
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop within timeout")
		}
	}

	logging.Info().Msg("Fleetdeck stopped")
}
