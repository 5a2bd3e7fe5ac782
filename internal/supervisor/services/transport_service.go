// Fleetdeck - Fleet Tracking Relay and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetdeck

package services

import (
	"context"

	"github.com/tomtom215/fleetdeck/internal/logging"
)

// FeedClient matches the upstream transport client's lifecycle methods.
type FeedClient interface {
	Connect(ctx context.Context) error
	Disconnect()
}

// TransportService runs the upstream WebSocket client under supervision.
// The client reconnects on its own; a failed initial dial is logged and
// left to the client's reconnect timer rather than crash-looping the
// service.
type TransportService struct {
	client FeedClient
}

// NewTransportService creates the transport service wrapper.
func NewTransportService(client FeedClient) *TransportService {
	return &TransportService{client: client}
}

// Serve implements suture.Service.
func (s *TransportService) Serve(ctx context.Context) error {
	if err := s.client.Connect(ctx); err != nil {
		logging.Warn().Err(err).Msg("Initial upstream connect failed, reconnect scheduled")
	}

	<-ctx.Done()
	s.client.Disconnect()
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logging.
func (s *TransportService) String() string {
	return "upstream-transport"
}
