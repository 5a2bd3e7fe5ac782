// Fleetdeck - Fleet Tracking Relay and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetdeck

package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/fleetdeck/internal/metrics"
	"github.com/tomtom215/fleetdeck/internal/models"
	"github.com/tomtom215/fleetdeck/internal/relay"
)

// ServiceIdentity is the cookie-jar identity Fleetdeck's own upstream
// calls share with the relay: the event poller and the live-update
// transport reuse whatever session was established under it, or the
// configured token when none exists.
const ServiceIdentity = "fleetdeck-poller"

// EventsClient fetches recent device events through the relay gateway.
// A circuit breaker sits in front so a flapping upstream does not get
// hammered every poll tick.
type EventsClient struct {
	gateway  *relay.Gateway
	cb       *gobreaker.CircuitBreaker[[]models.Event]
	identity string
	logger   zerolog.Logger
}

// NewEventsClient creates an events client over an existing gateway.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewEventsClient(gateway *relay.Gateway, logger zerolog.Logger) *EventsClient {
	log := logger.With().Str("component", "events_client").Logger()
	cbName := "upstream-events"

	metrics.SetBreakerState(cbName, 0)

	cb := gobreaker.NewCircuitBreaker[[]models.Event](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Events circuit breaker state change")
			metrics.SetBreakerState(name, breakerStateValue(to))
		},
	})

	return &EventsClient{
		gateway:  gateway,
		cb:       cb,
		identity: ServiceIdentity,
		logger:   log,
	}
}

// FetchWindow returns all events the upstream reported in [from, to].
func (c *EventsClient) FetchWindow(ctx context.Context, from, to time.Time) ([]models.Event, error) {
	return c.cb.Execute(func() ([]models.Event, error) {
		query := url.Values{}
		query.Set("from", from.UTC().Format(time.RFC3339))
		query.Set("to", to.UTC().Format(time.RFC3339))

		header := http.Header{}
		header.Set("Accept", "application/json")

		result, err := c.gateway.Forward(ctx, &relay.ForwardRequest{
			Method:   http.MethodGet,
			Path:     "/reports/events",
			Query:    query.Encode(),
			Header:   header,
			Identity: c.identity,
		})
		if err != nil {
			return nil, err
		}
		if result.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("upstream events request returned %d", result.StatusCode)
		}

		var events []models.Event
		if err := json.Unmarshal(result.Body, &events); err != nil {
			return nil, fmt.Errorf("failed to parse events response: %w", err)
		}
		return events, nil
	})
}

func breakerStateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
