// Fleetdeck - Fleet Tracking Relay and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetdeck

package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/fleetdeck/internal/metrics"
	"github.com/tomtom215/fleetdeck/internal/models"
)

// EventSource fetches events for a time window. Implemented by
// EventsClient; tests provide stubs.
type EventSource interface {
	FetchWindow(ctx context.Context, from, to time.Time) ([]models.Event, error)
}

// EventSink consumes fetched event batches. Implemented by Pipeline.
type EventSink interface {
	OnNewEvents(events []models.Event)
}

// Poller asks the upstream for events on a fixed interval, each tick
// covering a trailing window ending now. A failed tick degrades to an
// empty batch; the ticker keeps running. Kick forces an immediate poll,
// used when the dashboard regains focus. Overlapping polls are
// acceptable: ticks are read-only and the pipeline deduplicates.
type Poller struct {
	source   EventSource
	sink     EventSink
	interval time.Duration
	window   time.Duration
	kick     chan struct{}
	logger   zerolog.Logger
}

// NewPoller creates a poller feeding the given sink.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewPoller(source EventSource, sink EventSink, interval, window time.Duration, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Poller{
		source:   source,
		sink:     sink,
		interval: interval,
		window:   window,
		kick:     make(chan struct{}, 1),
		logger:   logger.With().Str("component", "poller").Logger(),
	}
}

// Kick requests an immediate poll outside the regular interval. Multiple
// kicks before the poller gets to run coalesce into one.
func (p *Poller) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Serve runs the poll loop until the context is canceled. It implements
// suture.Service. The first poll fires immediately.
func (p *Poller) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.poll(ctx)
		case <-p.kick:
			p.poll(ctx)
		}
	}
}

// String implements suture.Service naming.
func (p *Poller) String() string {
	return "event-poller"
}

// poll fetches one trailing window and hands the batch to the sink.
func (p *Poller) poll(ctx context.Context) {
	to := time.Now()
	from := to.Add(-p.window)

	events, err := p.source.FetchWindow(ctx, from, to)
	if err != nil {
		metrics.RecordPoll(err, 0)
		p.logger.Warn().Err(err).Msg("Event poll failed, skipping tick")
		return
	}

	metrics.RecordPoll(nil, len(events))
	if len(events) > 0 {
		p.logger.Debug().Int("events", len(events)).Msg("Event poll returned events")
	}
	p.sink.OnNewEvents(events)
}
