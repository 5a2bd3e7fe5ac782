// Fleetdeck - Fleet Tracking Relay and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetdeck

package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/fleetdeck/internal/metrics"
	"github.com/tomtom215/fleetdeck/internal/models"
)

// Broadcaster pushes a JSON payload to every connected UI client.
type Broadcaster interface {
	BroadcastJSON(v interface{}) error
}

// FeedMessage is the payload broadcast to UI clients when a notification
// is created. Sound and Desktop tell the client which side effects the
// user's preferences allow.
type FeedMessage struct {
	Type    string              `json:"type"`
	Data    models.Notification `json:"data"`
	Sound   bool                `json:"sound"`
	Desktop bool                `json:"desktop"`
}

// Pipeline decision labels for metrics.
const (
	decisionAccepted      = "accepted"
	decisionStale         = "stale"
	decisionDuplicateID   = "duplicate_id"
	decisionNearDuplicate = "near_duplicate"
	decisionPrefDisabled  = "pref_disabled"
)

// PipelineConfig tunes the notification pipeline.
type PipelineConfig struct {
	DedupWindow  time.Duration // near-duplicate suppression window
	ProcessedCap int           // remembered processed event ids
	Stagger      time.Duration // delay between presenting queued notifications
}

// Pipeline consumes batches of upstream events and turns the eligible
// ones into stored notifications with UI side effects.
//
// Eligibility is decided synchronously in OnNewEvents: the processed-id
// claim, the preference gate, and the near-duplicate check all happen
// without an intervening suspension point, so interleaved batches from
// the poller and the live-update feed cannot double-process an id.
// Accepted notifications are handed to a worker that presents them with
// a fixed stagger between each.
type Pipeline struct {
	store       *Store
	window      *ProcessedWindow
	recency     *recencyIndex
	stagger     time.Duration
	broadcaster Broadcaster
	logger      zerolog.Logger

	watermarkMu sync.Mutex
	watermark   time.Time

	namesMu     sync.RWMutex
	deviceNames map[int64]string

	queue chan models.Notification

	// now is replaceable for tests
	now func() time.Time
}

// NewPipeline creates a pipeline over the given store. The watermark
// starts at the current time: only events reported after startup are
// eligible, which keeps a restart from replaying the whole poll window.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewPipeline(store *Store, broadcaster Broadcaster, cfg PipelineConfig, logger zerolog.Logger) *Pipeline {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 5 * time.Second
	}
	if cfg.Stagger < 0 {
		cfg.Stagger = 0
	}

	return &Pipeline{
		store:       store,
		window:      NewProcessedWindow(cfg.ProcessedCap),
		recency:     newRecencyIndex(cfg.DedupWindow),
		stagger:     cfg.Stagger,
		broadcaster: broadcaster,
		logger:      logger.With().Str("component", "pipeline").Logger(),
		watermark:   time.Now(),
		deviceNames: make(map[int64]string),
		queue:       make(chan models.Notification, 256),
		now:         time.Now,
	}
}

// OnDevices refreshes the device-name cache from a devices frame or a
// device list fetch. Names label notifications; ids alone are a poor UI.
func (p *Pipeline) OnDevices(devices []models.Device) {
	p.namesMu.Lock()
	defer p.namesMu.Unlock()
	for i := range devices {
		p.deviceNames[devices[i].ID] = devices[i].Name
	}
}

// deviceName returns the cached name for a device, or empty.
func (p *Pipeline) deviceName(id int64) string {
	p.namesMu.RLock()
	defer p.namesMu.RUnlock()
	return p.deviceNames[id]
}

// OnNewEvents evaluates a batch of events in stable input order. Every
// eligible event is marked processed immediately, even when the
// preference gate or near-duplicate suppression drops it, so the next
// overlapping batch cannot retry it. The watermark advances once per
// batch, after the whole batch is evaluated; an empty batch still
// advances it, marking the successful check.
func (p *Pipeline) OnNewEvents(events []models.Event) {
	now := p.now()

	p.watermarkMu.Lock()
	watermark := p.watermark
	p.watermarkMu.Unlock()

	for i := range events {
		ev := events[i]

		if ev.ServerTime.Before(watermark) {
			metrics.RecordNotificationDecision(decisionStale)
			continue
		}
		if !p.window.Claim(ev.ID) {
			metrics.RecordNotificationDecision(decisionDuplicateID)
			continue
		}

		cls := Classify(ev.Type)

		prefs, ok := p.store.Preferences()
		if !ok || !prefs.InApp.Enabled || !prefs.EventEnabled(cls.Category) {
			metrics.RecordNotificationDecision(decisionPrefDisabled)
			continue
		}

		key := dupKey{title: cls.Title, deviceID: ev.DeviceID, eventType: ev.Type}
		if p.recency.seenWithin(key, now) {
			metrics.RecordNotificationDecision(decisionNearDuplicate)
			continue
		}
		p.recency.record(key, now)

		name := p.deviceName(ev.DeviceID)
		notification := models.Notification{
			ID:         newNotificationID(now),
			Type:       cls.Type,
			Title:      cls.Title,
			Message:    cls.Message(name, ev.DeviceID),
			Read:       false,
			Timestamp:  now,
			DeviceID:   ev.DeviceID,
			DeviceName: name,
			EventType:  ev.Type,
		}

		metrics.RecordNotificationDecision(decisionAccepted)
		select {
		case p.queue <- notification:
		default:
			p.logger.Warn().Str("title", notification.Title).Msg("Notification queue full, dropping")
		}
	}

	p.watermarkMu.Lock()
	if now.After(p.watermark) {
		p.watermark = now
	}
	p.watermarkMu.Unlock()
}

// Serve presents queued notifications with a fixed stagger between each.
// It implements suture.Service and runs until the context is canceled.
func (p *Pipeline) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-p.queue:
			p.present(n)

			if p.stagger > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(p.stagger):
				}
			}
		}
	}
}

// String implements suture.Service naming.
func (p *Pipeline) String() string {
	return "notification-pipeline"
}

// present stores one notification and raises the UI side effects: the
// feed broadcast plus the sound/desktop flags the client acts on.
func (p *Pipeline) present(n models.Notification) {
	if err := p.store.Insert(n); err != nil {
		p.logger.Error().Err(err).Msg("Failed to persist notification")
		return
	}

	prefs, _ := p.store.Preferences()
	msg := FeedMessage{
		Type:    "notification",
		Data:    n,
		Sound:   prefs.InApp.Sound,
		Desktop: prefs.InApp.Desktop,
	}
	if p.broadcaster != nil {
		if err := p.broadcaster.BroadcastJSON(msg); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to broadcast notification")
		}
	}

	p.logger.Info().
		Str("title", n.Title).
		Int64("device_id", n.DeviceID).
		Str("event_type", n.EventType).
		Msg("Notification created")
}

// newNotificationID builds a time-plus-random id, sortable by creation
// millisecond.
func newNotificationID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}
