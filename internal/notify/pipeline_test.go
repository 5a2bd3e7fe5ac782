// Fleetdeck - Fleet Tracking Relay and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetdeck

package notify

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/fleetdeck/internal/logging"
	"github.com/tomtom215/fleetdeck/internal/models"
)

// captureBroadcaster records broadcast payloads.
type captureBroadcaster struct {
	mu       sync.Mutex
	messages []interface{}
}

func (b *captureBroadcaster) BroadcastJSON(v interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, v)
	return nil
}

func (b *captureBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

// newTestPipeline builds a pipeline with enabled preferences, a
// controllable clock, and no stagger.
func newTestPipeline(t *testing.T) (*Pipeline, *Store, *captureBroadcaster) {
	t.Helper()

	store := newTestStore(t, openTestDB(t), 50)
	if err := store.SavePreferences(DefaultPreferences(true)); err != nil {
		t.Fatalf("SavePreferences failed: %v", err)
	}

	b := &captureBroadcaster{}
	p := NewPipeline(store, b, PipelineConfig{
		DedupWindow:  5 * time.Second,
		ProcessedCap: 200,
		Stagger:      0,
	}, logging.NewTestLogger(io.Discard))

	return p, store, b
}

// drain presents everything currently queued, bypassing the staggered
// worker so tests stay deterministic.
func drain(p *Pipeline) {
	for {
		select {
		case n := <-p.queue:
			p.present(n)
		default:
			return
		}
	}
}

func testEvent(id int64, eventType string, deviceID int64, at time.Time) models.Event {
	return models.Event{
		ID:         id,
		Type:       eventType,
		DeviceID:   deviceID,
		ServerTime: at,
	}
}

func TestPipelineCreatesNotification(t *testing.T) {
	p, store, b := newTestPipeline(t)
	base := time.Now().Add(time.Minute)
	p.now = func() time.Time { return base }

	p.OnDevices([]models.Device{{ID: 7, Name: "Truck 7"}})
	p.OnNewEvents([]models.Event{testEvent(1, "deviceOverspeed", 7, base)})
	drain(p)

	items := store.List()
	if len(items) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(items))
	}
	n := items[0]
	if n.Type != models.NotificationWarning {
		t.Errorf("expected warning type, got %s", n.Type)
	}
	if n.Title != "Speed Limit Exceeded" {
		t.Errorf("unexpected title: %s", n.Title)
	}
	if n.Message != "Truck 7 exceeded the speed limit" {
		t.Errorf("unexpected message: %s", n.Message)
	}
	if n.Read {
		t.Error("expected new notification unread")
	}
	if n.DeviceName != "Truck 7" || n.EventType != "deviceOverspeed" {
		t.Errorf("unexpected device fields: %+v", n)
	}
	if b.count() != 1 {
		t.Errorf("expected 1 broadcast, got %d", b.count())
	}
}

func TestPipelineDuplicateIDSuppressed(t *testing.T) {
	// The same event id arriving in two overlapping batches produces
	// exactly one notification.
	p, store, _ := newTestPipeline(t)
	base := time.Now().Add(time.Minute)
	p.now = func() time.Time { return base }

	ev := testEvent(42, "deviceOnline", 1, base)
	p.OnNewEvents([]models.Event{ev})
	p.OnNewEvents([]models.Event{ev})
	drain(p)

	if got := len(store.List()); got != 1 {
		t.Errorf("expected 1 notification for duplicate id, got %d", got)
	}
}

func TestPipelineNearDuplicateWindow(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	base := time.Now().Add(time.Minute)
	now := base
	p.now = func() time.Time { return now }

	// Two distinct ids, same device and type, 3 seconds apart: only one
	// notification.
	p.OnNewEvents([]models.Event{testEvent(1, "deviceOverspeed", 7, base)})
	now = base.Add(3 * time.Second)
	p.OnNewEvents([]models.Event{testEvent(2, "deviceOverspeed", 7, now)})
	drain(p)

	if got := len(store.List()); got != 1 {
		t.Fatalf("expected near-duplicate suppressed, got %d notifications", got)
	}

	// A third event 6 seconds after the second is outside the window.
	now = now.Add(6 * time.Second)
	p.OnNewEvents([]models.Event{testEvent(3, "deviceOverspeed", 7, now)})
	drain(p)

	if got := len(store.List()); got != 2 {
		t.Errorf("expected second notification outside dedup window, got %d", got)
	}
}

func TestPipelineNearDuplicateDistinctDevices(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	base := time.Now().Add(time.Minute)
	p.now = func() time.Time { return base }

	p.OnNewEvents([]models.Event{
		testEvent(1, "deviceOverspeed", 7, base),
		testEvent(2, "deviceOverspeed", 8, base),
	})
	drain(p)

	if got := len(store.List()); got != 2 {
		t.Errorf("expected separate notifications per device, got %d", got)
	}
}

func TestPipelinePreferenceGate(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	base := time.Now().Add(time.Minute)
	p.now = func() time.Time { return base }

	prefs := DefaultPreferences(true)
	prefs.Events[CategorySpeedLimit] = false
	if err := store.SavePreferences(prefs); err != nil {
		t.Fatalf("SavePreferences failed: %v", err)
	}

	p.OnNewEvents([]models.Event{testEvent(1, "deviceOverspeed", 7, base)})
	drain(p)

	if got := len(store.List()); got != 0 {
		t.Errorf("expected no notification with speedLimit disabled, got %d", got)
	}
	// Still marked processed: the next tick must not retry it.
	if !p.window.Contains(1) {
		t.Error("expected gated event id to remain in the processed window")
	}

	p.OnNewEvents([]models.Event{testEvent(1, "deviceOverspeed", 7, base)})
	drain(p)
	if got := len(store.List()); got != 0 {
		t.Errorf("expected gated event not reprocessed, got %d", got)
	}
}

func TestPipelineGlobalDisable(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	base := time.Now().Add(time.Minute)
	p.now = func() time.Time { return base }

	prefs := DefaultPreferences(true)
	prefs.InApp.Enabled = false
	if err := store.SavePreferences(prefs); err != nil {
		t.Fatalf("SavePreferences failed: %v", err)
	}

	p.OnNewEvents([]models.Event{testEvent(1, "deviceOnline", 7, base)})
	drain(p)

	if got := len(store.List()); got != 0 {
		t.Errorf("expected no notification with in-app disabled, got %d", got)
	}
}

func TestPipelineAbsentPreferencesSuppress(t *testing.T) {
	store := newTestStore(t, openTestDB(t), 50)
	p := NewPipeline(store, &captureBroadcaster{}, PipelineConfig{
		DedupWindow:  5 * time.Second,
		ProcessedCap: 200,
	}, logging.NewTestLogger(io.Discard))

	base := time.Now().Add(time.Minute)
	p.now = func() time.Time { return base }

	p.OnNewEvents([]models.Event{testEvent(1, "deviceOnline", 7, base)})
	drain(p)

	if got := len(store.List()); got != 0 {
		t.Errorf("expected suppression without saved preferences, got %d", got)
	}
}

func TestPipelineStaleEventsSkipped(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	base := time.Now().Add(time.Minute)
	p.now = func() time.Time { return base }

	// ServerTime well before the watermark (pipeline creation time).
	old := time.Now().Add(-time.Hour)
	p.OnNewEvents([]models.Event{testEvent(1, "deviceOnline", 7, old)})
	drain(p)

	if got := len(store.List()); got != 0 {
		t.Errorf("expected stale event skipped, got %d notifications", got)
	}
}

func TestPipelineEmptyBatchAdvancesWatermark(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	base := time.Now().Add(time.Minute)
	now := base
	p.now = func() time.Time { return now }

	// A quiet check with no events still marks the batch boundary.
	p.OnNewEvents(nil)

	// An event predating that check arrives in a later batch.
	now = base.Add(10 * time.Second)
	p.OnNewEvents([]models.Event{testEvent(1, "deviceOnline", 7, base.Add(-time.Second))})
	drain(p)

	if got := len(store.List()); got != 0 {
		t.Errorf("expected event older than the last check skipped, got %d notifications", got)
	}
}

func TestPipelineUnknownTypeFallback(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	base := time.Now().Add(time.Minute)
	p.now = func() time.Time { return base }

	p.OnNewEvents([]models.Event{testEvent(1, "somethingNovel", 7, base)})
	drain(p)

	items := store.List()
	if len(items) != 1 {
		t.Fatalf("expected fallback notification, got %d", len(items))
	}
	if items[0].Type != models.NotificationInfo {
		t.Errorf("expected info type for unknown event, got %s", items[0].Type)
	}
	if items[0].Title != "somethingNovel" {
		t.Errorf("expected raw type as title, got %s", items[0].Title)
	}
}

func TestProcessedWindowFIFOTrim(t *testing.T) {
	t.Parallel()

	w := NewProcessedWindow(3)
	for id := int64(1); id <= 4; id++ {
		if !w.Claim(id) {
			t.Fatalf("expected fresh id %d to be claimable", id)
		}
	}

	if w.Len() != 3 {
		t.Errorf("expected window trimmed to 3, got %d", w.Len())
	}
	if w.Contains(1) {
		t.Error("expected oldest id trimmed")
	}
	// A trimmed id can be claimed again; the cap trades that off for
	// bounded memory.
	if !w.Claim(1) {
		t.Error("expected trimmed id to be claimable again")
	}
	if w.Claim(4) {
		t.Error("expected remembered id to be rejected")
	}
}

func TestClassifyKnownAndUnknown(t *testing.T) {
	t.Parallel()

	c := Classify("deviceOverspeed")
	if c.Category != CategorySpeedLimit || c.Type != models.NotificationWarning {
		t.Errorf("unexpected classification: %+v", c)
	}

	u := Classify("brandNew")
	if u.Title != "brandNew" || u.Type != models.NotificationInfo || u.Category != CategoryOther {
		t.Errorf("unexpected fallback classification: %+v", u)
	}

	if got := c.Message("", 9); got != "Device 9 exceeded the speed limit" {
		t.Errorf("unexpected placeholder message: %s", got)
	}
}
