// Fleetdeck - Fleet Tracking Relay and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetdeck

package notify

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/fleetdeck/internal/metrics"
	"github.com/tomtom215/fleetdeck/internal/models"
)

// Badger keys for the durable views.
const (
	notificationsKey = "notifications"
	preferencesKey   = "preferences"
)

// ErrNotFound is returned when a notification id does not exist.
var ErrNotFound = errors.New("notification not found")

// Store holds the bounded notification history and the user's
// notification preferences. The history is most-recent-first with a
// fixed capacity; inserting beyond capacity evicts the oldest entry.
//
// Every mutation rewrites the full persisted collection, keeping the
// in-memory and durable views consistent. There is no partial or
// append-style persistence.
type Store struct {
	db     *badger.DB
	logger zerolog.Logger

	mu       sync.RWMutex
	items    []models.Notification
	capacity int

	prefs    models.Preferences
	hasPrefs bool
}

// NewStore opens the store over an existing Badger database, loading any
// persisted notifications and preferences. Unparseable persisted
// preferences are treated as absent rather than an error.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewStore(db *badger.DB, capacity int, logger zerolog.Logger) (*Store, error) {
	if capacity <= 0 {
		capacity = 50
	}

	s := &Store{
		db:       db,
		logger:   logger.With().Str("component", "notify_store").Logger(),
		capacity: capacity,
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	s.updateGauges()
	return s, nil
}

// load reads the persisted views into memory.
func (s *Store) load() error {
	return s.db.View(func(txn *badger.Txn) error {
		if err := s.loadNotifications(txn); err != nil {
			return err
		}
		s.loadPreferences(txn)
		return nil
	})
}

func (s *Store) loadNotifications(txn *badger.Txn) error {
	item, err := txn.Get([]byte(notificationsKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get notifications: %w", err)
	}

	return item.Value(func(val []byte) error {
		var items []models.Notification
		if err := json.Unmarshal(val, &items); err != nil {
			// Corrupt history is discarded rather than blocking startup.
			s.logger.Warn().Err(err).Msg("Discarding unparseable notification history")
			return nil
		}
		if len(items) > s.capacity {
			items = items[:s.capacity]
		}
		s.items = items
		return nil
	})
}

// loadPreferences treats missing or corrupt persisted preferences as
// absent; the pipeline suppresses notifications until the user re-saves.
func (s *Store) loadPreferences(txn *badger.Txn) {
	item, err := txn.Get([]byte(preferencesKey))
	if err != nil {
		return
	}

	_ = item.Value(func(val []byte) error {
		var prefs models.Preferences
		if err := json.Unmarshal(val, &prefs); err != nil {
			s.logger.Warn().Err(err).Msg("Persisted preferences unparseable, treating as absent")
			return nil
		}
		s.prefs = prefs
		s.hasPrefs = true
		return nil
	})
}

// Insert adds a notification at the front of the collection, evicting
// the oldest entries beyond capacity, and persists the result.
func (s *Store) Insert(n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = append([]models.Notification{n}, s.items...)
	if len(s.items) > s.capacity {
		s.items = s.items[:s.capacity]
	}

	if err := s.persistLocked(); err != nil {
		return err
	}
	s.updateGaugesLocked()
	return nil
}

// List returns the notifications most-recent-first.
func (s *Store) List() []models.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Notification, len(s.items))
	copy(out, s.items)
	return out
}

// UnreadCount returns the number of unread notifications.
func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unreadLocked()
}

func (s *Store) unreadLocked() int {
	count := 0
	for i := range s.items {
		if !s.items[i].Read {
			count++
		}
	}
	return count
}

// MarkRead marks one notification as read.
func (s *Store) MarkRead(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].ID == id {
			if s.items[i].Read {
				return nil
			}
			s.items[i].Read = true
			if err := s.persistLocked(); err != nil {
				return err
			}
			s.updateGaugesLocked()
			return nil
		}
	}
	return ErrNotFound
}

// MarkAllRead marks every notification as read.
func (s *Store) MarkAllRead() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for i := range s.items {
		if !s.items[i].Read {
			s.items[i].Read = true
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if err := s.persistLocked(); err != nil {
		return err
	}
	s.updateGaugesLocked()
	return nil
}

// Delete removes one notification.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			if err := s.persistLocked(); err != nil {
				return err
			}
			s.updateGaugesLocked()
			return nil
		}
	}
	return ErrNotFound
}

// DeleteAll clears the notification history.
func (s *Store) DeleteAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) == 0 {
		return nil
	}
	s.items = nil
	if err := s.persistLocked(); err != nil {
		return err
	}
	s.updateGaugesLocked()
	return nil
}

// Preferences returns the stored preferences. ok is false when no valid
// preferences were ever saved; callers must treat that as "suppress".
func (s *Store) Preferences() (prefs models.Preferences, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs, s.hasPrefs
}

// SavePreferences persists new preferences and makes them current.
func (s *Store) SavePreferences(prefs models.Preferences) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(preferencesKey), data)
	})
	if err != nil {
		return fmt.Errorf("persist preferences: %w", err)
	}

	s.prefs = prefs
	s.hasPrefs = true
	return nil
}

// persistLocked rewrites the full notification collection. Caller must
// hold mu.
func (s *Store) persistLocked() error {
	data, err := json.Marshal(s.items)
	if err != nil {
		return fmt.Errorf("marshal notifications: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(notificationsKey), data)
	})
	if err != nil {
		return fmt.Errorf("persist notifications: %w", err)
	}
	return nil
}

func (s *Store) updateGauges() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.updateGaugesLocked()
}

func (s *Store) updateGaugesLocked() {
	metrics.NotificationsStored.Set(float64(len(s.items)))
	metrics.NotificationsUnread.Set(float64(s.unreadLocked()))
}
