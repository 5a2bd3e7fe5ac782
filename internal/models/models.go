// Fleetdeck - Fleet Tracking Relay and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetdeck

// Package models defines the data structures shared between the relay,
// transport, and notification layers. Upstream-owned types (Device,
// Position, Event) use the upstream server's camelCase JSON field names
// so payloads pass through without translation.
package models

import (
	"encoding/json"
	"time"
)

// Device is a tracked unit as reported by the upstream server.
// Fleetdeck treats it as read-only.
type Device struct {
	ID         int64                  `json:"id"`
	Name       string                 `json:"name"`
	UniqueID   string                 `json:"uniqueId"`
	Status     string                 `json:"status"` // "online", "offline", "unknown"
	Disabled   bool                   `json:"disabled,omitempty"`
	LastUpdate *time.Time             `json:"lastUpdate,omitempty"`
	PositionID int64                  `json:"positionId,omitempty"`
	GroupID    int64                  `json:"groupId,omitempty"`
	Category   string                 `json:"category,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Position is a single GPS fix as reported by the upstream server.
type Position struct {
	ID         int64                  `json:"id"`
	DeviceID   int64                  `json:"deviceId"`
	Protocol   string                 `json:"protocol,omitempty"`
	ServerTime time.Time              `json:"serverTime"`
	DeviceTime time.Time              `json:"deviceTime"`
	FixTime    time.Time              `json:"fixTime"`
	Valid      bool                   `json:"valid"`
	Latitude   float64                `json:"latitude"`
	Longitude  float64                `json:"longitude"`
	Altitude   float64                `json:"altitude"`
	Speed      float64                `json:"speed"`  // knots, as upstream reports
	Course     float64                `json:"course"` // degrees
	Address    string                 `json:"address,omitempty"`
	Accuracy   float64                `json:"accuracy,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Event is a device event as reported by the upstream server. The id is
// globally unique and used for deduplication; ServerTime orders events
// and drives staleness checks.
type Event struct {
	ID         int64                  `json:"id"`
	Type       string                 `json:"type"`
	DeviceID   int64                  `json:"deviceId"`
	PositionID int64                  `json:"positionId,omitempty"`
	GeofenceID int64                  `json:"geofenceId,omitempty"`
	ServerTime time.Time              `json:"serverTime"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// NotificationType is the severity class of an in-app notification.
type NotificationType string

// Notification severity classes.
const (
	NotificationInfo    NotificationType = "info"
	NotificationWarning NotificationType = "warning"
	NotificationError   NotificationType = "error"
	NotificationSuccess NotificationType = "success"
)

// Notification is a user-facing alert created by the notification
// pipeline. Notifications live in a bounded most-recent-first collection
// and are persisted on every mutation.
type Notification struct {
	ID         string           `json:"id"`
	Type       NotificationType `json:"type"`
	Title      string           `json:"title"`
	Message    string           `json:"message"`
	Read       bool             `json:"read"`
	Timestamp  time.Time        `json:"timestamp"`
	DeviceID   int64            `json:"deviceId,omitempty"`
	DeviceName string           `json:"deviceName,omitempty"`
	EventType  string           `json:"eventType,omitempty"`
}

// InAppPreferences controls delivery channels for notifications.
type InAppPreferences struct {
	Enabled bool `json:"enabled"`
	Sound   bool `json:"sound"`
	Desktop bool `json:"desktop"`
}

// Preferences is the user's notification configuration. Events maps an
// event category (e.g. "speedLimit") to whether alerts for it are wanted.
type Preferences struct {
	InApp  InAppPreferences `json:"inApp"`
	Events map[string]bool  `json:"events"`
}

// EventEnabled reports whether alerts for the given category are wanted.
// A category absent from the map counts as disabled.
func (p Preferences) EventEnabled(category string) bool {
	if p.Events == nil {
		return false
	}
	return p.Events[category]
}

// RawList unwraps a JSON value that may be either a single object or an
// array of objects into a normalized array form.
func RawList(data json.RawMessage) []json.RawMessage {
	trimmed := trimLeadingSpace(data)
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil
		}
		return items
	}
	return []json.RawMessage{data}
}

func trimLeadingSpace(b []byte) []byte {
	for len(b) > 0 {
		switch b[0] {
		case ' ', '\t', '\n', '\r':
			b = b[1:]
		default:
			return b
		}
	}
	return b
}
