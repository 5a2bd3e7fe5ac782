// Fleetdeck - Fleet Tracking Relay and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetdeck

// Package notify turns upstream device events into user-facing alerts.
// It polls for recent events, deduplicates them, applies the user's
// notification preferences, and maintains a bounded durable history.
package notify

import (
	"fmt"

	"github.com/tomtom215/fleetdeck/internal/models"
)

// Classification describes how one upstream event type is presented.
type Classification struct {
	Type     models.NotificationType
	Title    string
	Category string // preference key gating this event type
	Template string // message template; %s is the device name
}

// Preference categories.
const (
	CategoryStatus      = "status"
	CategoryMotion      = "motion"
	CategorySpeedLimit  = "speedLimit"
	CategoryGeofence    = "geofence"
	CategoryAlarm       = "alarm"
	CategoryIgnition    = "ignition"
	CategoryMaintenance = "maintenance"
	CategoryDriver      = "driver"
	CategoryCommand     = "command"
	CategoryOther       = "other"
)

// KnownCategories lists every preference category the classifier can
// emit, in presentation order.
var KnownCategories = []string{
	CategoryStatus,
	CategoryMotion,
	CategorySpeedLimit,
	CategoryGeofence,
	CategoryAlarm,
	CategoryIgnition,
	CategoryMaintenance,
	CategoryDriver,
	CategoryCommand,
	CategoryOther,
}

// classifications maps upstream event types to their presentation. The
// table is static; new upstream event types fall back to a generic
// info-level notification titled with the raw type string.
var classifications = map[string]Classification{
	"deviceOnline": {
		Type:     models.NotificationSuccess,
		Title:    "Device Online",
		Category: CategoryStatus,
		Template: "%s is back online",
	},
	"deviceOffline": {
		Type:     models.NotificationWarning,
		Title:    "Device Offline",
		Category: CategoryStatus,
		Template: "%s went offline",
	},
	"deviceUnknown": {
		Type:     models.NotificationWarning,
		Title:    "Device Status Unknown",
		Category: CategoryStatus,
		Template: "%s stopped reporting",
	},
	"deviceMoving": {
		Type:     models.NotificationInfo,
		Title:    "Device Moving",
		Category: CategoryMotion,
		Template: "%s started moving",
	},
	"deviceStopped": {
		Type:     models.NotificationInfo,
		Title:    "Device Stopped",
		Category: CategoryMotion,
		Template: "%s stopped",
	},
	"deviceOverspeed": {
		Type:     models.NotificationWarning,
		Title:    "Speed Limit Exceeded",
		Category: CategorySpeedLimit,
		Template: "%s exceeded the speed limit",
	},
	"deviceFuelDrop": {
		Type:     models.NotificationWarning,
		Title:    "Fuel Drop",
		Category: CategoryOther,
		Template: "%s reported a sudden fuel drop",
	},
	"geofenceEnter": {
		Type:     models.NotificationInfo,
		Title:    "Geofence Entered",
		Category: CategoryGeofence,
		Template: "%s entered a geofence",
	},
	"geofenceExit": {
		Type:     models.NotificationInfo,
		Title:    "Geofence Exited",
		Category: CategoryGeofence,
		Template: "%s exited a geofence",
	},
	"alarm": {
		Type:     models.NotificationError,
		Title:    "Alarm",
		Category: CategoryAlarm,
		Template: "%s raised an alarm",
	},
	"ignitionOn": {
		Type:     models.NotificationInfo,
		Title:    "Ignition On",
		Category: CategoryIgnition,
		Template: "Ignition turned on for %s",
	},
	"ignitionOff": {
		Type:     models.NotificationInfo,
		Title:    "Ignition Off",
		Category: CategoryIgnition,
		Template: "Ignition turned off for %s",
	},
	"maintenance": {
		Type:     models.NotificationWarning,
		Title:    "Maintenance Due",
		Category: CategoryMaintenance,
		Template: "%s is due for maintenance",
	},
	"driverChanged": {
		Type:     models.NotificationInfo,
		Title:    "Driver Changed",
		Category: CategoryDriver,
		Template: "Driver changed for %s",
	},
	"commandResult": {
		Type:     models.NotificationInfo,
		Title:    "Command Result",
		Category: CategoryCommand,
		Template: "%s returned a command result",
	},
	"textMessage": {
		Type:     models.NotificationInfo,
		Title:    "Text Message",
		Category: CategoryOther,
		Template: "%s sent a text message",
	},
}

// DefaultPreferences returns the preferences presented to a user who has
// never saved any: all channels on, every known category enabled.
func DefaultPreferences(sound bool) models.Preferences {
	events := make(map[string]bool, len(KnownCategories))
	for _, c := range KnownCategories {
		events[c] = true
	}
	return models.Preferences{
		InApp: models.InAppPreferences{
			Enabled: true,
			Sound:   sound,
			Desktop: false,
		},
		Events: events,
	}
}

// Classify returns the presentation for an upstream event type.
func Classify(eventType string) Classification {
	if c, ok := classifications[eventType]; ok {
		return c
	}
	return Classification{
		Type:     models.NotificationInfo,
		Title:    eventType,
		Category: CategoryOther,
		Template: "%s reported an event",
	}
}

// Message renders the classification's message for a device name. An
// empty name falls back to a device-number placeholder.
func (c Classification) Message(deviceName string, deviceID int64) string {
	name := deviceName
	if name == "" {
		name = fmt.Sprintf("Device %d", deviceID)
	}
	return fmt.Sprintf(c.Template, name)
}
