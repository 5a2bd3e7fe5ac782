// Fleetdeck - Fleet Tracking Relay and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetdeck

// Package transport maintains the live-update WebSocket connection to
// the upstream tracking server. Inbound frames arrive in several shapes;
// the client normalizes them into a small tagged message set and fans
// them out to subscribers.
package transport

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tomtom215/fleetdeck/internal/models"
)

// Kind tags a normalized live-update message. Exactly one payload field
// of Message is populated for each kind.
type Kind string

// Message kinds.
const (
	KindPositions Kind = "positions"
	KindDevices   Kind = "devices"
	KindEvents    Kind = "events"
)

// Message is a normalized live-update frame.
type Message struct {
	Kind      Kind
	Positions []models.Position
	Devices   []models.Device
	Events    []models.Event
}

// errUnknownFrame marks frames that match none of the known shapes.
// They are logged and dropped, never surfaced to subscribers.
var errUnknownFrame = errors.New("unrecognized frame shape")

// frameEnvelope is the tagged upstream frame shape.
type frameEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Normalize converts a raw upstream frame into a Message. Accepted shapes:
//
//   - {"type":"position","data":{...}} or {"type":"positions","data":[...]}
//     where data may be a single object or a list
//   - {"type":"devices","data":[...]} and {"type":"events","data":[...]}
//   - a bare JSON array whose first element carries a deviceId field,
//     treated as a positions list
func Normalize(frame []byte) (Message, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 {
		return Message{}, fmt.Errorf("%w: empty frame", errUnknownFrame)
	}

	if trimmed[0] == '[' {
		return normalizeBareArray(trimmed)
	}

	var envelope frameEnvelope
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return Message{}, fmt.Errorf("failed to parse frame: %w", err)
	}

	switch envelope.Type {
	case "position", "positions":
		var positions []models.Position
		if err := decodeList(envelope.Data, &positions); err != nil {
			return Message{}, err
		}
		return Message{Kind: KindPositions, Positions: positions}, nil
	case "devices", "device":
		var devices []models.Device
		if err := decodeList(envelope.Data, &devices); err != nil {
			return Message{}, err
		}
		return Message{Kind: KindDevices, Devices: devices}, nil
	case "events", "event":
		var events []models.Event
		if err := decodeList(envelope.Data, &events); err != nil {
			return Message{}, err
		}
		return Message{Kind: KindEvents, Events: events}, nil
	default:
		return Message{}, fmt.Errorf("%w: type %q", errUnknownFrame, envelope.Type)
	}
}

// normalizeBareArray handles frames that arrive as an unlabeled array.
// Only position-like elements are accepted; anything else is dropped.
func normalizeBareArray(frame []byte) (Message, error) {
	var probe []struct {
		DeviceID *int64 `json:"deviceId"`
	}
	if err := json.Unmarshal(frame, &probe); err != nil {
		return Message{}, fmt.Errorf("failed to parse bare array frame: %w", err)
	}
	if len(probe) == 0 {
		return Message{Kind: KindPositions}, nil
	}
	if probe[0].DeviceID == nil {
		return Message{}, fmt.Errorf("%w: bare array without deviceId", errUnknownFrame)
	}

	var positions []models.Position
	if err := json.Unmarshal(frame, &positions); err != nil {
		return Message{}, fmt.Errorf("failed to parse positions: %w", err)
	}
	return Message{Kind: KindPositions, Positions: positions}, nil
}

// decodeList parses a data payload that may be a single object or a list.
func decodeList[T any](data json.RawMessage, out *[]T) error {
	items := models.RawList(data)
	result := make([]T, 0, len(items))
	for _, item := range items {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			return fmt.Errorf("failed to parse element: %w", err)
		}
		result = append(result, v)
	}
	*out = result
	return nil
}
