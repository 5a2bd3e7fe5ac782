// Fleetdeck - Fleet Tracking Relay and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetdeck

package hub

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/fleetdeck/internal/logging"
)

func init() {
	logging.SetLogger(logging.NewTestLogger(io.Discard))
}

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// startFeedServer runs a hub and an HTTP endpoint that upgrades and
// registers each connection.
func startFeedServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()

	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.Run(ctx) }()
	t.Cleanup(cancel)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(h, conn)
		h.Register <- client
		client.Start()
	}))
	t.Cleanup(srv.Close)

	return h, srv
}

func dialFeed(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForClients(t *testing.T, h *Hub, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.ClientCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client count = %d, want %d", h.ClientCount(), want)
}

func TestHubRegisterUnregister(t *testing.T) {
	h, srv := startFeedServer(t)

	conn := dialFeed(t, srv)
	waitForClients(t, h, 1)

	_ = conn.Close()
	waitForClients(t, h, 0)
}

func TestHubBroadcastDelivered(t *testing.T) {
	h, srv := startFeedServer(t)

	conn := dialFeed(t, srv)
	waitForClients(t, h, 1)

	if err := h.Broadcast(MessageTypeDevices, []map[string]interface{}{{"id": 1, "name": "Truck 1"}}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != MessageTypeDevices {
		t.Errorf("type = %q, want %q", msg.Type, MessageTypeDevices)
	}
}

func TestHubBroadcastMultipleClients(t *testing.T) {
	h, srv := startFeedServer(t)

	first := dialFeed(t, srv)
	second := dialFeed(t, srv)
	waitForClients(t, h, 2)

	if err := h.BroadcastJSON(Message{Type: MessageTypePositions}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	for _, conn := range []*websocket.Conn{first, second} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Type != MessageTypePositions {
			t.Errorf("type = %q, want %q", msg.Type, MessageTypePositions)
		}
	}
}

func TestHubPingPong(t *testing.T) {
	h, srv := startFeedServer(t)

	conn := dialFeed(t, srv)
	waitForClients(t, h, 1)

	if err := conn.WriteJSON(Message{Type: MessageTypePing}); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != MessageTypePong {
		t.Errorf("type = %q, want %q", msg.Type, MessageTypePong)
	}
}

func TestHubFocusHandler(t *testing.T) {
	h, srv := startFeedServer(t)

	focused := make(chan struct{}, 1)
	h.SetFocusHandler(func() {
		select {
		case focused <- struct{}{}:
		default:
		}
	})

	conn := dialFeed(t, srv)
	waitForClients(t, h, 1)

	if err := conn.WriteJSON(Message{Type: MessageTypeFocus}); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-focused:
	case <-time.After(2 * time.Second):
		t.Fatal("focus handler not invoked")
	}
}

func TestHubShutdownClosesClients(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.Run(ctx)
		close(done)
	}()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(h, conn)
		h.Register <- client
		client.Start()
	}))
	defer srv.Close()

	conn := dialFeed(t, srv)
	waitForClients(t, h, 1)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	if h.ClientCount() != 0 {
		t.Errorf("client count = %d after shutdown, want 0", h.ClientCount())
	}
}
