// Fleetdeck - Fleet Tracking Relay and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetdeck

package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tomtom215/fleetdeck/internal/metrics"
)

// State is the connection state of the transport client.
type State int

// Connection states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// socketPath is the upstream live-update endpoint.
const socketPath = "/api/socket"

// writeWait bounds outbound WebSocket writes.
const writeWait = 10 * time.Second

// Subscription identifies one registered callback.
type Subscription int64

type subscriber struct {
	id Subscription
	cb func(Message)
}

// Options configures a transport Client.
type Options struct {
	// BaseURL is the upstream server's HTTP base URL; the scheme is
	// converted to ws/wss for dialing.
	BaseURL string

	// ReconnectInterval is the fixed delay before a reconnection attempt
	// after an unexpected close.
	ReconnectInterval time.Duration

	// HandshakeTimeout bounds the WebSocket dial.
	HandshakeTimeout time.Duration

	// HeaderFunc, when set, supplies headers for each dial attempt. Used
	// to attach the relayed session cookie.
	HeaderFunc func() http.Header
}

// Client owns one live-update connection to the upstream server. It
// reconnects with a fixed backoff after unexpected closes, normalizes
// inbound frames, and delivers them synchronously to subscribers in
// subscription order.
//
// The state machine is Disconnected -> Connecting -> Connected, back to
// Disconnected on close. At most one reconnect timer is pending at any
// time; the timer handle is owned by the client and canceled on
// Disconnect.
type Client struct {
	opts   Options
	logger zerolog.Logger

	mu          sync.Mutex
	state       State
	conn        *websocket.Conn
	timer       *time.Timer
	intentional bool
	ctx         context.Context

	writeMu sync.Mutex

	subMu       sync.RWMutex
	subscribers []subscriber
	nextSubID   Subscription

	wg sync.WaitGroup
}

// NewClient creates a transport client. Call Connect to establish the
// connection.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewClient(opts Options, logger zerolog.Logger) *Client {
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 5 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	return &Client{
		opts:   opts,
		logger: logger.With().Str("component", "transport").Logger(),
		state:  StateDisconnected,
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers a callback for normalized messages. Callbacks are
// invoked synchronously from the read loop in subscription order; there
// is no buffering or replay for late subscribers.
func (c *Client) Subscribe(cb func(Message)) Subscription {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.nextSubID++
	id := c.nextSubID
	c.subscribers = append(c.subscribers, subscriber{id: id, cb: cb})
	return id
}

// Unsubscribe removes a previously registered callback. Removing an
// unknown subscription is a no-op.
func (c *Client) Unsubscribe(id Subscription) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for i, s := range c.subscribers {
		if s.id == id {
			c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
			return
		}
	}
}

// Connect establishes the live-update connection. It is a no-op when
// already connected or a connection attempt is in flight. The context is
// retained for reconnection dials.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.intentional = false
	c.ctx = ctx
	c.cancelTimerLocked()
	c.mu.Unlock()

	metrics.TransportConnectionState.Set(float64(StateConnecting))

	wsURL, err := c.buildSocketURL()
	if err != nil {
		c.dialFailed()
		return fmt.Errorf("build socket url: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout:  c.opts.HandshakeTimeout,
		EnableCompression: true,
	}

	var header http.Header
	if c.opts.HeaderFunc != nil {
		header = c.opts.HeaderFunc()
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if resp != nil {
		defer func() {
			_ = resp.Body.Close()
		}()
	}
	if err != nil {
		c.dialFailed()
		if resp != nil {
			return fmt.Errorf("websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.mu.Lock()
	if c.intentional {
		// Disconnect raced the dial; drop the fresh connection.
		c.state = StateDisconnected
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.state = StateConnected
	c.cancelTimerLocked()
	c.mu.Unlock()

	metrics.TransportConnectionState.Set(float64(StateConnected))
	c.logger.Info().Str("url", wsURL).Msg("Live-update connection established")

	c.wg.Add(1)
	go c.readLoop(conn)

	return nil
}

// Disconnect marks the close as intentional, cancels any pending
// reconnect timer, and closes the active connection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.intentional = true
	c.cancelTimerLocked()
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = conn.Close()
	}

	c.wg.Wait()
	metrics.TransportConnectionState.Set(float64(StateDisconnected))
	c.logger.Info().Msg("Live-update connection closed")
}

// Send writes a JSON message upstream. Outside the Connected state it is
// a no-op with a warning, never an error.
func (c *Client) Send(v interface{}) {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		c.logger.Warn().Msg("Send ignored: live-update connection not established")
		return
	}

	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to marshal outbound message")
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to write outbound message")
	}
}

// dialFailed records a failed connection attempt and schedules the next
// one unless the client was disconnected intentionally in the meantime.
func (c *Client) dialFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = StateDisconnected
	metrics.TransportConnectionState.Set(float64(StateDisconnected))
	if !c.intentional {
		c.scheduleReconnectLocked()
	}
}

// readLoop consumes frames until the connection closes, then hands off
// to handleClose for state transition and reconnect scheduling.
func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Err(err).Msg("Live-update read ended")
			}
			c.handleClose(conn)
			return
		}
		c.handleFrame(frame)
	}
}

// handleFrame normalizes one frame and fans it out. Malformed frames are
// logged and dropped; they never reach subscribers or affect connection
// state.
func (c *Client) handleFrame(frame []byte) {
	msg, err := Normalize(frame)
	if err != nil {
		metrics.TransportFrameErrors.Inc()
		metrics.RecordTransportFrame("unknown")
		c.logger.Warn().Err(err).Msg("Dropped malformed live-update frame")
		return
	}

	metrics.RecordTransportFrame(string(msg.Kind))

	c.subMu.RLock()
	subs := make([]subscriber, len(c.subscribers))
	copy(subs, c.subscribers)
	c.subMu.RUnlock()

	for _, s := range subs {
		s.cb(msg)
	}
}

// handleClose transitions to Disconnected after an upstream close and
// schedules a reconnect unless the close was intentional.
func (c *Client) handleClose(conn *websocket.Conn) {
	_ = conn.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != conn {
		// Disconnect or a newer connection already took over.
		return
	}
	c.conn = nil
	c.state = StateDisconnected
	metrics.TransportConnectionState.Set(float64(StateDisconnected))

	if !c.intentional {
		c.scheduleReconnectLocked()
	}
}

// scheduleReconnectLocked arms the reconnect timer. With a timer already
// pending this is a no-op, so at most one reconnect is ever scheduled.
// Caller must hold mu.
func (c *Client) scheduleReconnectLocked() {
	if c.timer != nil {
		return
	}

	c.logger.Info().
		Dur("delay", c.opts.ReconnectInterval).
		Msg("Scheduling live-update reconnect")

	c.timer = time.AfterFunc(c.opts.ReconnectInterval, func() {
		c.mu.Lock()
		c.timer = nil
		ctx := c.ctx
		skip := c.intentional || c.state != StateDisconnected
		c.mu.Unlock()

		if skip {
			return
		}
		if ctx == nil {
			ctx = context.Background()
		}
		if ctx.Err() != nil {
			return
		}

		metrics.TransportReconnects.Inc()
		if err := c.Connect(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Reconnect attempt failed")
		}
	})
}

// cancelTimerLocked stops and clears any pending reconnect timer.
// Caller must hold mu.
func (c *Client) cancelTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// buildSocketURL converts the HTTP base URL into the ws/wss socket URL.
func (c *Client) buildSocketURL() (string, error) {
	parsed, err := url.Parse(c.opts.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	scheme := "ws"
	if parsed.Scheme == "https" {
		scheme = "wss"
	}

	return fmt.Sprintf("%s://%s%s", scheme, parsed.Host, socketPath), nil
}
