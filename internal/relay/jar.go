// Fleetdeck - Fleet Tracking Relay and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetdeck

// Package relay implements the session-relaying API gateway. It forwards
// browser requests to the upstream tracking server, smooths over the
// upstream's inconsistent API path prefix, and carries session cookies
// across stateless requests on behalf of each client.
package relay

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/tomtom215/fleetdeck/internal/metrics"
)

// UnknownIdentity is the cookie-jar key used when no client identity can
// be derived from a request.
const UnknownIdentity = "unknown"

// Jar stores the most recent upstream session cookie per client identity.
// Entries are overwritten, never deleted; the map is bounded by the
// number of distinct client identities seen.
//
// Writes are last-write-wins. Two in-flight requests for the same
// identity may race; the upstream refreshes session cookies
// monotonically, so a lost race only leaves a slightly stale cookie.
type Jar struct {
	mu      sync.RWMutex
	cookies map[string]string
}

// NewJar creates an empty cookie jar.
func NewJar() *Jar {
	return &Jar{
		cookies: make(map[string]string),
	}
}

// Get returns the stored cookie string for an identity, if any.
func (j *Jar) Get(identity string) (string, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	cookie, ok := j.cookies[identity]
	return cookie, ok
}

// Set stores a cookie string for an identity, overwriting any prior value.
func (j *Jar) Set(identity, cookie string) {
	j.mu.Lock()
	j.cookies[identity] = cookie
	size := len(j.cookies)
	j.mu.Unlock()

	metrics.RelaySessionCookies.Set(float64(size))
}

// Len returns the number of identities with a stored cookie.
func (j *Jar) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.cookies)
}

// ClientIdentity derives the cookie-jar key for an inbound request. The
// first X-Forwarded-For hop wins when present, otherwise the socket
// address. This is a correlation key, not a security boundary.
func ClientIdentity(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := fwd
		if idx := strings.Index(fwd, ","); idx >= 0 {
			first = fwd[:idx]
		}
		first = strings.TrimSpace(first)
		if first != "" {
			return first
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return UnknownIdentity
}
