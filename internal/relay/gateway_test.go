// Fleetdeck - Fleet Tracking Relay and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetdeck

package relay

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/fleetdeck/internal/logging"
)

func newTestGateway(t *testing.T, baseURL string, prefixFirst bool) *Gateway {
	t.Helper()
	return NewGateway(Options{
		BaseURL:     baseURL,
		PrefixFirst: prefixFirst,
		Timeout:     5 * time.Second,
	}, logging.NewTestLogger(io.Discard))
}

func TestCandidateOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		prefixFirst bool
		path        string
		want        []string
	}{
		{
			name:        "prefix first",
			prefixFirst: true,
			path:        "/devices",
			want:        []string{"http://up/api/devices", "http://up/devices"},
		},
		{
			name:        "bare first when configured",
			prefixFirst: false,
			path:        "/devices",
			want:        []string{"http://up/devices", "http://up/api/devices"},
		},
		{
			name:        "already prefixed path yields one candidate",
			prefixFirst: true,
			path:        "/api/session",
			want:        []string{"http://up/api/session"},
		},
		{
			name:        "missing leading slash normalized",
			prefixFirst: false,
			path:        "positions",
			want:        []string{"http://up/positions", "http://up/api/positions"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			n := NewNegotiator("http://up", tt.prefixFirst)
			candidates := n.Candidates(tt.path, "")

			if len(candidates) != len(tt.want) {
				t.Fatalf("expected %d candidates, got %d", len(tt.want), len(candidates))
			}
			for i, c := range candidates {
				if c.URL != tt.want[i] {
					t.Errorf("candidate %d: expected %s, got %s", i, tt.want[i], c.URL)
				}
			}
		})
	}
}

func TestCandidateQueryString(t *testing.T) {
	t.Parallel()

	n := NewNegotiator("http://up/", false)
	candidates := n.Candidates("/reports/events", "from=a&to=b")

	if candidates[0].URL != "http://up/reports/events?from=a&to=b" {
		t.Errorf("unexpected candidate URL: %s", candidates[0].URL)
	}
}

func TestForwardFallback(t *testing.T) {
	// Upstream rejects the prefixed shape but accepts the bare one; the
	// caller must see only the accepted response.
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1}]`))
	}))
	defer upstream.Close()

	g := newTestGateway(t, upstream.URL, true)

	result, err := g.Forward(t.Context(), &ForwardRequest{
		Method:   http.MethodGet,
		Path:     "/devices",
		Header:   http.Header{},
		Identity: "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if result.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", result.StatusCode)
	}
	if string(result.Body) != `[{"id":1}]` {
		t.Errorf("unexpected body: %s", result.Body)
	}
}

func TestForwardAllCandidatesRejected(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("no session"))
	}))
	defer upstream.Close()

	g := newTestGateway(t, upstream.URL, false)

	result, err := g.Forward(t.Context(), &ForwardRequest{
		Method:   http.MethodGet,
		Path:     "/devices",
		Header:   http.Header{},
		Identity: "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("expected upstream failure to be relayed, got error: %v", err)
	}
	if result.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", result.StatusCode)
	}
	if string(result.Body) != "no session" {
		t.Errorf("expected upstream body relayed, got %s", result.Body)
	}
}

func TestForwardUpstreamUnreachable(t *testing.T) {
	g := newTestGateway(t, "http://127.0.0.1:1", false)

	_, err := g.Forward(t.Context(), &ForwardRequest{
		Method:   http.MethodGet,
		Path:     "/devices",
		Header:   http.Header{},
		Identity: "10.0.0.1",
	})
	if err == nil {
		t.Fatal("expected error when upstream is unreachable")
	}
}

func TestCookiePropagation(t *testing.T) {
	// Login sets a session cookie; a later request from the same client
	// identity must carry it even though the test client never does.
	var observedCookie string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/session":
			http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "X", Path: "/"})
			w.WriteHeader(http.StatusOK)
		case "/devices":
			observedCookie = r.Header.Get("Cookie")
			_, _ = w.Write([]byte("[]"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer upstream.Close()

	g := newTestGateway(t, upstream.URL, false)

	login, err := g.Forward(t.Context(), &ForwardRequest{
		Method:   http.MethodPost,
		Path:     "/session",
		Header:   http.Header{"Content-Type": []string{"application/x-www-form-urlencoded"}},
		Body:     []byte("email=a&password=b"),
		Identity: "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("login forward failed: %v", err)
	}
	if got := login.Header.Get("Set-Cookie"); !strings.Contains(got, "JSESSIONID=X") {
		t.Errorf("expected Set-Cookie relayed to caller, got %q", got)
	}

	_, err = g.Forward(t.Context(), &ForwardRequest{
		Method:   http.MethodGet,
		Path:     "/devices",
		Header:   http.Header{},
		Identity: "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("devices forward failed: %v", err)
	}
	if observedCookie != "JSESSIONID=X" {
		t.Errorf("expected stored cookie sent upstream, got %q", observedCookie)
	}
}

func TestCookieMergesInboundAndStored(t *testing.T) {
	var observedCookie string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		observedCookie = r.Header.Get("Cookie")
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	g := newTestGateway(t, upstream.URL, false)
	g.Jar().Set("10.0.0.1", "JSESSIONID=stored")

	header := http.Header{}
	header.Set("Cookie", "theme=dark")

	_, err := g.Forward(t.Context(), &ForwardRequest{
		Method:   http.MethodGet,
		Path:     "/devices",
		Header:   header,
		Identity: "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if observedCookie != "theme=dark; JSESSIONID=stored" {
		t.Errorf("expected merged cookie header, got %q", observedCookie)
	}
}

func TestCookieIsolationBetweenIdentities(t *testing.T) {
	var observedCookie string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		observedCookie = r.Header.Get("Cookie")
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	g := newTestGateway(t, upstream.URL, false)
	g.Jar().Set("10.0.0.1", "JSESSIONID=alice")

	_, err := g.Forward(t.Context(), &ForwardRequest{
		Method:   http.MethodGet,
		Path:     "/devices",
		Header:   http.Header{},
		Identity: "10.0.0.2",
	})
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if observedCookie != "" {
		t.Errorf("expected no cookie for a different identity, got %q", observedCookie)
	}
}

func TestClientIdentity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"socket address", "192.168.1.5:4444", "", "192.168.1.5"},
		{"forwarded-for wins", "192.168.1.5:4444", "203.0.113.9", "203.0.113.9"},
		{"first forwarded hop", "192.168.1.5:4444", "203.0.113.9, 10.0.0.1", "203.0.113.9"},
		{"empty everything", "", "", UnknownIdentity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}

			if got := ClientIdentity(r); got != tt.want {
				t.Errorf("ClientIdentity = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJarOverwrite(t *testing.T) {
	t.Parallel()

	jar := NewJar()
	jar.Set("a", "sid=1")
	jar.Set("a", "sid=2")

	got, ok := jar.Get("a")
	if !ok || got != "sid=2" {
		t.Errorf("expected last write to win, got %q", got)
	}
	if jar.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", jar.Len())
	}
}
