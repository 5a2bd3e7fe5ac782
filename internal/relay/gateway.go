// Fleetdeck - Fleet Tracking Relay and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetdeck

package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/fleetdeck/internal/metrics"
)

// maxBodySize bounds how much of an upstream response body is read.
const maxBodySize = 32 * 1024 * 1024 // 32MB

// ErrUpstreamUnreachable is returned when every candidate attempt failed
// at the transport level and no upstream status is available.
var ErrUpstreamUnreachable = errors.New("upstream unreachable on all candidate URLs")

// ForwardRequest describes one inbound request to relay upstream.
type ForwardRequest struct {
	Method   string
	Path     string // logical upstream path, without the /api prefix decision
	Query    string // raw query string, forwarded verbatim
	Header   http.Header
	Body     []byte
	Identity string // cookie-jar key for this client
}

// ForwardResult is the accepted upstream response, mirrored to the caller.
type ForwardResult struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Gateway forwards requests to the upstream tracking server, trying each
// candidate URL in order until one is accepted, and persists upstream
// session cookies per client identity.
type Gateway struct {
	client     *http.Client
	jar        *Jar
	negotiator *Negotiator
	token      string
	logger     zerolog.Logger
}

// Options configures a Gateway.
type Options struct {
	BaseURL     string
	PrefixFirst bool
	Timeout     time.Duration
	Token       string // optional bearer token used when no session cookie exists
}

// NewGateway creates a gateway with its own HTTP client and cookie jar.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewGateway(opts Options, logger zerolog.Logger) *Gateway {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Gateway{
		client: &http.Client{
			Timeout: timeout,
			// Redirects are relayed to the caller, not followed; the
			// browser owns redirect handling.
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		jar:        NewJar(),
		negotiator: NewNegotiator(opts.BaseURL, opts.PrefixFirst),
		token:      opts.Token,
		logger:     logger.With().Str("component", "relay").Logger(),
	}
}

// Jar exposes the gateway's cookie jar.
func (g *Gateway) Jar() *Jar {
	return g.jar
}

// Forward relays one request upstream. Candidates are tried in order;
// the first response with status < 400 is accepted and returned
// verbatim. When every candidate yields an upstream error status, the
// most recent status and body are returned so the caller sees the
// upstream's own failure. Only when no candidate produced any response
// at all is an error returned.
func (g *Gateway) Forward(ctx context.Context, req *ForwardRequest) (*ForwardResult, error) {
	candidates := g.negotiator.Candidates(req.Path, req.Query)

	start := time.Now()

	var lastResult *ForwardResult
	var attemptErrs []error
	attempted := make([]string, 0, len(candidates))

	for i, candidate := range candidates {
		attempted = append(attempted, candidate.URL)

		result, err := g.attempt(ctx, req, candidate)
		if err != nil {
			attemptErrs = append(attemptErrs, fmt.Errorf("%s: %w", candidate.URL, err))
			g.logger.Debug().
				Str("url", candidate.URL).
				Err(err).
				Msg("Candidate attempt failed at transport level")
			continue
		}

		if result.StatusCode < http.StatusBadRequest {
			if i > 0 {
				metrics.RelayCandidateFallbacks.Inc()
			}
			g.persistCookies(req.Identity, result.Header)
			metrics.RecordRelayRequest(req.Method, result.StatusCode, time.Since(start))
			return result, nil
		}

		// Upstream rejected this shape; keep the response in case every
		// candidate fails the same way.
		lastResult = result
		g.logger.Debug().
			Str("url", candidate.URL).
			Int("status", result.StatusCode).
			Msg("Candidate rejected by upstream")
	}

	if lastResult != nil {
		metrics.RecordRelayRequest(req.Method, lastResult.StatusCode, time.Since(start))
		g.logger.Warn().
			Strs("attempted", attempted).
			Int("status", lastResult.StatusCode).
			Msg("All candidates rejected, relaying upstream failure")
		return lastResult, nil
	}

	metrics.RecordRelayRequest(req.Method, http.StatusBadGateway, time.Since(start))
	g.logger.Error().
		Strs("attempted", attempted).
		Errs("errors", attemptErrs).
		Msg("Upstream unreachable on all candidates")
	return nil, fmt.Errorf("%w: tried %s", ErrUpstreamUnreachable, strings.Join(attempted, ", "))
}

// attempt issues one upstream request for a single candidate URL.
func (g *Gateway) attempt(ctx context.Context, req *ForwardRequest, candidate Candidate) (*ForwardResult, error) {
	var body io.Reader
	if len(req.Body) > 0 && req.Method != http.MethodGet && req.Method != http.MethodHead {
		body = bytes.NewReader(req.Body)
	}

	upstream, err := http.NewRequestWithContext(ctx, req.Method, candidate.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}

	copyForwardHeaders(upstream.Header, req.Header)
	g.applySession(upstream, req)

	resp, err := g.client.Do(upstream)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}

	return &ForwardResult{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

// applySession attaches session state to the outbound request: the
// inbound Cookie header and the jar's stored cookie for this identity,
// joined with "; " when both exist. With no cookie at all, a configured
// bearer token is used instead.
func (g *Gateway) applySession(upstream *http.Request, req *ForwardRequest) {
	parts := make([]string, 0, 2)
	if inbound := req.Header.Get("Cookie"); inbound != "" {
		parts = append(parts, inbound)
	}
	if stored, ok := g.jar.Get(req.Identity); ok && stored != "" {
		parts = append(parts, stored)
	}

	if len(parts) > 0 {
		upstream.Header.Set("Cookie", strings.Join(parts, "; "))
		return
	}

	if g.token != "" && upstream.Header.Get("Authorization") == "" {
		upstream.Header.Set("Authorization", "Bearer "+g.token)
	}
}

// persistCookies records any Set-Cookie values from an accepted response
// into the jar, keyed by client identity. Only the name=value pairs are
// kept; attributes like Path and HttpOnly are meaningless on replay.
func (g *Gateway) persistCookies(identity string, header http.Header) {
	setCookies := header.Values("Set-Cookie")
	if len(setCookies) == 0 {
		return
	}

	pairs := make([]string, 0, len(setCookies))
	for _, sc := range setCookies {
		pair := sc
		if idx := strings.Index(sc, ";"); idx >= 0 {
			pair = sc[:idx]
		}
		pair = strings.TrimSpace(pair)
		if pair != "" {
			pairs = append(pairs, pair)
		}
	}
	if len(pairs) == 0 {
		return
	}

	g.jar.Set(identity, strings.Join(pairs, "; "))
	g.logger.Debug().
		Str("identity", identity).
		Int("cookies", len(pairs)).
		Msg("Stored upstream session cookies")
}

// hopByHopHeaders are stripped when relaying; they describe a single
// connection, not the request.
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// copyForwardHeaders copies inbound headers onto the upstream request,
// excluding hop-by-hop headers, Host, and Cookie (session state is
// assembled separately).
func copyForwardHeaders(dst, src http.Header) {
	for name, values := range src {
		if _, hop := hopByHopHeaders[http.CanonicalHeaderKey(name)]; hop {
			continue
		}
		canonical := http.CanonicalHeaderKey(name)
		if canonical == "Cookie" || canonical == "Host" {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}
