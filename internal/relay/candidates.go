// Fleetdeck - Fleet Tracking Relay and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetdeck

package relay

import (
	"strings"
)

// Candidate is one concrete upstream URL to try for a logical path.
// Candidates are ephemeral, generated per request.
type Candidate struct {
	URL          string
	UseAPIPrefix bool
}

// pathStrategy produces one candidate URL shape. Strategies are data so
// a new upstream path convention becomes another table entry, not a new
// branch in the forwarding loop.
type pathStrategy struct {
	name   string
	prefix string
}

var (
	strategyAPIPrefix = pathStrategy{name: "api_prefix", prefix: "/api"}
	strategyBare      = pathStrategy{name: "bare", prefix: ""}
)

// Negotiator maps a logical upstream path to an ordered list of
// candidate URLs. The upstream server exposes some deployments behind an
// /api prefix and some without; the negotiator tries both shapes in a
// configurable order.
type Negotiator struct {
	baseURL    string
	strategies []pathStrategy
}

// NewNegotiator creates a negotiator for the given upstream base URL.
// When prefixFirst is true the /api-prefixed shape is tried first.
func NewNegotiator(baseURL string, prefixFirst bool) *Negotiator {
	base := strings.TrimRight(baseURL, "/")

	strategies := []pathStrategy{strategyBare, strategyAPIPrefix}
	if prefixFirst {
		strategies = []pathStrategy{strategyAPIPrefix, strategyBare}
	}

	return &Negotiator{
		baseURL:    base,
		strategies: strategies,
	}
}

// Candidates returns the candidate URLs for a logical path in the order
// they should be tried. A logical path already carrying the /api prefix
// yields a single candidate; doubling the prefix would never match.
func (n *Negotiator) Candidates(logicalPath, rawQuery string) []Candidate {
	path := "/" + strings.TrimLeft(logicalPath, "/")

	query := ""
	if rawQuery != "" {
		query = "?" + rawQuery
	}

	if path == "/api" || strings.HasPrefix(path, "/api/") {
		return []Candidate{{
			URL:          n.baseURL + path + query,
			UseAPIPrefix: true,
		}}
	}

	candidates := make([]Candidate, 0, len(n.strategies))
	for _, s := range n.strategies {
		candidates = append(candidates, Candidate{
			URL:          n.baseURL + s.prefix + path + query,
			UseAPIPrefix: s.prefix != "",
		})
	}
	return candidates
}
