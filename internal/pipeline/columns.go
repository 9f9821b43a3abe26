// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tomtom215/cardrank/internal/config"
	"github.com/tomtom215/cardrank/internal/logging"
	"github.com/tomtom215/cardrank/internal/metrics"
)

// columnPattern is a fallback heuristic selected when key appears in the
// logical field name or the configured header.
type columnPattern struct {
	key     string
	pattern *regexp.Regexp
}

var columnPatterns = []columnPattern{
	{"amazon", regexp.MustCompile(`amazon.*gmv`)},
	{"flipkart", regexp.MustCompile(`flipkart.*gmv`)},
	{"myntra", regexp.MustCompile(`myntra.*gmv`)},
	{"ajio", regexp.MustCompile(`ajio.*gmv`)},
	{"grocery", regexp.MustCompile(`grocery.*gmv`)},
	{"confirmed_gmv", regexp.MustCompile(`(confirmed|avg_confirmed).*gmv`)},
	{"avg_gmv", regexp.MustCompile(`(confirmed|avg_confirmed).*gmv`)},
	{"user_id", regexp.MustCompile(`user.*id`)},
	{"total_gmv", regexp.MustCompile(`total.*gmv`)},
}

// ResolvedMapping maps a logical field (config.FieldAmazonSpends, ...) to
// the actual input header. Unresolved fields are absent.
type ResolvedMapping map[string]string

// Header returns the input header for field.
func (m ResolvedMapping) Header(field string) (string, bool) {
	h, ok := m[field]
	return h, ok
}

// ResolveColumn finds the header for one logical field. Matching is
// case-insensitive on trimmed headers; the first hit of exact equality,
// then substring containment either way, then the pattern heuristics wins.
func ResolveColumn(logical, target string, headers []string) (string, bool) {
	want := strings.ToLower(strings.TrimSpace(target))

	if want != "" {
		for _, h := range headers {
			if normalizeHeader(h) == want {
				return h, true
			}
		}
		for _, h := range headers {
			got := normalizeHeader(h)
			if got == "" {
				continue
			}
			if strings.Contains(got, want) || strings.Contains(want, got) {
				return h, true
			}
		}
	}

	name := strings.ToLower(logical)
	for _, p := range columnPatterns {
		if !strings.Contains(name, p.key) && !strings.Contains(want, p.key) {
			continue
		}
		for _, h := range headers {
			if p.pattern.MatchString(normalizeHeader(h)) {
				return h, true
			}
		}
	}
	return "", false
}

func normalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

// ResolveColumns resolves every configured field once for a table. Each
// field without a match is a resolution gap: it is logged, counted and
// recorded in rc, and the field reads as zero for every row.
func ResolveColumns(targets []config.ColumnTarget, headers []string, rc *RunContext) ResolvedMapping {
	mapping := make(ResolvedMapping, len(targets))
	for _, t := range targets {
		header, ok := ResolveColumn(t.Field, t.Target, headers)
		if !ok {
			metrics.ColumnResolutionGaps.WithLabelValues(t.Field).Inc()
			if rc != nil {
				rc.Warn(WarnColumnGap, fmt.Sprintf("could not resolve column mapping for %s (target %q)", t.Field, t.Target))
			}
			continue
		}
		mapping[t.Field] = header
		logging.Debug().Str("field", t.Field).Str("target", t.Target).Str("header", header).Msg("Resolved column mapping")
	}
	return mapping
}
