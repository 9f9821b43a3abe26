// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

package cardmap

import (
	"fmt"
	"sort"
)

// Confidence is the provenance of a match.
type Confidence string

const (
	ConfidenceManual    Confidence = "MANUAL"
	ConfidenceExact     Confidence = "EXACT"
	ConfidenceFuzzyHigh Confidence = "FUZZY_HIGH"
	ConfidenceNone      Confidence = "NONE"
)

const (
	// DefaultThreshold is the exploratory fuzzy threshold.
	DefaultThreshold = 0.6

	// ProductionThreshold guards against matching two tiers of the same
	// co-branded card.
	ProductionThreshold = 0.95
)

// Match is the outcome of matching one source name.
type Match struct {
	Source     string     `json:"-"`
	Name       string     `json:"cardgenius_name"`
	Score      float64    `json:"similarity_score"`
	Confidence Confidence `json:"match_type"`
}

// Matched reports whether a target was found.
func (m Match) Matched() bool {
	return m.Confidence != ConfidenceNone
}

// Matcher finds CardGenius names for CashKaro names.
type Matcher struct {
	overrides *Store
}

// NewMatcher creates a matcher. A nil store disables the manual tier.
func NewMatcher(overrides *Store) *Matcher {
	return &Matcher{overrides: overrides}
}

// FindBestMatch returns the best candidate for source. Fuzzy matches below
// threshold are rejected; the returned Match then has ConfidenceNone. On
// equal fuzzy scores the earlier candidate wins.
func (m *Matcher) FindBestMatch(source string, candidates []string, threshold float64) Match {
	none := Match{Source: source, Confidence: ConfidenceNone}
	if len(candidates) == 0 {
		return none
	}

	if target, ok := m.override(source); ok {
		for _, c := range candidates {
			if c == target {
				return Match{Source: source, Name: c, Score: 1, Confidence: ConfidenceManual}
			}
		}
	}

	src := canonical(source)
	if src == "" {
		return none
	}

	for _, c := range candidates {
		if canonical(c) == src {
			return Match{Source: source, Name: c, Score: 1, Confidence: ConfidenceExact}
		}
	}

	best, bestScore := "", -1.0
	for _, c := range candidates {
		if score := Similarity(src, canonical(c)); score > bestScore {
			best, bestScore = c, score
		}
	}
	if bestScore >= threshold {
		return Match{Source: source, Name: best, Score: bestScore, Confidence: ConfidenceFuzzyHigh}
	}
	none.Score = bestScore
	return none
}

// MapAll matches every source name and returns the matched ones keyed by
// source, plus the unmatched source names in input order.
func (m *Matcher) MapAll(sources, candidates []string, threshold float64) (map[string]Match, []string) {
	matched := make(map[string]Match, len(sources))
	var unmatched []string
	for _, s := range sources {
		if res := m.FindBestMatch(s, candidates, threshold); res.Matched() {
			matched[s] = res
		} else {
			unmatched = append(unmatched, s)
		}
	}
	return matched, unmatched
}

// Validation is the outcome of Validate.
type Validation struct {
	CashKaroName   string     `json:"cashkaro_name"`
	CardGeniusName string     `json:"cardgenius_name"`
	Matched        bool       `json:"matched"`
	Confidence     Confidence `json:"confidence"`
	Method         string     `json:"method"`
}

// Validate checks whether the CashKaro name and the CardGenius name denote the
// same product. Names are compared after light normalization only. In strict
// mode only the manual and exact tiers apply; otherwise a ratio of at least
// ProductionThreshold is also accepted.
func (m *Matcher) Validate(cashkaro, cardgenius string, strict bool) Validation {
	v := Validation{CashKaroName: cashkaro, CardGeniusName: cardgenius, Confidence: ConfidenceNone, Method: "no_match"}
	cg := lightNormalize(cardgenius)

	if target, ok := m.override(cashkaro); ok && lightNormalize(target) == cg {
		v.Matched, v.Confidence, v.Method = true, ConfidenceManual, "manual_mapping"
		return v
	}

	ck := lightNormalize(cashkaro)
	if ck == cg && ck != "" {
		v.Matched, v.Confidence, v.Method = true, ConfidenceExact, "exact_match"
		return v
	}

	if !strict {
		if score := Similarity(ck, cg); score >= ProductionThreshold {
			v.Matched, v.Confidence = true, ConfidenceFuzzyHigh
			v.Method = fmt.Sprintf("fuzzy_match_%.2f", score)
		}
	}
	return v
}

func (m *Matcher) override(source string) (string, bool) {
	if m.overrides == nil {
		return "", false
	}
	return m.overrides.Lookup(source)
}

// SortedSources returns the keys of a MapAll result in order.
func SortedSources(matched map[string]Match) []string {
	keys := make([]string, 0, len(matched))
	for k := range matched {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
