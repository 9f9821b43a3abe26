// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

// Package cardmap reconciles card names between the CashKaro catalogue and
// the names returned by the CardGenius scoring API.
//
// Matching runs in tiers and the first success wins:
//
//  1. Manual override from the override Store (confidence MANUAL), used only
//     when the stored target is among the candidates.
//  2. Exact match of normalized names (confidence EXACT).
//  3. Fuzzy match by Levenshtein ratio at or above a threshold
//     (confidence FUZZY_HIGH).
//
// Validate is the production check for one pair. It never falls back to
// fuzzy matching unless strict mode is turned off.
package cardmap

import (
	"regexp"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

var (
	nonWord    = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
	whitespace = regexp.MustCompile(`\s+`)
)

// stopWords carry no product identity and are removed before comparison.
var stopWords = map[string]struct{}{
	"bank":       {},
	"credit":     {},
	"card":       {},
	"visa":       {},
	"mastercard": {},
	"rupay":      {},
	"first":      {},
	"the":        {},
	"new":        {},
	"plus":       {},
}

// abbreviations expands issuer short forms found in CardGenius names.
var abbreviations = []struct {
	re       *regexp.Regexp
	expanded string
}{
	{regexp.MustCompile(`(?i)\bamex\b`), "american express"},
	{regexp.MustCompile(`(?i)\bmrcc\b`), "membership rewards"},
	{regexp.MustCompile(`(?i)\bhsbc\b`), "hsbc"},
	{regexp.MustCompile(`(?i)\bhdfc\b`), "hdfc"},
	{regexp.MustCompile(`(?i)\bicici\b`), "icici"},
	{regexp.MustCompile(`(?i)\bsbi\b`), "sbi"},
	{regexp.MustCompile(`(?i)\baxis\b`), "axis"},
	{regexp.MustCompile(`(?i)\bidfc\b`), "idfc"},
	{regexp.MustCompile(`(?i)\brbl\b`), "rbl"},
	{regexp.MustCompile(`(?i)\bau\b`), "au"},
	{regexp.MustCompile(`(?i)\bindusind\b`), "indusind"},
	{regexp.MustCompile(`(?i)\byes\b`), "yes"},
}

// Normalize lowercases name, replaces punctuation with spaces, drops stop
// words and collapses whitespace.
//
//	Normalize("HSBC Bank Travel One Credit Card") == "hsbc travel one"
func Normalize(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = nonWord.ReplaceAllString(s, " ")

	fields := strings.Fields(s)
	kept := fields[:0]
	for _, f := range fields {
		if _, stop := stopWords[f]; !stop {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}

// expandAbbreviations replaces whole-word issuer abbreviations.
func expandAbbreviations(s string) string {
	for _, a := range abbreviations {
		s = a.re.ReplaceAllString(s, a.expanded)
	}
	return s
}

// canonical is the form compared by the exact and fuzzy tiers.
func canonical(name string) string {
	return Normalize(expandAbbreviations(Normalize(name)))
}

// lightNormalize only lowercases, trims and collapses whitespace. Production
// validation compares names in this form so that stop words still
// distinguish products.
func lightNormalize(name string) string {
	return whitespace.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), " ")
}

// Similarity returns the symmetric Levenshtein ratio of a and b in [0, 1],
// where 1 means identical. Two empty strings are identical.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra)+len(rb) == 0 {
		return 1
	}
	return levenshtein.RatioForStrings(ra, rb, levenshtein.DefaultOptions)
}
