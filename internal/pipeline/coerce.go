// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

package pipeline

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// currencyNoise matches currency markers, thousands separators and whitespace.
var currencyNoise = regexp.MustCompile(`(?i)₹|\$|INR|Rs\.?|,|\s`)

// Coerce turns a cell value into a number. Nil, blank, non-numeric, NaN and
// infinite values all yield 0; Coerce never fails.
func Coerce(v interface{}) float64 {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case int32:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint64:
		f = float64(x)
	case bool:
		if x {
			f = 1
		}
	case string:
		f, _ = parseNumeric(x)
	case fmt.Stringer:
		f, _ = parseNumeric(x.String())
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// parseNumeric parses s after stripping currency noise. ok is false when
// nothing numeric remains.
func parseNumeric(s string) (value float64, ok bool) {
	s = currencyNoise.ReplaceAllString(s, "")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// cellString renders a cell as trimmed text, used for identifiers.
// Whole numbers print without a fraction so a numeric user id 1042 stays "1042".
func cellString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		if math.IsNaN(x) {
			return ""
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}
