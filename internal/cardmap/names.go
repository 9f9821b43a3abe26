// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

package cardmap

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
)

// ReadNames loads a list of card names. A .json file holds an array of
// strings; any other file holds one name per line, with blank lines and
// lines starting with '#' ignored. Duplicates keep their first position.
func ReadNames(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read names %s: %w", path, err)
	}

	var raw []string
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse names %s: %w", path, err)
		}
	} else {
		sc := bufio.NewScanner(bytes.NewReader(data))
		for sc.Scan() {
			raw = append(raw, sc.Text())
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("failed to scan names %s: %w", path, err)
		}
	}

	seen := make(map[string]struct{}, len(raw))
	names := make([]string, 0, len(raw))
	for _, n := range raw {
		n = strings.TrimSpace(n)
		if n == "" || strings.HasPrefix(n, "#") {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		names = append(names, n)
	}
	return names, nil
}

// Report is the output of a mapping run.
type Report struct {
	Mappings  map[string]Match `json:"mappings"`
	Unmatched []string         `json:"unmatched"`
	Threshold float64          `json:"threshold"`
	Sources   int              `json:"total_cashkaro"`
	Targets   int              `json:"total_cardgenius"`
}

// MatchRate returns the share of source names that matched, as a percentage.
func (r *Report) MatchRate() float64 {
	if r.Sources == 0 {
		return 0
	}
	return float64(len(r.Mappings)) / float64(r.Sources) * 100
}

// WriteFile writes the report as indented JSON.
func (r *Report) WriteFile(path string) error {
	if r.Unmatched == nil {
		r.Unmatched = []string{}
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode mapping report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("failed to write mapping report: %w", err)
	}
	return nil
}
