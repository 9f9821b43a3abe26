// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

package cardmap

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cardrank/internal/logging"
)

// DefaultOverrides are the verified CashKaro to CardGenius pairs written to a
// new override file.
var DefaultOverrides = map[string]string{
	"American Express Membership Rewards Credit Card": "MRCC",
	"American Express Smartearn Credit Card":          "AMEX SMART EARN",
	"American Express Gold Credit Card":               "AMEX GOLD CREDIT CARD",
	"American Express Platinum Travel Credit Card":    "AMEX PLATINUM TRAVEL",
	"Axis Bank Magnus Credit Card":                    "AXIS MAGNUS",
	"Axis Bank Flipkart Credit Card":                  "AXIS FLIPKART",
	"Axis Bank Airtel Credit Card":                    "AXIS AIRTEL CC",
	"Axis Bank Atlas Credit Card":                     "AXIS ATLAS CC",
	"Hsbc Bank Hsbc Live+Plus Credit Credit Card":     "HSBC Live+ Credit Card",
	"Regalia Gold":                                    "HDFC Regalia Gold Credit Card",
	"Hdfc Millenia Credit Card":                       "HDFC MILLENIA",
	"Sbi Cashback Credit Card":                        "SBI CASHBACK",
	"Sbi Elite Credit Card":                           "SBI ELITE CREDIT CARD",
	"Icici Amazon Pay":                                "ICICI Amazon Pay Credit Card",
	"Hdfc Infinia Credit Card":                        "HDFC INFINIA",
	"Hdfc Swiggy Credit Card":                         "HDFC SWIGGY",
	"Idfc First Bank Power Plus Credit Card":          "IDFC POWER PLUS",
	"Idfc First Bank Power Plus Rupay Credit Card":    "IDFC POWER PLUS",
	"Au Bank Zenith+ Credit Card":                     "AU ZENITH PLUS",
	"Au Bank Altura Credit Card":                      "AU ALTURA",
}

// Store holds manual overrides keyed by CashKaro name. It is safe for
// concurrent use.
type Store struct {
	mu      sync.RWMutex
	path    string
	entries map[string]string
}

// NewStore creates an in-memory store seeded with entries. It is not backed
// by a file until SaveAs is called.
func NewStore(entries map[string]string) *Store {
	s := &Store{entries: make(map[string]string, len(entries))}
	for k, v := range entries {
		s.entries[k] = v
	}
	return s
}

// LoadStore reads the override file at path. When the file does not exist it
// is created with DefaultOverrides.
func LoadStore(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		s := NewStore(DefaultOverrides)
		s.path = path
		if err := s.Save(); err != nil {
			return nil, err
		}
		logging.Info().Str("path", path).Int("entries", len(DefaultOverrides)).Msg("Created default card mapping overrides")
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read overrides %s: %w", path, err)
	}

	var entries map[string]string
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse overrides %s: %w", path, err)
	}
	s := NewStore(entries)
	s.path = path
	logging.Debug().Str("path", path).Int("entries", len(entries)).Msg("Loaded card mapping overrides")
	return s, nil
}

// Lookup returns the CardGenius target for a CashKaro name. Keys are matched
// exactly first, then after light normalization.
func (s *Store) Lookup(cashkaro string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.entries[cashkaro]; ok {
		return v, true
	}
	want := lightNormalize(cashkaro)
	for _, k := range s.sortedKeysLocked() {
		if lightNormalize(k) == want {
			return s.entries[k], true
		}
	}
	return "", false
}

// DisplayName returns the CashKaro name mapped to a CardGenius name. When
// several CashKaro names share a target the first in sorted order is used.
func (s *Store) DisplayName(cardgenius string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := lightNormalize(cardgenius)
	if want == "" {
		return "", false
	}
	for _, k := range s.sortedKeysLocked() {
		if lightNormalize(s.entries[k]) == want {
			return k, true
		}
	}
	return "", false
}

// Add records an override, replacing any previous target.
func (s *Store) Add(cashkaro, cardgenius string) {
	s.mu.Lock()
	s.entries[cashkaro] = cardgenius
	s.mu.Unlock()
}

// Len returns the number of overrides.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Entries returns a copy of the overrides.
func (s *Store) Entries() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

// Save writes the overrides back to the file they were loaded from.
func (s *Store) Save() error {
	if s.path == "" {
		return errors.New("override store has no file")
	}
	return s.SaveAs(s.path)
}

// SaveAs writes the overrides to path as indented JSON, replacing the file
// atomically, and makes path the store's file.
func (s *Store) SaveAs(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode overrides: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("failed to write overrides: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	s.path = path
	return nil
}

func (s *Store) sortedKeysLocked() []string {
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
