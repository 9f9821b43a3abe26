// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tomtom215/cardrank/internal/cardmap"
	"github.com/tomtom215/cardrank/internal/config"
	"github.com/tomtom215/cardrank/internal/logging"
)

type matchOptions struct {
	cashkaro   string
	cardgenius string
	overrides  string
	output     string
	threshold  float64
	strict     bool
	save       bool
}

func newMatchCmd(global *globalOptions) *cobra.Command {
	opts := &matchOptions{}

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Reconcile CashKaro card names with CardGenius card names",
		Long: `match maps every CashKaro card name to the closest CardGenius name using
the manual overrides, exact comparison of normalized names and fuzzy
similarity, in that order. The mapping is written as JSON.`,
		Example: `  cardrank match --cashkaro cashkaro.txt --cardgenius cardgenius.json --output mappings.json
  cardrank match --cashkaro a.txt --cardgenius b.txt --threshold 0.8 --save`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return err
			}
			return runMatch(cmd.OutOrStdout(), cfg, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.cashkaro, "cashkaro", "", "CashKaro card names (one per line, or a JSON array)")
	f.StringVar(&opts.cardgenius, "cardgenius", "", "CardGenius card names (one per line, or a JSON array)")
	f.StringVar(&opts.overrides, "overrides", "", "override store (default card_mapping.overrides_file)")
	f.StringVarP(&opts.output, "output", "o", "card_mappings.json", "mapping report path")
	f.Float64Var(&opts.threshold, "threshold", 0, "minimum similarity (default card_mapping.threshold)")
	f.BoolVar(&opts.strict, "strict", false, "treat FUZZY_HIGH matches as unmatched")
	f.BoolVar(&opts.save, "save", false, "persist FUZZY_HIGH matches at or above the production threshold as overrides")
	_ = cmd.MarkFlagRequired("cashkaro")
	_ = cmd.MarkFlagRequired("cardgenius")
	return cmd
}

func runMatch(out io.Writer, cfg *config.Config, opts *matchOptions) error {
	threshold := opts.threshold
	if threshold == 0 {
		threshold = cfg.CardMapping.Threshold
	}
	if threshold <= 0 || threshold > 1 {
		return errors.New("--threshold must be in (0, 1]")
	}
	overridesPath := opts.overrides
	if overridesPath == "" {
		overridesPath = cfg.CardMapping.OverridesFile
	}

	sources, err := cardmap.ReadNames(opts.cashkaro)
	if err != nil {
		return err
	}
	targets, err := cardmap.ReadNames(opts.cardgenius)
	if err != nil {
		return err
	}
	store, err := cardmap.LoadStore(overridesPath)
	if err != nil {
		return err
	}

	matched, unmatched := cardmap.NewMatcher(store).MapAll(sources, targets, threshold)
	if opts.strict {
		for _, source := range cardmap.SortedSources(matched) {
			if matched[source].Confidence == cardmap.ConfidenceFuzzyHigh {
				delete(matched, source)
				unmatched = append(unmatched, source)
			}
		}
	}

	report := &cardmap.Report{
		Mappings:  matched,
		Unmatched: unmatched,
		Threshold: threshold,
		Sources:   len(sources),
		Targets:   len(targets),
	}
	if err := report.WriteFile(opts.output); err != nil {
		return err
	}

	if opts.save {
		added := 0
		for _, source := range cardmap.SortedSources(matched) {
			m := matched[source]
			if m.Confidence == cardmap.ConfidenceFuzzyHigh && m.Score >= cfg.CardMapping.ProductionThreshold {
				store.Add(source, m.Name)
				added++
			}
		}
		if added > 0 {
			if err := store.Save(); err != nil {
				return err
			}
		}
		logging.Info().Int("added", added).Str("path", overridesPath).Msg("Saved confirmed fuzzy matches")
	}

	printMatchSummary(out, report)
	return nil
}

func printMatchSummary(out io.Writer, r *cardmap.Report) {
	_, _ = fmt.Fprintf(out, "Matched %d of %d CashKaro cards (%.1f%%) against %d CardGenius cards\n",
		len(r.Mappings), r.Sources, r.MatchRate(), r.Targets)
	for _, source := range cardmap.SortedSources(r.Mappings) {
		m := r.Mappings[source]
		_, _ = fmt.Fprintf(out, "  %-10s %.2f  %s -> %s\n", m.Confidence, m.Score, source, m.Name)
	}
	if len(r.Unmatched) > 0 {
		_, _ = fmt.Fprintf(out, "Unmatched (%d):\n", len(r.Unmatched))
		for _, name := range r.Unmatched {
			_, _ = fmt.Fprintf(out, "  %s\n", name)
		}
	}
}
