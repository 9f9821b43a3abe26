// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

package pipeline

import (
	"fmt"

	"github.com/tomtom215/cardrank/internal/config"
	"github.com/tomtom215/cardrank/internal/table"
)

// ErrorColumn holds the per-row failure message; empty on success.
const ErrorColumn = "cardgenius_error"

// DisplayNamer maps a scoring-API card name to the name shown to users.
type DisplayNamer interface {
	DisplayName(cardgeniusName string) (string, bool)
}

// column is one output column and the value it holds until a card fills it.
type column struct {
	name  string
	empty interface{}
}

// layout describes the result columns appended to every row.
type layout struct {
	topN      int
	spendKeys []string
	nameMode  string
	columns   []column
}

func newLayout(topN int, spendKeys []string, nameMode string) *layout {
	l := &layout{topN: topN, spendKeys: spendKeys, nameMode: nameMode}
	for i := 1; i <= topN; i++ {
		p := prefix(i)
		l.columns = append(l.columns, column{p + "card_name", ""})
		if nameMode == config.CardNameModeCashKaro {
			l.columns = append(l.columns, column{p + "cardgenius_name", ""})
		}
		l.columns = append(l.columns,
			column{p + "card_type", ""},
			column{p + "is_cashback_card", false},
			column{p + "redemption_required", true},
			column{p + "effective_conversion_rate", 0.0},
			column{p + "joining_fees", 0.0},
			column{p + "total_savings_yearly", 0.0},
			column{p + "total_extra_benefits", 0.0},
			column{p + "total_extra_benefits_explanation", ""},
			column{p + "net_savings", 0.0},
			column{p + "recommended_redemption_method", ""},
			column{p + "recommended_redemption_conversion_rate", 0.0},
			column{p + "recommended_redemption_note", ""},
		)
		for _, key := range spendKeys {
			l.columns = append(l.columns,
				column{p + key + "_points", 0.0},
				column{p + key + "_rupees", 0.0},
				column{p + key + "_explanation", ""},
			)
		}
	}
	l.columns = append(l.columns, column{ErrorColumn, ""})
	return l
}

// ResultColumns lists the columns appended to the input table, in order.
func ResultColumns(topN int, spendKeys []string, nameMode string) []string {
	l := newLayout(topN, spendKeys, nameMode)
	names := make([]string, len(l.columns))
	for i, c := range l.columns {
		names[i] = c.name
	}
	return names
}

func prefix(rank int) string {
	return fmt.Sprintf("top%d_", rank)
}

// addColumns appends the result columns to t.
func (l *layout) addColumns(t *table.Table) {
	for _, c := range l.columns {
		t.AddColumn(c.name)
	}
}

// reset fills every result column of row with its empty value.
func (l *layout) reset(row table.Row) {
	for _, c := range l.columns {
		row[c.name] = c.empty
	}
}

// apply writes ranked cards into row. Ranks beyond len(cards) keep their
// empty values.
func (l *layout) apply(row table.Row, cards []RankedCard, names DisplayNamer) {
	for i := range cards {
		c := &cards[i]
		if c.Rank < 1 || c.Rank > l.topN {
			continue
		}
		p := prefix(c.Rank)

		row[p+"card_name"] = c.Name
		if l.nameMode == config.CardNameModeCashKaro {
			row[p+"cardgenius_name"] = c.Name
			if names != nil {
				if display, ok := names.DisplayName(c.Name); ok {
					row[p+"card_name"] = display
				}
			}
		}

		row[p+"card_type"] = string(c.Type)
		row[p+"is_cashback_card"] = c.IsCashback
		row[p+"redemption_required"] = c.RedemptionRequired
		row[p+"effective_conversion_rate"] = c.EffectiveConversionRate
		row[p+"joining_fees"] = c.JoiningFees
		row[p+"total_savings_yearly"] = c.SavingsYearly
		row[p+"total_extra_benefits"] = c.ExtraBenefits
		row[p+"total_extra_benefits_explanation"] = c.BenefitNote
		row[p+"net_savings"] = c.NetSavings

		if c.Redemption != nil {
			row[p+"recommended_redemption_method"] = c.Redemption.Method
			row[p+"recommended_redemption_conversion_rate"] = c.Redemption.ConversionRate
			row[p+"recommended_redemption_note"] = c.Redemption.Note
		}

		for _, key := range l.spendKeys {
			v := c.Category(key)
			row[p+key+"_points"] = v.Points
			row[p+key+"_rupees"] = v.Rupees
			row[p+key+"_explanation"] = v.Explanation
		}
	}
}
