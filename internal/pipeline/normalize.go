// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

package pipeline

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// CardType classifies how a card pays out.
type CardType string

const (
	CardTypeCashback CardType = "cashback"
	CardTypeRewards  CardType = "rewards"
	CardTypeUnknown  CardType = "unknown"
)

// TrackedCategories are the spend categories whose points decide the card type.
var TrackedCategories = []string{
	"amazon_spends",
	"flipkart_spends",
	"grocery_spends_online",
	"other_online_spends",
}

// CategoryValue is one spend category of a card's breakdown.
type CategoryValue struct {
	Points      float64
	Rupees      float64
	Explanation string
}

// Redemption is the recommended way to redeem a rewards card's points.
type Redemption struct {
	Method         string
	Brand          string
	ConversionRate float64
	Note           string
}

// RankedCard is one selected recommendation with its derived fields.
type RankedCard struct {
	Rank int
	Name string

	Type                    CardType
	IsCashback              bool
	RedemptionRequired      bool
	EffectiveConversionRate float64

	JoiningFees   float64
	SavingsYearly float64
	ExtraBenefits float64
	NetSavings    float64
	BenefitNote   string

	// Redemption is nil when the response recommends no known option.
	Redemption *Redemption

	// Breakdown is keyed by spend category; missing categories read as zero.
	Breakdown map[string]CategoryValue

	// ROI is net savings scaled by the best voucher or cashback rate.
	ROI float64
}

// Category returns the breakdown for key, or zeros.
func (c *RankedCard) Category(key string) CategoryValue {
	return c.Breakdown[key]
}

// candidate is a decoded card and its net savings.
type candidate struct {
	card rawCard
	net  float64
}

// Normalize turns a raw scoring response into at most topN ranked cards.
// It never fails: unusable shapes and entries become warnings on sink and
// the result may be empty.
func Normalize(raw json.RawMessage, topN int, sink WarningSink) []RankedCard {
	if sink == nil {
		sink = discardWarnings{}
	}

	entries, ok := cardList(raw, sink)
	if !ok {
		return nil
	}
	if len(entries) == 0 {
		sink.Warn(WarnNoCards, "no cards returned")
		return nil
	}

	valid := make([]candidate, 0, len(entries))
	for i, entry := range entries {
		var card rawCard
		if err := json.Unmarshal(entry, &card); err != nil {
			sink.Warn(WarnCardDecode, fmt.Sprintf("skipping card %d: %v", i+1, err))
			continue
		}
		if !card.TotalSavingsYearly.present || !card.JoiningFees.present || !card.TotalExtraBenefits.present {
			sink.Warn(WarnNullFinancials, fmt.Sprintf("skipping card %s due to null values", displayName(card.CardName)))
			continue
		}
		if card.TotalSavingsYearly.invalid || card.JoiningFees.invalid || card.TotalExtraBenefits.invalid {
			sink.Warn(WarnBadAmount, fmt.Sprintf("card %s has a non-numeric financial field, counted as 0", displayName(card.CardName)))
		}
		valid = append(valid, candidate{card: card, net: netSavings(&card)})
	}

	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].net > valid[j].net
	})

	if topN > len(valid) {
		topN = len(valid)
	}
	ranked := make([]RankedCard, 0, topN)
	for i := 0; i < topN; i++ {
		ranked = append(ranked, derive(&valid[i].card, valid[i].net, i+1, sink))
	}
	return ranked
}

// cardList resolves the response shape: a "savings" list, a "cards" list,
// or a top-level list, checked in that order.
func cardList(raw json.RawMessage, sink WarningSink) ([]json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		sink.Warn(WarnResponseShape, "empty response body")
		return nil, false
	}

	switch trimmed[0] {
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			sink.Warn(WarnResponseShape, fmt.Sprintf("unreadable card list: %v", err))
			return nil, false
		}
		return list, true

	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			sink.Warn(WarnResponseShape, fmt.Sprintf("unreadable response object: %v", err))
			return nil, false
		}
		for _, key := range []string{"savings", "cards"} {
			value, ok := obj[key]
			if !ok {
				continue
			}
			value = bytes.TrimSpace(value)
			if bytes.Equal(value, []byte("null")) {
				return nil, true
			}
			var list []json.RawMessage
			if err := json.Unmarshal(value, &list); err != nil {
				sink.Warn(WarnResponseShape, fmt.Sprintf("%q is not a card list", key))
				return nil, false
			}
			return list, true
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sink.Warn(WarnResponseShape, fmt.Sprintf("unexpected response format: keys %v", keys))
		return nil, false
	}

	sink.Warn(WarnResponseShape, "response is neither an object nor a list")
	return nil, false
}

func netSavings(c *rawCard) float64 {
	return c.TotalSavingsYearly.value - c.JoiningFees.value + c.TotalExtraBenefits.value
}

func displayName(name text) string {
	if name == "" {
		return "Unknown"
	}
	return string(name)
}

// derive computes the output fields for one selected card.
func derive(c *rawCard, net float64, rank int, sink WarningSink) RankedCard {
	out := RankedCard{
		Rank:          rank,
		Name:          string(c.CardName),
		JoiningFees:   c.JoiningFees.value,
		SavingsYearly: c.TotalSavingsYearly.value,
		ExtraBenefits: c.TotalExtraBenefits.value,
		NetSavings:    net,
		Breakdown:     foldBreakdown(c.SpendingBreakdown, sink),
		Redemption:    pickRedemption(c),
		ROI:           roi(c, net),
	}
	out.BenefitNote = benefitNote(c, sink)

	var points float64
	for _, key := range TrackedCategories {
		points += out.Breakdown[key].Points
	}

	switch {
	case points == 0 && net > 0:
		out.Type = CardTypeCashback
		out.IsCashback = true
		out.RedemptionRequired = false
		out.EffectiveConversionRate = 1.0
	case points > 0:
		out.Type = CardTypeRewards
		out.RedemptionRequired = true
		if out.Redemption != nil {
			out.EffectiveConversionRate = out.Redemption.ConversionRate
		}
	default:
		out.Type = CardTypeUnknown
		out.RedemptionRequired = true
	}
	return out
}

// foldBreakdown reads the spending breakdown, given either as an object
// keyed by category or as a list of records tagged with "on", into one map.
// Later list records for the same category replace earlier ones.
func foldBreakdown(raw json.RawMessage, sink WarningSink) map[string]CategoryValue {
	out := make(map[string]CategoryValue)
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return out
	}

	add := func(key string, entry json.RawMessage) {
		var b breakdownEntry
		if err := json.Unmarshal(entry, &b); err != nil {
			sink.Warn(WarnBreakdownEntry, fmt.Sprintf("ignoring breakdown entry %q: %v", key, err))
			return
		}
		if b.PointsEarned.invalid || b.Savings.invalid {
			sink.Warn(WarnBreakdownEntry, fmt.Sprintf("non-numeric values in breakdown entry %q", key))
		}
		out[key] = CategoryValue{
			Points:      b.PointsEarned.value,
			Rupees:      b.Savings.value,
			Explanation: string(b.Explanation),
		}
	}

	switch raw[0] {
	case '{':
		var byKey map[string]json.RawMessage
		if err := json.Unmarshal(raw, &byKey); err != nil {
			sink.Warn(WarnBreakdownEntry, fmt.Sprintf("unreadable spending breakdown: %v", err))
			return out
		}
		for key, entry := range byKey {
			if isObject(entry) {
				add(key, entry)
			}
		}
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			sink.Warn(WarnBreakdownEntry, fmt.Sprintf("unreadable spending breakdown: %v", err))
			return out
		}
		for _, entry := range list {
			if !isObject(entry) {
				continue
			}
			var tag struct {
				On text `json:"on"`
			}
			if err := json.Unmarshal(entry, &tag); err != nil || tag.On == "" {
				continue
			}
			add(string(tag.On), entry)
		}
	}
	return out
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

// pickRedemption joins the first recommended pointer that names a
// known redemption option.
func pickRedemption(c *rawCard) *Redemption {
	for _, rec := range c.Recommended {
		for _, opt := range c.RedemptionOptions {
			if opt.ID == rec.RedemptionOptionID {
				return &Redemption{
					Method:         string(opt.Method),
					Brand:          string(opt.Brand),
					ConversionRate: opt.ConversionRate.value,
					Note:           string(rec.Note),
				}
			}
		}
	}
	return nil
}

// benefitNote describes what makes up the extra benefits. Terms that
// cannot be read are skipped with a warning.
func benefitNote(c *rawCard, sink WarningSink) string {
	var parts []string

	for _, w := range c.WelcomeBenefits {
		if w.CashValue.invalid {
			sink.Warn(WarnWelcomeBonus, fmt.Sprintf("non-numeric welcome bonus on %s", displayName(c.CardName)))
			continue
		}
		if w.CashValue.value > 0 {
			parts = append(parts, "₹"+formatAmount(w.CashValue.value)+" welcome bonus")
		}
	}

	for _, m := range c.MilestoneBenefits {
		if !m.Eligible {
			continue
		}
		if m.RPBonus.present && m.CashConversion.present {
			switch {
			case m.RPBonus.invalid || m.CashConversion.invalid:
				sink.Warn(WarnMilestoneRewards, fmt.Sprintf("non-numeric milestone bonus on %s", displayName(c.CardName)))
			case m.RPBonus.value != 0 && m.CashConversion.value != 0:
				parts = append(parts, fmt.Sprintf("₹%.0f milestone rewards", m.RPBonus.value*m.CashConversion.value))
			}
		}
		if m.VoucherBonus.truthy() {
			parts = append(parts, "₹"+string(m.VoucherBonus)+" voucher bonus")
		}
	}

	if len(parts) == 0 {
		return ""
	}
	return "Includes: " + strings.Join(parts, ", ")
}

// roi scales net savings by the highest positive Vouchers or Cashback
// conversion rate, falling back to net savings.
func roi(c *rawCard, net float64) float64 {
	best := 0.0
	for _, opt := range c.RedemptionOptions {
		if opt.Method != "Vouchers" && opt.Method != "Cashback" {
			continue
		}
		if opt.ConversionRate.value > best {
			best = opt.ConversionRate.value
		}
	}
	if best > 0 {
		return net * best
	}
	return net
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
