// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

package pipeline

import (
	"bytes"
	"strconv"

	"github.com/goccy/go-json"
)

// The scoring API is loose about types: amounts arrive as numbers or
// numeric strings, identifiers as numbers or strings, explanations as a
// string or a list. The types below absorb that at decode time so the
// ranker works on one canonical shape.

// amount is a numeric field that remembers whether it was sent.
type amount struct {
	value float64
	// present is false for an absent or null field.
	present bool
	// invalid is set when a non-null value could not be read as a number.
	invalid bool
}

func (a *amount) UnmarshalJSON(b []byte) error {
	*a = amount{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	a.present = true

	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		a.value = Coerce(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if v, ok := parseNumeric(s); ok {
			a.value = v
			return nil
		}
		if s == "" {
			return nil
		}
	}
	a.invalid = true
	return nil
}

// text is a scalar rendered as a string: strings verbatim, numbers in
// shortest form, booleans and null as "".
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	*t = ""
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = text(s)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var f float64
		if err := json.Unmarshal(b, &f); err != nil {
			return err
		}
		*t = text(strconv.FormatFloat(f, 'f', -1, 64))
	}
	return nil
}

// truthy reports whether t carries a meaningful value.
func (t text) truthy() bool {
	return t != "" && t != "0"
}

// flag is a boolean that also accepts "true" and 1.
type flag bool

func (f *flag) UnmarshalJSON(b []byte) error {
	switch string(bytes.TrimSpace(b)) {
	case "true", `"true"`, `"True"`, "1":
		*f = true
	default:
		*f = false
	}
	return nil
}

// explanation takes a string, or the first element of a list.
type explanation string

func (e *explanation) UnmarshalJSON(b []byte) error {
	*e = ""
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	if b[0] == '[' {
		var items []text
		if err := json.Unmarshal(b, &items); err != nil {
			return nil
		}
		if len(items) > 0 {
			*e = explanation(items[0])
		}
		return nil
	}
	var t text
	if err := t.UnmarshalJSON(b); err != nil {
		return nil
	}
	*e = explanation(t)
	return nil
}

type welcomeBenefit struct {
	CashValue amount `json:"cash_value"`
}

type milestoneBenefit struct {
	Eligible       flag   `json:"eligible"`
	RPBonus        amount `json:"rpBonus"`
	VoucherBonus   text   `json:"voucherBonus"`
	CashConversion amount `json:"cash_conversion"`
}

type redemptionOption struct {
	ID             text   `json:"id"`
	Method         text   `json:"method"`
	Brand          text   `json:"brand"`
	ConversionRate amount `json:"conversion_rate"`
}

type recommendedRedemption struct {
	RedemptionOptionID text `json:"redemption_option_id"`
	Note               text `json:"note"`
}

type breakdownEntry struct {
	On           text        `json:"on"`
	PointsEarned amount      `json:"points_earned"`
	Savings      amount      `json:"savings"`
	Explanation  explanation `json:"explanation"`
}

// rawCard is one entry of the response's card list as sent.
type rawCard struct {
	CardName           text                    `json:"card_name"`
	TotalSavingsYearly amount                  `json:"total_savings_yearly"`
	JoiningFees        amount                  `json:"joining_fees"`
	TotalExtraBenefits amount                  `json:"total_extra_benefits"`
	WelcomeBenefits    []welcomeBenefit        `json:"welcomeBenefits"`
	MilestoneBenefits  []milestoneBenefit      `json:"milestone_benefits"`
	RedemptionOptions  []redemptionOption      `json:"redemption_options"`
	Recommended        []recommendedRedemption `json:"recommended_redemption_options"`
	SpendingBreakdown  json.RawMessage         `json:"spending_breakdown"`
}
