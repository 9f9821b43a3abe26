// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

package cardgenius

// Payload is the request body accepted by the scoring API. Every category
// is always sent; categories the input does not carry stay at zero.
type Payload struct {
	AmazonSpends        float64 `json:"amazon_spends"`
	FlipkartSpends      float64 `json:"flipkart_spends"`
	GrocerySpendsOnline float64 `json:"grocery_spends_online"`
	OtherOnlineSpends   float64 `json:"other_online_spends"`

	// SelectedCardID is always sent as null: the service ranks every card.
	SelectedCardID *string `json:"selected_card_id"`

	DiningSpends        float64 `json:"dining_spends"`
	FuelSpends          float64 `json:"fuel_spends"`
	TravelSpends        float64 `json:"travel_spends"`
	UtilitySpends       float64 `json:"utility_spends"`
	EntertainmentSpends float64 `json:"entertainment_spends"`
	HealthcareSpends    float64 `json:"healthcare_spends"`
	EducationSpends     float64 `json:"education_spends"`
	InsuranceSpends     float64 `json:"insurance_spends"`
	InvestmentSpends    float64 `json:"investment_spends"`
	OtherSpends         float64 `json:"other_spends"`
}

// Total is the sum of every spend category in the payload.
func (p *Payload) Total() float64 {
	return p.AmazonSpends + p.FlipkartSpends + p.GrocerySpendsOnline + p.OtherOnlineSpends +
		p.DiningSpends + p.FuelSpends + p.TravelSpends + p.UtilitySpends +
		p.EntertainmentSpends + p.HealthcareSpends + p.EducationSpends +
		p.InsuranceSpends + p.InvestmentSpends + p.OtherSpends
}
