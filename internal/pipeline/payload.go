// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

package pipeline

import (
	"github.com/tomtom215/cardrank/internal/cardgenius"
	"github.com/tomtom215/cardrank/internal/config"
	"github.com/tomtom215/cardrank/internal/table"
)

// BuildPayload assembles the scoring request for one row. Unresolved
// fields read as zero. other_online_spends is myntra + ajio + confirmed GMV
// in sum_components mode and confirmed GMV alone otherwise.
func BuildPayload(row table.Row, mapping ResolvedMapping, mode string) *cardgenius.Payload {
	value := func(field string) float64 {
		header, ok := mapping.Header(field)
		if !ok {
			return 0
		}
		return Coerce(row[header])
	}

	myntra := value(config.FieldMyntra)
	ajio := value(config.FieldAjio)
	confirmed := value(config.FieldAvgGMV)

	otherOnline := confirmed
	if mode == config.ModeSumComponents {
		otherOnline = myntra + ajio + confirmed
	}

	return &cardgenius.Payload{
		AmazonSpends:        value(config.FieldAmazonSpends),
		FlipkartSpends:      value(config.FieldFlipkartSpends),
		GrocerySpendsOnline: value(config.FieldGrocery),
		OtherOnlineSpends:   otherOnline,
	}
}
