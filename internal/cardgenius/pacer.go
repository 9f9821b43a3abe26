// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

package cardgenius

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces row-level API calls across the whole run. It is shared by
// every worker, so the aggregate rate holds however many rows are in flight.
// The first Wait returns immediately and nothing waits after the last row.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer allows one call per interval. A zero interval disables pacing.
func NewPacer(interval time.Duration) *Pacer {
	if interval <= 0 {
		return &Pacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next call may start or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}
