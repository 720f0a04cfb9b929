// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scheduler

import (
	"sync"
	"time"
)

// DailyBudget tracks advisory diagnosis spend against a per-UTC-day
// cap.
//
// The cap is checked before an investigation launches, not during: an
// investigation admitted under budget runs to completion even if its
// cost pushes the day over. The overshoot is bounded by one diagnosis.
// The counter resets at UTC midnight; spend is in-memory only and
// resets on restart.
//
// Thread Safety: safe for concurrent use.
type DailyBudget struct {
	mu       sync.Mutex
	limitUSD float64
	spentUSD float64
	day      time.Time
	nowFn    func() time.Time
}

// NewDailyBudget creates a budget with the given daily cap. A
// non-positive cap disables investigations entirely.
func NewDailyBudget(limitUSD float64) *DailyBudget {
	return &DailyBudget{
		limitUSD: limitUSD,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// Record adds the authoritative cost of one completed diagnosis.
// Implements investigate.CostReporter.
func (b *DailyBudget) Record(costUSD float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	b.spentUSD += costUSD
}

// SpentToday returns the spend recorded for the current UTC day.
func (b *DailyBudget) SpentToday() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	return b.spentUSD
}

// Exhausted reports whether the day's spend has reached the cap.
func (b *DailyBudget) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	return b.spentUSD >= b.limitUSD
}

// LimitUSD returns the configured cap.
func (b *DailyBudget) LimitUSD() float64 {
	return b.limitUSD
}

// rollover resets the counter when the UTC day has changed. Caller
// holds the mutex.
func (b *DailyBudget) rollover() {
	day := b.nowFn().Truncate(24 * time.Hour)
	if !day.Equal(b.day) {
		b.day = day
		b.spentUSD = 0
	}
}
