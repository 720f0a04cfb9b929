// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDailyBudgetAccumulates(t *testing.T) {
	b := NewDailyBudget(5.0)
	assert.False(t, b.Exhausted())
	assert.Zero(t, b.SpentToday())

	b.Record(1.5)
	b.Record(2.0)
	assert.InDelta(t, 3.5, b.SpentToday(), 1e-9)
	assert.False(t, b.Exhausted())

	// The diagnosis that crosses the cap is still recorded in full;
	// only later launches are blocked.
	b.Record(2.0)
	assert.InDelta(t, 5.5, b.SpentToday(), 1e-9)
	assert.True(t, b.Exhausted())
}

func TestDailyBudgetExhaustedAtExactCap(t *testing.T) {
	b := NewDailyBudget(1.0)
	b.Record(1.0)
	assert.True(t, b.Exhausted())
}

func TestDailyBudgetZeroCapDisables(t *testing.T) {
	b := NewDailyBudget(0)
	assert.True(t, b.Exhausted())
	assert.Zero(t, b.LimitUSD())
}

func TestDailyBudgetResetsAtUTCMidnight(t *testing.T) {
	now := time.Date(2026, 3, 14, 23, 50, 0, 0, time.UTC)
	b := NewDailyBudget(5.0)
	b.nowFn = func() time.Time { return now }

	b.Record(5.0)
	assert.True(t, b.Exhausted())

	// Ten minutes later it is a new UTC day.
	now = time.Date(2026, 3, 15, 0, 0, 1, 0, time.UTC)
	assert.False(t, b.Exhausted())
	assert.Zero(t, b.SpentToday())

	b.Record(1.0)
	assert.InDelta(t, 1.0, b.SpentToday(), 1e-9)
}
