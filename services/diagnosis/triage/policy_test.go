// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package triage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracehound/tracehound/services/diagnosis/models"
)

var now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// sigWith builds a signature with the given occurrence count and last
// seen instant, via the domain constructors.
func sigWith(t *testing.T, count int64, lastSeen time.Time, tags ...string) *models.Signature {
	t.Helper()
	first := lastSeen
	if count > 1 {
		first = lastSeen.Add(-time.Duration(count) * time.Minute)
	}
	sig, err := models.NewSignature(models.NewSignatureParams{
		Fingerprint:     "fp",
		ErrorType:       "ConnectionError",
		Service:         "payment-api",
		MessageTemplate: "tmpl",
		StackHash:       "sh",
		FirstSeen:       first,
		Tags:            tags,
	})
	require.NoError(t, err)
	for i := int64(1); i < count-1; i++ {
		require.NoError(t, sig.RecordOccurrence(first.Add(time.Duration(i)*time.Minute)))
	}
	if count > 1 {
		require.NoError(t, sig.RecordOccurrence(lastSeen))
	}
	return sig
}

func TestNewConfigValidation(t *testing.T) {
	_, err := NewConfig(0, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg, err := NewConfig(3, []string{"flaky-test"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), cfg.MinOccurrenceForInvestigation)
}

func TestShouldInvestigate(t *testing.T) {
	cfg, err := NewConfig(3, []string{TagFlakyTest})
	require.NoError(t, err)

	below := sigWith(t, 2, now)
	assert.False(t, ShouldInvestigate(below, cfg))

	at := sigWith(t, 3, now)
	assert.True(t, ShouldInvestigate(at, cfg))

	ignored := sigWith(t, 10, now, TagFlakyTest)
	assert.False(t, ShouldInvestigate(ignored, cfg))

	investigating := sigWith(t, 10, now)
	require.NoError(t, investigating.MarkInvestigating())
	assert.False(t, ShouldInvestigate(investigating, cfg))
}

func TestShouldNotify(t *testing.T) {
	sig := sigWith(t, 5, now)
	low := models.Diagnosis{Confidence: models.ConfidenceLow}
	high := models.Diagnosis{Confidence: models.ConfidenceHigh}

	assert.True(t, ShouldNotify(sig, high))
	assert.False(t, ShouldNotify(sig, low))

	critical := sigWith(t, 5, now, TagCritical)
	assert.True(t, ShouldNotify(critical, low))
}

func TestPriorityFormula(t *testing.T) {
	// 5 occurrences, seen 30m ago, NEW: 5 + 50 + 50.
	sig := sigWith(t, 5, now.Add(-30*time.Minute))
	assert.Equal(t, 105, Priority(sig, now))

	// Seen 12h ago: recency drops to 25.
	stale := sigWith(t, 5, now.Add(-12*time.Hour))
	assert.Equal(t, 80, Priority(stale, now))

	// Seen 3 days ago: no recency bonus.
	old := sigWith(t, 5, now.Add(-72*time.Hour))
	assert.Equal(t, 55, Priority(old, now))
}

func TestPriorityBoundariesAreStrict(t *testing.T) {
	// Exactly 1h old gets the 24h bonus, not the 1h bonus.
	hour := sigWith(t, 1, now.Add(-time.Hour))
	assert.Equal(t, 1+25+50, Priority(hour, now))

	// Exactly 24h old gets no recency bonus.
	day := sigWith(t, 1, now.Add(-24*time.Hour))
	assert.Equal(t, 1+50, Priority(day, now))
}

func TestPriorityOccurrenceCap(t *testing.T) {
	big := sigWith(t, 5000, now)
	assert.Equal(t, 100+50+50, Priority(big, now))
}

func TestPriorityTagAdjustments(t *testing.T) {
	critical := sigWith(t, 10, now, TagCritical)
	assert.Equal(t, 10+50+50+100, Priority(critical, now))

	flaky := sigWith(t, 10, now, TagFlakyTest)
	assert.Equal(t, 10+50+50-20, Priority(flaky, now))

	both := sigWith(t, 10, now, TagCritical, TagFlakyTest)
	assert.Equal(t, 10+50+50+100-20, Priority(both, now))
}

func TestPriorityStatusBonusOnlyForNew(t *testing.T) {
	sig := sigWith(t, 10, now)
	require.NoError(t, sig.MarkInvestigating())
	assert.Equal(t, 10+50, Priority(sig, now))
}
