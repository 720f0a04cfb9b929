// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package triage holds the pure decision layer: whether a signature
// deserves an investigation, whether a diagnosis deserves a
// notification, and how urgent a signature is relative to its peers.
//
// Nothing here performs I/O; every function is a pure view over a
// signature snapshot plus a validated Config.
package triage

import (
	"errors"
	"fmt"
	"time"

	"github.com/tracehound/tracehound/services/diagnosis/models"
)

// Well-known tags with triage semantics.
const (
	// TagCritical forces notification regardless of confidence and adds
	// a large priority bonus.
	TagCritical = "critical"

	// TagFlakyTest marks noise from unstable test infrastructure and
	// subtracts priority.
	TagFlakyTest = "flaky-test"
)

// ErrInvalidConfig indicates a triage configuration that fails validation.
var ErrInvalidConfig = errors.New("invalid triage config")

// Config tunes the triage policy. Construct with NewConfig; a zero
// Config is not valid.
type Config struct {
	// MinOccurrenceForInvestigation is how many sightings a NEW
	// signature needs before it is worth spending diagnosis budget on.
	MinOccurrenceForInvestigation int64

	// IgnoreTags suppresses investigation for signatures carrying any
	// of these tags.
	IgnoreTags []string
}

// NewConfig validates and returns a triage Config.
//
// Outputs:
//
//	Config - The validated config.
//	error - ErrInvalidConfig if any threshold is not positive.
func NewConfig(minOccurrence int64, ignoreTags []string) (Config, error) {
	if minOccurrence <= 0 {
		return Config{}, fmt.Errorf("%w: min_occurrence_for_investigation must be > 0, got %d",
			ErrInvalidConfig, minOccurrence)
	}
	return Config{
		MinOccurrenceForInvestigation: minOccurrence,
		IgnoreTags:                    append([]string(nil), ignoreTags...),
	}, nil
}

// ShouldInvestigate decides whether a signature warrants an investigation.
//
// True iff the signature is NEW, has reached the occurrence threshold,
// and carries none of the ignore tags.
func ShouldInvestigate(sig *models.Signature, cfg Config) bool {
	if sig.Status() != models.StatusNew {
		return false
	}
	if sig.OccurrenceCount() < cfg.MinOccurrenceForInvestigation {
		return false
	}
	for _, t := range cfg.IgnoreTags {
		if sig.HasTag(t) {
			return false
		}
	}
	return true
}

// ShouldNotify decides whether a completed diagnosis is worth reporting.
//
// Low-confidence diagnoses are noise unless the signature is tagged
// critical, in which case operators always hear about it.
func ShouldNotify(sig *models.Signature, d models.Diagnosis) bool {
	return d.Confidence != models.ConfidenceLow || sig.HasTag(TagCritical)
}

// Priority scores a signature's urgency; higher is more urgent.
//
// Description:
//
//	priority = min(occurrenceCount, 100) + recencyBonus + statusBonus + tagBonus
//
//	recencyBonus: 50 when last seen strictly less than 1h ago,
//	25 when strictly less than 24h ago, else 0. statusBonus: 50 for
//	NEW. tagBonus: +100 for critical, -20 for flaky-test (signed sum).
//
// Inputs:
//
//	sig - Signature snapshot.
//	now - The reference instant; passed in so the function stays pure.
func Priority(sig *models.Signature, now time.Time) int {
	score := int(min64(sig.OccurrenceCount(), 100))

	age := now.UTC().Sub(sig.LastSeen())
	switch {
	case age < time.Hour:
		score += 50
	case age < 24*time.Hour:
		score += 25
	}

	if sig.Status() == models.StatusNew {
		score += 50
	}

	if sig.HasTag(TagCritical) {
		score += 100
	}
	if sig.HasTag(TagFlakyTest) {
		score -= 20
	}
	return score
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
