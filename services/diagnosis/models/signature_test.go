// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sigBase = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func newTestSignature(t *testing.T) *Signature {
	t.Helper()
	sig, err := NewSignature(NewSignatureParams{
		Fingerprint:     "aabbccdd",
		ErrorType:       "ConnectionError",
		Service:         "payment-api",
		MessageTemplate: "connection refused to *:*",
		StackHash:       "deadbeef",
		FirstSeen:       sigBase,
	})
	require.NoError(t, err)
	return sig
}

func testDiagnosis(t *testing.T) Diagnosis {
	t.Helper()
	d, err := NewDiagnosis(DiagnosisParams{
		RootCause:    "connection pool exhausted",
		SuggestedFix: "raise max_connections",
		Evidence:     []string{"pool wait time spiked before each failure"},
		Confidence:   ConfidenceHigh,
		DiagnosedAt:  sigBase.Add(time.Hour),
		Model:        "test-model",
		CostUSD:      0.02,
	})
	require.NoError(t, err)
	return d
}

func TestNewSignatureStartsNew(t *testing.T) {
	sig := newTestSignature(t)

	assert.NotEmpty(t, sig.ID())
	assert.Equal(t, StatusNew, sig.Status())
	assert.Equal(t, int64(1), sig.OccurrenceCount())
	assert.Equal(t, sig.FirstSeen(), sig.LastSeen())
	assert.Nil(t, sig.Diagnosis())
}

func TestNewSignatureRejectsMissingFields(t *testing.T) {
	_, err := NewSignature(NewSignatureParams{
		ErrorType: "ConnectionError",
		Service:   "payment-api",
		FirstSeen: sigBase,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSignatureState)
	assert.Contains(t, err.Error(), "fingerprint")
}

func TestRecordOccurrence(t *testing.T) {
	sig := newTestSignature(t)

	require.NoError(t, sig.RecordOccurrence(sigBase.Add(time.Minute)))
	assert.Equal(t, int64(2), sig.OccurrenceCount())
	assert.Equal(t, sigBase.Add(time.Minute), sig.LastSeen())

	// Out-of-order inside the window still counts but does not move lastSeen.
	require.NoError(t, sig.RecordOccurrence(sigBase.Add(30*time.Second)))
	assert.Equal(t, int64(3), sig.OccurrenceCount())
	assert.Equal(t, sigBase.Add(time.Minute), sig.LastSeen())
}

func TestRecordOccurrenceRejectsClockSkew(t *testing.T) {
	sig := newTestSignature(t)

	err := sig.RecordOccurrence(sigBase.Add(-time.Second))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrClockSkew)
	assert.Equal(t, int64(1), sig.OccurrenceCount())
	assert.Equal(t, sigBase, sig.LastSeen())
}

func TestLifecycleHappyPath(t *testing.T) {
	sig := newTestSignature(t)

	require.NoError(t, sig.MarkInvestigating())
	assert.Equal(t, StatusInvestigating, sig.Status())

	// Idempotent re-mark.
	require.NoError(t, sig.MarkInvestigating())

	require.NoError(t, sig.MarkDiagnosed(testDiagnosis(t)))
	assert.Equal(t, StatusDiagnosed, sig.Status())
	require.NotNil(t, sig.Diagnosis())

	require.NoError(t, sig.MarkResolved("fixed in v1.2.3"))
	assert.Equal(t, StatusResolved, sig.Status())
	assert.Equal(t, "fixed in v1.2.3", sig.ResolutionNote())
	// Diagnosis survives resolution.
	assert.NotNil(t, sig.Diagnosis())
}

func TestRevertToNewOnlyFromInvestigating(t *testing.T) {
	sig := newTestSignature(t)
	err := sig.RevertToNew()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, sig.MarkInvestigating())
	require.NoError(t, sig.RevertToNew())
	assert.Equal(t, StatusNew, sig.Status())
	assert.Nil(t, sig.Diagnosis())
}

func TestTerminalStatesRejectMutation(t *testing.T) {
	sig := newTestSignature(t)
	require.NoError(t, sig.MarkInvestigating())
	require.NoError(t, sig.MarkDiagnosed(testDiagnosis(t)))
	require.NoError(t, sig.MarkMuted("known noisy dependency"))

	assert.ErrorIs(t, sig.MarkInvestigating(), ErrInvalidTransition)
	assert.ErrorIs(t, sig.MarkResolved("nope"), ErrInvalidTransition)
	assert.ErrorIs(t, sig.Retriage(), ErrInvalidTransition)
	// Occurrence accounting is orthogonal to status.
	require.NoError(t, sig.RecordOccurrence(sigBase.Add(time.Hour)))
}

func TestRetriageClearsDiagnosis(t *testing.T) {
	sig := newTestSignature(t)
	require.NoError(t, sig.MarkInvestigating())
	require.NoError(t, sig.MarkDiagnosed(testDiagnosis(t)))

	require.NoError(t, sig.Retriage())
	assert.Equal(t, StatusNew, sig.Status())
	assert.Nil(t, sig.Diagnosis())
}

func TestDirectDiagnosisFromNew(t *testing.T) {
	sig := newTestSignature(t)
	require.NoError(t, sig.MarkDiagnosed(testDiagnosis(t)))
	assert.Equal(t, StatusDiagnosed, sig.Status())
}

func TestDiagnosisAccessorReturnsCopy(t *testing.T) {
	sig := newTestSignature(t)
	require.NoError(t, sig.MarkDiagnosed(testDiagnosis(t)))

	d := sig.Diagnosis()
	d.Evidence[0] = "tampered"
	d.RootCause = "tampered"

	fresh := sig.Diagnosis()
	assert.Equal(t, "connection pool exhausted", fresh.RootCause)
	assert.Equal(t, "pool wait time spiked before each failure", fresh.Evidence[0])
}

func TestCloneIsIndependent(t *testing.T) {
	sig := newTestSignature(t)
	sig.AddTag("critical")

	clone := sig.Clone()
	clone.AddTag("flaky-test")
	require.NoError(t, clone.RecordOccurrence(sigBase.Add(time.Minute)))

	assert.False(t, sig.HasTag("flaky-test"))
	assert.Equal(t, int64(1), sig.OccurrenceCount())
	assert.Equal(t, []string{"critical"}, sig.Tags())
}

func TestRehydrateRoundTrip(t *testing.T) {
	d := testDiagnosis(t)
	sig, err := Rehydrate(RehydrateParams{
		ID:              "sig-1",
		Fingerprint:     "aabbccdd",
		ErrorType:       "ConnectionError",
		Service:         "payment-api",
		MessageTemplate: "connection refused to *:*",
		StackHash:       "deadbeef",
		FirstSeen:       sigBase,
		LastSeen:        sigBase.Add(time.Hour),
		OccurrenceCount: 12,
		Status:          StatusDiagnosed,
		Diagnosis:       &d,
		Tags:            []string{"critical"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12), sig.OccurrenceCount())
	assert.True(t, sig.HasTag("critical"))
	require.NotNil(t, sig.Diagnosis())
}

func TestRehydrateToleratesDegradedDiagnosedRow(t *testing.T) {
	// A DIAGNOSED row whose diagnosis payload was unreadable arrives
	// with a nil diagnosis; the aggregate must stay loadable.
	sig, err := Rehydrate(RehydrateParams{
		ID:              "sig-1",
		Fingerprint:     "aabbccdd",
		ErrorType:       "ConnectionError",
		Service:         "payment-api",
		FirstSeen:       sigBase,
		LastSeen:        sigBase,
		OccurrenceCount: 1,
		Status:          StatusDiagnosed,
	})
	require.NoError(t, err)
	assert.Nil(t, sig.Diagnosis())
}

func TestRehydrateRejectsDiagnosisOnNew(t *testing.T) {
	d := testDiagnosis(t)
	_, err := Rehydrate(RehydrateParams{
		ID:              "sig-1",
		Fingerprint:     "aabbccdd",
		ErrorType:       "ConnectionError",
		Service:         "payment-api",
		FirstSeen:       sigBase,
		LastSeen:        sigBase,
		OccurrenceCount: 1,
		Status:          StatusNew,
		Diagnosis:       &d,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSignatureState)
}

func TestStateMachineGraph(t *testing.T) {
	sm := Lifecycle()

	assert.True(t, sm.CanTransition(StatusNew, StatusInvestigating))
	assert.True(t, sm.CanTransition(StatusNew, StatusDiagnosed))
	assert.True(t, sm.CanTransition(StatusInvestigating, StatusInvestigating))
	assert.True(t, sm.CanTransition(StatusInvestigating, StatusNew))
	assert.True(t, sm.CanTransition(StatusDiagnosed, StatusNew))

	assert.False(t, sm.CanTransition(StatusNew, StatusResolved))
	assert.False(t, sm.CanTransition(StatusResolved, StatusNew))
	assert.False(t, sm.CanTransition(StatusMuted, StatusDiagnosed))

	assert.True(t, sm.IsTerminal(StatusResolved))
	assert.True(t, sm.IsTerminal(StatusMuted))
	assert.False(t, sm.IsTerminal(StatusDiagnosed))
}
