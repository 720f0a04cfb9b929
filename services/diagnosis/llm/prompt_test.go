// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracehound/tracehound/services/diagnosis/models"
)

var promptNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func promptSignature(t *testing.T) *models.Signature {
	t.Helper()
	sig, err := models.NewSignature(models.NewSignatureParams{
		Fingerprint:     "fp-1",
		ErrorType:       "ConnectionError",
		Service:         "payment-api",
		MessageTemplate: "connection refused to *:*",
		StackHash:       "sh",
		FirstSeen:       promptNow.Add(-time.Hour),
	})
	require.NoError(t, err)
	return sig
}

func TestParseDiagnosis(t *testing.T) {
	raw := `Here is my analysis:
` + "```json" + `
{"root_cause": "pool exhausted", "suggested_fix": "raise limit", "evidence": ["wait times spiked"], "confidence": "high"}
` + "```"

	d, err := parseDiagnosis(raw, "test-model", 0.03, promptNow)
	require.NoError(t, err)
	assert.Equal(t, "pool exhausted", d.RootCause)
	assert.Equal(t, "raise limit", d.SuggestedFix)
	assert.Equal(t, models.ConfidenceHigh, d.Confidence)
	assert.Equal(t, "test-model", d.Model)
	assert.InDelta(t, 0.03, d.CostUSD, 1e-9)
	assert.Equal(t, promptNow, d.DiagnosedAt)
}

func TestParseDiagnosisErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no json", "I could not determine the cause."},
		{"broken json", `{"root_cause": `},
		{"missing fields", `{"root_cause": "x"}`},
		{"bad confidence", `{"root_cause": "x", "suggested_fix": "y", "evidence": ["z"], "confidence": "MAYBE"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseDiagnosis(tt.raw, "m", 0, promptNow)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrEngineError)
		})
	}
}

func TestBuildPromptSections(t *testing.T) {
	sig := promptSignature(t)
	ev, err := models.NewErrorEvent(models.EventParams{
		TraceID:      "trace-1",
		SpanID:       "span-1",
		Service:      "payment-api",
		ErrorType:    "ConnectionError",
		ErrorMessage: "connection refused to 10.0.0.1:5432",
		Timestamp:    promptNow,
		Frames: []models.StackFrame{
			{Module: "payment", Function: "Charge", Filename: "charge.go"},
		},
	})
	require.NoError(t, err)

	similar := promptSignature(t)
	prompt := buildPrompt(InvestigationContext{
		Signature: sig,
		Events:    []models.ErrorEvent{ev},
		Traces: []*models.TraceTree{{
			TraceID: "trace-1",
			Root: &models.SpanNode{
				Service: "gateway", Operation: "POST /charge", Status: "ERROR",
			},
		}},
		Logs: []models.LogEntry{{
			TraceID: "trace-1", Severity: "ERROR", Body: "pool exhausted", Timestamp: promptNow,
		}},
		Similar:      []*models.Signature{similar},
		CodebasePath: "/src/payment",
	})

	assert.Contains(t, prompt, "payment-api")
	assert.Contains(t, prompt, "connection refused to *:*")
	assert.Contains(t, prompt, "Sample occurrences")
	assert.Contains(t, prompt, "Trace context")
	assert.Contains(t, prompt, "Correlated logs")
	assert.Contains(t, prompt, "Similar signatures")
	assert.Contains(t, prompt, "/src/payment")
	assert.Contains(t, prompt, "payment.Charge")
}

func TestBuildPromptCapsEvents(t *testing.T) {
	sig := promptSignature(t)
	ic := InvestigationContext{Signature: sig}
	for i := 0; i < maxPromptEvents+10; i++ {
		ev, err := models.NewErrorEvent(models.EventParams{
			TraceID: "t", SpanID: "s", Service: "payment-api",
			ErrorType: "E", ErrorMessage: "boom", Timestamp: promptNow,
		})
		require.NoError(t, err)
		ic.Events = append(ic.Events, ev)
	}
	prompt := buildPrompt(ic)
	assert.Equal(t, maxPromptEvents, strings.Count(prompt, "boom"))
}

func TestBuildPromptThinContext(t *testing.T) {
	prompt := buildPrompt(InvestigationContext{Signature: promptSignature(t)})
	assert.NotContains(t, prompt, "Sample occurrences")
	assert.NotContains(t, prompt, "Trace context")
	assert.Contains(t, prompt, "Error signature")
}

func TestPromptTokensEstimate(t *testing.T) {
	assert.Greater(t, promptTokens("x"), 0)
	long := strings.Repeat("a", 4000)
	assert.GreaterOrEqual(t, promptTokens(long), 1000)
}
