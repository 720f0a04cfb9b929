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

func validEventParams() EventParams {
	return EventParams{
		TraceID:      "trace-1",
		SpanID:       "span-1",
		Service:      "payment-api",
		ErrorType:    "ConnectionError",
		ErrorMessage: "connection refused",
		Timestamp:    time.Date(2026, 3, 14, 10, 0, 0, 0, time.FixedZone("CET", 3600)),
		Severity:     SeverityError,
	}
}

func TestNewErrorEventNormalizesToUTC(t *testing.T) {
	ev, err := NewErrorEvent(validEventParams())
	require.NoError(t, err)
	assert.Equal(t, time.UTC, ev.Timestamp.Location())
	assert.Equal(t, 9, ev.Timestamp.Hour())
}

func TestNewErrorEventValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*EventParams)
		want   string
	}{
		{"missing trace", func(p *EventParams) { p.TraceID = "  " }, "trace_id"},
		{"missing span", func(p *EventParams) { p.SpanID = "" }, "span_id"},
		{"missing service", func(p *EventParams) { p.Service = "" }, "service"},
		{"missing type", func(p *EventParams) { p.ErrorType = "" }, "error_type"},
		{"missing message", func(p *EventParams) { p.ErrorMessage = "" }, "error_message"},
		{"zero timestamp", func(p *EventParams) { p.Timestamp = time.Time{} }, "timestamp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validEventParams()
			tt.mutate(&p)
			_, err := NewErrorEvent(p)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidEvent)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewErrorEventDefaultsSeverity(t *testing.T) {
	p := validEventParams()
	p.Severity = ""
	ev, err := NewErrorEvent(p)
	require.NoError(t, err)
	assert.Equal(t, SeverityError, ev.Severity)
}

func TestNewErrorEventCopiesAttributes(t *testing.T) {
	p := validEventParams()
	p.Attributes = map[string]any{"pod": "payment-7f9"}
	ev, err := NewErrorEvent(p)
	require.NoError(t, err)

	p.Attributes["pod"] = "mutated"
	v, ok := ev.Attribute("pod")
	require.True(t, ok)
	assert.Equal(t, "payment-7f9", v)

	out := ev.Attributes()
	out["pod"] = "mutated again"
	v, _ = ev.Attribute("pod")
	assert.Equal(t, "payment-7f9", v)
}

func TestParseSeverity(t *testing.T) {
	assert.Equal(t, SeverityDebug, ParseSeverity("trace"))
	assert.Equal(t, SeverityWarn, ParseSeverity("Warning"))
	assert.Equal(t, SeverityFatal, ParseSeverity("CRITICAL"))
	// Unknown labels never drop events; they land at ERROR.
	assert.Equal(t, SeverityError, ParseSeverity("bogus"))
}

func TestNewStackFrameValidation(t *testing.T) {
	_, err := NewStackFrame(" ", "handle", "server.go", 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidEvent)

	f, err := NewStackFrame("api", "handle", "server.go", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, f.Line)
}

func TestNewDiagnosisValidation(t *testing.T) {
	base := DiagnosisParams{
		RootCause:    "pool exhausted",
		SuggestedFix: "raise max_connections",
		Evidence:     []string{"wait time spiked"},
		Confidence:   ConfidenceMedium,
		DiagnosedAt:  time.Now(),
		Model:        "m",
		CostUSD:      0,
	}

	_, err := NewDiagnosis(base)
	require.NoError(t, err)

	p := base
	p.Evidence = []string{"ok", "  "}
	_, err = NewDiagnosis(p)
	assert.ErrorIs(t, err, ErrInvalidDiagnosis)

	p = base
	p.Confidence = "SHAKY"
	_, err = NewDiagnosis(p)
	assert.ErrorIs(t, err, ErrInvalidDiagnosis)

	p = base
	p.CostUSD = -0.01
	_, err = NewDiagnosis(p)
	assert.ErrorIs(t, err, ErrInvalidDiagnosis)
}
