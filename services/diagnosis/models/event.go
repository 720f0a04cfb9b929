// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package models defines the domain model for the error-diagnosis daemon.
//
// Everything here is a by-value object except Signature, which is the
// single mutable aggregate. Value objects validate at construction so
// that downstream logic (fingerprinting, triage, investigation) never
// has to re-check them.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Severity classifies error event severity, ordered from least to most severe.
type Severity string

const (
	SeverityDebug Severity = "DEBUG"
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
	SeverityFatal Severity = "FATAL"
)

// ParseSeverity maps a string to a Severity, case-insensitively.
//
// Unknown values map to SeverityError so that backend adapters never
// drop an event over a severity label they do not recognize.
func ParseSeverity(s string) Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG", "TRACE":
		return SeverityDebug
	case "INFO":
		return SeverityInfo
	case "WARN", "WARNING":
		return SeverityWarn
	case "FATAL", "CRITICAL":
		return SeverityFatal
	default:
		return SeverityError
	}
}

// StackFrame is one frame of a stack trace. Module, Function and
// Filename are always non-empty; Line is 0 when unknown.
type StackFrame struct {
	Module   string
	Function string
	Filename string
	Line     int
}

// NewStackFrame builds a validated StackFrame.
//
// Inputs:
//
//	module, function, filename - Frame location. Trimmed; must be non-empty.
//	line - Source line, or 0 when the backend did not report one.
//
// Outputs:
//
//	StackFrame - The validated frame.
//	error - ErrInvalidEvent if any required field is empty after trimming.
func NewStackFrame(module, function, filename string, line int) (StackFrame, error) {
	f := StackFrame{
		Module:   strings.TrimSpace(module),
		Function: strings.TrimSpace(function),
		Filename: strings.TrimSpace(filename),
		Line:     line,
	}
	if f.Module == "" {
		return StackFrame{}, fmt.Errorf("%w: stack frame module is empty", ErrInvalidEvent)
	}
	if f.Function == "" {
		return StackFrame{}, fmt.Errorf("%w: stack frame function is empty", ErrInvalidEvent)
	}
	if f.Filename == "" {
		return StackFrame{}, fmt.Errorf("%w: stack frame filename is empty", ErrInvalidEvent)
	}
	return f, nil
}

// ErrorEvent is an immutable error occurrence reported by a telemetry
// backend. Construct with NewErrorEvent; treat as read-only afterwards.
type ErrorEvent struct {
	TraceID      string
	SpanID       string
	Service      string
	ErrorType    string
	ErrorMessage string
	Frames       []StackFrame
	Timestamp    time.Time
	Severity     Severity

	attrs map[string]any
}

// EventParams carries the inputs to NewErrorEvent.
type EventParams struct {
	TraceID      string
	SpanID       string
	Service      string
	ErrorType    string
	ErrorMessage string
	Frames       []StackFrame
	Timestamp    time.Time
	Severity     Severity
	Attributes   map[string]any
}

// NewErrorEvent builds a validated, immutable ErrorEvent.
//
// Description:
//
//	Validates that the identifying strings are non-empty and that the
//	timestamp is set. The timestamp is normalized to UTC; a zero
//	timestamp is rejected at this boundary so the rest of the pipeline
//	never sees one. Frames and attributes are copied.
//
// Outputs:
//
//	ErrorEvent - The validated event.
//	error - ErrInvalidEvent naming the offending field.
func NewErrorEvent(p EventParams) (ErrorEvent, error) {
	ev := ErrorEvent{
		TraceID:      strings.TrimSpace(p.TraceID),
		SpanID:       strings.TrimSpace(p.SpanID),
		Service:      strings.TrimSpace(p.Service),
		ErrorType:    strings.TrimSpace(p.ErrorType),
		ErrorMessage: strings.TrimSpace(p.ErrorMessage),
		Severity:     p.Severity,
	}
	switch {
	case ev.TraceID == "":
		return ErrorEvent{}, fmt.Errorf("%w: trace_id is empty", ErrInvalidEvent)
	case ev.SpanID == "":
		return ErrorEvent{}, fmt.Errorf("%w: span_id is empty", ErrInvalidEvent)
	case ev.Service == "":
		return ErrorEvent{}, fmt.Errorf("%w: service is empty", ErrInvalidEvent)
	case ev.ErrorType == "":
		return ErrorEvent{}, fmt.Errorf("%w: error_type is empty", ErrInvalidEvent)
	case ev.ErrorMessage == "":
		return ErrorEvent{}, fmt.Errorf("%w: error_message is empty", ErrInvalidEvent)
	case p.Timestamp.IsZero():
		return ErrorEvent{}, fmt.Errorf("%w: timestamp is zero", ErrInvalidEvent)
	}
	ev.Timestamp = p.Timestamp.UTC()

	if ev.Severity == "" {
		ev.Severity = SeverityError
	}

	if len(p.Frames) > 0 {
		ev.Frames = make([]StackFrame, len(p.Frames))
		copy(ev.Frames, p.Frames)
	}
	if len(p.Attributes) > 0 {
		ev.attrs = make(map[string]any, len(p.Attributes))
		for k, v := range p.Attributes {
			ev.attrs[k] = v
		}
	}
	return ev, nil
}

// Attribute returns a single attribute value.
func (e ErrorEvent) Attribute(key string) (any, bool) {
	v, ok := e.attrs[key]
	return v, ok
}

// Attributes returns a copy of the attribute map. The event's own map
// is never exposed.
func (e ErrorEvent) Attributes() map[string]any {
	if len(e.attrs) == 0 {
		return nil
	}
	out := make(map[string]any, len(e.attrs))
	for k, v := range e.attrs {
		out[k] = v
	}
	return out
}
