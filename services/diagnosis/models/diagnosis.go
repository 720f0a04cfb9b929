// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package models

import (
	"fmt"
	"strings"
	"time"
)

// Confidence grades how certain the diagnosis engine is of a root cause.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// ParseConfidence maps a string to a Confidence, case-insensitively.
//
// Outputs:
//
//	Confidence - The parsed value.
//	error - ErrInvalidDiagnosis for unknown values.
func ParseConfidence(s string) (Confidence, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HIGH":
		return ConfidenceHigh, nil
	case "MEDIUM":
		return ConfidenceMedium, nil
	case "LOW":
		return ConfidenceLow, nil
	default:
		return "", fmt.Errorf("%w: unknown confidence %q", ErrInvalidDiagnosis, s)
	}
}

// Diagnosis is the immutable output of one diagnosis engine invocation.
type Diagnosis struct {
	RootCause    string
	SuggestedFix string
	Evidence     []string
	Confidence   Confidence
	DiagnosedAt  time.Time
	Model        string
	CostUSD      float64
}

// DiagnosisParams carries the inputs to NewDiagnosis.
type DiagnosisParams struct {
	RootCause    string
	SuggestedFix string
	Evidence     []string
	Confidence   Confidence
	DiagnosedAt  time.Time
	Model        string
	CostUSD      float64
}

// NewDiagnosis builds a validated Diagnosis.
//
// Description:
//
//	Requires non-empty root cause, suggested fix and at least one
//	non-empty evidence line. DiagnosedAt is normalized to UTC; cost
//	must be non-negative (it is advisory, reported by the engine).
//
// Outputs:
//
//	Diagnosis - The validated diagnosis.
//	error - ErrInvalidDiagnosis naming the offending field.
func NewDiagnosis(p DiagnosisParams) (Diagnosis, error) {
	d := Diagnosis{
		RootCause:    strings.TrimSpace(p.RootCause),
		SuggestedFix: strings.TrimSpace(p.SuggestedFix),
		Confidence:   p.Confidence,
		Model:        strings.TrimSpace(p.Model),
		CostUSD:      p.CostUSD,
	}
	if d.RootCause == "" {
		return Diagnosis{}, fmt.Errorf("%w: root_cause is empty", ErrInvalidDiagnosis)
	}
	if d.SuggestedFix == "" {
		return Diagnosis{}, fmt.Errorf("%w: suggested_fix is empty", ErrInvalidDiagnosis)
	}
	if len(p.Evidence) == 0 {
		return Diagnosis{}, fmt.Errorf("%w: evidence is empty", ErrInvalidDiagnosis)
	}
	d.Evidence = make([]string, 0, len(p.Evidence))
	for i, e := range p.Evidence {
		e = strings.TrimSpace(e)
		if e == "" {
			return Diagnosis{}, fmt.Errorf("%w: evidence[%d] is empty", ErrInvalidDiagnosis, i)
		}
		d.Evidence = append(d.Evidence, e)
	}
	switch p.Confidence {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
	default:
		return Diagnosis{}, fmt.Errorf("%w: unknown confidence %q", ErrInvalidDiagnosis, p.Confidence)
	}
	if p.DiagnosedAt.IsZero() {
		return Diagnosis{}, fmt.Errorf("%w: diagnosed_at is zero", ErrInvalidDiagnosis)
	}
	d.DiagnosedAt = p.DiagnosedAt.UTC()
	if p.CostUSD < 0 {
		return Diagnosis{}, fmt.Errorf("%w: cost_usd is negative", ErrInvalidDiagnosis)
	}
	return d, nil
}
