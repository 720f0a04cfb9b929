// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm turns investigation context into diagnoses via an LLM.
//
// The Engine interface is the port; OpenAIEngine talks to any
// OpenAI-compatible API and OllamaEngine to a local Ollama server.
// Engines own their prompt construction, response parsing, per-call
// deadline, rate limiting and advisory cost accounting.
package llm

import (
	"context"
	"errors"

	"github.com/tracehound/tracehound/services/diagnosis/models"
)

// Sentinel errors surfaced by diagnosis engines.
var (
	// ErrTimeout indicates the per-diagnosis deadline elapsed.
	ErrTimeout = errors.New("diagnosis timed out")

	// ErrEngineError indicates the backend failed or returned an
	// unusable response.
	ErrEngineError = errors.New("diagnosis engine error")

	// ErrBudgetExceeded indicates the estimated cost of one diagnosis
	// exceeds the per-diagnosis budget; the call is refused up front.
	ErrBudgetExceeded = errors.New("per-diagnosis budget exceeded")
)

// InvestigationContext is everything gathered for one investigation.
// Any of the context slices may be empty; the engine produces a
// (possibly low-confidence) diagnosis from whatever is present.
type InvestigationContext struct {
	Signature    *models.Signature
	Events       []models.ErrorEvent
	Traces       []*models.TraceTree
	Logs         []models.LogEntry
	Similar      []*models.Signature
	CodebasePath string
}

// Engine is the port to the diagnosis backend.
type Engine interface {
	// Diagnose produces a structured diagnosis from the context.
	//
	// The returned Diagnosis carries the authoritative cost; callers
	// report it to the daily budget tracker.
	Diagnose(ctx context.Context, ic InvestigationContext) (models.Diagnosis, error)

	// EstimateCost returns an advisory USD estimate for diagnosing the
	// context. Used for the per-diagnosis budget gate; the real cost
	// comes back on the Diagnosis.
	EstimateCost(ic InvestigationContext) float64
}
