// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tracehound/tracehound/services/diagnosis/models"
)

const systemPrompt = `You are a senior site reliability engineer diagnosing a recurring production error.
Respond with a single JSON object and nothing else, using exactly these keys:
{"root_cause": "...", "suggested_fix": "...", "evidence": ["...", "..."], "confidence": "HIGH|MEDIUM|LOW"}
Ground every evidence line in the provided context. If the context is thin, say so and use LOW confidence.`

// Caps applied when rendering context into the prompt, to keep token
// usage bounded regardless of how much the gatherers returned.
const (
	maxPromptEvents = 5
	maxPromptLogs   = 20
	maxPromptSpans  = 10
)

// buildPrompt renders the investigation context as the user prompt.
func buildPrompt(ic InvestigationContext) string {
	var b strings.Builder
	sig := ic.Signature

	fmt.Fprintf(&b, "## Error signature\n")
	fmt.Fprintf(&b, "- service: %s\n", sig.Service())
	fmt.Fprintf(&b, "- error type: %s\n", sig.ErrorType())
	fmt.Fprintf(&b, "- message template: %s\n", sig.MessageTemplate())
	fmt.Fprintf(&b, "- occurrences: %d (first %s, last %s)\n",
		sig.OccurrenceCount(),
		sig.FirstSeen().Format(time.RFC3339),
		sig.LastSeen().Format(time.RFC3339))
	if tags := sig.Tags(); len(tags) > 0 {
		fmt.Fprintf(&b, "- tags: %s\n", strings.Join(tags, ", "))
	}
	if ic.CodebasePath != "" {
		fmt.Fprintf(&b, "- codebase: %s\n", ic.CodebasePath)
	}

	if n := len(ic.Events); n > 0 {
		fmt.Fprintf(&b, "\n## Sample occurrences (%d of %d)\n", minInt(n, maxPromptEvents), n)
		for i, ev := range ic.Events {
			if i >= maxPromptEvents {
				break
			}
			fmt.Fprintf(&b, "- [%s] %s: %s\n", ev.Timestamp.Format(time.RFC3339), ev.Severity, ev.ErrorMessage)
			for _, f := range ev.Frames {
				fmt.Fprintf(&b, "    at %s.%s (%s)\n", f.Module, f.Function, f.Filename)
			}
		}
	}

	if len(ic.Traces) > 0 {
		fmt.Fprintf(&b, "\n## Trace context\n")
		for _, t := range ic.Traces {
			fmt.Fprintf(&b, "- trace %s: %d spans, error spans:\n", t.TraceID, t.SpanCount())
			for i, sp := range t.ErrorSpans() {
				if i >= maxPromptSpans {
					break
				}
				fmt.Fprintf(&b, "    %s/%s (%.1fms)\n", sp.Service, sp.Operation, sp.DurationMs)
			}
		}
	}

	if n := len(ic.Logs); n > 0 {
		fmt.Fprintf(&b, "\n## Correlated logs (%d of %d)\n", minInt(n, maxPromptLogs), n)
		for i, l := range ic.Logs {
			if i >= maxPromptLogs {
				break
			}
			fmt.Fprintf(&b, "- [%s] %s %s\n", l.Timestamp.Format(time.RFC3339), l.Severity, l.Body)
		}
	}

	if len(ic.Similar) > 0 {
		fmt.Fprintf(&b, "\n## Similar signatures in the same service\n")
		for _, sim := range ic.Similar {
			fmt.Fprintf(&b, "- %s (%d occurrences, status %s): %s\n",
				sim.ErrorType(), sim.OccurrenceCount(), sim.Status(), sim.MessageTemplate())
		}
	}

	b.WriteString("\nDiagnose the root cause and respond with the JSON object.")
	return b.String()
}

// diagnosisPayload is the JSON shape the model is instructed to return.
type diagnosisPayload struct {
	RootCause    string   `json:"root_cause"`
	SuggestedFix string   `json:"suggested_fix"`
	Evidence     []string `json:"evidence"`
	Confidence   string   `json:"confidence"`
}

// parseDiagnosis turns a model response into a validated Diagnosis.
//
// Description:
//
//	Tolerates markdown code fences and surrounding prose by slicing
//	from the first '{' to the last '}'. Anything that fails JSON
//	decoding or domain validation surfaces as ErrEngineError; the
//	caller treats it like any other engine failure.
func parseDiagnosis(raw, model string, costUSD float64, now time.Time) (models.Diagnosis, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return models.Diagnosis{}, fmt.Errorf("%w: response contains no JSON object", ErrEngineError)
	}
	var payload diagnosisPayload
	if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err != nil {
		return models.Diagnosis{}, fmt.Errorf("%w: decode response: %v", ErrEngineError, err)
	}
	conf, err := models.ParseConfidence(payload.Confidence)
	if err != nil {
		return models.Diagnosis{}, fmt.Errorf("%w: %v", ErrEngineError, err)
	}
	d, err := models.NewDiagnosis(models.DiagnosisParams{
		RootCause:    payload.RootCause,
		SuggestedFix: payload.SuggestedFix,
		Evidence:     payload.Evidence,
		Confidence:   conf,
		DiagnosedAt:  now,
		Model:        model,
		CostUSD:      costUSD,
	})
	if err != nil {
		return models.Diagnosis{}, fmt.Errorf("%w: %v", ErrEngineError, err)
	}
	return d, nil
}

// promptTokens is a rough chars/4 token estimate, good enough for the
// advisory budget gate.
func promptTokens(prompt string) int {
	return (len(systemPrompt) + len(prompt)) / 4
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
