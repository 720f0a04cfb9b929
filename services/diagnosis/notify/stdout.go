// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package notify

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tracehound/tracehound/services/diagnosis/models"
	"github.com/tracehound/tracehound/services/diagnosis/store"
)

// Stdout writes human-readable reports to a writer, typically the
// daemon's stdout.
//
// Thread Safety: safe for concurrent use.
type Stdout struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStdout creates a Stdout sink writing to w.
func NewStdout(w io.Writer) *Stdout {
	return &Stdout{w: w}
}

func (s *Stdout) Report(_ context.Context, sig *models.Signature) error {
	d := sig.Diagnosis()
	if d == nil {
		return fmt.Errorf("%w: signature %s has no diagnosis", ErrDeliveryFailed, sig.ID())
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== DIAGNOSIS: %s / %s ===\n", sig.Service(), sig.ErrorType())
	fmt.Fprintf(&b, "signature:   %s\n", sig.ID())
	fmt.Fprintf(&b, "template:    %s\n", sig.MessageTemplate())
	fmt.Fprintf(&b, "occurrences: %d (first %s, last %s)\n",
		sig.OccurrenceCount(),
		sig.FirstSeen().Format(time.RFC3339),
		sig.LastSeen().Format(time.RFC3339))
	if tags := sig.Tags(); len(tags) > 0 {
		fmt.Fprintf(&b, "tags:        %s\n", strings.Join(tags, ", "))
	}
	fmt.Fprintf(&b, "confidence:  %s (model %s, $%.4f)\n", d.Confidence, d.Model, d.CostUSD)
	fmt.Fprintf(&b, "root cause:  %s\n", d.RootCause)
	fmt.Fprintf(&b, "fix:         %s\n", d.SuggestedFix)
	for _, ev := range d.Evidence {
		fmt.Fprintf(&b, "  evidence: %s\n", ev)
	}
	b.WriteString("\n")

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, b.String()); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

func (s *Stdout) ReportSummary(_ context.Context, stats store.Stats) error {
	var b strings.Builder
	fmt.Fprintf(&b, "--- signature summary: %d total, %d occurrences, $%.2f spent ---\n",
		stats.Total, stats.TotalOccurrences, stats.EstimatedSpendUSD)
	statuses := make([]string, 0, len(stats.ByStatus))
	for st := range stats.ByStatus {
		statuses = append(statuses, string(st))
	}
	sort.Strings(statuses)
	for _, st := range statuses {
		fmt.Fprintf(&b, "  %-14s %d\n", st, stats.ByStatus[models.Status(st)])
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, b.String()); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

var _ Notifier = (*Stdout)(nil)
