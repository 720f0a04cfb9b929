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
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tracehound/tracehound/services/diagnosis/models"
	"github.com/tracehound/tracehound/services/diagnosis/store"
)

// Markdown writes one report file per diagnosed signature under a
// directory, named reports/<service>/<signature-id>.md. Summaries go
// to summary.md, overwritten each time.
//
// Thread Safety: safe for concurrent use.
type Markdown struct {
	mu  sync.Mutex
	dir string
}

// NewMarkdown creates the sink, making the directory if needed.
func NewMarkdown(dir string) (*Markdown, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: report directory required", ErrDeliveryFailed)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return &Markdown{dir: dir}, nil
}

func (m *Markdown) Report(_ context.Context, sig *models.Signature) error {
	d := sig.Diagnosis()
	if d == nil {
		return fmt.Errorf("%w: signature %s has no diagnosis", ErrDeliveryFailed, sig.ID())
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s: %s\n\n", sig.Service(), sig.ErrorType())
	fmt.Fprintf(&b, "- **Signature**: `%s`\n", sig.ID())
	fmt.Fprintf(&b, "- **Fingerprint**: `%s`\n", sig.Fingerprint())
	fmt.Fprintf(&b, "- **Template**: `%s`\n", sig.MessageTemplate())
	fmt.Fprintf(&b, "- **Occurrences**: %d (first %s, last %s)\n",
		sig.OccurrenceCount(),
		sig.FirstSeen().Format(time.RFC3339),
		sig.LastSeen().Format(time.RFC3339))
	if tags := sig.Tags(); len(tags) > 0 {
		fmt.Fprintf(&b, "- **Tags**: %s\n", strings.Join(tags, ", "))
	}
	fmt.Fprintf(&b, "- **Confidence**: %s\n", d.Confidence)
	fmt.Fprintf(&b, "- **Model**: %s ($%.4f)\n", d.Model, d.CostUSD)
	fmt.Fprintf(&b, "- **Diagnosed**: %s\n\n", d.DiagnosedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "## Root cause\n\n%s\n\n", d.RootCause)
	fmt.Fprintf(&b, "## Suggested fix\n\n%s\n\n", d.SuggestedFix)
	b.WriteString("## Evidence\n\n")
	for _, ev := range d.Evidence {
		fmt.Fprintf(&b, "- %s\n", ev)
	}

	svcDir := filepath.Join(m.dir, sanitizePathComponent(sig.Service()))
	path := filepath.Join(svcDir, sig.ID()+".md")

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.MkdirAll(svcDir, 0o750); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o640); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

func (m *Markdown) ReportSummary(_ context.Context, stats store.Stats) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Signature summary\n\n")
	fmt.Fprintf(&b, "Generated %s\n\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Signatures | %d |\n", stats.Total)
	fmt.Fprintf(&b, "| Occurrences | %d |\n", stats.TotalOccurrences)
	fmt.Fprintf(&b, "| Spend (USD) | %.2f |\n", stats.EstimatedSpendUSD)
	for _, st := range models.AllStatuses() {
		if n, ok := stats.ByStatus[st]; ok {
			fmt.Fprintf(&b, "| %s | %d |\n", st, n)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.WriteFile(filepath.Join(m.dir, "summary.md"), []byte(b.String()), 0o640); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

// sanitizePathComponent keeps service names from escaping the report
// directory or producing awkward filenames.
func sanitizePathComponent(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, s)
	if s == "" || s == "." || s == ".." {
		return "unknown"
	}
	return s
}

var _ Notifier = (*Markdown)(nil)
