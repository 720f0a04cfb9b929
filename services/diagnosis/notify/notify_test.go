// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package notify

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracehound/tracehound/services/diagnosis/models"
	"github.com/tracehound/tracehound/services/diagnosis/store"
)

var notifyBase = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func diagnosedSignature(t *testing.T, service string) *models.Signature {
	t.Helper()
	sig, err := models.NewSignature(models.NewSignatureParams{
		Fingerprint:     "fp-1",
		ErrorType:       "ConnectionError",
		Service:         service,
		MessageTemplate: "connection refused to *:*",
		StackHash:       "sh",
		FirstSeen:       notifyBase,
		Tags:            []string{"critical"},
	})
	require.NoError(t, err)
	d, err := models.NewDiagnosis(models.DiagnosisParams{
		RootCause:    "pool exhausted",
		SuggestedFix: "raise limit",
		Evidence:     []string{"wait time spiked", "retries saturated"},
		Confidence:   models.ConfidenceHigh,
		DiagnosedAt:  notifyBase.Add(time.Hour),
		Model:        "fake",
		CostUSD:      0.04,
	})
	require.NoError(t, err)
	require.NoError(t, sig.MarkInvestigating())
	require.NoError(t, sig.MarkDiagnosed(d))
	return sig
}

func TestStdoutReport(t *testing.T) {
	var buf bytes.Buffer
	sig := diagnosedSignature(t, "payment-api")

	require.NoError(t, NewStdout(&buf).Report(context.Background(), sig))

	out := buf.String()
	assert.Contains(t, out, "=== DIAGNOSIS: payment-api / ConnectionError ===")
	assert.Contains(t, out, sig.ID())
	assert.Contains(t, out, "root cause:  pool exhausted")
	assert.Contains(t, out, "fix:         raise limit")
	assert.Contains(t, out, "evidence: wait time spiked")
	assert.Contains(t, out, "tags:        critical")
}

func TestStdoutReportRequiresDiagnosis(t *testing.T) {
	sig, err := models.NewSignature(models.NewSignatureParams{
		Fingerprint: "fp-1", ErrorType: "E", Service: "svc",
		MessageTemplate: "tmpl", StackHash: "sh", FirstSeen: notifyBase,
	})
	require.NoError(t, err)

	err = NewStdout(&bytes.Buffer{}).Report(context.Background(), sig)
	assert.ErrorIs(t, err, ErrDeliveryFailed)
}

func TestStdoutReportSummary(t *testing.T) {
	var buf bytes.Buffer
	stats := store.Stats{
		Total:             3,
		TotalOccurrences:  12,
		EstimatedSpendUSD: 0.25,
		ByStatus: map[models.Status]int{
			models.StatusNew:       2,
			models.StatusDiagnosed: 1,
		},
	}

	require.NoError(t, NewStdout(&buf).ReportSummary(context.Background(), stats))

	out := buf.String()
	assert.Contains(t, out, "3 total, 12 occurrences, $0.25 spent")
	assert.Contains(t, out, "NEW")
	assert.Contains(t, out, "DIAGNOSED")
}

func TestMarkdownReportWritesFile(t *testing.T) {
	dir := t.TempDir()
	md, err := NewMarkdown(dir)
	require.NoError(t, err)

	sig := diagnosedSignature(t, "payment-api")
	require.NoError(t, md.Report(context.Background(), sig))

	raw, err := os.ReadFile(filepath.Join(dir, "payment-api", sig.ID()+".md"))
	require.NoError(t, err)
	content := string(raw)
	assert.Contains(t, content, "# payment-api: ConnectionError")
	assert.Contains(t, content, "## Root cause")
	assert.Contains(t, content, "pool exhausted")
	assert.Contains(t, content, "- retries saturated")
}

func TestMarkdownSanitizesServiceDir(t *testing.T) {
	dir := t.TempDir()
	md, err := NewMarkdown(dir)
	require.NoError(t, err)

	sig := diagnosedSignature(t, "../evil/svc")
	require.NoError(t, md.Report(context.Background(), sig))

	_, err = os.Stat(filepath.Join(dir, ".._evil_svc", sig.ID()+".md"))
	assert.NoError(t, err)
}

func TestMarkdownRequiresDir(t *testing.T) {
	_, err := NewMarkdown("")
	assert.ErrorIs(t, err, ErrDeliveryFailed)
}

func TestMarkdownSummaryOverwrites(t *testing.T) {
	dir := t.TempDir()
	md, err := NewMarkdown(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, md.ReportSummary(ctx, store.Stats{Total: 1}))
	require.NoError(t, md.ReportSummary(ctx, store.Stats{Total: 2}))

	raw, err := os.ReadFile(filepath.Join(dir, "summary.md"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "| Signatures | 2 |")
	assert.NotContains(t, string(raw), "| Signatures | 1 |")
}

type failingNotifier struct{ err error }

func (f failingNotifier) Report(context.Context, *models.Signature) error  { return f.err }
func (f failingNotifier) ReportSummary(context.Context, store.Stats) error { return f.err }

func TestMultiCollectsFailures(t *testing.T) {
	var buf bytes.Buffer
	boom := errors.New("sink down")
	m := Multi{failingNotifier{err: boom}, NewStdout(&buf)}

	err := m.Report(context.Background(), diagnosedSignature(t, "svc"))
	assert.ErrorIs(t, err, boom)
	// The healthy sink still delivered.
	assert.Contains(t, buf.String(), "=== DIAGNOSIS")

	assert.NoError(t, Multi{NewStdout(&bytes.Buffer{})}.ReportSummary(context.Background(), store.Stats{}))
}
