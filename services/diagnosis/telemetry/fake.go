// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/tracehound/tracehound/services/diagnosis/models"
)

// Fake is an in-memory Client for tests and dry runs.
//
// Seed it with events, traces and logs; inject per-method errors to
// exercise the partial-failure paths.
//
// Thread Safety: safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	events []models.ErrorEvent
	traces map[string]*models.TraceTree
	logs   []models.LogEntry

	// FingerprintFn filters events for EventsForFingerprint. Required
	// for that method; the others work without it.
	FingerprintFn func(models.ErrorEvent) string

	// Injected errors, returned once set.
	RecentErrorsErr         error
	TraceErr                error
	CorrelatedLogsErr       error
	EventsForFingerprintErr error

	// Call counters for assertions.
	RecentErrorsCalls int
	TraceCalls        int
	LogsCalls         int
	EventsCalls       int
}

// NewFake creates an empty Fake.
func NewFake() *Fake {
	return &Fake{traces: make(map[string]*models.TraceTree)}
}

// AddEvent seeds an event.
func (f *Fake) AddEvent(ev models.ErrorEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

// AddTrace seeds a trace.
func (f *Fake) AddTrace(t *models.TraceTree) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.traces[t.TraceID] = t
}

// AddLog seeds a log entry.
func (f *Fake) AddLog(l models.LogEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, l)
}

// RecentErrors returns seeded events newer than since, most recent first.
func (f *Fake) RecentErrors(_ context.Context, since time.Time, _ []string, limit int) ([]models.ErrorEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RecentErrorsCalls++
	if f.RecentErrorsErr != nil {
		return nil, f.RecentErrorsErr
	}
	var out []models.ErrorEvent
	for i := len(f.events) - 1; i >= 0; i-- {
		ev := f.events[i]
		if !ev.Timestamp.Before(since) {
			out = append(out, ev)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// Trace returns a seeded trace, or (nil, nil) if absent.
func (f *Fake) Trace(_ context.Context, traceID string) (*models.TraceTree, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TraceCalls++
	if f.TraceErr != nil {
		return nil, f.TraceErr
	}
	return f.traces[traceID], nil
}

// CorrelatedLogs returns seeded logs matching any of the trace IDs.
func (f *Fake) CorrelatedLogs(_ context.Context, traceIDs []string, _ time.Duration) ([]models.LogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LogsCalls++
	if f.CorrelatedLogsErr != nil {
		return nil, f.CorrelatedLogsErr
	}
	want := make(map[string]bool, len(traceIDs))
	for _, id := range traceIDs {
		want[id] = true
	}
	var out []models.LogEntry
	for _, l := range f.logs {
		if want[l.TraceID] {
			out = append(out, l)
		}
	}
	return out, nil
}

// EventsForFingerprint filters seeded events through FingerprintFn.
func (f *Fake) EventsForFingerprint(_ context.Context, fp string, limit int) ([]models.ErrorEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.EventsCalls++
	if f.EventsForFingerprintErr != nil {
		return nil, f.EventsForFingerprintErr
	}
	var out []models.ErrorEvent
	for _, ev := range f.events {
		if f.FingerprintFn != nil && f.FingerprintFn(ev) == fp {
			out = append(out, ev)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

var _ Client = (*Fake)(nil)
