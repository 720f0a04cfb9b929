// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package telemetry is the port to observability backends.
//
// The daemon core only sees the Client interface; concrete adapters
// (SigNoz today, Jaeger or Grafana tomorrow) translate backend APIs
// into domain events, traces and logs. A Fake implementation backs
// tests and dry runs.
package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/tracehound/tracehound/services/diagnosis/models"
)

// Sentinel errors surfaced by telemetry adapters.
var (
	// ErrUnavailable indicates the backend rejected or failed the request.
	ErrUnavailable = errors.New("telemetry backend unavailable")

	// ErrTimeout indicates the per-call deadline elapsed.
	ErrTimeout = errors.New("telemetry request timed out")
)

// Client fetches error events and correlated context from a backend.
//
// All methods honor ctx cancellation and carry per-call deadlines set
// by the adapter. Failures surface as ErrUnavailable or ErrTimeout;
// callers degrade gracefully per the investigation protocol.
type Client interface {
	// RecentErrors returns error events since the given instant, most
	// recent first, truncated to limit. An empty services slice means
	// all services.
	RecentErrors(ctx context.Context, since time.Time, services []string, limit int) ([]models.ErrorEvent, error)

	// Trace fetches the span tree for a trace. A missing trace is not
	// an error: (nil, nil).
	Trace(ctx context.Context, traceID string) (*models.TraceTree, error)

	// CorrelatedLogs returns log entries for the given traces within
	// the window around their spans.
	CorrelatedLogs(ctx context.Context, traceIDs []string, window time.Duration) ([]models.LogEntry, error)

	// EventsForFingerprint returns recent events whose fingerprint
	// matches fp, up to limit.
	EventsForFingerprint(ctx context.Context, fp string, limit int) ([]models.ErrorEvent, error)
}
