// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracehound/tracehound/services/diagnosis/models"
)

func newTestSigNoz(t *testing.T, handler http.HandlerFunc) *SigNoz {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s, err := NewSigNoz(SigNozConfig{
		BaseURL:       srv.URL,
		APIKey:        "test-key",
		FingerprintFn: func(ev models.ErrorEvent) string { return ev.ErrorType },
	})
	require.NoError(t, err)
	return s
}

func TestNewSigNozValidation(t *testing.T) {
	_, err := NewSigNoz(SigNozConfig{})
	assert.Error(t, err)

	_, err = NewSigNoz(SigNozConfig{BaseURL: "http://localhost:3301"})
	assert.Error(t, err)
}

func TestRecentErrorsParsesAndValidates(t *testing.T) {
	var gotPath, gotKey string
	var gotReq signozErrorsRequest
	s := newTestSigNoz(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("SIGNOZ-API-KEY")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(signozErrorsResponse{Errors: []signozErrorEvent{
			{
				TraceID:   "trace-1",
				SpanID:    "span-1",
				Service:   "payment-api",
				Type:      "ConnectionError",
				Message:   "connection refused",
				Timestamp: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
				Severity:  "error",
				Frames: []signozStackLine{
					{Module: "payment", Function: "Charge", File: "charge.go", Line: 42},
				},
			},
			// Missing span id: dropped, not fatal.
			{TraceID: "trace-2", Service: "payment-api", Type: "E", Message: "m",
				Timestamp: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)},
		}})
	})

	since := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	events, err := s.RecentErrors(context.Background(), since, []string{"payment-api"}, 100)
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/listErrors", gotPath)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, since.UnixNano(), gotReq.Start)
	assert.Equal(t, []string{"payment-api"}, gotReq.Services)
	assert.Equal(t, 100, gotReq.Limit)

	require.Len(t, events, 1)
	assert.Equal(t, "ConnectionError", events[0].ErrorType)
	assert.Equal(t, models.SeverityError, events[0].Severity)
	require.Len(t, events[0].Frames, 1)
	assert.Equal(t, "payment.Charge", events[0].Frames[0].Module+"."+events[0].Frames[0].Function)
}

func TestRecentErrorsBackendFailure(t *testing.T) {
	s := newTestSigNoz(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "clickhouse exploded", http.StatusInternalServerError)
	})

	_, err := s.RecentErrors(context.Background(), time.Now(), nil, 10)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorContains(t, err, "clickhouse exploded")
}

func TestTraceBuildsTree(t *testing.T) {
	s := newTestSigNoz(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/traces/trace-1", r.URL.Path)
		json.NewEncoder(w).Encode(signozTraceResponse{
			TraceID: "trace-1",
			Spans: []signozSpan{
				{SpanID: "a", Service: "gateway", Name: "POST /charge", DurationNano: 2_000_000, StatusCode: "ERROR"},
				{SpanID: "b", ParentSpanID: "a", Service: "payment-api", Name: "Charge"},
				// Orphan parent: attaches to the root.
				{SpanID: "c", ParentSpanID: "zz", Service: "pgpool", Name: "Acquire"},
			},
		})
	})

	tree, err := s.Trace(context.Background(), "trace-1")
	require.NoError(t, err)
	require.NotNil(t, tree)
	assert.Equal(t, "trace-1", tree.TraceID)
	require.NotNil(t, tree.Root)
	assert.Equal(t, "gateway", tree.Root.Service)
	assert.InDelta(t, 2.0, tree.Root.DurationMs, 1e-9)
	assert.Len(t, tree.Root.Children, 2)
}

func TestTraceMissingReturnsNil(t *testing.T) {
	s := newTestSigNoz(t, func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	})

	tree, err := s.Trace(context.Background(), "gone")
	require.NoError(t, err)
	assert.Nil(t, tree)
}

func TestCorrelatedLogs(t *testing.T) {
	var gotReq signozLogsRequest
	s := newTestSigNoz(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/logs/query", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(signozLogsResponse{Logs: []signozLogLine{
			{TraceID: "trace-1", Severity: "warn", Body: "pool wait 900ms",
				Timestamp: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)},
		}})
	})

	logs, err := s.CorrelatedLogs(context.Background(), []string{"trace-1"}, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{"trace-1"}, gotReq.TraceIDs)
	require.Len(t, logs, 1)
	assert.Equal(t, models.SeverityWarn, logs[0].Severity)
	assert.Equal(t, "pool wait 900ms", logs[0].Body)
}

func TestCorrelatedLogsNoTraceIDs(t *testing.T) {
	s := newTestSigNoz(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no request expected")
	})
	logs, err := s.CorrelatedLogs(context.Background(), nil, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestEventsForFingerprintFiltersClientSide(t *testing.T) {
	s := newTestSigNoz(t, func(w http.ResponseWriter, _ *http.Request) {
		mk := func(errType, traceID string) signozErrorEvent {
			return signozErrorEvent{
				TraceID: traceID, SpanID: "s", Service: "svc",
				Type: errType, Message: "m",
				Timestamp: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
			}
		}
		json.NewEncoder(w).Encode(signozErrorsResponse{Errors: []signozErrorEvent{
			mk("ConnectionError", "t1"),
			mk("TimeoutError", "t2"),
			mk("ConnectionError", "t3"),
		}})
	})

	// The test fingerprint function is the error type.
	events, err := s.EventsForFingerprint(context.Background(), "ConnectionError", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "t1", events[0].TraceID)
	assert.Equal(t, "t3", events[1].TraceID)
}
