// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tracehound/tracehound/services/diagnosis/models"
)

// SigNozConfig configures the SigNoz adapter.
type SigNozConfig struct {
	// BaseURL is the SigNoz query-service endpoint, e.g. "http://signoz:8080".
	BaseURL string

	// APIKey is sent as the SIGNOZ-API-KEY header. Optional for
	// unauthenticated deployments.
	APIKey string

	// Timeout is the per-call deadline (default 30s).
	Timeout time.Duration

	// Logger receives adapter diagnostics. If nil, slog.Default().
	Logger *slog.Logger

	// FingerprintFn computes the daemon's fingerprint for an event.
	// The backend knows nothing about fingerprints, so the adapter
	// filters fetched events through this function to answer
	// EventsForFingerprint. Required.
	FingerprintFn func(models.ErrorEvent) string
}

// SigNoz adapts the SigNoz exceptions and traces APIs to the Client port.
//
// Thread Safety: safe for concurrent use; the underlying http.Client is.
type SigNoz struct {
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	timeout       time.Duration
	logger        *slog.Logger
	fingerprintFn func(models.ErrorEvent) string
}

// NewSigNoz builds a SigNoz adapter.
//
// Outputs:
//
//	*SigNoz - The adapter.
//	error - Non-nil if BaseURL or FingerprintFn is missing.
func NewSigNoz(cfg SigNozConfig) (*SigNoz, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("signoz base URL is required")
	}
	if cfg.FingerprintFn == nil {
		return nil, errors.New("signoz fingerprint function is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SigNoz{
		httpClient:    &http.Client{Timeout: timeout},
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		timeout:       timeout,
		logger:        logger,
		fingerprintFn: cfg.FingerprintFn,
	}, nil
}

// Wire types for the SigNoz exceptions API.

type signozErrorsRequest struct {
	Start    int64    `json:"start"` // unix nanos
	End      int64    `json:"end"`
	Limit    int      `json:"limit"`
	Services []string `json:"serviceNames,omitempty"`
	Order    string   `json:"order"`
}

type signozErrorEvent struct {
	TraceID    string            `json:"traceID"`
	SpanID     string            `json:"spanID"`
	Service    string            `json:"serviceName"`
	Type       string            `json:"exceptionType"`
	Message    string            `json:"exceptionMessage"`
	Timestamp  time.Time         `json:"timestamp"`
	Severity   string            `json:"severityText"`
	Attributes map[string]any    `json:"attributes"`
	Frames     []signozStackLine `json:"stacktrace"`
}

type signozStackLine struct {
	Module   string `json:"module"`
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

type signozErrorsResponse struct {
	Errors []signozErrorEvent `json:"errors"`
}

type signozSpan struct {
	SpanID       string         `json:"spanID"`
	ParentSpanID string         `json:"parentSpanID"`
	Service      string         `json:"serviceName"`
	Name         string         `json:"name"`
	DurationNano int64          `json:"durationNano"`
	StatusCode   string         `json:"statusCode"`
	Tags         map[string]any `json:"tagMap"`
	Events       []string       `json:"events"`
}

type signozTraceResponse struct {
	TraceID string       `json:"traceID"`
	Spans   []signozSpan `json:"spans"`
}

type signozLogsRequest struct {
	TraceIDs []string `json:"traceIDs"`
	Start    int64    `json:"start"`
	End      int64    `json:"end"`
}

type signozLogLine struct {
	Timestamp  time.Time      `json:"timestamp"`
	Severity   string         `json:"severityText"`
	Body       string         `json:"body"`
	Attributes map[string]any `json:"attributes"`
	TraceID    string         `json:"traceID"`
	SpanID     string         `json:"spanID"`
}

type signozLogsResponse struct {
	Logs []signozLogLine `json:"logs"`
}

// RecentErrors fetches exception events since the given instant.
func (s *SigNoz) RecentErrors(ctx context.Context, since time.Time, services []string, limit int) ([]models.ErrorEvent, error) {
	req := signozErrorsRequest{
		Start:    since.UnixNano(),
		End:      time.Now().UTC().UnixNano(),
		Limit:    limit,
		Services: services,
		Order:    "timestamp_desc",
	}
	var resp signozErrorsResponse
	if err := s.post(ctx, "/api/v1/listErrors", req, &resp); err != nil {
		return nil, err
	}
	events := make([]models.ErrorEvent, 0, len(resp.Errors))
	for _, raw := range resp.Errors {
		ev, err := s.toEvent(raw)
		if err != nil {
			// Backend rows missing required fields are dropped, not fatal.
			s.logger.Warn("dropping malformed backend error event",
				"trace_id", raw.TraceID, "error", err.Error())
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Trace fetches a span tree. Missing traces return (nil, nil).
func (s *SigNoz) Trace(ctx context.Context, traceID string) (*models.TraceTree, error) {
	var resp signozTraceResponse
	err := s.get(ctx, "/api/v1/traces/"+traceID, &resp)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if len(resp.Spans) == 0 {
		return nil, nil
	}
	return buildTraceTree(traceID, resp.Spans), nil
}

// CorrelatedLogs fetches log lines for the given traces.
func (s *SigNoz) CorrelatedLogs(ctx context.Context, traceIDs []string, window time.Duration) ([]models.LogEntry, error) {
	if len(traceIDs) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	req := signozLogsRequest{
		TraceIDs: traceIDs,
		Start:    now.Add(-window).UnixNano(),
		End:      now.UnixNano(),
	}
	var resp signozLogsResponse
	if err := s.post(ctx, "/api/v1/logs/query", req, &resp); err != nil {
		return nil, err
	}
	entries := make([]models.LogEntry, 0, len(resp.Logs))
	for _, l := range resp.Logs {
		entries = append(entries, models.LogEntry{
			Timestamp:  l.Timestamp.UTC(),
			Severity:   models.ParseSeverity(l.Severity),
			Body:       l.Body,
			Attributes: l.Attributes,
			TraceID:    l.TraceID,
			SpanID:     l.SpanID,
		})
	}
	return entries, nil
}

// EventsForFingerprint fetches a wide recent window and filters it down
// to events matching the fingerprint. The backend has no fingerprint
// concept, so the filter runs client-side.
func (s *SigNoz) EventsForFingerprint(ctx context.Context, fp string, limit int) ([]models.ErrorEvent, error) {
	events, err := s.RecentErrors(ctx, time.Now().UTC().Add(-24*time.Hour), nil, limit*20)
	if err != nil {
		return nil, err
	}
	var matched []models.ErrorEvent
	for _, ev := range events {
		if s.fingerprintFn(ev) == fp {
			matched = append(matched, ev)
			if limit > 0 && len(matched) >= limit {
				break
			}
		}
	}
	return matched, nil
}

// toEvent converts a backend row into a validated domain event.
func (s *SigNoz) toEvent(raw signozErrorEvent) (models.ErrorEvent, error) {
	frames := make([]models.StackFrame, 0, len(raw.Frames))
	for _, f := range raw.Frames {
		frame, err := models.NewStackFrame(f.Module, f.Function, f.File, f.Line)
		if err != nil {
			// Partial frames are dropped; the event survives.
			continue
		}
		frames = append(frames, frame)
	}
	return models.NewErrorEvent(models.EventParams{
		TraceID:      raw.TraceID,
		SpanID:       raw.SpanID,
		Service:      raw.Service,
		ErrorType:    raw.Type,
		ErrorMessage: raw.Message,
		Frames:       frames,
		Timestamp:    raw.Timestamp,
		Severity:     models.ParseSeverity(raw.Severity),
		Attributes:   raw.Attributes,
	})
}

// buildTraceTree assembles a span list into a rooted tree. Orphan spans
// attach to the root so no span is lost.
func buildTraceTree(traceID string, spans []signozSpan) *models.TraceTree {
	nodes := make(map[string]*models.SpanNode, len(spans))
	for _, sp := range spans {
		nodes[sp.SpanID] = &models.SpanNode{
			SpanID:     sp.SpanID,
			ParentID:   sp.ParentSpanID,
			Service:    sp.Service,
			Operation:  sp.Name,
			DurationMs: float64(sp.DurationNano) / 1e6,
			Status:     sp.StatusCode,
			Attributes: sp.Tags,
			Events:     sp.Events,
		}
	}
	var root *models.SpanNode
	var orphans []*models.SpanNode
	for _, n := range nodes {
		if n.ParentID == "" {
			if root == nil {
				root = n
			} else {
				orphans = append(orphans, n)
			}
			continue
		}
		if parent, ok := nodes[n.ParentID]; ok {
			parent.Children = append(parent.Children, n)
		} else {
			orphans = append(orphans, n)
		}
	}
	if root == nil && len(orphans) > 0 {
		root, orphans = orphans[0], orphans[1:]
	}
	if root != nil {
		root.Children = append(root.Children, orphans...)
	}
	return &models.TraceTree{TraceID: traceID, Root: root}
}

// =============================================================================
// HTTP plumbing
// =============================================================================

// errNotFound is internal: a 404 from the backend, used to distinguish
// missing traces from real failures.
var errNotFound = errors.New("not found")

func (s *SigNoz) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: marshal request: %v", ErrUnavailable, err)
	}
	return s.do(ctx, http.MethodPost, path, bytes.NewReader(payload), out)
}

func (s *SigNoz) get(ctx context.Context, path string, out any) error {
	return s.do(ctx, http.MethodGet, path, nil, out)
}

func (s *SigNoz) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("SIGNOZ-API-KEY", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s %s", ErrTimeout, method, path)
		}
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: status %d: %s", ErrUnavailable, method, path, resp.StatusCode, snippet)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}

var _ Client = (*SigNoz)(nil)
