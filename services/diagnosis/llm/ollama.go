// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tracehound/tracehound/services/diagnosis/models"
)

var ollamaTracer = otel.Tracer("tracehound.llm.ollama")

// OllamaConfig configures the local Ollama engine.
type OllamaConfig struct {
	// BaseURL of the Ollama server (default http://localhost:11434).
	BaseURL string

	// Model name, e.g. "qwen2.5:14b" (required).
	Model string

	// Timeout is the per-diagnosis deadline (default 300s; local
	// models are slow).
	Timeout time.Duration

	// Logger receives engine diagnostics. If nil, slog.Default().
	Logger *slog.Logger
}

// OllamaEngine diagnoses via a local Ollama server. Local inference is
// free, so EstimateCost always returns 0 and diagnoses carry zero cost.
//
// Thread Safety: safe for concurrent use.
type OllamaEngine struct {
	baseURL string
	model   string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
	nowFn   func() time.Time
}

// NewOllamaEngine builds the engine.
func NewOllamaEngine(cfg OllamaConfig) (*OllamaEngine, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model name required", ErrEngineError)
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaEngine{
		baseURL: baseURL,
		model:   cfg.Model,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		nowFn:   func() time.Time { return time.Now().UTC() },
	}, nil
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Diagnose runs one non-streaming chat call against /api/chat.
func (e *OllamaEngine) Diagnose(ctx context.Context, ic InvestigationContext) (models.Diagnosis, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ctx, span := ollamaTracer.Start(ctx, "llm.diagnose")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", e.model),
		attribute.String("signature.id", ic.Signature.ID()),
	)

	reqBody := ollamaChatRequest{
		Model: e.model,
		Messages: []ollamaMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(ic)},
		},
		Stream: false,
		Format: "json",
		Options: map[string]any{
			"temperature": 0.1,
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return models.Diagnosis{}, fmt.Errorf("%w: marshal request: %v", ErrEngineError, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return models.Diagnosis{}, fmt.Errorf("%w: build request: %v", ErrEngineError, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return models.Diagnosis{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return models.Diagnosis{}, fmt.Errorf("%w: %v", ErrEngineError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		span.SetStatus(codes.Error, "non-200 response")
		return models.Diagnosis{}, fmt.Errorf("%w: ollama returned %d: %s",
			ErrEngineError, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var chat ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return models.Diagnosis{}, fmt.Errorf("%w: decode response: %v", ErrEngineError, err)
	}

	d, err := parseDiagnosis(chat.Message.Content, e.model, 0, e.nowFn())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unparseable diagnosis")
		return models.Diagnosis{}, err
	}
	e.logger.Debug("diagnosis completed", "model", e.model, "confidence", string(d.Confidence))
	return d, nil
}

// EstimateCost is always zero for local inference.
func (e *OllamaEngine) EstimateCost(InvestigationContext) float64 { return 0 }

var _ Engine = (*OllamaEngine)(nil)
