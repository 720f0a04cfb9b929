// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/tracehound/tracehound/services/diagnosis/models"
)

var openaiTracer = otel.Tracer("tracehound.llm.openai")

// modelPricing maps model names to USD per 1K tokens (prompt, completion).
// Unknown models fall back to the gpt-4o rate; cost is advisory, so a
// conservative overestimate is the safe direction.
var modelPricing = map[string][2]float64{
	"gpt-4o":      {0.0025, 0.01},
	"gpt-4o-mini": {0.00015, 0.0006},
	"gpt-4.1":     {0.002, 0.008},
}

const fallbackPricingModel = "gpt-4o"

// OpenAIConfig configures the OpenAI-compatible engine.
type OpenAIConfig struct {
	// APIKey authenticates against the backend. Falls back to the
	// OPENAI_API_KEY environment variable.
	APIKey string

	// BaseURL overrides the API endpoint for OpenAI-compatible
	// gateways. Empty means api.openai.com.
	BaseURL string

	// Model is the chat model name (default gpt-4o-mini).
	Model string

	// Timeout is the per-diagnosis deadline (default 300s).
	Timeout time.Duration

	// PerDiagnosisBudgetUSD refuses diagnoses whose estimate exceeds
	// it. Must be positive.
	PerDiagnosisBudgetUSD float64

	// RequestsPerMinute rate-limits calls to the backend (default 10).
	RequestsPerMinute int

	// MaxCompletionTokens bounds the response (default 1024).
	MaxCompletionTokens int

	// Logger receives engine diagnostics. If nil, slog.Default().
	Logger *slog.Logger
}

// OpenAIEngine diagnoses via an OpenAI-compatible chat completion API.
//
// Thread Safety: safe for concurrent use.
type OpenAIEngine struct {
	client    *openai.Client
	model     string
	timeout   time.Duration
	budgetUSD float64
	limiter   *rate.Limiter
	maxTokens int
	logger    *slog.Logger
	nowFn     func() time.Time
}

// NewOpenAIEngine builds the engine, resolving the API key from config
// or environment.
func NewOpenAIEngine(cfg OpenAIConfig) (*OpenAIEngine, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY not set", ErrEngineError)
	}
	if cfg.PerDiagnosisBudgetUSD <= 0 {
		return nil, fmt.Errorf("%w: per-diagnosis budget must be positive", ErrEngineError)
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 10
	}
	maxTokens := cfg.MaxCompletionTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIEngine{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     model,
		timeout:   timeout,
		budgetUSD: cfg.PerDiagnosisBudgetUSD,
		limiter:   rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		maxTokens: maxTokens,
		logger:    logger,
		nowFn:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Diagnose runs one chat completion and parses the structured response.
//
// Description:
//
//	Gates on the per-diagnosis budget, waits for the rate limiter,
//	then calls the backend under the per-call deadline. The cost on
//	the returned Diagnosis is computed from the reported token usage
//	and the model price table.
func (e *OpenAIEngine) Diagnose(ctx context.Context, ic InvestigationContext) (models.Diagnosis, error) {
	prompt := buildPrompt(ic)

	if est := e.EstimateCost(ic); est > e.budgetUSD {
		return models.Diagnosis{}, fmt.Errorf("%w: estimated $%.4f > budget $%.4f",
			ErrBudgetExceeded, est, e.budgetUSD)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.limiter.Wait(ctx); err != nil {
		return models.Diagnosis{}, e.classify(err)
	}

	ctx, span := openaiTracer.Start(ctx, "llm.diagnose")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", e.model),
		attribute.String("signature.id", ic.Signature.ID()),
	)

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxCompletionTokens: e.maxTokens,
		Temperature:         0.1,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat completion failed")
		return models.Diagnosis{}, e.classify(err)
	}
	if len(resp.Choices) == 0 {
		span.SetStatus(codes.Error, "empty response")
		return models.Diagnosis{}, fmt.Errorf("%w: backend returned no choices", ErrEngineError)
	}

	cost := e.usageCost(resp.Usage)
	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", resp.Usage.PromptTokens),
		attribute.Int("llm.completion_tokens", resp.Usage.CompletionTokens),
		attribute.Float64("llm.cost_usd", cost),
	)

	d, err := parseDiagnosis(resp.Choices[0].Message.Content, e.model, cost, e.nowFn())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unparseable diagnosis")
		return models.Diagnosis{}, err
	}
	e.logger.Debug("diagnosis completed",
		"model", e.model,
		"confidence", string(d.Confidence),
		"cost_usd", cost,
	)
	return d, nil
}

// EstimateCost approximates the prompt cost plus a full completion at
// the model's completion rate.
func (e *OpenAIEngine) EstimateCost(ic InvestigationContext) float64 {
	promptRate, completionRate := e.rates()
	tokens := promptTokens(buildPrompt(ic))
	return float64(tokens)/1000.0*promptRate + float64(e.maxTokens)/1000.0*completionRate
}

// usageCost prices the reported token usage.
func (e *OpenAIEngine) usageCost(u openai.Usage) float64 {
	promptRate, completionRate := e.rates()
	return float64(u.PromptTokens)/1000.0*promptRate + float64(u.CompletionTokens)/1000.0*completionRate
}

func (e *OpenAIEngine) rates() (float64, float64) {
	if p, ok := modelPricing[e.model]; ok {
		return p[0], p[1]
	}
	p := modelPricing[fallbackPricingModel]
	return p[0], p[1]
}

// classify maps transport errors onto the engine error taxonomy.
func (e *OpenAIEngine) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: cancelled: %v", ErrEngineError, err)
	}
	return fmt.Errorf("%w: %v", ErrEngineError, err)
}

var _ Engine = (*OpenAIEngine)(nil)
