// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the daemon configuration from YAML.
package config

import "time"

// Config is the full tracehound configuration.
type Config struct {
	// Telemetry is the observability backend the daemon polls.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Store is the signature database.
	Store StoreConfig `yaml:"store"`

	// Poll tunes the ingestion loop.
	Poll PollConfig `yaml:"poll"`

	// Triage tunes investigation admission.
	Triage TriageConfig `yaml:"triage"`

	// LLM selects and tunes the diagnosis engine.
	LLM LLMConfig `yaml:"llm"`

	// Budget caps diagnosis spend.
	Budget BudgetConfig `yaml:"budget"`

	// Notify selects report sinks.
	Notify NotifyConfig `yaml:"notify"`

	// Server is the HTTP status surface.
	Server ServerConfig `yaml:"server"`

	// Logging tunes structured log output.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing tunes span export.
	Tracing TracingConfig `yaml:"tracing"`
}

type TelemetryConfig struct {
	// Backend is the adapter name; "signoz" is the only one today.
	Backend string        `yaml:"backend" validate:"required,oneof=signoz"`
	BaseURL string        `yaml:"base_url" validate:"required,url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout" validate:"min=0"`
}

type StoreConfig struct {
	// Path is the badger database directory.
	Path string `yaml:"path" validate:"required"`

	// SyncWrites trades throughput for durability on every commit.
	SyncWrites bool `yaml:"sync_writes"`
}

type PollConfig struct {
	Interval   time.Duration `yaml:"interval" validate:"min=1s"`
	Services   []string      `yaml:"services"`
	EventLimit int           `yaml:"event_limit" validate:"min=1"`
	Lookback   time.Duration `yaml:"lookback" validate:"min=0"`
}

type TriageConfig struct {
	MinOccurrenceForInvestigation int64    `yaml:"min_occurrence_for_investigation" validate:"min=1"`
	IgnoreTags                    []string `yaml:"ignore_tags"`
}

type LLMConfig struct {
	// Engine is "openai" or "ollama".
	Engine  string        `yaml:"engine" validate:"required,oneof=openai ollama"`
	Model   string        `yaml:"model" validate:"required"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout" validate:"min=0"`

	// CodebasePath, when set, is handed to the engine so diagnoses can
	// point at source.
	CodebasePath string `yaml:"codebase_path"`
}

type BudgetConfig struct {
	DailyUSD        float64 `yaml:"daily_usd" validate:"min=0"`
	PerDiagnosisUSD float64 `yaml:"per_diagnosis_usd" validate:"min=0"`

	// MaxConcurrentInvestigations bounds in-flight diagnoses.
	MaxConcurrentInvestigations int64 `yaml:"max_concurrent_investigations" validate:"min=1"`
}

type NotifyConfig struct {
	Stdout bool `yaml:"stdout"`

	// MarkdownDir enables per-diagnosis markdown reports when set.
	MarkdownDir string `yaml:"markdown_dir"`
}

type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	LogDir string `yaml:"log_dir"`
	JSON   bool   `yaml:"json"`
}

type TracingConfig struct {
	// Exporter is "otlp", "stdout", or "none".
	Exporter     string `yaml:"exporter" validate:"omitempty,oneof=otlp stdout none"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// DefaultConfig returns the configuration written on first run: a
// local SigNoz, a local Ollama model, and conservative spend limits.
func DefaultConfig() Config {
	return Config{
		Telemetry: TelemetryConfig{
			Backend: "signoz",
			BaseURL: "http://localhost:3301",
			Timeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Path: "~/.tracehound/signatures",
		},
		Poll: PollConfig{
			Interval:   60 * time.Second,
			EventLimit: 100,
			Lookback:   15 * time.Minute,
		},
		Triage: TriageConfig{
			MinOccurrenceForInvestigation: 5,
			IgnoreTags:                    []string{"flaky-test"},
		},
		LLM: LLMConfig{
			Engine:  "ollama",
			Model:   "qwen2.5:14b",
			Timeout: 300 * time.Second,
		},
		Budget: BudgetConfig{
			DailyUSD:                    5.0,
			PerDiagnosisUSD:             0.50,
			MaxConcurrentInvestigations: 1,
		},
		Notify: NotifyConfig{
			Stdout: true,
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    ":8765",
		},
		Logging: LoggingConfig{
			Level:  "info",
			LogDir: "~/.tracehound/logs",
		},
		Tracing: TracingConfig{
			Exporter: "none",
		},
	}
}
