// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tracehound/tracehound/cmd/tracehound/config"
	"github.com/tracehound/tracehound/pkg/logging"
	"github.com/tracehound/tracehound/services/diagnosis/fingerprint"
	"github.com/tracehound/tracehound/services/diagnosis/llm"
	"github.com/tracehound/tracehound/services/diagnosis/notify"
	"github.com/tracehound/tracehound/services/diagnosis/store"
	"github.com/tracehound/tracehound/services/diagnosis/telemetry"
	"github.com/tracehound/tracehound/services/diagnosis/triage"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tracehound",
	Short: "Continuous error diagnosis for instrumented services",
	Long: `tracehound watches a telemetry backend for recurring errors, folds
them into deduplicated signatures, and investigates the worst ones with
an LLM under a daily budget. Run "tracehound daemon" for the continuous
loop, or use the signatures subcommands to inspect and manage findings.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default ~/.tracehound/tracehound.yaml)")
}

// loadConfig resolves the config path and loads the file, creating
// defaults on first run.
func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return config.Config{}, err
		}
	}
	return config.Load(path)
}

// buildLogger constructs the process logger from config.
func buildLogger(cfg config.Config, service string, quiet bool) *logging.Logger {
	return logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.LogDir,
		Service: service,
		JSON:    cfg.Logging.JSON,
		Quiet:   quiet,
	})
}

// buildTriage constructs the triage policy from config.
func buildTriage(cfg config.Config) (triage.Config, error) {
	return triage.NewConfig(cfg.Triage.MinOccurrenceForInvestigation, cfg.Triage.IgnoreTags)
}

// openStore opens the badger-backed signature store.
func openStore(cfg config.Config, tr triage.Config, logger *slog.Logger) (*store.BadgerStore, error) {
	storeCfg := store.DefaultConfig(tr)
	storeCfg.Path = cfg.Store.Path
	storeCfg.SyncWrites = cfg.Store.SyncWrites
	storeCfg.Logger = logger
	return store.Open(storeCfg)
}

// buildTelemetry constructs the telemetry backend adapter.
func buildTelemetry(cfg config.Config, logger *slog.Logger) (telemetry.Client, error) {
	switch cfg.Telemetry.Backend {
	case "signoz":
		return telemetry.NewSigNoz(telemetry.SigNozConfig{
			BaseURL:       cfg.Telemetry.BaseURL,
			APIKey:        cfg.Telemetry.APIKey,
			Timeout:       cfg.Telemetry.Timeout,
			Logger:        logger,
			FingerprintFn: fingerprint.Fingerprint,
		})
	default:
		return nil, fmt.Errorf("unknown telemetry backend %q", cfg.Telemetry.Backend)
	}
}

// buildEngine constructs the diagnosis engine named in config.
func buildEngine(cfg config.Config, logger *slog.Logger) (llm.Engine, error) {
	switch cfg.LLM.Engine {
	case "openai":
		return llm.NewOpenAIEngine(llm.OpenAIConfig{
			BaseURL:               cfg.LLM.BaseURL,
			Model:                 cfg.LLM.Model,
			Timeout:               cfg.LLM.Timeout,
			PerDiagnosisBudgetUSD: cfg.Budget.PerDiagnosisUSD,
			Logger:                logger,
		})
	case "ollama":
		return llm.NewOllamaEngine(llm.OllamaConfig{
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout,
			Logger:  logger,
		})
	default:
		return nil, fmt.Errorf("unknown llm engine %q", cfg.LLM.Engine)
	}
}

// buildNotifier assembles the configured report sinks.
func buildNotifier(cfg config.Config) (notify.Notifier, error) {
	var sinks notify.Multi
	if cfg.Notify.Stdout {
		sinks = append(sinks, notify.NewStdout(os.Stdout))
	}
	if cfg.Notify.MarkdownDir != "" {
		md, err := notify.NewMarkdown(cfg.Notify.MarkdownDir)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, md)
	}
	return sinks, nil
}
