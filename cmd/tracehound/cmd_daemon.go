// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tracehound/tracehound/pkg/tracing"
	"github.com/tracehound/tracehound/services/diagnosis/investigate"
	"github.com/tracehound/tracehound/services/diagnosis/metrics"
	"github.com/tracehound/tracehound/services/diagnosis/poll"
	"github.com/tracehound/tracehound/services/diagnosis/scheduler"
	"github.com/tracehound/tracehound/services/diagnosis/server"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the continuous poll-and-investigate loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logWrapper := buildLogger(cfg, "daemon", false)
	defer logWrapper.Close()
	logger := logWrapper.Slog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    "tracehound",
		ServiceVersion: "1.0.0",
		Environment:    "production",
		Exporter:       cfg.Tracing.Exporter,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		OTLPInsecure:   true,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	tr, err := buildTriage(cfg)
	if err != nil {
		return err
	}
	st, err := openStore(cfg, tr, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	tel, err := buildTelemetry(cfg, logger)
	if err != nil {
		return err
	}
	engine, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	notifier, err := buildNotifier(cfg)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	budget := scheduler.NewDailyBudget(cfg.Budget.DailyUSD)

	inv := investigate.New(st, tel, engine, notifier, tr, investigate.Config{
		LogWindow:    5 * time.Minute,
		CodebasePath: cfg.LLM.CodebasePath,
	}, budget, logger)

	poller := poll.New(tel, st, poll.Config{
		Services:   cfg.Poll.Services,
		EventLimit: cfg.Poll.EventLimit,
		Lookback:   cfg.Poll.Lookback,
	}, m, logger)

	sched := scheduler.New(poller, inv, st, budget, notifier, scheduler.Config{
		PollInterval:                cfg.Poll.Interval,
		MaxConcurrentInvestigations: cfg.Budget.MaxConcurrentInvestigations,
	}, m, logger)

	if cfg.Server.Enabled {
		srv, err := server.New(server.Config{
			Addr:     cfg.Server.Addr,
			Store:    st,
			Budget:   budget,
			Registry: registry,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("status server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("status server shutdown failed", "error", err)
			}
		}()
	}

	err = sched.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("daemon stopped")
		return nil
	}
	return err
}
