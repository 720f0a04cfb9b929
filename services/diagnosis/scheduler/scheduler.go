// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scheduler runs the daemon's continuous loop: poll the
// telemetry backend on an interval, then investigate pending
// signatures under a concurrency bound and a daily budget.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/tracehound/tracehound/services/diagnosis/investigate"
	"github.com/tracehound/tracehound/services/diagnosis/metrics"
	"github.com/tracehound/tracehound/services/diagnosis/models"
	"github.com/tracehound/tracehound/services/diagnosis/poll"
	"github.com/tracehound/tracehound/services/diagnosis/store"
)

// Config tunes the scheduler loop.
type Config struct {
	// PollInterval is the pause between cycles (default 60s).
	PollInterval time.Duration

	// MaxConcurrentInvestigations bounds in-flight investigations per
	// cycle (default 1).
	MaxConcurrentInvestigations int64

	// MaxInvestigationsPerCycle caps launches per cycle so a backlog
	// cannot monopolize a tick (default 10).
	MaxInvestigationsPerCycle int

	// DrainTimeout bounds how long shutdown waits for in-flight
	// investigations before cancelling them (default 30s).
	DrainTimeout time.Duration

	// SummaryInterval is how often a statistics rollup is delivered to
	// the notifier (default 1h).
	SummaryInterval time.Duration
}

// Notifier receives periodic statistics rollups. The notify package's
// sinks implement it; nil disables summaries.
type Notifier interface {
	ReportSummary(ctx context.Context, stats store.Stats) error
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 60 * time.Second
	}
	if c.MaxConcurrentInvestigations <= 0 {
		c.MaxConcurrentInvestigations = 1
	}
	if c.MaxInvestigationsPerCycle <= 0 {
		c.MaxInvestigationsPerCycle = 10
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
	if c.SummaryInterval <= 0 {
		c.SummaryInterval = time.Hour
	}
	return c
}

// Scheduler owns the daemon loop.
//
// Thread Safety: Run is called once; the loop serializes cycles, and
// investigations within a cycle run concurrently under the semaphore.
type Scheduler struct {
	poller       *poll.Poller
	investigator *investigate.Investigator
	store        store.Store
	budget       *DailyBudget
	notifier     Notifier
	cfg          Config
	logger       *slog.Logger
	metrics      *metrics.Metrics

	// lastSummary is only touched from runCycle, which never overlaps.
	lastSummary time.Time
}

// New wires a Scheduler. notifier and metrics may be nil.
func New(p *poll.Poller, inv *investigate.Investigator, st store.Store, budget *DailyBudget,
	notifier Notifier, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		poller:       p,
		investigator: inv,
		store:        st,
		budget:       budget,
		notifier:     notifier,
		cfg:          cfg.withDefaults(),
		logger:       logger,
		metrics:      m,
	}
}

// Run executes cycles until ctx is cancelled, then drains.
//
// Description:
//
//	Each cycle runs one poll pass and one investigation pass; cycles
//	never overlap. Any cycle error is logged and the loop continues;
//	a failing backend must not kill the daemon. On cancellation,
//	in-flight investigations get DrainTimeout to finish on a context
//	detached from the loop's, then are cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"poll_interval", s.cfg.PollInterval,
		"max_concurrent_investigations", s.cfg.MaxConcurrentInvestigations,
		"daily_budget_usd", s.budget.LimitUSD(),
	)

	// Investigations survive loop cancellation until the drain deadline.
	// The drain goroutine arms on cancellation, so a cycle blocked
	// waiting for in-flight work is released even mid-cycle.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	go func() {
		<-ctx.Done()
		s.logger.Info("draining in-flight investigations", "timeout", s.cfg.DrainTimeout)
		timer := time.NewTimer(s.cfg.DrainTimeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancelWork()
		case <-workCtx.Done():
		}
	}()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.runCycle(ctx, workCtx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runCycle(ctx, workCtx)
		}
	}
}

// RunCycleOnce executes a single poll+investigate cycle. Used by the
// one-shot CLI path.
func (s *Scheduler) RunCycleOnce(ctx context.Context) {
	s.runCycle(ctx, ctx)
}

func (s *Scheduler) runCycle(ctx, workCtx context.Context) {
	cycleID := uuid.NewString()
	log := s.logger.With("cycle_id", cycleID)

	if _, err := s.poller.PollOnce(ctx); err != nil {
		log.Error("poll pass failed", "error", err)
	}

	s.investigatePending(ctx, workCtx, log)

	if s.metrics == nil && s.notifier == nil {
		return
	}
	stats, err := s.store.GetStats(ctx)
	if err != nil {
		log.Warn("stats query failed", "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveStats(stats)
	}
	s.maybeReportSummary(ctx, stats, log)
}

// maybeReportSummary delivers a statistics rollup at most once per
// SummaryInterval. Delivery failures are logged and swallowed, like
// every other notification.
func (s *Scheduler) maybeReportSummary(ctx context.Context, stats store.Stats, log *slog.Logger) {
	if s.notifier == nil {
		return
	}
	now := time.Now().UTC()
	if !s.lastSummary.IsZero() && now.Sub(s.lastSummary) < s.cfg.SummaryInterval {
		return
	}
	s.lastSummary = now
	if err := s.notifier.ReportSummary(ctx, stats); err != nil {
		log.Warn("summary delivery failed", "error", err)
	}
}

// investigatePending launches investigations for the pending queue,
// bounded by the semaphore and the per-cycle cap, and waits for all of
// them before returning so cycles never overlap.
func (s *Scheduler) investigatePending(ctx, workCtx context.Context, log *slog.Logger) {
	if s.budget.Exhausted() {
		log.Info("daily budget exhausted, skipping investigations",
			"spent_usd", s.budget.SpentToday(),
			"limit_usd", s.budget.LimitUSD(),
		)
		return
	}

	pending, err := s.store.GetPendingInvestigation(ctx)
	if err != nil {
		log.Error("pending query failed", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}
	if len(pending) > s.cfg.MaxInvestigationsPerCycle {
		pending = pending[:s.cfg.MaxInvestigationsPerCycle]
	}

	sem := semaphore.NewWeighted(s.cfg.MaxConcurrentInvestigations)
	launched := 0
	for _, sig := range pending {
		// Budget is re-checked per launch; the investigation that
		// crosses the cap still completes, later ones do not start.
		if s.budget.Exhausted() {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		launched++
		go func(sig *models.Signature) {
			defer sem.Release(1)
			s.investigateOne(workCtx, sig, log)
		}(sig)
	}

	// Wait for every launched investigation. Acquire on workCtx so a
	// drain cancel also unblocks the wait.
	if err := sem.Acquire(workCtx, s.cfg.MaxConcurrentInvestigations); err == nil {
		sem.Release(s.cfg.MaxConcurrentInvestigations)
	}
	if launched > 0 {
		log.Info("investigation pass complete",
			"pending", len(pending),
			"launched", launched,
			"spent_today_usd", s.budget.SpentToday(),
		)
	}
}

func (s *Scheduler) investigateOne(ctx context.Context, sig *models.Signature, log *slog.Logger) {
	diag, err := s.investigator.Investigate(ctx, sig.ID())
	switch {
	case err == nil:
		s.observeInvestigation(metrics.ResultDiagnosed, diag.CostUSD)
	case errors.Is(err, investigate.ErrSkipped):
		s.observeInvestigation(metrics.ResultSkipped, 0)
	case errors.Is(err, investigate.ErrInProgress):
		s.observeInvestigation(metrics.ResultInProgress, 0)
	default:
		s.observeInvestigation(metrics.ResultFailed, 0)
		log.Error("investigation failed", "signature_id", sig.ID(), "error", err)
	}
}

func (s *Scheduler) observeInvestigation(result string, costUSD float64) {
	if s.metrics == nil {
		return
	}
	s.metrics.InvestigationsTotal.WithLabelValues(result).Inc()
	if costUSD > 0 {
		s.metrics.DiagnosisCostUSD.Add(costUSD)
	}
}
