// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracehound/tracehound/services/diagnosis/investigate"
	"github.com/tracehound/tracehound/services/diagnosis/llm"
	"github.com/tracehound/tracehound/services/diagnosis/metrics"
	"github.com/tracehound/tracehound/services/diagnosis/models"
	"github.com/tracehound/tracehound/services/diagnosis/poll"
	"github.com/tracehound/tracehound/services/diagnosis/store"
	"github.com/tracehound/tracehound/services/diagnosis/telemetry"
	"github.com/tracehound/tracehound/services/diagnosis/triage"
)

var schedBase = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

type schedFixture struct {
	store   *store.BadgerStore
	tel     *telemetry.Fake
	engine  *llm.Fake
	budget  *DailyBudget
	metrics *metrics.Metrics
	sched   *Scheduler
}

func newSchedFixture(t *testing.T, budgetUSD float64, cfg Config) *schedFixture {
	t.Helper()
	tr, err := triage.NewConfig(3, nil)
	require.NoError(t, err)
	st, err := store.Open(store.InMemoryConfig(tr))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	tel := telemetry.NewFake()
	diag, err := models.NewDiagnosis(models.DiagnosisParams{
		RootCause:    "pool exhausted",
		SuggestedFix: "raise limit",
		Evidence:     []string{"wait time spiked"},
		Confidence:   models.ConfidenceHigh,
		DiagnosedAt:  schedBase,
		Model:        "fake",
		CostUSD:      0.05,
	})
	require.NoError(t, err)
	engine := &llm.Fake{Diagnosis: diag}

	budget := NewDailyBudget(budgetUSD)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	inv := investigate.New(st, tel, engine, nil, tr, investigate.Config{}, budget, nil)
	p := poll.New(tel, st, poll.Config{}, m, nil)

	return &schedFixture{
		store:   st,
		tel:     tel,
		engine:  engine,
		budget:  budget,
		metrics: m,
		sched:   New(p, inv, st, budget, nil, cfg, m, nil),
	}
}

// seedBug emits count occurrences of one error class into the fake
// backend.
func (f *schedFixture) seedBug(t *testing.T, errType string, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		ev, err := models.NewErrorEvent(models.EventParams{
			TraceID:      fmt.Sprintf("%s-trace-%d", errType, i),
			SpanID:       "span-1",
			Service:      "payment-api",
			ErrorType:    errType,
			ErrorMessage: "boom",
			Timestamp:    time.Now().UTC().Add(-time.Duration(count-i) * time.Minute),
		})
		require.NoError(t, err)
		f.tel.AddEvent(ev)
	}
}

func statusCounts(t *testing.T, st *store.BadgerStore) map[models.Status]int {
	t.Helper()
	stats, err := st.GetStats(context.Background())
	require.NoError(t, err)
	return stats.ByStatus
}

func TestRunCycleOncePollsAndInvestigates(t *testing.T) {
	f := newSchedFixture(t, 5.0, Config{})
	f.seedBug(t, "ConnectionError", 3)

	f.sched.RunCycleOnce(context.Background())

	counts := statusCounts(t, f.store)
	assert.Equal(t, 1, counts[models.StatusDiagnosed])
	assert.InDelta(t, 0.05, f.budget.SpentToday(), 1e-9)

	diagnosed := testutil.ToFloat64(f.metrics.InvestigationsTotal.WithLabelValues(metrics.ResultDiagnosed))
	assert.Equal(t, 1.0, diagnosed)
	assert.InDelta(t, 0.05, testutil.ToFloat64(f.metrics.DiagnosisCostUSD), 1e-9)
}

func TestRunCycleOnceBelowThresholdLeavesNew(t *testing.T) {
	f := newSchedFixture(t, 5.0, Config{})
	f.seedBug(t, "ConnectionError", 2)

	f.sched.RunCycleOnce(context.Background())

	counts := statusCounts(t, f.store)
	assert.Equal(t, 1, counts[models.StatusNew])
	assert.Zero(t, counts[models.StatusDiagnosed])
	assert.Zero(t, f.engine.DiagnoseCalls)
}

func TestRunCycleOnceRespectsExhaustedBudget(t *testing.T) {
	f := newSchedFixture(t, 0, Config{})
	f.seedBug(t, "ConnectionError", 3)

	f.sched.RunCycleOnce(context.Background())

	counts := statusCounts(t, f.store)
	assert.Equal(t, 1, counts[models.StatusNew])
	assert.Zero(t, f.engine.DiagnoseCalls)
}

func TestRunCycleOncePerCycleCap(t *testing.T) {
	f := newSchedFixture(t, 5.0, Config{MaxInvestigationsPerCycle: 1})
	f.seedBug(t, "ConnectionError", 3)
	f.seedBug(t, "TimeoutError", 3)

	f.sched.RunCycleOnce(context.Background())

	counts := statusCounts(t, f.store)
	assert.Equal(t, 1, counts[models.StatusDiagnosed])
	assert.Equal(t, 1, counts[models.StatusNew])
	assert.Equal(t, 1, f.engine.DiagnoseCalls)
}

type summarySink struct {
	mu        sync.Mutex
	summaries []store.Stats
}

func (s *summarySink) ReportSummary(_ context.Context, stats store.Stats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, stats)
	return nil
}

func TestRunCycleOnceDeliversPeriodicSummary(t *testing.T) {
	f := newSchedFixture(t, 5.0, Config{SummaryInterval: time.Hour})
	sink := &summarySink{}
	f.sched.notifier = sink
	f.seedBug(t, "ConnectionError", 3)

	// The first cycle delivers a rollup; an immediate second cycle is
	// inside the interval and stays quiet.
	f.sched.RunCycleOnce(context.Background())
	f.sched.RunCycleOnce(context.Background())

	require.Len(t, sink.summaries, 1)
	assert.Equal(t, 1, sink.summaries[0].ByStatus[models.StatusDiagnosed])
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newSchedFixture(t, 5.0, Config{PollInterval: 10 * time.Millisecond, DrainTimeout: 50 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sched.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
}

func TestRunDrainCancelsStuckInvestigation(t *testing.T) {
	f := newSchedFixture(t, 5.0, Config{
		PollInterval: 10 * time.Millisecond,
		DrainTimeout: 50 * time.Millisecond,
	})
	f.seedBug(t, "ConnectionError", 3)

	// The engine blocks until its context is cancelled, simulating a
	// hung backend; only the drain deadline can release it.
	started := make(chan struct{}, 1)
	f.engine.DiagnoseFn = func(ctx context.Context, _ llm.InvestigationContext) (models.Diagnosis, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return models.Diagnosis{}, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sched.Run(ctx) }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("investigation never started")
	}
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not release the stuck cycle")
	}
}
