// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package investigate orchestrates one investigation: claim the
// signature, gather telemetry context, run the diagnosis engine, and
// commit the outcome.
package investigate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tracehound/tracehound/services/diagnosis/llm"
	"github.com/tracehound/tracehound/services/diagnosis/models"
	"github.com/tracehound/tracehound/services/diagnosis/store"
	"github.com/tracehound/tracehound/services/diagnosis/telemetry"
	"github.com/tracehound/tracehound/services/diagnosis/triage"
)

var tracer = otel.Tracer("tracehound.investigate")

// CostReporter receives the authoritative cost of each completed
// diagnosis. The scheduler's daily budget implements this.
type CostReporter interface {
	Record(costUSD float64)
}

// Config tunes context gathering.
type Config struct {
	// EventsLimit caps sample occurrences fetched per investigation
	// (default 10).
	EventsLimit int

	// MaxTraces caps how many distinct traces are fetched (default 3).
	MaxTraces int

	// SimilarLimit caps similar signatures fetched (default 5).
	SimilarLimit int

	// LogWindow is the half-width of the correlated-log window around
	// each trace (default 5m).
	LogWindow time.Duration

	// CodebasePath, when set, is surfaced to the engine so diagnoses
	// can reference source locations.
	CodebasePath string
}

func (c Config) withDefaults() Config {
	if c.EventsLimit <= 0 {
		c.EventsLimit = 10
	}
	if c.MaxTraces <= 0 {
		c.MaxTraces = 3
	}
	if c.SimilarLimit <= 0 {
		c.SimilarLimit = 5
	}
	if c.LogWindow <= 0 {
		c.LogWindow = 5 * time.Minute
	}
	return c
}

// Investigator drives the investigation protocol for one signature at
// a time per signature id.
//
// Thread Safety: safe for concurrent use; concurrent calls for the
// same signature id are rejected with ErrInProgress.
type Investigator struct {
	store     store.Store
	telemetry telemetry.Client
	engine    llm.Engine
	notifier  Notifier
	triageCfg triage.Config
	cfg       Config
	costs     CostReporter
	logger    *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// Notifier is the delivery port; see the notify package for sinks. A
// nil notifier disables reporting.
type Notifier interface {
	Report(ctx context.Context, sig *models.Signature) error
}

// New wires an Investigator. store, tel and engine are required; the
// others may be nil.
func New(st store.Store, tel telemetry.Client, engine llm.Engine, notifier Notifier,
	triageCfg triage.Config, cfg Config, costs CostReporter, logger *slog.Logger) *Investigator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Investigator{
		store:     st,
		telemetry: tel,
		engine:    engine,
		notifier:  notifier,
		triageCfg: triageCfg,
		cfg:       cfg.withDefaults(),
		costs:     costs,
		logger:    logger,
		inflight:  make(map[string]struct{}),
	}
}

// Investigate runs the full protocol for one signature id.
//
// Description:
//
//	Claims the signature (in-process exclusivity plus the persisted
//	INVESTIGATING status), gathers telemetry context tolerating
//	partial failures, runs the engine, and commits the outcome. An
//	engine failure reverts the signature to NEW so a later cycle can
//	retry; a commit failure leaves it INVESTIGATING and surfaces
//	ErrPersistFailed.
//
// Outputs:
//
//	models.Diagnosis - The committed diagnosis on success.
//	error - ErrSkipped, ErrInProgress, ErrDiagnosisFailed,
//	ErrPersistFailed, or a store error from the initial read.
func (inv *Investigator) Investigate(ctx context.Context, signatureID string) (models.Diagnosis, error) {
	if !inv.claim(signatureID) {
		return models.Diagnosis{}, fmt.Errorf("%w: %s", ErrInProgress, signatureID)
	}
	defer inv.release(signatureID)

	ctx, span := tracer.Start(ctx, "investigate.run")
	defer span.End()
	span.SetAttributes(attribute.String("signature.id", signatureID))

	sig, err := inv.store.GetByID(ctx, signatureID)
	if err != nil {
		span.RecordError(err)
		return models.Diagnosis{}, err
	}

	// A persisted INVESTIGATING status means another process (or a
	// crashed run) holds the signature; treat it like a live claim.
	if sig.Status() == models.StatusInvestigating {
		return models.Diagnosis{}, fmt.Errorf("%w: %s", ErrInProgress, signatureID)
	}
	if !triage.ShouldInvestigate(sig, inv.triageCfg) {
		return models.Diagnosis{}, fmt.Errorf("%w: %s status=%s occurrences=%d",
			ErrSkipped, signatureID, sig.Status(), sig.OccurrenceCount())
	}

	if err := sig.MarkInvestigating(); err != nil {
		return models.Diagnosis{}, err
	}
	if err := inv.store.Update(ctx, sig); err != nil {
		span.RecordError(err)
		return models.Diagnosis{}, fmt.Errorf("claim signature %s: %w", signatureID, err)
	}

	ic := inv.gatherContext(ctx, sig)

	diag, err := inv.engine.Diagnose(ctx, ic)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "diagnosis failed")
		inv.revert(ctx, sig)
		return models.Diagnosis{}, fmt.Errorf("%w: signature %s: %w", ErrDiagnosisFailed, signatureID, err)
	}

	if inv.costs != nil {
		inv.costs.Record(diag.CostUSD)
	}

	if err := sig.MarkDiagnosed(diag); err != nil {
		return models.Diagnosis{}, err
	}
	if err := inv.store.Update(ctx, sig); err != nil {
		// The diagnosis is lost but the INVESTIGATING row remains; an
		// operator retriage (or store recovery) unblocks it.
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return models.Diagnosis{}, fmt.Errorf("%w: signature %s: %w", ErrPersistFailed, signatureID, err)
	}

	inv.logger.Info("signature diagnosed",
		"signature_id", sig.ID(),
		"service", sig.Service(),
		"error_type", sig.ErrorType(),
		"confidence", string(diag.Confidence),
		"cost_usd", diag.CostUSD,
	)
	span.SetAttributes(
		attribute.String("diagnosis.confidence", string(diag.Confidence)),
		attribute.Float64("diagnosis.cost_usd", diag.CostUSD),
	)

	if inv.notifier != nil && triage.ShouldNotify(sig, diag) {
		if err := inv.notifier.Report(ctx, sig); err != nil {
			// Delivery is best-effort; the diagnosis is already durable.
			inv.logger.Warn("notification delivery failed",
				"signature_id", sig.ID(), "error", err)
		}
	}
	return diag, nil
}

// gatherContext collects telemetry and similar signatures, tolerating
// partial failures: each gatherer that errors is logged and its slice
// left empty. The engine produces a low-confidence diagnosis from thin
// context rather than the investigation aborting.
func (inv *Investigator) gatherContext(ctx context.Context, sig *models.Signature) llm.InvestigationContext {
	ic := llm.InvestigationContext{
		Signature:    sig,
		CodebasePath: inv.cfg.CodebasePath,
	}

	events, err := inv.telemetry.EventsForFingerprint(ctx, sig.Fingerprint(), inv.cfg.EventsLimit)
	if err != nil {
		inv.logger.Warn("context gathering: events unavailable",
			"signature_id", sig.ID(), "error", err)
	} else {
		ic.Events = events
	}

	seen := make(map[string]bool)
	for _, ev := range ic.Events {
		if len(ic.Traces) >= inv.cfg.MaxTraces {
			break
		}
		if ev.TraceID == "" || seen[ev.TraceID] {
			continue
		}
		seen[ev.TraceID] = true
		tree, err := inv.telemetry.Trace(ctx, ev.TraceID)
		if err != nil {
			inv.logger.Warn("context gathering: trace unavailable",
				"signature_id", sig.ID(), "trace_id", ev.TraceID, "error", err)
			continue
		}
		if tree != nil {
			ic.Traces = append(ic.Traces, tree)
		}
	}

	if len(seen) > 0 {
		traceIDs := make([]string, 0, len(seen))
		for id := range seen {
			traceIDs = append(traceIDs, id)
		}
		logs, err := inv.telemetry.CorrelatedLogs(ctx, traceIDs, inv.cfg.LogWindow)
		if err != nil {
			inv.logger.Warn("context gathering: logs unavailable",
				"signature_id", sig.ID(), "error", err)
		} else {
			ic.Logs = logs
		}
	}

	similar, err := inv.store.GetSimilar(ctx, sig, inv.cfg.SimilarLimit)
	if err != nil {
		inv.logger.Warn("context gathering: similar signatures unavailable",
			"signature_id", sig.ID(), "error", err)
	} else {
		ic.Similar = similar
	}
	return ic
}

// revert sends the signature back to NEW after an engine failure. The
// write is best-effort: if it fails the row stays INVESTIGATING until
// an operator retriages it, which is safer than retry storms.
func (inv *Investigator) revert(ctx context.Context, sig *models.Signature) {
	if err := sig.RevertToNew(); err != nil {
		inv.logger.Error("revert after diagnosis failure",
			"signature_id", sig.ID(), "error", err)
		return
	}
	if err := inv.store.Update(context.WithoutCancel(ctx), sig); err != nil {
		inv.logger.Error("persist revert after diagnosis failure",
			"signature_id", sig.ID(), "error", err)
	}
}

func (inv *Investigator) claim(id string) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if _, held := inv.inflight[id]; held {
		return false
	}
	inv.inflight[id] = struct{}{}
	return true
}

func (inv *Investigator) release(id string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	delete(inv.inflight, id)
}
