// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package poll folds fresh telemetry errors into the signature store.
//
// The poller is the ingestion half of the pipeline: it asks the
// telemetry backend for recent error events, fingerprints each one, and
// either creates a signature for a first sighting or records another
// occurrence on the existing one. A single bad event never aborts a
// cycle.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tracehound/tracehound/services/diagnosis/fingerprint"
	"github.com/tracehound/tracehound/services/diagnosis/metrics"
	"github.com/tracehound/tracehound/services/diagnosis/models"
	"github.com/tracehound/tracehound/services/diagnosis/store"
	"github.com/tracehound/tracehound/services/diagnosis/telemetry"
)

var tracer = otel.Tracer("tracehound.poll")

// ErrBackend indicates the telemetry backend could not serve the cycle
// at all; nothing was ingested.
var ErrBackend = errors.New("telemetry backend unavailable")

// Result summarizes one poll cycle.
type Result struct {
	ErrorsFound       int
	NewSignatures     int
	UpdatedSignatures int
	FailedEvents      int
}

// Config tunes the poller.
type Config struct {
	// Services filters which services are polled; empty means all.
	Services []string

	// EventLimit caps events fetched per cycle (default 100).
	EventLimit int

	// Lookback bounds the first cycle's window when no high-water mark
	// exists yet (default 15m).
	Lookback time.Duration
}

func (c Config) withDefaults() Config {
	if c.EventLimit <= 0 {
		c.EventLimit = 100
	}
	if c.Lookback <= 0 {
		c.Lookback = 15 * time.Minute
	}
	return c
}

// Poller ingests error events into the signature store.
//
// Thread Safety: safe for concurrent use, though cycles are normally
// serialized by the scheduler.
type Poller struct {
	telemetry telemetry.Client
	store     store.Store
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	nowFn     func() time.Time

	mu        sync.Mutex
	highWater time.Time
}

// New wires a Poller. metrics may be nil.
func New(tel telemetry.Client, st store.Store, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		telemetry: tel,
		store:     st,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		metrics:   m,
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
}

// PollOnce runs one cycle strictly after the high-water mark, then
// advances the mark to the newest event seen. Re-polling the same
// window never double-counts an occurrence.
func (p *Poller) PollOnce(ctx context.Context) (Result, error) {
	p.mu.Lock()
	mark := p.highWater
	p.mu.Unlock()

	since := mark
	if mark.IsZero() {
		since = p.nowFn().Add(-p.cfg.Lookback)
	}

	res, newest, err := p.pollWindow(ctx, since, mark)
	if err != nil {
		return res, err
	}

	p.mu.Lock()
	if newest.After(p.highWater) {
		p.highWater = newest
	}
	p.mu.Unlock()
	return res, nil
}

// PollWindow runs one cycle over an explicit window without touching
// the high-water mark. Used by the one-shot CLI path.
func (p *Poller) PollWindow(ctx context.Context, since time.Time) (Result, error) {
	res, _, err := p.pollWindow(ctx, since, time.Time{})
	return res, err
}

func (p *Poller) pollWindow(ctx context.Context, since, mark time.Time) (Result, time.Time, error) {
	ctx, span := tracer.Start(ctx, "poll.cycle")
	defer span.End()
	span.SetAttributes(attribute.String("poll.since", since.Format(time.RFC3339)))

	var res Result
	events, err := p.telemetry.RecentErrors(ctx, since, p.cfg.Services, p.cfg.EventLimit)
	if err != nil {
		span.RecordError(err)
		if p.metrics != nil {
			p.metrics.PollErrorsTotal.Inc()
		}
		return res, time.Time{}, fmt.Errorf("%w: %w", ErrBackend, err)
	}
	res.ErrorsFound = len(events)

	var newest time.Time
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return res, newest, err
		}
		if !mark.IsZero() && !ev.Timestamp.After(mark) {
			// Backends serve the window boundary inclusively; anything
			// at or before the mark was counted in an earlier cycle.
			continue
		}
		if ev.Timestamp.After(newest) {
			newest = ev.Timestamp
		}
		created, err := p.ingest(ctx, ev)
		if err != nil {
			// One unprocessable event must not starve the rest of the
			// cycle.
			res.FailedEvents++
			if p.metrics != nil {
				p.metrics.EventsFailedTotal.Inc()
			}
			p.logger.Error("event ingestion failed",
				"service", ev.Service,
				"error_type", ev.ErrorType,
				"trace_id", ev.TraceID,
				"error", err,
			)
			continue
		}
		if created {
			res.NewSignatures++
			if p.metrics != nil {
				p.metrics.SignaturesCreated.Inc()
			}
		} else {
			res.UpdatedSignatures++
			if p.metrics != nil {
				p.metrics.SignaturesUpdated.Inc()
			}
		}
		if p.metrics != nil {
			p.metrics.EventsIngestedTotal.Inc()
		}
	}

	if p.metrics != nil {
		p.metrics.PollsTotal.Inc()
	}
	p.logger.Info("poll cycle complete",
		"errors_found", res.ErrorsFound,
		"new_signatures", res.NewSignatures,
		"updated_signatures", res.UpdatedSignatures,
		"failed_events", res.FailedEvents,
	)
	span.SetAttributes(
		attribute.Int("poll.errors_found", res.ErrorsFound),
		attribute.Int("poll.new_signatures", res.NewSignatures),
	)
	return res, newest, nil
}

// ingest folds one event into the store. Returns true when a new
// signature was created.
func (p *Poller) ingest(ctx context.Context, ev models.ErrorEvent) (bool, error) {
	fp := fingerprint.Fingerprint(ev)

	sig, err := p.store.GetByFingerprint(ctx, fp)
	switch {
	case err == nil:
		return false, p.recordOccurrence(ctx, sig, ev)
	case errors.Is(err, store.ErrNotFound):
		// fall through to create
	default:
		return false, err
	}

	sig, err = models.NewSignature(models.NewSignatureParams{
		Fingerprint:     fp,
		ErrorType:       ev.ErrorType,
		Service:         ev.Service,
		MessageTemplate: fingerprint.TemplatizeMessage(ev.ErrorMessage),
		StackHash:       fingerprint.StackHash(ev.Frames),
		FirstSeen:       ev.Timestamp,
	})
	if err != nil {
		return false, err
	}

	err = p.store.Save(ctx, sig)
	if errors.Is(err, store.ErrDuplicateFingerprint) {
		// Another worker won the race to create this fingerprint; fold
		// the event into the winner instead.
		existing, getErr := p.store.GetByFingerprint(ctx, fp)
		if getErr != nil {
			return false, getErr
		}
		return false, p.recordOccurrence(ctx, existing, ev)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Poller) recordOccurrence(ctx context.Context, sig *models.Signature, ev models.ErrorEvent) error {
	if err := sig.RecordOccurrence(ev.Timestamp); err != nil {
		return err
	}
	return p.store.Update(ctx, sig)
}
