// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package metrics exposes the daemon's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tracehound/tracehound/services/diagnosis/models"
	"github.com/tracehound/tracehound/services/diagnosis/store"
)

// Investigation result labels.
const (
	ResultDiagnosed  = "diagnosed"
	ResultSkipped    = "skipped"
	ResultInProgress = "in_progress"
	ResultFailed     = "failed"
)

// Metrics bundles every collector the daemon emits. Construct with New
// and register once on a registry owned by the caller.
//
// Thread Safety: safe for concurrent use.
type Metrics struct {
	PollsTotal          prometheus.Counter
	PollErrorsTotal     prometheus.Counter
	EventsIngestedTotal prometheus.Counter
	EventsFailedTotal   prometheus.Counter
	SignaturesCreated   prometheus.Counter
	SignaturesUpdated   prometheus.Counter

	InvestigationsTotal *prometheus.CounterVec
	DiagnosisCostUSD    prometheus.Counter

	SignaturesByStatus *prometheus.GaugeVec
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PollsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tracehound", Subsystem: "poll", Name: "cycles_total",
			Help: "Completed poll cycles.",
		}),
		PollErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tracehound", Subsystem: "poll", Name: "errors_total",
			Help: "Poll cycles that failed outright (backend unreachable).",
		}),
		EventsIngestedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tracehound", Subsystem: "poll", Name: "events_ingested_total",
			Help: "Error events folded into signatures.",
		}),
		EventsFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tracehound", Subsystem: "poll", Name: "events_failed_total",
			Help: "Error events dropped after a per-event processing failure.",
		}),
		SignaturesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tracehound", Subsystem: "signatures", Name: "created_total",
			Help: "New signatures created from first sightings.",
		}),
		SignaturesUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tracehound", Subsystem: "signatures", Name: "updated_total",
			Help: "Occurrence updates applied to existing signatures.",
		}),
		InvestigationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracehound", Subsystem: "investigations", Name: "total",
			Help: "Investigations by result.",
		}, []string{"result"}),
		DiagnosisCostUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tracehound", Subsystem: "investigations", Name: "cost_usd_total",
			Help: "Cumulative advisory diagnosis spend in USD.",
		}),
		SignaturesByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tracehound", Subsystem: "signatures", Name: "by_status",
			Help: "Current signature count per lifecycle status.",
		}, []string{"status"}),
	}
	reg.MustRegister(
		m.PollsTotal, m.PollErrorsTotal,
		m.EventsIngestedTotal, m.EventsFailedTotal,
		m.SignaturesCreated, m.SignaturesUpdated,
		m.InvestigationsTotal, m.DiagnosisCostUSD,
		m.SignaturesByStatus,
	)
	return m
}

// ObserveStats refreshes the by-status gauge from a store snapshot.
// Statuses absent from the snapshot are reset to zero.
func (m *Metrics) ObserveStats(stats store.Stats) {
	for _, st := range models.AllStatuses() {
		m.SignaturesByStatus.WithLabelValues(string(st)).Set(float64(stats.ByStatus[st]))
	}
}
