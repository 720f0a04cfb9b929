// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package notify delivers diagnosis reports to operators.
//
// Notifiers are best-effort: the investigation pipeline logs delivery
// failures and moves on, so sinks must never panic and should fail fast.
package notify

import (
	"context"
	"errors"

	"github.com/tracehound/tracehound/services/diagnosis/models"
	"github.com/tracehound/tracehound/services/diagnosis/store"
)

// ErrDeliveryFailed indicates a sink could not deliver a report.
var ErrDeliveryFailed = errors.New("notification delivery failed")

// Notifier is the delivery port for diagnosed signatures.
type Notifier interface {
	// Report delivers one freshly diagnosed signature. The signature is
	// guaranteed to carry a diagnosis.
	Report(ctx context.Context, sig *models.Signature) error

	// ReportSummary delivers a periodic rollup of store statistics.
	ReportSummary(ctx context.Context, stats store.Stats) error
}

// Multi fans a report out to several sinks, collecting failures.
type Multi []Notifier

func (m Multi) Report(ctx context.Context, sig *models.Signature) error {
	var errs []error
	for _, n := range m {
		if err := n.Report(ctx, sig); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) ReportSummary(ctx context.Context, stats store.Stats) error {
	var errs []error
	for _, n := range m {
		if err := n.ReportSummary(ctx, stats); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
