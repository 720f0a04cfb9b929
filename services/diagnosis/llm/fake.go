// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"sync"

	"github.com/tracehound/tracehound/services/diagnosis/models"
)

// Fake is an in-memory Engine for tests.
//
// Thread Safety: safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	// Diagnosis returned on success.
	Diagnosis models.Diagnosis

	// Err, if set, is returned from every Diagnose call.
	Err error

	// Estimate returned from EstimateCost.
	Estimate float64

	// DiagnoseFn, if set, overrides the canned behavior entirely.
	DiagnoseFn func(ctx context.Context, ic InvestigationContext) (models.Diagnosis, error)

	// DiagnoseCalls counts invocations; LastContext holds the most
	// recent investigation context for assertions.
	DiagnoseCalls int
	LastContext   InvestigationContext
}

func (f *Fake) Diagnose(ctx context.Context, ic InvestigationContext) (models.Diagnosis, error) {
	f.mu.Lock()
	f.DiagnoseCalls++
	f.LastContext = ic
	fn := f.DiagnoseFn
	d, err := f.Diagnosis, f.Err
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, ic)
	}
	if err != nil {
		return models.Diagnosis{}, err
	}
	return d, nil
}

func (f *Fake) EstimateCost(InvestigationContext) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Estimate
}

var _ Engine = (*Fake)(nil)
