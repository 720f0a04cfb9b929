// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists signatures across daemon restarts.
//
// The store owns all Signature state: readers get clones, writers go
// through Save/Update, which re-validate the domain invariants before
// committing. Fingerprint uniqueness is enforced with a secondary
// index, so polling the same event class from two ticks (or two
// processes sharing a store) can never create two aggregates for one
// bug.
package store

import (
	"context"

	"github.com/tracehound/tracehound/services/diagnosis/models"
)

// Stats summarizes the store for operators.
type Stats struct {
	// Total is the number of signatures ever created (none are deleted;
	// RESOLVED and MUTED act as tombstones).
	Total int

	// ByStatus counts signatures per lifecycle state.
	ByStatus map[models.Status]int

	// TotalOccurrences sums occurrence counts across all signatures.
	TotalOccurrences int64

	// EstimatedSpendUSD sums the advisory cost of every retained
	// diagnosis. Advisory only; see the daily budget for enforcement.
	EstimatedSpendUSD float64
}

// Store is the persistence port for signatures.
//
// All methods honor ctx cancellation. Implementations serialize writes
// per signature so that concurrent investigations cannot interleave
// partial updates.
type Store interface {
	// GetByID returns a clone of the signature, or ErrNotFound.
	GetByID(ctx context.Context, id string) (*models.Signature, error)

	// GetByFingerprint returns a clone of the signature holding the
	// fingerprint, or ErrNotFound.
	GetByFingerprint(ctx context.Context, fp string) (*models.Signature, error)

	// Save inserts a new signature. Fails with ErrDuplicateFingerprint
	// if any signature already holds the fingerprint.
	Save(ctx context.Context, sig *models.Signature) error

	// Update commits a mutated signature by id. The write is atomic:
	// it either fully persists or leaves the prior state intact. The
	// invariants are re-validated before commit; violations surface as
	// models.ErrInvalidSignatureState and nothing is written.
	Update(ctx context.Context, sig *models.Signature) error

	// GetPendingInvestigation returns NEW signatures at or above the
	// occurrence threshold, ordered by descending triage priority then
	// ascending id for determinism.
	GetPendingInvestigation(ctx context.Context) ([]*models.Signature, error)

	// GetAll returns signatures, optionally filtered by status (empty
	// status means all), ordered by ascending id.
	GetAll(ctx context.Context, status models.Status) ([]*models.Signature, error)

	// GetSimilar returns up to limit signatures sharing service and
	// errorType with sig, excluding sig itself, ordered by descending
	// occurrence count.
	GetSimilar(ctx context.Context, sig *models.Signature, limit int) ([]*models.Signature, error)

	// GetStats summarizes the store.
	GetStats(ctx context.Context) (Stats, error)

	// Close releases the underlying database.
	Close() error
}
