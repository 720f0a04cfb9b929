// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import "errors"

// Sentinel errors for the signature store.
var (
	// ErrNotFound indicates no signature exists for the given key.
	ErrNotFound = errors.New("signature not found")

	// ErrDuplicateFingerprint indicates an insert would violate
	// fingerprint uniqueness.
	ErrDuplicateFingerprint = errors.New("fingerprint already exists")

	// ErrCorruptRecord indicates a persisted row is missing required
	// fields. It fails the single read; unrelated reads proceed.
	ErrCorruptRecord = errors.New("corrupt signature record")

	// ErrUnavailable indicates the underlying database rejected the
	// operation (closed, conflicting, or out of resources).
	ErrUnavailable = errors.New("store unavailable")
)
