// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package models

import "errors"

// Sentinel errors for domain model construction and mutation.
var (
	// ErrInvalidEvent indicates an ErrorEvent failed construction validation.
	ErrInvalidEvent = errors.New("invalid error event")

	// ErrInvalidDiagnosis indicates a Diagnosis failed construction validation.
	ErrInvalidDiagnosis = errors.New("invalid diagnosis")

	// ErrInvalidSignatureState indicates a Signature violates a structural invariant.
	ErrInvalidSignatureState = errors.New("invalid signature state")

	// ErrInvalidTransition indicates a status change not permitted by the lifecycle graph.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrClockSkew indicates an occurrence timestamp earlier than the first sighting.
	ErrClockSkew = errors.New("occurrence timestamp precedes first sighting")
)
