// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package investigate

import "errors"

// Sentinel errors surfaced by the investigator. Callers classify
// outcomes with errors.Is; ErrSkipped and ErrInProgress are normal
// control flow, the rest are failures.
var (
	// ErrSkipped indicates the triage policy declined the signature
	// (wrong status, below threshold, or ignore-tagged).
	ErrSkipped = errors.New("investigation skipped by triage policy")

	// ErrInProgress indicates another investigation already holds the
	// signature.
	ErrInProgress = errors.New("investigation already in progress")

	// ErrDiagnosisFailed indicates the engine failed; the signature was
	// reverted to NEW for a later retry.
	ErrDiagnosisFailed = errors.New("diagnosis failed")

	// ErrPersistFailed indicates the diagnosis succeeded but could not
	// be committed; the signature is left INVESTIGATING in the store.
	ErrPersistFailed = errors.New("diagnosis persist failed")
)
