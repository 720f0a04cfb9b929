// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package models

import "fmt"

// Status is the lifecycle state of a Signature.
type Status string

const (
	StatusNew           Status = "NEW"
	StatusInvestigating Status = "INVESTIGATING"
	StatusDiagnosed     Status = "DIAGNOSED"
	StatusResolved      Status = "RESOLVED"
	StatusMuted         Status = "MUTED"
)

// AllStatuses returns every lifecycle state in display order.
func AllStatuses() []Status {
	return []Status{StatusNew, StatusInvestigating, StatusDiagnosed, StatusResolved, StatusMuted}
}

// ParseStatus maps a string to a Status.
//
// Outputs:
//
//	Status - The parsed status.
//	error - ErrInvalidSignatureState for unknown values.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusNew, StatusInvestigating, StatusDiagnosed, StatusResolved, StatusMuted:
		return Status(s), nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidSignatureState, s)
	}
}

// StateMachine enforces the signature lifecycle graph.
//
// The state machine enforces the following transition graph:
//
//	NEW → INVESTIGATING            : Investigation started
//	INVESTIGATING → INVESTIGATING  : Idempotent re-mark
//	INVESTIGATING → NEW            : Diagnosis failed, reverted
//	NEW → DIAGNOSED                : Direct diagnosis (manual trigger)
//	INVESTIGATING → DIAGNOSED      : Diagnosis succeeded
//	DIAGNOSED → RESOLVED           : Operator resolved
//	DIAGNOSED → MUTED              : Operator muted
//	DIAGNOSED → NEW                : Retriage, diagnosis cleared
//	RESOLVED, MUTED                : Terminal, no outgoing edges
//
// Status is only ever changed through the Signature mutation methods,
// which consult this machine; the store re-checks invariants at commit
// as a second line of defense.
//
// Thread Safety: StateMachine is immutable after construction and safe
// for concurrent use.
type StateMachine struct {
	transitions map[Status]map[Status]bool
}

// NewStateMachine creates a state machine with the full lifecycle graph.
func NewStateMachine() *StateMachine {
	sm := &StateMachine{transitions: make(map[Status]map[Status]bool)}
	for _, s := range AllStatuses() {
		sm.transitions[s] = make(map[Status]bool)
	}

	sm.addTransition(StatusNew, StatusInvestigating)
	sm.addTransition(StatusNew, StatusDiagnosed)

	sm.addTransition(StatusInvestigating, StatusInvestigating)
	sm.addTransition(StatusInvestigating, StatusNew)
	sm.addTransition(StatusInvestigating, StatusDiagnosed)

	sm.addTransition(StatusDiagnosed, StatusResolved)
	sm.addTransition(StatusDiagnosed, StatusMuted)
	sm.addTransition(StatusDiagnosed, StatusNew)

	return sm
}

func (sm *StateMachine) addTransition(from, to Status) {
	sm.transitions[from][to] = true
}

// CanTransition checks whether a transition is valid.
//
// Thread Safety: This method is safe for concurrent use.
func (sm *StateMachine) CanTransition(from, to Status) bool {
	if toMap, ok := sm.transitions[from]; ok {
		return toMap[to]
	}
	return false
}

// ValidTransitionsFrom returns all valid target states from a given state.
func (sm *StateMachine) ValidTransitionsFrom(from Status) []Status {
	var out []Status
	for _, to := range AllStatuses() {
		if sm.transitions[from][to] {
			out = append(out, to)
		}
	}
	return out
}

// IsTerminal returns true if the state has no outgoing edges.
func (sm *StateMachine) IsTerminal(s Status) bool {
	return len(sm.transitions[s]) == 0
}

// lifecycle is the shared state machine consulted by Signature mutations.
var lifecycle = NewStateMachine()

// Lifecycle returns the shared signature state machine.
func Lifecycle() *StateMachine {
	return lifecycle
}
