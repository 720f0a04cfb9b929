// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package models

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Signature is the persistent aggregate for one fingerprint class of
// errors: its lifecycle state, occurrence accounting, and optional
// diagnosis.
//
// Signature is the only mutable entity in the domain model. All fields
// are unexported; status only changes through the Mark* methods, which
// consult the lifecycle state machine, and the diagnosis field is only
// set through MarkDiagnosed. The store owns the canonical copy and
// hands out clones, so callers mutate a private copy and commit it via
// the store's update path, which re-validates every invariant.
//
// Thread Safety: a Signature value is not safe for concurrent mutation;
// ownership is per-investigation or per-poll-event.
type Signature struct {
	id              string
	fingerprint     string
	errorType       string
	service         string
	messageTemplate string
	stackHash       string
	firstSeen       time.Time
	lastSeen        time.Time
	occurrenceCount int64
	status          Status
	diagnosis       *Diagnosis
	tags            map[string]struct{}
	resolutionNote  string
	muteReason      string
}

// NewSignatureParams carries the inputs to NewSignature.
type NewSignatureParams struct {
	Fingerprint     string
	ErrorType       string
	Service         string
	MessageTemplate string
	StackHash       string
	FirstSeen       time.Time
	Tags            []string
}

// NewSignature creates a signature for the first sighting of a fingerprint.
//
// Description:
//
//	The signature starts in NEW with occurrenceCount 1 and
//	firstSeen == lastSeen. The id is a fresh UUID; the fingerprint is
//	the stable secondary key enforced unique by the store.
//
// Outputs:
//
//	*Signature - The new aggregate.
//	error - ErrInvalidSignatureState naming the offending field.
func NewSignature(p NewSignatureParams) (*Signature, error) {
	s := &Signature{
		id:              uuid.NewString(),
		fingerprint:     strings.TrimSpace(p.Fingerprint),
		errorType:       strings.TrimSpace(p.ErrorType),
		service:         strings.TrimSpace(p.Service),
		messageTemplate: p.MessageTemplate,
		stackHash:       p.StackHash,
		firstSeen:       p.FirstSeen.UTC(),
		lastSeen:        p.FirstSeen.UTC(),
		occurrenceCount: 1,
		status:          StatusNew,
		tags:            tagSet(p.Tags),
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// RehydrateParams carries a full persisted snapshot back into an aggregate.
type RehydrateParams struct {
	ID              string
	Fingerprint     string
	ErrorType       string
	Service         string
	MessageTemplate string
	StackHash       string
	FirstSeen       time.Time
	LastSeen        time.Time
	OccurrenceCount int64
	Status          Status
	Diagnosis       *Diagnosis
	Tags            []string
	ResolutionNote  string
	MuteReason      string
}

// Rehydrate rebuilds a Signature from persisted state, re-validating
// every structural invariant.
//
// Description:
//
//	Used by the store when loading rows. A DIAGNOSED signature whose
//	diagnosis payload was unreadable may legitimately arrive with a
//	nil diagnosis (the store degrades malformed payloads to absent);
//	the aggregate stays readable in that case.
//
// Outputs:
//
//	*Signature - The rebuilt aggregate.
//	error - ErrInvalidSignatureState naming the offending field.
func Rehydrate(p RehydrateParams) (*Signature, error) {
	s := &Signature{
		id:              strings.TrimSpace(p.ID),
		fingerprint:     strings.TrimSpace(p.Fingerprint),
		errorType:       strings.TrimSpace(p.ErrorType),
		service:         strings.TrimSpace(p.Service),
		messageTemplate: p.MessageTemplate,
		stackHash:       p.StackHash,
		firstSeen:       p.FirstSeen.UTC(),
		lastSeen:        p.LastSeen.UTC(),
		occurrenceCount: p.OccurrenceCount,
		status:          p.Status,
		tags:            tagSet(p.Tags),
		resolutionNote:  p.ResolutionNote,
		muteReason:      p.MuteReason,
	}
	if p.Diagnosis != nil {
		d := *p.Diagnosis
		s.diagnosis = &d
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// validate checks every structural invariant and names the offending field.
func (s *Signature) validate() error {
	switch {
	case s.id == "":
		return fmt.Errorf("%w: id is empty", ErrInvalidSignatureState)
	case s.fingerprint == "":
		return fmt.Errorf("%w: fingerprint is empty", ErrInvalidSignatureState)
	case s.errorType == "":
		return fmt.Errorf("%w: error_type is empty", ErrInvalidSignatureState)
	case s.service == "":
		return fmt.Errorf("%w: service is empty", ErrInvalidSignatureState)
	case s.firstSeen.IsZero():
		return fmt.Errorf("%w: first_seen is zero", ErrInvalidSignatureState)
	case s.lastSeen.Before(s.firstSeen):
		return fmt.Errorf("%w: last_seen precedes first_seen", ErrInvalidSignatureState)
	case s.occurrenceCount < 1:
		return fmt.Errorf("%w: occurrence_count must be >= 1", ErrInvalidSignatureState)
	}
	if _, err := ParseStatus(string(s.status)); err != nil {
		return err
	}
	// Diagnosis presence follows status. NEW and INVESTIGATING must not
	// carry one; RESOLVED and MUTED retain the one set at diagnosis time.
	// DIAGNOSED normally carries one, but a malformed persisted payload
	// degrades to absent, so absence is tolerated on rehydration.
	if s.diagnosis != nil && (s.status == StatusNew || s.status == StatusInvestigating) {
		return fmt.Errorf("%w: diagnosis present in status %s", ErrInvalidSignatureState, s.status)
	}
	return nil
}

// Validate re-runs the structural invariant checks. The store calls
// this before committing an update, as defense-in-depth behind the
// controlled mutation methods.
func (s *Signature) Validate() error {
	return s.validate()
}

// =============================================================================
// Read accessors
// =============================================================================

func (s *Signature) ID() string              { return s.id }
func (s *Signature) Fingerprint() string     { return s.fingerprint }
func (s *Signature) ErrorType() string       { return s.errorType }
func (s *Signature) Service() string         { return s.service }
func (s *Signature) MessageTemplate() string { return s.messageTemplate }
func (s *Signature) StackHash() string       { return s.stackHash }
func (s *Signature) FirstSeen() time.Time    { return s.firstSeen }
func (s *Signature) LastSeen() time.Time     { return s.lastSeen }
func (s *Signature) OccurrenceCount() int64  { return s.occurrenceCount }
func (s *Signature) Status() Status          { return s.status }
func (s *Signature) ResolutionNote() string  { return s.resolutionNote }
func (s *Signature) MuteReason() string      { return s.muteReason }

// Diagnosis returns a copy of the diagnosis, or nil if none is set.
func (s *Signature) Diagnosis() *Diagnosis {
	if s.diagnosis == nil {
		return nil
	}
	d := *s.diagnosis
	d.Evidence = append([]string(nil), s.diagnosis.Evidence...)
	return &d
}

// HasTag reports whether the signature carries the given tag.
func (s *Signature) HasTag(tag string) bool {
	_, ok := s.tags[tag]
	return ok
}

// Tags returns the tag set as a sorted slice.
func (s *Signature) Tags() []string {
	out := make([]string, 0, len(s.tags))
	for t := range s.tags {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent deep copy.
func (s *Signature) Clone() *Signature {
	c := *s
	c.diagnosis = s.Diagnosis()
	c.tags = make(map[string]struct{}, len(s.tags))
	for t := range s.tags {
		c.tags[t] = struct{}{}
	}
	return &c
}

// =============================================================================
// Controlled mutations
// =============================================================================

// RecordOccurrence registers another sighting of this fingerprint.
//
// Description:
//
//	Orthogonal to status: increments occurrenceCount and advances
//	lastSeen to max(lastSeen, ts). Timestamps strictly earlier than
//	firstSeen are rejected; a backend replaying history must not be
//	able to bend the firstSeen/lastSeen invariant.
//
// Outputs:
//
//	error - ErrClockSkew if ts precedes firstSeen.
func (s *Signature) RecordOccurrence(ts time.Time) error {
	ts = ts.UTC()
	if ts.Before(s.firstSeen) {
		return fmt.Errorf("%w: %s before first sighting %s",
			ErrClockSkew, ts.Format(time.RFC3339), s.firstSeen.Format(time.RFC3339))
	}
	if ts.After(s.lastSeen) {
		s.lastSeen = ts
	}
	s.occurrenceCount++
	return nil
}

// MarkInvestigating transitions NEW → INVESTIGATING. Idempotent when
// already INVESTIGATING.
func (s *Signature) MarkInvestigating() error {
	return s.transition(StatusInvestigating)
}

// RevertToNew undoes an INVESTIGATING transition after a diagnosis failure.
func (s *Signature) RevertToNew() error {
	if s.status != StatusInvestigating {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.status, StatusNew)
	}
	s.status = StatusNew
	return nil
}

// MarkDiagnosed attaches a diagnosis and transitions to DIAGNOSED.
//
// This is the only legal way to set the diagnosis field.
func (s *Signature) MarkDiagnosed(d Diagnosis) error {
	if err := s.transition(StatusDiagnosed); err != nil {
		return err
	}
	copied := d
	copied.Evidence = append([]string(nil), d.Evidence...)
	s.diagnosis = &copied
	return nil
}

// MarkResolved transitions DIAGNOSED → RESOLVED, retaining the diagnosis.
func (s *Signature) MarkResolved(note string) error {
	if err := s.transition(StatusResolved); err != nil {
		return err
	}
	s.resolutionNote = strings.TrimSpace(note)
	return nil
}

// MarkMuted transitions DIAGNOSED → MUTED, retaining the diagnosis.
func (s *Signature) MarkMuted(reason string) error {
	if err := s.transition(StatusMuted); err != nil {
		return err
	}
	s.muteReason = strings.TrimSpace(reason)
	return nil
}

// Retriage sends a DIAGNOSED signature back to NEW, clearing the
// diagnosis so the next investigation starts from a clean slate.
func (s *Signature) Retriage() error {
	if s.status != StatusDiagnosed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.status, StatusNew)
	}
	s.status = StatusNew
	s.diagnosis = nil
	return nil
}

// AddTag attaches a tag (operator metadata; used by triage).
func (s *Signature) AddTag(tag string) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return
	}
	if s.tags == nil {
		s.tags = make(map[string]struct{})
	}
	s.tags[tag] = struct{}{}
}

// transition applies a status change through the lifecycle state machine.
func (s *Signature) transition(to Status) error {
	if !lifecycle.CanTransition(s.status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.status, to)
	}
	s.status = to
	return nil
}

func tagSet(tags []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t != "" {
			out[t] = struct{}{}
		}
	}
	return out
}
