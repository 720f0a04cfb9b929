// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fingerprint maps error events to stable fingerprints.
//
// A fingerprint identifies a class of error events sharing structural
// features: same service, same error type, same message shape once
// volatile tokens (timestamps, IDs, addresses, counters) are stripped,
// and same normalized call stack. Two manifestations of one bug that
// differ only in an IP, a port, a timestamp, or a line number hash to
// the same fingerprint; two different bugs do not.
//
// Everything here is a pure function: no I/O, deterministic across
// processes and restarts.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/tracehound/tracehound/services/diagnosis/models"
)

// topFrames is the number of leading stack frames folded into the
// stack hash. Deeper frames tend to be framework noise that varies
// between deployments. Ten is a pinned choice, not a tuned one.
const topFrames = 10

// tupleSep separates the canonical tuple fields before hashing. A unit
// separator cannot appear in templatized text, so fields can never
// bleed into each other.
const tupleSep = "\x1f"

// Templatization patterns, applied in order. Order is the tie-break
// when patterns overlap: dates and times go first so their digit runs
// are gone before the generic integer rule fires.
var templatePatterns = []struct {
	re          *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`), "*"},                                            // ISO dates
	{regexp.MustCompile(`\b\d{2}:\d{2}:\d{2}(?:\.\d+)?\b`), "*"},                                  // times
	{regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`), "*"}, // UUIDs
	{regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), "*"},                                      // IPv4
	{regexp.MustCompile(`\b\d{2,}\b`), "*"},                                                       // integers, len >= 2
	{regexp.MustCompile(`:\d+\b`), ":*"},                                                          // residual ports
	{regexp.MustCompile(`\b[0-9a-fA-F]{8,}\b`), "*"},                                              // hex runs, len >= 8
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Fingerprint maps an error event to its stable hex fingerprint.
//
// Description:
//
//	Builds the canonical tuple (service, errorType, templatized
//	message, stack hash) and returns the hex SHA-256 of its
//	separator-joined UTF-8 serialization. Deterministic: the same
//	event always produces the same digest, in any process.
//
// Inputs:
//
//	ev - A validated error event.
//
// Outputs:
//
//	string - 64-char lowercase hex digest.
func Fingerprint(ev models.ErrorEvent) string {
	tuple := strings.Join([]string{
		ev.Service,
		ev.ErrorType,
		TemplatizeMessage(ev.ErrorMessage),
		StackHash(ev.Frames),
	}, tupleSep)
	sum := sha256.Sum256([]byte(tuple))
	return hex.EncodeToString(sum[:])
}

// TemplatizeMessage strips volatile tokens from an error message.
//
// Description:
//
//	Replaces, in order: ISO dates, times, UUIDs, IPv4 addresses,
//	multi-digit integers, colon-prefixed port numbers, and residual
//	hex runs of length >= 8, each with "*". Whitespace is collapsed
//	and trimmed. Idempotent: templatizing a templatized message is a
//	no-op, since "*" matches none of the patterns.
//
// Exported for tests and for telemetry adapters that group on message
// shape before fingerprinting.
func TemplatizeMessage(s string) string {
	for _, p := range templatePatterns {
		s = p.re.ReplaceAllString(s, p.replacement)
	}
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// NormalizeStack strips volatile frame data, preserving order.
//
// Line numbers shift with every unrelated edit, so they are dropped;
// module, function and filename survive.
func NormalizeStack(frames []models.StackFrame) []models.StackFrame {
	out := make([]models.StackFrame, len(frames))
	for i, f := range frames {
		out[i] = models.StackFrame{
			Module:   f.Module,
			Function: f.Function,
			Filename: f.Filename,
		}
	}
	return out
}

// StackHash folds the top frames of a normalized stack into a hex digest.
//
// Description:
//
//	Serializes each of the top frames (up to topFrames, or all if
//	fewer) as "module|function|filename", joins them with newlines,
//	and returns the hex SHA-256. An empty stack hashes the empty
//	string, which still yields a stable digest.
func StackHash(frames []models.StackFrame) string {
	normalized := NormalizeStack(frames)
	if len(normalized) > topFrames {
		normalized = normalized[:topFrames]
	}
	parts := make([]string, len(normalized))
	for i, f := range normalized {
		parts[i] = f.Module + "|" + f.Function + "|" + f.Filename
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\n")))
	return hex.EncodeToString(sum[:])
}
