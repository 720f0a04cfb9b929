// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package models

import "time"

// SpanNode is one span in a TraceTree. Read-only after construction by
// the telemetry adapter.
type SpanNode struct {
	SpanID     string
	ParentID   string
	Service    string
	Operation  string
	DurationMs float64
	Status     string
	Attributes map[string]any
	Events     []string
	Children   []*SpanNode
}

// TraceTree is a rooted tree of spans for one trace, as assembled by a
// telemetry backend adapter.
type TraceTree struct {
	TraceID string
	Root    *SpanNode
}

// SpanCount walks the tree and returns the number of spans.
func (t *TraceTree) SpanCount() int {
	if t == nil || t.Root == nil {
		return 0
	}
	return countSpans(t.Root)
}

func countSpans(n *SpanNode) int {
	total := 1
	for _, c := range n.Children {
		total += countSpans(c)
	}
	return total
}

// ErrorSpans returns the spans whose status marks an error, in
// depth-first order. Useful context for the diagnosis prompt.
func (t *TraceTree) ErrorSpans() []*SpanNode {
	if t == nil || t.Root == nil {
		return nil
	}
	var out []*SpanNode
	var walk func(n *SpanNode)
	walk = func(n *SpanNode) {
		if n.Status == "ERROR" {
			out = append(out, n)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(t.Root)
	return out
}

// LogEntry is a correlated log line fetched alongside a trace.
type LogEntry struct {
	Timestamp  time.Time
	Severity   Severity
	Body       string
	Attributes map[string]any
	TraceID    string
	SpanID     string
}
