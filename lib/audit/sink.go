// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"

	"github.com/lucid-foundation/lucid/lib/appendlog"
	"github.com/lucid-foundation/lucid/lib/ref"
)

// LogSink writes each event as one structured log line.
type LogSink struct {
	Logger *slog.Logger
}

// Append implements Sink.
func (s LogSink) Append(event Event) error {
	attrs := []slog.Attr{
		slog.String("event_id", event.ID.String()),
		slog.String("session_id", event.Session.String()),
		slog.String("category", string(event.Category)),
		slog.Time("at", event.At),
	}
	for _, key := range slices.Sorted(maps.Keys(event.Attrs)) {
		attrs = append(attrs, slog.String(key, event.Attrs[key]))
	}
	level := slog.LevelInfo
	switch event.Category {
	case CategoryHandshakeFailure, CategoryChunkFailure, CategoryPolicyViolation:
		level = slog.LevelWarn
	}
	s.Logger.LogAttrs(context.Background(), level, "audit: "+event.Message, attrs...)
	return nil
}

// MemorySink keeps every event in memory. Readers never block the
// drain goroutine.
type MemorySink struct {
	events appendlog.Log[Event]
}

// Append implements Sink.
func (s *MemorySink) Append(event Event) error {
	s.events.Append(event)
	return nil
}

// Events returns every event appended so far.
func (s *MemorySink) Events() []Event { return s.events.Snapshot() }

// Filter returns the events of session in category, in order.
func (s *MemorySink) Filter(session ref.SessionID, category Category) []Event {
	var matched []Event
	for _, event := range s.events.Snapshot() {
		if event.Session == session && event.Category == category {
			matched = append(matched, event)
		}
	}
	return matched
}

// Tee fans each event out to every sink. All sinks see the event even
// when one fails; the failures are joined.
func Tee(sinks ...Sink) Sink { return tee(sinks) }

type tee []Sink

func (t tee) Append(event Event) error {
	var errs []error
	for _, sink := range t {
		if err := sink.Append(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
