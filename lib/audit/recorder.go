// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/lucid-foundation/lucid/lib/clock"
	"github.com/lucid-foundation/lucid/lib/ref"
)

// DefaultBuffer is the Recorder's queue length when Config.Buffer is
// zero.
const DefaultBuffer = 1024

// Sink receives events from a Recorder's drain goroutine, one at a
// time and in record order.
type Sink interface {
	Append(event Event) error
}

// Config configures a Recorder.
type Config struct {
	Sink   Sink
	Buffer int
	Clock  clock.Clock
	Logger *slog.Logger
}

// Stats counts what a Recorder did with the events it was given.
type Stats struct {
	Recorded uint64
	Dropped  uint64
	Failed   uint64
}

// Recorder queues events for a Sink without blocking the caller. It is
// safe for concurrent use.
type Recorder struct {
	sink   Sink
	clock  clock.Clock
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}

	recorded atomic.Uint64
	dropped  atomic.Uint64
	failed   atomic.Uint64
}

// NewRecorder starts a Recorder draining into config.Sink.
func NewRecorder(config Config) *Recorder {
	if config.Buffer <= 0 {
		config.Buffer = DefaultBuffer
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	recorder := &Recorder{
		sink:   config.Sink,
		clock:  config.Clock,
		logger: logger,
		queue:  make(chan Event, config.Buffer),
		done:   make(chan struct{}),
	}
	go recorder.drain()
	return recorder
}

// Record queues event. Zero ID and At are filled in. When the queue is
// full or the Recorder is closed the event is dropped and counted.
// Record reports whether the event was queued.
func (r *Recorder) Record(event Event) bool {
	if event.ID.IsZero() {
		event.ID = ref.NewEventID()
	}
	if event.At.IsZero() {
		event.At = r.clock.Now()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return false
	}
	select {
	case r.queue <- event:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

// Emit is shorthand for Record(New(...)).
func (r *Recorder) Emit(session ref.SessionID, category Category, message string, keyValues ...string) {
	r.Record(New(session, category, message, keyValues...))
}

func (r *Recorder) drain() {
	defer close(r.done)
	for event := range r.queue {
		if r.sink == nil {
			r.recorded.Add(1)
			continue
		}
		if err := r.sink.Append(event); err != nil {
			r.failed.Add(1)
			r.logger.Warn("audit sink append failed",
				"session_id", event.Session.String(),
				"category", string(event.Category),
				"error", err,
			)
			continue
		}
		r.recorded.Add(1)
	}
}

// Close stops accepting events and waits until every queued event has
// reached the sink. Close is idempotent; it does not close the sink.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}

// Stats returns the current counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Recorded: r.recorded.Load(),
		Dropped:  r.dropped.Load(),
		Failed:   r.failed.Load(),
	}
}
