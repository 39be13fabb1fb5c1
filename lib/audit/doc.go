// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit records what happened in a session: every handshake
// step, policy decision, approval request, chunk commit, and ending.
//
// A [Recorder] sits beside the session's critical path. [Recorder.Record]
// never blocks: events go into a bounded buffer drained by one
// goroutine into a [Sink], and when the buffer is full the event is
// dropped and counted. [Recorder.Close] drains what was accepted.
//
// Sinks: [LogSink] writes through slog, [MemorySink] keeps events in
// an append-only log for tests and inspection, and [SQLiteSink]
// persists them. [ExportSealed] writes a session's events as a CBOR
// stream sealed to operator age recipients.
package audit
