// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides the immutable identifier types shared across
// the session core.
//
// [SessionID] is a 128-bit value read from crypto/rand when a session
// is created. It is single-use: once a session reaches a terminal state
// its identifier is retired and a handshake carrying it is rejected.
// [RequestID] names a JIT approval request and [EventID] an audit
// event; both are random UUIDs.
//
// Every type marshals through encoding.TextMarshaler, so CBOR, JSON,
// and slog attributes all carry the same canonical string.
package ref
