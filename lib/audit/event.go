// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"time"

	"github.com/lucid-foundation/lucid/lib/ref"
)

// Category classifies an Event.
type Category string

const (
	CategoryHandshakeStep     Category = "handshake_step"
	CategoryHandshakeComplete Category = "handshake_complete"
	CategoryHandshakeFailure  Category = "handshake_failure"
	CategoryStateChange       Category = "state_change"
	CategoryPolicyDecision    Category = "policy_decision"
	CategoryJITRequest        Category = "jit_request"
	CategoryJITResolution     Category = "jit_resolution"
	CategoryPolicyViolation   Category = "policy_violation"
	CategoryChunkCommit       Category = "chunk_commit"
	CategoryChunkFailure      Category = "chunk_failure"
	CategoryFinalization      Category = "finalization"
	CategoryManifest          Category = "manifest"
	CategorySessionTerminated Category = "session_terminated"
)

// Event is one audit record. Events are immutable once recorded.
type Event struct {
	ID       ref.EventID       `cbor:"id" json:"id"`
	Session  ref.SessionID     `cbor:"session" json:"session"`
	Category Category          `cbor:"category" json:"category"`
	At       time.Time         `cbor:"at" json:"at"`
	Message  string            `cbor:"message" json:"message"`
	Attrs    map[string]string `cbor:"attrs,omitempty" json:"attrs,omitempty"`
}

// New builds an Event from alternating key/value attribute pairs. A
// trailing key without a value is dropped.
func New(session ref.SessionID, category Category, message string, keyValues ...string) Event {
	event := Event{Session: session, Category: category, Message: message}
	if len(keyValues) >= 2 {
		event.Attrs = make(map[string]string, len(keyValues)/2)
		for index := 0; index+1 < len(keyValues); index += 2 {
			event.Attrs[keyValues[index]] = keyValues[index+1]
		}
	}
	return event
}
