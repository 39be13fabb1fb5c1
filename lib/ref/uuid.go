// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"

	"github.com/google/uuid"
)

// RequestID identifies a JIT approval request.
type RequestID struct{ uuid.UUID }

// NewRequestID returns a random request identifier.
func NewRequestID() RequestID { return RequestID{uuid.New()} }

// ParseRequestID parses the canonical UUID string form.
func ParseRequestID(raw string) (RequestID, error) {
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return RequestID{}, fmt.Errorf("parsing request id: %w", err)
	}
	return RequestID{parsed}, nil
}

// IsZero reports whether id is the zero value.
func (id RequestID) IsZero() bool { return id.UUID == uuid.Nil }

// EventID identifies one audit event.
type EventID struct{ uuid.UUID }

// NewEventID returns a random event identifier.
func NewEventID() EventID { return EventID{uuid.New()} }

// ParseEventID parses the canonical UUID string form.
func ParseEventID(raw string) (EventID, error) {
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return EventID{}, fmt.Errorf("parsing event id: %w", err)
	}
	return EventID{parsed}, nil
}

// IsZero reports whether id is the zero value.
func (id EventID) IsZero() bool { return id.UUID == uuid.Nil }
