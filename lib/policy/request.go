// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"errors"
	"fmt"
	"time"

	"github.com/lucid-foundation/lucid/lib/clock"
	"github.com/lucid-foundation/lucid/lib/ref"
)

// RequestState is the lifecycle state of a JIT approval request.
// Every state other than Pending is terminal.
type RequestState uint8

const (
	RequestPending RequestState = iota
	RequestApproved
	RequestDenied
	RequestExpired
)

func (s RequestState) String() string {
	switch s {
	case RequestPending:
		return "pending"
	case RequestApproved:
		return "approved"
	case RequestDenied:
		return "denied"
	case RequestExpired:
		return "expired"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s RequestState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *RequestState) UnmarshalText(text []byte) error {
	for state := RequestPending; state <= RequestExpired; state++ {
		if state.String() == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown request state %q", text)
}

var (
	// ErrUnknownRequest is returned for a request id this engine never
	// issued.
	ErrUnknownRequest = errors.New("policy: unknown approval request")

	// ErrRequestExpired is returned when an approval arrives after the
	// request's expiry.
	ErrRequestExpired = errors.New("policy: approval request expired")

	// ErrRequestResolved is returned when a request was already
	// approved or denied.
	ErrRequestResolved = errors.New("policy: approval request already resolved")
)

// Request is a snapshot of a JIT approval request.
type Request struct {
	ID         ref.RequestID `json:"id"`
	Session    ref.SessionID `json:"session"`
	Permission Permission    `json:"permission"`
	Resource   string        `json:"resource"`
	RuleID     string        `json:"rule_id"`
	CreatedAt  time.Time     `json:"created_at"`
	ExpiresAt  time.Time     `json:"expires_at"`
	State      RequestState  `json:"state"`
	ResolvedAt time.Time     `json:"resolved_at,omitzero"`
	ResolvedBy string        `json:"resolved_by,omitempty"`
}

// request is the engine's mutable record behind a Request.
type request struct {
	Request
	action Action
	timer  *clock.Timer
	// consumed is set when a re-evaluation turns the approval into an
	// Allow; an approval is good for one action.
	consumed bool
	// outcome is the Deny recorded when the request ends without
	// approval.
	outcome Result
	done    chan struct{}
}
