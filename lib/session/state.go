// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"time"
)

// State is a session lifecycle state.
type State uint8

const (
	StateCreated State = iota
	StateHandshaking
	StateActive
	StateFinalizing
	StateClosed
	StateAborted
)

var stateNames = [...]string{
	StateCreated:     "created",
	StateHandshaking: "handshaking",
	StateActive:      "active",
	StateFinalizing:  "finalizing",
	StateClosed:      "closed",
	StateAborted:     "aborted",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = State(state)
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// Terminal reports whether s is Closed or Aborted.
func (s State) Terminal() bool { return s == StateClosed || s == StateAborted }

// EndReason is the category the peer is told when a session ends. It
// carries no internal detail.
type EndReason uint8

const (
	EndNormal EndReason = iota
	EndPolicyViolation
	EndTransportFailure
	EndProtocolError
	// EndInternalError is a host-side failure, such as the chunk
	// pipeline crossing its failure threshold.
	EndInternalError
)

var endReasonNames = [...]string{
	EndNormal:           "normal",
	EndPolicyViolation:  "policy_violation",
	EndTransportFailure: "transport_failure",
	EndProtocolError:    "protocol_error",
	EndInternalError:    "internal_error",
}

func (r EndReason) String() string {
	if int(r) < len(endReasonNames) {
		return endReasonNames[r]
	}
	return fmt.Sprintf("end_reason(%d)", uint8(r))
}

// MarshalText implements encoding.TextMarshaler.
func (r EndReason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *EndReason) UnmarshalText(text []byte) error {
	for candidate, name := range endReasonNames {
		if name == string(text) {
			*r = EndReason(candidate)
			return nil
		}
	}
	return fmt.Errorf("unknown end reason %q", text)
}

// Transition is one entry in a session's state history.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
	// Note says what caused the transition.
	Note string `json:"note,omitempty"`
}
