// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"
	"time"

	"github.com/lucid-foundation/lucid/lib/ref"
)

// Decision is the outcome of one evaluation.
type Decision uint8

const (
	// Deny means the action must not proceed.
	Deny Decision = iota
	// Allow means the action may proceed.
	Allow
	// Prompt means an approval request was opened; the action may not
	// proceed until it is approved and evaluated again.
	Prompt
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Prompt:
		return "prompt"
	default:
		return "deny"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Decision) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Decision) UnmarshalText(text []byte) error {
	for candidate := Deny; candidate <= Prompt; candidate++ {
		if candidate.String() == string(text) {
			*d = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown decision %q", text)
}

// Reason explains a Result.
type Reason uint8

const (
	ReasonNoRuleSet Reason = iota
	ReasonNoMatchingRule
	ReasonExplicitDeny
	ReasonOutsideWindow
	ReasonTooLarge
	ReasonRateLimited
	ReasonRuleAllows
	ReasonApprovalRequired
	ReasonApproved
	ReasonApprovalDenied
	ReasonApprovalExpired
	ReasonSessionClosed
)

func (r Reason) String() string {
	switch r {
	case ReasonNoRuleSet:
		return "no rule set"
	case ReasonNoMatchingRule:
		return "no matching rule"
	case ReasonExplicitDeny:
		return "explicit deny rule"
	case ReasonOutsideWindow:
		return "outside time window"
	case ReasonTooLarge:
		return "exceeds max size"
	case ReasonRateLimited:
		return "rate limit exceeded"
	case ReasonRuleAllows:
		return "allowed by rule"
	case ReasonApprovalRequired:
		return "approval required"
	case ReasonApproved:
		return "approved"
	case ReasonApprovalDenied:
		return "approval denied"
	case ReasonApprovalExpired:
		return "approval expired"
	case ReasonSessionClosed:
		return "session closed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Reason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Reason) UnmarshalText(text []byte) error {
	for candidate := ReasonNoRuleSet; candidate <= ReasonSessionClosed; candidate++ {
		if candidate.String() == string(text) {
			*r = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown decision reason %q", text)
}

// Result is one recorded policy decision. Results are immutable once
// appended to the decision log.
type Result struct {
	Session    ref.SessionID `json:"session"`
	Permission Permission    `json:"permission"`
	Resource   string        `json:"resource"`
	Decision   Decision      `json:"decision"`
	Reason     Reason        `json:"reason"`

	// RuleID names the rule that decided, if any.
	RuleID string `json:"rule_id,omitempty"`

	// Request is set for Prompt results and for results that resolve
	// an approval request.
	Request ref.RequestID `json:"request,omitzero"`

	At time.Time `json:"at"`
}
