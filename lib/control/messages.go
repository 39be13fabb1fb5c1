// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"github.com/lucid-foundation/lucid/lib/audit"
	"github.com/lucid-foundation/lucid/lib/policy"
	"github.com/lucid-foundation/lucid/lib/session"
)

// Actions served by lucid-session.
const (
	ActionStatus  = "status"
	ActionPending = "pending"
	ActionResolve = "resolve"
	ActionClose   = "close"
	ActionReload  = "reload"
)

// Status is the result of ActionStatus.
type Status struct {
	Owner    string             `cbor:"owner"`
	Listen   string             `cbor:"listen"`
	Policy   string             `cbor:"policy"`
	Rules    int                `cbor:"rules"`
	Sessions []session.Snapshot `cbor:"sessions"`
	Audit    audit.Stats        `cbor:"audit"`
}

// ResolveRequest is the request of ActionResolve. Session and Request
// are the hex session id and the request UUID.
type ResolveRequest struct {
	Session  string `cbor:"session"`
	Request  string `cbor:"request"`
	Approved bool   `cbor:"approved"`
	Approver string `cbor:"approver"`
}

// SessionRequest names one session, for ActionClose.
type SessionRequest struct {
	Session string `cbor:"session"`
}

// Pending is the result of ActionPending.
type Pending struct {
	Requests []policy.Request `cbor:"requests"`
}

// Reloaded is the result of ActionReload.
type Reloaded struct {
	Policy string `cbor:"policy"`
	Rules  int    `cbor:"rules"`
}
