// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

// Package control is the host operator's channel into a running
// lucid-session: listing sessions, answering JIT approval prompts, and
// reloading the policy rule set.
//
// The protocol is one CBOR request and one CBOR response per Unix
// socket connection. A request is a map with an "action" field plus
// action-specific fields; the response is a [Response] envelope whose
// Data holds the action's result. The socket is created owner-only:
// whoever can connect to it can approve actions on the host, so the
// filesystem permission is the access control.
package control
