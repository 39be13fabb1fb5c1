// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

// Package session runs one remote-desktop session from handshake to
// manifest.
//
// A [Machine] owns everything scoped to its session: the ephemeral
// host key, the master secret behind the chunk keys, the policy
// engine, and the chunk pipeline. It moves through
//
//	Created -> Handshaking -> Active -> Finalizing -> Closed
//
// and can reach Aborted from any state before Closed. Closed and
// Aborted are terminal: the session id is retired in the [Registry]
// and the key material is released.
//
// In Active, every action the peer requests is evaluated by the
// policy engine before it takes effect, and session data is written
// to the chunk pipeline. [Machine.Serve] does both from frames read
// off the transport. Closing drains the pipeline, assembles and signs
// the manifest, and hands it to the anchoring collaborator. An
// aborted session never produces a manifest.
//
// Each terminal failure is recorded as exactly one audit event and
// the peer is sent an end frame naming only the [EndReason] category.
package session
