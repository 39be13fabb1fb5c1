// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

// Package handshake authenticates the two ends of a session over an
// already-encrypted byte stream.
//
// The host speaks first:
//
//	host → peer  hello     {version, session id, host key, 32-byte challenge, codec}
//	peer → host  response  {session id, peer key, peer signature}
//	host → peer  accept    {session id, host signature}
//
// Both signatures are Ed25519 over the same transcript, prefixed with
// a side-specific label: label ‖ session id ‖ challenge ‖ host key ‖
// peer key. Each side signs with its session's ephemeral key, so a
// signature binds both keys to this session and this challenge.
//
// [Accept] runs the host side and [Respond] the peer side. Both bound
// the whole exchange by a timeout measured on the injected clock; on
// timeout or context cancellation the connection is closed and the
// attempt is over. A failed handshake is never retried on the same
// session id.
package handshake
