// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the single CBOR configuration used across Lucid.
//
// CBOR carries everything that must hash or sign to identical bytes:
// manifest bodies, handshake payloads, chunk records in the store, and
// audit rows. Encoding uses Core Deterministic Encoding (RFC 8949
// §4.2), so the same value always produces the same bytes. JSON is
// reserved for operator-facing output (the anchor sidecar and CLI).
//
// Types that implement encoding.TextMarshaler (ref.SessionID,
// digest.Hash) encode as CBOR text strings.
//
// Decoding rejects duplicate map keys. A manifest or handshake payload
// with two values for one field is never accepted.
package codec
