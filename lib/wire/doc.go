// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire frames messages on a session's byte stream.
//
// Every frame is an 8-byte header followed by the payload:
//
//	[2 bytes magic "LU"] [1 byte version] [1 byte type] [4 bytes payload length, big-endian]
//
// Readers reject a wrong magic, an unknown version or type, and a
// length above the reader's limit before allocating anything for the
// payload. Structured payloads are deterministic CBOR; data frames
// carry raw session bytes.
package wire
