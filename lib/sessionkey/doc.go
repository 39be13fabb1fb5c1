// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessionkey owns a session's key material: the master secret
// from which every chunk key is derived, and the ephemeral Ed25519
// keypair that signs the handshake challenge and the manifest.
//
// # Chunk keys and nonces
//
// [Deriver] maps a chunk sequence number to a (key, nonce) pair:
//
//	key   = HKDF-SHA256(ikm = master, salt = session id, info = "lucid.chunk.key.v1" ‖ seq)
//	nonce = session id (16 bytes) ‖ seq (8 bytes, big-endian)
//
// The nonce is 24 bytes, the XChaCha20-Poly1305 nonce size. Because it
// embeds the session id and the sequence number verbatim, two chunks
// of one session never share a nonce and chunks of different sessions
// never share one either. The key is also unique per chunk, so a
// (key, nonce) pair cannot repeat even if a sequence number were
// replayed under a different master.
//
// All key material lives in [secret.Buffer]s and is zeroed by Close.
// Nothing here is ever persisted.
package sessionkey
