// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite databases for Lucid's local
// structured storage (the audit trail) with a fixed pragma set.
//
// Connections come from a zombiezen sqlitex pool. A connection is not
// safe for concurrent use: borrow one with [Pool.Take] and return it
// with [Pool.Put], or run a function against a borrowed connection
// with [Pool.Do].
//
// Every connection gets journal_mode=WAL, synchronous=NORMAL,
// busy_timeout=5000, and an in-memory temp store. Audit rows survive a
// process crash; a power loss may drop the last few commits.
package sqlitepool
