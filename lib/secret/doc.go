// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds key material outside the Go heap.
//
// A [Buffer] is an anonymous mmap region locked into RAM (mlock) and
// excluded from core dumps (MADV_DONTDUMP). Session master secrets,
// derived chunk keys, and the session's ephemeral signing key all live
// in Buffers and are zeroed when the session ends. Nothing in this
// package writes to disk.
//
// Depends on golang.org/x/sys/unix.
package secret
