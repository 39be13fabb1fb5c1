// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds entrypoint helpers for the Lucid binaries:
// reporting a fatal error before the structured logger exists, and
// exiting after main's run function fails.
package process
