// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Lucid packages.
//
// The Require helpers bound every channel wait in a test with a real
// timeout so a broken test fails instead of hanging. Session timeouts
// themselves are driven by lib/clock's FakeClock, never by these.
package testutil
