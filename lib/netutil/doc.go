// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil classifies connection errors for the session
// listener.
package netutil
