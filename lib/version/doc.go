// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the Lucid binaries.
//
// Four package-level variables are injected at build time via
// -ldflags -X:
//
//   - [GitCommit] -- short git SHA of the build
//   - [GitDirty] -- "true" if there were uncommitted changes
//   - [BuildTime] -- UTC timestamp of the build
//   - [Version] -- semantic version string (set manually for releases)
//
// They default to "unknown" / "0.1.0-dev" in development builds and
// test runs.
//
// [Print] also reports the wire frame version, so an operator can tell
// whether a peer build speaks the same framing as the host.
package version
