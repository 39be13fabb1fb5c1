// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for Lucid hosts.
//
// Configuration is loaded from a single file named either by the
// LUCID_CONFIG environment variable (via [Load]) or by a --config flag
// (via [LoadFile]). There is no discovery and no fallback file.
//
// The file may carry environment sections (development, staging,
// production) that override base values when [Config].Environment
// matches. Durations are Go duration strings ("30s", "5m").
//
// Path fields are expanded after loading: ${HOME}, ${LUCID_ROOT}, and
// ${VAR:-default} patterns. No other environment variable overrides a
// config value.
//
// [Config.Validate] reports every problem at once; the chunk size
// must stay within the 8-16 MiB band.
package config
