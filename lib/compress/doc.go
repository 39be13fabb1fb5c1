// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

// Package compress is the first stage of the chunk pipeline. Every
// chunk is compressed before it is encrypted; ciphertext does not
// compress.
//
// Two block codecs are available: zstd (github.com/klauspost/compress)
// for desktop streams with large flat regions, and LZ4
// (github.com/pierrec/lz4/v4) when zstd gains little. [Algorithm]
// values are recorded in the chunk record and authenticated as part of
// the encrypted envelope, so they are wire constants.
//
// Data that does not shrink is stored with [None]. [Compress] returns
// [ErrIncompressible] in that case and [Auto] falls back silently.
package compress
