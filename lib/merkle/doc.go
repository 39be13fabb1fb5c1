// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

// Package merkle folds a session's ordered chunk hashes into a single
// root and produces inclusion proofs against it.
//
// Leaves are [digest.Ciphertext] hashes in chunk-index order. Each
// level pairs adjacent nodes and hashes them with [digest.Node]. When a
// level has an odd number of nodes, the last node is paired with
// itself. A single leaf is its own root. The manifest records the leaf
// count alongside the root, so trees that differ only by a duplicated
// trailing leaf are distinguished there.
//
// [Builder] is the append side used by the chunk pipeline: it accepts
// leaves strictly in index order and reports any gap or repeat as
// [ErrOutOfOrder]. [Build] produces a [Tree] for proofs; [Verify]
// checks a [Proof] without the tree.
package merkle
