// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package chunkstore

import (
	"context"
	"errors"

	"github.com/lucid-foundation/lucid/lib/chunk"
	"github.com/lucid-foundation/lucid/lib/ref"
)

var (
	// ErrNotFound is returned by Get for a chunk that was never put.
	ErrNotFound = errors.New("chunkstore: chunk not found")
	// ErrExists is returned by Put for an index already stored.
	ErrExists = errors.New("chunkstore: chunk already stored")
)

// Store is the persistence collaborator of the chunk pipeline.
type Store interface {
	chunk.Store
	Get(ctx context.Context, session ref.SessionID, index uint64) (chunk.Record, []byte, error)
	// List returns a session's records in index order.
	List(ctx context.Context, session ref.SessionID) ([]chunk.Record, error)
	Close() error
}
