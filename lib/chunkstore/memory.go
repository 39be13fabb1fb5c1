// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package chunkstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/lucid-foundation/lucid/lib/chunk"
	"github.com/lucid-foundation/lucid/lib/ref"
)

type storedChunk struct {
	record chunk.Record
	sealed []byte
}

// Memory is an in-process Store.
type Memory struct {
	mu       sync.RWMutex
	sessions map[ref.SessionID]map[uint64]storedChunk
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[ref.SessionID]map[uint64]storedChunk)}
}

// Put implements chunk.Store. sealed is copied.
func (m *Memory) Put(_ context.Context, record chunk.Record, sealed []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	chunks := m.sessions[record.Session]
	if chunks == nil {
		chunks = make(map[uint64]storedChunk)
		m.sessions[record.Session] = chunks
	}
	if _, ok := chunks[record.Index]; ok {
		return fmt.Errorf("%w: %s/%d", ErrExists, record.Session, record.Index)
	}
	chunks[record.Index] = storedChunk{record: record, sealed: slices.Clone(sealed)}
	return nil
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, session ref.SessionID, index uint64) (chunk.Record, []byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored, ok := m.sessions[session][index]
	if !ok {
		return chunk.Record{}, nil, fmt.Errorf("%w: %s/%d", ErrNotFound, session, index)
	}
	return stored.record, slices.Clone(stored.sealed), nil
}

// List implements Store.
func (m *Memory) List(_ context.Context, session ref.SessionID) ([]chunk.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chunks := m.sessions[session]
	records := make([]chunk.Record, 0, len(chunks))
	for _, index := range slices.Sorted(maps.Keys(chunks)) {
		records = append(records, chunks[index].record)
	}
	return records, nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
