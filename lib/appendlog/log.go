// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

// Package appendlog provides an append-only record list with lock-free
// readers. Policy decisions and chunk records are kept in these logs:
// one owner appends, any number of goroutines take snapshots.
package appendlog

import (
	"sync"
	"sync/atomic"
)

// Log is an append-only sequence of T. The zero value is empty and
// ready to use.
type Log[T any] struct {
	mu      sync.Mutex
	entries atomic.Pointer[[]T]
}

// Append adds entry and returns its position.
func (l *Log[T]) Append(entry T) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	current := l.load()
	// Elements below len(current) are never rewritten, so readers
	// holding an older slice header observe a stable prefix.
	next := append(current, entry)
	l.entries.Store(&next)
	return len(next) - 1
}

// Snapshot returns the entries appended so far. The result must not be
// modified; appending to it allocates.
func (l *Log[T]) Snapshot() []T {
	current := l.load()
	return current[:len(current):len(current)]
}

// Len returns the number of entries.
func (l *Log[T]) Len() int { return len(l.load()) }

func (l *Log[T]) load() []T {
	if pointer := l.entries.Load(); pointer != nil {
		return *pointer
	}
	return nil
}
