// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package merkle

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lucid-foundation/lucid/lib/digest"
)

// ErrOutOfOrder is returned by Builder.Append when a leaf does not
// carry the next expected index. The pipeline treats it as an
// integrity failure.
var ErrOutOfOrder = errors.New("merkle: leaf appended out of order")

// Builder accumulates leaves in strict index order. It is safe for
// concurrent use; one goroutine appends while others read.
type Builder struct {
	mu     sync.Mutex
	leaves []digest.Hash
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder { return &Builder{} }

// Append adds hash as the leaf at index. index must equal Len().
func (b *Builder) Append(index uint64, hash digest.Hash) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if want := uint64(len(b.leaves)); index != want {
		return fmt.Errorf("%w: got index %d, want %d", ErrOutOfOrder, index, want)
	}
	b.leaves = append(b.leaves, hash)
	return nil
}

// Len returns the number of leaves appended.
func (b *Builder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.leaves)
}

// Leaves returns a copy of the leaves in index order.
func (b *Builder) Leaves() []digest.Hash {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]digest.Hash(nil), b.leaves...)
}

// Root computes the root over the leaves appended so far.
func (b *Builder) Root() (digest.Hash, error) {
	return Root(b.Leaves())
}
