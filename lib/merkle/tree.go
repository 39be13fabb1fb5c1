// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package merkle

import (
	"errors"
	"fmt"

	"github.com/lucid-foundation/lucid/lib/digest"
)

// ErrEmpty is returned when a root is requested over zero leaves.
var ErrEmpty = errors.New("merkle: no leaves")

// Root computes the root over leaves without retaining the tree.
func Root(leaves []digest.Hash) (digest.Hash, error) {
	if len(leaves) == 0 {
		return digest.Hash{}, ErrEmpty
	}
	level := make([]digest.Hash, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		level = parentLevel(level)
	}
	return level[0], nil
}

// parentLevel hashes adjacent pairs, pairing an odd last node with
// itself.
func parentLevel(level []digest.Hash) []digest.Hash {
	parents := make([]digest.Hash, (len(level)+1)/2)
	for index := 0; index < len(level); index += 2 {
		left := level[index]
		right := left
		if index+1 < len(level) {
			right = level[index+1]
		}
		parents[index/2] = digest.Node(left, right)
	}
	return parents
}

// Tree retains every level so proofs can be extracted.
type Tree struct {
	// levels[0] is the leaves; the last level holds only the root.
	levels [][]digest.Hash
}

// Build constructs the full tree over leaves.
func Build(leaves []digest.Hash) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmpty
	}
	level := make([]digest.Hash, len(leaves))
	copy(level, leaves)
	levels := [][]digest.Hash{level}
	for len(level) > 1 {
		level = parentLevel(level)
		levels = append(levels, level)
	}
	return &Tree{levels: levels}, nil
}

// Root returns the tree's root.
func (t *Tree) Root() digest.Hash { return t.levels[len(t.levels)-1][0] }

// Len returns the number of leaves.
func (t *Tree) Len() int { return len(t.levels[0]) }

// Height returns the number of hashing levels above the leaves.
func (t *Tree) Height() int { return len(t.levels) - 1 }

// Side says which side of the running hash a proof sibling sits on.
type Side uint8

const (
	// SiblingRight means the running hash is the left child.
	SiblingRight Side = iota
	// SiblingLeft means the running hash is the right child.
	SiblingLeft
)

func (s Side) String() string {
	if s == SiblingLeft {
		return "left"
	}
	return "right"
}

// Step is one level of an inclusion proof.
type Step struct {
	Sibling digest.Hash `cbor:"sibling" json:"sibling"`
	Side    Side        `cbor:"side" json:"side"`
}

// Proof shows that the leaf at Index is included under a root.
type Proof struct {
	Index     int    `cbor:"index" json:"index"`
	LeafCount int    `cbor:"leaf_count" json:"leaf_count"`
	Steps     []Step `cbor:"steps" json:"steps"`
}

// Proof returns the inclusion proof for the leaf at index.
func (t *Tree) Proof(index int) (Proof, error) {
	if index < 0 || index >= t.Len() {
		return Proof{}, fmt.Errorf("merkle: leaf index %d out of range [0, %d)", index, t.Len())
	}
	proof := Proof{Index: index, LeafCount: t.Len()}
	position := index
	for _, level := range t.levels[:len(t.levels)-1] {
		var step Step
		if position%2 == 0 {
			step.Side = SiblingRight
			if position+1 < len(level) {
				step.Sibling = level[position+1]
			} else {
				step.Sibling = level[position]
			}
		} else {
			step.Side = SiblingLeft
			step.Sibling = level[position-1]
		}
		proof.Steps = append(proof.Steps, step)
		position /= 2
	}
	return proof, nil
}

// Verify recomputes the root from leaf and proof and compares it to
// root.
func Verify(leaf digest.Hash, proof Proof, root digest.Hash) bool {
	if proof.Index < 0 || proof.Index >= proof.LeafCount {
		return false
	}
	if len(proof.Steps) != heightFor(proof.LeafCount) {
		return false
	}
	running := leaf
	position := proof.Index
	for _, step := range proof.Steps {
		wantSide := SiblingRight
		if position%2 == 1 {
			wantSide = SiblingLeft
		}
		if step.Side != wantSide {
			return false
		}
		if step.Side == SiblingLeft {
			running = digest.Node(step.Sibling, running)
		} else {
			running = digest.Node(running, step.Sibling)
		}
		position /= 2
	}
	return running == root
}

// heightFor returns the number of levels above leafCount leaves.
func heightFor(leafCount int) int {
	height := 0
	for width := leafCount; width > 1; width = (width + 1) / 2 {
		height++
	}
	return height
}
