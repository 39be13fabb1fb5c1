// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package chunk

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline error.
type Kind uint8

const (
	// KindChunk is a failure isolated to one chunk. The chunk is not
	// committed; the pipeline continues.
	KindChunk Kind = iota + 1

	// KindThreshold means the consecutive chunk-failure threshold was
	// reached.
	KindThreshold

	// KindIntegrity is nonce reuse or out-of-order commit.
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindChunk:
		return "chunk"
	case KindThreshold:
		return "threshold"
	case KindIntegrity:
		return "integrity"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Stage names where a chunk failed.
type Stage string

const (
	StageCompress Stage = "compress"
	StageEncrypt  Stage = "encrypt"
	StageStore    Stage = "store"
	StageCommit   Stage = "commit"
)

// Error is the error type reported by the pipeline.
type Error struct {
	Kind     Kind
	Stage    Stage
	Sequence uint64
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("chunk %d: %s failure during %s: %v", e.Sequence, e.Kind, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Fatal reports whether the error ends the pipeline.
func (e *Error) Fatal() bool { return e.Kind != KindChunk }

var (
	// ErrNonceReuse is reported when a nonce is presented for sealing
	// a second time within a session.
	ErrNonceReuse = errors.New("chunk: nonce reuse")

	// ErrClosed is returned by Write after Finish or Abort.
	ErrClosed = errors.New("chunk: pipeline closed")

	// ErrAborted is returned by Finish on an aborted pipeline.
	ErrAborted = errors.New("chunk: pipeline aborted")
)
