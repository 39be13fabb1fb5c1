// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package chunk

// Segmenter cuts a byte stream into chunks of exactly target bytes.
// Only the final chunk, returned by Flush, may be shorter.
type Segmenter struct {
	target  int
	pending []byte
}

// NewSegmenter returns a Segmenter for the given target size. target
// must be positive.
func NewSegmenter(target int) *Segmenter {
	if target <= 0 {
		panic("chunk: segment target must be positive")
	}
	return &Segmenter{target: target}
}

// Add appends data and returns every chunk it completes. data is
// copied; returned chunks are owned by the caller.
func (s *Segmenter) Add(data []byte) [][]byte {
	var complete [][]byte
	for len(data) > 0 {
		if s.pending == nil {
			s.pending = make([]byte, 0, s.target)
		}
		take := min(s.target-len(s.pending), len(data))
		s.pending = append(s.pending, data[:take]...)
		data = data[take:]
		if len(s.pending) == s.target {
			complete = append(complete, s.pending)
			s.pending = nil
		}
	}
	return complete
}

// Buffered returns the number of bytes held for the next chunk.
func (s *Segmenter) Buffered() int { return len(s.pending) }

// Flush returns the partial chunk, or nil if nothing is buffered.
func (s *Segmenter) Flush() []byte {
	if len(s.pending) == 0 {
		return nil
	}
	tail := s.pending
	s.pending = nil
	return tail
}
