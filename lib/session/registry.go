// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lucid-foundation/lucid/lib/ref"
)

// ErrReplayedSession is returned when a session id has been used
// before.
var ErrReplayedSession = errors.New("session: session id already used")

// Registry remembers every session id a host has used. Ids are
// claimed when a Machine is created and retired when it ends; neither
// can be claimed again. A host keeps one Registry and passes it to
// each Machine.
type Registry struct {
	mu   sync.Mutex
	seen map[ref.SessionID]bool // value is true once retired
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{seen: make(map[ref.SessionID]bool)}
}

// Claim records id as in use. It fails with ErrReplayedSession if id
// was claimed before, live or retired.
func (r *Registry) Claim(id ref.SessionID) error {
	if id.IsZero() {
		return fmt.Errorf("claiming the zero session id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[id]; ok {
		return fmt.Errorf("%w: %s", ErrReplayedSession, id)
	}
	r.seen[id] = false
	return nil
}

// Retire marks a claimed id as ended.
func (r *Registry) Retire(id ref.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[id]; ok {
		r.seen[id] = true
	}
}

// Retired reports whether id has ended.
func (r *Registry) Retired(id ref.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[id]
}

// Live returns the number of claimed ids not yet retired.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	live := 0
	for _, retired := range r.seen {
		if !retired {
			live++
		}
	}
	return live
}
