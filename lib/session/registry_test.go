// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"testing"

	"github.com/lucid-foundation/lucid/lib/ref"
)

func TestRegistryRejectsReuse(t *testing.T) {
	registry := NewRegistry()
	id, err := ref.NewSessionID()
	if err != nil {
		t.Fatal(err)
	}

	if err := registry.Claim(id); err != nil {
		t.Fatalf("first Claim: %v", err)
	}
	if err := registry.Claim(id); !errors.Is(err, ErrReplayedSession) {
		t.Errorf("Claim of a live id: error = %v, want ErrReplayedSession", err)
	}
	if registry.Live() != 1 || registry.Retired(id) {
		t.Fatalf("live = %d, retired = %v", registry.Live(), registry.Retired(id))
	}

	registry.Retire(id)
	if registry.Live() != 0 || !registry.Retired(id) {
		t.Fatalf("after Retire: live = %d, retired = %v", registry.Live(), registry.Retired(id))
	}
	if err := registry.Claim(id); !errors.Is(err, ErrReplayedSession) {
		t.Errorf("Claim of a retired id: error = %v, want ErrReplayedSession", err)
	}
	if err := registry.Claim(ref.SessionID{}); err == nil {
		t.Error("Claim accepted the zero id")
	}
}

func TestRetireUnknownIsIgnored(t *testing.T) {
	registry := NewRegistry()
	id, _ := ref.NewSessionID()
	registry.Retire(id)
	if registry.Retired(id) {
		t.Error("unclaimed id reported retired")
	}
	if err := registry.Claim(id); err != nil {
		t.Errorf("Claim after retiring an unknown id: %v", err)
	}
}
