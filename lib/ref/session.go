// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// SessionIDSize is the length of a session identifier in bytes.
const SessionIDSize = 16

// SessionID identifies exactly one remote-desktop session. The zero
// value is not a valid identifier.
type SessionID [SessionIDSize]byte

// NewSessionID reads a fresh identifier from crypto/rand.
func NewSessionID() (SessionID, error) {
	var id SessionID
	if _, err := rand.Read(id[:]); err != nil {
		return SessionID{}, fmt.Errorf("generating session id: %w", err)
	}
	return id, nil
}

// ParseSessionID parses the 32-character lowercase hex form.
func ParseSessionID(raw string) (SessionID, error) {
	var id SessionID
	if len(raw) != 2*SessionIDSize {
		return id, fmt.Errorf("session id must be %d hex characters, got %d", 2*SessionIDSize, len(raw))
	}
	if _, err := hex.Decode(id[:], []byte(raw)); err != nil {
		return id, fmt.Errorf("parsing session id: %w", err)
	}
	if id.IsZero() {
		return id, fmt.Errorf("session id is all zeroes")
	}
	return id, nil
}

// MustParseSessionID is ParseSessionID for tests and constants.
func MustParseSessionID(raw string) SessionID {
	id, err := ParseSessionID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseSessionID(%q): %v", raw, err))
	}
	return id
}

// String returns the lowercase hex form.
func (id SessionID) String() string { return hex.EncodeToString(id[:]) }

// IsZero reports whether id is the zero value.
func (id SessionID) IsZero() bool { return id == SessionID{} }

// MarshalText implements encoding.TextMarshaler.
func (id SessionID) MarshalText() ([]byte, error) {
	if id.IsZero() {
		return nil, fmt.Errorf("marshaling zero session id")
	}
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *SessionID) UnmarshalText(text []byte) error {
	parsed, err := ParseSessionID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
