// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package sessionkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/lucid-foundation/lucid/lib/secret"
)

// Ephemeral is a session's Ed25519 signing keypair. It is created when
// the session starts and destroyed when the session ends.
type Ephemeral struct {
	public  ed25519.PublicKey
	private *secret.Buffer
}

// GenerateEphemeral creates a new keypair. The private key is held in
// locked memory.
func GenerateEphemeral() (*Ephemeral, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating ephemeral key: %w", err)
	}
	guarded, err := secret.NewFromBytes(private)
	if err != nil {
		return nil, fmt.Errorf("protecting ephemeral key: %w", err)
	}
	return &Ephemeral{public: public, private: guarded}, nil
}

// Public returns the public key.
func (e *Ephemeral) Public() ed25519.PublicKey { return e.public }

// Sign signs message. Panics after Close.
func (e *Ephemeral) Sign(message []byte) []byte {
	return ed25519.Sign(ed25519.PrivateKey(e.private.Bytes()), message)
}

// Close destroys the private key.
func (e *Ephemeral) Close() error {
	return e.private.Close()
}
