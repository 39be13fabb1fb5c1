// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"fmt"
	"io"
	"strings"

	"filippo.io/age"

	"github.com/lucid-foundation/lucid/lib/secret"
)

// Keypair is an age x25519 keypair. The caller must Close it.
type Keypair struct {
	// PrivateKey holds the AGE-SECRET-KEY-1... string.
	PrivateKey *secret.Buffer
	// PublicKey is the age1... recipient string.
	PublicKey string
}

// Close releases the private key.
func (k *Keypair) Close() error {
	if k.PrivateKey == nil {
		return nil
	}
	return k.PrivateKey.Close()
}

// GenerateKeypair creates a fresh x25519 keypair.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age keypair: %w", err)
	}
	privateKey, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("protecting private key: %w", err)
	}
	return &Keypair{
		PrivateKey: privateKey,
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// ParseRecipients parses age1... recipient strings. At least one is
// required.
func ParseRecipients(keys []string) ([]age.Recipient, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	recipients := make([]age.Recipient, 0, len(keys))
	for _, key := range keys {
		recipient, err := age.ParseX25519Recipient(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("parsing recipient %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}
	return recipients, nil
}

// Seal returns a writer that encrypts to every recipient and writes
// the ciphertext to destination. The caller must Close the returned
// writer to flush the final block; Close does not close destination.
func Seal(destination io.Writer, recipientKeys []string) (io.WriteCloser, error) {
	recipients, err := ParseRecipients(recipientKeys)
	if err != nil {
		return nil, err
	}
	writer, err := age.Encrypt(destination, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	return writer, nil
}

// Open returns a reader of the plaintext sealed in source. The private
// key is borrowed, not closed.
func Open(source io.Reader, privateKey *secret.Buffer) (io.Reader, error) {
	identity, err := age.ParseX25519Identity(string(privateKey.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	reader, err := age.Decrypt(source, identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return reader, nil
}

// ReadIdentityFile loads an age identity file (the format age-keygen
// writes) into locked memory. Comment lines are skipped; the first
// AGE-SECRET-KEY line is used.
func ReadIdentityFile(data []byte) (*secret.Buffer, error) {
	defer secret.Zero(data)
	for line := range strings.Lines(string(data)) {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "AGE-SECRET-KEY-") {
			if _, err := age.ParseX25519Identity(line); err != nil {
				return nil, fmt.Errorf("invalid age identity: %w", err)
			}
			return secret.NewFromBytes([]byte(line))
		}
	}
	return nil, fmt.Errorf("no AGE-SECRET-KEY line found")
}
