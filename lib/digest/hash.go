// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Size is the length of a Hash in bytes.
const Size = 32

// Hash is a 32-byte BLAKE3 digest.
type Hash [Size]byte

type domainKey [32]byte

func newDomainKey(name string) domainKey {
	var key domainKey
	if len(name) > len(key) {
		panic("digest: domain name longer than 32 bytes: " + name)
	}
	copy(key[:], name)
	return key
}

var (
	ciphertextDomain = newDomainKey("lucid.chunk.ciphertext")
	nodeDomain       = newDomainKey("lucid.merkle.node")
	manifestDomain   = newDomainKey("lucid.manifest")
)

// Ciphertext hashes the encrypted bytes of one chunk. This is the leaf
// value committed to the Merkle tree and recorded in the manifest.
func Ciphertext(data []byte) Hash {
	return keyedHash(ciphertextDomain, data)
}

// Node hashes a Merkle parent from its two children.
func Node(left, right Hash) Hash {
	var combined [2 * Size]byte
	copy(combined[:Size], left[:])
	copy(combined[Size:], right[:])
	return keyedHash(nodeDomain, combined[:])
}

// Manifest hashes the encoded manifest body.
func Manifest(body []byte) Hash {
	return keyedHash(manifestDomain, body)
}

func keyedHash(key domainKey, data []byte) Hash {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("digest: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var result Hash
	copy(result[:], hasher.Sum(nil))
	return result
}

// String returns the lowercase hex form.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// Short returns the first 12 hex characters, for log lines.
func (h Hash) Short() string { return h.String()[:12] }

// IsZero reports whether h is all zeroes.
func (h Hash) IsZero() bool { return h == Hash{} }

// Parse decodes a 64-character hex string.
func Parse(raw string) (Hash, error) {
	var hash Hash
	if len(raw) != 2*Size {
		return hash, fmt.Errorf("hash must be %d hex characters, got %d", 2*Size, len(raw))
	}
	if _, err := hex.Decode(hash[:], []byte(raw)); err != nil {
		return hash, fmt.Errorf("parsing hash: %w", err)
	}
	return hash, nil
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
