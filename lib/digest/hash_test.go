// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"strings"
	"testing"
)

func TestDomainsAreSeparated(t *testing.T) {
	data := make([]byte, 2*Size)
	var left, right Hash

	leaf := Ciphertext(data)
	node := Node(left, right)
	manifest := Manifest(data)

	if leaf == node || leaf == manifest || node == manifest {
		t.Fatalf("domain collision: leaf=%s node=%s manifest=%s", leaf, node, manifest)
	}
}

func TestNodeIsOrderSensitive(t *testing.T) {
	left := Ciphertext([]byte("left"))
	right := Ciphertext([]byte("right"))
	if Node(left, right) == Node(right, left) {
		t.Fatal("Node(left, right) == Node(right, left)")
	}
}

func TestParse(t *testing.T) {
	hash := Ciphertext([]byte("chunk"))
	parsed, err := Parse(hash.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed != hash {
		t.Errorf("Parse(String()) = %s, want %s", parsed, hash)
	}
	if len(hash.Short()) != 12 || !strings.HasPrefix(hash.String(), hash.Short()) {
		t.Errorf("Short() = %q, not a prefix of %q", hash.Short(), hash.String())
	}

	for _, bad := range []string{"", "abcd", strings.Repeat("g", 64)} {
		if _, err := Parse(bad); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", bad)
		}
	}
}
