// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleRules = `{
	// Default deny applies to anything not listed here.
	"version": 1,
	"rules": [
		{
			"id": "view-only",
			"permission": "display",
			"resources": ["display/*/view"],
			"effect": "allow",
		},
		{
			"id": "clipboard-out",
			"permission": "clipboard",
			"resources": ["clipboard/to_peer/*"],
			"effect": "prompt",
			"conditions": {
				"max_size": 65536,
				"rate_limit": {"count": 10, "per": "1m"},
				"window": {"start": "08:00", "end": "18:00", "days": ["mon", "tue", "wed", "thu", "fri"]},
			},
		},
		{"id": "no-exe", "permission": "file_transfer", "resources": ["**/*.exe"], "effect": "deny"},
	],
}`

func TestParseRuleSet(t *testing.T) {
	ruleSet, err := ParseRuleSet([]byte(sampleRules))
	if err != nil {
		t.Fatalf("ParseRuleSet: %v", err)
	}
	if len(ruleSet.Rules) != 3 {
		t.Fatalf("got %d rules, want 3", len(ruleSet.Rules))
	}
	clipboard := ruleSet.Rules[1]
	if clipboard.Effect != EffectPrompt || clipboard.Permission != PermissionClipboard {
		t.Errorf("clipboard rule = %+v", clipboard)
	}
	if limit := clipboard.Conditions.RateLimit; limit == nil || time.Duration(limit.Per) != time.Minute {
		t.Errorf("rate limit = %+v", limit)
	}
	if !clipboard.Conditions.Window.Contains(monday10am) {
		t.Error("window excludes Monday 10:00")
	}
}

func TestParseRuleSetRejects(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		message string
	}{
		{"unknown field", `{"version": 1, "rules": [], "extra": true}`, "unknown field"},
		{"wrong version", `{"version": 2, "rules": []}`, "version"},
		{"unknown permission", `{"version": 1, "rules": [{"id": "a", "permission": "telepathy", "resources": ["x"], "effect": "allow"}]}`, "telepathy"},
		{"missing resources", `{"version": 1, "rules": [{"id": "a", "permission": "input", "effect": "allow"}]}`, "resource"},
		{"interior globstar", `{"version": 1, "rules": [{"id": "a", "permission": "input", "resources": ["a/**/b"], "effect": "allow"}]}`, "malformed"},
		{"duplicate id", `{"version": 1, "rules": [
			{"id": "a", "permission": "input", "resources": ["input/*"], "effect": "allow"},
			{"id": "a", "permission": "audio", "resources": ["audio/*"], "effect": "allow"}]}`, "duplicate"},
		{"bad window", `{"version": 1, "rules": [{"id": "a", "permission": "input", "resources": ["input/*"], "effect": "allow",
			"conditions": {"window": {"start": "25:00", "end": "01:00"}}}]}`, "window start"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ParseRuleSet([]byte(test.input))
			if err == nil {
				t.Fatal("ParseRuleSet succeeded")
			}
			if !strings.Contains(err.Error(), test.message) {
				t.Errorf("error %q does not mention %q", err, test.message)
			}
		})
	}
}

func TestReadRuleSetFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.jsonc")
	if err := os.WriteFile(path, []byte(sampleRules), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadRuleSetFile(path); err != nil {
		t.Fatalf("ReadRuleSetFile: %v", err)
	}
	if _, err := ReadRuleSetFile(filepath.Join(t.TempDir(), "missing.jsonc")); err == nil {
		t.Error("missing file accepted")
	}
}
