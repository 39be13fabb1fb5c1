// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// ParseRuleSet decodes a JSONC rule set (JSON with comments and
// trailing commas), rejects unknown fields, and validates it.
func ParseRuleSet(data []byte) (*RuleSet, error) {
	decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	decoder.DisallowUnknownFields()

	var ruleSet RuleSet
	if err := decoder.Decode(&ruleSet); err != nil {
		return nil, fmt.Errorf("parsing rule set: %w", err)
	}
	if err := ruleSet.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rule set: %w", err)
	}
	return &ruleSet, nil
}

// ReadRuleSetFile reads and parses a rule set file.
func ReadRuleSetFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule set: %w", err)
	}
	ruleSet, err := ParseRuleSet(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ruleSet, nil
}
