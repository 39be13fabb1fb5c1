// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"path"
	"strings"
)

// MatchPattern reports whether resource matches a glob pattern:
//
//   - "clipboard/to_peer/text" matches only itself
//   - "*" and "?" match within one segment, never across "/"
//   - "clipboard/**" matches "clipboard" and everything below it
//   - "**/text" matches "text" at any depth
//   - "**" matches everything
//
// A malformed pattern matches nothing.
func MatchPattern(pattern, resource string) bool {
	if pattern == "**" {
		return true
	}
	if !strings.Contains(pattern, "**") {
		return matchGlob(pattern, resource)
	}
	if prefix, ok := strings.CutSuffix(pattern, "/**"); ok && !strings.Contains(prefix, "**") {
		if matchGlob(prefix, resource) {
			return true
		}
		depth := strings.Count(prefix, "/") + 1
		segments := strings.SplitN(resource, "/", depth+1)
		return len(segments) > depth && matchGlob(prefix, strings.Join(segments[:depth], "/"))
	}
	if suffix, ok := strings.CutPrefix(pattern, "**/"); ok && !strings.Contains(suffix, "**") {
		if matchGlob(suffix, resource) {
			return true
		}
		depth := strings.Count(suffix, "/") + 1
		segments := strings.Split(resource, "/")
		return len(segments) > depth && matchGlob(suffix, strings.Join(segments[len(segments)-depth:], "/"))
	}
	// Interior and repeated "**" are not supported.
	return false
}

func matchGlob(pattern, value string) bool {
	matched, err := path.Match(pattern, value)
	return err == nil && matched
}

// MatchAnyPattern reports whether resource matches any pattern. An
// empty list matches nothing.
func MatchAnyPattern(patterns []string, resource string) bool {
	for _, pattern := range patterns {
		if MatchPattern(pattern, resource) {
			return true
		}
	}
	return false
}

// validPattern reports whether pattern is well formed.
func validPattern(pattern string) bool {
	if pattern == "" {
		return false
	}
	if pattern == "**" {
		return true
	}
	stripped := pattern
	if trimmed, ok := strings.CutSuffix(stripped, "/**"); ok {
		stripped = trimmed
	} else if trimmed, ok := strings.CutPrefix(stripped, "**/"); ok {
		stripped = trimmed
	}
	if strings.Contains(stripped, "**") {
		return false
	}
	_, err := path.Match(stripped, "")
	return err == nil
}
