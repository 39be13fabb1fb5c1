// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Effect is what a matching rule does.
type Effect uint8

const (
	EffectDeny Effect = iota + 1
	EffectAllow
	EffectPrompt
)

func (e Effect) String() string {
	switch e {
	case EffectDeny:
		return "deny"
	case EffectAllow:
		return "allow"
	case EffectPrompt:
		return "prompt"
	default:
		return fmt.Sprintf("effect(%d)", uint8(e))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (e Effect) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Effect) UnmarshalText(text []byte) error {
	switch string(text) {
	case "deny":
		*e = EffectDeny
	case "allow":
		*e = EffectAllow
	case "prompt":
		*e = EffectPrompt
	default:
		return fmt.Errorf("unknown rule effect %q", text)
	}
	return nil
}

// Rule matches actions of one permission whose resource matches any of
// Resources.
type Rule struct {
	ID         string     `json:"id"`
	Permission Permission `json:"permission"`
	Resources  []string   `json:"resources"`
	Effect     Effect     `json:"effect"`
	Conditions Conditions `json:"conditions,omitzero"`
}

func (r *Rule) matches(permission Permission, resource string) bool {
	return r.Permission == permission && MatchAnyPattern(r.Resources, resource)
}

// Conditions narrow an Allow or Prompt rule. Every condition present
// must hold.
type Conditions struct {
	Window    *TimeWindow `json:"window,omitempty"`
	RateLimit *RateLimit  `json:"rate_limit,omitempty"`
	// MaxSize bounds the payload of clipboard and file transfers.
	MaxSize int64 `json:"max_size,omitempty"`
}

func (c Conditions) empty() bool {
	return c.Window == nil && c.RateLimit == nil && c.MaxSize == 0
}

// TimeWindow admits actions between Start and End ("15:04" form) on
// the listed weekdays, in Location. End before Start spans midnight.
type TimeWindow struct {
	Start    string   `json:"start"`
	End      string   `json:"end"`
	Days     []string `json:"days,omitempty"`
	Location string   `json:"location,omitempty"`

	startMinute, endMinute int
	days                   map[time.Weekday]bool
	location               *time.Location
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
	"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday,
	"sat": time.Saturday,
}

func (w *TimeWindow) compile() error {
	startMinute, err := minuteOfDay(w.Start)
	if err != nil {
		return fmt.Errorf("window start: %w", err)
	}
	endMinute, err := minuteOfDay(w.End)
	if err != nil {
		return fmt.Errorf("window end: %w", err)
	}
	if startMinute == endMinute {
		return fmt.Errorf("window start and end are both %s", w.Start)
	}
	location := time.UTC
	if w.Location != "" {
		if location, err = time.LoadLocation(w.Location); err != nil {
			return fmt.Errorf("window location: %w", err)
		}
	}
	var days map[time.Weekday]bool
	for _, name := range w.Days {
		day, ok := weekdayNames[strings.ToLower(name)]
		if !ok {
			return fmt.Errorf("unknown weekday %q", name)
		}
		if days == nil {
			days = make(map[time.Weekday]bool)
		}
		days[day] = true
	}
	w.startMinute, w.endMinute = startMinute, endMinute
	w.location, w.days = location, days
	return nil
}

func minuteOfDay(clock string) (int, error) {
	parsed, err := time.Parse("15:04", clock)
	if err != nil {
		return 0, fmt.Errorf("parsing %q as HH:MM: %w", clock, err)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

// Contains reports whether now falls inside the window. The window
// must have passed RuleSet.Validate.
func (w *TimeWindow) Contains(now time.Time) bool {
	local := now.In(w.location)
	if w.days != nil && !w.days[local.Weekday()] {
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	if w.startMinute < w.endMinute {
		return minute >= w.startMinute && minute < w.endMinute
	}
	return minute >= w.startMinute || minute < w.endMinute
}

// RateLimit admits at most Count granted actions per rule within any
// sliding Per interval.
type RateLimit struct {
	Count int      `json:"count"`
	Per   Duration `json:"per"`
}

// Duration is a time.Duration written as a Go duration string ("90s").
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("duration must be a string like \"1m\": %w", err)
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// RuleSet is the complete policy for one session.
type RuleSet struct {
	Version int    `json:"version"`
	Rules   []Rule `json:"rules"`
}

// Validate checks the rule set and compiles its time windows. It
// returns every problem found. Validate writes to the windows, so it
// must not run on a rule set another goroutine is evaluating; engines
// validate their own Clone.
func (s *RuleSet) Validate() error {
	var errs []error
	if s.Version != 1 {
		errs = append(errs, fmt.Errorf("unsupported rule set version %d", s.Version))
	}
	seen := make(map[string]bool)
	for index := range s.Rules {
		rule := &s.Rules[index]
		label := fmt.Sprintf("rule %d (%s)", index, rule.ID)
		if rule.ID == "" {
			errs = append(errs, fmt.Errorf("rule %d: id is required", index))
		} else if seen[rule.ID] {
			errs = append(errs, fmt.Errorf("%s: duplicate id", label))
		}
		seen[rule.ID] = true
		if _, ok := permissionNames[rule.Permission]; !ok {
			errs = append(errs, fmt.Errorf("%s: permission is required", label))
		}
		if rule.Effect == 0 {
			errs = append(errs, fmt.Errorf("%s: effect is required", label))
		}
		if len(rule.Resources) == 0 {
			errs = append(errs, fmt.Errorf("%s: at least one resource pattern is required", label))
		}
		for _, pattern := range rule.Resources {
			if !validPattern(pattern) {
				errs = append(errs, fmt.Errorf("%s: malformed resource pattern %q", label, pattern))
			}
		}
		if rule.Effect == EffectDeny && !rule.Conditions.empty() {
			errs = append(errs, fmt.Errorf("%s: deny rules are unconditional", label))
		}
		if window := rule.Conditions.Window; window != nil {
			if err := window.compile(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", label, err))
			}
		}
		if limit := rule.Conditions.RateLimit; limit != nil && (limit.Count <= 0 || limit.Per <= 0) {
			errs = append(errs, fmt.Errorf("%s: rate limit needs a positive count and interval", label))
		}
		if rule.Conditions.MaxSize < 0 {
			errs = append(errs, fmt.Errorf("%s: max_size must not be negative", label))
		}
	}
	return errors.Join(errs...)
}

// Clone returns a deep copy of the rule set. Compiled window state is
// not copied; validate the clone before evaluating with it.
func (s *RuleSet) Clone() *RuleSet {
	clone := &RuleSet{Version: s.Version, Rules: make([]Rule, len(s.Rules))}
	for index, rule := range s.Rules {
		rule.Resources = slices.Clone(rule.Resources)
		if window := rule.Conditions.Window; window != nil {
			rule.Conditions.Window = &TimeWindow{
				Start:    window.Start,
				End:      window.End,
				Days:     slices.Clone(window.Days),
				Location: window.Location,
			}
		}
		if limit := rule.Conditions.RateLimit; limit != nil {
			copied := *limit
			rule.Conditions.RateLimit = &copied
		}
		clone.Rules[index] = rule
	}
	return clone
}
