// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lucid-foundation/lucid/lib/appendlog"
	"github.com/lucid-foundation/lucid/lib/clock"
	"github.com/lucid-foundation/lucid/lib/ref"
)

// Defaults applied by NewEngine for zero Config fields.
const (
	DefaultApprovalTimeout = 5 * time.Minute
	DefaultDenyThreshold   = 5
)

// Violation is reported once per session when denials exceed the
// threshold.
type Violation struct {
	Session ref.SessionID
	// RuleID, Permission, Resource, and Reason describe the denial
	// that crossed the threshold.
	RuleID     string
	Permission Permission
	Resource   string
	Reason     Reason
	Denials    int
	At         time.Time
}

// Config configures an Engine.
type Config struct {
	Session ref.SessionID

	// RuleSet is the session's policy. Nil denies everything.
	RuleSet *RuleSet

	// ApprovalTimeout is how long a JIT request stays open.
	ApprovalTimeout time.Duration

	// DenyThreshold is the number of denials tolerated before a
	// Violation is reported.
	DenyThreshold int

	Clock  clock.Clock
	Logger *slog.Logger

	// Callbacks run outside the engine's lock, in the order the
	// events happened. They must not block.
	OnResult     func(Result)
	OnRequest    func(Request)
	OnResolution func(Request)
	OnViolation  func(Violation)
}

// Engine evaluates actions for one session. It is safe for concurrent
// use.
type Engine struct {
	config Config
	logger *slog.Logger

	mu          sync.Mutex
	ruleSet     *RuleSet
	closed      bool
	denials     int
	violated    bool
	rateHistory map[string][]time.Time
	requests    map[ref.RequestID]*request

	decisions appendlog.Log[Result]
}

// notifications collects callbacks to run once the lock is released.
type notifications []func()

func (n notifications) run() {
	for _, notify := range n {
		notify()
	}
}

// NewEngine validates a private copy of config.RuleSet and returns an
// Engine. The caller's rule set is never modified, so one loaded rule
// set may back any number of engines.
func NewEngine(config Config) (*Engine, error) {
	if config.Session.IsZero() {
		return nil, fmt.Errorf("policy engine requires a session id")
	}
	ruleSet, err := ownRuleSet(config.RuleSet)
	if err != nil {
		return nil, err
	}
	config.RuleSet = ruleSet
	if config.ApprovalTimeout <= 0 {
		config.ApprovalTimeout = DefaultApprovalTimeout
	}
	if config.DenyThreshold <= 0 {
		config.DenyThreshold = DefaultDenyThreshold
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		config:      config,
		logger:      logger.With("session_id", config.Session.String()),
		ruleSet:     ruleSet,
		rateHistory: make(map[string][]time.Time),
		requests:    make(map[ref.RequestID]*request),
	}, nil
}

// ownRuleSet returns a validated copy of shared, or nil.
func ownRuleSet(shared *RuleSet) (*RuleSet, error) {
	if shared == nil {
		return nil, nil
	}
	owned := shared.Clone()
	if err := owned.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rule set: %w", err)
	}
	return owned, nil
}

// SetRuleSet replaces the session's rules. Pending requests stay open;
// their approval is checked against the new rules on re-evaluation.
func (e *Engine) SetRuleSet(ruleSet *RuleSet) error {
	ruleSet, err := ownRuleSet(ruleSet)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ruleSet = ruleSet
	return nil
}

// Evaluate decides action and records the result.
func (e *Engine) Evaluate(action Action) Result {
	var notes notifications
	e.mu.Lock()
	result := e.evaluateLocked(action, e.config.Clock.Now(), &notes)
	e.mu.Unlock()
	notes.run()
	return result
}

func (e *Engine) evaluateLocked(action Action, now time.Time, notes *notifications) Result {
	result := Result{
		Session:    e.config.Session,
		Permission: action.Permission(),
		Resource:   action.Resource(),
		At:         now,
	}
	deny := func(reason Reason) Result {
		result.Decision = Deny
		result.Reason = reason
		return e.recordLocked(result, notes)
	}

	if e.closed {
		return deny(ReasonSessionClosed)
	}
	if e.ruleSet == nil {
		return deny(ReasonNoRuleSet)
	}

	var selected *Rule
	for index := range e.ruleSet.Rules {
		rule := &e.ruleSet.Rules[index]
		if !rule.matches(result.Permission, result.Resource) {
			continue
		}
		if rule.Effect == EffectDeny {
			result.RuleID = rule.ID
			return deny(ReasonExplicitDeny)
		}
		if selected == nil {
			selected = rule
		}
	}
	if selected == nil {
		return deny(ReasonNoMatchingRule)
	}
	result.RuleID = selected.ID

	if reason, ok := e.conditionsHoldLocked(selected, action, now); !ok {
		return deny(reason)
	}

	switch selected.Effect {
	case EffectAllow:
		e.noteGrantLocked(selected, now)
		result.Decision = Allow
		result.Reason = ReasonRuleAllows
		return e.recordLocked(result, notes)

	case EffectPrompt:
		if approved := e.findRequestLocked(result.Permission, result.Resource, RequestApproved); approved != nil {
			approved.consumed = true
			e.noteGrantLocked(selected, now)
			result.Decision = Allow
			result.Reason = ReasonApproved
			result.Request = approved.ID
			return e.recordLocked(result, notes)
		}
		pending := e.findRequestLocked(result.Permission, result.Resource, RequestPending)
		if pending == nil {
			pending = e.openRequestLocked(action, selected, now, notes)
		}
		result.Decision = Prompt
		result.Reason = ReasonApprovalRequired
		result.Request = pending.ID
		return e.recordLocked(result, notes)
	}
	return deny(ReasonNoMatchingRule)
}

// conditionsHoldLocked checks rule's conditions against action at now.
func (e *Engine) conditionsHoldLocked(rule *Rule, action Action, now time.Time) (Reason, bool) {
	conditions := rule.Conditions
	if conditions.Window != nil && !conditions.Window.Contains(now) {
		return ReasonOutsideWindow, false
	}
	if conditions.MaxSize > 0 {
		if size, ok := sizeOf(action); ok && size > conditions.MaxSize {
			return ReasonTooLarge, false
		}
	}
	if limit := conditions.RateLimit; limit != nil {
		cutoff := now.Add(-time.Duration(limit.Per))
		history := e.rateHistory[rule.ID]
		kept := history[:0]
		for _, granted := range history {
			if granted.After(cutoff) {
				kept = append(kept, granted)
			}
		}
		e.rateHistory[rule.ID] = kept
		if len(kept) >= limit.Count {
			return ReasonRateLimited, false
		}
	}
	return 0, true
}

func (e *Engine) noteGrantLocked(rule *Rule, now time.Time) {
	if rule.Conditions.RateLimit != nil {
		e.rateHistory[rule.ID] = append(e.rateHistory[rule.ID], now)
	}
}

// findRequestLocked returns an unconsumed request for permission and
// resource in state.
func (e *Engine) findRequestLocked(permission Permission, resource string, state RequestState) *request {
	for _, candidate := range e.requests {
		if candidate.State == state && !candidate.consumed &&
			candidate.Permission == permission && candidate.Resource == resource {
			return candidate
		}
	}
	return nil
}

func (e *Engine) openRequestLocked(action Action, rule *Rule, now time.Time, notes *notifications) *request {
	opened := &request{
		Request: Request{
			ID:         ref.NewRequestID(),
			Session:    e.config.Session,
			Permission: action.Permission(),
			Resource:   action.Resource(),
			RuleID:     rule.ID,
			CreatedAt:  now,
			ExpiresAt:  now.Add(e.config.ApprovalTimeout),
			State:      RequestPending,
		},
		action: action,
		done:   make(chan struct{}),
	}
	e.requests[opened.ID] = opened
	id := opened.ID
	opened.timer = e.config.Clock.AfterFunc(e.config.ApprovalTimeout, func() { e.expire(id) })

	e.logger.Info("approval requested",
		"request_id", id.String(),
		"permission", opened.Permission.String(),
		"resource", opened.Resource,
		"expires_at", opened.ExpiresAt,
	)
	snapshot := opened.Request
	if e.config.OnRequest != nil {
		*notes = append(*notes, func() { e.config.OnRequest(snapshot) })
	}
	return opened
}

// recordLocked appends result to the decision log and counts denials.
func (e *Engine) recordLocked(result Result, notes *notifications) Result {
	e.decisions.Append(result)
	e.logger.Debug("policy decision",
		"permission", result.Permission.String(),
		"resource", result.Resource,
		"decision", result.Decision.String(),
		"reason", result.Reason.String(),
		"rule_id", result.RuleID,
	)
	if e.config.OnResult != nil {
		*notes = append(*notes, func() { e.config.OnResult(result) })
	}

	if result.Decision != Deny || result.Reason == ReasonSessionClosed {
		return result
	}
	e.denials++
	if e.denials > e.config.DenyThreshold && !e.violated {
		e.violated = true
		violation := Violation{
			Session:    e.config.Session,
			RuleID:     result.RuleID,
			Permission: result.Permission,
			Resource:   result.Resource,
			Reason:     result.Reason,
			Denials:    e.denials,
			At:         result.At,
		}
		e.logger.Warn("policy violation threshold exceeded",
			"denials", e.denials,
			"threshold", e.config.DenyThreshold,
			"rule_id", result.RuleID,
		)
		if e.config.OnViolation != nil {
			*notes = append(*notes, func() { e.config.OnViolation(violation) })
		}
	}
	return result
}

// endRequestLocked moves a pending request to a terminal state.
func (e *Engine) endRequestLocked(target *request, state RequestState, reason Reason, by string, notes *notifications) {
	now := e.config.Clock.Now()
	target.State = state
	target.ResolvedAt = now
	target.ResolvedBy = by
	if target.timer != nil {
		target.timer.Stop()
	}
	if state != RequestApproved {
		target.outcome = e.recordLocked(Result{
			Session:    e.config.Session,
			Permission: target.Permission,
			Resource:   target.Resource,
			Decision:   Deny,
			Reason:     reason,
			RuleID:     target.RuleID,
			Request:    target.ID,
			At:         now,
		}, notes)
	}
	close(target.done)

	e.logger.Info("approval request ended",
		"request_id", target.ID.String(),
		"state", state.String(),
		"resolved_by", by,
	)
	snapshot := target.Request
	if e.config.OnResolution != nil {
		*notes = append(*notes, func() { e.config.OnResolution(snapshot) })
	}
}

func (e *Engine) expire(id ref.RequestID) {
	var notes notifications
	e.mu.Lock()
	if target, ok := e.requests[id]; ok && target.State == RequestPending {
		e.endRequestLocked(target, RequestExpired, ReasonApprovalExpired, "", &notes)
	}
	e.mu.Unlock()
	notes.run()
}

// Resolve records an approver's answer. An answer at or after the
// request's expiry is rejected with ErrRequestExpired and the request
// ends expired.
func (e *Engine) Resolve(id ref.RequestID, approved bool, approver string) error {
	var notes notifications
	defer func() { notes.run() }()

	e.mu.Lock()
	defer e.mu.Unlock()

	target, ok := e.requests[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	switch target.State {
	case RequestPending:
	case RequestExpired:
		return fmt.Errorf("%w: %s", ErrRequestExpired, id)
	default:
		return fmt.Errorf("%w: %s is %s", ErrRequestResolved, id, target.State)
	}
	if !e.config.Clock.Now().Before(target.ExpiresAt) {
		e.endRequestLocked(target, RequestExpired, ReasonApprovalExpired, "", &notes)
		return fmt.Errorf("%w: %s", ErrRequestExpired, id)
	}
	if approved {
		e.endRequestLocked(target, RequestApproved, ReasonApproved, approver, &notes)
	} else {
		e.endRequestLocked(target, RequestDenied, ReasonApprovalDenied, approver, &notes)
	}
	return nil
}

// Await blocks until the request behind a Prompt result ends. An
// approved request is evaluated again and that result is returned;
// otherwise the recorded Deny is returned. Results other than Prompt
// are returned unchanged, and Await never returns a Prompt.
//
// Actions with the same permission and resource share a pending
// request, but each approval is consumed by one evaluation. An action
// whose re-evaluation finds the approval already taken prompts again
// and keeps waiting on the new request.
func (e *Engine) Await(ctx context.Context, prompt Result) (Result, error) {
	for prompt.Decision == Prompt {
		e.mu.Lock()
		target, ok := e.requests[prompt.Request]
		e.mu.Unlock()
		if !ok {
			return Result{}, fmt.Errorf("%w: %s", ErrUnknownRequest, prompt.Request)
		}

		select {
		case <-target.done:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}

		e.mu.Lock()
		state, outcome, action := target.State, target.outcome, target.action
		e.mu.Unlock()
		if state != RequestApproved {
			return outcome, nil
		}
		prompt = e.Evaluate(action)
		if prompt.Decision == Prompt {
			e.logger.Debug("approval already consumed, prompting again",
				"request_id", target.ID.String(), "next_request_id", prompt.Request.String())
		}
	}
	return prompt, nil
}

// Request returns a snapshot of the request with id.
func (e *Engine) Request(id ref.RequestID) (Request, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	target, ok := e.requests[id]
	if !ok {
		return Request{}, false
	}
	return target.Request, true
}

// Pending returns snapshots of the requests awaiting an answer.
func (e *Engine) Pending() []Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	var pending []Request
	for _, target := range e.requests {
		if target.State == RequestPending {
			pending = append(pending, target.Request)
		}
	}
	return pending
}

// Decisions returns the decision log. It does not take the engine's
// lock.
func (e *Engine) Decisions() []Result { return e.decisions.Snapshot() }

// Denials returns the number of denials counted toward the threshold.
func (e *Engine) Denials() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.denials
}

// Close ends the session's policy: pending requests are denied, their
// timers cancelled, and later evaluations are denied. Close is
// idempotent.
func (e *Engine) Close() {
	var notes notifications
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		for _, target := range e.requests {
			if target.State == RequestPending {
				e.endRequestLocked(target, RequestDenied, ReasonSessionClosed, "", &notes)
			}
		}
	}
	e.mu.Unlock()
	notes.run()
}
