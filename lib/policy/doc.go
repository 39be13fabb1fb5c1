// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy is the Trust-Nothing permission engine that gates
// every action inside a session.
//
// An [Engine] is owned by exactly one session. It evaluates each
// [Action] against the session's [RuleSet] and returns a [Result]
// whose [Decision] is Allow, Deny, or Prompt. Evaluation is
// default-deny:
//
//  1. No rule set → Deny.
//  2. A Deny rule matching the permission and resource → Deny. Deny
//     rules take precedence over every Allow or Prompt rule.
//  3. The first Allow or Prompt rule matching the permission and
//     resource is selected; none → Deny.
//  4. The rule's conditions (time window, maximum size, rate limit)
//     must all hold; any failing condition → Deny.
//  5. An Allow rule → Allow. A Prompt rule → a just-in-time approval
//     [Request] is opened and the result is Prompt.
//
// A Prompt is never turned into Allow by caching. After an approver
// calls [Engine.Resolve], the action must be evaluated again; that
// evaluation consumes the approval once. [Engine.Await] blocks the
// originating action until the request is resolved or expires and
// then performs that re-evaluation. A request that expires is
// terminal: the action is denied, and an approval arriving afterwards
// is rejected with [ErrRequestExpired].
//
// Every result is appended to the session's decision log. When the
// number of denials exceeds the configured threshold the engine
// reports a [Violation] once; the session aborts on it.
//
// Actions are a closed set of variants ([SessionStart], [Input],
// [Clipboard], [FileTransfer], [Display], [Audio]), each carrying its
// own structured context. Resources are slash-separated paths matched
// with [MatchPattern] globs.
package policy
