// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used by every
// timeout in a session: the handshake deadline, JIT approval expiry,
// the finalization drain, and policy time-window conditions.
//
// Production code receives [Real]. Tests receive [Fake], which stands
// still until [FakeClock.Advance] is called. Use
// [FakeClock.WaitForTimers] before advancing so the goroutine under
// test has registered its timer:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go machine.Handshake(ctx, conn)
//	fake.WaitForTimers(1)
//	fake.Advance(30 * time.Second)
package clock
