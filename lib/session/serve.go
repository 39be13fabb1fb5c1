// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/lucid-foundation/lucid/lib/audit"
	"github.com/lucid-foundation/lucid/lib/policy"
	"github.com/lucid-foundation/lucid/lib/wire"
)

// Serve reads the peer's frames on an Active session until it ends:
//
//   - data frames are written to the chunk pipeline;
//   - action frames are authorized, each on its own goroutine so a
//     pending approval holds up only that action, and answered with a
//     decision frame;
//   - a close frame finalizes the session.
//
// Losing the transport while Active aborts the session. Losing it
// while Finalizing does not: the chunks already sealed still make it
// into the manifest. When ctx is done the session is closed normally.
//
// Serve returns nil once the session is Closed, and the abort error
// otherwise.
func (m *Machine) Serve(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateActive {
		err := m.wrongStateLocked("serve")
		m.mu.Unlock()
		return err
	}
	conn := m.conn
	m.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		if _, err := m.Close(context.WithoutCancel(ctx)); err != nil {
			m.logger.Error("closing session on shutdown", "error", err)
		}
	})
	defer stop()
	defer m.actions.Wait()

	for {
		frame, err := wire.ReadFrame(conn, wire.MaxPayload)
		if err != nil {
			return m.transportEnded(err)
		}

		switch frame.Type {
		case wire.TypeData:
			if err := m.Write(ctx, frame.Payload); err != nil {
				// A failed pipeline aborts the session, which closes
				// conn and ends this loop.
				m.logger.Debug("session data not accepted", "error", err)
			}

		case wire.TypeAction:
			var request ActionRequest
			if err := wire.Decode(frame, wire.TypeAction, &request); err != nil {
				m.protocolError(err)
				continue
			}
			action, err := request.Action()
			if err != nil {
				m.protocolError(err)
				continue
			}
			m.actions.Add(1)
			go func() {
				defer m.actions.Done()
				m.answer(ctx, request.ID, action)
			}()

		case wire.TypeClose:
			_, err := m.Close(ctx)
			if errors.Is(err, ErrAborted) {
				return err
			}
			// Anchoring errors are the host's concern, not the
			// connection's.
			return nil

		default:
			m.protocolError(fmt.Errorf("unexpected %s frame in an active session", frame.Type))
		}
	}
}

// transportEnded decides what a read error means for the session.
func (m *Machine) transportEnded(readErr error) error {
	switch m.State() {
	case StateClosed:
		return nil
	case StateAborted:
		return m.Err()
	case StateFinalizing:
		<-m.done
		return m.Err()
	}
	if errors.Is(readErr, wire.ErrMalformed) || errors.Is(readErr, wire.ErrTooLarge) {
		m.protocolError(readErr)
	} else {
		m.abort(EndTransportFailure, readErr, audit.New(m.id, audit.CategorySessionTerminated,
			"transport lost", "error", readErr.Error()))
	}
	return m.Err()
}

func (m *Machine) protocolError(err error) {
	m.abort(EndProtocolError, err, audit.New(m.id, audit.CategorySessionTerminated,
		"peer protocol error", "error", err.Error()))
}

// answer authorizes one peer action and sends the decision.
func (m *Machine) answer(ctx context.Context, id uint64, action policy.Action) {
	result, err := m.Authorize(ctx, action)
	if err != nil {
		m.logger.Debug("action not authorized", "action_id", id, "error", err)
		return
	}
	reply := DecisionReply{ID: id, Decision: result.Decision, Reason: result.Reason}
	if err := m.send(wire.TypeDecision, reply, 0); err != nil {
		m.logger.Debug("decision not delivered", "action_id", id, "error", err)
	}
}
