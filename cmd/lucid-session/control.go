// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/lucid-foundation/lucid/lib/control"
	"github.com/lucid-foundation/lucid/lib/policy"
	"github.com/lucid-foundation/lucid/lib/ref"
	"github.com/lucid-foundation/lucid/lib/session"
)

// registerActions wires the operator's control actions. listen is the
// address sessions are accepted on, reported by status.
func (h *host) registerActions(server *control.Server, listen string) {
	server.Handle(control.ActionStatus, func(context.Context, []byte) (any, error) {
		status := control.Status{
			Owner:    h.config.Owner,
			Listen:   listen,
			Policy:   h.config.PolicyPath,
			Rules:    h.ruleCount(),
			Sessions: h.snapshots(),
		}
		if h.config.Audit != nil {
			status.Audit = h.config.Audit.Stats()
		}
		return status, nil
	})
	server.Handle(control.ActionPending, h.handlePending)
	server.Handle(control.ActionResolve, h.handleResolve)
	server.Handle(control.ActionClose, h.handleClose)
	server.Handle(control.ActionReload, func(context.Context, []byte) (any, error) {
		if err := h.reloadRules(); err != nil {
			return nil, err
		}
		return control.Reloaded{Policy: h.config.PolicyPath, Rules: h.ruleCount()}, nil
	})
}

func (h *host) handlePending(context.Context, []byte) (any, error) {
	var pending control.Pending
	for _, snapshot := range h.snapshots() {
		machine, ok := h.session(snapshot.Session)
		if !ok {
			continue
		}
		pending.Requests = append(pending.Requests, machine.PendingApprovals()...)
	}
	slices.SortFunc(pending.Requests, func(a, b policy.Request) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return pending, nil
}

func (h *host) handleResolve(_ context.Context, raw []byte) (any, error) {
	var request control.ResolveRequest
	if err := control.Decode(raw, &request); err != nil {
		return nil, err
	}
	machine, err := h.lookup(request.Session)
	if err != nil {
		return nil, err
	}
	requestID, err := ref.ParseRequestID(request.Request)
	if err != nil {
		return nil, err
	}
	approver := strings.TrimSpace(request.Approver)
	if approver == "" {
		return nil, fmt.Errorf("resolve requires an approver")
	}
	if err := machine.Resolve(requestID, request.Approved, approver); err != nil {
		return nil, err
	}
	h.logger.Info("approval resolved",
		"session_id", request.Session,
		"request_id", request.Request,
		"approved", request.Approved,
		"approver", approver,
	)
	return nil, nil
}

func (h *host) handleClose(ctx context.Context, raw []byte) (any, error) {
	var request control.SessionRequest
	if err := control.Decode(raw, &request); err != nil {
		return nil, err
	}
	machine, err := h.lookup(request.Session)
	if err != nil {
		return nil, err
	}
	if _, err := machine.Close(ctx); err != nil {
		return nil, err
	}
	return machine.Snapshot(), nil
}

func (h *host) lookup(encoded string) (*session.Machine, error) {
	id, err := ref.ParseSessionID(encoded)
	if err != nil {
		return nil, err
	}
	machine, ok := h.session(id)
	if !ok {
		return nil, fmt.Errorf("no live session %s", id)
	}
	return machine, nil
}
