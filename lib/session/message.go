// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"

	"github.com/lucid-foundation/lucid/lib/policy"
)

// ActionRequest is the payload of an action frame: one action the
// peer asks to perform. Only the fields of its permission's variant
// are meaningful.
type ActionRequest struct {
	// ID is chosen by the peer and echoed in the DecisionReply.
	ID         uint64            `cbor:"id"`
	Permission policy.Permission `cbor:"permission"`

	Device    string           `cbor:"device,omitempty"`
	Direction policy.Direction `cbor:"direction,omitempty"`
	Format    string           `cbor:"format,omitempty"`
	Name      string           `cbor:"name,omitempty"`
	Size      int64            `cbor:"size,omitempty"`
	Monitor   int              `cbor:"monitor,omitempty"`
	ViewOnly  bool             `cbor:"view_only,omitempty"`
}

// NewActionRequest encodes action for the wire. Session start is
// authorized by the host alone and cannot be requested.
func NewActionRequest(id uint64, action policy.Action) (ActionRequest, error) {
	request := ActionRequest{ID: id, Permission: action.Permission()}
	switch typed := action.(type) {
	case policy.Input:
		request.Device = typed.Device
	case policy.Clipboard:
		request.Direction, request.Format, request.Size = typed.Direction, typed.Format, typed.Size
	case policy.FileTransfer:
		request.Direction, request.Name, request.Size = typed.Direction, typed.Name, typed.Size
	case policy.Display:
		request.Monitor, request.ViewOnly = typed.Monitor, typed.ViewOnly
	case policy.Audio:
		request.Direction = typed.Direction
	default:
		return ActionRequest{}, fmt.Errorf("%s cannot be requested by the peer", action.Permission())
	}
	return request, nil
}

// Action decodes the request into its policy variant.
func (r ActionRequest) Action() (policy.Action, error) {
	switch r.Permission {
	case policy.PermissionInput:
		return policy.Input{Device: r.Device}, nil
	case policy.PermissionClipboard:
		if err := validDirection(r.Direction); err != nil {
			return nil, err
		}
		return policy.Clipboard{Direction: r.Direction, Format: r.Format, Size: r.Size}, nil
	case policy.PermissionFileTransfer:
		if err := validDirection(r.Direction); err != nil {
			return nil, err
		}
		return policy.FileTransfer{Direction: r.Direction, Name: r.Name, Size: r.Size}, nil
	case policy.PermissionDisplay:
		return policy.Display{Monitor: r.Monitor, ViewOnly: r.ViewOnly}, nil
	case policy.PermissionAudio:
		if err := validDirection(r.Direction); err != nil {
			return nil, err
		}
		return policy.Audio{Direction: r.Direction}, nil
	default:
		return nil, fmt.Errorf("%s cannot be requested by the peer", r.Permission)
	}
}

func validDirection(direction policy.Direction) error {
	if direction != policy.ToHost && direction != policy.ToPeer {
		return fmt.Errorf("invalid direction %q", direction)
	}
	return nil
}

// DecisionReply is the payload of a decision frame.
type DecisionReply struct {
	ID       uint64          `cbor:"id"`
	Decision policy.Decision `cbor:"decision"`
	Reason   policy.Reason   `cbor:"reason"`
}

// EndNotice is the payload of an end frame.
type EndNotice struct {
	Reason EndReason `cbor:"reason"`
}

// Allowed reports whether the reply lets the action proceed.
func (r DecisionReply) Allowed() bool { return r.Decision == policy.Allow }
