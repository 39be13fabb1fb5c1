// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"testing"

	"github.com/lucid-foundation/lucid/lib/policy"
	"github.com/lucid-foundation/lucid/lib/wire"
)

func TestActionRequestCarriesEachVariant(t *testing.T) {
	actions := []policy.Action{
		policy.Input{Device: "pointer"},
		policy.Clipboard{Direction: policy.ToHost, Format: "image", Size: 4096},
		policy.FileTransfer{Direction: policy.ToPeer, Name: "report.pdf", Size: 1 << 20},
		policy.Display{Monitor: 2, ViewOnly: true},
		policy.Audio{Direction: policy.ToPeer},
	}
	for index, action := range actions {
		t.Run(action.Permission().String(), func(t *testing.T) {
			request, err := NewActionRequest(uint64(index), action)
			if err != nil {
				t.Fatalf("NewActionRequest: %v", err)
			}
			var buffer bytes.Buffer
			if err := wire.WriteMessage(&buffer, wire.TypeAction, request); err != nil {
				t.Fatalf("WriteMessage: %v", err)
			}
			frame, err := wire.ReadFrame(&buffer, wire.MaxPayload)
			if err != nil {
				t.Fatalf("ReadFrame: %v", err)
			}
			var decoded ActionRequest
			if err := wire.Decode(frame, wire.TypeAction, &decoded); err != nil {
				t.Fatalf("Decode: %v", err)
			}
			got, err := decoded.Action()
			if err != nil {
				t.Fatalf("Action: %v", err)
			}
			if got != action || decoded.ID != uint64(index) {
				t.Errorf("decoded %#v (id %d), want %#v", got, decoded.ID, action)
			}
		})
	}
}

func TestActionRequestRejects(t *testing.T) {
	if _, err := NewActionRequest(1, policy.SessionStart{Owner: "alice"}); err == nil {
		t.Error("session start encoded as a peer request")
	}
	for _, request := range []ActionRequest{
		{Permission: policy.PermissionSessionStart},
		{Permission: policy.PermissionClipboard, Direction: "sideways"},
		{Permission: policy.PermissionAudio},
		{Permission: 0},
	} {
		if _, err := request.Action(); err == nil {
			t.Errorf("Action accepted %+v", request)
		}
	}
}

func TestEndReasonText(t *testing.T) {
	for reason := EndNormal; reason <= EndInternalError; reason++ {
		text, err := reason.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%d): %v", reason, err)
		}
		var parsed EndReason
		if err := parsed.UnmarshalText(text); err != nil || parsed != reason {
			t.Errorf("%s parsed as %s, %v", text, parsed, err)
		}
	}
	var parsed EndReason
	if err := parsed.UnmarshalText([]byte("because")); err == nil {
		t.Error("unknown end reason accepted")
	}
}
