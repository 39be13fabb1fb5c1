// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"
	"strconv"
	"strings"
)

// Permission is the closed set of in-session permission types.
type Permission uint8

const (
	PermissionSessionStart Permission = iota + 1
	PermissionInput
	PermissionClipboard
	PermissionFileTransfer
	PermissionDisplay
	PermissionAudio
)

var permissionNames = map[Permission]string{
	PermissionSessionStart: "session_start",
	PermissionInput:        "input",
	PermissionClipboard:    "clipboard",
	PermissionFileTransfer: "file_transfer",
	PermissionDisplay:      "display",
	PermissionAudio:        "audio",
}

func (p Permission) String() string {
	if name, ok := permissionNames[p]; ok {
		return name
	}
	return fmt.Sprintf("permission(%d)", uint8(p))
}

// ParsePermission parses the String form.
func ParsePermission(name string) (Permission, error) {
	for permission, candidate := range permissionNames {
		if candidate == name {
			return permission, nil
		}
	}
	return 0, fmt.Errorf("unknown permission %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (p Permission) MarshalText() ([]byte, error) {
	if _, ok := permissionNames[p]; !ok {
		return nil, fmt.Errorf("marshaling unknown permission %d", uint8(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Permission) UnmarshalText(text []byte) error {
	parsed, err := ParsePermission(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Direction is which way data moves across the session.
type Direction string

const (
	// ToHost moves data from the remote peer onto the host.
	ToHost Direction = "to_host"
	// ToPeer moves data from the host to the remote peer.
	ToPeer Direction = "to_peer"
)

// Action is one in-session action to authorize. The set of
// implementations is closed.
type Action interface {
	Permission() Permission
	// Resource is the slash-separated path rules match against.
	Resource() string
	sealedAction()
}

// SessionStart authorizes the session itself, once, after the
// handshake.
type SessionStart struct {
	Owner string
	// PeerKey is the hex-encoded public key the peer proved.
	PeerKey string
}

// Input is keyboard or pointer input from the peer.
type Input struct {
	// Device is "keyboard", "pointer", or "touch".
	Device string
}

// Clipboard is a clipboard transfer.
type Clipboard struct {
	Direction Direction
	// Format is the clipboard format, e.g. "text" or "image".
	Format string
	Size   int64
}

// FileTransfer is a file crossing the session.
type FileTransfer struct {
	Direction Direction
	Name      string
	Size      int64
}

// Display is access to one monitor of the host.
type Display struct {
	Monitor int
	// ViewOnly is false when the peer also controls the display.
	ViewOnly bool
}

// Audio is an audio stream in one direction.
type Audio struct {
	Direction Direction
}

func (SessionStart) Permission() Permission { return PermissionSessionStart }
func (Input) Permission() Permission        { return PermissionInput }
func (Clipboard) Permission() Permission    { return PermissionClipboard }
func (FileTransfer) Permission() Permission { return PermissionFileTransfer }
func (Display) Permission() Permission      { return PermissionDisplay }
func (Audio) Permission() Permission        { return PermissionAudio }

func (a SessionStart) Resource() string { return "session/" + segment(a.Owner) }
func (a Input) Resource() string        { return "input/" + segment(a.Device) }
func (a Clipboard) Resource() string {
	return "clipboard/" + segment(string(a.Direction)) + "/" + segment(a.Format)
}
func (a FileTransfer) Resource() string {
	return "file/" + segment(string(a.Direction)) + "/" + segment(a.Name)
}
func (a Display) Resource() string {
	mode := "control"
	if a.ViewOnly {
		mode = "view"
	}
	return "display/" + strconv.Itoa(a.Monitor) + "/" + mode
}
func (a Audio) Resource() string { return "audio/" + segment(string(a.Direction)) }

func (SessionStart) sealedAction() {}
func (Input) sealedAction()        {}
func (Clipboard) sealedAction()    {}
func (FileTransfer) sealedAction() {}
func (Display) sealedAction()      {}
func (Audio) sealedAction()        {}

// segment keeps caller-supplied names from introducing extra path
// levels. Empty names become "_".
func segment(name string) string {
	if name == "" {
		return "_"
	}
	return strings.ReplaceAll(name, "/", "_")
}

// sizeOf returns the payload size the max_size condition applies to,
// and whether the action has one.
func sizeOf(action Action) (int64, bool) {
	switch typed := action.(type) {
	case Clipboard:
		return typed.Size, true
	case FileTransfer:
		return typed.Size, true
	case SessionStart, Input, Display, Audio:
		return 0, false
	default:
		return 0, false
	}
}
