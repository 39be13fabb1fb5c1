// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsExpectedCloseError reports whether err is an ordinary end of a
// peer connection: EOF, a closed connection, a broken pipe, or a
// reset. Peers behind an onion service routinely vanish this way, so
// these are logged at debug rather than as errors.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

// IsTemporary reports whether an Accept error is worth retrying.
func IsTemporary(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EMFILE || errno == syscall.ENFILE ||
			errno == syscall.ECONNABORTED || errno == syscall.EINTR
	}
	return false
}
