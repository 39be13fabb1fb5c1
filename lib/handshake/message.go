// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"crypto/ed25519"
	"errors"

	"github.com/lucid-foundation/lucid/lib/ref"
)

// ProtocolVersion is carried in the hello message.
const ProtocolVersion = 1

// ChallengeSize is the length of the host's random challenge.
const ChallengeSize = 32

const (
	hostLabel = "lucid.handshake.host.v1"
	peerLabel = "lucid.handshake.peer.v1"
)

var (
	// ErrMalformed is returned for a message that cannot be decoded
	// or has fields of the wrong size.
	ErrMalformed = errors.New("handshake: malformed message")
	// ErrBadSignature is returned when a transcript signature does not
	// verify.
	ErrBadSignature = errors.New("handshake: signature verification failed")
	// ErrTimeout is returned when the exchange does not finish in time.
	ErrTimeout = errors.New("handshake: timed out")
	// ErrSessionMismatch is returned when the two sides disagree on
	// the session id.
	ErrSessionMismatch = errors.New("handshake: session id mismatch")
	// ErrUnexpectedPeer is returned when the remote key differs from
	// the one the caller expected.
	ErrUnexpectedPeer = errors.New("handshake: unexpected remote key")
	// ErrVersion is returned for an unsupported protocol version.
	ErrVersion = errors.New("handshake: unsupported protocol version")
)

// Codec is what the host announces about how it will store the
// session stream.
type Codec struct {
	Compression string `cbor:"compression"`
	ChunkSize   uint64 `cbor:"chunk_size"`
}

// Hello opens the handshake.
type Hello struct {
	Version   uint8         `cbor:"version"`
	Session   ref.SessionID `cbor:"session"`
	HostKey   []byte        `cbor:"host_key"`
	Challenge []byte        `cbor:"challenge"`
	Codec     Codec         `cbor:"codec"`
}

// Response is the peer's proof of its key.
type Response struct {
	Session   ref.SessionID `cbor:"session"`
	PeerKey   []byte        `cbor:"peer_key"`
	Signature []byte        `cbor:"signature"`
}

// Acceptance is the host's proof of its key.
type Acceptance struct {
	Session   ref.SessionID `cbor:"session"`
	Signature []byte        `cbor:"signature"`
}

// Transcript returns the bytes a side signs.
func Transcript(label string, session ref.SessionID, challenge []byte, hostKey, peerKey ed25519.PublicKey) []byte {
	transcript := make([]byte, 0, len(label)+len(session)+len(challenge)+len(hostKey)+len(peerKey))
	transcript = append(transcript, label...)
	transcript = append(transcript, session[:]...)
	transcript = append(transcript, challenge...)
	transcript = append(transcript, hostKey...)
	transcript = append(transcript, peerKey...)
	return transcript
}

// PeerTranscript is the transcript the peer signs.
func PeerTranscript(session ref.SessionID, challenge []byte, hostKey, peerKey ed25519.PublicKey) []byte {
	return Transcript(peerLabel, session, challenge, hostKey, peerKey)
}

// HostTranscript is the transcript the host signs.
func HostTranscript(session ref.SessionID, challenge []byte, hostKey, peerKey ed25519.PublicKey) []byte {
	return Transcript(hostLabel, session, challenge, hostKey, peerKey)
}

// Step names one completed handshake step, reported through the
// OnStep callbacks.
type Step string

const (
	StepHelloSent        Step = "hello_sent"
	StepResponseReceived Step = "response_received"
	StepPeerVerified     Step = "peer_verified"
	StepAcceptSent       Step = "accept_sent"
	StepHelloReceived    Step = "hello_received"
	StepResponseSent     Step = "response_sent"
	StepHostVerified     Step = "host_verified"
)

// Result is what a completed handshake established.
type Result struct {
	Session ref.SessionID
	HostKey ed25519.PublicKey
	PeerKey ed25519.PublicKey
	Codec   Codec
}
