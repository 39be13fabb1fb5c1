// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/lucid-foundation/lucid/lib/clock"
	"github.com/lucid-foundation/lucid/lib/ref"
	"github.com/lucid-foundation/lucid/lib/wire"
)

// DefaultTimeout bounds an exchange when the config leaves it zero.
const DefaultTimeout = 30 * time.Second

// Signer is the ephemeral session key a side proves possession of.
type Signer interface {
	Public() ed25519.PublicKey
	Sign(message []byte) []byte
}

// HostConfig configures Accept.
type HostConfig struct {
	Session ref.SessionID
	Key     Signer
	Codec   Codec

	// ExpectedPeer, when set, is the only peer key accepted.
	ExpectedPeer ed25519.PublicKey

	Timeout time.Duration
	Clock   clock.Clock
	Logger  *slog.Logger
	OnStep  func(Step)
}

// PeerConfig configures Respond.
type PeerConfig struct {
	Key Signer

	// ExpectedSession and ExpectedHost, when set, must match what the
	// host announces.
	ExpectedSession ref.SessionID
	ExpectedHost    ed25519.PublicKey

	Timeout time.Duration
	Clock   clock.Clock
	Logger  *slog.Logger
	OnStep  func(Step)
}

// Accept runs the host side of the handshake on conn. conn is closed
// if the exchange times out or ctx ends first.
func Accept(ctx context.Context, conn io.ReadWriteCloser, config HostConfig) (Result, error) {
	if config.Session.IsZero() {
		return Result{}, fmt.Errorf("handshake requires a session id")
	}
	if config.Key == nil {
		return Result{}, fmt.Errorf("handshake requires a host key")
	}
	exchange := &host{config: config, conn: conn, logger: loggerOr(config.Logger)}
	return bounded(ctx, conn, config.Clock, config.Timeout, exchange.run)
}

// Respond runs the peer side of the handshake on conn, with the same
// timeout behavior as Accept.
func Respond(ctx context.Context, conn io.ReadWriteCloser, config PeerConfig) (Result, error) {
	if config.Key == nil {
		return Result{}, fmt.Errorf("handshake requires a peer key")
	}
	exchange := &peer{config: config, conn: conn, logger: loggerOr(config.Logger)}
	return bounded(ctx, conn, config.Clock, config.Timeout, exchange.run)
}

func loggerOr(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logger
}

// bounded runs exchange until it returns, the timeout passes, or ctx
// ends. In the latter two cases conn is closed so the exchange
// goroutine's blocked read or write returns.
func bounded(ctx context.Context, conn io.Closer, timer clock.Clock, timeout time.Duration, exchange func() (Result, error)) (Result, error) {
	if timer == nil {
		timer = clock.Real()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)
	expired := timer.After(timeout)
	go func() {
		result, err := exchange()
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-expired:
		conn.Close()
		return Result{}, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	case <-ctx.Done():
		conn.Close()
		return Result{}, ctx.Err()
	}
}

// readMessage reads one handshake frame of type want into message.
func readMessage(r io.Reader, want wire.Type, message any) error {
	frame, err := wire.ReadFrame(r, wire.MaxHandshakePayload)
	if err != nil {
		if errors.Is(err, wire.ErrMalformed) || errors.Is(err, wire.ErrTooLarge) {
			return fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		return fmt.Errorf("reading %s: %w", want, err)
	}
	if err := wire.Decode(frame, want, message); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return nil
}

func parseKey(raw []byte, what string) (ed25519.PublicKey, error) {
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: %s is %d bytes, want %d", ErrMalformed, what, len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

type host struct {
	config HostConfig
	conn   io.ReadWriter
	logger *slog.Logger
}

func (h *host) step(step Step) {
	h.logger.Debug("handshake step", "session_id", h.config.Session.String(), "step", string(step))
	if h.config.OnStep != nil {
		h.config.OnStep(step)
	}
}

func (h *host) run() (Result, error) {
	session := h.config.Session
	hostKey := h.config.Key.Public()

	challenge := make([]byte, ChallengeSize)
	if _, err := rand.Read(challenge); err != nil {
		return Result{}, fmt.Errorf("generating challenge: %w", err)
	}
	hello := Hello{
		Version:   ProtocolVersion,
		Session:   session,
		HostKey:   hostKey,
		Challenge: challenge,
		Codec:     h.config.Codec,
	}
	if err := wire.WriteMessage(h.conn, wire.TypeHello, hello); err != nil {
		return Result{}, fmt.Errorf("sending hello: %w", err)
	}
	h.step(StepHelloSent)

	var response Response
	if err := readMessage(h.conn, wire.TypeResponse, &response); err != nil {
		return Result{}, err
	}
	h.step(StepResponseReceived)

	if response.Session != session {
		return Result{}, fmt.Errorf("%w: peer answered for %s", ErrSessionMismatch, response.Session)
	}
	peerKey, err := parseKey(response.PeerKey, "peer key")
	if err != nil {
		return Result{}, err
	}
	if h.config.ExpectedPeer != nil && !h.config.ExpectedPeer.Equal(peerKey) {
		return Result{}, ErrUnexpectedPeer
	}
	if !ed25519.Verify(peerKey, PeerTranscript(session, challenge, hostKey, peerKey), response.Signature) {
		return Result{}, ErrBadSignature
	}
	h.step(StepPeerVerified)

	acceptance := Acceptance{
		Session:   session,
		Signature: h.config.Key.Sign(HostTranscript(session, challenge, hostKey, peerKey)),
	}
	if err := wire.WriteMessage(h.conn, wire.TypeAccept, acceptance); err != nil {
		return Result{}, fmt.Errorf("sending accept: %w", err)
	}
	h.step(StepAcceptSent)

	return Result{Session: session, HostKey: hostKey, PeerKey: peerKey, Codec: h.config.Codec}, nil
}

type peer struct {
	config PeerConfig
	conn   io.ReadWriter
	logger *slog.Logger
}

func (p *peer) step(session ref.SessionID, step Step) {
	p.logger.Debug("handshake step", "session_id", session.String(), "step", string(step))
	if p.config.OnStep != nil {
		p.config.OnStep(step)
	}
}

func (p *peer) run() (Result, error) {
	var hello Hello
	if err := readMessage(p.conn, wire.TypeHello, &hello); err != nil {
		return Result{}, err
	}
	if hello.Version != ProtocolVersion {
		return Result{}, fmt.Errorf("%w: %d", ErrVersion, hello.Version)
	}
	if len(hello.Challenge) != ChallengeSize {
		return Result{}, fmt.Errorf("%w: challenge is %d bytes", ErrMalformed, len(hello.Challenge))
	}
	hostKey, err := parseKey(hello.HostKey, "host key")
	if err != nil {
		return Result{}, err
	}
	session := hello.Session
	p.step(session, StepHelloReceived)

	if !p.config.ExpectedSession.IsZero() && p.config.ExpectedSession != session {
		return Result{}, fmt.Errorf("%w: host announced %s", ErrSessionMismatch, session)
	}
	if p.config.ExpectedHost != nil && !p.config.ExpectedHost.Equal(hostKey) {
		return Result{}, ErrUnexpectedPeer
	}

	peerKey := p.config.Key.Public()
	response := Response{
		Session:   session,
		PeerKey:   peerKey,
		Signature: p.config.Key.Sign(PeerTranscript(session, hello.Challenge, hostKey, peerKey)),
	}
	if err := wire.WriteMessage(p.conn, wire.TypeResponse, response); err != nil {
		return Result{}, fmt.Errorf("sending response: %w", err)
	}
	p.step(session, StepResponseSent)

	var acceptance Acceptance
	if err := readMessage(p.conn, wire.TypeAccept, &acceptance); err != nil {
		return Result{}, err
	}
	if acceptance.Session != session {
		return Result{}, fmt.Errorf("%w: host accepted %s", ErrSessionMismatch, acceptance.Session)
	}
	if !ed25519.Verify(hostKey, HostTranscript(session, hello.Challenge, hostKey, peerKey), acceptance.Signature) {
		return Result{}, ErrBadSignature
	}
	p.step(session, StepHostVerified)

	return Result{Session: session, HostKey: hostKey, PeerKey: peerKey, Codec: hello.Codec}, nil
}
