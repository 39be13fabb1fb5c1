// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/lucid-foundation/lucid/lib/anchor"
	"github.com/lucid-foundation/lucid/lib/audit"
	"github.com/lucid-foundation/lucid/lib/chunk"
	"github.com/lucid-foundation/lucid/lib/clock"
	"github.com/lucid-foundation/lucid/lib/compress"
	"github.com/lucid-foundation/lucid/lib/handshake"
	"github.com/lucid-foundation/lucid/lib/manifest"
	"github.com/lucid-foundation/lucid/lib/policy"
	"github.com/lucid-foundation/lucid/lib/ref"
	"github.com/lucid-foundation/lucid/lib/sessionkey"
	"github.com/lucid-foundation/lucid/lib/wire"
)

// Defaults applied by New for zero Limits fields. Thresholds and
// timeouts not listed here default in the policy, chunk, and
// handshake packages.
const (
	DefaultChunkSize   = 8 << 20
	DefaultMaxDuration = 8 * time.Hour
)

// endNoticeTimeout bounds the write of the end frame to a peer that
// has stopped reading.
const endNoticeTimeout = 2 * time.Second

var (
	// ErrAborted is returned by operations on an aborted session.
	ErrAborted = errors.New("session: aborted")
	// ErrWrongState is returned when an operation is not valid in the
	// session's current state.
	ErrWrongState = errors.New("session: invalid in current state")
	// ErrSessionDenied is the cause recorded when policy refuses to
	// start the session.
	ErrSessionDenied = errors.New("session: start denied by policy")
	// ErrPolicyViolation is the cause recorded when denials cross the
	// policy engine's threshold.
	ErrPolicyViolation = errors.New("session: policy violation")
	// ErrExpired is the cause recorded when a session that never became
	// active reaches its maximum duration.
	ErrExpired = errors.New("session: expired")
)

// Limits are the per-session sizes, thresholds, and timeouts.
type Limits struct {
	// ChunkSize is the target size of a chunk before compression.
	ChunkSize int
	// Compression forces one algorithm. Nil selects per chunk.
	Compression *compress.Algorithm
	Workers     int

	// FailureThreshold is the number of consecutive chunk failures
	// that aborts the session.
	FailureThreshold int
	// DenyThreshold is the number of policy denials tolerated before
	// the session is aborted for a policy violation.
	DenyThreshold int

	HandshakeTimeout time.Duration
	ApprovalTimeout  time.Duration
	DrainTimeout     time.Duration

	// MaxDuration is how long after creation the session is closed
	// regardless of activity.
	MaxDuration time.Duration
}

// Config configures a Machine.
type Config struct {
	// Session is the id to use. Zero generates one.
	Session ref.SessionID
	Owner   string

	// Registry guards against session id reuse. Required.
	Registry *Registry

	// RuleSet is the session's policy. Nil denies everything,
	// including the session itself.
	RuleSet *policy.RuleSet

	// Store receives sealed chunks. Required.
	Store chunk.Store

	// Anchor receives the signed manifest. Nil skips anchoring.
	Anchor anchor.Anchorer

	// Audit receives the session's audit events. Nil records nothing.
	Audit *audit.Recorder

	// ExpectedPeer, when set, is the only peer key accepted.
	ExpectedPeer ed25519.PublicKey

	Granularity manifest.Granularity
	Limits      Limits

	// Encryptor replaces the XChaCha20-Poly1305 encryptor keyed from
	// the session's master secret.
	Encryptor chunk.Encryptor

	Clock  clock.Clock
	Logger *slog.Logger
}

// Machine is the authoritative state of one session. Its methods are
// safe for concurrent use.
type Machine struct {
	config    Config
	logger    *slog.Logger
	id        ref.SessionID
	createdAt time.Time
	expiresAt time.Time

	key       *guardedKey
	deriver   *sessionkey.Deriver
	encryptor chunk.Encryptor
	engine    *policy.Engine

	mu        sync.Mutex
	state     State
	history   []Transition
	conn      io.ReadWriteCloser
	peer      handshake.Result
	pipeline  *chunk.Pipeline
	startedAt time.Time
	endReason EndReason
	cause     error
	manifest  *manifest.Manifest
	expiry    *clock.Timer

	writeMu sync.Mutex
	actions sync.WaitGroup

	done        chan struct{}
	releaseOnce sync.Once
}

// New creates a session in state Created and claims its id.
func New(config Config) (*Machine, error) {
	if config.Registry == nil {
		return nil, fmt.Errorf("session requires a registry")
	}
	if config.Store == nil {
		return nil, fmt.Errorf("session requires a chunk store")
	}
	limits := &config.Limits
	if limits.ChunkSize <= 0 {
		limits.ChunkSize = DefaultChunkSize
	}
	if limits.MaxDuration <= 0 {
		limits.MaxDuration = DefaultMaxDuration
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	id := config.Session
	if id.IsZero() {
		generated, err := ref.NewSessionID()
		if err != nil {
			return nil, err
		}
		id = generated
	}
	if err := config.Registry.Claim(id); err != nil {
		return nil, err
	}
	config.Session = id

	machine, err := newMachine(config, logger.With("session_id", id.String()))
	if err != nil {
		config.Registry.Retire(id)
		return nil, err
	}
	machine.emit(audit.CategoryStateChange, "session created", "state", StateCreated.String(), "owner", config.Owner)
	return machine, nil
}

func newMachine(config Config, logger *slog.Logger) (*Machine, error) {
	now := config.Clock.Now()
	machine := &Machine{
		config:    config,
		logger:    logger,
		id:        config.Session,
		createdAt: now,
		expiresAt: now.Add(config.Limits.MaxDuration),
		state:     StateCreated,
		history:   []Transition{{From: StateCreated, To: StateCreated, At: now, Note: "created"}},
		done:      make(chan struct{}),
	}

	ephemeral, err := sessionkey.GenerateEphemeral()
	if err != nil {
		return nil, err
	}
	machine.key = &guardedKey{key: ephemeral}

	master, err := sessionkey.NewMaster()
	if err != nil {
		machine.key.Close()
		return nil, fmt.Errorf("creating master secret: %w", err)
	}
	machine.deriver, err = sessionkey.NewDeriver(master, machine.id)
	if err != nil {
		master.Close()
		machine.key.Close()
		return nil, err
	}
	machine.encryptor = config.Encryptor
	if machine.encryptor == nil {
		machine.encryptor = chunk.NewAEAD(machine.deriver)
	}

	machine.engine, err = policy.NewEngine(policy.Config{
		Session:         machine.id,
		RuleSet:         config.RuleSet,
		ApprovalTimeout: config.Limits.ApprovalTimeout,
		DenyThreshold:   config.Limits.DenyThreshold,
		Clock:           config.Clock,
		Logger:          logger,
		OnResult:        machine.onDecision,
		OnRequest:       machine.onRequest,
		OnResolution:    machine.onResolution,
		OnViolation:     machine.onViolation,
	})
	if err != nil {
		machine.deriver.Close()
		machine.key.Close()
		return nil, err
	}
	return machine, nil
}

// ID returns the session id.
func (m *Machine) ID() ref.SessionID { return m.id }

// Done is closed when the session reaches Closed or Aborted.
func (m *Machine) Done() <-chan struct{} { return m.done }

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Manifest returns the signed manifest of a Closed session.
func (m *Machine) Manifest() (*manifest.Manifest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.manifest, m.manifest != nil
}

// Err returns why the session was aborted, or nil.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.abortErrLocked()
}

func (m *Machine) abortErrLocked() error {
	if m.state != StateAborted {
		return nil
	}
	return fmt.Errorf("%w (%s): %w", ErrAborted, m.endReason, m.cause)
}

func (m *Machine) wrongStateLocked(operation string) error {
	if m.state == StateAborted {
		return m.abortErrLocked()
	}
	return fmt.Errorf("%w: cannot %s a session in state %s", ErrWrongState, operation, m.state)
}

// transitionLocked must be called with mu held.
func (m *Machine) transitionLocked(to State, note string) {
	from := m.state
	m.state = to
	m.history = append(m.history, Transition{From: from, To: to, At: m.config.Clock.Now(), Note: note})
	m.logger.Info("session state changed", "from", from.String(), "to", to.String(), "note", note)
	m.emit(audit.CategoryStateChange, note, "from", from.String(), "to", to.String())
}

// Handshake runs the host side of the handshake on conn, authorizes
// the session start, and enters Active. On failure the session is
// aborted; a new session (and id) is needed to retry. conn belongs to
// the session from here on and is closed when it ends.
func (m *Machine) Handshake(ctx context.Context, conn io.ReadWriteCloser) (handshake.Result, error) {
	m.mu.Lock()
	if m.state != StateCreated {
		err := m.wrongStateLocked("handshake")
		m.mu.Unlock()
		return handshake.Result{}, err
	}
	m.conn = conn
	m.transitionLocked(StateHandshaking, "inbound connection")
	m.mu.Unlock()

	result, err := handshake.Accept(ctx, conn, handshake.HostConfig{
		Session: m.id,
		Key:     m.key,
		Codec: handshake.Codec{
			Compression: m.compressionName(),
			ChunkSize:   uint64(m.config.Limits.ChunkSize),
		},
		ExpectedPeer: m.config.ExpectedPeer,
		Timeout:      m.config.Limits.HandshakeTimeout,
		Clock:        m.config.Clock,
		Logger:       m.logger,
		OnStep: func(step handshake.Step) {
			m.emit(audit.CategoryHandshakeStep, string(step), "step", string(step))
		},
	})
	if err != nil {
		reason := handshakeEndReason(err)
		m.abort(reason, err, audit.New(m.id, audit.CategoryHandshakeFailure, "handshake failed",
			"error", err.Error(), "end_reason", reason.String()))
		return handshake.Result{}, fmt.Errorf("handshake for session %s: %w", m.id, err)
	}
	peerKey := hex.EncodeToString(result.PeerKey)
	m.emit(audit.CategoryHandshakeComplete, "peer verified", "peer_key", peerKey)

	start, err := m.engine.Await(ctx, m.engine.Evaluate(policy.SessionStart{Owner: m.config.Owner, PeerKey: peerKey}))
	if err != nil {
		m.abort(EndTransportFailure, err, audit.New(m.id, audit.CategorySessionTerminated,
			"session start approval abandoned", "error", err.Error()))
		return handshake.Result{}, fmt.Errorf("authorizing session start: %w", err)
	}
	if start.Decision != policy.Allow {
		cause := fmt.Errorf("%w: %s", ErrSessionDenied, start.Reason)
		m.abort(EndPolicyViolation, cause, audit.New(m.id, audit.CategorySessionTerminated,
			"session start denied", "reason", start.Reason.String(), "rule_id", start.RuleID))
		return handshake.Result{}, cause
	}

	pipeline, err := chunk.New(chunk.Config{
		Session:          m.id,
		Encryptor:        m.encryptor,
		Store:            m.config.Store,
		TargetSize:       m.config.Limits.ChunkSize,
		Compression:      m.config.Limits.Compression,
		Workers:          m.config.Limits.Workers,
		FailureThreshold: m.config.Limits.FailureThreshold,
		DrainTimeout:     m.config.Limits.DrainTimeout,
		Clock:            m.config.Clock,
		Logger:           m.logger,
		OnCommit:         m.onCommit,
		OnFailure:        m.onChunkFailure,
	})
	if err != nil {
		m.abort(EndInternalError, err, audit.New(m.id, audit.CategorySessionTerminated,
			"starting chunk pipeline failed", "error", err.Error()))
		return handshake.Result{}, err
	}

	m.mu.Lock()
	if m.state != StateHandshaking {
		err := m.wrongStateLocked("activate")
		m.mu.Unlock()
		pipeline.Abort()
		return handshake.Result{}, err
	}
	m.peer = result
	m.pipeline = pipeline
	m.startedAt = m.config.Clock.Now()
	m.transitionLocked(StateActive, "handshake complete")
	m.expiry = m.config.Clock.AfterFunc(m.expiresAt.Sub(m.startedAt), m.expire)
	m.mu.Unlock()

	go m.watchPipeline(pipeline)
	return result, nil
}

// handshakeEndReason maps a handshake error to what the peer is told.
func handshakeEndReason(err error) EndReason {
	for _, protocol := range []error{
		handshake.ErrMalformed, handshake.ErrBadSignature, handshake.ErrSessionMismatch,
		handshake.ErrUnexpectedPeer, handshake.ErrVersion, wire.ErrMalformed, wire.ErrTooLarge,
	} {
		if errors.Is(err, protocol) {
			return EndProtocolError
		}
	}
	return EndTransportFailure
}

func (m *Machine) compressionName() string {
	if m.config.Limits.Compression == nil {
		return "auto"
	}
	return m.config.Limits.Compression.String()
}

// watchPipeline aborts the session if the pipeline fails fatally.
func (m *Machine) watchPipeline(pipeline *chunk.Pipeline) {
	select {
	case <-pipeline.Failed():
		err := pipeline.Err()
		m.abort(EndInternalError, err, audit.New(m.id, audit.CategorySessionTerminated,
			"chunk pipeline failed", "error", err.Error()))
	case <-m.done:
	}
}

// expire closes an active session that reached its maximum duration.
func (m *Machine) expire() {
	m.logger.Info("session reached maximum duration", "expires_at", m.expiresAt)
	go func() {
		if _, err := m.Close(context.Background()); err != nil && !errors.Is(err, ErrAborted) {
			m.logger.Error("closing expired session", "error", err)
		}
	}()
}

// Authorize evaluates action against the session's policy. A Prompt
// blocks the caller, and only the caller, until the approval request
// ends or ctx is done; the returned Result is never a Prompt.
func (m *Machine) Authorize(ctx context.Context, action policy.Action) (policy.Result, error) {
	m.mu.Lock()
	if m.state != StateActive {
		err := m.wrongStateLocked("authorize an action in")
		m.mu.Unlock()
		return policy.Result{}, err
	}
	m.mu.Unlock()
	return m.engine.Await(ctx, m.engine.Evaluate(action))
}

// Resolve answers a pending approval request.
func (m *Machine) Resolve(request ref.RequestID, approved bool, approver string) error {
	return m.engine.Resolve(request, approved, approver)
}

// PendingApprovals returns the approval requests awaiting an answer.
func (m *Machine) PendingApprovals() []policy.Request { return m.engine.Pending() }

// Decisions returns the session's policy decision log.
func (m *Machine) Decisions() []policy.Result { return m.engine.Decisions() }

// Write feeds session data to the chunk pipeline.
func (m *Machine) Write(ctx context.Context, data []byte) error {
	m.mu.Lock()
	if m.state != StateActive {
		err := m.wrongStateLocked("write to")
		m.mu.Unlock()
		return err
	}
	pipeline := m.pipeline
	m.mu.Unlock()
	if err := pipeline.Write(ctx, data); err != nil {
		return fmt.Errorf("writing session data: %w", err)
	}
	return nil
}

// Close finalizes the session: intake stops, in-flight chunks are
// drained, and the manifest is assembled, signed, and anchored. A
// Closed session returns its manifest again. A session closed before
// it became active is aborted.
//
// An anchoring failure is returned alongside the manifest; the
// session is Closed either way and anchoring is not retried.
func (m *Machine) Close(ctx context.Context) (*manifest.Manifest, error) {
	m.mu.Lock()
	switch m.state {
	case StateClosed:
		signed := m.manifest
		m.mu.Unlock()
		return signed, nil
	case StateAborted:
		err := m.abortErrLocked()
		m.mu.Unlock()
		return nil, err
	case StateFinalizing:
		m.mu.Unlock()
		select {
		case <-m.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return m.Close(ctx)
	case StateCreated, StateHandshaking:
		m.mu.Unlock()
		m.abort(EndNormal, fmt.Errorf("closed before the session became active"),
			audit.New(m.id, audit.CategorySessionTerminated, "closed before the session became active"))
		return nil, m.Err()
	}
	m.transitionLocked(StateFinalizing, "close requested")
	pipeline := m.pipeline
	if m.expiry != nil {
		m.expiry.Stop()
	}
	m.mu.Unlock()

	m.engine.Close()
	summary, err := pipeline.Finish(ctx)
	if err != nil {
		if m.State() == StateAborted {
			return nil, m.Err()
		}
		m.abort(EndInternalError, err, audit.New(m.id, audit.CategorySessionTerminated,
			"finalization failed", "error", err.Error()))
		return nil, fmt.Errorf("finalizing session %s: %w", m.id, err)
	}
	m.emit(audit.CategoryFinalization, "pipeline drained",
		"chunks", strconv.Itoa(len(summary.Records)),
		"failed", strconv.FormatUint(summary.Failed, 10),
		"abandoned", strconv.FormatUint(summary.Abandoned, 10),
		"root", summary.Root.String(),
	)

	signed, err := m.assemble(summary)
	if err != nil {
		if m.State() == StateAborted {
			return nil, m.Err()
		}
		m.abort(EndInternalError, err, audit.New(m.id, audit.CategorySessionTerminated,
			"manifest assembly failed", "error", err.Error()))
		return nil, fmt.Errorf("assembling manifest for session %s: %w", m.id, err)
	}
	manifestHash, err := signed.Hash()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.state != StateFinalizing {
		err := m.abortErrLocked()
		m.mu.Unlock()
		return nil, err
	}
	m.manifest = signed
	m.endReason = EndNormal
	conn := m.conn
	m.transitionLocked(StateClosed, "manifest signed")
	m.mu.Unlock()

	m.emit(audit.CategoryManifest, "manifest signed",
		"manifest_hash", manifestHash.String(),
		"root", signed.Root.String(),
		"chunk_count", strconv.FormatUint(signed.ChunkCount, 10),
	)
	m.logger.Info("session closed",
		"chunk_count", signed.ChunkCount,
		"root", signed.Root.Short(),
		"manifest_hash", manifestHash.Short(),
		"duration", signed.Duration(),
	)
	m.endTransport(conn, EndNormal)
	m.release()

	if m.config.Anchor == nil {
		return signed, nil
	}
	receipt, err := m.config.Anchor.Anchor(ctx, signed)
	if err != nil {
		m.logger.Error("anchoring manifest failed", "error", err)
		return signed, fmt.Errorf("anchoring manifest: %w", err)
	}
	m.logger.Info("manifest anchored", "location", receipt.Location)
	return signed, nil
}

func (m *Machine) assemble(summary chunk.Summary) (*manifest.Manifest, error) {
	m.mu.Lock()
	peerKey, startedAt := m.peer.PeerKey, m.startedAt
	m.mu.Unlock()

	now := m.config.Clock.Now()
	assembled, err := manifest.Assemble(manifest.Input{
		Session:     m.id,
		Owner:       m.config.Owner,
		Codec:       manifest.DefaultCodec(uint64(m.config.Limits.ChunkSize), m.compressionName()),
		Granularity: m.config.Granularity,
		Participants: []manifest.Participant{
			{Role: manifest.RoleHost, Key: m.key.Public()},
			{Role: manifest.RolePeer, Key: peerKey},
		},
		Records:   summary.Records,
		StartedAt: startedAt,
		EndedAt:   now,
		CreatedAt: now,
	})
	if err != nil {
		return nil, err
	}
	if err := assembled.Sign(m.key); err != nil {
		return nil, err
	}
	if len(assembled.Signature) == 0 {
		return nil, ErrAborted
	}
	return assembled, nil
}

// Abort ends the session without a manifest. In-flight chunks are
// discarded, pending approvals are denied, and the peer is told
// reason. Aborting a terminal session does nothing.
func (m *Machine) Abort(reason EndReason, cause error) {
	if cause == nil {
		cause = errors.New("aborted by host")
	}
	m.abort(reason, cause, audit.New(m.id, audit.CategorySessionTerminated, "session aborted",
		"end_reason", reason.String(), "error", cause.Error()))
}

// abort moves the session to Aborted and records event as the single
// explanation. It reports whether this call did the abort.
func (m *Machine) abort(reason EndReason, cause error, event audit.Event) bool {
	m.mu.Lock()
	if m.state.Terminal() {
		m.mu.Unlock()
		return false
	}
	from := m.state
	m.endReason, m.cause = reason, cause
	m.transitionLocked(StateAborted, reason.String())
	pipeline, conn := m.pipeline, m.conn
	if m.expiry != nil {
		m.expiry.Stop()
	}
	m.mu.Unlock()

	if pipeline != nil {
		pipeline.Abort()
	}
	m.engine.Close()
	m.record(event)
	m.logger.Warn("session aborted", "from", from.String(), "end_reason", reason.String(), "error", cause)
	m.endTransport(conn, reason)
	m.release()
	return true
}

// release retires the id and destroys the session's key material once
// nothing can use it.
func (m *Machine) release() {
	m.releaseOnce.Do(func() {
		m.config.Registry.Retire(m.id)
		m.key.Close()
		m.mu.Lock()
		pipeline := m.pipeline
		m.mu.Unlock()
		go func() {
			if pipeline != nil {
				<-pipeline.Done()
			}
			m.deriver.Close()
		}()
		close(m.done)
	})
}

// endTransport tells the peer how the session ended and closes conn.
func (m *Machine) endTransport(conn io.ReadWriteCloser, reason EndReason) {
	if conn == nil {
		return
	}
	if err := m.send(wire.TypeEnd, EndNotice{Reason: reason}, endNoticeTimeout); err != nil {
		m.logger.Debug("end notice not delivered", "error", err)
	}
	conn.Close()
}

// writeDeadliner is implemented by net.Conn.
type writeDeadliner interface {
	SetWriteDeadline(time.Time) error
}

// send writes one frame to the session's transport. A positive timeout
// bounds the write when the transport supports deadlines.
func (m *Machine) send(frameType wire.Type, message any, timeout time.Duration) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("session has no transport")
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if deadliner, ok := conn.(writeDeadliner); ok && timeout > 0 {
		// I/O deadlines are wall-clock time.
		deadliner.SetWriteDeadline(time.Now().Add(timeout))
		defer deadliner.SetWriteDeadline(time.Time{})
	}
	return wire.WriteMessage(conn, frameType, message)
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	Session   ref.SessionID `json:"session"`
	Owner     string        `json:"owner"`
	State     State         `json:"state"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	History   []Transition  `json:"history"`

	HostKey string `json:"host_key"`
	PeerKey string `json:"peer_key,omitempty"`

	Chunks           int `json:"chunks"`
	Denials          int `json:"denials"`
	PendingApprovals int `json:"pending_approvals"`

	// EndReason and Error are set once the session is terminal.
	EndReason string `json:"end_reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Snapshot returns the session's current state and history.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	snapshot := Snapshot{
		Session:   m.id,
		Owner:     m.config.Owner,
		State:     m.state,
		CreatedAt: m.createdAt,
		ExpiresAt: m.expiresAt,
		History:   slices.Clone(m.history),
		HostKey:   hex.EncodeToString(m.key.Public()),
		PeerKey:   hex.EncodeToString(m.peer.PeerKey),
	}
	if m.state.Terminal() {
		snapshot.EndReason = m.endReason.String()
	}
	if m.cause != nil {
		snapshot.Error = m.cause.Error()
	}
	pipeline := m.pipeline
	m.mu.Unlock()

	if pipeline != nil {
		snapshot.Chunks = len(pipeline.Records())
	}
	snapshot.Denials = m.engine.Denials()
	snapshot.PendingApprovals = len(m.engine.Pending())
	return snapshot
}

func (m *Machine) emit(category audit.Category, message string, keyValues ...string) {
	m.record(audit.New(m.id, category, message, keyValues...))
}

func (m *Machine) record(event audit.Event) {
	if m.config.Audit != nil {
		m.config.Audit.Record(event)
	}
}

func (m *Machine) onDecision(result policy.Result) {
	m.emit(audit.CategoryPolicyDecision, result.Decision.String(),
		"permission", result.Permission.String(),
		"resource", result.Resource,
		"decision", result.Decision.String(),
		"reason", result.Reason.String(),
		"rule_id", result.RuleID,
	)
}

func (m *Machine) onRequest(request policy.Request) {
	m.emit(audit.CategoryJITRequest, "approval requested",
		"request_id", request.ID.String(),
		"permission", request.Permission.String(),
		"resource", request.Resource,
		"expires_at", request.ExpiresAt.Format(time.RFC3339),
	)
}

func (m *Machine) onResolution(request policy.Request) {
	m.emit(audit.CategoryJITResolution, request.State.String(),
		"request_id", request.ID.String(),
		"state", request.State.String(),
		"resolved_by", request.ResolvedBy,
	)
}

func (m *Machine) onViolation(violation policy.Violation) {
	cause := fmt.Errorf("%w: %d denials, last by rule %q", ErrPolicyViolation, violation.Denials, violation.RuleID)
	m.abort(EndPolicyViolation, cause, audit.New(m.id, audit.CategoryPolicyViolation, "deny threshold exceeded",
		"rule_id", violation.RuleID,
		"permission", violation.Permission.String(),
		"resource", violation.Resource,
		"reason", violation.Reason.String(),
		"denials", strconv.Itoa(violation.Denials),
	))
}

func (m *Machine) onCommit(record chunk.Record) {
	m.emit(audit.CategoryChunkCommit, "chunk committed",
		"chunk_index", strconv.FormatUint(record.Index, 10),
		"sequence", strconv.FormatUint(record.Sequence, 10),
		"hash", record.Hash.String(),
		"raw_size", strconv.Itoa(record.RawSize),
		"sealed_size", strconv.Itoa(record.SealedSize),
		"compression", record.Compression.String(),
	)
}

func (m *Machine) onChunkFailure(chunkErr *chunk.Error) {
	m.emit(audit.CategoryChunkFailure, "chunk failed",
		"sequence", strconv.FormatUint(chunkErr.Sequence, 10),
		"stage", string(chunkErr.Stage),
		"kind", chunkErr.Kind.String(),
		"error", chunkErr.Err.Error(),
	)
}

// guardedKey lets the session key be destroyed while a handshake or
// signing may still hold it. Sign returns nil once the key is gone.
type guardedKey struct {
	mu     sync.Mutex
	key    *sessionkey.Ephemeral
	closed bool
}

func (g *guardedKey) Public() ed25519.PublicKey { return g.key.Public() }

func (g *guardedKey) Sign(message []byte) []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	return g.key.Sign(message)
}

func (g *guardedKey) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		g.closed = true
		g.key.Close()
	}
}
