// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"context"
	"errors"
	"net"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/lucid-foundation/lucid/lib/anchor"
	"github.com/lucid-foundation/lucid/lib/audit"
	"github.com/lucid-foundation/lucid/lib/chunk"
	"github.com/lucid-foundation/lucid/lib/chunkstore"
	"github.com/lucid-foundation/lucid/lib/clock"
	"github.com/lucid-foundation/lucid/lib/digest"
	"github.com/lucid-foundation/lucid/lib/handshake"
	"github.com/lucid-foundation/lucid/lib/manifest"
	"github.com/lucid-foundation/lucid/lib/policy"
	"github.com/lucid-foundation/lucid/lib/sessionkey"
	"github.com/lucid-foundation/lucid/lib/testutil"
	"github.com/lucid-foundation/lucid/lib/wire"
)

var epoch = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

const waitTimeout = 5 * time.Second

type fixture struct {
	machine  *Machine
	registry *Registry
	store    *chunkstore.Memory
	sink     *audit.MemorySink
	recorder *audit.Recorder
	clock    *clock.FakeClock
}

// events drains the recorder and returns the session's events of
// category.
func (f *fixture) events(category audit.Category) []audit.Event {
	f.recorder.Close()
	return f.sink.Filter(f.machine.ID(), category)
}

func startRules(extra ...policy.Rule) *policy.RuleSet {
	rules := []policy.Rule{{
		ID:         "start",
		Permission: policy.PermissionSessionStart,
		Resources:  []string{"session/*"},
		Effect:     policy.EffectAllow,
	}}
	return &policy.RuleSet{Version: 1, Rules: append(rules, extra...)}
}

func newFixture(t *testing.T, configure ...func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		registry: NewRegistry(),
		store:    chunkstore.NewMemory(),
		sink:     &audit.MemorySink{},
		clock:    clock.Fake(epoch),
	}
	f.recorder = audit.NewRecorder(audit.Config{Sink: f.sink, Clock: f.clock})
	t.Cleanup(f.recorder.Close)

	config := Config{
		Owner:    "alice",
		Registry: f.registry,
		RuleSet:  startRules(),
		Store:    f.store,
		Audit:    f.recorder,
		Limits:   Limits{ChunkSize: 1024},
		Clock:    f.clock,
	}
	for _, apply := range configure {
		apply(&config)
	}
	machine, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { machine.Abort(EndNormal, errors.New("test finished")) })
	f.machine = machine
	return f
}

func newKey(t *testing.T) *sessionkey.Ephemeral {
	t.Helper()
	key, err := sessionkey.GenerateEphemeral()
	if err != nil {
		t.Fatalf("GenerateEphemeral: %v", err)
	}
	t.Cleanup(func() { key.Close() })
	return key
}

// collectFrames reads frames from conn until it fails.
func collectFrames(conn net.Conn) <-chan wire.Frame {
	frames := make(chan wire.Frame, 64)
	go func() {
		defer close(frames)
		for {
			frame, err := wire.ReadFrame(conn, wire.MaxPayload)
			if err != nil {
				return
			}
			frames <- frame
		}
	}()
	return frames
}

func expectEnd(t *testing.T, frames <-chan wire.Frame, want EndReason) {
	t.Helper()
	for {
		frame, ok := <-frames
		if !ok {
			t.Fatalf("transport closed without an end frame")
		}
		if frame.Type != wire.TypeEnd {
			continue
		}
		var notice EndNotice
		if err := wire.Decode(frame, wire.TypeEnd, &notice); err != nil {
			t.Fatalf("decoding end frame: %v", err)
		}
		if notice.Reason != want {
			t.Fatalf("end reason = %s, want %s", notice.Reason, want)
		}
		return
	}
}

// activate completes a handshake with a fresh peer key and returns
// the peer's side of the transport and the frames it receives.
func activate(t *testing.T, f *fixture) (net.Conn, <-chan wire.Frame, *sessionkey.Ephemeral) {
	t.Helper()
	hostConn, peerConn := net.Pipe()
	t.Cleanup(func() { peerConn.Close() })
	peerKey := newKey(t)

	peerDone := make(chan error, 1)
	go func() {
		_, err := handshake.Respond(context.Background(), peerConn, handshake.PeerConfig{
			Key:             peerKey,
			ExpectedSession: f.machine.ID(),
		})
		peerDone <- err
	}()
	if _, err := f.machine.Handshake(context.Background(), hostConn); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if err := testutil.RequireReceive(t, peerDone, waitTimeout, "peer handshake"); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if state := f.machine.State(); state != StateActive {
		t.Fatalf("state after handshake = %s", state)
	}
	return peerConn, collectFrames(peerConn), peerKey
}

func TestSessionLifecycle(t *testing.T) {
	var anchored []*manifest.Manifest
	var anchorMu sync.Mutex
	f := newFixture(t, func(config *Config) {
		config.RuleSet = startRules(policy.Rule{
			ID:         "view",
			Permission: policy.PermissionDisplay,
			Resources:  []string{"display/*/view"},
			Effect:     policy.EffectAllow,
		})
		config.Anchor = anchor.Func(func(_ context.Context, signed *manifest.Manifest) (anchor.Receipt, error) {
			anchorMu.Lock()
			defer anchorMu.Unlock()
			anchored = append(anchored, signed)
			return anchor.Receipt{Session: signed.Session}, nil
		})
	})
	peerConn, frames, peerKey := activate(t, f)

	served := make(chan error, 1)
	go func() { served <- f.machine.Serve(context.Background()) }()

	payload := bytes.Repeat([]byte("desktop frame "), 72)[:1000]
	for range 3 {
		if err := wire.WriteFrame(peerConn, wire.Frame{Type: wire.TypeData, Payload: payload}); err != nil {
			t.Fatalf("writing data: %v", err)
		}
	}

	request, err := NewActionRequest(7, policy.Display{Monitor: 0, ViewOnly: true})
	if err != nil {
		t.Fatalf("NewActionRequest: %v", err)
	}
	if err := wire.WriteMessage(peerConn, wire.TypeAction, request); err != nil {
		t.Fatalf("writing action: %v", err)
	}
	frame := testutil.RequireReceive(t, frames, waitTimeout, "decision frame")
	var reply DecisionReply
	if err := wire.Decode(frame, wire.TypeDecision, &reply); err != nil {
		t.Fatalf("decoding decision: %v", err)
	}
	if reply.ID != 7 || !reply.Allowed() {
		t.Fatalf("decision = %+v", reply)
	}

	if err := wire.WriteFrame(peerConn, wire.Frame{Type: wire.TypeClose}); err != nil {
		t.Fatalf("writing close: %v", err)
	}
	if err := testutil.RequireReceive(t, served, waitTimeout, "Serve"); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	expectEnd(t, frames, EndNormal)

	if state := f.machine.State(); state != StateClosed {
		t.Fatalf("state = %s, want closed", state)
	}
	signed, ok := f.machine.Manifest()
	if !ok {
		t.Fatal("closed session has no manifest")
	}
	if err := signed.Verify(); err != nil {
		t.Fatalf("manifest does not verify: %v", err)
	}
	// 3000 bytes at a 1024-byte target: two full chunks and the tail.
	if signed.ChunkCount != 3 || signed.TotalRawSize != 3000 || signed.MaxChunkSize != 1024 {
		t.Errorf("manifest counts = %d chunks, %d bytes, max %d", signed.ChunkCount, signed.TotalRawSize, signed.MaxChunkSize)
	}
	if key, _ := signed.Participant(manifest.RolePeer); !key.Equal(peerKey.Public()) {
		t.Error("manifest peer key is not the handshake peer key")
	}

	stored, err := f.store.List(context.Background(), f.machine.ID())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	leaves := make([]digest.Hash, len(stored))
	for index, record := range stored {
		leaves[index] = record.Hash
	}
	if err := signed.VerifyChunks(leaves); err != nil {
		t.Errorf("stored chunks do not match the manifest: %v", err)
	}

	again, err := f.machine.Close(context.Background())
	if err != nil || again != signed {
		t.Errorf("second Close = %p, %v; want the same manifest", again, err)
	}
	anchorMu.Lock()
	if len(anchored) != 1 || anchored[0] != signed {
		t.Errorf("anchored %d manifests, want exactly the session's", len(anchored))
	}
	anchorMu.Unlock()

	var states []State
	for _, transition := range f.machine.Snapshot().History {
		states = append(states, transition.To)
	}
	want := []State{StateCreated, StateHandshaking, StateActive, StateFinalizing, StateClosed}
	if !slices.Equal(states, want) {
		t.Errorf("history = %v, want %v", states, want)
	}
	if !f.registry.Retired(f.machine.ID()) {
		t.Error("session id not retired")
	}

	if got := len(f.events(audit.CategoryChunkCommit)); got != 3 {
		t.Errorf("chunk_commit events = %d, want 3", got)
	}
	if got := len(f.events(audit.CategoryManifest)); got != 1 {
		t.Errorf("manifest events = %d, want 1", got)
	}
	if got := len(f.events(audit.CategorySessionTerminated)); got != 0 {
		t.Errorf("session_terminated events = %d, want 0", got)
	}
}

func TestCorruptedHandshakeSignatureAborts(t *testing.T) {
	f := newFixture(t)
	hostConn, peerConn := net.Pipe()
	defer peerConn.Close()
	peerKey := newKey(t)

	peerDone := make(chan EndReason, 1)
	go func() {
		frame, err := wire.ReadFrame(peerConn, wire.MaxHandshakePayload)
		if err != nil {
			return
		}
		var hello handshake.Hello
		if err := wire.Decode(frame, wire.TypeHello, &hello); err != nil {
			return
		}
		signature := peerKey.Sign(handshake.PeerTranscript(hello.Session, hello.Challenge, hello.HostKey, peerKey.Public()))
		signature[0] ^= 0xff
		wire.WriteMessage(peerConn, wire.TypeResponse, handshake.Response{
			Session:   hello.Session,
			PeerKey:   peerKey.Public(),
			Signature: signature,
		})
		frame, err = wire.ReadFrame(peerConn, wire.MaxPayload)
		if err != nil {
			return
		}
		var notice EndNotice
		if wire.Decode(frame, wire.TypeEnd, &notice) == nil {
			peerDone <- notice.Reason
		}
	}()

	_, err := f.machine.Handshake(context.Background(), hostConn)
	if !errors.Is(err, handshake.ErrBadSignature) {
		t.Fatalf("Handshake error = %v, want ErrBadSignature", err)
	}
	if reason := testutil.RequireReceive(t, peerDone, waitTimeout, "end notice"); reason != EndProtocolError {
		t.Errorf("peer told %s, want protocol_error", reason)
	}

	if state := f.machine.State(); state != StateAborted {
		t.Fatalf("state = %s, want aborted", state)
	}
	var states []State
	for _, transition := range f.machine.Snapshot().History {
		states = append(states, transition.To)
	}
	if want := []State{StateCreated, StateHandshaking, StateAborted}; !slices.Equal(states, want) {
		t.Errorf("history = %v, want %v", states, want)
	}
	if _, err := f.machine.Close(context.Background()); !errors.Is(err, ErrAborted) {
		t.Errorf("Close error = %v, want ErrAborted", err)
	}
	if _, ok := f.machine.Manifest(); ok {
		t.Error("aborted session has a manifest")
	}
	if stored, _ := f.store.List(context.Background(), f.machine.ID()); len(stored) != 0 {
		t.Errorf("store holds %d chunks", len(stored))
	}

	if got := len(f.events(audit.CategoryHandshakeFailure)); got != 1 {
		t.Errorf("handshake_failure events = %d, want 1", got)
	}
	for _, category := range []audit.Category{
		audit.CategorySessionTerminated, audit.CategoryHandshakeComplete,
		audit.CategoryChunkCommit, audit.CategoryChunkFailure, audit.CategoryPolicyDecision,
	} {
		if got := len(f.events(category)); got != 0 {
			t.Errorf("%s events = %d, want 0", category, got)
		}
	}
}

func TestHandshakeTimeoutRetiresSessionID(t *testing.T) {
	f := newFixture(t, func(config *Config) { config.Limits.HandshakeTimeout = 10 * time.Second })
	hostConn, peerConn := net.Pipe()
	defer peerConn.Close()

	handshakeDone := make(chan error, 1)
	go func() {
		_, err := f.machine.Handshake(context.Background(), hostConn)
		handshakeDone <- err
	}()
	f.clock.WaitForTimers(1)
	f.clock.Advance(10 * time.Second)

	err := testutil.RequireReceive(t, handshakeDone, waitTimeout, "Handshake")
	if !errors.Is(err, handshake.ErrTimeout) {
		t.Fatalf("Handshake error = %v, want ErrTimeout", err)
	}
	if state := f.machine.State(); state != StateAborted {
		t.Fatalf("state = %s, want aborted", state)
	}
	if !f.registry.Retired(f.machine.ID()) {
		t.Error("session id not retired")
	}

	_, err = New(Config{Session: f.machine.ID(), Registry: f.registry, Store: f.store})
	if !errors.Is(err, ErrReplayedSession) {
		t.Errorf("reusing the id: error = %v, want ErrReplayedSession", err)
	}
	if got := len(f.events(audit.CategoryHandshakeFailure)); got != 1 {
		t.Errorf("handshake_failure events = %d, want 1", got)
	}
}

func TestSessionStartDeniedWithoutRules(t *testing.T) {
	f := newFixture(t, func(config *Config) { config.RuleSet = nil })
	hostConn, peerConn := net.Pipe()
	defer peerConn.Close()
	peerKey := newKey(t)

	go func() {
		if _, err := handshake.Respond(context.Background(), peerConn, handshake.PeerConfig{Key: peerKey}); err == nil {
			wire.ReadFrame(peerConn, wire.MaxPayload)
		}
	}()
	_, err := f.machine.Handshake(context.Background(), hostConn)
	if !errors.Is(err, ErrSessionDenied) {
		t.Fatalf("Handshake error = %v, want ErrSessionDenied", err)
	}
	testutil.RequireClosed(t, f.machine.Done(), waitTimeout, "session end")
	if snapshot := f.machine.Snapshot(); snapshot.State != StateAborted || snapshot.EndReason != "policy_violation" {
		t.Errorf("snapshot = %s / %s", snapshot.State, snapshot.EndReason)
	}
	if got := len(f.events(audit.CategorySessionTerminated)); got != 1 {
		t.Errorf("session_terminated events = %d, want 1", got)
	}
}

type failingEncryptor struct{}

func (failingEncryptor) Encrypt(chunk.Header, []byte) ([]byte, sessionkey.Nonce, error) {
	return nil, sessionkey.Nonce{}, errors.New("encryption unavailable")
}

func TestConsecutiveEncryptionFailuresAbort(t *testing.T) {
	f := newFixture(t, func(config *Config) {
		config.Encryptor = failingEncryptor{}
		config.Limits.FailureThreshold = 5
	})
	_, frames, _ := activate(t, f)

	for range 5 {
		// Errors are expected once the pipeline has failed.
		f.machine.Write(context.Background(), bytes.Repeat([]byte{0x5a}, 1024))
	}
	testutil.RequireClosed(t, f.machine.Done(), waitTimeout, "session abort")
	expectEnd(t, frames, EndInternalError)

	if state := f.machine.State(); state != StateAborted {
		t.Fatalf("state = %s, want aborted", state)
	}
	if _, err := f.machine.Close(context.Background()); !errors.Is(err, ErrAborted) {
		t.Errorf("Close error = %v, want ErrAborted", err)
	}
	if _, ok := f.machine.Manifest(); ok {
		t.Error("aborted session has a manifest")
	}
	if got := len(f.events(audit.CategoryChunkFailure)); got != 5 {
		t.Errorf("chunk_failure events = %d, want 5", got)
	}
	if got := len(f.events(audit.CategorySessionTerminated)); got != 1 {
		t.Errorf("session_terminated events = %d, want 1", got)
	}
	if got := len(f.events(audit.CategoryManifest)); got != 0 {
		t.Errorf("manifest events = %d, want 0", got)
	}
}

func TestPolicyViolationAborts(t *testing.T) {
	f := newFixture(t, func(config *Config) { config.Limits.DenyThreshold = 5 })
	_, frames, _ := activate(t, f)

	for attempt := 1; attempt <= 6; attempt++ {
		result, err := f.machine.Authorize(context.Background(), policy.Input{Device: "keyboard"})
		if err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
		if result.Decision != policy.Deny {
			t.Fatalf("attempt %d: decision %s", attempt, result.Decision)
		}
		if attempt < 6 && f.machine.State() != StateActive {
			t.Fatalf("aborted after %d denials", attempt)
		}
	}
	testutil.RequireClosed(t, f.machine.Done(), waitTimeout, "session abort")
	expectEnd(t, frames, EndPolicyViolation)

	if _, err := f.machine.Authorize(context.Background(), policy.Input{Device: "keyboard"}); !errors.Is(err, ErrAborted) {
		t.Errorf("Authorize after abort: error = %v, want ErrAborted", err)
	}
	if !errors.Is(f.machine.Err(), ErrPolicyViolation) {
		t.Errorf("Err = %v, want ErrPolicyViolation", f.machine.Err())
	}
	violations := f.events(audit.CategoryPolicyViolation)
	if len(violations) != 1 {
		t.Fatalf("policy_violation events = %d, want 1", len(violations))
	}
	if violations[0].Attrs["denials"] != "6" {
		t.Errorf("violation attrs = %v", violations[0].Attrs)
	}
	if got := len(f.events(audit.CategorySessionTerminated)); got != 0 {
		t.Errorf("session_terminated events = %d, want 0", got)
	}
}

func TestPromptBlocksOnlyItsAction(t *testing.T) {
	f := newFixture(t, func(config *Config) {
		config.RuleSet = startRules(
			policy.Rule{
				ID:         "clipboard-out",
				Permission: policy.PermissionClipboard,
				Resources:  []string{"clipboard/to_peer/*"},
				Effect:     policy.EffectPrompt,
			},
			policy.Rule{
				ID:         "keyboard",
				Permission: policy.PermissionInput,
				Resources:  []string{"input/keyboard"},
				Effect:     policy.EffectAllow,
			},
		)
	})
	peerConn, frames, _ := activate(t, f)
	served := make(chan error, 1)
	go func() { served <- f.machine.Serve(context.Background()) }()

	send := func(id uint64, action policy.Action) {
		t.Helper()
		request, err := NewActionRequest(id, action)
		if err != nil {
			t.Fatalf("NewActionRequest: %v", err)
		}
		if err := wire.WriteMessage(peerConn, wire.TypeAction, request); err != nil {
			t.Fatalf("writing action: %v", err)
		}
	}
	receive := func() DecisionReply {
		t.Helper()
		frame := testutil.RequireReceive(t, frames, waitTimeout, "decision frame")
		var reply DecisionReply
		if err := wire.Decode(frame, wire.TypeDecision, &reply); err != nil {
			t.Fatalf("decoding decision: %v", err)
		}
		return reply
	}

	send(1, policy.Clipboard{Direction: policy.ToPeer, Format: "text", Size: 12})
	send(2, policy.Input{Device: "keyboard"})
	if reply := receive(); reply.ID != 2 || !reply.Allowed() {
		t.Fatalf("first decision = %+v, want the keyboard allow", reply)
	}

	var pending []policy.Request
	deadline := time.Now().Add(waitTimeout)
	for len(pending) == 0 && time.Now().Before(deadline) {
		pending = f.machine.PendingApprovals()
		time.Sleep(time.Millisecond)
	}
	if len(pending) != 1 || pending[0].Permission != policy.PermissionClipboard {
		t.Fatalf("pending approvals = %v", pending)
	}
	if err := f.machine.Resolve(pending[0].ID, true, "operator"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if reply := receive(); reply.ID != 1 || !reply.Allowed() || reply.Reason != policy.ReasonApproved {
		t.Fatalf("clipboard decision = %+v", reply)
	}

	if err := wire.WriteFrame(peerConn, wire.Frame{Type: wire.TypeClose}); err != nil {
		t.Fatalf("writing close: %v", err)
	}
	if err := testutil.RequireReceive(t, served, waitTimeout, "Serve"); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	// A session with no data still closes with an empty manifest.
	signed, ok := f.machine.Manifest()
	if !ok || signed.ChunkCount != 0 || !signed.Root.IsZero() {
		t.Errorf("manifest = %+v", signed)
	}
	if got := len(f.events(audit.CategoryJITResolution)); got != 1 {
		t.Errorf("jit_resolution events = %d, want 1", got)
	}
}

func TestTransportLossAbortsActiveSession(t *testing.T) {
	f := newFixture(t)
	peerConn, _, _ := activate(t, f)
	served := make(chan error, 1)
	go func() { served <- f.machine.Serve(context.Background()) }()

	peerConn.Close()
	err := testutil.RequireReceive(t, served, waitTimeout, "Serve")
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("Serve error = %v, want ErrAborted", err)
	}
	if snapshot := f.machine.Snapshot(); snapshot.EndReason != "transport_failure" {
		t.Errorf("end reason = %q", snapshot.EndReason)
	}
	if got := len(f.events(audit.CategorySessionTerminated)); got != 1 {
		t.Errorf("session_terminated events = %d, want 1", got)
	}
}

func TestMalformedFrameIsProtocolError(t *testing.T) {
	f := newFixture(t)
	peerConn, frames, _ := activate(t, f)
	served := make(chan error, 1)
	go func() { served <- f.machine.Serve(context.Background()) }()

	if err := wire.WriteFrame(peerConn, wire.Frame{Type: wire.TypeHello, Payload: []byte{0xa0}}); err != nil {
		t.Fatalf("writing hello: %v", err)
	}
	expectEnd(t, frames, EndProtocolError)
	if err := testutil.RequireReceive(t, served, waitTimeout, "Serve"); !errors.Is(err, ErrAborted) {
		t.Fatalf("Serve error = %v, want ErrAborted", err)
	}
}

func TestSessionClosesAtMaxDuration(t *testing.T) {
	f := newFixture(t, func(config *Config) { config.Limits.MaxDuration = time.Hour })
	_, frames, _ := activate(t, f)
	if err := f.machine.Write(context.Background(), []byte("last words")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	f.clock.Advance(time.Hour)
	testutil.RequireClosed(t, f.machine.Done(), waitTimeout, "session close")
	expectEnd(t, frames, EndNormal)

	signed, ok := f.machine.Manifest()
	if !ok || signed.ChunkCount != 1 {
		t.Fatalf("manifest = %+v, %v", signed, ok)
	}
}

func TestCloseBeforeHandshakeAborts(t *testing.T) {
	f := newFixture(t)
	if _, err := f.machine.Close(context.Background()); !errors.Is(err, ErrAborted) {
		t.Fatalf("Close error = %v, want ErrAborted", err)
	}
	if _, err := f.machine.Handshake(context.Background(), nil); !errors.Is(err, ErrAborted) {
		t.Errorf("Handshake after abort: error = %v", err)
	}
	if f.registry.Live() != 0 {
		t.Errorf("live sessions = %d", f.registry.Live())
	}
}
