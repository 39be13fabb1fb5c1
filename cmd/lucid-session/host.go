// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"slices"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/lucid-foundation/lucid/lib/anchor"
	"github.com/lucid-foundation/lucid/lib/audit"
	"github.com/lucid-foundation/lucid/lib/chunk"
	"github.com/lucid-foundation/lucid/lib/clock"
	"github.com/lucid-foundation/lucid/lib/manifest"
	"github.com/lucid-foundation/lucid/lib/netutil"
	"github.com/lucid-foundation/lucid/lib/policy"
	"github.com/lucid-foundation/lucid/lib/ref"
	"github.com/lucid-foundation/lucid/lib/session"
)

// acceptBackoff is the pause after a temporary Accept failure such as
// running out of file descriptors.
const acceptBackoff = 100 * time.Millisecond

type hostConfig struct {
	Owner        string
	Store        chunk.Store
	Anchor       anchor.Anchorer
	Audit        *audit.Recorder
	ExpectedPeer ed25519.PublicKey
	Granularity  manifest.Granularity
	Limits       session.Limits

	// PolicyPath is the JSONC rule set. Empty denies every session.
	PolicyPath string

	Clock  clock.Clock
	Logger *slog.Logger
}

// host accepts peer connections and owns the live sessions.
type host struct {
	config   hostConfig
	registry *session.Registry
	logger   *slog.Logger

	// rules is the rule set new sessions start with. A reload does not
	// touch sessions already running.
	rules atomic.Pointer[policy.RuleSet]

	mu       sync.Mutex
	sessions map[ref.SessionID]*session.Machine

	connections sync.WaitGroup
}

func newHost(config hostConfig) *host {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &host{
		config:   config,
		registry: session.NewRegistry(),
		logger:   config.Logger,
		sessions: make(map[ref.SessionID]*session.Machine),
	}
}

// reloadRules reads the policy file. On failure the previous rule set
// stays in force.
func (h *host) reloadRules() error {
	if h.config.PolicyPath == "" {
		h.rules.Store(nil)
		h.logger.Warn("no policy configured; every session will be denied")
		return nil
	}
	ruleSet, err := policy.ReadRuleSetFile(h.config.PolicyPath)
	if err != nil {
		return fmt.Errorf("loading policy: %w", err)
	}
	h.rules.Store(ruleSet)
	h.logger.Info("policy loaded", "path", h.config.PolicyPath, "rules", len(ruleSet.Rules))
	return nil
}

func (h *host) ruleCount() int {
	if ruleSet := h.rules.Load(); ruleSet != nil {
		return len(ruleSet.Rules)
	}
	return 0
}

func (h *host) reloadOnHangup(ctx context.Context) {
	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)
	defer signal.Stop(hangup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hangup:
			if err := h.reloadRules(); err != nil {
				h.logger.Error("policy reload failed; keeping the previous rule set", "error", err)
			}
		}
	}
}

// serve accepts connections until ctx is done or the listener fails,
// then waits for every session to finish. Live sessions are closed
// normally on the way out.
func (h *host) serve(ctx context.Context, listener net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	var acceptErr error
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			if netutil.IsTemporary(err) {
				h.logger.Warn("accept failed; retrying", "error", err)
				select {
				case <-ctx.Done():
				case <-h.config.Clock.After(acceptBackoff):
				}
				continue
			}
			acceptErr = fmt.Errorf("accepting connections: %w", err)
			break
		}
		h.connections.Add(1)
		go func() {
			defer h.connections.Done()
			h.handleConnection(ctx, conn)
		}()
	}

	cancel()
	h.connections.Wait()
	return acceptErr
}

// handleConnection runs one session over conn from handshake to end.
func (h *host) handleConnection(ctx context.Context, conn net.Conn) {
	logger := h.logger.With("remote", conn.RemoteAddr().String())
	machine, err := session.New(session.Config{
		Owner:        h.config.Owner,
		Registry:     h.registry,
		RuleSet:      h.rules.Load(),
		Store:        h.config.Store,
		Anchor:       h.config.Anchor,
		Audit:        h.config.Audit,
		ExpectedPeer: h.config.ExpectedPeer,
		Granularity:  h.config.Granularity,
		Limits:       h.config.Limits,
		Clock:        h.config.Clock,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("creating session", "error", err)
		conn.Close()
		return
	}
	id := machine.ID()
	h.track(machine)
	defer h.untrack(id)
	logger = logger.With("session_id", id.String())

	result, err := machine.Handshake(ctx, conn)
	if err != nil {
		logger.Warn("session did not start", "error", err)
		return
	}
	logger.Info("session active", "peer_key", hex.EncodeToString(result.PeerKey))

	err = machine.Serve(ctx)
	signed, closed := machine.Manifest()
	switch {
	case err == nil && closed:
		logger.Info("session closed",
			"chunks", signed.ChunkCount,
			"root", signed.Root.Short(),
			"duration", signed.Duration().String(),
		)
	case netutil.IsExpectedCloseError(err):
		logger.Info("peer disconnected", "error", err)
	default:
		logger.Warn("session aborted", "error", err)
	}
}

func (h *host) track(machine *session.Machine) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[machine.ID()] = machine
}

func (h *host) untrack(id ref.SessionID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, id)
}

func (h *host) session(id ref.SessionID) (*session.Machine, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	machine, ok := h.sessions[id]
	return machine, ok
}

// snapshots returns the tracked sessions, oldest first.
func (h *host) snapshots() []session.Snapshot {
	h.mu.Lock()
	machines := make([]*session.Machine, 0, len(h.sessions))
	for _, machine := range h.sessions {
		machines = append(machines, machine)
	}
	h.mu.Unlock()

	snapshots := make([]session.Snapshot, 0, len(machines))
	for _, machine := range machines {
		snapshots = append(snapshots, machine.Snapshot())
	}
	slices.SortFunc(snapshots, func(a, b session.Snapshot) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return snapshots
}
