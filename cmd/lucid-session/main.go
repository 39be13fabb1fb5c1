// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

// lucid-session is the host side of Lucid. It listens on a loopback
// address that the host's onion service forwards to, and runs one
// session per connection: handshake, default-deny policy, and the
// sealed chunk pipeline, ending in a signed manifest placed in the
// anchoring outbox.
//
// The host operator answers approval prompts and inspects sessions
// through the control socket, normally with the lucid command.
// SIGHUP reloads the policy rule set for new sessions.
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
	"os/user"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/lucid-foundation/lucid/lib/anchor"
	"github.com/lucid-foundation/lucid/lib/audit"
	"github.com/lucid-foundation/lucid/lib/chunkstore"
	"github.com/lucid-foundation/lucid/lib/clock"
	"github.com/lucid-foundation/lucid/lib/compress"
	"github.com/lucid-foundation/lucid/lib/config"
	"github.com/lucid-foundation/lucid/lib/control"
	"github.com/lucid-foundation/lucid/lib/manifest"
	"github.com/lucid-foundation/lucid/lib/process"
	"github.com/lucid-foundation/lucid/lib/session"
	"github.com/lucid-foundation/lucid/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath    string
		listenAddress string
		owner         string
		showVersion   bool
	)

	flagSet := pflag.NewFlagSet("lucid-session", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to lucid.yaml (default: $LUCID_CONFIG)")
	flagSet.StringVar(&listenAddress, "listen", "", "loopback address to accept sessions on (overrides listen.address)")
	flagSet.StringVar(&owner, "owner", "", "host account the sessions belong to (default: the current user)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("lucid-session")
		return nil
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("lucid-session")
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if listenAddress != "" {
		cfg.Listen.Address = listenAddress
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if owner == "" {
		current, err := user.Current()
		if err != nil {
			return fmt.Errorf("resolving session owner: %w", err)
		}
		owner = current.Username
	}

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	limits, err := sessionLimits(cfg.Session)
	if err != nil {
		return err
	}
	expectedPeer, err := parsePeerKey(cfg.Session.ExpectedPeer)
	if err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := chunkstore.OpenBadger(chunkstore.BadgerConfig{Dir: cfg.Paths.Chunks, Logger: logger})
	if err != nil {
		return err
	}
	defer store.Close()

	auditDB, err := audit.OpenSQLite(cfg.Paths.AuditDB, logger)
	if err != nil {
		return err
	}
	defer auditDB.Close()
	recorder := audit.NewRecorder(audit.Config{
		Sink:   audit.Tee(auditDB, audit.LogSink{Logger: logger}),
		Buffer: cfg.Audit.Buffer,
		Logger: logger,
	})
	// Deferred after auditDB.Close, so it runs first and drains into
	// the open database.
	defer func() {
		recorder.Close()
		stats := recorder.Stats()
		logger.Info("audit recorder closed",
			"recorded", stats.Recorded,
			"dropped", stats.Dropped,
			"failed", stats.Failed,
		)
	}()

	outbox, err := anchor.NewOutbox(cfg.Paths.Outbox, clock.Real(), logger)
	if err != nil {
		return err
	}

	h := newHost(hostConfig{
		Owner:        owner,
		Store:        store,
		Anchor:       outbox,
		Audit:        recorder,
		ExpectedPeer: expectedPeer,
		Granularity:  manifest.Granularity(cfg.Session.Granularity),
		Limits:       limits,
		PolicyPath:   cfg.Paths.Policy,
		Clock:        clock.Real(),
		Logger:       logger,
	})
	if err := h.reloadRules(); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.Listen.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Listen.Address, err)
	}

	controlServer := control.NewServer(cfg.Paths.Control, logger)
	h.registerActions(controlServer, listener.Addr().String())
	controlDone := make(chan error, 1)
	go func() {
		controlDone <- controlServer.Serve(ctx)
	}()

	go h.reloadOnHangup(ctx)

	logger.Info("lucid-session listening",
		"address", listener.Addr().String(),
		"owner", owner,
		"control", cfg.Paths.Control,
		"version", version.Info(),
	)

	serveErr := h.serve(ctx, listener)
	stop()
	if err := <-controlDone; err != nil {
		logger.Error("control socket failed", "error", err)
	}
	logger.Info("lucid-session stopped")
	return serveErr
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func newLogger(level string) (*slog.Logger, error) {
	var parsed slog.Level
	if err := parsed.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parsed})), nil
}

// sessionLimits converts the validated session section into
// session.Limits.
func sessionLimits(section config.SessionConfig) (session.Limits, error) {
	durations, err := section.Durations()
	if err != nil {
		return session.Limits{}, err
	}
	limits := session.Limits{
		ChunkSize:        section.ChunkSize,
		Workers:          section.Workers,
		FailureThreshold: section.FailureThreshold,
		DenyThreshold:    section.DenyThreshold,
		HandshakeTimeout: durations.Handshake,
		ApprovalTimeout:  durations.Approval,
		DrainTimeout:     durations.Drain,
		MaxDuration:      durations.Max,
	}
	if section.Compression != "auto" {
		algorithm, err := compress.ParseAlgorithm(section.Compression)
		if err != nil {
			return session.Limits{}, err
		}
		limits.Compression = &algorithm
	}
	return limits, nil
}

func parsePeerKey(encoded string) (ed25519.PublicKey, error) {
	if encoded == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(encoded)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("session.expected_peer must be a hex ed25519 public key")
	}
	return ed25519.PublicKey(raw), nil
}
