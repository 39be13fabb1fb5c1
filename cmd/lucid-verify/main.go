// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

// lucid-verify checks a finished session after the fact. It verifies
// the manifest's Ed25519 signature, recomputes the Merkle root from
// the ciphertexts in the chunk store, and prints inclusion proofs for
// chosen chunks. It can also export the session's audit trail sealed
// to the operators' age recipients.
//
// It never decrypts: the session keys were destroyed when the session
// ended, so verification works on ciphertext hashes only.
//
// Exit status is 0 when every check passes, 2 when a check fails, and
// 1 when verification could not run.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/lucid-foundation/lucid/lib/anchor"
	"github.com/lucid-foundation/lucid/lib/audit"
	"github.com/lucid-foundation/lucid/lib/chunkstore"
	"github.com/lucid-foundation/lucid/lib/clock"
	"github.com/lucid-foundation/lucid/lib/config"
	"github.com/lucid-foundation/lucid/lib/manifest"
	"github.com/lucid-foundation/lucid/lib/process"
	"github.com/lucid-foundation/lucid/lib/ref"
	"github.com/lucid-foundation/lucid/lib/version"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		process.Fatal(err)
	}
}

type options struct {
	configPath   string
	manifestPath string
	session      string
	storeDir     string
	noStore      bool
	proofs       []int
	exportPath   string
	recipients   []string
	asJSON       bool
}

func run(args []string, out io.Writer) error {
	var opts options
	flagSet := pflag.NewFlagSet("lucid-verify", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "path to lucid.yaml (default: $LUCID_CONFIG)")
	flagSet.StringVar(&opts.manifestPath, "manifest", "", "manifest file to verify")
	flagSet.StringVar(&opts.session, "session", "", "session id whose manifest is read from the outbox")
	flagSet.StringVar(&opts.storeDir, "store", "", "chunk store directory (default: paths.chunks from the config)")
	flagSet.BoolVar(&opts.noStore, "no-store", false, "check the signature only, without recomputing the root")
	flagSet.IntSliceVar(&opts.proofs, "proof", nil, "chunk index to print an inclusion proof for (repeatable)")
	flagSet.StringVar(&opts.exportPath, "export-audit", "", "write the session's audit events, sealed with age, to this file")
	flagSet.StringSliceVar(&opts.recipients, "recipient", nil, "age recipient for --export-audit (default: audit.recipients from the config)")
	flagSet.BoolVar(&opts.asJSON, "json", false, "print the report as JSON")

	if len(args) > 0 && args[0] == "--version" {
		version.Fprint(out, "lucid-verify")
		return nil
	}
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if (opts.manifestPath == "") == (opts.session == "") {
		return fmt.Errorf("exactly one of --manifest and --session is required")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := configLoader{path: opts.configPath}
	signed, err := loadManifest(opts, &loader, logger)
	if err != nil {
		return err
	}

	var store chunkstore.Store
	if !opts.noStore {
		dir := opts.storeDir
		if dir == "" {
			cfg, err := loader.load()
			if err != nil {
				return err
			}
			dir = cfg.Paths.Chunks
		}
		badger, err := chunkstore.OpenBadger(chunkstore.BadgerConfig{Dir: dir, Logger: logger})
		if err != nil {
			return fmt.Errorf("%w (stop lucid-session or pass --no-store)", err)
		}
		defer badger.Close()
		store = badger
	}

	result := verify(ctx, signed, store, opts.proofs)
	if err := printReport(out, result, opts.asJSON); err != nil {
		return err
	}

	if opts.exportPath != "" {
		if err := exportAudit(ctx, opts, &loader, signed.Session, logger); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "sealed audit trail written to %s\n", opts.exportPath)
	}

	if !result.OK() {
		return &process.ExitError{Code: 2, Err: fmt.Errorf("verification failed: %d problem(s)", len(result.Problems))}
	}
	return nil
}

// configLoader loads the config once, on first use. Checking a
// manifest file against an explicit --store, or with --no-store,
// needs no config.
type configLoader struct {
	path string
	cfg  *config.Config
}

func (l *configLoader) load() (*config.Config, error) {
	if l.cfg != nil {
		return l.cfg, nil
	}
	var err error
	if l.path != "" {
		l.cfg, err = config.LoadFile(l.path)
	} else {
		l.cfg, err = config.Load()
	}
	return l.cfg, err
}

func loadManifest(opts options, loader *configLoader, logger *slog.Logger) (*manifest.Manifest, error) {
	if opts.manifestPath != "" {
		data, err := os.ReadFile(opts.manifestPath)
		if err != nil {
			return nil, err
		}
		return manifest.Decode(data)
	}
	session, err := ref.ParseSessionID(opts.session)
	if err != nil {
		return nil, err
	}
	cfg, err := loader.load()
	if err != nil {
		return nil, err
	}
	outbox, err := anchor.NewOutbox(cfg.Paths.Outbox, clock.Real(), logger)
	if err != nil {
		return nil, err
	}
	return outbox.Read(session)
}

func exportAudit(ctx context.Context, opts options, loader *configLoader, session ref.SessionID, logger *slog.Logger) error {
	cfg, err := loader.load()
	if err != nil {
		return err
	}
	recipients := opts.recipients
	if len(recipients) == 0 {
		recipients = cfg.Audit.Recipients
	}
	if len(recipients) == 0 {
		return fmt.Errorf("--export-audit needs --recipient or audit.recipients in the config")
	}

	auditDB, err := audit.OpenSQLite(cfg.Paths.AuditDB, logger)
	if err != nil {
		return err
	}
	defer auditDB.Close()
	events, err := auditDB.Events(ctx, session)
	if err != nil {
		return err
	}

	file, err := os.OpenFile(opts.exportPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating audit export: %w", err)
	}
	if err := audit.ExportSealed(file, events, recipients); err != nil {
		file.Close()
		os.Remove(opts.exportPath)
		return err
	}
	return file.Close()
}

func printReport(out io.Writer, r *report, asJSON bool) error {
	if asJSON {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(r)
	}
	fmt.Fprintf(out, "session   %s (owner %s)\n", r.Session, r.Owner)
	fmt.Fprintf(out, "manifest  %s\n", r.ManifestHash)
	fmt.Fprintf(out, "root      %s (%d chunks, %s)\n", r.Root, r.ChunkCount, r.Granularity)
	fmt.Fprintf(out, "store     %s\n", r.Store)
	for _, proof := range r.Proofs {
		status := "valid"
		if !proof.Valid {
			status = "INVALID"
		}
		fmt.Fprintf(out, "proof     chunk %d leaf %s: %s\n", proof.Proof.Index, proof.Leaf.Short(), status)
		for level, step := range proof.Proof.Steps {
			fmt.Fprintf(out, "            %d %-5s %s\n", level, step.Side, step.Sibling)
		}
	}
	if r.OK() {
		fmt.Fprintln(out, "result    OK")
		return nil
	}
	for _, problem := range r.Problems {
		fmt.Fprintf(out, "problem   %s\n", problem)
	}
	fmt.Fprintln(out, "result    FAILED")
	return nil
}
