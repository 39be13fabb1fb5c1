// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package anchor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/lucid-foundation/lucid/lib/clock"
	"github.com/lucid-foundation/lucid/lib/digest"
	"github.com/lucid-foundation/lucid/lib/manifest"
	"github.com/lucid-foundation/lucid/lib/ref"
)

// Receipt is what an Anchorer reports for an accepted manifest.
type Receipt struct {
	Session      ref.SessionID `json:"session"`
	ManifestHash digest.Hash   `json:"manifest_hash"`
	Location     string        `json:"location"`
	At           time.Time     `json:"at"`
}

// Anchorer accepts a signed manifest for anchoring.
type Anchorer interface {
	Anchor(ctx context.Context, signed *manifest.Manifest) (Receipt, error)
}

// Func adapts a function to Anchorer.
type Func func(ctx context.Context, signed *manifest.Manifest) (Receipt, error)

// Anchor implements Anchorer.
func (f Func) Anchor(ctx context.Context, signed *manifest.Manifest) (Receipt, error) {
	return f(ctx, signed)
}

// ErrAlreadyAnchored is returned when a session's manifest is already
// in the outbox.
var ErrAlreadyAnchored = errors.New("anchor: manifest already anchored")

const (
	manifestSuffix = ".manifest.cbor"
	sidecarSuffix  = ".manifest.json"
	anchoredDir    = "anchored"
)

// Outbox is a directory-backed Anchorer.
type Outbox struct {
	dir    string
	clock  clock.Clock
	logger *slog.Logger
}

// NewOutbox creates dir (and its anchored/ subdirectory) if needed.
func NewOutbox(dir string, timer clock.Clock, logger *slog.Logger) (*Outbox, error) {
	if err := os.MkdirAll(filepath.Join(dir, anchoredDir), 0o700); err != nil {
		return nil, fmt.Errorf("creating outbox %s: %w", dir, err)
	}
	if timer == nil {
		timer = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Outbox{dir: dir, clock: timer, logger: logger}, nil
}

func (o *Outbox) path(session ref.SessionID, suffix string) string {
	return filepath.Join(o.dir, session.String()+suffix)
}

// Anchor verifies signed and writes it to the outbox.
func (o *Outbox) Anchor(ctx context.Context, signed *manifest.Manifest) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	if err := signed.Verify(); err != nil {
		return Receipt{}, fmt.Errorf("refusing to anchor: %w", err)
	}
	target := o.path(signed.Session, manifestSuffix)
	for _, existing := range []string{target, filepath.Join(o.dir, anchoredDir, filepath.Base(target))} {
		if _, err := os.Stat(existing); err == nil {
			return Receipt{}, fmt.Errorf("%w: %s", ErrAlreadyAnchored, signed.Session)
		}
	}

	encoded, err := manifest.Encode(signed)
	if err != nil {
		return Receipt{}, err
	}
	sidecar, err := json.MarshalIndent(signed, "", "  ")
	if err != nil {
		return Receipt{}, fmt.Errorf("encoding manifest sidecar: %w", err)
	}
	// The sidecar goes first so a drained CBOR file always has one.
	if err := writeAtomic(o.path(signed.Session, sidecarSuffix), append(sidecar, '\n')); err != nil {
		return Receipt{}, err
	}
	if err := writeAtomic(target, encoded); err != nil {
		return Receipt{}, err
	}

	receipt := Receipt{
		Session:      signed.Session,
		ManifestHash: digest.Manifest(encoded),
		Location:     target,
		At:           o.clock.Now(),
	}
	o.logger.Info("manifest written to outbox",
		"session_id", signed.Session.String(),
		"manifest_hash", receipt.ManifestHash.String(),
		"chunk_count", signed.ChunkCount,
		"path", target,
	)
	return receipt, nil
}

// Read loads a session's manifest from the outbox or its anchored/
// subdirectory.
func (o *Outbox) Read(session ref.SessionID) (*manifest.Manifest, error) {
	name := session.String() + manifestSuffix
	for _, candidate := range []string{filepath.Join(o.dir, name), filepath.Join(o.dir, anchoredDir, name)} {
		data, err := os.ReadFile(candidate)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading manifest: %w", err)
		}
		return manifest.Decode(data)
	}
	return nil, fmt.Errorf("manifest for %s: %w", session, os.ErrNotExist)
}

// Pending lists the sessions whose manifests await the ledger writer,
// sorted.
func (o *Outbox) Pending() ([]ref.SessionID, error) {
	entries, err := os.ReadDir(o.dir)
	if err != nil {
		return nil, fmt.Errorf("listing outbox: %w", err)
	}
	var pending []ref.SessionID
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), manifestSuffix)
		if !ok || entry.IsDir() {
			continue
		}
		session, err := ref.ParseSessionID(name)
		if err != nil {
			o.logger.Warn("ignoring unexpected outbox file", "name", entry.Name())
			continue
		}
		pending = append(pending, session)
	}
	slices.SortFunc(pending, func(a, b ref.SessionID) int { return strings.Compare(a.String(), b.String()) })
	return pending, nil
}

// Acknowledge moves an anchored session's files out of the pending
// set. The ledger writer calls it after the ledger accepted the hash.
func (o *Outbox) Acknowledge(session ref.SessionID) error {
	for _, suffix := range []string{manifestSuffix, sidecarSuffix} {
		from := o.path(session, suffix)
		to := filepath.Join(o.dir, anchoredDir, filepath.Base(from))
		if err := os.Rename(from, to); err != nil {
			return fmt.Errorf("acknowledging %s: %w", session, err)
		}
	}
	syncDir(filepath.Join(o.dir, anchoredDir))
	return nil
}

// writeAtomic writes data to path through a temporary file in the same
// directory.
func writeAtomic(path string, data []byte) error {
	temporary := path + ".tmp"
	file, err := os.OpenFile(temporary, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", temporary, err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporary)
		return fmt.Errorf("writing %s: %w", temporary, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporary)
		return fmt.Errorf("syncing %s: %w", temporary, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporary)
		return fmt.Errorf("closing %s: %w", temporary, err)
	}
	if err := os.Rename(temporary, path); err != nil {
		os.Remove(temporary)
		return fmt.Errorf("renaming %s into place: %w", path, err)
	}
	syncDir(filepath.Dir(path))
	return nil
}

// syncDir makes a rename in dir durable. Failure is ignored: the
// rename itself already succeeded.
func syncDir(dir string) {
	if handle, err := os.Open(dir); err == nil {
		handle.Sync()
		handle.Close()
	}
}
