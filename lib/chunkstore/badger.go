// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/lucid-foundation/lucid/lib/chunk"
	"github.com/lucid-foundation/lucid/lib/codec"
	"github.com/lucid-foundation/lucid/lib/ref"
)

// BadgerConfig configures OpenBadger.
type BadgerConfig struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir      string
	InMemory bool
	Logger   *slog.Logger
}

// Badger is a Store backed by BadgerDB.
type Badger struct {
	db     *badger.DB
	logger *slog.Logger
}

// OpenBadger opens (creating if needed) a Badger store.
func OpenBadger(config BadgerConfig) (*Badger, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if config.Dir == "" && !config.InMemory {
		return nil, fmt.Errorf("chunkstore: directory is required")
	}
	options := badger.DefaultOptions(config.Dir).
		WithInMemory(config.InMemory).
		WithLogger(badgerLogger{logger})
	if config.InMemory {
		options = options.WithDir("").WithValueDir("")
	}
	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("chunkstore: opening badger at %q: %w", config.Dir, err)
	}
	logger.Info("chunk store opened", "dir", config.Dir, "in_memory", config.InMemory)
	return &Badger{db: db, logger: logger}, nil
}

// Keys are "chunk/<session hex>/<index as 16 hex digits>/{meta,data}",
// so a session prefix scan yields its chunks in index order.
func sessionPrefix(session ref.SessionID) []byte {
	return []byte("chunk/" + session.String() + "/")
}

func chunkKey(session ref.SessionID, index uint64, part string) []byte {
	return fmt.Appendf(sessionPrefix(session), "%016x/%s", index, part)
}

// Put implements chunk.Store. The record and ciphertext are written in
// one transaction.
func (b *Badger) Put(_ context.Context, record chunk.Record, sealed []byte) error {
	meta, err := codec.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding chunk record: %w", err)
	}
	metaKey := chunkKey(record.Session, record.Index, "meta")
	err = b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(metaKey); err == nil {
			return fmt.Errorf("%w: %s/%d", ErrExists, record.Session, record.Index)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(metaKey, meta); err != nil {
			return err
		}
		return txn.Set(chunkKey(record.Session, record.Index, "data"), sealed)
	})
	if err != nil {
		return fmt.Errorf("storing chunk %d: %w", record.Index, err)
	}
	return nil
}

// Get implements Store.
func (b *Badger) Get(_ context.Context, session ref.SessionID, index uint64) (chunk.Record, []byte, error) {
	var record chunk.Record
	var sealed []byte
	err := b.db.View(func(txn *badger.Txn) error {
		metaItem, err := txn.Get(chunkKey(session, index, "meta"))
		if err != nil {
			return err
		}
		meta, err := metaItem.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := codec.Unmarshal(meta, &record); err != nil {
			return fmt.Errorf("decoding chunk record: %w", err)
		}
		dataItem, err := txn.Get(chunkKey(session, index, "data"))
		if err != nil {
			return err
		}
		sealed, err = dataItem.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return chunk.Record{}, nil, fmt.Errorf("%w: %s/%d", ErrNotFound, session, index)
	}
	if err != nil {
		return chunk.Record{}, nil, fmt.Errorf("reading chunk %d: %w", index, err)
	}
	return record, sealed, nil
}

// List implements Store.
func (b *Badger) List(ctx context.Context, session ref.SessionID) ([]chunk.Record, error) {
	var records []chunk.Record
	prefix := sessionPrefix(session)
	err := b.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		iterator := txn.NewIterator(options)
		defer iterator.Close()
		for iterator.Seek(prefix); iterator.ValidForPrefix(prefix); iterator.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := iterator.Item()
			key := item.Key()
			if len(key) < 5 || string(key[len(key)-5:]) != "/meta" {
				continue
			}
			var record chunk.Record
			err := item.Value(func(value []byte) error {
				return codec.Unmarshal(value, &record)
			})
			if err != nil {
				return fmt.Errorf("decoding record at %s: %w", key, err)
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing chunks of %s: %w", session, err)
	}
	return records, nil
}

// Close implements Store.
func (b *Badger) Close() error {
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("closing chunk store: %w", err)
	}
	return nil
}

// badgerLogger routes badger's printf-style logging into slog. Info
// and debug chatter is demoted to debug.
type badgerLogger struct{ logger *slog.Logger }

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error("badger: " + fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn("badger: " + fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug("badger: " + fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug("badger: " + fmt.Sprintf(format, args...))
}
