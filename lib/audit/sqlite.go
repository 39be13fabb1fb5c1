// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/lucid-foundation/lucid/lib/codec"
	"github.com/lucid-foundation/lucid/lib/ref"
	"github.com/lucid-foundation/lucid/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	seq      INTEGER PRIMARY KEY AUTOINCREMENT,
	id       TEXT NOT NULL UNIQUE,
	session  TEXT NOT NULL,
	category TEXT NOT NULL,
	at       TEXT NOT NULL,
	message  TEXT NOT NULL,
	attrs    BLOB
);
CREATE INDEX IF NOT EXISTS audit_events_by_session ON audit_events (session, seq);
`

// SQLiteSink persists events in an append-only SQLite table. Rows are
// only ever inserted.
type SQLiteSink struct {
	pool *sqlitepool.Pool
}

// OpenSQLite opens (creating if needed) the audit database at path.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteSink, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     path,
		PoolSize: 2,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}
	return &SQLiteSink{pool: pool}, nil
}

// Append implements Sink.
func (s *SQLiteSink) Append(event Event) error {
	var attrs []byte
	if len(event.Attrs) > 0 {
		var err error
		if attrs, err = codec.Marshal(event.Attrs); err != nil {
			return fmt.Errorf("encoding audit attributes: %w", err)
		}
	}
	return s.pool.Do(context.Background(), func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			`INSERT INTO audit_events (id, session, category, at, message, attrs) VALUES (?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				event.ID.String(),
				event.Session.String(),
				string(event.Category),
				event.At.UTC().Format(time.RFC3339Nano),
				event.Message,
				attrs,
			}})
		if err != nil {
			return fmt.Errorf("inserting audit event %s: %w", event.ID, err)
		}
		return nil
	})
}

// Events returns the stored events of session in record order.
func (s *SQLiteSink) Events(ctx context.Context, session ref.SessionID) ([]Event, error) {
	var events []Event
	err := s.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT id, category, at, message, attrs FROM audit_events WHERE session = ? ORDER BY seq`,
			&sqlitex.ExecOptions{
				Args: []any{session.String()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					event, err := scanEvent(stmt, session)
					if err != nil {
						return err
					}
					events = append(events, event)
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("reading audit events for %s: %w", session, err)
	}
	return events, nil
}

func scanEvent(stmt *sqlite.Stmt, session ref.SessionID) (Event, error) {
	id, err := ref.ParseEventID(stmt.ColumnText(0))
	if err != nil {
		return Event{}, err
	}
	at, err := time.Parse(time.RFC3339Nano, stmt.ColumnText(2))
	if err != nil {
		return Event{}, fmt.Errorf("parsing event time: %w", err)
	}
	event := Event{
		ID:       id,
		Session:  session,
		Category: Category(stmt.ColumnText(1)),
		At:       at,
		Message:  stmt.ColumnText(3),
	}
	if size := stmt.ColumnLen(4); size > 0 {
		raw := make([]byte, size)
		stmt.ColumnBytes(4, raw)
		if err := codec.Unmarshal(raw, &event.Attrs); err != nil {
			return Event{}, fmt.Errorf("decoding audit attributes: %w", err)
		}
	}
	return event, nil
}

// Close closes the database.
func (s *SQLiteSink) Close() error { return s.pool.Close() }
