// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"errors"
	"fmt"
	"io"

	"github.com/lucid-foundation/lucid/lib/codec"
	"github.com/lucid-foundation/lucid/lib/sealed"
	"github.com/lucid-foundation/lucid/lib/secret"
)

// ExportSealed writes events to destination as a sequence of CBOR
// items, encrypted to every recipient.
func ExportSealed(destination io.Writer, events []Event, recipients []string) error {
	writer, err := sealed.Seal(destination, recipients)
	if err != nil {
		return fmt.Errorf("sealing audit export: %w", err)
	}
	encoder := codec.NewEncoder(writer)
	for _, event := range events {
		if err := encoder.Encode(event); err != nil {
			writer.Close()
			return fmt.Errorf("encoding audit event %s: %w", event.ID, err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finishing audit export: %w", err)
	}
	return nil
}

// ReadSealed decrypts and decodes an ExportSealed stream.
func ReadSealed(source io.Reader, identity *secret.Buffer) ([]Event, error) {
	reader, err := sealed.Open(source, identity)
	if err != nil {
		return nil, fmt.Errorf("opening audit export: %w", err)
	}
	decoder := codec.NewDecoder(reader)
	var events []Event
	for {
		var event Event
		err := decoder.Decode(&event)
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decoding audit event %d: %w", len(events), err)
		}
		events = append(events, event)
	}
}
