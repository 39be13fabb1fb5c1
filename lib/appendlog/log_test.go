// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package appendlog

import (
	"sync"
	"testing"
)

func TestAppendAndSnapshot(t *testing.T) {
	var log Log[string]
	if log.Len() != 0 || len(log.Snapshot()) != 0 {
		t.Fatal("zero Log is not empty")
	}
	for index, value := range []string{"a", "b", "c"} {
		if position := log.Append(value); position != index {
			t.Fatalf("Append(%q) = %d, want %d", value, position, index)
		}
	}

	snapshot := log.Snapshot()
	log.Append("d")
	if len(snapshot) != 3 {
		t.Fatalf("earlier snapshot grew to %d entries", len(snapshot))
	}
	grown := append(snapshot, "x")
	if got := log.Snapshot()[3]; got != "d" {
		t.Fatalf("appending to a snapshot overwrote the log: entry 3 = %q, grown = %v", got, grown)
	}
}

func TestConcurrentReaders(t *testing.T) {
	var log Log[int]
	var readers sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snapshot := log.Snapshot()
				for index, value := range snapshot {
					if value != index {
						t.Errorf("snapshot[%d] = %d", index, value)
						return
					}
				}
			}
		}()
	}
	for index := range 10000 {
		log.Append(index)
	}
	close(stop)
	readers.Wait()
	if log.Len() != 10000 {
		t.Fatalf("Len = %d, want 10000", log.Len())
	}
}
