// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"testing"
	"time"

	"github.com/lucid-foundation/lucid/lib/testutil"
)

// startServer runs server until the test ends and waits for its socket.
func startServer(t *testing.T, register func(*Server)) string {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "control.sock")
	server := NewServer(socketPath, nil)
	register(server)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, served, 5*time.Second, "Serve did not return"); err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	waitForSocket(t, socketPath)
	return socketPath
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	for {
		if _, err := os.Stat(path); err == nil {
			return
		}
		if t.Context().Err() != nil {
			t.Fatalf("socket %s did not appear before test context expired", path)
		}
		runtime.Gosched()
	}
}

type echoRequest struct {
	Action string `cbor:"action"`
	Word   string `cbor:"word"`
}

type echoResult struct {
	Word  string `cbor:"word"`
	Count int    `cbor:"count"`
}

func TestCallRoundTrip(t *testing.T) {
	socketPath := startServer(t, func(server *Server) {
		server.Handle("echo", func(_ context.Context, raw []byte) (any, error) {
			var request echoRequest
			if err := Decode(raw, &request); err != nil {
				return nil, err
			}
			return echoResult{Word: request.Word, Count: len(request.Word)}, nil
		})
	})

	var result echoResult
	err := NewClient(socketPath).Call(context.Background(), "echo", map[string]any{"word": "lucid"}, &result)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result.Word != "lucid" || result.Count != 5 {
		t.Errorf("result = %+v", result)
	}

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("stat socket: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("socket mode = %v, want 0600", perm)
	}
}

func TestCallErrors(t *testing.T) {
	socketPath := startServer(t, func(server *Server) {
		server.Handle("refuse", func(context.Context, []byte) (any, error) {
			return nil, errors.New("no such session")
		})
		server.Handle("ack", func(context.Context, []byte) (any, error) {
			return nil, nil
		})
	})
	client := NewClient(socketPath)

	var actionErr *ActionError
	err := client.Call(context.Background(), "refuse", nil, nil)
	if !errors.As(err, &actionErr) || actionErr.Message != "no such session" {
		t.Errorf("refuse: err = %v", err)
	}
	err = client.Call(context.Background(), "missing", nil, nil)
	if !errors.As(err, &actionErr) || actionErr.Message != `unknown action "missing"` {
		t.Errorf("unknown action: err = %v", err)
	}

	var untouched echoResult
	if err := client.Call(context.Background(), "ack", nil, &untouched); err != nil {
		t.Errorf("ack: %v", err)
	}
	if untouched != (echoResult{}) {
		t.Errorf("nil result decoded into %+v", untouched)
	}
}

func TestCallWithoutServer(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "absent.sock"))
	err := client.Call(context.Background(), "status", nil, nil)
	var actionErr *ActionError
	if err == nil || errors.As(err, &actionErr) {
		t.Errorf("err = %v, want a connection error", err)
	}
}

func TestServeRemovesSocket(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "control.sock")
	if err := os.WriteFile(socketPath, nil, 0o600); err != nil {
		t.Fatalf("writing stale socket: %v", err)
	}
	server := NewServer(socketPath, nil)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx) }()

	// The stale regular file is replaced by a socket.
	for {
		info, err := os.Stat(socketPath)
		if err == nil && info.Mode()&os.ModeSocket != 0 {
			break
		}
		if t.Context().Err() != nil {
			t.Fatal("socket never replaced the stale file")
		}
		runtime.Gosched()
	}
	cancel()
	if err := testutil.RequireReceive(t, served, 5*time.Second, "Serve did not return"); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket left behind: %v", err)
	}
}

func TestDuplicateHandlerPanics(t *testing.T) {
	server := NewServer("unused.sock", nil)
	server.Handle("status", func(context.Context, []byte) (any, error) { return nil, nil })
	defer func() {
		if recover() == nil {
			t.Error("duplicate Handle did not panic")
		}
	}()
	server.Handle("status", func(context.Context, []byte) (any, error) { return nil, nil })
}

func TestSocketAppearsOwnerOnly(t *testing.T) {
	previous := syscall.Umask(0)
	defer syscall.Umask(previous)

	dir := t.TempDir()
	socketPath := filepath.Join(dir, "control.sock")
	server := NewServer(socketPath, nil)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx) }()
	defer func() {
		cancel()
		testutil.RequireReceive(t, served, 5*time.Second, "Serve did not return")
	}()

	// The first time the path exists it must already be restricted.
	for {
		info, err := os.Stat(socketPath)
		if err == nil {
			if info.Mode()&os.ModeSocket == 0 || info.Mode().Perm() != 0o600 {
				t.Fatalf("socket first seen with mode %v, want a 0600 socket", info.Mode())
			}
			break
		}
		if t.Context().Err() != nil {
			t.Fatal("socket never appeared")
		}
		runtime.Gosched()
	}

	// An answered call means Serve is past setup.
	var actionErr *ActionError
	if err := NewClient(socketPath).Call(context.Background(), "ping", nil, nil); !errors.As(err, &actionErr) {
		t.Fatalf("Call: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "control.sock" {
		var names []string
		for _, entry := range entries {
			names = append(names, entry.Name())
		}
		t.Errorf("directory holds %v, want only control.sock", names)
	}
}
