package discovery

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestResolveUsesLiveLockfile(t *testing.T) {
	dir := t.TempDir()
	if _, err := WriteLockfile(dir, Lock{Port: 6001}); err != nil {
		t.Fatal(err)
	}

	ep, err := Resolve(context.Background(), Options{
		Dir:   dir,
		Probe: func(int) error { return nil },
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ep.Spawned || ep.Port != 6001 || ep.URL != "ws://127.0.0.1:6001/acp" {
		t.Errorf("Resolve() = %+v", ep)
	}
}

func TestResolveSpawnsOnStaleLockfile(t *testing.T) {
	dir := t.TempDir()
	if _, err := WriteLockfile(dir, Lock{Port: 6002}); err != nil {
		t.Fatal(err)
	}

	ep, err := Resolve(context.Background(), Options{
		Dir:          dir,
		DaemonBin:    "/bin/sh",
		DaemonArgs:   []string{"-c", `echo starting; echo '{"jsonrpc":"2.0","method":"ready","params":{"mcp_port":6003}}'; sleep 5`},
		ReadyTimeout: 5 * time.Second,
		Probe:        func(int) error { return errors.New("connection refused") },
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	defer ep.Process.Stop(time.Second)

	if !ep.Spawned || ep.Port != 6003 {
		t.Errorf("Resolve() = %+v, want spawned on 6003", ep)
	}
}

func TestSpawnPlainReadyLine(t *testing.T) {
	ep, err := Spawn(context.Background(), Options{
		Dir:          t.TempDir(),
		DaemonBin:    "/bin/sh",
		DaemonArgs:   []string{"-c", `printf 'noise\nready:'; sleep 0.1; printf '7001\n'; sleep 5`},
		ReadyTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	defer ep.Process.Stop(time.Second)

	if ep.Port != 7001 {
		t.Errorf("Port = %d, want 7001", ep.Port)
	}
}

func TestSpawnExitBeforeReady(t *testing.T) {
	_, err := Spawn(context.Background(), Options{
		Dir:          t.TempDir(),
		DaemonBin:    "/bin/sh",
		DaemonArgs:   []string{"-c", "echo boom; exit 1"},
		ReadyTimeout: 5 * time.Second,
	})
	if err == nil {
		t.Fatal("Spawn() error = nil, want exit error")
	}
}

func TestSpawnTimeout(t *testing.T) {
	_, err := Spawn(context.Background(), Options{
		Dir:          t.TempDir(),
		DaemonBin:    "/bin/sh",
		DaemonArgs:   []string{"-c", "sleep 5"},
		ReadyTimeout: 100 * time.Millisecond,
	})
	if !errors.Is(err, ErrReadyTimeout) {
		t.Errorf("Spawn() error = %v, want ErrReadyTimeout", err)
	}
}
