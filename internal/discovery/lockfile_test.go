package discovery

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/banjo-dev/banjo/internal/logger"
)

func TestMain(m *testing.M) {
	logger.Reset()
	logger.Discard()

	code := m.Run()

	logger.Reset()
	os.Exit(code)
}

func TestFindLockfileWalksUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if _, err := WriteLockfile(root, Lock{Port: 4312, PID: 99}); err != nil {
		t.Fatalf("WriteLockfile() error = %v", err)
	}

	path, lock, err := FindLockfile(nested)
	if err != nil {
		t.Fatalf("FindLockfile() error = %v", err)
	}
	if path != filepath.Join(root, LockfileName) {
		t.Errorf("path = %q", path)
	}
	if lock.Port != 4312 || lock.PID != 99 {
		t.Errorf("lock = %+v", lock)
	}
}

func TestFindLockfileSkipsUnparseable(t *testing.T) {
	root := t.TempDir()
	child := filepath.Join(root, "child")
	if err := os.MkdirAll(child, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(child, LockfileName), []byte("garbage"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := WriteLockfile(root, Lock{Port: 7000}); err != nil {
		t.Fatal(err)
	}

	_, lock, err := FindLockfile(child)
	if err != nil {
		t.Fatalf("FindLockfile() error = %v", err)
	}
	if lock.Port != 7000 {
		t.Errorf("Port = %d, want 7000", lock.Port)
	}
}

func TestReadLockfileRejects(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "port=1"},
		{"zero port", `{"port":0}`},
		{"huge port", `{"port":99999}`},
		{"missing port", `{"pid":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := ReadLockfile(path); err == nil {
				t.Errorf("ReadLockfile(%s) error = nil", tt.content)
			}
		})
	}
}

func TestRemoveLockfileOwnership(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteLockfile(dir, Lock{Port: 5000, PID: 42})
	if err != nil {
		t.Fatal(err)
	}

	if err := RemoveLockfile(path, 7); err != nil {
		t.Fatalf("RemoveLockfile() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("lockfile owned by another pid was removed: %v", err)
	}

	if err := RemoveLockfile(path, 42); err != nil {
		t.Fatalf("RemoveLockfile() error = %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Stat() error = %v, want not exist", err)
	}
	if err := RemoveLockfile(path, 42); err != nil {
		t.Errorf("RemoveLockfile() on missing file error = %v", err)
	}
}

func TestURL(t *testing.T) {
	if got, want := URL(4312), "ws://127.0.0.1:4312/acp"; got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
}
