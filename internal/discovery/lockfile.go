// Package discovery finds a running daemon through its lockfile or starts a
// new one and waits for it to announce its port.
package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// LockfileName is the file a daemon writes in the directory it serves.
const LockfileName = ".banjo.lock"

// ErrNoLockfile is returned when no lockfile exists between the start
// directory and the filesystem root.
var ErrNoLockfile = errors.New("no " + LockfileName + " found")

// Lock is the lockfile content.
type Lock struct {
	Port int `json:"port"`
	PID  int `json:"pid,omitempty"`
}

// URL returns the ACP WebSocket endpoint for port.
func URL(port int) string {
	return "ws://127.0.0.1:" + strconv.Itoa(port) + "/acp"
}

// FindLockfile walks from dir up to the root and returns the first lockfile
// that parses with a usable port. Unparseable lockfiles are skipped.
func FindLockfile(dir string) (string, Lock, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", Lock{}, fmt.Errorf("resolve %s: %w", dir, err)
	}

	for {
		path := filepath.Join(dir, LockfileName)
		if lock, err := ReadLockfile(path); err == nil {
			return path, lock, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", Lock{}, ErrNoLockfile
		}
		dir = parent
	}
}

// ReadLockfile parses the lockfile at path.
func ReadLockfile(path string) (Lock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Lock{}, err
	}
	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return Lock{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if lock.Port <= 0 || lock.Port > 65535 {
		return Lock{}, fmt.Errorf("parse %s: invalid port %d", path, lock.Port)
	}
	return lock, nil
}

// WriteLockfile atomically writes lock into dir and returns the path.
func WriteLockfile(dir string, lock Lock) (string, error) {
	path := filepath.Join(dir, LockfileName)
	data, err := json.Marshal(lock)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(dir, LockfileName+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create lockfile: %w", err)
	}
	tmpPath := tmp.Name()
	removeTemp := true
	defer func() {
		if removeTemp {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write lockfile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("write lockfile: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return "", fmt.Errorf("write lockfile: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("write lockfile: %w", err)
	}
	removeTemp = false
	return path, nil
}

// RemoveLockfile deletes the lockfile at path if it still belongs to pid.
// A lockfile rewritten by a newer daemon is left alone.
func RemoveLockfile(path string, pid int) error {
	lock, err := ReadLockfile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err == nil && lock.PID != 0 && lock.PID != pid {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lockfile: %w", err)
	}
	return nil
}
