package discovery

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/banjo-dev/banjo/internal/logger"
)

// Watch reports changes to the lockfile at path until ctx is done. onChange
// receives the new lock and true after a rewrite, or a zero Lock and false
// when the file is removed. The directory is watched rather than the file
// because WriteLockfile replaces it by rename.
func Watch(ctx context.Context, path string, onChange func(Lock, bool)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	log := logger.WithComponent("discovery")
	name := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				lock, err := ReadLockfile(path)
				if err != nil {
					log.Debug("lockfile unreadable after change", "error", err)
					continue
				}
				onChange(lock, true)
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				onChange(Lock{}, false)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("lockfile watcher error", "error", err)
		}
	}
}
