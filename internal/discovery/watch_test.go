package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type lockEvent struct {
	lock    Lock
	present bool
}

func TestWatchReportsRewriteAndRemoval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, LockfileName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan lockEvent, 8)
	started := make(chan struct{})
	go func() {
		close(started)
		_ = Watch(ctx, path, func(l Lock, present bool) {
			events <- lockEvent{l, present}
		})
	}()
	<-started
	time.Sleep(100 * time.Millisecond)

	if _, err := WriteLockfile(dir, Lock{Port: 8123}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, events, func(ev lockEvent) bool { return ev.present && ev.lock.Port == 8123 })

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	waitFor(t, events, func(ev lockEvent) bool { return !ev.present })
}

func waitFor(t *testing.T, events <-chan lockEvent, match func(lockEvent) bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if match(ev) {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for lockfile event")
		}
	}
}
