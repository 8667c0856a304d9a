package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/banjo-dev/banjo/internal/acp"
)

// ErrUnknownTerminal is returned for ids that were never created or were
// already released.
var ErrUnknownTerminal = errors.New("unknown terminal")

// outputBuffer keeps the tail of a terminal's output within limit bytes.
type outputBuffer struct {
	data      []byte
	limit     int
	truncated bool
}

func (b *outputBuffer) Write(p []byte) {
	b.data = append(b.data, p...)
	if b.limit <= 0 || len(b.data) <= b.limit {
		return
	}
	cut := len(b.data) - b.limit
	// Never split a UTF-8 sequence.
	for cut < len(b.data) && !utf8.RuneStart(b.data[cut]) {
		cut++
	}
	b.data = append(b.data[:0], b.data[cut:]...)
	b.truncated = true
}

// terminal is one command running on a PTY.
type terminal struct {
	id        string
	sessionID string
	cmd       *exec.Cmd
	ptmx      *os.File
	log       *slog.Logger

	mu     sync.Mutex
	out    outputBuffer
	status *acp.TerminalExitStatus

	readDone  chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
}

func startTerminal(id string, params acp.CreateTerminalParams, dir string, limit int, size *pty.Winsize, log *slog.Logger) (*terminal, error) {
	cmd := exec.Command(params.Command, params.Args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"TERM=xterm-256color",
		"LANG=en_US.UTF-8",
	)
	for _, e := range params.Env {
		cmd.Env = append(cmd.Env, e.Name+"="+e.Value)
	}

	ptmx, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return nil, fmt.Errorf("start %s with PTY: %w", params.Command, err)
	}

	t := &terminal{
		id:        id,
		sessionID: params.SessionID,
		cmd:       cmd,
		ptmx:      ptmx,
		log:       log.With("terminalID", id),
		out:       outputBuffer{limit: limit},
		readDone:  make(chan struct{}),
		exited:    make(chan struct{}),
	}

	go t.readLoop()
	go t.waitForExit()

	return t, nil
}

// readLoop copies PTY output into the buffer until the PTY closes.
func (t *terminal) readLoop() {
	defer close(t.readDone)
	buf := make([]byte, 4096)
	for {
		n, err := t.ptmx.Read(buf)
		if n > 0 {
			t.mu.Lock()
			t.out.Write(buf[:n])
			t.mu.Unlock()
		}
		if err != nil {
			// Linux reports EIO once the last slave fd closes.
			if err != io.EOF && !errors.Is(err, syscall.EIO) && !errors.Is(err, os.ErrClosed) {
				t.log.Debug("PTY read error", "error", err)
			}
			return
		}
	}
}

// waitForExit records the exit status once the process ends and its output
// is drained.
func (t *terminal) waitForExit() {
	err := t.cmd.Wait()

	// Background children may keep the PTY open; don't wait on them forever.
	select {
	case <-t.readDone:
	case <-time.After(time.Second):
	}

	status := exitStatus(t.cmd.ProcessState, err)
	t.mu.Lock()
	t.status = status
	t.mu.Unlock()
	close(t.exited)

	t.log.Debug("terminal exited", "exitCode", status.ExitCode, "signal", status.Signal)
}

func exitStatus(ps *os.ProcessState, err error) *acp.TerminalExitStatus {
	if ps == nil {
		code := -1
		return &acp.TerminalExitStatus{ExitCode: &code}
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return &acp.TerminalExitStatus{Signal: unix.SignalName(ws.Signal())}
	}
	code := ps.ExitCode()
	return &acp.TerminalExitStatus{ExitCode: &code}
}

func (t *terminal) Output() acp.TerminalOutputResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return acp.TerminalOutputResult{
		Output:     string(t.out.data),
		Truncated:  t.out.truncated,
		ExitStatus: t.status,
	}
}

func (t *terminal) Wait(ctx context.Context) (acp.TerminalExitStatus, error) {
	select {
	case <-t.exited:
		t.mu.Lock()
		defer t.mu.Unlock()
		return *t.status, nil
	case <-ctx.Done():
		return acp.TerminalExitStatus{}, ctx.Err()
	}
}

// Kill stops the command; output stays readable until release.
func (t *terminal) Kill() {
	select {
	case <-t.exited:
		return
	default:
	}
	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
}

// Close kills the command and frees the PTY.
func (t *terminal) Close() {
	t.closeOnce.Do(func() {
		t.Kill()
		select {
		case <-t.exited:
		case <-time.After(2 * time.Second):
			t.log.Warn("terminal did not exit after kill")
		}
		_ = t.ptmx.Close()
	})
}
