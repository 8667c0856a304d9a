// Package supervisor runs and monitors agent and daemon subprocesses,
// delivering their stdout one line at a time.
package supervisor

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/banjo-dev/banjo/internal/logger"
)

// ErrExited is wrapped by the error passed to OnExit when a process ends
// with a failure status, and returned by Write after exit.
var ErrExited = errors.New("process exited")

// Config describes the command to run.
type Config struct {
	Name string // used in logs
	Bin  string
	Args []string
	Dir  string
	Env  []string // appended to the current environment
	// KeepStdin leaves stdin open for Write. When false stdin is /dev/null.
	KeepStdin bool
}

// Callbacks are invoked from the process's reader goroutines. OnLine sees
// every complete stdout line in order; OnExit runs exactly once, after the
// last OnLine, with nil for a clean exit.
type Callbacks struct {
	OnLine   func(line string)
	OnStderr func(line string)
	OnExit   func(err error)
}

// Process is a running subprocess.
type Process struct {
	cfg   Config
	cb    Callbacks
	cmd   *exec.Cmd
	stdin io.WriteCloser
	log   *slog.Logger

	writeMu sync.Mutex
	done    chan struct{}
	exitErr error
}

// Start launches the process and begins streaming its output.
func Start(cfg Config, cb Callbacks) (*Process, error) {
	cmd := exec.Command(cfg.Bin, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = append(os.Environ(), cfg.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	p := &Process{
		cfg:  cfg,
		cb:   cb,
		cmd:  cmd,
		log:  logger.WithComponent("supervisor").With("process", cfg.Name),
		done: make(chan struct{}),
	}

	if cfg.KeepStdin {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
		}
		p.stdin = stdin
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", cfg.Bin, err)
	}
	p.log.Debug("process started", "pid", cmd.Process.Pid, "bin", cfg.Bin, "args", cfg.Args)

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		readLines(stdout, cb.OnLine)
	}()
	go func() {
		defer readers.Done()
		onStderr := cb.OnStderr
		if onStderr == nil {
			onStderr = func(line string) { p.log.Debug("stderr", "line", line) }
		}
		readLines(stderr, onStderr)
	}()

	go p.waitForExit(&readers)
	return p, nil
}

// readLines feeds raw reads into a LineBuffer and hands out complete lines.
func readLines(r io.Reader, onLine func(string)) {
	var lb LineBuffer
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			lb.Write(buf[:n])
			for line := range lb.Lines() {
				if onLine != nil {
					onLine(line)
				}
			}
		}
		if err != nil {
			if rest := lb.Flush(); rest != "" && onLine != nil {
				onLine(rest)
			}
			return
		}
	}
}

// waitForExit reaps the process once both pipes have drained.
func (p *Process) waitForExit(readers *sync.WaitGroup) {
	readers.Wait()
	err := p.cmd.Wait()
	if err != nil {
		err = fmt.Errorf("%w: %s: %v", ErrExited, p.cfg.Name, err)
		p.log.Info("process exited", "error", err)
	} else {
		p.log.Debug("process exited normally")
	}
	p.exitErr = err
	close(p.done)

	if p.cb.OnExit != nil {
		p.cb.OnExit(err)
	}
}

// PID returns the operating system process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err returns the exit error after Done is closed.
func (p *Process) Err() error {
	<-p.done
	return p.exitErr
}

// Exited reports whether the process has ended.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Write sends data to the process stdin.
func (p *Process) Write(data []byte) error {
	if p.stdin == nil {
		return errors.New("stdin not attached")
	}
	if p.Exited() {
		return ErrExited
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := p.stdin.Write(data); err != nil {
		return fmt.Errorf("failed to write to %s: %w", p.cfg.Name, err)
	}
	return nil
}

// WriteLine writes data followed by a newline.
func (p *Process) WriteLine(data []byte) error {
	line := make([]byte, 0, len(data)+1)
	line = append(line, data...)
	line = append(line, '\n')
	return p.Write(line)
}

// CloseStdin signals EOF to the process.
func (p *Process) CloseStdin() error {
	if p.stdin == nil {
		return nil
	}
	return p.stdin.Close()
}

// Signal delivers sig to the process group.
func (p *Process) Signal(sig syscall.Signal) error {
	if p.Exited() {
		return ErrExited
	}
	return syscall.Kill(-p.cmd.Process.Pid, sig)
}

// Stop asks the process to terminate and kills it if it is still running
// after grace. It blocks until the process is reaped.
func (p *Process) Stop(grace time.Duration) {
	if p.Exited() {
		return
	}
	_ = p.CloseStdin()
	_ = p.Signal(syscall.SIGTERM)

	select {
	case <-p.done:
		return
	case <-time.After(grace):
	}

	p.log.Warn("process did not exit after SIGTERM, killing", "grace", grace)
	_ = p.Signal(syscall.SIGKILL)
	<-p.done
}
