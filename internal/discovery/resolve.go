package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/banjo-dev/banjo/internal/logger"
	"github.com/banjo-dev/banjo/internal/supervisor"
)

// ErrReadyTimeout is returned when a spawned daemon does not announce a port
// in time.
var ErrReadyTimeout = errors.New("daemon did not report ready")

// Options controls Resolve.
type Options struct {
	// Dir is where the lockfile walk starts and where a spawned daemon runs.
	Dir string
	// DaemonBin and DaemonArgs launch a new daemon.
	DaemonBin  string
	DaemonArgs []string
	// ReadyTimeout bounds the wait for the ready line.
	ReadyTimeout time.Duration
	// Probe checks that a port from a lockfile is live. Defaults to a TCP dial.
	Probe func(port int) error
}

// Endpoint is a resolved daemon.
type Endpoint struct {
	Port    int
	URL     string
	Spawned bool
	// Process is set when the daemon was spawned by Resolve.
	Process *supervisor.Process
}

// Resolve returns the daemon for opts.Dir, spawning one if no live lockfile
// is found.
func Resolve(ctx context.Context, opts Options) (Endpoint, error) {
	log := logger.WithComponent("discovery")
	probe := opts.Probe
	if probe == nil {
		probe = dialProbe
	}

	path, lock, err := FindLockfile(opts.Dir)
	switch {
	case err == nil:
		perr := probe(lock.Port)
		if perr == nil {
			log.Debug("using daemon from lockfile", "path", path, "port", lock.Port)
			return Endpoint{Port: lock.Port, URL: URL(lock.Port)}, nil
		}
		log.Info("stale lockfile, spawning daemon", "path", path, "port", lock.Port, "error", perr)
	case errors.Is(err, ErrNoLockfile):
		log.Debug("no lockfile, spawning daemon", "dir", opts.Dir)
	default:
		return Endpoint{}, err
	}

	return Spawn(ctx, opts)
}

// Spawn starts a daemon and waits for its ready announcement. Output lines
// that are not ready announcements are ignored.
func Spawn(ctx context.Context, opts Options) (Endpoint, error) {
	if opts.DaemonBin == "" {
		return Endpoint{}, errors.New("no daemon command configured")
	}
	timeout := opts.ReadyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ready := make(chan int, 1)
	exited := make(chan error, 1)
	log := logger.WithComponent("discovery")

	proc, err := supervisor.Start(supervisor.Config{
		Name: "daemon",
		Bin:  opts.DaemonBin,
		Args: opts.DaemonArgs,
		Dir:  opts.Dir,
	}, supervisor.Callbacks{
		OnLine: func(line string) {
			if port, ok := supervisor.ParseReady(line); ok {
				select {
				case ready <- port:
				default:
				}
				return
			}
			log.Debug("daemon output", "line", line)
		},
		OnStderr: func(line string) {
			log.Debug("daemon stderr", "line", line)
		},
		OnExit: func(err error) {
			if err == nil {
				err = supervisor.ErrExited
			}
			exited <- err
		},
	})
	if err != nil {
		return Endpoint{}, fmt.Errorf("spawn daemon: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case port := <-ready:
		log.Info("daemon ready", "port", port, "pid", proc.PID())
		return Endpoint{Port: port, URL: URL(port), Spawned: true, Process: proc}, nil
	case err := <-exited:
		return Endpoint{}, fmt.Errorf("daemon exited before ready: %w", err)
	case <-timer.C:
		proc.Stop(time.Second)
		return Endpoint{}, ErrReadyTimeout
	case <-ctx.Done():
		proc.Stop(time.Second)
		return Endpoint{}, ctx.Err()
	}
}

func dialProbe(port int) error {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 500*time.Millisecond)
	if err != nil {
		return err
	}
	return conn.Close()
}
