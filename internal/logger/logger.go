// Package logger is the process-wide structured logger. The daemon reserves
// stdout for its ready line, so logs go to stderr or a file, never stdout.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	root     *slog.Logger
	levelVar = new(slog.LevelVar)
	logFile  *os.File
	mu       sync.Mutex
	initDone bool
)

// Options configures Init.
type Options struct {
	// Path is the log file. Empty means stderr.
	Path string
	// Level is debug, info, warn or error.
	Level string
	// JSON selects the JSON handler instead of text.
	JSON bool
}

// SetDebug enables or disables debug level logging
func SetDebug(enabled bool) {
	if enabled {
		levelVar.Set(slog.LevelDebug)
	} else {
		levelVar.Set(slog.LevelInfo)
	}
}

// SetLevel parses and applies a level name.
func SetLevel(name string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(name))); err != nil {
		return fmt.Errorf("invalid log level %q: %w", name, err)
	}
	levelVar.Set(lvl)
	return nil
}

// Init sets up the root logger. Later calls are no-ops until Reset.
func Init(opts Options) error {
	mu.Lock()
	defer mu.Unlock()

	if initDone {
		return nil
	}

	if opts.Level != "" {
		if err := SetLevel(opts.Level); err != nil {
			return err
		}
	}

	var w io.Writer = os.Stderr
	if opts.Path != "" {
		dir := filepath.Dir(opts.Path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory %s: %w", dir, err)
		}
		f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", opts.Path, err)
		}
		logFile = f
		w = f
	}

	handlerOpts := &slog.HandlerOptions{Level: levelVar}
	if opts.JSON {
		root = slog.New(slog.NewJSONHandler(w, handlerOpts))
	} else {
		root = slog.New(slog.NewTextHandler(w, handlerOpts))
	}
	initDone = true
	return nil
}

// Discard initializes a logger that drops everything. Tests call it from
// TestMain.
func Discard() {
	mu.Lock()
	defer mu.Unlock()

	root = slog.New(slog.NewTextHandler(io.Discard, nil))
	initDone = true
}

// ensureInit falls back to stderr when Init was never called.
// Caller must hold mu.
func ensureInit() {
	if initDone {
		return
	}
	root = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	initDone = true
}

// Get returns the root logger instance.
func Get() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	ensureInit()
	return root
}

// WithSession returns a logger with the session ID attached.
//
// Example:
//
//	log := logger.WithSession(sessionID)
//	log.Info("prompt started", "engine", "claude")
//	// Output: level=INFO msg="prompt started" sessionID=abc123 engine=claude
func WithSession(sessionID string) *slog.Logger {
	return Get().With("sessionID", sessionID)
}

// WithComponent returns a logger with the component name attached.
func WithComponent(component string) *slog.Logger {
	return Get().With("component", component)
}

// Close closes the log file
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	root = nil
	initDone = false
}

// Reset resets the logger state, allowing reinitialization.
// This is primarily for testing purposes.
func Reset() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	initDone = false
	root = nil
	levelVar = new(slog.LevelVar)
}
