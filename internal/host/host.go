// Package host implements the editor side of the tool surface: file reads
// and writes, PTY terminals and permission prompts, served to the daemon
// over JSON-RPC.
package host

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/banjo-dev/banjo/internal/acp"
	"github.com/banjo-dev/banjo/internal/jsonrpc"
	"github.com/banjo-dev/banjo/internal/logger"
	"github.com/banjo-dev/banjo/internal/permission"
)

// Options configures a Local host.
type Options struct {
	// Root resolves relative paths and is the default terminal cwd.
	Root string
	// OutputByteLimit applies to terminals that don't set their own.
	OutputByteLimit int
	Cols, Rows      uint16
}

// Local serves tool requests against the local machine.
type Local struct {
	root  string
	limit int
	size  pty.Winsize
	log   *slog.Logger

	mu        sync.Mutex
	terminals map[string]*terminal
}

func NewLocal(opts Options) *Local {
	root := opts.Root
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	size := pty.Winsize{Cols: opts.Cols, Rows: opts.Rows}
	if size.Cols == 0 {
		size.Cols = 120
	}
	if size.Rows == 0 {
		size.Rows = 40
	}
	return &Local{
		root:      root,
		limit:     opts.OutputByteLimit,
		size:      size,
		log:       logger.WithComponent("host"),
		terminals: make(map[string]*terminal),
	}
}

// CreateTerminal starts a command and returns its id.
func (l *Local) CreateTerminal(params acp.CreateTerminalParams) (acp.CreateTerminalResult, error) {
	if params.Command == "" {
		return acp.CreateTerminalResult{}, jsonrpc.NewInvalidParamsError("command is required")
	}
	dir := l.root
	if params.CWD != "" {
		var err error
		if dir, err = l.resolvePath(params.CWD); err != nil {
			return acp.CreateTerminalResult{}, err
		}
	}
	limit := l.limit
	if params.OutputByteLimit != nil {
		limit = *params.OutputByteLimit
	}

	id := "term_" + uuid.New().String()
	size := l.size
	t, err := startTerminal(id, params, dir, limit, &size, l.log)
	if err != nil {
		return acp.CreateTerminalResult{}, jsonrpc.NewInternalError(err.Error())
	}

	l.mu.Lock()
	l.terminals[id] = t
	l.mu.Unlock()

	l.log.Info("terminal created", "terminalID", id, "sessionID", params.SessionID, "command", params.Command)
	return acp.CreateTerminalResult{TerminalID: id}, nil
}

func (l *Local) terminal(id string) (*terminal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.terminals[id]
	if !ok {
		return nil, jsonrpc.NewInvalidParamsError(ErrUnknownTerminal.Error() + ": " + id)
	}
	return t, nil
}

func (l *Local) TerminalOutput(ref acp.TerminalRef) (acp.TerminalOutputResult, error) {
	t, err := l.terminal(ref.TerminalID)
	if err != nil {
		return acp.TerminalOutputResult{}, err
	}
	return t.Output(), nil
}

// WaitForExit blocks until the command exits or ctx ends.
func (l *Local) WaitForExit(ctx context.Context, ref acp.TerminalRef) (acp.TerminalExitStatus, error) {
	t, err := l.terminal(ref.TerminalID)
	if err != nil {
		return acp.TerminalExitStatus{}, err
	}
	return t.Wait(ctx)
}

func (l *Local) KillTerminal(ref acp.TerminalRef) error {
	t, err := l.terminal(ref.TerminalID)
	if err != nil {
		return err
	}
	t.Kill()
	return nil
}

// ReleaseTerminal kills the command if needed and forgets the id.
func (l *Local) ReleaseTerminal(ref acp.TerminalRef) error {
	l.mu.Lock()
	t, ok := l.terminals[ref.TerminalID]
	delete(l.terminals, ref.TerminalID)
	l.mu.Unlock()
	if !ok {
		return jsonrpc.NewInvalidParamsError(ErrUnknownTerminal.Error() + ": " + ref.TerminalID)
	}
	t.Close()
	return nil
}

// Terminals returns the number of live terminal handles.
func (l *Local) Terminals() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.terminals)
}

// Close releases every terminal.
func (l *Local) Close() {
	l.mu.Lock()
	terms := make([]*terminal, 0, len(l.terminals))
	for id, t := range l.terminals {
		terms = append(terms, t)
		delete(l.terminals, id)
	}
	l.mu.Unlock()

	for _, t := range terms {
		t.Close()
	}
}

// Register installs the fs and terminal handlers on mux, plus the
// permission handler when negotiator is non-nil.
func (l *Local) Register(mux *jsonrpc.Mux, negotiator *permission.Negotiator) {
	mux.Handle(acp.MethodReadTextFile, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var params acp.ReadTextFileParams
		if err := jsonrpc.Bind(raw, &params); err != nil {
			return nil, err
		}
		return l.ReadTextFile(params)
	})
	mux.Handle(acp.MethodWriteTextFile, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var params acp.WriteTextFileParams
		if err := jsonrpc.Bind(raw, &params); err != nil {
			return nil, err
		}
		return nil, l.WriteTextFile(params)
	})
	mux.Handle(acp.MethodTerminalCreate, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var params acp.CreateTerminalParams
		if err := jsonrpc.Bind(raw, &params); err != nil {
			return nil, err
		}
		return l.CreateTerminal(params)
	})
	mux.Handle(acp.MethodTerminalOutput, func(ctx context.Context, raw json.RawMessage) (any, error) {
		ref, err := bindRef(raw)
		if err != nil {
			return nil, err
		}
		return l.TerminalOutput(ref)
	})
	mux.Handle(acp.MethodTerminalWaitForExit, func(ctx context.Context, raw json.RawMessage) (any, error) {
		ref, err := bindRef(raw)
		if err != nil {
			return nil, err
		}
		return l.WaitForExit(ctx, ref)
	})
	mux.Handle(acp.MethodTerminalKill, func(ctx context.Context, raw json.RawMessage) (any, error) {
		ref, err := bindRef(raw)
		if err != nil {
			return nil, err
		}
		return nil, l.KillTerminal(ref)
	})
	mux.Handle(acp.MethodTerminalRelease, func(ctx context.Context, raw json.RawMessage) (any, error) {
		ref, err := bindRef(raw)
		if err != nil {
			return nil, err
		}
		return nil, l.ReleaseTerminal(ref)
	})
	if negotiator != nil {
		mux.Handle(acp.MethodRequestPermission, negotiator.Handler())
	}
}

func bindRef(raw json.RawMessage) (acp.TerminalRef, error) {
	var ref acp.TerminalRef
	if err := jsonrpc.Bind(raw, &ref); err != nil {
		return ref, err
	}
	if ref.TerminalID == "" {
		return ref, jsonrpc.NewInvalidParamsError("terminalId is required")
	}
	return ref, nil
}
