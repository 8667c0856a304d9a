// Package agent drives the coding agent CLIs and translates their output
// into ACP session updates.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banjo-dev/banjo/internal/acp"
)

// ErrBusy is returned by Prompt while a turn is still running.
var ErrBusy = errors.New("agent is already running a turn")

// Event is one translated unit of agent output.
type Event struct {
	// Update is forwarded to the editor as session/update.
	Update *acp.SessionUpdate
	// AgentSessionID is the agent's own session or thread id, once known.
	AgentSessionID string
	// TurnEnd marks the end of the current prompt turn.
	TurnEnd    bool
	StopReason string
	// Err carries an error the agent reported for the turn.
	Err string
}

// Agent is one agent CLI bound to one ACP session.
type Agent interface {
	Engine() acp.Engine
	// Prompt starts a turn. Output arrives through Options.Sink, ending with
	// an event whose TurnEnd is set.
	Prompt(ctx context.Context, text string) error
	// Cancel asks the agent to abort the current turn without waiting.
	Cancel() error
	SetMode(modeID string) error
	SetModel(modelID string) error
	// Stop terminates the agent process.
	Stop()
}

// Options configures an Agent.
type Options struct {
	SessionID string
	CWD       string
	Bin       string
	Args      []string
	Model     string
	Mode      string
	// MCPURL is the daemon's MCP tool bridge endpoint for this session.
	MCPURL string
	// HookSocket and HookCommand wire the permission hook.
	HookSocket  string
	HookCommand string
	StopGrace   time.Duration

	Sink   func(Event)
	OnExit func(err error)
}

// New constructs the adapter for engine.
func New(engine acp.Engine, opts Options) (Agent, error) {
	if opts.Sink == nil {
		opts.Sink = func(Event) {}
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = 3 * time.Second
	}
	switch engine {
	case acp.EngineClaude:
		return newClaude(opts)
	case acp.EngineCodex:
		return newCodex(opts), nil
	default:
		return nil, fmt.Errorf("unknown engine %q", engine)
	}
}

func updateEvent(u acp.SessionUpdate) Event {
	return Event{Update: &u}
}
