package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/banjo-dev/banjo/internal/acp"
	"github.com/banjo-dev/banjo/internal/logger"
	"github.com/banjo-dev/banjo/internal/supervisor"
)

type codexItem struct {
	ID               string `json:"id"`
	Type             string `json:"type"`
	Text             string `json:"text"`
	Command          string `json:"command"`
	AggregatedOutput string `json:"aggregated_output"`
	ExitCode         *int   `json:"exit_code"`
	Status           string `json:"status"`
	Server           string `json:"server"`
	Tool             string `json:"tool"`
	Changes          []struct {
		Path string `json:"path"`
		Kind string `json:"kind"`
	} `json:"changes"`
}

// codexEvent is one line of `codex exec --json` output.
type codexEvent struct {
	Type     string     `json:"type"`
	ThreadID string     `json:"thread_id"`
	Item     *codexItem `json:"item"`
	Error    *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type codexTranslator struct {
	cancelled atomic.Bool
}

func (t *codexTranslator) Translate(line string) []Event {
	var ev codexEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return nil
	}

	switch ev.Type {
	case "thread.started":
		return []Event{{AgentSessionID: ev.ThreadID}}
	case "item.started":
		if ev.Item == nil {
			return nil
		}
		if u, ok := codexToolCall(ev.Item); ok {
			return []Event{updateEvent(u)}
		}
	case "item.completed":
		if ev.Item == nil {
			return nil
		}
		switch ev.Item.Type {
		case "agent_message":
			return []Event{updateEvent(acp.ChunkUpdate(acp.UpdateAgentMessageChunk, ev.Item.Text))}
		case "reasoning":
			return []Event{updateEvent(acp.ChunkUpdate(acp.UpdateAgentThoughtChunk, ev.Item.Text))}
		}
		if u, ok := codexToolCall(ev.Item); ok {
			u.SessionUpdate = acp.UpdateToolCallUpdate
			u.Status = acp.ToolStatusCompleted
			if ev.Item.Status == "failed" || (ev.Item.ExitCode != nil && *ev.Item.ExitCode != 0) {
				u.Status = acp.ToolStatusFailed
			}
			if ev.Item.AggregatedOutput != "" {
				u.Content = acp.ToolContentText(ev.Item.AggregatedOutput)
			}
			return []Event{updateEvent(u)}
		}
	case "turn.completed":
		stop := acp.StopEndTurn
		if t.cancelled.Swap(false) {
			stop = acp.StopCancelled
		}
		return []Event{{TurnEnd: true, StopReason: stop}}
	case "turn.failed":
		msg := "turn failed"
		if ev.Error != nil && ev.Error.Message != "" {
			msg = ev.Error.Message
		}
		return []Event{{TurnEnd: true, StopReason: acp.StopEndTurn, Err: msg}}
	}
	return nil
}

func codexToolCall(item *codexItem) (acp.SessionUpdate, bool) {
	u := acp.SessionUpdate{
		SessionUpdate: acp.UpdateToolCall,
		ToolCallID:    item.ID,
		Status:        acp.ToolStatusInProgress,
	}
	switch item.Type {
	case "command_execution":
		u.Title = "Run: " + item.Command
		u.Kind = acp.ToolKindExecute
		u.RawInput, _ = json.Marshal(map[string]string{"command": item.Command})
	case "file_change":
		u.Title = "Edit"
		if len(item.Changes) > 0 {
			u.Title = "Edit: " + item.Changes[0].Path
		}
		u.Kind = acp.ToolKindEdit
	case "mcp_tool_call":
		u.Title = item.Server + "/" + item.Tool
		u.Kind = acp.ToolKindOther
	case "web_search":
		u.Title = "Web search"
		u.Kind = acp.ToolKindFetch
	default:
		return acp.SessionUpdate{}, false
	}
	return u, true
}

// codexAgent runs one `codex exec --json` process per turn, resuming the
// thread from the previous turn.
type codexAgent struct {
	opts Options
	log  *slog.Logger

	mu       sync.Mutex
	turn     *codexTurn
	threadID string
	mode     string
	model    string
}

// codexTurn is the state of one running turn. It stays current until the
// turn ends, even if its process lingers briefly after that.
type codexTurn struct {
	proc  *supervisor.Process
	tr    codexTranslator
	ended bool
}

func newCodex(opts Options) *codexAgent {
	return &codexAgent{
		opts:  opts,
		log:   logger.WithSession(opts.SessionID).With("engine", "codex"),
		mode:  opts.Mode,
		model: opts.Model,
	}
}

func (a *codexAgent) Engine() acp.Engine { return acp.EngineCodex }

func (a *codexAgent) args() []string {
	args := []string{"exec"}
	if a.threadID != "" {
		args = append(args, "resume", a.threadID)
	}
	args = append(args, "--json", "--skip-git-repo-check")
	if a.opts.CWD != "" {
		args = append(args, "-C", a.opts.CWD)
	}
	if a.model != "" {
		args = append(args, "-m", a.model)
	}
	switch a.mode {
	case acp.ModeBypassPermissions:
		args = append(args, "--dangerously-bypass-approvals-and-sandbox")
	case acp.ModePlan:
		args = append(args, "-s", "read-only")
	default:
		args = append(args, "-s", "workspace-write")
	}
	if a.opts.MCPURL != "" {
		args = append(args, "-c", "mcp_servers.banjo={url="+strconv.Quote(a.opts.MCPURL)+"}")
	}
	args = append(args, a.opts.Args...)
	return append(args, "-")
}

// Prompt starts a turn; the prompt text goes in on stdin.
func (a *codexAgent) Prompt(ctx context.Context, text string) error {
	turn, err := a.startTurn()
	if err != nil {
		return err
	}
	if err := turn.proc.Write([]byte(text)); err != nil {
		turn.proc.Stop(a.opts.StopGrace)
		return err
	}
	return turn.proc.CloseStdin()
}

func (a *codexAgent) startTurn() (*codexTurn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.turn != nil {
		return nil, ErrBusy
	}

	bin := a.opts.Bin
	if bin == "" {
		bin = "codex"
	}
	turn := &codexTurn{}
	proc, err := supervisor.Start(supervisor.Config{
		Name:      "codex",
		Bin:       bin,
		Args:      a.args(),
		Dir:       a.opts.CWD,
		KeepStdin: true,
	}, supervisor.Callbacks{
		OnLine: func(line string) { a.onLine(turn, line) },
		OnStderr: func(line string) {
			a.log.Debug("codex stderr", "line", line)
		},
		OnExit: func(err error) { a.onExit(turn, err) },
	})
	if err != nil {
		return nil, fmt.Errorf("codex: %w", err)
	}
	turn.proc = proc
	a.turn = turn
	return turn, nil
}

func (a *codexAgent) onLine(turn *codexTurn, line string) {
	for _, ev := range turn.tr.Translate(line) {
		a.mu.Lock()
		if ev.AgentSessionID != "" {
			a.threadID = ev.AgentSessionID
		}
		if ev.TurnEnd {
			turn.ended = true
			if a.turn == turn {
				a.turn = nil
			}
		}
		a.mu.Unlock()
		a.opts.Sink(ev)
	}
}

// onExit ends the turn if the process died before reporting completion.
func (a *codexAgent) onExit(turn *codexTurn, err error) {
	a.mu.Lock()
	ended := turn.ended
	turn.ended = true
	if a.turn == turn {
		a.turn = nil
	}
	a.mu.Unlock()

	if ended {
		return
	}
	ev := Event{TurnEnd: true, StopReason: acp.StopEndTurn}
	switch {
	case turn.tr.cancelled.Load():
		ev.StopReason = acp.StopCancelled
	case err != nil:
		ev.Err = err.Error()
	default:
		ev.Err = "codex exited without completing the turn"
	}
	a.opts.Sink(ev)
}

func (a *codexAgent) Cancel() error {
	a.mu.Lock()
	turn := a.turn
	a.mu.Unlock()
	if turn == nil {
		return nil
	}
	turn.tr.cancelled.Store(true)
	return turn.proc.Signal(syscall.SIGINT)
}

func (a *codexAgent) SetMode(modeID string) error {
	a.mu.Lock()
	a.mode = modeID
	a.mu.Unlock()
	return nil
}

func (a *codexAgent) SetModel(modelID string) error {
	a.mu.Lock()
	a.model = modelID
	a.mu.Unlock()
	return nil
}

func (a *codexAgent) Stop() {
	a.mu.Lock()
	turn := a.turn
	a.mu.Unlock()
	if turn != nil {
		turn.proc.Stop(a.opts.StopGrace)
	}
}
