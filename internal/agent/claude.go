package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/banjo-dev/banjo/internal/acp"
	"github.com/banjo-dev/banjo/internal/logger"
	"github.com/banjo-dev/banjo/internal/supervisor"
)

// claudeMessage is one line of Claude's stream-json output.
type claudeMessage struct {
	Type           string `json:"type"`
	Subtype        string `json:"subtype"`
	SessionID      string `json:"session_id"`
	Model          string `json:"model"`
	PermissionMode string `json:"permissionMode"`
	Message        struct {
		Content []struct {
			Type      string          `json:"type"`
			ID        string          `json:"id"`
			Text      string          `json:"text"`
			Thinking  string          `json:"thinking"`
			Name      string          `json:"name"`
			Input     json.RawMessage `json:"input"`
			ToolUseID string          `json:"tool_use_id"`
			Content   json.RawMessage `json:"content"`
			IsError   bool            `json:"is_error"`
		} `json:"content"`
	} `json:"message"`
	IsError bool   `json:"is_error"`
	Result  string `json:"result"`
}

// claudeTranslator turns stream-json lines into events. It is not safe for
// concurrent use; a process delivers lines from a single goroutine.
type claudeTranslator struct {
	cancelled atomic.Bool
}

func (t *claudeTranslator) Translate(line string) []Event {
	var msg claudeMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return nil
	}

	switch msg.Type {
	case "system":
		if msg.Subtype != "init" {
			return nil
		}
		events := []Event{{AgentSessionID: msg.SessionID}}
		if msg.Model != "" {
			events = append(events, updateEvent(acp.SessionUpdate{
				SessionUpdate:  acp.UpdateCurrentModelUpdate,
				CurrentModelID: msg.Model,
			}))
		}
		return events

	case "assistant":
		var events []Event
		for _, block := range msg.Message.Content {
			switch block.Type {
			case "text":
				if block.Text != "" {
					events = append(events, updateEvent(acp.ChunkUpdate(acp.UpdateAgentMessageChunk, block.Text)))
				}
			case "thinking":
				if block.Thinking != "" {
					events = append(events, updateEvent(acp.ChunkUpdate(acp.UpdateAgentThoughtChunk, block.Thinking)))
				}
			case "tool_use":
				events = append(events, updateEvent(acp.SessionUpdate{
					SessionUpdate: acp.UpdateToolCall,
					ToolCallID:    block.ID,
					Title:         ToolTitle(block.Name, block.Input),
					Kind:          ToolKind(block.Name),
					Status:        acp.ToolStatusInProgress,
					RawInput:      block.Input,
				}))
			}
		}
		return events

	case "user":
		var events []Event
		for _, block := range msg.Message.Content {
			if block.Type != "tool_result" {
				continue
			}
			status := acp.ToolStatusCompleted
			if block.IsError {
				status = acp.ToolStatusFailed
			}
			u := acp.SessionUpdate{
				SessionUpdate: acp.UpdateToolCallUpdate,
				ToolCallID:    block.ToolUseID,
				Status:        status,
			}
			if text := resultText(block.Content); text != "" {
				u.Content = acp.ToolContentText(text)
			}
			events = append(events, updateEvent(u))
		}
		return events

	case "result":
		ev := Event{TurnEnd: true, StopReason: acp.StopEndTurn, AgentSessionID: msg.SessionID}
		switch {
		case t.cancelled.Swap(false):
			ev.StopReason = acp.StopCancelled
		case msg.Subtype == "error_max_turns":
			ev.StopReason = acp.StopMaxTokens
		case msg.IsError || msg.Subtype != "success":
			ev.Err = firstNonEmpty(msg.Result, msg.Subtype)
		}
		return []Event{ev}
	}
	return nil
}

// claudeAgent keeps one persistent claude process per session and feeds it
// prompts and control requests as stream-json on stdin.
type claudeAgent struct {
	opts  Options
	proc  *supervisor.Process
	tr    claudeTranslator
	log   *slog.Logger
	reqID atomic.Int64

	mu      sync.Mutex
	running bool
}

func newClaude(opts Options) (*claudeAgent, error) {
	a := &claudeAgent{
		opts: opts,
		log:  logger.WithSession(opts.SessionID).With("engine", "claude"),
	}

	bin := opts.Bin
	if bin == "" {
		bin = "claude"
	}
	args, err := claudeArgs(opts)
	if err != nil {
		return nil, err
	}

	env := []string{"BANJO_SESSION_ID=" + opts.SessionID}
	if opts.HookSocket != "" {
		env = append(env, "BANJO_PERMISSION_SOCKET="+opts.HookSocket)
	}

	proc, err := supervisor.Start(supervisor.Config{
		Name:      "claude",
		Bin:       bin,
		Args:      args,
		Dir:       opts.CWD,
		Env:       env,
		KeepStdin: true,
	}, supervisor.Callbacks{
		OnLine: a.onLine,
		OnStderr: func(line string) {
			a.log.Debug("claude stderr", "line", line)
		},
		OnExit: func(err error) {
			a.setRunning(false)
			if opts.OnExit != nil {
				opts.OnExit(err)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	a.proc = proc
	return a, nil
}

func claudeArgs(opts Options) ([]string, error) {
	args := []string{
		"-p",
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
	}
	if opts.Mode != "" {
		args = append(args, "--permission-mode", opts.Mode)
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.MCPURL != "" {
		cfg, err := json.Marshal(map[string]any{
			"mcpServers": map[string]any{
				"banjo": map[string]string{"type": "http", "url": opts.MCPURL},
			},
		})
		if err != nil {
			return nil, err
		}
		args = append(args, "--mcp-config", string(cfg))
	}
	if opts.HookCommand != "" {
		settings, err := json.Marshal(map[string]any{
			"hooks": map[string]any{
				"PermissionRequest": []any{
					map[string]any{
						"matcher": "*",
						"hooks": []any{
							map[string]any{"type": "command", "command": opts.HookCommand},
						},
					},
				},
			},
		})
		if err != nil {
			return nil, err
		}
		args = append(args, "--settings", string(settings))
	}
	return append(args, opts.Args...), nil
}

func (a *claudeAgent) Engine() acp.Engine { return acp.EngineClaude }

func (a *claudeAgent) onLine(line string) {
	for _, ev := range a.tr.Translate(line) {
		if ev.TurnEnd {
			a.setRunning(false)
		}
		a.opts.Sink(ev)
	}
}

func (a *claudeAgent) setRunning(v bool) {
	a.mu.Lock()
	a.running = v
	a.mu.Unlock()
}

func (a *claudeAgent) Prompt(ctx context.Context, text string) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return ErrBusy
	}
	a.running = true
	a.mu.Unlock()

	msg := map[string]any{
		"type": "user",
		"message": map[string]any{
			"role":    "user",
			"content": []acp.ContentBlock{acp.TextBlock(text)},
		},
	}
	if err := a.writeJSON(msg); err != nil {
		a.setRunning(false)
		return err
	}
	return nil
}

func (a *claudeAgent) Cancel() error {
	a.mu.Lock()
	running := a.running
	a.mu.Unlock()
	if !running {
		return nil
	}
	a.tr.cancelled.Store(true)
	return a.control(map[string]any{"subtype": "interrupt"})
}

func (a *claudeAgent) SetMode(modeID string) error {
	return a.control(map[string]any{"subtype": "set_permission_mode", "mode": modeID})
}

func (a *claudeAgent) SetModel(modelID string) error {
	return a.control(map[string]any{"subtype": "set_model", "model": modelID})
}

func (a *claudeAgent) control(request map[string]any) error {
	return a.writeJSON(map[string]any{
		"type":       "control_request",
		"request_id": "banjo_" + strconv.FormatInt(a.reqID.Add(1), 10),
		"request":    request,
	})
}

func (a *claudeAgent) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := a.proc.WriteLine(data); err != nil {
		return fmt.Errorf("claude: %w", err)
	}
	return nil
}

func (a *claudeAgent) Stop() {
	a.proc.Stop(a.opts.StopGrace)
}
