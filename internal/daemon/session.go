package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/banjo-dev/banjo/internal/acp"
	"github.com/banjo-dev/banjo/internal/agent"
	"github.com/banjo-dev/banjo/internal/jsonrpc"
	"github.com/banjo-dev/banjo/internal/logger"
	"github.com/banjo-dev/banjo/internal/metrics"
)

type turnResult struct {
	stopReason string
	err        error
}

// Session binds one ACP session to its agent. At most one prompt turn runs
// at a time.
type Session struct {
	id     string
	engine acp.Engine
	cwd    string
	conn   *Conn
	log    *slog.Logger

	mu             sync.Mutex
	agent          agent.Agent
	modeID         string
	modelID        string
	agentSessionID string
	config         map[string]json.RawMessage
	turn           chan turnResult
	closed         bool
}

func newSession(c *Conn, id string, engine acp.Engine, cwd, mode, model string) *Session {
	return &Session{
		id:      id,
		engine:  engine,
		cwd:     cwd,
		conn:    c,
		log:     logger.WithSession(id),
		modeID:  mode,
		modelID: model,
		config:  make(map[string]json.RawMessage),
	}
}

func (s *Session) setAgent(a agent.Agent) {
	s.mu.Lock()
	s.agent = a
	s.mu.Unlock()
}

func (s *Session) Mode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modeID
}

func (s *Session) modelState() *acp.SessionModelState {
	s.mu.Lock()
	current := s.modelID
	s.mu.Unlock()

	models := availableModels(s.engine)
	if current == "" {
		if len(models) == 0 {
			return nil
		}
		current = models[0].ModelID
	}
	for _, m := range models {
		if m.ModelID == current {
			return &acp.SessionModelState{CurrentModelID: current, AvailableModels: models}
		}
	}
	models = append([]acp.ModelInfo{{ModelID: current, Name: current}}, models...)
	return &acp.SessionModelState{CurrentModelID: current, AvailableModels: models}
}

func availableModels(engine acp.Engine) []acp.ModelInfo {
	switch engine {
	case acp.EngineClaude:
		return []acp.ModelInfo{
			{ModelID: "default", Name: "Default"},
			{ModelID: "sonnet", Name: "Sonnet"},
			{ModelID: "opus", Name: "Opus"},
			{ModelID: "haiku", Name: "Haiku"},
		}
	}
	return nil
}

// prompt runs one turn and returns once the agent reports its end. The
// turn's updates have been sent by then, followed by session/end.
func (s *Session) prompt(ctx context.Context, text string) (any, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, jsonrpc.NewError(jsonrpc.CodeNoActiveSession, "session closed: "+s.id)
	}
	if s.turn != nil {
		s.mu.Unlock()
		return nil, jsonrpc.NewInvalidRequestError(agent.ErrBusy.Error())
	}
	done := make(chan turnResult, 1)
	s.turn = done
	a := s.agent
	s.mu.Unlock()

	s.log.Debug("prompt", "bytes", len(text))
	if err := a.Prompt(ctx, text); err != nil {
		s.mu.Lock()
		if s.turn == done {
			s.turn = nil
		}
		s.mu.Unlock()
		if errors.Is(err, agent.ErrBusy) {
			return nil, jsonrpc.NewInvalidRequestError(err.Error())
		}
		return nil, jsonrpc.NewInternalError(err.Error())
	}

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		return acp.PromptResult{StopReason: res.stopReason}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// onEvent receives agent output in order on the agent's reader goroutine.
func (s *Session) onEvent(ev agent.Event) {
	if ev.AgentSessionID != "" {
		s.mu.Lock()
		changed := s.agentSessionID != ev.AgentSessionID
		s.agentSessionID = ev.AgentSessionID
		s.mu.Unlock()
		if changed {
			s.conn.srv.bindAgentSession(ev.AgentSessionID, s.id)
			s.log.Debug("agent session bound", "agentSessionID", ev.AgentSessionID)
		}
	}

	if ev.Update != nil {
		switch ev.Update.SessionUpdate {
		case acp.UpdateCurrentModeUpdate:
			s.mu.Lock()
			s.modeID = ev.Update.CurrentModeID
			s.mu.Unlock()
		case acp.UpdateCurrentModelUpdate:
			s.mu.Lock()
			s.modelID = ev.Update.CurrentModelID
			s.mu.Unlock()
		}
		s.conn.notify(acp.MethodSessionUpdate, acp.SessionNotification{SessionID: s.id, Update: *ev.Update})
	}

	if ev.TurnEnd {
		s.finishTurn(ev)
	}
}

func (s *Session) finishTurn(ev agent.Event) {
	s.mu.Lock()
	done := s.turn
	s.turn = nil
	s.mu.Unlock()

	reason := acp.EndReasonTurnComplete
	if ev.StopReason == acp.StopCancelled {
		reason = acp.EndReasonCancelled
	}
	s.conn.notify(acp.MethodSessionEnd, acp.SessionEndParams{SessionID: s.id, Reason: reason})

	if done == nil {
		return
	}
	res := turnResult{stopReason: ev.StopReason}
	if res.stopReason == "" {
		res.stopReason = acp.StopEndTurn
	}
	if ev.Err != "" && ev.StopReason != acp.StopCancelled {
		res.err = jsonrpc.NewInternalError(ev.Err)
	}
	done <- res
}

// onExit runs when the agent process ends. Exits after close are expected.
func (s *Session) onExit(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	done := s.turn
	s.turn = nil
	s.mu.Unlock()

	s.log.Warn("agent exited", "engine", s.engine, "error", err)
	metrics.AgentExits.WithLabelValues(string(s.engine), "unexpected").Inc()

	if done != nil {
		done <- turnResult{err: jsonrpc.NewInternalError("agent exited")}
	}
	s.conn.notify(acp.MethodSessionEnd, acp.SessionEndParams{SessionID: s.id, Reason: acp.EndReasonAgentExited})
	s.conn.dropSession(s)
	s.conn.srv.removeSession(s)
}

// close stops the agent. Used on disconnect and shutdown.
func (s *Session) close(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	done := s.turn
	s.turn = nil
	a := s.agent
	s.mu.Unlock()

	if done != nil {
		done <- turnResult{err: jsonrpc.ErrDisconnected}
	}
	if a != nil {
		a.Stop()
	}
	metrics.AgentExits.WithLabelValues(string(s.engine), "stopped").Inc()
	s.conn.srv.removeSession(s)
	s.log.Info("session closed", "reason", reason)
}

func (s *Session) cancel() {
	s.mu.Lock()
	a := s.agent
	running := s.turn != nil
	s.mu.Unlock()
	if !running {
		return
	}
	s.log.Info("cancelling turn")
	if err := a.Cancel(); err != nil {
		s.log.Warn("cancel failed", "error", err)
	}
}

func (s *Session) setMode(mode string) error {
	id := acp.NormalizeMode(mode)
	if !acp.IsKnownMode(id) {
		return jsonrpc.NewInvalidParamsError("unknown mode: " + mode)
	}
	s.mu.Lock()
	a := s.agent
	s.mu.Unlock()
	if err := a.SetMode(id); err != nil {
		return jsonrpc.NewInternalError(err.Error())
	}

	s.mu.Lock()
	s.modeID = id
	s.mu.Unlock()
	s.log.Info("mode changed", "mode", id)
	s.conn.notify(acp.MethodSessionUpdate, acp.SessionNotification{
		SessionID: s.id,
		Update:    acp.SessionUpdate{SessionUpdate: acp.UpdateCurrentModeUpdate, CurrentModeID: id},
	})
	return nil
}

func (s *Session) setModel(modelID string) error {
	if modelID == "" {
		return jsonrpc.NewInvalidParamsError("modelId is required")
	}
	s.mu.Lock()
	a := s.agent
	s.mu.Unlock()
	if err := a.SetModel(modelID); err != nil {
		return jsonrpc.NewInternalError(err.Error())
	}

	s.mu.Lock()
	s.modelID = modelID
	s.mu.Unlock()
	s.log.Info("model changed", "model", modelID)
	s.conn.notify(acp.MethodSessionUpdate, acp.SessionNotification{
		SessionID: s.id,
		Update:    acp.SessionUpdate{SessionUpdate: acp.UpdateCurrentModelUpdate, CurrentModelID: modelID},
	})
	return nil
}

// setConfigOption applies mode and model options and records the rest.
func (s *Session) setConfigOption(configID string, value json.RawMessage) error {
	switch configID {
	case "mode", "model":
		var v string
		if err := json.Unmarshal(value, &v); err != nil {
			return jsonrpc.NewInvalidParamsError(configID + " must be a string")
		}
		if configID == "mode" {
			return s.setMode(v)
		}
		return s.setModel(v)
	}

	s.mu.Lock()
	s.config[configID] = value
	s.mu.Unlock()
	return nil
}
