package session

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/banjo-dev/banjo/internal/acp"
)

func activeMachine(t *testing.T) *Machine {
	t.Helper()
	m := NewMachine()
	if err := m.BeginConnect(); err != nil {
		t.Fatalf("BeginConnect() error = %v", err)
	}
	if err := m.Initialized(acp.InitializeResult{
		ProtocolVersion: acp.ProtocolVersion,
		AgentInfo:       &acp.Implementation{Name: "banjo", Version: "1.2.3"},
	}); err != nil {
		t.Fatalf("Initialized() error = %v", err)
	}
	if err := m.SessionCreated(acp.NewSessionResult{
		SessionID: "s1",
		Modes:     &acp.SessionModeState{CurrentModeID: acp.ModeDefault, AvailableModes: acp.AvailableModes()},
		Models:    &acp.SessionModelState{CurrentModelID: "sonnet"},
	}, acp.EngineClaude); err != nil {
		t.Fatalf("SessionCreated() error = %v", err)
	}
	return m
}

func update(sessionID string, u acp.SessionUpdate) acp.SessionNotification {
	return acp.SessionNotification{SessionID: sessionID, Update: u}
}

func TestHandshakeTransitions(t *testing.T) {
	m := NewMachine()
	if m.State() != Disconnected {
		t.Fatalf("initial state = %v", m.State())
	}
	if err := m.Initialized(acp.InitializeResult{}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Initialized() before connect error = %v, want ErrInvalidTransition", err)
	}

	m = activeMachine(t)
	if m.State() != SessionActive {
		t.Errorf("State() = %v, want session_active", m.State())
	}
	if got := m.Agent(); got.Version != "1.2.3" {
		t.Errorf("Agent() = %+v", got)
	}
	s, ok := m.Session()
	if !ok || s.ID != "s1" || s.ModeID != acp.ModeDefault || s.ModelID != "sonnet" || s.Engine != acp.EngineClaude {
		t.Errorf("Session() = %+v, %v", s, ok)
	}
	if len(m.Modes()) != 4 {
		t.Errorf("Modes() = %d entries, want 4", len(m.Modes()))
	}
}

func TestOnTransitionSequence(t *testing.T) {
	m := NewMachine()
	var seen []State
	m.OnTransition = func(from, to State) { seen = append(seen, to) }

	_ = m.BeginConnect()
	_ = m.Initialized(acp.InitializeResult{})
	_ = m.SessionCreated(acp.NewSessionResult{SessionID: "s"}, acp.EngineCodex)
	_, _ = m.Apply(update("s", acp.ChunkUpdate(acp.UpdateAgentMessageChunk, "hi")))
	_, _ = m.Apply(update("s", acp.ChunkUpdate(acp.UpdateAgentMessageChunk, " there")))
	_ = m.End(acp.SessionEndParams{SessionID: "s"})
	m.Close("stop")

	want := []State{Connecting, Initialized, SessionActive, Streaming, Idle, Closed}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", seen, want)
		}
	}
}

func TestPromptRequiresSession(t *testing.T) {
	m := NewMachine()
	if _, err := m.BeginPrompt(); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("BeginPrompt() error = %v, want ErrNoActiveSession", err)
	}
	_ = m.BeginConnect()
	_ = m.Initialized(acp.InitializeResult{})
	if _, err := m.BeginPrompt(); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("BeginPrompt() when initialized error = %v, want ErrNoActiveSession", err)
	}

	m = activeMachine(t)
	id, err := m.BeginPrompt()
	if err != nil || id != "s1" {
		t.Errorf("BeginPrompt() = %q, %v", id, err)
	}
	if m.State() != SessionActive {
		t.Errorf("BeginPrompt() changed state to %v", m.State())
	}
}

func TestChunkAfterEndStreamsAgain(t *testing.T) {
	m := activeMachine(t)

	if _, err := m.Apply(update("s1", acp.ChunkUpdate(acp.UpdateAgentThoughtChunk, "thinking"))); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if m.State() != Streaming {
		t.Fatalf("State() = %v, want streaming", m.State())
	}

	if err := m.End(acp.SessionEndParams{SessionID: "s1", Reason: acp.EndReasonTurnComplete}); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	s, _ := m.Session()
	if s.Streaming {
		t.Error("Streaming = true after session/end")
	}
	if m.State() != Idle {
		t.Errorf("State() = %v, want idle", m.State())
	}

	change, err := m.Apply(update("s1", acp.ChunkUpdate(acp.UpdateAgentMessageChunk, "more")))
	if err != nil {
		t.Fatalf("Apply() after end error = %v", err)
	}
	if change.Text != "more" {
		t.Errorf("change.Text = %q", change.Text)
	}
	s, _ = m.Session()
	if !s.Streaming || m.State() != Streaming {
		t.Errorf("after chunk: streaming=%v state=%v, want true streaming", s.Streaming, m.State())
	}
}

func TestModeParamsNormalizesAlias(t *testing.T) {
	tests := []struct {
		alias   string
		want    string
		wantErr error
	}{
		{"accept_edits", "acceptEdits", nil},
		{"auto_approve", "bypassPermissions", nil},
		{"plan_only", "plan", nil},
		{"plan", "plan", nil},
		{"PLAN_ONLY", "", ErrUnknownMode},
		{"Accept_Edits", "", ErrUnknownMode},
	}

	for _, tt := range tests {
		t.Run(tt.alias, func(t *testing.T) {
			m := activeMachine(t)
			params, err := m.ModeParams(tt.alias)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ModeParams() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if params.ModeID != tt.want || params.SessionID != "s1" {
				t.Errorf("ModeParams() = %+v, want modeId %q", params, tt.want)
			}
		})
	}
}

func TestSettersLeaveStateUntilCommit(t *testing.T) {
	m := activeMachine(t)
	before, _ := m.Session()

	mode, err := m.ModeParams("plan_only")
	if err != nil {
		t.Fatalf("ModeParams() error = %v", err)
	}
	model, _ := m.ModelParams("opus")
	option, _ := m.ConfigOptionParams("effort", json.RawMessage(`"high"`))
	if _, err := m.ModeParams("Accept_Edits"); err == nil {
		t.Fatal("ModeParams(Accept_Edits) error = nil")
	}

	s, _ := m.Session()
	if s.ModeID != before.ModeID || s.ModelID != before.ModelID || s.Config["effort"] != nil {
		t.Fatalf("uncommitted params changed the session: %+v", s)
	}

	if err := m.CommitMode(mode); err != nil {
		t.Fatalf("CommitMode() error = %v", err)
	}
	if err := m.CommitModel(model); err != nil {
		t.Fatalf("CommitModel() error = %v", err)
	}
	if err := m.CommitConfigOption(option); err != nil {
		t.Fatalf("CommitConfigOption() error = %v", err)
	}
	s, _ = m.Session()
	if s.ModeID != acp.ModePlan || s.ModelID != "opus" || string(s.Config["effort"]) != `"high"` {
		t.Errorf("Session() after commit = %+v", s)
	}
}

func TestCommitRejectsStaleSession(t *testing.T) {
	m := activeMachine(t)
	stale := acp.SetModeParams{SessionID: "old", ModeID: acp.ModePlan}
	if err := m.CommitMode(stale); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("CommitMode(stale) error = %v, want ErrUnknownSession", err)
	}
	m.Close(acp.EndReasonDisconnected)
	if err := m.CommitModel(acp.SetModelParams{SessionID: "s1", ModelID: "opus"}); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("CommitModel() after close error = %v, want ErrNoActiveSession", err)
	}
}

func TestSettersRequireSession(t *testing.T) {
	m := NewMachine()
	if _, err := m.ModeParams("plan"); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("ModeParams() error = %v", err)
	}
	if _, err := m.ModelParams("opus"); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("ModelParams() error = %v", err)
	}
	if _, err := m.ConfigOptionParams("effort", json.RawMessage(`"high"`)); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("ConfigOptionParams() error = %v", err)
	}
}

func TestModeAndModelUpdatesKeepState(t *testing.T) {
	m := activeMachine(t)
	_, _ = m.Apply(update("s1", acp.SessionUpdate{SessionUpdate: acp.UpdateCurrentModeUpdate, CurrentModeID: acp.ModePlan}))
	_, _ = m.Apply(update("s1", acp.SessionUpdate{SessionUpdate: acp.UpdateCurrentModelUpdate, CurrentModelID: "haiku"}))

	if m.State() != SessionActive {
		t.Errorf("State() = %v, want session_active", m.State())
	}
	s, _ := m.Session()
	if s.ModeID != acp.ModePlan || s.ModelID != "haiku" {
		t.Errorf("Session() = %+v", s)
	}
}

func TestToolCallLifecycle(t *testing.T) {
	m := activeMachine(t)

	steps := []struct {
		update       acp.SessionUpdate
		wantStatus   string
		wantFinished bool
		wantInFlight int
	}{
		{acp.SessionUpdate{SessionUpdate: acp.UpdateToolCall, ToolCallID: "t1", Title: "Read main.go", Kind: acp.ToolKindRead}, "pending", false, 1},
		{acp.SessionUpdate{SessionUpdate: acp.UpdateToolCall, ToolCallID: "t2", Title: "Run tests", Status: "in_progress"}, "in_progress", false, 2},
		{acp.SessionUpdate{SessionUpdate: acp.UpdateToolCallUpdate, ToolCallID: "t1", Status: "running"}, "in_progress", false, 2},
		{acp.SessionUpdate{SessionUpdate: acp.UpdateToolCallUpdate, ToolCallID: "t1", Status: "completed"}, "completed", true, 1},
		{acp.SessionUpdate{SessionUpdate: acp.UpdateToolCallUpdate, ToolCallID: "t2", Status: "failed"}, "failed", true, 0},
	}

	for i, step := range steps {
		change, err := m.Apply(update("s1", step.update))
		if err != nil {
			t.Fatalf("step %d: Apply() error = %v", i, err)
		}
		if change.ToolCall.Status != step.wantStatus || change.Finished != step.wantFinished {
			t.Errorf("step %d: change = %+v, want status %q finished %v", i, change, step.wantStatus, step.wantFinished)
		}
		if got := len(m.ToolCalls()); got != step.wantInFlight {
			t.Errorf("step %d: %d tool calls in flight, want %d", i, got, step.wantInFlight)
		}
	}
	if m.State() != SessionActive {
		t.Errorf("tool calls changed state to %v", m.State())
	}
}

func TestApplyRejectsOtherSessions(t *testing.T) {
	m := activeMachine(t)
	if _, err := m.Apply(update("other", acp.ChunkUpdate(acp.UpdateAgentMessageChunk, "x"))); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("Apply() error = %v, want ErrUnknownSession", err)
	}
	if m.State() != SessionActive {
		t.Errorf("State() = %v after rejected update", m.State())
	}
}

func TestAgentExitCloses(t *testing.T) {
	m := activeMachine(t)
	_, _ = m.Apply(update("s1", acp.SessionUpdate{SessionUpdate: acp.UpdateToolCall, ToolCallID: "t1"}))

	if err := m.End(acp.SessionEndParams{SessionID: "s1", Reason: acp.EndReasonAgentExited}); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if m.State() != Closed {
		t.Errorf("State() = %v, want closed", m.State())
	}
	if len(m.ToolCalls()) != 0 {
		t.Error("tool calls survived agent exit")
	}
	if _, err := m.BeginPrompt(); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("BeginPrompt() after exit error = %v", err)
	}
	if m.EndReason() != acp.EndReasonAgentExited {
		t.Errorf("EndReason() = %q", m.EndReason())
	}
}

func TestCloseFromAnyStateAndReconnect(t *testing.T) {
	for _, setup := range []func() *Machine{
		NewMachine,
		func() *Machine { m := NewMachine(); _ = m.BeginConnect(); return m },
		func() *Machine { return activeMachine(t) },
	} {
		m := setup()
		m.Close("transport closed")
		if m.State() != Closed {
			t.Errorf("State() = %v, want closed", m.State())
		}
	}

	m := activeMachine(t)
	m.Close("transport closed")
	if err := m.BeginConnect(); err != nil {
		t.Fatalf("BeginConnect() after close error = %v", err)
	}
	if _, ok := m.Session(); ok {
		t.Error("session survived reconnect")
	}
}
