package session

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/banjo-dev/banjo/internal/acp"
)

// Session is a snapshot of the active session's fields.
type Session struct {
	ID        string
	ModeID    string
	ModelID   string
	Engine    acp.Engine
	Streaming bool
	Config    map[string]json.RawMessage
}

// ToolCall is a tool call that has not reached a terminal status.
type ToolCall struct {
	ID     string
	Title  string
	Kind   string
	Status string
}

// Terminal reports whether status ends a tool call.
func Terminal(status string) bool {
	return status == acp.ToolStatusCompleted || status == acp.ToolStatusFailed
}

// Change describes what Apply did, for rendering.
type Change struct {
	Kind     string
	Text     string
	ToolCall ToolCall
	// Finished is set when the tool call reached a terminal status and was
	// dropped from the set.
	Finished bool
}

// Machine is the session state machine. All fields are mutated only through
// its methods, which are safe for concurrent use.
type Machine struct {
	mu        sync.Mutex
	state     State
	agent     acp.Implementation
	session   Session
	modes     []acp.SessionMode
	models    []acp.ModelInfo
	toolCalls map[string]*ToolCall
	endReason string

	// OnTransition, if set, is called with the lock released after every
	// coarse state change.
	OnTransition func(from, to State)
}

func NewMachine() *Machine {
	return &Machine{toolCalls: make(map[string]*ToolCall)}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns the active session, if any.
func (m *Machine) Session() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.hasSession() {
		return Session{}, false
	}
	s := m.session
	s.Config = make(map[string]json.RawMessage, len(m.session.Config))
	for k, v := range m.session.Config {
		s.Config[k] = v
	}
	return s, true
}

// Agent returns the agent info captured from initialize.
func (m *Machine) Agent() acp.Implementation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.agent
}

// Modes returns the modes advertised by session/new.
func (m *Machine) Modes() []acp.SessionMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]acp.SessionMode(nil), m.modes...)
}

// Models returns the models advertised by session/new.
func (m *Machine) Models() []acp.ModelInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]acp.ModelInfo(nil), m.models...)
}

// EndReason returns the reason carried by the last session/end or Close.
func (m *Machine) EndReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endReason
}

// ToolCalls returns the in-flight tool calls ordered by id.
func (m *Machine) ToolCalls() []ToolCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ToolCall, 0, len(m.toolCalls))
	for _, tc := range m.toolCalls {
		out = append(out, *tc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// BeginConnect starts a connection attempt. A closed machine may reconnect;
// doing so forgets the previous session.
func (m *Machine) BeginConnect() error {
	return m.transition(func() error {
		if m.state != Disconnected && m.state != Closed {
			return &TransitionError{From: m.state, Event: "connect"}
		}
		m.resetSession()
		m.state = Connecting
		return nil
	})
}

// Initialized records a successful initialize response.
func (m *Machine) Initialized(res acp.InitializeResult) error {
	return m.transition(func() error {
		if m.state != Connecting {
			return &TransitionError{From: m.state, Event: "initialize"}
		}
		if res.AgentInfo != nil {
			m.agent = *res.AgentInfo
		}
		m.state = Initialized
		return nil
	})
}

// SessionCreated records a successful session/new response. Creating a new
// session while one is active replaces it.
func (m *Machine) SessionCreated(res acp.NewSessionResult, engine acp.Engine) error {
	return m.transition(func() error {
		if m.state != Initialized && !m.state.hasSession() {
			return &TransitionError{From: m.state, Event: "session/new"}
		}
		if res.SessionID == "" {
			return fmt.Errorf("session/new: empty session id")
		}
		m.resetSession()
		if res.Engine != "" {
			engine = res.Engine
		}
		m.session = Session{
			ID:     res.SessionID,
			ModeID: acp.ModeDefault,
			Engine: engine,
			Config: make(map[string]json.RawMessage),
		}
		if res.Modes != nil {
			if res.Modes.CurrentModeID != "" {
				m.session.ModeID = res.Modes.CurrentModeID
			}
			m.modes = res.Modes.AvailableModes
		}
		if res.Models != nil {
			m.session.ModelID = res.Models.CurrentModelID
			m.models = res.Models.AvailableModels
		}
		m.state = SessionActive
		return nil
	})
}

// BeginPrompt checks that a prompt may be sent and returns the session id to
// address it to. Streaming starts with the first chunk, not here.
func (m *Machine) BeginPrompt() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.hasSession() {
		return "", ErrNoActiveSession
	}
	return m.session.ID, nil
}

// PromptFinished records the session/prompt response.
func (m *Machine) PromptFinished() {
	m.transition(func() error {
		if !m.state.hasSession() {
			return nil
		}
		m.session.Streaming = false
		m.state = Idle
		return nil
	})
}

// Apply folds a session/update notification into the machine.
func (m *Machine) Apply(n acp.SessionNotification) (Change, error) {
	var change Change
	err := m.transition(func() error {
		if !m.state.hasSession() {
			return ErrNoActiveSession
		}
		if n.SessionID != m.session.ID {
			return fmt.Errorf("%w: %s", ErrUnknownSession, n.SessionID)
		}

		u := n.Update
		change.Kind = u.SessionUpdate
		switch u.SessionUpdate {
		case acp.UpdateAgentMessageChunk, acp.UpdateAgentThoughtChunk:
			change.Text = u.ChunkText()
			m.session.Streaming = true
			m.state = Streaming
		case acp.UpdateUserMessageChunk:
			change.Text = u.ChunkText()
		case acp.UpdateToolCall:
			tc := &ToolCall{ID: u.ToolCallID, Title: u.Title, Kind: u.Kind, Status: normalizeStatus(u.Status)}
			if tc.Status == "" {
				tc.Status = acp.ToolStatusPending
			}
			change.ToolCall, change.Finished = m.storeToolCall(tc)
		case acp.UpdateToolCallUpdate:
			tc, ok := m.toolCalls[u.ToolCallID]
			if !ok {
				tc = &ToolCall{ID: u.ToolCallID, Status: acp.ToolStatusPending}
			}
			if u.Title != "" {
				tc.Title = u.Title
			}
			if u.Kind != "" {
				tc.Kind = u.Kind
			}
			if u.Status != "" {
				tc.Status = normalizeStatus(u.Status)
			}
			change.ToolCall, change.Finished = m.storeToolCall(tc)
		case acp.UpdateCurrentModeUpdate:
			m.session.ModeID = u.CurrentModeID
		case acp.UpdateCurrentModelUpdate:
			m.session.ModelID = u.CurrentModelID
		}
		return nil
	})
	return change, err
}

func (m *Machine) storeToolCall(tc *ToolCall) (ToolCall, bool) {
	if Terminal(tc.Status) {
		delete(m.toolCalls, tc.ID)
		return *tc, true
	}
	m.toolCalls[tc.ID] = tc
	return *tc, false
}

// End handles session/end. A turn ending keeps the session so later chunks
// stream again; an agent exit closes it.
func (m *Machine) End(params acp.SessionEndParams) error {
	return m.transition(func() error {
		if !m.state.hasSession() {
			return ErrNoActiveSession
		}
		if params.SessionID != "" && params.SessionID != m.session.ID {
			return fmt.Errorf("%w: %s", ErrUnknownSession, params.SessionID)
		}
		m.endReason = params.Reason
		m.session.Streaming = false
		if params.Reason == acp.EndReasonAgentExited {
			m.toolCalls = make(map[string]*ToolCall)
			m.state = Closed
			return nil
		}
		m.state = Idle
		return nil
	})
}

// ModeParams normalizes a user-facing mode alias and returns the
// session/set_mode params to send. The recorded mode is unchanged until
// CommitMode.
func (m *Machine) ModeParams(mode string) (acp.SetModeParams, error) {
	id := acp.NormalizeMode(mode)
	if !acp.IsKnownMode(id) {
		return acp.SetModeParams{}, fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}
	var params acp.SetModeParams
	err := m.withSession(func() {
		params = acp.SetModeParams{SessionID: m.session.ID, ModeID: id}
	})
	return params, err
}

// CommitMode records a mode once its set_mode has been sent.
func (m *Machine) CommitMode(params acp.SetModeParams) error {
	return m.commit(params.SessionID, func() { m.session.ModeID = params.ModeID })
}

func (m *Machine) ModelParams(modelID string) (acp.SetModelParams, error) {
	var params acp.SetModelParams
	err := m.withSession(func() {
		params = acp.SetModelParams{SessionID: m.session.ID, ModelID: modelID}
	})
	return params, err
}

func (m *Machine) CommitModel(params acp.SetModelParams) error {
	return m.commit(params.SessionID, func() { m.session.ModelID = params.ModelID })
}

func (m *Machine) ConfigOptionParams(configID string, value json.RawMessage) (acp.SetConfigOptionParams, error) {
	var params acp.SetConfigOptionParams
	err := m.withSession(func() {
		params = acp.SetConfigOptionParams{SessionID: m.session.ID, ConfigID: configID, Value: value}
	})
	return params, err
}

func (m *Machine) CommitConfigOption(params acp.SetConfigOptionParams) error {
	return m.commit(params.SessionID, func() { m.session.Config[params.ConfigID] = params.Value })
}

// Close moves to Closed from any state.
func (m *Machine) Close(reason string) {
	m.transition(func() error {
		m.endReason = reason
		m.session.Streaming = false
		m.toolCalls = make(map[string]*ToolCall)
		m.state = Closed
		return nil
	})
}

func (m *Machine) withSession(fn func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.hasSession() {
		return ErrNoActiveSession
	}
	fn()
	return nil
}

// commit applies fn only while sessionID is still the live session.
func (m *Machine) commit(sessionID string, fn func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.hasSession() {
		return ErrNoActiveSession
	}
	if sessionID != m.session.ID {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	fn()
	return nil
}

// transition runs fn under the lock and reports a state change afterwards.
func (m *Machine) transition(fn func() error) error {
	m.mu.Lock()
	from := m.state
	err := fn()
	to := m.state
	cb := m.OnTransition
	m.mu.Unlock()

	if err == nil && from != to && cb != nil {
		cb(from, to)
	}
	return err
}

func (m *Machine) resetSession() {
	m.session = Session{}
	m.modes = nil
	m.models = nil
	m.toolCalls = make(map[string]*ToolCall)
	m.endReason = ""
}

func normalizeStatus(status string) string {
	if status == acp.ToolStatusRunning {
		return acp.ToolStatusInProgress
	}
	return status
}
