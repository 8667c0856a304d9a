package acp

import "encoding/json"

type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type FileSystemCapability struct {
	ReadTextFile  bool `json:"readTextFile"`
	WriteTextFile bool `json:"writeTextFile"`
}

type ClientCapabilities struct {
	FS       FileSystemCapability `json:"fs"`
	Terminal bool                 `json:"terminal"`
}

type InitializeParams struct {
	ProtocolVersion    int                `json:"protocolVersion"`
	ClientCapabilities ClientCapabilities `json:"clientCapabilities"`
	ClientInfo         *Implementation    `json:"clientInfo,omitempty"`
}

type PromptCapabilities struct {
	Image           bool `json:"image"`
	Audio           bool `json:"audio"`
	EmbeddedContext bool `json:"embeddedContext"`
}

type AgentCapabilities struct {
	LoadSession        bool               `json:"loadSession"`
	PromptCapabilities PromptCapabilities `json:"promptCapabilities"`
}

type InitializeResult struct {
	ProtocolVersion   int               `json:"protocolVersion"`
	AgentCapabilities AgentCapabilities `json:"agentCapabilities"`
	AgentInfo         *Implementation   `json:"agentInfo,omitempty"`
	AuthMethods       []any             `json:"authMethods"`
}

type MCPServer struct {
	Name    string   `json:"name"`
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	URL     string   `json:"url,omitempty"`
}

type NewSessionParams struct {
	CWD        string      `json:"cwd"`
	MCPServers []MCPServer `json:"mcpServers,omitempty"`
	// Engine selects the agent CLI; empty means claude.
	Engine string `json:"engine,omitempty"`
}

type SessionMode struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type SessionModeState struct {
	CurrentModeID  string        `json:"currentModeId"`
	AvailableModes []SessionMode `json:"availableModes"`
}

type ModelInfo struct {
	ModelID string `json:"modelId"`
	Name    string `json:"name"`
}

type SessionModelState struct {
	CurrentModelID  string      `json:"currentModelId"`
	AvailableModels []ModelInfo `json:"availableModels"`
}

type NewSessionResult struct {
	SessionID string             `json:"sessionId"`
	Modes     *SessionModeState  `json:"modes,omitempty"`
	Models    *SessionModelState `json:"models,omitempty"`
	Engine    Engine             `json:"engine,omitempty"`
}

// ContentBlock is a prompt or message content item. Only text is produced by
// this bridge; other block types pass through untouched.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	URI  string `json:"uri,omitempty"`
}

// TextBlock returns a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

type PromptParams struct {
	SessionID string         `json:"sessionId"`
	Prompt    []ContentBlock `json:"prompt"`
}

// PromptText joins the text blocks of a prompt.
func (p PromptParams) PromptText() string {
	var out string
	for _, block := range p.Prompt {
		if block.Type != "text" && block.Type != "" {
			if block.URI != "" {
				out += "@" + block.URI + "\n"
			}
			continue
		}
		out += block.Text
	}
	return out
}

type PromptResult struct {
	StopReason string `json:"stopReason"`
}

type SessionRef struct {
	SessionID string `json:"sessionId"`
}

type SetModeParams struct {
	SessionID string `json:"sessionId"`
	ModeID    string `json:"modeId"`
}

type SetModelParams struct {
	SessionID string `json:"sessionId"`
	ModelID   string `json:"modelId"`
}

type SetConfigOptionParams struct {
	SessionID string          `json:"sessionId"`
	ConfigID  string          `json:"configId"`
	Value     json.RawMessage `json:"value"`
}

type SessionEndParams struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason,omitempty"`
}

// SessionNotification is the payload of session/update.
type SessionNotification struct {
	SessionID string        `json:"sessionId"`
	Update    SessionUpdate `json:"update"`
}

// SessionUpdate is the union of all session/update kinds, discriminated by
// SessionUpdate. Content is a content block for chunks and a list of tool
// call content items for tool calls.
type SessionUpdate struct {
	SessionUpdate  string          `json:"sessionUpdate"`
	Content        json.RawMessage `json:"content,omitempty"`
	ToolCallID     string          `json:"toolCallId,omitempty"`
	Title          string          `json:"title,omitempty"`
	Kind           string          `json:"kind,omitempty"`
	Status         string          `json:"status,omitempty"`
	RawInput       json.RawMessage `json:"rawInput,omitempty"`
	RawOutput      json.RawMessage `json:"rawOutput,omitempty"`
	CurrentModeID  string          `json:"currentModeId,omitempty"`
	CurrentModelID string          `json:"currentModelId,omitempty"`
}

// ChunkUpdate builds an agent_message_chunk or agent_thought_chunk update.
func ChunkUpdate(kind, text string) SessionUpdate {
	raw, _ := json.Marshal(TextBlock(text))
	return SessionUpdate{SessionUpdate: kind, Content: raw}
}

// ChunkText returns the text of a chunk update, or "" for other kinds.
func (u SessionUpdate) ChunkText() string {
	var block ContentBlock
	if len(u.Content) == 0 || json.Unmarshal(u.Content, &block) != nil {
		return ""
	}
	return block.Text
}

// ToolCallContent is one item of a tool call's content list.
type ToolCallContent struct {
	Type    string        `json:"type"`
	Content *ContentBlock `json:"content,omitempty"`
}

// ToolContentText wraps text as a tool call content list.
func ToolContentText(text string) json.RawMessage {
	block := TextBlock(text)
	raw, _ := json.Marshal([]ToolCallContent{{Type: "content", Content: &block}})
	return raw
}

// Tool call statuses. in_progress is the wire spelling of running.
const (
	ToolStatusPending    = "pending"
	ToolStatusInProgress = "in_progress"
	ToolStatusRunning    = "running"
	ToolStatusCompleted  = "completed"
	ToolStatusFailed     = "failed"
)

// Tool kinds.
const (
	ToolKindRead    = "read"
	ToolKindEdit    = "edit"
	ToolKindDelete  = "delete"
	ToolKindMove    = "move"
	ToolKindSearch  = "search"
	ToolKindExecute = "execute"
	ToolKindThink   = "think"
	ToolKindFetch   = "fetch"
	ToolKindOther   = "other"
)

// ToolCallRef describes the tool call a permission request is about.
type ToolCallRef struct {
	ToolCallID string          `json:"toolCallId"`
	Title      string          `json:"title,omitempty"`
	Kind       string          `json:"kind,omitempty"`
	Status     string          `json:"status,omitempty"`
	RawInput   json.RawMessage `json:"rawInput,omitempty"`
}

type PermissionOption struct {
	OptionID string `json:"optionId"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
}

type RequestPermissionParams struct {
	SessionID string             `json:"sessionId"`
	ToolCall  ToolCallRef        `json:"toolCall"`
	Options   []PermissionOption `json:"options"`
}

type PermissionOutcome struct {
	Outcome  string `json:"outcome"`
	OptionID string `json:"optionId,omitempty"`
}

type RequestPermissionResult struct {
	Outcome PermissionOutcome `json:"outcome"`
}

type ReadTextFileParams struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
	Line      *int   `json:"line,omitempty"`
	Limit     *int   `json:"limit,omitempty"`
}

type ReadTextFileResult struct {
	Content string `json:"content"`
}

type WriteTextFileParams struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
	Content   string `json:"content"`
}

type EnvVariable struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type CreateTerminalParams struct {
	SessionID       string        `json:"sessionId"`
	Command         string        `json:"command"`
	Args            []string      `json:"args,omitempty"`
	Env             []EnvVariable `json:"env,omitempty"`
	CWD             string        `json:"cwd,omitempty"`
	OutputByteLimit *int          `json:"outputByteLimit,omitempty"`
}

type CreateTerminalResult struct {
	TerminalID string `json:"terminalId"`
}

// TerminalRef addresses a terminal for output, wait_for_exit, kill and
// release.
type TerminalRef struct {
	SessionID  string `json:"sessionId"`
	TerminalID string `json:"terminalId"`
}

type TerminalExitStatus struct {
	ExitCode *int   `json:"exitCode,omitempty"`
	Signal   string `json:"signal,omitempty"`
}

type TerminalOutputResult struct {
	Output     string              `json:"output"`
	Truncated  bool                `json:"truncated"`
	ExitStatus *TerminalExitStatus `json:"exitStatus,omitempty"`
}

// ReadyParams is carried by the ready notification a daemon prints once it
// is listening.
type ReadyParams struct {
	Port    int `json:"port,omitempty"`
	MCPPort int `json:"mcp_port,omitempty"`
}
