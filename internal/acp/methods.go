// Package acp defines the Agent Client Protocol method set spoken between the
// editor client and the daemon, and the payloads carried by each method.
package acp

// ProtocolVersion is the ACP version negotiated in initialize.
const ProtocolVersion = 1

// Client to daemon.
const (
	MethodInitialize      = "initialize"
	MethodSessionNew      = "session/new"
	MethodSessionPrompt   = "session/prompt"
	MethodSessionCancel   = "session/cancel"
	MethodSetMode         = "session/set_mode"
	MethodSetModel        = "session/set_model"
	MethodSetConfigOption = "session/set_config_option"
)

// Daemon to client. The fs and terminal methods are issued by the daemon's
// tool proxy and answered by the editor host.
const (
	MethodSessionUpdate     = "session/update"
	MethodSessionEnd        = "session/end"
	MethodRequestPermission = "session/request_permission"

	MethodReadTextFile        = "fs/read_text_file"
	MethodWriteTextFile       = "fs/write_text_file"
	MethodTerminalCreate      = "terminal/create"
	MethodTerminalOutput      = "terminal/output"
	MethodTerminalWaitForExit = "terminal/wait_for_exit"
	MethodTerminalKill        = "terminal/kill"
	MethodTerminalRelease     = "terminal/release"
)

// MethodReady is the notification a freshly spawned daemon prints on stdout.
const MethodReady = "ready"

// Session update kinds.
const (
	UpdateAgentMessageChunk  = "agent_message_chunk"
	UpdateAgentThoughtChunk  = "agent_thought_chunk"
	UpdateUserMessageChunk   = "user_message_chunk"
	UpdateToolCall           = "tool_call"
	UpdateToolCallUpdate     = "tool_call_update"
	UpdateCurrentModeUpdate  = "current_mode_update"
	UpdateCurrentModelUpdate = "current_model_update"
)

// Stop reasons returned by session/prompt.
const (
	StopEndTurn   = "end_turn"
	StopCancelled = "cancelled"
	StopRefusal   = "refusal"
	StopMaxTokens = "max_tokens"
)

// Reasons carried by session/end.
const (
	EndReasonTurnComplete = "turn_complete"
	EndReasonCancelled    = "cancelled"
	EndReasonAgentExited  = "agent_exited"
	EndReasonDisconnected = "disconnected"
)
