package acp

// Mode ids as they appear on the wire.
const (
	ModeDefault           = "default"
	ModeAcceptEdits       = "acceptEdits"
	ModeBypassPermissions = "bypassPermissions"
	ModePlan              = "plan"
)

var modeAliases = map[string]string{
	"accept_edits": ModeAcceptEdits,
	"auto_approve": ModeBypassPermissions,
	"plan_only":    ModePlan,
}

// NormalizeMode maps a user-facing alias to its wire mode id. Matching is
// case-sensitive and anything unrecognized is returned unchanged.
func NormalizeMode(mode string) string {
	if id, ok := modeAliases[mode]; ok {
		return id
	}
	return mode
}

// IsKnownMode reports whether id is one of the wire mode ids.
func IsKnownMode(id string) bool {
	switch id {
	case ModeDefault, ModeAcceptEdits, ModeBypassPermissions, ModePlan:
		return true
	}
	return false
}

// AvailableModes is the mode list advertised in session/new.
func AvailableModes() []SessionMode {
	return []SessionMode{
		{ID: ModeDefault, Name: "Default", Description: "Ask before edits and commands"},
		{ID: ModeAcceptEdits, Name: "Accept Edits", Description: "Apply file edits without asking"},
		{ID: ModeBypassPermissions, Name: "Auto Approve", Description: "Never ask for permission"},
		{ID: ModePlan, Name: "Plan", Description: "Read-only planning"},
	}
}

// Engine names the agent CLI backing a session.
type Engine string

const (
	EngineClaude Engine = "claude"
	EngineCodex  Engine = "codex"
)

// ParseEngine returns the engine for name, defaulting to claude.
func ParseEngine(name string) (Engine, bool) {
	switch Engine(name) {
	case EngineClaude, "":
		return EngineClaude, true
	case EngineCodex:
		return EngineCodex, true
	}
	return "", false
}
