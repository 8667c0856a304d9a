package permission

import (
	"sync"

	"github.com/banjo-dev/banjo/internal/acp"
)

type policyKey struct {
	sessionID string
	tool      string
}

// Policy remembers "for session" answers so repeated requests for the same
// tool are decided without asking again.
type Policy struct {
	mu    sync.Mutex
	rules map[policyKey]Decision
}

func NewPolicy() *Policy {
	return &Policy{rules: make(map[policyKey]Decision)}
}

// Record stores the answer if its option kind applies for the session.
func (p *Policy) Record(sessionID, tool, kind string) {
	var d Decision
	switch kind {
	case AllowAlways:
		d = Allow
	case RejectAlways:
		d = Deny
	default:
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.rules[policyKey{sessionID, tool}] = d
}

// Lookup returns a remembered decision.
func (p *Policy) Lookup(sessionID, tool string) (Decision, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.rules[policyKey{sessionID, tool}]
	return d, ok
}

// Forget drops everything remembered for a session.
func (p *Policy) Forget(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k := range p.rules {
		if k.sessionID == sessionID {
			delete(p.rules, k)
		}
	}
}

// ForMode returns the decision implied by a session mode alone.
func ForMode(modeID, toolKind string) (Decision, bool) {
	switch modeID {
	case acp.ModeBypassPermissions:
		return Allow, true
	case acp.ModeAcceptEdits:
		if toolKind == acp.ToolKindEdit {
			return Allow, true
		}
	case acp.ModePlan:
		if toolKind == acp.ToolKindEdit || toolKind == acp.ToolKindExecute || toolKind == acp.ToolKindDelete {
			return Deny, true
		}
	}
	return "", false
}
