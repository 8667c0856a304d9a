package daemon

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/banjo-dev/banjo/internal/acp"
	"github.com/banjo-dev/banjo/internal/agent"
	"github.com/banjo-dev/banjo/internal/hooks"
	"github.com/banjo-dev/banjo/internal/metrics"
	"github.com/banjo-dev/banjo/internal/permission"
)

// decidePermission answers a hook request: remembered session answers
// first, then the session mode, then the editor.
func (s *Server) decidePermission(ctx context.Context, req hooks.Request) (hooks.Response, error) {
	sess, ok := s.sessionForHook(req)
	if !ok {
		s.log.Debug("hook request for unknown session", "agentSessionID", req.SessionID, "tool", req.ToolName)
		metrics.PermissionDecisions.WithLabelValues(hooks.DecisionAsk, "unknown_session").Inc()
		return hooks.Response{Decision: hooks.DecisionAsk}, nil
	}

	kind := agent.ToolKind(req.ToolName)
	if d, ok := s.policy.Lookup(sess.id, req.ToolName); ok {
		return decided(d, "policy"), nil
	}
	if d, ok := permission.ForMode(sess.Mode(), kind); ok {
		return decided(d, "mode"), nil
	}

	options := permission.DefaultOptions()
	params := acp.RequestPermissionParams{
		SessionID: sess.id,
		ToolCall: acp.ToolCallRef{
			ToolCallID: req.ToolUseID,
			Title:      agent.ToolTitle(req.ToolName, req.ToolInput),
			Kind:       kind,
			Status:     acp.ToolStatusPending,
			RawInput:   req.ToolInput,
		},
		Options: options,
	}

	// The answer is recorded from the reply callback so an always/never
	// choice made after the hook gave up still applies to later calls.
	type answer struct {
		d   permission.Decision
		err error
	}
	answers := make(chan answer, 1)
	_, err := sess.conn.proxy.Call(acp.MethodRequestPermission, params, func(raw json.RawMessage, err error) {
		if err != nil {
			answers <- answer{err: err}
			return
		}
		var result acp.RequestPermissionResult
		if err := json.Unmarshal(raw, &result); err != nil {
			answers <- answer{err: fmt.Errorf("decode %s result: %w", acp.MethodRequestPermission, err)}
			return
		}
		d, optionKind := permission.Interpret(result, options)
		if _, live := s.session(sess.id); live {
			s.policy.Record(sess.id, req.ToolName, optionKind)
		}
		sess.log.Info("permission decided", "tool", req.ToolName, "decision", d, "option", optionKind)
		answers <- answer{d: d}
	})
	if err != nil {
		return hooks.Response{}, err
	}

	select {
	case a := <-answers:
		if a.err != nil {
			return hooks.Response{}, a.err
		}
		return decided(a.d, "editor"), nil
	case <-ctx.Done():
		return hooks.Response{}, ctx.Err()
	}
}

func decided(d permission.Decision, source string) hooks.Response {
	metrics.PermissionDecisions.WithLabelValues(string(d), source).Inc()
	resp := hooks.Response{Decision: string(d)}
	if d == permission.Deny {
		resp.Message = "Permission denied by user"
		if source == "mode" {
			resp.Message = "Not allowed in the current mode"
		}
	}
	return resp
}
