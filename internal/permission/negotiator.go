package permission

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/banjo-dev/banjo/internal/acp"
	"github.com/banjo-dev/banjo/internal/jsonrpc"
	"github.com/banjo-dev/banjo/internal/logger"
)

// Prompt is what a host shows the user.
type Prompt struct {
	SessionID string
	Title     string
	ToolCall  acp.ToolCallRef
	Options   []acp.PermissionOption
}

// Prompter asks the user to pick one of the prompt's options. Returning
// ok=false means the user declined to choose.
type Prompter interface {
	Choose(ctx context.Context, p Prompt) (optionID string, ok bool, err error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, p Prompt) (string, bool, error)

func (f PrompterFunc) Choose(ctx context.Context, p Prompt) (string, bool, error) {
	return f(ctx, p)
}

// Negotiator answers session/request_permission on the host side.
type Negotiator struct {
	prompter Prompter
	log      *slog.Logger
}

func NewNegotiator(p Prompter) *Negotiator {
	return &Negotiator{prompter: p, log: logger.WithComponent("permission")}
}

// Resolve presents the request and always produces exactly one outcome.
// Prompter errors and choices outside the offered options become cancelled.
func (n *Negotiator) Resolve(ctx context.Context, params acp.RequestPermissionParams) acp.RequestPermissionResult {
	prompt := Prompt{
		SessionID: params.SessionID,
		Title:     params.ToolCall.Title,
		ToolCall:  params.ToolCall,
		Options:   Normalize(params.Options),
	}
	if prompt.Title == "" {
		prompt.Title = params.ToolCall.ToolCallID
	}

	if n.prompter == nil {
		return Cancelled()
	}
	optionID, ok, err := n.prompter.Choose(ctx, prompt)
	if err != nil {
		n.log.Warn("permission prompt failed", "sessionID", params.SessionID, "error", err)
		return Cancelled()
	}
	if !ok {
		return Cancelled()
	}
	for _, opt := range prompt.Options {
		if opt.OptionID == optionID {
			return Selected(optionID)
		}
	}
	n.log.Warn("prompter chose an option that was not offered", "optionID", optionID)
	return Cancelled()
}

// Handler adapts Resolve to the JSON-RPC dispatch table.
func (n *Negotiator) Handler() jsonrpc.Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var params acp.RequestPermissionParams
		if err := jsonrpc.Bind(raw, &params); err != nil {
			return nil, err
		}
		return n.Resolve(ctx, params), nil
	}
}
