package client

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/banjo-dev/banjo/internal/acp"
	"github.com/banjo-dev/banjo/internal/jsonrpc"
	"github.com/banjo-dev/banjo/internal/session"
)

func (c *Client) Initialize(ctx context.Context) (acp.InitializeResult, error) {
	info := c.opts.ClientInfo
	params := acp.InitializeParams{
		ProtocolVersion: acp.ProtocolVersion,
		ClientCapabilities: acp.ClientCapabilities{
			FS:       acp.FileSystemCapability{ReadTextFile: c.opts.Host != nil, WriteTextFile: c.opts.Host != nil},
			Terminal: c.opts.Host != nil,
		},
		ClientInfo: &info,
	}
	var res acp.InitializeResult
	if err := c.call(ctx, acp.MethodInitialize, params, &res); err != nil {
		return res, err
	}
	if err := c.machine.Initialized(res); err != nil {
		return res, err
	}
	return res, nil
}

// NewSession starts a session in cwd on engine ("" for the daemon default).
func (c *Client) NewSession(ctx context.Context, cwd, engine string) (acp.NewSessionResult, error) {
	var res acp.NewSessionResult
	err := c.call(ctx, acp.MethodSessionNew, acp.NewSessionParams{CWD: cwd, Engine: engine}, &res)
	if err != nil {
		return res, err
	}
	if err := c.machine.SessionCreated(res, acp.Engine(engine)); err != nil {
		return res, err
	}
	return res, nil
}

// Prompt sends text and waits for the turn to end. Updates arrive through
// Options.OnUpdate meanwhile.
func (c *Client) Prompt(ctx context.Context, text string) (acp.PromptResult, error) {
	sessionID, err := c.machine.BeginPrompt()
	if err != nil {
		return acp.PromptResult{}, err
	}
	params := acp.PromptParams{SessionID: sessionID, Prompt: []acp.ContentBlock{acp.TextBlock(text)}}

	var res acp.PromptResult
	err = c.call(ctx, acp.MethodSessionPrompt, params, &res)
	c.machine.PromptFinished()
	return res, err
}

// Cancel asks the daemon to stop the current turn. It does not wait.
func (c *Client) Cancel() error {
	sess, ok := c.machine.Session()
	if !ok {
		return nil
	}
	return c.notify(acp.MethodSessionCancel, acp.SessionRef{SessionID: sess.ID})
}

// SetMode accepts wire mode ids and the accept_edits, auto_approve and
// plan_only aliases. The change goes out as a notification, so unknown
// modes are refused here and the local mode moves only once it is sent.
func (c *Client) SetMode(ctx context.Context, mode string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params, err := c.machine.ModeParams(mode)
	if errors.Is(err, session.ErrUnknownMode) {
		return jsonrpc.NewInvalidParamsError("unknown mode: " + mode)
	}
	if err != nil {
		return err
	}
	if err := c.notify(acp.MethodSetMode, params); err != nil {
		return err
	}
	return c.machine.CommitMode(params)
}

func (c *Client) SetModel(ctx context.Context, modelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if modelID == "" {
		return jsonrpc.NewInvalidParamsError("modelId is required")
	}
	params, err := c.machine.ModelParams(modelID)
	if err != nil {
		return err
	}
	if err := c.notify(acp.MethodSetModel, params); err != nil {
		return err
	}
	return c.machine.CommitModel(params)
}

// SetConfigOption sends an arbitrary config value. The "mode" option gets
// the same alias handling as SetMode.
func (c *Client) SetConfigOption(ctx context.Context, configID string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if configID == "" {
		return jsonrpc.NewInvalidParamsError("configId is required")
	}
	if mode, ok := value.(string); ok && configID == "mode" {
		id := acp.NormalizeMode(mode)
		if !acp.IsKnownMode(id) {
			return jsonrpc.NewInvalidParamsError("unknown mode: " + mode)
		}
		value = id
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	params, err := c.machine.ConfigOptionParams(configID, raw)
	if err != nil {
		return err
	}
	if err := c.notify(acp.MethodSetConfigOption, params); err != nil {
		return err
	}
	return c.machine.CommitConfigOption(params)
}

func (c *Client) handleUpdate(ctx context.Context, raw json.RawMessage) {
	var n acp.SessionNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		c.log.Warn("invalid session/update", "error", err)
		return
	}
	change, err := c.machine.Apply(n)
	if err != nil {
		c.log.Debug("ignored session/update", "sessionID", n.SessionID, "error", err)
		return
	}
	if c.opts.OnUpdate != nil {
		c.opts.OnUpdate(n, change)
	}
}

func (c *Client) handleEnd(ctx context.Context, raw json.RawMessage) {
	var params acp.SessionEndParams
	if err := json.Unmarshal(raw, &params); err != nil {
		c.log.Warn("invalid session/end", "error", err)
		return
	}
	if err := c.machine.End(params); err != nil {
		c.log.Debug("ignored session/end", "sessionID", params.SessionID, "error", err)
		return
	}
	if c.opts.OnEnd != nil {
		c.opts.OnEnd(params)
	}
}
