package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/banjo-dev/banjo/internal/acp"
	"github.com/banjo-dev/banjo/internal/agent"
	"github.com/banjo-dev/banjo/internal/jsonrpc"
	"github.com/banjo-dev/banjo/internal/logger"
	"github.com/banjo-dev/banjo/internal/toolproxy"
	"github.com/banjo-dev/banjo/internal/ws"
)

var errNotInitialized = jsonrpc.NewInvalidRequestError("initialize must be called first")

// Conn is one editor connection. Sessions created on it live and die with
// it.
type Conn struct {
	srv   *Server
	peer  *ws.Peer
	ids   jsonrpc.IDGenerator
	proxy *toolproxy.Proxy
	log   *slog.Logger

	mu          sync.Mutex
	initialized bool
	caps        acp.ClientCapabilities
	sessions    map[string]*Session
}

func newConn(s *Server, wsConn *websocket.Conn) *Conn {
	c := &Conn{
		srv:      s,
		log:      logger.WithComponent("conn").With("remote", wsConn.RemoteAddr().String()),
		sessions: make(map[string]*Session),
	}

	mux := jsonrpc.NewMux()
	mux.Handle(acp.MethodInitialize, c.handleInitialize)
	mux.Handle(acp.MethodSessionNew, c.handleNewSession)
	mux.Handle(acp.MethodSessionPrompt, c.handlePrompt)
	mux.Handle(acp.MethodSetMode, c.handleSetMode)
	mux.Handle(acp.MethodSetModel, c.handleSetModel)
	mux.Handle(acp.MethodSetConfigOption, c.handleSetConfigOption)
	mux.HandleNotification(acp.MethodSessionCancel, c.handleCancel)
	// Editors send the setters as notifications; the request forms above
	// stay for callers that want the error back.
	mux.HandleNotification(acp.MethodSetMode, c.notification(acp.MethodSetMode, c.handleSetMode))
	mux.HandleNotification(acp.MethodSetModel, c.notification(acp.MethodSetModel, c.handleSetModel))
	mux.HandleNotification(acp.MethodSetConfigOption, c.notification(acp.MethodSetConfigOption, c.handleSetConfigOption))

	c.peer = ws.NewPeer(wsConn, ws.PeerOptions{
		Mux:          mux,
		OnResponse:   c.handleResponse,
		PingInterval: s.cfg.PingInterval(),
		Logger:       c.log,
	})
	c.proxy = toolproxy.New(&c.ids, c.peer)
	return c
}

// serve blocks until the connection drops, then tears down its sessions.
func (c *Conn) serve() {
	c.log.Info("editor connected")
	if err := c.peer.Run(); err != nil {
		c.log.Info("editor connection lost", "error", err)
	} else {
		c.log.Info("editor disconnected")
	}

	c.proxy.Evict()

	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for id, sess := range c.sessions {
		sessions = append(sessions, sess)
		delete(c.sessions, id)
	}
	c.mu.Unlock()

	for _, sess := range sessions {
		sess.close(acp.EndReasonDisconnected)
	}
	c.peer.Wait()
}

// Close drops the connection; serve does the cleanup.
func (c *Conn) Close() {
	_ = c.peer.Close()
}

// handleResponse routes a reply to the tool proxy. Only integer ids are
// ever issued, so anything else is unknown.
func (c *Conn) handleResponse(f *jsonrpc.Frame) {
	id, ok := f.IntID()
	if !ok {
		c.log.Debug("response with foreign id", "id", string(f.ID))
		return
	}
	var method string
	var found bool
	if f.Error != nil {
		method, found = c.proxy.HandleError(id, f.Error)
	} else {
		method, found = c.proxy.HandleResponse(id, f.Result)
	}
	if !found {
		c.log.Debug("response for unknown request", "id", id)
		return
	}
	if f.Error != nil {
		c.log.Warn("tool request failed", "id", id, "method", method, "code", f.Error.Code, "error", f.Error.Message)
	}
}

func (c *Conn) notify(method string, params any) {
	if err := c.peer.Notify(method, params); err != nil && !errors.Is(err, ws.ErrClosed) {
		c.log.Warn("failed to send notification", "method", method, "error", err)
	}
}

func (c *Conn) session(id string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return nil, errNotInitialized
	}
	sess, ok := c.sessions[id]
	if !ok {
		return nil, jsonrpc.NewError(jsonrpc.CodeNoActiveSession, "no active session: "+id)
	}
	return sess, nil
}

func (c *Conn) dropSession(sess *Session) {
	c.mu.Lock()
	delete(c.sessions, sess.id)
	c.mu.Unlock()
}

func (c *Conn) handleInitialize(ctx context.Context, raw json.RawMessage) (any, error) {
	var params acp.InitializeParams
	if err := jsonrpc.Bind(raw, &params); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.initialized = true
	c.caps = params.ClientCapabilities
	c.mu.Unlock()

	client := "unknown"
	if params.ClientInfo != nil {
		client = params.ClientInfo.Name
	}
	c.log.Info("initialize", "client", client, "protocolVersion", params.ProtocolVersion)

	return acp.InitializeResult{
		ProtocolVersion: acp.ProtocolVersion,
		AgentCapabilities: acp.AgentCapabilities{
			PromptCapabilities: acp.PromptCapabilities{EmbeddedContext: true},
		},
		AgentInfo:   &acp.Implementation{Name: "banjo", Version: c.srv.version},
		AuthMethods: []any{},
	}, nil
}

func (c *Conn) handleNewSession(ctx context.Context, raw json.RawMessage) (any, error) {
	var params acp.NewSessionParams
	if err := jsonrpc.Bind(raw, &params); err != nil {
		return nil, err
	}
	c.mu.Lock()
	initialized := c.initialized
	c.mu.Unlock()
	if !initialized {
		return nil, errNotInitialized
	}

	name := params.Engine
	if name == "" {
		name = c.srv.cfg.Agents.Default
	}
	engine, ok := acp.ParseEngine(name)
	if !ok {
		return nil, jsonrpc.NewInvalidParamsError(fmt.Sprintf("unknown engine %q", name))
	}
	cwd := params.CWD
	if cwd == "" {
		cwd = c.srv.dir
	}
	if !filepath.IsAbs(cwd) {
		return nil, jsonrpc.NewInvalidParamsError("cwd must be an absolute path")
	}

	sess, err := c.startSession(uuid.New().String(), engine, cwd)
	if err != nil {
		return nil, jsonrpc.NewInternalError(err.Error())
	}

	return acp.NewSessionResult{
		SessionID: sess.id,
		Modes: &acp.SessionModeState{
			CurrentModeID:  sess.Mode(),
			AvailableModes: acp.AvailableModes(),
		},
		Models: sess.modelState(),
		Engine: engine,
	}, nil
}

func (c *Conn) startSession(id string, engine acp.Engine, cwd string) (*Session, error) {
	agentCfg := c.srv.cfg.Agent(string(engine))
	mode := acp.NormalizeMode(agentCfg.Mode)
	if mode == "" {
		mode = acp.ModeDefault
	}

	sess := newSession(c, id, engine, cwd, mode, agentCfg.Model)
	a, err := c.srv.newAgent(engine, agent.Options{
		SessionID:   id,
		CWD:         cwd,
		Bin:         agentCfg.Bin,
		Args:        agentCfg.Args,
		Model:       agentCfg.Model,
		Mode:        mode,
		MCPURL:      fmt.Sprintf("http://127.0.0.1:%d/mcp/%s", c.srv.Port(), id),
		HookSocket:  c.srv.hooks.Path(),
		HookCommand: c.srv.cfg.Permissions.HookCommand,
		StopGrace:   c.srv.cfg.StopGrace(),
		Sink:        sess.onEvent,
		OnExit:      sess.onExit,
	})
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", engine, err)
	}
	sess.setAgent(a)

	c.mu.Lock()
	c.sessions[id] = sess
	c.mu.Unlock()
	c.srv.addSession(sess)

	sess.log.Info("session started", "engine", engine, "cwd", cwd, "mode", mode)
	return sess, nil
}

func (c *Conn) handlePrompt(ctx context.Context, raw json.RawMessage) (any, error) {
	var params acp.PromptParams
	if err := jsonrpc.Bind(raw, &params); err != nil {
		return nil, err
	}
	sess, err := c.session(params.SessionID)
	if err != nil {
		return nil, err
	}
	return sess.prompt(ctx, params.PromptText())
}

func (c *Conn) handleCancel(ctx context.Context, raw json.RawMessage) {
	var params acp.SessionRef
	if err := json.Unmarshal(raw, &params); err != nil {
		c.log.Warn("invalid session/cancel", "error", err)
		return
	}
	sess, err := c.session(params.SessionID)
	if err != nil {
		c.log.Debug("cancel for unknown session", "sessionID", params.SessionID)
		return
	}
	sess.cancel()
}

// notification adapts a request handler for use without an id. Failures
// have nowhere to go but the log.
func (c *Conn) notification(method string, h jsonrpc.Handler) jsonrpc.NotificationHandler {
	return func(ctx context.Context, raw json.RawMessage) {
		if _, err := h(ctx, raw); err != nil {
			c.log.Warn("notification failed", "method", method, "error", err)
		}
	}
}

func (c *Conn) handleSetMode(ctx context.Context, raw json.RawMessage) (any, error) {
	var params acp.SetModeParams
	if err := jsonrpc.Bind(raw, &params); err != nil {
		return nil, err
	}
	sess, err := c.session(params.SessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.setMode(params.ModeID); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (c *Conn) handleSetModel(ctx context.Context, raw json.RawMessage) (any, error) {
	var params acp.SetModelParams
	if err := jsonrpc.Bind(raw, &params); err != nil {
		return nil, err
	}
	sess, err := c.session(params.SessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.setModel(params.ModelID); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (c *Conn) handleSetConfigOption(ctx context.Context, raw json.RawMessage) (any, error) {
	var params acp.SetConfigOptionParams
	if err := jsonrpc.Bind(raw, &params); err != nil {
		return nil, err
	}
	if params.ConfigID == "" {
		return nil, jsonrpc.NewInvalidParamsError("configId is required")
	}
	sess, err := c.session(params.SessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.setConfigOption(params.ConfigID, params.Value); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}
