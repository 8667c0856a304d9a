// Package client is the editor side of the bridge: it finds or starts the
// daemon, speaks ACP to it and serves the daemon's tool requests locally.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/banjo-dev/banjo/internal/acp"
	"github.com/banjo-dev/banjo/internal/discovery"
	"github.com/banjo-dev/banjo/internal/jsonrpc"
	"github.com/banjo-dev/banjo/internal/logger"
	"github.com/banjo-dev/banjo/internal/permission"
	"github.com/banjo-dev/banjo/internal/session"
	"github.com/banjo-dev/banjo/internal/ws"
)

// ErrNotConnected is returned for calls made while no connection is up.
var ErrNotConnected = errors.New("not connected to daemon")

// Host serves the daemon's fs, terminal and permission requests.
type Host interface {
	Register(mux *jsonrpc.Mux, negotiator *permission.Negotiator)
}

// Options configures a Client.
type Options struct {
	// URL skips discovery when set.
	URL       string
	Discovery discovery.Options

	Host     Host
	Prompter permission.Prompter

	ClientInfo acp.Implementation
	// Reconnect re-dials with Backoff after the connection drops.
	Reconnect bool
	Backoff   []time.Duration

	OnUpdate func(acp.SessionNotification, session.Change)
	OnEnd    func(acp.SessionEndParams)
	// OnReconnect runs after a dropped connection is re-established and
	// initialized. The previous session is gone by then.
	OnReconnect func()
}

// Client is one editor connection to the daemon.
type Client struct {
	opts    Options
	machine *session.Machine
	mux     *jsonrpc.Mux
	log     *slog.Logger

	// ids outlives individual connections so request ids are never reused.
	ids     jsonrpc.IDGenerator
	pending *jsonrpc.Pending

	mu       sync.Mutex
	peer     *ws.Peer
	endpoint discovery.Endpoint

	ctx    context.Context
	cancel context.CancelFunc
}

// Dial resolves the daemon, connects and runs initialize.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	c := New(opts)
	if err := c.connect(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// New returns an unconnected client. Most callers want Dial.
func New(opts Options) *Client {
	if opts.ClientInfo.Name == "" {
		opts.ClientInfo = acp.Implementation{Name: "banjo-client"}
	}
	c := &Client{
		opts:    opts,
		machine: session.NewMachine(),
		mux:     jsonrpc.NewMux(),
		log:     logger.WithComponent("client"),
		pending: jsonrpc.NewPending(),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.mux.HandleNotification(acp.MethodSessionUpdate, c.handleUpdate)
	c.mux.HandleNotification(acp.MethodSessionEnd, c.handleEnd)
	if opts.Host != nil {
		opts.Host.Register(c.mux, permission.NewNegotiator(opts.Prompter))
	} else if opts.Prompter != nil {
		c.mux.Handle(acp.MethodRequestPermission, permission.NewNegotiator(opts.Prompter).Handler())
	}
	return c
}

// Machine exposes the connection and session state.
func (c *Client) Machine() *session.Machine {
	return c.machine
}

func (c *Client) State() session.State {
	return c.machine.State()
}

// Endpoint returns the daemon the client last connected to.
func (c *Client) Endpoint() discovery.Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

func (c *Client) resolve(ctx context.Context) (discovery.Endpoint, error) {
	if c.opts.URL != "" {
		return discovery.Endpoint{URL: c.opts.URL}, nil
	}
	return discovery.Resolve(ctx, c.opts.Discovery)
}

// connect dials and initializes. The machine goes Connecting, then
// Initialized; on failure it is closed.
func (c *Client) connect(ctx context.Context) error {
	if err := c.machine.BeginConnect(); err != nil {
		return err
	}

	ep, err := c.resolve(ctx)
	if err != nil {
		c.machine.Close(acp.EndReasonDisconnected)
		return err
	}
	conn, err := ws.Dial(ctx, ep.URL)
	if err != nil {
		c.machine.Close(acp.EndReasonDisconnected)
		return err
	}

	peer := ws.NewPeer(conn, ws.PeerOptions{
		Mux:        c.mux,
		OnResponse: c.handleResponse,
		Logger:     c.log,
	})
	c.mu.Lock()
	c.peer = peer
	c.endpoint = ep
	c.mu.Unlock()
	go c.run(peer)

	if _, err := c.Initialize(ctx); err != nil {
		// Detach first so run does not treat this as a dropped session.
		c.mu.Lock()
		if c.peer == peer {
			c.peer = nil
		}
		c.mu.Unlock()
		_ = peer.Close()
		c.pending.EvictAll(jsonrpc.ErrDisconnected)
		c.machine.Close(acp.EndReasonDisconnected)
		return fmt.Errorf("initialize: %w", err)
	}
	c.log.Info("connected to daemon", "url", ep.URL, "spawned", ep.Spawned)
	return nil
}

func (c *Client) run(peer *ws.Peer) {
	err := peer.Run()

	c.mu.Lock()
	current := c.peer == peer
	if current {
		c.peer = nil
	}
	c.mu.Unlock()
	if !current {
		return
	}

	if evicted := c.pending.EvictAll(jsonrpc.ErrDisconnected); len(evicted) > 0 {
		c.log.Info("failed outstanding calls", "count", len(evicted))
	}
	c.machine.Close(acp.EndReasonDisconnected)

	if c.ctx.Err() != nil {
		return
	}
	c.log.Warn("daemon connection lost", "error", err)
	if c.opts.Reconnect {
		go c.reconnect()
	}
}

func (c *Client) reconnect() {
	b := ws.NewBackoff(c.opts.Backoff)
	err := ws.Retry(c.ctx, b, func(ctx context.Context) error {
		c.log.Info("reconnecting", "attempt", b.Attempt())
		attemptCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := c.connect(attemptCtx); err != nil {
			c.log.Debug("reconnect failed", "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		return
	}
	c.log.Info("reconnected")
	if c.opts.OnReconnect != nil {
		c.opts.OnReconnect()
	}
}

// Close drops the connection and stops reconnecting.
func (c *Client) Close() error {
	c.cancel()
	c.mu.Lock()
	peer := c.peer
	c.mu.Unlock()
	if peer != nil {
		return peer.Close()
	}
	return nil
}

// Done is closed once Close has been called.
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Client) handleResponse(f *jsonrpc.Frame) {
	id, ok := f.IntID()
	if !ok {
		return
	}
	var err error
	if f.Error != nil {
		err = f.Error
	}
	if _, found := c.pending.Resolve(id, f.Result, err); !found {
		c.log.Debug("response for unknown request", "id", id)
	}
}

// call sends a request and waits for its reply. If ctx ends first the
// entry stays until its reply or the disconnect sweep.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	c.mu.Lock()
	peer := c.peer
	c.mu.Unlock()
	if peer == nil {
		return ErrNotConnected
	}

	id := c.ids.Next()
	data, err := jsonrpc.EncodeRequest(id, method, params)
	if err != nil {
		return err
	}

	type reply struct {
		result json.RawMessage
		err    error
	}
	ch := make(chan reply, 1)
	if err := c.pending.Add(id, method, func(result json.RawMessage, err error) {
		ch <- reply{result, err}
	}); err != nil {
		return err
	}
	if err := peer.Send(data); err != nil {
		c.pending.Remove(id)
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return r.err
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(r.result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) notify(method string, params any) error {
	c.mu.Lock()
	peer := c.peer
	c.mu.Unlock()
	if peer == nil {
		return ErrNotConnected
	}
	return peer.Notify(method, params)
}
