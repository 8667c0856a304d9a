// Package toolproxy issues host-bound requests on behalf of an agent and
// correlates the host's replies with them by request id.
//
// A Proxy belongs to one editor connection. Every operation records the
// request as pending before it is written and returns its id without waiting
// for the reply. Replies are matched strictly by id and remove the pending
// entry exactly once; replies for unknown ids are ignored.
package toolproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/banjo-dev/banjo/internal/acp"
	"github.com/banjo-dev/banjo/internal/jsonrpc"
	"github.com/banjo-dev/banjo/internal/logger"
	"github.com/banjo-dev/banjo/internal/metrics"
)

// Sender writes one encoded frame to the connection.
type Sender interface {
	Send(data []byte) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(data []byte) error

func (f SenderFunc) Send(data []byte) error { return f(data) }

// Proxy owns the pending set for one connection.
type Proxy struct {
	ids     *jsonrpc.IDGenerator
	out     Sender
	pending *jsonrpc.Pending
	log     *slog.Logger
}

// New returns a Proxy that draws ids from ids and writes frames to out.
func New(ids *jsonrpc.IDGenerator, out Sender) *Proxy {
	return &Proxy{
		ids:     ids,
		out:     out,
		pending: jsonrpc.NewPending(),
		log:     logger.WithComponent("toolproxy"),
	}
}

// Call issues method with params. cb, if set, runs once with the reply or
// with jsonrpc.ErrDisconnected on eviction.
func (p *Proxy) Call(method string, params any, cb jsonrpc.Callback) (int64, error) {
	id := p.ids.Next()
	data, err := jsonrpc.EncodeRequest(id, method, params)
	if err != nil {
		return 0, err
	}

	if err := p.pending.Add(id, method, cb); err != nil {
		return 0, err
	}
	metrics.PendingRequests.Inc()

	if err := p.out.Send(data); err != nil {
		if _, ok := p.pending.Remove(id); ok {
			metrics.PendingRequests.Dec()
		}
		return 0, fmt.Errorf("send %s: %w", method, err)
	}
	p.log.Debug("request sent", "id", id, "method", method)
	return id, nil
}

func (p *Proxy) ReadFile(params acp.ReadTextFileParams, cb jsonrpc.Callback) (int64, error) {
	return p.Call(acp.MethodReadTextFile, params, cb)
}

func (p *Proxy) WriteFile(params acp.WriteTextFileParams, cb jsonrpc.Callback) (int64, error) {
	return p.Call(acp.MethodWriteTextFile, params, cb)
}

// CreateTerminal starts a command on the host. The returned terminal is
// owned by the host and stays allocated until ReleaseTerminal.
func (p *Proxy) CreateTerminal(params acp.CreateTerminalParams, cb jsonrpc.Callback) (int64, error) {
	return p.Call(acp.MethodTerminalCreate, params, cb)
}

func (p *Proxy) TerminalOutput(sessionID, terminalID string, cb jsonrpc.Callback) (int64, error) {
	return p.Call(acp.MethodTerminalOutput, acp.TerminalRef{SessionID: sessionID, TerminalID: terminalID}, cb)
}

func (p *Proxy) WaitForExit(sessionID, terminalID string, cb jsonrpc.Callback) (int64, error) {
	return p.Call(acp.MethodTerminalWaitForExit, acp.TerminalRef{SessionID: sessionID, TerminalID: terminalID}, cb)
}

func (p *Proxy) KillTerminal(sessionID, terminalID string, cb jsonrpc.Callback) (int64, error) {
	return p.Call(acp.MethodTerminalKill, acp.TerminalRef{SessionID: sessionID, TerminalID: terminalID}, cb)
}

func (p *Proxy) ReleaseTerminal(sessionID, terminalID string, cb jsonrpc.Callback) (int64, error) {
	return p.Call(acp.MethodTerminalRelease, acp.TerminalRef{SessionID: sessionID, TerminalID: terminalID}, cb)
}

// RequestPermission forwards a permission request to the host.
func (p *Proxy) RequestPermission(params acp.RequestPermissionParams, cb jsonrpc.Callback) (int64, error) {
	return p.Call(acp.MethodRequestPermission, params, cb)
}

// HandleResponse resolves id with result and returns the method it was
// issued for. An id with no pending entry is a no-op reporting false.
func (p *Proxy) HandleResponse(id int64, result json.RawMessage) (string, bool) {
	method, ok := p.pending.Resolve(id, result, nil)
	if !ok {
		p.log.Debug("response for unknown request", "id", id)
		return "", false
	}
	metrics.PendingRequests.Dec()
	metrics.ToolRequests.WithLabelValues(method, "ok").Inc()
	return method, true
}

// HandleError resolves id with the host's error. Like HandleResponse it is
// a no-op for ids that are not pending.
func (p *Proxy) HandleError(id int64, rpcErr *jsonrpc.Error) (string, bool) {
	method, ok := p.pending.Resolve(id, nil, rpcErr)
	if !ok {
		p.log.Debug("error for unknown request", "id", id)
		return "", false
	}
	metrics.PendingRequests.Dec()
	metrics.ToolRequests.WithLabelValues(method, "error").Inc()
	p.log.Warn("tool request failed", "id", id, "method", method, "error", rpcErr)
	return method, true
}

// IsPending reports whether id awaits a reply.
func (p *Proxy) IsPending(id int64) bool {
	return p.pending.Has(id)
}

// Pending returns the outstanding requests as id to method.
func (p *Proxy) Pending() map[int64]string {
	return p.pending.Snapshot()
}

// Evict drops every outstanding request and resolves each callback with
// jsonrpc.ErrDisconnected. It is called once the connection is gone, since
// no reply can arrive after that.
func (p *Proxy) Evict() int {
	evicted := p.pending.EvictAll(jsonrpc.ErrDisconnected)
	for _, method := range evicted {
		metrics.ToolRequests.WithLabelValues(method, "evicted").Inc()
	}
	n := len(evicted)
	metrics.PendingRequests.Sub(float64(n))
	if n > 0 {
		p.log.Info("evicted pending requests", "count", n)
	}
	return n
}

// Do issues method and blocks until the reply arrives or ctx is done, then
// decodes the result into out (which may be nil). If ctx ends first the
// entry stays pending until its reply or the disconnect sweep removes it.
func (p *Proxy) Do(ctx context.Context, method string, params any, out any) error {
	type reply struct {
		result json.RawMessage
		err    error
	}
	ch := make(chan reply, 1)
	_, err := p.Call(method, params, func(result json.RawMessage, err error) {
		ch <- reply{result, err}
	})
	if err != nil {
		return err
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return r.err
		}
		if out == nil || len(r.result) == 0 {
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
