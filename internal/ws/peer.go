// Package ws carries JSON-RPC frames over a WebSocket. A Peer is symmetric:
// the daemon wraps each accepted connection in one and the client wraps its
// dialed connection in another.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banjo-dev/banjo/internal/jsonrpc"
	"github.com/banjo-dev/banjo/internal/logger"
	"github.com/banjo-dev/banjo/internal/metrics"
)

// Timeouts.
const (
	writeWait      = 10 * time.Second
	maxMessageSize = 16 << 20
)

// ErrClosed is returned by Send after the peer has shut down.
var ErrClosed = errors.New("connection closed")

// ResponseHandler receives response frames; they are never dispatched to
// the Mux.
type ResponseHandler func(f *jsonrpc.Frame)

// PeerOptions configures a Peer.
type PeerOptions struct {
	Mux        *jsonrpc.Mux
	OnResponse ResponseHandler
	// PingInterval enables keepalive pings. A peer that sends no pong
	// within two intervals is dropped.
	PingInterval time.Duration
	Logger       *slog.Logger
}

// Peer reads frames on one goroutine and serializes writes. Inbound
// requests run on their own goroutines, so responses may go out in any
// order.
type Peer struct {
	conn       *websocket.Conn
	mux        *jsonrpc.Mux
	onResponse ResponseHandler
	ping       time.Duration
	log        *slog.Logger

	writeMu sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	handlers  sync.WaitGroup
}

func NewPeer(conn *websocket.Conn, opts PeerOptions) *Peer {
	mux := opts.Mux
	if mux == nil {
		mux = jsonrpc.NewMux()
	}
	log := opts.Logger
	if log == nil {
		log = logger.WithComponent("ws")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Peer{
		conn:       conn,
		mux:        mux,
		onResponse: opts.OnResponse,
		ping:       opts.PingInterval,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Context is cancelled when the peer closes. Inbound handlers receive it.
func (p *Peer) Context() context.Context {
	return p.ctx
}

// Done is closed when the peer closes.
func (p *Peer) Done() <-chan struct{} {
	return p.ctx.Done()
}

// Send writes one encoded request frame.
func (p *Peer) Send(data []byte) error {
	return p.write(jsonrpc.KindRequest, data)
}

func (p *Peer) write(kind jsonrpc.Kind, data []byte) error {
	if p.ctx.Err() != nil {
		return ErrClosed
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	metrics.Frames.WithLabelValues("out", kind.String()).Inc()
	return nil
}

// Notify encodes and sends a notification.
func (p *Peer) Notify(method string, params any) error {
	data, err := jsonrpc.EncodeNotification(method, params)
	if err != nil {
		return err
	}
	return p.write(jsonrpc.KindNotification, data)
}

// Run reads frames until the connection fails or Close is called. It
// always closes the peer before returning.
func (p *Peer) Run() error {
	defer p.Close()

	p.conn.SetReadLimit(maxMessageSize)
	if p.ping > 0 {
		pongWait := 2 * p.ping
		_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
		p.conn.SetPongHandler(func(string) error {
			return p.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		go p.pingLoop()
	}

	for {
		_, message, err := p.conn.ReadMessage()
		if err != nil {
			if p.ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		p.dispatch(message)
	}
}

func (p *Peer) dispatch(message []byte) {
	f, err := jsonrpc.Decode(message)
	if err != nil {
		metrics.Frames.WithLabelValues("in", "invalid").Inc()
		p.log.Warn("dropping undecodable frame", "error", err)
		rpcErr := jsonrpc.NewParseError("Parse error")
		if json.Valid(message) {
			rpcErr = jsonrpc.NewInvalidRequestError("Invalid Request")
		}
		p.sendError(nil, rpcErr)
		return
	}
	metrics.Frames.WithLabelValues("in", f.Kind.String()).Inc()

	switch f.Kind {
	case jsonrpc.KindRequest:
		p.handlers.Add(1)
		go func() {
			defer p.handlers.Done()
			resp := p.mux.ServeRequest(p.ctx, f)
			countErrorResponse(resp)
			if err := p.write(jsonrpc.KindResponse, resp); err != nil && !errors.Is(err, ErrClosed) {
				p.log.Warn("failed to send response", "method", f.Method, "error", err)
			}
		}()
	case jsonrpc.KindNotification:
		if !p.mux.ServeNotification(p.ctx, f) {
			p.log.Debug("unhandled notification", "method", f.Method)
		}
	case jsonrpc.KindResponse:
		if p.onResponse != nil {
			p.onResponse(f)
		}
	}
}

func (p *Peer) sendError(id json.RawMessage, rpcErr *jsonrpc.Error) {
	data, err := jsonrpc.EncodeResponse(id, nil, rpcErr)
	if err != nil {
		return
	}
	metrics.ProtocolErrors.WithLabelValues(strconv.Itoa(rpcErr.Code)).Inc()
	_ = p.write(jsonrpc.KindResponse, data)
}

func (p *Peer) pingLoop() {
	ticker := time.NewTicker(p.ping)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				p.log.Debug("ping failed", "error", err)
				p.Close()
				return
			}
		}
	}
}

// Close sends a close frame and tears the connection down. Inbound
// handlers see their context cancelled.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.cancel()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = p.conn.Close()
	})
	return err
}

// Wait blocks until in-flight inbound handlers return.
func (p *Peer) Wait() {
	p.handlers.Wait()
}

func countErrorResponse(data []byte) {
	var resp struct {
		Error *struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &resp) != nil || resp.Error == nil {
		return
	}
	metrics.ProtocolErrors.WithLabelValues(strconv.Itoa(resp.Error.Code)).Inc()
}
