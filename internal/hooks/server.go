// Package hooks serves the permission hook socket. The agent's hook command
// connects, sends one request line and blocks until the daemon answers with
// one decision line.
package hooks

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banjo-dev/banjo/internal/logger"
)

// Decisions carried in Response.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
	DecisionAsk   = "ask"
)

// Request is what the hook command sends.
type Request struct {
	ToolName  string          `json:"tool_name"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
	ToolUseID string          `json:"tool_use_id"`
	// SessionID is the agent's own session id.
	SessionID string `json:"session_id"`
	// BanjoSessionID is the ACP session, taken from the hook's environment.
	BanjoSessionID string `json:"banjo_session_id,omitempty"`

	ApprovalID string `json:"-"`
}

// Response is the daemon's answer.
type Response struct {
	Decision string `json:"decision"`
	Message  string `json:"message,omitempty"`
}

// Handler decides a request. It may block until the user answers.
type Handler func(ctx context.Context, req Request) (Response, error)

// Server listens on a Unix socket for hook requests.
type Server struct {
	path    string
	handler Handler
	timeout time.Duration
	log     *slog.Logger

	ln net.Listener

	// Pending approvals waiting for decisions
	pending map[string]chan Response
	mu      sync.Mutex
}

// NewServer returns a server for the socket at path. Requests not decided
// within timeout are answered "ask" so the agent falls back to its own
// prompt.
func NewServer(path string, timeout time.Duration, handler Handler) *Server {
	return &Server{
		path:    path,
		handler: handler,
		timeout: timeout,
		log:     logger.WithComponent("hooks"),
		pending: make(map[string]chan Response),
	}
}

// Path returns the socket path.
func (s *Server) Path() string {
	return s.path
}

// Listen binds the socket, replacing a stale one.
func (s *Server) Listen() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0600); err != nil {
		ln.Close()
		return fmt.Errorf("chmod %s: %w", s.path, err)
	}
	s.ln = ln
	s.log.Info("permission hook socket listening", "path", s.path)
	return nil
}

// Serve accepts connections until ctx is done. Listen must be called first.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				_ = os.Remove(s.path)
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		s.log.Warn("failed to read hook request", "error", err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.log.Warn("invalid hook request", "error", err)
		s.writeResponse(conn, Response{Decision: DecisionAsk})
		return
	}

	resp := s.await(ctx, req)
	s.writeResponse(conn, resp)
}

// await registers the request, runs the handler and waits for its decision.
func (s *Server) await(ctx context.Context, req Request) Response {
	approvalID := uuid.New().String()
	req.ApprovalID = approvalID

	decisionCh := make(chan Response, 1)
	s.mu.Lock()
	s.pending[approvalID] = decisionCh
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, approvalID)
		s.mu.Unlock()
	}()

	hctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if s.handler != nil {
		go func() {
			resp, err := s.handler(hctx, req)
			if err != nil {
				s.log.Warn("permission handler failed", "tool", req.ToolName, "error", err)
				resp = Response{Decision: DecisionAsk}
			}
			s.DeliverDecision(approvalID, resp)
		}()
	}

	select {
	case resp := <-decisionCh:
		return resp
	case <-hctx.Done():
		s.log.Info("permission request timed out", "tool", req.ToolName, "approvalID", approvalID)
		return Response{Decision: DecisionAsk}
	}
}

// DeliverDecision delivers a decision to a waiting hook request.
func (s *Server) DeliverDecision(approvalID string, resp Response) bool {
	s.mu.Lock()
	ch, ok := s.pending[approvalID]
	s.mu.Unlock()

	if !ok {
		return false
	}

	select {
	case ch <- resp:
		return true
	default:
		return false
	}
}

// Pending returns the number of requests awaiting a decision.
func (s *Server) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write(append(data, '\n')); err != nil {
		s.log.Debug("failed to write hook response", "error", err)
	}
}
