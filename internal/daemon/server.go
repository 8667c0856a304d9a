// Package daemon is the long-running ACP bridge. It accepts editor
// connections on /acp, runs one agent CLI per session and proxies the
// agents' file, terminal and permission needs back to the editor.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/banjo-dev/banjo/internal/acp"
	"github.com/banjo-dev/banjo/internal/agent"
	"github.com/banjo-dev/banjo/internal/config"
	"github.com/banjo-dev/banjo/internal/discovery"
	"github.com/banjo-dev/banjo/internal/hooks"
	"github.com/banjo-dev/banjo/internal/logger"
	"github.com/banjo-dev/banjo/internal/metrics"
	"github.com/banjo-dev/banjo/internal/permission"
	"github.com/banjo-dev/banjo/internal/supervisor"
)

// AgentFactory builds the agent for a new session.
type AgentFactory func(engine acp.Engine, opts agent.Options) (agent.Agent, error)

// Options configures a Server.
type Options struct {
	Config *config.Config
	// Dir is the project directory; the lockfile is written here and it is
	// the default session cwd.
	Dir string
	// Stdout receives the ready announcement.
	Stdout io.Writer
	// NewAgent defaults to agent.New.
	NewAgent AgentFactory
	Version  string
}

// Server owns the listener, the hook socket and every live session.
type Server struct {
	cfg      *config.Config
	dir      string
	stdout   io.Writer
	newAgent AgentFactory
	version  string
	log      *slog.Logger

	upgrader websocket.Upgrader
	ln       net.Listener
	httpSrv  *http.Server
	hooks    *hooks.Server
	policy   *permission.Policy

	mu       sync.Mutex
	conns    map[*Conn]struct{}
	sessions map[string]*Session
	// agent session or thread id -> ACP session id
	agentSessions map[string]string
}

func New(opts Options) *Server {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	newAgent := opts.NewAgent
	if newAgent == nil {
		newAgent = agent.New
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	s := &Server{
		cfg:      cfg,
		dir:      opts.Dir,
		stdout:   stdout,
		newAgent: newAgent,
		version:  opts.Version,
		log:      logger.WithComponent("daemon"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Only loopback clients can reach the listener.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		policy:        permission.NewPolicy(),
		conns:         make(map[*Conn]struct{}),
		sessions:      make(map[string]*Session),
		agentSessions: make(map[string]string),
	}
	s.hooks = hooks.NewServer(cfg.Permissions.SocketPath, cfg.HookTimeout(), s.decidePermission)
	return s
}

// Listen binds the HTTP listener on loopback and the hook socket.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(s.cfg.Daemon.Port)))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if err := s.hooks.Listen(); err != nil {
		ln.Close()
		return err
	}
	s.ln = ln
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// Port returns the bound port. Listen must have succeeded.
func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Handler routes the daemon's HTTP surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/acp", s.handleACP)
	mux.Handle("/mcp/", s.mcpHandler())
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Run serves until ctx is done, then shuts everything down. Listen must be
// called first.
func (s *Server) Run(ctx context.Context) error {
	port := s.Port()

	lockPath, err := discovery.WriteLockfile(s.dir, discovery.Lock{Port: port, PID: os.Getpid()})
	if err != nil {
		return fmt.Errorf("write lockfile: %w", err)
	}
	defer func() {
		if err := discovery.RemoveLockfile(lockPath, os.Getpid()); err != nil {
			s.log.Warn("failed to remove lockfile", "path", lockPath, "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.httpSrv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return s.hooks.Serve(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		s.shutdown()
		return nil
	})

	if err := s.announce(port); err != nil {
		s.log.Warn("failed to announce ready", "error", err)
	}
	s.log.Info("daemon listening", "port", port, "dir", s.dir, "lockfile", lockPath, "hookSocket", s.hooks.Path())

	return g.Wait()
}

// announce prints both ready forms so older and newer clients find the port.
func (s *Server) announce(port int) error {
	note, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  acp.MethodReady,
		"params":  acp.ReadyParams{Port: port},
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(s.stdout, "%s\n%s\n", supervisor.ReadyLine(port), note)
	return err
}

func (s *Server) shutdown() {
	s.log.Info("daemon shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("http shutdown", "error", err)
	}

	// Hijacked websockets are not closed by Shutdown.
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func (s *Server) handleACP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newConn(s, wsConn)
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	metrics.Connections.Inc()

	c.serve()

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	metrics.Connections.Dec()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	status := map[string]any{
		"status":      "ok",
		"version":     s.version,
		"pid":         os.Getpid(),
		"connections": len(s.conns),
		"sessions":    len(s.sessions),
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func (s *Server) addSession(sess *Session) {
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	metrics.Sessions.WithLabelValues(string(sess.engine)).Inc()
}

// removeSession forgets a session. It reports false if it was already gone.
func (s *Server) removeSession(sess *Session) bool {
	s.mu.Lock()
	_, ok := s.sessions[sess.id]
	delete(s.sessions, sess.id)
	for agentID, id := range s.agentSessions {
		if id == sess.id {
			delete(s.agentSessions, agentID)
		}
	}
	s.mu.Unlock()
	if ok {
		metrics.Sessions.WithLabelValues(string(sess.engine)).Dec()
		s.policy.Forget(sess.id)
	}
	return ok
}

func (s *Server) session(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *Server) bindAgentSession(agentSessionID, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentSessions[agentSessionID] = sessionID
}

// sessionForHook finds the session a hook request belongs to: by the ACP
// session id the hook inherited, else by the agent's own session id.
func (s *Server) sessionForHook(req hooks.Request) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[req.BanjoSessionID]; ok {
		return sess, true
	}
	if id, ok := s.agentSessions[req.SessionID]; ok {
		sess, ok := s.sessions[id]
		return sess, ok
	}
	return nil, false
}
