package hooks

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banjo-dev/banjo/internal/logger"
)

func TestMain(m *testing.M) {
	logger.Reset()
	logger.Discard()

	code := m.Run()

	logger.Reset()
	os.Exit(code)
}

func startServer(t *testing.T, timeout time.Duration, h Handler) *Server {
	t.Helper()
	// Unix socket paths have a short length limit, so avoid t.TempDir's long names.
	dir, err := os.MkdirTemp("", "bj")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	s := NewServer(filepath.Join(dir, "perm.sock"), timeout, h)
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Serve(ctx)
	return s
}

func TestAskRoundTrip(t *testing.T) {
	var got Request
	s := startServer(t, 5*time.Second, func(ctx context.Context, req Request) (Response, error) {
		got = req
		return Response{Decision: DecisionDeny, Message: "not in this repo"}, nil
	})

	resp, err := Ask(s.Path(), Request{
		ToolName:       "Bash",
		ToolInput:      json.RawMessage(`{"command":"rm -rf /"}`),
		ToolUseID:      "tu1",
		SessionID:      "claude-1",
		BanjoSessionID: "s1",
	}, 5*time.Second)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if resp.Decision != DecisionDeny || resp.Message != "not in this repo" {
		t.Errorf("Ask() = %+v", resp)
	}
	if got.ToolName != "Bash" || got.BanjoSessionID != "s1" || got.ApprovalID == "" {
		t.Errorf("handler saw %+v", got)
	}
	if s.Pending() != 0 {
		t.Errorf("Pending() = %d after answer", s.Pending())
	}
}

func TestAskTimesOutToAsk(t *testing.T) {
	s := startServer(t, 50*time.Millisecond, func(ctx context.Context, req Request) (Response, error) {
		<-ctx.Done()
		return Response{}, ctx.Err()
	})

	resp, err := Ask(s.Path(), Request{ToolName: "Write"}, 5*time.Second)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if resp.Decision != DecisionAsk {
		t.Errorf("Decision = %q, want ask", resp.Decision)
	}
}

func TestAskNoDaemon(t *testing.T) {
	if _, err := Ask(filepath.Join(t.TempDir(), "missing.sock"), Request{}, time.Second); err == nil {
		t.Error("Ask() error = nil with no socket")
	}
}

func TestClaudeOutput(t *testing.T) {
	tests := []struct {
		name   string
		resp   Response
		want   string
		wantOK bool
	}{
		{"allow", Response{Decision: "allow"}, `{"hookSpecificOutput":{"decision":{"behavior":"allow"},"hookEventName":"PermissionRequest"}}`, true},
		{"deny default message", Response{Decision: "deny"}, `{"hookSpecificOutput":{"decision":{"behavior":"deny","message":"Permission denied by user"},"hookEventName":"PermissionRequest"}}`, true},
		{"deny message", Response{Decision: "deny", Message: "no"}, `{"hookSpecificOutput":{"decision":{"behavior":"deny","message":"no"},"hookEventName":"PermissionRequest"}}`, true},
		{"ask", Response{Decision: "ask"}, "", false},
		{"unknown", Response{Decision: "maybe"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, ok := ClaudeOutput(tt.resp)
			if ok != tt.wantOK || string(out) != tt.want {
				t.Errorf("ClaudeOutput() = %s, %v, want %s, %v", out, ok, tt.want, tt.wantOK)
			}
		})
	}
}
