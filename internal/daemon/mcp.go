package daemon

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/banjo-dev/banjo/internal/acp"
)

type readFileArgs struct {
	Path  string `json:"path" jsonschema:"Absolute path of the file to read"`
	Line  *int   `json:"line,omitempty" jsonschema:"1-based line to start reading at"`
	Limit *int   `json:"limit,omitempty" jsonschema:"Maximum number of lines to return"`
}

type writeFileArgs struct {
	Path    string `json:"path" jsonschema:"Absolute path of the file to write"`
	Content string `json:"content" jsonschema:"Full new content of the file"`
}

type runCommandArgs struct {
	Command string   `json:"command" jsonschema:"Command to run. Without args it is run through sh -c"`
	Args    []string `json:"args,omitempty" jsonschema:"Arguments passed to the command"`
	CWD     string   `json:"cwd,omitempty" jsonschema:"Working directory; defaults to the session directory"`
	// TimeoutMs bounds the wait for the command to exit.
	TimeoutMs int `json:"timeout_ms,omitempty" jsonschema:"Kill the command after this many milliseconds"`
}

const defaultCommandTimeout = 2 * time.Minute

// mcpHandler serves the per-session MCP tool bridge at /mcp/{sessionId}.
// Tools run through the editor connection that owns the session.
func (s *Server) mcpHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		id := strings.TrimPrefix(r.URL.Path, "/mcp/")
		sess, ok := s.session(id)
		if !ok {
			s.log.Debug("mcp request for unknown session", "sessionID", id)
			return nil
		}
		return s.newMCPServer(sess)
	}, nil)
}

func (s *Server) newMCPServer(sess *Session) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "banjo",
		Version: s.version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "read_text_file",
		Description: "Read a text file through the editor, including unsaved changes.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args readFileArgs) (*mcp.CallToolResult, any, error) {
		var res acp.ReadTextFileResult
		err := sess.conn.proxy.Do(ctx, acp.MethodReadTextFile, acp.ReadTextFileParams{
			SessionID: sess.id,
			Path:      args.Path,
			Line:      args.Line,
			Limit:     args.Limit,
		}, &res)
		if err != nil {
			return toolError("read %s: %v", args.Path, err), nil, nil
		}
		return toolText(res.Content), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "write_text_file",
		Description: "Write a text file through the editor so it can track the change.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args writeFileArgs) (*mcp.CallToolResult, any, error) {
		err := sess.conn.proxy.Do(ctx, acp.MethodWriteTextFile, acp.WriteTextFileParams{
			SessionID: sess.id,
			Path:      args.Path,
			Content:   args.Content,
		}, nil)
		if err != nil {
			return toolError("write %s: %v", args.Path, err), nil, nil
		}
		return toolText(fmt.Sprintf("Wrote %d bytes to %s", len(args.Content), args.Path)), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "run_command",
		Description: "Run a command in an editor terminal and return its output and exit status.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args runCommandArgs) (*mcp.CallToolResult, any, error) {
		return sess.runCommand(ctx, args), nil, nil
	})

	return server
}

// runCommand drives create, wait_for_exit, output and release on the
// editor. The terminal is released even if waiting fails.
func (s *Session) runCommand(ctx context.Context, args runCommandArgs) *mcp.CallToolResult {
	if args.Command == "" {
		return toolError("command is required")
	}
	params := acp.CreateTerminalParams{
		SessionID: s.id,
		Command:   args.Command,
		Args:      args.Args,
		CWD:       args.CWD,
	}
	if len(args.Args) == 0 {
		params.Command = s.conn.srv.cfg.Terminal.Shell
		params.Args = []string{"-c", args.Command}
	}
	if params.CWD == "" {
		params.CWD = s.cwd
	}

	proxy := s.conn.proxy
	var created acp.CreateTerminalResult
	if err := proxy.Do(ctx, acp.MethodTerminalCreate, params, &created); err != nil {
		return toolError("start %s: %v", args.Command, err)
	}
	ref := acp.TerminalRef{SessionID: s.id, TerminalID: created.TerminalID}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := proxy.Do(releaseCtx, acp.MethodTerminalRelease, ref, nil); err != nil {
			s.log.Debug("terminal release failed", "terminalID", ref.TerminalID, "error", err)
		}
	}()

	timeout := defaultCommandTimeout
	if args.TimeoutMs > 0 {
		timeout = time.Duration(args.TimeoutMs) * time.Millisecond
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var status acp.TerminalExitStatus
	timedOut := false
	if err := proxy.Do(waitCtx, acp.MethodTerminalWaitForExit, ref, &status); err != nil {
		if waitCtx.Err() == nil {
			return toolError("wait for %s: %v", args.Command, err)
		}
		timedOut = true
		killCtx, cancelKill := context.WithTimeout(context.Background(), 5*time.Second)
		_ = proxy.Do(killCtx, acp.MethodTerminalKill, ref, nil)
		cancelKill()
	}

	outCtx, cancelOut := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelOut()
	var out acp.TerminalOutputResult
	if err := proxy.Do(outCtx, acp.MethodTerminalOutput, ref, &out); err != nil {
		return toolError("read output of %s: %v", args.Command, err)
	}

	var b strings.Builder
	if out.Truncated {
		b.WriteString("[output truncated]\n")
	}
	b.WriteString(out.Output)
	failed := timedOut
	switch {
	case timedOut:
		fmt.Fprintf(&b, "\n[timed out after %s]", timeout)
	case status.Signal != "":
		fmt.Fprintf(&b, "\n[killed by %s]", status.Signal)
		failed = true
	case status.ExitCode != nil:
		fmt.Fprintf(&b, "\n[exit code %d]", *status.ExitCode)
		failed = *status.ExitCode != 0
	}

	res := toolText(b.String())
	res.IsError = failed
	return res
}

func toolText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	res := toolText(fmt.Sprintf(format, args...))
	res.IsError = true
	return res
}
