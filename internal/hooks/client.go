package hooks

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Environment variables read by the hook command.
const (
	EnvSocket    = "BANJO_PERMISSION_SOCKET"
	EnvSessionID = "BANJO_SESSION_ID"
)

const defaultDenyMessage = "Permission denied by user"

// Ask sends req to the daemon socket and waits up to timeout for its answer.
func Ask(socketPath string, req Request, timeout time.Duration) (Response, error) {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return Response{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	data, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("invalid response: %w", err)
	}
	if resp.Decision == "" {
		resp.Decision = DecisionAsk
	}
	return resp, nil
}

// ClaudeOutput renders resp as Claude's PermissionRequest hook output. It
// reports false for "ask" and unknown decisions, which the hook expresses by
// printing nothing.
func ClaudeOutput(resp Response) ([]byte, bool) {
	var decision map[string]string
	switch resp.Decision {
	case DecisionAllow:
		decision = map[string]string{"behavior": "allow"}
	case DecisionDeny:
		msg := resp.Message
		if msg == "" {
			msg = defaultDenyMessage
		}
		decision = map[string]string{"behavior": "deny", "message": msg}
	default:
		return nil, false
	}

	out, err := json.Marshal(map[string]any{
		"hookSpecificOutput": map[string]any{
			"hookEventName": "PermissionRequest",
			"decision":      decision,
		},
	})
	if err != nil {
		return nil, false
	}
	return out, true
}
