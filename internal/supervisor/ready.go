package supervisor

import (
	"encoding/json"
	"strconv"
	"strings"
)

const readyPrefix = "ready:"

// ParseReady recognizes a daemon ready announcement. Two forms are accepted:
//
//	ready:<port>
//	{"method":"ready","params":{"port":N}}   (or "mcp_port")
//
// Any other line, including log output, reports false.
func ParseReady(line string) (int, bool) {
	line = strings.TrimSpace(line)

	if rest, ok := strings.CutPrefix(line, readyPrefix); ok {
		port, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil || !validPort(port) {
			return 0, false
		}
		return port, true
	}

	if !strings.HasPrefix(line, "{") {
		return 0, false
	}
	var msg struct {
		Method string `json:"method"`
		Params struct {
			Port    int `json:"port"`
			MCPPort int `json:"mcp_port"`
		} `json:"params"`
	}
	if err := json.Unmarshal([]byte(line), &msg); err != nil || msg.Method != "ready" {
		return 0, false
	}
	port := msg.Params.Port
	if port == 0 {
		port = msg.Params.MCPPort
	}
	if !validPort(port) {
		return 0, false
	}
	return port, true
}

// ReadyLine formats the plain ready announcement.
func ReadyLine(port int) string {
	return readyPrefix + strconv.Itoa(port)
}

func validPort(p int) bool {
	return p > 0 && p < 65536
}
