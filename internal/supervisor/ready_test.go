package supervisor

import "testing"

func TestParseReady(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		want   int
		wantOK bool
	}{
		{"plain", "ready:4312", 4312, true},
		{"plain with spaces", "  ready: 8080 \r", 8080, true},
		{"json port", `{"jsonrpc":"2.0","method":"ready","params":{"port":9000}}`, 9000, true},
		{"json mcp_port", `{"method":"ready","params":{"mcp_port":9001}}`, 9001, true},
		{"port wins over mcp_port", `{"method":"ready","params":{"port":1,"mcp_port":2}}`, 1, true},
		{"log line", "2024/01/01 listening on 127.0.0.1", 0, false},
		{"other notification", `{"method":"log","params":{"port":9000}}`, 0, false},
		{"bad port", "ready:abc", 0, false},
		{"out of range", "ready:70000", 0, false},
		{"json without port", `{"method":"ready","params":{}}`, 0, false},
		{"broken json", `{"method":"ready"`, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseReady(tt.line)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseReady(%q) = %d, %v, want %d, %v", tt.line, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestReadyLineParses(t *testing.T) {
	port, ok := ParseReady(ReadyLine(5123))
	if !ok || port != 5123 {
		t.Errorf("ParseReady(ReadyLine(5123)) = %d, %v", port, ok)
	}
}
