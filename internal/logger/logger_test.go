package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWritesToFile(t *testing.T) {
	Reset()
	defer Reset()

	path := filepath.Join(t.TempDir(), "logs", "banjo.log")
	if err := Init(Options{Path: path, Level: "debug"}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	WithSession("sess-1").Debug("prompt started", "engine", "codex")
	WithComponent("daemon").Info("listening")
	Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	out := string(data)
	for _, want := range []string{"sessionID=sess-1", "engine=codex", "component=daemon", "msg=listening"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestSetLevel(t *testing.T) {
	Reset()
	defer Reset()

	tests := []struct {
		level   string
		wantErr bool
	}{
		{"debug", false},
		{"WARN", false},
		{"error", false},
		{"loud", true},
	}
	for _, tt := range tests {
		err := SetLevel(tt.level)
		if (err != nil) != tt.wantErr {
			t.Errorf("SetLevel(%q) error = %v, wantErr %v", tt.level, err, tt.wantErr)
		}
	}
}
