package agent

import (
	"encoding/json"
	"strings"

	"github.com/banjo-dev/banjo/internal/acp"
)

// ToolKind maps a Claude tool name to an ACP tool kind.
func ToolKind(name string) string {
	switch name {
	case "Read", "NotebookRead", "LS":
		return acp.ToolKindRead
	case "Write", "Edit", "MultiEdit", "NotebookEdit":
		return acp.ToolKindEdit
	case "Bash", "BashOutput", "KillShell":
		return acp.ToolKindExecute
	case "Grep", "Glob":
		return acp.ToolKindSearch
	case "WebFetch", "WebSearch":
		return acp.ToolKindFetch
	case "Task", "TodoWrite", "ExitPlanMode":
		return acp.ToolKindThink
	}
	if strings.HasPrefix(name, "mcp__") {
		return ToolKind(mcpToolBase(name))
	}
	return acp.ToolKindOther
}

func mcpToolBase(name string) string {
	parts := strings.Split(name, "__")
	switch parts[len(parts)-1] {
	case "read_text_file":
		return "Read"
	case "write_text_file":
		return "Write"
	case "run_command":
		return "Bash"
	}
	return ""
}

// ToolTitle builds a short human title from the tool name and its input.
func ToolTitle(name string, input json.RawMessage) string {
	var in struct {
		FilePath string `json:"file_path"`
		Path     string `json:"path"`
		Command  string `json:"command"`
		Pattern  string `json:"pattern"`
		URL      string `json:"url"`
		Query    string `json:"query"`
	}
	_ = json.Unmarshal(input, &in)

	detail := firstNonEmpty(in.FilePath, in.Path, in.Command, in.Pattern, in.URL, in.Query)
	if detail == "" {
		return name
	}
	if len(detail) > 80 {
		detail = detail[:77] + "..."
	}
	return name + ": " + detail
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// resultText flattens tool result content, which is either a string or a
// list of content blocks.
func resultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var b strings.Builder
	for _, block := range blocks {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}
