package permission

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/banjo-dev/banjo/internal/acp"
	"github.com/banjo-dev/banjo/internal/jsonrpc"
	"github.com/banjo-dev/banjo/internal/logger"
)

func TestMain(m *testing.M) {
	logger.Reset()
	logger.Discard()

	code := m.Run()

	logger.Reset()
	os.Exit(code)
}

func TestEmptyOptionsGetDefaults(t *testing.T) {
	var seen []acp.PermissionOption
	n := NewNegotiator(PrompterFunc(func(ctx context.Context, p Prompt) (string, bool, error) {
		seen = p.Options
		return "", false, nil
	}))

	n.Resolve(context.Background(), acp.RequestPermissionParams{
		SessionID: "s1",
		ToolCall:  acp.ToolCallRef{ToolCallID: "tc1", Title: "Run ls"},
	})

	wantIDs := []string{"allow_once", "allow_always", "reject_once", "reject_always"}
	wantNames := []string{"Allow", "Allow for session", "Deny", "Deny for session"}
	if len(seen) != len(wantIDs) {
		t.Fatalf("options = %+v, want 4 defaults", seen)
	}
	for i, opt := range seen {
		if opt.OptionID != wantIDs[i] || opt.Kind != wantIDs[i] || opt.Name != wantNames[i] {
			t.Errorf("option %d = %+v, want %s %q", i, opt, wantIDs[i], wantNames[i])
		}
	}
}

func TestResolveOutcomes(t *testing.T) {
	offered := []acp.PermissionOption{
		{OptionID: "yes", Name: "Yes", Kind: AllowOnce},
		{OptionID: "no", Name: "No", Kind: RejectOnce},
	}

	tests := []struct {
		name     string
		prompter Prompter
		want     acp.PermissionOutcome
	}{
		{"selected", PrompterFunc(func(context.Context, Prompt) (string, bool, error) {
			return "yes", true, nil
		}), acp.PermissionOutcome{Outcome: "selected", OptionID: "yes"}},
		{"declined", PrompterFunc(func(context.Context, Prompt) (string, bool, error) {
			return "", false, nil
		}), acp.PermissionOutcome{Outcome: "cancelled"}},
		{"prompter error", PrompterFunc(func(context.Context, Prompt) (string, bool, error) {
			return "yes", true, errors.New("tty closed")
		}), acp.PermissionOutcome{Outcome: "cancelled"}},
		{"unknown option", PrompterFunc(func(context.Context, Prompt) (string, bool, error) {
			return "maybe", true, nil
		}), acp.PermissionOutcome{Outcome: "cancelled"}},
		{"no prompter", nil, acp.PermissionOutcome{Outcome: "cancelled"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewNegotiator(tt.prompter).Resolve(context.Background(), acp.RequestPermissionParams{
				SessionID: "s1",
				ToolCall:  acp.ToolCallRef{ToolCallID: "tc1"},
				Options:   offered,
			})
			if got.Outcome != tt.want {
				t.Errorf("Resolve() = %+v, want %+v", got.Outcome, tt.want)
			}
		})
	}
}

func TestHandlerWireFormat(t *testing.T) {
	n := NewNegotiator(PrompterFunc(func(context.Context, Prompt) (string, bool, error) {
		return AllowAlways, true, nil
	}))
	mux := jsonrpc.NewMux()
	mux.Handle(acp.MethodRequestPermission, n.Handler())

	f, err := jsonrpc.Decode([]byte(`{"jsonrpc":"2.0","id":4,"method":"session/request_permission","params":{"sessionId":"s1","toolCall":{"toolCallId":"tc"},"options":[]}}`))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := jsonrpc.Decode(mux.ServeRequest(context.Background(), f))
	if err != nil {
		t.Fatal(err)
	}

	var got map[string]any
	if err := json.Unmarshal(resp.Result, &got); err != nil {
		t.Fatal(err)
	}
	outcome, _ := got["outcome"].(map[string]any)
	if outcome["outcome"] != "selected" || outcome["optionId"] != "allow_always" {
		t.Errorf("result = %s", resp.Result)
	}
}

func TestInterpret(t *testing.T) {
	custom := []acp.PermissionOption{{OptionID: "ok", Name: "OK", Kind: AllowOnce}}
	tests := []struct {
		name     string
		result   acp.RequestPermissionResult
		options  []acp.PermissionOption
		want     Decision
		wantKind string
	}{
		{"allow once", Selected(AllowOnce), DefaultOptions(), Allow, AllowOnce},
		{"allow always", Selected(AllowAlways), DefaultOptions(), Allow, AllowAlways},
		{"reject once", Selected(RejectOnce), DefaultOptions(), Deny, RejectOnce},
		{"reject always", Selected(RejectAlways), DefaultOptions(), Deny, RejectAlways},
		{"custom id uses kind", Selected("ok"), custom, Allow, AllowOnce},
		{"cancelled", Cancelled(), DefaultOptions(), Deny, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, kind := Interpret(tt.result, tt.options)
			if got != tt.want || kind != tt.wantKind {
				t.Errorf("Interpret() = %q, %q, want %q, %q", got, kind, tt.want, tt.wantKind)
			}
		})
	}
}

func TestPolicyRemembersSessionAnswers(t *testing.T) {
	p := NewPolicy()
	p.Record("s1", "Bash", AllowOnce)
	if _, ok := p.Lookup("s1", "Bash"); ok {
		t.Error("allow_once was remembered")
	}

	p.Record("s1", "Bash", AllowAlways)
	p.Record("s1", "Write", RejectAlways)
	p.Record("s2", "Bash", RejectAlways)

	if d, ok := p.Lookup("s1", "Bash"); !ok || d != Allow {
		t.Errorf("Lookup(s1, Bash) = %q, %v", d, ok)
	}
	if d, ok := p.Lookup("s1", "Write"); !ok || d != Deny {
		t.Errorf("Lookup(s1, Write) = %q, %v", d, ok)
	}

	p.Forget("s1")
	if _, ok := p.Lookup("s1", "Bash"); ok {
		t.Error("Lookup after Forget found a rule")
	}
	if d, ok := p.Lookup("s2", "Bash"); !ok || d != Deny {
		t.Error("Forget(s1) dropped s2's rule")
	}
}

func TestForMode(t *testing.T) {
	tests := []struct {
		mode, kind string
		want       Decision
		ok         bool
	}{
		{acp.ModeBypassPermissions, acp.ToolKindExecute, Allow, true},
		{acp.ModeAcceptEdits, acp.ToolKindEdit, Allow, true},
		{acp.ModeAcceptEdits, acp.ToolKindExecute, "", false},
		{acp.ModePlan, acp.ToolKindEdit, Deny, true},
		{acp.ModePlan, acp.ToolKindRead, "", false},
		{acp.ModeDefault, acp.ToolKindEdit, "", false},
	}
	for _, tt := range tests {
		got, ok := ForMode(tt.mode, tt.kind)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ForMode(%s, %s) = %q, %v, want %q, %v", tt.mode, tt.kind, got, ok, tt.want, tt.ok)
		}
	}
}
