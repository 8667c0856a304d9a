package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestEncodeRequestRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		id     int64
		method string
		params any
		want   string
	}{
		{"object params", 1, "fs/read_text_file", map[string]any{"path": "/a.txt"}, `{"path":"/a.txt"}`},
		{"raw params", 42, "session/prompt", json.RawMessage(`{"sessionId":"s1"}`), `{"sessionId":"s1"}`},
		{"no params", 7, "initialize", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeRequest(tt.id, tt.method, tt.params)
			if err != nil {
				t.Fatalf("EncodeRequest() error = %v", err)
			}
			f, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if f.Kind != KindRequest {
				t.Errorf("Kind = %v, want request", f.Kind)
			}
			id, ok := f.IntID()
			if !ok || id != tt.id {
				t.Errorf("IntID() = %d, %v, want %d", id, ok, tt.id)
			}
			if f.Method != tt.method {
				t.Errorf("Method = %q, want %q", f.Method, tt.method)
			}
			if string(f.Params) != tt.want {
				t.Errorf("Params = %s, want %s", f.Params, tt.want)
			}
		})
	}
}

func TestDecodeClassifies(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Kind
	}{
		{"request", `{"jsonrpc":"2.0","id":3,"method":"session/new","params":{}}`, KindRequest},
		{"notification", `{"jsonrpc":"2.0","method":"session/update","params":{}}`, KindNotification},
		{"null id is a notification", `{"jsonrpc":"2.0","id":null,"method":"session/cancel"}`, KindNotification},
		{"result response", `{"jsonrpc":"2.0","id":3,"result":{"ok":true}}`, KindResponse},
		{"null result response", `{"jsonrpc":"2.0","id":3,"result":null}`, KindResponse},
		{"error response", `{"jsonrpc":"2.0","id":3,"error":{"code":-32601,"message":"Method not found"}}`, KindResponse},
		{"parse error response", `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"bad"}}`, KindResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Decode([]byte(tt.input))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if f.Kind != tt.want {
				t.Errorf("Kind = %v, want %v", f.Kind, tt.want)
			}
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	for _, input := range []string{`not json`, `{"jsonrpc":"2.0"}`, `[]`} {
		if _, err := Decode([]byte(input)); !errors.Is(err, ErrInvalidFrame) {
			t.Errorf("Decode(%q) error = %v, want ErrInvalidFrame", input, err)
		}
	}
}

func TestEncodeResponse(t *testing.T) {
	data, err := EncodeResponse(json.RawMessage("5"), nil, nil)
	if err != nil {
		t.Fatalf("EncodeResponse() error = %v", err)
	}
	if want := `{"jsonrpc":"2.0","id":5,"result":null}`; string(data) != want {
		t.Errorf("EncodeResponse() = %s, want %s", data, want)
	}

	data, err = EncodeResponse(nil, "ignored", NewParseError("bad json"))
	if err != nil {
		t.Fatalf("EncodeResponse() error = %v", err)
	}
	f, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if f.Error == nil || f.Error.Code != CodeParseError {
		t.Errorf("Error = %+v, want code %d", f.Error, CodeParseError)
	}
	if len(f.Result) != 0 {
		t.Errorf("Result = %s, want none", f.Result)
	}
}

func TestEncodeNotificationHasNoID(t *testing.T) {
	data, err := EncodeNotification("session/cancel", map[string]string{"sessionId": "s1"})
	if err != nil {
		t.Fatalf("EncodeNotification() error = %v", err)
	}
	if bytes.Contains(data, []byte(`"id"`)) {
		t.Errorf("notification carries an id: %s", data)
	}
	f, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if f.Kind != KindNotification {
		t.Errorf("Kind = %v, want notification", f.Kind)
	}
}

func TestIDGeneratorStrictlyIncreasing(t *testing.T) {
	var g IDGenerator
	seen := make(map[int64]bool)
	prev := int64(0)
	for i := 0; i < 100; i++ {
		id := g.Next()
		if id <= prev {
			t.Fatalf("Next() = %d after %d, want strictly increasing", id, prev)
		}
		if seen[id] {
			t.Fatalf("Next() repeated %d", id)
		}
		seen[id] = true
		prev = id
	}
	if first := new(IDGenerator).Next(); first != 1 {
		t.Errorf("first id = %d, want 1", first)
	}
}

func TestMuxUnknownMethod(t *testing.T) {
	m := NewMux()
	m.Handle("initialize", func(ctx context.Context, params json.RawMessage) (any, error) {
		return map[string]int{"protocolVersion": 1}, nil
	})

	f, err := Decode([]byte(`{"jsonrpc":"2.0","id":9,"method":"bogus/method","params":{}}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	resp, err := Decode(m.ServeRequest(context.Background(), f))
	if err != nil {
		t.Fatalf("Decode(response) error = %v", err)
	}
	if resp.Kind != KindResponse {
		t.Fatalf("Kind = %v, want response", resp.Kind)
	}
	if id, _ := resp.IntID(); id != 9 {
		t.Errorf("id = %d, want 9", id)
	}
	if resp.Error == nil {
		t.Fatal("Error = nil, want method not found")
	}
	if resp.Error.Code != -32601 || resp.Error.Message != "Method not found" {
		t.Errorf("Error = %d %q, want -32601 \"Method not found\"", resp.Error.Code, resp.Error.Message)
	}
}

func TestMuxHandlerErrors(t *testing.T) {
	m := NewMux()
	m.Handle("typed", func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			SessionID string `json:"sessionId"`
		}
		if err := Bind(params, &p); err != nil {
			return nil, err
		}
		return nil, NewError(CodeNoActiveSession, "no active session")
	})
	m.Handle("plain", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, errors.New("boom")
	})

	tests := []struct {
		name  string
		input string
		code  int
	}{
		{"typed error", `{"jsonrpc":"2.0","id":1,"method":"typed","params":{"sessionId":"x"}}`, CodeNoActiveSession},
		{"bad params", `{"jsonrpc":"2.0","id":2,"method":"typed","params":[1]}`, CodeInvalidParams},
		{"missing params", `{"jsonrpc":"2.0","id":3,"method":"typed"}`, CodeInvalidParams},
		{"plain error", `{"jsonrpc":"2.0","id":4,"method":"plain"}`, CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Decode([]byte(tt.input))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			resp, err := Decode(m.ServeRequest(context.Background(), f))
			if err != nil {
				t.Fatalf("Decode(response) error = %v", err)
			}
			if resp.Error == nil || resp.Error.Code != tt.code {
				t.Errorf("Error = %+v, want code %d", resp.Error, tt.code)
			}
		})
	}
}

func TestMuxNotifications(t *testing.T) {
	m := NewMux()
	var got string
	m.HandleNotification("session/cancel", func(ctx context.Context, params json.RawMessage) {
		got = string(params)
	})

	f, _ := Decode([]byte(`{"jsonrpc":"2.0","method":"session/cancel","params":{"sessionId":"s"}}`))
	if !m.ServeNotification(context.Background(), f) {
		t.Fatal("ServeNotification() = false, want true")
	}
	if got != `{"sessionId":"s"}` {
		t.Errorf("params = %s", got)
	}

	f, _ = Decode([]byte(`{"jsonrpc":"2.0","method":"nope"}`))
	if m.ServeNotification(context.Background(), f) {
		t.Error("ServeNotification(unknown) = true, want false")
	}
}
