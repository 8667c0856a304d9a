package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

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

// startServer runs a Peer with mux behind an httptest server and returns a
// raw client connection to it.
func startServer(t *testing.T, mux *jsonrpc.Mux) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		peer := NewPeer(conn, PeerOptions{Mux: mux, PingInterval: time.Second})
		_ = peer.Run()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) *jsonrpc.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	f, err := jsonrpc.Decode(data)
	if err != nil {
		t.Fatalf("Decode(%s) error = %v", data, err)
	}
	return f
}

func TestPeerServesRequests(t *testing.T) {
	mux := jsonrpc.NewMux()
	mux.Handle("echo", func(ctx context.Context, params json.RawMessage) (any, error) {
		return params, nil
	})
	conn := startServer(t, mux)

	req, _ := jsonrpc.EncodeRequest(7, "echo", map[string]string{"hello": "world"})
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		t.Fatal(err)
	}
	f := readFrame(t, conn)
	if id, _ := f.IntID(); id != 7 || f.Error != nil || string(f.Result) != `{"hello":"world"}` {
		t.Errorf("echo response = id %s result %s error %v", f.ID, f.Result, f.Error)
	}
}

func TestPeerKeepsConnectionAfterErrors(t *testing.T) {
	mux := jsonrpc.NewMux()
	mux.Handle("ping", func(ctx context.Context, params json.RawMessage) (any, error) {
		return "pong", nil
	})
	conn := startServer(t, mux)

	tests := []struct {
		name     string
		frame    string
		wantCode int
	}{
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"bogus/method"}`, jsonrpc.CodeMethodNotFound},
		{"malformed json", `{"jsonrpc":`, jsonrpc.CodeParseError},
		{"neither request nor response", `{"jsonrpc":"2.0"}`, jsonrpc.CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.frame)); err != nil {
				t.Fatal(err)
			}
			f := readFrame(t, conn)
			if f.Error == nil || f.Error.Code != tt.wantCode {
				t.Errorf("error = %+v, want code %d", f.Error, tt.wantCode)
			}
		})
	}

	req, _ := jsonrpc.EncodeRequest(2, "ping", nil)
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		t.Fatal(err)
	}
	if f := readFrame(t, conn); string(f.Result) != `"pong"` {
		t.Errorf("ping after errors = %s", f.Result)
	}
}

func TestPeerRoutesResponsesAndNotifications(t *testing.T) {
	responses := make(chan *jsonrpc.Frame, 1)
	notes := make(chan string, 1)
	mux := jsonrpc.NewMux()
	mux.HandleNotification("session/update", func(ctx context.Context, params json.RawMessage) {
		notes <- string(params)
	})

	upgrader := websocket.Upgrader{}
	peers := make(chan *Peer, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		peer := NewPeer(conn, PeerOptions{Mux: mux, OnResponse: func(f *jsonrpc.Frame) { responses <- f }})
		peers <- peer
		_ = peer.Run()
	}))
	defer srv.Close()

	conn, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	peer := <-peers

	// Server-initiated request, answered by the raw client.
	req, _ := jsonrpc.EncodeRequest(1, "fs/read_text_file", map[string]string{"path": "/tmp/x"})
	if err := peer.Send(req); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if f := readFrame(t, conn); f.Method != "fs/read_text_file" {
		t.Fatalf("client saw %+v", f)
	}
	resp, _ := jsonrpc.EncodeResponse(json.RawMessage("1"), map[string]string{"content": "hi"}, nil)
	if err := conn.WriteMessage(websocket.TextMessage, resp); err != nil {
		t.Fatal(err)
	}
	select {
	case f := <-responses:
		if id, _ := f.IntID(); id != 1 {
			t.Errorf("response id = %s", f.ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("response not routed")
	}

	note, _ := jsonrpc.EncodeNotification("session/update", map[string]string{"sessionId": "s1"})
	if err := conn.WriteMessage(websocket.TextMessage, note); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-notes:
		if got != `{"sessionId":"s1"}` {
			t.Errorf("notification params = %s", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("notification not dispatched")
	}

	conn.Close()
	select {
	case <-peer.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("peer did not close after client disconnect")
	}
	if err := peer.Send(req); err != ErrClosed {
		t.Errorf("Send() after close = %v, want ErrClosed", err)
	}
}

func TestBackoff(t *testing.T) {
	b := NewBackoff([]time.Duration{1, 2, 3})
	var got []time.Duration
	for i := 0; i < 5; i++ {
		got = append(got, b.Next())
	}
	want := []time.Duration{1, 2, 3, 3, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Next() #%d = %v, want %v", i, got[i], want[i])
		}
	}
	b.Reset()
	if b.Next() != 1 {
		t.Error("Reset() did not restart the sequence")
	}
}

func TestRetry(t *testing.T) {
	b := NewBackoff([]time.Duration{time.Millisecond})
	calls := 0
	err := Retry(context.Background(), b, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return context.DeadlineExceeded
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("Retry() = %v after %d calls", err, calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Retry(ctx, b, func(ctx context.Context) error { return nil }); err != context.Canceled {
		t.Errorf("Retry() with cancelled ctx = %v", err)
	}
}
