package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
)

// Handler answers an inbound request. The returned value is encoded as the
// result; an *Error is sent as-is, any other error as an internal error.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// NotificationHandler consumes an inbound notification.
type NotificationHandler func(ctx context.Context, params json.RawMessage)

// Mux is the inbound dispatch table. It is populated once at startup and
// only read afterwards, so lookups need no locking.
type Mux struct {
	requests      map[string]Handler
	notifications map[string]NotificationHandler
}

func NewMux() *Mux {
	return &Mux{
		requests:      make(map[string]Handler),
		notifications: make(map[string]NotificationHandler),
	}
}

// Handle registers the handler for a request method.
func (m *Mux) Handle(method string, h Handler) {
	m.requests[method] = h
}

// HandleNotification registers the handler for a notification method.
func (m *Mux) HandleNotification(method string, h NotificationHandler) {
	m.notifications[method] = h
}

// Methods returns the registered request and notification method names.
func (m *Mux) Methods() []string {
	out := make([]string, 0, len(m.requests)+len(m.notifications))
	for name := range m.requests {
		out = append(out, name)
	}
	for name := range m.notifications {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ServeRequest runs the handler registered for f.Method and returns the
// encoded response. Unknown methods produce a -32601 response; the caller
// keeps the connection open either way.
func (m *Mux) ServeRequest(ctx context.Context, f *Frame) []byte {
	h, ok := m.requests[f.Method]
	if !ok {
		return mustEncodeError(f.ID, NewMethodNotFoundError())
	}

	result, err := h(ctx, f.Params)
	if err != nil {
		return mustEncodeError(f.ID, AsError(err))
	}
	data, encErr := EncodeResponse(f.ID, result, nil)
	if encErr != nil {
		return mustEncodeError(f.ID, NewInternalError(encErr.Error()))
	}
	return data
}

// ServeNotification runs the handler registered for f.Method. It reports
// false when no handler exists; unknown notifications are dropped.
func (m *Mux) ServeNotification(ctx context.Context, f *Frame) bool {
	h, ok := m.notifications[f.Method]
	if !ok {
		return false
	}
	h(ctx, f.Params)
	return true
}

// AsError converts err to a wire error.
func AsError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return NewInternalError(err.Error())
}

// Bind decodes params into v, reporting failures as invalid params.
func Bind(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return NewInvalidParamsError("missing params")
	}
	if err := json.Unmarshal(params, v); err != nil {
		return NewInvalidParamsError(err.Error())
	}
	return nil
}

func mustEncodeError(id json.RawMessage, rpcErr *Error) []byte {
	data, err := EncodeResponse(id, nil, rpcErr)
	if err != nil {
		// Only reachable with malformed Data; drop it and retry.
		data, _ = EncodeResponse(id, nil, &Error{Code: rpcErr.Code, Message: rpcErr.Message})
	}
	return data
}
