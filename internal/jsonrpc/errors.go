package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Application error codes.
const (
	CodeNoActiveSession = -32000
	CodeDisconnected    = -32001
)

// Error is a JSON-RPC error object. It doubles as a Go error so handlers can
// return it directly and callers can match it with errors.As.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewError returns an Error with the given code and message.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

func NewParseError(msg string) *Error {
	return &Error{Code: CodeParseError, Message: msg}
}

func NewInvalidRequestError(msg string) *Error {
	return &Error{Code: CodeInvalidRequest, Message: msg}
}

// NewMethodNotFoundError returns the error sent for any inbound request whose
// method has no handler.
func NewMethodNotFoundError() *Error {
	return &Error{Code: CodeMethodNotFound, Message: "Method not found"}
}

func NewInvalidParamsError(msg string) *Error {
	return &Error{Code: CodeInvalidParams, Message: msg}
}

func NewInternalError(msg string) *Error {
	return &Error{Code: CodeInternalError, Message: msg}
}

// ErrDisconnected resolves requests still outstanding when their connection
// goes away.
var ErrDisconnected = &Error{Code: CodeDisconnected, Message: "connection closed"}
