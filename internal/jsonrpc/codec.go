package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Version is the protocol version carried in every frame.
const Version = "2.0"

// Kind classifies a decoded frame.
type Kind int

const (
	KindRequest Kind = iota + 1
	KindResponse
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// ErrInvalidFrame is returned by Decode for JSON that is not a request,
// response or notification.
var ErrInvalidFrame = errors.New("invalid JSON-RPC frame")

// Frame is a decoded JSON-RPC message.
type Frame struct {
	Kind   Kind
	ID     json.RawMessage
	Method string
	Params json.RawMessage
	Result json.RawMessage
	Error  *Error
}

// IntID returns the frame id as an integer. Ids issued by this package are
// always integers; anything else reports false.
func (f *Frame) IntID() (int64, bool) {
	if len(f.ID) == 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(string(f.ID), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

type wireFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

var nullJSON = json.RawMessage("null")

// EncodeRequest encodes a request frame.
func EncodeRequest(id int64, method string, params any) ([]byte, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", method, err)
	}
	return json.Marshal(wireFrame{
		JSONRPC: Version,
		ID:      json.RawMessage(strconv.FormatInt(id, 10)),
		Method:  method,
		Params:  raw,
	})
}

// EncodeNotification encodes a notification frame. Notifications carry no id
// and never receive a response.
func EncodeNotification(method string, params any) ([]byte, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", method, err)
	}
	return json.Marshal(wireFrame{
		JSONRPC: Version,
		Method:  method,
		Params:  raw,
	})
}

// EncodeResponse encodes a response to the request with the given raw id.
// A non-nil rpcErr wins over result. A nil id encodes as null, which is what
// a peer gets when its frame could not be parsed far enough to read one.
func EncodeResponse(id json.RawMessage, result any, rpcErr *Error) ([]byte, error) {
	if len(id) == 0 {
		id = nullJSON
	}
	frame := wireFrame{JSONRPC: Version, ID: id}
	if rpcErr != nil {
		frame.Error = rpcErr
		return json.Marshal(frame)
	}
	raw, err := marshalParams(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	if raw == nil {
		raw = nullJSON
	}
	frame.Result = raw
	return json.Marshal(frame)
}

// Decode parses one frame and classifies it:
//   - method and id present: request
//   - method present, id absent or null: notification
//   - no method, with id, result or error: response
func Decode(data []byte) (*Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	f := &Frame{
		ID:     w.ID,
		Method: w.Method,
		Params: w.Params,
		Result: w.Result,
		Error:  w.Error,
	}
	hasID := len(w.ID) > 0 && !bytes.Equal(w.ID, nullJSON)

	switch {
	case w.Method != "" && hasID:
		f.Kind = KindRequest
	case w.Method != "":
		f.Kind = KindNotification
	case w.Error != nil || len(w.Result) > 0 || hasID:
		f.Kind = KindResponse
		if w.Error == nil && len(w.Result) == 0 {
			f.Result = nullJSON
		}
	default:
		return nil, ErrInvalidFrame
	}
	return f, nil
}

func marshalParams(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	}
	return json.Marshal(v)
}
