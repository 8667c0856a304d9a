// Package session tracks one editor-side conversation: the connection
// handshake, the active session's identity and settings, the streaming flag
// and the tool calls currently in flight.
package session

import (
	"errors"
	"fmt"
)

// State is the coarse lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Initialized
	SessionActive
	Streaming
	Idle
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Initialized:
		return "initialized"
	case SessionActive:
		return "session_active"
	case Streaming:
		return "streaming"
	case Idle:
		return "idle"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// hasSession reports whether s carries a live session identity.
func (s State) hasSession() bool {
	return s == SessionActive || s == Streaming || s == Idle
}

var (
	// ErrNoActiveSession is returned by operations that need a session
	// before session/new has succeeded or after the session closed.
	ErrNoActiveSession = errors.New("no active session")
	// ErrInvalidTransition is wrapped by TransitionError.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrUnknownSession is returned for notifications naming another session.
	ErrUnknownSession = errors.New("notification for unknown session")
	// ErrUnknownMode is returned for a mode that is neither a wire id nor
	// a known alias.
	ErrUnknownMode = errors.New("unknown mode")
)

// TransitionError reports an event that is not valid in the current state.
type TransitionError struct {
	From  State
	Event string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s in state %s", e.Event, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
