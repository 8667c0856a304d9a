// Package permission implements the request_permission round trip: default
// options, outcome encoding, the host-side negotiator and the per-session
// policy that remembers "for session" answers.
package permission

import (
	"strings"

	"github.com/banjo-dev/banjo/internal/acp"
)

// Option ids and kinds. The default options use the kind as the id.
const (
	AllowOnce    = "allow_once"
	AllowAlways  = "allow_always"
	RejectOnce   = "reject_once"
	RejectAlways = "reject_always"
)

const (
	OutcomeSelected  = "selected"
	OutcomeCancelled = "cancelled"
)

// DefaultOptions returns the options offered when a request carries none.
func DefaultOptions() []acp.PermissionOption {
	return []acp.PermissionOption{
		{OptionID: AllowOnce, Name: "Allow", Kind: AllowOnce},
		{OptionID: AllowAlways, Name: "Allow for session", Kind: AllowAlways},
		{OptionID: RejectOnce, Name: "Deny", Kind: RejectOnce},
		{OptionID: RejectAlways, Name: "Deny for session", Kind: RejectAlways},
	}
}

// Normalize substitutes the default options for an empty list.
func Normalize(options []acp.PermissionOption) []acp.PermissionOption {
	if len(options) == 0 {
		return DefaultOptions()
	}
	return options
}

// Selected encodes a chosen option.
func Selected(optionID string) acp.RequestPermissionResult {
	return acp.RequestPermissionResult{Outcome: acp.PermissionOutcome{Outcome: OutcomeSelected, OptionID: optionID}}
}

// Cancelled encodes a request the host declined to answer.
func Cancelled() acp.RequestPermissionResult {
	return acp.RequestPermissionResult{Outcome: acp.PermissionOutcome{Outcome: OutcomeCancelled}}
}

// Decision is the verdict handed back to an agent.
type Decision string

const (
	Allow Decision = "allow"
	Deny  Decision = "deny"
	Ask   Decision = "ask"
)

// Interpret maps an outcome to a decision using the options that were
// offered. It also returns the chosen option's kind so callers can tell
// one-off answers from session-wide ones. Cancelled outcomes deny.
func Interpret(result acp.RequestPermissionResult, options []acp.PermissionOption) (Decision, string) {
	if result.Outcome.Outcome != OutcomeSelected {
		return Deny, ""
	}

	kind := result.Outcome.OptionID
	for _, opt := range options {
		if opt.OptionID == result.Outcome.OptionID {
			kind = opt.Kind
			break
		}
	}

	if strings.HasPrefix(kind, "allow") {
		return Allow, kind
	}
	return Deny, kind
}
