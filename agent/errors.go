package agent

import "errors"

// Sentinel errors for agent configuration and lookup.
var (
	ErrAgentNotFound   = errors.New("agent not found")
	ErrAgentExists     = errors.New("agent already registered")
	ErrEmptyAgentName  = errors.New("agent name is empty")
	ErrUnknownProvider = errors.New("unknown provider")
	ErrMissingAPIKey   = errors.New("missing api key")
	ErrNoFactory       = errors.New("agent registry has no factory")
)
