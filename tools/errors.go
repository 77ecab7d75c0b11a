package tools

import "errors"

// Sentinel errors for tool registration and dispatch.
var (
	// ErrUnregisteredTool is returned when a tool name is not in the
	// registry of the unit that requested it. Unknown tools are never
	// treated as safe.
	ErrUnregisteredTool = errors.New("unregistered tool")
	ErrAlreadyExists    = errors.New("tool already registered")
	ErrEmptyName        = errors.New("tool name is empty")
	ErrNilHandler       = errors.New("tool handler is nil")
	ErrInvalidTier      = errors.New("invalid tool tier")
	ErrReservedName     = errors.New("tool name is reserved")
	ErrNotExecutable    = errors.New("control tool cannot be executed")
)
