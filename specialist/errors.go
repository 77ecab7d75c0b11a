package specialist

import "errors"

// Sentinel errors for catalogue loading and lookups.
var (
	ErrEmptyID             = errors.New("specialist id is empty")
	ErrDuplicateSpecialist = errors.New("duplicate specialist")
	ErrReservedID          = errors.New("specialist id is reserved")
	ErrDuplicateDelegation = errors.New("delegation tool name already in use")
	ErrUnknownSpecialist   = errors.New("unknown specialist")
	ErrInvalidCatalog      = errors.New("invalid catalog")
	ErrPersona             = errors.New("persona template failed")
)
