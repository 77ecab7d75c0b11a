package checkpoint

import "errors"

// Sentinel errors for store operations.
var (
	ErrNotFound     = errors.New("checkpoint not found")
	ErrLoadFailed   = errors.New("checkpoint load failed")
	ErrSaveFailed   = errors.New("checkpoint save failed")
	ErrUnknownStore = errors.New("unknown checkpoint store")
)
