package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the driver API.
var (
	ErrCompletion           = errors.New("completion service failed")
	ErrDegenerateCompletion = errors.New("completion kept returning empty output")
	ErrCheckpointWrite      = errors.New("checkpoint write failed")
	ErrNoPendingApproval    = errors.New("no pending approval")
	ErrApprovalPending      = errors.New("approval pending")
	ErrThreadNotFound       = errors.New("thread not found")
	ErrMaxSteps             = errors.New("max steps reached")
	ErrNoCompleter          = errors.New("no completer available")
	ErrNoSpecialists        = errors.New("no specialists configured")
	ErrInvalidInput         = errors.New("invalid input")
)

// StepError reports the FSM position at which a turn failed.
type StepError struct {
	ThreadID   string
	State      State
	Specialist string
	Err        error
}

func (e *StepError) Error() string {
	unit := e.Specialist
	if unit == "" {
		unit = "router"
	}
	return fmt.Sprintf("thread %s: %s (%s): %v", e.ThreadID, e.State, unit, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
