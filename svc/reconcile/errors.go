package reconcile

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidEvent       = errors.New("invalid reconciliation event")
	ErrPersistenceFailure = errors.New("persistence failure during reconciliation")
	ErrSweepInProgress    = errors.New("subscription sweep already in progress")
)

// Stage names a reconciliation step.
type Stage string

const (
	StageCustomer     Stage = "customer"
	StageAccount      Stage = "account"
	StageSubscription Stage = "subscription"
	StageLicense      Stage = "license"
)

// StageError reports the step at which a reconciliation stopped. Steps
// before it were persisted. It matches ErrPersistenceFailure and the
// underlying error with errors.Is.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("reconcile %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() []error {
	return []error{ErrPersistenceFailure, e.Err}
}

// FailedStage returns the stage of a StageError in err's chain.
func FailedStage(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
