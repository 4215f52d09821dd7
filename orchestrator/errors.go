package orchestrator

import (
	"errors"
	"fmt"
)

var (
	ErrDeploymentFailed = errors.New("deployment failed")
	ErrTransitionFailed = errors.New("transition failed")
	ErrConfirmTimeout   = errors.New("timed out waiting for confirmation")
)

// FailedError is returned once broadcast retries are exhausted.
// errors.Is matches its Kind; Unwrap gives the last network rejection.
type FailedError struct {
	Op       string // deploy, call or settle
	Kind     error  // ErrDeploymentFailed or ErrTransitionFailed
	HandleID string
	Attempts int
	Reason   string // last rejection, verbatim
	Err      error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("%v: %s of %s after %d attempts: %s", e.Kind, e.Op, e.HandleID, e.Attempts, e.Reason)
}

func (e *FailedError) Is(target error) bool { return target == e.Kind }

func (e *FailedError) Unwrap() error { return e.Err }
