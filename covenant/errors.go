package covenant

import (
	"errors"
	"fmt"
)

var (
	ErrIllegalTransition = errors.New("illegal transition")
	ErrPrecheckVersion   = fmt.Errorf("%w: pre-check version mismatch", ErrIllegalTransition)
	ErrMalformedState    = errors.New("malformed contract state")
	ErrUnknownFamily     = errors.New("unknown contract family")
	ErrVerifyFailed      = errors.New("covenant verification failed")
)

// Illegal builds an ErrIllegalTransition with a reason.
func Illegal(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrIllegalTransition, fmt.Sprintf(format, args...))
}
