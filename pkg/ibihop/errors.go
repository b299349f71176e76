package ibihop

import (
	"errors"
	"fmt"
)

// Errors that discard a message without changing engine state.
var (
	ErrDecode            = errors.New("ibihop: malformed message")
	ErrUnexpectedMessage = errors.New("ibihop: message not expected in current phase")
	ErrSessionMismatch   = errors.New("ibihop: session token mismatch")
	ErrProtocolDone      = errors.New("ibihop: protocol already finished")
)

// Causes carried by an Abort.
var (
	ErrInvalidPoint   = errors.New("ibihop: received point is not on the curve")
	ErrAuthentication = errors.New("ibihop: reader authentication failed")
	ErrVerification   = errors.New("ibihop: tag verification failed")
	ErrRandomSource   = errors.New("ibihop: random source failed")
)

// ErrInvalidParameters is returned by constructors given incomplete setup.
var ErrInvalidParameters = errors.New("ibihop: invalid parameters")

// Abort represents a run that failed terminally on one side. It records
// where the run stopped so the failure can be attributed.
type Abort struct {
	Role   Role
	Phase  Phase
	Reason string
	Err    error
}

func (a *Abort) Error() string {
	if a.Err != nil {
		return fmt.Sprintf("%s aborted in %s: %s: %v", a.Role, a.Phase, a.Reason, a.Err)
	}
	return fmt.Sprintf("%s aborted in %s: %s", a.Role, a.Phase, a.Reason)
}

func (a *Abort) Unwrap() error {
	return a.Err
}

// NewAbort creates a new Abort error.
func NewAbort(role Role, phase Phase, reason string, err error) *Abort {
	return &Abort{
		Role:   role,
		Phase:  phase,
		Reason: reason,
		Err:    err,
	}
}

// IsAbort reports whether err ended a run, as opposed to discarding a
// single message.
func IsAbort(err error) bool {
	var a *Abort
	return errors.As(err, &a)
}
