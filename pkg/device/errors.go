package device

import (
	"errors"
	"fmt"
)

var (
	ErrDevice = errors.New("device error")
	// ErrNoFrame is returned by GetFrame when nothing has completed.
	ErrNoFrame = errors.New("no frame ready")
	ErrClosed  = errors.New("device closed")
)

// Error reports a failed control command: either the call itself failed
// (Err) or the device answered with a non-success Status.
type Error struct {
	Cmd    CtrlType
	Status Status
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("control %s failed: %v", e.Cmd, e.Err)
	}
	return fmt.Sprintf("control %s returned status %s", e.Cmd, e.Status)
}

func (e *Error) Is(target error) bool {
	return target == ErrDevice
}

func (e *Error) Unwrap() error {
	return e.Err
}
