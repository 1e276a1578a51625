package hal

import "errors"

var (
	// ErrThread reports a worker goroutine that did not stop within the
	// join timeout.
	ErrThread      = errors.New("worker did not stop in time")
	ErrReleased    = errors.New("hardware released")
	ErrUnsupported = errors.New("command not supported")
	ErrBusy        = errors.New("hardware busy")
)
