// Package encoder is the JPEG encode endpoint. An Encoder converts one raw
// YUV 4:2:0 picture per job and reports the result through callbacks invoked
// from its own goroutine: zero or more fragments, then exactly one status.
package encoder

import (
	"errors"
	"fmt"
)

type Status int

const (
	StatusDone Status = iota
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDone:
		return "done"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

var ErrNotInitialized = errors.New("encoder not initialized")

// Job is one raw picture to encode. Raw holds Width*Height*3/2 bytes of
// NV21 data and must stay valid until the status callback fires.
type Job struct {
	Raw    []byte
	Width  int
	Height int
}

// Handler receives encoder output. Fragment slices are only valid during
// the call.
type Handler struct {
	Fragment func(p []byte)
	Done     func(status Status)
}

type Encoder interface {
	Init() error
	SetMainImageQuality(quality int) error
	// Start begins an asynchronous encode. It returns an error only when the
	// job could not be started, in which case no callback fires.
	Start(job Job, h Handler) error
	Close() error
}
