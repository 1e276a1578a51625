// Package device describes the capture device protocol: typed control
// commands with a status code, buffer (un)registration, and the frame
// wait/get/release exchange used by the preview thread.
package device

import (
	"context"
	"fmt"
	"time"
)

const DefaultTimeout = 5000 * time.Millisecond

type CtrlType uint16

const (
	CtrlSetDimension CtrlType = iota + 1
	CtrlSetEffect
	CtrlSetWhiteBalance
	CtrlSetAntibanding
	CtrlSetZoom
	CtrlGetMaxZoom
	CtrlStartPreview
	CtrlStopPreview
	CtrlStartSnapshot
	CtrlStopSnapshot
	CtrlGetPicture
	CtrlExit
)

var ctrlNames = map[CtrlType]string{
	CtrlSetDimension:    "set-dimension",
	CtrlSetEffect:       "set-effect",
	CtrlSetWhiteBalance: "set-whitebalance",
	CtrlSetAntibanding:  "set-antibanding",
	CtrlSetZoom:         "set-zoom",
	CtrlGetMaxZoom:      "get-maxzoom",
	CtrlStartPreview:    "start-preview",
	CtrlStopPreview:     "stop-preview",
	CtrlStartSnapshot:   "start-snapshot",
	CtrlStopSnapshot:    "stop-snapshot",
	CtrlGetPicture:      "get-picture",
	CtrlExit:            "exit",
}

func (t CtrlType) String() string {
	if n, ok := ctrlNames[t]; ok {
		return n
	}
	return fmt.Sprintf("ctrl(%d)", uint16(t))
}

type Status int

const (
	StatusUnknown Status = iota
	StatusSuccess
	StatusFailed
	StatusInvalidParm
	StatusNotSupported
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	case StatusInvalidParm:
		return "invalid-parm"
	case StatusNotSupported:
		return "not-supported"
	case StatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ControlCmd is one request/response exchange. Value carries the payload:
// *Dimension, *int32 or *Crop depending on Type. The device fills Status.
type ControlCmd struct {
	Type    CtrlType
	Timeout time.Duration
	Value   any
	Status  Status
}

// PmemType tells the device what a registered buffer is used for.
type PmemType int

const (
	PmemOutput1 PmemType = iota
	PmemOutput2
	PmemThumbnail
	PmemMainImg
	PmemRawMainImg
)

func (t PmemType) String() string {
	switch t {
	case PmemOutput1:
		return "output1"
	case PmemOutput2:
		return "output2"
	case PmemThumbnail:
		return "thumbnail"
	case PmemMainImg:
		return "mainimg"
	case PmemRawMainImg:
		return "raw-mainimg"
	default:
		return fmt.Sprintf("pmem(%d)", int(t))
	}
}

// FramePath is the destination of a preview frame inside the device.
type FramePath int

const (
	PathPassthrough FramePath = iota
	PathEncode
)

// BufferInfo is the (un)register message for one buffer slot. Buf is the
// slot's mapping; Offset is its position in the region identified by Fd.
type BufferInfo struct {
	Type       PmemType
	Fd         int
	Offset     int
	Buf        []byte
	YOffset    int
	CbCrOffset int
	Active     bool
}

// Frame describes a completed buffer handed out by GetFrame.
type Frame struct {
	Fd         int
	Offset     int
	YOffset    int
	CbCrOffset int
	Active     bool
	Path       FramePath
}

// Dimension is the geometry programmed into the device on every
// dimension-affecting change.
type Dimension struct {
	PreviewWidth    int
	PreviewHeight   int
	PictureWidth    int
	PictureHeight   int
	ThumbnailWidth  int
	ThumbnailHeight int
}

func (d *Dimension) Reset() {
	*d = Dimension{}
}

// Crop is the picture geometry reported after a snapshot.
type Crop struct {
	In1Width, In1Height   int
	Out1Width, Out1Height int
	In2Width, In2Height   int
	Out2Width, Out2Height int
	Update                bool
}

// Device is the capture device endpoint. Implementations are not required
// to be safe for concurrent control calls; callers serialize them.
type Device interface {
	Control(ctx context.Context, cmd *ControlCmd) error
	RegisterBuffer(info BufferInfo) error
	UnregisterBuffer(info BufferInfo) error
	// WaitFrame reports whether a completed frame is ready, waiting at
	// most timeout.
	WaitFrame(ctx context.Context, timeout time.Duration) (bool, error)
	GetFrame(ctx context.Context) (*Frame, error)
	ReleaseFrame(frame *Frame) error
	// ReleaseRecordingFrame tells the device a recording frame may be reused.
	ReleaseRecordingFrame() error
	Close() error
}

// AlignOffset rounds a plane offset up to the 4-byte boundary the device
// expects.
func AlignOffset(off int) int {
	return (off + 3) &^ 3
}
