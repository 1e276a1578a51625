package hal

import (
	"time"

	"camhal/pkg/memory"
	"camhal/pkg/types"
)

// Callbacks receives messages from the hardware. They are invoked from the
// capture and snapshot goroutines, never with the hardware lock held. A
// delivered buffer stays readable only until the pool behind it is
// released, so implementations copy what they keep.
type Callbacks interface {
	Notify(msg types.MsgType, ext1, ext2 int32)
	Data(msg types.MsgType, buf memory.Buffer)
	DataTimestamp(ts time.Time, msg types.MsgType, buf memory.Buffer)
}

// CallbackFuncs adapts plain functions to Callbacks. Nil fields drop the
// message.
type CallbackFuncs struct {
	NotifyFunc        func(msg types.MsgType, ext1, ext2 int32)
	DataFunc          func(msg types.MsgType, buf memory.Buffer)
	DataTimestampFunc func(ts time.Time, msg types.MsgType, buf memory.Buffer)
}

func (f CallbackFuncs) Notify(msg types.MsgType, ext1, ext2 int32) {
	if f.NotifyFunc != nil {
		f.NotifyFunc(msg, ext1, ext2)
	}
}

func (f CallbackFuncs) Data(msg types.MsgType, buf memory.Buffer) {
	if f.DataFunc != nil {
		f.DataFunc(msg, buf)
	}
}

func (f CallbackFuncs) DataTimestamp(ts time.Time, msg types.MsgType, buf memory.Buffer) {
	if f.DataTimestampFunc != nil {
		f.DataTimestampFunc(ts, msg, buf)
	}
}
