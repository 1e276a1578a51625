// Package sim is an in-process capture device. It produces a moving test
// pattern into registered preview slots at a fixed rate, fills registered
// snapshot buffers on demand and can be told to fail or hang on any control
// command.
package sim

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"camhal/pkg/device"
	"camhal/pkg/utils"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger().Named("sim")
}

const (
	DefaultFPS     = 15
	DefaultMaxZoom = 12
)

type Options struct {
	FPS     int
	MaxZoom int32
}

// Stats counts what the device has done since it was opened.
type Stats struct {
	Frames            int
	Dropped           int
	Snapshots         int
	RecordingReleases int
	Registered        int
}

type Device struct {
	opts  Options
	queue *device.FrameQueue

	mu       sync.Mutex
	dim      device.Dimension
	controls map[device.CtrlType]int32
	buffers  device.BufferTable
	failures map[device.CtrlType]device.Status
	hangs    map[device.CtrlType]bool
	failReg  bool
	history  []device.CtrlType
	stats    Stats
	closed   bool

	stop context.CancelFunc
	done chan struct{}
}

func New(opts Options) *Device {
	if opts.FPS <= 0 {
		opts.FPS = DefaultFPS
	}
	if opts.MaxZoom <= 0 {
		opts.MaxZoom = DefaultMaxZoom
	}
	return &Device{
		opts:     opts,
		queue:    device.NewFrameQueue(),
		controls: make(map[device.CtrlType]int32),
		failures: make(map[device.CtrlType]device.Status),
		hangs:    make(map[device.CtrlType]bool),
	}
}

// Fail makes every later typ command report status. StatusSuccess clears it.
func (d *Device) Fail(typ device.CtrlType, status device.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if status == device.StatusSuccess {
		delete(d.failures, typ)
		return
	}
	d.failures[typ] = status
}

// Hang makes typ commands block until their deadline.
func (d *Device) Hang(typ device.CtrlType, hang bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hangs[typ] = hang
}

// FailRegistration makes buffer registration fail.
func (d *Device) FailRegistration(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failReg = fail
}

// History returns the control commands received so far.
func (d *Device) History() []device.CtrlType {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.history)
}

// Control returns the last value applied for a set-parameter command.
func (d *Device) ControlValue(typ device.CtrlType) (int32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.controls[typ]
	return v, ok
}

func (d *Device) Dimension() device.Dimension {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dim
}

func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	s.Registered = d.queue.Registered() + d.buffers.Len()
	return s
}

func (d *Device) Previewing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stop != nil
}

func (d *Device) Control(ctx context.Context, cmd *device.ControlCmd) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return device.ErrClosed
	}
	d.history = append(d.history, cmd.Type)
	hang := d.hangs[cmd.Type]
	status, failed := d.failures[cmd.Type]
	d.mu.Unlock()

	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if failed {
		cmd.Status = status
		return nil
	}

	cmd.Status = d.handle(cmd)
	return nil
}

func (d *Device) handle(cmd *device.ControlCmd) device.Status {
	switch cmd.Type {
	case device.CtrlSetDimension:
		dim, ok := cmd.Value.(*device.Dimension)
		if !ok {
			return device.StatusInvalidParm
		}
		d.mu.Lock()
		d.dim = *dim
		d.mu.Unlock()
	case device.CtrlSetEffect, device.CtrlSetWhiteBalance, device.CtrlSetAntibanding, device.CtrlSetZoom:
		v, ok := cmd.Value.(*int32)
		if !ok {
			return device.StatusInvalidParm
		}
		if cmd.Type == device.CtrlSetZoom && (*v < 0 || *v > d.opts.MaxZoom) {
			return device.StatusInvalidParm
		}
		d.mu.Lock()
		d.controls[cmd.Type] = *v
		d.mu.Unlock()
	case device.CtrlGetMaxZoom:
		v, ok := cmd.Value.(*int32)
		if !ok {
			return device.StatusInvalidParm
		}
		*v = d.opts.MaxZoom
	case device.CtrlStartPreview:
		return d.startPreview()
	case device.CtrlStopPreview:
		d.stopPreview()
	case device.CtrlStartSnapshot:
		return d.snapshot()
	case device.CtrlStopSnapshot:
	case device.CtrlGetPicture:
		crop, ok := cmd.Value.(*device.Crop)
		if !ok {
			return device.StatusInvalidParm
		}
		dim := d.Dimension()
		*crop = device.Crop{
			In1Width: dim.PictureWidth, In1Height: dim.PictureHeight,
			Out1Width: dim.PictureWidth, Out1Height: dim.PictureHeight,
			In2Width: dim.PictureWidth, In2Height: dim.PictureHeight,
			Out2Width: dim.ThumbnailWidth, Out2Height: dim.ThumbnailHeight,
			Update: true,
		}
	case device.CtrlExit:
		d.stopPreview()
	default:
		return device.StatusNotSupported
	}

	return device.StatusSuccess
}

func (d *Device) startPreview() device.Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dim.PreviewWidth <= 0 || d.dim.PreviewHeight <= 0 {
		logger.Error("start preview without a preview dimension")
		return device.StatusFailed
	}
	if d.stop != nil {
		return device.StatusSuccess
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.stop = cancel
	d.done = make(chan struct{})
	go d.produce(ctx, d.dim.PreviewWidth, d.dim.PreviewHeight, d.done)

	return device.StatusSuccess
}

func (d *Device) stopPreview() {
	d.mu.Lock()
	stop, done := d.stop, d.done
	d.stop, d.done = nil, nil
	d.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
}

func (d *Device) produce(ctx context.Context, width, height int, done chan struct{}) {
	defer close(done)

	t := time.NewTicker(time.Second / time.Duration(d.opts.FPS))
	defer t.Stop()

	var n int
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		slot, ok := d.queue.Acquire()
		if !ok {
			d.mu.Lock()
			d.stats.Dropped++
			d.mu.Unlock()
			continue
		}
		fillPattern(slot.Info.Buf[slot.Info.YOffset:], slot.Info.Buf[slot.Info.CbCrOffset:], width, height, n)
		d.queue.Complete(slot)
		n++
		d.mu.Lock()
		d.stats.Frames++
		d.mu.Unlock()
	}
}

// fillPattern draws diagonal luma stripes that move with frame n and a flat
// chroma plane.
func fillPattern(y, vu []byte, width, height, n int) {
	ySize := min(width*height, len(y))
	for i := 0; i < ySize; i++ {
		y[i] = byte(i%width + i/width + n)
	}
	cSize := min(width*height/2, len(vu))
	for i := 0; i < cSize; i++ {
		vu[i] = 128
	}
}

func (d *Device) snapshot() device.Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	main, ok := d.buffers.First(device.PmemMainImg, device.PmemRawMainImg)
	if !ok {
		logger.Error("snapshot without a registered main image buffer")
		return device.StatusFailed
	}
	w, h := d.dim.PictureWidth, d.dim.PictureHeight
	if w <= 0 || h <= 0 {
		return device.StatusFailed
	}
	fillPattern(main.Buf, main.Buf[min(w*h, len(main.Buf)):], w, h, d.stats.Snapshots)

	if thumb, ok := d.buffers.First(device.PmemThumbnail); ok {
		tw, th := d.dim.ThumbnailWidth, d.dim.ThumbnailHeight
		fillPattern(thumb.Buf, thumb.Buf[min(tw*th, len(thumb.Buf)):], tw, th, d.stats.Snapshots)
	}
	d.stats.Snapshots++

	return device.StatusSuccess
}

func (d *Device) RegisterBuffer(info device.BufferInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failReg {
		return fmt.Errorf("register %s buffer at %d: rejected", info.Type, info.Offset)
	}
	if info.Type == device.PmemOutput2 {
		d.queue.Register(info)
		return nil
	}
	d.buffers.Add(info)
	return nil
}

func (d *Device) UnregisterBuffer(info device.BufferInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if info.Type == device.PmemOutput2 {
		if !d.queue.Unregister(info) {
			return fmt.Errorf("unregister unknown preview buffer at %d", info.Offset)
		}
		return nil
	}
	if d.buffers.Remove(info) {
		return nil
	}
	return fmt.Errorf("unregister unknown %s buffer at %d", info.Type, info.Offset)
}

func (d *Device) WaitFrame(ctx context.Context, timeout time.Duration) (bool, error) {
	return d.queue.Wait(ctx, timeout)
}

func (d *Device) GetFrame(context.Context) (*device.Frame, error) {
	return d.queue.Get()
}

func (d *Device) ReleaseFrame(frame *device.Frame) error {
	return d.queue.Release(frame)
}

func (d *Device) ReleaseRecordingFrame() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.RecordingReleases++
	return nil
}

func (d *Device) Close() error {
	d.stopPreview()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.queue.Close()
	logger.Debugf("closed after %d frames, %d dropped", d.stats.Frames, d.stats.Dropped)
	return nil
}
