// Package v4l2cam implements device.Device on a V4L2 capture node through
// go4vl. The node streams YUYV; frames are converted to NV21 into the
// registered preview slots, and snapshots reopen the node at picture size
// for a single frame.
package v4l2cam

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	dev "github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"
	"go.uber.org/zap"

	"camhal/pkg/device"
	"camhal/pkg/utils"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger().Named("v4l2")
}

const (
	DefaultPath = "/dev/video0"
	DefaultFPS  = 15
)

var ErrStarted = errors.New("already started")

type Options struct {
	Path string
	FPS  int
}

type Device struct {
	path  string
	fps   int
	queue *device.FrameQueue

	lock     sync.Mutex
	dim      device.Dimension
	camera   *dev.Device
	cancel   context.CancelFunc
	done     chan struct{}
	settings map[v4l2.CtrlID]v4l2.CtrlValue
	buffers  device.BufferTable
	closed   bool
}

// Open checks that the node can be opened and returns an idle device. The
// node is held open only while streaming.
func Open(opts Options) (*Device, error) {
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.FPS <= 0 {
		opts.FPS = DefaultFPS
	}
	probe, err := dev.Open(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Path, err)
	}
	if err = probe.Close(); err != nil {
		return nil, err
	}
	logger.Infof("using capture node %s at %d fps", opts.Path, opts.FPS)

	return &Device{
		path:     opts.Path,
		fps:      opts.FPS,
		queue:    device.NewFrameQueue(),
		settings: make(map[v4l2.CtrlID]v4l2.CtrlValue),
	}, nil
}

func (d *Device) open(width, height, buffers int) error {
	if d.camera != nil {
		return ErrStarted
	}
	camera, err := dev.Open(
		d.path,
		dev.WithBufferSize(uint32(buffers)),
		dev.WithFPS(uint32(d.fps)),
		dev.WithPixFormat(v4l2.PixFormat{
			PixelFormat: v4l2.PixelFmtYUYV,
			Width:       uint32(width),
			Height:      uint32(height),
			Field:       v4l2.FieldNone,
		}),
	)
	if err != nil {
		return err
	}
	d.camera = camera

	return nil
}

// start opens the node at width x height and starts streaming. The caller
// holds the lock.
func (d *Device) start(width, height, buffers int) (<-chan []byte, error) {
	logger.Infof("start camera in %d*%d", width, height)
	if err := d.open(width, height, buffers); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.camera.Start(ctx); err != nil {
		cancel()
		_ = d.camera.Close()
		d.camera = nil
		return nil, err
	}
	d.cancel = cancel
	d.applySettings()

	return d.camera.GetOutput(), nil
}

// stop ends streaming and closes the node. The caller holds the lock.
func (d *Device) stop() error {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
		if d.done != nil {
			<-d.done
			d.done = nil
		} else {
			// let the stream goroutine reach its own Stop before Close
			time.Sleep(100 * time.Millisecond)
		}
	}
	if d.camera != nil {
		err := d.camera.Close()
		d.camera = nil
		return err
	}
	return nil
}

func (d *Device) applySettings() {
	if d.camera == nil {
		return
	}
	for k, v := range d.settings {
		if err := d.camera.SetControlValue(k, v); err != nil {
			logger.Warnf("set ctrl(%#x) to %d, err: %s", uint32(k), v, err)
		}
	}
}

func (d *Device) Control(ctx context.Context, cmd *device.ControlCmd) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.closed {
		return device.ErrClosed
	}
	status, err := d.handle(ctx, cmd)
	cmd.Status = status

	return err
}

func (d *Device) handle(ctx context.Context, cmd *device.ControlCmd) (device.Status, error) {
	switch cmd.Type {
	case device.CtrlSetDimension:
		dim, ok := cmd.Value.(*device.Dimension)
		if !ok {
			return device.StatusInvalidParm, nil
		}
		d.dim = *dim
	case device.CtrlSetEffect, device.CtrlSetWhiteBalance, device.CtrlSetAntibanding, device.CtrlSetZoom:
		v, ok := cmd.Value.(*int32)
		if !ok {
			return device.StatusInvalidParm, nil
		}
		return d.setControl(cmd.Type, *v), nil
	case device.CtrlGetMaxZoom:
		v, ok := cmd.Value.(*int32)
		if !ok {
			return device.StatusInvalidParm, nil
		}
		return d.maxZoom(v), nil
	case device.CtrlStartPreview:
		if err := d.startPreview(); err != nil {
			return device.StatusFailed, err
		}
	case device.CtrlStopPreview, device.CtrlExit:
		if err := d.stop(); err != nil {
			return device.StatusFailed, err
		}
	case device.CtrlStartSnapshot:
		if err := d.snapshot(ctx); err != nil {
			return device.StatusFailed, err
		}
	case device.CtrlStopSnapshot:
	case device.CtrlGetPicture:
		crop, ok := cmd.Value.(*device.Crop)
		if !ok {
			return device.StatusInvalidParm, nil
		}
		*crop = device.Crop{
			In1Width: d.dim.PictureWidth, In1Height: d.dim.PictureHeight,
			Out1Width: d.dim.PictureWidth, Out1Height: d.dim.PictureHeight,
			In2Width: d.dim.PictureWidth, In2Height: d.dim.PictureHeight,
			Out2Width: d.dim.ThumbnailWidth, Out2Height: d.dim.ThumbnailHeight,
			Update: true,
		}
	default:
		return device.StatusNotSupported, nil
	}

	return device.StatusSuccess, nil
}

func (d *Device) setControl(typ device.CtrlType, code int32) device.Status {
	id, value, ok := mapControl(typ, code)
	if !ok {
		logger.Warnf("%s value %d has no V4L2 equivalent", typ, code)
		return device.StatusNotSupported
	}
	d.settings[id] = value
	if d.camera == nil {
		return device.StatusSuccess
	}
	if err := d.camera.SetControlValue(id, value); err != nil {
		logger.Warnf("set ctrl(%#x) to %d, err: %s", uint32(id), value, err)
		return device.StatusFailed
	}

	return device.StatusSuccess
}

func (d *Device) maxZoom(out *int32) device.Status {
	camera := d.camera
	if camera == nil {
		var err error
		camera, err = dev.Open(d.path)
		if err != nil {
			logger.Errorf("open %s for max zoom: %s", d.path, err)
			return device.StatusFailed
		}
		defer camera.Close()
	}
	ctrl, err := v4l2.GetControl(camera.Fd(), CtrlZoomAbsolute)
	if err != nil {
		logger.Warnf("the device does not support zoom: %s", err)
		*out = 0
		return device.StatusSuccess
	}
	*out = ctrl.Maximum

	return device.StatusSuccess
}

func (d *Device) startPreview() error {
	if d.dim.PreviewWidth <= 0 || d.dim.PreviewHeight <= 0 {
		return errors.New("preview dimension not set")
	}
	frames, err := d.start(d.dim.PreviewWidth, d.dim.PreviewHeight, 2)
	if err != nil {
		return err
	}
	d.done = make(chan struct{})
	go d.pump(frames, d.dim.PreviewWidth, d.dim.PreviewHeight, d.done)

	return nil
}

// pump converts streamed frames into free preview slots until the stream
// closes. Frames arriving while every slot is busy are dropped.
func (d *Device) pump(frames <-chan []byte, width, height int, done chan struct{}) {
	defer close(done)

	need := width * height * 2
	for frame := range frames {
		if len(frame) < need {
			logger.Warnf("short frame: %d bytes, want %d", len(frame), need)
			continue
		}
		slot, ok := d.queue.Acquire()
		if !ok {
			continue
		}
		info := slot.Info
		utils.YUYVToNV21(info.Buf[info.YOffset:], frame, width, height)
		if info.CbCrOffset != width*height {
			copy(info.Buf[info.CbCrOffset:], info.Buf[width*height:width*height*3/2])
		}
		d.queue.Complete(slot)
	}
}

// snapshot grabs a single frame at picture size into the registered main
// image buffer and scales it into the thumbnail buffer.
func (d *Device) snapshot(ctx context.Context) error {
	main, ok := d.buffers.First(device.PmemMainImg, device.PmemRawMainImg)
	if !ok {
		return errors.New("no main image buffer registered")
	}
	w, h := d.dim.PictureWidth, d.dim.PictureHeight
	if len(main.Buf) < utils.YUV420SPSize(w, h) {
		return fmt.Errorf("main image buffer of %d bytes too small for %dx%d", len(main.Buf), w, h)
	}
	if err := d.stop(); err != nil {
		logger.Warnf("stop before snapshot: %s", err)
	}

	frames, err := d.start(w, h, 1)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.stop(); err != nil {
			logger.Warnf("stop after snapshot: %s", err)
		}
	}()

	var frame []byte
	select {
	case f, ok := <-frames:
		if !ok {
			return errors.New("capture stream closed")
		}
		frame = f
	case <-ctx.Done():
		return ctx.Err()
	}
	if len(frame) < w*h*2 {
		return fmt.Errorf("short snapshot frame: %d bytes", len(frame))
	}
	utils.YUYVToNV21(main.Buf, frame, w, h)

	if thumb, ok := d.buffers.First(device.PmemThumbnail); ok {
		tw, th := d.dim.ThumbnailWidth, d.dim.ThumbnailHeight
		if tw > 0 && th > 0 && len(thumb.Buf) >= utils.YUV420SPSize(tw, th) {
			utils.ScaleNV21(thumb.Buf, tw, th, main.Buf, w, h)
		}
	}

	return nil
}

func (d *Device) RegisterBuffer(info device.BufferInfo) error {
	if info.Type == device.PmemOutput2 {
		d.queue.Register(info)
		return nil
	}
	d.buffers.Add(info)
	return nil
}

func (d *Device) UnregisterBuffer(info device.BufferInfo) error {
	if info.Type == device.PmemOutput2 {
		if !d.queue.Unregister(info) {
			return fmt.Errorf("unregister unknown preview buffer at %d", info.Offset)
		}
		return nil
	}
	if !d.buffers.Remove(info) {
		return fmt.Errorf("unregister unknown %s buffer at %d", info.Type, info.Offset)
	}
	return nil
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

// ReleaseRecordingFrame is a no-op: frames are copied out of the stream
// buffers before they are queued.
func (d *Device) ReleaseRecordingFrame() error {
	return nil
}

func (d *Device) Close() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.queue.Close()
	return d.stop()
}
