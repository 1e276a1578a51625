// Package hal drives a capture device through preview, recording and
// snapshot sessions on behalf of a single camera client.
//
// All control-plane calls are serialized by one hardware lock. Preview
// frames are pumped by a capture goroutine, snapshots by a worker goroutine
// that hands the raw picture to an encode goroutine; none of them takes the
// hardware lock.
package hal

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"camhal/pkg/device"
	"camhal/pkg/encoder"
	"camhal/pkg/params"
	"camhal/pkg/types"
	"camhal/pkg/utils"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger().Named("hal")
}

const (
	DefaultPollTimeout    = time.Second
	DefaultPreviewBuffers = 4
	DefaultRawBuffers     = 1
	DefaultJpegBuffers    = 1
	DefaultZoomSettle     = 30 * time.Millisecond
	DefaultThumbnailPool  = "adsp"

	// ThumbnailBufferSize fits one default thumbnail in YUV 4:2:0.
	ThumbnailBufferSize = 192 * 144 * 3 / 2
)

// DefaultRawPoolPaths are tried in order when allocating the raw picture
// pool.
var DefaultRawPoolPaths = []string{"camera", "adsp"}

type Options struct {
	ControlTimeout time.Duration
	PollTimeout    time.Duration
	// JoinTimeout bounds the wait for the capture goroutine on preview
	// stop. Defaults to twice PollTimeout.
	JoinTimeout time.Duration

	PreviewBuffers int
	RawBuffers     int
	JpegBuffers    int

	RawPoolPaths      []string
	ThumbnailPoolPath string

	// ZoomSettle is the pause after a zoom change. Negative disables it.
	ZoomSettle time.Duration

	Defaults params.DefaultOptions
	// InitialEffect and InitialWhiteBalance seed the last-applied cache, so
	// parameters equal to them are not sent until they change.
	InitialEffect       int32
	InitialWhiteBalance int32
}

func (o *Options) setDefaults() {
	if o.ControlTimeout <= 0 {
		o.ControlTimeout = device.DefaultTimeout
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = DefaultPollTimeout
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = 2 * o.PollTimeout
	}
	if o.PreviewBuffers <= 0 {
		o.PreviewBuffers = DefaultPreviewBuffers
	}
	if o.RawBuffers <= 0 {
		o.RawBuffers = DefaultRawBuffers
	}
	if o.JpegBuffers <= 0 {
		o.JpegBuffers = DefaultJpegBuffers
	}
	if len(o.RawPoolPaths) == 0 {
		o.RawPoolPaths = DefaultRawPoolPaths
	}
	if o.ThumbnailPoolPath == "" {
		o.ThumbnailPoolPath = DefaultThumbnailPool
	}
	if o.ZoomSettle < 0 {
		o.ZoomSettle = 0
	} else if o.ZoomSettle == 0 {
		o.ZoomSettle = DefaultZoomSettle
	}
	if o.InitialEffect == 0 {
		o.InitialEffect = params.EffectOff
	}
	if o.InitialWhiteBalance == 0 {
		o.InitialWhiteBalance = params.WBAuto
	}
}

type Hardware struct {
	opts Options
	dev  device.Device
	ch   *device.Channel
	enc  encoder.Encoder

	// lifetime of the instance, parent of the worker contexts
	ctx    context.Context
	cancel context.CancelFunc

	lock     sync.Mutex
	params   params.Parameters
	settings params.Settings
	dim      device.Dimension
	preview  *previewRun
	released bool

	// a capture goroutine that outlived its join timeout
	lingering *previewRun

	// last values sent to the device
	effect       int32
	whiteBalance int32
	antibanding  int32
	zoom         int32
	maxZoom      int32

	session    *session
	msgEnabled atomic.Int32
	running    atomic.Bool
	recording  atomic.Bool

	cbMu sync.RWMutex
	cb   Callbacks

	recordMu      sync.Mutex
	recordWait    *sync.Cond
	recordRelease bool

	snapMu   sync.Mutex
	snapDone chan struct{}
	snapJob  *snapshotJob

	shutterMu      sync.Mutex
	shutterPending bool
}

// New builds a hardware instance on dev and enc and applies the default
// parameters.
func New(dev device.Device, enc encoder.Encoder, opts Options) (*Hardware, error) {
	opts.setDefaults()

	if err := enc.Init(); err != nil {
		logger.Errorf("jpeg encoder init failed: %s", err)
		return nil, err
	}

	h := &Hardware{
		opts:         opts,
		dev:          dev,
		ch:           device.NewChannel(dev, opts.ControlTimeout),
		enc:          enc,
		effect:       opts.InitialEffect,
		whiteBalance: opts.InitialWhiteBalance,
		antibanding:  params.NotFound,
		zoom:         params.NotFound,
		maxZoom:      -1,
		session:      newSession(),
		cb:           CallbackFuncs{},
	}
	h.recordWait = sync.NewCond(&h.recordMu)
	h.ctx, h.cancel = context.WithCancel(context.Background())

	if err := h.SetParameters(context.Background(), params.Defaults(opts.Defaults)); err != nil {
		logger.Errorf("failed to set default parameters: %s", err)
		h.cancel()
		return nil, err
	}
	logger.Infof("hardware ready: preview %s, picture %s", h.settings.Preview, h.settings.Picture)

	return h, nil
}

func (h *Hardware) SetCallbacks(cb Callbacks) {
	if cb == nil {
		cb = CallbackFuncs{}
	}
	h.cbMu.Lock()
	h.cb = cb
	h.cbMu.Unlock()
}

func (h *Hardware) callbacks() Callbacks {
	h.cbMu.RLock()
	defer h.cbMu.RUnlock()
	return h.cb
}

func (h *Hardware) EnableMsgType(msg types.MsgType) {
	logger.Debugf("enable msg type %s", msg)
	h.msgEnabled.Or(int32(msg))
}

func (h *Hardware) DisableMsgType(msg types.MsgType) {
	logger.Debugf("disable msg type %s", msg)
	h.msgEnabled.And(^int32(msg))
}

func (h *Hardware) MsgTypeEnabled(msg types.MsgType) bool {
	return h.msgEnabled.Load()&int32(msg) != 0
}

func (h *Hardware) msgMask() types.MsgType {
	return types.MsgType(h.msgEnabled.Load())
}

// SetParameters validates p and makes it current. While preview is running
// the effect, white balance, antibanding and zoom settings are applied at
// once, each only when it differs from the value last sent.
func (h *Hardware) SetParameters(ctx context.Context, p params.Parameters) error {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.released {
		return ErrReleased
	}
	s, err := params.Validate(p)
	if err != nil {
		logger.Errorf("set parameters: %s", err)
		return err
	}
	h.dim.PreviewWidth, h.dim.PreviewHeight = s.Preview.Width, s.Preview.Height
	h.dim.PictureWidth, h.dim.PictureHeight = s.Picture.Width, s.Picture.Height
	h.dim.ThumbnailWidth, h.dim.ThumbnailHeight = s.Thumbnail.Width, s.Thumbnail.Height
	h.params = p.Clone()
	h.settings = s

	if h.running.Load() {
		h.setEffect(ctx)
		h.setWhiteBalance(ctx)
		h.setAntibanding(ctx)
		h.setZoom(ctx)
	}

	return nil
}

func (h *Hardware) Parameters() params.Parameters {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.params.Clone()
}

// setCached sends value with set unless it is NotFound or equal to *cache.
// The cache only moves on success so a failed value is retried next time.
func (h *Hardware) setCached(ctx context.Context, name string, value int32, cache *int32,
	set func(context.Context, int32) error) {
	if value == params.NotFound || value == *cache {
		return
	}
	if err := set(ctx, value); err != nil {
		logger.Errorf("set %s to %d: %s", name, value, err)
		return
	}
	*cache = value
}

func (h *Hardware) setEffect(ctx context.Context) {
	h.setCached(ctx, params.KeyEffect, h.settings.Effect, &h.effect, h.ch.SetEffect)
}

func (h *Hardware) setWhiteBalance(ctx context.Context) {
	h.setCached(ctx, params.KeyWhiteBalance, h.settings.WhiteBalance, &h.whiteBalance, h.ch.SetWhiteBalance)
}

func (h *Hardware) setAntibanding(ctx context.Context) {
	h.setCached(ctx, params.KeyAntibanding, h.settings.Antibanding, &h.antibanding, h.ch.SetAntibanding)
}

func (h *Hardware) setZoom(ctx context.Context) {
	if h.maxZoom == -1 {
		z, err := h.ch.GetMaxZoom(ctx)
		if err != nil {
			logger.Errorf("get max zoom: %s", err)
			return
		}
		h.maxZoom = z
	}

	value := h.settings.ZoomValue()
	if value < 0 || value > h.maxZoom || value == h.zoom {
		return
	}
	if err := h.ch.SetZoom(ctx, value); err != nil {
		logger.Errorf("set zoom to %d: %s", value, err)
	} else {
		h.zoom = value
	}
	time.Sleep(h.opts.ZoomSettle)
}

func (h *Hardware) StartPreview(ctx context.Context) error {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.released {
		return ErrReleased
	}
	return h.startPreviewInternal(ctx)
}

func (h *Hardware) startPreviewInternal(ctx context.Context) error {
	logger.Debug("start preview")
	if h.running.Load() {
		logger.Debug("preview already running")
		return nil
	}

	if h.preview == nil {
		if err := h.initPreview(ctx); err != nil {
			logger.Errorf("init preview failed, not starting preview: %s", err)
			return err
		}
	}

	if err := h.ch.StartPreview(ctx); err != nil {
		if e := h.deinitPreview(); e != nil {
			logger.Warnf("roll back preview: %s", e)
		}
		logger.Errorf("start preview failed: %s", err)
		return err
	}
	h.running.Store(true)
	h.session.fire(evStartPreview)

	return nil
}

// StopPreview is ignored while video frames are enabled; recording keeps
// the preview alive until StopRecording.
func (h *Hardware) StopPreview(ctx context.Context) error {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.MsgTypeEnabled(types.MsgVideoFrame) {
		logger.Debug("stop preview ignored while video frames are enabled")
		return nil
	}
	return h.stopPreviewInternal(ctx)
}

func (h *Hardware) stopPreviewInternal(ctx context.Context) error {
	if !h.running.Load() {
		return nil
	}
	logger.Debug("stopping preview")
	if err := h.ch.StopPreview(ctx); err != nil {
		logger.Errorf("failed to stop preview: %s", err)
		return err
	}
	h.running.Store(false)
	err := h.deinitPreview()
	h.session.fire(evStopPreview)

	return err
}

// PreviewEnabled reports whether preview frames are being delivered.
func (h *Hardware) PreviewEnabled() bool {
	return h.running.Load() && h.MsgTypeEnabled(types.MsgPreviewFrame)
}

// State is the current session mode: idle, previewing, recording or
// capturing.
func (h *Hardware) State() string {
	st := h.session.current()
	if st == StatePreviewing && h.RecordingEnabled() {
		return StateRecording
	}
	return st
}

// AutoFocus reports immediate success: the lens has a fixed focus.
func (h *Hardware) AutoFocus() error {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.MsgTypeEnabled(types.MsgFocus) {
		h.callbacks().Notify(types.MsgFocus, 1, 0)
	}
	return nil
}

func (h *Hardware) CancelAutoFocus() error {
	return nil
}

func (h *Hardware) CancelPicture() error {
	logger.Debug("cancel picture")
	return nil
}

func (h *Hardware) SendCommand(cmd, arg1, arg2 int32) error {
	logger.Debugf("send command %d(%d, %d)", cmd, arg1, arg2)
	return ErrUnsupported
}

// Release stops every activity, waits for an in-flight snapshot, tells the
// device to exit and closes it. The instance is unusable afterwards.
func (h *Hardware) Release(ctx context.Context) error {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.released {
		logger.Error("multiple release")
		return ErrReleased
	}
	logger.Info("release")

	var err error
	if h.running.Load() {
		h.wakeRecording()
		err = multierr.Append(err, h.stopPreviewInternal(ctx))
	}
	if h.preview != nil {
		// the device refused to stop; tear the capture path down anyway
		h.running.Store(false)
		err = multierr.Append(err, h.deinitPreview())
		h.session.fire(evStopPreview)
	}
	h.recording.Store(false)
	if e := h.waitLingering(ctx); e != nil && !errors.Is(err, ErrThread) {
		err = multierr.Append(err, e)
	}

	if e := h.waitSnapshot(ctx); e != nil {
		err = multierr.Append(err, e)
	}
	if e := h.ch.Exit(ctx); e != nil {
		logger.Errorf("exit: %s", e)
		err = multierr.Append(err, e)
	}

	h.released = true
	h.cancel()
	h.dim.Reset()
	err = multierr.Append(err, h.enc.Close())
	err = multierr.Append(err, h.dev.Close())
	logger.Info("release done")

	return err
}
