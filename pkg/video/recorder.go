package video

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"camhal/pkg/memory"
	"camhal/pkg/types"
	"camhal/pkg/utils"
)

const DefaultQuality = 80

var ErrClosed = errors.New("video is closed")

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger().Named("video")
}

// FrameReleaser hands a recording frame back to the camera.
type FrameReleaser interface {
	ReleaseRecordingFrame() error
}

type RecorderOptions struct {
	Size types.Size
	FPS  int
	// Quality of each JPEG frame, DefaultQuality when zero.
	Quality int
	// MaxFrames stops accepting frames once reached. Zero means no limit.
	MaxFrames int
}

// Recorder turns NV21 recording frames into an MJPEG AVI. Its
// DataTimestamp method is meant to be used as the video frame callback.
type Recorder struct {
	opts     RecorderOptions
	b        *Builder
	releaser FrameReleaser

	buf      bytes.Buffer
	first    time.Time
	last     time.Time
	done     chan struct{}
	doneOnce sync.Once
}

func NewRecorder(path string, releaser FrameReleaser, opts RecorderOptions) (*Recorder, error) {
	if opts.Quality <= 0 {
		opts.Quality = DefaultQuality
	}
	b, err := NewBuilder(path, opts.Size.Width, opts.Size.Height, opts.FPS)
	if err != nil {
		return nil, err
	}

	return &Recorder{
		opts:     opts,
		b:        b,
		releaser: releaser,
		done:     make(chan struct{}),
	}, nil
}

// DataTimestamp encodes one video frame and releases it back to the
// camera, whether or not it could be stored.
func (r *Recorder) DataTimestamp(ts time.Time, msg types.MsgType, buf memory.Buffer) {
	if msg != types.MsgVideoFrame {
		return
	}
	defer func() {
		if err := r.releaser.ReleaseRecordingFrame(); err != nil {
			logger.Errorf("release recording frame: %s", err)
		}
	}()

	select {
	case <-r.done:
		return
	default:
	}

	w, h := r.opts.Size.Width, r.opts.Size.Height
	data := buf.Bytes()
	if len(data) < utils.YUV420SPSize(w, h) {
		logger.Errorf("video frame of %d bytes is too small for %s", len(data), r.opts.Size)
		return
	}

	r.buf.Reset()
	if err := utils.EncodeJPEG(utils.DecodeNV21(data, w, h), &r.buf, r.opts.Quality); err != nil {
		logger.Errorf("encode video frame: %s", err)
		return
	}
	if err := r.b.Add(r.buf.Bytes()); err != nil {
		logger.Errorf("add video frame: %s", err)
		return
	}
	if r.first.IsZero() {
		r.first = ts
	}
	r.last = ts

	if r.opts.MaxFrames > 0 && r.b.GetCnt() >= r.opts.MaxFrames {
		r.doneOnce.Do(func() { close(r.done) })
	}
}

// Done is closed once MaxFrames frames have been stored.
func (r *Recorder) Done() <-chan struct{} {
	return r.done
}

func (r *Recorder) Frames() int {
	return r.b.GetCnt()
}

// Span is the time between the first and the last stored frame.
func (r *Recorder) Span() time.Duration {
	return r.last.Sub(r.first)
}

func (r *Recorder) Close() error {
	r.doneOnce.Do(func() { close(r.done) })
	return r.b.Close()
}
