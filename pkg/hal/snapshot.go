package hal

import (
	"context"
	"sync/atomic"

	"go.uber.org/multierr"

	"camhal/pkg/device"
	"camhal/pkg/memory"
	"camhal/pkg/params"
	"camhal/pkg/types"
)

// snapshotJob owns everything one picture needs once the worker runs:
// its pools and a frozen copy of the parameters.
type snapshotJob struct {
	settings params.Settings
	params   params.Parameters

	thumb *memory.Pool
	raw   *memory.Pool
	jpeg  *memory.Pool

	// bytes of compressed output written into jpeg; written by the
	// encoder goroutine and read by Dump
	jpegSize atomic.Int64
}

func (j *snapshotJob) release() error {
	var err error
	for _, p := range []*memory.Pool{j.thumb, j.raw, j.jpeg} {
		if p != nil {
			err = multierr.Append(err, p.Release())
		}
	}
	return err
}

// TakePicture stops preview and starts a snapshot. It waits for a previous
// snapshot to finish first. An error means no worker was started.
func (h *Hardware) TakePicture(ctx context.Context) error {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.released {
		return ErrReleased
	}
	if h.recording.Load() {
		logger.Error("take picture while recording")
		return ErrBusy
	}
	logger.Info("take picture")

	if err := h.waitSnapshot(ctx); err != nil {
		return err
	}
	if h.running.Load() {
		if err := h.stopPreviewInternal(ctx); err != nil {
			return err
		}
	}

	job, err := h.initRaw(ctx, h.MsgTypeEnabled(types.MsgCompressedImage))
	if err != nil {
		logger.Errorf("init raw failed, not taking picture: %s", err)
		return err
	}

	h.shutterMu.Lock()
	h.shutterPending = true
	h.shutterMu.Unlock()

	done := make(chan struct{})
	h.snapMu.Lock()
	h.snapDone = done
	h.snapJob = job
	h.snapMu.Unlock()
	h.session.fire(evTakePicture)

	go h.runSnapshot(job, done)

	return nil
}

// waitSnapshot blocks until no snapshot worker is in flight.
func (h *Hardware) waitSnapshot(ctx context.Context) error {
	h.snapMu.Lock()
	done := h.snapDone
	h.snapMu.Unlock()
	if done == nil {
		return nil
	}

	logger.Debug("waiting for old snapshot thread to complete")
	select {
	case <-done:
		logger.Debug("old snapshot thread completed")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// initRaw programs the picture geometry and allocates the thumbnail, raw
// and, with withJpeg, compressed output pools. On failure everything
// allocated so far is released.
func (h *Hardware) initRaw(ctx context.Context, withJpeg bool) (*snapshotJob, error) {
	s := h.settings
	logger.Debugf("init raw: picture size %s", s.Picture)

	h.dim.PictureWidth, h.dim.PictureHeight = s.Picture.Width, s.Picture.Height
	rawSize := s.RawSize()
	jpegMaxSize := rawSize

	if err := h.ch.SetDimension(ctx, &h.dim); err != nil {
		return nil, err
	}

	job := &snapshotJob{settings: s, params: h.params.Clone()}

	thumbSize := max(ThumbnailBufferSize, s.Thumbnail.Area()*3/2)
	thumb, err := memory.NewPmemPool(h.opts.ThumbnailPoolPath, "thumbnail", h.dev,
		device.PmemThumbnail, thumbSize, 1, thumbSize, 0)
	if err != nil {
		_ = thumb.Release()
		return nil, err
	}
	job.thumb = thumb

	var raw *memory.Pool
	for i, path := range h.opts.RawPoolPaths {
		raw, err = memory.NewPmemPool(path, "snapshot", h.dev,
			device.PmemMainImg, jpegMaxSize, h.opts.RawBuffers, rawSize, 0)
		if err == nil {
			break
		}
		_ = raw.Release()
		if i+1 < len(h.opts.RawPoolPaths) {
			logger.Errorf("init raw failed with %s, trying with %s", path, h.opts.RawPoolPaths[i+1])
		}
	}
	if err != nil {
		_ = job.release()
		return nil, err
	}
	job.raw = raw

	if withJpeg {
		jpeg, err := memory.NewAshmemPool("jpeg", jpegMaxSize, h.opts.JpegBuffers, 0, 0)
		if err != nil {
			_ = jpeg.Release()
			_ = job.release()
			return nil, err
		}
		job.jpeg = jpeg
	}

	return job, nil
}

// runSnapshot is the snapshot worker. Whatever happens, the pools are
// released and waiters are woken when it returns.
func (h *Hardware) runSnapshot(job *snapshotJob, done chan struct{}) {
	defer func() {
		if err := job.release(); err != nil {
			logger.Errorf("release snapshot pools: %s", err)
		}
		h.session.fire(evSnapshotDone)

		h.snapMu.Lock()
		h.snapDone = nil
		h.snapJob = nil
		h.snapMu.Unlock()
		close(done)
		logger.Debug("snapshot thread done")
	}()

	if err := h.ch.StartSnapshot(h.ctx); err != nil {
		logger.Errorf("start snapshot failed: %s", err)
		h.notifyError()
		return
	}
	h.receiveRawPicture(h.ctx, job)
}

func (h *Hardware) notifyShutter() {
	h.shutterMu.Lock()
	defer h.shutterMu.Unlock()
	if h.shutterPending && h.MsgTypeEnabled(types.MsgShutter) {
		h.callbacks().Notify(types.MsgShutter, 0, 0)
		h.shutterPending = false
	}
}

func (h *Hardware) notifyError() {
	if h.MsgTypeEnabled(types.MsgError) {
		h.callbacks().Notify(types.MsgError, 0, 0)
	}
}

func (h *Hardware) receiveRawPicture(ctx context.Context, job *snapshotJob) {
	h.notifyShutter()

	if h.MsgTypeEnabled(types.MsgRawImage) {
		if _, err := h.ch.GetPicture(ctx); err != nil {
			logger.Errorf("get picture failed: %s", err)
			h.stopSnapshot(ctx)
			h.notifyError()
			return
		}
		if buf, ok := job.raw.Buffer(0); ok {
			h.callbacks().Data(types.MsgRawImage, buf)
		}
	} else {
		logger.Debug("raw-picture callback was canceled, skipping")
	}
	h.stopSnapshot(ctx)

	if job.jpeg == nil || !h.MsgTypeEnabled(types.MsgCompressedImage) {
		logger.Debug("compressed image not requested, not encoding")
		return
	}
	if err := h.encode(job); err != nil {
		logger.Errorf("jpeg encoding failed: %s", err)
		h.notifyError()
	}
}

func (h *Hardware) stopSnapshot(ctx context.Context) {
	if err := h.ch.StopSnapshot(ctx); err != nil {
		logger.Warnf("stop snapshot: %s", err)
	}
}
