package hal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"camhal/pkg/device"
	"camhal/pkg/memory"
	"camhal/pkg/types"
)

// previewRun is one preview session: the pool, the frames registered out
// of it and the capture goroutine pumping them.
type previewRun struct {
	pool   *memory.Pool
	frames []device.BufferInfo
	cancel context.CancelFunc

	// done is closed when the capture goroutine returns, released once the
	// frames are unregistered and the pool is unmapped.
	done     chan struct{}
	released chan struct{}
}

// initPreview allocates the preview pool, programs the geometry, registers
// every frame and only then starts the capture goroutine. The caller holds
// the hardware lock.
func (h *Hardware) initPreview(ctx context.Context) error {
	if err := h.waitLingering(ctx); err != nil {
		return err
	}
	if err := h.waitSnapshot(ctx); err != nil {
		return err
	}

	size := h.settings.Preview
	frameSize := h.settings.FrameSize()
	pool, err := memory.NewPreviewPool("preview", size.Area()*2, h.opts.PreviewBuffers, frameSize, 0)
	if err != nil {
		_ = pool.Release()
		logger.Errorf("could not initialize preview pool: %s", err)
		return err
	}

	if err = h.ch.SetDimension(ctx, &h.dim); err != nil {
		_ = pool.Release()
		return err
	}

	run := &previewRun{pool: pool, done: make(chan struct{}), released: make(chan struct{})}
	last := pool.Count() - 1
	for cnt := 0; cnt <= last; cnt++ {
		info, err := pool.SlotInfo(cnt)
		if err != nil {
			h.unregisterFrames(run)
			_ = pool.Release()
			return err
		}
		info.YOffset = 0
		info.CbCrOffset = device.AlignOffset(size.Area())
		// the last slot is a spare the device falls back to
		info.Active = cnt != last

		if err = h.dev.RegisterBuffer(info); err != nil {
			logger.Errorf("register preview frame %d: %s", cnt, err)
			h.unregisterFrames(run)
			_ = pool.Release()
			return fmt.Errorf("%w: register preview frame %d: %w", memory.ErrAllocation, cnt, err)
		}
		run.frames = append(run.frames, info)
	}

	var frameCtx context.Context
	frameCtx, run.cancel = context.WithCancel(h.ctx)
	go h.frameLoop(frameCtx, run)
	h.preview = run
	logger.Debugf("preview thread started, %d frames of %d bytes", len(run.frames), frameSize)

	return nil
}

// deinitPreview stops the capture goroutine, waiting at most the join
// timeout, then unregisters the frames and releases the pool. A goroutine
// that outlives the timeout may still be inside a client callback reading
// the pool, so the release is left to it and ErrThread is returned. The
// caller holds the hardware lock.
func (h *Hardware) deinitPreview() error {
	run := h.preview
	if run == nil {
		return nil
	}
	h.preview = nil

	run.cancel()
	h.wakeRecording()

	select {
	case <-run.done:
		logger.Debug("preview thread stopped")
	case <-time.After(h.opts.JoinTimeout):
		logger.Errorf("preview thread still running after %s, releasing the preview pool once it exits",
			h.opts.JoinTimeout)
		h.lingering = run
		go func() {
			<-run.done
			if err := h.releasePreview(run); err != nil {
				logger.Errorf("release preview pool: %s", err)
			}
			logger.Debug("late preview thread stopped")
		}()
		return ErrThread
	}

	return h.releasePreview(run)
}

func (h *Hardware) releasePreview(run *previewRun) error {
	defer close(run.released)
	err := h.unregisterFrames(run)
	return multierr.Append(err, run.pool.Release())
}

// waitLingering waits, at most the join timeout, for a capture goroutine
// that outlived deinitPreview to exit and free its pool. A new preview must
// not start next to it. The caller holds the hardware lock.
func (h *Hardware) waitLingering(ctx context.Context) error {
	run := h.lingering
	if run == nil {
		return nil
	}

	t := time.NewTimer(h.opts.JoinTimeout)
	defer t.Stop()
	select {
	case <-run.released:
		h.lingering = nil
		return nil
	case <-t.C:
		logger.Error("previous preview thread is still running")
		return ErrThread
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hardware) unregisterFrames(run *previewRun) error {
	var err error
	for _, info := range run.frames {
		if e := h.dev.UnregisterBuffer(info); e != nil {
			logger.Errorf("unregister preview frame at %d: %s", info.Offset, e)
			err = multierr.Append(err, e)
		}
	}
	run.frames = nil
	return err
}

// frameLoop waits for completed frames, hands each slot straight back to
// the device and dispatches it. It exits when ctx is cancelled or the
// device fails.
func (h *Hardware) frameLoop(ctx context.Context, run *previewRun) {
	defer close(run.done)

	for ctx.Err() == nil {
		ready, err := h.dev.WaitFrame(ctx, h.opts.PollTimeout)
		if err != nil {
			if ctx.Err() == nil {
				logger.Errorf("wait frame failed: %s", err)
			}
			return
		}
		if !ready {
			logger.Debug("frame is not ready")
			continue
		}

		frame, err := h.dev.GetFrame(ctx)
		if err != nil {
			if errors.Is(err, device.ErrClosed) {
				return
			}
			logger.Errorf("get frame: %s", err)
			continue
		}
		if err = h.dev.ReleaseFrame(frame); err != nil {
			logger.Errorf("release frame: %s", err)
			continue
		}
		h.receivePreviewFrame(ctx, run, frame)
	}
}

func (h *Hardware) receivePreviewFrame(ctx context.Context, run *previewRun, frame *device.Frame) {
	if !h.running.Load() {
		logger.Debug("ignoring preview frame, camera has been stopped")
		return
	}

	buf, ok := run.pool.Buffer(frame.Offset / run.pool.BufferSize())
	if !ok {
		logger.Errorf("frame at offset %d is outside the preview pool", frame.Offset)
		return
	}

	mask := h.msgMask()
	cb := h.callbacks()
	if mask&types.MsgPreviewFrame != 0 {
		cb.Data(types.MsgPreviewFrame, buf)
	}

	if mask&types.MsgVideoFrame == 0 || !h.recording.Load() {
		return
	}
	cb.DataTimestamp(time.Now(), types.MsgVideoFrame, buf)

	h.recordMu.Lock()
	defer h.recordMu.Unlock()
	if !h.recordRelease {
		logger.Debug("block for release frame request")
		if err := h.dev.ReleaseRecordingFrame(); err != nil {
			logger.Errorf("release recording frame: %s", err)
		}
		for !h.recordRelease && ctx.Err() == nil {
			h.recordWait.Wait()
		}
	}
	h.recordRelease = false
}

// wakeRecording releases a capture goroutine blocked on a recording frame.
func (h *Hardware) wakeRecording() {
	h.recordMu.Lock()
	h.recordRelease = true
	h.recordWait.Broadcast()
	h.recordMu.Unlock()
}

func (h *Hardware) StartRecording(ctx context.Context) error {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.released {
		return ErrReleased
	}
	logger.Info("start recording")

	h.recordMu.Lock()
	h.recordRelease = false
	h.recordMu.Unlock()
	h.recording.Store(true)

	if err := h.startPreviewInternal(ctx); err != nil {
		h.recording.Store(false)
		return err
	}
	return nil
}

// StopRecording ends recording. Preview keeps running when preview frames
// are still enabled.
func (h *Hardware) StopRecording(ctx context.Context) error {
	h.lock.Lock()
	defer h.lock.Unlock()

	logger.Info("stop recording")
	h.wakeRecording()
	h.recording.Store(false)

	if h.MsgTypeEnabled(types.MsgPreviewFrame) {
		logger.Debug("stop recording, preview still in progress")
		return nil
	}
	return h.stopPreviewInternal(ctx)
}

func (h *Hardware) RecordingEnabled() bool {
	return h.running.Load() && h.recording.Load()
}

// ReleaseRecordingFrame lets the capture goroutine return the current
// recording frame to the device and move on. It only takes the record lock,
// so it may be called from inside the video frame callback.
func (h *Hardware) ReleaseRecordingFrame() error {
	if !h.recording.Load() {
		logger.Debug("release recording frame while not recording")
		return nil
	}

	h.recordMu.Lock()
	defer h.recordMu.Unlock()
	if err := h.dev.ReleaseRecordingFrame(); err != nil {
		logger.Errorf("release recording frame: %s", err)
	}
	h.recordRelease = true
	h.recordWait.Signal()

	return nil
}
