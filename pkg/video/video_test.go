package video

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"camhal/pkg/device/sim"
	"camhal/pkg/encoder"
	"camhal/pkg/hal"
	"camhal/pkg/memory"
	"camhal/pkg/types"
	"camhal/pkg/utils"
)

type countingReleaser struct {
	n atomic.Int32
}

func (r *countingReleaser) ReleaseRecordingFrame() error {
	r.n.Add(1)
	return nil
}

func TestRecorder(t *testing.T) {
	size := types.Size{Width: 64, Height: 48}
	frameSize := utils.YUV420SPSize(size.Width, size.Height)
	pool, err := memory.NewAshmemPool("preview", frameSize, 1, frameSize, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Release()
	buf, ok := pool.Buffer(0)
	if !ok {
		t.Fatal("no preview buffer")
	}

	path := filepath.Join(t.TempDir(), "out.avi")
	rel := &countingReleaser{}
	r, err := NewRecorder(path, rel, RecorderOptions{Size: size, FPS: 10, MaxFrames: 3})
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	for i := 0; i < 5; i++ {
		r.DataTimestamp(start.Add(time.Duration(i)*100*time.Millisecond), types.MsgVideoFrame, buf)
	}
	// other messages are ignored and not released
	r.DataTimestamp(start, types.MsgPreviewFrame, buf)

	select {
	case <-r.Done():
	default:
		t.Fatal("recorder not done after max frames")
	}
	if r.Frames() != 3 {
		t.Errorf("%d frames stored", r.Frames())
	}
	if rel.n.Load() != 5 {
		t.Errorf("%d frames released, want every video frame", rel.n.Load())
	}
	if r.Span() != 200*time.Millisecond {
		t.Errorf("span %s", r.Span())
	}
	if err = r.Close(); err != nil {
		t.Fatal(err)
	}
	if err = r.Close(); err != nil {
		t.Errorf("second close: %s", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte("RIFF")) {
		t.Error("output is not an AVI file")
	}
}

func TestRecorderShortFrame(t *testing.T) {
	pool, err := memory.NewAshmemPool("preview", 16, 1, 16, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Release()
	buf, _ := pool.Buffer(0)

	rel := &countingReleaser{}
	r, err := NewRecorder(filepath.Join(t.TempDir(), "out.avi"), rel,
		RecorderOptions{Size: types.Size{Width: 64, Height: 48}, FPS: 10})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	r.DataTimestamp(time.Now(), types.MsgVideoFrame, buf)
	if r.Frames() != 0 || rel.n.Load() != 1 {
		t.Errorf("frames %d, released %d", r.Frames(), rel.n.Load())
	}
}

func TestRecordFromHardware(t *testing.T) {
	ctx := context.Background()
	hw, err := hal.New(sim.New(sim.Options{FPS: 30}), encoder.NewSoftware(0), hal.Options{
		PollTimeout: 100 * time.Millisecond,
		ZoomSettle:  -1,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer hw.Release(ctx)

	size, err := hw.Parameters().PreviewSize()
	if err != nil {
		t.Fatal(err)
	}
	r, err := NewRecorder(filepath.Join(t.TempDir(), "rec.avi"), hw,
		RecorderOptions{Size: size, FPS: 30, MaxFrames: 5})
	if err != nil {
		t.Fatal(err)
	}

	hw.SetCallbacks(hal.CallbackFuncs{DataTimestampFunc: r.DataTimestamp})
	hw.EnableMsgType(types.MsgVideoFrame)
	if err = hw.StartRecording(ctx); err != nil {
		t.Fatal(err)
	}

	select {
	case <-r.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("%d frames after 10s", r.Frames())
	}
	if err = hw.StopRecording(ctx); err != nil {
		t.Fatal(err)
	}
	if hw.State() != hal.StateIdle || hw.RecordingEnabled() {
		t.Errorf("state %s after stop recording", hw.State())
	}
	if err = r.Close(); err != nil {
		t.Fatal(err)
	}
	if r.Frames() != 5 {
		t.Errorf("%d frames", r.Frames())
	}
}
