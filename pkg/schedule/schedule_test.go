package schedule

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"camhal/pkg/device/sim"
	"camhal/pkg/encoder"
	"camhal/pkg/hal"
	"camhal/pkg/memory"
	"camhal/pkg/storage"
	"camhal/pkg/types"
)

// fakeCamera delivers image through deliver after every TakePicture.
type fakeCamera struct {
	pool    *memory.Pool
	image   []byte
	deliver func(types.MsgType, memory.Buffer)
	taken   atomic.Int32
}

func (c *fakeCamera) TakePicture(context.Context) error {
	c.taken.Add(1)
	if c.image == nil {
		return nil
	}
	go func() {
		copy(c.pool.Bytes(), c.image)
		buf, err := c.pool.Slice(0, 0, len(c.image))
		if err != nil {
			panic(err)
		}
		c.deliver(types.MsgCompressedImage, buf)
	}()
	return nil
}

func newSession(t *testing.T, interval time.Duration) *storage.Session {
	t.Helper()
	stg, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	p, err := stg.NewSession("test", "", interval, "")
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestCapture(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := memory.NewAshmemPool("jpeg", 64, 1, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Release()

	cam := &fakeCamera{pool: pool, image: []byte{0xff, 0xd8, 7, 0xff, 0xd9}}
	s := New(ctx, cam)
	cam.deliver = s.Data

	if _, err = s.Capture(ctx); err == nil {
		t.Error("capture without a session succeeded")
	}

	p := newSession(t, time.Hour)
	s.Begin(p)
	var after atomic.Int32
	s.AfterCapture = func(context.Context) { after.Add(1) }

	name, err := s.Capture(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got, err := p.GetImage(name)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, cam.image) {
		t.Errorf("saved %v", got)
	}
	if after.Load() != 1 {
		t.Errorf("after capture ran %d times", after.Load())
	}
}

func TestCaptureTimeout(t *testing.T) {
	ctx := context.Background()
	cam := &fakeCamera{}
	s := New(ctx, cam)
	s.timeout = 50 * time.Millisecond
	s.Begin(newSession(t, time.Hour))

	if _, err := s.Capture(ctx); !errors.Is(err, ErrCaptureTimeout) {
		t.Errorf("err = %v", err)
	}
}

func TestTicker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := memory.NewAshmemPool("jpeg", 64, 1, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Release()

	cam := &fakeCamera{pool: pool, image: []byte{0xff, 0xd8, 0xff, 0xd9}}
	s := New(ctx, cam)
	cam.deliver = s.Data

	p := newSession(t, 20*time.Millisecond)
	s.Begin(p)
	deadline := time.Now().Add(5 * time.Second)
	for {
		info, err := p.ImagesInfo()
		if err != nil {
			t.Fatal(err)
		}
		if info.MaxNumber >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("%d pictures after 5s", info.MaxNumber)
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.Stop()
	if s.GetSession() != nil {
		t.Error("session kept after stop")
	}
	// let an in-flight tick drain
	time.Sleep(50 * time.Millisecond)
	n := cam.taken.Load()
	time.Sleep(100 * time.Millisecond)
	if cam.taken.Load() != n {
		t.Error("pictures taken after stop")
	}
}

func TestCaptureWithHardware(t *testing.T) {
	ctx := context.Background()
	hw, err := hal.New(sim.New(sim.Options{FPS: 30}), encoder.NewSoftware(0), hal.Options{
		PollTimeout: 100 * time.Millisecond,
		ZoomSettle:  -1,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer hw.Release(ctx)

	p := hw.Parameters()
	p.SetPictureSize(types.Size{Width: 1024, Height: 768})
	if err = hw.SetParameters(ctx, p); err != nil {
		t.Fatal(err)
	}

	s := New(ctx, hw)
	hw.SetCallbacks(hal.CallbackFuncs{DataFunc: s.Data})
	hw.EnableMsgType(types.MsgCompressedImage)
	s.AfterCapture = func(ctx context.Context) {
		if err := hw.StartPreview(ctx); err != nil {
			t.Errorf("resume preview: %s", err)
		}
	}
	s.Begin(newSession(t, time.Hour))

	if err = hw.StartPreview(ctx); err != nil {
		t.Fatal(err)
	}
	name, err := s.Capture(ctx)
	if err != nil {
		t.Fatal(err)
	}
	img, err := s.GetSession().GetImage(name)
	if err != nil {
		t.Fatal(err)
	}
	if len(img) < 4 || img[0] != 0xff || img[1] != 0xd8 {
		t.Error("saved picture is not a JPEG")
	}
	if hw.State() != hal.StatePreviewing {
		t.Errorf("state %s after capture", hw.State())
	}
}
