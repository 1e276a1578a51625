package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"camhal/pkg/device"
)

func previewSlots(w, h, n int) []device.BufferInfo {
	size := w * h * 2
	mem := make([]byte, size*n)
	infos := make([]device.BufferInfo, n)
	for i := range infos {
		infos[i] = device.BufferInfo{
			Type:       device.PmemOutput2,
			Fd:         7,
			Offset:     i * size,
			Buf:        mem[i*size : (i+1)*size],
			CbCrOffset: device.AlignOffset(w * h),
			Active:     i != n-1,
		}
	}
	return infos
}

func TestPreviewFrames(t *testing.T) {
	d := New(Options{FPS: 200})
	defer d.Close()
	c := device.NewChannel(d, time.Second)
	ctx := context.Background()

	if err := c.StartPreview(ctx); !errors.Is(err, device.ErrDevice) {
		t.Fatalf("start preview without dimension: %v", err)
	}
	if err := c.SetDimension(ctx, &device.Dimension{PreviewWidth: 32, PreviewHeight: 24}); err != nil {
		t.Fatal(err)
	}
	slots := previewSlots(32, 24, 4)
	for _, s := range slots {
		if err := d.RegisterBuffer(s); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.StartPreview(ctx); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		ready, err := d.WaitFrame(ctx, time.Second)
		if err != nil || !ready {
			t.Fatalf("wait: %t %v", ready, err)
		}
		f, err := d.GetFrame(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if f.Offset%(32*24*2) != 0 || f.Path != device.PathEncode {
			t.Errorf("frame %+v", f)
		}
		if err = d.ReleaseFrame(f); err != nil {
			t.Fatal(err)
		}
	}

	if err := c.StopPreview(ctx); err != nil {
		t.Fatal(err)
	}
	if d.Previewing() {
		t.Error("still previewing")
	}
	for _, s := range slots {
		if err := d.UnregisterBuffer(s); err != nil {
			t.Fatal(err)
		}
	}
	if st := d.Stats(); st.Frames < 10 || st.Registered != 0 {
		t.Errorf("stats %+v", st)
	}
}

func TestSnapshot(t *testing.T) {
	d := New(Options{})
	defer d.Close()
	c := device.NewChannel(d, time.Second)
	ctx := context.Background()

	if err := c.StartSnapshot(ctx); err == nil {
		t.Fatal("snapshot without buffers succeeded")
	}
	dim := &device.Dimension{PictureWidth: 16, PictureHeight: 8, ThumbnailWidth: 4, ThumbnailHeight: 2}
	if err := c.SetDimension(ctx, dim); err != nil {
		t.Fatal(err)
	}
	raw := make([]byte, 16*8*3/2)
	if err := d.RegisterBuffer(device.BufferInfo{Type: device.PmemMainImg, Fd: 9, Buf: raw, Active: true}); err != nil {
		t.Fatal(err)
	}
	if err := c.StartSnapshot(ctx); err != nil {
		t.Fatal(err)
	}
	if raw[16*8] != 128 || raw[17] != 2 {
		t.Errorf("snapshot pattern not written: %d %d", raw[16*8], raw[17])
	}
	crop, err := c.GetPicture(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if crop.Out1Width != 16 || crop.Out2Width != 4 || !crop.Update {
		t.Errorf("crop %+v", crop)
	}
}

func TestInjectedFailures(t *testing.T) {
	d := New(Options{MaxZoom: 8})
	defer d.Close()
	c := device.NewChannel(d, 20*time.Millisecond)
	ctx := context.Background()

	zoom, err := c.GetMaxZoom(ctx)
	if err != nil || zoom != 8 {
		t.Fatalf("max zoom %d %v", zoom, err)
	}
	if err = c.SetZoom(ctx, 9); err == nil {
		t.Error("zoom above max accepted")
	}

	d.Fail(device.CtrlSetEffect, device.StatusFailed)
	var derr *device.Error
	if err = c.SetEffect(ctx, 2); !errors.As(err, &derr) || derr.Status != device.StatusFailed {
		t.Errorf("err = %v", err)
	}
	d.Fail(device.CtrlSetEffect, device.StatusSuccess)
	if err = c.SetEffect(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if v, _ := d.ControlValue(device.CtrlSetEffect); v != 2 {
		t.Errorf("effect = %d", v)
	}

	d.Hang(device.CtrlStopSnapshot, true)
	if err = c.StopSnapshot(ctx); !errors.As(err, &derr) || derr.Status != device.StatusTimeout {
		t.Errorf("err = %v, want timeout", err)
	}

	d.FailRegistration(true)
	if err = d.RegisterBuffer(device.BufferInfo{Type: device.PmemThumbnail}); err == nil {
		t.Error("registration failure not injected")
	}
}
