package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"camhal/pkg/params"
	"camhal/pkg/types"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camhal.json")
	data := `{
	"device": "v4l2",
	"devicePath": "/dev/video2",
	"pollTimeout": "250ms",
	"controlTimeout": 2000,
	"pictureSize": "1024x768",
	"interval": "10s"
}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Device != DeviceV4L2 || c.DevicePath != "/dev/video2" {
		t.Errorf("device %s at %s", c.Device, c.DevicePath)
	}
	if c.PollTimeout.Std() != 250*time.Millisecond {
		t.Errorf("poll timeout %s", c.PollTimeout.Std())
	}
	if c.ControlTimeout.Std() != 2*time.Second {
		t.Errorf("control timeout %s", c.ControlTimeout.Std())
	}
	// untouched fields keep their defaults
	if c.JpegQuality != params.DefaultJpegQuality || c.PreviewSize != "320x240" {
		t.Errorf("defaults lost: %+v", c)
	}

	opts := c.HardwareOptions()
	if opts.Defaults.PictureSize != (types.Size{Width: 1024, Height: 768}) {
		t.Errorf("picture size %s", opts.Defaults.PictureSize)
	}
	if opts.PollTimeout != 250*time.Millisecond {
		t.Errorf("hal poll timeout %s", opts.PollTimeout)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if c.Device != DeviceSim {
		t.Errorf("device %s", c.Device)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"device", func(c *Config) { c.Device = "usb" }},
		{"device path", func(c *Config) { c.Device, c.DevicePath = DeviceV4L2, "" }},
		{"preview size", func(c *Config) { c.PreviewSize = "300x200" }},
		{"picture size", func(c *Config) { c.PictureSize = "640x480" }},
		{"effect", func(c *Config) { c.Effect = "sepia-ish" }},
		{"quality", func(c *Config) { c.JpegQuality = 0 }},
		{"buffers", func(c *Config) { c.RawBuffers = -1 }},
		{"interval", func(c *Config) { c.Interval = Duration(time.Millisecond) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.modify(c)
			if err := c.Validate(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestDurationJSON(t *testing.T) {
	d := Duration(1500 * time.Millisecond)
	b, err := d.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"1.5s"` {
		t.Errorf("marshal %s", b)
	}
	var back Duration
	if err = back.UnmarshalJSON(b); err != nil {
		t.Fatal(err)
	}
	if back != d {
		t.Errorf("round trip %s", back.Std())
	}
	if err = back.UnmarshalJSON([]byte(`true`)); err == nil {
		t.Error("bool accepted as duration")
	}
}

func TestOpenHardware(t *testing.T) {
	ctx := context.Background()
	c := Default()
	c.JpegQuality = 70
	c.PictureSize = "1024x768"

	hw, err := c.OpenHardware(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer hw.Release(ctx)

	p := hw.Parameters()
	if q := p.GetInt(params.KeyJpegQuality); q != 70 {
		t.Errorf("jpeg quality %d", q)
	}
	if size, _ := p.PictureSize(); size != (types.Size{Width: 1024, Height: 768}) {
		t.Errorf("picture size %s", size)
	}

	c.Device = "usb"
	if _, err = c.OpenHardware(ctx); err == nil {
		t.Error("unknown device opened")
	}
}
