package config

import (
	"context"
	"fmt"

	"camhal/pkg/device"
	"camhal/pkg/device/sim"
	"camhal/pkg/device/v4l2cam"
	"camhal/pkg/encoder"
	"camhal/pkg/hal"
	"camhal/pkg/params"
)

func (c *Config) OpenDevice() (device.Device, error) {
	switch c.Device {
	case DeviceSim:
		return sim.New(sim.Options{FPS: c.SimFPS, MaxZoom: c.SimMaxZoom}), nil
	case DeviceV4L2:
		return v4l2cam.Open(v4l2cam.Options{Path: c.DevicePath})
	default:
		return nil, fmt.Errorf("unknown device %q", c.Device)
	}
}

// OpenHardware opens the configured device with the software encoder and
// applies the configured jpeg quality. It matches hal.Factory.
func (c *Config) OpenHardware(ctx context.Context) (*hal.Hardware, error) {
	d, err := c.OpenDevice()
	if err != nil {
		return nil, err
	}
	hw, err := hal.New(d, encoder.NewSoftware(0), c.HardwareOptions())
	if err != nil {
		_ = d.Close()
		return nil, err
	}

	p := hw.Parameters()
	p.SetInt(params.KeyJpegQuality, c.JpegQuality)
	if err = hw.SetParameters(ctx, p); err != nil {
		_ = hw.Release(ctx)
		return nil, err
	}

	return hw, nil
}
