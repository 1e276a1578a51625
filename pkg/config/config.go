// Package config holds the settings shared by the daemon and the tools.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"

	"camhal/pkg/device"
	"camhal/pkg/hal"
	"camhal/pkg/params"
	"camhal/pkg/types"
)

const (
	DeviceSim  = "sim"
	DeviceV4L2 = "v4l2"

	DefaultLogLevel   = "info"
	DefaultDevicePath = "/dev/video0"
	DefaultSimFPS     = 15
	DefaultOutputDir  = "./camhal"
	MinInterval       = time.Second
)

// Duration reads either a Go duration string or a number of milliseconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		*d = Duration(time.Duration(val) * time.Millisecond)
	case string:
		p, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		*d = Duration(p)
	default:
		return fmt.Errorf("invalid duration %s", b)
	}

	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	LogLevel string `json:"logLevel"`

	Device     string `json:"device"`
	DevicePath string `json:"devicePath"`
	SimFPS     int    `json:"simFps"`
	SimMaxZoom int32  `json:"simMaxZoom"`

	ControlTimeout Duration `json:"controlTimeout"`
	PollTimeout    Duration `json:"pollTimeout"`

	PreviewBuffers int `json:"previewBuffers"`
	RawBuffers     int `json:"rawBuffers"`
	JpegBuffers    int `json:"jpegBuffers"`

	PreviewSize string `json:"previewSize"`
	PictureSize string `json:"pictureSize"`
	JpegQuality int    `json:"jpegQuality"`
	// Effect is the initial value of the effect parameter.
	Effect string `json:"effect"`
	// InitialEffect seeds the last-applied effect code.
	InitialEffect int32 `json:"initialEffect"`

	OutputDir string   `json:"outputDir"`
	Interval  Duration `json:"interval"`
}

func Default() *Config {
	return &Config{
		LogLevel:       DefaultLogLevel,
		Device:         DeviceSim,
		DevicePath:     DefaultDevicePath,
		SimFPS:         DefaultSimFPS,
		SimMaxZoom:     params.DefaultMaxZoom,
		ControlTimeout: Duration(device.DefaultTimeout),
		PollTimeout:    Duration(hal.DefaultPollTimeout),
		PreviewBuffers: hal.DefaultPreviewBuffers,
		RawBuffers:     hal.DefaultRawBuffers,
		JpegBuffers:    hal.DefaultJpegBuffers,
		PreviewSize:    params.DefaultPreviewSize.String(),
		PictureSize:    params.DefaultPictureSize.String(),
		JpegQuality:    params.DefaultJpegQuality,
		Effect:         "none",
		InitialEffect:  params.EffectOff,
		OutputDir:      DefaultOutputDir,
		Interval:       Duration(time.Minute),
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config err: %w", err)
	}
	if err = json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("unmarshal config err: %w", err)
	}

	return c, c.Validate()
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Device {
	case DeviceSim, DeviceV4L2:
	default:
		errs = append(errs, fmt.Errorf("unknown device %q", c.Device))
	}
	if c.Device == DeviceV4L2 && c.DevicePath == "" {
		errs = append(errs, errors.New("devicePath can not be empty"))
	}
	preview, err := types.ParseSize(c.PreviewSize)
	if err != nil {
		errs = append(errs, err)
	} else if !params.IsPreviewSize(preview) {
		errs = append(errs, fmt.Errorf("unsupported preview size %s", preview))
	}
	if params.PictureSizes.Lookup(c.PictureSize) == params.NotFound {
		errs = append(errs, fmt.Errorf("unsupported picture size %q", c.PictureSize))
	}
	if params.Effects.Lookup(c.Effect) == params.NotFound {
		errs = append(errs, fmt.Errorf("unknown effect %q", c.Effect))
	}
	if c.JpegQuality < 1 || c.JpegQuality > 100 {
		errs = append(errs, fmt.Errorf("jpeg quality %d out of 1..100", c.JpegQuality))
	}
	if c.PreviewBuffers < 0 || c.RawBuffers < 0 || c.JpegBuffers < 0 {
		errs = append(errs, errors.New("buffer counts can not be negative"))
	}
	if c.Interval.Std() < MinInterval {
		errs = append(errs, fmt.Errorf("interval %s less than %s", c.Interval.Std(), MinInterval))
	}

	return errors.Join(errs...)
}

// HardwareOptions translates the config into hal options.
func (c *Config) HardwareOptions() hal.Options {
	preview, _ := types.ParseSize(c.PreviewSize)
	picture, _ := types.ParseSize(c.PictureSize)

	return hal.Options{
		ControlTimeout: c.ControlTimeout.Std(),
		PollTimeout:    c.PollTimeout.Std(),
		PreviewBuffers: c.PreviewBuffers,
		RawBuffers:     c.RawBuffers,
		JpegBuffers:    c.JpegBuffers,
		Defaults: params.DefaultOptions{
			PreviewSize: preview,
			PictureSize: picture,
			Effect:      c.Effect,
		},
		InitialEffect: c.InitialEffect,
	}
}
