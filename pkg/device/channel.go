package device

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"camhal/pkg/utils"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger().Named("device")
}

// Channel issues typed control commands to a Device with a fixed timeout.
// It holds no lock of its own: the hardware lock serializes callers.
type Channel struct {
	dev     Device
	timeout time.Duration
}

func NewChannel(dev Device, timeout time.Duration) *Channel {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Channel{dev: dev, timeout: timeout}
}

func (c *Channel) Device() Device {
	return c.dev
}

func (c *Channel) Timeout() time.Duration {
	return c.timeout
}

// Command sends one control command and waits for its status.
func (c *Channel) Command(ctx context.Context, typ CtrlType, value any) error {
	cmd := &ControlCmd{
		Type:    typ,
		Timeout: c.timeout,
		Value:   value,
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	logger.Debugf("control %s", typ)
	if err := c.dev.Control(ctx, cmd); err != nil {
		status := cmd.Status
		if errors.Is(err, context.DeadlineExceeded) {
			status = StatusTimeout
		}
		logger.Errorf("control %s error, status=%s: %s", typ, status, err)
		return &Error{Cmd: typ, Status: status, Err: err}
	}
	if cmd.Status != StatusSuccess {
		logger.Errorf("control %s returned status %s", typ, cmd.Status)
		return &Error{Cmd: typ, Status: cmd.Status}
	}

	return nil
}

func (c *Channel) SetDimension(ctx context.Context, dim *Dimension) error {
	logger.Debugf("set dimension: preview %dx%d picture %dx%d thumbnail %dx%d",
		dim.PreviewWidth, dim.PreviewHeight, dim.PictureWidth, dim.PictureHeight,
		dim.ThumbnailWidth, dim.ThumbnailHeight)
	return c.Command(ctx, CtrlSetDimension, dim)
}

func (c *Channel) SetParm(ctx context.Context, typ CtrlType, value int32) error {
	return c.Command(ctx, typ, &value)
}

func (c *Channel) SetEffect(ctx context.Context, value int32) error {
	return c.SetParm(ctx, CtrlSetEffect, value)
}

func (c *Channel) SetWhiteBalance(ctx context.Context, value int32) error {
	return c.SetParm(ctx, CtrlSetWhiteBalance, value)
}

func (c *Channel) SetAntibanding(ctx context.Context, value int32) error {
	return c.SetParm(ctx, CtrlSetAntibanding, value)
}

func (c *Channel) SetZoom(ctx context.Context, value int32) error {
	return c.SetParm(ctx, CtrlSetZoom, value)
}

func (c *Channel) StartPreview(ctx context.Context) error {
	return c.Command(ctx, CtrlStartPreview, nil)
}

func (c *Channel) StopPreview(ctx context.Context) error {
	return c.Command(ctx, CtrlStopPreview, nil)
}

func (c *Channel) StartSnapshot(ctx context.Context) error {
	return c.Command(ctx, CtrlStartSnapshot, nil)
}

func (c *Channel) StopSnapshot(ctx context.Context) error {
	return c.Command(ctx, CtrlStopSnapshot, nil)
}

func (c *Channel) Exit(ctx context.Context) error {
	return c.Command(ctx, CtrlExit, nil)
}

func (c *Channel) GetMaxZoom(ctx context.Context) (int32, error) {
	var zoom int32
	if err := c.Command(ctx, CtrlGetMaxZoom, &zoom); err != nil {
		return 0, err
	}
	logger.Infof("max zoom reported by device: %d", zoom)

	return zoom, nil
}

func (c *Channel) GetPicture(ctx context.Context) (Crop, error) {
	var crop Crop
	if err := c.Command(ctx, CtrlGetPicture, &crop); err != nil {
		return Crop{}, err
	}
	logger.Debugf("crop: in1 %dx%d out1 %dx%d in2 %dx%d out2 %dx%d update %t",
		crop.In1Width, crop.In1Height, crop.Out1Width, crop.Out1Height,
		crop.In2Width, crop.In2Height, crop.Out2Width, crop.Out2Height, crop.Update)

	return crop, nil
}
