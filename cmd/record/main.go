package main

import (
	"context"
	"flag"
	"time"

	"go.uber.org/zap"

	"camhal/pkg/config"
	"camhal/pkg/hal"
	"camhal/pkg/params"
	"camhal/pkg/types"
	"camhal/pkg/utils"
	"camhal/pkg/video"
)

var (
	configPath = flag.String("config", "", "json config file")
	out        = flag.String("o", "record.avi", "output file")
	size       = flag.String("size", "", "preview size, e.g. 320x240")
	frames     = flag.Int("frames", 0, "stop after this many frames")
	duration   = flag.Duration("duration", 5*time.Second, "stop after this long")
	quality    = flag.Int("quality", video.DefaultQuality, "jpeg quality of each frame")

	logger *zap.SugaredLogger
)

func init() {
	logger = utils.GetLogger()
	flag.Parse()
}

func main() {
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal(err)
	}
	if *size != "" {
		cfg.PreviewSize = *size
		if err = cfg.Validate(); err != nil {
			logger.Fatal(err)
		}
	}
	_ = utils.SetLevel(cfg.LogLevel)

	ctx, cancel := utils.SignalContext(context.Background())
	defer cancel()

	hw, err := cfg.OpenHardware(ctx)
	if err != nil {
		logger.Fatal(err)
	}
	defer func() {
		if err := hw.Release(context.Background()); err != nil {
			logger.Error(err)
		}
	}()

	p := hw.Parameters()
	preview, err := p.PreviewSize()
	if err != nil {
		logger.Error(err)
		return
	}
	fps := p.GetInt(params.KeyPreviewFrameRate)

	rec, err := video.NewRecorder(*out, hw, video.RecorderOptions{
		Size:      preview,
		FPS:       fps,
		Quality:   *quality,
		MaxFrames: *frames,
	})
	if err != nil {
		logger.Error(err)
		return
	}

	hw.SetCallbacks(hal.CallbackFuncs{DataTimestampFunc: rec.DataTimestamp})
	hw.EnableMsgType(types.MsgVideoFrame)
	if err = hw.StartRecording(ctx); err != nil {
		logger.Error(err)
		_ = rec.Close()
		return
	}

	t := time.NewTimer(*duration)
	defer t.Stop()
	select {
	case <-rec.Done():
	case <-t.C:
	case <-ctx.Done():
	}

	if err = hw.StopRecording(context.Background()); err != nil {
		logger.Error(err)
	}
	if err = rec.Close(); err != nil {
		logger.Error(err)
		return
	}
	logger.Infof("wrote %d frames of %s over %s to %s", rec.Frames(), preview, rec.Span(), *out)
}
