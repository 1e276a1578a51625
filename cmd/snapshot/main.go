package main

import (
	"bytes"
	"context"
	"flag"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"camhal/pkg/config"
	"camhal/pkg/hal"
	"camhal/pkg/memory"
	"camhal/pkg/params"
	"camhal/pkg/types"
	"camhal/pkg/utils"
)

var (
	configPath = flag.String("config", "", "json config file")
	out        = flag.String("o", "snapshot.jpg", "output file")
	rawOut     = flag.String("raw", "", "also write the raw yuv420sp picture here")
	size       = flag.String("size", "", "picture size, e.g. 1024x768")
	effect     = flag.String("effect", "", "color effect")
	wb         = flag.String("wb", "", "white balance")
	zoom       = flag.Int("zoom", -1, "zoom level")
	warmup     = flag.Duration("warmup", 500*time.Millisecond, "preview time before the picture")
	timeout    = flag.Duration("timeout", 10*time.Second, "")

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
	_ = utils.SetLevel(cfg.LogLevel)

	ctx, cancel := utils.SignalContext(context.Background())
	defer cancel()
	ctx, stop := context.WithTimeout(ctx, *timeout)
	defer stop()

	hw, err := cfg.OpenHardware(ctx)
	if err != nil {
		logger.Fatal(err)
	}
	defer func() {
		if err := hw.Release(context.Background()); err != nil {
			logger.Error(err)
		}
	}()

	if err = apply(ctx, hw); err != nil {
		logger.Error(err)
		return
	}

	jpeg := make(chan []byte, 1)
	failed := make(chan struct{}, 1)
	hw.SetCallbacks(hal.CallbackFuncs{
		NotifyFunc: func(msg types.MsgType, _, _ int32) {
			switch msg {
			case types.MsgShutter:
				logger.Info("shutter")
			case types.MsgError:
				select {
				case failed <- struct{}{}:
				default:
				}
			}
		},
		DataFunc: func(msg types.MsgType, buf memory.Buffer) {
			switch msg {
			case types.MsgRawImage:
				if *rawOut != "" {
					if err := os.WriteFile(*rawOut, buf.Bytes(), 0644); err != nil {
						logger.Errorf("write raw picture: %s", err)
					}
				}
			case types.MsgCompressedImage:
				jpeg <- bytes.Clone(buf.Bytes())
			}
		},
	})
	mask := types.MsgShutter | types.MsgError | types.MsgCompressedImage
	if *rawOut != "" {
		mask |= types.MsgRawImage
	}
	hw.EnableMsgType(mask)

	if *warmup > 0 {
		if err = hw.StartPreview(ctx); err != nil {
			logger.Error(err)
			return
		}
		time.Sleep(*warmup)
	}
	if err = hw.TakePicture(ctx); err != nil {
		logger.Error(err)
		return
	}

	select {
	case img := <-jpeg:
		if err = os.WriteFile(*out, img, 0644); err != nil {
			logger.Error(err)
			return
		}
		logger.Infof("wrote %s (%s)", *out, humanize.IBytes(uint64(len(img))))
	case <-failed:
		logger.Error("picture failed")
	case <-ctx.Done():
		logger.Error(ctx.Err())
	}
}

func apply(ctx context.Context, hw *hal.Hardware) error {
	p := hw.Parameters()
	if *size != "" {
		s, err := types.ParseSize(*size)
		if err != nil {
			return err
		}
		p.SetPictureSize(s)
	}
	if *effect != "" {
		p.Set(params.KeyEffect, *effect)
	}
	if *wb != "" {
		p.Set(params.KeyWhiteBalance, *wb)
	}
	if *zoom >= 0 {
		p.SetInt(params.KeyZoom, *zoom)
	}

	return hw.SetParameters(ctx, p)
}
