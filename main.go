package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"camhal/pkg/config"
	"camhal/pkg/hal"
	"camhal/pkg/params"
	"camhal/pkg/schedule"
	"camhal/pkg/storage"
	"camhal/pkg/types"
	"camhal/pkg/utils"
	"camhal/pkg/utils/ps"
)

const (
	statsInterval   = time.Minute
	releaseDeadline = 10 * time.Second
)

var (
	configPath  = flag.String("config", "", "json config file")
	storageDir  = flag.String("dir", "", "output directory, overrides the config")
	sessionName = flag.String("session", "default", "session to capture into")
	sessionInfo = flag.String("info", "", "description of a new session")
	interval    = flag.Duration("interval", 0, "capture interval, overrides the config")
	level       = flag.String("level", "", "log level, overrides the config")

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
	if *storageDir != "" {
		cfg.OutputDir = *storageDir
	}
	if *interval != 0 {
		cfg.Interval = config.Duration(*interval)
	}
	if *level != "" {
		cfg.LogLevel = *level
	}
	if err = cfg.Validate(); err != nil {
		logger.Fatal(err)
	}
	if err = utils.SetLevel(cfg.LogLevel); err != nil {
		logger.Fatal(err)
	}

	ctx, cancel := utils.SignalContext(context.Background())
	defer cancel()

	// init storage
	stg, err := storage.New(cfg.OutputDir)
	if err != nil {
		logger.Fatal(err)
	}
	defer stg.Close()

	registry := hal.NewRegistry(cfg.OpenHardware)
	handle, err := registry.Open(ctx)
	if err != nil {
		logger.Fatal(err)
	}
	defer release(handle)
	hw := handle.Hardware()

	session, err := openSession(ctx, stg, hw, cfg)
	if err != nil {
		logger.Error(err)
		return
	}

	s := schedule.New(ctx, hw)
	s.AfterCapture = func(ctx context.Context) {
		if err := hw.StartPreview(ctx); err != nil {
			logger.Errorf("resume preview: %s", err)
		}
	}
	hw.SetCallbacks(hal.CallbackFuncs{
		NotifyFunc: func(msg types.MsgType, ext1, ext2 int32) {
			logger.Debugf("notify %s (%d, %d)", msg, ext1, ext2)
		},
		DataFunc: s.Data,
	})
	hw.EnableMsgType(types.MsgShutter | types.MsgError | types.MsgCompressedImage)

	if err = hw.StartPreview(ctx); err != nil {
		logger.Error(err)
		return
	}
	s.Begin(session)
	defer s.Stop()

	logStats(ctx, cfg.OutputDir, session)
	<-ctx.Done()
}

// openSession returns the named session, creating it with the current
// parameters when it does not exist. An existing session's parameters are
// applied to the hardware.
func openSession(ctx context.Context, stg *storage.Storage, hw *hal.Hardware, cfg *config.Config) (*storage.Session, error) {
	session, err := stg.GetSession(*sessionName)
	if errors.Is(err, storage.ErrNotFound) {
		return stg.NewSession(*sessionName, *sessionInfo, cfg.Interval.Std(), hw.Parameters().Flatten())
	}
	if err != nil {
		return nil, err
	}

	if session.Parameters != "" {
		p := hw.Parameters()
		for k, v := range params.Unflatten(session.Parameters) {
			p.Set(k, v)
		}
		if err = hw.SetParameters(ctx, p); err != nil {
			return nil, err
		}
	}
	if *interval != 0 {
		session.Interval = interval.Milliseconds()
		if err = stg.UpdateSession(session); err != nil {
			return nil, err
		}
	}
	logger.Infof("resuming session %s", session.Name)

	return session, nil
}

func logStats(ctx context.Context, dir string, session *storage.Session) {
	go func() {
		t := time.NewTicker(statsInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
			case <-ctx.Done():
				return
			}
			if c, err := ps.CPUStatus(); err == nil {
				logger.Infof("cpu: %.1f%%", c.Percent)
			}
			if m, err := ps.MemoryStatus(); err == nil {
				logger.Infof("memory: %s", m)
			}
			if rss, err := ps.ProcessRSS(int32(os.Getpid())); err == nil {
				logger.Infof("rss: %s", humanize.IBytes(rss))
			}
			if d, err := ps.DiskUsage(dir); err == nil {
				logger.Infof("disk: %s", d)
			}
			if u, err := session.Usage(); err == nil {
				logger.Infof("session %s: %s", session.Name, u)
			}
		}
	}()
}

func release(handle *hal.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseDeadline)
	defer cancel()
	if err := handle.Close().Wait(ctx); err != nil {
		logger.Errorf("release camera: %s", err)
	}
}
