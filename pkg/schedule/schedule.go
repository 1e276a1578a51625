// Package schedule takes a picture at a fixed interval and saves every
// compressed image delivered by the camera into the active session.
package schedule

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"camhal/pkg/memory"
	"camhal/pkg/storage"
	"camhal/pkg/types"
	"camhal/pkg/utils"
)

const DefaultCaptureTimeout = 10 * time.Second

var ErrCaptureTimeout = errors.New("no compressed image delivered")

// Camera is the part of the camera hardware the scheduler drives.
type Camera interface {
	TakePicture(ctx context.Context) error
}

type Scheduler struct {
	t       *time.Ticker
	camera  Camera
	p       *storage.Session
	lock    sync.Mutex
	images  chan []byte
	timeout time.Duration
	logger  *zap.SugaredLogger

	// AfterCapture runs after each picture, saved or not. The daemon uses
	// it to resume preview.
	AfterCapture func(ctx context.Context)
}

func New(ctx context.Context, camera Camera) *Scheduler {
	t := time.NewTicker(time.Second)
	t.Stop()

	s := &Scheduler{
		t:       t,
		camera:  camera,
		images:  make(chan []byte, 1),
		timeout: DefaultCaptureTimeout,
		logger:  utils.GetLogger().Named("schedule"),
	}
	s.startDeal(ctx)

	return s
}

// Begin starts capturing into p at its interval. A nil session stops the
// scheduler.
func (s *Scheduler) Begin(p *storage.Session) {
	if p == nil {
		s.Stop()
		return
	}
	s.lock.Lock()
	s.p = p
	s.lock.Unlock()
	s.logger.Infof("scheduler: capturing into %s every %s", p.Name, p.IntervalDuration())
	s.t.Reset(p.IntervalDuration())
}

func (s *Scheduler) Stop() {
	s.logger.Info("scheduler: stopped")
	s.t.Stop()
	s.lock.Lock()
	s.p = nil
	s.lock.Unlock()
}

func (s *Scheduler) GetSession() *storage.Session {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.p
}

// Data receives client data messages. Compressed images are copied out
// of the shared pool before it is released.
func (s *Scheduler) Data(msg types.MsgType, buf memory.Buffer) {
	if msg != types.MsgCompressedImage {
		return
	}
	img := bytes.Clone(buf.Bytes())
	select {
	case s.images <- img:
	default:
		s.logger.Warn("scheduler: dropping a compressed image nobody waits for")
	}
}

// Capture takes one picture and saves it into the active session.
func (s *Scheduler) Capture(ctx context.Context) (string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.capture(ctx)
}

func (s *Scheduler) capture(ctx context.Context) (string, error) {
	if s.p == nil {
		return "", errors.New("no active session")
	}
	if s.AfterCapture != nil {
		defer s.AfterCapture(ctx)
	}

	// a late image from a previous timed out capture is stale
	select {
	case <-s.images:
	default:
	}

	if err := s.camera.TakePicture(ctx); err != nil {
		return "", err
	}
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case img := <-s.images:
		return s.p.SaveImage(img)
	case <-timer.C:
		return "", ErrCaptureTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Scheduler) startDeal(ctx context.Context) {
	go func(s *Scheduler) {
		for {
			select {
			case start := <-s.t.C:
				s.logger.Debugf("scheduler: starting deal: %v", start)
				s.lock.Lock()
				if s.p == nil {
					s.lock.Unlock()
					s.logger.Warn("scheduler: should close when the session is nil!")
					continue
				}
				name, err := s.capture(ctx)
				s.lock.Unlock()
				if err != nil {
					s.logger.Errorf("scheduler: capture err: %s", err)
					continue
				}
				s.logger.Infof("scheduler: took %s to get %s", time.Since(start), name)
			case <-ctx.Done():
				s.t.Stop()
				s.logger.Info("scheduler: stopped!")
				return
			}
		}
	}(s)
}
