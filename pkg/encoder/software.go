package encoder

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"camhal/pkg/utils"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger().Named("encoder")
}

const (
	DefaultFragmentSize = 8 * 1024
	DefaultQuality      = 100
)

// Software encodes on the CPU with image/jpeg and hands the result out in
// fixed-size fragments, the way the hardware encoder streams its output.
type Software struct {
	fragmentSize int

	mu          sync.Mutex
	quality     int
	initialized bool
	wg          sync.WaitGroup
}

func NewSoftware(fragmentSize int) *Software {
	if fragmentSize <= 0 {
		fragmentSize = DefaultFragmentSize
	}
	return &Software{fragmentSize: fragmentSize, quality: DefaultQuality}
}

func (s *Software) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
	logger.Debugf("software encoder ready, fragment size %s", humanize.IBytes(uint64(s.fragmentSize)))
	return nil
}

func (s *Software) SetMainImageQuality(quality int) error {
	if quality < 1 || quality > 100 {
		return fmt.Errorf("jpeg quality %d out of range [1, 100]", quality)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quality = quality
	return nil
}

func (s *Software) Start(job Job, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	if need := utils.YUV420SPSize(job.Width, job.Height); job.Width <= 0 || job.Height <= 0 || len(job.Raw) < need {
		return fmt.Errorf("raw picture %dx%d needs %d bytes, got %d", job.Width, job.Height, need, len(job.Raw))
	}

	s.wg.Add(1)
	go s.run(job, h, s.quality)

	return nil
}

func (s *Software) run(job Job, h Handler, quality int) {
	defer s.wg.Done()

	start := time.Now()
	img := utils.DecodeNV21(job.Raw, job.Width, job.Height)
	var buf bytes.Buffer
	if err := utils.EncodeJPEG(img, &buf, quality); err != nil {
		logger.Errorf("encode %dx%d error: %s", job.Width, job.Height, err)
		h.Done(StatusError)
		return
	}

	data := buf.Bytes()
	for len(data) > 0 {
		n := min(len(data), s.fragmentSize)
		h.Fragment(data[:n])
		data = data[n:]
	}
	logger.Debugf("encoded %dx%d at quality %d into %s in %s",
		job.Width, job.Height, quality, humanize.IBytes(uint64(buf.Len())), time.Since(start))
	h.Done(StatusDone)
}

// Close waits for in-flight encodes.
func (s *Software) Close() error {
	s.wg.Wait()
	s.mu.Lock()
	s.initialized = false
	s.mu.Unlock()
	return nil
}
