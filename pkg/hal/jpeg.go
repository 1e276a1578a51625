package hal

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"camhal/pkg/encoder"
	"camhal/pkg/params"
	"camhal/pkg/types"
)

// encode compresses the raw picture of job on a dedicated goroutine and
// waits for it, so the pools outlive the compressed-image callback.
func (h *Hardware) encode(job *snapshotJob) error {
	s := job.settings
	if s.JpegQuality >= 0 {
		logger.Debugf("jpeg main image quality = %d", s.JpegQuality)
		if err := h.enc.SetMainImageQuality(s.JpegQuality); err != nil {
			return fmt.Errorf("set jpeg quality: %w", err)
		}
	}
	if s.ThumbnailQuality >= 0 {
		logger.Debugf("jpeg thumbnail quality = %d", s.ThumbnailQuality)
	}
	if s.Rotation >= 0 {
		logger.Debugf("rotation = %d", s.Rotation)
	}

	result := make(chan error, 1)
	go func() {
		result <- h.runJpegEncode(job)
	}()
	return <-result
}

func (h *Hardware) runJpegEncode(job *snapshotJob) error {
	meta := encoder.Metadata{Rotation: job.settings.Rotation}
	loc, ok := params.ParseLocation(job.params, time.Now())
	meta.Time = loc.Timestamp
	if ok {
		logger.Debugf("setting image location ALT %d LAT %f LON %f", loc.Altitude, loc.Latitude, loc.Longitude)
		meta.Location = &loc
	} else {
		logger.Debug("not setting image location")
	}

	raw := job.raw.Bytes()
	if len(raw) < job.settings.RawSize() {
		return fmt.Errorf("raw pool holds %d bytes, picture needs %d", len(raw), job.settings.RawSize())
	}

	status := make(chan encoder.Status, 1)
	err := h.enc.Start(encoder.Job{
		Raw:    raw[:job.settings.RawSize()],
		Width:  job.settings.Picture.Width,
		Height: job.settings.Picture.Height,
	}, encoder.Handler{
		Fragment: job.receiveFragment,
		Done:     func(s encoder.Status) { status <- s },
	})
	if err != nil {
		return err
	}
	if st := <-status; st != encoder.StatusDone {
		return fmt.Errorf("encoder finished with status %s", st)
	}

	out := job.jpeg.Bytes()[:job.jpeg.BufferSize()]
	n, err := encoder.Embed(out, job.size(), meta)
	if err != nil {
		logger.Errorf("write exif: %s", err)
	} else {
		job.jpegSize.Store(int64(n))
	}

	h.receiveJpegPicture(job)
	return nil
}

// receiveFragment appends encoder output to the jpeg pool, truncating
// what does not fit.
func (j *snapshotJob) receiveFragment(p []byte) {
	n := j.size()
	remaining := j.jpeg.BufferSize() - n
	if len(p) > remaining {
		logger.Errorf("jpeg fragment of %d bytes exceeds what remains in the jpeg pool (%d), truncating",
			len(p), remaining)
		p = p[:remaining]
	}
	copy(j.jpeg.Bytes()[n:], p)
	j.jpegSize.Add(int64(len(p)))
}

func (j *snapshotJob) size() int {
	return int(j.jpegSize.Load())
}

func (h *Hardware) receiveJpegPicture(job *snapshotJob) {
	logger.Infof("jpeg picture of %s out of %s", humanize.IBytes(uint64(job.size())),
		humanize.IBytes(uint64(job.jpeg.BufferSize())))

	if !h.MsgTypeEnabled(types.MsgCompressedImage) {
		logger.Debug("jpeg callback was cancelled, not delivering image")
		return
	}
	buf, err := job.jpeg.Slice(0, 0, job.size())
	if err != nil {
		logger.Errorf("describe jpeg picture: %s", err)
		return
	}
	h.callbacks().Data(types.MsgCompressedImage, buf)
}
