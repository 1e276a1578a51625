package hal

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"
)

// Dump writes the current geometry, buffer sizes, pools and parameters to w.
func (h *Hardware) Dump(w io.Writer) error {
	h.lock.Lock()
	defer h.lock.Unlock()

	s := h.settings
	h.snapMu.Lock()
	job := h.snapJob
	h.snapMu.Unlock()

	jpegSize := 0
	if job != nil && job.jpeg != nil {
		jpegSize = job.size()
	}

	var err error
	write := func(format string, args ...any) {
		_, e := fmt.Fprintf(w, format, args...)
		err = multierr.Append(err, e)
	}

	write("hardware dump, state %s\n", h.State())
	write("preview width(%d) x height (%d)\n", s.Preview.Width, s.Preview.Height)
	write("raw width(%d) x height (%d)\n", s.Picture.Width, s.Picture.Height)
	write("preview frame size(%s), raw size (%s), jpeg size (%s) and jpeg max size (%s)\n",
		humanize.IBytes(uint64(s.FrameSize())), humanize.IBytes(uint64(s.RawSize())),
		humanize.IBytes(uint64(jpegSize)), humanize.IBytes(uint64(s.RawSize())))
	write("message mask %s\n", h.msgMask())

	if h.preview != nil {
		write("%s\n", h.preview.pool)
	}
	if job != nil {
		if job.raw != nil {
			write("%s\n", job.raw)
		}
		if job.jpeg != nil {
			write("%s\n", job.jpeg)
		}
	}
	write("%s\n", h.params.Flatten())

	return err
}
