// Package video writes recording frames into MJPEG AVI files.
package video

import (
	"sync"

	"github.com/icza/mjpeg"
)

// Builder appends JPEG frames to an AVI file. It is safe for concurrent
// use.
type Builder struct {
	width  int
	height int
	fps    int

	lock   sync.Mutex
	cnt    int
	closed bool
	aw     mjpeg.AviWriter
}

func NewBuilder(path string, width, height, fps int) (*Builder, error) {
	aw, err := mjpeg.New(path, int32(width), int32(height), int32(fps))
	if err != nil {
		return nil, err
	}

	return &Builder{
		width:  width,
		height: height,
		fps:    fps,
		aw:     aw,
	}, nil
}

func (b *Builder) Add(frame []byte) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed {
		return ErrClosed
	}
	if err := b.aw.AddFrame(frame); err != nil {
		return err
	}
	b.cnt++

	return nil
}

// Close finalizes the file. Calling it again is a no-op.
func (b *Builder) Close() error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	return b.aw.Close()
}

func (b *Builder) GetCnt() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.cnt
}
