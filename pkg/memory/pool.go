// Package memory owns the buffer regions shared with the capture device and
// with clients: page-aligned anonymous pools for variable-size output and
// device-shared pools registered slot by slot with the device.
package memory

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"camhal/pkg/device"
	"camhal/pkg/utils"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger().Named("memory")
}

var ErrAllocation = errors.New("buffer allocation failed")

// Registrar (un)registers buffer slots with the device. device.Device
// satisfies it.
type Registrar interface {
	RegisterBuffer(info device.BufferInfo) error
	UnregisterBuffer(info device.BufferInfo) error
}

type kind int

const (
	kindAshmem kind = iota
	kindPmem
	kindPreview
)

func (k kind) String() string {
	switch k {
	case kindPmem:
		return "pmem"
	case kindPreview:
		return "preview"
	default:
		return "ashmem"
	}
}

// Pool is a region subdivided into count slots of bufferSize bytes. Each
// slot carries a frame of frameSize bytes at frameOffset.
type Pool struct {
	name        string
	path        string
	kind        kind
	pmemType    device.PmemType
	reg         Registrar
	bufferSize  int
	count       int
	frameSize   int
	frameOffset int

	mu         sync.Mutex
	region     *region
	size       int
	buffers    []Buffer
	registered []device.BufferInfo
	released   bool
}

// NewAshmemPool allocates a process-local pool backed by anonymous shared
// memory rounded up to the page size. With frameSize 0 no buffers are
// described until Slice is called.
func NewAshmemPool(name string, bufferSize, count, frameSize, frameOffset int) (*Pool, error) {
	p := &Pool{
		name:        name,
		kind:        kindAshmem,
		bufferSize:  bufferSize,
		count:       count,
		frameSize:   frameSize,
		frameOffset: frameOffset,
	}
	logger.Infof("constructing pool %s backed by ashmem: %d frames @ %s, offset %d, buffer size %s",
		name, count, humanize.IBytes(uint64(frameSize)), frameOffset, humanize.IBytes(uint64(bufferSize)))

	size := pageRound(bufferSize * count)
	r, err := newAnonRegion(size)
	if err != nil {
		logger.Errorf("pool %s: %s", name, err)
		return p, fmt.Errorf("%w: pool %s: %w", ErrAllocation, name, err)
	}
	p.region = r
	p.size = size
	p.completeInitialization()

	return p, nil
}

// NewPmemPool allocates a device-shared pool on the given path. The region
// is rounded up to the next power of two and each slot is registered with
// reg; a slot that fails to register is logged and skipped.
func NewPmemPool(path, name string, reg Registrar, typ device.PmemType,
	bufferSize, count, frameSize, frameOffset int) (*Pool, error) {
	p := &Pool{
		name:        name,
		path:        path,
		kind:        kindPmem,
		pmemType:    typ,
		reg:         reg,
		bufferSize:  bufferSize,
		count:       count,
		frameSize:   frameSize,
		frameOffset: frameOffset,
	}
	if typ == device.PmemOutput2 {
		p.kind = kindPreview
	}
	if err := p.mapShared(); err != nil {
		return p, err
	}
	if p.kind == kindPmem {
		p.registerAll()
	}
	p.completeInitialization()

	return p, nil
}

// NewPreviewPool allocates the preview pool. Its slots are registered by
// the capture path frame by frame, never by the pool itself.
func NewPreviewPool(name string, bufferSize, count, frameSize, frameOffset int) (*Pool, error) {
	return NewPmemPool("adsp", name, nil, device.PmemOutput2, bufferSize, count, frameSize, frameOffset)
}

func (p *Pool) mapShared() error {
	logger.Infof("constructing pool %s backed by pmem pool %s: %d frames @ %s, offset %d, buffer size %s",
		p.name, p.path, p.count, humanize.IBytes(uint64(p.frameSize)), p.frameOffset,
		humanize.IBytes(uint64(p.bufferSize)))

	size := int(clp2(uint32(p.bufferSize * p.count)))
	r, err := allocShared(p.path+"-"+p.name, size)
	if err != nil {
		logger.Errorf("pmem pool %s error: could not create region: %s", p.path, err)
		return fmt.Errorf("%w: pool %s on %s: %w", ErrAllocation, p.name, p.path, err)
	}
	p.region = r
	p.size = size
	logger.Debugf("pmem pool %s size is %s", p.path, humanize.IBytes(uint64(size)))

	return nil
}

func (p *Pool) slotInfo(cnt int) device.BufferInfo {
	off := p.bufferSize * cnt
	info := device.BufferInfo{
		Type:   p.pmemType,
		Fd:     p.region.fd,
		Offset: off,
		Buf:    p.region.data[off : off+p.bufferSize],
		Active: true,
	}
	if p.pmemType != device.PmemRawMainImg {
		info.CbCrOffset = ((p.bufferSize * 2 / 3) + 1) &^ 1
	}

	return info
}

func (p *Pool) registerAll() {
	for cnt := 0; cnt < p.count; cnt++ {
		info := p.slotInfo(cnt)
		if err := p.reg.RegisterBuffer(info); err != nil {
			logger.Errorf("pool %s: register %s buffer %d (fd %d) error: %s",
				p.name, p.pmemType, cnt, info.Fd, err)
			continue
		}
		p.registered = append(p.registered, info)
	}
}

func (p *Pool) completeInitialization() {
	// variable-size payloads get their descriptors later through Slice
	if p.frameSize <= 0 {
		return
	}
	p.buffers = make([]Buffer, p.count)
	for i := range p.buffers {
		p.buffers[i] = Buffer{
			pool:   p,
			Index:  i,
			Offset: i*p.bufferSize + p.frameOffset,
			Size:   p.frameSize,
		}
	}
}

// Release unregisters every registered slot, then unmaps the region. It is
// safe to call more than once and on a pool whose allocation failed.
func (p *Pool) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.released {
		return nil
	}
	p.released = true
	logger.Debugf("destroying pool %s", p.name)

	var err error
	for _, info := range p.registered {
		if e := p.reg.UnregisterBuffer(info); e != nil {
			logger.Errorf("pool %s: unregister buffer at %d error: %s", p.name, info.Offset, e)
			err = multierr.Append(err, e)
		}
	}
	p.registered = nil
	if p.region != nil {
		err = multierr.Append(err, p.region.close())
		p.region = nil
	}
	p.buffers = nil

	return err
}

func (p *Pool) Name() string {
	return p.name
}

func (p *Pool) Initialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.region != nil
}

// Size is the size of the backing region, after rounding.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

func (p *Pool) BufferSize() int {
	return p.bufferSize
}

func (p *Pool) Count() int {
	return p.count
}

func (p *Pool) FrameSize() int {
	return p.frameSize
}

// Fd is the descriptor of the backing region, -1 for anonymous pools or
// once released.
func (p *Pool) Fd() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.region == nil {
		return -1
	}
	return p.region.fd
}

// Bytes returns the usable part of the region: count slots of bufferSize.
func (p *Pool) Bytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.region == nil {
		return nil
	}
	return p.region.data[:p.bufferSize*p.count]
}

// Buffer returns the descriptor of slot i.
func (p *Pool) Buffer(i int) (Buffer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.buffers) {
		return Buffer{}, false
	}
	return p.buffers[i], true
}

// Slice describes size bytes at offset within slot index, for payloads
// whose size is known only after they are produced.
func (p *Pool) Slice(index, offset, size int) (Buffer, error) {
	if index < 0 || index >= p.count || offset < 0 || size < 0 || offset+size > p.bufferSize {
		return Buffer{}, fmt.Errorf("pool %s: slice %d@%d+%d out of range", p.name, index, offset, size)
	}
	return Buffer{
		pool:   p,
		Index:  index,
		Offset: index*p.bufferSize + offset,
		Size:   size,
	}, nil
}

// SlotInfo returns the registration message for slot cnt of the pool.
func (p *Pool) SlotInfo(cnt int) (device.BufferInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.region == nil {
		return device.BufferInfo{}, fmt.Errorf("pool %s is not initialized", p.name)
	}
	if cnt < 0 || cnt >= p.count {
		return device.BufferInfo{}, fmt.Errorf("pool %s: slot %d out of range", p.name, cnt)
	}
	return p.slotInfo(cnt), nil
}

// Registered returns the number of slots the pool registered itself.
func (p *Pool) Registered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.registered)
}

func (p *Pool) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("pool %s (%s): region %s, buffer size %d, buffers %d, frame size %d, frame offset %d",
		p.name, p.kind, humanize.IBytes(uint64(p.size)), p.bufferSize, p.count, p.frameSize, p.frameOffset)
}

// Buffer is a client-visible window into a pool.
type Buffer struct {
	pool   *Pool
	Index  int
	Offset int
	Size   int
}

// Pool returns the name of the owning pool.
func (b Buffer) Pool() string {
	if b.pool == nil {
		return ""
	}
	return b.pool.name
}

// Bytes returns the buffer contents without copying, or nil once the pool
// has been released.
func (b Buffer) Bytes() []byte {
	if b.pool == nil {
		return nil
	}
	b.pool.mu.Lock()
	defer b.pool.mu.Unlock()
	if b.pool.region == nil {
		return nil
	}
	return b.pool.region.data[b.Offset : b.Offset+b.Size]
}
