package memory

import (
	"errors"
	"sync"
	"testing"

	"golang.org/x/sys/unix"

	"camhal/pkg/device"
)

type recorder struct {
	mu         sync.Mutex
	registered map[int]device.BufferInfo
	fail       map[int]bool
	regs       int
	unregs     int
}

func newRecorder() *recorder {
	return &recorder{registered: make(map[int]device.BufferInfo), fail: make(map[int]bool)}
}

func (r *recorder) RegisterBuffer(info device.BufferInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regs++
	if r.fail[info.Offset] {
		return errors.New("register rejected")
	}
	r.registered[info.Offset] = info
	return nil
}

func (r *recorder) UnregisterBuffer(info device.BufferInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregs++
	delete(r.registered, info.Offset)
	return nil
}

func TestClp2(t *testing.T) {
	tests := []struct {
		in, want uint32
	}{
		{1, 1},
		{2, 2},
		{3, 4},
		{4096, 4096},
		{4097, 8192},
		{4 * 38016, 262144},
	}
	for _, tt := range tests {
		if got := clp2(tt.in); got != tt.want {
			t.Errorf("clp2(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestAshmemPool(t *testing.T) {
	page := unix.Getpagesize()
	p, err := NewAshmemPool("jpeg", 1000, 3, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Release()

	if !p.Initialized() {
		t.Fatal("pool not initialized")
	}
	if p.Size() < 3000 || p.Size()%page != 0 {
		t.Errorf("size = %d, want page-rounded >= 3000", p.Size())
	}
	if p.Fd() != -1 {
		t.Errorf("fd = %d, want -1 for anonymous pool", p.Fd())
	}
	if _, ok := p.Buffer(0); ok {
		t.Error("descriptors created for frame size 0")
	}

	b, err := p.Slice(1, 10, 20)
	if err != nil {
		t.Fatal(err)
	}
	if b.Offset != 1010 || len(b.Bytes()) != 20 {
		t.Errorf("slice offset %d len %d", b.Offset, len(b.Bytes()))
	}
	copy(b.Bytes(), "abc")
	if string(p.Bytes()[1010:1013]) != "abc" {
		t.Error("slice does not alias the region")
	}
	if _, err = p.Slice(0, 990, 20); err == nil {
		t.Error("out of range slice accepted")
	}
}

func TestPmemPoolRegistration(t *testing.T) {
	r := newRecorder()
	p, err := NewPmemPool("camera", "snapshot", r, device.PmemMainImg, 38016, 4, 38016, 0)
	if err != nil {
		t.Fatal(err)
	}
	if p.Size() != 262144 {
		t.Errorf("size = %d, want 262144", p.Size())
	}
	if r.regs != 4 || p.Registered() != 4 {
		t.Fatalf("registered %d/%d, want 4", r.regs, p.Registered())
	}
	info := r.registered[38016]
	if info.Fd != p.Fd() || info.Type != device.PmemMainImg || !info.Active {
		t.Errorf("unexpected info %+v", info)
	}
	if want := ((38016 * 2 / 3) + 1) &^ 1; info.CbCrOffset != want {
		t.Errorf("cbcr offset = %d, want %d", info.CbCrOffset, want)
	}
	b, ok := p.Buffer(3)
	if !ok || b.Offset != 3*38016 || b.Size != 38016 {
		t.Errorf("buffer 3 = %+v", b)
	}

	if err = p.Release(); err != nil {
		t.Fatal(err)
	}
	if r.unregs != 4 || len(r.registered) != 0 {
		t.Errorf("unregistered %d, left %d", r.unregs, len(r.registered))
	}
	if b.Bytes() != nil {
		t.Error("buffer readable after release")
	}
	if err = p.Release(); err != nil {
		t.Fatal(err)
	}
	if r.unregs != 4 {
		t.Errorf("second release unregistered again: %d", r.unregs)
	}
}

func TestPmemPoolRawCbCr(t *testing.T) {
	r := newRecorder()
	p, err := NewPmemPool("camera", "raw", r, device.PmemRawMainImg, 3000, 1, 3000, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Release()
	if r.registered[0].CbCrOffset != 0 {
		t.Errorf("raw main image cbcr offset = %d", r.registered[0].CbCrOffset)
	}
}

func TestPmemPoolRegistrationFailure(t *testing.T) {
	r := newRecorder()
	r.fail[1024] = true
	p, err := NewPmemPool("adsp", "thumbnail", r, device.PmemThumbnail, 1024, 3, 1024, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Initialized() {
		t.Fatal("a failed slot registration must not fail the pool")
	}
	if p.Registered() != 2 || len(r.registered) != 2 {
		t.Errorf("registered %d, want 2", p.Registered())
	}
	if err = p.Release(); err != nil {
		t.Fatal(err)
	}
	if r.unregs != 2 {
		t.Errorf("unregistered %d, want 2", r.unregs)
	}
}

func TestPreviewPoolSkipsRegistration(t *testing.T) {
	p, err := NewPreviewPool("preview", 320*240*2, 4, 320*240*3/2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if p.Registered() != 0 {
		t.Errorf("preview pool registered %d buffers", p.Registered())
	}
	info, err := p.SlotInfo(2)
	if err != nil {
		t.Fatal(err)
	}
	if info.Type != device.PmemOutput2 || info.Offset != 2*320*240*2 {
		t.Errorf("slot info %+v", info)
	}
	if err = p.Release(); err != nil {
		t.Fatal(err)
	}
}

func TestAllocationFailure(t *testing.T) {
	orig := allocShared
	defer func() { allocShared = orig }()
	allocShared = func(name string, size int) (*region, error) {
		return nil, unix.ENOMEM
	}

	r := newRecorder()
	p, err := NewPmemPool("camera", "snapshot", r, device.PmemMainImg, 4096, 1, 4096, 0)
	if !errors.Is(err, ErrAllocation) {
		t.Fatalf("err = %v, want ErrAllocation", err)
	}
	if !errors.Is(err, unix.ENOMEM) {
		t.Errorf("err = %v does not wrap cause", err)
	}
	if p.Initialized() || r.regs != 0 {
		t.Error("uninitialized pool touched the device")
	}
	if err = p.Release(); err != nil {
		t.Errorf("release of uninitialized pool: %v", err)
	}
}
