package memory

import (
	"fmt"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// region is one mapped backing store. fd is -1 for anonymous mappings.
type region struct {
	name string
	fd   int
	data []byte
}

// newAnonRegion maps size bytes of anonymous shared memory.
func newAnonRegion(size int) (*region, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap anonymous %d bytes: %w", size, err)
	}

	return &region{name: "anon", fd: -1, data: data}, nil
}

// newSharedRegion creates a named memfd of size bytes and maps it, so the
// descriptor can be handed to the device or another process.
func newSharedRegion(name string, size int) (*region, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create %s: %w", name, err)
	}
	if err = unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("truncate %s to %d: %w", name, size, err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("mmap %s: %w", name, err)
	}

	return &region{name: name, fd: fd, data: data}, nil
}

// allocShared is swapped in tests to simulate an exhausted pool path.
var allocShared = newSharedRegion

func (r *region) close() error {
	var err error
	if r.data != nil {
		err = multierr.Append(err, unix.Munmap(r.data))
		r.data = nil
	}
	if r.fd >= 0 {
		err = multierr.Append(err, unix.Close(r.fd))
		r.fd = -1
	}

	return err
}

func pageRound(size int) int {
	mask := unix.Getpagesize() - 1
	return (size + mask) &^ mask
}

// clp2 rounds x up to the next power of two.
func clp2(x uint32) uint32 {
	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	return x + 1
}
