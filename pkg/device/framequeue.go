package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type slotKey struct {
	fd     int
	offset int
}

// Slot is a registered preview buffer owned by the device while it is
// being filled.
type Slot struct {
	Info BufferInfo
}

func (s *Slot) key() slotKey {
	return slotKey{fd: s.Info.Fd, offset: s.Info.Offset}
}

// FrameQueue is the ring of registered preview slots shared by device
// implementations: free slots waiting to be filled (active ones first,
// spares after), completed slots waiting for GetFrame, and slots handed to
// the caller until ReleaseFrame.
type FrameQueue struct {
	mu    sync.Mutex
	slots map[slotKey]*Slot
	free  []*Slot
	spare []*Slot
	done  []*Slot
	held  map[slotKey]*Slot

	ready   chan struct{}
	closing chan struct{}
	closed  bool
}

func NewFrameQueue() *FrameQueue {
	return &FrameQueue{
		slots:   make(map[slotKey]*Slot),
		held:    make(map[slotKey]*Slot),
		ready:   make(chan struct{}, 1),
		closing: make(chan struct{}),
	}
}

func (q *FrameQueue) Register(info BufferInfo) {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := &Slot{Info: info}
	if _, ok := q.slots[s.key()]; ok {
		return
	}
	q.slots[s.key()] = s
	if info.Active {
		q.free = append(q.free, s)
	} else {
		q.spare = append(q.spare, s)
	}
}

func (q *FrameQueue) Unregister(info BufferInfo) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	k := slotKey{fd: info.Fd, offset: info.Offset}
	s, ok := q.slots[k]
	if !ok {
		return false
	}
	delete(q.slots, k)
	delete(q.held, k)
	q.free = removeSlot(q.free, s)
	q.spare = removeSlot(q.spare, s)
	q.done = removeSlot(q.done, s)

	return true
}

// Registered returns the number of registered slots.
func (q *FrameQueue) Registered() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.slots)
}

// Acquire takes a free slot for the producer. It returns false when every
// slot is queued or held by the consumer; the producer drops the frame.
func (q *FrameQueue) Acquire() (*Slot, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, false
	}
	var s *Slot
	switch {
	case len(q.free) > 0:
		s, q.free = q.free[0], q.free[1:]
	case len(q.spare) > 0:
		s, q.spare = q.spare[0], q.spare[1:]
	default:
		return nil, false
	}

	return s, true
}

// Complete queues a filled slot for GetFrame and wakes a waiter.
func (q *FrameQueue) Complete(s *Slot) {
	q.mu.Lock()
	if _, ok := q.slots[s.key()]; !ok {
		// unregistered while being filled
		q.mu.Unlock()
		return
	}
	q.done = append(q.done, s)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Wait reports whether a completed frame is available within timeout.
func (q *FrameQueue) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	if q.pending() {
		return true, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-q.closing:
		return false, ErrClosed
	case <-timer.C:
		return q.pending(), nil
	case <-q.ready:
		return q.pending(), nil
	}
}

func (q *FrameQueue) pending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.done) > 0
}

func (q *FrameQueue) Get() (*Frame, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}
	if len(q.done) == 0 {
		return nil, ErrNoFrame
	}
	s := q.done[0]
	q.done = q.done[1:]
	q.held[s.key()] = s

	return &Frame{
		Fd:         s.Info.Fd,
		Offset:     s.Info.Offset,
		YOffset:    s.Info.YOffset,
		CbCrOffset: s.Info.CbCrOffset,
		Active:     s.Info.Active,
		Path:       PathEncode,
	}, nil
}

// Release returns a frame obtained from Get to the free list.
func (q *FrameQueue) Release(f *Frame) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	k := slotKey{fd: f.Fd, offset: f.Offset}
	s, ok := q.held[k]
	if !ok {
		return fmt.Errorf("release of unknown frame fd=%d offset=%d", f.Fd, f.Offset)
	}
	delete(q.held, k)
	q.free = append(q.free, s)

	return nil
}

func (q *FrameQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.closing)
}

func removeSlot(list []*Slot, s *Slot) []*Slot {
	for i, v := range list {
		if v == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
