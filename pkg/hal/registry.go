package hal

import (
	"context"
	"sync"
)

// Factory builds a new hardware instance for a Registry.
type Factory func(ctx context.Context) (*Hardware, error)

// Registry hands out the single hardware instance. Handles share it; when
// the last one is closed the instance is released asynchronously and Open
// waits for that teardown before building the next one.
type Registry struct {
	factory Factory

	mu       sync.Mutex
	hw       *Hardware
	refs     int
	teardown *Teardown
}

func NewRegistry(factory Factory) *Registry {
	return &Registry{factory: factory}
}

// Open returns a handle on the live instance, creating it when there is
// none.
func (r *Registry) Open(ctx context.Context) (*Handle, error) {
	r.mu.Lock()
	for r.teardown != nil {
		t := r.teardown
		r.mu.Unlock()
		logger.Info("wait for previous release")
		select {
		case <-t.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		r.mu.Lock()
	}
	defer r.mu.Unlock()

	if r.hw != nil {
		r.refs++
		logger.Debugf("return existing hardware, %d handles", r.refs)
		return &Handle{r: r, hw: r.hw}, nil
	}

	hw, err := r.factory(ctx)
	if err != nil {
		logger.Errorf("failed to create hardware: %s", err)
		return nil, err
	}
	r.hw, r.refs = hw, 1
	logger.Debug("created hardware")

	return &Handle{r: r, hw: hw}, nil
}

func (r *Registry) release() *Teardown {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refs--
	if r.refs > 0 {
		return finishedTeardown()
	}

	hw := r.hw
	t := &Teardown{done: make(chan struct{})}
	r.teardown = t
	go func() {
		err := hw.Release(context.Background())
		r.mu.Lock()
		r.hw = nil
		r.teardown = nil
		r.mu.Unlock()
		t.finish(err)
	}()

	return t
}

// Handle is one user's reference to the hardware.
type Handle struct {
	r    *Registry
	hw   *Hardware
	once sync.Once
	t    *Teardown
}

func (h *Handle) Hardware() *Hardware {
	return h.hw
}

// Close drops the reference. The returned Teardown completes when the
// instance is gone, or at once when other handles keep it alive. Closing
// twice returns the same Teardown.
func (h *Handle) Close() *Teardown {
	h.once.Do(func() {
		h.t = h.r.release()
	})
	return h.t
}

// Teardown is the pending release of a hardware instance.
type Teardown struct {
	done chan struct{}
	err  error
}

func finishedTeardown() *Teardown {
	t := &Teardown{done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *Teardown) finish(err error) {
	t.err = err
	close(t.done)
}

func (t *Teardown) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the release finished and returns its error.
func (t *Teardown) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err is the release error, nil while still pending.
func (t *Teardown) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}
