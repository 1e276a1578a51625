package device

import (
	"slices"
	"sync"
)

// BufferTable holds the registered non-preview buffers of a device by type.
// The zero value is ready to use.
type BufferTable struct {
	mu sync.Mutex
	m  map[PmemType][]BufferInfo
}

func (t *BufferTable) Add(info BufferInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.m == nil {
		t.m = make(map[PmemType][]BufferInfo)
	}
	t.m[info.Type] = append(t.m[info.Type], info)
}

func (t *BufferTable) Remove(info BufferInfo) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	infos := t.m[info.Type]
	for i, b := range infos {
		if b.Fd == info.Fd && b.Offset == info.Offset {
			t.m[info.Type] = slices.Delete(infos, i, i+1)
			return true
		}
	}
	return false
}

// First returns the first buffer registered under any of types, tried in
// order.
func (t *BufferTable) First(types ...PmemType) (BufferInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, typ := range types {
		if infos := t.m[typ]; len(infos) > 0 {
			return infos[0], true
		}
	}
	return BufferInfo{}, false
}

func (t *BufferTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int
	for _, infos := range t.m {
		n += len(infos)
	}
	return n
}
