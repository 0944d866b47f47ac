package texture

import (
	"fmt"
	"sync"

	"github.com/opencodewin/MediaEditor-sub013/media"
)

// FakeHandle is an in-memory stand-in for a GPU texture slot.
type FakeHandle struct {
	mu     sync.Mutex
	valid  bool
	pool   string
	Pixels []byte // last uploaded pixels, copied
	Width  int
	Height int
}

func (h *FakeHandle) Valid() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.valid
}

func (h *FakeHandle) Invalidate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.valid = false
	h.Pixels = nil
}

// FakePool is a deterministic, in-process implementation of Pool for tests,
// standing in where no real renderer is attached. It has no size limit unless MaxPerPool is set, letting tests exercise
// texture_pool_exhausted (spec.md §7).
type FakePool struct {
	mu         sync.Mutex
	pools      map[string]*fakePoolState
	MaxPerPool int // 0 = unbounded
}

type fakePoolState struct {
	width, height     int
	gridCols, gridRow int
	handles           []*FakeHandle
}

func NewFakePool() *FakePool {
	return &FakePool{pools: make(map[string]*fakePoolState)}
}

func (p *FakePool) EnsureGridPool(name string, width, height int, gridCols, gridRows, minCount int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pools[name]; ok {
		return nil
	}
	st := &fakePoolState{width: width, height: height, gridCols: gridCols, gridRow: gridRows}
	for i := 0; i < minCount; i++ {
		st.handles = append(st.handles, &FakeHandle{pool: name})
	}
	p.pools[name] = st
	return nil
}

func (p *FakePool) Acquire(poolName string) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.pools[poolName]
	if !ok {
		return nil, fmt.Errorf("texture: unknown pool %q", poolName)
	}
	for _, h := range st.handles {
		if !h.Valid() {
			h.mu.Lock()
			h.valid = true
			h.mu.Unlock()
			return h, nil
		}
	}
	if p.MaxPerPool > 0 && len(st.handles) >= p.MaxPerPool {
		return nil, NewPoolExhaustedError(poolName)
	}
	h := &FakeHandle{pool: poolName, valid: true}
	st.handles = append(st.handles, h)
	return h, nil
}

func (p *FakePool) Upload(h Handle, img *media.Image) error {
	fh, ok := h.(*FakeHandle)
	if !ok {
		return fmt.Errorf("texture: handle from a different pool implementation")
	}
	fh.mu.Lock()
	defer fh.mu.Unlock()
	fh.Pixels = append(fh.Pixels[:0], img.Pixels...)
	fh.Width, fh.Height = img.Width, img.Height
	return nil
}
