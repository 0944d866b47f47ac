package generator

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/opencodewin/MediaEditor-sub013/media"
	"github.com/opencodewin/MediaEditor-sub013/texture"
)

// Viewer is a weak reference to a Generator: it reads Snapshots out of the
// Generator's Cache and drives the shared window by calling Seek, but owns
// no pipeline resources itself (spec.md §4.H, "Viewer"). A Viewer outlives
// neither its Generator's Close nor an explicit ReleaseViewer; after either,
// every method degrades to returning empty results instead of panicking.
type Viewer struct {
	gen *Generator

	mu           sync.Mutex
	currentPosMs int64

	closed atomic.Bool

	texMu    sync.Mutex
	textures map[uint32]viewerTexture
}

type viewerTexture struct {
	handle     texture.Handle
	generation media.Generation
	index      uint32
}

func (v *Viewer) markClosed() {
	v.closed.Store(true)
}

// Closed reports whether the owning Generator has been released or closed.
func (v *Viewer) Closed() bool {
	return v.closed.Load()
}

// Seek recenters the shared window on posMs, preserving frame_count and Δ.
// It returns immediately; snapshots become ready asynchronously as the
// Snapshot Update thread works through the Planner's tasks.
func (v *Viewer) Seek(posMs int64) {
	if v.closed.Load() {
		return
	}
	v.mu.Lock()
	v.currentPosMs = posMs
	v.mu.Unlock()
	v.gen.recenterWindow()
}

// CurrentPos returns the position this Viewer last requested via Seek or
// CreateViewer.
func (v *Viewer) CurrentPos() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.currentPosMs
}

// GetSnapshots returns one Snapshot per index in the Generator's current
// window, substituting media.EmptySnapshot for any index not yet ready
// (spec.md §4.H, "GetSnapshots never blocks").
func (v *Viewer) GetSnapshots() []media.Snapshot {
	if v.closed.Load() {
		return nil
	}
	window, _ := v.gen.currentWindow()
	out := make([]media.Snapshot, 0, window.Len())
	for i := window.Index0; i <= window.Index1; i++ {
		if s, ok := v.gen.cache.Get(i); ok && s.Generation == window.Generation {
			out = append(out, s)
		} else {
			out = append(out, media.EmptySnapshot(i, window.Generation))
		}
		if i == ^uint32(0) {
			break
		}
	}
	return out
}

// UpdateSnapshotTexture materializes every ready-but-not-yet-uploaded
// Snapshot in the current window into pool, using poolName as the grid
// texture pool identity. It is idempotent: calling it again with nothing new
// ready leaves existing textures untouched (spec.md §4.H, §8 round-trip
// property). Callers MUST only invoke this from the render/UI thread, the
// same constraint the C++ source placed on its texture manager.
func (v *Viewer) UpdateSnapshotTexture(pool texture.Pool, poolName string, cellW, cellH, gridCols, gridRows int) error {
	if v.closed.Load() {
		return fmt.Errorf("generator: viewer released")
	}

	window, _ := v.gen.currentWindow()
	minCount := window.Len()
	if err := pool.EnsureGridPool(poolName, cellW, cellH, gridCols, gridRows, minCount); err != nil {
		return fmt.Errorf("generator: EnsureGridPool: %w", err)
	}

	v.texMu.Lock()
	defer v.texMu.Unlock()

	if v.textures == nil {
		v.textures = make(map[uint32]viewerTexture)
	}

	// Drop textures whose generation is stale; their handles are invalidated
	// so Acquire can hand the slots out again.
	for idx, t := range v.textures {
		if t.generation != window.Generation {
			t.handle.Invalidate()
			delete(v.textures, idx)
		}
	}

	for i := window.Index0; i <= window.Index1; i++ {
		snap, ok := v.gen.cache.Get(i)
		if !ok || !snap.Ready() || snap.Generation != window.Generation {
			continue
		}
		if _, uploaded := v.textures[i]; uploaded {
			continue
		}
		h, err := pool.Acquire(poolName)
		if err != nil {
			// texture_pool_exhausted is transient; the caller retries on a
			// later call (spec.md §7).
			continue
		}
		if err := pool.Upload(h, snap.Pixels); err != nil {
			continue
		}
		v.textures[i] = viewerTexture{handle: h, generation: window.Generation, index: i}
		if i == ^uint32(0) {
			break
		}
	}
	return nil
}

// Texture returns the texture handle uploaded for index, if any.
func (v *Viewer) Texture(index uint32) (texture.Handle, bool) {
	v.texMu.Lock()
	defer v.texMu.Unlock()
	t, ok := v.textures[index]
	if !ok {
		return nil, false
	}
	return t.handle, true
}
