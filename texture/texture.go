// Package texture declares the capability interface the Viewer uses to
// upload ready snapshot pixels to GPU-backed textures. The real texture pool
// lives in the host application (the node-graph editor's renderer) and is
// explicitly out of scope for this subsystem (spec.md §1); this package only
// defines the boundary and a small in-memory fake useful for tests.
package texture

import "github.com/opencodewin/MediaEditor-sub013/media"

// Handle is an opaque reference to a GPU-resident texture slot, standing in
// for the C++ source's RenderUtils::ManagedTexture (original_source
// extralib/include/MediaCore/TextureManager.h).
type Handle interface {
	// Valid reports whether the texture still holds usable pixels.
	Valid() bool
	// Invalidate marks the slot reusable; the Viewer calls it when it drops
	// a texture whose snapshot belongs to an older generation. Evicting a
	// snapshot from the cache does not invalidate its texture.
	Invalidate()
}

// Pool is the capability a Viewer needs to materialize ready snapshots as
// textures (spec.md §4.H, §6 "Texture pool"). Implementations MUST only be
// driven from the UI thread; this package enforces nothing about that since
// Go has no notion of "the UI thread" — callers are responsible, exactly as
// spec.md §5 states for UpdateSnapshotTexture.
type Pool interface {
	// EnsureGridPool creates (idempotently) a named pool of textures sized
	// for grid-of-thumbnails rendering, mirroring
	// TextureManager::CreateGridTexturePool.
	EnsureGridPool(name string, width, height int, gridCols, gridRows, minCount int) error
	// Acquire returns a texture slot from the named pool, or an error if the
	// pool is exhausted (spec.md §7 "texture_pool_exhausted": transient,
	// caller retries on a later UpdateSnapshotTexture call).
	Acquire(poolName string) (Handle, error)
	// Upload transfers img's pixels into h. Idempotent: uploading the same
	// image twice leaves h unchanged on the second call (spec.md §8,
	// round-trip property).
	Upload(h Handle, img *media.Image) error
}

// poolExhaustedError is returned by Acquire when no slot is free.
type poolExhaustedError struct{ pool string }

func (e *poolExhaustedError) Error() string { return "texture pool exhausted: " + e.pool }

// NewPoolExhaustedError builds the transient error Acquire returns when a
// named pool has no free slots.
func NewPoolExhaustedError(pool string) error { return &poolExhaustedError{pool: pool} }
