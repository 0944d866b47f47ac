// Package cache implements the Snapshot Cache: an ordered-by-index map of
// completed snapshots with admission control and a locality-preserving
// shrink policy (spec.md §4.D). Access is serialized by a single mutex, held
// only for map mutations — never while copying pixels — matching the
// mutex-per-resource idiom internal/stream/manager.go uses for its map of
// streams.
package cache

import (
	"math"
	"sort"
	"sync"

	"github.com/opencodewin/MediaEditor-sub013/media"
)

// Cache holds Snapshots for a single Generator's current generation. A
// generation bump (via Reset) discards everything: entries from a stale
// generation must never be visible to a Viewer (spec.md §3 "Generation").
type Cache struct {
	mu sync.Mutex

	generation media.Generation
	entries    map[uint32]media.Snapshot
	// order is kept sorted by index so shrink can find the leftmost/
	// rightmost live entries in O(1); inserting a new index re-sorts the
	// slice and removing one shifts it — acceptable since cache sizes are
	// bounded by MaxSize (tens to low hundreds of entries).
	order []uint32

	maxSize      int
	shrinkTarget int
}

// Config holds the admission/shrink parameters a Generator derives from its
// ConfigSnapWindow call (spec.md §4.G).
type Config struct {
	MaxSize      int
	ShrinkTarget int
}

// New creates an empty Cache for generation 0.
func New(cfg Config) *Cache {
	return &Cache{
		entries:      make(map[uint32]media.Snapshot),
		maxSize:      cfg.MaxSize,
		shrinkTarget: cfg.ShrinkTarget,
	}
}

// Reconfigure updates size limits; it does not itself trigger a shrink or a
// generation bump — callers that changed generation call Reset separately,
// matching the spec's rule that ConfigSnapWindow alone (without a frame
// count change or forceRefresh) does not bump generation (spec.md §8,
// "Round-trip / idempotence").
func (c *Cache) Reconfigure(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxSize = cfg.MaxSize
	c.shrinkTarget = cfg.ShrinkTarget
}

// Reset discards every entry and moves the cache to a new generation,
// invalidating all in-flight work tagged with the old one (spec.md §3).
func (c *Cache) Reset(generation media.Generation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation = generation
	c.entries = make(map[uint32]media.Snapshot)
	c.order = nil
}

// Generation returns the cache's current generation.
func (c *Cache) Generation() media.Generation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Get returns the snapshot at idx, if one exists in the current generation.
func (c *Cache) Get(idx uint32) (media.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[idx]
	return s, ok
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// Put admits a candidate snapshot into the cache, applying spec.md §4.D's
// admission rule: the candidate's generation must match the cache's, its
// index must be within [0, indexMax], and if an entry already exists for
// that index the one with pts nearer to index*Δ (the "centered" tie-break,
// spec.md P2) wins. After admission, Put runs the shrink policy relative to
// window.
//
// Put returns true if the candidate was stored (possibly replacing a less
// centered entry), false if rejected.
func (c *Cache) Put(candidate media.Snapshot, indexMax uint32, window media.SnapshotWindow) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if candidate.Generation != c.generation {
		return false
	}
	if candidate.Index > indexMax {
		return false
	}

	nominalPTS := window.PTSForIndex(candidate.Index)
	if existing, ok := c.entries[candidate.Index]; ok {
		if existing.State == media.SnapshotReady && candidate.State == media.SnapshotReady {
			existingDist := absInt64(existing.PTSMs - nominalPTS)
			candidateDist := absInt64(candidate.PTSMs - nominalPTS)
			if existingDist <= candidateDist {
				return false
			}
		} else if existing.State == media.SnapshotReady && candidate.State != media.SnapshotReady {
			// Never downgrade a ready entry to decoding/failed.
			return false
		}
	} else {
		c.order = append(c.order, candidate.Index)
		sort.Slice(c.order, func(i, j int) bool { return c.order[i] < c.order[j] })
	}

	c.entries[candidate.Index] = candidate
	c.shrinkLocked(window)
	return true
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Evict removes idx from the cache unconditionally. Used when a conversion
// failure must not leave a stale entry behind under a later generation (it
// normally won't, since Reset already cleared it, but Evict lets the
// Snapshot Update stage be explicit).
func (c *Cache) Evict(idx uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(idx)
}

// Shrink runs the shrink policy relative to window without inserting
// anything new. A Generator calls this after a window change, since the
// "current window" used by the policy moved even though the cache contents
// did not.
func (c *Cache) Shrink(window media.SnapshotWindow) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shrinkLocked(window)
}

// shrinkLocked implements spec.md §4.D's shrink policy: while |cache| >=
// maxSize, repeatedly discard the entry farthest (in index distance) from
// the current window, preferring to erase the right end on ties, until
// |cache| <= shrinkTarget or every live entry already lies inside the
// window (spec.md P4). Choosing the entry to evict is O(1) since order is
// kept sorted and eviction only ever touches its two ends; removing the
// left end shifts the slice.
func (c *Cache) shrinkLocked(window media.SnapshotWindow) {
	if len(c.order) < c.maxSize {
		return
	}
	for len(c.order) > c.shrinkTarget {
		left := c.order[0]
		right := c.order[len(c.order)-1]

		distLeft := int64(0)
		if left < window.Index0 {
			distLeft = int64(window.Index0) - int64(left)
		}
		distRight := int64(0)
		if right > window.Index1 {
			distRight = int64(right) - int64(window.Index1)
		}

		if distLeft == 0 && distRight == 0 {
			// Entire cache lies inside the window; the policy accepts
			// exceeding shrinkTarget here (spec.md §7 "out_of_memory_cache":
			// "window is always honored").
			return
		}

		if distRight >= distLeft {
			c.removeLocked(right)
		} else {
			c.removeLocked(left)
		}
	}
}

func (c *Cache) removeLocked(idx uint32) {
	if _, ok := c.entries[idx]; !ok {
		return
	}
	delete(c.entries, idx)
	i := sort.Search(len(c.order), func(i int) bool { return c.order[i] >= idx })
	if i < len(c.order) && c.order[i] == idx {
		c.order = append(c.order[:i], c.order[i+1:]...)
	}
}

// FirstUnready scans [window.Index0, window.Index1] and returns the first
// index that is not SnapshotReady, used by the Task Planner (spec.md §4.E
// step 2).
func (c *Cache) FirstUnready(window media.SnapshotWindow) (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := window.Index0; i <= window.Index1; i++ {
		if s, ok := c.entries[i]; !ok || s.State != media.SnapshotReady {
			return i, true
		}
		if i == math.MaxUint32 {
			break
		}
	}
	return 0, false
}

// NearestUnreadyOutside scans outward from the window for the nearest
// unready index outside [Index0, Index1], up to indexMax, preferring the
// right-hand ("next") direction on a tie (spec.md §4.E step 2).
func (c *Cache) NearestUnreadyOutside(window media.SnapshotWindow, indexMax uint32) (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var prev, next uint32
	var havePrev, haveNext bool

	if window.Index0 > 0 {
		for i := int64(window.Index0) - 1; i >= 0; i-- {
			idx := uint32(i)
			if s, ok := c.entries[idx]; !ok || s.State != media.SnapshotReady {
				prev, havePrev = idx, true
				break
			}
		}
	}
	for i := uint64(window.Index1) + 1; i <= uint64(indexMax); i++ {
		idx := uint32(i)
		if s, ok := c.entries[idx]; !ok || s.State != media.SnapshotReady {
			next, haveNext = idx, true
			break
		}
	}

	switch {
	case !havePrev && !haveNext:
		return 0, false
	case !havePrev:
		return next, true
	case !haveNext:
		return prev, true
	default:
		distPrev := int64(window.Index0) - int64(prev)
		distNext := int64(next) - int64(window.Index1)
		if distNext <= distPrev {
			return next, true
		}
		return prev, true
	}
}

// Snapshot returns a stable, ordered-by-index copy of every live entry, for
// diagnostics and tests.
func (c *Cache) Snapshot() []media.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]media.Snapshot, 0, len(c.order))
	for _, idx := range c.order {
		out = append(out, c.entries[idx])
	}
	return out
}
