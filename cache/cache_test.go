package cache

import (
	"testing"

	"github.com/opencodewin/MediaEditor-sub013/media"
)

func readySnap(idx uint32, pts int64, gen media.Generation) media.Snapshot {
	return media.Snapshot{
		Index:      idx,
		PTSMs:      pts,
		Pixels:     &media.Image{Width: 1, Height: 1},
		State:      media.SnapshotReady,
		Generation: gen,
	}
}

func TestPutRejectsWrongGeneration(t *testing.T) {
	t.Parallel()
	c := New(Config{MaxSize: 100, ShrinkTarget: 80})
	c.Reset(5)

	ok := c.Put(readySnap(0, 0, 4), 100, media.SnapshotWindow{Index0: 0, Index1: 10, Delta: 100})
	if ok {
		t.Fatal("Put should reject a snapshot from a stale generation")
	}
	if c.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", c.Len())
	}
}

// P2: centering — the stored snapshot's pts is the one closer to index*Δ.
func TestPutKeepsMoreCenteredCandidate(t *testing.T) {
	t.Parallel()
	c := New(Config{MaxSize: 100, ShrinkTarget: 80})
	window := media.SnapshotWindow{Index0: 0, Index1: 10, Delta: 1000}

	// index 5's nominal pts is 5000.
	c.Put(readySnap(5, 5400, 0), 100, window)
	c.Put(readySnap(5, 5100, 0), 100, window) // closer to 5000, should win

	got, ok := c.Get(5)
	if !ok || got.PTSMs != 5100 {
		t.Fatalf("Get(5) = %+v, %v; want pts=5100", got, ok)
	}

	// A worse candidate after a better one is already stored must not replace it.
	c.Put(readySnap(5, 5900, 0), 100, window)
	got, _ = c.Get(5)
	if got.PTSMs != 5100 {
		t.Fatalf("worse candidate replaced a better one: got pts=%d", got.PTSMs)
	}
}

// P1: uniqueness — at most one ready snapshot per index at any time.
func TestAtMostOneEntryPerIndex(t *testing.T) {
	t.Parallel()
	c := New(Config{MaxSize: 100, ShrinkTarget: 80})
	window := media.SnapshotWindow{Index0: 0, Index1: 10, Delta: 1000}
	for _, pts := range []int64{5100, 4900, 5050, 5000} {
		c.Put(readySnap(5, pts, 0), 100, window)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
}

// Scenario 6 from spec.md §8: frame_count=10, cache_factor=3 -> max=30,
// shrink_target=24, 35 entries populated across [0,34], window=[10,19].
// Put shrinks on every admission, so the 35 entries are populated under a
// larger limit first; the scenario's limits are then applied and one shrink
// runs over all 35.
func TestShrinkPreservesLocality(t *testing.T) {
	t.Parallel()
	c := New(Config{MaxSize: 100, ShrinkTarget: 80})
	window := media.SnapshotWindow{Index0: 10, Index1: 19, Delta: 1000}

	for i := uint32(0); i <= 34; i++ {
		c.Put(readySnap(i, int64(i)*1000, 0), 1000, window)
	}
	c.Reconfigure(Config{MaxSize: 30, ShrinkTarget: 24})
	c.Shrink(window)

	if got := c.Len(); got > 24 {
		t.Fatalf("Len() = %d, want <= 24", got)
	}

	live := map[uint32]bool{}
	for _, s := range c.Snapshot() {
		live[s.Index] = true
	}
	for i := uint32(0); i <= 34; i++ {
		if !live[i] && i >= 10 && i <= 19 {
			t.Errorf("index %d inside the window was evicted", i)
		}
	}
}

func TestShrinkStopsWhenEntireCacheInsideWindow(t *testing.T) {
	t.Parallel()
	c := New(Config{MaxSize: 5, ShrinkTarget: 3})
	window := media.SnapshotWindow{Index0: 0, Index1: 20, Delta: 1000}
	for i := uint32(0); i < 6; i++ {
		c.Put(readySnap(i, int64(i)*1000, 0), 1000, window)
	}
	// All 6 entries lie inside [0,20]; shrink must not drop below maxSize
	// since both distances are 0 (spec.md §4.D, §7 out_of_memory_cache).
	if c.Len() != 6 {
		t.Fatalf("Len() = %d, want 6 (shrink must not evict in-window entries)", c.Len())
	}
}

func TestFirstUnreadyAndNearestOutside(t *testing.T) {
	t.Parallel()
	c := New(Config{MaxSize: 100, ShrinkTarget: 80})
	window := media.SnapshotWindow{Index0: 0, Index1: 4, Delta: 1000}

	c.Put(readySnap(0, 0, 0), 100, window)
	c.Put(readySnap(1, 1000, 0), 100, window)
	// index 2 missing
	c.Put(readySnap(3, 3000, 0), 100, window)
	c.Put(readySnap(4, 4000, 0), 100, window)

	idx, ok := c.FirstUnready(window)
	if !ok || idx != 2 {
		t.Fatalf("FirstUnready = (%d, %v), want (2, true)", idx, ok)
	}

	// Fill the window fully, then check out-of-window search.
	c.Put(readySnap(2, 2000, 0), 100, window)
	if _, ok := c.FirstUnready(window); ok {
		t.Fatal("FirstUnready should report none once the window is full")
	}
	c.Put(readySnap(6, 6000, 0), 100, window)
	idx, ok = c.NearestUnreadyOutside(window, 100)
	if !ok || idx != 5 {
		t.Fatalf("NearestUnreadyOutside = (%d, %v), want (5, true)", idx, ok)
	}
}
