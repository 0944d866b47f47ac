package planner

import (
	"testing"

	"github.com/opencodewin/MediaEditor-sub013/media"
)

// fakeCache lets tests control FirstUnready/NearestUnreadyOutside directly
// without pulling in the cache package, keeping this package's tests pure.
type fakeCache struct {
	firstUnready        uint32
	firstUnreadyOK      bool
	nearestOutside      uint32
	nearestOutsideOK    bool
}

func (f fakeCache) FirstUnready(media.SnapshotWindow) (uint32, bool) {
	return f.firstUnready, f.firstUnreadyOK
}

func (f fakeCache) NearestUnreadyOutside(media.SnapshotWindow, uint32) (uint32, bool) {
	return f.nearestOutside, f.nearestOutsideOK
}

type fakeKeyframes struct {
	keyframes []int64
	sameGOPFn func(a, b int64) bool
}

func (f fakeKeyframes) LastAtOrBefore(target int64) (int64, bool) {
	var best int64
	found := false
	for _, k := range f.keyframes {
		if k <= target && (!found || k > best) {
			best, found = k, true
		}
	}
	return best, found
}

func (f fakeKeyframes) SameGOP(a, b int64) bool {
	if f.sameGOPFn != nil {
		return f.sameGOPFn(a, b)
	}
	return true
}

func TestNextReturnsNoneWhenEverythingReady(t *testing.T) {
	t.Parallel()
	p := New()
	window := media.SnapshotWindow{Index0: 0, Index1: 9, Delta: 1000, Generation: 1}
	cache := fakeCache{firstUnreadyOK: false, nearestOutsideOK: false}
	kf := fakeKeyframes{}

	_, ok := p.Next(window, 20, cache, kf)
	if ok {
		t.Fatal("Next should report idle when nothing is unready anywhere")
	}
}

// Window-first: even though an out-of-window index is reported by
// NearestUnreadyOutside, an in-window unready index always wins.
func TestNextPrefersInWindowTarget(t *testing.T) {
	t.Parallel()
	p := New()
	window := media.SnapshotWindow{Index0: 0, Index1: 9, Delta: 1000, Generation: 1}
	cache := fakeCache{firstUnready: 4, firstUnreadyOK: true, nearestOutside: 15, nearestOutsideOK: true}
	kf := fakeKeyframes{keyframes: []int64{0, 2000, 4000}}

	task, ok := p.Next(window, 20, cache, kf)
	if !ok || task.TargetIndex != 4 {
		t.Fatalf("Next = %+v, %v; want target=4", task, ok)
	}
	if task.SeekPTSMs != 4000 {
		t.Errorf("SeekPTSMs = %d, want 4000 (largest keyframe <= 4000)", task.SeekPTSMs)
	}
}

func TestNextCachesTaskUntilAdvanceOrGenerationChange(t *testing.T) {
	t.Parallel()
	p := New()
	window := media.SnapshotWindow{Index0: 0, Index1: 9, Delta: 1000, Generation: 1}
	cache := fakeCache{firstUnready: 4, firstUnreadyOK: true}
	kf := fakeKeyframes{keyframes: []int64{0}}

	first, _ := p.Next(window, 20, cache, kf)

	// Change what the cache would report; Next must still return the
	// cached task since neither Advance nor a generation bump occurred.
	cache.firstUnready = 7
	again, _ := p.Next(window, 20, cache, kf)
	if again != first {
		t.Fatalf("Next recomputed without Advance/generation change: %+v != %+v", again, first)
	}

	p.Advance()
	advanced, _ := p.Next(window, 20, cache, kf)
	if advanced.TargetIndex != 7 {
		t.Fatalf("Next after Advance = %+v, want target=7", advanced)
	}

	window.Generation = 2
	cache.firstUnready = 1
	bumped, _ := p.Next(window, 20, cache, kf)
	if bumped.TargetIndex != 1 {
		t.Fatalf("Next after generation bump = %+v, want target=1", bumped)
	}
}

// No re-seek inside a GOP: once a task is planned and the decoder reports
// forward progress within the same GOP, the next recompute must reuse the
// earlier seek position instead of issuing a fresh one.
func TestNextReusesSeekWithinSameGOP(t *testing.T) {
	t.Parallel()
	p := New()
	window := media.SnapshotWindow{Index0: 0, Index1: 9, Delta: 1000, Generation: 1}
	cache := fakeCache{firstUnready: 2, firstUnreadyOK: true}
	kf := fakeKeyframes{keyframes: []int64{0}, sameGOPFn: func(a, b int64) bool { return true }}

	first, _ := p.Next(window, 20, cache, kf)
	if first.SeekPTSMs != 0 {
		t.Fatalf("first SeekPTSMs = %d, want 0", first.SeekPTSMs)
	}

	p.ObservePTS(1500)
	p.Advance()
	cache.firstUnready = 3
	next, _ := p.Next(window, 20, cache, kf)
	if next.SeekPTSMs != first.SeekPTSMs {
		t.Errorf("SeekPTSMs = %d, want reused %d (same GOP, no re-seek)", next.SeekPTSMs, first.SeekPTSMs)
	}
}

func TestNextIssuesFreshSeekAcrossGOPBoundary(t *testing.T) {
	t.Parallel()
	p := New()
	window := media.SnapshotWindow{Index0: 0, Index1: 9, Delta: 1000, Generation: 1}
	cache := fakeCache{firstUnready: 2, firstUnreadyOK: true}
	kf := fakeKeyframes{keyframes: []int64{0, 3000}, sameGOPFn: func(a, b int64) bool { return false }}

	p.Next(window, 20, cache, kf)
	p.ObservePTS(2900)
	p.Advance()
	cache.firstUnready = 4
	next, _ := p.Next(window, 20, cache, kf)
	if next.SeekPTSMs != 3000 {
		t.Errorf("SeekPTSMs = %d, want 3000 (fresh seek across GOP boundary)", next.SeekPTSMs)
	}
}
