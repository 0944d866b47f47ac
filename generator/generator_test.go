package generator

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/opencodewin/MediaEditor-sub013/cache"
	"github.com/opencodewin/MediaEditor-sub013/media"
	"github.com/opencodewin/MediaEditor-sub013/planner"
	"github.com/opencodewin/MediaEditor-sub013/texture"
)

// newTestGenerator builds a Generator with its cache/planner wired up but no
// decode.Stage, letting these tests exercise window/config math and the
// Viewer read path without cgo.
func newTestGenerator() *Generator {
	g := New(nil)
	g.cacheFactor = defaultCacheFactor
	g.durationMs = 60_000
	g.cache = cache.New(cache.Config{})
	g.planner = planner.New()
	g.viewers = make(map[*Viewer]struct{})
	return g
}

func TestConfigSnapWindowComputesDeltaAndCacheSize(t *testing.T) {
	t.Parallel()
	g := newTestGenerator()
	g.SetCacheFactor(3)
	g.ConfigSnapWindow(10_000, 10, false)

	window, indexMax := g.currentWindow()
	if window.Delta != 1000 {
		t.Errorf("Delta = %v, want 1000", window.Delta)
	}
	// indexMax is the absolute bound across the whole 60s source at this Δ
	// (60000ms / 1000ms), not frameCount-1 — it stays meaningful as the
	// window slides away from index 0 on a later Seek.
	if indexMax != 60 {
		t.Errorf("indexMax = %d, want 60", indexMax)
	}
	if window.Index0 != 0 || window.Index1 != 9 {
		t.Errorf("window = [%d,%d], want [0,9] centered at pos 0 with no viewers yet", window.Index0, window.Index1)
	}
}

func TestConfigSnapWindowBumpsGenerationOnFrameCountChange(t *testing.T) {
	t.Parallel()
	g := newTestGenerator()
	g.ConfigSnapWindow(10_000, 10, false)
	gen1, _ := g.currentWindow()

	g.ConfigSnapWindow(10_000, 10, false) // same frame_count, no forceRefresh
	gen2, _ := g.currentWindow()
	if gen2.Generation != gen1.Generation {
		t.Errorf("generation changed without frame_count change or forceRefresh")
	}

	g.ConfigSnapWindow(10_000, 20, false) // frame_count changed
	gen3, _ := g.currentWindow()
	if gen3.Generation == gen2.Generation {
		t.Errorf("generation did not bump on frame_count change")
	}
}

func TestConfigSnapWindowBumpsGenerationOnForceRefresh(t *testing.T) {
	t.Parallel()
	g := newTestGenerator()
	g.ConfigSnapWindow(10_000, 10, false)
	before, _ := g.currentWindow()

	g.ConfigSnapWindow(10_000, 10, true)
	after, _ := g.currentWindow()
	if after.Generation == before.Generation {
		t.Errorf("generation did not bump on forceRefresh")
	}
}

func TestConfigSnapWindowClampsToMinWindow(t *testing.T) {
	t.Parallel()
	g := newTestGenerator()
	g.ConfigSnapWindow(0, 10, false) // far below the minimum
	window, _ := g.currentWindow()
	if window.Delta <= 0 {
		t.Fatalf("Delta = %v, want > 0 after clamping to min window", window.Delta)
	}
}

// TestRecenterWindowSlidesAbsoluteIndexDomain is the spec.md §8.2 scenario:
// once every index in the initial window is cached Ready, a later Seek must
// still produce unready indices for the Planner to act on, instead of the
// window's index domain being trapped at [0, frameCount-1] forever.
func TestRecenterWindowSlidesAbsoluteIndexDomain(t *testing.T) {
	t.Parallel()
	g := newTestGenerator()
	g.durationMs = 600_000
	g.ConfigSnapWindow(10_000, 10, false)

	v := g.CreateViewer(0)
	window, indexMax := g.currentWindow()
	if window.Index0 != 0 || window.Index1 != 9 {
		t.Fatalf("initial window = [%d,%d], want [0,9]", window.Index0, window.Index1)
	}

	for i := window.Index0; i <= window.Index1; i++ {
		g.cache.Put(media.Snapshot{
			Index: i, PTSMs: window.PTSForIndex(i), State: media.SnapshotReady,
			Pixels: &media.Image{Width: 4, Height: 4}, Generation: window.Generation,
		}, indexMax, window)
	}
	if _, ok := g.cache.FirstUnready(window); ok {
		t.Fatalf("expected every initial index ready before seeking")
	}

	v.Seek(300_000)
	window, _ = g.currentWindow()
	if window.Index0 != 295 || window.Index1 != 304 {
		t.Fatalf("window after Seek(300000) = [%d,%d], want [295,304]", window.Index0, window.Index1)
	}
	if _, ok := g.cache.FirstUnready(window); !ok {
		t.Fatal("expected unready indices in the new window after Seek — the Planner must not go idle")
	}
}

// TestRecenterWindowMergesMultipleViewerRanges covers spec.md §4.H: two
// Viewers attached to one Generator must have their requested ranges merged
// into a single covering window, not have the later Seek silently evict the
// earlier Viewer's range.
func TestRecenterWindowMergesMultipleViewerRanges(t *testing.T) {
	t.Parallel()
	g := newTestGenerator()
	g.durationMs = 600_000
	g.ConfigSnapWindow(10_000, 10, false)

	v1 := g.CreateViewer(0)
	window, _ := g.currentWindow()
	if window.Index0 != 0 || window.Index1 != 9 {
		t.Fatalf("window after first viewer = [%d,%d], want [0,9]", window.Index0, window.Index1)
	}

	v2 := g.CreateViewer(300_000)
	window, _ = g.currentWindow()
	if window.Index0 != 0 || window.Index1 != 304 {
		t.Fatalf("window after second viewer = [%d,%d], want [0,304] (union of both ranges)", window.Index0, window.Index1)
	}

	g.ReleaseViewer(v1)
	window, _ = g.currentWindow()
	if window.Index0 != 295 || window.Index1 != 304 {
		t.Fatalf("window after releasing first viewer = [%d,%d], want [295,304]", window.Index0, window.Index1)
	}
	g.ReleaseViewer(v2)
}

func TestViewerGetSnapshotsFillsEmptyForUnready(t *testing.T) {
	t.Parallel()
	g := newTestGenerator()
	g.ConfigSnapWindow(5_000, 5, false)
	window, indexMax := g.currentWindow()

	g.cache.Put(media.Snapshot{
		Index: 2, PTSMs: window.PTSForIndex(2), State: media.SnapshotReady,
		Pixels: &media.Image{Width: 4, Height: 4}, Generation: window.Generation,
	}, indexMax, window)

	v := g.CreateViewer(0)
	snaps := v.GetSnapshots()
	if len(snaps) != 5 {
		t.Fatalf("len = %d, want 5", len(snaps))
	}
	for i, s := range snaps {
		if i == 2 {
			if !s.Ready() {
				t.Errorf("index 2 should be ready")
			}
			continue
		}
		if s.Ready() || s.PTSMs != media.PTSUnknown {
			t.Errorf("index %d should be empty, got %+v", i, s)
		}
	}
}

func TestViewerUpdateSnapshotTextureIsIdempotent(t *testing.T) {
	t.Parallel()
	g := newTestGenerator()
	g.ConfigSnapWindow(3_000, 3, false)
	window, indexMax := g.currentWindow()

	g.cache.Put(media.Snapshot{
		Index: 0, PTSMs: window.PTSForIndex(0), State: media.SnapshotReady,
		Pixels: &media.Image{Width: 2, Height: 2, Pixels: []byte{1, 2, 3, 4}}, Generation: window.Generation,
	}, indexMax, window)

	v := g.CreateViewer(0)
	pool := texture.NewFakePool()

	if err := v.UpdateSnapshotTexture(pool, "grid", 2, 2, 1, 3); err != nil {
		t.Fatalf("UpdateSnapshotTexture: %v", err)
	}
	h1, ok := v.Texture(0)
	if !ok {
		t.Fatalf("expected a texture for index 0")
	}

	if err := v.UpdateSnapshotTexture(pool, "grid", 2, 2, 1, 3); err != nil {
		t.Fatalf("UpdateSnapshotTexture (second call): %v", err)
	}
	h2, _ := v.Texture(0)
	if h1 != h2 {
		t.Errorf("second UpdateSnapshotTexture call replaced an already-uploaded handle")
	}
}

func TestGeneratorMetadataAccessors(t *testing.T) {
	t.Parallel()
	g := newTestGenerator()
	g.ConfigSnapWindow(10_000, 10, false)

	if got := g.Duration(); got != 60_000 {
		t.Errorf("Duration() = %d, want 60000", got)
	}
	if got := g.FrameCount(); got != 10 {
		t.Errorf("FrameCount() = %d, want 10", got)
	}
	if got := g.MinPos(); got != 0 {
		t.Errorf("MinPos() = %d, want 0", got)
	}
}

func TestGeneratorErrSetOnceFromFirstFailure(t *testing.T) {
	t.Parallel()
	g := newTestGenerator()
	if g.Err() != nil {
		t.Fatalf("Err() = %v, want nil before any failure", g.Err())
	}

	first := errors.New("decode stage exhausted")
	g.setErr(first)
	g.setErr(errors.New("a later, unrelated failure"))

	if got := g.Err(); got != first {
		t.Errorf("Err() = %v, want the first recorded error %v", got, first)
	}
}

func TestGeneratorSetLogLevelAdjustsDefaultLogger(t *testing.T) {
	t.Parallel()
	g := New(nil)
	if g.levelVar == nil {
		t.Fatal("New(nil) should install a LevelVar-backed default logger")
	}
	g.SetLogLevel(slog.LevelDebug)
	if g.levelVar.Level() != slog.LevelDebug {
		t.Errorf("levelVar = %v, want Debug", g.levelVar.Level())
	}
}

func TestViewerReturnsEmptyAfterGeneratorClosed(t *testing.T) {
	t.Parallel()
	g := newTestGenerator()
	g.ConfigSnapWindow(3_000, 3, false)
	v := g.CreateViewer(0)

	v.markClosed()
	if !v.Closed() {
		t.Fatal("expected Closed() true")
	}
	if snaps := v.GetSnapshots(); snaps != nil {
		t.Errorf("expected nil snapshots from a closed Viewer, got %v", snaps)
	}
}
