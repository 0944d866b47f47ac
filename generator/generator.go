// Package generator implements the Snapshot Generator and Viewer (spec.md
// §4.G, §4.H): the sliding-window thumbnail service that owns a Decoder
// Stage, Converter Stage, Cache, and Task Planner, and issues Viewers that
// read from the Cache. Control-surface locking is grounded on
// internal/stream/manager.go's single-mutex-per-manager idiom; the
// goroutine/errgroup shutdown discipline is grounded on
// internal/pipeline/pipeline.go's Run(ctx)/quit-channel pattern.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/opencodewin/MediaEditor-sub013/cache"
	"github.com/opencodewin/MediaEditor-sub013/container"
	"github.com/opencodewin/MediaEditor-sub013/convert"
	"github.com/opencodewin/MediaEditor-sub013/decode"
	"github.com/opencodewin/MediaEditor-sub013/hwaccel"
	"github.com/opencodewin/MediaEditor-sub013/media"
	"github.com/opencodewin/MediaEditor-sub013/planner"
)

// decoderStage is the method set both decode.Stage (libav-backed) and
// decode.SequenceStage (image-sequence-backed) implement, letting Open pick
// whichever matches the MediaParser it was given without any other code in
// this package special-casing the sequence case (SPEC_FULL.md §3).
type decoderStage interface {
	Run(context.Context) error
	Seek(int64)
	Frames() <-chan *media.Frame
	Err() error
	Close() error
	Epoch() uint64
}

const (
	defaultCacheFactor  = 10
	defaultShrinkFactor = 0.8
)

// Config is the Generator's initial, pre-Open configuration. Everything
// here can also be changed post-Open through the Set* control methods.
type Config struct {
	StreamIndex int
	HWAccel     hwaccel.DeviceType
	VideoConfig convert.VideoConfig
	CacheFactor int // default 10, per spec.md §4.G
}

// Generator is the sliding-window Snapshot service for one opened source.
// It exclusively owns its Cache, Decoder Stage, and Converter Stage (spec.md
// §3, "Ownership in design terms").
type Generator struct {
	log      *slog.Logger
	levelVar *slog.LevelVar

	// ctrlMu serializes Open/Close/Config* calls per spec.md §5
	// ("Open/Close/Config* MUST be serialized per Generator").
	ctrlMu sync.Mutex

	parser      container.MediaParser
	decodeStage decoderStage
	videoConv   *convert.VideoConverter
	cache       *cache.Cache
	planner     *planner.Planner
	hw          *hwaccel.Manager

	cfg         Config
	frameCount  int
	cacheFactor int
	durationMs  int64
	keyframes   media.KeyframeTable

	generation atomic.Uint64
	opened     atomic.Bool
	failed     atomic.Bool

	errMu sync.Mutex
	err   error

	// windowMu guards window and indexMax, the atomic-swap cell readers
	// take a copy of at the top of each loop iteration (spec.md §5).
	windowMu sync.Mutex
	window   media.SnapshotWindow
	indexMax uint32

	// viewersMu guards viewers, the set of live Viewers. When several
	// Viewers are attached at once, the shared window is recentered to the
	// union of every live Viewer's own range (spec.md §4.H), so a scrub
	// sequence from one Viewer never evicts another's previously requested
	// range; "multiple Viewers attached to one Generator cooperate rather
	// than conflict."
	viewersMu sync.Mutex
	viewers   map[*Viewer]struct{}

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New creates an unopened Generator. When log is nil, a default logger is
// built with its own slog.LevelVar so SetLogLevel can adjust verbosity at
// runtime; a caller-supplied logger's own level configuration is left alone.
func New(log *slog.Logger) *Generator {
	var levelVar *slog.LevelVar
	if log == nil {
		levelVar = new(slog.LevelVar)
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	}
	return &Generator{
		log:      log.With("component", "generator.Generator"),
		levelVar: levelVar,
		planner:  planner.New(),
		viewers:  make(map[*Viewer]struct{}),
	}
}

// Open binds the Generator to url via parser (for duration/stream/keyframe
// metadata) and a decode.Stage (for actual demux+decode), starting its
// worker goroutines. Per spec.md §4.A, a source whose duration cannot be
// determined is refused.
func (g *Generator) Open(ctx context.Context, url string, parser container.MediaParser, cfg Config) error {
	g.ctrlMu.Lock()
	defer g.ctrlMu.Unlock()

	if g.opened.Load() {
		return fmt.Errorf("generator: already open")
	}

	info, err := parser.Open(ctx)
	if err != nil {
		return fmt.Errorf("generator: source_open_failed: %w", err)
	}
	if info.DurationMs <= 0 {
		return fmt.Errorf("generator: source_open_failed: duration indeterminate")
	}

	kfCh := parser.RequestKeyframeTable(cfg.StreamIndex)
	var builder container.KeyframeTableBuilder
	for p := range kfCh {
		builder = p.Table
		if p.Done {
			break
		}
	}
	keyframes := media.NewKeyframeTable(builder.PTS)

	if cfg.CacheFactor <= 0 {
		cfg.CacheFactor = defaultCacheFactor
	}

	g.parser = parser
	g.cfg = cfg
	g.cacheFactor = cfg.CacheFactor
	g.durationMs = info.DurationMs
	g.keyframes = keyframes
	g.videoConv = convert.NewVideoConverter(cfg.VideoConfig)
	g.hw = hwaccel.NewManager()
	g.cache = cache.New(cache.Config{MaxSize: 0, ShrinkTarget: 0})
	if seq, ok := parser.(*container.SequenceSource); ok {
		g.decodeStage = decode.NewSequenceStage(seq, g.log)
	} else {
		stage := decode.New(url, g.hw, g.log)
		stage.Configure(decode.Config{StreamIndex: cfg.StreamIndex, HWAccel: cfg.HWAccel})
		g.decodeStage = stage
	}

	runCtx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	group, gctx := errgroup.WithContext(runCtx)
	g.group = group

	group.Go(func() error { return g.decodeStage.Run(gctx) })
	group.Go(func() error { return g.snapshotLoop(gctx) })

	g.opened.Store(true)
	return nil
}

// Close sets the quit flag and blocks until every worker goroutine has
// joined (spec.md P7). Already-rendered snapshots remain valid in memory
// until the Generator itself is garbage collected; every live Viewer
// transitions to returning empty results.
func (g *Generator) Close() error {
	g.ctrlMu.Lock()
	defer g.ctrlMu.Unlock()

	if !g.opened.Load() {
		return nil
	}
	g.cancel()
	err := g.group.Wait()
	if g.decodeStage != nil {
		g.decodeStage.Close()
	}
	if g.videoConv != nil {
		g.videoConv.Close()
	}
	if g.parser != nil {
		_ = g.parser.Close()
	}
	g.opened.Store(false)

	g.viewersMu.Lock()
	for v := range g.viewers {
		v.markClosed()
	}
	g.viewersMu.Unlock()

	return err
}

// IsOpened reports whether the Generator is currently open and has not
// transitioned to failed.
func (g *Generator) IsOpened() bool {
	return g.opened.Load() && !g.failed.Load()
}

// Err returns the error that moved the Generator into the failed state, if
// any, mirroring Snapshot::Generator::GetError from original_source (carried
// as an idiomatic error value rather than a string, SPEC_FULL.md §3).
func (g *Generator) Err() error {
	g.errMu.Lock()
	defer g.errMu.Unlock()
	return g.err
}

func (g *Generator) setErr(err error) {
	g.errMu.Lock()
	defer g.errMu.Unlock()
	if g.err == nil {
		g.err = err
	}
}

// SetLogLevel adjusts the verbosity of this Generator's own logger, carried
// from Snapshot.h's SetLogLevel (SPEC_FULL.md §3). It only takes effect for
// the default logger New builds when called with a nil log; a caller-supplied
// logger manages its own level.
func (g *Generator) SetLogLevel(level slog.Level) {
	if g.levelVar != nil {
		g.levelVar.Set(level)
	}
}

// Duration returns the source duration in milliseconds, per
// GetVideoDuration in original_source's Snapshot.h (SPEC_FULL.md §3).
func (g *Generator) Duration() int64 {
	return g.durationMs
}

// FrameCount returns the configured snapshot window's frame count, per
// GetVideoFrameCount (SPEC_FULL.md §3).
func (g *Generator) FrameCount() int {
	g.windowMu.Lock()
	defer g.windowMu.Unlock()
	return g.frameCount
}

// MinPos returns the earliest valid position in milliseconds, per
// GetVideoMinPos (SPEC_FULL.md §3). The Decoder Stage always starts
// addressable content at pts 0 in this subsystem.
func (g *Generator) MinPos() int64 {
	return 0
}

// ConfigSnapWindow sets Δ = window_size_ms / frame_count and derives
// max_cache/shrink_target (spec.md §4.G). window_size_ms is clamped to
// [frame_count * min_frame_interval, duration]; frame_count is clamped to
// >= 1. Bumps generation when forceRefresh or frame_count changed;
// otherwise this is a no-op on generation (the round-trip/idempotence
// property in spec.md §8).
func (g *Generator) ConfigSnapWindow(windowSizeMs float64, frameCount int, forceRefresh bool) {
	g.ctrlMu.Lock()
	defer g.ctrlMu.Unlock()

	if frameCount < 1 {
		frameCount = 1
	}
	minInterval := g.minFrameIntervalMs()
	minWindow := float64(frameCount) * minInterval
	maxWindow := float64(g.durationMs)
	if windowSizeMs < minWindow {
		windowSizeMs = minWindow
	}
	if maxWindow > 0 && windowSizeMs > maxWindow {
		windowSizeMs = maxWindow
	}

	frameCountChanged := frameCount != g.frameCount
	g.frameCount = frameCount

	// Δ changed, so the absolute index domain it defines changed too: indexMax
	// is the highest index addressable anywhere in the source's duration, not
	// just within one visible window (spec.md §4.D, cache admission bound).
	delta := windowSizeMs / float64(frameCount)
	maxIndex := uint32(0)
	if delta > 0 && g.durationMs > 0 {
		maxIndex = media.IndexForPTS(g.durationMs, g.MinPos(), delta)
	}

	maxCache := int(math.Ceil(float64(frameCount) * float64(g.cacheFactor)))
	shrinkTarget := int(math.Ceil(float64(maxCache) * defaultShrinkFactor))
	g.cache.Reconfigure(cache.Config{MaxSize: maxCache, ShrinkTarget: shrinkTarget})

	if forceRefresh || frameCountChanged {
		gen := media.Generation(g.generation.Add(1))
		g.cache.Reset(gen)
		g.planner.Reset(gen)
	}

	gen := media.Generation(g.generation.Load())
	g.windowMu.Lock()
	g.window.Delta = delta
	g.window.StartPTSMs = g.MinPos()
	g.window.Generation = gen
	g.indexMax = maxIndex
	g.windowMu.Unlock()

	g.recenterWindow()
}

func (g *Generator) minFrameIntervalMs() float64 {
	return 1000.0 / 30.0
}

// SetCacheFactor changes the cache_factor used by the next ConfigSnapWindow
// call (spec.md §4.G).
func (g *Generator) SetCacheFactor(k int) {
	g.ctrlMu.Lock()
	defer g.ctrlMu.Unlock()
	if k > 0 {
		g.cacheFactor = k
	}
}

// SetVideoConfig forwards a new size/format/interpolation configuration to
// the Converter Stage and bumps generation (spec.md §4.G).
func (g *Generator) SetVideoConfig(cfg convert.VideoConfig) {
	g.ctrlMu.Lock()
	defer g.ctrlMu.Unlock()
	if g.videoConv != nil {
		g.videoConv.Close()
	}
	g.cfg.VideoConfig = cfg
	g.videoConv = convert.NewVideoConverter(cfg)

	gen := media.Generation(g.generation.Add(1))
	g.cache.Reset(gen)
	g.planner.Reset(gen)
	g.windowMu.Lock()
	g.window.Generation = gen
	g.windowMu.Unlock()
}

// GetMinWindowSize returns frame_count * min_frame_interval (spec.md §4.G).
func (g *Generator) GetMinWindowSize() float64 {
	g.ctrlMu.Lock()
	defer g.ctrlMu.Unlock()
	return float64(g.frameCount) * g.minFrameIntervalMs()
}

// GetMaxWindowSize returns the source duration (spec.md §4.G).
func (g *Generator) GetMaxWindowSize() int64 {
	g.ctrlMu.Lock()
	defer g.ctrlMu.Unlock()
	return g.durationMs
}

// viewerRange computes the absolute [idx0, idx1] a single Viewer wants
// populated when centered on posMs, within the fixed index domain anchored at
// anchorPTSMs, clamped to [0, maxIndex] (spec.md §4.H, §3 "SnapshotWindow").
// Index0/Index1 are always frameCount wide except where clamping against
// either end of the domain shortens them.
func viewerRange(posMs, anchorPTSMs int64, delta float64, frameCount int, maxIndex uint32) (uint32, uint32) {
	center := media.IndexForPTS(posMs, anchorPTSMs, delta)
	half := uint32(frameCount / 2)
	var idx0 uint32
	if center > half {
		idx0 = center - half
	}
	width := uint32(frameCount - 1)
	idx1 := idx0 + width
	if idx1 > maxIndex {
		idx1 = maxIndex
		if idx1 > width {
			idx0 = idx1 - width
		} else {
			idx0 = 0
		}
	}
	return idx0, idx1
}

// unionOfViewerRanges returns the smallest window covering every live
// Viewer's own centered range, per spec.md §4.H: "the Generator merges their
// requested windows into a single SnapshotWindow covering the union." ok is
// false when no Viewer is currently attached.
func (g *Generator) unionOfViewerRanges(anchor int64, delta float64, frameCount int, maxIndex uint32) (media.SnapshotWindow, bool) {
	g.viewersMu.Lock()
	viewers := make([]*Viewer, 0, len(g.viewers))
	for v := range g.viewers {
		viewers = append(viewers, v)
	}
	g.viewersMu.Unlock()

	if len(viewers) == 0 {
		return media.SnapshotWindow{}, false
	}

	idx0, idx1 := viewerRange(viewers[0].CurrentPos(), anchor, delta, frameCount, maxIndex)
	union := media.SnapshotWindow{Index0: idx0, Index1: idx1}
	for _, v := range viewers[1:] {
		vi0, vi1 := viewerRange(v.CurrentPos(), anchor, delta, frameCount, maxIndex)
		union = union.Union(media.SnapshotWindow{Index0: vi0, Index1: vi1})
	}
	return union, true
}

// recenterWindow recomputes the shared window's Index0/Index1 as the union
// of every live Viewer's individually centered range, then shrinks the cache
// relative to the result. Generation is left unchanged — a recenter is not a
// configuration change (spec.md §8, "Round-trip / idempotence") — so indices
// already cached from a prior position stay valid and simply fall outside
// the new window until shrink or a later Put evicts or replaces them.
func (g *Generator) recenterWindow() {
	g.windowMu.Lock()
	delta := g.window.Delta
	anchor := g.window.StartPTSMs
	frameCount := g.frameCount
	maxIndex := g.indexMax
	g.windowMu.Unlock()
	if delta <= 0 || frameCount <= 0 {
		return
	}

	union, ok := g.unionOfViewerRanges(anchor, delta, frameCount, maxIndex)
	if !ok {
		idx0, idx1 := viewerRange(anchor, anchor, delta, frameCount, maxIndex)
		union = media.SnapshotWindow{Index0: idx0, Index1: idx1}
	}

	g.windowMu.Lock()
	g.window.Index0 = union.Index0
	g.window.Index1 = union.Index1
	window := g.window
	g.windowMu.Unlock()

	g.cache.Shrink(window)
}

func (g *Generator) currentWindow() (media.SnapshotWindow, uint32) {
	g.windowMu.Lock()
	defer g.windowMu.Unlock()
	return g.window, g.indexMax
}

// snapshotLoop is the Snapshot Update thread (spec.md §5): it consults the
// Planner for the next BuildTask, issues Seeks, converts delivered frames,
// and inserts them into the Cache.
func (g *Generator) snapshotLoop(ctx context.Context) error {
	var lastSeek int64 = media.PTSUnknown

	for {
		window, indexMax := g.currentWindow()
		if window.Delta <= 0 {
			if !g.waitAndDiscard(ctx) {
				return nil
			}
			continue
		}

		task, ok := g.planner.Next(window, indexMax, g.cache, g.keyframes)
		if !ok {
			// Idle: every index in range is already ready. Still drain
			// frames that keep arriving from an in-flight seek so the
			// decode channel never backs up.
			if !g.waitAndDiscard(ctx) {
				return nil
			}
			continue
		}
		if task.SeekPTSMs != lastSeek {
			g.decodeStage.Seek(task.SeekPTSMs)
			lastSeek = task.SeekPTSMs
		}

		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-g.decodeStage.Frames():
			if !ok {
				if err := g.decodeStage.Err(); err != nil {
					g.setErr(err)
				}
				g.failed.Store(true)
				return nil
			}
			g.ingestFrame(f, window, indexMax, task)
		}
	}
}

// waitAndDiscard blocks for either ctx cancellation or one stray frame,
// which it releases without conversion. It returns false once the Decoder
// Stage's frame channel has closed or ctx is done.
func (g *Generator) waitAndDiscard(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case f, ok := <-g.decodeStage.Frames():
		if !ok {
			return false
		}
		g.discardFrame(f)
		return true
	}
}

func (g *Generator) discardFrame(f *media.Frame) {
	if f.Device == nil {
		return
	}
	if freer, ok := f.Device.(interface{ Free() }); ok {
		freer.Free()
	}
}

func (g *Generator) ingestFrame(f *media.Frame, window media.SnapshotWindow, indexMax uint32, task media.BuildTask) {
	if f.IsStale(g.decodeStage.Epoch()) {
		g.discardFrame(f)
		return
	}

	idx := media.IndexForPTS(f.PTSMs, window.StartPTSMs, window.Delta)
	img, err := g.videoConv.Convert(f)
	if err != nil {
		g.cache.Put(media.Snapshot{Index: idx, PTSMs: f.PTSMs, State: media.SnapshotFailed, Generation: window.Generation}, indexMax, window)
		return
	}

	snap := media.Snapshot{Index: idx, PTSMs: f.PTSMs, Pixels: img, State: media.SnapshotReady, Generation: window.Generation}
	g.cache.Put(snap, indexMax, window)
	g.planner.ObservePTS(f.PTSMs)

	// Once decoding has run far enough past the task's own target that no
	// further frame from this seek could still land on it, let the planner
	// pick its next target rather than waiting for an exact pts match.
	targetPTS := window.PTSForIndex(task.TargetIndex)
	if float64(f.PTSMs) > targetPTS+window.Delta/2 {
		g.planner.Advance()
	}
}

// CreateViewer registers a new Viewer centered on initialPosMs.
func (g *Generator) CreateViewer(initialPosMs int64) *Viewer {
	v := &Viewer{gen: g, currentPosMs: initialPosMs}
	g.viewersMu.Lock()
	g.viewers[v] = struct{}{}
	g.viewersMu.Unlock()
	g.recenterWindow()
	return v
}

// ReleaseViewer unregisters v. The shared window is recomputed against the
// remaining Viewers so a released Viewer's range stops being kept populated
// (spec.md §4.H).
func (g *Generator) ReleaseViewer(v *Viewer) {
	g.viewersMu.Lock()
	delete(g.viewers, v)
	g.viewersMu.Unlock()
	v.markClosed()
	g.recenterWindow()
}
