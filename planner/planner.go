// Package planner implements the Task Planner (spec.md §4.E): a pure,
// stdlib-only algorithm that turns the current SnapshotWindow, Cache
// contents, and KeyframeTable into the next BuildTask. It holds no
// goroutines and no I/O; the Generator's Snapshot Update loop drives it and
// feeds back the toNextBuildTask signal through Advance.
package planner

import "github.com/opencodewin/MediaEditor-sub013/media"

// Snapshots is the subset of the cache package's Cache the planner needs.
// Defined here, rather than importing cache directly, so the planner
// package stays the pure-algorithm leaf its grounding test
// (original_source/MediaCore/test/SnapshotTest.cpp) exercises in isolation.
type Snapshots interface {
	FirstUnready(window media.SnapshotWindow) (uint32, bool)
	NearestUnreadyOutside(window media.SnapshotWindow, indexMax uint32) (uint32, bool)
}

// Keyframes is the subset of media.KeyframeTable the planner needs.
type Keyframes interface {
	LastAtOrBefore(target int64) (int64, bool)
	SameGOP(a, b int64) bool
}

// Planner recomputes the current BuildTask only when the window's
// generation changes or the Decoder reports toNextBuildTask; otherwise it
// returns the cached task unchanged (spec.md §4.E step 1).
type Planner struct {
	generation  media.Generation
	lastWindow  media.SnapshotWindow
	current     media.BuildTask
	haveTask    bool
	lastPTSSeen int64
}

// New returns an idle Planner.
func New() *Planner {
	return &Planner{lastPTSSeen: media.PTSUnknown}
}

// Reset clears the cached task and moves the planner to a new generation,
// forcing the next Next call to recompute.
func (p *Planner) Reset(generation media.Generation) {
	p.generation = generation
	p.haveTask = false
	p.lastPTSSeen = media.PTSUnknown
}

// Advance marks the current task done, forcing Next to recompute
// (spec.md §4.E step 5, "toNextBuildTask").
func (p *Planner) Advance() {
	p.haveTask = false
}

// ObservePTS records the most recently delivered frame's pts, used by the
// no-re-seek-inside-a-GOP rule.
func (p *Planner) ObservePTS(ptsMs int64) {
	p.lastPTSSeen = ptsMs
}

// Next returns the planner's current BuildTask, recomputing it if the
// window's generation changed or Advance was called since the last Next.
// ok is false when no unready index remains anywhere in [0, indexMax]: the
// planner is idle (spec.md §4.E step 2).
func (p *Planner) Next(window media.SnapshotWindow, indexMax uint32, cache Snapshots, keyframes Keyframes) (media.BuildTask, bool) {
	generationChanged := window.Generation != p.generation
	if !generationChanged && p.haveTask {
		return p.current, true
	}
	p.generation = window.Generation
	p.lastWindow = window

	target, ok := cache.FirstUnready(window)
	if !ok {
		target, ok = cache.NearestUnreadyOutside(window, indexMax)
		if !ok {
			p.haveTask = false
			return media.NoTask, false
		}
	}

	targetPTS := window.PTSForIndex(target)
	seekPTS := targetPTS
	if pts, found := keyframes.LastAtOrBefore(targetPTS); found {
		seekPTS = pts
	}

	// No re-seek inside a GOP: if the target is still forward-reachable
	// from the last delivered pts within the same GOP, reuse the current
	// position instead of issuing a fresh seek (spec.md §4.E tie-break 3).
	if !generationChanged && p.lastPTSSeen != media.PTSUnknown &&
		p.lastPTSSeen <= targetPTS && keyframes.SameGOP(p.lastPTSSeen, targetPTS) {
		seekPTS = p.current.SeekPTSMs
	}

	p.current = media.BuildTask{TargetIndex: target, SeekPTSMs: seekPTS, Generation: window.Generation}
	p.haveTask = true
	return p.current, true
}

// Window returns the window the current task was planned against, used by
// callers that need to know whether a just-delivered frame still matches
// the active plan.
func (p *Planner) Window() media.SnapshotWindow {
	return p.lastWindow
}
