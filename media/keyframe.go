package media

import "sort"

// KeyframeTable is an ordered sequence of presentation times at which
// decoding may start without a prior reference frame (spec.md §3, GLOSSARY).
// It is immutable once built; a Generator swaps in a new table wholesale if
// a background re-parse extends it.
type KeyframeTable struct {
	pts []int64
}

// NewKeyframeTable builds a table from pts values, sorting and deduplicating
// them. Callers on the hot path (the Decoder's background keyframe scan) can
// append in arrival order and rely on this to normalize it.
func NewKeyframeTable(pts []int64) KeyframeTable {
	cp := append([]int64(nil), pts...)
	sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })
	out := cp[:0]
	var last int64 = -1
	first := true
	for _, p := range cp {
		if first || p != last {
			out = append(out, p)
			last = p
			first = false
		}
	}
	return KeyframeTable{pts: out}
}

// Len returns the number of known keyframes.
func (t KeyframeTable) Len() int { return len(t.pts) }

// At returns the i'th keyframe pts.
func (t KeyframeTable) At(i int) int64 { return t.pts[i] }

// LastAtOrBefore returns the largest keyframe pts <= target, and whether one
// exists. This is the seek solver's core primitive (spec.md §4.E step 3:
// "seek_pts = largest keyframe pts <= target * Δ + start_pts").
func (t KeyframeTable) LastAtOrBefore(target int64) (int64, bool) {
	if len(t.pts) == 0 {
		return 0, false
	}
	// sort.Search finds the first index where pts[i] > target; the keyframe
	// we want is the one immediately before it.
	i := sort.Search(len(t.pts), func(i int) bool { return t.pts[i] > target })
	if i == 0 {
		return 0, false
	}
	return t.pts[i-1], true
}

// FirstAtOrAfter returns the smallest keyframe pts >= target, and whether one
// exists. Used to detect whether the planner's chosen seek landed in the same
// GOP the decoder is already positioned in (spec.md §4.E, "No re-seek inside
// a GOP").
func (t KeyframeTable) FirstAtOrAfter(target int64) (int64, bool) {
	i := sort.Search(len(t.pts), func(i int) bool { return t.pts[i] >= target })
	if i == len(t.pts) {
		return 0, false
	}
	return t.pts[i], true
}

// SameGOP reports whether a and b lie between the same pair of consecutive
// keyframes (or after the last one), i.e. decoding forward from a can reach
// b without an intervening keyframe boundary.
func (t KeyframeTable) SameGOP(a, b int64) bool {
	if a > b {
		a, b = b, a
	}
	kfA, ok := t.LastAtOrBefore(a)
	if !ok {
		return true // both before the first known keyframe; treat as one GOP
	}
	next, ok := t.FirstAtOrAfter(kfA + 1)
	if !ok {
		return true // kfA is the last known keyframe; nothing bounds the GOP yet
	}
	return b < next
}
