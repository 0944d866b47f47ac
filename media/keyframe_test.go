package media

import "testing"

func TestKeyframeTableLastAtOrBefore(t *testing.T) {
	t.Parallel()
	tbl := NewKeyframeTable([]int64{0, 2000, 4000, 6000})

	cases := []struct {
		target   int64
		wantPTS  int64
		wantOK   bool
	}{
		{-1, 0, false},
		{0, 0, true},
		{1999, 0, true},
		{2000, 2000, true},
		{6500, 6000, true},
	}
	for _, c := range cases {
		pts, ok := tbl.LastAtOrBefore(c.target)
		if ok != c.wantOK || (ok && pts != c.wantPTS) {
			t.Errorf("LastAtOrBefore(%d) = (%d, %v), want (%d, %v)", c.target, pts, ok, c.wantPTS, c.wantOK)
		}
	}
}

func TestKeyframeTableDeduplicatesAndSorts(t *testing.T) {
	t.Parallel()
	tbl := NewKeyframeTable([]int64{4000, 0, 2000, 2000, 0})
	if tbl.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", tbl.Len())
	}
	want := []int64{0, 2000, 4000}
	for i, w := range want {
		if tbl.At(i) != w {
			t.Errorf("At(%d) = %d, want %d", i, tbl.At(i), w)
		}
	}
}

func TestKeyframeTableSameGOP(t *testing.T) {
	t.Parallel()
	tbl := NewKeyframeTable([]int64{0, 3000, 6000})

	if !tbl.SameGOP(500, 2900) {
		t.Error("500 and 2900 should be in the same GOP (before the keyframe at 3000)")
	}
	if tbl.SameGOP(2900, 3100) {
		t.Error("2900 and 3100 straddle the keyframe at 3000; should not be the same GOP")
	}
	if !tbl.SameGOP(6100, 9000) {
		t.Error("positions after the last known keyframe should be treated as one GOP")
	}
}

func TestIndexForPTS(t *testing.T) {
	t.Parallel()
	cases := []struct {
		pts, start int64
		delta      float64
		want       uint32
	}{
		{0, 0, 3000, 0},
		{3000, 0, 3000, 1},
		{3100, 0, 3000, 1},
		{1600, 0, 3000, 1}, // past the 1500 midpoint, rounds up
		{1400, 0, 3000, 0},
	}
	for _, c := range cases {
		got := IndexForPTS(c.pts, c.start, c.delta)
		if got != c.want {
			t.Errorf("IndexForPTS(%d, %d, %v) = %d, want %d", c.pts, c.start, c.delta, got, c.want)
		}
	}
}
