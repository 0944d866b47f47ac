package media

import "testing"

func TestSnapshotWindowUnion(t *testing.T) {
	t.Parallel()
	a := SnapshotWindow{Index0: 5, Index1: 10, Delta: 100, Generation: 1}
	b := SnapshotWindow{Index0: 8, Index1: 20, Delta: 100, Generation: 1}

	u := a.Union(b)
	if u.Index0 != 5 || u.Index1 != 20 {
		t.Errorf("Union = [%d,%d], want [5,20]", u.Index0, u.Index1)
	}
}

func TestSnapshotWindowContainsAndLen(t *testing.T) {
	t.Parallel()
	w := SnapshotWindow{Index0: 3, Index1: 7}
	if w.Len() != 5 {
		t.Errorf("Len() = %d, want 5", w.Len())
	}
	if !w.Contains(3) || !w.Contains(7) || w.Contains(2) || w.Contains(8) {
		t.Error("Contains boundary check failed")
	}
}

func TestEmptySnapshotHasSentinelPTS(t *testing.T) {
	t.Parallel()
	s := EmptySnapshot(4, 2)
	if s.State != SnapshotEmpty || s.PTSMs != PTSUnknown || s.Ready() {
		t.Errorf("EmptySnapshot = %+v, unexpected", s)
	}
}
