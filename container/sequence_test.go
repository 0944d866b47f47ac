package container

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
)

func writeSeqFiles(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		name := filepath.Join(dir, "frame_"+padded(i)+".png")
		if err := os.WriteFile(name, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func padded(i int) string {
	s := "0000" + itoa(i)
	return s[len(s)-4:]
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}

func TestSequenceSourceOpenOrdersByFrameNumber(t *testing.T) {
	t.Parallel()
	dir := writeSeqFiles(t, 5)
	s := NewSequenceSource(dir, regexp.MustCompile(`frame_(\d+)\.png`), 25, 1)

	info, err := s.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	wantMs := int64(5) * 1000 / 25
	if info.DurationMs != wantMs {
		t.Errorf("DurationMs = %d, want %d", info.DurationMs, wantMs)
	}
	for i, f := range s.files {
		if f.n != i {
			t.Errorf("files[%d].n = %d, want %d", i, f.n, i)
		}
	}
}

func TestSequenceSourceKeyframeTableCoversEveryFrame(t *testing.T) {
	t.Parallel()
	dir := writeSeqFiles(t, 3)
	s := NewSequenceSource(dir, regexp.MustCompile(`frame_(\d+)\.png`), 10, 1)
	if _, err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	var last KeyframeProgress
	for p := range s.RequestKeyframeTable(0) {
		last = p
	}
	if !last.Done {
		t.Fatal("expected Done progress event")
	}
	if len(last.Table.PTS) != 3 {
		t.Fatalf("got %d keyframes, want 3", len(last.Table.PTS))
	}
}

func TestSequenceSourceFilePathForPTS(t *testing.T) {
	t.Parallel()
	dir := writeSeqFiles(t, 4)
	s := NewSequenceSource(dir, regexp.MustCompile(`frame_(\d+)\.png`), 1, 1)
	if _, err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	path, ok := s.FilePathForPTS(2000)
	if !ok {
		t.Fatal("expected a match")
	}
	want := filepath.Join(dir, "frame_0002.png")
	if path != want {
		t.Errorf("FilePathForPTS(2000) = %q, want %q", path, want)
	}

	// Out of range clamps to the last file.
	path, ok = s.FilePathForPTS(1_000_000)
	if !ok || path != filepath.Join(dir, "frame_0003.png") {
		t.Errorf("FilePathForPTS(huge) = %q, %v, want last file", path, ok)
	}
}
