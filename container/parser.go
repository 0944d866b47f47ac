// Package container implements the Stream Metadata Source (spec.md §4.A):
// it wraps container/codec probing behind the MediaParser capability the
// rest of the subsystem consumes, and provides two concrete adapters — one
// backed by libav demuxing via go-astiav, one for regex-matched image
// sequences (spec.md §9 Open Questions, resolved in SPEC_FULL.md §3).
package container

import (
	"context"
	"fmt"
)

// StreamKind distinguishes the media type of a StreamDescriptor.
type StreamKind uint8

const (
	StreamVideo StreamKind = iota
	StreamAudio
	StreamSubtitle
	StreamOther
)

// StreamDescriptor is the subset of per-stream metadata the rest of the
// subsystem needs, independent of container/codec details (spec.md §4.A).
type StreamDescriptor struct {
	Kind         StreamKind
	Index        int
	Width        int
	Height       int
	PixelFormat  string
	BitDepth     int
	FrameRateNum int
	FrameRateDen int
	ChannelCount int
	SampleRate   int
	CodecName    string
}

// FrameRate returns the stream's frame rate as frames per second. Callers
// must guard against FrameRateDen == 0 (unknown/variable rate).
func (d StreamDescriptor) FrameRate() float64 {
	if d.FrameRateDen == 0 {
		return 0
	}
	return float64(d.FrameRateNum) / float64(d.FrameRateDen)
}

// StreamInfo is the result of probing a source: duration plus descriptors
// for every stream the container advertises (spec.md §4.A
// "GetStreamInfo").
type StreamInfo struct {
	DurationMs int64
	Streams    []StreamDescriptor
}

// VideoStream returns the first video stream descriptor, if any.
func (si StreamInfo) VideoStream() (StreamDescriptor, bool) {
	for _, s := range si.Streams {
		if s.Kind == StreamVideo {
			return s, true
		}
	}
	return StreamDescriptor{}, false
}

// AudioStream returns the first audio stream descriptor, if any.
func (si StreamInfo) AudioStream() (StreamDescriptor, bool) {
	for _, s := range si.Streams {
		if s.Kind == StreamAudio {
			return s, true
		}
	}
	return StreamDescriptor{}, false
}

// ErrDurationIndeterminate is returned by Open when no stream reports a
// usable duration and none can be estimated; per spec.md §4.A the Generator
// must refuse to open in this case.
var ErrDurationIndeterminate = fmt.Errorf("container: duration indeterminate")

// KeyframeProgress reports incremental progress of a background keyframe
// scan, mirroring the C++ source's progress-observable future.
type KeyframeProgress struct {
	ScannedMs int64 // how far into the stream the scan has progressed
	Done      bool
	Table     KeyframeTableBuilder
	Err       error
}

// MediaParser is the capability the Decoder Stage, Task Planner, and
// Overview Engine consume to learn what a source contains and where it can
// be seeked. It is the Go shape of spec.md §4.A and §6's "Media parser"
// collaborator.
type MediaParser interface {
	// Open binds to a resource and parses enough of the container to know
	// duration, stream descriptors, and basic codec info. It MUST succeed
	// without starting any background work; RequestKeyframeTable does that.
	Open(ctx context.Context) (StreamInfo, error)
	// GetStreamInfo returns the info computed by Open; calling before Open
	// succeeds returns the zero value.
	GetStreamInfo() StreamInfo
	// RequestKeyframeTable starts (once) a background scan for keyframe
	// positions on the given stream and returns a channel that receives
	// progress updates, terminating with Done == true. Calling it again
	// while a scan is in flight returns the same channel.
	RequestKeyframeTable(streamIndex int) <-chan KeyframeProgress
	// Close releases any resources Open acquired.
	Close() error
}

// KeyframeTableBuilder accumulates keyframe pts values as they are
// discovered; callers finalize it into a media.KeyframeTable once Done.
type KeyframeTableBuilder struct {
	PTS []int64
}
