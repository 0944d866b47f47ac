package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	astiav "github.com/asticode/go-astiav"
)

// AVTimeBase is the microsecond time base astiav reports container-level
// durations and seek targets in.
const AVTimeBase = 1_000_000

// Source is a MediaParser backed by libav demuxing (go-astiav), grounded on
// e1z0-QAnotherRTSP/src/video.go's OpenInput/FindStreamInfo/Streams usage.
// One Source corresponds to one opened URL or file handle.
type Source struct {
	log *slog.Logger
	url string

	mu   sync.Mutex
	fc   *astiav.FormatContext
	info StreamInfo

	kfOnce sync.Once
	kfCh   chan KeyframeProgress
}

// NewSource creates an unopened Source for url. Construction cannot fail
// (spec.md §9); Open does the real work.
func NewSource(url string, log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	return &Source{url: url, log: log.With("component", "container.Source", "url", url)}
}

// Open binds to the container, reads enough packets to learn stream
// descriptors and duration, and applies the edge-case handling spec.md §4.A
// requires: a stream without a parseable duration is still openable, with
// duration estimated from the longest stream, falling back to the
// "duration=0, refuse to open" contract enforced by the Generator, not here
// (Source reports ErrDurationIndeterminate and lets the caller decide).
func (s *Source) Open(ctx context.Context) (StreamInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fc := astiav.AllocFormatContext()
	if fc == nil {
		return StreamInfo{}, errors.New("container: AllocFormatContext failed")
	}

	if err := fc.OpenInput(s.url, nil, nil); err != nil {
		fc.Free()
		return StreamInfo{}, fmt.Errorf("container: OpenInput %q: %w", s.url, err)
	}
	if err := fc.FindStreamInfo(nil); err != nil {
		fc.Free()
		return StreamInfo{}, fmt.Errorf("container: FindStreamInfo %q: %w", s.url, err)
	}

	info := StreamInfo{DurationMs: durationToMs(fc.Duration())}

	var longestStreamMs int64
	for i, st := range fc.Streams() {
		par := st.CodecParameters()
		d := StreamDescriptor{Index: i, CodecName: codecName(par)}
		switch par.MediaType() {
		case astiav.MediaTypeVideo:
			d.Kind = StreamVideo
			d.Width = par.Width()
			d.Height = par.Height()
			d.PixelFormat = par.PixelFormat().String()
			r := st.AvgFrameRate()
			d.FrameRateNum, d.FrameRateDen = r.Num(), r.Den()
		case astiav.MediaTypeAudio:
			d.Kind = StreamAudio
			d.ChannelCount = par.ChannelLayout().Channels()
			d.SampleRate = par.SampleRate()
		case astiav.MediaTypeSubtitle:
			d.Kind = StreamSubtitle
		default:
			d.Kind = StreamOther
		}
		info.Streams = append(info.Streams, d)

		tb := st.TimeBase()
		if sd := st.Duration(); sd > 0 && tb.Den() > 0 {
			ms := sd * int64(tb.Num()) * 1000 / int64(tb.Den())
			if ms > longestStreamMs {
				longestStreamMs = ms
			}
		}
	}

	if info.DurationMs <= 0 {
		info.DurationMs = longestStreamMs
	}

	s.fc = fc
	s.info = info

	if info.DurationMs <= 0 {
		return info, ErrDurationIndeterminate
	}
	return info, nil
}

func durationToMs(d int64) int64 {
	if d <= 0 {
		return 0
	}
	return d * 1000 / AVTimeBase
}

func codecName(par *astiav.CodecParameters) string {
	dec := astiav.FindDecoder(par.CodecID())
	if dec == nil {
		return par.CodecID().String()
	}
	return dec.Name()
}

// GetStreamInfo returns the most recently computed StreamInfo.
func (s *Source) GetStreamInfo() StreamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// RequestKeyframeTable scans the stream once in the background, reading
// packets and recording the pts of every one flagged as a keyframe, per
// spec.md §4.A ("expensive; background-parsed; progress observable"). It is
// idempotent: a second call while scanning is in flight returns the same
// channel rather than starting a second scan.
func (s *Source) RequestKeyframeTable(streamIndex int) <-chan KeyframeProgress {
	s.kfOnce.Do(func() {
		s.kfCh = make(chan KeyframeProgress, 1)
		go s.scanKeyframes(streamIndex)
	})
	return s.kfCh
}

func (s *Source) scanKeyframes(streamIndex int) {
	s.mu.Lock()
	fc := s.fc
	s.mu.Unlock()
	if fc == nil {
		s.kfCh <- KeyframeProgress{Done: true, Err: errors.New("container: scan before Open")}
		return
	}

	// Packet pts are in the stream's time base; the table is in milliseconds.
	tbNum, tbDen := int64(1), int64(1000)
	if streams := fc.Streams(); streamIndex >= 0 && streamIndex < len(streams) {
		if tb := streams[streamIndex].TimeBase(); tb.Den() > 0 {
			tbNum, tbDen = int64(tb.Num()), int64(tb.Den())
		}
	}

	var b KeyframeTableBuilder
	pkt := astiav.AllocPacket()
	defer pkt.Free()

	for {
		err := fc.ReadFrame(pkt)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, astiav.ErrEof) {
				break
			}
			s.kfCh <- KeyframeProgress{Table: b, Err: fmt.Errorf("container: ReadFrame: %w", err), Done: true}
			return
		}
		if pkt.StreamIndex() == streamIndex && pkt.Flags().Has(astiav.PacketFlagKey) {
			ms := pkt.Pts() * tbNum * 1000 / tbDen
			b.PTS = append(b.PTS, ms)
			s.kfCh <- KeyframeProgress{ScannedMs: ms, Table: b}
		}
		pkt.Unref()
	}
	s.kfCh <- KeyframeProgress{Table: b, Done: true}
}

// Close releases the underlying format context.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fc != nil {
		s.fc.Free()
		s.fc = nil
	}
	return nil
}

var _ MediaParser = (*Source)(nil)
