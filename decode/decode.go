// Package decode implements the Decoder Stage (spec.md §4.B): a dedicated
// demux thread and a dedicated decode thread, coupled by a bounded packet
// queue, delivering tagged Frames to the Converter Stage over a bounded
// frame channel. Grounded on e1z0-QAnotherRTSP/src/video.go's
// OpenInput/SendPacket/ReceiveFrame usage, restructured into the producer/
// consumer split zsiec-prism/internal/pipeline/pipeline.go uses for its own
// demux-to-relay forwarding loop.
package decode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	astiav "github.com/asticode/go-astiav"
	"golang.org/x/sync/errgroup"

	"github.com/opencodewin/MediaEditor-sub013/hwaccel"
	"github.com/opencodewin/MediaEditor-sub013/media"
)

// Config selects the stream to decode and the hardware acceleration
// preference, set once via Configure before Run starts (spec.md §4.B
// "Configure(stream_index, hw_accel_preference)").
type Config struct {
	StreamIndex int
	HWAccel     hwaccel.DeviceType
}

// Stage is the Decoder Stage for one opened source. It owns the format
// context and codec context exclusively; callers interact with it only
// through Configure, Seek, Frames, Run, and Close.
type Stage struct {
	log *slog.Logger
	url string
	hw  *hwaccel.Manager

	mu  sync.Mutex
	cfg Config

	epoch     atomic.Uint64
	pendingPTS chan int64 // Seek requests; buffered 1, latest-wins

	frames chan *media.Frame
	queues QueueSizes

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
	quit      chan struct{}
}

// New creates a Stage bound to url. Construction cannot fail; Run does the
// real work of opening the container and codec.
func New(url string, hw *hwaccel.Manager, log *slog.Logger) *Stage {
	if log == nil {
		log = slog.Default()
	}
	return &Stage{
		log:        log.With("component", "decode.Stage", "url", url),
		url:        url,
		hw:         hw,
		pendingPTS: make(chan int64, 1),
		quit:       make(chan struct{}),
	}
}

// Configure sets the active stream selection and hw-accel preference. It
// must be called before Run starts the decode loop.
func (s *Stage) Configure(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// Frames returns the channel the Converter Stage reads decoded frames from.
func (s *Stage) Frames() <-chan *media.Frame {
	return s.frames
}

// Seek places the next decode at the largest keyframe pts <= ptsMs, bumps
// the seek epoch, and returns immediately without waiting for queues to
// drain (spec.md §5, "Seek() does not block on queue drain"). A Seek that
// arrives while an earlier one is still pending replaces it: only the
// latest requested position matters.
func (s *Stage) Seek(ptsMs int64) {
	s.epoch.Add(1)
	select {
	case <-s.pendingPTS:
	default:
	}
	select {
	case s.pendingPTS <- ptsMs:
	default:
	}
}

// Epoch returns the seek epoch currently in effect. A Frame whose SeekEpoch
// is older than this has been superseded by a later Seek and must be
// discarded rather than cached or converted.
func (s *Stage) Epoch() uint64 {
	return s.epoch.Load()
}

// Err returns the fatal error that stopped the decode loop, if any.
func (s *Stage) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Stage) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Close signals the decode loop to stop; Run returns once both the demux
// and decode goroutines have exited (spec.md P7).
func (s *Stage) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })
	return nil
}

// Run opens the container and codec, then drives the demux and decode
// goroutines until ctx is cancelled, Close is called, or a fatal error
// occurs. It blocks until both goroutines have returned.
func (s *Stage) Run(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	fc := astiav.AllocFormatContext()
	if fc == nil {
		return errors.New("decode: AllocFormatContext failed")
	}
	defer fc.Free()

	if err := fc.OpenInput(s.url, nil, nil); err != nil {
		return fmt.Errorf("decode: OpenInput %q: %w", s.url, err)
	}
	if err := fc.FindStreamInfo(nil); err != nil {
		return fmt.Errorf("decode: FindStreamInfo %q: %w", s.url, err)
	}

	streams := fc.Streams()
	if cfg.StreamIndex < 0 || cfg.StreamIndex >= len(streams) {
		return fmt.Errorf("decode: stream index %d out of range (%d streams)", cfg.StreamIndex, len(streams))
	}
	stream := streams[cfg.StreamIndex]
	par := stream.CodecParameters()

	dec := astiav.FindDecoder(par.CodecID())
	if dec == nil {
		return fmt.Errorf("decode: no decoder for codec %s", par.CodecID())
	}
	cctx := astiav.AllocCodecContext(dec)
	if cctx == nil {
		return errors.New("decode: AllocCodecContext failed")
	}
	defer cctx.Free()
	if err := par.ToCodecContext(cctx); err != nil {
		return fmt.Errorf("decode: ToCodecContext: %w", err)
	}

	var hwCtx *hwaccel.Context
	if cfg.HWAccel != "" && cfg.HWAccel != hwaccel.DeviceNone && s.hw != nil {
		ctx, err := s.hw.Init(cfg.HWAccel)
		if err != nil {
			// Soft failure: log once, fall back to software, never retry
			// within this session (spec.md §4.B, §7 "hw_init_failed").
			s.log.Warn("HW unavailable, falling back to software decode", "device", cfg.HWAccel, "error", err)
		} else {
			hwCtx = ctx
		}
	}
	if hwCtx != nil {
		defer hwCtx.Free()
	}

	if err := cctx.Open(dec, nil); err != nil {
		return fmt.Errorf("decode: open codec: %w", err)
	}

	frameRate := stream.AvgFrameRate()
	fps := 25.0
	if frameRate.Num() > 0 && frameRate.Den() > 0 {
		fps = float64(frameRate.Num()) / float64(frameRate.Den())
	}
	s.queues = ComputeQueueSizes(fps, par.SampleRate(), 1024)
	s.frames = make(chan *media.Frame, s.queues.Frames)
	packetQueue := make(chan *astiav.Packet, s.queues.Packets)

	var isVideo bool
	switch par.MediaType() {
	case astiav.MediaTypeVideo:
		isVideo = true
	case astiav.MediaTypeAudio:
		isVideo = false
	default:
		return fmt.Errorf("decode: stream %d is neither audio nor video", cfg.StreamIndex)
	}

	tb := stream.TimeBase()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.demuxLoop(ctx, fc, cfg.StreamIndex, packetQueue)
	})
	g.Go(func() error {
		return s.decodeLoop(ctx, cctx, tb, isVideo, packetQueue)
	})

	err := g.Wait()
	if err != nil {
		s.setErr(err)
	}
	return err
}

// demuxLoop reads packets belonging to the selected stream and forwards
// them to packetQueue, honoring Seek requests as they arrive. It never
// drops a packet: when the queue is full it yields by blocking on the send,
// matching spec.md §4.B's "the loop yields rather than dropping".
func (s *Stage) demuxLoop(ctx context.Context, fc *astiav.FormatContext, streamIndex int, out chan<- *astiav.Packet) error {
	defer close(out)
	pkt := astiav.AllocPacket()
	defer pkt.Free()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.quit:
			return nil
		case pts := <-s.pendingPTS:
			if err := s.seekLocked(fc, streamIndex, pts); err != nil {
				s.log.Warn("seek_failed, continuing from reached position", "error", err)
			}
		default:
		}

		if err := fc.ReadFrame(pkt); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				return nil
			}
			return fmt.Errorf("decode: ReadFrame: %w", err)
		}
		if pkt.StreamIndex() != streamIndex {
			pkt.Unref()
			continue
		}

		clone := astiav.AllocPacket()
		if err := clone.Ref(pkt); err != nil {
			clone.Free()
			pkt.Unref()
			continue
		}
		pkt.Unref()

		select {
		case out <- clone:
		case <-ctx.Done():
			clone.Unref()
			clone.Free()
			return nil
		case <-s.quit:
			clone.Unref()
			clone.Free()
			return nil
		}
	}
}

// seekLocked issues the container seek per spec.md §4.B: "places the next
// decode at the largest keyframe pts <= pts_ms. Flushes codec state."
func (s *Stage) seekLocked(fc *astiav.FormatContext, streamIndex int, ptsMs int64) error {
	flags := astiav.NewSeekFlags(astiav.SeekFlagBackward)
	ts := ptsMs * 1000 // ms -> container AV_TIME_BASE microseconds when seeking on the default stream
	if err := fc.SeekFrame(-1, ts, flags); err != nil {
		return fmt.Errorf("SeekFrame: %w", err)
	}
	return nil
}

// decodeLoop feeds packets to the codec context and forwards decoded
// frames, tagged with pts/epoch/picture type, to s.frames. A malformed
// frame is logged once and skipped (spec.md §4.B, §7
// "decode_failed_fatal" vs transient EAGAIN).
func (s *Stage) decodeLoop(ctx context.Context, cctx *astiav.CodecContext, tb astiav.Rational, isVideo bool, in <-chan *astiav.Packet) error {
	defer close(s.frames)
	f := astiav.AllocFrame()
	defer f.Free()

	epochStart := true
	currentEpoch := s.epoch.Load()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.quit:
			return nil
		case pkt, ok := <-in:
			if !ok {
				return nil
			}

			if e := s.epoch.Load(); e != currentEpoch {
				currentEpoch = e
				epochStart = true
			}

			err := cctx.SendPacket(pkt)
			pkt.Unref()
			pkt.Free()
			if err != nil && !errors.Is(err, astiav.ErrEagain) {
				return fmt.Errorf("decode: SendPacket: %w", err)
			}

			for {
				rErr := cctx.ReceiveFrame(f)
				if errors.Is(rErr, astiav.ErrEagain) || errors.Is(rErr, astiav.ErrEof) {
					break
				}
				if rErr != nil {
					s.log.Warn("malformed frame, skipping", "error", rErr)
					break
				}

				owned := astiav.AllocFrame()
				if err := owned.Ref(f); err != nil {
					owned.Free()
					f.Unref()
					s.log.Warn("malformed frame, skipping", "error", err)
					continue
				}
				frame := frameFromAstiav(owned, tb, isVideo, currentEpoch, epochStart)
				epochStart = false
				f.Unref()

				select {
				case s.frames <- frame:
				case <-ctx.Done():
					return nil
				case <-s.quit:
					return nil
				}
			}
		}
	}
}

// frameFromAstiav wraps an owned, Ref'd astiav.Frame (f) into a media.Frame
// carrying it as a native device reference. The Converter Stage is
// responsible for reading out of f and eventually freeing it.
func frameFromAstiav(f *astiav.Frame, tb astiav.Rational, isVideo bool, epoch uint64, epochStart bool) *media.Frame {
	ptsMs := rescaleToMs(f.Pts(), tb)

	out := &media.Frame{
		PTSMs:      ptsMs,
		SeekEpoch:  epoch,
		EpochStart: epochStart,
		Ownership:  media.OwnershipDevice,
		Device:     f,
	}

	if isVideo {
		out.PictureType = pictureTypeFromAstiav(f.PictureType())
		out.Width = f.Width()
		out.Height = f.Height()
		out.Interlaced = f.InterlacedFrame()
		out.ColorSpace = colorSpaceFromAstiav(f.ColorSpace())
		out.ColorRange = colorRangeFromAstiav(f.ColorRange())
		out.BitDepth = bitDepthFromPixelFormat(f.PixelFormat())
	} else {
		out.SampleRate = f.SampleRate()
		out.Channels = f.ChannelLayout().Channels()
		out.Samples = f.NbSamples()
	}
	return out
}

func rescaleToMs(pts int64, tb astiav.Rational) int64 {
	if tb.Den() == 0 {
		return media.PTSUnknown
	}
	return pts * int64(tb.Num()) * 1000 / int64(tb.Den())
}

func pictureTypeFromAstiav(t astiav.PictureType) media.PictureType {
	switch t {
	case astiav.PictureTypeI:
		return media.PictureI
	case astiav.PictureTypeP:
		return media.PictureP
	case astiav.PictureTypeB:
		return media.PictureB
	default:
		return media.PictureUnknown
	}
}

func colorSpaceFromAstiav(cs astiav.ColorSpace) media.ColorSpace {
	switch cs {
	case astiav.ColorSpaceBt709:
		return media.ColorSpaceBT709
	case astiav.ColorSpaceBt470Bg, astiav.ColorSpaceSmpte170M:
		return media.ColorSpaceBT601
	case astiav.ColorSpaceBt2020Ncl, astiav.ColorSpaceBt2020Cl:
		return media.ColorSpaceBT2020
	default:
		return media.ColorSpaceUnknown
	}
}

func colorRangeFromAstiav(cr astiav.ColorRange) media.ColorRange {
	switch cr {
	case astiav.ColorRangeJpeg:
		return media.ColorRangeFull
	case astiav.ColorRangeMpeg:
		return media.ColorRangeNarrow
	default:
		return media.ColorRangeUnknown
	}
}

func bitDepthFromPixelFormat(pf astiav.PixelFormat) int {
	switch pf {
	case astiav.PixelFormatYuv420P10Le, astiav.PixelFormatYuv422P10Le, astiav.PixelFormatYuv444P10Le:
		return 10
	case astiav.PixelFormatYuv420P12Le:
		return 12
	default:
		return 8
	}
}

