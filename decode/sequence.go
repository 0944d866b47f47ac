package decode

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/opencodewin/MediaEditor-sub013/container"
	"github.com/opencodewin/MediaEditor-sub013/media"
)

// SequenceStage is the Decoder Stage counterpart for a
// container.SequenceSource: it "decodes" one frame by reading and decoding
// the numbered image file nearest a requested pts, rather than driving a
// codec context. It implements the same method set as Stage so a Generator
// can swap one for the other without the Decoder Stage's callers ever
// special-casing image-sequence input (spec.md §9 Open Question, resolved in
// SPEC_FULL.md §3: "the Decoder Stage never special-cases it").
//
// Every frame a sequence produces is, by construction, independently
// decodable (spec.md §3 KeyframeTable: "ordered sequence of presentation
// times at which decoding may start without a prior reference frame"), so
// Seek never needs to flush codec state — it just changes which file the
// next Frame reads from.
type SequenceStage struct {
	log *slog.Logger
	seq *container.SequenceSource

	epoch   atomic.Uint64
	pending chan int64

	frames chan *media.Frame

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
	quit      chan struct{}
}

// NewSequenceStage creates a Stage-shaped decoder over seq.
func NewSequenceStage(seq *container.SequenceSource, log *slog.Logger) *SequenceStage {
	if log == nil {
		log = slog.Default()
	}
	return &SequenceStage{
		log:     log.With("component", "decode.SequenceStage"),
		seq:     seq,
		pending: make(chan int64, 1),
		quit:    make(chan struct{}),
	}
}

// Configure is a no-op: a sequence has no stream selection or hw-accel
// preference, but the method exists so callers that treat Stage and
// SequenceStage uniformly compile against either.
func (s *SequenceStage) Configure(Config) {}

// Frames returns the channel the Converter Stage reads decoded frames from.
func (s *SequenceStage) Frames() <-chan *media.Frame { return s.frames }

// Seek replaces the pending read position, mirroring Stage.Seek's
// latest-wins, non-blocking contract.
func (s *SequenceStage) Seek(ptsMs int64) {
	s.epoch.Add(1)
	select {
	case <-s.pending:
	default:
	}
	select {
	case s.pending <- ptsMs:
	default:
	}
}

// Epoch returns the seek epoch currently in effect.
func (s *SequenceStage) Epoch() uint64 { return s.epoch.Load() }

// Err returns the fatal error that stopped the read loop, if any.
func (s *SequenceStage) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *SequenceStage) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Close signals the read loop to stop.
func (s *SequenceStage) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })
	return nil
}

// Run drives the read loop until ctx is cancelled or Close is called. Unlike
// Stage, there is no separate demux goroutine: reading one image file is
// already a single bounded operation, so one goroutine both watches for Seek
// requests and serves them.
func (s *SequenceStage) Run(ctx context.Context) error {
	s.frames = make(chan *media.Frame, defaultFrameQueue)
	defer close(s.frames)

	pos := int64(0)
	first := true
	for {
		if !first {
			select {
			case <-ctx.Done():
				return nil
			case <-s.quit:
				return nil
			case pos = <-s.pending:
			}
		}
		first = false

		frame, err := s.readFrame(pos)
		if err != nil {
			s.setErr(err)
			return err
		}
		if frame == nil {
			continue // malformed image, already logged
		}

		select {
		case s.frames <- frame:
		case <-ctx.Done():
			return nil
		case <-s.quit:
			return nil
		}
	}
}

func (s *SequenceStage) readFrame(ptsMs int64) (*media.Frame, error) {
	path, ok := s.seq.FilePathForPTS(ptsMs)
	if !ok {
		return nil, fmt.Errorf("decode: sequence has no file for pts %d", ptsMs)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("decode: open %q: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		s.log.Warn("malformed frame, skipping", "path", path, "error", err)
		return nil, nil
	}

	b := img.Bounds()
	epoch := s.epoch.Load()
	return &media.Frame{
		PTSMs:       ptsMs,
		SeekEpoch:   epoch,
		EpochStart:  true,
		PictureType: media.PictureI,
		ColorFormat: media.ColorFormatRGBA8,
		Width:       b.Dx(),
		Height:      b.Dy(),
		Ownership:   media.OwnershipHost,
		Device:      img,
	}, nil
}

var _ interface {
	Run(context.Context) error
	Seek(int64)
	Frames() <-chan *media.Frame
	Err() error
	Close() error
	Epoch() uint64
} = (*SequenceStage)(nil)
