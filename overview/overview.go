// Package overview implements the Overview Engine: a fixed-count,
// whole-duration thumbnail strip plus a downsampled audio waveform,
// distinct from the sliding-window Snapshot Generator it reuses internally.
// Grounded on internal/stream/manager.go's single-mutex control surface and
// on convert's WaveformAggregator for the audio path.
package overview

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/opencodewin/MediaEditor-sub013/container"
	"github.com/opencodewin/MediaEditor-sub013/convert"
	"github.com/opencodewin/MediaEditor-sub013/decode"
	"github.com/opencodewin/MediaEditor-sub013/generator"
	"github.com/opencodewin/MediaEditor-sub013/hwaccel"
	"github.com/opencodewin/MediaEditor-sub013/media"

	"golang.org/x/sync/errgroup"
)

const defaultOverviewCount = 20

// Config is the Overview's full configuration surface.
type Config struct {
	OverviewCount int // default 20

	VideoStreamIndex int
	AudioStreamIndex int // -1 if the source has no usable audio stream
	HWAccel          hwaccel.DeviceType

	VideoConfig convert.VideoConfig
	KeepAspect  bool // stored only; sizing follows VideoConfig.Mode

	// Waveform configuration: exactly one of these selects the aggregate
	// window; SingleFramePixels takes priority when both are nonzero.
	SingleFramePixels     int
	FixedAggregateSamples float64
	DisplayWidth          int // needed to resolve SingleFramePixels
}

// Overview owns a private Generator configured with a window spanning the
// full source duration and frame_count = OverviewCount, plus the audio
// waveform path (spec.md §4.F, "Video path ... Waveform path").
type Overview struct {
	log *slog.Logger

	mu     sync.Mutex
	opened bool
	done   bool

	gen        *generator.Generator
	viewer     *generator.Viewer
	audioStage *decode.Stage
	audioConv  *convert.AudioConverter
	waveform   *media.Waveform
	aggregator *convert.WaveformAggregator
	hasVideo   bool
	hasAudio   bool
	cfg        Config
	cancel     context.CancelFunc
	group      *errgroup.Group
}

// New creates an unopened Overview.
func New(log *slog.Logger) *Overview {
	if log == nil {
		log = slog.Default()
	}
	return &Overview{
		log: log.With("component", "overview.Overview"),
		gen: generator.New(log),
	}
}

// Open binds the Overview to url, configuring its private Generator for a
// whole-duration, N-snapshot window and starting the audio waveform path if
// the source has an audio stream (spec.md §4.F).
func (o *Overview) Open(ctx context.Context, url string, parser container.MediaParser, audioParser container.MediaParser, cfg Config) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.opened {
		return fmt.Errorf("overview: already open")
	}
	if cfg.OverviewCount <= 0 {
		cfg.OverviewCount = defaultOverviewCount
	}
	if cfg.HWAccel == "" {
		cfg.HWAccel = o.cfg.HWAccel // preference set earlier via EnableHwAccel
	}
	o.cfg = cfg

	genCfg := generator.Config{
		StreamIndex: cfg.VideoStreamIndex,
		HWAccel:     cfg.HWAccel,
		VideoConfig: cfg.VideoConfig,
		CacheFactor: cfg.OverviewCount, // every index must be retained: max cache is frame_count², far above the N-index window
	}
	if err := o.gen.Open(ctx, url, parser, genCfg); err != nil {
		return fmt.Errorf("overview: generator open: %w", err)
	}
	info := parser.GetStreamInfo()
	o.gen.ConfigSnapWindow(float64(info.DurationMs), cfg.OverviewCount, true)
	o.viewer = o.gen.CreateViewer(0)
	o.hasVideo = true

	if cfg.AudioStreamIndex >= 0 && audioParser != nil {
		if err := o.openAudio(ctx, url, audioParser, cfg); err != nil {
			o.log.Warn("audio path unavailable, overview continues video-only", "error", err)
		} else {
			o.hasAudio = true
		}
	}

	o.opened = true
	return nil
}

func (o *Overview) openAudio(ctx context.Context, url string, audioParser container.MediaParser, cfg Config) error {
	info, err := audioParser.Open(ctx)
	if err != nil {
		return fmt.Errorf("audio parser open: %w", err)
	}
	audioDesc, ok := info.AudioStream()
	if !ok {
		return fmt.Errorf("source has no audio stream")
	}

	aggregateSamples := cfg.FixedAggregateSamples
	if cfg.SingleFramePixels > 0 {
		aggregateSamples = convert.SingleFramePixelsToAggregateSamples(audioDesc.SampleRate, cfg.SingleFramePixels, cfg.DisplayWidth)
	}
	if aggregateSamples <= 0 {
		aggregateSamples = float64(audioDesc.SampleRate) // 1 aggregate/sec fallback
	}

	totalSamples := int64(float64(info.DurationMs) / 1000 * float64(audioDesc.SampleRate))
	totalWindows := int64(0)
	if aggregateSamples > 0 {
		totalWindows = totalSamples / int64(aggregateSamples)
	}

	o.waveform = media.NewWaveform(audioDesc.ChannelCount, aggregateSamples, audioDesc.SampleRate, totalWindows)
	o.audioConv = convert.NewAudioConverter(convert.AudioConfig{SampleRate: audioDesc.SampleRate, Channels: audioDesc.ChannelCount})
	o.aggregator = convert.NewWaveformAggregator(o.waveform, audioDesc.ChannelCount, aggregateSamples)

	o.audioStage = decode.New(url, hwaccel.NewManager(), o.log)
	o.audioStage.Configure(decode.Config{StreamIndex: cfg.AudioStreamIndex})

	runCtx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	group, gctx := errgroup.WithContext(runCtx)
	o.group = group

	group.Go(func() error { return o.audioStage.Run(gctx) })
	group.Go(func() error { return o.audioLoop(gctx) })

	return nil
}

// audioLoop drains the audio Decoder Stage once, start to finish (the
// Overview never seeks its audio path — it scans the whole stream exactly
// once), feeding every frame through the resampler and aggregator.
func (o *Overview) audioLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-o.audioStage.Frames():
			if !ok {
				o.aggregator.Flush()
				o.mu.Lock()
				o.done = true
				o.mu.Unlock()
				return nil
			}
			planar, err := o.audioConv.Convert(f)
			if err != nil {
				o.log.Warn("audio convert failed, dropping block", "error", err)
				continue
			}
			o.aggregator.AddSamples(planar)
		}
	}
}

// Close releases the Generator and, if running, the audio path, blocking
// until every goroutine has joined.
func (o *Overview) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.opened {
		return nil
	}
	var firstErr error
	if o.viewer != nil {
		o.gen.ReleaseViewer(o.viewer)
	}
	if err := o.gen.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if o.cancel != nil {
		o.cancel()
		if err := o.group.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if o.audioStage != nil {
		o.audioStage.Close()
	}
	if o.audioConv != nil {
		o.audioConv.Close()
	}
	o.opened = false
	return firstErr
}

// IsOpened reports whether Open succeeded and Close has not yet been called.
func (o *Overview) IsOpened() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened
}

// IsDone reports whether the audio waveform scan has consumed the entire
// stream (spec.md §4.F "parseDone"). A video-only source is done immediately.
func (o *Overview) IsDone() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.hasAudio || o.done
}

// HasVideo reports whether the source contributed a video thumbnail strip.
func (o *Overview) HasVideo() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hasVideo
}

// HasAudio reports whether the source contributed a waveform.
func (o *Overview) HasAudio() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hasAudio
}

// GetSnapshots returns the overviewCount-sized thumbnail strip; entries not
// yet decoded come back as media.EmptySnapshot (spec.md §8 scenario:
// "GetSnapshots returns 20 entries").
func (o *Overview) GetSnapshots() []media.Snapshot {
	o.mu.Lock()
	v := o.viewer
	o.mu.Unlock()
	if v == nil {
		return nil
	}
	return v.GetSnapshots()
}

// GetWaveform returns a point-in-time copy of the aggregated waveform, or
// the zero value if the source has no audio.
func (o *Overview) GetWaveform() media.WaveformSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.waveform == nil {
		return media.WaveformSnapshot{}
	}
	return o.waveform.Snapshot()
}

// SetVideoConfig forwards a new video configuration (snapshot size, resize
// factor, output color format, interpolation) to the private Generator.
func (o *Overview) SetVideoConfig(cfg convert.VideoConfig) {
	o.gen.SetVideoConfig(cfg)
}

// SetKeepAspectRatio records the keep-aspect preference in the Overview's
// stored Config. The video path does not read it: whether a frame is
// letterboxed or stretched is decided by VideoConfig.Mode alone.
func (o *Overview) SetKeepAspectRatio(keep bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cfg.KeepAspect = keep
}

// EnableHwAccel selects (or disables, with hwaccel.DeviceNone) the hardware
// acceleration preference for a subsequent re-open, used when that Open's
// Config leaves HWAccel empty; the private Generator does not support
// changing this on an already-open source.
func (o *Overview) EnableHwAccel(t hwaccel.DeviceType) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cfg.HWAccel = t
}
