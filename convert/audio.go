package convert

import (
	"fmt"
	"math"

	astiav "github.com/asticode/go-astiav"

	"github.com/opencodewin/MediaEditor-sub013/media"
)

// AudioConfig is the canonical PCM layout the audio path resamples decoded
// audio to, before feeding the Waveform Aggregator (spec.md §4.C "Audio").
type AudioConfig struct {
	SampleRate int
	Channels   int
}

// AudioConverter resamples decoded audio frames to planar float32 at a
// canonical rate/channel count, grounded on e1z0-QAnotherRTSP/src/video.go's
// AllocSoftwareResampleContext + ConvertFrame use in its AAC recording path.
type AudioConverter struct {
	cfg AudioConfig
	swr *astiav.SoftwareResampleContext
	dst *astiav.Frame
}

// NewAudioConverter creates an AudioConverter for the given canonical
// layout.
func NewAudioConverter(cfg AudioConfig) *AudioConverter {
	return &AudioConverter{cfg: cfg}
}

// Close releases the resample context and destination frame.
func (c *AudioConverter) Close() {
	if c.dst != nil {
		c.dst.Free()
		c.dst = nil
	}
	if c.swr != nil {
		c.swr.Free()
		c.swr = nil
	}
}

func (c *AudioConverter) ensure(src *astiav.Frame) error {
	if c.swr != nil {
		return nil
	}
	swr := astiav.AllocSoftwareResampleContext()
	if swr == nil {
		return fmt.Errorf("convert: AllocSoftwareResampleContext failed")
	}
	c.swr = swr
	c.dst = astiav.AllocFrame()
	c.dst.SetSampleFormat(astiav.SampleFormatFltp)
	c.dst.SetSampleRate(c.cfg.SampleRate)
	// Preserve the source channel layout rather than constructing a new
	// one; the Channels field in AudioConfig documents the expected count
	// but layout identity (stereo vs 2.0 vs dual-mono) stays with the
	// source, matching e1z0-QAnotherRTSP's ctx.SetChannelLayout(aCtx.ChannelLayout()).
	c.dst.SetChannelLayout(src.ChannelLayout())
	return nil
}

// Convert resamples f (a native decoder audio frame referenced via
// media.Frame.Device) to planar float32 and returns one []float32 slice per
// output channel. f is always freed before Convert returns.
func (c *AudioConverter) Convert(f *media.Frame) ([][]float32, error) {
	src, ok := f.Device.(*astiav.Frame)
	if !ok || src == nil {
		return nil, fmt.Errorf("convert: frame has no native device reference")
	}
	defer src.Free()

	if err := c.ensure(src); err != nil {
		return nil, err
	}

	c.dst.SetNbSamples(src.NbSamples())
	if err := c.dst.AllocBuffer(0); err != nil {
		return nil, fmt.Errorf("convert: dst.AllocBuffer: %w", err)
	}
	defer c.dst.Unref()

	if err := c.swr.ConvertFrame(src, c.dst); err != nil {
		return nil, fmt.Errorf("convert: swr ConvertFrame: %w", err)
	}

	channels := src.ChannelLayout().Channels()
	out := make([][]float32, channels)
	n := c.dst.NbSamples()
	for ch := 0; ch < channels; ch++ {
		raw, err := c.dst.Data().Bytes(ch)
		if err != nil {
			return nil, fmt.Errorf("convert: Data().Bytes(%d): %w", ch, err)
		}
		out[ch] = bytesToFloat32(raw, n)
	}
	return out, nil
}

func bytesToFloat32(b []byte, n int) []float32 {
	out := make([]float32, 0, n)
	for i := 0; i+4 <= len(b) && len(out) < n; i += 4 {
		bits := uint32(b[i]) | uint32(b[i+1])<<8 | uint32(b[i+2])<<16 | uint32(b[i+3])<<24
		out = append(out, math.Float32frombits(bits))
	}
	return out
}

// WaveformAggregator buffers canonical planar float32 samples and emits one
// aggregate window (the per-channel peak magnitude) at a time into a
// media.Waveform, per spec.md §4.F: "For each aggregate window k, per
// channel c, store max(|x|) into pcm[c][k]".
type WaveformAggregator struct {
	waveform         *media.Waveform
	channels         int
	aggregateSamples float64

	buffered [][]float32
	windowN  int64
}

// NewWaveformAggregator creates an aggregator writing into waveform.
func NewWaveformAggregator(waveform *media.Waveform, channels int, aggregateSamples float64) *WaveformAggregator {
	return &WaveformAggregator{
		waveform:         waveform,
		channels:         channels,
		aggregateSamples: aggregateSamples,
		buffered:         make([][]float32, channels),
	}
}

// AddSamples appends newly resampled planar samples and emits any aggregate
// windows that have filled.
func (a *WaveformAggregator) AddSamples(planar [][]float32) {
	for ch := 0; ch < a.channels && ch < len(planar); ch++ {
		a.buffered[ch] = append(a.buffered[ch], planar[ch]...)
	}

	winLen := int(math.Round(a.aggregateSamples))
	if winLen <= 0 {
		winLen = 1
	}

	for a.channels > 0 && len(a.buffered[0]) >= winLen {
		peaks := make([]float32, a.channels)
		for ch := 0; ch < a.channels; ch++ {
			var peak float32
			for _, s := range a.buffered[ch][:winLen] {
				m := float32(math.Abs(float64(s)))
				if m > peak {
					peak = m
				}
			}
			peaks[ch] = peak
			a.buffered[ch] = a.buffered[ch][winLen:]
		}
		a.waveform.AddWindow(peaks)
		a.windowN++
	}
}

// Flush emits one final partial window (if any samples remain) and marks
// the waveform done, matching "parseDone flips true exactly once, after the
// audio stream is fully consumed" (spec.md §4.F).
func (a *WaveformAggregator) Flush() {
	if a.channels > 0 && len(a.buffered[0]) > 0 {
		peaks := make([]float32, a.channels)
		for ch := 0; ch < a.channels; ch++ {
			var peak float32
			for _, s := range a.buffered[ch] {
				m := float32(math.Abs(float64(s)))
				if m > peak {
					peak = m
				}
			}
			peaks[ch] = peak
			a.buffered[ch] = nil
		}
		a.waveform.AddWindow(peaks)
	}
	a.waveform.MarkDone()
}

// SingleFramePixelsToAggregateSamples implements the single_frame_pixels
// configuration option: aggregate_samples = sample_rate * pixels /
// display_width (spec.md §4.F).
func SingleFramePixelsToAggregateSamples(sampleRate, pixelsPerFrame, displayWidth int) float64 {
	if displayWidth <= 0 {
		return float64(sampleRate)
	}
	return float64(sampleRate) * float64(pixelsPerFrame) / float64(displayWidth)
}
