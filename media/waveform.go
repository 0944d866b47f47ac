package media

import "sync"

// Waveform is a downsampled audio peak-magnitude table built incrementally as
// the Converter Stage's audio path consumes decoded samples (spec.md §3
// "Waveform", §4.F "Waveform path"). It is safe for concurrent read while the
// aggregator writes, via an internal mutex; callers should still treat a
// returned snapshot as a point-in-time copy.
type Waveform struct {
	mu sync.RWMutex

	aggregateSamples float64 // samples per aggregate window, possibly fractional
	aggregateDurMs   float64
	sampleRate       int
	channels         int

	minSample float32
	maxSample float32
	pcm       [][]float32 // pcm[channel][window]
	validN    int64
	total     int64 // total expected aggregate windows once duration is known; 0 if unknown
	done      bool
}

// NewWaveform creates an aggregator for a given channel count and aggregate
// window size (in samples per channel).
func NewWaveform(channels int, aggregateSamples float64, sampleRate int, totalWindows int64) *Waveform {
	pcm := make([][]float32, channels)
	return &Waveform{
		aggregateSamples: aggregateSamples,
		aggregateDurMs:   aggregateSamples / float64(sampleRate) * 1000,
		sampleRate:       sampleRate,
		channels:         channels,
		pcm:              pcm,
		total:            totalWindows,
	}
}

// AddWindow records one aggregate window's peak magnitude per channel as the
// next window; windows must be appended in increasing order (the Converter
// Stage's audio path produces them that way).
func (w *Waveform) AddWindow(peaks []float32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for c := 0; c < w.channels && c < len(peaks); c++ {
		w.pcm[c] = append(w.pcm[c], peaks[c])
		if peaks[c] < w.minSample {
			w.minSample = peaks[c]
		}
		if peaks[c] > w.maxSample {
			w.maxSample = peaks[c]
		}
	}
	w.validN++
}

// MarkDone flips parseDone exactly once, after the audio stream is fully
// consumed (spec.md §4.F).
func (w *Waveform) MarkDone() {
	w.mu.Lock()
	w.done = true
	w.mu.Unlock()
}

// WaveformSnapshot is a point-in-time copy of the waveform's state, safe to hand to
// a caller without holding the aggregator's lock.
type WaveformSnapshot struct {
	AggregateSamples float64
	AggregateDurMs   float64
	Min, Max         float32
	PerChannelPCM    [][]float32
	ValidCount       int64
	Complete         bool
}

// Snapshot returns a copy of the waveform's current state.
func (w *Waveform) Snapshot() WaveformSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	cp := make([][]float32, len(w.pcm))
	for i, ch := range w.pcm {
		cp[i] = append([]float32(nil), ch...)
	}
	return WaveformSnapshot{
		AggregateSamples: w.aggregateSamples,
		AggregateDurMs:   w.aggregateDurMs,
		Min:              w.minSample,
		Max:              w.maxSample,
		PerChannelPCM:    cp,
		ValidCount:       w.validN,
		Complete:         w.done,
	}
}
