// Package media defines the core value types that flow through the snapshot
// and overview pipeline: decoded frames, canonical images, snapshots, and
// waveforms. Types here carry no behavior beyond small invariant-preserving
// helpers; the stages that produce and consume them live in sibling packages
// (decode, convert, cache, planner, generator, overview).
package media

import "fmt"

// PictureType classifies a decoded video frame the way the underlying codec
// reports it. B-frames may arrive out of presentation order from the decoder;
// callers that need presentation order rely on PTS, not arrival order.
type PictureType uint8

const (
	PictureUnknown PictureType = iota
	PictureI
	PictureP
	PictureB
)

func (t PictureType) String() string {
	switch t {
	case PictureI:
		return "I"
	case PictureP:
		return "P"
	case PictureB:
		return "B"
	default:
		return "unknown"
	}
}

// ColorFormat is the canonical pixel layout the Converter Stage emits.
type ColorFormat uint8

const (
	ColorFormatRGBA8 ColorFormat = iota
	ColorFormatRGBA16
)

func (f ColorFormat) BytesPerPixel() int {
	if f == ColorFormatRGBA16 {
		return 8
	}
	return 4
}

// ColorSpace identifies the YUV color matrix used to interpret decoded
// samples before RGB conversion.
type ColorSpace uint8

const (
	ColorSpaceUnknown ColorSpace = iota
	ColorSpaceBT601
	ColorSpaceBT709
	ColorSpaceBT2020
)

// ColorRange distinguishes narrow ("studio", 16-235) from full (0-255) range
// YUV samples; the Converter Stage must apply the matching offset/scale.
type ColorRange uint8

const (
	ColorRangeUnknown ColorRange = iota
	ColorRangeNarrow
	ColorRangeFull
)

// Interpolation selects the resampling filter the Converter Stage uses when
// resizing a decoded frame to the target snapshot size.
type Interpolation uint8

const (
	InterpolationNearest Interpolation = iota
	InterpolationBilinear
	InterpolationBicubic
	InterpolationArea
)

func (i Interpolation) String() string {
	switch i {
	case InterpolationNearest:
		return "nearest"
	case InterpolationBilinear:
		return "bilinear"
	case InterpolationBicubic:
		return "bicubic"
	case InterpolationArea:
		return "area"
	default:
		return fmt.Sprintf("interpolation(%d)", uint8(i))
	}
}

// SnapshotState is the lifecycle stage of a Snapshot, per spec.md §3.
type SnapshotState uint8

const (
	SnapshotEmpty SnapshotState = iota
	SnapshotDecoding
	SnapshotReady
	SnapshotFailed
)

func (s SnapshotState) String() string {
	switch s {
	case SnapshotEmpty:
		return "empty"
	case SnapshotDecoding:
		return "decoding"
	case SnapshotReady:
		return "ready"
	case SnapshotFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// PTSUnknown is the sentinel PTS value returned for snapshots that have no
// pixels yet, matching the C++ source's use of INT_MIN for this purpose
// (spec.md §4.H, Viewer.GetSnapshots).
const PTSUnknown int64 = -1 << 62
