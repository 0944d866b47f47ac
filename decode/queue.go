package decode

// QueueSizes names the bounded-channel capacities the Decoder Stage uses for
// backpressure, derived from the source's frame rate and audio parameters
// (spec.md §4.B, §5).
type QueueSizes struct {
	Packets int
	Frames  int
	Audio   int
}

const (
	minPacketQueue        = 20
	defaultFrameQueue     = 5
	audioQueueSeconds     = 0.5
)

// ComputeQueueSizes implements the formulas from spec.md §4.B/§5: the packet
// queue holds roughly 2 seconds of video at the source frame rate (never
// fewer than 20), the frame queue is always small (4-5 decoded frames ahead),
// and the audio queue holds roughly half a second of resampled blocks.
func ComputeQueueSizes(frameRate float64, sampleRate, samplesPerFrame int) QueueSizes {
	packets := int(2 * frameRate)
	if packets < minPacketQueue {
		packets = minPacketQueue
	}

	audio := 1
	if samplesPerFrame > 0 && sampleRate > 0 {
		audio = int(audioQueueSeconds * float64(sampleRate) / float64(samplesPerFrame))
		if audio < 1 {
			audio = 1
		}
	}

	return QueueSizes{Packets: packets, Frames: defaultFrameQueue, Audio: audio}
}
