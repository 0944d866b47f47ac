package decode

import "testing"

func TestComputeQueueSizesEnforcesMinimumPacketQueue(t *testing.T) {
	t.Parallel()
	q := ComputeQueueSizes(5, 44100, 1024)
	if q.Packets != minPacketQueue {
		t.Errorf("Packets = %d, want minimum %d for a low frame rate", q.Packets, minPacketQueue)
	}
	if q.Frames != defaultFrameQueue {
		t.Errorf("Frames = %d, want %d", q.Frames, defaultFrameQueue)
	}
}

func TestComputeQueueSizesScalesWithFrameRate(t *testing.T) {
	t.Parallel()
	q := ComputeQueueSizes(30, 44100, 1024)
	want := 60 // 2s * 30fps
	if q.Packets != want {
		t.Errorf("Packets = %d, want %d", q.Packets, want)
	}
}

func TestComputeQueueSizesAudioQueue(t *testing.T) {
	t.Parallel()
	q := ComputeQueueSizes(30, 44100, 1024)
	if q.Audio < 1 {
		t.Errorf("Audio = %d, want >= 1", q.Audio)
	}
	q2 := ComputeQueueSizes(30, 0, 0)
	if q2.Audio != 1 {
		t.Errorf("Audio = %d, want 1 when sample rate/samples-per-frame are unknown", q2.Audio)
	}
}
