package hwaccel

import "testing"

func TestInitNoneIsNoop(t *testing.T) {
	t.Parallel()
	m := NewManager()
	ctx, err := m.Init(DeviceNone)
	if err != nil || ctx != nil {
		t.Fatalf("Init(DeviceNone) = %v, %v; want nil, nil", ctx, err)
	}
}

func TestInitDoesNotRetryAfterFailure(t *testing.T) {
	t.Parallel()
	m := NewManager()
	m.failed[DeviceCUDA] = true

	if _, err := m.Init(DeviceCUDA); err == nil {
		t.Fatal("expected error for a device type marked failed")
	}
}
