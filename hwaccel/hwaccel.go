// Package hwaccel wraps hardware device context creation behind a small
// capability interface so the Decoder Stage never reaches into a global
// singleton (spec.md §9, "Global singletons... expose as injected capability
// interfaces"). The concrete implementation is grounded on go-astiav's
// HardwareDeviceContext, the same library e1z0-QAnotherRTSP uses for decode.
package hwaccel

import (
	"fmt"

	astiav "github.com/asticode/go-astiav"
)

// DeviceType names a hardware acceleration backend, mirroring
// astiav.HardwareDeviceType without exposing cgo types in callers' signatures.
type DeviceType string

const (
	DeviceNone   DeviceType = "none"
	DeviceVAAPI  DeviceType = "vaapi"
	DeviceCUDA   DeviceType = "cuda"
	DeviceVDPAU  DeviceType = "vdpau"
	DeviceD3D11  DeviceType = "d3d11va"
	DeviceVToolB DeviceType = "videotoolbox"
	DeviceQSV    DeviceType = "qsv"
)

// Manager creates hardware device contexts on demand and remembers, for the
// lifetime of the Manager, which device types have already failed to
// initialize — matching spec.md §4.B: "if HW init fails, the decoder falls
// back to software transparently without retrying HW within the session."
type Manager struct {
	failed map[DeviceType]bool
}

// NewManager returns a Manager with a clean failure cache. Construction
// cannot fail (spec.md §9).
func NewManager() *Manager {
	return &Manager{failed: make(map[DeviceType]bool)}
}

// knownDeviceTypes enumerates the backends this package knows how to name;
// astiav.FindHardwareDeviceTypeByName tells us which ones the linked FFmpeg
// build actually supports.
var knownDeviceTypes = []DeviceType{DeviceVAAPI, DeviceCUDA, DeviceVDPAU, DeviceD3D11, DeviceVToolB, DeviceQSV}

// AvailableDeviceTypes lists hardware device types astiav's build of FFmpeg
// was compiled with support for.
func (m *Manager) AvailableDeviceTypes() []DeviceType {
	var out []DeviceType
	for _, t := range knownDeviceTypes {
		if astiav.FindHardwareDeviceTypeByName(string(t)) != astiav.HardwareDeviceTypeNone {
			out = append(out, t)
		}
	}
	return out
}

// Context is a created hardware device context plus bookkeeping needed to
// free it when the Decoder Stage shuts down.
type Context struct {
	Type DeviceType
	hw   *astiav.HardwareDeviceContext
}

// Free releases the underlying device context.
func (c *Context) Free() {
	if c != nil && c.hw != nil {
		c.hw.Free()
	}
}

// Init creates a hardware device context for the requested type. If the
// type previously failed on this Manager, Init returns immediately without
// retrying, per the "without retrying HW within the session" rule.
func (m *Manager) Init(t DeviceType) (*Context, error) {
	if t == DeviceNone {
		return nil, nil
	}
	if m.failed[t] {
		return nil, fmt.Errorf("hwaccel: %s previously failed to initialize, not retrying", t)
	}
	astiavType := astiav.FindHardwareDeviceTypeByName(string(t))
	if astiavType == astiav.HardwareDeviceTypeNone {
		m.failed[t] = true
		return nil, fmt.Errorf("hwaccel: unknown device type %q", t)
	}
	hw, err := astiav.CreateHardwareDeviceContext(astiavType, "", nil, 0)
	if err != nil {
		m.failed[t] = true
		return nil, fmt.Errorf("hwaccel: init %s: %w", t, err)
	}
	return &Context{Type: t, hw: hw}, nil
}
