// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package soft is a driver that executes command buffers on the CPU.
// Adapters are described up front, so enumeration, capability checks
// and failures of the hardware path can be reproduced without a GPU.
package soft

import (
	"sync"
	"time"

	"github.com/devblok/vkengine/device"
	"github.com/pkg/errors"
)

// Well known names the software driver understands in debug mode
const (
	ValidationLayer      = "VK_LAYER_KHRONOS_validation"
	DebugReportExtension = "VK_EXT_debug_report"
)

// Faults make an adapter misbehave in a controlled way
type Faults struct {
	// RejectDevice fails logical device creation
	RejectDevice bool

	// LoseOnSubmit loses the device when a command buffer is submitted
	LoseOnSubmit bool

	// LoseOnExecute loses the device while a submission is executing
	LoseOnExecute bool

	// Hang keeps submissions from ever completing
	Hang bool

	// Latency is added to every submission before it executes
	Latency time.Duration
}

// Adapter is a physical device the driver will enumerate
type Adapter struct {
	Info   device.PhysicalDeviceInfo
	Faults Faults
}

// NewAdapter describes an adapter with a queue family per flag set given,
// each family having a single queue
func NewAdapter(name string, typ device.Type, families ...device.QueueFlags) Adapter {
	info := device.PhysicalDeviceInfo{
		VendorID:      0x10005,
		Name:          name,
		Type:          typ,
		DriverVersion: device.MakeVersion(1, 0, 0),
		APIVersion:    DefaultAPIVersion,
		Memory:        1 << 30,
		Heaps:         []device.MemoryHeap{{Size: 1 << 30, DeviceLocal: typ != device.TypeCPU}},
	}
	for i, flags := range families {
		info.QueueFamilies = append(info.QueueFamilies, device.QueueFamily{
			Index: i,
			Flags: flags,
			Count: 1,
		})
	}
	return Adapter{Info: info}
}

// DefaultAPIVersion is reported when the driver is not told otherwise
var DefaultAPIVersion = device.MakeVersion(1, 1, 0)

// DefaultAdapters returns a single discrete adapter with
// a universal family, a compute family and a transfer family
func DefaultAdapters() []Adapter {
	return []Adapter{
		NewAdapter("soft discrete", device.TypeDiscrete,
			device.QueueGraphics|device.QueueCompute|device.QueueTransfer,
			device.QueueCompute|device.QueueTransfer,
			device.QueueTransfer,
		),
	}
}

// Driver is the software implementation of device.Driver
type Driver struct {
	Adapters            []Adapter
	APIVersion          device.Version
	AvailableLayers     []string
	AvailableExtensions []string

	// Unavailable acts as if no loader is installed
	Unavailable bool

	// Journal, if set, receives the lifecycle of every object
	Journal *Journal
}

// New creates a driver for the given adapters, with the
// validation layer and debug report extension available
func New(adapters ...Adapter) *Driver {
	return &Driver{
		Adapters:            adapters,
		APIVersion:          DefaultAPIVersion,
		AvailableLayers:     []string{ValidationLayer},
		AvailableExtensions: []string{DebugReportExtension},
	}
}

// Name of the driver
func (d *Driver) Name() string {
	return "soft"
}

// NewInstance connects to the driver
func (d *Driver) NewInstance(info device.InstanceInfo) (device.Instance, error) {
	if d.Unavailable {
		return nil, errors.Wrap(device.ErrorInitializationFailed, "soft: loader unavailable")
	}
	if info.APIVersion != 0 && info.APIVersion.Major() > d.apiVersion().Major() {
		return nil, errors.Wrapf(device.ErrorIncompatibleDriver, "soft: api version %s requested", info.APIVersion)
	}

	inst := &instance{driver: d}
	if info.Debug {
		if contains(d.AvailableLayers, ValidationLayer) {
			inst.layers = append(inst.layers, ValidationLayer)
		}
		if contains(d.AvailableExtensions, DebugReportExtension) {
			inst.extensions = append(inst.extensions, DebugReportExtension)
		}
	}

	for i, a := range d.Adapters {
		inst.physical = append(inst.physical, &physicalDevice{
			instance: inst,
			info:     snapshot(i, a.Info),
			faults:   a.Faults,
		})
	}
	d.Journal.record("create instance")
	return inst, nil
}

func (d *Driver) apiVersion() device.Version {
	if d.APIVersion == 0 {
		return DefaultAPIVersion
	}
	return d.APIVersion
}

type instance struct {
	driver     *Driver
	layers     []string
	extensions []string
	physical   []*physicalDevice
}

func (i *instance) APIVersion() device.Version {
	return i.driver.apiVersion()
}

func (i *instance) Layers() []string {
	return append([]string(nil), i.layers...)
}

func (i *instance) Extensions() []string {
	return append([]string(nil), i.extensions...)
}

func (i *instance) PhysicalDevices() ([]device.PhysicalDevice, error) {
	out := make([]device.PhysicalDevice, len(i.physical))
	for n, p := range i.physical {
		out[n] = p
	}
	return out, nil
}

func (i *instance) Destroy() {
	i.driver.Journal.record("destroy instance")
}

type physicalDevice struct {
	instance *instance
	info     device.PhysicalDeviceInfo
	faults   Faults
}

func (p *physicalDevice) Info() device.PhysicalDeviceInfo {
	return snapshot(p.info.ID, p.info)
}

func (p *physicalDevice) NewDevice(family int, extensions []string) (device.Device, error) {
	if p.faults.RejectDevice {
		return nil, errors.Wrap(device.ErrorInitializationFailed, "soft: device creation rejected")
	}
	if family < 0 || family >= len(p.info.QueueFamilies) || p.info.QueueFamilies[family].Count == 0 {
		return nil, errors.Wrapf(device.ErrorFeatureNotPresent, "soft: no queue family %d", family)
	}
	for _, ext := range extensions {
		if !p.info.HasExtension(ext) {
			return nil, errors.Wrapf(device.ErrorExtensionNotPresent, "soft: %s", ext)
		}
	}
	d := newDevice(p, p.info.QueueFamilies[family])
	p.instance.driver.Journal.record("create device")
	return d, nil
}

func snapshot(id int, info device.PhysicalDeviceInfo) device.PhysicalDeviceInfo {
	out := info
	if out.ID == 0 {
		out.ID = id
	}
	out.Extensions = append([]string(nil), info.Extensions...)
	out.Layers = append([]string(nil), info.Layers...)
	out.Heaps = append([]device.MemoryHeap(nil), info.Heaps...)
	out.QueueFamilies = make([]device.QueueFamily, len(info.QueueFamilies))
	for i, qf := range info.QueueFamilies {
		qf.Index = i
		out.QueueFamilies[i] = qf
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Journal records object lifecycle events in the order they happen
type Journal struct {
	mu      sync.Mutex
	entries []string
}

// Entries returns a copy of everything recorded so far
func (j *Journal) Entries() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (j *Journal) record(entry string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.entries = append(j.entries, entry)
	j.mu.Unlock()
}
