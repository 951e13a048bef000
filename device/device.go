// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package device describes the driver surface the engine is built on.
// A driver exposes instances, enumerates physical devices as immutable
// snapshots and creates logical devices with a single queue.
package device

import (
	"strconv"
	"time"
)

// Type classifies a physical device
type Type int

// Physical device types, in the order the API reports them
const (
	TypeOther Type = iota
	TypeIntegrated
	TypeDiscrete
	TypeVirtual
	TypeCPU
)

var typeNames = [...]string{
	TypeOther:      "other",
	TypeIntegrated: "integrated",
	TypeDiscrete:   "discrete",
	TypeVirtual:    "virtual",
	TypeCPU:        "cpu",
}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return "unknown"
	}
	return typeNames[t]
}

// MarshalText makes the type readable in reports
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// QueueFlags is a set of capabilities of a queue family
type QueueFlags uint32

// Queue capabilities, bit compatible with VkQueueFlagBits
const (
	QueueGraphics QueueFlags = 1 << iota
	QueueCompute
	QueueTransfer
)

// Has reports whether every flag in want is present
func (f QueueFlags) Has(want QueueFlags) bool {
	return f&want == want
}

// Count returns the number of capabilities set
func (f QueueFlags) Count() int {
	n := 0
	for v := f; v != 0; v &= v - 1 {
		n++
	}
	return n
}

func (f QueueFlags) String() string {
	if f == 0 {
		return "none"
	}
	s := ""
	add := func(name string) {
		if s != "" {
			s += "|"
		}
		s += name
	}
	if f.Has(QueueGraphics) {
		add("graphics")
	}
	if f.Has(QueueCompute) {
		add("compute")
	}
	if f.Has(QueueTransfer) {
		add("transfer")
	}
	return s
}

// MarshalText makes the flags readable in reports
func (f QueueFlags) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// Version is a packed major.minor.patch version number
type Version uint32

// MakeVersion packs a version the same way the API does
func MakeVersion(major, minor, patch uint32) Version {
	return Version(major<<22 | minor<<12 | patch)
}

// Major version number
func (v Version) Major() uint32 { return uint32(v) >> 22 }

// Minor version number
func (v Version) Minor() uint32 { return (uint32(v) >> 12) & 0x3ff }

// Patch version number
func (v Version) Patch() uint32 { return uint32(v) & 0xfff }

func (v Version) String() string {
	return strconv.FormatUint(uint64(v.Major()), 10) + "." +
		strconv.FormatUint(uint64(v.Minor()), 10) + "." +
		strconv.FormatUint(uint64(v.Patch()), 10)
}

// MarshalText makes the version readable in reports
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// QueueFamily describes one queue family of a physical device
type QueueFamily struct {
	Index int
	Flags QueueFlags
	Count int
}

// MemoryHeap describes a memory heap of a physical device
type MemoryHeap struct {
	Size        uint64
	DeviceLocal bool
}

// PhysicalDeviceInfo describes available physical properties of a device.
// It is captured once at enumeration and never changes afterwards.
type PhysicalDeviceInfo struct {
	ID            int
	VendorID      int
	Name          string
	Type          Type
	DriverVersion Version
	APIVersion    Version
	Invalid       bool
	Extensions    []string
	Layers        []string
	Memory        uint64
	Heaps         []MemoryHeap
	QueueFamilies []QueueFamily
}

// HasExtension reports whether the device advertises the named extension
func (i PhysicalDeviceInfo) HasExtension(name string) bool {
	for _, ext := range i.Extensions {
		if ext == name {
			return true
		}
	}
	return false
}

// InstanceInfo is used to create an instance
type InstanceInfo struct {
	ApplicationName    string
	ApplicationVersion Version
	EngineName         string
	APIVersion         Version

	// Debug turns on validation layers and debug reporting
	// when the driver has them available
	Debug bool
}

// Driver is an entry point into an implementation of the API
type Driver interface {
	Name() string
	NewInstance(InstanceInfo) (Instance, error)
}

// Instance is a connection to the driver
type Instance interface {
	APIVersion() Version
	Layers() []string
	Extensions() []string
	PhysicalDevices() ([]PhysicalDevice, error)
	Destroy()
}

// PhysicalDevice is an enumerated device that a logical device can be made from
type PhysicalDevice interface {
	Info() PhysicalDeviceInfo

	// NewDevice creates a logical device with exactly one queue
	// at priority 1.0 from the given family
	NewDevice(family int, extensions []string) (Device, error)
}

// Device is a logical device
type Device interface {
	Queue() Queue
	NewCommandPool() (CommandPool, error)
	WaitIdle() error
	Destroy()
}

// Queue accepts command buffers for execution
type Queue interface {
	Family() int
	Submit(CommandBuffer) (Fence, error)
}

// Fence signals completion of a single submission
type Fence interface {
	// Wait blocks until the fence is signaled or timeout passes,
	// in which case the returned error carries Timeout
	Wait(timeout time.Duration) error
	Destroy()
}

// CommandPool allocates command buffers bound to one queue family
type CommandPool interface {
	Family() int
	Allocate() (CommandBuffer, error)
	Free(CommandBuffer)
	Destroy()
}

// CommandBuffer is a primary one-time-submit command buffer
type CommandBuffer interface {
	Begin() error
	End() error

	// Handle returns the driver native object commands are recorded into
	Handle() interface{}
}
