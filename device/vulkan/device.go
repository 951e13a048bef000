// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	"time"

	vk "github.com/devblok/vulkan"
	"github.com/pkg/errors"

	"github.com/devblok/vkengine/device"
)

// Device is a Vulkan logical device with a single queue
type Device struct {
	physical *physicalDevice
	handle   vk.Device
	family   int
	queue    *queue
}

// Handle returns the Vulkan device handle
func (d *Device) Handle() vk.Device {
	return d.handle
}

// PhysicalHandle returns the Vulkan physical device handle
func (d *Device) PhysicalHandle() vk.PhysicalDevice {
	return d.physical.handle
}

// Queue returns the only queue of the device
func (d *Device) Queue() device.Queue {
	return d.queue
}

// NewCommandPool creates a pool for short lived command buffers
func (d *Device) NewCommandPool() (device.CommandPool, error) {
	cpci := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit | vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: uint32(d.family),
	}
	var pool vk.CommandPool
	if err := check(vk.CreateCommandPool(d.handle, &cpci, nil, &pool), "vk.CreateCommandPool()"); err != nil {
		return nil, err
	}
	return &commandPool{device: d, handle: pool}, nil
}

// WaitIdle waits for the device to finish all work
func (d *Device) WaitIdle() error {
	return check(vk.DeviceWaitIdle(d.handle), "vk.DeviceWaitIdle()")
}

// Destroy destroys the device, together with its queue
func (d *Device) Destroy() {
	vk.DestroyDevice(d.handle, nil)
}

type queue struct {
	device *Device
	handle vk.Queue
}

func (q *queue) Family() int {
	return q.device.family
}

// Submit submits one command buffer with a fresh fence to signal on
func (q *queue) Submit(buf device.CommandBuffer) (device.Fence, error) {
	cb, ok := buf.(*commandBuffer)
	if !ok {
		return nil, errors.Wrap(device.ErrorUnknown, "vk.QueueSubmit(): foreign command buffer")
	}

	fci := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	var f vk.Fence
	if err := check(vk.CreateFence(q.device.handle, &fci, nil, &f), "vk.CreateFence()"); err != nil {
		return nil, err
	}

	submit := []vk.SubmitInfo{{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cb.handle},
	}}
	if err := check(vk.QueueSubmit(q.handle, 1, submit, f), "vk.QueueSubmit()"); err != nil {
		vk.DestroyFence(q.device.handle, f, nil)
		return nil, err
	}
	return &fence{device: q.device.handle, handle: f}, nil
}

type fence struct {
	device vk.Device
	handle vk.Fence
}

func (f *fence) Wait(timeout time.Duration) error {
	if timeout < 0 {
		timeout = 0
	}
	ret := vk.WaitForFences(f.device, 1, []vk.Fence{f.handle}, vk.True, uint(timeout.Nanoseconds()))
	if ret == vk.Timeout {
		return device.Timeout
	}
	return check(ret, "vk.WaitForFences()")
}

func (f *fence) Destroy() {
	vk.DestroyFence(f.device, f.handle, nil)
}

type commandPool struct {
	device *Device
	handle vk.CommandPool
}

func (p *commandPool) Family() int {
	return p.device.family
}

func (p *commandPool) Allocate() (device.CommandBuffer, error) {
	cbai := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p.handle,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	buffers := make([]vk.CommandBuffer, 1)
	if err := check(vk.AllocateCommandBuffers(p.device.handle, &cbai, buffers), "vk.AllocateCommandBuffers()"); err != nil {
		return nil, err
	}
	return &commandBuffer{pool: p, handle: buffers[0]}, nil
}

func (p *commandPool) Free(buf device.CommandBuffer) {
	if cb, ok := buf.(*commandBuffer); ok {
		vk.FreeCommandBuffers(p.device.handle, p.handle, 1, []vk.CommandBuffer{cb.handle})
	}
}

func (p *commandPool) Destroy() {
	vk.DestroyCommandPool(p.device.handle, p.handle, nil)
}

type commandBuffer struct {
	pool   *commandPool
	handle vk.CommandBuffer
}

func (cb *commandBuffer) Begin() error {
	cbbi := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	return check(vk.BeginCommandBuffer(cb.handle, &cbbi), "vk.BeginCommandBuffer()")
}

func (cb *commandBuffer) End() error {
	return check(vk.EndCommandBuffer(cb.handle), "vk.EndCommandBuffer()")
}

// Handle returns the vk.CommandBuffer to record into
func (cb *commandBuffer) Handle() interface{} {
	return cb.handle
}
