// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	"unsafe"

	vk "github.com/devblok/vulkan"
	"github.com/pkg/errors"

	"github.com/devblok/vkengine/device"
)

// findMemoryType looks up a memory type allowed by filter with all the given properties
func (d *Device) findMemoryType(filter uint32, prop vk.MemoryPropertyFlags) (uint32, error) {
	var memProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(d.physical.handle, &memProperties)
	memProperties.Deref()

	for idx := uint32(0); idx < memProperties.MemoryTypeCount; idx++ {
		memProperties.MemoryTypes[idx].Deref()
		if filter&(1<<idx) != 0 && (memProperties.MemoryTypes[idx].PropertyFlags&prop) == prop {
			return idx, nil
		}
	}
	return 0, errors.Wrap(device.ErrorOutOfDeviceMemory, "suitable memory type not found")
}

// Buffer is a host visible, host coherent buffer
type Buffer struct {
	device vk.Device
	handle vk.Buffer
	memory vk.DeviceMemory
	size   int
}

// NewBuffer creates, allocates and binds a buffer the host can read and write.
// Storage, vertex and transfer usage is always enabled.
func (d *Device) NewBuffer(size int) (*Buffer, error) {
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit | vk.BufferUsageVertexBufferBit | vk.BufferUsageTransferSrcBit | vk.BufferUsageTransferDstBit),
		SharingMode: vk.SharingModeExclusive,
	}
	var buffer vk.Buffer
	if err := check(vk.CreateBuffer(d.handle, &createInfo, nil, &buffer), "vk.CreateBuffer()"); err != nil {
		return nil, err
	}

	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.handle, buffer, &req)
	req.Deref()

	memType, err := d.findMemoryType(req.MemoryTypeBits,
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		vk.DestroyBuffer(d.handle, buffer, nil)
		return nil, err
	}

	mai := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: memType,
	}
	var memory vk.DeviceMemory
	if err := check(vk.AllocateMemory(d.handle, &mai, nil, &memory), "vk.AllocateMemory()"); err != nil {
		vk.DestroyBuffer(d.handle, buffer, nil)
		return nil, err
	}
	if err := check(vk.BindBufferMemory(d.handle, buffer, memory, 0), "vk.BindBufferMemory()"); err != nil {
		vk.FreeMemory(d.handle, memory, nil)
		vk.DestroyBuffer(d.handle, buffer, nil)
		return nil, err
	}

	return &Buffer{
		device: d.handle,
		handle: buffer,
		memory: memory,
		size:   size,
	}, nil
}

// Handle returns the vulkan buffer handle
func (b *Buffer) Handle() vk.Buffer {
	return b.handle
}

// Len returns the size of the buffer in bytes
func (b *Buffer) Len() int {
	return b.size
}

func (b *Buffer) mapped(fn func(mem []byte)) error {
	var ptr unsafe.Pointer
	if err := check(vk.MapMemory(b.device, b.memory, 0, vk.DeviceSize(b.size), 0, &ptr), "vk.MapMemory()"); err != nil {
		return err
	}
	fn(unsafe.Slice((*byte)(ptr), b.size))
	vk.UnmapMemory(b.device, b.memory)
	return nil
}

// Write copies data to the start of the buffer
func (b *Buffer) Write(data []byte) error {
	return b.mapped(func(mem []byte) {
		copy(mem, data)
	})
}

// Read copies the buffer contents into out
func (b *Buffer) Read(out []byte) error {
	return b.mapped(func(mem []byte) {
		copy(out, mem)
	})
}

// Release destroys the buffer and frees its memory
func (b *Buffer) Release() {
	vk.DestroyBuffer(b.device, b.handle, nil)
	vk.FreeMemory(b.device, b.memory, nil)
}

// CopyBuffer records a copy of size bytes from src to dst
func CopyBuffer(cmd vk.CommandBuffer, src, dst *Buffer, size int) {
	bc := vk.BufferCopy{
		SrcOffset: 0,
		DstOffset: 0,
		Size:      vk.DeviceSize(size),
	}
	vk.CmdCopyBuffer(cmd, src.handle, dst.handle, 1, []vk.BufferCopy{bc})
	hostBarrier(cmd, vk.PipelineStageTransferBit, vk.AccessTransferWriteBit, dst)
}

// hostBarrier makes writes done by stage to the buffers visible to host reads
// once the submission's fence signals
func hostBarrier(cmd vk.CommandBuffer, stage vk.PipelineStageFlagBits, access vk.AccessFlagBits, buffers ...*Buffer) {
	if len(buffers) == 0 {
		return
	}
	barriers := make([]vk.BufferMemoryBarrier, len(buffers))
	for i, b := range buffers {
		barriers[i] = vk.BufferMemoryBarrier{
			SType:               vk.StructureTypeBufferMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(access),
			DstAccessMask:       vk.AccessFlags(vk.AccessHostReadBit),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Buffer:              b.handle,
			Offset:              0,
			Size:                vk.DeviceSize(vk.WholeSize),
		}
	}
	vk.CmdPipelineBarrier(cmd, vk.PipelineStageFlags(stage), vk.PipelineStageFlags(vk.PipelineStageHostBit),
		0, 0, nil, uint32(len(barriers)), barriers, 0, nil)
}
