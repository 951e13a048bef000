// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	vk "github.com/devblok/vulkan"

	"github.com/devblok/vkengine/device"
)

type physicalDevice struct {
	handle vk.PhysicalDevice
	info   device.PhysicalDeviceInfo
}

func (p *physicalDevice) Info() device.PhysicalDeviceInfo {
	info := p.info
	info.Extensions = append([]string(nil), p.info.Extensions...)
	info.Layers = append([]string(nil), p.info.Layers...)
	info.Heaps = append([]device.MemoryHeap(nil), p.info.Heaps...)
	info.QueueFamilies = append([]device.QueueFamily(nil), p.info.QueueFamilies...)
	return info
}

// physicalDeviceInfo captures everything selection and reporting need.
// Failed queries mark the snapshot invalid instead of failing enumeration.
func physicalDeviceInfo(pd vk.PhysicalDevice) device.PhysicalDeviceInfo {
	var info device.PhysicalDeviceInfo

	// Get extension info
	var numDeviceExtensions uint32
	if err := check(vk.EnumerateDeviceExtensionProperties(pd, "", &numDeviceExtensions, nil), ""); err != nil {
		info.Invalid = true
	}
	deviceExt := make([]vk.ExtensionProperties, numDeviceExtensions)
	if err := check(vk.EnumerateDeviceExtensionProperties(pd, "", &numDeviceExtensions, deviceExt), ""); err != nil {
		info.Invalid = true
	}
	for _, ext := range deviceExt {
		ext.Deref()
		info.Extensions = append(info.Extensions, vk.ToString(ext.ExtensionName[:]))
	}

	// Get layers info
	var numDeviceLayers uint32
	if err := check(vk.EnumerateDeviceLayerProperties(pd, &numDeviceLayers, nil), ""); err != nil {
		info.Invalid = true
	}
	deviceLayers := make([]vk.LayerProperties, numDeviceLayers)
	if err := check(vk.EnumerateDeviceLayerProperties(pd, &numDeviceLayers, deviceLayers), ""); err != nil {
		info.Invalid = true
	}
	for _, layer := range deviceLayers {
		layer.Deref()
		info.Layers = append(info.Layers, vk.ToString(layer.LayerName[:]))
	}

	// Get memory info
	var memoryProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(pd, &memoryProperties)
	memoryProperties.Deref()
	for i := uint32(0); i < memoryProperties.MemoryHeapCount; i++ {
		heap := memoryProperties.MemoryHeaps[i]
		heap.Deref()
		info.Memory += uint64(heap.Size)
		info.Heaps = append(info.Heaps, device.MemoryHeap{
			Size:        uint64(heap.Size),
			DeviceLocal: heap.Flags&vk.MemoryHeapFlags(vk.MemoryHeapDeviceLocalBit) != 0,
		})
	}

	// Get general device info
	var properties vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(pd, &properties)
	properties.Deref()
	info.ID = int(properties.DeviceID)
	info.VendorID = int(properties.VendorID)
	info.Name = vk.ToString(properties.DeviceName[:])
	info.DriverVersion = device.Version(properties.DriverVersion)
	info.APIVersion = device.Version(properties.ApiVersion)
	info.Type = deviceType(properties.DeviceType)

	// Get queue families
	var numFamilies uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &numFamilies, nil)
	families := make([]vk.QueueFamilyProperties, numFamilies)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &numFamilies, families)
	for i := range families {
		families[i].Deref()
		info.QueueFamilies = append(info.QueueFamilies, device.QueueFamily{
			Index: i,
			Flags: queueFlags(families[i].QueueFlags),
			Count: int(families[i].QueueCount),
		})
	}
	return info
}

func deviceType(t vk.PhysicalDeviceType) device.Type {
	switch t {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return device.TypeIntegrated
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return device.TypeDiscrete
	case vk.PhysicalDeviceTypeVirtualGpu:
		return device.TypeVirtual
	case vk.PhysicalDeviceTypeCpu:
		return device.TypeCPU
	}
	return device.TypeOther
}

func queueFlags(f vk.QueueFlags) device.QueueFlags {
	var out device.QueueFlags
	if f&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
		out |= device.QueueGraphics
	}
	if f&vk.QueueFlags(vk.QueueComputeBit) != 0 {
		out |= device.QueueCompute
	}
	if f&vk.QueueFlags(vk.QueueTransferBit) != 0 {
		out |= device.QueueTransfer
	}
	return out
}

// NewDevice creates a logical device with one queue at priority 1.0
func (p *physicalDevice) NewDevice(family int, extensions []string) (device.Device, error) {
	queueInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: uint32(family),
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}
	dci := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: safeStrings(extensions),
	}

	var handle vk.Device
	if err := check(vk.CreateDevice(p.handle, &dci, nil, &handle), "vk.CreateDevice()"); err != nil {
		return nil, err
	}

	var q vk.Queue
	vk.GetDeviceQueue(handle, uint32(family), 0, &q)

	d := &Device{
		physical: p,
		handle:   handle,
		family:   family,
	}
	d.queue = &queue{device: d, handle: q}
	return d, nil
}
