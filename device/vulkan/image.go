// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	"image/color"
	"unsafe"

	vk "github.com/devblok/vulkan"
	"github.com/pkg/errors"

	"github.com/devblok/vkengine/device"
)

// ImageFormat is the format of images created by NewImage,
// laid out the same as image.RGBA pixels
const ImageFormat = vk.FormatR8g8b8a8Unorm

// Image is a device local 2D color image with a view over it.
// It remembers the layout and last access recorded on it, so that
// helpers can record the barriers between uses.
type Image struct {
	device vk.Device
	handle vk.Image
	memory vk.DeviceMemory
	view   vk.ImageView
	width  int
	height int

	layout vk.ImageLayout
	access vk.AccessFlagBits
	stage  vk.PipelineStageFlagBits
}

// NewImage creates an image usable as a color attachment and
// as the source or destination of transfers
func (d *Device) NewImage(width, height int) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Wrapf(device.ErrorInitializationFailed, "invalid image size %dx%d", width, height)
	}
	ici := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    ImageFormat,
		Extent: vk.Extent3D{
			Width:  uint32(width),
			Height: uint32(height),
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	img := &Image{
		device: d.handle,
		width:  width,
		height: height,
		layout: vk.ImageLayoutUndefined,
		stage:  vk.PipelineStageTopOfPipeBit,
	}
	if err := check(vk.CreateImage(d.handle, &ici, nil, &img.handle), "vk.CreateImage()"); err != nil {
		return nil, err
	}

	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.handle, img.handle, &req)
	req.Deref()

	memType, err := d.findMemoryType(req.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		vk.DestroyImage(d.handle, img.handle, nil)
		return nil, err
	}
	mai := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: memType,
	}
	if err := check(vk.AllocateMemory(d.handle, &mai, nil, &img.memory), "vk.AllocateMemory()"); err != nil {
		vk.DestroyImage(d.handle, img.handle, nil)
		return nil, err
	}
	if err := check(vk.BindImageMemory(d.handle, img.handle, img.memory, 0), "vk.BindImageMemory()"); err != nil {
		vk.FreeMemory(d.handle, img.memory, nil)
		vk.DestroyImage(d.handle, img.handle, nil)
		return nil, err
	}

	ivci := vk.ImageViewCreateInfo{
		SType:            vk.StructureTypeImageViewCreateInfo,
		Image:            img.handle,
		ViewType:         vk.ImageViewType2d,
		Format:           ImageFormat,
		SubresourceRange: colorRange(),
	}
	if err := check(vk.CreateImageView(d.handle, &ivci, nil, &img.view), "vk.CreateImageView()"); err != nil {
		vk.FreeMemory(d.handle, img.memory, nil)
		vk.DestroyImage(d.handle, img.handle, nil)
		return nil, err
	}
	return img, nil
}

// Width of the image in pixels
func (img *Image) Width() int {
	return img.width
}

// Height of the image in pixels
func (img *Image) Height() int {
	return img.height
}

// Release destroys the view, the image and its memory
func (img *Image) Release() {
	vk.DestroyImageView(img.device, img.view, nil)
	vk.DestroyImage(img.device, img.handle, nil)
	vk.FreeMemory(img.device, img.memory, nil)
}

func colorRange() vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
		BaseMipLevel:   0,
		LevelCount:     1,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
}

// transition records a barrier from the last recorded use of the image
// to a use in stage with the given layout and access
func (img *Image) transition(cmd vk.CommandBuffer, layout vk.ImageLayout, access vk.AccessFlagBits, stage vk.PipelineStageFlagBits) {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(img.access),
		DstAccessMask:       vk.AccessFlags(access),
		OldLayout:           img.layout,
		NewLayout:           layout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img.handle,
		SubresourceRange:    colorRange(),
	}
	vk.CmdPipelineBarrier(cmd, vk.PipelineStageFlags(img.stage), vk.PipelineStageFlags(stage),
		0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
	img.recorded(layout, access, stage)
}

func (img *Image) recorded(layout vk.ImageLayout, access vk.AccessFlagBits, stage vk.PipelineStageFlagBits) {
	img.layout, img.access, img.stage = layout, access, stage
}

// clearColor converts c into the float channels of an unorm clear value
func clearColor(c color.Color) [4]float32 {
	r, g, b, a := c.RGBA()
	return [4]float32{
		float32(r) / 0xffff,
		float32(g) / 0xffff,
		float32(b) / 0xffff,
		float32(a) / 0xffff,
	}
}

// ClearImage records filling the whole image with c
func ClearImage(cmd vk.CommandBuffer, img *Image, c color.Color) {
	img.transition(cmd, vk.ImageLayoutTransferDstOptimal, vk.AccessTransferWriteBit, vk.PipelineStageTransferBit)

	var value vk.ClearColorValue
	*(*[4]float32)(unsafe.Pointer(&value)) = clearColor(c)
	vk.CmdClearColorImage(cmd, img.handle, vk.ImageLayoutTransferDstOptimal, &value, 1, []vk.ImageSubresourceRange{colorRange()})
}

// CopyImageToBuffer records copying the image into dst as tightly packed
// RGBA rows, readable by the host once the submission completes
func CopyImageToBuffer(cmd vk.CommandBuffer, img *Image, dst *Buffer) {
	img.transition(cmd, vk.ImageLayoutTransferSrcOptimal, vk.AccessTransferReadBit, vk.PipelineStageTransferBit)

	region := vk.BufferImageCopy{
		BufferOffset: 0,
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevel:       0,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
		ImageExtent: vk.Extent3D{
			Width:  uint32(img.width),
			Height: uint32(img.height),
			Depth:  1,
		},
	}
	vk.CmdCopyImageToBuffer(cmd, img.handle, vk.ImageLayoutTransferSrcOptimal, dst.handle, 1, []vk.BufferImageCopy{region})
	hostBarrier(cmd, vk.PipelineStageTransferBit, vk.AccessTransferWriteBit, dst)
}
