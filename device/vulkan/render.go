// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	"bytes"
	"encoding/binary"
	"image/color"
	"unsafe"

	vk "github.com/devblok/vulkan"
	"github.com/go-gl/mathgl/mgl32"
)

// Vertex is the vertex layout graphics pipelines read, a position in
// device coordinates followed by an RGBA color
type Vertex struct {
	Position mgl32.Vec2
	Color    mgl32.Vec4
}

func vertexBindingDescriptions() []vk.VertexInputBindingDescription {
	return []vk.VertexInputBindingDescription{{
		Binding:   0,
		Stride:    uint32(unsafe.Sizeof(Vertex{})),
		InputRate: vk.VertexInputRateVertex,
	}}
}

func vertexAttributeDescriptions() []vk.VertexInputAttributeDescription {
	return []vk.VertexInputAttributeDescription{
		{
			Binding:  0,
			Location: 0,
			Format:   vk.FormatR32g32Sfloat,
			Offset:   uint32(unsafe.Offsetof(Vertex{}.Position)),
		},
		{
			Binding:  0,
			Location: 1,
			Format:   vk.FormatR32g32b32a32Sfloat,
			Offset:   uint32(unsafe.Offsetof(Vertex{}.Color)),
		},
	}
}

// NewVertexBuffer creates a buffer holding the given vertices
func (d *Device) NewVertexBuffer(vertices []Vertex) (*Buffer, error) {
	var data bytes.Buffer
	if err := binary.Write(&data, binary.LittleEndian, vertices); err != nil {
		return nil, err
	}
	buf, err := d.NewBuffer(data.Len())
	if err != nil {
		return nil, err
	}
	if err := buf.Write(data.Bytes()); err != nil {
		buf.Release()
		return nil, err
	}
	return buf, nil
}

// RenderPass renders into a single color image, which is cleared when
// the pass begins and left ready to be copied from when it ends
type RenderPass struct {
	device      vk.Device
	target      *Image
	handle      vk.RenderPass
	framebuffer vk.Framebuffer
}

// NewRenderPass creates an offscreen render pass with a framebuffer over target
func (d *Device) NewRenderPass(target *Image) (*RenderPass, error) {
	attachments := []vk.AttachmentDescription{{
		Format:         ImageFormat,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutTransferSrcOptimal,
	}}
	colorAttachmentRef := []vk.AttachmentReference{{
		Attachment: 0,
		Layout:     vk.ImageLayoutColorAttachmentOptimal,
	}}
	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorAttachmentRef)),
		PColorAttachments:    colorAttachmentRef,
	}
	dependencies := []vk.SubpassDependency{
		{
			SrcSubpass:    vk.SubpassExternal,
			DstSubpass:    0,
			SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageTransferBit),
			SrcAccessMask: vk.AccessFlags(vk.AccessTransferReadBit | vk.AccessTransferWriteBit),
			DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
		},
		{
			SrcSubpass:    0,
			DstSubpass:    vk.SubpassExternal,
			SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			SrcAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
			DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			DstAccessMask: vk.AccessFlags(vk.AccessTransferReadBit),
		},
	}
	rpci := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: uint32(len(dependencies)),
		PDependencies:   dependencies,
	}

	rp := &RenderPass{device: d.handle, target: target}
	if err := check(vk.CreateRenderPass(d.handle, &rpci, nil, &rp.handle), "vk.CreateRenderPass()"); err != nil {
		return nil, err
	}

	fci := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      rp.handle,
		AttachmentCount: 1,
		PAttachments:    []vk.ImageView{target.view},
		Width:           uint32(target.width),
		Height:          uint32(target.height),
		Layers:          1,
	}
	if err := check(vk.CreateFramebuffer(d.handle, &fci, nil, &rp.framebuffer), "vk.CreateFramebuffer()"); err != nil {
		vk.DestroyRenderPass(d.handle, rp.handle, nil)
		return nil, err
	}
	return rp, nil
}

// Begin records the start of the pass, clearing the target to c
// and covering it with the viewport
func (rp *RenderPass) Begin(cmd vk.CommandBuffer, c color.Color) {
	cc := clearColor(c)
	w, h := uint32(rp.target.width), uint32(rp.target.height)
	area := vk.Rect2D{
		Offset: vk.Offset2D{X: 0, Y: 0},
		Extent: vk.Extent2D{Width: w, Height: h},
	}
	rpbi := vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      rp.handle,
		Framebuffer:     rp.framebuffer,
		RenderArea:      area,
		ClearValueCount: 1,
		PClearValues:    []vk.ClearValue{vk.NewClearValue(cc[:])},
	}
	vk.CmdBeginRenderPass(cmd, &rpbi, vk.SubpassContentsInline)
	vk.CmdSetViewport(cmd, 0, 1, []vk.Viewport{{
		Width:    float32(w),
		Height:   float32(h),
		MinDepth: 0,
		MaxDepth: 1,
	}})
	vk.CmdSetScissor(cmd, 0, 1, []vk.Rect2D{area})
}

// End records the end of the pass. The target is left in the
// transfer source layout.
func (rp *RenderPass) End(cmd vk.CommandBuffer) {
	vk.CmdEndRenderPass(cmd)
	rp.target.recorded(vk.ImageLayoutTransferSrcOptimal, vk.AccessTransferReadBit, vk.PipelineStageTransferBit)
}

// Release destroys the framebuffer and the render pass, the target is not released
func (rp *RenderPass) Release() {
	vk.DestroyFramebuffer(rp.device, rp.framebuffer, nil)
	vk.DestroyRenderPass(rp.device, rp.handle, nil)
}

// GraphicsPipeline draws colored triangles with a vertex and fragment shader
type GraphicsPipeline struct {
	device   vk.Device
	layout   vk.PipelineLayout
	pipeline vk.Pipeline
}

// NewGraphicsPipeline builds a pipeline for rp from SPIR-V vertex and fragment
// shaders with "main" entry points, reading vertices laid out as Vertex
func (d *Device) NewGraphicsPipeline(rp *RenderPass, vert, frag []byte) (*GraphicsPipeline, error) {
	vertModule, err := d.shaderModule(vert)
	if err != nil {
		return nil, err
	}
	defer vk.DestroyShaderModule(d.handle, vertModule, nil)
	fragModule, err := d.shaderModule(frag)
	if err != nil {
		return nil, err
	}
	defer vk.DestroyShaderModule(d.handle, fragModule, nil)

	gp := &GraphicsPipeline{device: d.handle}
	plci := vk.PipelineLayoutCreateInfo{
		SType: vk.StructureTypePipelineLayoutCreateInfo,
	}
	if err := check(vk.CreatePipelineLayout(d.handle, &plci, nil, &gp.layout), "vk.CreatePipelineLayout()"); err != nil {
		return nil, err
	}

	stages := []vk.PipelineShaderStageCreateInfo{
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageVertexBit,
			Module: vertModule,
			PName:  safeString("main"),
		},
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFragmentBit,
			Module: fragModule,
			PName:  safeString("main"),
		},
	}
	attributes := vertexAttributeDescriptions()
	bindings := vertexBindingDescriptions()

	gpci := []vk.GraphicsPipelineCreateInfo{{
		SType:      vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount: uint32(len(stages)),
		PStages:    stages,
		PVertexInputState: &vk.PipelineVertexInputStateCreateInfo{
			SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
			VertexAttributeDescriptionCount: uint32(len(attributes)),
			PVertexAttributeDescriptions:    attributes,
			VertexBindingDescriptionCount:   uint32(len(bindings)),
			PVertexBindingDescriptions:      bindings,
		},
		PInputAssemblyState: &vk.PipelineInputAssemblyStateCreateInfo{
			SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
			Topology: vk.PrimitiveTopologyTriangleList,
		},
		PViewportState: &vk.PipelineViewportStateCreateInfo{
			SType:         vk.StructureTypePipelineViewportStateCreateInfo,
			ViewportCount: 1,
			ScissorCount:  1,
		},
		PRasterizationState: &vk.PipelineRasterizationStateCreateInfo{
			SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
			PolygonMode: vk.PolygonModeFill,
			CullMode:    vk.CullModeFlags(vk.CullModeNone),
			FrontFace:   vk.FrontFaceCounterClockwise,
			LineWidth:   1.0,
		},
		PMultisampleState: &vk.PipelineMultisampleStateCreateInfo{
			SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
			RasterizationSamples: vk.SampleCount1Bit,
		},
		PColorBlendState: &vk.PipelineColorBlendStateCreateInfo{
			SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
			AttachmentCount: 1,
			PAttachments: []vk.PipelineColorBlendAttachmentState{{
				ColorWriteMask: 0xF,
				BlendEnable:    vk.False,
			}},
		},
		PDynamicState: &vk.PipelineDynamicStateCreateInfo{
			SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
			DynamicStateCount: 2,
			PDynamicStates: []vk.DynamicState{
				vk.DynamicStateScissor,
				vk.DynamicStateViewport,
			},
		},
		Layout:     gp.layout,
		RenderPass: rp.handle,
	}}

	var cache vk.PipelineCache
	pipelines := make([]vk.Pipeline, len(gpci))
	if err := check(vk.CreateGraphicsPipelines(d.handle, cache, uint32(len(gpci)), gpci, nil, pipelines), "vk.CreateGraphicsPipelines()"); err != nil {
		vk.DestroyPipelineLayout(d.handle, gp.layout, nil)
		return nil, err
	}
	gp.pipeline = pipelines[0]
	return gp, nil
}

// Draw records drawing count vertices from vertices as a triangle list.
// It must be recorded between Begin and End of the pass it was built for.
func (gp *GraphicsPipeline) Draw(cmd vk.CommandBuffer, vertices *Buffer, count int) {
	vk.CmdBindPipeline(cmd, vk.PipelineBindPointGraphics, gp.pipeline)
	vk.CmdBindVertexBuffers(cmd, 0, 1, []vk.Buffer{vertices.handle}, []vk.DeviceSize{0})
	vk.CmdDraw(cmd, uint32(count), 1, 0, 0)
}

// Release destroys the pipeline and its layout
func (gp *GraphicsPipeline) Release() {
	vk.DestroyPipeline(gp.device, gp.pipeline, nil)
	vk.DestroyPipelineLayout(gp.device, gp.layout, nil)
}
