// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	vk "github.com/devblok/vulkan"
	"github.com/pkg/errors"

	"github.com/devblok/vkengine/device"
)

// ComputePipeline is a compute shader with a single descriptor set of
// storage buffers, bound at consecutive bindings starting from 0
type ComputePipeline struct {
	device    vk.Device
	module    vk.ShaderModule
	setLayout vk.DescriptorSetLayout
	layout    vk.PipelineLayout
	pipeline  vk.Pipeline
	pool      vk.DescriptorPool
	set       vk.DescriptorSet
	bindings  int
	bound     []*Buffer

	// destroyers run in reverse creation order on Release
	destroyers []func()
}

// NewComputePipeline builds a pipeline from SPIR-V code with the "main" entry point
func (d *Device) NewComputePipeline(spirv []byte, bindings int) (*ComputePipeline, error) {
	p := &ComputePipeline{device: d.handle, bindings: bindings}

	var err error
	if p.module, err = d.shaderModule(spirv); err != nil {
		return nil, err
	}
	p.onRelease(func() { vk.DestroyShaderModule(p.device, p.module, nil) })

	layoutBindings := make([]vk.DescriptorSetLayoutBinding, bindings)
	for i := range layoutBindings {
		layoutBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         uint32(i),
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		}
	}
	dslci := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(layoutBindings)),
		PBindings:    layoutBindings,
	}
	if err := check(vk.CreateDescriptorSetLayout(d.handle, &dslci, nil, &p.setLayout), "vk.CreateDescriptorSetLayout()"); err != nil {
		p.Release()
		return nil, err
	}
	p.onRelease(func() { vk.DestroyDescriptorSetLayout(p.device, p.setLayout, nil) })

	plci := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: 1,
		PSetLayouts:    []vk.DescriptorSetLayout{p.setLayout},
	}
	if err := check(vk.CreatePipelineLayout(d.handle, &plci, nil, &p.layout), "vk.CreatePipelineLayout()"); err != nil {
		p.Release()
		return nil, err
	}
	p.onRelease(func() { vk.DestroyPipelineLayout(p.device, p.layout, nil) })

	cpci := vk.ComputePipelineCreateInfo{
		SType: vk.StructureTypeComputePipelineCreateInfo,
		Stage: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageComputeBit,
			Module: p.module,
			PName:  safeString("main"),
		},
		Layout: p.layout,
	}
	var cache vk.PipelineCache
	pipelines := make([]vk.Pipeline, 1)
	if err := check(vk.CreateComputePipelines(d.handle, cache, 1, []vk.ComputePipelineCreateInfo{cpci}, nil, pipelines), "vk.CreateComputePipelines()"); err != nil {
		p.Release()
		return nil, err
	}
	p.pipeline = pipelines[0]
	p.onRelease(func() { vk.DestroyPipeline(p.device, p.pipeline, nil) })

	dpci := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       1,
		PoolSizeCount: 1,
		PPoolSizes: []vk.DescriptorPoolSize{{
			Type:            vk.DescriptorTypeStorageBuffer,
			DescriptorCount: uint32(bindings),
		}},
	}
	if err := check(vk.CreateDescriptorPool(d.handle, &dpci, nil, &p.pool), "vk.CreateDescriptorPool()"); err != nil {
		p.Release()
		return nil, err
	}
	p.onRelease(func() { vk.DestroyDescriptorPool(p.device, p.pool, nil) })

	dsai := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     p.pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{p.setLayout},
	}
	if err := check(vk.AllocateDescriptorSets(d.handle, &dsai, &p.set), "vk.AllocateDescriptorSets()"); err != nil {
		p.Release()
		return nil, err
	}
	return p, nil
}

// Bind points the descriptor set at the given buffers, in binding order
func (p *ComputePipeline) Bind(buffers ...*Buffer) error {
	if len(buffers) != p.bindings {
		return errors.Errorf("pipeline has %d bindings, %d buffers given", p.bindings, len(buffers))
	}
	wds := make([]vk.WriteDescriptorSet, len(buffers))
	for i, b := range buffers {
		wds[i] = vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          p.set,
			DstBinding:      uint32(i),
			DstArrayElement: 0,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			DescriptorCount: 1,
			PBufferInfo: []vk.DescriptorBufferInfo{{
				Buffer: b.handle,
				Offset: 0,
				Range:  vk.DeviceSize(b.size),
			}},
		}
	}
	vk.UpdateDescriptorSets(p.device, uint32(len(wds)), wds, 0, nil)
	p.bound = buffers
	return nil
}

// Dispatch records binding the pipeline and dispatching x*y*z workgroups.
// The shader writes to the bound buffers are made visible to the host.
func (p *ComputePipeline) Dispatch(cmd vk.CommandBuffer, x, y, z int) {
	vk.CmdBindPipeline(cmd, vk.PipelineBindPointCompute, p.pipeline)
	vk.CmdBindDescriptorSets(cmd, vk.PipelineBindPointCompute, p.layout, 0, 1, []vk.DescriptorSet{p.set}, 0, nil)
	vk.CmdDispatch(cmd, uint32(x), uint32(y), uint32(z))
	hostBarrier(cmd, vk.PipelineStageComputeShaderBit, vk.AccessShaderWriteBit, p.bound...)
}

// shaderModule creates a module from SPIR-V code
func (d *Device) shaderModule(spirv []byte) (vk.ShaderModule, error) {
	var module vk.ShaderModule
	if len(spirv) == 0 || len(spirv)%4 != 0 {
		return module, errors.Wrapf(device.ErrorInitializationFailed, "invalid SPIR-V code of %d bytes", len(spirv))
	}
	smci := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(spirv)),
		PCode:    SliceUint32(spirv),
	}
	err := check(vk.CreateShaderModule(d.handle, &smci, nil, &module), "vk.CreateShaderModule()")
	return module, err
}

func (p *ComputePipeline) onRelease(fn func()) {
	p.destroyers = append(p.destroyers, fn)
}

// Release destroys everything the pipeline created
func (p *ComputePipeline) Release() {
	for i := len(p.destroyers) - 1; i >= 0; i-- {
		p.destroyers[i]()
	}
	p.destroyers = nil
}
