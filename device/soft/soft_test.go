// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package soft_test

import (
	"image/color"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/devblok/vkengine/device"
	"github.com/devblok/vkengine/device/soft"
)

func newDevice(c *qt.C, family int, adapters ...soft.Adapter) *soft.Device {
	if len(adapters) == 0 {
		adapters = soft.DefaultAdapters()
	}
	inst, err := soft.New(adapters...).NewInstance(device.InstanceInfo{})
	c.Assert(err, qt.IsNil)
	pds, err := inst.PhysicalDevices()
	c.Assert(err, qt.IsNil)
	dev, err := pds[0].NewDevice(family, nil)
	c.Assert(err, qt.IsNil)
	c.Cleanup(func() {
		dev.Destroy()
		inst.Destroy()
	})
	return dev.(*soft.Device)
}

func record(c *qt.C, dev *soft.Device, fn func(cb *soft.CommandBuffer)) (device.CommandBuffer, error) {
	pool, err := dev.NewCommandPool()
	c.Assert(err, qt.IsNil)
	buf, err := pool.Allocate()
	c.Assert(err, qt.IsNil)
	c.Assert(buf.Begin(), qt.IsNil)
	fn(buf.Handle().(*soft.CommandBuffer))
	return buf, buf.End()
}

func submit(c *qt.C, dev *soft.Device, buf device.CommandBuffer) error {
	f, err := dev.Queue().Submit(buf)
	if err != nil {
		return err
	}
	defer f.Destroy()
	return f.Wait(time.Second)
}

func TestCopyBuffer(t *testing.T) {
	c := qt.New(t)
	dev := newDevice(c, 2)

	values := make([]int32, 64)
	for i := range values {
		values[i] = int32(i)
	}
	src, err := dev.NewBufferInt32(values)
	c.Assert(err, qt.IsNil)
	dst, err := dev.NewBuffer(src.Len())
	c.Assert(err, qt.IsNil)

	buf, err := record(c, dev, func(cb *soft.CommandBuffer) {
		cb.CopyBuffer(src, dst, 0, 0, src.Len())
	})
	c.Assert(err, qt.IsNil)
	c.Assert(submit(c, dev, buf), qt.IsNil)
	c.Assert(dst.Int32s(), qt.DeepEquals, values)
}

func TestDispatch(t *testing.T) {
	c := qt.New(t)
	dev := newDevice(c, 1)

	data, err := dev.NewBuffer(65536 * 4)
	c.Assert(err, qt.IsNil)
	for i := 0; i < 65536; i++ {
		data.SetUint32(i, uint32(i))
	}
	p := soft.NewComputePipeline([3]int{64, 1, 1}, func(inv soft.Invocation) {
		b := inv.Buffers[0]
		b.SetUint32(inv.Index(), b.Uint32(inv.Index())*12)
	})

	buf, err := record(c, dev, func(cb *soft.CommandBuffer) {
		cb.BindCompute(p, data)
		cb.Dispatch(1024, 1, 1)
	})
	c.Assert(err, qt.IsNil)
	c.Assert(submit(c, dev, buf), qt.IsNil)
	for i := 0; i < 65536; i++ {
		if data.Uint32(i) != uint32(i*12) {
			c.Fatalf("data[%d] = %d, want %d", i, data.Uint32(i), i*12)
		}
	}
}

func TestDispatchOnTransferFamily(t *testing.T) {
	c := qt.New(t)
	dev := newDevice(c, 2)
	data, err := dev.NewBuffer(16)
	c.Assert(err, qt.IsNil)

	_, err = record(c, dev, func(cb *soft.CommandBuffer) {
		cb.BindCompute(soft.NewComputePipeline([3]int{1, 1, 1}, func(soft.Invocation) {}), data)
		cb.Dispatch(1, 1, 1)
	})
	c.Assert(err, qt.ErrorMatches, `.*does not support compute.*`)
}

func TestKernelPanic(t *testing.T) {
	c := qt.New(t)
	dev := newDevice(c, 1)
	data, err := dev.NewBuffer(4)
	c.Assert(err, qt.IsNil)

	buf, err := record(c, dev, func(cb *soft.CommandBuffer) {
		cb.BindCompute(soft.NewComputePipeline([3]int{4, 1, 1}, func(inv soft.Invocation) {
			inv.Buffers[0].SetUint32(inv.Index(), 1)
		}), data)
		cb.Dispatch(1, 1, 1)
	})
	c.Assert(err, qt.IsNil)
	c.Assert(submit(c, dev, buf), qt.ErrorMatches, `.*workgroup.*`)
}

func TestRenderTriangle(t *testing.T) {
	c := qt.New(t)
	dev := newDevice(c, 0)
	img, err := dev.NewImage(32, 32)
	c.Assert(err, qt.IsNil)

	red := mgl32.Vec4{1, 0, 0, 1}
	buf, err := record(c, dev, func(cb *soft.CommandBuffer) {
		cb.BeginRenderPass(img, color.RGBA{A: 255})
		cb.Draw([]soft.Vertex{
			{Position: mgl32.Vec2{0, -1}, Color: red},
			{Position: mgl32.Vec2{1, 1}, Color: red},
			{Position: mgl32.Vec2{-1, 1}, Color: red},
		})
		cb.EndRenderPass()
	})
	c.Assert(err, qt.IsNil)
	c.Assert(submit(c, dev, buf), qt.IsNil)

	c.Assert(img.RGBA().RGBAAt(16, 24), qt.Equals, color.RGBA{R: 255, A: 255})
	c.Assert(img.RGBA().RGBAAt(0, 0), qt.Equals, color.RGBA{A: 255})
}

func TestUnterminatedRenderPass(t *testing.T) {
	c := qt.New(t)
	dev := newDevice(c, 0)
	img, err := dev.NewImage(4, 4)
	c.Assert(err, qt.IsNil)

	_, err = record(c, dev, func(cb *soft.CommandBuffer) {
		cb.BeginRenderPass(img, color.RGBA{})
	})
	c.Assert(err, qt.ErrorMatches, `.*render pass was not ended.*`)
}

func TestResubmit(t *testing.T) {
	c := qt.New(t)
	dev := newDevice(c, 0)
	buf, err := record(c, dev, func(*soft.CommandBuffer) {})
	c.Assert(err, qt.IsNil)
	c.Assert(submit(c, dev, buf), qt.IsNil)
	_, err = dev.Queue().Submit(buf)
	c.Assert(device.ResultOf(err), qt.Equals, device.ErrorUnknown)
}

func TestDeviceLost(t *testing.T) {
	c := qt.New(t)
	adapters := soft.DefaultAdapters()
	adapters[0].Faults.LoseOnExecute = true
	dev := newDevice(c, 0, adapters...)

	buf, err := record(c, dev, func(*soft.CommandBuffer) {})
	c.Assert(err, qt.IsNil)
	c.Assert(device.ResultOf(submit(c, dev, buf)), qt.Equals, device.ErrorDeviceLost)
	c.Assert(dev.Lost(), qt.IsTrue)

	buf, err = record(c, dev, func(*soft.CommandBuffer) {})
	c.Assert(err, qt.IsNil)
	_, err = dev.Queue().Submit(buf)
	c.Assert(device.ResultOf(err), qt.Equals, device.ErrorDeviceLost)
}

func TestHangTimesOut(t *testing.T) {
	c := qt.New(t)
	dev := newDevice(c, 0)
	dev.SetFaults(soft.Faults{Hang: true})

	buf, err := record(c, dev, func(*soft.CommandBuffer) {})
	c.Assert(err, qt.IsNil)
	f, err := dev.Queue().Submit(buf)
	c.Assert(err, qt.IsNil)
	c.Assert(device.ResultOf(f.Wait(10*time.Millisecond)), qt.Equals, device.Timeout)
	c.Assert(device.ResultOf(f.Wait(0)), qt.Equals, device.Timeout)
}

func TestDebugLayers(t *testing.T) {
	c := qt.New(t)
	drv := soft.New(soft.DefaultAdapters()...)

	inst, err := drv.NewInstance(device.InstanceInfo{Debug: true})
	c.Assert(err, qt.IsNil)
	c.Assert(inst.Layers(), qt.DeepEquals, []string{soft.ValidationLayer})
	c.Assert(inst.Extensions(), qt.DeepEquals, []string{soft.DebugReportExtension})

	drv.AvailableLayers = nil
	inst, err = drv.NewInstance(device.InstanceInfo{Debug: true})
	c.Assert(err, qt.IsNil)
	c.Assert(inst.Layers(), qt.HasLen, 0)
}

func TestUnavailable(t *testing.T) {
	c := qt.New(t)
	drv := soft.New()
	drv.Unavailable = true
	_, err := drv.NewInstance(device.InstanceInfo{})
	c.Assert(device.ResultOf(err), qt.Equals, device.ErrorInitializationFailed)
}

func TestMissingExtension(t *testing.T) {
	c := qt.New(t)
	inst, err := soft.New(soft.DefaultAdapters()...).NewInstance(device.InstanceInfo{})
	c.Assert(err, qt.IsNil)
	pds, err := inst.PhysicalDevices()
	c.Assert(err, qt.IsNil)
	_, err = pds[0].NewDevice(0, []string{"VK_KHR_swapchain"})
	c.Assert(device.ResultOf(err), qt.Equals, device.ErrorExtensionNotPresent)
}
