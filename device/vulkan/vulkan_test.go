// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan_test

import (
	"bytes"
	"encoding/binary"
	"image/color"
	"testing"
	"unsafe"

	vk "github.com/devblok/vulkan"
	qt "github.com/frankban/quicktest"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/devblok/vkengine/core"
	"github.com/devblok/vkengine/device/vulkan"
)

// newEngine creates an engine on the system Vulkan driver,
// skipping the test when no usable device is present
func newEngine(c *qt.C, cfg core.Configuration) (*core.Engine, *vulkan.Device) {
	e, err := core.NewEngine(&vulkan.Driver{}, cfg)
	if err != nil {
		c.Skip("vulkan unavailable: ", err)
	}
	c.Cleanup(func() { e.Shutdown() })
	return e, e.Device().Device().(*vulkan.Device)
}

func record(fn func(cmd vk.CommandBuffer)) core.RecordFunc {
	return func(ctx *core.Context) (core.Recording, error) {
		r, err := ctx.Begin()
		if err != nil {
			return core.Recording{}, err
		}
		fn(r.Handle().(vk.CommandBuffer))
		return r.Finish()
	}
}

func TestVertexLayout(t *testing.T) {
	c := qt.New(t)
	c.Assert(unsafe.Sizeof(vulkan.Vertex{}), qt.Equals, uintptr(24))
	c.Assert(binary.Size(vulkan.Vertex{}), qt.Equals, 24)
	c.Assert(unsafe.Offsetof(vulkan.Vertex{}.Color), qt.Equals, uintptr(8))
}

func TestClearColor(t *testing.T) {
	c := qt.New(t)
	c.Assert(vulkan.ClearColor(color.RGBA{B: 255, A: 255}), qt.Equals, [4]float32{0, 0, 1, 1})
	c.Assert(vulkan.ClearColor(color.Transparent), qt.Equals, [4]float32{})
	c.Assert(vulkan.ClearColor(color.White), qt.Equals, [4]float32{1, 1, 1, 1})
}

func TestCopyBufferReadBack(t *testing.T) {
	c := qt.New(t)
	e, dev := newEngine(c, core.ComputeConfiguration())

	data := make([]byte, 64*4)
	for i := 0; i < 64; i++ {
		binary.LittleEndian.PutUint32(data[i*4:], uint32(i))
	}
	src, err := dev.NewBuffer(len(data))
	c.Assert(err, qt.IsNil)
	defer src.Release()
	dst, err := dev.NewBuffer(len(data))
	c.Assert(err, qt.IsNil)
	defer dst.Release()
	c.Assert(src.Write(data), qt.IsNil)

	err = e.Run(record(func(cmd vk.CommandBuffer) {
		vulkan.CopyBuffer(cmd, src, dst, len(data))
	}))
	c.Assert(err, qt.IsNil)

	out := make([]byte, len(data))
	c.Assert(dst.Read(out), qt.IsNil)
	c.Assert(out, qt.DeepEquals, data)
}

func newImage(c *qt.C, dev *vulkan.Device) *vulkan.Image {
	img, err := dev.NewImage(16, 8)
	c.Assert(err, qt.IsNil)
	c.Cleanup(img.Release)
	return img
}

// readImage records fn, then a copy of img into a host buffer, and returns the pixels
func readImage(c *qt.C, dev *vulkan.Device, step func(core.RecordFunc) error, img *vulkan.Image,
	fn func(cmd vk.CommandBuffer)) []byte {
	out, err := dev.NewBuffer(img.Width() * img.Height() * 4)
	c.Assert(err, qt.IsNil)
	c.Cleanup(out.Release)

	err = step(record(func(cmd vk.CommandBuffer) {
		fn(cmd)
		vulkan.CopyImageToBuffer(cmd, img, out)
	}))
	c.Assert(err, qt.IsNil)

	pix := make([]byte, out.Len())
	c.Assert(out.Read(pix), qt.IsNil)
	return pix
}

func assertFilled(c *qt.C, pix []byte, want color.RGBA) {
	for i := 0; i < len(pix); i += 4 {
		got := color.RGBA{R: pix[i], G: pix[i+1], B: pix[i+2], A: pix[i+3]}
		c.Assert(got, qt.Equals, want, qt.Commentf("pixel %d", i/4))
	}
}

func TestClearImageReadBack(t *testing.T) {
	c := qt.New(t)
	e, dev := newEngine(c, core.ComputeConfiguration())
	blue := color.RGBA{B: 255, A: 255}
	img := newImage(c, dev)

	pix := readImage(c, dev, e.Compute, img, func(cmd vk.CommandBuffer) {
		vulkan.ClearImage(cmd, img, blue)
	})
	assertFilled(c, pix, blue)
}

func TestRenderPassClearsTarget(t *testing.T) {
	c := qt.New(t)
	e, dev := newEngine(c, core.GraphicalConfiguration())
	red := color.RGBA{R: 255, A: 255}
	img := newImage(c, dev)
	pass, err := dev.NewRenderPass(img)
	c.Assert(err, qt.IsNil)
	c.Cleanup(pass.Release)

	pix := readImage(c, dev, e.Render, img, func(cmd vk.CommandBuffer) {
		pass.Begin(cmd, red)
		pass.End(cmd)
	})
	assertFilled(c, pix, red)
}

func TestNewVertexBuffer(t *testing.T) {
	c := qt.New(t)
	_, dev := newEngine(c, core.ComputeConfiguration())

	vertices := []vulkan.Vertex{
		{Position: mgl32.Vec2{-0.5, -0.5}, Color: mgl32.Vec4{1, 0, 0, 1}},
		{Position: mgl32.Vec2{0, 0.5}, Color: mgl32.Vec4{0, 1, 0, 1}},
		{Position: mgl32.Vec2{0.5, -0.25}, Color: mgl32.Vec4{0, 0, 1, 1}},
	}
	buf, err := dev.NewVertexBuffer(vertices)
	c.Assert(err, qt.IsNil)
	defer buf.Release()
	c.Assert(buf.Len(), qt.Equals, 3*24)

	data := make([]byte, buf.Len())
	c.Assert(buf.Read(data), qt.IsNil)
	got := make([]vulkan.Vertex, len(vertices))
	c.Assert(binary.Read(bytes.NewReader(data), binary.LittleEndian, got), qt.IsNil)
	c.Assert(got, qt.DeepEquals, vertices)
}
