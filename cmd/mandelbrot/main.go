// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command mandelbrot computes the Mandelbrot set into an image and saves it
package main

import (
	"image"
	"math"
	"time"

	vk "github.com/devblok/vulkan"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/devblok/vkengine/core"
	"github.com/devblok/vkengine/device/soft"
	"github.com/devblok/vkengine/device/vulkan"
	"github.com/devblok/vkengine/internal/demo"
	"github.com/devblok/vkengine/utility/imageio"
)

const (
	width     = 1024
	height    = 1024
	localSize = 8
)

func main() {
	d := demo.MustSetup("mandelbrot")
	d.Exit(run(d))
}

func run(d *demo.Demo) error {
	e, err := d.NewEngine(core.ComputeConfiguration())
	if err != nil {
		return err
	}
	defer d.Shutdown(e)
	d.PrintReport(logrus.InfoLevel, e.Report())

	var pix []byte
	switch dev := e.Device().Device().(type) {
	case *soft.Device:
		pix, err = computeSoft(e, dev)
	case *vulkan.Device:
		pix, err = computeVulkan(d, e, dev)
	default:
		err = errors.Errorf("unsupported device %T", dev)
	}
	if err != nil {
		return err
	}

	start := time.Now()
	output := d.Settings.OutputOr("mandelbrot.png")
	img := &image.RGBA{
		Pix:    pix,
		Stride: width * 4,
		Rect:   image.Rect(0, 0, width, height),
	}
	if err := imageio.Save(output, img); err != nil {
		return err
	}
	d.Log.WithField("file", output).Info("image saved")
	d.Log.WithField("took", time.Since(start)).Debug("storing image")
	return nil
}

// escape returns how far the orbit of the pixel at x, y got before
// escaping, in [0, 1]
func escape(x, y int) float32 {
	norm := mgl32.Vec2{
		(float32(x) + 0.5) / width,
		(float32(y) + 0.5) / height,
	}
	c := norm.Sub(mgl32.Vec2{0.5, 0.5}).Mul(2).Sub(mgl32.Vec2{1, 0})

	var z mgl32.Vec2
	var i float32
	for i = 0; i < 1; i += 0.005 {
		z = mgl32.Vec2{z.X()*z.X() - z.Y()*z.Y() + c.X(), 2*z.X()*z.Y() + c.Y()}
		if z.Len() > 4 {
			break
		}
	}
	return i
}

func pack(v float32) uint32 {
	g := uint32(math.Round(float64(mgl32.Clamp(v, 0, 1) * 255)))
	return g | g<<8 | g<<16 | 0xff<<24
}

func computeSoft(e *core.Engine, dev *soft.Device) ([]byte, error) {
	buf, err := dev.NewBuffer(width * height * 4)
	if err != nil {
		return nil, err
	}
	p := soft.NewComputePipeline([3]int{localSize, localSize, 1}, func(inv soft.Invocation) {
		x, y := inv.GlobalID[0], inv.GlobalID[1]
		inv.Buffers[0].SetUint32(y*width+x, pack(escape(x, y)))
	})

	err = e.Compute(func(ctx *core.Context) (core.Recording, error) {
		r, err := ctx.Begin()
		if err != nil {
			return core.Recording{}, err
		}
		cb := r.Handle().(*soft.CommandBuffer)
		cb.BindCompute(p, buf)
		cb.Dispatch(width/localSize, height/localSize, 1)
		return r.Finish()
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func computeVulkan(d *demo.Demo, e *core.Engine, dev *vulkan.Device) ([]byte, error) {
	code, err := d.Shader("mandelbrot.spv")
	if err != nil {
		return nil, err
	}
	p, err := dev.NewComputePipeline(code, 1)
	if err != nil {
		return nil, err
	}
	defer p.Release()

	buf, err := dev.NewBuffer(width * height * 4)
	if err != nil {
		return nil, err
	}
	defer buf.Release()
	if err := p.Bind(buf); err != nil {
		return nil, err
	}

	err = e.Compute(func(ctx *core.Context) (core.Recording, error) {
		r, err := ctx.Begin()
		if err != nil {
			return core.Recording{}, err
		}
		p.Dispatch(r.Handle().(vk.CommandBuffer), width/localSize, height/localSize, 1)
		return r.Finish()
	})
	if err != nil {
		return nil, err
	}

	pix := make([]byte, width*height*4)
	return pix, buf.Read(pix)
}
