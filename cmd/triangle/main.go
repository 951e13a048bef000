// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command triangle renders a triangle into an image and saves it.
// With -clear it only clears the image, on a compute engine, and with
// -mesh it renders the triangles of a Collada file instead.
package main

import (
	"flag"
	"image"
	"image/color"
	"io/ioutil"

	vk "github.com/devblok/vulkan"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/devblok/vkengine/core"
	"github.com/devblok/vkengine/device/soft"
	"github.com/devblok/vkengine/device/vulkan"
	"github.com/devblok/vkengine/internal/demo"
	"github.com/devblok/vkengine/model"
	"github.com/devblok/vkengine/utility/imageio"
)

const (
	width  = 1024
	height = 1024
)

var (
	clearOnly = flag.Bool("clear", false, "Only clear the image")
	meshFile  = flag.String("mesh", "", "Render the meshes of a Collada (.dae) file")
	blue      = color.RGBA{B: 255, A: 255}
	red       = mgl32.Vec4{1, 0, 0, 1}
	yellow    = mgl32.Vec4{1, 1, 0, 1}
)

func triangle() []soft.Vertex {
	return []soft.Vertex{
		{Position: mgl32.Vec2{-0.5, -0.5}, Color: red},
		{Position: mgl32.Vec2{0, 0.5}, Color: red},
		{Position: mgl32.Vec2{0.5, -0.25}, Color: red},
	}
}

// meshVertices loads the meshes in path, shaded from red to yellow by depth
func meshVertices(path string) ([]soft.Vertex, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	meshes, err := model.ImportCollada(data)
	if err != nil {
		return nil, err
	}
	var vertices []soft.Vertex
	for _, m := range meshes {
		depth := m.Depth()
		for i, p := range m.Fit(0.1) {
			vertices = append(vertices, soft.Vertex{
				Position: p,
				Color:    red.Add(yellow.Sub(red).Mul(depth[i])),
			})
		}
	}
	return vertices, nil
}

func main() {
	flag.Parse()
	d := demo.MustSetup("triangle")
	d.Exit(run(d))
}

func run(d *demo.Demo) error {
	cfg := core.GraphicalConfiguration()
	output := d.Settings.OutputOr("triangle.png")
	if *clearOnly {
		cfg = core.ComputeConfiguration()
		output = d.Settings.OutputOr("image.png")
	}
	vertices := triangle()
	if *meshFile != "" {
		var err error
		if vertices, err = meshVertices(*meshFile); err != nil {
			return err
		}
		d.Log.WithField("triangles", len(vertices)/3).Debug(*meshFile)
	}

	e, err := d.NewEngine(cfg)
	if err != nil {
		return err
	}
	defer d.Shutdown(e)
	d.PrintReport(logrus.DebugLevel, e.Report())

	step := e.Render
	if *clearOnly {
		step = e.Compute
	}
	var pix []byte
	switch dev := e.Device().Device().(type) {
	case *soft.Device:
		pix, err = drawSoft(step, dev, vertices)
	case *vulkan.Device:
		pix, err = drawVulkan(d, step, dev, vertices)
	default:
		err = errors.Errorf("unsupported device %T", dev)
	}
	if err != nil {
		return err
	}

	img := &image.RGBA{
		Pix:    pix,
		Stride: width * 4,
		Rect:   image.Rect(0, 0, width, height),
	}
	if err := imageio.Save(output, img); err != nil {
		return err
	}
	d.Log.WithField("file", output).Info("image saved")
	return nil
}

func drawSoft(step func(core.RecordFunc) error, dev *soft.Device, vertices []soft.Vertex) ([]byte, error) {
	target, err := dev.NewImage(width, height)
	if err != nil {
		return nil, err
	}
	out, err := dev.NewBuffer(width * height * 4)
	if err != nil {
		return nil, err
	}

	err = step(func(ctx *core.Context) (core.Recording, error) {
		r, err := ctx.Begin()
		if err != nil {
			return core.Recording{}, err
		}
		cb := r.Handle().(*soft.CommandBuffer)
		if *clearOnly {
			cb.ClearImage(target, blue)
		} else {
			cb.BeginRenderPass(target, blue)
			cb.Draw(vertices)
			cb.EndRenderPass()
		}
		cb.CopyImageToBuffer(target, out)
		return r.Finish()
	})
	if err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func drawVulkan(d *demo.Demo, step func(core.RecordFunc) error, dev *vulkan.Device, vertices []soft.Vertex) ([]byte, error) {
	target, err := dev.NewImage(width, height)
	if err != nil {
		return nil, err
	}
	defer target.Release()
	out, err := dev.NewBuffer(width * height * 4)
	if err != nil {
		return nil, err
	}
	defer out.Release()

	var (
		pass     *vulkan.RenderPass
		pipeline *vulkan.GraphicsPipeline
		vbuf     *vulkan.Buffer
	)
	if !*clearOnly {
		vert, err := d.Shader("triangle.vert.spv")
		if err != nil {
			return nil, err
		}
		frag, err := d.Shader("triangle.frag.spv")
		if err != nil {
			return nil, err
		}
		if pass, err = dev.NewRenderPass(target); err != nil {
			return nil, err
		}
		defer pass.Release()
		if pipeline, err = dev.NewGraphicsPipeline(pass, vert, frag); err != nil {
			return nil, err
		}
		defer pipeline.Release()

		vv := make([]vulkan.Vertex, len(vertices))
		for i, v := range vertices {
			vv[i] = vulkan.Vertex{Position: v.Position, Color: v.Color}
		}
		if vbuf, err = dev.NewVertexBuffer(vv); err != nil {
			return nil, err
		}
		defer vbuf.Release()
	}

	err = step(func(ctx *core.Context) (core.Recording, error) {
		r, err := ctx.Begin()
		if err != nil {
			return core.Recording{}, err
		}
		cmd := r.Handle().(vk.CommandBuffer)
		if *clearOnly {
			vulkan.ClearImage(cmd, target, blue)
		} else {
			pass.Begin(cmd, blue)
			pipeline.Draw(cmd, vbuf, len(vertices))
			pass.End(cmd)
		}
		vulkan.CopyImageToBuffer(cmd, target, out)
		return r.Finish()
	})
	if err != nil {
		return nil, err
	}

	pix := make([]byte, width*height*4)
	if err := out.Read(pix); err != nil {
		return nil, err
	}
	return pix, nil
}
