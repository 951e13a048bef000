// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command bufcopy copies 64 integers from one buffer to another
package main

import (
	"encoding/binary"

	vk "github.com/devblok/vulkan"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/devblok/vkengine/core"
	"github.com/devblok/vkengine/device/soft"
	"github.com/devblok/vkengine/device/vulkan"
	"github.com/devblok/vkengine/internal/demo"
)

const count = 64

func main() {
	d := demo.MustSetup("bufcopy")
	d.Exit(run(d))
}

func run(d *demo.Demo) error {
	e, err := d.NewEngine(core.ComputeConfiguration())
	if err != nil {
		return err
	}
	defer d.Shutdown(e)
	d.PrintReport(logrus.DebugLevel, e.Report())

	var result []int32
	switch dev := e.Device().Device().(type) {
	case *soft.Device:
		result, err = copySoft(e, dev)
	case *vulkan.Device:
		result, err = copyVulkan(e, dev)
	default:
		err = errors.Errorf("unsupported device %T", dev)
	}
	if err != nil {
		return err
	}

	for i, v := range result {
		if v != int32(i) {
			return errors.Errorf("destination[%d] = %d, want %d", i, v, i)
		}
	}
	d.Log.WithField("count", len(result)).Info("buffer copied")
	return nil
}

func source() []int32 {
	src := make([]int32, count)
	for i := range src {
		src[i] = int32(i)
	}
	return src
}

func copySoft(e *core.Engine, dev *soft.Device) ([]int32, error) {
	src, err := dev.NewBufferInt32(source())
	if err != nil {
		return nil, err
	}
	dst, err := dev.NewBuffer(src.Len())
	if err != nil {
		return nil, err
	}
	err = e.Compute(func(ctx *core.Context) (core.Recording, error) {
		r, err := ctx.Begin()
		if err != nil {
			return core.Recording{}, err
		}
		r.Handle().(*soft.CommandBuffer).CopyBuffer(src, dst, 0, 0, src.Len())
		return r.Finish()
	})
	if err != nil {
		return nil, err
	}
	return dst.Int32s(), nil
}

func copyVulkan(e *core.Engine, dev *vulkan.Device) ([]int32, error) {
	data := make([]byte, count*4)
	for i, v := range source() {
		binary.LittleEndian.PutUint32(data[i*4:], uint32(v))
	}

	src, err := dev.NewBuffer(len(data))
	if err != nil {
		return nil, err
	}
	defer src.Release()
	dst, err := dev.NewBuffer(len(data))
	if err != nil {
		return nil, err
	}
	defer dst.Release()
	if err := src.Write(data); err != nil {
		return nil, err
	}

	err = e.Compute(func(ctx *core.Context) (core.Recording, error) {
		r, err := ctx.Begin()
		if err != nil {
			return core.Recording{}, err
		}
		vulkan.CopyBuffer(r.Handle().(vk.CommandBuffer), src, dst, len(data))
		return r.Finish()
	})
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(data))
	if err := dst.Read(out); err != nil {
		return nil, err
	}
	result := make([]int32, count)
	for i := range result {
		result[i] = int32(binary.LittleEndian.Uint32(out[i*4:]))
	}
	return result, nil
}
