// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command compute multiplies 65536 integers by 12 in a compute dispatch
package main

import (
	"encoding/binary"
	"time"

	vk "github.com/devblok/vulkan"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/devblok/vkengine/core"
	"github.com/devblok/vkengine/device/soft"
	"github.com/devblok/vkengine/device/vulkan"
	"github.com/devblok/vkengine/internal/demo"
)

const (
	count     = 65536
	localSize = 64
	factor    = 12
)

func main() {
	d := demo.MustSetup("compute")
	d.Exit(run(d))
}

func run(d *demo.Demo) error {
	e, err := d.NewEngine(core.ComputeConfiguration(), core.WithObserver(timings(d)))
	if err != nil {
		return err
	}
	defer d.Shutdown(e)
	d.PrintReport(logrus.DebugLevel, e.Report())

	var result []uint32
	switch dev := e.Device().Device().(type) {
	case *soft.Device:
		result, err = computeSoft(e, dev)
	case *vulkan.Device:
		result, err = computeVulkan(d, e, dev)
	default:
		err = errors.Errorf("unsupported device %T", dev)
	}
	if err != nil {
		return err
	}

	for i, v := range result {
		if v != uint32(i*factor) {
			return errors.Errorf("content[%d] = %d, want %d", i, v, i*factor)
		}
	}
	d.Log.WithField("count", len(result)).Info("computation verified")
	return nil
}

// timings logs how long recording and execution took
func timings(d *demo.Demo) func(core.Event) {
	var started, submitted time.Time
	return func(ev core.Event) {
		switch ev.Kind {
		case core.EventRecordStart:
			started = ev.Time
		case core.EventSubmit:
			submitted = ev.Time
			d.Log.WithField("took", submitted.Sub(started)).Debug("recorded")
		case core.EventWaitResolved:
			d.Log.WithField("took", ev.Time.Sub(submitted)).Debug("executed")
		}
	}
}

func computeSoft(e *core.Engine, dev *soft.Device) ([]uint32, error) {
	values := make([]uint32, count)
	for i := range values {
		values[i] = uint32(i)
	}
	data, err := dev.NewBufferUint32(values)
	if err != nil {
		return nil, err
	}
	p := soft.NewComputePipeline([3]int{localSize, 1, 1}, func(inv soft.Invocation) {
		buf := inv.Buffers[0]
		buf.SetUint32(inv.Index(), buf.Uint32(inv.Index())*factor)
	})

	err = e.Compute(func(ctx *core.Context) (core.Recording, error) {
		r, err := ctx.Begin()
		if err != nil {
			return core.Recording{}, err
		}
		cb := r.Handle().(*soft.CommandBuffer)
		cb.BindCompute(p, data)
		cb.Dispatch(count/localSize, 1, 1)
		return r.Finish()
	})
	if err != nil {
		return nil, err
	}
	return data.Uint32s(), nil
}

func computeVulkan(d *demo.Demo, e *core.Engine, dev *vulkan.Device) ([]uint32, error) {
	code, err := d.Shader("times12.spv")
	if err != nil {
		return nil, err
	}
	p, err := dev.NewComputePipeline(code, 1)
	if err != nil {
		return nil, err
	}
	defer p.Release()

	data := make([]byte, count*4)
	for i := 0; i < count; i++ {
		binary.LittleEndian.PutUint32(data[i*4:], uint32(i))
	}
	buf, err := dev.NewBuffer(len(data))
	if err != nil {
		return nil, err
	}
	defer buf.Release()
	if err := buf.Write(data); err != nil {
		return nil, err
	}
	if err := p.Bind(buf); err != nil {
		return nil, err
	}

	err = e.Compute(func(ctx *core.Context) (core.Recording, error) {
		r, err := ctx.Begin()
		if err != nil {
			return core.Recording{}, err
		}
		p.Dispatch(r.Handle().(vk.CommandBuffer), count/localSize, 1, 1)
		return r.Finish()
	})
	if err != nil {
		return nil, err
	}

	if err := buf.Read(data); err != nil {
		return nil, err
	}
	result := make([]uint32, count)
	for i := range result {
		result[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return result, nil
}
