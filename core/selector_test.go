// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core_test

import (
	"errors"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/devblok/vkengine/core"
	"github.com/devblok/vkengine/device"
	"github.com/devblok/vkengine/device/soft"
)

const (
	universal = device.QueueGraphics | device.QueueCompute | device.QueueTransfer
	compute   = device.QueueCompute | device.QueueTransfer
	graphics  = device.QueueGraphics | device.QueueTransfer
	transfer  = device.QueueTransfer
)

func newInstance(c *qt.C, adapters ...soft.Adapter) *core.Instance {
	inst, err := core.NewInstance(soft.New(adapters...), false)
	c.Assert(err, qt.IsNil)
	c.Cleanup(inst.Destroy)
	return inst
}

func TestScore(t *testing.T) {
	c := qt.New(t)
	c.Assert(core.Score(device.TypeDiscrete), qt.Equals, 100)
	c.Assert(core.Score(device.TypeIntegrated), qt.Equals, 50)
	c.Assert(core.Score(device.TypeVirtual), qt.Equals, 25)
	c.Assert(core.Score(device.TypeCPU), qt.Equals, 1)
	c.Assert(core.Score(device.TypeOther), qt.Equals, 0)
}

func TestSelectPrefersDiscrete(t *testing.T) {
	c := qt.New(t)
	inst := newInstance(c,
		soft.NewAdapter("integrated", device.TypeIntegrated, universal),
		soft.NewAdapter("discrete", device.TypeDiscrete, universal),
	)

	for i := 0; i < 10; i++ {
		cand, sel, err := core.Select(inst, core.Requirements{NeedsCompute: true})
		c.Assert(err, qt.IsNil)
		c.Assert(cand.Index, qt.Equals, 1)
		c.Assert(cand.Info.Name, qt.Equals, "discrete")
		c.Assert(sel.Index, qt.Equals, 0)
		c.Assert(sel.Flags, qt.Equals, device.QueueCompute)
		c.Assert(sel.Supported, qt.Equals, universal)
	}
}

func TestSelectTieGoesToFirstEnumerated(t *testing.T) {
	c := qt.New(t)
	inst := newInstance(c,
		soft.NewAdapter("cpu", device.TypeCPU, universal),
		soft.NewAdapter("first", device.TypeVirtual, universal),
		soft.NewAdapter("second", device.TypeVirtual, universal),
	)
	cand, _, err := core.Select(inst, core.Requirements{NeedsCompute: true})
	c.Assert(err, qt.IsNil)
	c.Assert(cand.Info.Name, qt.Equals, "first")
}

func TestSelectSpecializedFamily(t *testing.T) {
	c := qt.New(t)
	inst := newInstance(c, soft.NewAdapter("gpu", device.TypeDiscrete, transfer, universal, compute, graphics))

	_, sel, err := core.Select(inst, core.Requirements{NeedsCompute: true})
	c.Assert(err, qt.IsNil)
	c.Assert(sel.Index, qt.Equals, 2)

	_, sel, err = core.Select(inst, core.Requirements{NeedsGraphics: true})
	c.Assert(err, qt.IsNil)
	c.Assert(sel.Index, qt.Equals, 3)

	_, sel, err = core.Select(inst, core.Requirements{NeedsCompute: true, NeedsGraphics: true})
	c.Assert(err, qt.IsNil)
	c.Assert(sel.Index, qt.Equals, 1)
}

func TestSelectFamilyTieGoesToLowestIndex(t *testing.T) {
	c := qt.New(t)
	inst := newInstance(c, soft.NewAdapter("gpu", device.TypeDiscrete, transfer, compute, compute))
	_, sel, err := core.Select(inst, core.Requirements{NeedsCompute: true})
	c.Assert(err, qt.IsNil)
	c.Assert(sel.Index, qt.Equals, 1)
}

func TestSelectNoSuitableDevice(t *testing.T) {
	c := qt.New(t)

	for _, test := range []struct {
		about    string
		adapters []soft.Adapter
		req      core.Requirements
	}{{
		about:    "no devices",
		adapters: nil,
		req:      core.Requirements{NeedsCompute: true},
	}, {
		about: "transfer only",
		adapters: []soft.Adapter{
			soft.NewAdapter("dma", device.TypeDiscrete, transfer),
		},
		req: core.Requirements{NeedsCompute: true},
	}, {
		about: "graphics and compute on separate devices",
		adapters: []soft.Adapter{
			soft.NewAdapter("compute", device.TypeDiscrete, compute),
			soft.NewAdapter("graphics", device.TypeIntegrated, graphics),
		},
		req: core.Requirements{NeedsCompute: true, NeedsGraphics: true},
	}, {
		about: "missing extension",
		adapters: []soft.Adapter{
			soft.NewAdapter("gpu", device.TypeDiscrete, universal),
		},
		req: core.Requirements{NeedsCompute: true, Extensions: []string{"VK_KHR_swapchain"}},
	}} {
		c.Run(test.about, func(c *qt.C) {
			inst := newInstance(c, test.adapters...)
			cand, sel, err := core.Select(inst, test.req)
			c.Assert(errors.Is(err, core.NoSuitableDeviceError), qt.IsTrue)
			c.Assert(cand.Info.Name, qt.Equals, "")
			c.Assert(cand.Index, qt.Equals, 0)
			c.Assert(sel, qt.Equals, core.QueueFamilySelection{})
		})
	}
}

func TestSelectSkipsUnusableCandidates(t *testing.T) {
	c := qt.New(t)
	invalid := soft.NewAdapter("invalid", device.TypeDiscrete, universal)
	invalid.Info.Invalid = true
	empty := soft.NewAdapter("empty", device.TypeDiscrete, universal)
	empty.Info.QueueFamilies[0].Count = 0

	inst := newInstance(c, invalid, empty, soft.NewAdapter("integrated", device.TypeIntegrated, universal))
	cand, _, err := core.Select(inst, core.Requirements{NeedsCompute: true})
	c.Assert(err, qt.IsNil)
	c.Assert(cand.Info.Name, qt.Equals, "integrated")
}

func TestSelectFromIsPure(t *testing.T) {
	c := qt.New(t)
	candidates := []core.Candidate{
		{Index: 0, Info: soft.NewAdapter("a", device.TypeIntegrated, universal).Info},
		{Index: 1, Info: soft.NewAdapter("b", device.TypeDiscrete, compute).Info},
	}
	cand, sel, err := core.SelectFrom(candidates, core.Requirements{NeedsCompute: true})
	c.Assert(err, qt.IsNil)
	c.Assert(cand.Index, qt.Equals, 1)
	c.Assert(sel.Index, qt.Equals, 0)
	c.Assert(candidates[0].Info.Name, qt.Equals, "a")
}
