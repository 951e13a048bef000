// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core_test

import (
	"errors"
	"image/color"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/devblok/vkengine/core"
	"github.com/devblok/vkengine/device"
	"github.com/devblok/vkengine/device/soft"
)

func newEngine(c *qt.C, drv *soft.Driver, cfg core.Configuration, opts ...core.Option) *core.Engine {
	e, err := core.NewEngine(drv, cfg, opts...)
	c.Assert(err, qt.IsNil)
	c.Cleanup(func() { e.Shutdown() })
	return e
}

func softDevice(e *core.Engine) *soft.Device {
	return e.Device().Device().(*soft.Device)
}

func record(fn func(cb *soft.CommandBuffer)) core.RecordFunc {
	return func(ctx *core.Context) (core.Recording, error) {
		r, err := ctx.Begin()
		if err != nil {
			return core.Recording{}, err
		}
		fn(r.Handle().(*soft.CommandBuffer))
		return r.Finish()
	}
}

func nothing(*soft.CommandBuffer) {}

func TestComputeEngineUsesComputeFamily(t *testing.T) {
	c := qt.New(t)
	e := newEngine(c, soft.New(soft.DefaultAdapters()...), core.ComputeConfiguration())
	c.Assert(e.Device().QueueFamilyIndex(), qt.Equals, 1)
	c.Assert(e.Device().Queue().Family(), qt.Equals, 1)
	c.Assert(e.Allocator().QueueFamilyIndex(), qt.Equals, 1)

	g := newEngine(c, soft.New(soft.DefaultAdapters()...), core.GraphicalConfiguration())
	c.Assert(g.Device().QueueFamilyIndex(), qt.Equals, 0)
}

func TestCopy64(t *testing.T) {
	c := qt.New(t)
	e := newEngine(c, soft.New(soft.DefaultAdapters()...), core.ComputeConfiguration())
	dev := softDevice(e)

	values := make([]int32, 64)
	for i := range values {
		values[i] = int32(i)
	}
	src, err := dev.NewBufferInt32(values)
	c.Assert(err, qt.IsNil)
	dst, err := dev.NewBufferInt32(make([]int32, 64))
	c.Assert(err, qt.IsNil)

	err = e.Run(record(func(cb *soft.CommandBuffer) {
		cb.CopyBuffer(src, dst, 0, 0, src.Len())
	}))
	c.Assert(err, qt.IsNil)
	c.Assert(dst.Int32s(), qt.DeepEquals, values)
}

func TestComputeTimesTwelve(t *testing.T) {
	c := qt.New(t)
	e := newEngine(c, soft.New(soft.DefaultAdapters()...), core.ComputeConfiguration())
	dev := softDevice(e)

	const n = 65536
	data, err := dev.NewBuffer(n * 4)
	c.Assert(err, qt.IsNil)
	for i := 0; i < n; i++ {
		data.SetUint32(i, uint32(i))
	}
	p := soft.NewComputePipeline([3]int{64, 1, 1}, func(inv soft.Invocation) {
		buf := inv.Buffers[0]
		buf.SetUint32(inv.Index(), buf.Uint32(inv.Index())*12)
	})

	err = e.Compute(record(func(cb *soft.CommandBuffer) {
		cb.BindCompute(p, data)
		cb.Dispatch(1024, 1, 1)
	}))
	c.Assert(err, qt.IsNil)
	for i := 0; i < n; i++ {
		if got := data.Uint32(i); got != uint32(i*12) {
			c.Fatalf("content[%d] = %d, want %d", i, got, i*12)
		}
	}
}

func TestNoopRecording(t *testing.T) {
	c := qt.New(t)
	e := newEngine(c, soft.New(soft.DefaultAdapters()...), core.ComputeConfiguration())
	buf, err := softDevice(e).NewBufferUint32([]uint32{1, 2, 3})
	c.Assert(err, qt.IsNil)

	for i := 0; i < 3; i++ {
		c.Assert(e.Run(record(nothing)), qt.IsNil)
	}
	c.Assert(buf.Uint32s(), qt.DeepEquals, []uint32{1, 2, 3})
	c.Assert(e.Submissions(), qt.Equals, uint64(3))
}

func TestShutdownWithoutSubmissions(t *testing.T) {
	c := qt.New(t)
	drv := soft.New(soft.DefaultAdapters()...)
	drv.Journal = &soft.Journal{}
	e, err := core.NewComputeEngine(drv)
	c.Assert(err, qt.IsNil)

	start := time.Now()
	c.Assert(e.Shutdown(), qt.IsNil)
	c.Assert(time.Since(start) < time.Second, qt.IsTrue)
	c.Assert(drv.Journal.Entries(), qt.DeepEquals, []string{
		"create instance",
		"create device",
		"create command pool",
		"destroy command pool",
		"destroy device",
		"destroy instance",
	})
	c.Assert(e.Shutdown(), qt.IsNil)

	err = e.Run(record(nothing))
	c.Assert(errors.Is(err, core.ErrClosed), qt.IsTrue)
	c.Assert(errors.Is(err, core.SubmissionError), qt.IsTrue)
}

func TestSequentialRunsDoNotOverlap(t *testing.T) {
	c := qt.New(t)
	var (
		mu     sync.Mutex
		events []core.Event
	)
	observe := func(ev core.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}
	drv := soft.New(soft.DefaultAdapters()...)
	drv.Adapters[0].Faults.Latency = 5 * time.Millisecond
	e := newEngine(c, drv, core.ComputeConfiguration(), core.WithObserver(observe))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Check(e.Run(record(nothing)), qt.IsNil)
		}()
	}
	wg.Wait()

	c.Assert(events, qt.HasLen, 16)
	resolved := map[uint64]time.Time{}
	for i, ev := range events {
		c.Assert(ev.Kind, qt.Equals, []core.EventKind{
			core.EventRecordStart,
			core.EventRecordEnd,
			core.EventSubmit,
			core.EventWaitResolved,
		}[i%4])
		c.Assert(ev.Ticket, qt.Equals, uint64(i/4+1))

		switch ev.Kind {
		case core.EventWaitResolved:
			resolved[ev.Ticket] = ev.Time
		case core.EventRecordStart:
			if prev, ok := resolved[ev.Ticket-1]; ok {
				c.Assert(ev.Time.Before(prev), qt.IsFalse)
			} else {
				c.Assert(ev.Ticket, qt.Equals, uint64(1))
			}
		}
	}
}

func TestRecordingFailureSubmitsNothing(t *testing.T) {
	c := qt.New(t)
	e := newEngine(c, soft.New(soft.DefaultAdapters()...), core.ComputeConfiguration())

	calls := 0
	boom := errors.New("boom")
	err := e.Run(func(ctx *core.Context) (core.Recording, error) {
		calls++
		if _, err := ctx.Begin(); err != nil {
			return core.Recording{}, err
		}
		return core.Recording{}, boom
	})
	c.Assert(calls, qt.Equals, 1)
	c.Assert(errors.Is(err, core.RecordingError), qt.IsTrue)
	c.Assert(errors.Is(err, boom), qt.IsTrue)
	c.Assert(e.Submissions(), qt.Equals, uint64(0))

	c.Assert(e.Run(record(nothing)), qt.IsNil)
}

func TestRejectedRecordings(t *testing.T) {
	c := qt.New(t)
	e := newEngine(c, soft.New(soft.DefaultAdapters()...), core.ComputeConfiguration())
	other := newEngine(c, soft.New(soft.DefaultAdapters()...), core.ComputeConfiguration())

	var foreign core.Recording
	c.Assert(other.Run(func(ctx *core.Context) (core.Recording, error) {
		r, err := ctx.Begin()
		if err != nil {
			return core.Recording{}, err
		}
		if foreign, err = r.Finish(); err != nil {
			return core.Recording{}, err
		}
		r2, err := ctx.Begin()
		if err != nil {
			return core.Recording{}, err
		}
		return r2.Finish()
	}), qt.IsNil)

	for _, test := range []struct {
		about string
		fn    core.RecordFunc
	}{{
		about: "nil function",
		fn:    nil,
	}, {
		about: "zero recording",
		fn: func(*core.Context) (core.Recording, error) {
			return core.Recording{}, nil
		},
	}, {
		about: "recording from another engine",
		fn: func(*core.Context) (core.Recording, error) {
			return foreign, nil
		},
	}, {
		about: "unsupported command",
		fn: record(func(cb *soft.CommandBuffer) {
			img, err := softDevice(e).NewImage(4, 4)
			c.Assert(err, qt.IsNil)
			cb.BeginRenderPass(img, color.RGBA{})
			cb.EndRenderPass()
		}),
	}} {
		c.Run(test.about, func(c *qt.C) {
			err := e.Run(test.fn)
			c.Assert(errors.Is(err, core.RecordingError), qt.IsTrue, qt.Commentf("%v", err))
		})
	}
	c.Assert(e.Submissions(), qt.Equals, uint64(0))
}

func TestContextExpires(t *testing.T) {
	c := qt.New(t)
	e := newEngine(c, soft.New(soft.DefaultAdapters()...), core.ComputeConfiguration())

	var saved *core.Context
	c.Assert(e.Run(func(ctx *core.Context) (core.Recording, error) {
		saved = ctx
		c.Assert(ctx.QueueFamilyIndex(), qt.Equals, 1)
		c.Assert(ctx.QueueFlags(), qt.Equals, compute)
		return record(nothing)(ctx)
	}), qt.IsNil)

	_, err := saved.Begin()
	c.Assert(err, qt.Equals, core.ErrContextExpired)
}

func TestTimeoutThenDrain(t *testing.T) {
	c := qt.New(t)
	e := newEngine(c, soft.New(soft.DefaultAdapters()...), core.ComputeConfiguration(),
		core.WithWaitTimeout(50*time.Millisecond))
	dev := softDevice(e)
	dev.SetFaults(soft.Faults{Latency: 300 * time.Millisecond})

	err := e.Run(record(nothing))
	c.Assert(errors.Is(err, core.SyncTimeoutError), qt.IsTrue)
	c.Assert(core.CodeOf(err), qt.Equals, device.Timeout)
	c.Assert(e.Outstanding(), qt.IsTrue)
	dev.SetFaults(soft.Faults{})

	calls := 0
	counted := func(ctx *core.Context) (core.Recording, error) {
		calls++
		return record(nothing)(ctx)
	}

	err = e.Run(counted)
	var cerr *core.Error
	c.Assert(errors.As(err, &cerr), qt.IsTrue)
	c.Assert(cerr.Kind, qt.Equals, core.SyncTimeoutError)
	c.Assert(cerr.Stage, qt.Equals, "drain")
	c.Assert(cerr.Recoverable(), qt.IsTrue)
	c.Assert(calls, qt.Equals, 0)

	time.Sleep(400 * time.Millisecond)
	c.Assert(e.Run(counted), qt.IsNil)
	c.Assert(calls, qt.Equals, 1)
	c.Assert(e.Outstanding(), qt.IsFalse)
	c.Assert(e.Submissions(), qt.Equals, uint64(2))
}

func TestNonPositiveWaitTimeoutKeepsDefault(t *testing.T) {
	c := qt.New(t)
	for _, d := range []time.Duration{0, -time.Second} {
		e := newEngine(c, soft.New(soft.DefaultAdapters()...), core.ComputeConfiguration(),
			core.WithWaitTimeout(d))
		softDevice(e).SetFaults(soft.Faults{Latency: 20 * time.Millisecond})
		c.Assert(e.Run(record(nothing)), qt.IsNil, qt.Commentf("timeout %v", d))
		c.Assert(e.Outstanding(), qt.IsFalse)
	}
}

func TestRecordFuncQueriesEngine(t *testing.T) {
	c := qt.New(t)
	e := newEngine(c, soft.New(soft.DefaultAdapters()...), core.ComputeConfiguration())
	c.Assert(e.Run(record(nothing)), qt.IsNil)

	var (
		submissions uint64
		outstanding bool
	)
	done := make(chan error, 1)
	go func() {
		done <- e.Run(func(ctx *core.Context) (core.Recording, error) {
			submissions = e.Submissions()
			outstanding = e.Outstanding()
			return record(nothing)(ctx)
		})
	}()
	select {
	case err := <-done:
		c.Assert(err, qt.IsNil)
	case <-time.After(5 * time.Second):
		c.Fatal("run blocked on the engine queried from its record function")
	}
	c.Assert(submissions, qt.Equals, uint64(1))
	c.Assert(outstanding, qt.IsFalse)
	c.Assert(e.Submissions(), qt.Equals, uint64(2))
}

func TestDeviceLostIsFatal(t *testing.T) {
	c := qt.New(t)
	for _, faults := range []soft.Faults{
		{LoseOnSubmit: true},
		{LoseOnExecute: true},
	} {
		e := newEngine(c, soft.New(soft.DefaultAdapters()...), core.ComputeConfiguration())
		softDevice(e).SetFaults(faults)

		first := e.Run(record(nothing))
		c.Assert(errors.Is(first, core.SubmissionError), qt.IsTrue)
		c.Assert(core.CodeOf(first), qt.Equals, device.ErrorDeviceLost)

		calls := 0
		second := e.Run(func(ctx *core.Context) (core.Recording, error) {
			calls++
			return record(nothing)(ctx)
		})
		c.Assert(second, qt.Equals, first)
		c.Assert(calls, qt.Equals, 0)
		c.Assert(e.Shutdown(), qt.IsNil)
	}
}

func TestShutdownForceFailsHungWork(t *testing.T) {
	c := qt.New(t)
	drv := soft.New(soft.DefaultAdapters()...)
	drv.Journal = &soft.Journal{}
	e, err := core.NewComputeEngine(drv,
		core.WithWaitTimeout(20*time.Millisecond),
		core.WithShutdownGrace(50*time.Millisecond))
	c.Assert(err, qt.IsNil)
	softDevice(e).SetFaults(soft.Faults{Hang: true})

	err = e.Run(record(nothing))
	c.Assert(errors.Is(err, core.SyncTimeoutError), qt.IsTrue)

	err = e.Shutdown()
	var cerr *core.Error
	c.Assert(errors.As(err, &cerr), qt.IsTrue)
	c.Assert(cerr.Kind, qt.Equals, core.SyncTimeoutError)
	c.Assert(cerr.Stage, qt.Equals, "shutdown")

	entries := drv.Journal.Entries()
	c.Assert(entries[len(entries)-3:], qt.DeepEquals, []string{
		"destroy command pool",
		"destroy device",
		"destroy instance",
	})
}

func TestShutdownWaitsForOutstandingWork(t *testing.T) {
	c := qt.New(t)
	e, err := core.NewComputeEngine(soft.New(soft.DefaultAdapters()...),
		core.WithWaitTimeout(10*time.Millisecond),
		core.WithShutdownGrace(time.Second))
	c.Assert(err, qt.IsNil)
	dev := softDevice(e)
	dev.SetFaults(soft.Faults{Latency: 100 * time.Millisecond})

	buf, err := dev.NewBufferUint32([]uint32{0})
	c.Assert(err, qt.IsNil)
	err = e.Run(record(func(cb *soft.CommandBuffer) {
		cb.FillBuffer(buf, 7)
	}))
	c.Assert(errors.Is(err, core.SyncTimeoutError), qt.IsTrue)

	c.Assert(e.Shutdown(), qt.IsNil)
	c.Assert(buf.Uint32(0), qt.Equals, uint32(7))
}

func TestRenderNeedsGraphicalEngine(t *testing.T) {
	c := qt.New(t)
	e := newEngine(c, soft.New(soft.DefaultAdapters()...), core.ComputeConfiguration())
	err := e.Render(record(nothing))
	c.Assert(errors.Is(err, core.RecordingError), qt.IsTrue)
}

func TestRenderTriangle(t *testing.T) {
	c := qt.New(t)
	e := newEngine(c, soft.New(soft.DefaultAdapters()...), core.GraphicalConfiguration())
	img, err := softDevice(e).NewImage(64, 64)
	c.Assert(err, qt.IsNil)

	green := mgl32.Vec4{0, 1, 0, 1}
	err = e.Render(record(func(cb *soft.CommandBuffer) {
		cb.BeginRenderPass(img, color.RGBA{B: 255, A: 255})
		cb.Draw([]soft.Vertex{
			{Position: mgl32.Vec2{-0.5, -0.5}, Color: green},
			{Position: mgl32.Vec2{0.5, -0.5}, Color: green},
			{Position: mgl32.Vec2{0, 0.5}, Color: green},
		})
		cb.EndRenderPass()
	}))
	c.Assert(err, qt.IsNil)
	c.Assert(img.RGBA().RGBAAt(32, 28), qt.Equals, color.RGBA{G: 255, A: 255})
	c.Assert(img.RGBA().RGBAAt(2, 2), qt.Equals, color.RGBA{B: 255, A: 255})
}

func TestConstructionErrors(t *testing.T) {
	c := qt.New(t)

	_, err := core.NewComputeEngine(nil)
	c.Assert(errors.Is(err, core.InitializationError), qt.IsTrue)

	drv := soft.New(soft.DefaultAdapters()...)
	drv.Unavailable = true
	_, err = core.NewComputeEngine(drv)
	c.Assert(errors.Is(err, core.InitializationError), qt.IsTrue)
	c.Assert(core.CodeOf(err), qt.Equals, device.ErrorInitializationFailed)

	_, err = core.NewGraphicalEngine(soft.New(soft.NewAdapter("compute", device.TypeDiscrete, compute)))
	c.Assert(errors.Is(err, core.NoSuitableDeviceError), qt.IsTrue)

	adapters := soft.DefaultAdapters()
	adapters[0].Faults.RejectDevice = true
	drv = soft.New(adapters...)
	drv.Journal = &soft.Journal{}
	_, err = core.NewComputeEngine(drv)
	c.Assert(errors.Is(err, core.ResourceCreationError), qt.IsTrue)
	c.Assert(drv.Journal.Entries(), qt.DeepEquals, []string{"create instance", "destroy instance"})
}

func TestLogicalDeviceOwnership(t *testing.T) {
	c := qt.New(t)
	inst := newInstance(c, soft.DefaultAdapters()...)
	cand, sel, err := core.Select(inst, core.Requirements{NeedsCompute: true})
	c.Assert(err, qt.IsNil)

	bad := sel
	bad.Index = 2
	_, err = core.NewLogicalDevice(inst, cand, bad, nil)
	c.Assert(errors.Is(err, core.ResourceCreationError), qt.IsTrue)
	bad.Index = 99
	_, err = core.NewLogicalDevice(inst, cand, bad, nil)
	c.Assert(err, qt.ErrorMatches, `.*queue family 99 does not exist on .*`)

	_, err = core.NewLogicalDevice(inst, cand, sel, []string{"VK_KHR_swapchain"})
	c.Assert(core.CodeOf(err), qt.Equals, device.ErrorExtensionNotPresent)

	dev, err := core.NewLogicalDevice(inst, cand, sel, nil)
	c.Assert(err, qt.IsNil)
	c.Assert(inst.Device(), qt.Equals, dev)
	c.Assert(dev.QueueFamilyIndex(), qt.Equals, sel.Index)

	_, err = core.NewLogicalDevice(inst, cand, sel, nil)
	c.Assert(errors.Is(err, core.ResourceCreationError), qt.IsTrue)

	_, err = core.NewCommandAllocator(dev)
	c.Assert(err, qt.IsNil)
	_, err = core.NewCommandAllocator(dev)
	c.Assert(errors.Is(err, core.ResourceCreationError), qt.IsTrue)
}
