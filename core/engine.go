// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/devblok/vkengine/device"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Engine runs one-shot units of GPU work: it records them through a
// RecordFunc, submits them to its queue and waits until they complete.
// Runs are serialized; at most one submission is ever outstanding.
type Engine struct {
	mu sync.Mutex

	cfg      Configuration
	time     TimeConfiguration
	observer func(Event)
	log      logrus.FieldLogger

	instance  *Instance
	device    *LogicalDevice
	allocator *CommandAllocator

	outstanding *ticket
	fatal       error
	closed      bool

	// readable without mu, from record functions and observers
	inFlight    atomic.Bool
	submissions atomic.Uint64
}

// NewEngine creates the instance, selects a device, and creates the
// logical device and allocator. Anything created before a failure is
// released before the error is returned.
func NewEngine(drv device.Driver, cfg Configuration, opts ...Option) (*Engine, error) {
	o := newOptions(opts)

	inst, err := NewInstance(drv, cfg.EnableDiagnostics, opts...)
	if err != nil {
		return nil, err
	}

	c, sel, err := Select(inst, cfg.requirements())
	if err != nil {
		inst.Destroy()
		return nil, err
	}

	dev, err := NewLogicalDevice(inst, c, sel, nil)
	if err != nil {
		inst.Destroy()
		return nil, err
	}

	alloc, err := NewCommandAllocator(dev)
	if err != nil {
		inst.Destroy()
		return nil, err
	}

	return &Engine{
		cfg:       cfg,
		time:      o.time,
		observer:  o.observer,
		log:       dev.log,
		instance:  inst,
		device:    dev,
		allocator: alloc,
	}, nil
}

// NewComputeEngine creates an engine for compute work
func NewComputeEngine(drv device.Driver, opts ...Option) (*Engine, error) {
	return NewEngine(drv, ComputeConfiguration(), opts...)
}

// NewGraphicalEngine creates an engine for rendering and compute work
func NewGraphicalEngine(drv device.Driver, opts ...Option) (*Engine, error) {
	return NewEngine(drv, GraphicalConfiguration(), opts...)
}

// Configuration the engine was created with
func (e *Engine) Configuration() Configuration {
	return e.cfg
}

// Instance of the engine
func (e *Engine) Instance() *Instance {
	return e.instance
}

// Device of the engine
func (e *Engine) Device() *LogicalDevice {
	return e.device
}

// Allocator of the engine
func (e *Engine) Allocator() *CommandAllocator {
	return e.allocator
}

// Compute runs compute work
func (e *Engine) Compute(fn RecordFunc) error {
	return e.Run(fn)
}

// Render runs graphics work. It fails on engines without graphics.
func (e *Engine) Render(fn RecordFunc) error {
	if !e.cfg.NeedsGraphics {
		return &Error{Kind: RecordingError, Stage: "render", Code: device.ErrorFeatureNotPresent, Err: errors.New("engine was not created for graphics")}
	}
	return e.Run(fn)
}

// Run records, submits and waits for one unit of work. It returns only
// once the work has completed, so its results can be read right away.
func (e *Engine) Run(fn RecordFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return &Error{Kind: SubmissionError, Stage: "run", Code: device.ErrorUnknown, Err: ErrClosed}
	}
	if e.fatal != nil {
		return e.fatal
	}
	if fn == nil {
		return &Error{Kind: RecordingError, Stage: "record", Code: device.ErrorUnknown, Err: errors.New("no record function")}
	}
	if err := e.drain(); err != nil {
		return err
	}

	id := e.submissions.Load() + 1
	log := e.log.WithField("ticket", id)

	rec, err := e.record(fn, id)
	if err != nil {
		log.WithError(err).Debug("recording failed, nothing submitted")
		return err
	}

	fence, err := e.device.queue.Submit(rec.recorder.buffer)
	if err != nil {
		rec.recorder.release()
		serr := newError(SubmissionError, "submit", err)
		if serr.Code == device.ErrorDeviceLost {
			e.fatal = serr
			log.WithError(err).Error("device lost on submit")
		}
		return serr
	}

	e.submissions.Store(id)
	t := &ticket{
		id:        id,
		recorder:  rec.recorder,
		fence:     fence,
		submitted: time.Now(),
	}
	e.setOutstanding(t)
	e.emit(EventSubmit, id, nil)

	return e.resolve(t, e.time.WaitTimeout, "wait")
}

// record calls fn once and checks what it returns
func (e *Engine) record(fn RecordFunc, id uint64) (Recording, error) {
	ctx := newContext(e.device)
	e.emit(EventRecordStart, id, nil)
	rec, err := fn(ctx)

	switch {
	case err != nil:
		err = newError(RecordingError, "record", err)
	case rec.recorder == nil:
		err = &Error{Kind: RecordingError, Stage: "record", Code: device.ErrorUnknown, Err: errors.New("no recording returned")}
	case !ctx.owns(rec):
		err = &Error{Kind: RecordingError, Stage: "record", Code: device.ErrorUnknown, Err: errors.New("recording was not made by this engine's allocator in this run")}
	case !rec.Valid():
		err = &Error{Kind: RecordingError, Stage: "record", Code: device.ErrorUnknown, Err: errors.New("recording is not finished")}
	}

	if err != nil {
		ctx.expire(nil)
		e.emit(EventRecordEnd, id, err)
		return Recording{}, err
	}
	ctx.expire(rec.recorder)
	e.emit(EventRecordEnd, id, nil)
	return rec, nil
}

// resolve waits for t and settles the engine state on the outcome
func (e *Engine) resolve(t *ticket, timeout time.Duration, stage string) error {
	log := e.log.WithFields(logrus.Fields{"ticket": t.id, "stage": stage})
	err := t.wait(timeout)
	e.emit(EventWaitResolved, t.id, err)

	switch t.state {
	case TicketSignaled:
		t.release()
		e.setOutstanding(nil)
		log.WithField("elapsed", time.Since(t.submitted)).Debug("work completed")
		return nil
	case TicketAbandoned:
		log.Warn("wait deadline passed, ticket abandoned")
		return newError(SyncTimeoutError, stage, err)
	}

	t.release()
	e.setOutstanding(nil)
	serr := newError(SubmissionError, stage, err)
	if serr.Code == device.ErrorDeviceLost {
		e.fatal = serr
		log.WithError(err).Error("device lost")
	}
	return serr
}

// drain settles a ticket abandoned by an earlier run, so nothing new
// is recorded while it may still be executing
func (e *Engine) drain() error {
	if e.outstanding == nil {
		return nil
	}
	return e.resolve(e.outstanding, e.time.WaitTimeout, "drain")
}

func (e *Engine) setOutstanding(t *ticket) {
	e.outstanding = t
	e.inFlight.Store(t != nil)
}

// Outstanding reports whether a timed out submission is still in flight.
// Like Submissions it may be called from a RecordFunc.
func (e *Engine) Outstanding() bool {
	return e.inFlight.Load()
}

// Submissions is the number of units of work submitted so far
func (e *Engine) Submissions() uint64 {
	return e.submissions.Load()
}

// Shutdown waits for outstanding work, force-failing it once the grace
// period passes, and releases the allocator, the device and the instance
// in that order. Later calls do nothing.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.emit(EventShutdown, e.submissions.Load(), nil)

	var err error
	idle := e.fatal == nil
	if t := e.outstanding; t != nil {
		werr := t.wait(e.time.ShutdownGrace)
		if t.state == TicketAbandoned {
			t.state = TicketFailed
			idle = false
			err = newError(SyncTimeoutError, "shutdown", werr)
			e.log.WithField("ticket", t.id).Warn("outstanding work force-failed at shutdown")
		} else {
			t.release()
		}
		e.setOutstanding(nil)
	}

	if idle {
		if werr := e.device.handle.WaitIdle(); werr != nil {
			e.log.WithError(werr).Warn("device did not go idle")
		}
	}
	e.instance.Destroy()
	e.log.Debug("engine shut down")
	return err
}

func (e *Engine) emit(kind EventKind, id uint64, err error) {
	if e.observer == nil {
		return
	}
	e.observer(Event{Kind: kind, Ticket: id, Time: time.Now(), Err: err})
}
