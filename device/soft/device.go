// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package soft

import (
	"sync"
	"time"

	"github.com/devblok/vkengine/device"
	"github.com/pkg/errors"
)

// Device is a logical device of the software driver. Submissions
// are executed one after another by a single queue goroutine.
type Device struct {
	physical *physicalDevice
	family   device.QueueFamily
	queue    *queue

	mu     sync.Mutex
	faults Faults
	lost   bool

	jobs chan *submission
	quit chan struct{}
	wg   sync.WaitGroup

	destroyed bool
}

func newDevice(p *physicalDevice, family device.QueueFamily) *Device {
	d := &Device{
		physical: p,
		family:   family,
		faults:   p.faults,
		jobs:     make(chan *submission, 16),
		quit:     make(chan struct{}),
	}
	d.queue = &queue{device: d}
	d.wg.Add(1)
	go d.execute()
	return d
}

// SetFaults replaces the faults of a running device
func (d *Device) SetFaults(f Faults) {
	d.mu.Lock()
	d.faults = f
	d.mu.Unlock()
}

// Lost reports whether the device has been lost
func (d *Device) Lost() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lost
}

// Info returns the physical device snapshot this device was created from
func (d *Device) Info() device.PhysicalDeviceInfo {
	return d.physical.Info()
}

// Queue returns the only queue of the device
func (d *Device) Queue() device.Queue {
	return d.queue
}

// NewCommandPool creates a pool bound to the device's queue family
func (d *Device) NewCommandPool() (device.CommandPool, error) {
	d.journal("create command pool")
	return &commandPool{device: d, family: d.family}, nil
}

// WaitIdle blocks until every submission made so far has executed
func (d *Device) WaitIdle() error {
	f, err := d.enqueue(nil)
	if err != nil {
		return err
	}
	<-f.done
	return f.err
}

// Destroy stops the queue, failing anything that did not execute yet
func (d *Device) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	d.mu.Unlock()

	close(d.quit)
	d.wg.Wait()
	d.journal("destroy device")
}

func (d *Device) journal(entry string) {
	d.physical.instance.driver.Journal.record(entry)
}

func (d *Device) enqueue(cb *CommandBuffer) (*fence, error) {
	d.mu.Lock()
	switch {
	case d.destroyed:
		d.mu.Unlock()
		return nil, errors.Wrap(device.ErrorDeviceLost, "soft: device destroyed")
	case d.lost:
		d.mu.Unlock()
		return nil, errors.Wrap(device.ErrorDeviceLost, "soft: queue submit")
	case cb != nil && d.faults.LoseOnSubmit:
		d.lost = true
		d.mu.Unlock()
		return nil, errors.Wrap(device.ErrorDeviceLost, "soft: queue submit")
	}
	d.mu.Unlock()

	f := &fence{done: make(chan struct{})}
	select {
	case d.jobs <- &submission{cb: cb, fence: f}:
	case <-d.quit:
		return nil, errors.Wrap(device.ErrorDeviceLost, "soft: device destroyed")
	}
	return f, nil
}

type submission struct {
	cb    *CommandBuffer
	fence *fence
}

func (d *Device) execute() {
	defer d.wg.Done()
	for {
		select {
		case <-d.quit:
			d.drain()
			return
		case s := <-d.jobs:
			s.fence.signal(d.run(s.cb))
		}
	}
}

// drain fails everything left in the queue once the device is destroyed
func (d *Device) drain() {
	for {
		select {
		case s := <-d.jobs:
			s.fence.signal(errors.Wrap(device.ErrorDeviceLost, "soft: device destroyed"))
		default:
			return
		}
	}
}

func (d *Device) run(cb *CommandBuffer) error {
	d.mu.Lock()
	faults := d.faults
	lost := d.lost
	d.mu.Unlock()

	if lost {
		return errors.Wrap(device.ErrorDeviceLost, "soft: execute")
	}
	if cb == nil {
		return nil
	}

	if faults.Hang {
		<-d.quit
		return errors.Wrap(device.ErrorDeviceLost, "soft: device destroyed while hung")
	}
	if faults.Latency > 0 {
		t := time.NewTimer(faults.Latency)
		select {
		case <-t.C:
		case <-d.quit:
			t.Stop()
			return errors.Wrap(device.ErrorDeviceLost, "soft: device destroyed")
		}
	}
	if faults.LoseOnExecute {
		d.mu.Lock()
		d.lost = true
		d.mu.Unlock()
		return errors.Wrap(device.ErrorDeviceLost, "soft: execute")
	}

	err := cb.execute()
	cb.complete()
	return err
}

type queue struct {
	device *Device
}

func (q *queue) Family() int {
	return q.device.family.Index
}

func (q *queue) Submit(buf device.CommandBuffer) (device.Fence, error) {
	cb, ok := buf.(*CommandBuffer)
	if !ok || cb.pool.device != q.device {
		return nil, errors.Wrap(device.ErrorUnknown, "soft: command buffer does not belong to this device")
	}
	if err := cb.submit(); err != nil {
		return nil, err
	}
	f, err := q.device.enqueue(cb)
	if err != nil {
		cb.complete()
		return nil, err
	}
	return f, nil
}

type fence struct {
	done chan struct{}
	err  error
}

func (f *fence) signal(err error) {
	f.err = err
	close(f.done)
}

func (f *fence) Wait(timeout time.Duration) error {
	if timeout <= 0 {
		select {
		case <-f.done:
			return f.err
		default:
			return device.Timeout
		}
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-f.done:
		return f.err
	case <-t.C:
		return device.Timeout
	}
}

func (f *fence) Destroy() {}

type commandPool struct {
	device *Device
	family device.QueueFamily

	mu        sync.Mutex
	allocated int
	destroyed bool
}

func (p *commandPool) Family() int {
	return p.family.Index
}

func (p *commandPool) Allocate() (device.CommandBuffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return nil, errors.Wrap(device.ErrorUnknown, "soft: command pool destroyed")
	}
	p.allocated++
	return &CommandBuffer{pool: p}, nil
}

func (p *commandPool) Free(buf device.CommandBuffer) {
	cb, ok := buf.(*CommandBuffer)
	if !ok || cb.pool != p {
		return
	}
	p.mu.Lock()
	p.allocated--
	p.mu.Unlock()
	cb.release()
}

func (p *commandPool) Destroy() {
	p.mu.Lock()
	p.destroyed = true
	p.mu.Unlock()
	p.device.journal("destroy command pool")
}
