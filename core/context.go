// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"github.com/devblok/vkengine/device"
	"github.com/pkg/errors"
)

// ErrContextExpired is returned when a context is used after its recording step
var ErrContextExpired = errors.New("context used outside of its recording step")

// RecordFunc builds the work of one run. It is called exactly once per run,
// and must not call Run or Shutdown of the engine running it.
type RecordFunc func(ctx *Context) (Recording, error)

// Context is handed to a RecordFunc. It is only valid while the function
// runs, which is always after the previous submission has completed.
type Context struct {
	device    *LogicalDevice
	recorders []*Recorder
	expired   bool
}

func newContext(d *LogicalDevice) *Context {
	return &Context{device: d}
}

// Device returns the driver device, used to create resources
func (c *Context) Device() device.Device {
	return c.device.Device()
}

// QueueFamilyIndex is the family recorded work will execute on
func (c *Context) QueueFamilyIndex() int {
	return c.device.QueueFamilyIndex()
}

// QueueFlags are the capabilities of the queue family
func (c *Context) QueueFlags() device.QueueFlags {
	return c.device.Selection().Supported
}

// Begin starts a new command buffer from the engine's allocator
func (c *Context) Begin() (*Recorder, error) {
	if c.expired {
		return nil, ErrContextExpired
	}
	r, err := c.device.allocator.begin()
	if err != nil {
		return nil, err
	}
	c.recorders = append(c.recorders, r)
	return r, nil
}

// owns reports whether rec was recorded through this context
func (c *Context) owns(rec Recording) bool {
	for _, r := range c.recorders {
		if r == rec.recorder {
			return true
		}
	}
	return false
}

// expire ends the context, releasing every recorder except keep
func (c *Context) expire(keep *Recorder) {
	c.expired = true
	for _, r := range c.recorders {
		if r != keep {
			r.release()
		}
	}
	c.recorders = nil
}
