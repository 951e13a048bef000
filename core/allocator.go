// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"github.com/devblok/vkengine/device"
	"github.com/pkg/errors"
)

// CommandAllocator owns the command pool of a logical device
type CommandAllocator struct {
	device *LogicalDevice
	pool   device.CommandPool
}

// NewCommandAllocator creates the command pool bound to the device's
// queue family. A device has at most one allocator.
func NewCommandAllocator(d *LogicalDevice) (*CommandAllocator, error) {
	if d == nil {
		return nil, &Error{Kind: ResourceCreationError, Stage: "allocator", Code: device.ErrorInitializationFailed, Err: errors.New("no device")}
	}
	if d.allocator != nil {
		return nil, &Error{Kind: ResourceCreationError, Stage: "allocator", Code: device.ErrorTooManyObjects, Err: errors.New("device already owns an allocator")}
	}
	pool, err := d.handle.NewCommandPool()
	if err != nil {
		return nil, newError(ResourceCreationError, "allocator", err)
	}
	if pool.Family() != d.QueueFamilyIndex() {
		pool.Destroy()
		return nil, &Error{Kind: ResourceCreationError, Stage: "allocator", Code: device.ErrorInitializationFailed, Err: errors.Errorf("pool is bound to family %d, device uses %d", pool.Family(), d.QueueFamilyIndex())}
	}
	a := &CommandAllocator{device: d, pool: pool}
	d.allocator = a
	return a, nil
}

// QueueFamilyIndex is the family command buffers are allocated for
func (a *CommandAllocator) QueueFamilyIndex() int {
	return a.pool.Family()
}

func (a *CommandAllocator) begin() (*Recorder, error) {
	buf, err := a.pool.Allocate()
	if err != nil {
		return nil, newError(ResourceCreationError, "allocate", err)
	}
	if err := buf.Begin(); err != nil {
		a.pool.Free(buf)
		return nil, newError(RecordingError, "begin", err)
	}
	return &Recorder{allocator: a, buffer: buf}, nil
}

func (a *CommandAllocator) free(buf device.CommandBuffer) {
	a.pool.Free(buf)
}

func (a *CommandAllocator) destroy() {
	a.pool.Destroy()
}

// Recorder is a command buffer being recorded
type Recorder struct {
	allocator *CommandAllocator
	buffer    device.CommandBuffer
	finished  bool
	released  bool
}

// Handle returns the driver native command buffer to record into
func (r *Recorder) Handle() interface{} {
	return r.buffer.Handle()
}

// Finish ends recording and returns the finalized recording
func (r *Recorder) Finish() (Recording, error) {
	if r.released {
		return Recording{}, errors.New("recorder was released")
	}
	if r.finished {
		return Recording{}, errors.New("recording already finished")
	}
	if err := r.buffer.End(); err != nil {
		return Recording{}, err
	}
	r.finished = true
	return Recording{recorder: r}, nil
}

func (r *Recorder) release() {
	if r.released {
		return
	}
	r.released = true
	r.allocator.free(r.buffer)
}

// Recording is a finalized command buffer ready for submission
type Recording struct {
	recorder *Recorder
}

// Valid reports whether the recording was produced by Finish
func (r Recording) Valid() bool {
	return r.recorder != nil && r.recorder.finished && !r.recorder.released
}
