// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"github.com/devblok/vkengine/device"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// LogicalDevice owns the driver device and its single queue. It belongs to
// the instance it was made from and is released together with it.
type LogicalDevice struct {
	instance   *Instance
	candidate  Candidate
	selection  QueueFamilySelection
	extensions []string

	handle    device.Device
	queue     device.Queue
	allocator *CommandAllocator
	log       logrus.FieldLogger
}

// NewLogicalDevice creates the logical device with one queue from the
// selected family. Only the given extensions are enabled.
func NewLogicalDevice(inst *Instance, c Candidate, sel QueueFamilySelection, extensions []string) (*LogicalDevice, error) {
	if inst == nil || inst.destroyed {
		return nil, &Error{Kind: ResourceCreationError, Stage: "device", Code: device.ErrorInitializationFailed, Err: errors.New("instance is not alive")}
	}
	if inst.device != nil {
		return nil, &Error{Kind: ResourceCreationError, Stage: "device", Code: device.ErrorTooManyObjects, Err: errors.New("instance already owns a logical device")}
	}
	if c.physical == nil || c.Index < 0 || c.Index >= len(inst.candidates) || inst.candidates[c.Index].physical != c.physical {
		return nil, &Error{Kind: ResourceCreationError, Stage: "device", Code: device.ErrorInitializationFailed, Err: errors.New("candidate was not enumerated by this instance")}
	}
	if err := checkSelection(c, sel); err != nil {
		return nil, &Error{Kind: ResourceCreationError, Stage: "device", Code: device.ErrorFeatureNotPresent, Err: err}
	}
	for _, ext := range extensions {
		if !c.Info.HasExtension(ext) {
			return nil, &Error{Kind: ResourceCreationError, Stage: "device", Code: device.ErrorExtensionNotPresent, Err: errors.Errorf("extension %s is not supported by %s", ext, c.Info.Name)}
		}
	}

	handle, err := c.physical.NewDevice(sel.Index, extensions)
	if err != nil {
		return nil, newError(ResourceCreationError, "device", err)
	}

	d := &LogicalDevice{
		instance:   inst,
		candidate:  c,
		selection:  sel,
		extensions: append([]string(nil), extensions...),
		handle:     handle,
		queue:      handle.Queue(),
		log: inst.log.WithFields(logrus.Fields{
			"device": c.Info.Name,
			"family": sel.Index,
		}),
	}
	inst.device = d
	d.log.Debug("logical device created")
	return d, nil
}

// checkSelection holds the selection to the family table of the candidate
func checkSelection(c Candidate, sel QueueFamilySelection) error {
	if sel.Index < 0 || sel.Index >= len(c.Info.QueueFamilies) {
		return errors.Errorf("queue family %d does not exist on %s", sel.Index, c.Info.Name)
	}
	qf := c.Info.QueueFamilies[sel.Index]
	if qf.Count == 0 {
		return errors.Errorf("queue family %d has no queues", sel.Index)
	}
	if !qf.Flags.Has(sel.Flags) {
		return errors.Errorf("queue family %d supports %s, %s is required", sel.Index, qf.Flags, sel.Flags)
	}
	return nil
}

// Device returns the driver device
func (d *LogicalDevice) Device() device.Device {
	return d.handle
}

// Queue returns the only queue of the device
func (d *LogicalDevice) Queue() device.Queue {
	return d.queue
}

// QueueFamilyIndex is the family the queue was drawn from
func (d *LogicalDevice) QueueFamilyIndex() int {
	return d.selection.Index
}

// Candidate the device was made from
func (d *LogicalDevice) Candidate() Candidate {
	return d.candidate
}

// Selection is the queue family selection the device was made with
func (d *LogicalDevice) Selection() QueueFamilySelection {
	return d.selection
}

// Extensions enabled on the device
func (d *LogicalDevice) Extensions() []string {
	return append([]string(nil), d.extensions...)
}

// Allocator returns the command allocator of the device, if made
func (d *LogicalDevice) Allocator() *CommandAllocator {
	return d.allocator
}

// Instance the device belongs to
func (d *LogicalDevice) Instance() *Instance {
	return d.instance
}

// destroy releases the allocator and then the device, queue included
func (d *LogicalDevice) destroy() {
	if d.allocator != nil {
		d.allocator.destroy()
		d.allocator = nil
	}
	d.handle.Destroy()
	d.log.Debug("logical device destroyed")
}
