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

// Candidate is a physical device as it was seen at enumeration
type Candidate struct {
	// Index is the position in enumeration order
	Index int
	Info  device.PhysicalDeviceInfo

	physical device.PhysicalDevice
}

// Instance owns the driver instance and, through it, everything made from it
type Instance struct {
	driver      device.Driver
	handle      device.Instance
	diagnostics bool
	candidates  []Candidate
	log         logrus.FieldLogger

	device    *LogicalDevice
	destroyed bool
}

// NewInstance connects to the driver and enumerates its physical devices.
// An empty enumeration is not an error here, selection reports it.
func NewInstance(drv device.Driver, enableDiagnostics bool, opts ...Option) (*Instance, error) {
	o := newOptions(opts)
	if drv == nil {
		return nil, &Error{
			Kind:  InitializationError,
			Stage: "instance",
			Code:  device.ErrorInitializationFailed,
			Err:   errors.New("no driver"),
		}
	}

	handle, err := drv.NewInstance(device.InstanceInfo{
		ApplicationName:    o.application,
		ApplicationVersion: device.MakeVersion(1, 0, 0),
		EngineName:         "vkengine",
		APIVersion:         device.MakeVersion(1, 0, 0),
		Debug:              enableDiagnostics,
	})
	if err != nil {
		return nil, newError(InitializationError, "instance", err)
	}

	log := o.log.WithField("driver", drv.Name())
	if enableDiagnostics && len(handle.Layers()) == 0 {
		log.Warn("diagnostics requested, but no validation layers are available")
	}

	physical, err := handle.PhysicalDevices()
	if err != nil {
		handle.Destroy()
		return nil, newError(InitializationError, "enumerate", err)
	}

	inst := &Instance{
		driver:      drv,
		handle:      handle,
		diagnostics: enableDiagnostics,
		log:         log,
	}
	for i, pd := range physical {
		inst.candidates = append(inst.candidates, Candidate{
			Index:    i,
			Info:     pd.Info(),
			physical: pd,
		})
	}

	log.WithFields(logrus.Fields{
		"api":     handle.APIVersion(),
		"devices": len(inst.candidates),
		"layers":  handle.Layers(),
	}).Debug("instance created")
	return inst, nil
}

// Driver is the name of the driver the instance was created from
func (i *Instance) Driver() string {
	return i.driver.Name()
}

// APIVersion supported by the instance
func (i *Instance) APIVersion() device.Version {
	return i.handle.APIVersion()
}

// Diagnostics reports whether diagnostics were requested
func (i *Instance) Diagnostics() bool {
	return i.diagnostics
}

// Layers enabled on the instance
func (i *Instance) Layers() []string {
	return i.handle.Layers()
}

// Extensions enabled on the instance
func (i *Instance) Extensions() []string {
	return i.handle.Extensions()
}

// Candidates returns the enumerated physical devices in enumeration order
func (i *Instance) Candidates() []Candidate {
	return append([]Candidate(nil), i.candidates...)
}

// Device returns the logical device made from this instance, if any
func (i *Instance) Device() *LogicalDevice {
	return i.device
}

// Destroy releases the logical device, if any, and then the instance.
// It is safe to call more than once.
func (i *Instance) Destroy() {
	if i == nil || i.destroyed {
		return
	}
	if i.device != nil {
		i.device.destroy()
		i.device = nil
	}
	i.handle.Destroy()
	i.destroyed = true
	i.log.Debug("instance destroyed")
}
