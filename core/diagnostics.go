// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import "github.com/devblok/vkengine/device"

// CapabilityReport is a snapshot of what an instance and its devices support
type CapabilityReport struct {
	Driver      string          `json:"driver"`
	APIVersion  device.Version  `json:"apiVersion"`
	Diagnostics bool            `json:"diagnostics"`
	Layers      []string        `json:"layers"`
	Extensions  []string        `json:"extensions"`
	Devices     []DeviceReport  `json:"devices"`
	Selected    *SelectedDevice `json:"selected,omitempty"`
}

// DeviceReport describes one enumerated physical device
type DeviceReport struct {
	Index         int                  `json:"index"`
	Name          string               `json:"name"`
	Type          device.Type          `json:"type"`
	DriverVersion device.Version       `json:"driverVersion"`
	APIVersion    device.Version       `json:"apiVersion"`
	VendorID      int                  `json:"vendorId"`
	ID            int                  `json:"id"`
	Memory        uint64               `json:"memory"`
	Invalid       bool                 `json:"invalid,omitempty"`
	QueueFamilies []device.QueueFamily `json:"queueFamilies"`
	Extensions    []string             `json:"extensions,omitempty"`
}

// SelectedDevice is the device and queue family a logical device uses
type SelectedDevice struct {
	Index      int               `json:"index"`
	Name       string            `json:"name"`
	Family     int               `json:"family"`
	Flags      device.QueueFlags `json:"flags"`
	Extensions []string          `json:"extensions,omitempty"`
}

// Report describes the instance and every device it enumerated
func Report(inst *Instance) CapabilityReport {
	r := CapabilityReport{
		Driver:      inst.Driver(),
		APIVersion:  inst.APIVersion(),
		Diagnostics: inst.Diagnostics(),
		Layers:      inst.Layers(),
		Extensions:  inst.Extensions(),
	}
	for _, c := range inst.candidates {
		r.Devices = append(r.Devices, DeviceReport{
			Index:         c.Index,
			Name:          c.Info.Name,
			Type:          c.Info.Type,
			DriverVersion: c.Info.DriverVersion,
			APIVersion:    c.Info.APIVersion,
			VendorID:      c.Info.VendorID,
			ID:            c.Info.ID,
			Memory:        c.Info.Memory,
			Invalid:       c.Info.Invalid,
			QueueFamilies: append([]device.QueueFamily(nil), c.Info.QueueFamilies...),
			Extensions:    append([]string(nil), c.Info.Extensions...),
		})
	}
	return r
}

// Report describes the instance and marks the device in use
func (d *LogicalDevice) Report() CapabilityReport {
	r := Report(d.instance)
	r.Selected = &SelectedDevice{
		Index:      d.candidate.Index,
		Name:       d.candidate.Info.Name,
		Family:     d.selection.Index,
		Flags:      d.selection.Supported,
		Extensions: d.Extensions(),
	}
	return r
}

// Report describes the engine's instance and device
func (e *Engine) Report() CapabilityReport {
	return e.device.Report()
}
