// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"fmt"
	"strings"

	"github.com/devblok/vkengine/device"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Requirements a physical device must meet to be selected
type Requirements struct {
	NeedsCompute  bool
	NeedsGraphics bool

	// Extensions the device must advertise
	Extensions []string
}

// Flags returns the queue capabilities the requirements ask for
func (r Requirements) Flags() device.QueueFlags {
	var f device.QueueFlags
	if r.NeedsCompute {
		f |= device.QueueCompute
	}
	if r.NeedsGraphics {
		f |= device.QueueGraphics
	}
	return f
}

// QueueFamilySelection is the queue family chosen on a candidate
type QueueFamilySelection struct {
	Index int

	// Flags are the capabilities the family was selected for
	Flags device.QueueFlags

	// Supported are all the capabilities of the family
	Supported device.QueueFlags
}

// Score ranks device types, higher is better
func Score(t device.Type) int {
	switch t {
	case device.TypeDiscrete:
		return 100
	case device.TypeIntegrated:
		return 50
	case device.TypeVirtual:
		return 25
	case device.TypeCPU:
		return 1
	}
	return 0
}

type verdict struct {
	score     int
	selection QueueFamilySelection
	reason    string
}

func (v verdict) ok() bool {
	return v.reason == ""
}

func evaluate(c Candidate, req Requirements) verdict {
	if c.Info.Invalid {
		return verdict{reason: "device properties are incomplete"}
	}
	for _, ext := range req.Extensions {
		if !c.Info.HasExtension(ext) {
			return verdict{reason: "missing extension " + ext}
		}
	}

	want := req.Flags()
	best := -1
	bestExtra := 0
	for i, qf := range c.Info.QueueFamilies {
		if qf.Count == 0 || !qf.Flags.Has(want) {
			continue
		}
		extra := (qf.Flags &^ want).Count()
		if best < 0 || extra < bestExtra {
			best, bestExtra = i, extra
		}
	}
	if best < 0 {
		return verdict{reason: fmt.Sprintf("no queue family supports %s", want)}
	}

	qf := c.Info.QueueFamilies[best]
	return verdict{
		score: Score(c.Info.Type),
		selection: QueueFamilySelection{
			Index:     qf.Index,
			Flags:     want,
			Supported: qf.Flags,
		},
	}
}

// SelectFrom picks the highest scoring candidate that meets the requirements,
// preferring the earliest enumerated one on ties. On the chosen candidate the
// queue family with the fewest capabilities beyond the required ones is
// selected, the lowest index winning ties.
func SelectFrom(candidates []Candidate, req Requirements) (Candidate, QueueFamilySelection, error) {
	best := -1
	var bestVerdict verdict
	var rejected []string
	for i, c := range candidates {
		v := evaluate(c, req)
		if !v.ok() {
			rejected = append(rejected, fmt.Sprintf("[%d] %s: %s", c.Index, c.Info.Name, v.reason))
			continue
		}
		if best < 0 || v.score > bestVerdict.score {
			best, bestVerdict = i, v
		}
	}

	if best < 0 {
		msg := "no devices enumerated"
		if len(rejected) > 0 {
			msg = strings.Join(rejected, "; ")
		}
		return Candidate{}, QueueFamilySelection{}, &Error{
			Kind:  NoSuitableDeviceError,
			Stage: "select",
			Code:  device.ErrorFeatureNotPresent,
			Err:   errors.New(msg),
		}
	}
	return candidates[best], bestVerdict.selection, nil
}

// Select picks a physical device and queue family of the instance
func Select(inst *Instance, req Requirements) (Candidate, QueueFamilySelection, error) {
	for _, c := range inst.candidates {
		v := evaluate(c, req)
		entry := inst.log.WithFields(logrus.Fields{
			"device": c.Info.Name,
			"index":  c.Index,
			"type":   c.Info.Type,
		})
		if v.ok() {
			entry.WithFields(logrus.Fields{
				"score":  v.score,
				"family": v.selection.Index,
			}).Debug("candidate accepted")
		} else {
			entry.WithField("reason", v.reason).Debug("candidate rejected")
		}
	}

	c, sel, err := SelectFrom(inst.candidates, req)
	if err != nil {
		return c, sel, err
	}
	inst.log.WithFields(logrus.Fields{
		"device": c.Info.Name,
		"family": sel.Index,
		"flags":  sel.Supported,
	}).Info("physical device selected")
	return c, sel, nil
}
