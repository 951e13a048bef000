// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package demo holds what every demo program does before and after its
// actual work: reading settings, choosing a driver, reporting errors.
package demo

import (
	"bytes"
	"os"

	"github.com/gobuffalo/packr"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/devblok/vkengine/core"
	"github.com/devblok/vkengine/device"
	"github.com/devblok/vkengine/device/soft"
	"github.com/devblok/vkengine/device/vulkan"
	"github.com/devblok/vkengine/utility/kar"
	"github.com/devblok/vkengine/utility/settings"
)

// ShaderPackName is the name of the bundled shader pack
const ShaderPackName = "shaders.kar"

// Shaders is the directory the bundled shader pack lives in
var Shaders = packr.NewBox("../../shaders")

// Demo is the shared state of a demo program
type Demo struct {
	Name     string
	Settings settings.Settings
	Log      *logrus.Logger
}

// Setup reads the settings from the environment and .env
func Setup(name string) (*Demo, error) {
	s, err := settings.Load(".env")
	if err != nil {
		return nil, err
	}
	return &Demo{
		Name:     name,
		Settings: s,
		Log:      s.Logger(),
	}, nil
}

// MustSetup is Setup that exits on failure
func MustSetup(name string) *Demo {
	d, err := Setup(name)
	if err != nil {
		logrus.WithError(err).Fatal("reading settings")
	}
	return d
}

// Driver returns the configured driver
func (d *Demo) Driver() device.Driver {
	if d.Settings.Driver == settings.DriverVulkan {
		return &vulkan.Driver{Log: d.Log.WithField("component", "validation")}
	}
	return soft.New(soft.DefaultAdapters()...)
}

// Soft reports whether the demo runs on the software driver
func (d *Demo) Soft() bool {
	return d.Settings.Driver == settings.DriverSoft
}

// Configuration applies configured diagnostics to cfg
func (d *Demo) Configuration(cfg core.Configuration) core.Configuration {
	cfg.EnableDiagnostics = d.Settings.DiagnosticsOr(cfg.EnableDiagnostics)
	return cfg
}

// Options are the engine options every demo uses
func (d *Demo) Options(extra ...core.Option) []core.Option {
	opts := []core.Option{
		core.WithLogger(d.Log),
		core.WithApplicationName(d.Name),
	}
	return append(opts, extra...)
}

// NewEngine creates an engine with cfg on the configured driver
func (d *Demo) NewEngine(cfg core.Configuration, extra ...core.Option) (*core.Engine, error) {
	return core.NewEngine(d.Driver(), d.Configuration(cfg), d.Options(extra...)...)
}

// ShaderPack opens the configured shader pack, or the bundled one
func (d *Demo) ShaderPack() (*kar.Archive, error) {
	if d.Settings.ShaderPack != "" {
		ar, err := kar.OpenFile(d.Settings.ShaderPack)
		return ar, errors.Wrapf(err, "opening shader pack %s", d.Settings.ShaderPack)
	}
	data, err := Shaders.Find(ShaderPackName)
	if err != nil {
		return nil, errors.Wrapf(err, "bundled shader pack not found, build %s with cmd/kar or set %s",
			ShaderPackName, settings.ShaderPackKey)
	}
	ar, err := kar.Open(bytes.NewReader(data))
	return ar, errors.Wrap(err, "opening bundled shader pack")
}

// Shader reads one SPIR-V module from the shader pack
func (d *Demo) Shader(name string) ([]byte, error) {
	ar, err := d.ShaderPack()
	if err != nil {
		return nil, err
	}
	defer ar.Close()
	code, err := ar.ReadAll(name)
	return code, errors.Wrapf(err, "reading shader %s", name)
}

// PrintReport logs the capability report at the given level
func (d *Demo) PrintReport(level logrus.Level, r core.CapabilityReport) {
	d.Log.WithFields(logrus.Fields{
		"driver":      r.Driver,
		"apiVersion":  r.APIVersion,
		"diagnostics": r.Diagnostics,
	}).Log(level, "instance")
	for _, dev := range r.Devices {
		d.Log.WithFields(logrus.Fields{
			"index":  dev.Index,
			"type":   dev.Type,
			"driver": dev.DriverVersion,
			"api":    dev.APIVersion,
			"memory": dev.Memory,
		}).Log(level, dev.Name)
		for _, f := range dev.QueueFamilies {
			d.Log.WithFields(logrus.Fields{
				"family": f.Index,
				"flags":  f.Flags,
				"count":  f.Count,
			}).Log(level, "queue family")
		}
	}
	if r.Selected != nil {
		d.Log.WithFields(logrus.Fields{
			"device": r.Selected.Name,
			"family": r.Selected.Family,
			"flags":  r.Selected.Flags,
		}).Log(level, "selected")
	}
}

// Fields describes an engine error for logging
func Fields(err error) logrus.Fields {
	f := logrus.Fields{}
	if kind := core.KindOf(err); kind != 0 {
		f["kind"] = kind.Error()
	}
	if code := core.CodeOf(err); code != device.Success && code != device.ErrorUnknown {
		f["code"] = code.Error()
	}
	var e *core.Error
	if errors.As(err, &e) {
		f["stage"] = e.Stage
		f["recoverable"] = e.Recoverable()
	}
	return f
}

// Exit logs err and exits with a failure status, unless err is nil
func (d *Demo) Exit(err error) {
	if err == nil {
		return
	}
	d.Log.WithFields(Fields(err)).WithError(err).Error(d.Name + " failed")
	os.Exit(1)
}

// Shutdown shuts the engine down, logging what went wrong
func (d *Demo) Shutdown(e *core.Engine) {
	if err := e.Shutdown(); err != nil {
		d.Log.WithFields(Fields(err)).WithError(err).Warn("shutdown")
	}
}
