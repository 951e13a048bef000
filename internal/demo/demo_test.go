// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package demo_test

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/devblok/vkengine/core"
	"github.com/devblok/vkengine/device"
	"github.com/devblok/vkengine/device/soft"
	"github.com/devblok/vkengine/internal/demo"
	"github.com/devblok/vkengine/utility/kar"
	"github.com/devblok/vkengine/utility/settings"
)

func newDemo(c *qt.C) (*demo.Demo, *bytes.Buffer) {
	var out bytes.Buffer
	s := settings.Defaults()
	s.LogLevel = logrus.DebugLevel
	log := s.Logger()
	log.Out = &out
	return &demo.Demo{Name: "test", Settings: s, Log: log}, &out
}

func TestNewEngineSoft(t *testing.T) {
	c := qt.New(t)
	d, out := newDemo(c)
	c.Assert(d.Soft(), qt.IsTrue)
	_, ok := d.Driver().(*soft.Driver)
	c.Assert(ok, qt.IsTrue)

	e, err := d.NewEngine(core.ComputeConfiguration())
	c.Assert(err, qt.IsNil)
	d.PrintReport(logrus.InfoLevel, e.Report())
	d.Shutdown(e)

	c.Assert(strings.Contains(out.String(), "selected"), qt.IsTrue)
	c.Assert(strings.Contains(out.String(), "queue family"), qt.IsTrue)
}

func TestConfigurationDiagnostics(t *testing.T) {
	c := qt.New(t)
	d, _ := newDemo(c)

	cfg := d.Configuration(core.Configuration{NeedsCompute: true, EnableDiagnostics: true})
	c.Assert(cfg.EnableDiagnostics, qt.IsTrue)

	off := false
	d.Settings.Diagnostics = &off
	cfg = d.Configuration(core.Configuration{NeedsCompute: true, EnableDiagnostics: true})
	c.Assert(cfg.EnableDiagnostics, qt.IsFalse)
}

func TestShaderFromConfiguredPack(t *testing.T) {
	c := qt.New(t)
	dir, err := ioutil.TempDir("", "demo")
	c.Assert(err, qt.IsNil)
	c.Cleanup(func() { os.RemoveAll(dir) })

	b := kar.NewBuilder(kar.Header{Author: "test", Version: 1})
	c.Assert(b.Add("times12.spv", bytes.NewReader([]byte{3, 2, 35, 7})), qt.IsNil)
	path := filepath.Join(dir, "shaders.kar")
	f, err := os.Create(path)
	c.Assert(err, qt.IsNil)
	_, err = b.WriteTo(f)
	c.Assert(err, qt.IsNil)
	c.Assert(f.Close(), qt.IsNil)

	d, _ := newDemo(c)
	d.Settings.ShaderPack = path
	code, err := d.Shader("times12.spv")
	c.Assert(err, qt.IsNil)
	c.Assert(code, qt.DeepEquals, []byte{3, 2, 35, 7})

	_, err = d.Shader("missing.spv")
	c.Assert(errors.Cause(err), qt.Equals, kar.ErrNotFound)
}

func TestFields(t *testing.T) {
	c := qt.New(t)
	drv := soft.New(soft.DefaultAdapters()...)
	drv.Unavailable = true
	_, err := core.NewComputeEngine(drv)
	c.Assert(err, qt.Not(qt.IsNil))

	f := demo.Fields(err)
	c.Assert(f["kind"], qt.Equals, core.InitializationError.Error())
	c.Assert(f["code"], qt.Equals, device.ErrorInitializationFailed.Error())
	c.Assert(f["recoverable"], qt.Equals, false)

	c.Assert(demo.Fields(errors.New("plain")), qt.HasLen, 0)
}
