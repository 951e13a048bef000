// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"io/ioutil"
	"time"

	"github.com/sirupsen/logrus"
)

// Configuration defines what an engine needs from the hardware
type Configuration struct {
	NeedsCompute  bool
	NeedsGraphics bool

	// EnableDiagnostics turns on validation layers and debug reporting.
	// Usually DiagnosticsDefault, which follows the build mode.
	EnableDiagnostics bool
}

// ComputeConfiguration is the configuration of a compute engine
func ComputeConfiguration() Configuration {
	return Configuration{
		NeedsCompute:      true,
		EnableDiagnostics: DiagnosticsDefault,
	}
}

// GraphicalConfiguration is the configuration of a graphical engine,
// which can also dispatch compute work
func GraphicalConfiguration() Configuration {
	return Configuration{
		NeedsCompute:      true,
		NeedsGraphics:     true,
		EnableDiagnostics: DiagnosticsDefault,
	}
}

func (c Configuration) requirements() Requirements {
	return Requirements{
		NeedsCompute:  c.NeedsCompute,
		NeedsGraphics: c.NeedsGraphics,
	}
}

// Option changes how components are constructed
type Option func(*options)

type options struct {
	log         logrus.FieldLogger
	observer    func(Event)
	application string
	time        TimeConfiguration
}

func newOptions(opts []Option) options {
	o := options{
		application: "vkengine",
		time:        DefaultTimeConfiguration(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = discardLogger()
	}
	return o
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.Out = ioutil.Discard
	return l
}

// WithLogger sets the logger components report to. Nothing is logged by default.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithObserver receives an event for every step of every run
func WithObserver(fn func(Event)) Option {
	return func(o *options) {
		o.observer = fn
	}
}

// WithApplicationName sets the name the instance is created with
func WithApplicationName(name string) Option {
	return func(o *options) {
		o.application = name
	}
}

// WithWaitTimeout bounds how long a run waits for its work to complete.
// A duration that is not positive keeps DefaultWaitTimeout.
func WithWaitTimeout(d time.Duration) Option {
	return func(o *options) {
		if d <= 0 {
			d = DefaultWaitTimeout
		}
		o.time.WaitTimeout = d
	}
}

// WithShutdownGrace bounds how long shutdown waits for outstanding work
func WithShutdownGrace(d time.Duration) Option {
	return func(o *options) {
		o.time.ShutdownGrace = d
	}
}
