// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package settings reads the configuration of the demo programs from
// the environment, falling back to .env files.
package settings

import (
	"os"
	"strconv"

	"github.com/gobuffalo/envy"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Environment variables understood by Load
const (
	DriverKey      = "KORU_DRIVER"
	LogLevelKey    = "KORU_LOG_LEVEL"
	DiagnosticsKey = "KORU_DIAGNOSTICS"
	ShaderPackKey  = "KORU_SHADER_PACK"
	OutputKey      = "KORU_OUTPUT"
)

// Driver names
const (
	DriverSoft   = "soft"
	DriverVulkan = "vulkan"
)

// Settings is what a demo needs to know before it starts
type Settings struct {
	// Driver is either DriverSoft or DriverVulkan
	Driver   string
	LogLevel logrus.Level

	// Diagnostics is nil when not set, so the build mode default applies
	Diagnostics *bool

	// ShaderPack is the path of a kar archive with SPIR-V modules.
	// Empty means the pack bundled with the demos.
	ShaderPack string

	// Output is the file images are written to
	Output string
}

// Defaults returns the settings used when nothing is configured
func Defaults() Settings {
	return Settings{
		Driver:   DriverSoft,
		LogLevel: logrus.InfoLevel,
	}
}

// Load reads the settings. Values from the environment win over
// values from files, missing files are skipped.
func Load(files ...string) (Settings, error) {
	envy.Reload()

	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) > 0 {
		values, err := godotenv.Read(existing...)
		if err != nil {
			return Settings{}, errors.Wrap(err, "reading env files")
		}
		for k, v := range values {
			if _, ok := os.LookupEnv(k); !ok {
				envy.Set(k, v)
			}
		}
	}

	s := Defaults()
	s.Driver = envy.Get(DriverKey, s.Driver)
	switch s.Driver {
	case DriverSoft, DriverVulkan:
	default:
		return Settings{}, errors.Errorf("%s: unknown driver %q", DriverKey, s.Driver)
	}

	if lvl := envy.Get(LogLevelKey, ""); lvl != "" {
		level, err := logrus.ParseLevel(lvl)
		if err != nil {
			return Settings{}, errors.Wrap(err, LogLevelKey)
		}
		s.LogLevel = level
	}

	if diag := envy.Get(DiagnosticsKey, ""); diag != "" {
		enabled, err := strconv.ParseBool(diag)
		if err != nil {
			return Settings{}, errors.Wrap(err, DiagnosticsKey)
		}
		s.Diagnostics = &enabled
	}

	s.ShaderPack = envy.Get(ShaderPackKey, "")
	s.Output = envy.Get(OutputKey, "")
	return s, nil
}

// Logger creates the logger demos report to
func (s Settings) Logger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(s.LogLevel)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return log
}

// DiagnosticsOr returns the configured diagnostics, or def when not set
func (s Settings) DiagnosticsOr(def bool) bool {
	if s.Diagnostics == nil {
		return def
	}
	return *s.Diagnostics
}

// OutputOr returns the configured output file, or def when not set
func (s Settings) OutputOr(def string) string {
	if s.Output == "" {
		return def
	}
	return s.Output
}
