// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build debug

package core

// DiagnosticsDefault enables validation in debug builds
const DiagnosticsDefault = true
