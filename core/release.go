// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build !debug

package core

// DiagnosticsDefault disables validation unless built with -tags debug
const DiagnosticsDefault = false
