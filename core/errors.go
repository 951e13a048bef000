// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"fmt"

	"github.com/devblok/vkengine/device"
	"github.com/pkg/errors"
)

// ErrorKind classifies every error the engine returns. It implements
// error so that errors.Is(err, SyncTimeoutError) works on any *Error.
type ErrorKind int

// Error kinds
const (
	// InitializationError means the instance or the loader is unavailable
	InitializationError ErrorKind = iota + 1

	// NoSuitableDeviceError means no device and queue family meet the requirements
	NoSuitableDeviceError

	// ResourceCreationError means the logical device or allocator was rejected
	ResourceCreationError

	// RecordingError means the recording step failed or returned an
	// unusable recording; nothing was submitted
	RecordingError

	// SubmissionError means the queue rejected the work or the device was lost
	SubmissionError

	// SyncTimeoutError means the wait deadline passed before the work completed
	SyncTimeoutError
)

var kindNames = map[ErrorKind]string{
	InitializationError:   "initialization error",
	NoSuitableDeviceError: "no suitable device",
	ResourceCreationError: "resource creation error",
	RecordingError:        "recording error",
	SubmissionError:       "submission error",
	SyncTimeoutError:      "sync timeout",
}

func (k ErrorKind) Error() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("error kind %d", int(k))
}

// ErrClosed is carried by errors returned after Shutdown
var ErrClosed = errors.New("engine is shut down")

// Error is returned by every engine operation. Stage names the step
// that failed and Code is the driver result behind it.
type Error struct {
	Kind  ErrorKind
	Stage string
	Code  device.Result
	Err   error
}

func (e *Error) Error() string {
	msg := e.Stage + ": " + e.Kind.Error()
	if e.Code != device.Success && e.Code != device.ErrorUnknown {
		msg += " (" + e.Code.Error() + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the error against its kind
func (e *Error) Is(target error) bool {
	k, ok := target.(ErrorKind)
	return ok && k == e.Kind
}

// Recoverable reports whether the engine can be used again after this error
func (e *Error) Recoverable() bool {
	switch e.Kind {
	case SyncTimeoutError, RecordingError:
		return true
	case SubmissionError:
		return e.Code != device.ErrorDeviceLost && !errors.Is(e.Err, ErrClosed)
	}
	return false
}

// KindOf returns the kind of an engine error, or 0 for any other error
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// CodeOf returns the driver result carried by err
func CodeOf(err error) device.Result {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return device.ResultOf(err)
}

func newError(kind ErrorKind, stage string, err error) *Error {
	return &Error{
		Kind:  kind,
		Stage: stage,
		Code:  device.ResultOf(err),
		Err:   err,
	}
}
