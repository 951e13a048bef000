// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import "time"

// TimeConfiguration holds the deadlines of the engine
type TimeConfiguration struct {
	// WaitTimeout bounds a single wait for submitted work
	WaitTimeout time.Duration

	// ShutdownGrace bounds the wait for outstanding work at shutdown,
	// after which the work is force-failed
	ShutdownGrace time.Duration
}

// Default deadlines
const (
	DefaultWaitTimeout   = 10 * time.Second
	DefaultShutdownGrace = 2 * time.Second
)

// DefaultTimeConfiguration returns the default deadlines
func DefaultTimeConfiguration() TimeConfiguration {
	return TimeConfiguration{
		WaitTimeout:   DefaultWaitTimeout,
		ShutdownGrace: DefaultShutdownGrace,
	}
}

// EventKind is a step of the run protocol
type EventKind int

// Run protocol steps, in the order they happen
const (
	EventRecordStart EventKind = iota
	EventRecordEnd
	EventSubmit
	EventWaitResolved
	EventShutdown
)

var eventNames = [...]string{
	EventRecordStart:  "record start",
	EventRecordEnd:    "record end",
	EventSubmit:       "submit",
	EventWaitResolved: "wait resolved",
	EventShutdown:     "shutdown",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventNames) {
		return "unknown"
	}
	return eventNames[k]
}

// Event is an instrumentation timestamp of a run step
type Event struct {
	Kind   EventKind
	Ticket uint64
	Time   time.Time
	Err    error
}
