// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"time"

	"github.com/devblok/vkengine/device"
)

// TicketState is the state of a submission
type TicketState int

// Submission states
const (
	TicketPending TicketState = iota
	TicketSignaled
	TicketFailed

	// TicketAbandoned is a ticket whose wait timed out. It is still
	// in flight and must resolve before anything else is recorded.
	TicketAbandoned
)

func (s TicketState) String() string {
	switch s {
	case TicketPending:
		return "pending"
	case TicketSignaled:
		return "signaled"
	case TicketFailed:
		return "failed"
	case TicketAbandoned:
		return "abandoned"
	}
	return "unknown"
}

type ticket struct {
	id        uint64
	recorder  *Recorder
	fence     device.Fence
	state     TicketState
	submitted time.Time
}

func (t *ticket) resolved() bool {
	return t.state == TicketSignaled || t.state == TicketFailed
}

// wait blocks on the fence up to timeout and moves the ticket on
func (t *ticket) wait(timeout time.Duration) error {
	err := t.fence.Wait(timeout)
	switch {
	case err == nil:
		t.state = TicketSignaled
	case device.ResultOf(err) == device.Timeout:
		t.state = TicketAbandoned
	default:
		t.state = TicketFailed
	}
	return err
}

// release frees the command buffer and fence of a resolved ticket
func (t *ticket) release() {
	t.fence.Destroy()
	t.recorder.release()
}
