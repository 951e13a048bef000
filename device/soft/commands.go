// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package soft

import (
	"fmt"
	"image/color"
	"sync"

	"github.com/devblok/vkengine/device"
	"github.com/pkg/errors"
)

type bufferState int

const (
	stateInitial bufferState = iota
	stateRecording
	stateExecutable
	statePending
	stateInvalid
)

type command func() error

// CommandBuffer records commands for the software queue. Commands that
// the pool's queue family cannot execute are reported by End.
type CommandBuffer struct {
	pool *commandPool

	mu    sync.Mutex
	state bufferState
	cmds  []command
	err   error

	pipeline *ComputePipeline
	bound    []*Buffer
	pass     *renderPass
}

// Handle returns the command buffer itself
func (cb *CommandBuffer) Handle() interface{} {
	return cb
}

// Begin starts recording
func (cb *CommandBuffer) Begin() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != stateInitial {
		return errors.Wrap(device.ErrorUnknown, "soft: begin on a used command buffer")
	}
	cb.state = stateRecording
	return nil
}

// End finishes recording and returns the first recording error, if any
func (cb *CommandBuffer) End() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != stateRecording {
		return errors.Wrap(device.ErrorUnknown, "soft: end without begin")
	}
	if cb.err == nil && cb.pass != nil {
		cb.err = errors.New("render pass was not ended")
	}
	if cb.err != nil {
		cb.state = stateInvalid
		return errors.Wrap(cb.err, "soft: end command buffer")
	}
	cb.state = stateExecutable
	return nil
}

// Len returns the number of commands recorded
func (cb *CommandBuffer) Len() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return len(cb.cmds)
}

func (cb *CommandBuffer) submit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != stateExecutable {
		return errors.Wrap(device.ErrorUnknown, "soft: command buffer is not executable")
	}
	cb.state = statePending
	return nil
}

func (cb *CommandBuffer) complete() {
	cb.mu.Lock()
	cb.state = stateInvalid
	cb.mu.Unlock()
}

func (cb *CommandBuffer) release() {
	cb.mu.Lock()
	cb.cmds = nil
	cb.bound = nil
	cb.pipeline = nil
	cb.state = stateInvalid
	cb.mu.Unlock()
}

func (cb *CommandBuffer) execute() error {
	for i, cmd := range cb.cmds {
		if err := cmd(); err != nil {
			return errors.Wrapf(err, "soft: command %d", i)
		}
	}
	return nil
}

// record adds a command after checking the family can execute it
func (cb *CommandBuffer) record(name string, needs device.QueueFlags, cmd command) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.err != nil {
		return
	}
	if cb.state != stateRecording {
		cb.err = fmt.Errorf("%s: command buffer is not recording", name)
		return
	}
	flags := cb.pool.family.Flags
	if needs == 0 {
		if flags == 0 {
			cb.err = fmt.Errorf("%s: queue family %d has no capabilities", name, cb.pool.family.Index)
			return
		}
	} else if flags&needs == 0 {
		cb.err = fmt.Errorf("%s: queue family %d (%s) does not support %s", name, cb.pool.family.Index, flags, needs)
		return
	}
	cb.cmds = append(cb.cmds, cmd)
}

func (cb *CommandBuffer) fail(err error) {
	cb.mu.Lock()
	if cb.err == nil {
		cb.err = err
	}
	cb.mu.Unlock()
}

// CopyBuffer copies size bytes from src to dst at the given offsets
func (cb *CommandBuffer) CopyBuffer(src, dst *Buffer, srcOffset, dstOffset, size int) {
	if src == nil || dst == nil {
		cb.fail(errors.New("copy buffer: nil buffer"))
		return
	}
	if srcOffset < 0 || dstOffset < 0 || size < 0 || srcOffset+size > src.Len() || dstOffset+size > dst.Len() {
		cb.fail(fmt.Errorf("copy buffer: region out of range (src %d, dst %d, size %d)", srcOffset, dstOffset, size))
		return
	}
	cb.record("copy buffer", 0, func() error {
		copy(dst.data[dstOffset:dstOffset+size], src.data[srcOffset:srcOffset+size])
		return nil
	})
}

// FillBuffer writes value to every 32-bit word of dst
func (cb *CommandBuffer) FillBuffer(dst *Buffer, value uint32) {
	if dst == nil {
		cb.fail(errors.New("fill buffer: nil buffer"))
		return
	}
	cb.record("fill buffer", 0, func() error {
		for i := 0; i < dst.Len()/4; i++ {
			dst.SetUint32(i, value)
		}
		return nil
	})
}

// BindCompute binds a compute pipeline and the storage buffers it reads and writes
func (cb *CommandBuffer) BindCompute(p *ComputePipeline, buffers ...*Buffer) {
	if p == nil || p.Kernel == nil {
		cb.fail(errors.New("bind compute: pipeline has no kernel"))
		return
	}
	cb.mu.Lock()
	cb.pipeline = p
	cb.bound = append([]*Buffer(nil), buffers...)
	cb.mu.Unlock()
}

// Dispatch runs the bound compute pipeline over x*y*z workgroups
func (cb *CommandBuffer) Dispatch(x, y, z int) {
	cb.mu.Lock()
	p, bound := cb.pipeline, cb.bound
	cb.mu.Unlock()
	if p == nil {
		cb.fail(errors.New("dispatch: no compute pipeline bound"))
		return
	}
	if x <= 0 || y <= 0 || z <= 0 {
		cb.fail(fmt.Errorf("dispatch: invalid group count %dx%dx%d", x, y, z))
		return
	}
	cb.record("dispatch", device.QueueCompute, func() error {
		return p.dispatch([3]int{x, y, z}, bound)
	})
}

// ClearImage fills the whole image with c
func (cb *CommandBuffer) ClearImage(img *Image, c color.RGBA) {
	if img == nil {
		cb.fail(errors.New("clear image: nil image"))
		return
	}
	cb.record("clear image", device.QueueGraphics|device.QueueCompute, func() error {
		img.fill(c)
		return nil
	})
}

// CopyImageToBuffer copies the pixels of img, tightly packed, into dst
func (cb *CommandBuffer) CopyImageToBuffer(img *Image, dst *Buffer) {
	if img == nil || dst == nil {
		cb.fail(errors.New("copy image to buffer: nil resource"))
		return
	}
	if dst.Len() < len(img.rgba.Pix) {
		cb.fail(fmt.Errorf("copy image to buffer: buffer of %d bytes is too small for %d", dst.Len(), len(img.rgba.Pix)))
		return
	}
	cb.record("copy image to buffer", 0, func() error {
		copy(dst.data, img.rgba.Pix)
		return nil
	})
}

type renderPass struct {
	target *Image
}

// BeginRenderPass starts rendering into target, clearing it first
func (cb *CommandBuffer) BeginRenderPass(target *Image, clear color.RGBA) {
	if target == nil {
		cb.fail(errors.New("begin render pass: nil target"))
		return
	}
	cb.mu.Lock()
	nested := cb.pass != nil
	if !nested {
		cb.pass = &renderPass{target: target}
	}
	cb.mu.Unlock()
	if nested {
		cb.fail(errors.New("begin render pass: already inside a render pass"))
		return
	}
	cb.record("begin render pass", device.QueueGraphics, func() error {
		target.fill(clear)
		return nil
	})
}

// Draw rasterizes a triangle list into the current render pass target
func (cb *CommandBuffer) Draw(vertices []Vertex) {
	cb.mu.Lock()
	pass := cb.pass
	cb.mu.Unlock()
	if pass == nil {
		cb.fail(errors.New("draw: outside of a render pass"))
		return
	}
	if len(vertices)%3 != 0 {
		cb.fail(fmt.Errorf("draw: %d vertices is not a triangle list", len(vertices)))
		return
	}
	vs := append([]Vertex(nil), vertices...)
	cb.record("draw", device.QueueGraphics, func() error {
		for i := 0; i < len(vs); i += 3 {
			rasterize(pass.target, vs[i], vs[i+1], vs[i+2])
		}
		return nil
	})
}

// EndRenderPass closes the current render pass
func (cb *CommandBuffer) EndRenderPass() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.err != nil {
		return
	}
	if cb.pass == nil {
		cb.err = errors.New("end render pass: no render pass")
		return
	}
	cb.pass = nil
}
