// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package soft

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"math"
	"runtime"

	"github.com/devblok/vkengine/device"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Buffer is host visible memory that commands read and write.
// Words are stored little endian.
type Buffer struct {
	data []byte
}

// NewBuffer allocates a zeroed buffer of size bytes
func (d *Device) NewBuffer(size int) (*Buffer, error) {
	if err := d.allocate(size); err != nil {
		return nil, err
	}
	return &Buffer{data: make([]byte, size)}, nil
}

// NewBufferUint32 allocates a buffer holding values
func (d *Device) NewBufferUint32(values []uint32) (*Buffer, error) {
	b, err := d.NewBuffer(len(values) * 4)
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		b.SetUint32(i, v)
	}
	return b, nil
}

// NewBufferInt32 allocates a buffer holding values
func (d *Device) NewBufferInt32(values []int32) (*Buffer, error) {
	b, err := d.NewBuffer(len(values) * 4)
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		b.SetInt32(i, v)
	}
	return b, nil
}

func (d *Device) allocate(size int) error {
	if d.Lost() {
		return errors.Wrap(device.ErrorDeviceLost, "soft: allocate")
	}
	if size <= 0 {
		return errors.Wrapf(device.ErrorOutOfDeviceMemory, "soft: invalid allocation size %d", size)
	}
	var largest uint64
	for _, h := range d.physical.info.Heaps {
		if h.Size > largest {
			largest = h.Size
		}
	}
	if uint64(size) > largest {
		return errors.Wrapf(device.ErrorOutOfDeviceMemory, "soft: %d bytes exceed the largest heap", size)
	}
	return nil
}

// Len returns the size of the buffer in bytes
func (b *Buffer) Len() int { return len(b.data) }

// Bytes gives direct access to the buffer memory
func (b *Buffer) Bytes() []byte { return b.data }

// Uint32 reads the i-th 32-bit word
func (b *Buffer) Uint32(i int) uint32 {
	return binary.LittleEndian.Uint32(b.data[i*4:])
}

// SetUint32 writes the i-th 32-bit word
func (b *Buffer) SetUint32(i int, v uint32) {
	binary.LittleEndian.PutUint32(b.data[i*4:], v)
}

// Int32 reads the i-th 32-bit word as a signed integer
func (b *Buffer) Int32(i int) int32 { return int32(b.Uint32(i)) }

// SetInt32 writes the i-th 32-bit word as a signed integer
func (b *Buffer) SetInt32(i int, v int32) { b.SetUint32(i, uint32(v)) }

// Float32 reads the i-th 32-bit word as a float
func (b *Buffer) Float32(i int) float32 { return math.Float32frombits(b.Uint32(i)) }

// SetFloat32 writes the i-th 32-bit word as a float
func (b *Buffer) SetFloat32(i int, v float32) { b.SetUint32(i, math.Float32bits(v)) }

// Uint32s copies out the whole buffer as words
func (b *Buffer) Uint32s() []uint32 {
	out := make([]uint32, len(b.data)/4)
	for i := range out {
		out[i] = b.Uint32(i)
	}
	return out
}

// Int32s copies out the whole buffer as signed words
func (b *Buffer) Int32s() []int32 {
	out := make([]int32, len(b.data)/4)
	for i := range out {
		out[i] = b.Int32(i)
	}
	return out
}

// Image is a two dimensional RGBA8 image
type Image struct {
	rgba *image.RGBA
}

// NewImage allocates a cleared image
func (d *Device) NewImage(width, height int) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Wrapf(device.ErrorFeatureNotPresent, "soft: invalid image extent %dx%d", width, height)
	}
	if err := d.allocate(width * height * 4); err != nil {
		return nil, err
	}
	return &Image{rgba: image.NewRGBA(image.Rect(0, 0, width, height))}, nil
}

// RGBA gives access to the image pixels
func (img *Image) RGBA() *image.RGBA { return img.rgba }

// Bounds of the image
func (img *Image) Bounds() image.Rectangle { return img.rgba.Rect }

func (img *Image) fill(c color.RGBA) {
	pix := img.rgba.Pix
	for i := 0; i+3 < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = c.R, c.G, c.B, c.A
	}
}

// Invocation identifies one kernel invocation of a dispatch
type Invocation struct {
	GlobalID    [3]int
	LocalID     [3]int
	WorkGroupID [3]int
	Buffers     []*Buffer
}

// Index flattens the global id for a one dimensional dispatch
func (inv Invocation) Index() int {
	return inv.GlobalID[0]
}

// Kernel is the body of a compute pipeline, run once per invocation
type Kernel func(inv Invocation)

// ComputePipeline is a kernel with a fixed workgroup size
type ComputePipeline struct {
	LocalSize [3]int
	Kernel    Kernel
}

// NewComputePipeline creates a pipeline, treating zero sizes as 1
func NewComputePipeline(localSize [3]int, k Kernel) *ComputePipeline {
	for i := range localSize {
		if localSize[i] <= 0 {
			localSize[i] = 1
		}
	}
	return &ComputePipeline{LocalSize: localSize, Kernel: k}
}

// dispatch runs every workgroup, spreading them over the available CPUs
func (p *ComputePipeline) dispatch(groups [3]int, buffers []*Buffer) error {
	local := p.LocalSize
	for i := range local {
		if local[i] <= 0 {
			local[i] = 1
		}
	}

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for gz := 0; gz < groups[2]; gz++ {
		for gy := 0; gy < groups[1]; gy++ {
			for gx := 0; gx < groups[0]; gx++ {
				wg := [3]int{gx, gy, gz}
				g.Go(func() (err error) {
					defer func() {
						if r := recover(); r != nil {
							err = fmt.Errorf("workgroup %v: %v", wg, r)
						}
					}()
					p.runGroup(wg, local, buffers)
					return nil
				})
			}
		}
	}
	return g.Wait()
}

func (p *ComputePipeline) runGroup(wg, local [3]int, buffers []*Buffer) {
	inv := Invocation{WorkGroupID: wg, Buffers: buffers}
	for lz := 0; lz < local[2]; lz++ {
		for ly := 0; ly < local[1]; ly++ {
			for lx := 0; lx < local[0]; lx++ {
				inv.LocalID = [3]int{lx, ly, lz}
				inv.GlobalID = [3]int{
					wg[0]*local[0] + lx,
					wg[1]*local[1] + ly,
					wg[2]*local[2] + lz,
				}
				p.Kernel(inv)
			}
		}
	}
}
