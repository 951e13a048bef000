// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package model loads triangle meshes for rendering
package model

import (
	"math"

	glm "github.com/go-gl/mathgl/mgl32"
)

// Mesh is a triangle list, every three positions make a triangle
type Mesh struct {
	Name      string
	Positions []glm.Vec3
}

// Triangles returns the number of triangles in the mesh
func (m *Mesh) Triangles() int {
	return len(m.Positions) / 3
}

// Bounds returns the corners of the axis aligned bounding box
func (m *Mesh) Bounds() (min, max glm.Vec3) {
	if len(m.Positions) == 0 {
		return
	}
	min, max = m.Positions[0], m.Positions[0]
	for _, p := range m.Positions[1:] {
		for i := 0; i < 3; i++ {
			min[i] = float32(math.Min(float64(min[i]), float64(p[i])))
			max[i] = float32(math.Max(float64(max[i]), float64(p[i])))
		}
	}
	return min, max
}

// Fit projects the mesh orthographically along -z and scales it into
// normalized device coordinates, keeping the aspect ratio and leaving
// margin on every side. Y is flipped, since device coordinates point down.
func (m *Mesh) Fit(margin float32) []glm.Vec2 {
	min, max := m.Bounds()
	center := min.Add(max).Mul(0.5)
	extent := float32(math.Max(float64(max.X()-min.X()), float64(max.Y()-min.Y())))
	scale := float32(1)
	if extent > 0 {
		scale = 2 * (1 - margin) / extent
	}

	out := make([]glm.Vec2, len(m.Positions))
	for i, p := range m.Positions {
		out[i] = glm.Vec2{
			(p.X() - center.X()) * scale,
			-(p.Y() - center.Y()) * scale,
		}
	}
	return out
}

// Depth returns z of every position normalized to [0, 1] over the mesh
func (m *Mesh) Depth() []float32 {
	min, max := m.Bounds()
	span := max.Z() - min.Z()
	out := make([]float32, len(m.Positions))
	for i, p := range m.Positions {
		if span > 0 {
			out[i] = (p.Z() - min.Z()) / span
		}
	}
	return out
}
