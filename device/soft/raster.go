// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package soft

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Vertex is a vertex in normalized device coordinates with a color.
// Y points down, so (-1, -1) is the top left corner.
type Vertex struct {
	Position mgl32.Vec2
	Color    mgl32.Vec4
}

func edge(a, b, p mgl32.Vec2) float32 {
	ab := b.Sub(a)
	ap := p.Sub(a)
	return ab.X()*ap.Y() - ab.Y()*ap.X()
}

// rasterize fills a triangle, sampling at pixel centers and
// interpolating vertex colors with barycentric weights
func rasterize(img *Image, v0, v1, v2 Vertex) {
	b := img.rgba.Rect
	w, h := float32(b.Dx()), float32(b.Dy())
	toScreen := func(p mgl32.Vec2) mgl32.Vec2 {
		return mgl32.Vec2{(p.X() + 1) / 2 * w, (p.Y() + 1) / 2 * h}
	}
	p0, p1, p2 := toScreen(v0.Position), toScreen(v1.Position), toScreen(v2.Position)

	area := edge(p0, p1, p2)
	if area == 0 {
		return
	}

	minX := clamp(int(math.Floor(float64(min3(p0.X(), p1.X(), p2.X())))), 0, b.Dx())
	maxX := clamp(int(math.Ceil(float64(max3(p0.X(), p1.X(), p2.X())))), 0, b.Dx())
	minY := clamp(int(math.Floor(float64(min3(p0.Y(), p1.Y(), p2.Y())))), 0, b.Dy())
	maxY := clamp(int(math.Ceil(float64(max3(p0.Y(), p1.Y(), p2.Y())))), 0, b.Dy())

	for y := minY; y < maxY; y++ {
		for x := minX; x < maxX; x++ {
			p := mgl32.Vec2{float32(x) + 0.5, float32(y) + 0.5}
			w0 := edge(p1, p2, p) / area
			w1 := edge(p2, p0, p) / area
			w2 := edge(p0, p1, p) / area
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			c := v0.Color.Mul(w0).Add(v1.Color.Mul(w1)).Add(v2.Color.Mul(w2))
			off := img.rgba.PixOffset(b.Min.X+x, b.Min.Y+y)
			img.rgba.Pix[off+0] = toByte(c.X())
			img.rgba.Pix[off+1] = toByte(c.Y())
			img.rgba.Pix[off+2] = toByte(c.Z())
			img.rgba.Pix[off+3] = toByte(c.W())
		}
	}
}

func toByte(f float32) uint8 {
	return uint8(mgl32.Clamp(f, 0, 1)*255 + 0.5)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func min3(a, b, c float32) float32 {
	return float32(math.Min(float64(a), math.Min(float64(b), float64(c))))
}

func max3(a, b, c float32) float32 {
	return float32(math.Max(float64(a), math.Max(float64(b), float64(c))))
}
