// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package cascade computes cascaded shadow map splits and
// fits a light-space projection to each cascade.
package cascade

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Count is the number of cascades used by the renderer.
// The functions in this package accept any count >= 1.
const Count = 4

const (
	// MinRadius is the smallest bounding radius that Fit
	// produces. Degenerate slices are clamped to it.
	MinRadius = 1e-3

	// RadiusMargin scales the conservative bounding
	// radius of a slice.
	RadiusMargin = 0.75

	// DepthRange is the half extent of the orthographic
	// projection along the light direction.
	DepthRange = 180

	// EyeDistance is the distance from the snapped center
	// to the light view's eye.
	EyeDistance = 50

	// splitBlend weights the logarithmic distribution
	// against the uniform one.
	splitBlend = 0.5
)

// Splits computes the far boundary of each of n cascades
// partitioning [near, far].
// Cascade i covers [s[i-1], s[i]], with s[-1] = near.
// The result is strictly increasing and s[n-1] == far.
// It panics if n < 1 or if near/far do not describe a
// valid positive range.
func Splits(near, far float32, n int) []float32 {
	if n < 1 {
		panic("cascade: count must be at least 1")
	}
	if !(near > 0 && far > near) {
		panic("cascade: invalid near/far range")
	}
	s := make([]float32, n)
	nr, fr := float64(near), float64(far)
	for i := 1; i <= n; i++ {
		p := float64(i) / float64(n)
		uni := nr + (fr-nr)*p
		lg := nr * math.Pow(fr/nr, p)
		s[i-1] = float32(uni + (lg-uni)*splitBlend)
	}
	s[n-1] = far
	return s
}

// Ranges converts the output of Splits into
// [start, end] pairs.
func Ranges(near float32, splits []float32) [][2]float32 {
	r := make([][2]float32, len(splits))
	start := near
	for i, end := range splits {
		r[i] = [2]float32{start, end}
		start = end
	}
	return r
}

// Select returns the index of the cascade whose range
// contains the view-space depth d, or len(splits) if d
// is beyond the last split.
func Select(d float32, splits []float32) int {
	for i, s := range splits {
		if d <= s {
			return i
		}
	}
	return len(splits)
}

// Scales computes the texel scale of each cascade
// relative to the first one, from the lengths of the
// first two columns of each view-projection matrix.
// The resolver uses it to blend across cascade seams.
func Scales(vp []mgl32.Mat4) []mgl32.Vec2 {
	if len(vp) == 0 {
		return nil
	}
	ref := columnScale(&vp[0])
	s := make([]mgl32.Vec2, len(vp))
	for i := range vp {
		c := columnScale(&vp[i])
		s[i] = mgl32.Vec2{c[0] / ref[0], c[1] / ref[1]}
	}
	return s
}

func columnScale(m *mgl32.Mat4) mgl32.Vec2 {
	return mgl32.Vec2{m.Col(0).Len(), m.Col(1).Len()}
}
