// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Sun is the directional light that casts the scene's
// shadows.
type Sun struct {
	// Direction in which the light travels, in world
	// space. It must be normalized.
	Direction mgl32.Vec3
	// Linear RGB color, premultiplied by intensity.
	Color mgl32.Vec3
	// AngularRadius is the half-angle, in radians, of the
	// cone within which shadow rays are jittered.
	AngularRadius float32
}

// DefaultSun returns a white sun pointing mostly down.
func DefaultSun() Sun {
	var s Sun
	s.SetAngles(0, math.Pi/8)
	s.Color = mgl32.Vec3{1, 1, 1}
	s.AngularRadius = 0.0046
	return s
}

// SetAngles sets the direction of s from spherical
// angles: phi is the azimuth around +Y and theta is the
// elevation measured from +Y, both in radians.
// A theta of 0 points the light straight down.
func (s *Sun) SetAngles(phi, theta float32) {
	sp, cp := math.Sincos(float64(phi))
	st, ct := math.Sincos(float64(theta))
	s.Direction = mgl32.Vec3{
		float32(-st * cp),
		float32(-ct),
		float32(-st * sp),
	}
}

// ToLight returns the direction from a surface towards
// the sun.
func (s *Sun) ToLight() mgl32.Vec3 { return s.Direction.Mul(-1) }

// viewDirection returns the light direction in view
// space (transpose of the inverse view applied to the
// direction).
func (s *Sun) viewDirection(view *mgl32.Mat4) mgl32.Vec3 {
	m := view.Inv().Transpose()
	return m.Mul4x1(s.Direction.Vec4(0)).Vec3()
}
