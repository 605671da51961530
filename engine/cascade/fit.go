// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package cascade

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Camera holds the camera parameters used for fitting.
type Camera struct {
	Position mgl32.Vec3
	// Forward must be normalized.
	Forward mgl32.Vec3
	// FOV is the vertical field of view in radians.
	FOV float32
	// Aspect is width divided by height.
	Aspect    float32
	Near, Far float32
}

// Result is the result of fitting a cascade.
type Result struct {
	// ViewProj is Proj * View.
	ViewProj mgl32.Mat4
	View     mgl32.Mat4
	Proj     mgl32.Mat4
	// Scale is the uniform texel scale applied to the
	// light space in which the center is snapped.
	Scale         mgl32.Mat4
	Radius        float32
	TexelsPerUnit float32
	// Center is the snapped slice center in world space.
	Center mgl32.Vec3
}

var (
	worldUp = mgl32.Vec3{0, 1, 0}
	altUp   = mgl32.Vec3{0, 0, 1}
)

// up returns an up vector that is not parallel to dir.
func up(dir mgl32.Vec3) mgl32.Vec3 {
	if d := dir.Dot(worldUp); d > 1-1e-4 || d < -1+1e-4 {
		return altUp
	}
	return worldUp
}

// Radius computes the bounding radius of the camera
// slice [start, end], using the law of cosines over the
// diagonal of the slice's far plane.
// The result is never less than MinRadius.
func Radius(cam *Camera, start, end float32) float32 {
	half := float64(cam.FOV*cam.Aspect) / 2
	half = min(half, math.Pi/2-1e-3)
	cosh := math.Cos(half)
	b := float64(end) / cosh
	mid := float64(start) + float64(end-start)/2
	r := math.Sqrt(b*b+mid*mid-2*b*float64(start)*cosh) * RadiusMargin
	if !(r >= MinRadius) {
		return MinRadius
	}
	return float32(r)
}

// TexelsPerUnit returns the number of shadow map texels
// per world unit for a cascade of the given texture size
// and bounding radius.
func TexelsPerUnit(size int, radius float32) float32 {
	return float32(size) / (2 * max(radius, MinRadius))
}

// TexelScale returns the scale matrix that maps world
// units to shadow map texels.
func TexelScale(size int, radius float32) mgl32.Mat4 {
	t := TexelsPerUnit(size, radius)
	return mgl32.Scale3D(t, t, t)
}

// LightSpace returns the texel-scaled light space used
// for snapping: a look-at from the origin towards
// -lightDir, scaled by TexelScale.
func LightSpace(lightDir mgl32.Vec3, scale mgl32.Mat4) mgl32.Mat4 {
	dir := lightDir.Normalize()
	return scale.Mul4(mgl32.LookAtV(mgl32.Vec3{}, dir.Mul(-1), up(dir)))
}

// Snap quantizes p to the texel grid of lightSpace by
// flooring its light-space X/Y coordinates.
func Snap(lightSpace mgl32.Mat4, p mgl32.Vec3) mgl32.Vec3 {
	q := lightSpace.Mul4x1(p.Vec4(1))
	q[0] = float32(math.Floor(float64(q[0])))
	q[1] = float32(math.Floor(float64(q[1])))
	return lightSpace.Inv().Mul4x1(q).Vec3()
}

// Fit fits a light-space view-projection to the camera
// slice [start, end] for a shadow map with the given
// texture size.
// It has no hidden state: equal inputs produce
// bit-identical results.
func Fit(cam *Camera, lightDir mgl32.Vec3, start, end float32, size int) Result {
	r := Radius(cam, start, end)
	scale := TexelScale(size, r)
	dir := lightDir.Normalize()

	center := cam.Position.Add(cam.Forward.Mul((start + end) / 2))
	center = Snap(LightSpace(dir, scale), center)

	view := mgl32.LookAtV(center.Sub(dir.Mul(EyeDistance)), center, up(dir))
	proj := mgl32.Ortho(-r, r, -r, r, -DepthRange, DepthRange)
	return Result{
		ViewProj:      proj.Mul4(view),
		View:          view,
		Proj:          proj,
		Scale:         scale,
		Radius:        r,
		TexelsPerUnit: TexelsPerUnit(size, r),
		Center:        center,
	}
}
