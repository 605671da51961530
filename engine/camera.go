// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gviegas/framegraph/engine/cascade"
	"github.com/gviegas/framegraph/engine/internal/shader"
)

// Camera is the interface that provides the view used
// to render a frame.
// Matrices are column-major, as in mgl32.
type Camera interface {
	// View returns the current view matrix.
	View() mgl32.Mat4
	// PrevView returns the view matrix of the previous
	// frame. It is used for reprojection.
	PrevView() mgl32.Mat4
	// Projection returns the projection matrix.
	Projection() mgl32.Mat4
	// Near and Far return the clip plane distances.
	Near() float32
	Far() float32
	// Position returns the eye position in world space.
	Position() mgl32.Vec3
	// Orientation returns the normalized forward vector.
	Orientation() mgl32.Vec3
	// FOV returns the vertical field of view in radians.
	FOV() float32
	// Aspect returns the width to height ratio.
	Aspect() float32
}

// fitCamera returns the parameters of c that cascade
// fitting needs.
func fitCamera(c Camera) cascade.Camera {
	return cascade.Camera{
		Position: c.Position(),
		Forward:  c.Orientation(),
		FOV:      c.FOV(),
		Aspect:   c.Aspect(),
		Near:     c.Near(),
		Far:      c.Far(),
	}
}

// cameraMatrices holds the matrices that are derived
// from a Camera once per frame.
type cameraMatrices struct {
	view, proj, vp   mgl32.Mat4
	invView, invProj mgl32.Mat4
	prevVP           mgl32.Mat4
	projParams       mgl32.Vec2
}

func newCameraMatrices(c Camera) cameraMatrices {
	var m cameraMatrices
	m.view = c.View()
	m.proj = c.Projection()
	m.vp = m.proj.Mul4(m.view)
	m.invView = m.view.Inv()
	m.invProj = m.proj.Inv()
	m.prevVP = m.proj.Mul4(c.PrevView())
	m.projParams = shader.ProjParams(c.Near(), c.Far())
	return m
}
