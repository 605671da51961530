// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"io/fs"

	"github.com/gviegas/framegraph/driver"
	"github.com/gviegas/framegraph/engine/internal/shader"
)

// graph is the state shared by the passes of a
// renderer.
type graph struct {
	cfg     Config
	scene   Scene
	shaders fs.FS
	comp    shader.Compiler
	width   int
	height  int
	reg     passRegistry
	// Final image of every frame.
	target target
}

// source loads a shader source.
func (g *graph) source(name string, blocks []string) (*shader.Source, error) {
	return shader.NewSource(g.shaders, name, g.comp, blocks)
}

// inFlight returns the number of frames in flight.
func (g *graph) inFlight() int { return g.cfg.FramesInFlight }

// viewport returns a viewport covering the render
// target.
func (g *graph) viewport() driver.Viewport {
	return driver.Viewport{
		Width:  float32(g.width),
		Height: float32(g.height),
		Zfar:   1,
	}
}

// newTarget (re)creates the render target.
func (g *graph) newTarget() (err error) {
	g.target.free()
	g.target, err = newTarget(driver.RGBA16f, driver.Dim3D{Width: g.width, Height: g.height}, 1,
		driver.URenderTarget|driver.UCopyDst|driver.UCopySrc|driver.UShaderSample)
	return
}

// copyToTarget records a copy from src, which must be in
// the driver.LGeneral layout, to the render target.
// The render target is left in the driver.LShaderRead
// layout.
func (g *graph) copyToTarget(cb driver.CmdBuffer, src target) {
	cb.Transition([]driver.Transition{
		transition(g.target.view, driver.LUndefined, driver.LCopyDst,
			driver.SNone, driver.SCopy, driver.ANone, driver.ACopyWrite),
	})
	cb.BeginBlit(false)
	cb.CopyImage(&driver.ImageCopy{
		From:   src.img,
		To:     g.target.img,
		Size:   driver.Dim3D{Width: g.width, Height: g.height, Depth: 1},
		Layers: 1,
	})
	cb.EndBlit()
	cb.Transition([]driver.Transition{
		transition(g.target.view, driver.LCopyDst, driver.LShaderRead,
			driver.SCopy, driver.SAll, driver.ACopyWrite, driver.AShaderRead),
	})
}

// position is the vertex input of depth-only passes.
var position = []driver.VertexIn{{Format: driver.Float32x3, Stride: 12, Nr: 0, Name: "position"}}

// meshInput is the vertex input of shaded passes.
var meshInput = []driver.VertexIn{
	{Format: driver.Float32x3, Stride: 12, Nr: 0, Name: "position"},
	{Format: driver.Float32x3, Stride: 12, Nr: 1, Name: "normal"},
	{Format: driver.Float32x2, Stride: 8, Nr: 2, Name: "texCoord"},
}
