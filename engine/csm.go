// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gviegas/framegraph/driver"
	"github.com/gviegas/framegraph/engine/cascade"
	"github.com/gviegas/framegraph/engine/internal/ctxt"
	"github.com/gviegas/framegraph/engine/internal/shader"
)

const (
	csmBiasValue = 4
	csmBiasSlope = 2.5
)

// cascadeBinding is what the resolver needs to sample
// a cascade.
type cascadeBinding struct {
	viewProj mgl32.Mat4
	size     int
	// Far boundary of the cascade in view depth.
	split float32
}

// csmPass renders cascaded shadow maps.
// Every cascade is a depth-only render pass, recorded
// sequentially in the same command buffer.
type csmPass struct {
	g     *graph
	maps  [cascade.Count]target
	fbs   [cascade.Count]driver.Framebuf
	pass  driver.RenderPass
	table *shader.Table
	pb    *pipelineBinding
	cb    []driver.CmdBuffer
	sems  semSet

	// Split boundaries are only recomputed when the
	// camera's clip planes change.
	near, far float32
	splits    []float32
	ranges    [][2]float32
	fits      [cascade.Count]cascade.Result
}

func newCSM(g *graph) *csmPass { return &csmPass{g: g} }

func (p *csmPass) id() PassID                   { return PassCSM }
func (p *csmPass) deps() []PassID               { return nil }
func (p *csmPass) bindings() []*pipelineBinding { return []*pipelineBinding{p.pb} }
func (p *csmPass) signals() *semSet             { return &p.sems }

func (p *csmPass) init(*passRegistry) (err error) {
	defer func() {
		if err != nil {
			p.free()
		}
	}()
	if p.cb, err = newCmdBuffers(driver.QGraphics, p.g.inFlight()); err != nil {
		return
	}
	if p.table, err = shader.NewTable(shader.CascadeHeap(), p.g.inFlight()*cascade.Count); err != nil {
		return
	}
	p.pass, err = ctxt.GPU().NewRenderPass(
		[]driver.Attachment{{Format: driver.D32f, Samples: 1, Load: driver.LClear, Store: driver.SStore}},
		[]driver.Subpass{{DS: 0}},
	)
	if err != nil {
		return
	}
	for i, size := range p.g.cfg.CascadeSizes {
		p.maps[i], err = newTarget(driver.D32f, driver.Dim3D{Width: size, Height: size}, 1, driver.URenderTarget|driver.UShaderSample)
		if err != nil {
			return
		}
		if p.fbs[i], err = p.pass.NewFB([]driver.ImageView{p.maps[i].view}, size, size, 1); err != nil {
			return
		}
	}
	src, err := p.g.source("csm.wgsl", nil)
	if err != nil {
		return
	}
	p.pb, err = newPipelineBinding("csm", []*shader.Source{src}, nil, p.build)
	return
}

// build creates the pipeline shared by every cascade.
func (p *csmPass) build(code []driver.ShaderCode) (driver.Pipeline, error) {
	return ctxt.GPU().NewPipeline(&driver.GraphState{
		VertFunc: driver.ShaderFunc{Code: code[0], Name: "vs_main"},
		Desc:     p.table.DescTable(),
		Input:    position,
		Topology: driver.TTriangle,
		Raster: driver.RasterState{
			Cull:      driver.CNone,
			DepthBias: true,
			BiasValue: csmBiasValue,
			BiasSlope: csmBiasSlope,
		},
		Samples: 1,
		DS: driver.DSState{
			DepthTest:  true,
			DepthWrite: true,
			DepthCmp:   driver.CLess,
		},
		Pass: p.pass,
	})
}

// Shadow maps do not depend on the render target size.
func (p *csmPass) resize(int, int) error { return nil }

// updateSplits recomputes the split boundaries if the
// clip planes changed.
func (p *csmPass) updateSplits(near, far float32) {
	if p.splits != nil && near == p.near && far == p.far {
		return
	}
	p.near, p.far = near, far
	p.splits = cascade.Splits(near, far, cascade.Count)
	p.ranges = cascade.Ranges(near, p.splits)
}

// fit fits every cascade to the camera.
func (p *csmPass) fit(cam Camera, sun *Sun) {
	p.updateSplits(cam.Near(), cam.Far())
	c := fitCamera(cam)
	for i := range p.fits {
		p.fits[i] = cascade.Fit(&c, sun.Direction, p.ranges[i][0], p.ranges[i][1], p.g.cfg.CascadeSizes[i])
	}
}

// binding returns the state of cascade i for the
// current frame.
func (p *csmPass) binding(i int) cascadeBinding {
	return cascadeBinding{
		viewProj: p.fits[i].ViewProj,
		size:     p.g.cfg.CascadeSizes[i],
		split:    p.splits[i],
	}
}

// scales returns the texel scale of each cascade
// relative to the first.
func (p *csmPass) scales() []mgl32.Vec2 {
	vp := make([]mgl32.Mat4, len(p.fits))
	for i := range p.fits {
		vp[i] = p.fits[i].ViewProj
	}
	return cascade.Scales(vp)
}

// mapView returns the view of cascade i's shadow map.
// It is in the driver.LShaderRead layout after the pass.
func (p *csmPass) mapView(i int) driver.ImageView { return p.maps[i].view }

func (p *csmPass) record(fc *frameContext) (driver.CmdBuffer, error) {
	p.fit(fc.state.Camera, &fc.state.Sun)
	cb := p.cb[fc.slot]
	if err := cb.Begin(); err != nil {
		return nil, err
	}
	t := make([]driver.Transition, 0, cascade.Count)
	for i := range p.maps {
		cpy := fc.slot*cascade.Count + i
		p.table.Cascade(cpy).SetVP(&p.fits[i].ViewProj)
		size := p.g.cfg.CascadeSizes[i]

		cb.Transition([]driver.Transition{
			transition(p.maps[i].view, driver.LUndefined, driver.LDSTarget,
				driver.SNone, driver.SDSOutput, driver.ANone, driver.ADSWrite),
		})
		cb.BeginPass(p.pass, p.fbs[i], []driver.ClearValue{{Depth: 1}})
		cb.SetPipeline(p.pb.pipeline())
		cb.SetViewport([]driver.Viewport{{Width: float32(size), Height: float32(size), Zfar: 1}})
		cb.SetScissor([]driver.Scissor{{Width: size, Height: size}})
		p.table.SetGraph(cb, cpy)
		p.g.scene.Draw(cb)
		cb.EndPass()

		t = append(t, transition(p.maps[i].view, driver.LDSTarget, driver.LShaderRead,
			driver.SDSOutput, driver.SComputeShading|driver.SFragmentShading, driver.ADSWrite, driver.AShaderRead))
	}
	cb.Transition(t)
	return cb, cb.End()
}

func (p *csmPass) free() {
	if p.pb != nil {
		p.pb.free()
	}
	for i := range p.maps {
		if p.fbs[i] != nil {
			p.fbs[i].Destroy()
		}
		p.maps[i].free()
	}
	if p.pass != nil {
		p.pass.Destroy()
	}
	if p.table != nil {
		p.table.Free()
	}
	freeCmdBuffers(p.cb)
	p.sems.free()
	*p = csmPass{g: p.g}
}
