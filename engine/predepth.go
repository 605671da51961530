// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"github.com/gviegas/framegraph/driver"
	"github.com/gviegas/framegraph/engine/internal/ctxt"
	"github.com/gviegas/framegraph/engine/internal/shader"
)

// preDepth renders the scene's depth before shading.
// Compute consumers read a copy of the depth image,
// while the compositor tests against the original.
type preDepth struct {
	g     *graph
	depth target
	copy  target
	pass  driver.RenderPass
	fb    driver.Framebuf
	table *shader.Table
	pb    *pipelineBinding
	cb    []driver.CmdBuffer
	sems  semSet
}

func newPreDepth(g *graph) *preDepth { return &preDepth{g: g} }

func (p *preDepth) id() PassID                   { return PassPreDepth }
func (p *preDepth) deps() []PassID               { return nil }
func (p *preDepth) bindings() []*pipelineBinding { return []*pipelineBinding{p.pb} }
func (p *preDepth) signals() *semSet             { return &p.sems }

// depthView returns the depth image's view.
// It is in the driver.LDSRead layout after the pass.
func (p *preDepth) depthView() driver.ImageView { return p.depth.view }

// copyView returns the depth copy's view.
// It is in the driver.LShaderRead layout after the pass.
func (p *preDepth) copyView() driver.ImageView { return p.copy.view }

func (p *preDepth) init(*passRegistry) (err error) {
	defer func() {
		if err != nil {
			p.free()
		}
	}()
	if p.cb, err = newCmdBuffers(driver.QGraphics, p.g.inFlight()); err != nil {
		return
	}
	if p.table, err = shader.NewTable(shader.PreDepthHeap(), p.g.inFlight()); err != nil {
		return
	}
	p.pass, err = ctxt.GPU().NewRenderPass(
		[]driver.Attachment{{Format: driver.D32f, Samples: 1, Load: driver.LClear, Store: driver.SStore}},
		[]driver.Subpass{{DS: 0}},
	)
	if err != nil {
		return
	}
	if err = p.resize(p.g.width, p.g.height); err != nil {
		return
	}
	src, err := p.g.source("predepth.wgsl", nil)
	if err != nil {
		return
	}
	p.pb, err = newPipelineBinding("predepth", []*shader.Source{src}, nil, p.build)
	return
}

func (p *preDepth) build(code []driver.ShaderCode) (driver.Pipeline, error) {
	return ctxt.GPU().NewPipeline(&driver.GraphState{
		VertFunc: driver.ShaderFunc{Code: code[0], Name: "vs_main"},
		Desc:     p.table.DescTable(),
		Input:    position,
		Topology: driver.TTriangle,
		Raster:   driver.RasterState{Cull: driver.CBack},
		Samples:  1,
		DS: driver.DSState{
			DepthTest:  true,
			DepthWrite: true,
			DepthCmp:   driver.CLess,
		},
		Pass: p.pass,
	})
}

func (p *preDepth) resize(width, height int) (err error) {
	p.freeTargets()
	size := driver.Dim3D{Width: width, Height: height}
	if p.depth, err = newTarget(driver.D32f, size, 1, driver.URenderTarget|driver.UCopySrc|driver.UShaderSample); err != nil {
		return
	}
	if p.copy, err = newTarget(driver.D32f, size, 1, driver.UCopyDst|driver.UShaderSample); err != nil {
		return
	}
	p.fb, err = p.pass.NewFB([]driver.ImageView{p.depth.view}, width, height, 1)
	return
}

func (p *preDepth) record(fc *frameContext) (driver.CmdBuffer, error) {
	l := p.table.Frame(fc.slot)
	l.SetVP(&fc.cam.vp)
	l.SetV(&fc.cam.view)
	l.SetP(&fc.cam.proj)
	vp := p.g.viewport()
	l.SetBounds(&vp)

	cb := p.cb[fc.slot]
	if err := cb.Begin(); err != nil {
		return nil, err
	}
	cb.Transition([]driver.Transition{
		transition(p.depth.view, driver.LUndefined, driver.LDSTarget,
			driver.SNone, driver.SDSOutput, driver.ANone, driver.ADSWrite),
	})
	cb.BeginPass(p.pass, p.fb, []driver.ClearValue{{Depth: 1}})
	cb.SetPipeline(p.pb.pipeline())
	cb.SetViewport([]driver.Viewport{vp})
	cb.SetScissor([]driver.Scissor{{Width: p.g.width, Height: p.g.height}})
	p.table.SetGraph(cb, fc.slot)
	p.g.scene.Draw(cb)
	cb.EndPass()

	cb.Transition([]driver.Transition{
		transition(p.depth.view, driver.LDSTarget, driver.LCopySrc,
			driver.SDSOutput, driver.SCopy, driver.ADSWrite, driver.ACopyRead),
		transition(p.copy.view, driver.LUndefined, driver.LCopyDst,
			driver.SNone, driver.SCopy, driver.ANone, driver.ACopyWrite),
	})
	cb.BeginBlit(false)
	cb.CopyImage(&driver.ImageCopy{
		From:   p.depth.img,
		To:     p.copy.img,
		Size:   driver.Dim3D{Width: p.g.width, Height: p.g.height, Depth: 1},
		Layers: 1,
	})
	cb.EndBlit()
	cb.Transition([]driver.Transition{
		transition(p.depth.view, driver.LCopySrc, driver.LDSRead,
			driver.SCopy, driver.SDSOutput, driver.ACopyRead, driver.ADSRead),
		transition(p.copy.view, driver.LCopyDst, driver.LShaderRead,
			driver.SCopy, driver.SAll, driver.ACopyWrite, driver.AShaderRead),
	})
	return cb, cb.End()
}

func (p *preDepth) freeTargets() {
	if p.fb != nil {
		p.fb.Destroy()
		p.fb = nil
	}
	p.depth.free()
	p.copy.free()
}

func (p *preDepth) free() {
	if p.pb != nil {
		p.pb.free()
	}
	p.freeTargets()
	if p.pass != nil {
		p.pass.Destroy()
	}
	if p.table != nil {
		p.table.Free()
	}
	freeCmdBuffers(p.cb)
	p.sems.free()
	*p = preDepth{g: p.g}
}
