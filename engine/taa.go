// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"github.com/gviegas/framegraph/driver"
	"github.com/gviegas/framegraph/engine/internal/ctxt"
	"github.com/gviegas/framegraph/engine/internal/shader"
)

// Size of the temporal resolve's work groups.
const taaGroupSize = 16

// historySource is the pass whose outputs are resolved
// over time.
type historySource interface {
	OutputCount() int
	Output(slot int) driver.Image
	OutputView(slot int) driver.ImageView
	VelocityView() driver.ImageView
}

// taa blends the current output of the compositor with
// the reprojected previous one and copies the result to
// the render target.
type taa struct {
	g     *graph
	src   historySource
	depth *preDepth
	// Set when the previous output holds no result.
	fresh bool
	table *shader.Table
	pb    *pipelineBinding
	cb    []driver.CmdBuffer
	sems  semSet
}

func newTAA(g *graph) *taa { return &taa{g: g} }

func (p *taa) id() PassID                   { return PassTAA }
func (p *taa) deps() []PassID               { return []PassID{PassPreDepth, PassForward} }
func (p *taa) bindings() []*pipelineBinding { return []*pipelineBinding{p.pb} }
func (p *taa) signals() *semSet             { return &p.sems }

func (p *taa) init(reg *passRegistry) (err error) {
	hs, ok := reg.get(PassForward).(historySource)
	if !ok || hs.OutputCount() != forwardOutputs {
		return newPassErr(PassTAA, "temporal resolve requires 2 forward outputs")
	}
	p.src = hs
	p.depth = reg.get(PassPreDepth).(*preDepth)
	defer func() {
		if err != nil {
			p.free()
		}
	}()
	if p.cb, err = newCmdBuffers(driver.QCompute, p.g.inFlight()); err != nil {
		return
	}
	if p.table, err = shader.NewTable(shader.TAAHeap(), p.g.inFlight()*forwardOutputs); err != nil {
		return
	}
	if err = p.resize(p.g.width, p.g.height); err != nil {
		return
	}
	src, err := p.g.source("taa.wgsl", nil)
	if err != nil {
		return
	}
	p.pb, err = newPipelineBinding("taa", []*shader.Source{src}, nil, p.build)
	return
}

func (p *taa) build(code []driver.ShaderCode) (driver.Pipeline, error) {
	return ctxt.GPU().NewPipeline(&driver.CompState{
		Func: driver.ShaderFunc{Code: code[0], Name: "main"},
		Desc: p.table.DescTable(),
	})
}

// resize rebinds every heap copy.
// The compositor must have been resized already.
func (p *taa) resize(int, int) error {
	for cpy := range p.table.Len() {
		cur := cpy % forwardOutputs
		p.table.SetImage(cpy, shader.TAAPrevNr, p.src.OutputView((cur+1)%forwardOutputs))
		p.table.SetImage(cpy, shader.TAAResultNr, p.src.OutputView(cur))
		p.table.SetImage(cpy, shader.TAADepthNr, p.depth.copyView())
		p.table.SetImage(cpy, shader.TAAVelocityNr, p.src.VelocityView())
	}
	p.fresh = true
	return nil
}

func (p *taa) record(fc *frameContext) (driver.CmdBuffer, error) {
	cur := fc.frame % forwardOutputs
	cpy := copyIndex(fc.frame, p.g.inFlight(), forwardOutputs)
	l := p.table.Reprojection(cpy)
	l.SetInvView(&fc.cam.invView)
	l.SetInvProj(&fc.cam.invProj)
	l.SetProjParams(fc.cam.projParams)
	l.SetPrevVP(&fc.cam.prevVP)
	l.SetScreenSize(p.g.width, p.g.height)
	l.SetEnabled(fc.state.TAA && !p.fresh)
	p.fresh = false

	cb := p.cb[fc.slot]
	if err := cb.Begin(); err != nil {
		return nil, err
	}
	cb.BeginWork(false)
	cb.SetPipeline(p.pb.pipeline())
	p.table.SetComp(cb, cpy)
	cb.Dispatch(groups(p.g.width, taaGroupSize), groups(p.g.height, taaGroupSize), 1)
	cb.EndWork()
	cb.Barrier([]driver.Barrier{{
		SyncBefore:   driver.SComputeShading,
		SyncAfter:    driver.SCopy,
		AccessBefore: driver.AShaderWrite,
		AccessAfter:  driver.ACopyRead,
	}})
	p.g.copyToTarget(cb, target{img: p.src.Output(cur), view: p.src.OutputView(cur)})
	return cb, cb.End()
}

func (p *taa) free() {
	if p.pb != nil {
		p.pb.free()
	}
	if p.table != nil {
		p.table.Free()
	}
	freeCmdBuffers(p.cb)
	p.sems.free()
	*p = taa{g: p.g}
}
