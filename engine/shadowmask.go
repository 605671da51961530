// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"github.com/gviegas/framegraph/driver"
	"github.com/gviegas/framegraph/engine/cascade"
	"github.com/gviegas/framegraph/engine/internal/ctxt"
	"github.com/gviegas/framegraph/engine/internal/shader"
	"github.com/gviegas/framegraph/engine/noise"
)

// Size of the resolver's work groups.
const maskGroupSize = 16

// maskSlots returns the mask slot written in the given
// frame and the slot holding the previous result.
// It panics if they alias.
func maskSlots(frame, count int) (cur, prev int) {
	cur = frame % count
	prev = (frame + 1) % count
	if cur == prev {
		panic("engine: shadow mask slot read and written in the same frame")
	}
	return
}

// shadowMask resolves the cascaded shadow maps into a
// screen-space mask, accumulating over frames.
// It is the shadow producer of the CascadeRaster path.
type shadowMask struct {
	g     *graph
	csm   *csmPass
	depth *preDepth
	masks []target
	// Set when masks hold no previous result.
	fresh   bool
	pattern target
	rot     []float32
	shadow  driver.Sampler
	nearest driver.Sampler
	table   *shader.Table
	pb      *pipelineBinding
	cb      []driver.CmdBuffer
	sems    semSet
}

func newShadowMask(g *graph) *shadowMask { return &shadowMask{g: g} }

func (p *shadowMask) id() PassID                   { return PassShadowMask }
func (p *shadowMask) deps() []PassID               { return []PassID{PassPreDepth, PassCSM} }
func (p *shadowMask) bindings() []*pipelineBinding { return []*pipelineBinding{p.pb} }
func (p *shadowMask) signals() *semSet             { return &p.sems }

// count returns the number of mask slots.
func (p *shadowMask) count() int { return p.g.cfg.MaskCount }

// copies returns the number of heap copies.
func (p *shadowMask) copies() int { return p.g.inFlight() * p.count() }

func (p *shadowMask) init(reg *passRegistry) (err error) {
	if p.count() < MinMaskCount {
		return newPassErr(p.id(), "mask count must be at least 2")
	}
	p.depth = reg.get(PassPreDepth).(*preDepth)
	p.csm = reg.get(PassCSM).(*csmPass)
	defer func() {
		if err != nil {
			p.free()
		}
	}()
	if p.cb, err = newCmdBuffers(driver.QCompute, p.g.inFlight()); err != nil {
		return
	}
	if p.table, err = shader.NewTable(shader.ShadowMaskHeap(cascade.Count), p.copies()); err != nil {
		return
	}
	gpu := ctxt.GPU()
	p.shadow, err = gpu.NewSampler(&driver.Sampling{
		Min:    driver.FLinear,
		Mag:    driver.FLinear,
		Mipmap: driver.FNoMipmap,
		AddrU:  driver.AClamp,
		AddrV:  driver.AClamp,
		AddrW:  driver.AClamp,
		Cmp:    driver.CLessEqual,
	})
	if err != nil {
		return
	}
	p.nearest, err = gpu.NewSampler(&driver.Sampling{
		Min:    driver.FNearest,
		Mag:    driver.FNearest,
		Mipmap: driver.FNoMipmap,
		AddrU:  driver.AWrap,
		AddrV:  driver.AWrap,
		AddrW:  driver.AWrap,
	})
	if err != nil {
		return
	}
	if err = p.initNoise(); err != nil {
		return
	}
	if err = p.resize(p.g.width, p.g.height); err != nil {
		return
	}
	src, err := p.g.source("shadowmask.wgsl", nil)
	if err != nil {
		return
	}
	p.pb, err = newPipelineBinding("shadowmask", []*shader.Source{src}, nil, p.build)
	return
}

// initNoise creates the sample pattern texture and the
// per-frame rotations.
func (p *shadowMask) initNoise() error {
	rng := noise.NewRand(p.g.cfg.NoiseSeed)
	pat := noise.Pattern(rng, noise.SizePerSide, noise.PatternSide)
	p.rot = noise.Rotations(rng, noise.RotationCount)

	size := driver.Dim3D{Width: pat.Width, Height: pat.Height, Depth: pat.Layers}
	var err error
	if p.pattern, err = newTarget(driver.RG32f, size, 1, driver.UShaderSample|driver.UCopyDst); err != nil {
		return err
	}
	data := pat.Bytes()
	stg, err := newStaging(int64(len(data)))
	if err != nil {
		return err
	}
	defer stg.free()
	if err := stg.copyToImage(p.pattern.view, p.pattern.img, size, 1, data); err != nil {
		return err
	}
	return stg.commit()
}

func (p *shadowMask) build(code []driver.ShaderCode) (driver.Pipeline, error) {
	return ctxt.GPU().NewPipeline(&driver.CompState{
		Func: driver.ShaderFunc{Code: code[0], Name: "main"},
		Desc: p.table.DescTable(),
	})
}

// resize recreates the masks and rebinds every heap
// copy.
func (p *shadowMask) resize(width, height int) (err error) {
	for i := range p.masks {
		p.masks[i].free()
	}
	p.masks = make([]target, p.count())
	for i := range p.masks {
		p.masks[i], err = newTarget(driver.RG16f, driver.Dim3D{Width: width, Height: height}, 1, driver.UShaderRead|driver.UShaderWrite)
		if err != nil {
			return
		}
	}
	p.fresh = true
	views := make([]driver.ImageView, cascade.Count)
	for i := range views {
		views[i] = p.csm.mapView(i)
	}
	for cpy := range p.copies() {
		cur, prev := maskSlots(cpy%p.count(), p.count())
		p.table.SetImage(cpy, shader.MaskDepthNr, p.depth.copyView())
		p.table.SetImage(cpy, shader.MaskCascadeNr, views...)
		p.table.SetSampler(cpy, shader.MaskSplrNr, p.shadow)
		p.table.SetImage(cpy, shader.MaskNoiseNr, p.pattern.view)
		p.table.SetSampler(cpy, shader.MaskNoiseSplrNr, p.nearest)
		p.table.SetImage(cpy, shader.MaskPrevNr, p.masks[prev].view)
		p.table.SetImage(cpy, shader.MaskOutNr, p.masks[cur].view)
	}
	return
}

func (p *shadowMask) record(fc *frameContext) (driver.CmdBuffer, error) {
	cur, prev := maskSlots(fc.frame, p.count())
	cpy := copyIndex(fc.frame, p.g.inFlight(), p.count())
	// Resizing the depth image replaces the view.
	p.table.SetImage(cpy, shader.MaskDepthNr, p.depth.copyView())

	l := p.table.ShadowMask(cpy)
	l.SetInvView(&fc.cam.invView)
	l.SetInvProj(&fc.cam.invProj)
	l.SetProjParams(fc.cam.projParams)
	l.SetPrevVP(&fc.cam.prevVP)
	l.SetScreenSize(p.g.width, p.g.height)
	scales := p.csm.scales()
	for i := range cascade.Count {
		b := p.csm.binding(i)
		l.SetCascadeVP(i, &b.viewProj)
		l.SetCascadeSplit(i, b.split)
		l.SetCascadeScale(i, scales[i])
		l.SetCascadeSize(i, b.size)
	}
	l.SetNoiseRotation(p.rot[fc.frame%len(p.rot)])

	cb := p.cb[fc.slot]
	if err := cb.Begin(); err != nil {
		return nil, err
	}
	t := []driver.Transition{
		transition(p.masks[cur].view, driver.LUndefined, driver.LGeneral,
			driver.SNone, driver.SComputeShading, driver.ANone, driver.AShaderWrite),
	}
	if p.fresh {
		t = append(t, transition(p.masks[prev].view, driver.LUndefined, driver.LGeneral,
			driver.SNone, driver.SComputeShading, driver.ANone, driver.AShaderRead))
		p.fresh = false
	}
	cb.Transition(t)
	cb.BeginWork(false)
	cb.SetPipeline(p.pb.pipeline())
	p.table.SetComp(cb, cpy)
	cb.Dispatch(groups(p.g.width, maskGroupSize), groups(p.g.height, maskGroupSize), 1)
	cb.EndWork()
	return cb, cb.End()
}

// Output implements ShadowMaskProducer.
func (p *shadowMask) Output(frame int) driver.ImageView {
	cur, _ := maskSlots(frame, p.count())
	return p.masks[cur].view
}

// Semaphore implements ShadowMaskProducer.
func (p *shadowMask) Semaphore() driver.Semaphore { return p.sems.sems[PassForward] }

// DenoisingPattern implements ShadowMaskProducer.
// The resolver denoises the mask itself.
func (p *shadowMask) DenoisingPattern() driver.ImageView { return nil }

// DebugImage implements ShadowMaskProducer.
// It is the first cascade's shadow map.
func (p *shadowMask) DebugImage() driver.ImageView { return p.csm.mapView(0) }

// ConditionalBlocks implements ShadowMaskProducer.
func (p *shadowMask) ConditionalBlocks() []string { return nil }

func (p *shadowMask) free() {
	if p.pb != nil {
		p.pb.free()
	}
	for i := range p.masks {
		p.masks[i].free()
	}
	p.pattern.free()
	for _, s := range []driver.Sampler{p.shadow, p.nearest} {
		if s != nil {
			s.Destroy()
		}
	}
	if p.table != nil {
		p.table.Free()
	}
	freeCmdBuffers(p.cb)
	p.sems.free()
	*p = shadowMask{g: p.g}
}
