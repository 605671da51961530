// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"github.com/gviegas/framegraph/driver"
	"github.com/gviegas/framegraph/engine/internal/ctxt"
	"github.com/gviegas/framegraph/engine/internal/shader"
)

// Number of color outputs that the compositor
// alternates between.
const forwardOutputs = 2

// forward shades the scene with the sun and the shadow
// mask of the current producer.
type forward struct {
	g        *graph
	depth    *preDepth
	initial  ShadowProducer
	producer ShadowMaskProducer
	debug    DebugMode
	rtgi     driver.ImageView
	// Bound wherever an optional image is missing.
	dummy    target
	outputs  [forwardOutputs]target
	velocity target
	fbs      [forwardOutputs]driver.Framebuf
	pass     driver.RenderPass
	splr     driver.Sampler
	table    *shader.Table
	pb       *pipelineBinding
	cb       []driver.CmdBuffer
	sems     semSet
	// Whether the current output is copied to the
	// render target (i.e., no temporal resolve).
	blit bool
}

func newForward(g *graph, producer ShadowProducer) *forward {
	return &forward{g: g, initial: producer}
}

func (p *forward) id() PassID                   { return PassForward }
func (p *forward) bindings() []*pipelineBinding { return []*pipelineBinding{p.pb} }
func (p *forward) signals() *semSet             { return &p.sems }

func (p *forward) deps() []PassID {
	d := []PassID{PassPreDepth}
	for _, id := range [...]PassID{PassShadowMask, PassRayTraced} {
		if p.g.reg.has(id) {
			d = append(d, id)
		}
	}
	return d
}

// producerFor returns the registered producer of the
// given kind.
func producerFor(reg *passRegistry, sp ShadowProducer) (ShadowMaskProducer, error) {
	var id PassID
	switch sp {
	case CascadeRaster:
		id = PassShadowMask
	case RayTraced:
		id = PassRayTraced
	default:
		return nil, newPassErr(PassForward, "undefined shadow producer")
	}
	if p, ok := reg.get(id).(ShadowMaskProducer); ok {
		return p, nil
	}
	if sp == RayTraced {
		return nil, errNoRayTracing
	}
	return nil, newPassErr(PassForward, "no "+sp.String()+" producer")
}

func (p *forward) init(reg *passRegistry) (err error) {
	p.depth = reg.get(PassPreDepth).(*preDepth)
	if p.producer, err = producerFor(reg, p.initial); err != nil {
		return
	}
	defer func() {
		if err != nil {
			p.free()
		}
	}()
	if p.cb, err = newCmdBuffers(driver.QGraphics, p.g.inFlight()); err != nil {
		return
	}
	gpu := ctxt.GPU()
	p.splr, err = gpu.NewSampler(&driver.Sampling{
		Min:      driver.FLinear,
		Mag:      driver.FLinear,
		Mipmap:   driver.FLinear,
		AddrU:    driver.AWrap,
		AddrV:    driver.AWrap,
		AddrW:    driver.AWrap,
		MaxAniso: 16,
		MaxLOD:   1000,
	})
	if err != nil {
		return
	}
	if err = p.initDummy(); err != nil {
		return
	}
	p.pass, err = gpu.NewRenderPass(
		[]driver.Attachment{
			{Format: driver.RGBA16f, Samples: 1, Load: driver.LClear, Store: driver.SStore},
			{Format: driver.RG16f, Samples: 1, Load: driver.LClear, Store: driver.SStore},
			{Format: driver.D32f, Samples: 1, Load: driver.LLoad, Store: driver.SDontCare},
		},
		[]driver.Subpass{{Color: []int{0, 1}, DS: 2}},
	)
	if err != nil {
		return
	}
	if p.table, err = p.newTable(p.producer); err != nil {
		return
	}
	if err = p.resize(p.g.width, p.g.height); err != nil {
		return
	}
	src, err := p.g.source("forward.wgsl", p.producer.ConditionalBlocks())
	if err != nil {
		return
	}
	p.pb, err = newPipelineBinding("forward", []*shader.Source{src}, p.blocks, p.build)
	return
}

func (p *forward) initDummy() (err error) {
	size := driver.Dim3D{Width: 1, Height: 1}
	if p.dummy, err = newTarget(driver.RGBA8un, size, 1, driver.UShaderSample|driver.UCopyDst); err != nil {
		return
	}
	stg, err := newStaging(4)
	if err != nil {
		return
	}
	defer stg.free()
	if err = stg.copyToImage(p.dummy.view, p.dummy.img, size, 1, []byte{255, 255, 255, 255}); err != nil {
		return
	}
	return stg.commit()
}

// blocks returns the conditional blocks of the current
// producer.
func (p *forward) blocks() []string { return p.producer.ConditionalBlocks() }

// newTable creates a descriptor table whose layout
// matches prod.
func (p *forward) newTable(prod ShadowMaskProducer) (*shader.Table, error) {
	textures := p.g.scene.Textures()
	pat := prod.DenoisingPattern()
	def := shader.ForwardHeap(len(textures), pat != nil)
	table, err := shader.NewTable(def, p.g.inFlight())
	if err != nil {
		return nil, err
	}
	if len(textures) == 0 {
		textures = []driver.ImageView{p.dummy.view}
	}
	for cpy := range table.Len() {
		table.SetSampler(cpy, shader.FwdSplrNr, p.splr)
		table.SetImage(cpy, shader.FwdTexNr, textures...)
		if pat != nil {
			table.SetImage(cpy, shader.FwdDenoiseNr, pat)
		}
		table.SetImage(cpy, shader.FwdDebugNr, p.dummy.view)
	}
	return table, nil
}

func (p *forward) build(code []driver.ShaderCode) (driver.Pipeline, error) {
	return p.buildFor(p.table)(code)
}

// buildFor returns a buildFunc that lays out the
// pipeline according to table.
func (p *forward) buildFor(table *shader.Table) buildFunc {
	return func(code []driver.ShaderCode) (driver.Pipeline, error) {
		return ctxt.GPU().NewPipeline(&driver.GraphState{
			VertFunc: driver.ShaderFunc{Code: code[0], Name: "vs_main"},
			FragFunc: driver.ShaderFunc{Code: code[0], Name: "fs_main"},
			Desc:     table.DescTable(),
			Input:    meshInput,
			Topology: driver.TTriangle,
			Raster:   driver.RasterState{Cull: driver.CBack},
			Samples:  1,
			DS: driver.DSState{
				DepthTest: true,
				DepthCmp:  driver.CLessEqual,
			},
			Blend: driver.BlendState{WriteMask: []driver.ColorMask{driver.CAll, driver.CRed | driver.CGreen}},
			Pass:  p.pass,
		})
	}
}

func (p *forward) resize(width, height int) (err error) {
	p.freeTargets()
	size := driver.Dim3D{Width: width, Height: height}
	usg := driver.URenderTarget | driver.UShaderRead | driver.UShaderWrite | driver.UCopySrc
	for i := range p.outputs {
		if p.outputs[i], err = newTarget(driver.RGBA16f, size, 1, usg); err != nil {
			return
		}
	}
	if p.velocity, err = newTarget(driver.RG16f, size, 1, driver.URenderTarget|driver.UShaderRead); err != nil {
		return
	}
	for i := range p.fbs {
		iv := []driver.ImageView{p.outputs[i].view, p.velocity.view, p.depth.depthView()}
		if p.fbs[i], err = p.pass.NewFB(iv, width, height, 1); err != nil {
			return
		}
	}
	return
}

// setProducer switches the shadow producer.
// The caller must ensure that the device is idle.
// The descriptor layout is regenerated, since only some
// producers provide a denoising pattern, and the
// pipeline is rebuilt with the producer's conditional
// blocks. On failure, the current producer, table and
// pipeline are kept.
func (p *forward) setProducer(prod ShadowMaskProducer) error {
	table, err := p.newTable(prod)
	if err != nil {
		return err
	}
	if err := p.pb.replace(prod.ConditionalBlocks(), p.buildFor(table)); err != nil {
		table.Free()
		return err
	}
	p.table.Free()
	p.table = table
	p.producer = prod
	return nil
}

// setDebugMode sets the debug visualization.
// The debug descriptor of each heap copy is refreshed
// when the copy is next recorded.
func (p *forward) setDebugMode(m DebugMode) { p.debug = m }

// debugView returns the image visualized in the current
// debug mode.
func (p *forward) debugView() driver.ImageView {
	switch p.debug {
	case DebugShadows:
		if v := p.producer.DebugImage(); v != nil {
			return v
		}
	case DebugRTGI:
		if p.rtgi != nil {
			return p.rtgi
		}
	}
	return p.dummy.view
}

func (p *forward) record(fc *frameContext) (driver.CmdBuffer, error) {
	cur := fc.frame % forwardOutputs
	p.table.SetImage(fc.slot, shader.FwdMaskNr, p.producer.Output(fc.frame))
	p.table.SetImage(fc.slot, shader.FwdDepthNr, p.depth.copyView())
	p.table.SetImage(fc.slot, shader.FwdDebugNr, p.debugView())

	f := p.table.Frame(fc.slot)
	f.SetVP(&fc.cam.vp)
	f.SetV(&fc.cam.view)
	f.SetP(&fc.cam.proj)
	vp := p.g.viewport()
	f.SetBounds(&vp)
	cam, sun := fc.state.Camera, &fc.state.Sun
	l := p.table.Light(fc.slot)
	l.SetDirection(sun.viewDirection(&fc.cam.view))
	l.SetColor(sun.Color)
	l.SetOutputSize(p.g.width, p.g.height)
	l.SetNearFar(cam.Near(), cam.Far())
	l.SetDebugMode(int(p.debug))

	cb := p.cb[fc.slot]
	if err := cb.Begin(); err != nil {
		return nil, err
	}
	cb.Transition([]driver.Transition{
		transition(p.outputs[cur].view, driver.LUndefined, driver.LColorTarget,
			driver.SNone, driver.SColorOutput, driver.ANone, driver.AColorWrite),
		transition(p.velocity.view, driver.LUndefined, driver.LColorTarget,
			driver.SNone, driver.SColorOutput, driver.ANone, driver.AColorWrite),
	})
	cb.BeginPass(p.pass, p.fbs[cur], []driver.ClearValue{{Color: [4]float32{0, 0, 0, 1}}, {}, {}})
	cb.SetPipeline(p.pb.pipeline())
	cb.SetViewport([]driver.Viewport{vp})
	cb.SetScissor([]driver.Scissor{{Width: p.g.width, Height: p.g.height}})
	p.table.SetGraph(cb, fc.slot)
	p.g.scene.Draw(cb)
	cb.EndPass()
	cb.Transition([]driver.Transition{
		transition(p.outputs[cur].view, driver.LColorTarget, driver.LGeneral,
			driver.SColorOutput, driver.SComputeShading, driver.AColorWrite, driver.AShaderRead|driver.AShaderWrite),
		transition(p.velocity.view, driver.LColorTarget, driver.LGeneral,
			driver.SColorOutput, driver.SComputeShading, driver.AColorWrite, driver.AShaderRead),
	})
	if p.blit {
		p.g.copyToTarget(cb, p.outputs[cur])
	}
	return cb, cb.End()
}

// Output returns the color output of the given slot.
func (p *forward) Output(slot int) driver.Image { return p.outputs[slot].img }

// OutputView returns a view of Output(slot).
func (p *forward) OutputView(slot int) driver.ImageView { return p.outputs[slot].view }

// OutputCount returns the number of color outputs.
func (p *forward) OutputCount() int { return len(p.outputs) }

// Velocity returns the velocity output.
func (p *forward) Velocity() driver.Image { return p.velocity.img }

// VelocityView returns a view of Velocity().
func (p *forward) VelocityView() driver.ImageView { return p.velocity.view }

func (p *forward) freeTargets() {
	for i := range p.outputs {
		if p.fbs[i] != nil {
			p.fbs[i].Destroy()
			p.fbs[i] = nil
		}
		p.outputs[i].free()
	}
	p.velocity.free()
}

func (p *forward) free() {
	if p.pb != nil {
		p.pb.free()
	}
	p.freeTargets()
	p.dummy.free()
	if p.pass != nil {
		p.pass.Destroy()
	}
	if p.splr != nil {
		p.splr.Destroy()
	}
	if p.table != nil {
		p.table.Free()
	}
	freeCmdBuffers(p.cb)
	p.sems.free()
	*p = forward{g: p.g, initial: p.initial, blit: p.blit, debug: p.debug, rtgi: p.rtgi}
}
