// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"fmt"

	"github.com/gviegas/framegraph/driver"
	"github.com/gviegas/framegraph/engine/internal/ctxt"
	"github.com/gviegas/framegraph/engine/internal/shader"
	"github.com/gviegas/framegraph/engine/noise"
)

// Conditional block enabled in consumers of the
// ray-traced mask.
const rtShadowBlock = "RAYTRACED_SHADOWS"

var errNoRayTracing = fmt.Errorf("engine: ray-traced shadows: %w", driver.ErrNotSupported)

// rtShadow traces one shadow ray per pixel towards a
// jittered point of the sun's disk.
// It is the shadow producer of the RayTraced path.
type rtShadow struct {
	g     *graph
	depth *preDepth
	// The mask is a single image: every frame overwrites
	// it.
	mask     target
	fresh    bool
	dirs     target
	denoise  target
	nearest  driver.Sampler
	table    *shader.Table
	pb       *pipelineBinding
	cb       []driver.CmdBuffer
	sems     semSet
	shot     screenshotState
	readback []driver.Buffer
	pending  []pendingShot
}

func newRTShadow(g *graph) *rtShadow { return &rtShadow{g: g} }

func (p *rtShadow) id() PassID                   { return PassRayTraced }
func (p *rtShadow) deps() []PassID               { return []PassID{PassPreDepth} }
func (p *rtShadow) bindings() []*pipelineBinding { return []*pipelineBinding{p.pb} }
func (p *rtShadow) signals() *semSet             { return &p.sems }

func (p *rtShadow) init(reg *passRegistry) (err error) {
	if !ctxt.GPU().Features().RayTracing {
		return errNoRayTracing
	}
	p.depth = reg.get(PassPreDepth).(*preDepth)
	defer func() {
		if err != nil {
			p.free()
		}
	}()
	if p.cb, err = newCmdBuffers(driver.QRayTracing, p.g.inFlight()); err != nil {
		return
	}
	if p.table, err = shader.NewTable(shader.RTShadowHeap(), p.g.inFlight()); err != nil {
		return
	}
	p.nearest, err = ctxt.GPU().NewSampler(&driver.Sampling{
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
	srcs := make([]*shader.Source, 0, 3)
	for _, name := range [...]string{"rtshadow.rgen", "rtshadow.rmiss", "rtshadow.rchit"} {
		var src *shader.Source
		if src, err = p.g.source(name, nil); err != nil {
			return
		}
		srcs = append(srcs, src)
	}
	p.pb, err = newPipelineBinding("rtshadow", srcs, nil, p.build)
	return
}

// initNoise creates the direction noise and the
// denoising pattern.
func (p *rtShadow) initNoise() (err error) {
	rng := noise.NewRand(p.g.cfg.NoiseSeed ^ 0x7261)
	dirs := noise.Directions(rng, noise.SizePerSide, noise.DirectionCount)
	den := noise.Denoise(rng, noise.DenoiseSize)

	dirSize := driver.Dim3D{Width: dirs.Width, Height: dirs.Height, Depth: dirs.Layers}
	if p.dirs, err = newTarget(driver.RG32f, dirSize, 1, driver.UShaderSample|driver.UCopyDst); err != nil {
		return
	}
	denSize := driver.Dim3D{Width: den.Width, Height: den.Height}
	if p.denoise, err = newTarget(driver.RG32f, denSize, 1, driver.UShaderSample|driver.UCopyDst); err != nil {
		return
	}
	dirData, denData := dirs.Bytes(), den.Bytes()
	stg, err := newStaging(int64(len(dirData) + len(denData)))
	if err != nil {
		return
	}
	defer stg.free()
	if err = stg.copyToImage(p.dirs.view, p.dirs.img, dirSize, 1, dirData); err != nil {
		return
	}
	if err = stg.copyToImage(p.denoise.view, p.denoise.img, denSize, 1, denData); err != nil {
		return
	}
	return stg.commit()
}

func (p *rtShadow) build(code []driver.ShaderCode) (driver.Pipeline, error) {
	return ctxt.GPU().NewPipeline(&driver.RTState{
		RayGen:     driver.ShaderFunc{Code: code[0], Name: "main"},
		Miss:       driver.ShaderFunc{Code: code[1], Name: "main"},
		ClosestHit: driver.ShaderFunc{Code: code[2], Name: "main"},
		Desc:       p.table.DescTable(),
		MaxDepth:   1,
	})
}

func (p *rtShadow) resize(width, height int) (err error) {
	p.mask.free()
	for _, b := range p.readback {
		b.Destroy()
	}
	p.readback = p.readback[:0]
	p.mask, err = newTarget(driver.R32f, driver.Dim3D{Width: width, Height: height}, 1,
		driver.UShaderRead|driver.UShaderWrite|driver.UCopySrc)
	if err != nil {
		return
	}
	p.fresh = true
	for range p.g.inFlight() {
		var b driver.Buffer
		if b, err = ctxt.GPU().NewBuffer(int64(width*height*4), true, driver.UCopyDst); err != nil {
			return
		}
		p.readback = append(p.readback, b)
	}
	p.pending = make([]pendingShot, p.g.inFlight())
	for cpy := range p.g.inFlight() {
		p.table.SetImage(cpy, shader.RTOutNr, p.mask.view)
		p.table.SetImage(cpy, shader.RTNoiseNr, p.dirs.view)
		p.table.SetSampler(cpy, shader.RTNoiseSplrNr, p.nearest)
	}
	return
}

func (p *rtShadow) record(fc *frameContext) (driver.CmdBuffer, error) {
	tlas := p.g.scene.TLAS()
	if tlas == nil {
		return nil, newPassErr(p.id(), "scene has no acceleration structure")
	}
	shot := p.shot.step(&fc.state.ShadowScreenshot)

	p.table.SetAccelStruct(fc.slot, shader.RTAccelNr, tlas)
	p.table.SetImage(fc.slot, shader.RTDepthNr, p.depth.copyView())
	l := p.table.RTShadow(fc.slot)
	l.SetInvView(&fc.cam.invView)
	l.SetInvProj(&fc.cam.invProj)
	l.SetProjParams(fc.cam.projParams)
	l.SetSunDir(fc.state.Sun.ToLight())
	l.SetNoiseIndex(fc.frame % noise.DirectionCount)
	if shot == shotReference {
		l.SetNoNoiseFrame(fc.frame + 1)
	} else {
		l.SetNoNoiseFrame(0)
	}
	l.SetSunAngle(fc.state.Sun.AngularRadius)

	cb := p.cb[fc.slot]
	if err := cb.Begin(); err != nil {
		return nil, err
	}
	if p.fresh {
		cb.Transition([]driver.Transition{
			transition(p.mask.view, driver.LUndefined, driver.LGeneral,
				driver.SNone, driver.SRayTracing, driver.ANone, driver.AShaderWrite),
		})
		p.fresh = false
	}
	cb.BeginWork(false)
	cb.SetPipeline(p.pb.pipeline())
	p.table.SetRT(cb, fc.slot)
	cb.TraceRays(p.g.width, p.g.height, 1)
	cb.EndWork()
	if shot != shotNone {
		p.recordCapture(cb, fc.slot)
		p.pending[fc.slot] = pendingShot{kind: shot, frame: fc.frame}
	}
	return cb, cb.End()
}

// recordCapture copies the mask into the slot's
// readback buffer.
func (p *rtShadow) recordCapture(cb driver.CmdBuffer, slot int) {
	cb.Transition([]driver.Transition{
		transition(p.mask.view, driver.LGeneral, driver.LCopySrc,
			driver.SRayTracing, driver.SCopy, driver.AShaderWrite, driver.ACopyRead),
	})
	cb.BeginBlit(false)
	cb.CopyImgToBuf(&driver.BufImgCopy{
		Buf:    p.readback[slot],
		Stride: [2]int64{int64(p.g.width), int64(p.g.height)},
		Img:    p.mask.img,
		Size:   driver.Dim3D{Width: p.g.width, Height: p.g.height, Depth: 1},
	})
	cb.EndBlit()
	cb.Transition([]driver.Transition{
		transition(p.mask.view, driver.LCopySrc, driver.LGeneral,
			driver.SCopy, driver.SFragmentShading, driver.ACopyRead, driver.AShaderRead),
	})
}

// complete writes the capture of a completed frame
// slot, if any.
func (p *rtShadow) complete(slot int) error {
	shot := p.pending[slot]
	if shot.kind == shotNone {
		return nil
	}
	p.pending[slot] = pendingShot{}
	path := shotPath(p.g.cfg.ScreenshotDir, shot)
	if err := writeMaskTIFF(path, p.readback[slot].Bytes(), p.g.width, p.g.height); err != nil {
		return err
	}
	Logger().Info("shadow screenshot written", "path", path, "kind", shot.kind)
	return nil
}

// Output implements ShadowMaskProducer.
func (p *rtShadow) Output(int) driver.ImageView { return p.mask.view }

// Semaphore implements ShadowMaskProducer.
func (p *rtShadow) Semaphore() driver.Semaphore { return p.sems.sems[PassForward] }

// DenoisingPattern implements ShadowMaskProducer.
func (p *rtShadow) DenoisingPattern() driver.ImageView { return p.denoise.view }

// DebugImage implements ShadowMaskProducer.
// It is the raw mask.
func (p *rtShadow) DebugImage() driver.ImageView { return p.mask.view }

// ConditionalBlocks implements ShadowMaskProducer.
func (p *rtShadow) ConditionalBlocks() []string { return []string{rtShadowBlock} }

func (p *rtShadow) free() {
	if p.pb != nil {
		p.pb.free()
	}
	p.mask.free()
	p.dirs.free()
	p.denoise.free()
	for _, b := range p.readback {
		b.Destroy()
	}
	if p.nearest != nil {
		p.nearest.Destroy()
	}
	if p.table != nil {
		p.table.Free()
	}
	freeCmdBuffers(p.cb)
	p.sems.free()
	*p = rtShadow{g: p.g}
}
