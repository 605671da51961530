// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"sync"

	"github.com/gviegas/framegraph/driver"
	"github.com/gviegas/framegraph/engine/internal/ctxt"
	"github.com/gviegas/framegraph/engine/internal/shader"
)

func newRendErr(s string) error { return errors.New("engine: renderer: " + s) }

// RendererParam describes the collaborators of a
// Renderer.
type RendererParam struct {
	// Scene is drawn by the raster passes and traced by
	// the ray-traced shadow pass. It must not be nil.
	Scene Scene

	// Shaders is the file system from which shader
	// sources are loaded.
	// If nil, Config.ShaderDir is used, or the built-in
	// shaders if Config.ShaderDir is empty.
	Shaders fs.FS

	// Compiler compiles shader sources.
	// If nil, shader.DefaultCompiler is used.
	Compiler shader.Compiler
}

// Renderer executes the frame graph.
// Frames are recorded and submitted by the goroutine
// that calls Render.
type Renderer struct {
	g        graph
	producer ShadowProducer
	debug    DebugMode
	edges    []Edge
	active   []PassID
	frame    int

	// Dependencies on the previous frame, and the ones
	// that the last submitted frame signaled.
	cross []Edge
	carry []Edge

	// Completion channel of each frame slot and the
	// number of work items not yet received from it.
	ch   []chan *driver.WorkItem
	npen []int

	// Serializes GPU submission between the render
	// goroutine and a Loader.
	queueLock sync.Mutex
	clear     *loadingClear

	pre  *preDepth
	csm  *csmPass
	mask *shadowMask
	rt   *rtShadow
	fwd  *forward
	taa  *taa
}

// NewRenderer creates a new renderer using the current
// configuration.
// The ray-traced shadow producer is only available if
// the GPU supports ray tracing.
func NewRenderer(param *RendererParam) (*Renderer, error) {
	if param == nil || param.Scene == nil {
		return nil, newRendErr("nil scene in call to NewRenderer")
	}
	c := cfg
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := ctxt.Load(c.Driver); err != nil {
		return nil, err
	}
	ctxt.Refresh()
	rt := ctxt.Features().RayTracing
	if c.ShadowProducer == RayTraced && !rt {
		return nil, errNoRayTracing
	}
	shaders := param.Shaders
	if shaders == nil {
		if c.ShaderDir != "" {
			shaders = os.DirFS(c.ShaderDir)
		} else {
			shaders = shader.Builtin()
		}
	}
	r := &Renderer{
		g: graph{
			cfg:     c,
			scene:   param.Scene,
			shaders: shaders,
			comp:    param.Compiler,
			width:   c.Width,
			height:  c.Height,
		},
		producer: c.ShadowProducer,
	}
	r.pre = newPreDepth(&r.g)
	r.csm = newCSM(&r.g)
	r.mask = newShadowMask(&r.g)
	r.fwd = newForward(&r.g, c.ShadowProducer)
	r.g.reg.add(r.pre)
	r.g.reg.add(r.csm)
	r.g.reg.add(r.mask)
	r.g.reg.add(r.fwd)
	if rt {
		r.rt = newRTShadow(&r.g)
		r.g.reg.add(r.rt)
	}
	if c.TAA {
		r.taa = newTAA(&r.g)
		r.g.reg.add(r.taa)
	} else {
		r.fwd.blit = true
	}
	if err := r.g.reg.build(); err != nil {
		return nil, err
	}
	if err := r.g.newTarget(); err != nil {
		return nil, err
	}
	if err := r.g.reg.init(); err != nil {
		r.g.target.free()
		return nil, err
	}
	r.ch = make([]chan *driver.WorkItem, c.FramesInFlight)
	for i := range r.ch {
		r.ch[i] = make(chan *driver.WorkItem, passCount+1)
	}
	r.npen = make([]int, c.FramesInFlight)
	r.updateEdges()
	Logger().Info("renderer created",
		"driver", ctxt.Driver().Name(),
		"producer", r.producer,
		"passes", fmt.Sprint(r.g.reg.order),
		"width", r.g.width,
		"height", r.g.height)
	return r, nil
}

// updateEdges recomputes the semaphore dependencies and
// the passes that execute.
func (r *Renderer) updateEdges() {
	r.edges = computeEdges(r.producer, r.debug, r.taa != nil)
	r.active = activePasses(r.g.reg.order, r.producer, r.taa != nil)
	r.cross = frameEdges(r.active, r.edges)
}

// Edges returns the current semaphore dependencies.
func (r *Renderer) Edges() []Edge { return slices.Clone(r.edges) }

// ShadowProducer returns the current shadow producer.
func (r *Renderer) ShadowProducer() ShadowProducer { return r.producer }

// DebugMode returns the current debug mode.
func (r *Renderer) DebugMode() DebugMode { return r.debug }

// Frame returns the index of the next frame.
func (r *Renderer) Frame() int { return r.frame }

// drain receives every outstanding work item of slot
// and writes its pending captures.
func (r *Renderer) drain(slot int) (err error) {
	for ; r.npen[slot] > 0; r.npen[slot]-- {
		wk := <-r.ch[slot]
		if wk.Err != nil && err == nil {
			if id, ok := wk.Custom.(PassID); ok {
				err = fmt.Errorf("engine: %s pass: %w", id, wk.Err)
			} else {
				err = fmt.Errorf("engine: %w", wk.Err)
			}
		}
	}
	if err == nil && r.rt != nil {
		err = r.rt.complete(slot)
	}
	return
}

// waitIdle waits for the device to be idle and drains
// every frame slot.
func (r *Renderer) waitIdle() error {
	if err := ctxt.GPU().WaitIdle(); err != nil {
		return err
	}
	for i := range r.ch {
		if err := r.drain(i); err != nil {
			return err
		}
	}
	return nil
}

// Render records and submits a frame.
// It blocks until the frame slot being reused is no
// longer in use by the GPU.
func (r *Renderer) Render(st *FrameState) error {
	if st == nil || st.Camera == nil {
		return newRendErr("nil camera in call to Render")
	}
	slot := r.frame % r.g.inFlight()
	if err := r.drain(slot); err != nil {
		return err
	}
	if r.g.cfg.HotReload {
		if _, err := r.Reload(); err != nil {
			return err
		}
	}
	fc := &frameContext{
		frame: r.frame,
		slot:  slot,
		state: st,
		cam:   newCameraMatrices(st.Camera),
	}
	r.queueLock.Lock()
	defer r.queueLock.Unlock()
	for i, id := range r.active {
		p := r.g.reg.get(id)
		cb, err := p.record(fc)
		if err != nil {
			r.abandon()
			return err
		}
		wk, err := r.workItem(p, cb, i == 0)
		if err != nil {
			r.abandon()
			return err
		}
		if err := ctxt.GPU().Commit(wk, r.ch[slot]); err != nil {
			r.abandon()
			return err
		}
		r.npen[slot]++
	}
	r.carry = slices.Clone(r.cross)
	r.frame++
	return nil
}

// abandon discards a partially submitted frame.
// Some of its semaphores may have been signaled with no
// matching wait, so every semaphore is recreated once
// the device is idle.
func (r *Renderer) abandon() {
	if err := r.waitIdle(); err != nil {
		Logger().Error("failed to wait for abandoned frame", "frame", r.frame, "err", err)
	}
	for _, id := range r.g.reg.order {
		r.g.reg.get(id).signals().free()
	}
	r.carry = nil
	Logger().Warn("frame abandoned", "frame", r.frame)
}

// workItem creates the work item of p, waiting on and
// signaling the semaphores of the current edges.
// p also waits on what the previous frame signaled for
// it; first is set for the frame's first work item,
// which waits on the semaphores whose consumer is no
// longer active.
func (r *Renderer) workItem(p pass, cb driver.CmdBuffer, first bool) (*driver.WorkItem, error) {
	wk := &driver.WorkItem{Work: []driver.CmdBuffer{cb}, Custom: p.id()}
	for _, e := range r.carry {
		if e.To == p.id() || first && !slices.Contains(r.active, e.To) {
			sem := r.g.reg.get(e.From).signals().sems[e.To]
			wk.Wait = append(wk.Wait, driver.SemWait{Sem: sem, Stage: e.Stage})
		}
	}
	for _, e := range r.cross {
		if e.From == p.id() {
			sem, err := p.signals().get(e.To)
			if err != nil {
				return nil, err
			}
			wk.Signal = append(wk.Signal, sem)
		}
	}
	for _, e := range r.edges {
		switch p.id() {
		case e.To:
			sem := r.g.reg.get(e.From).signals().sems[e.To]
			if sem == nil {
				return nil, newPassErr(e.To, "waits on "+e.From.String()+", which did not execute")
			}
			wk.Wait = append(wk.Wait, driver.SemWait{Sem: sem, Stage: e.Stage})
		case e.From:
			sem, err := p.signals().get(e.To)
			if err != nil {
				return nil, err
			}
			wk.Signal = append(wk.Signal, sem)
		}
	}
	return wk, nil
}

// Reload polls the shader sources of every pass and
// rebuilds the pipelines whose sources changed.
// The device is waited for at most once.
// It returns the number of rebuilt pipelines.
func (r *Renderer) Reload() (int, error) {
	var bs []*pipelineBinding
	for _, id := range r.g.reg.order {
		bs = append(bs, r.g.reg.get(id).bindings()...)
	}
	return reloadBindings(bs)
}

// SetShadowProducer selects the pass that produces the
// shadow mask.
// Changing the producer waits for the device to be idle.
func (r *Renderer) SetShadowProducer(p ShadowProducer) error {
	if p == r.producer {
		return nil
	}
	prod, err := producerFor(&r.g.reg, p)
	if err != nil {
		return err
	}
	if err := r.waitIdle(); err != nil {
		return err
	}
	if err := r.fwd.setProducer(prod); err != nil {
		return err
	}
	if p == CascadeRaster {
		// Mask history predates the switch.
		r.mask.fresh = true
	}
	r.producer = p
	r.updateEdges()
	Logger().Info("shadow producer changed", "producer", p)
	return nil
}

// SetDebugMode sets the debug visualization.
// It does not wait for the device.
func (r *Renderer) SetDebugMode(m DebugMode) {
	if m == r.debug {
		return
	}
	r.debug = m
	r.fwd.setDebugMode(m)
	r.updateEdges()
}

// SetRTGIImage sets the image visualized in the
// DebugRTGI mode.
// The image must be in the driver.LShaderRead layout
// when frames are rendered, and must remain valid until
// replaced.
func (r *Renderer) SetRTGIImage(iv driver.ImageView) { r.fwd.rtgi = iv }

// Resize changes the size of the render target.
// It waits for the device to be idle.
func (r *Renderer) Resize(width, height int) error {
	if width < 1 || height < 1 {
		return newRendErr("non-positive size in call to Resize")
	}
	if width == r.g.width && height == r.g.height {
		return nil
	}
	if err := r.waitIdle(); err != nil {
		return err
	}
	r.g.width, r.g.height = width, height
	if err := r.g.newTarget(); err != nil {
		return err
	}
	for _, id := range r.g.reg.order {
		if err := r.g.reg.get(id).resize(width, height); err != nil {
			return err
		}
	}
	Logger().Debug("renderer resized", "width", width, "height", height)
	return nil
}

// Target returns the render target.
// It is in the driver.LShaderRead layout once the
// frame that wrote it completes.
func (r *Renderer) Target() driver.Image { return r.g.target.img }

// TargetView returns a view of Target().
func (r *Renderer) TargetView() driver.ImageView { return r.g.target.view }

// Forward returns the compositor's color output written
// by the given frame.
func (r *Renderer) Forward(frame int) driver.Image { return r.fwd.Output(frame % r.fwd.OutputCount()) }

// Velocity returns the compositor's velocity output.
func (r *Renderer) Velocity() driver.Image { return r.fwd.Velocity() }

// Free waits for the device to be idle and destroys the
// renderer's resources.
func (r *Renderer) Free() error {
	err := r.waitIdle()
	r.clear.free()
	r.g.reg.free()
	r.g.target.free()
	*r = Renderer{}
	return err
}
