// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"

	"github.com/gviegas/framegraph/driver"
	"github.com/gviegas/framegraph/engine/internal/ctxt"
)

// LoadFunc loads data in the background.
// GPU work must be committed through submit, which
// blocks until the work completes.
type LoadFunc func(submit func(wk *driver.WorkItem) error) error

// Loader runs a LoadFunc in the background while the
// renderer presents loading frames.
type Loader struct {
	name string
	pool worker.DynamicWorkerPool
	lock *sync.Mutex
	ch   chan *driver.WorkItem
	wg   sync.WaitGroup
	done atomic.Bool
	err  error
}

// Load starts loading in the background.
// Until the returned Loader's Wait method is called,
// RenderLoading should be used instead of Render.
func (r *Renderer) Load(name string, load LoadFunc) *Loader {
	l := &Loader{
		name: name,
		pool: worker.NewDynamicWorkerPool(1, 1, time.Second),
		lock: &r.queueLock,
		ch:   make(chan *driver.WorkItem, 1),
	}
	l.wg.Add(1)
	Logger().Info("loading started", "name", name)
	start := time.Now()
	l.pool.SubmitTask(worker.Task{
		Payload: name,
		Do: func() (any, error) {
			defer l.wg.Done()
			l.err = load(l.submit)
			l.done.Store(true)
			if l.err != nil {
				Logger().Error("loading failed", "name", name, "err", l.err)
			} else {
				Logger().Info("loading finished", "name", name, "elapsed", time.Since(start))
			}
			return nil, l.err
		},
	})
	return l
}

func (l *Loader) submit(wk *driver.WorkItem) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if err := ctxt.GPU().Commit(wk, l.ch); err != nil {
		return err
	}
	return (<-l.ch).Err
}

// Done returns whether loading finished.
func (l *Loader) Done() bool { return l.done.Load() }

// Wait blocks until loading finishes and returns the
// LoadFunc's error.
func (l *Loader) Wait() error {
	l.wg.Wait()
	l.pool.Stop()
	return l.err
}

// loadingClear clears the render target while loading.
type loadingClear struct {
	pass driver.RenderPass
	fb   driver.Framebuf
	// View from which fb was created.
	view driver.ImageView
	cb   []driver.CmdBuffer
}

func newLoadingClear(g *graph) (c *loadingClear, err error) {
	c = new(loadingClear)
	defer func() {
		if err != nil {
			c.free()
			c = nil
		}
	}()
	if c.cb, err = newCmdBuffers(driver.QGraphics, g.inFlight()); err != nil {
		return
	}
	c.pass, err = ctxt.GPU().NewRenderPass(
		[]driver.Attachment{{Format: driver.RGBA16f, Samples: 1, Load: driver.LClear, Store: driver.SStore}},
		[]driver.Subpass{{Color: []int{0}, DS: -1}},
	)
	return
}

func (c *loadingClear) record(g *graph, slot int) (driver.CmdBuffer, error) {
	if c.view != g.target.view {
		if c.fb != nil {
			c.fb.Destroy()
			c.fb = nil
		}
		fb, err := c.pass.NewFB([]driver.ImageView{g.target.view}, g.width, g.height, 1)
		if err != nil {
			return nil, err
		}
		c.fb, c.view = fb, g.target.view
	}
	cb := c.cb[slot]
	if err := cb.Begin(); err != nil {
		return nil, err
	}
	cb.Transition([]driver.Transition{
		transition(g.target.view, driver.LUndefined, driver.LColorTarget,
			driver.SNone, driver.SColorOutput, driver.ANone, driver.AColorWrite),
	})
	cb.BeginPass(c.pass, c.fb, []driver.ClearValue{{Color: [4]float32{0, 0, 0, 1}}})
	cb.EndPass()
	cb.Transition([]driver.Transition{
		transition(g.target.view, driver.LColorTarget, driver.LShaderRead,
			driver.SColorOutput, driver.SAll, driver.AColorWrite, driver.AShaderRead),
	})
	return cb, cb.End()
}

func (c *loadingClear) free() {
	if c == nil {
		return
	}
	if c.fb != nil {
		c.fb.Destroy()
	}
	if c.pass != nil {
		c.pass.Destroy()
	}
	freeCmdBuffers(c.cb)
	*c = loadingClear{}
}

// RenderLoading clears the render target.
// It does nothing if a Loader is submitting GPU work,
// in which case it returns false.
func (r *Renderer) RenderLoading() (bool, error) {
	if !r.queueLock.TryLock() {
		return false, nil
	}
	defer r.queueLock.Unlock()
	slot := r.frame % r.g.inFlight()
	if err := r.drain(slot); err != nil {
		return false, err
	}
	if r.clear == nil {
		c, err := newLoadingClear(&r.g)
		if err != nil {
			return false, err
		}
		r.clear = c
	}
	cb, err := r.clear.record(&r.g, slot)
	if err != nil {
		return false, err
	}
	if err := ctxt.GPU().Commit(&driver.WorkItem{Work: []driver.CmdBuffer{cb}}, r.ch[slot]); err != nil {
		return false, err
	}
	r.npen[slot]++
	r.frame++
	return true, nil
}
