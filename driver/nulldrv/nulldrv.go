// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package nulldrv implements a headless driver.Driver that
// executes nothing.
// Every commit, semaphore operation, layout transition and
// device-idle wait is recorded so that the frame graph's
// synchronization can be inspected. It registers itself
// under the name "null".
package nulldrv

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gviegas/framegraph/driver"
	"github.com/gviegas/framegraph/internal/bitvec"
)

const driverName = "null"

func init() { driver.Register(&Driver{}) }

// Driver implements driver.Driver.
type Driver struct {
	gpu *GPU
}

// Open implements driver.Driver.
func (d *Driver) Open() (driver.GPU, error) {
	if d.gpu == nil {
		d.gpu = New()
		d.gpu.drv = d
	}
	return d.gpu, nil
}

// Name implements driver.Driver.
func (d *Driver) Name() string { return driverName }

// Close implements driver.Driver.
func (d *Driver) Close() { d.gpu = nil }

// Commit is a recorded GPU.Commit call.
type Commit struct {
	Queue  driver.Queue
	Cmds   [][]Cmd
	Wait   []driver.SemWait
	Signal []driver.Semaphore
}

// GPU implements driver.GPU.
// It is safe for concurrent use.
type GPU struct {
	drv *Driver

	mu       sync.Mutex
	live     bitvec.V
	commits  []Commit
	idle     int
	features driver.Features
	limits   driver.Limits
}

// New creates a GPU not associated with a registered
// Driver. Ray tracing is reported as supported.
func New() *GPU {
	return &GPU{
		features: driver.Features{RayTracing: true},
		limits: driver.Limits{
			MaxImage2D:        16384,
			MaxImage3D:        2048,
			MaxLayers:         2048,
			MaxDescHeaps:      4,
			MaxDImage:         16,
			MaxDTexture:       64,
			MaxDConstantRange: 65536,
			MaxFBSize:         [2]int{16384, 16384},
			MaxDispatch:       [3]int{65535, 65535, 65535},
		},
	}
}

// SetFeatures replaces the features reported by g.
func (g *GPU) SetFeatures(f driver.Features) {
	g.mu.Lock()
	g.features = f
	g.mu.Unlock()
}

// Commits returns a copy of the commit log.
func (g *GPU) Commits() []Commit {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Commit(nil), g.commits...)
}

// ClearLog discards the commit log.
func (g *GPU) ClearLog() {
	g.mu.Lock()
	g.commits = g.commits[:0]
	g.mu.Unlock()
}

// IdleWaits returns the number of WaitIdle calls.
func (g *GPU) IdleWaits() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.idle
}

// Live returns the number of objects created from g that
// were not destroyed yet.
func (g *GPU) Live() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.live.Count()
}

// Driver implements driver.GPU.
func (g *GPU) Driver() driver.Driver { return g.drv }

// Commit implements driver.GPU.
func (g *GPU) Commit(wk *driver.WorkItem, ch chan<- *driver.WorkItem) error {
	if len(wk.Work) == 0 {
		return errors.New("nulldrv: empty work item")
	}
	c := Commit{
		Queue:  wk.Work[0].Queue(),
		Cmds:   make([][]Cmd, len(wk.Work)),
		Wait:   append([]driver.SemWait(nil), wk.Wait...),
		Signal: append([]driver.Semaphore(nil), wk.Signal...),
	}
	for i, x := range wk.Work {
		cb := x.(*CmdBuffer)
		switch {
		case cb.destroyed:
			return errors.New("nulldrv: commit of destroyed command buffer")
		case cb.recording:
			return errors.New("nulldrv: commit of command buffer still recording")
		case !cb.ended:
			return errors.New("nulldrv: commit of empty command buffer")
		case cb.queue != c.Queue:
			return errors.New("nulldrv: command buffers from different queues")
		}
		c.Cmds[i] = cb.cmds
		cb.ended = false
		cb.cmds = nil
	}
	g.mu.Lock()
	g.commits = append(g.commits, c)
	g.mu.Unlock()
	wk.Err = nil
	go func() { ch <- wk }()
	return nil
}

// WaitIdle implements driver.GPU.
func (g *GPU) WaitIdle() error {
	g.mu.Lock()
	g.idle++
	g.mu.Unlock()
	return nil
}

// NewCmdBuffer implements driver.GPU.
func (g *GPU) NewCmdBuffer(q driver.Queue) (driver.CmdBuffer, error) {
	if q == driver.QRayTracing && !g.Features().RayTracing {
		return nil, driver.ErrNotSupported
	}
	return &CmdBuffer{obj: g.newObj(), queue: q}, nil
}

// NewSemaphore implements driver.GPU.
func (g *GPU) NewSemaphore() (driver.Semaphore, error) {
	return &Semaphore{obj: g.newObj()}, nil
}

// NewRenderPass implements driver.GPU.
func (g *GPU) NewRenderPass(att []driver.Attachment, sub []driver.Subpass) (driver.RenderPass, error) {
	if len(sub) == 0 {
		return nil, errors.New("nulldrv: render pass with no subpasses")
	}
	for _, s := range sub {
		for _, c := range s.Color {
			if c < 0 || c >= len(att) {
				return nil, errors.New("nulldrv: color attachment index out of range")
			}
		}
		if s.DS >= len(att) {
			return nil, errors.New("nulldrv: depth attachment index out of range")
		}
	}
	return &RenderPass{obj: g.newObj(), att: append([]driver.Attachment(nil), att...)}, nil
}

// NewShaderCode implements driver.GPU.
func (g *GPU) NewShaderCode(data []byte) (driver.ShaderCode, error) {
	if len(data) == 0 {
		return nil, errors.New("nulldrv: empty shader code")
	}
	return &ShaderCode{obj: g.newObj(), data: append([]byte(nil), data...)}, nil
}

// NewDescHeap implements driver.GPU.
func (g *GPU) NewDescHeap(ds []driver.Descriptor) (driver.DescHeap, error) {
	seen := make(map[int]bool, len(ds))
	for _, d := range ds {
		if seen[d.Nr] {
			return nil, fmt.Errorf("nulldrv: duplicate descriptor number %d", d.Nr)
		}
		seen[d.Nr] = true
		if d.Type == driver.DAccelStruct && !g.Features().RayTracing {
			return nil, driver.ErrNotSupported
		}
	}
	return &DescHeap{obj: g.newObj(), descs: append([]driver.Descriptor(nil), ds...)}, nil
}

// NewDescTable implements driver.GPU.
func (g *GPU) NewDescTable(dh []driver.DescHeap) (driver.DescTable, error) {
	if len(dh) > g.limits.MaxDescHeaps {
		return nil, errors.New("nulldrv: too many descriptor heaps")
	}
	return &DescTable{obj: g.newObj(), heaps: append([]driver.DescHeap(nil), dh...)}, nil
}

// NewPipeline implements driver.GPU.
func (g *GPU) NewPipeline(state any) (driver.Pipeline, error) {
	switch s := state.(type) {
	case *driver.GraphState:
		if s.VertFunc.Code == nil || s.Pass == nil {
			return nil, errors.New("nulldrv: incomplete graphics state")
		}
		cpy := *s
		state = &cpy
	case *driver.CompState:
		if s.Func.Code == nil {
			return nil, errors.New("nulldrv: incomplete compute state")
		}
		cpy := *s
		state = &cpy
	case *driver.RTState:
		if !g.Features().RayTracing {
			return nil, driver.ErrNotSupported
		}
		if s.RayGen.Code == nil || s.Miss.Code == nil {
			return nil, errors.New("nulldrv: incomplete ray tracing state")
		}
		cpy := *s
		state = &cpy
	default:
		return nil, errors.New("nulldrv: invalid pipeline state")
	}
	return &Pipeline{obj: g.newObj(), state: state}, nil
}

// NewBuffer implements driver.GPU.
func (g *GPU) NewBuffer(size int64, visible bool, usg driver.Usage) (driver.Buffer, error) {
	if size <= 0 {
		return nil, errors.New("nulldrv: invalid buffer size")
	}
	b := &Buffer{obj: g.newObj(), visible: visible, usg: usg, cap: size}
	if visible {
		b.data = make([]byte, size)
	}
	return b, nil
}

// NewImage implements driver.GPU.
func (g *GPU) NewImage(pf driver.PixelFmt, size driver.Dim3D, layers, levels, samples int, usg driver.Usage) (driver.Image, error) {
	switch {
	case size.Width <= 0 || size.Height <= 0:
		return nil, errors.New("nulldrv: invalid image size")
	case size.Width > g.limits.MaxImage2D || size.Height > g.limits.MaxImage2D:
		return nil, errors.New("nulldrv: image size exceeds limits")
	case layers <= 0 || levels <= 0 || samples <= 0:
		return nil, errors.New("nulldrv: invalid image layers/levels/samples")
	}
	return &Image{
		obj:     g.newObj(),
		pf:      pf,
		size:    size,
		layers:  layers,
		levels:  levels,
		samples: samples,
		usg:     usg,
	}, nil
}

// NewSampler implements driver.GPU.
func (g *GPU) NewSampler(spln *driver.Sampling) (driver.Sampler, error) {
	return &Sampler{obj: g.newObj(), spln: *spln}, nil
}

// Limits implements driver.GPU.
func (g *GPU) Limits() driver.Limits { return g.limits }

// Features implements driver.GPU.
func (g *GPU) Features() driver.Features {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.features
}

// obj is the common part of every object created
// from a GPU.
type obj struct {
	gpu       *GPU
	handle    int
	destroyed bool
}

func (g *GPU) newObj() obj {
	g.mu.Lock()
	defer g.mu.Unlock()
	return obj{gpu: g, handle: g.live.Alloc()}
}

// Destroy releases the object's handle.
// Destroying twice has no further effect.
func (o *obj) Destroy() {
	if o.destroyed {
		return
	}
	o.destroyed = true
	o.gpu.mu.Lock()
	o.gpu.live.Unset(o.handle)
	o.gpu.mu.Unlock()
}

// Destroyed returns whether Destroy was called.
func (o *obj) Destroyed() bool { return o.destroyed }
