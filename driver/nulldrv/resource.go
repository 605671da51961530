// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package nulldrv

import (
	"errors"

	"github.com/gviegas/framegraph/driver"
)

// Semaphore implements driver.Semaphore.
type Semaphore struct{ obj }

// Handle returns the semaphore's unique handle.
func (s *Semaphore) Handle() int { return s.handle }

// RenderPass implements driver.RenderPass.
type RenderPass struct {
	obj
	att []driver.Attachment
}

// NewFB implements driver.RenderPass.
func (p *RenderPass) NewFB(iv []driver.ImageView, width, height, layers int) (driver.Framebuf, error) {
	if len(iv) != len(p.att) {
		return nil, errors.New("nulldrv: framebuffer/attachment count mismatch")
	}
	for i, v := range iv {
		if v.(*ImageView).img.pf != p.att[i].Format {
			return nil, errors.New("nulldrv: framebuffer view format mismatch")
		}
	}
	return &Framebuf{obj: p.gpu.newObj(), views: append([]driver.ImageView(nil), iv...)}, nil
}

// Framebuf implements driver.Framebuf.
type Framebuf struct {
	obj
	views []driver.ImageView
}

// ShaderCode implements driver.ShaderCode.
type ShaderCode struct {
	obj
	data []byte
}

// Data returns the binary from which c was created.
func (c *ShaderCode) Data() []byte { return c.data }

// binding is the content of a descriptor element.
type binding struct {
	buf   driver.Buffer
	off   int64
	size  int64
	view  driver.ImageView
	splr  driver.Sampler
	accel driver.AccelStruct
}

type bindKey struct{ cpy, nr, idx int }

// DescHeap implements driver.DescHeap.
type DescHeap struct {
	obj
	descs []driver.Descriptor
	n     int
	binds map[bindKey]binding
}

// Descriptors returns the descriptors from which h was
// created.
func (h *DescHeap) Descriptors() []driver.Descriptor { return h.descs }

// Has returns whether h contains a descriptor of the given
// number.
func (h *DescHeap) Has(nr int) bool {
	_, ok := h.desc(nr)
	return ok
}

func (h *DescHeap) desc(nr int) (driver.Descriptor, bool) {
	for _, d := range h.descs {
		if d.Nr == nr {
			return d, true
		}
	}
	return driver.Descriptor{}, false
}

// New implements driver.DescHeap.
func (h *DescHeap) New(n int) error {
	if n < 0 {
		return errors.New("nulldrv: negative heap copy count")
	}
	if n != h.n {
		h.n = n
		h.binds = make(map[bindKey]binding)
	}
	return nil
}

func (h *DescHeap) check(cpy, nr int, types ...driver.DescType) driver.Descriptor {
	if cpy < 0 || cpy >= h.n {
		panic("nulldrv: heap copy out of bounds")
	}
	d, ok := h.desc(nr)
	if !ok {
		panic("nulldrv: no such descriptor")
	}
	for _, t := range types {
		if d.Type == t {
			return d
		}
	}
	panic("nulldrv: descriptor type mismatch")
}

// SetBuffer implements driver.DescHeap.
func (h *DescHeap) SetBuffer(cpy, nr, start int, buf []driver.Buffer, off, size []int64) {
	h.check(cpy, nr, driver.DBuffer, driver.DConstant)
	for i := range buf {
		h.binds[bindKey{cpy, nr, start + i}] = binding{buf: buf[i], off: off[i], size: size[i]}
	}
}

// SetImage implements driver.DescHeap.
func (h *DescHeap) SetImage(cpy, nr, start int, iv []driver.ImageView) {
	h.check(cpy, nr, driver.DImage, driver.DTexture)
	for i := range iv {
		h.binds[bindKey{cpy, nr, start + i}] = binding{view: iv[i]}
	}
}

// SetSampler implements driver.DescHeap.
func (h *DescHeap) SetSampler(cpy, nr, start int, splr []driver.Sampler) {
	h.check(cpy, nr, driver.DSampler)
	for i := range splr {
		h.binds[bindKey{cpy, nr, start + i}] = binding{splr: splr[i]}
	}
}

// SetAccelStruct implements driver.DescHeap.
func (h *DescHeap) SetAccelStruct(cpy, nr int, as driver.AccelStruct) {
	h.check(cpy, nr, driver.DAccelStruct)
	h.binds[bindKey{cpy, nr, 0}] = binding{accel: as}
}

// Image returns the image view bound to the given
// descriptor element, or nil.
func (h *DescHeap) Image(cpy, nr, idx int) driver.ImageView {
	return h.binds[bindKey{cpy, nr, idx}].view
}

// Buffer returns the buffer range bound to the given
// descriptor element.
func (h *DescHeap) Buffer(cpy, nr, idx int) (driver.Buffer, int64, int64) {
	b := h.binds[bindKey{cpy, nr, idx}]
	return b.buf, b.off, b.size
}

// Sampler returns the sampler bound to the given
// descriptor element, or nil.
func (h *DescHeap) Sampler(cpy, nr, idx int) driver.Sampler {
	return h.binds[bindKey{cpy, nr, idx}].splr
}

// AccelStruct returns the acceleration structure bound to
// the given descriptor, or nil.
func (h *DescHeap) AccelStruct(cpy, nr int) driver.AccelStruct {
	return h.binds[bindKey{cpy, nr, 0}].accel
}

// Len implements driver.DescHeap.
func (h *DescHeap) Len() int { return h.n }

// DescTable implements driver.DescTable.
type DescTable struct {
	obj
	heaps []driver.DescHeap
}

// Len implements driver.DescTable.
func (t *DescTable) Len() int { return len(t.heaps) }

// Heap implements driver.DescTable.
func (t *DescTable) Heap(i int) driver.DescHeap { return t.heaps[i] }

// Pipeline implements driver.Pipeline.
type Pipeline struct {
	obj
	state any
}

// State returns a copy of the state from which p was
// created (*driver.GraphState, *driver.CompState or
// *driver.RTState).
func (p *Pipeline) State() any { return p.state }

// Buffer implements driver.Buffer.
type Buffer struct {
	obj
	visible bool
	usg     driver.Usage
	cap     int64
	data    []byte
}

// Visible implements driver.Buffer.
func (b *Buffer) Visible() bool { return b.visible }

// Bytes implements driver.Buffer.
func (b *Buffer) Bytes() []byte { return b.data }

// Cap implements driver.Buffer.
func (b *Buffer) Cap() int64 { return b.cap }

// Image implements driver.Image.
type Image struct {
	obj
	pf      driver.PixelFmt
	size    driver.Dim3D
	layers  int
	levels  int
	samples int
	usg     driver.Usage
	views   int
}

// Format returns the image's pixel format.
func (m *Image) Format() driver.PixelFmt { return m.pf }

// Size returns the image's size.
func (m *Image) Size() driver.Dim3D { return m.size }

// Layers returns the image's layer count.
func (m *Image) Layers() int { return m.layers }

// Usage returns the image's usage.
func (m *Image) Usage() driver.Usage { return m.usg }

// NewView implements driver.Image.
func (m *Image) NewView(typ driver.ViewType, layer, layers, level, levels int) (driver.ImageView, error) {
	switch {
	case layer < 0 || layers <= 0 || layer+layers > m.layers:
		return nil, errors.New("nulldrv: view layer range out of bounds")
	case level < 0 || levels <= 0 || level+levels > m.levels:
		return nil, errors.New("nulldrv: view level range out of bounds")
	case typ == driver.IView2D && layers != 1:
		return nil, errors.New("nulldrv: 2D view of multiple layers")
	case typ == driver.IView3D && m.size.Depth <= 1:
		return nil, errors.New("nulldrv: 3D view of 2D image")
	}
	m.views++
	return &ImageView{obj: m.gpu.newObj(), img: m, typ: typ, layer: layer, layers: layers}, nil
}

// Destroy implements driver.Destroyer.
// It panics if views of m were not destroyed.
func (m *Image) Destroy() {
	if m.views > 0 && !m.destroyed {
		panic("nulldrv: image destroyed before its views")
	}
	m.obj.Destroy()
}

// ImageView implements driver.ImageView.
type ImageView struct {
	obj
	img    *Image
	typ    driver.ViewType
	layer  int
	layers int
}

// Image returns the image from which v was created.
func (v *ImageView) Image() *Image { return v.img }

// Destroy implements driver.Destroyer.
func (v *ImageView) Destroy() {
	if !v.destroyed {
		v.img.views--
	}
	v.obj.Destroy()
}

// Sampler implements driver.Sampler.
type Sampler struct {
	obj
	spln driver.Sampling
}

// AccelStruct implements driver.AccelStruct.
type AccelStruct struct{ obj }

// NewAccelStruct creates an empty acceleration structure.
// Acceleration structure building is not part of the
// driver.GPU interface, so scene owners call this
// directly.
func (g *GPU) NewAccelStruct() *AccelStruct { return &AccelStruct{obj: g.newObj()} }
