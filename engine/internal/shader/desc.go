// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Descriptor management.
//
// Every pass binds a single descriptor heap, defined by
// one of the *Heap functions, through a Table. Each heap
// copy is usually associated with a frame slot or a
// ping-pong index.
//
// For portability, the following restrictions apply:
//
//	DescHeap per DescTable           | 4 (max)
//	DConstant/DBuffer data alignment | 256 bytes (min)
//	DConstant/DBuffer data size      | 16 KiB (max)
//
// (the above names refer to the driver package).

package shader

import (
	"slices"
	"unsafe"

	"github.com/gviegas/framegraph/driver"
	"github.com/gviegas/framegraph/engine/internal/ctxt"
)

// Descriptor numbers of the pre-depth and forward heaps.
const (
	FrameNr = 0
)

// Descriptor numbers of the cascade heap.
const (
	CascadeNr = 0
)

// Descriptor numbers of the shadow mask resolver heap.
const (
	MaskDepthNr     = 0
	MaskConstNr     = 1
	MaskCascadeNr   = 2
	MaskSplrNr      = 3
	MaskNoiseNr     = 4
	MaskNoiseSplrNr = 5
	MaskPrevNr      = 6
	MaskOutNr       = 7
)

// Descriptor numbers of the ray-traced shadow heap.
const (
	RTAccelNr     = 0
	RTOutNr       = 1
	RTDepthNr     = 2
	RTConstNr     = 3
	RTNoiseNr     = 4
	RTNoiseSplrNr = 5
)

// Descriptor numbers of the forward heap.
const (
	FwdFrameNr   = FrameNr
	FwdSplrNr    = 1
	FwdTexNr     = 2
	FwdMaskNr    = 3
	FwdLightNr   = 4
	FwdDepthNr   = 5
	FwdDenoiseNr = 6
	FwdDebugNr   = 7
)

// Descriptor numbers of the temporal resolve heap.
const (
	TAAPrevNr     = 0
	TAAResultNr   = 1
	TAAConstNr    = 2
	TAADepthNr    = 3
	TAAVelocityNr = 4
)

const blockSize = 256

// span returns size rounded up to blockSize.
func span(size uintptr) int64 {
	return int64((size + blockSize - 1) &^ (blockSize - 1))
}

func constantDesc(nr int, stages driver.Stage) driver.Descriptor {
	return driver.Descriptor{
		Type:   driver.DConstant,
		Stages: stages,
		Nr:     nr,
		Len:    1,
	}
}

func textureDesc(nr int, stages driver.Stage, n int) driver.Descriptor {
	return driver.Descriptor{
		Type:   driver.DTexture,
		Stages: stages,
		Nr:     nr,
		Len:    n,
	}
}

func samplerDesc(nr int, stages driver.Stage) driver.Descriptor {
	return driver.Descriptor{
		Type:   driver.DSampler,
		Stages: stages,
		Nr:     nr,
		Len:    1,
	}
}

func imageDesc(nr int, stages driver.Stage) driver.Descriptor {
	return driver.Descriptor{
		Type:   driver.DImage,
		Stages: stages,
		Nr:     nr,
		Len:    1,
	}
}

// HeapDef defines the descriptors of a heap.
type HeapDef struct {
	Desc []driver.Descriptor
	// Const maps the number of each DConstant
	// descriptor to the size of its data.
	Const map[int]uintptr
}

// PreDepthHeap returns the pre-depth pass' heap.
func PreDepthHeap() HeapDef {
	return HeapDef{
		Desc:  []driver.Descriptor{constantDesc(FrameNr, driver.SVertex)},
		Const: map[int]uintptr{FrameNr: unsafe.Sizeof(FrameLayout{})},
	}
}

// CascadeHeap returns the heap used to render cascade
// depth. Each heap copy holds one cascade.
func CascadeHeap() HeapDef {
	return HeapDef{
		Desc:  []driver.Descriptor{constantDesc(CascadeNr, driver.SVertex)},
		Const: map[int]uintptr{CascadeNr: unsafe.Sizeof(CascadeLayout{})},
	}
}

// ShadowMaskHeap returns the shadow mask resolver's heap.
func ShadowMaskHeap(cascades int) HeapDef {
	return HeapDef{
		Desc: []driver.Descriptor{
			textureDesc(MaskDepthNr, driver.SCompute, 1),
			constantDesc(MaskConstNr, driver.SCompute),
			textureDesc(MaskCascadeNr, driver.SCompute, cascades),
			samplerDesc(MaskSplrNr, driver.SCompute),
			textureDesc(MaskNoiseNr, driver.SCompute, 1),
			samplerDesc(MaskNoiseSplrNr, driver.SCompute),
			imageDesc(MaskPrevNr, driver.SCompute),
			imageDesc(MaskOutNr, driver.SCompute),
		},
		Const: map[int]uintptr{MaskConstNr: unsafe.Sizeof(ShadowMaskLayout{})},
	}
}

// RTShadowHeap returns the ray-traced shadow pass' heap.
func RTShadowHeap() HeapDef {
	return HeapDef{
		Desc: []driver.Descriptor{
			{Type: driver.DAccelStruct, Stages: driver.SRayGen, Nr: RTAccelNr, Len: 1},
			imageDesc(RTOutNr, driver.SRayGen),
			textureDesc(RTDepthNr, driver.SRayGen, 1),
			constantDesc(RTConstNr, driver.SRayGen),
			textureDesc(RTNoiseNr, driver.SRayGen, 1),
			samplerDesc(RTNoiseSplrNr, driver.SRayGen),
		},
		Const: map[int]uintptr{RTConstNr: unsafe.Sizeof(RTShadowLayout{})},
	}
}

// ForwardHeap returns the compositor's heap.
// textures is the number of scene textures.
// The denoising pattern descriptor is only present if
// denoise is true.
func ForwardHeap(textures int, denoise bool) HeapDef {
	desc := []driver.Descriptor{
		constantDesc(FwdFrameNr, driver.SVertex|driver.SFragment),
		samplerDesc(FwdSplrNr, driver.SFragment),
		textureDesc(FwdTexNr, driver.SFragment, max(textures, 1)),
		imageDesc(FwdMaskNr, driver.SFragment),
		constantDesc(FwdLightNr, driver.SFragment),
		textureDesc(FwdDepthNr, driver.SFragment, 1),
	}
	if denoise {
		desc = append(desc, textureDesc(FwdDenoiseNr, driver.SFragment, 1))
	}
	desc = append(desc, textureDesc(FwdDebugNr, driver.SFragment, 1))
	return HeapDef{
		Desc: desc,
		Const: map[int]uintptr{
			FwdFrameNr: unsafe.Sizeof(FrameLayout{}),
			FwdLightNr: unsafe.Sizeof(LightLayout{}),
		},
	}
}

// TAAHeap returns the temporal resolve's heap.
func TAAHeap() HeapDef {
	return HeapDef{
		Desc: []driver.Descriptor{
			imageDesc(TAAPrevNr, driver.SCompute),
			imageDesc(TAAResultNr, driver.SCompute),
			constantDesc(TAAConstNr, driver.SCompute),
			textureDesc(TAADepthNr, driver.SCompute, 1),
			imageDesc(TAAVelocityNr, driver.SCompute),
		},
		Const: map[int]uintptr{TAAConstNr: unsafe.Sizeof(ReprojectionLayout{})},
	}
}

// Table manages a driver.DescTable containing a single
// heap, and the constant buffer backing the heap's
// DConstant descriptors.
type Table struct {
	dt  driver.DescTable
	def HeapDef
	// Cached heap copy count.
	n int
	// Offset of each constant within a heap copy.
	coff map[int]int64
	// Bytes consumed by a single heap copy.
	cspn int64
	cbuf driver.Buffer
	// Cached cbuf.Bytes().
	cs []byte
}

// NewTable creates a new descriptor table with n copies
// of the heap defined by def.
// Constant data of heap copy i is laid out contiguously,
// after the data of copy i-1, ordered by descriptor
// number.
func NewTable(def HeapDef, n int) (*Table, error) {
	if n < 1 {
		panic("descriptor heap allocation with non-positive count")
	}
	gpu := ctxt.GPU()
	dh, err := gpu.NewDescHeap(def.Desc)
	if err != nil {
		return nil, err
	}
	if err := dh.New(n); err != nil {
		dh.Destroy()
		return nil, err
	}
	dt, err := gpu.NewDescTable([]driver.DescHeap{dh})
	if err != nil {
		dh.Destroy()
		return nil, err
	}
	t := &Table{dt: dt, def: def, n: n, coff: make(map[int]int64, len(def.Const))}

	nrs := make([]int, 0, len(def.Const))
	for nr := range def.Const {
		nrs = append(nrs, nr)
	}
	slices.Sort(nrs)
	for _, nr := range nrs {
		t.coff[nr] = t.cspn
		t.cspn += span(def.Const[nr])
	}
	if t.cspn == 0 {
		return t, nil
	}

	t.cbuf, err = gpu.NewBuffer(int64(t.ConstSize()), true, driver.UShaderConst)
	if err != nil {
		t.Free()
		return nil, err
	}
	t.cs = t.cbuf.Bytes()
	buf, off, sz := []driver.Buffer{t.cbuf}, []int64{0}, []int64{0}
	for i := range n {
		for _, nr := range nrs {
			off[0] = int64(i)*t.cspn + t.coff[nr]
			sz[0] = span(def.Const[nr])
			dh.SetBuffer(i, nr, 0, buf, off, sz)
		}
	}
	return t, nil
}

// Len returns the number of heap copies.
func (t *Table) Len() int { return t.n }

// DescTable returns the underlying driver.DescTable.
func (t *Table) DescTable() driver.DescTable { return t.dt }

// Heap returns the underlying driver.DescHeap.
func (t *Table) Heap() driver.DescHeap { return t.dt.Heap(0) }

// Has returns whether t's heap has a descriptor of the
// given number.
func (t *Table) Has(nr int) bool {
	return slices.ContainsFunc(t.def.Desc, func(d driver.Descriptor) bool { return d.Nr == nr })
}

// ConstSize returns the number of bytes consumed by
// all constant descriptors of t.
func (t *Table) ConstSize() int { return int(t.cspn) * t.n }

// SetImage sets image views starting at element 0 of the
// given descriptor.
func (t *Table) SetImage(cpy, nr int, iv ...driver.ImageView) {
	t.validateHeapCopy(cpy)
	if len(iv) == 0 || slices.Contains(iv, nil) {
		panic("nil image view")
	}
	t.Heap().SetImage(cpy, nr, 0, iv)
}

// SetSampler sets the sampler of the given descriptor.
func (t *Table) SetSampler(cpy, nr int, splr driver.Sampler) {
	t.validateHeapCopy(cpy)
	if splr == nil {
		panic("nil sampler")
	}
	t.Heap().SetSampler(cpy, nr, 0, []driver.Sampler{splr})
}

// SetAccelStruct sets the acceleration structure of the
// given descriptor.
func (t *Table) SetAccelStruct(cpy, nr int, as driver.AccelStruct) {
	t.validateHeapCopy(cpy)
	if as == nil {
		panic("nil acceleration structure")
	}
	t.Heap().SetAccelStruct(cpy, nr, as)
}

// SetGraph calls cb.SetDescTableGraph to set the given
// heap copy.
// cb must be recording commands.
func (t *Table) SetGraph(cb driver.CmdBuffer, cpy int) {
	t.validateHeapCopy(cpy)
	cb.SetDescTableGraph(t.dt, 0, []int{cpy})
}

// SetComp calls cb.SetDescTableComp to set the given
// heap copy.
// cb must be recording commands.
func (t *Table) SetComp(cb driver.CmdBuffer, cpy int) {
	t.validateHeapCopy(cpy)
	cb.SetDescTableComp(t.dt, 0, []int{cpy})
}

// SetRT calls cb.SetDescTableRT to set the given heap
// copy.
// cb must be recording commands.
func (t *Table) SetRT(cb driver.CmdBuffer, cpy int) {
	t.validateHeapCopy(cpy)
	cb.SetDescTableRT(t.dt, 0, []int{cpy})
}

func (t *Table) constant(cpy, nr int, size uintptr) unsafe.Pointer {
	t.validateHeapCopy(cpy)
	if sz, ok := t.def.Const[nr]; !ok || sz < size {
		panic("constant descriptor mismatch")
	}
	s := t.cs[int64(cpy)*t.cspn+t.coff[nr]:]
	return unsafe.Pointer(unsafe.SliceData(s))
}

// Frame returns a pointer to GPU memory mapping to the
// FrameLayout of the given heap copy.
func (t *Table) Frame(cpy int) *FrameLayout {
	return (*FrameLayout)(t.constant(cpy, FrameNr, unsafe.Sizeof(FrameLayout{})))
}

// Cascade returns a pointer to GPU memory mapping to the
// CascadeLayout of the given heap copy.
func (t *Table) Cascade(cpy int) *CascadeLayout {
	return (*CascadeLayout)(t.constant(cpy, CascadeNr, unsafe.Sizeof(CascadeLayout{})))
}

// ShadowMask returns a pointer to GPU memory mapping to
// the ShadowMaskLayout of the given heap copy.
func (t *Table) ShadowMask(cpy int) *ShadowMaskLayout {
	return (*ShadowMaskLayout)(t.constant(cpy, MaskConstNr, unsafe.Sizeof(ShadowMaskLayout{})))
}

// RTShadow returns a pointer to GPU memory mapping to the
// RTShadowLayout of the given heap copy.
func (t *Table) RTShadow(cpy int) *RTShadowLayout {
	return (*RTShadowLayout)(t.constant(cpy, RTConstNr, unsafe.Sizeof(RTShadowLayout{})))
}

// Light returns a pointer to GPU memory mapping to the
// LightLayout of the given heap copy.
func (t *Table) Light(cpy int) *LightLayout {
	return (*LightLayout)(t.constant(cpy, FwdLightNr, unsafe.Sizeof(LightLayout{})))
}

// Reprojection returns a pointer to GPU memory mapping to
// the ReprojectionLayout of the given heap copy.
func (t *Table) Reprojection(cpy int) *ReprojectionLayout {
	return (*ReprojectionLayout)(t.constant(cpy, TAAConstNr, unsafe.Sizeof(ReprojectionLayout{})))
}

// Free invalidates t and destroys the driver resources,
// including the constant buffer.
func (t *Table) Free() {
	if t.dt != nil {
		dh := t.dt.Heap(0)
		t.dt.Destroy()
		dh.Destroy()
	}
	if t.cbuf != nil {
		t.cbuf.Destroy()
	}
	*t = Table{}
}

// NOTE: Tests will fail if the panic message changes.
func (t *Table) validateHeapCopy(cpy int) {
	if uint(t.n) <= uint(cpy) {
		panic("descriptor heap copy out of bounds")
	}
}
