// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package driver

// GPU is the main interface to an underlying driver
// implementation.
// It is used to create other types and to execute commands.
// A GPU is obtained from a call to Driver.Open.
type GPU interface {
	// Driver returns the Driver that owns the GPU.
	Driver() Driver

	// Commit commits a work item to the queue of its
	// command buffers.
	// Execution starts only after every semaphore in
	// wk.Wait is signaled (at the given stage) and, once
	// all commands complete, every semaphore in
	// wk.Signal is signaled and wk is sent to ch with
	// wk.Err set accordingly.
	// The command buffers in wk.Work must not be used
	// for recording until wk is received from ch.
	// All command buffers in wk.Work must belong to
	// the same queue.
	Commit(wk *WorkItem, ch chan<- *WorkItem) error

	// WaitIdle blocks until every committed work item
	// has completed execution.
	// It is the only blocking call of the interface.
	WaitIdle() error

	// NewCmdBuffer creates a new command buffer whose
	// commands execute on the given queue.
	NewCmdBuffer(q Queue) (CmdBuffer, error)

	// NewSemaphore creates a new semaphore.
	NewSemaphore() (Semaphore, error)

	// NewRenderPass creates a new render pass.
	NewRenderPass(att []Attachment, sub []Subpass) (RenderPass, error)

	// NewShaderCode creates a new shader code from
	// a SPIR-V binary.
	NewShaderCode(data []byte) (ShaderCode, error)

	// NewDescHeap creates a new descriptor heap.
	NewDescHeap(ds []Descriptor) (DescHeap, error)

	// NewDescTable creates a new descriptor table.
	NewDescTable(dh []DescHeap) (DescTable, error)

	// NewPipeline creates a new pipeline.
	// The state parameter must be a *GraphState,
	// *CompState or *RTState. The latter requires
	// Features.RayTracing.
	NewPipeline(state any) (Pipeline, error)

	// NewBuffer creates a new buffer.
	NewBuffer(size int64, visible bool, usg Usage) (Buffer, error)

	// NewImage creates a new image.
	NewImage(pf PixelFmt, size Dim3D, layers, levels, samples int, usg Usage) (Image, error)

	// NewSampler creates a new Sampler.
	NewSampler(spln *Sampling) (Sampler, error)

	// Limits returns the implementation limits.
	// They are immutable for the lifetime of the GPU.
	Limits() Limits

	// Features returns the optional features that the
	// GPU supports.
	// They are immutable for the lifetime of the GPU.
	Features() Features
}

// Destroyer is the interface that wraps the Destroy method.
// Types that implement this interface may own memory that
// is not managed by GC, so Destroy must be called
// explicitly.
type Destroyer interface {
	Destroy()
}

// Queue identifies a GPU queue.
// Work committed to different queues may run in any
// order unless ordered by semaphores.
type Queue int

// Queues.
const (
	QGraphics Queue = iota
	QCompute
	QRayTracing
)

// Semaphore is the interface that defines a GPU-side
// synchronization primitive.
// A semaphore is signaled by one work item and waited
// on by at most one other work item per signal.
type Semaphore interface {
	Destroyer
}

// SemWait is a semaphore wait operation.
// Commands of the waiting work item that execute at
// Stage (or later) do not start until Sem is signaled.
type SemWait struct {
	Sem   Semaphore
	Stage Sync
}

// WorkItem is a batch of command buffers committed
// together.
type WorkItem struct {
	Work   []CmdBuffer
	Wait   []SemWait
	Signal []Semaphore
	// Err is set by the GPU when the work completes.
	Err error
	// Custom is not interpreted by the GPU.
	Custom any
}

// CmdBuffer is the interface that defines a command buffer.
// Recording is split into logical blocks containing either
// rendering, compute or copy commands:
//
//	Begin
//	BeginPass / Set* / Draw* / EndPass
//	BeginWork / Set* / Dispatch|TraceRays / EndWork
//	BeginBlit / Copy*|Fill / EndBlit
//	End
//
// Blocks must not be nested. Barrier and Transition may be
// recorded between blocks.
type CmdBuffer interface {
	Destroyer

	// Queue returns the queue for which the command
	// buffer was created.
	Queue() Queue

	// Begin prepares the command buffer for recording.
	Begin() error

	// IsRecording returns whether Begin was called
	// without a matching End.
	IsRecording() bool

	// BeginPass begins a render pass.
	BeginPass(pass RenderPass, fb Framebuf, clear []ClearValue)

	// EndPass ends the current render pass.
	EndPass()

	// BeginWork begins compute work (which includes
	// ray tracing dispatches).
	// If wait is set, the work only starts when all
	// previous commands in the buffer are done.
	BeginWork(wait bool)

	// EndWork ends the current compute work.
	EndWork()

	// BeginBlit begins data transfer.
	// If wait is set, the transfer only starts when
	// all previous commands in the buffer are done.
	BeginBlit(wait bool)

	// EndBlit ends the current data transfer.
	EndBlit()

	// SetPipeline sets the pipeline.
	// There is a separate binding point for each
	// type of pipeline.
	SetPipeline(pl Pipeline)

	// SetViewport sets the bounds of one or more
	// viewports.
	SetViewport(vp []Viewport)

	// SetScissor sets the rectangles of one or more
	// viewport scissors.
	SetScissor(sciss []Scissor)

	// SetVertexBuf sets one or more vertex buffers.
	SetVertexBuf(start int, buf []Buffer, off []int64)

	// SetIndexBuf sets the index buffer.
	SetIndexBuf(format IndexFmt, buf Buffer, off int64)

	// SetDescTableGraph sets a descriptor table
	// range for graphics pipelines.
	SetDescTableGraph(table DescTable, start int, heapCopy []int)

	// SetDescTableComp sets a descriptor table
	// range for compute pipelines.
	SetDescTableComp(table DescTable, start int, heapCopy []int)

	// SetDescTableRT sets a descriptor table
	// range for ray tracing pipelines.
	SetDescTableRT(table DescTable, start int, heapCopy []int)

	// Draw draws primitives.
	// It must only be called during a render pass.
	Draw(vertCount, instCount, baseVert, baseInst int)

	// DrawIndexed draws indexed primitives.
	// It must only be called during a render pass.
	DrawIndexed(idxCount, instCount, baseIdx, vertOff, baseInst int)

	// Dispatch dispatches compute thread groups.
	// It must only be called during compute work.
	Dispatch(grpCountX, grpCountY, grpCountZ int)

	// TraceRays launches one ray generation
	// invocation per element of the given grid.
	// It must only be called during compute work,
	// with a ray tracing pipeline set.
	TraceRays(width, height, depth int)

	// CopyBuffer copies data between buffers.
	// It must only be called during data transfer.
	CopyBuffer(param *BufferCopy)

	// CopyImage copies data between images.
	// It must only be called during data transfer.
	CopyImage(param *ImageCopy)

	// CopyBufToImg copies data from a buffer to
	// an image.
	// It must only be called during data transfer.
	CopyBufToImg(param *BufImgCopy)

	// CopyImgToBuf copies data from an image to
	// a buffer.
	// It must only be called during data transfer.
	CopyImgToBuf(param *BufImgCopy)

	// Fill fills a buffer range with copies of
	// a byte value.
	// It must only be called during data transfer.
	Fill(buf Buffer, off int64, value byte, size int64)

	// Barrier inserts a number of global barriers.
	Barrier(b []Barrier)

	// Transition inserts a number of image layout
	// transitions.
	Transition(t []Transition)

	// End ends command recording.
	// Upon failure, the command buffer is reset.
	End() error

	// Reset discards all recorded commands.
	Reset() error
}

// BufferCopy describes a buffer to buffer copy.
type BufferCopy struct {
	From    Buffer
	FromOff int64
	To      Buffer
	ToOff   int64
	Size    int64
}

// ImageCopy describes an image to image copy.
type ImageCopy struct {
	From      Image
	FromOff   Off3D
	FromLayer int
	FromLevel int
	To        Image
	ToOff     Off3D
	ToLayer   int
	ToLevel   int
	Size      Dim3D
	Layers    int
}

// BufImgCopy describes a copy between a buffer and an
// image.
// Stride is given in pixels: Stride[0] is the row
// length and Stride[1] is the image height.
type BufImgCopy struct {
	Buf    Buffer
	BufOff int64
	Stride [2]int64
	Img    Image
	ImgOff Off3D
	Layer  int
	Level  int
	Size   Dim3D
}

// Sync is the type of a synchronization scope.
type Sync int

// Synchronization scopes.
const (
	SVertexInput Sync = 1 << iota
	SVertexShading
	SFragmentShading
	SComputeShading
	SRayTracing
	SColorOutput
	SDSOutput
	SDraw
	SCopy
	SAll
	SNone Sync = 0
)

// Access is the type of a memory access scope.
type Access int

// Memory access scopes.
const (
	AVertexBufRead Access = 1 << iota
	AIndexBufRead
	AColorRead
	AColorWrite
	ADSRead
	ADSWrite
	ACopyRead
	ACopyWrite
	AShaderRead
	AShaderWrite
	AAnyRead
	AAnyWrite
	ANone Access = 0
)

// Layout is the type of an image layout.
type Layout int

// Image layouts.
const (
	LUndefined Layout = iota
	// LGeneral is required for storage image access.
	LGeneral
	LColorTarget
	LDSTarget
	LDSRead
	LCopySrc
	LCopyDst
	LShaderRead
)

// Barrier represents a synchronization barrier.
type Barrier struct {
	SyncBefore   Sync
	SyncAfter    Sync
	AccessBefore Access
	AccessAfter  Access
}

// Transition represents a layout transition on a
// specific image subresource.
type Transition struct {
	Barrier

	LayoutBefore Layout
	LayoutAfter  Layout
	IView        ImageView
}

// LoadOp is the type of an attachment's load operation.
type LoadOp int

// Load operations.
const (
	LDontCare LoadOp = iota
	LClear
	LLoad
)

// StoreOp is the type of an attachment's store operation.
type StoreOp int

// Store operations.
const (
	SDontCare StoreOp = iota
	SStore
)

// Attachment describes a render target of a render pass.
type Attachment struct {
	Format  PixelFmt
	Samples int
	Load    LoadOp
	Store   StoreOp
}

// Subpass defines a subpass of a render pass.
// Color and DS refer to indices in the render pass'
// attachment list. DS is -1 when the subpass has no
// depth attachment.
type Subpass struct {
	Color []int
	DS    int
	Wait  bool
}

// RenderPass is the interface that defines a render pass
// into which draw commands operate.
type RenderPass interface {
	Destroyer

	// NewFB creates a new framebuffer.
	// Each view in iv corresponds to the attachment of
	// same index.
	NewFB(iv []ImageView, width, height, layers int) (Framebuf, error)
}

// Framebuf is the interface that defines the render targets
// of a render pass.
type Framebuf interface {
	Destroyer
}

// ClearValue defines clear values for color or depth
// aspects of a render target.
type ClearValue struct {
	Color [4]float32
	Depth float32
}

// ShaderCode is the interface that defines a shader binary.
type ShaderCode interface {
	Destroyer
}

// ShaderFunc specifies a function within a shader binary.
type ShaderFunc struct {
	Code ShaderCode
	Name string
}

// Stage is a mask of programmable stages.
type Stage int

// Stages.
const (
	SVertex Stage = 1 << iota
	SFragment
	SCompute
	// SRayGen covers every ray tracing stage.
	SRayGen
)

// DescType is the type of a descriptor.
type DescType int

// Descriptor types.
const (
	// Read/write buffer.
	DBuffer DescType = iota
	// Read/write (storage) image.
	DImage
	// Constant buffer.
	DConstant
	// Sampled texture.
	DTexture
	// Texture sampler.
	DSampler
	// Top-level acceleration structure.
	DAccelStruct
)

// Descriptor describes data for use in shaders.
type Descriptor struct {
	Type   DescType
	Stages Stage
	Nr     int
	Len    int
}

// DescHeap is the interface that defines a set of descriptors
// for use in programmable pipeline stages.
type DescHeap interface {
	Destroyer

	// New creates enough storage for n copies of each
	// descriptor.
	// Previous copies are invalidated unless n equals
	// Len, in which case it is a no-op.
	New(n int) error

	// SetBuffer updates the buffer ranges referred by
	// the given descriptor of the given heap copy.
	// The descriptor must be of type DBuffer or DConstant.
	SetBuffer(cpy, nr, start int, buf []Buffer, off, size []int64)

	// SetImage updates the image views referred by
	// the given descriptor of the given heap copy.
	// The descriptor must be of type DImage or DTexture.
	SetImage(cpy, nr, start int, iv []ImageView)

	// SetSampler updates the samplers referred by
	// the given descriptor of the given heap copy.
	// The descriptor must be of type DSampler.
	SetSampler(cpy, nr, start int, splr []Sampler)

	// SetAccelStruct updates the acceleration structure
	// referred by the given descriptor of the given heap
	// copy.
	// The descriptor must be of type DAccelStruct.
	SetAccelStruct(cpy, nr int, as AccelStruct)

	// Len returns the number of heap copies.
	Len() int
}

// DescTable is the interface that defines the bindings
// between a number of descriptor heaps and the shaders
// in a pipeline.
type DescTable interface {
	Destroyer

	// Len returns the number of heaps in the table.
	Len() int

	// Heap returns the ith heap.
	Heap(i int) DescHeap
}

// VertexFmt describes the format of a vertex input.
type VertexFmt int

// Vertex formats.
const (
	Float32 VertexFmt = iota
	Float32x2
	Float32x3
	Float32x4
)

// VertexIn describes a vertex input.
// Each vertex input is a separate buffer binding.
type VertexIn struct {
	Format VertexFmt
	Stride int
	Nr     int
	Name   string
}

// Topology is the type of primitive topologies.
type Topology int

// Primitive topologies.
const (
	TPoint Topology = iota
	TLine
	TTriangle
	TTriStrip
)

// IndexFmt describes the format of index buffer data.
type IndexFmt int

// Index formats.
const (
	Index16 IndexFmt = 2
	Index32 IndexFmt = 4
)

// Viewport defines the bounds of a viewport.
type Viewport struct {
	X, Y, Width, Height, Znear, Zfar float32
}

// Scissor defines a scissor rectangle.
type Scissor struct {
	X, Y, Width, Height int
}

// CullMode is the type of cull modes.
type CullMode int

// Cull modes.
const (
	CNone CullMode = iota
	CFront
	CBack
)

// RasterState defines the rasterization state of a
// graphics pipeline.
type RasterState struct {
	Clockwise bool
	Cull      CullMode
	// DepthBias enables depth bias computation.
	DepthBias bool
	BiasValue float32
	BiasSlope float32
	BiasClamp float32
}

// CmpFunc is the type of comparison functions.
type CmpFunc int

// Comparison functions.
const (
	CNever CmpFunc = iota
	CLess
	CEqual
	CLessEqual
	CGreater
	CNotEqual
	CGreaterEqual
	CAlways
)

// DSState defines the depth state of a graphics pipeline.
type DSState struct {
	DepthTest  bool
	DepthWrite bool
	DepthCmp   CmpFunc
}

// ColorMask is the type of a color write mask.
type ColorMask int

// Color write masks.
const (
	CRed ColorMask = 1 << iota
	CGreen
	CBlue
	CAlpha
	CAll ColorMask = 1<<iota - 1
)

// BlendState defines the color blend state of a
// graphics pipeline.
// Blending is not used by the frame graph, so only
// write masks are configurable.
type BlendState struct {
	WriteMask []ColorMask
}

// GraphState defines the state of a graphics pipeline.
// The pipeline must only be used within Pass.
type GraphState struct {
	VertFunc ShaderFunc
	// FragFunc.Code may be nil for depth-only passes.
	FragFunc ShaderFunc
	Desc     DescTable
	Input    []VertexIn
	Topology Topology
	Raster   RasterState
	Samples  int
	DS       DSState
	Blend    BlendState
	Pass     RenderPass
}

// CompState defines the state of a compute pipeline.
type CompState struct {
	Func ShaderFunc
	Desc DescTable
}

// RTState defines the state of a ray tracing pipeline.
type RTState struct {
	RayGen     ShaderFunc
	Miss       ShaderFunc
	ClosestHit ShaderFunc
	Desc       DescTable
	// MaxDepth is the maximum ray recursion depth.
	MaxDepth int
}

// Pipeline is the interface that defines a GPU pipeline.
type Pipeline interface {
	Destroyer
}

// AccelStruct is the interface that defines a top-level
// acceleration structure.
// Acceleration structures are built by the scene's owner;
// the frame graph only binds them.
type AccelStruct interface {
	Destroyer
}

// Usage is a mask indicating valid uses for a resource.
type Usage int

// Usage flags for Buffer and Image.
const (
	// The resource can be read in shaders.
	UShaderRead Usage = 1 << iota
	// The resource can be written in shaders.
	UShaderWrite
	// The resource can provide constant data for shaders.
	// Valid only for Buffer.
	UShaderConst
	// The resource can be sampled in shaders.
	// Valid only for Image.
	UShaderSample
	// The resource can provide vertex data.
	// Valid only for Buffer.
	UVertexData
	// The resource can provide index data.
	// Valid only for Buffer.
	UIndexData
	// The resource can be used as render target.
	// Valid only for Image.
	URenderTarget
	// The resource can be the source of a copy.
	UCopySrc
	// The resource can be the destination of a copy.
	UCopyDst
	// The resource can be used for any purpose.
	UGeneric Usage = 1<<iota - 1
)

// Buffer is the interface that defines a GPU buffer.
type Buffer interface {
	Destroyer

	// Visible returns whether the buffer is host visible.
	Visible() bool

	// Bytes returns a slice of length Cap referring to the
	// underlying data, or nil if the buffer is not host
	// visible.
	Bytes() []byte

	// Cap returns the capacity of the buffer in bytes.
	Cap() int64
}

// PixelFmt describes the format of a pixel.
type PixelFmt int

// Pixel formats.
const (
	RGBA8un PixelFmt = iota
	BGRA8un
	RGBA16f
	RG16f
	R16f
	RGBA32f
	RG32f
	R32f
	D16un
	D32f
	D24unS8ui
)

// Size returns the size in bytes of a single pixel.
func (f PixelFmt) Size() int {
	switch f {
	case RGBA8un, BGRA8un, RG16f, R32f, D32f, D24unS8ui:
		return 4
	case RGBA16f, RG32f:
		return 8
	case R16f, D16un:
		return 2
	case RGBA32f:
		return 16
	}
	return 0
}

// IsDS returns whether f is a depth/stencil format.
func (f PixelFmt) IsDS() bool { return f >= D16un }

// Dim3D is a three-dimensional size.
type Dim3D struct {
	Width, Height, Depth int
}

// Off3D is a three-dimensional offset.
type Off3D struct {
	X, Y, Z int
}

// Image is the interface that defines a GPU image.
type Image interface {
	Destroyer

	// NewView creates a new image view.
	// All views must be destroyed before the image.
	NewView(typ ViewType, layer, layers, level, levels int) (ImageView, error)
}

// ViewType is the type of an image view.
type ViewType int

// View types.
const (
	IView2D ViewType = iota
	IView3D
	IView2DArray
)

// ImageView is the interface that defines a typed view of
// an Image resource.
type ImageView interface {
	Destroyer
}

// Filter is the type of sampler filters.
type Filter int

// Filters.
const (
	FNearest Filter = iota
	FLinear
	FNoMipmap
)

// AddrMode is the type of sampler address modes.
type AddrMode int

// Address modes.
const (
	AWrap AddrMode = iota
	AMirror
	AClamp
)

// Sampler is the interface that defines an image sampler.
type Sampler interface {
	Destroyer
}

// Sampling describes image sampler state.
type Sampling struct {
	Min      Filter
	Mag      Filter
	Mipmap   Filter
	AddrU    AddrMode
	AddrV    AddrMode
	AddrW    AddrMode
	MaxAniso int
	Cmp      CmpFunc
	MinLOD   float32
	MaxLOD   float32
}

// Limits describes implementation limits.
type Limits struct {
	// Maximum width and height of 2D images.
	MaxImage2D int
	// Maximum width, height and depth of 3D images.
	MaxImage3D int
	// Maximum number of layers in an image.
	MaxLayers int
	// Maximum number of descriptor heaps in a
	// descriptor table.
	MaxDescHeaps int
	// Maximum number of image descriptors in a
	// descriptor table.
	MaxDImage int
	// Maximum number of texture descriptors in a
	// descriptor table.
	MaxDTexture int
	// Maximum range of constant descriptors.
	MaxDConstantRange int64
	// Maximum width/height for a framebuffer.
	MaxFBSize [2]int
	// Maximum dispatch count.
	MaxDispatch [3]int
}

// Features describes optional GPU features.
type Features struct {
	// RayTracing indicates support for RTState
	// pipelines, DAccelStruct descriptors and
	// QRayTracing command buffers.
	RayTracing bool
}
