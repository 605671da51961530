// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"github.com/gviegas/framegraph/driver"
)

// Scene is the interface that provides the geometry
// rendered by the frame graph.
// Loading and building acceleration structures are
// the implementation's responsibility.
type Scene interface {
	// Draw records the draw commands of every visible
	// mesh. It is called within a render pass, with a
	// pipeline and descriptor table already set.
	// Vertex inputs are the position (0, Float32x3),
	// normal (1, Float32x3) and texture coordinates
	// (2, Float32x2). Depth-only passes consume only
	// the position.
	Draw(cb driver.CmdBuffer)

	// Textures returns the images that the compositor
	// samples. The list must not change in length after
	// the renderer is created.
	Textures() []driver.ImageView

	// TLAS returns the top-level acceleration structure,
	// or nil if ray tracing is not used.
	TLAS() driver.AccelStruct
}

// FrameState is the per-frame input of the renderer.
type FrameState struct {
	Camera Camera
	Sun    Sun

	// ShadowScreenshot requests a capture of the
	// ray-traced shadow mask. The renderer clears it
	// once observed.
	ShadowScreenshot bool

	// TAA enables temporal accumulation.
	TAA bool
}
