// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"fmt"

	"github.com/gviegas/framegraph/driver"
)

// ShadowProducer identifies the source of the shadow
// mask that the compositor consumes.
type ShadowProducer int

// Shadow producers.
const (
	// CascadeRaster renders cascaded shadow maps and
	// resolves them into a mask in a compute pass.
	CascadeRaster ShadowProducer = iota
	// RayTraced traces one visibility ray per pixel.
	// It requires driver.Features.RayTracing.
	RayTraced
)

var producerNames = [...]string{
	CascadeRaster: "cascade",
	RayTraced:     "raytraced",
}

// String implements fmt.Stringer.
func (p ShadowProducer) String() string {
	if p < 0 || int(p) >= len(producerNames) {
		return fmt.Sprintf("ShadowProducer(%d)", int(p))
	}
	return producerNames[p]
}

// MarshalText implements encoding.TextMarshaler.
func (p ShadowProducer) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *ShadowProducer) UnmarshalText(text []byte) error {
	for i, s := range producerNames {
		if s == string(text) {
			*p = ShadowProducer(i)
			return nil
		}
	}
	return fmt.Errorf("engine: unknown shadow producer %q", text)
}

// DebugMode selects what the compositor visualizes in
// place of the lit scene.
type DebugMode int

// Debug modes.
const (
	DebugNone DebugMode = iota
	// DebugShadows shows the producer's debug image.
	DebugShadows
	// DebugRTGI shows the image set with
	// Renderer.SetRTGIImage.
	DebugRTGI
)

func (m DebugMode) String() string {
	switch m {
	case DebugNone:
		return "none"
	case DebugShadows:
		return "shadows"
	case DebugRTGI:
		return "rtgi"
	}
	return fmt.Sprintf("DebugMode(%d)", int(m))
}

// ShadowMaskProducer is the interface that a shadow
// producer exposes to the compositor.
// The compositor never depends on the concrete type.
type ShadowMaskProducer interface {
	// Output returns the mask written in the given frame.
	Output(frame int) driver.ImageView

	// Semaphore returns the semaphore signaled when the
	// mask is ready for the compositor.
	Semaphore() driver.Semaphore

	// DenoisingPattern returns the spatial denoising
	// pattern that must be used to read the mask, or nil
	// if the mask needs no further denoising.
	DenoisingPattern() driver.ImageView

	// DebugImage returns an image that visualizes the
	// producer's raw signal.
	DebugImage() driver.ImageView

	// ConditionalBlocks returns the shader blocks that a
	// consumer must enable to interpret the mask.
	ConditionalBlocks() []string
}
