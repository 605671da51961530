// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package noise generates the deterministic sample tables
// used by the shadow passes.
// Every table is generated once from a seed and is
// immutable afterwards.
package noise

import (
	"encoding/binary"
	"math"
	"math/rand/v2"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	// SizePerSide is the width and height of the noise
	// textures.
	SizePerSide = 128

	// PatternSide is the number of strata per side of the
	// sample pattern. The pattern has PatternSide²
	// layers.
	PatternSide = 4

	// RotationCount is the number of per-frame rotation
	// angles.
	RotationCount = 16

	// DirectionCount is the number of layers in the ray
	// direction noise.
	DirectionCount = 16

	// DenoiseSize is the number of taps in the denoising
	// pattern.
	DenoiseSize = 25
)

// NewRand creates the generator used by this package's
// functions. Equal seeds produce equal sequences.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Disk maps a point of the unit square onto the unit disk
// (polar remap). Uniform inputs produce uniform outputs.
func Disk(u, v float32) mgl32.Vec2 {
	r := math.Sqrt(float64(v))
	a := 2 * math.Pi * float64(u)
	return mgl32.Vec2{float32(r * math.Cos(a)), float32(r * math.Sin(a))}
}

func jitter(rng *rand.Rand) float32 { return rng.Float32() - 0.5 }

// Texture is a layered table of 2D offsets.
type Texture struct {
	Width  int
	Height int
	Layers int
	// Data is indexed by x + y*Width + layer*Width*Height.
	Data []mgl32.Vec2
}

func newTexture(width, height, layers int) *Texture {
	return &Texture{
		Width:  width,
		Height: height,
		Layers: layers,
		Data:   make([]mgl32.Vec2, width*height*layers),
	}
}

// At returns the offset at the given texel.
func (t *Texture) At(x, y, layer int) mgl32.Vec2 {
	return t.Data[x+y*t.Width+layer*t.Width*t.Height]
}

// Bytes returns the data as packed little-endian RG32f
// texels, ready for upload.
func (t *Texture) Bytes() []byte {
	b := make([]byte, 0, len(t.Data)*8)
	for _, v := range t.Data {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(v[0]))
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(v[1]))
	}
	return b
}

// LayerSize returns the size in bytes of a single layer.
func (t *Texture) LayerSize() int { return t.Width * t.Height * 8 }

// Pattern generates the stratified sample pattern that the
// shadow mask resolver uses for soft cascade sampling.
// Layer u + v*patternSide of each texel holds a sample of
// stratum (u, v), jittered within it and remapped to the
// unit disk.
func Pattern(rng *rand.Rand, sizePerSide, patternSide int) *Texture {
	t := newTexture(sizePerSide, sizePerSide, patternSide*patternSide)
	n := float32(patternSide)
	for y := range sizePerSide {
		for x := range sizePerSide {
			for v := range patternSide {
				for u := range patternSide {
					su := (float32(u) + 0.5 + jitter(rng)) / n
					sv := (float32(v) + 0.5 + jitter(rng)) / n
					layer := u + v*patternSide
					t.Data[x+y*sizePerSide+layer*sizePerSide*sizePerSide] = Disk(su, sv)
				}
			}
		}
	}
	return t
}

// Directions generates the per-frame ray direction noise.
// Each texel of each layer holds an offset on the unit
// disk that the ray generation scales by the light cone.
func Directions(rng *rand.Rand, sizePerSide, count int) *Texture {
	t := newTexture(sizePerSide, sizePerSide, count)
	for i := range t.Data {
		t.Data[i] = Disk(rng.Float32(), rng.Float32())
	}
	return t
}

// Denoise generates the spatial denoising taps, stratified
// over a square grid of ceil(sqrt(n)) cells per side.
// The result is a single-row texture of n texels.
func Denoise(rng *rand.Rand, n int) *Texture {
	t := newTexture(n, 1, 1)
	side := int(math.Ceil(math.Sqrt(float64(n))))
	for i := range n {
		u := (float32(i%side) + 0.5 + jitter(rng)) / float32(side)
		v := (float32(i/side) + 0.5 + jitter(rng)) / float32(side)
		t.Data[i] = Disk(u, v)
	}
	return t
}

// Rotations generates n rotation angles in [0, 2π).
// Frame f uses angle f % n.
func Rotations(rng *rand.Rand, n int) []float32 {
	r := make([]float32, n)
	for i := range r {
		r[i] = rng.Float32() * 2 * math.Pi
	}
	return r
}
