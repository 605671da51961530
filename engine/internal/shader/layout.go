// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package shader

import (
	"time"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gviegas/framegraph/driver"
)

// CascadeCount is the number of shadow cascades that
// ShadowMaskLayout can describe.
const CascadeCount = 4

func copyM4(dst []float32, m *mgl32.Mat4) { copy(dst, m[:]) }

func uint32Bits(x uint32) float32 { return *(*float32)(unsafe.Pointer(&x)) }

func bool32Bits(b bool) float32 {
	if b {
		return uint32Bits(1)
	}
	return uint32Bits(0)
}

// FrameLayout is the layout of per-frame, global data.
// It is defined as follows:
//
//	[0:16]  | view-projection matrix
//	[16:32] | view matrix
//	[32:48] | projection matrix
//	[48]    | elapsed time in seconds
//	[49]    | normalized random value
//	[50]    | viewport's x
//	[51]    | viewport's y
//	[52]    | viewport's width
//	[53]    | viewport's height
//	[54]    | viewport's near plane
//	[55]    | viewport's far plane
//	[56:64] | (unused)
type FrameLayout [64]float32

// SetVP sets the view-projection matrix.
func (l *FrameLayout) SetVP(m *mgl32.Mat4) { copyM4(l[:16], m) }

// SetV sets the view matrix.
func (l *FrameLayout) SetV(m *mgl32.Mat4) { copyM4(l[16:32], m) }

// SetP sets the projection matrix.
func (l *FrameLayout) SetP(m *mgl32.Mat4) { copyM4(l[32:48], m) }

// SetTime sets the elapsed time.
func (l *FrameLayout) SetTime(d time.Duration) { l[48] = float32(d.Seconds()) }

// SetRand sets the normalized random value.
func (l *FrameLayout) SetRand(rnd float32) { l[49] = rnd }

// SetBounds sets the viewport bounds.
func (l *FrameLayout) SetBounds(b *driver.Viewport) {
	l[50] = b.X
	l[51] = b.Y
	l[52] = b.Width
	l[53] = b.Height
	l[54] = b.Znear
	l[55] = b.Zfar
}

// CascadeLayout is the layout of a single cascade's data,
// used when rendering the cascade's depth.
// It is defined as follows:
//
//	[0:16] | light view-projection matrix
type CascadeLayout [16]float32

// SetVP sets the light view-projection matrix.
func (l *CascadeLayout) SetVP(m *mgl32.Mat4) { copyM4(l[:], m) }

// ShadowMaskLayout is the layout of the shadow mask
// resolver's data.
// It is defined as follows:
//
//	[0:16]    | inverse view matrix
//	[16:32]   | inverse projection matrix
//	[32:34]   | projection parameters
//	[34:36]   | (unused)
//	[36:52]   | previous view-projection matrix
//	[52:54]   | screen size (uint32)
//	[54:56]   | (unused)
//	[56:120]  | cascade view-projection matrices
//	[120:124] | cascade splits
//	[124:132] | cascade texel scales
//	[132:136] | cascade texture sizes (uint32)
//	[136]     | noise rotation
//	[137:144] | (unused)
type ShadowMaskLayout [144]float32

// SetInvView sets the inverse view matrix.
func (l *ShadowMaskLayout) SetInvView(m *mgl32.Mat4) { copyM4(l[:16], m) }

// SetInvProj sets the inverse projection matrix.
func (l *ShadowMaskLayout) SetInvProj(m *mgl32.Mat4) { copyM4(l[16:32], m) }

// SetProjParams sets the projection parameters used to
// linearize depth (see ProjParams).
func (l *ShadowMaskLayout) SetProjParams(p mgl32.Vec2) { l[32], l[33] = p[0], p[1] }

// SetPrevVP sets the previous frame's view-projection
// matrix.
func (l *ShadowMaskLayout) SetPrevVP(m *mgl32.Mat4) { copyM4(l[36:52], m) }

// SetScreenSize sets the screen size.
func (l *ShadowMaskLayout) SetScreenSize(width, height int) {
	l[52] = uint32Bits(uint32(width))
	l[53] = uint32Bits(uint32(height))
}

// SetCascadeVP sets the view-projection matrix of the
// given cascade.
func (l *ShadowMaskLayout) SetCascadeVP(i int, m *mgl32.Mat4) {
	off := 56 + i*16
	copyM4(l[off:off+16], m)
}

// SetCascadeSplit sets the far split distance of the
// given cascade.
func (l *ShadowMaskLayout) SetCascadeSplit(i int, d float32) { l[120+i] = d }

// SetCascadeScale sets the texel scale of the given
// cascade relative to the first one.
func (l *ShadowMaskLayout) SetCascadeScale(i int, s mgl32.Vec2) {
	l[124+2*i] = s[0]
	l[124+2*i+1] = s[1]
}

// SetCascadeSize sets the texture size of the given
// cascade.
func (l *ShadowMaskLayout) SetCascadeSize(i int, size int) { l[132+i] = uint32Bits(uint32(size)) }

// SetNoiseRotation sets the noise rotation angle.
func (l *ShadowMaskLayout) SetNoiseRotation(a float32) { l[136] = a }

// RTShadowLayout is the layout of the ray-traced shadow
// pass' data.
// It is defined as follows:
//
//	[0:16]  | inverse view matrix
//	[16:32] | inverse projection matrix
//	[32:34] | projection parameters
//	[34:36] | (unused)
//	[36:39] | direction towards the sun
//	[39]    | noise layer index (uint32)
//	[40]    | frame index at which noise was disabled, 0 if enabled (uint32)
//	[41]    | sun angular radius
//	[42:48] | (unused)
type RTShadowLayout [48]float32

// SetInvView sets the inverse view matrix.
func (l *RTShadowLayout) SetInvView(m *mgl32.Mat4) { copyM4(l[:16], m) }

// SetInvProj sets the inverse projection matrix.
func (l *RTShadowLayout) SetInvProj(m *mgl32.Mat4) { copyM4(l[16:32], m) }

// SetProjParams sets the projection parameters.
func (l *RTShadowLayout) SetProjParams(p mgl32.Vec2) { l[32], l[33] = p[0], p[1] }

// SetSunDir sets the direction towards the sun.
func (l *RTShadowLayout) SetSunDir(d mgl32.Vec3) { l[36], l[37], l[38] = d[0], d[1], d[2] }

// SetNoiseIndex sets the noise layer index.
func (l *RTShadowLayout) SetNoiseIndex(i int) { l[39] = uint32Bits(uint32(i)) }

// SetNoNoiseFrame sets the frame index from which noise
// is disabled. Zero enables noise.
func (l *RTShadowLayout) SetNoNoiseFrame(f int) { l[40] = uint32Bits(uint32(f)) }

// SetSunAngle sets the sun's angular radius.
func (l *RTShadowLayout) SetSunAngle(a float32) { l[41] = a }

// LightLayout is the layout of the compositor's light
// data.
// It is defined as follows:
//
//	[0:3]   | direction towards the sun in view space
//	[3]     | (unused)
//	[4:7]   | sun color
//	[7]     | (unused)
//	[8:10]  | output size (uint32)
//	[10]    | near plane
//	[11]    | far plane
//	[12]    | debug mode (uint32)
//	[13:16] | (unused)
type LightLayout [16]float32

// SetDirection sets the sun direction.
func (l *LightLayout) SetDirection(d mgl32.Vec3) { l[0], l[1], l[2] = d[0], d[1], d[2] }

// SetColor sets the sun color.
func (l *LightLayout) SetColor(c mgl32.Vec3) { l[4], l[5], l[6] = c[0], c[1], c[2] }

// SetOutputSize sets the output size.
func (l *LightLayout) SetOutputSize(width, height int) {
	l[8] = uint32Bits(uint32(width))
	l[9] = uint32Bits(uint32(height))
}

// SetNearFar sets the camera's near and far planes.
func (l *LightLayout) SetNearFar(near, far float32) { l[10], l[11] = near, far }

// SetDebugMode sets the debug visualization mode.
func (l *LightLayout) SetDebugMode(m int) { l[12] = uint32Bits(uint32(m)) }

// ReprojectionLayout is the layout of the temporal
// resolve's data.
// It is defined as follows:
//
//	[0:16]  | inverse view matrix
//	[16:32] | inverse projection matrix
//	[32:34] | projection parameters
//	[34:36] | (unused)
//	[36:52] | previous view-projection matrix
//	[52:54] | screen size (uint32)
//	[54]    | whether temporal anti-aliasing is enabled (uint32)
//	[55:64] | (unused)
type ReprojectionLayout [64]float32

// SetInvView sets the inverse view matrix.
func (l *ReprojectionLayout) SetInvView(m *mgl32.Mat4) { copyM4(l[:16], m) }

// SetInvProj sets the inverse projection matrix.
func (l *ReprojectionLayout) SetInvProj(m *mgl32.Mat4) { copyM4(l[16:32], m) }

// SetProjParams sets the projection parameters.
func (l *ReprojectionLayout) SetProjParams(p mgl32.Vec2) { l[32], l[33] = p[0], p[1] }

// SetPrevVP sets the previous frame's view-projection
// matrix.
func (l *ReprojectionLayout) SetPrevVP(m *mgl32.Mat4) { copyM4(l[36:52], m) }

// SetScreenSize sets the screen size.
func (l *ReprojectionLayout) SetScreenSize(width, height int) {
	l[52] = uint32Bits(uint32(width))
	l[53] = uint32Bits(uint32(height))
}

// SetEnabled sets whether temporal anti-aliasing is
// enabled.
func (l *ReprojectionLayout) SetEnabled(b bool) { l[54] = bool32Bits(b) }

// ProjParams returns the parameters that shaders use to
// linearize a depth value d as y / (d - x).
func ProjParams(near, far float32) mgl32.Vec2 {
	return mgl32.Vec2{far / (far - near), -far * near / (far - near)}
}
