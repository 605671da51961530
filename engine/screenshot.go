// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/tiff"
)

// Number of frames between the two captures of a
// shadow screenshot.
const SettleFrames = 16

// shotKind identifies a capture of the shadow mask.
type shotKind int

const (
	shotNone shotKind = iota
	// Captured on the frame of the request, traced
	// without direction noise.
	shotReference
	// Captured after SettleFrames noisy frames.
	shotSettled
)

func (k shotKind) String() string {
	switch k {
	case shotReference:
		return "reference"
	case shotSettled:
		return "settled"
	}
	return "none"
}

// screenshotState tracks a shadow screenshot request.
type screenshotState struct {
	awaiting  bool
	countdown int
}

// step advances the state by one frame and returns
// which capture, if any, the frame must produce.
// A request is observed (and cleared) only when no
// capture is awaited; otherwise it is left pending.
func (s *screenshotState) step(request *bool) shotKind {
	if s.awaiting {
		s.countdown--
		if s.countdown > 0 {
			return shotNone
		}
		s.awaiting = false
		return shotSettled
	}
	if !*request {
		return shotNone
	}
	*request = false
	s.awaiting = true
	s.countdown = SettleFrames
	return shotReference
}

// pendingShot is a capture whose data is available once
// the frame completes.
type pendingShot struct {
	kind  shotKind
	frame int
}

// shotPath returns the path of a capture.
func shotPath(dir string, shot pendingShot) string {
	return filepath.Join(dir, fmt.Sprintf("shadowmask_%06d_%s.tiff", shot.frame, shot.kind))
}

// maskImage converts R32f visibility data into a 16-bit
// grayscale image. Values are clamped to [0, 1].
func maskImage(data []byte, width, height int) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			i := (x + y*width) * 4
			v := math.Float32frombits(binary.LittleEndian.Uint32(data[i:]))
			if v != v {
				v = 0
			}
			v = max(0, min(1, v))
			img.SetGray16(x, y, color.Gray16{Y: uint16(v*math.MaxUint16 + 0.5)})
		}
	}
	return img
}

// writeMaskTIFF writes R32f visibility data to a TIFF
// file, creating the directory if needed.
func writeMaskTIFF(path string, data []byte, width, height int) (err error) {
	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	f, err := os.Create(path)
	if err != nil {
		return
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return tiff.Encode(f, maskImage(data, width, height), &tiff.Options{Compression: tiff.Deflate})
}
