// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package noise

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func TestDisk(t *testing.T) {
	for _, x := range [...][2]float32{{0, 0}, {0.25, 1}, {0.5, 0.5}, {0.99, 0.01}, {1, 1}} {
		if l := Disk(x[0], x[1]).Len(); l > 1+1e-6 {
			t.Fatalf("Disk(%v): outside of the unit disk\nhave %v", x, l)
		}
	}
	if d := Disk(0, 1); d[0] != 1 || d[1] != 0 {
		t.Fatalf("Disk(0, 1):\nhave %v\nwant [1 0]", d)
	}
}

func TestPattern(t *testing.T) {
	const side = 8
	p := Pattern(NewRand(1), side, PatternSide)
	if p.Width != side || p.Height != side || p.Layers != PatternSide*PatternSide {
		t.Fatalf("Pattern: dimensions\nhave %dx%dx%d", p.Width, p.Height, p.Layers)
	}
	for y := range side {
		for x := range side {
			for v := range PatternSide {
				for u := range PatternSide {
					s := p.At(x, y, u+v*PatternSide)
					// Radius is sqrt of the stratum's v.
					r := s.Len()
					lo := math.Sqrt(float64(v) / PatternSide)
					hi := math.Sqrt(float64(v+1) / PatternSide)
					if float64(r) < lo-1e-5 || float64(r) > hi+1e-5 {
						t.Fatalf("Pattern: sample outside of stratum (%d, %d)\nhave radius %v\nwant [%v, %v]", u, v, r, lo, hi)
					}
				}
			}
		}
	}

	q := Pattern(NewRand(1), side, PatternSide)
	if !bytes.Equal(p.Bytes(), q.Bytes()) {
		t.Fatal("Pattern: same seed should produce the same pattern")
	}
	q = Pattern(NewRand(2), side, PatternSide)
	if bytes.Equal(p.Bytes(), q.Bytes()) {
		t.Fatal("Pattern: different seeds should produce different patterns")
	}
}

func TestBytes(t *testing.T) {
	d := Denoise(NewRand(7), DenoiseSize)
	b := d.Bytes()
	if len(b) != DenoiseSize*8 || d.LayerSize() != len(b) {
		t.Fatalf("Texture.Bytes: len\nhave %d\nwant %d", len(b), DenoiseSize*8)
	}
	for i, v := range d.Data {
		x := math.Float32frombits(binary.LittleEndian.Uint32(b[i*8:]))
		y := math.Float32frombits(binary.LittleEndian.Uint32(b[i*8+4:]))
		if x != v[0] || y != v[1] {
			t.Fatalf("Texture.Bytes: [%d]\nhave (%v, %v)\nwant %v", i, x, y, v)
		}
	}
}

func TestDirections(t *testing.T) {
	d := Directions(NewRand(3), 16, DirectionCount)
	if len(d.Data) != 16*16*DirectionCount {
		t.Fatalf("Directions: len\nhave %d\nwant %d", len(d.Data), 16*16*DirectionCount)
	}
	for i, v := range d.Data {
		if v.Len() > 1+1e-6 {
			t.Fatalf("Directions: [%d] outside of the unit disk\n%v", i, v)
		}
	}
}

func TestRotations(t *testing.T) {
	r := Rotations(NewRand(5), RotationCount)
	if len(r) != RotationCount {
		t.Fatalf("Rotations: len\nhave %d\nwant %d", len(r), RotationCount)
	}
	for i, a := range r {
		if a < 0 || a >= 2*math.Pi {
			t.Fatalf("Rotations: [%d] out of range\n%v", i, a)
		}
	}
}
