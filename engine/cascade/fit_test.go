// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package cascade

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func testCamera() *Camera {
	return &Camera{
		Position: mgl32.Vec3{3, 1.5, -7},
		Forward:  mgl32.Vec3{0.3, -0.1, -1}.Normalize(),
		FOV:      mgl32.DegToRad(60),
		Aspect:   16.0 / 9.0,
		Near:     0.1,
		Far:      100,
	}
}

func isNaN(m mgl32.Mat4) bool {
	for _, x := range m {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return true
		}
	}
	return false
}

func TestTexelScale(t *testing.T) {
	const want = float32(102.4)
	if x := TexelsPerUnit(2048, 10); x != want {
		t.Fatalf("TexelsPerUnit:\nhave %v\nwant %v", x, want)
	}
	m := TexelScale(2048, 10)
	for i := range 3 {
		if x := m.At(i, i); x != want {
			t.Fatalf("TexelScale: diagonal [%d]\nhave %v\nwant %v", i, x, want)
		}
	}
	if m.At(3, 3) != 1 {
		t.Fatalf("TexelScale: [3][3]\nhave %v\nwant 1", m.At(3, 3))
	}

	// Straight down is parallel to the default up vector.
	down := mgl32.Vec3{0, -1, 0}
	if ls := LightSpace(down, m); isNaN(ls) {
		t.Fatalf("LightSpace: invalid matrix for %v\n%v", down, ls)
	}
	r := Fit(testCamera(), down, 0.1, 10, 2048)
	if isNaN(r.ViewProj) || isNaN(r.View) || isNaN(r.Proj) {
		t.Fatalf("Fit: invalid matrices for %v\n%v", down, r.ViewProj)
	}
}

func TestRadius(t *testing.T) {
	cam := testCamera()
	prev := float32(0)
	for _, r := range Ranges(cam.Near, Splits(cam.Near, cam.Far, Count)) {
		x := Radius(cam, r[0], r[1])
		if x <= prev {
			t.Fatalf("Radius: farther slices should be larger\nhave %v\nprev %v", x, prev)
		}
		prev = x
	}

	flat := &Camera{Aspect: 1}
	if x := Radius(flat, 0, 0); x != MinRadius {
		t.Fatalf("Radius: degenerate slice\nhave %v\nwant %v", x, float32(MinRadius))
	}
	if x := Radius(flat, 5, 5); x != MinRadius {
		t.Fatalf("Radius: zero FOV slice\nhave %v\nwant %v", x, float32(MinRadius))
	}
	r := Fit(flat, mgl32.Vec3{1, -1, 0}, 5, 5, 1024)
	if r.Radius != MinRadius || isNaN(r.ViewProj) {
		t.Fatalf("Fit: degenerate slice\nhave radius %v\n%v", r.Radius, r.ViewProj)
	}
}

func TestFitIdempotent(t *testing.T) {
	cam := testCamera()
	light := mgl32.Vec3{-0.4, -1, 0.2}
	for _, r := range Ranges(cam.Near, Splits(cam.Near, cam.Far, Count)) {
		a := Fit(cam, light, r[0], r[1], 2048)
		b := Fit(cam, light, r[0], r[1], 2048)
		if a != b {
			t.Fatalf("Fit: results differ\nhave %v\nwant %v", b, a)
		}
		if a.ViewProj != a.Proj.Mul4(a.View) {
			t.Fatal("Fit: ViewProj should be Proj * View")
		}
	}
}

func TestFitSnap(t *testing.T) {
	const (
		start = 2
		end   = 12
		size  = 2048
	)
	light := mgl32.Vec3{0.5, -1, 0.3}
	cam := testCamera()
	r := Radius(cam, start, end)
	tpu := TexelsPerUnit(size, r)
	ls := LightSpace(light, TexelScale(size, r))

	// Move the camera so that its slice center lies in the
	// middle of a texel.
	mid := cam.Forward.Mul((start + end) / 2)
	q := ls.Mul4x1(cam.Position.Add(mid).Vec4(1))
	q[0] = float32(math.Floor(float64(q[0]))) + 0.5
	q[1] = float32(math.Floor(float64(q[1]))) + 0.5
	cam.Position = ls.Inv().Mul4x1(q).Vec3().Sub(mid)

	base := Fit(cam, light, start, end, size)
	bq := ls.Mul4x1(base.Center.Vec4(1))
	for _, d := range [...]mgl32.Vec3{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
		{-1, 1, -1},
		{0.3, -0.7, 0.2},
	} {
		moved := *cam
		moved.Position = cam.Position.Add(d.Normalize().Mul(0.35 / tpu))
		x := Fit(&moved, light, start, end, size)
		xq := ls.Mul4x1(x.Center.Vec4(1))
		if x.Center != base.Center || xq.Vec2() != bq.Vec2() {
			t.Fatalf("Fit: sub-texel move changed the snapped center\nhave %v\nwant %v", x.Center, base.Center)
		}
		if x.ViewProj != base.ViewProj {
			t.Fatal("Fit: sub-texel move changed the view-projection")
		}
	}

	// A move of several texels must not be absorbed.
	moved := *cam
	moved.Position = cam.Position.Add(ls.Inv().Mul4x1(mgl32.Vec4{4, 0, 0, 0}).Vec3())
	if x := Fit(&moved, light, start, end, size); x.Center == base.Center {
		t.Fatal("Fit: multi-texel move should change the snapped center")
	}
}
