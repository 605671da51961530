// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package shader

import (
	"errors"
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

func TestPreprocess(t *testing.T) {
	const text = `a
#if X
b
#if Y
c
#else
d
#endif
#else
e
#endif
f`
	for _, x := range [...]struct {
		enabled []string
		want    string
	}{
		{nil, "a\n\n\n\n\n\n\n\n\ne\n\nf\n"},
		{[]string{"X"}, "a\n\nb\n\n\n\nd\n\n\n\n\nf\n"},
		{[]string{"X", "Y"}, "a\n\nb\n\nc\n\n\n\n\n\n\nf\n"},
		{[]string{"Y"}, "a\n\n\n\n\n\n\n\n\ne\n\nf\n"},
	} {
		b, err := Preprocess([]byte(text), x.enabled)
		if err != nil {
			t.Fatalf("Preprocess failed:\n%#v", err)
		}
		if s := string(b); s != x.want {
			t.Fatalf("Preprocess(%v):\nhave %q\nwant %q", x.enabled, s, x.want)
		}
		if n := strings.Count(string(b), "\n"); n != 12 {
			t.Fatalf("Preprocess: line count\nhave %d\nwant 12", n)
		}
	}

	for _, s := range [...]string{"#if X\n", "#endif\n", "#else\n", "#if X\n#else\n#else\n#endif\n"} {
		if _, err := Preprocess([]byte(s), nil); err == nil {
			t.Fatalf("Preprocess(%q): expected error", s)
		}
	}
}

// fakeCompiler "compiles" by prefixing the text with a
// counter, so that every compilation produces distinct
// code.
type fakeCompiler struct {
	n    int
	fail bool
}

func (c *fakeCompiler) Compile(name string, text []byte) ([]byte, error) {
	if c.fail {
		return nil, errors.New("fake compile error")
	}
	c.n++
	return append([]byte{byte(c.n)}, text...), nil
}

func TestSource(t *testing.T) {
	t0 := time.Unix(1000, 0)
	fsys := fstest.MapFS{
		"x.comp": {Data: []byte("main\n#if RT\nrt\n#endif\n"), ModTime: t0},
	}
	comp := &fakeCompiler{}
	s, err := NewSource(fsys, "x.comp", comp, nil)
	if err != nil {
		t.Fatalf("NewSource failed:\n%#v", err)
	}
	if s.Generation() != 1 || s.Code()[0] != 1 || strings.Contains(string(s.Code()), "rt") {
		t.Fatalf("NewSource: unexpected code\n%q", s.Code())
	}

	if ok, err := s.Update(nil); ok || err != nil {
		t.Fatalf("Source.Update: unchanged\nhave %t, %v\nwant false, nil", ok, err)
	}

	// Enabled blocks are part of the compile key.
	if ok, err := s.Update([]string{"RT"}); !ok || err != nil {
		t.Fatalf("Source.Update: blocks changed\nhave %t, %v\nwant true, nil", ok, err)
	}
	if !strings.Contains(string(s.Code()), "rt") {
		t.Fatalf("Source.Update: block not enabled\n%q", s.Code())
	}
	if ok, _ := s.Update([]string{"RT", "RT"}); ok {
		t.Fatal("Source.Update: duplicate blocks should not recompile")
	}

	// Modification.
	fsys["x.comp"].ModTime = t0.Add(time.Second)
	if ok, err := s.Update([]string{"RT"}); !ok || err != nil {
		t.Fatalf("Source.Update: file modified\nhave %t, %v\nwant true, nil", ok, err)
	}
	if s.Generation() != 3 {
		t.Fatalf("Source.Generation:\nhave %d\nwant 3", s.Generation())
	}

	// Failure retains the previous code and is only
	// reported once per change.
	prev := s.Code()
	comp.fail = true
	fsys["x.comp"].ModTime = t0.Add(2 * time.Second)
	if ok, err := s.Update([]string{"RT"}); ok || err == nil {
		t.Fatalf("Source.Update: compile failure\nhave %t, %v\nwant false, error", ok, err)
	}
	if string(s.Code()) != string(prev) {
		t.Fatal("Source.Update: code should be retained on failure")
	}
	if ok, err := s.Update([]string{"RT"}); ok || err != nil {
		t.Fatalf("Source.Update: after failure\nhave %t, %v\nwant false, nil", ok, err)
	}

	// A failed block set is not recorded as current,
	// and a different one is still attempted.
	if ok, err := s.Update(nil); ok || err == nil {
		t.Fatalf("Source.Update: other blocks after failure\nhave %t, %v\nwant false, error", ok, err)
	}
	if b := s.Blocks(); len(b) != 1 || b[0] != "RT" {
		t.Fatalf("Source.Blocks: after failure\nhave %q\nwant [RT]", b)
	}
	comp.fail = false
	if ok, err := s.Update([]string{"RT"}); !ok || err != nil {
		t.Fatalf("Source.Update: after fix\nhave %t, %v\nwant true, nil", ok, err)
	}
}

func TestSourceVariant(t *testing.T) {
	fsys := fstest.MapFS{
		"x.comp": {Data: []byte("main\n#if RT\nrt\n#endif\n"), ModTime: time.Unix(1000, 0)},
	}
	comp := &fakeCompiler{}
	s, err := NewSource(fsys, "x.comp", comp, []string{"RT"})
	if err != nil {
		t.Fatalf("NewSource failed:\n%#v", err)
	}
	prev := s.Code()

	v, err := s.Variant(nil)
	if err != nil {
		t.Fatalf("Source.Variant failed:\n%#v", err)
	}
	if strings.Contains(string(v.Code()), "rt") || len(v.Blocks()) != 0 {
		t.Fatalf("Source.Variant: block should be disabled\n%q", v.Code())
	}
	if string(s.Code()) != string(prev) || len(s.Blocks()) != 1 || s.Generation() != 1 {
		t.Fatal("Source.Variant: receiver should not change")
	}

	comp.fail = true
	if v, err := s.Variant(nil); v != nil || err == nil {
		t.Fatalf("Source.Variant: compile failure\nhave %v, %v\nwant nil, error", v, err)
	}
	if string(s.Code()) != string(prev) || s.Blocks()[0] != "RT" {
		t.Fatal("Source.Variant: receiver should not change on failure")
	}
	// Same key needs no compilation.
	if v, err := s.Variant([]string{"RT"}); err != nil || string(v.Code()) != string(prev) {
		t.Fatalf("Source.Variant: same blocks\nhave %v\nwant nil", err)
	}
}

func TestSourceMissing(t *testing.T) {
	_, err := NewSource(fstest.MapFS{}, "none.wgsl", &fakeCompiler{}, nil)
	if !errors.Is(err, ErrNoSource) {
		t.Fatalf("NewSource:\nhave %v\nwant %v", err, ErrNoSource)
	}
}

func TestDefaultCompiler(t *testing.T) {
	spv, err := DefaultCompiler.Compile("x.wgsl", []byte("@compute @workgroup_size(1)\nfn main() {}\n"))
	if err != nil {
		t.Fatalf("DefaultCompiler.Compile (WGSL) failed:\n%v", err)
	}
	if !isSPIRV(spv) {
		t.Fatal("DefaultCompiler.Compile: WGSL should compile to SPIR-V")
	}
	if b, err := DefaultCompiler.Compile("x.spv", spv); err != nil || &b[0] != &spv[0] {
		t.Fatalf("DefaultCompiler.Compile: SPIR-V should pass through\n%v", err)
	}
	if _, err := DefaultCompiler.Compile("x.spv", []byte("text")); err == nil {
		t.Fatal("DefaultCompiler.Compile: expected error for invalid SPIR-V")
	}
	if _, err := DefaultCompiler.Compile("x.txt", []byte("text")); err == nil {
		t.Fatal("DefaultCompiler.Compile: expected error for unknown stage")
	}
}

func TestBuiltin(t *testing.T) {
	fsys := Builtin()
	for _, name := range [...]string{
		"predepth.wgsl",
		"csm.wgsl",
		"shadowmask.wgsl",
		"forward.wgsl",
		"taa.wgsl",
		"rtshadow.rgen",
		"rtshadow.rmiss",
		"rtshadow.rchit",
	} {
		b, err := fs.ReadFile(fsys, name)
		if err != nil || len(b) == 0 {
			t.Fatalf("Builtin: %s missing\n%v", name, err)
		}
		if _, err := Preprocess(b, []string{"RAYTRACED_SHADOWS"}); err != nil {
			t.Fatalf("Preprocess(%s) failed:\n%v", name, err)
		}
	}
}
