// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package shader

import (
	"bufio"
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/gogpu/naga"
)

//go:embed builtin
var builtin embed.FS

// Builtin returns the file system containing the
// built-in shaders.
func Builtin() fs.FS {
	sub, err := fs.Sub(builtin, "builtin")
	if err != nil {
		panic(err)
	}
	return sub
}

// ErrNoSource means that a shader file could not be
// found.
var ErrNoSource = errors.New("shader: source not found")

func newSrcErr(name string, s string) error { return fmt.Errorf("shader: %s: %s", name, s) }

// Compiler is the interface that wraps the Compile
// method.
//
// Compile converts preprocessed shader text into a
// SPIR-V binary. name is the path of the source file.
type Compiler interface {
	Compile(name string, text []byte) ([]byte, error)
}

// CompilerFunc is a function that implements Compiler.
type CompilerFunc func(name string, text []byte) ([]byte, error)

// Compile implements Compiler.
func (f CompilerFunc) Compile(name string, text []byte) ([]byte, error) { return f(name, text) }

// DefaultCompiler selects a compiler based on the source
// file extension:
//
//	.wgsl | compiled in-process by naga
//	.spv  | used as is
//	other | compiled by the external glslc tool
var DefaultCompiler Compiler = CompilerFunc(compile)

const spirvMagic = 0x07230203

func isSPIRV(b []byte) bool {
	return len(b) >= 20 && len(b)%4 == 0 &&
		uint32(b[0])|uint32(b[1])<<8|uint32(b[2])<<16|uint32(b[3])<<24 == spirvMagic
}

func compile(name string, text []byte) ([]byte, error) {
	switch ext := path.Ext(name); ext {
	case ".wgsl":
		spv, err := naga.Compile(string(text))
		if err != nil {
			return nil, fmt.Errorf("shader: %s: %w", name, err)
		}
		return spv, nil
	case ".spv":
		if !isSPIRV(text) {
			return nil, newSrcErr(name, "not a SPIR-V binary")
		}
		return text, nil
	default:
		return glslc(name, ext[min(1, len(ext)):], text)
	}
}

// glslc compiles GLSL text by running glslc with the
// text in its standard input.
func glslc(name, stage string, text []byte) ([]byte, error) {
	switch stage {
	case "vert", "frag", "comp", "rgen", "rmiss", "rchit":
	default:
		return nil, newSrcErr(name, "unknown shader stage "+stage)
	}
	cmd := exec.Command("glslc", "--target-env=vulkan1.2", "-fshader-stage="+stage, "-o", "-", "-")
	cmd.Stdin = bytes.NewReader(text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	spv, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("shader: %s: %w\n%s", name, err, stderr.Bytes())
	}
	return spv, nil
}

// Preprocess resolves conditional blocks in text.
// A block starts with a "#if NAME" line, may contain a
// "#else" line and ends with a "#endif" line. Blocks can
// be nested. The lines of a block are kept if NAME is in
// enabled (or removed, for the "#else" part).
// Directive and removed lines are replaced with empty
// lines so that line numbers are preserved.
func Preprocess(text []byte, enabled []string) ([]byte, error) {
	type block struct{ on, parent, inElse bool }
	var (
		stack []block
		out   bytes.Buffer
		on    = true
		line  int
	)
	sc := bufio.NewScanner(bytes.NewReader(text))
	sc.Buffer(nil, 1<<20)
	for sc.Scan() {
		line++
		s := sc.Text()
		d := strings.TrimSpace(s)
		switch {
		case strings.HasPrefix(d, "#if "):
			name := strings.TrimSpace(d[len("#if "):])
			b := block{on: slices.Contains(enabled, name), parent: on}
			stack = append(stack, b)
			on = b.parent && b.on
			s = ""
		case d == "#else":
			if len(stack) == 0 || stack[len(stack)-1].inElse {
				return nil, fmt.Errorf("shader: unexpected #else at line %d", line)
			}
			b := &stack[len(stack)-1]
			b.inElse = true
			on = b.parent && !b.on
			s = ""
		case d == "#endif":
			if len(stack) == 0 {
				return nil, fmt.Errorf("shader: unexpected #endif at line %d", line)
			}
			on = stack[len(stack)-1].parent
			stack = stack[:len(stack)-1]
			s = ""
		case !on:
			s = ""
		}
		out.WriteString(s)
		out.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(stack) != 0 {
		return nil, errors.New("shader: unterminated #if block")
	}
	return out.Bytes(), nil
}

// Source is a shader source file that can be recompiled
// when it changes.
// The file's modification time and the set of enabled
// conditional blocks form the compile key: a change to
// either produces new code.
type Source struct {
	fsys   fs.FS
	name   string
	comp   Compiler
	mod    time.Time
	blocks []string
	code   []byte
	gen    int

	// Key of the last failed compilation.
	bad       bool
	badMod    time.Time
	badBlocks []string
}

// NewSource creates a new Source and compiles it with the
// given conditional blocks enabled.
// If comp is nil, DefaultCompiler is used.
func NewSource(fsys fs.FS, name string, comp Compiler, blocks []string) (*Source, error) {
	if comp == nil {
		comp = DefaultCompiler
	}
	s := &Source{fsys: fsys, name: name, comp: comp}
	fi, err := s.stat()
	if err != nil {
		return nil, err
	}
	if err := s.compile(fi.ModTime(), blocks); err != nil {
		return nil, err
	}
	return s, nil
}

// Name returns the path of the source file.
func (s *Source) Name() string { return s.name }

// Code returns the most recent successfully compiled
// binary.
func (s *Source) Code() []byte { return s.code }

// Blocks returns the conditional blocks of the last
// successful compilation.
func (s *Source) Blocks() []string { return s.blocks }

// Generation returns the number of successful
// compilations.
func (s *Source) Generation() int { return s.gen }

func (s *Source) stat() (fs.FileInfo, error) {
	fi, err := fs.Stat(s.fsys, s.name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoSource, s.name)
	}
	return fi, err
}

func normBlocks(blocks []string) []string {
	b := slices.Clone(blocks)
	slices.Sort(b)
	return slices.Compact(b)
}

func (s *Source) compile(mod time.Time, blocks []string) error {
	blocks = normBlocks(blocks)
	code, err := s.build(blocks)
	if err != nil {
		// A broken file is reported once per change.
		s.bad = true
		s.badMod = mod
		s.badBlocks = blocks
		return err
	}
	s.mod = mod
	s.blocks = blocks
	s.bad = false
	s.code = code
	s.gen++
	return nil
}

func (s *Source) build(blocks []string) ([]byte, error) {
	text, err := fs.ReadFile(s.fsys, s.name)
	if err != nil {
		return nil, err
	}
	text, err = Preprocess(text, blocks)
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, s.name)
	}
	code, err := s.comp.Compile(s.name, text)
	if err != nil {
		return nil, err
	}
	if len(code) == 0 {
		return nil, newSrcErr(s.name, "compiler produced no code")
	}
	return code, nil
}

// Update recompiles s if the file was modified or if
// blocks differs from the current set.
// It returns whether new code was produced.
// On failure, the previous code and blocks are retained,
// and the same key is not retried until the file changes.
func (s *Source) Update(blocks []string) (bool, error) {
	fi, err := s.stat()
	if err != nil {
		return false, err
	}
	mod := fi.ModTime()
	norm := normBlocks(blocks)
	if mod.Equal(s.mod) && slices.Equal(norm, s.blocks) {
		return false, nil
	}
	if s.bad && mod.Equal(s.badMod) && slices.Equal(norm, s.badBlocks) {
		return false, nil
	}
	if err := s.compile(mod, norm); err != nil {
		return false, err
	}
	return true, nil
}

// Variant returns a copy of s compiled with the given
// conditional blocks enabled.
// s is not modified. If blocks matches the current set
// and the file is unchanged, the copy shares s's code.
func (s *Source) Variant(blocks []string) (*Source, error) {
	v := *s
	v.blocks = slices.Clone(s.blocks)
	v.bad = false
	fi, err := v.stat()
	if err != nil {
		return nil, err
	}
	if fi.ModTime().Equal(v.mod) && slices.Equal(normBlocks(blocks), v.blocks) {
		return &v, nil
	}
	if err := v.compile(fi.ModTime(), blocks); err != nil {
		return nil, err
	}
	return &v, nil
}
