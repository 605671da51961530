// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"context"
	"fmt"

	"github.com/qmuntal/stateless"

	"github.com/gviegas/framegraph/driver"
	"github.com/gviegas/framegraph/engine/internal/ctxt"
	"github.com/gviegas/framegraph/engine/internal/shader"
)

// bindingState is the state of a pipelineBinding.
type bindingState int

const (
	// The pipeline matches the sources and layout.
	bindingActive bindingState = iota
	// New code or a new layout is available, but the
	// current pipeline may be in use by the GPU.
	bindingPendingRebuild
	// The device is idle and the pipeline is being
	// replaced.
	bindingRebuilding
)

func (s bindingState) String() string {
	switch s {
	case bindingActive:
		return "active"
	case bindingPendingRebuild:
		return "pending-rebuild"
	case bindingRebuilding:
		return "rebuilding"
	}
	return fmt.Sprintf("bindingState(%d)", int(s))
}

type bindingTrigger int

const (
	trigSourceChanged bindingTrigger = iota
	trigLayoutChanged
	trigIdle
	trigBuilt
	trigFailed
)

// buildFunc creates a pipeline from shader code.
// code has one element per source, in order.
type buildFunc func(code []driver.ShaderCode) (driver.Pipeline, error)

// pipelineBinding ties shader sources to the pipeline
// created from them.
// The pipeline is never mutated: a change to a source,
// to the enabled conditional blocks or to the
// descriptor layout produces a new pipeline, and the old
// one is destroyed only after the device is idle.
type pipelineBinding struct {
	name   string
	srcs   []*shader.Source
	blocks func() []string
	build  buildFunc
	code   []driver.ShaderCode
	pl     driver.Pipeline
	sm     *stateless.StateMachine
	nbuild int
}

// newPipelineBinding creates a pipelineBinding.
// blocks, if not nil, provides the conditional blocks
// that the sources are compiled with; it is consulted
// whenever the binding is polled.
func newPipelineBinding(name string, srcs []*shader.Source, blocks func() []string, build buildFunc) (*pipelineBinding, error) {
	b := &pipelineBinding{
		name:   name,
		srcs:   srcs,
		blocks: blocks,
		build:  build,
	}
	var err error
	if b.code, err = newShaderCode(srcs); err != nil {
		return nil, err
	}
	if b.pl, err = build(b.code); err != nil {
		destroyCode(b.code)
		return nil, err
	}
	b.nbuild = 1

	b.sm = stateless.NewStateMachine(bindingActive)
	b.sm.Configure(bindingActive).
		Permit(trigSourceChanged, bindingPendingRebuild).
		Permit(trigLayoutChanged, bindingPendingRebuild)
	b.sm.Configure(bindingPendingRebuild).
		Ignore(trigSourceChanged).
		Ignore(trigLayoutChanged).
		Permit(trigIdle, bindingRebuilding)
	b.sm.Configure(bindingRebuilding).
		OnEntry(func(context.Context, ...any) error {
			Logger().Debug("rebuilding pipeline", "pipeline", b.name)
			return nil
		}).
		Permit(trigBuilt, bindingActive).
		Permit(trigFailed, bindingActive)
	return b, nil
}

func newShaderCode(srcs []*shader.Source) ([]driver.ShaderCode, error) {
	code := make([]driver.ShaderCode, 0, len(srcs))
	for _, s := range srcs {
		c, err := ctxt.GPU().NewShaderCode(s.Code())
		if err != nil {
			destroyCode(code)
			return nil, err
		}
		code = append(code, c)
	}
	return code, nil
}

func destroyCode(code []driver.ShaderCode) {
	for _, c := range code {
		c.Destroy()
	}
}

// fire fires t, which must be valid in the current
// state.
func (b *pipelineBinding) fire(t bindingTrigger) {
	if err := b.sm.Fire(t); err != nil {
		panic("engine: pipeline binding " + b.name + ": " + err.Error())
	}
}

func (b *pipelineBinding) state() bindingState { return b.sm.MustState().(bindingState) }

// pipeline returns the current pipeline.
func (b *pipelineBinding) pipeline() driver.Pipeline { return b.pl }

// builds returns how many pipelines were created.
func (b *pipelineBinding) builds() int { return b.nbuild }

func (b *pipelineBinding) currentBlocks() []string {
	if b.blocks == nil {
		return nil
	}
	return b.blocks()
}

// poll recompiles any source that changed.
// Compilation failures are logged and leave the
// binding's state as is.
// It returns whether a rebuild is pending.
func (b *pipelineBinding) poll() bool {
	blocks := b.currentBlocks()
	for _, s := range b.srcs {
		changed, err := s.Update(blocks)
		if err != nil {
			Logger().Warn("shader compilation failed", "pipeline", b.name, "source", s.Name(), "err", err)
			continue
		}
		if changed {
			b.fire(trigSourceChanged)
		}
	}
	return b.state() == bindingPendingRebuild
}

// invalidate requests a rebuild because the descriptor
// layout changed.
func (b *pipelineBinding) invalidate() { b.fire(trigLayoutChanged) }

// rebuild replaces the pipeline if a rebuild is pending.
// The caller must ensure that the device is idle.
// On failure, the previous pipeline is kept.
func (b *pipelineBinding) rebuild() error {
	if b.state() != bindingPendingRebuild {
		return nil
	}
	b.fire(trigIdle)
	code, err := newShaderCode(b.srcs)
	if err != nil {
		b.fire(trigFailed)
		return err
	}
	pl, err := b.build(code)
	if err != nil {
		destroyCode(code)
		b.fire(trigFailed)
		return err
	}
	b.pl.Destroy()
	destroyCode(b.code)
	b.pl, b.code = pl, code
	b.nbuild++
	b.fire(trigBuilt)
	Logger().Info("pipeline rebuilt", "pipeline", b.name, "builds", b.nbuild)
	return nil
}

// replace compiles every source with the given
// conditional blocks and creates a new pipeline with
// build.
// The caller must ensure that the device is idle.
// The binding changes only if both steps succeed;
// otherwise, the current sources and pipeline remain
// in use.
func (b *pipelineBinding) replace(blocks []string, build buildFunc) error {
	pending := b.state() == bindingPendingRebuild
	if !pending {
		b.fire(trigLayoutChanged)
	}
	b.fire(trigIdle)
	fail := func(err error) error {
		b.fire(trigFailed)
		if pending {
			b.fire(trigSourceChanged)
		}
		return err
	}
	srcs := make([]*shader.Source, len(b.srcs))
	for i, s := range b.srcs {
		v, err := s.Variant(blocks)
		if err != nil {
			return fail(err)
		}
		srcs[i] = v
	}
	code, err := newShaderCode(srcs)
	if err != nil {
		return fail(err)
	}
	pl, err := build(code)
	if err != nil {
		destroyCode(code)
		return fail(err)
	}
	b.pl.Destroy()
	destroyCode(b.code)
	b.srcs, b.pl, b.code = srcs, pl, code
	b.nbuild++
	b.fire(trigBuilt)
	Logger().Info("pipeline rebuilt", "pipeline", b.name, "builds", b.nbuild)
	return nil
}

// reload polls the sources and, if anything changed,
// waits for the device to be idle and rebuilds.
func (b *pipelineBinding) reload() error {
	if !b.poll() {
		return nil
	}
	if err := ctxt.GPU().WaitIdle(); err != nil {
		return err
	}
	return b.rebuild()
}

func (b *pipelineBinding) free() {
	if b.pl != nil {
		b.pl.Destroy()
		destroyCode(b.code)
		b.pl, b.code = nil, nil
	}
}

// reloadBindings polls every binding and, if any of them
// has a pending rebuild, waits for the device to be idle
// once and rebuilds them.
func reloadBindings(bs []*pipelineBinding) (int, error) {
	var pending []*pipelineBinding
	for _, b := range bs {
		if b.poll() {
			pending = append(pending, b)
		}
	}
	if len(pending) == 0 {
		return 0, nil
	}
	if err := ctxt.GPU().WaitIdle(); err != nil {
		return 0, err
	}
	for _, b := range pending {
		if err := b.rebuild(); err != nil {
			return 0, err
		}
	}
	return len(pending), nil
}
