// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"errors"
	"fmt"
	"slices"

	"github.com/gviegas/framegraph/driver"
	"github.com/gviegas/framegraph/engine/internal/ctxt"
	"github.com/gviegas/framegraph/internal/bitvec"
)

// PassID identifies a pass of the frame graph.
type PassID int

// Passes.
const (
	PassPreDepth PassID = iota
	PassCSM
	PassShadowMask
	PassRayTraced
	PassForward
	PassTAA

	passCount
)

var passNames = [passCount]string{
	PassPreDepth:   "predepth",
	PassCSM:        "csm",
	PassShadowMask: "shadowmask",
	PassRayTraced:  "raytraced",
	PassForward:    "forward",
	PassTAA:        "taa",
}

func (id PassID) String() string {
	if id < 0 || id >= passCount {
		return fmt.Sprintf("PassID(%d)", int(id))
	}
	return passNames[id]
}

// Edge is a semaphore dependency between two passes.
// To does not execute commands at Stage (or later)
// before From signals.
type Edge struct {
	From, To PassID
	Stage    driver.Sync
}

// frameContext is the information that passes need to
// record a frame.
type frameContext struct {
	// Monotonic frame index.
	frame int
	// Frame slot (frame % frames in flight).
	slot  int
	state *FrameState
	cam   cameraMatrices
}

// pass is the interface that frame graph passes
// implement.
type pass interface {
	id() PassID

	// deps returns the passes that must be initialized
	// before this one.
	deps() []PassID

	// init creates the pass' resources. Every pass in
	// deps can be looked up in reg.
	init(reg *passRegistry) error

	// resize recreates extent-dependent resources.
	resize(width, height int) error

	// record records the commands of a frame.
	record(fc *frameContext) (driver.CmdBuffer, error)

	// bindings returns the pass' pipeline bindings.
	bindings() []*pipelineBinding

	// signals returns the semaphores that the pass
	// signals, keyed by consumer.
	signals() *semSet

	free()
}

// semSet holds the semaphores that a pass signals.
// Each semaphore has a single consumer.
type semSet struct {
	sems [passCount]driver.Semaphore
}

// get returns the semaphore signaled for the given
// consumer, creating it if needed.
func (s *semSet) get(to PassID) (driver.Semaphore, error) {
	if s.sems[to] == nil {
		sem, err := ctxt.GPU().NewSemaphore()
		if err != nil {
			return nil, err
		}
		s.sems[to] = sem
	}
	return s.sems[to], nil
}

func (s *semSet) free() {
	for i, sem := range s.sems {
		if sem != nil {
			sem.Destroy()
			s.sems[i] = nil
		}
	}
}

// passRegistry maps PassIDs to passes and computes the
// order in which they are initialized.
type passRegistry struct {
	passes [passCount]pass
	order  []PassID
}

var errPassCycle = errors.New("engine: pass dependency cycle")

func newPassErr(id PassID, s string) error { return fmt.Errorf("engine: %s pass: %s", id, s) }

// add registers p.
// It panics if a pass of the same PassID is registered.
func (r *passRegistry) add(p pass) {
	if r.passes[p.id()] != nil {
		panic("engine: pass " + p.id().String() + " registered twice")
	}
	r.passes[p.id()] = p
	r.order = nil
}

// get returns the pass identified by id, or nil.
func (r *passRegistry) get(id PassID) pass {
	if id < 0 || id >= passCount {
		return nil
	}
	return r.passes[id]
}

// has returns whether a pass identified by id is
// registered.
func (r *passRegistry) has(id PassID) bool { return r.get(id) != nil }

// build computes the build order.
// Dependencies precede dependents, and independent
// passes appear in PassID order.
func (r *passRegistry) build() error {
	var done, visiting bitvec.V
	done.Grow(int(passCount))
	visiting.Grow(int(passCount))
	order := make([]PassID, 0, passCount)

	var visit func(id PassID, path []PassID) error
	visit = func(id PassID, path []PassID) error {
		if done.IsSet(int(id)) {
			return nil
		}
		if visiting.IsSet(int(id)) {
			return fmt.Errorf("%w: %v", errPassCycle, append(path, id))
		}
		p := r.passes[id]
		visiting.Set(int(id))
		for _, d := range p.deps() {
			if !r.has(d) {
				return newPassErr(id, "depends on unregistered pass "+d.String())
			}
			if err := visit(d, append(path, id)); err != nil {
				return err
			}
		}
		visiting.Unset(int(id))
		done.Set(int(id))
		order = append(order, id)
		return nil
	}

	for id := range passCount {
		if r.passes[id] == nil {
			continue
		}
		if err := visit(id, nil); err != nil {
			return err
		}
	}
	r.order = order
	return nil
}

// init initializes every pass in build order.
// On failure, the passes initialized so far are freed.
func (r *passRegistry) init() error {
	if r.order == nil {
		if err := r.build(); err != nil {
			return err
		}
	}
	for i, id := range r.order {
		if err := r.passes[id].init(r); err != nil {
			for _, id := range slices.Backward(r.order[:i]) {
				r.passes[id].free()
			}
			return err
		}
	}
	return nil
}

// free frees every pass in reverse build order.
func (r *passRegistry) free() {
	for _, id := range slices.Backward(r.order) {
		r.passes[id].free()
	}
}

// computeEdges returns the semaphore dependencies for a
// given producer and debug mode.
// Every pass that samples another pass' output waits on
// it directly, even if the order is implied by other
// edges, so that the writes are visible at the stage
// that reads them.
func computeEdges(producer ShadowProducer, debug DebugMode, taa bool) []Edge {
	var e []Edge
	switch producer {
	case CascadeRaster:
		e = append(e,
			Edge{PassPreDepth, PassShadowMask, driver.SComputeShading},
			Edge{PassCSM, PassShadowMask, driver.SComputeShading},
			Edge{PassShadowMask, PassForward, driver.SFragmentShading},
		)
		if debug == DebugShadows {
			// The compositor samples a cascade directly.
			e = append(e, Edge{PassCSM, PassForward, driver.SFragmentShading})
		}
	case RayTraced:
		e = append(e,
			Edge{PassPreDepth, PassRayTraced, driver.SRayTracing},
			Edge{PassRayTraced, PassForward, driver.SFragmentShading},
		)
	}
	e = append(e, Edge{PassPreDepth, PassForward, driver.SFragmentShading | driver.SDSOutput})
	if taa {
		e = append(e,
			Edge{PassForward, PassTAA, driver.SComputeShading},
			// History rejection samples the depth copy.
			Edge{PassPreDepth, PassTAA, driver.SComputeShading},
		)
	}
	return e
}

// frameEdges returns the dependencies between
// consecutive frames.
// Every active pass that no other active pass waits on
// is signaled to every active pass that waits on none,
// so that a frame starts only after the previous one
// has released the images that are not duplicated per
// frame slot.
// The semaphores are signaled in one frame and waited
// on in the next.
func frameEdges(active []PassID, edges []Edge) []Edge {
	var in, out [passCount]bool
	for _, e := range edges {
		if slices.Contains(active, e.From) && slices.Contains(active, e.To) {
			out[e.From] = true
			in[e.To] = true
		}
	}
	var cross []Edge
	for _, from := range active {
		if out[from] {
			continue
		}
		for _, to := range active {
			if !in[to] {
				cross = append(cross, Edge{from, to, driver.SAll})
			}
		}
	}
	return cross
}

// activePasses returns the passes that execute for a
// given producer, in submission order.
func activePasses(order []PassID, producer ShadowProducer, taa bool) []PassID {
	act := make([]PassID, 0, len(order))
	for _, id := range order {
		switch id {
		case PassCSM, PassShadowMask:
			if producer != CascadeRaster {
				continue
			}
		case PassRayTraced:
			if producer != RayTraced {
				continue
			}
		case PassTAA:
			if !taa {
				continue
			}
		}
		act = append(act, id)
	}
	return act
}
