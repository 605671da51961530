// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"errors"

	"github.com/gviegas/framegraph/driver"
	"github.com/gviegas/framegraph/engine/internal/ctxt"
)

// stagingBuffer copies host data into images.
// Copies are recorded into a single command buffer that
// is committed by commit.
type stagingBuffer struct {
	buf driver.Buffer
	off int64
	// The work item is sent back to wk when the GPU
	// completes it.
	wk chan *driver.WorkItem
	// Images written since the last commit.
	pend []driver.ImageView
}

// newStaging creates a staging buffer of n bytes.
func newStaging(n int64) (*stagingBuffer, error) {
	buf, err := ctxt.GPU().NewBuffer(n, true, driver.UCopySrc)
	if err != nil {
		return nil, err
	}
	cb, err := ctxt.GPU().NewCmdBuffer(driver.QGraphics)
	if err != nil {
		buf.Destroy()
		return nil, err
	}
	s := &stagingBuffer{buf: buf, wk: make(chan *driver.WorkItem, 1)}
	s.wk <- &driver.WorkItem{Work: []driver.CmdBuffer{cb}}
	return s, nil
}

// copyToImage stages data and records a copy into the
// given image, which is left in the driver.LShaderRead
// layout.
// size is the extent of a single layer; data must hold
// every layer, tightly packed.
func (s *stagingBuffer) copyToImage(view driver.ImageView, img driver.Image, size driver.Dim3D, layers int, data []byte) (err error) {
	if s.off+int64(len(data)) > s.buf.Cap() {
		return errors.New("engine: not enough staging capacity")
	}
	off := s.off
	copy(s.buf.Bytes()[off:], data)
	s.off += int64(len(data))

	wk := <-s.wk
	defer func() { s.wk <- wk }()
	cb := wk.Work[0]
	if !cb.IsRecording() {
		if err = cb.Begin(); err != nil {
			return
		}
	}
	cb.Transition([]driver.Transition{{
		Barrier: driver.Barrier{
			SyncBefore:   driver.SNone,
			SyncAfter:    driver.SCopy,
			AccessBefore: driver.ANone,
			AccessAfter:  driver.ACopyWrite,
		},
		LayoutBefore: driver.LUndefined,
		LayoutAfter:  driver.LCopyDst,
		IView:        view,
	}})
	cb.BeginBlit(false)
	depth := max(size.Depth, 1)
	for i := range layers {
		cb.CopyBufToImg(&driver.BufImgCopy{
			Buf:    s.buf,
			BufOff: off + int64(i*len(data)/layers),
			Stride: [2]int64{int64(size.Width), int64(size.Height)},
			Img:    img,
			Layer:  i,
			Size:   driver.Dim3D{Width: size.Width, Height: size.Height, Depth: depth},
		})
	}
	cb.EndBlit()
	s.pend = append(s.pend, view)
	return
}

// commit commits the recorded copies.
// It blocks until execution completes.
func (s *stagingBuffer) commit() (err error) {
	wk := <-s.wk
	cb := wk.Work[0]
	if !cb.IsRecording() {
		s.wk <- wk
		return
	}
	t := make([]driver.Transition, len(s.pend))
	for i, v := range s.pend {
		t[i] = driver.Transition{
			Barrier: driver.Barrier{
				SyncBefore:   driver.SCopy,
				SyncAfter:    driver.SAll,
				AccessBefore: driver.ACopyWrite,
				AccessAfter:  driver.AShaderRead,
			},
			LayoutBefore: driver.LCopyDst,
			LayoutAfter:  driver.LShaderRead,
			IView:        v,
		}
	}
	cb.Transition(t)
	s.pend = s.pend[:0]
	s.off = 0
	if err = cb.End(); err != nil {
		s.wk <- wk
		return
	}
	if err = ctxt.GPU().Commit(wk, s.wk); err != nil {
		cb.Reset()
		s.wk <- wk
		return
	}
	wk = <-s.wk
	err, wk.Err = wk.Err, nil
	s.wk <- wk
	return
}

// free destroys the driver resources.
func (s *stagingBuffer) free() {
	if s.wk != nil {
		wk := <-s.wk
		wk.Work[0].Destroy()
		s.wk = nil
	}
	if s.buf != nil {
		s.buf.Destroy()
		s.buf = nil
	}
}

// target is an image and a view of it.
type target struct {
	img  driver.Image
	view driver.ImageView
}

// newTarget creates a single-level image and a view
// covering every layer (or the 3D extent).
func newTarget(pf driver.PixelFmt, size driver.Dim3D, layers int, usg driver.Usage) (target, error) {
	img, err := ctxt.GPU().NewImage(pf, size, layers, 1, 1, usg)
	if err != nil {
		return target{}, err
	}
	typ := driver.IView2D
	switch {
	case size.Depth > 1:
		typ = driver.IView3D
	case layers > 1:
		typ = driver.IView2DArray
	}
	view, err := img.NewView(typ, 0, layers, 0, 1)
	if err != nil {
		img.Destroy()
		return target{}, err
	}
	return target{img, view}, nil
}

func (t *target) free() {
	if t.view != nil {
		t.view.Destroy()
		t.img.Destroy()
		*t = target{}
	}
}

// newCmdBuffers creates n command buffers for queue q.
func newCmdBuffers(q driver.Queue, n int) ([]driver.CmdBuffer, error) {
	cb := make([]driver.CmdBuffer, 0, n)
	for range n {
		c, err := ctxt.GPU().NewCmdBuffer(q)
		if err != nil {
			freeCmdBuffers(cb)
			return nil, err
		}
		cb = append(cb, c)
	}
	return cb, nil
}

func freeCmdBuffers(cb []driver.CmdBuffer) {
	for _, c := range cb {
		c.Destroy()
	}
}

// groups returns the number of work groups of the given
// size that cover n elements.
func groups(n, size int) int { return (n + size - 1) / size }

// copyIndex returns the heap copy used in a frame by a
// resource that alternates with the given period.
// Each frame slot has its own set of period copies, so
// that copies of frames in flight are never rewritten.
func copyIndex(frame, inFlight, period int) int {
	return frame%inFlight*period + frame%period
}

// transition returns a layout transition of view.
func transition(view driver.ImageView, before, after driver.Layout, syncBefore, syncAfter driver.Sync, accBefore, accAfter driver.Access) driver.Transition {
	return driver.Transition{
		Barrier: driver.Barrier{
			SyncBefore:   syncBefore,
			SyncAfter:    syncAfter,
			AccessBefore: accBefore,
			AccessAfter:  accAfter,
		},
		LayoutBefore: before,
		LayoutAfter:  after,
		IView:        view,
	}
}
