// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package nulldrv

import (
	"errors"

	"github.com/gviegas/framegraph/driver"
)

// Op identifies a recorded command.
type Op int

// Recorded commands.
const (
	OpBeginPass Op = iota
	OpEndPass
	OpBeginWork
	OpEndWork
	OpBeginBlit
	OpEndBlit
	OpSetPipeline
	OpSetViewport
	OpSetScissor
	OpSetVertexBuf
	OpSetIndexBuf
	OpSetDescTable
	OpDraw
	OpDrawIndexed
	OpDispatch
	OpTraceRays
	OpCopyBuffer
	OpCopyImage
	OpCopyBufToImg
	OpCopyImgToBuf
	OpFill
	OpBarrier
	OpTransition
)

// Cmd is a recorded command.
// Only the fields relevant to Op are set.
type Cmd struct {
	Op          Op
	Pass        driver.RenderPass
	FB          driver.Framebuf
	Pipeline    driver.Pipeline
	Table       driver.DescTable
	HeapCopy    []int
	Count       [3]int
	Transitions []driver.Transition
	ImageCopy   *driver.ImageCopy
	BufImgCopy  *driver.BufImgCopy
}

type block int

const (
	noBlock block = iota
	passBlock
	workBlock
	blitBlock
)

// CmdBuffer implements driver.CmdBuffer.
// Misuse (e.g., a draw outside of a render pass) panics.
type CmdBuffer struct {
	obj
	queue     driver.Queue
	recording bool
	ended     bool
	blk       block
	cmds      []Cmd
}

// Queue implements driver.CmdBuffer.
func (cb *CmdBuffer) Queue() driver.Queue { return cb.queue }

// Begin implements driver.CmdBuffer.
func (cb *CmdBuffer) Begin() error {
	if cb.recording {
		return errors.New("nulldrv: Begin called twice")
	}
	cb.recording = true
	cb.ended = false
	cb.cmds = cb.cmds[:0]
	return nil
}

// IsRecording implements driver.CmdBuffer.
func (cb *CmdBuffer) IsRecording() bool { return cb.recording }

func (cb *CmdBuffer) record(c Cmd) {
	if !cb.recording {
		panic("nulldrv: command recorded outside of Begin/End")
	}
	cb.cmds = append(cb.cmds, c)
}

func (cb *CmdBuffer) enter(b block, c Cmd) {
	if cb.blk != noBlock {
		panic("nulldrv: nested command block")
	}
	cb.blk = b
	cb.record(c)
}

func (cb *CmdBuffer) leave(b block, op Op) {
	if cb.blk != b {
		panic("nulldrv: mismatched end of command block")
	}
	cb.blk = noBlock
	cb.record(Cmd{Op: op})
}

func (cb *CmdBuffer) in(b block) {
	if cb.blk != b {
		panic("nulldrv: command recorded in the wrong block")
	}
}

// BeginPass implements driver.CmdBuffer.
func (cb *CmdBuffer) BeginPass(pass driver.RenderPass, fb driver.Framebuf, _ []driver.ClearValue) {
	cb.enter(passBlock, Cmd{Op: OpBeginPass, Pass: pass, FB: fb})
}

// EndPass implements driver.CmdBuffer.
func (cb *CmdBuffer) EndPass() { cb.leave(passBlock, OpEndPass) }

// BeginWork implements driver.CmdBuffer.
func (cb *CmdBuffer) BeginWork(bool) { cb.enter(workBlock, Cmd{Op: OpBeginWork}) }

// EndWork implements driver.CmdBuffer.
func (cb *CmdBuffer) EndWork() { cb.leave(workBlock, OpEndWork) }

// BeginBlit implements driver.CmdBuffer.
func (cb *CmdBuffer) BeginBlit(bool) { cb.enter(blitBlock, Cmd{Op: OpBeginBlit}) }

// EndBlit implements driver.CmdBuffer.
func (cb *CmdBuffer) EndBlit() { cb.leave(blitBlock, OpEndBlit) }

// SetPipeline implements driver.CmdBuffer.
func (cb *CmdBuffer) SetPipeline(pl driver.Pipeline) {
	if pl.(*Pipeline).destroyed {
		panic("nulldrv: destroyed pipeline set")
	}
	cb.record(Cmd{Op: OpSetPipeline, Pipeline: pl})
}

// SetViewport implements driver.CmdBuffer.
func (cb *CmdBuffer) SetViewport([]driver.Viewport) { cb.record(Cmd{Op: OpSetViewport}) }

// SetScissor implements driver.CmdBuffer.
func (cb *CmdBuffer) SetScissor([]driver.Scissor) { cb.record(Cmd{Op: OpSetScissor}) }

// SetVertexBuf implements driver.CmdBuffer.
func (cb *CmdBuffer) SetVertexBuf(int, []driver.Buffer, []int64) {
	cb.record(Cmd{Op: OpSetVertexBuf})
}

// SetIndexBuf implements driver.CmdBuffer.
func (cb *CmdBuffer) SetIndexBuf(driver.IndexFmt, driver.Buffer, int64) {
	cb.record(Cmd{Op: OpSetIndexBuf})
}

func (cb *CmdBuffer) setDescTable(table driver.DescTable, start int, heapCopy []int) {
	for i, c := range heapCopy {
		if c < 0 || c >= table.Heap(start+i).Len() {
			panic("nulldrv: heap copy out of bounds")
		}
	}
	cb.record(Cmd{Op: OpSetDescTable, Table: table, HeapCopy: append([]int(nil), heapCopy...)})
}

// SetDescTableGraph implements driver.CmdBuffer.
func (cb *CmdBuffer) SetDescTableGraph(table driver.DescTable, start int, heapCopy []int) {
	cb.setDescTable(table, start, heapCopy)
}

// SetDescTableComp implements driver.CmdBuffer.
func (cb *CmdBuffer) SetDescTableComp(table driver.DescTable, start int, heapCopy []int) {
	cb.setDescTable(table, start, heapCopy)
}

// SetDescTableRT implements driver.CmdBuffer.
func (cb *CmdBuffer) SetDescTableRT(table driver.DescTable, start int, heapCopy []int) {
	cb.setDescTable(table, start, heapCopy)
}

// Draw implements driver.CmdBuffer.
func (cb *CmdBuffer) Draw(vertCount, instCount, _, _ int) {
	cb.in(passBlock)
	cb.record(Cmd{Op: OpDraw, Count: [3]int{vertCount, instCount}})
}

// DrawIndexed implements driver.CmdBuffer.
func (cb *CmdBuffer) DrawIndexed(idxCount, instCount, _, _, _ int) {
	cb.in(passBlock)
	cb.record(Cmd{Op: OpDrawIndexed, Count: [3]int{idxCount, instCount}})
}

// Dispatch implements driver.CmdBuffer.
func (cb *CmdBuffer) Dispatch(x, y, z int) {
	cb.in(workBlock)
	cb.record(Cmd{Op: OpDispatch, Count: [3]int{x, y, z}})
}

// TraceRays implements driver.CmdBuffer.
func (cb *CmdBuffer) TraceRays(width, height, depth int) {
	cb.in(workBlock)
	cb.record(Cmd{Op: OpTraceRays, Count: [3]int{width, height, depth}})
}

// CopyBuffer implements driver.CmdBuffer.
func (cb *CmdBuffer) CopyBuffer(param *driver.BufferCopy) {
	cb.in(blitBlock)
	cb.record(Cmd{Op: OpCopyBuffer})
	if f, t := param.From.Bytes(), param.To.Bytes(); f != nil && t != nil {
		copy(t[param.ToOff:param.ToOff+param.Size], f[param.FromOff:])
	}
}

// CopyImage implements driver.CmdBuffer.
func (cb *CmdBuffer) CopyImage(param *driver.ImageCopy) {
	cb.in(blitBlock)
	p := *param
	cb.record(Cmd{Op: OpCopyImage, ImageCopy: &p})
}

// CopyBufToImg implements driver.CmdBuffer.
func (cb *CmdBuffer) CopyBufToImg(param *driver.BufImgCopy) {
	cb.in(blitBlock)
	p := *param
	cb.record(Cmd{Op: OpCopyBufToImg, BufImgCopy: &p})
}

// CopyImgToBuf implements driver.CmdBuffer.
func (cb *CmdBuffer) CopyImgToBuf(param *driver.BufImgCopy) {
	cb.in(blitBlock)
	p := *param
	cb.record(Cmd{Op: OpCopyImgToBuf, BufImgCopy: &p})
}

// Fill implements driver.CmdBuffer.
func (cb *CmdBuffer) Fill(buf driver.Buffer, off int64, value byte, size int64) {
	cb.in(blitBlock)
	cb.record(Cmd{Op: OpFill})
	if b := buf.Bytes(); b != nil {
		for i := range b[off : off+size] {
			b[off+int64(i)] = value
		}
	}
}

// Barrier implements driver.CmdBuffer.
func (cb *CmdBuffer) Barrier([]driver.Barrier) { cb.record(Cmd{Op: OpBarrier}) }

// Transition implements driver.CmdBuffer.
func (cb *CmdBuffer) Transition(t []driver.Transition) {
	if cb.blk != noBlock {
		panic("nulldrv: transition inside a command block")
	}
	cb.record(Cmd{Op: OpTransition, Transitions: append([]driver.Transition(nil), t...)})
}

// End implements driver.CmdBuffer.
func (cb *CmdBuffer) End() error {
	if !cb.recording {
		return errors.New("nulldrv: End called without Begin")
	}
	cb.recording = false
	if cb.blk != noBlock {
		cb.blk = noBlock
		cb.cmds = cb.cmds[:0]
		return errors.New("nulldrv: End called inside a command block")
	}
	cb.ended = true
	return nil
}

// Reset implements driver.CmdBuffer.
func (cb *CmdBuffer) Reset() error {
	cb.recording = false
	cb.ended = false
	cb.blk = noBlock
	cb.cmds = cb.cmds[:0]
	return nil
}
