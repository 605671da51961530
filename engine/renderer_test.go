// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"bytes"
	"errors"
	"os"
	"slices"
	"testing"
	"time"

	"golang.org/x/image/tiff"

	"github.com/gviegas/framegraph/driver"
	"github.com/gviegas/framegraph/driver/nulldrv"
	"github.com/gviegas/framegraph/engine/internal/shader"
)

// crossSems returns the semaphores that passes signal
// for the next frame.
func crossSems(r *Renderer) map[driver.Semaphore]bool {
	m := make(map[driver.Semaphore]bool)
	for _, id := range r.g.reg.order {
		for to, sem := range r.g.reg.get(id).signals().sems {
			if sem == nil {
				continue
			}
			inFrame := slices.ContainsFunc(r.Edges(), func(e Edge) bool { return e.From == id && e.To == PassID(to) })
			if !inFrame {
				m[sem] = true
			}
		}
	}
	return m
}

// checkFrame checks that the commits of a frame follow
// the renderer's edges.
// Every semaphore of the frame must be signaled by a
// single commit and waited on by a single later commit.
// Semaphores of the previous frame may be waited on, and
// the ones for the next frame are signaled.
func checkFrame(t *testing.T, r *Renderer, commits []nulldrv.Commit) {
	t.Helper()
	if len(commits) != len(r.active) {
		t.Fatalf("Renderer.Render: commit count\nhave %d\nwant %d (%v)", len(commits), len(r.active), r.active)
	}
	at := make(map[PassID]int)
	for i, id := range r.active {
		at[id] = i
	}
	for _, e := range r.Edges() {
		from, to := commits[at[e.From]], commits[at[e.To]]
		var found bool
		for _, w := range to.Wait {
			if slices.Contains(from.Signal, w.Sem) {
				if w.Stage != e.Stage {
					t.Fatalf("%v: wait stage\nhave %v\nwant %v", e, w.Stage, e.Stage)
				}
				found = true
			}
		}
		if !found {
			t.Fatalf("%v: %s does not wait on %s", e, e.To, e.From)
		}
	}
	cross := crossSems(r)
	for _, e := range r.cross {
		sem := r.g.reg.get(e.From).signals().sems[e.To]
		if !slices.Contains(commits[at[e.From]].Signal, sem) {
			t.Fatalf("%v: %s does not signal the next frame", e, e.From)
		}
	}
	signaled := make(map[driver.Semaphore]int)
	for i, c := range commits {
		for _, w := range c.Wait {
			j, ok := signaled[w.Sem]
			if !ok {
				if !cross[w.Sem] {
					t.Fatalf("commit %d (%s): waits on a semaphore not signaled before", i, r.active[i])
				}
				continue
			}
			if j < 0 {
				t.Fatalf("commit %d (%s): semaphore waited twice", i, r.active[i])
			}
			signaled[w.Sem] = -1
		}
		for _, s := range c.Signal {
			if _, ok := signaled[s]; ok {
				t.Fatalf("commit %d (%s): semaphore signaled twice", i, r.active[i])
			}
			signaled[s] = i
		}
	}
	for s, i := range signaled {
		if i >= 0 && !cross[s] {
			t.Fatalf("commit %d (%s): semaphore %v never waited", i, r.active[i], s)
		}
	}
}

// checkSemaphores checks that, across the given commits,
// no semaphore is signaled again before being waited on.
// The first wait on a semaphore may precede its signal,
// which then happened before the commits were logged.
func checkSemaphores(t *testing.T, commits []nulldrv.Commit) {
	t.Helper()
	signaled := make(map[driver.Semaphore]bool)
	for i, c := range commits {
		for _, w := range c.Wait {
			if on, seen := signaled[w.Sem]; seen && !on {
				t.Fatalf("commit %d: waits on an unsignaled semaphore", i)
			}
			signaled[w.Sem] = false
		}
		for _, s := range c.Signal {
			if signaled[s] {
				t.Fatalf("commit %d: signals a semaphore that was not waited on", i)
			}
			signaled[s] = true
		}
	}
}

// reaches returns, for each commit, the set of later
// commits that are ordered after it by semaphores.
func reaches(commits []nulldrv.Commit) [][]bool {
	n := len(commits)
	r := make([][]bool, n)
	for i := range r {
		r[i] = make([]bool, n)
	}
	for j := range commits {
		for _, w := range commits[j].Wait {
			for i := j - 1; i >= 0; i-- {
				if slices.Contains(commits[i].Signal, w.Sem) {
					r[i][j] = true
					break
				}
			}
		}
	}
	for i := n - 1; i >= 0; i-- {
		for j := i + 1; j < n; j++ {
			if !r[i][j] {
				continue
			}
			for k := j + 1; k < n; k++ {
				r[i][k] = r[i][k] || r[j][k]
			}
		}
	}
	return r
}

func TestRendererFrame(t *testing.T) {
	r, env := newTestRenderer(t, testConfig(t))
	want := []PassID{PassPreDepth, PassCSM, PassShadowMask, PassForward, PassTAA}
	if !slices.Equal(r.active, want) {
		t.Fatalf("Renderer.active:\nhave %v\nwant %v", r.active, want)
	}
	st := testState()
	for i := range 4 {
		env.gpu.ClearLog()
		if err := r.Render(st); err != nil {
			t.Fatalf("Renderer.Render failed:\n%#v", err)
		}
		if r.Frame() != i+1 {
			t.Fatalf("Renderer.Frame:\nhave %d\nwant %d", r.Frame(), i+1)
		}
		commits := env.gpu.Commits()
		checkFrame(t, r, commits)

		queues := []driver.Queue{driver.QGraphics, driver.QGraphics, driver.QCompute, driver.QGraphics, driver.QCompute}
		for j, c := range commits {
			if c.Queue != queues[j] {
				t.Fatalf("commit %d (%s): queue\nhave %d\nwant %d", j, r.active[j], c.Queue, queues[j])
			}
		}
		var dispatch [3]int
		for _, c := range commits[2].Cmds[0] {
			if c.Op == nulldrv.OpDispatch {
				dispatch = c.Count
			}
		}
		if dispatch != [3]int{4, 2, 1} {
			t.Fatalf("shadow mask dispatch:\nhave %v\nwant [4 2 1]", dispatch)
		}
	}
	// Pre-depth, 4 cascades and the compositor.
	if n := env.scene.draws; n != 4*6 {
		t.Fatalf("Scene.Draw: calls\nhave %d\nwant %d", n, 4*6)
	}
}

func TestRendererNoTAA(t *testing.T) {
	c := testConfig(t)
	c.TAA = false
	r, env := newTestRenderer(t, c)
	if r.g.reg.has(PassTAA) {
		t.Fatal("NewRenderer: TAA pass registered with Config.TAA unset")
	}
	for _, e := range r.Edges() {
		if e.To == PassTAA {
			t.Fatalf("Renderer.Edges: unexpected edge %v", e)
		}
	}
	env.gpu.ClearLog()
	if err := r.Render(testState()); err != nil {
		t.Fatalf("Renderer.Render failed:\n%#v", err)
	}
	commits := env.gpu.Commits()
	checkFrame(t, r, commits)
	var copied bool
	for _, c := range commits[len(commits)-1].Cmds[0] {
		if c.Op == nulldrv.OpCopyImage && c.ImageCopy.To == r.Target() {
			copied = true
		}
	}
	if !copied {
		t.Fatal("forward: output not copied to the render target")
	}
}

func TestRendererFrameOrder(t *testing.T) {
	for _, p := range [...]ShadowProducer{CascadeRaster, RayTraced} {
		c := testConfig(t)
		c.ShadowProducer = p
		r, env := newTestRenderer(t, c)
		st := testState()
		env.gpu.ClearLog()
		for range 3 {
			if err := r.Render(st); err != nil {
				t.Fatalf("Renderer.Render failed:\n%#v", err)
			}
		}
		commits := env.gpu.Commits()
		n := len(r.active)
		if len(commits) != 3*n {
			t.Fatalf("%v: commit count\nhave %d\nwant %d", p, len(commits), 3*n)
		}
		checkSemaphores(t, commits)
		// Cascades, masks and the depth copy are shared
		// between frames, so frames must not overlap.
		reach := reaches(commits)
		for f := range 2 {
			for i := f * n; i < (f+1)*n; i++ {
				for j := (f + 1) * n; j < (f+2)*n; j++ {
					if !reach[i][j] {
						t.Fatalf("%v: frame %d %s is not ordered before frame %d %s",
							p, f, r.active[i%n], f+1, r.active[j%n])
					}
				}
			}
		}
	}
}

func TestHotReload(t *testing.T) {
	c := testConfig(t)
	c.HotReload = true
	r, env := newTestRenderer(t, c)
	st := testState()
	if err := r.Render(st); err != nil {
		t.Fatalf("Renderer.Render failed:\n%#v", err)
	}
	idle := env.gpu.IdleWaits()
	builds := r.mask.pb.builds()

	for i, line := range [3]string{"// 1st edit", "// 2nd edit", "// 3rd edit"} {
		editShader(env.shaders, "shadowmask.wgsl", line)
		before := env.gpu.IdleWaits()
		if err := r.Render(st); err != nil {
			t.Fatalf("Renderer.Render failed:\n%#v", err)
		}
		if n := env.gpu.IdleWaits() - before; n != 1 {
			t.Fatalf("reload %d: idle waits\nhave %d\nwant 1", i, n)
		}
		if s := r.mask.pb.state(); s != bindingActive {
			t.Fatalf("reload %d: binding state\nhave %v\nwant %v", i, s, bindingActive)
		}
		st := r.mask.pb.pipeline().(*nulldrv.Pipeline).State().(*driver.CompState)
		code := st.Func.Code.(*nulldrv.ShaderCode).Data()
		if !bytes.Contains(code, []byte(line)) {
			t.Fatalf("reload %d: pipeline does not use the latest source", i)
		}
	}
	if n := env.gpu.IdleWaits() - idle; n != 3 {
		t.Fatalf("Renderer.Render: idle waits after 3 reloads\nhave %d\nwant 3", n)
	}
	if n := r.mask.pb.builds() - builds; n != 3 {
		t.Fatalf("pipelineBinding.builds:\nhave %d\nwant 3", n)
	}

	// A broken edit keeps the current pipeline without
	// waiting for the device.
	pl := r.mask.pb.pipeline()
	editShader(env.shaders, "shadowmask.wgsl", badShader)
	before := env.gpu.IdleWaits()
	if n, err := r.Reload(); n != 0 || err != nil {
		t.Fatalf("Renderer.Reload:\nhave %d, %v\nwant 0, nil", n, err)
	}
	if n := env.gpu.IdleWaits() - before; n != 0 {
		t.Fatalf("Renderer.Reload: idle waits after compile failure\nhave %d\nwant 0", n)
	}
	if r.mask.pb.pipeline() != pl || r.mask.pb.state() != bindingActive {
		t.Fatal("Renderer.Reload: pipeline replaced after compile failure")
	}
	if err := r.Render(st); err != nil {
		t.Fatalf("Renderer.Render failed:\n%#v", err)
	}
}

func TestReloadBatch(t *testing.T) {
	r, env := newTestRenderer(t, testConfig(t))
	editShader(env.shaders, "predepth.wgsl", "// edit")
	editShader(env.shaders, "shadowmask.wgsl", "// edit")
	editShader(env.shaders, "taa.wgsl", "// edit")
	before := env.gpu.IdleWaits()
	n, err := r.Reload()
	if err != nil {
		t.Fatalf("Renderer.Reload failed:\n%#v", err)
	}
	if n != 3 {
		t.Fatalf("Renderer.Reload: rebuilt\nhave %d\nwant 3", n)
	}
	if n := env.gpu.IdleWaits() - before; n != 1 {
		t.Fatalf("Renderer.Reload: idle waits\nhave %d\nwant 1", n)
	}
	if n, _ := r.Reload(); n != 0 {
		t.Fatalf("Renderer.Reload: rebuilt without changes\nhave %d\nwant 0", n)
	}
}

func TestDebugMode(t *testing.T) {
	r, env := newTestRenderer(t, testConfig(t))
	st := testState()
	heap := func() *nulldrv.DescHeap { return r.fwd.table.Heap().(*nulldrv.DescHeap) }
	hasEdge := func(e Edge) bool { return slices.Contains(r.Edges(), e) }
	csmEdge := Edge{PassCSM, PassForward, driver.SFragmentShading}

	before := env.gpu.IdleWaits()
	for i := range 2 {
		r.SetDebugMode(DebugShadows)
		if !hasEdge(csmEdge) {
			t.Fatalf("Renderer.Edges: missing %v", csmEdge)
		}
		slot := r.Frame() % r.g.inFlight()
		env.gpu.ClearLog()
		if err := r.Render(st); err != nil {
			t.Fatalf("Renderer.Render failed:\n%#v", err)
		}
		checkFrame(t, r, env.gpu.Commits())
		if iv := heap().Image(slot, shader.FwdDebugNr, 0); iv != r.csm.mapView(0) {
			t.Fatalf("iteration %d: debug image\nhave %v\nwant %v", i, iv, r.csm.mapView(0))
		}

		r.SetDebugMode(DebugNone)
		if hasEdge(csmEdge) {
			t.Fatalf("Renderer.Edges: unexpected %v", csmEdge)
		}
		slot = r.Frame() % r.g.inFlight()
		if err := r.Render(st); err != nil {
			t.Fatalf("Renderer.Render failed:\n%#v", err)
		}
		if iv := heap().Image(slot, shader.FwdDebugNr, 0); iv != r.fwd.dummy.view {
			t.Fatalf("iteration %d: debug image not reset", i)
		}
	}
	if n := env.gpu.IdleWaits() - before; n != 0 {
		t.Fatalf("Renderer.SetDebugMode: idle waits\nhave %d\nwant 0", n)
	}

	rtgi, err := newTarget(driver.RGBA16f, driver.Dim3D{Width: 64, Height: 32}, 1, driver.UShaderSample)
	if err != nil {
		t.Fatalf("newTarget failed:\n%#v", err)
	}
	defer rtgi.free()
	iv := rtgi.view
	r.SetRTGIImage(iv)
	r.SetDebugMode(DebugRTGI)
	if err := r.Render(st); err != nil {
		t.Fatalf("Renderer.Render failed:\n%#v", err)
	}
	if r.fwd.debugView() != iv {
		t.Fatal("Renderer.SetRTGIImage: image not visualized")
	}
	r.SetRTGIImage(nil)
	if r.fwd.debugView() != r.fwd.dummy.view {
		t.Fatal("Renderer.SetRTGIImage: dummy image not used when unset")
	}
}

func TestSetShadowProducer(t *testing.T) {
	r, env := newTestRenderer(t, testConfig(t))
	st := testState()
	heap := func() *nulldrv.DescHeap { return r.fwd.table.Heap().(*nulldrv.DescHeap) }
	blocks := func() []string { return r.fwd.pb.srcs[0].Blocks() }

	if heap().Has(shader.FwdDenoiseNr) {
		t.Fatal("forward: denoising pattern bound for CascadeRaster")
	}
	for _, p := range [...]ShadowProducer{RayTraced, CascadeRaster, RayTraced} {
		before := env.gpu.IdleWaits()
		if err := r.SetShadowProducer(p); err != nil {
			t.Fatalf("Renderer.SetShadowProducer failed:\n%#v", err)
		}
		if n := env.gpu.IdleWaits() - before; n != 1 {
			t.Fatalf("Renderer.SetShadowProducer(%v): idle waits\nhave %d\nwant 1", p, n)
		}
		if r.ShadowProducer() != p {
			t.Fatalf("Renderer.ShadowProducer:\nhave %v\nwant %v", r.ShadowProducer(), p)
		}
		prod := r.fwd.producer
		if has, want := heap().Has(shader.FwdDenoiseNr), prod.DenoisingPattern() != nil; has != want {
			t.Fatalf("forward: denoise descriptor\nhave %t\nwant %t", has, want)
		}
		if b := blocks(); !slices.Equal(b, prod.ConditionalBlocks()) {
			t.Fatalf("forward: conditional blocks\nhave %v\nwant %v", b, prod.ConditionalBlocks())
		}
		fst := r.fwd.pb.pipeline().(*nulldrv.Pipeline).State().(*driver.GraphState)
		if fst.Desc != r.fwd.table.DescTable() {
			t.Fatal("forward: pipeline not rebuilt with the new layout")
		}

		slot := r.Frame() % r.g.inFlight()
		env.gpu.ClearLog()
		if err := r.Render(st); err != nil {
			t.Fatalf("Renderer.Render failed:\n%#v", err)
		}
		commits := env.gpu.Commits()
		checkFrame(t, r, commits)
		if mask := heap().Image(slot, shader.FwdMaskNr, 0); mask != prod.Output(r.Frame()-1) {
			t.Fatal("forward: shadow mask not bound to the producer's output")
		}
		var rt bool
		for _, c := range commits {
			if c.Queue == driver.QRayTracing {
				rt = true
			}
		}
		if rt != (p == RayTraced) {
			t.Fatalf("Renderer.Render: ray tracing commit with %v", p)
		}
	}

	before := env.gpu.IdleWaits()
	if err := r.SetShadowProducer(RayTraced); err != nil {
		t.Fatalf("Renderer.SetShadowProducer failed:\n%#v", err)
	}
	if n := env.gpu.IdleWaits() - before; n != 0 {
		t.Fatalf("Renderer.SetShadowProducer: idle waits without change\nhave %d\nwant 0", n)
	}
}

func TestSetShadowProducerFailure(t *testing.T) {
	r, env := newTestRenderer(t, testConfig(t))
	st := testState()
	if err := r.Render(st); err != nil {
		t.Fatalf("Renderer.Render failed:\n%#v", err)
	}
	// Only the ray-traced variant fails to compile.
	f := env.shaders["forward.wgsl"]
	good := f.Data
	f.Data = bytes.Replace(good, []byte("#if RAYTRACED_SHADOWS\n"), []byte("#if RAYTRACED_SHADOWS\n"+badShader+"\n"), 1)
	f.ModTime = f.ModTime.Add(time.Second)

	table, pl, prod := r.fwd.table, r.fwd.pb.pipeline(), r.fwd.producer
	heap := table.Heap().(*nulldrv.DescHeap)
	builds, live := r.fwd.pb.builds(), env.gpu.Live()
	if err := r.SetShadowProducer(RayTraced); err == nil {
		t.Fatal("Renderer.SetShadowProducer: expected compile error")
	}
	if r.ShadowProducer() != CascadeRaster || r.fwd.producer != prod {
		t.Fatal("Renderer.SetShadowProducer: producer changed on failure")
	}
	if r.fwd.table != table || r.fwd.pb.pipeline() != pl || r.fwd.pb.builds() != builds {
		t.Fatal("Renderer.SetShadowProducer: forward pass changed on failure")
	}
	if b := r.fwd.pb.srcs[0].Blocks(); len(b) != 0 {
		t.Fatalf("forward: conditional blocks after failure\nhave %v\nwant []", b)
	}
	if s := r.fwd.pb.state(); s != bindingActive {
		t.Fatalf("forward: binding state\nhave %v\nwant %v", s, bindingActive)
	}
	if n := env.gpu.Live(); n != live {
		t.Fatalf("Renderer.SetShadowProducer: live objects after failure\nhave %d\nwant %d", n, live)
	}
	if pl.(*nulldrv.Pipeline).Destroyed() || heap.Destroyed() {
		t.Fatal("Renderer.SetShadowProducer: current objects destroyed on failure")
	}
	env.gpu.ClearLog()
	if err := r.Render(st); err != nil {
		t.Fatalf("Renderer.Render failed:\n%#v", err)
	}
	checkFrame(t, r, env.gpu.Commits())

	f.Data = good
	f.ModTime = f.ModTime.Add(time.Second)
	if err := r.SetShadowProducer(RayTraced); err != nil {
		t.Fatalf("Renderer.SetShadowProducer failed:\n%#v", err)
	}
	if b := r.fwd.pb.srcs[0].Blocks(); !slices.Equal(b, r.rt.ConditionalBlocks()) {
		t.Fatalf("forward: conditional blocks\nhave %v\nwant %v", b, r.rt.ConditionalBlocks())
	}
	if !heap.Destroyed() {
		t.Fatal("Renderer.SetShadowProducer: previous table not freed")
	}
	env.gpu.ClearLog()
	if err := r.Render(st); err != nil {
		t.Fatalf("Renderer.Render failed:\n%#v", err)
	}
	checkFrame(t, r, env.gpu.Commits())
}

func TestNoRayTracing(t *testing.T) {
	withoutRayTracing(t)
	c := testConfig(t)
	c.ShadowProducer = RayTraced
	old := cfg
	Configure(&c)
	_, err := NewRenderer(&RendererParam{Scene: &testScene{}, Shaders: testShaders(t), Compiler: testCompiler})
	Configure(&old)
	if !errors.Is(err, driver.ErrNotSupported) {
		t.Fatalf("NewRenderer:\nhave %v\nwant %v", err, driver.ErrNotSupported)
	}

	r, _ := newTestRenderer(t, testConfig(t))
	if r.g.reg.has(PassRayTraced) {
		t.Fatal("NewRenderer: ray-traced pass registered without support")
	}
	if err := r.SetShadowProducer(RayTraced); !errors.Is(err, driver.ErrNotSupported) {
		t.Fatalf("Renderer.SetShadowProducer:\nhave %v\nwant %v", err, driver.ErrNotSupported)
	}
	if r.ShadowProducer() != CascadeRaster {
		t.Fatal("Renderer.SetShadowProducer: producer changed on failure")
	}
}

func TestShadowScreenshot(t *testing.T) {
	c := testConfig(t)
	c.ShadowProducer = RayTraced
	r, _ := newTestRenderer(t, c)
	st := testState()
	st.ShadowScreenshot = true
	if err := r.Render(st); err != nil {
		t.Fatalf("Renderer.Render failed:\n%#v", err)
	}
	if st.ShadowScreenshot {
		t.Fatal("Renderer.Render: screenshot request not cleared")
	}
	if !r.rt.shot.awaiting {
		t.Fatal("Renderer.Render: settled capture not awaited")
	}
	// Frames in flight must complete for the settled
	// capture to be written.
	for range SettleFrames + c.FramesInFlight {
		if err := r.Render(st); err != nil {
			t.Fatalf("Renderer.Render failed:\n%#v", err)
		}
	}
	if r.rt.shot.awaiting {
		t.Fatal("Renderer.Render: still awaiting after SettleFrames")
	}
	for _, shot := range [...]pendingShot{{shotReference, 0}, {shotSettled, SettleFrames}} {
		f, err := os.Open(shotPath(c.ScreenshotDir, shot))
		if err != nil {
			t.Fatalf("%v capture:\n%#v", shot.kind, err)
		}
		img, err := tiff.Decode(f)
		f.Close()
		if err != nil {
			t.Fatalf("tiff.Decode failed:\n%#v", err)
		}
		if b := img.Bounds(); b.Dx() != c.Width || b.Dy() != c.Height {
			t.Fatalf("%v capture: bounds\nhave %v\nwant %dx%d", shot.kind, b, c.Width, c.Height)
		}
	}
	ents, _ := os.ReadDir(c.ScreenshotDir)
	if len(ents) != 2 {
		t.Fatalf("screenshot files:\nhave %d\nwant 2", len(ents))
	}
}

func TestMissingTLAS(t *testing.T) {
	c := testConfig(t)
	c.ShadowProducer = RayTraced
	r, env := newTestRenderer(t, c)
	st := testState()
	if err := r.Render(st); err != nil {
		t.Fatalf("Renderer.Render failed:\n%#v", err)
	}
	tlas := env.scene.tlas
	env.scene.tlas = nil
	env.gpu.ClearLog()
	frame := r.Frame()
	if err := r.Render(st); err == nil {
		t.Fatal("Renderer.Render: expected error for nil TLAS")
	}
	failed := env.gpu.Commits()
	// Only the pre-depth pass precedes the ray-traced one.
	if len(failed) != 1 {
		t.Fatalf("Renderer.Render: commits before failure\nhave %d\nwant 1", len(failed))
	}
	if r.Frame() != frame {
		t.Fatalf("Renderer.Frame: after failure\nhave %d\nwant %d", r.Frame(), frame)
	}
	// Semaphores of the abandoned frame are not reused.
	for _, c := range failed {
		for _, sem := range c.Signal {
			if !sem.(*nulldrv.Semaphore).Destroyed() {
				t.Fatal("Renderer.Render: semaphore of abandoned frame not destroyed")
			}
		}
	}

	env.scene.tlas = tlas
	env.gpu.ClearLog()
	for range 2 {
		if err := r.Render(st); err != nil {
			t.Fatalf("Renderer.Render failed:\n%#v", err)
		}
	}
	commits := env.gpu.Commits()
	checkSemaphores(t, commits)
	checkFrame(t, r, commits[len(r.active):])
	if len(commits[0].Wait) != 0 {
		t.Fatal("Renderer.Render: first frame after failure waits on an abandoned frame")
	}
}

func TestResize(t *testing.T) {
	r, env := newTestRenderer(t, testConfig(t))
	st := testState()
	if err := r.Render(st); err != nil {
		t.Fatalf("Renderer.Render failed:\n%#v", err)
	}
	before := env.gpu.IdleWaits()
	if err := r.Resize(128, 96); err != nil {
		t.Fatalf("Renderer.Resize failed:\n%#v", err)
	}
	if n := env.gpu.IdleWaits() - before; n != 1 {
		t.Fatalf("Renderer.Resize: idle waits\nhave %d\nwant 1", n)
	}
	size := driver.Dim3D{Width: 128, Height: 96}
	for _, img := range [...]driver.Image{r.Target(), r.Forward(0), r.Forward(1), r.Velocity()} {
		if s := img.(*nulldrv.Image).Size(); s != size {
			t.Fatalf("Renderer.Resize: image size\nhave %v\nwant %v", s, size)
		}
	}
	env.gpu.ClearLog()
	if err := r.Render(st); err != nil {
		t.Fatalf("Renderer.Render failed:\n%#v", err)
	}
	commits := env.gpu.Commits()
	checkFrame(t, r, commits)
	for _, c := range commits[2].Cmds[0] {
		if c.Op == nulldrv.OpDispatch && c.Count != [3]int{8, 6, 1} {
			t.Fatalf("shadow mask dispatch:\nhave %v\nwant [8 6 1]", c.Count)
		}
	}
	if err := r.Resize(0, 96); err == nil {
		t.Fatal("Renderer.Resize: expected error for non-positive size")
	}
}

func TestRendererFree(t *testing.T) {
	gpu := nullGPU(t)
	c := testConfig(t)
	c.ShadowProducer = RayTraced
	old := cfg
	Configure(&c)
	defer Configure(&old)
	scn := &testScene{tlas: gpu.NewAccelStruct()}
	defer scn.tlas.Destroy()

	live := gpu.Live()
	r, err := NewRenderer(&RendererParam{Scene: scn, Shaders: testShaders(t), Compiler: testCompiler})
	if err != nil {
		t.Fatalf("NewRenderer failed:\n%#v", err)
	}
	st := testState()
	for range 3 {
		if err := r.Render(st); err != nil {
			t.Fatalf("Renderer.Render failed:\n%#v", err)
		}
	}
	if _, err := r.RenderLoading(); err != nil {
		t.Fatalf("Renderer.RenderLoading failed:\n%#v", err)
	}
	if err := r.SetShadowProducer(CascadeRaster); err != nil {
		t.Fatalf("Renderer.SetShadowProducer failed:\n%#v", err)
	}
	if err := r.Render(st); err != nil {
		t.Fatalf("Renderer.Render failed:\n%#v", err)
	}
	if gpu.Live() <= live {
		t.Fatal("NewRenderer: no objects created")
	}
	if err := r.Free(); err != nil {
		t.Fatalf("Renderer.Free failed:\n%#v", err)
	}
	if n := gpu.Live(); n != live {
		t.Fatalf("Renderer.Free: live objects\nhave %d\nwant %d", n, live)
	}
}
