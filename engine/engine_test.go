// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gviegas/framegraph/driver"
	"github.com/gviegas/framegraph/driver/nulldrv"
	"github.com/gviegas/framegraph/engine/internal/ctxt"
	"github.com/gviegas/framegraph/engine/internal/shader"
)

func TestCtxt(t *testing.T) {
	drv := ctxt.Driver()
	if drv == nil {
		t.Fatal("ctxt.Driver: unexpected nil driver.Driver")
	}
	gpu := ctxt.GPU()
	if gpu == nil {
		t.Fatal("ctxt.GPU: unexpected nil driver.GPU")
	}
	if u, err := drv.Open(); u != gpu || err != nil {
		t.Fatalf("drv.Open: ctxt mismatch\nhave %v, %v\nwant %v, nil", u, err, gpu)
	}
}

func TestConfig(t *testing.T) {
	c := DefaultConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("DefaultConfig: Validate failed:\n%#v", err)
	}
	if c.MaskCount != MinMaskCount || c.FramesInFlight != 2 || !c.TAA {
		t.Fatalf("DefaultConfig: unexpected defaults\n%+v", c)
	}
	if c.CascadeSizes != [4]int{2048, 2048, 1024, 1024} {
		t.Fatalf("DefaultConfig.CascadeSizes:\nhave %v\nwant [2048 2048 1024 1024]", c.CascadeSizes)
	}
	for _, x := range [...]func(*Config){
		func(c *Config) { c.MaskCount = 1 },
		func(c *Config) { c.FramesInFlight = 0 },
		func(c *Config) { c.FramesInFlight = MaxFrame + 1 },
		func(c *Config) { c.Width = 0 },
		func(c *Config) { c.ShadowProducer = -1 },
		func(c *Config) { c.CascadeSizes[3] = 0 },
	} {
		c := DefaultConfig()
		x(&c)
		if err := c.Validate(); err == nil {
			t.Fatalf("Config.Validate: expected error for\n%+v", c)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	write := func(s string) string {
		path := filepath.Join(t.TempDir(), "engine.toml")
		if err := os.WriteFile(path, []byte(s), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	c, err := LoadConfig(write(`
shadow_producer = "raytraced"
mask_count = 3
cascade_sizes = [512, 512, 256, 256]
taa = false
`))
	if err != nil {
		t.Fatalf("LoadConfig failed:\n%#v", err)
	}
	want := DefaultConfig()
	want.ShadowProducer = RayTraced
	want.MaskCount = 3
	want.CascadeSizes = [4]int{512, 512, 256, 256}
	want.TAA = false
	if c != want {
		t.Fatalf("LoadConfig:\nhave %+v\nwant %+v", c, want)
	}

	if _, err := LoadConfig(write(`shadows = "cascade"`)); err == nil || !strings.Contains(err.Error(), "shadows") {
		t.Fatalf("LoadConfig: expected unknown key error\nhave %v", err)
	}
	if _, err := LoadConfig(write(`shadow_producer = "voxel"`)); err == nil {
		t.Fatal("LoadConfig: expected error for undefined producer")
	}
	if _, err := LoadConfig(write(`mask_count = 1`)); err == nil {
		t.Fatal("LoadConfig: expected error for mask count")
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "none.toml")); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("LoadConfig:\nhave %v\nwant %v", err, fs.ErrNotExist)
	}
}

// nullGPU returns the null driver's GPU.
func nullGPU(t *testing.T) *nulldrv.GPU {
	t.Helper()
	if err := ctxt.Load("null"); err != nil {
		t.Fatalf("ctxt.Load failed:\n%#v", err)
	}
	gpu, ok := ctxt.GPU().(*nulldrv.GPU)
	if !ok {
		t.Fatalf("ctxt.GPU:\nhave %T\nwant *nulldrv.GPU", ctxt.GPU())
	}
	return gpu
}

// Sources containing this marker fail to compile.
const badShader = "@@"

// testCompiler produces code that is the preprocessed
// text itself.
var testCompiler = shader.CompilerFunc(func(name string, text []byte) ([]byte, error) {
	if bytes.Contains(text, []byte(badShader)) {
		return nil, errors.New(name + ": syntax error")
	}
	return append([]byte(name+"\n"), text...), nil
})

var testModTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// testShaders copies the built-in shaders into a MapFS,
// so that tests can modify them.
func testShaders(t *testing.T) fstest.MapFS {
	t.Helper()
	fsys := fstest.MapFS{}
	err := fs.WalkDir(shader.Builtin(), ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := fs.ReadFile(shader.Builtin(), path)
		if err != nil {
			return err
		}
		fsys[path] = &fstest.MapFile{Data: data, ModTime: testModTime}
		return nil
	})
	if err != nil {
		t.Fatalf("fs.WalkDir failed:\n%#v", err)
	}
	return fsys
}

// editShader appends a line to a shader and advances its
// modification time.
func editShader(fsys fstest.MapFS, name, line string) {
	f := fsys[name]
	f.Data = append(bytes.Clone(f.Data), []byte(line+"\n")...)
	f.ModTime = f.ModTime.Add(time.Second)
}

type testScene struct {
	tlas     driver.AccelStruct
	textures []driver.ImageView
	draws    int
}

func (s *testScene) Draw(cb driver.CmdBuffer) {
	s.draws++
	cb.Draw(36, 1, 0, 0)
}

func (s *testScene) Textures() []driver.ImageView { return s.textures }
func (s *testScene) TLAS() driver.AccelStruct     { return s.tlas }

type testCamera struct {
	pos, fwd mgl32.Vec3
}

func newTestCamera() *testCamera {
	return &testCamera{pos: mgl32.Vec3{0, 2, 10}, fwd: mgl32.Vec3{0, 0, -1}}
}

func (c *testCamera) View() mgl32.Mat4 {
	return mgl32.LookAtV(c.pos, c.pos.Add(c.fwd), mgl32.Vec3{0, 1, 0})
}

func (c *testCamera) PrevView() mgl32.Mat4 { return c.View() }

func (c *testCamera) Projection() mgl32.Mat4 {
	return mgl32.Perspective(c.FOV(), c.Aspect(), c.Near(), c.Far())
}

func (c *testCamera) Near() float32           { return 0.1 }
func (c *testCamera) Far() float32            { return 100 }
func (c *testCamera) Position() mgl32.Vec3    { return c.pos }
func (c *testCamera) Orientation() mgl32.Vec3 { return c.fwd }
func (c *testCamera) FOV() float32            { return mgl32.DegToRad(60) }
func (c *testCamera) Aspect() float32         { return 2 }

func testConfig(t *testing.T) Config {
	c := DefaultConfig()
	c.Driver = "null"
	c.Width = 64
	c.Height = 32
	c.CascadeSizes = [4]int{64, 64, 32, 32}
	c.ScreenshotDir = t.TempDir()
	return c
}

func testState() *FrameState {
	return &FrameState{Camera: newTestCamera(), Sun: DefaultSun(), TAA: true}
}

type testEnv struct {
	gpu     *nulldrv.GPU
	scene   *testScene
	shaders fstest.MapFS
}

// newTestRenderer creates a renderer that is freed when
// the test finishes.
func newTestRenderer(t *testing.T, c Config) (*Renderer, *testEnv) {
	t.Helper()
	gpu := nullGPU(t)
	env := &testEnv{
		gpu:     gpu,
		scene:   &testScene{tlas: gpu.NewAccelStruct()},
		shaders: testShaders(t),
	}
	old := cfg
	Configure(&c)
	t.Cleanup(func() { Configure(&old) })
	r, err := NewRenderer(&RendererParam{
		Scene:    env.scene,
		Shaders:  env.shaders,
		Compiler: testCompiler,
	})
	if err != nil {
		t.Fatalf("NewRenderer failed:\n%#v", err)
	}
	t.Cleanup(func() {
		if err := r.Free(); err != nil {
			t.Errorf("Renderer.Free failed:\n%#v", err)
		}
		env.scene.tlas.Destroy()
	})
	return r, env
}

// withoutRayTracing makes the null driver report no ray
// tracing support until the test finishes.
func withoutRayTracing(t *testing.T) {
	gpu := nullGPU(t)
	gpu.SetFeatures(driver.Features{})
	ctxt.Refresh()
	t.Cleanup(func() {
		gpu.SetFeatures(driver.Features{RayTracing: true})
		ctxt.Refresh()
	})
}
