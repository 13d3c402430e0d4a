package viewer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/flywave/go3d/vec3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flywave/meshview/internal/fbx/fbxtest"
	"github.com/flywave/meshview/internal/gltfio"
	"github.com/flywave/meshview/internal/loader"
	"github.com/flywave/meshview/internal/logging"
	"github.com/flywave/meshview/internal/scene"
)

type notices struct {
	messages []string
}

func (n *notices) Notify(msg string) { n.messages = append(n.messages, msg) }

type offer struct {
	handle, name, mime string
	data               []byte
}

type downloads struct {
	offers  []offer
	revoked []string
}

func (d *downloads) Offer(name, mimeType string, data []byte) string {
	h := fmt.Sprintf("blob-%d", len(d.offers))
	d.offers = append(d.offers, offer{handle: h, name: name, mime: mimeType, data: data})
	return h
}

func (d *downloads) Revoke(handle string) { d.revoked = append(d.revoked, handle) }

// manualScheduler runs scheduled callbacks only when flushed.
type manualScheduler struct {
	delays []time.Duration
	fns    []func()
}

func (s *manualScheduler) After(d time.Duration, fn func()) {
	s.delays = append(s.delays, d)
	s.fns = append(s.fns, fn)
}

func (s *manualScheduler) flush() {
	fns := s.fns
	s.fns = nil
	for _, fn := range fns {
		fn()
	}
}

type renders struct {
	frames        int
	width, height int
}

func (r *renders) Render(*scene.Scene, *scene.PerspectiveCamera) { r.frames++ }
func (r *renders) SetSize(w, h int)                              { r.width, r.height = w, h }

type fixture struct {
	c         *Controller
	notices   *notices
	downloads *downloads
	scheduler *manualScheduler
	renderer  *renders
	statuses  []string
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		notices:   &notices{},
		downloads: &downloads{},
		scheduler: &manualScheduler{},
		renderer:  &renders{},
	}
	f.c = New(Options{
		Notifier:   f.notices,
		Downloader: f.downloads,
		Scheduler:  f.scheduler,
		Renderer:   f.renderer,
		Logger:     logging.NewTestLogger(t),
	})
	f.c.Status().SetListener(func(visible bool, text string) {
		if visible {
			f.statuses = append(f.statuses, "show:"+text)
		} else {
			f.statuses = append(f.statuses, "hide")
		}
	})
	return f
}

func (f *fixture) load(t *testing.T, name string, data []byte) error {
	t.Helper()
	return f.c.LoadModelFromFile(context.Background(), loader.NewMemFile(name, data))
}

type failingFile struct{ name string }

func (f failingFile) Name() string { return f.name }
func (f failingFile) Open(context.Context) (io.ReadCloser, error) {
	return nil, errors.New("permission denied")
}

func boxOBJ(name string, half float32) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "o %s\n", name)
	for _, z := range []float32{-half, half} {
		fmt.Fprintf(&b, "v %g %g %g\nv %g %g %g\nv %g %g %g\nv %g %g %g\n",
			-half, -half, z, half, -half, z, half, half, z, -half, half, z)
	}
	b.WriteString("f 1 3 2\nf 1 4 3\nf 5 6 7\nf 5 7 8\nf 1 2 6\nf 1 6 5\nf 4 8 7\nf 4 7 3\nf 1 5 8\nf 1 8 4\nf 2 3 7\nf 2 7 6\n")
	return []byte(b.String())
}

const twoMaterialMTL = `newmtl red
Kd 1 0 0
newmtl green
Kd 0 1 0
`

const twoMaterialOBJ = `o Panel
v 0 0 0
v 4 0 0
v 4 1 0
v 0 1 0
usemtl red
f 1 2 3
usemtl green
f 1 3 4
`

func triangleGLB(t *testing.T, name string) []byte {
	geo := scene.NewGeometry([]vec3.T{{0, 0, 0}, {3, 0, 0}, {0, 1, 0}})
	data, err := gltfio.EncodeGLB(scene.NewMesh(name, geo, scene.NewStandardMaterial("m")))
	require.NoError(t, err)
	return data
}

// animatedGLTF returns an embedded glTF triangle carrying the given number
// of animations.
func animatedGLTF(clips int) []byte {
	buf := make([]byte, 0, 44)
	for _, f := range []float32{0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 2} {
		bits := math.Float32bits(f)
		buf = append(buf, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
	}
	var anims []string
	for i := 0; i < clips; i++ {
		anims = append(anims, fmt.Sprintf(`{"name": "clip%d", "channels": [{"sampler": 0, "target": {"node": 0, "path": "translation"}}], "samplers": [{"input": 1, "output": 2}]}`, i))
	}
	return []byte(`{
  "asset": {"version": "2.0"},
  "scenes": [{"nodes": [0]}],
  "nodes": [{"name": "tri", "mesh": 0}],
  "meshes": [{"primitives": [{"attributes": {"POSITION": 0}}]}],
  "buffers": [{"byteLength": 44, "uri": "data:application/octet-stream;base64,` + base64.StdEncoding.EncodeToString(buf) + `"}],
  "bufferViews": [{"buffer": 0, "byteLength": 36}, {"buffer": 0, "byteOffset": 36, "byteLength": 8}],
  "accessors": [
    {"bufferView": 0, "componentType": 5126, "count": 3, "type": "VEC3", "max": [1,1,0], "min": [0,0,0]},
    {"bufferView": 1, "componentType": 5126, "count": 2, "type": "SCALAR", "max": [2], "min": [0]},
    {"bufferView": 0, "componentType": 5126, "count": 2, "type": "VEC3"}
  ],
  "animations": [` + strings.Join(anims, ",") + `]
}`)
}

func assertNormalized(t *testing.T, c *Controller) {
	t.Helper()
	model := c.State().Model
	require.NotNil(t, model)
	require.Len(t, c.Scene().Root.Children, 1)
	assert.Same(t, model, c.Scene().Root.Children[0])

	box := scene.ComputeBox(model)
	size := scene.BoxSize(&box)
	assert.InDelta(t, 2, math.Max(size[0], math.Max(size[1], size[2])), 1e-4)
	center := scene.BoxCenter(&box)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, 0, center[i], 1e-4)
	}
}

func TestLoadCubeWithoutMaterials(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.load(t, "cube.obj", boxOBJ("Cube", 1)))

	state := f.c.State()
	model := state.Model
	assert.Equal(t, vec3.T{1, 1, 1}, model.Scale, "2x2x2 cube keeps scale 1")
	assertNormalized(t, f.c)

	mesh := model.Children[0]
	assert.True(t, mesh.CastShadow)
	assert.True(t, mesh.ReceiveShadow)
	require.Len(t, mesh.Materials, 1)
	m := mesh.Materials[0]
	assert.Equal(t, scene.MaterialStandard, m.Kind)
	assert.Equal(t, "#8888ff", m.ColorHex())
	assert.Equal(t, float32(0.8), m.Roughness)
	assert.Equal(t, float32(0.2), m.Metalness)

	require.NotNil(t, state.Panels)
	folders := state.Panels.Folders()
	require.Len(t, folders, 1)
	assert.Equal(t, "Cube", folders[0].Name)
	assert.True(t, folders[0].Open)
	assert.Equal(t, "颜色", folders[0].Controllers[0].Label)
	assert.Equal(t, "#8888ff", folders[0].Controllers[0].Value)

	assert.Nil(t, state.Mixer)
	assert.False(t, f.c.Status().Visible())
	assert.Equal(t, []string{"show:正在加载 cube.obj...", "hide"}, f.statuses)
	assert.Empty(t, f.notices.messages)

	// 相机按缩放后的尺寸放置并对准模型
	assert.InDelta(t, 2, f.c.Camera().Position[1], 1e-5)
	assert.InDelta(t, 3, f.c.Camera().Position[2], 1e-5)
	assert.Equal(t, model.Position, f.c.Controls().Target)
	assert.Equal(t, model.Position, f.c.Camera().Target)
}

func TestLoadEveryFormatNormalizes(t *testing.T) {
	cases := []struct {
		name string
		data []byte
	}{
		{"big.obj", boxOBJ("Big", 50)},
		{"tri.glb", triangleGLB(t, "tri")},
		{"anim.gltf", animatedGLTF(1)},
		{"figure.fbx", fbxtest.Triangle(7500, true)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, f.load(t, tc.name, tc.data))
			assertNormalized(t, f.c)
			assert.False(t, f.c.Status().Visible())
			assert.Empty(t, f.notices.messages)
		})
	}
}

func TestLoadDegenerateModelKeepsScale(t *testing.T) {
	f := newFixture(t)
	obj := "v 1 1 1\nv 1 1 1\nv 1 1 1\nf 1 2 3\n"
	require.NoError(t, f.load(t, "point.obj", []byte(obj)))
	model := f.c.State().Model
	assert.Equal(t, vec3.T{1, 1, 1}, model.Scale)
	assert.Equal(t, vec3.T{-1, -1, -1}, model.Position)
}

func TestSecondLoadLeavesNoResidue(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.load(t, "figure.fbx", fbxtest.Triangle(7400, false)))
	first := f.c.State()
	require.NotNil(t, first.Mixer)
	firstMeshes := first.Model.MeshCount()

	var geos []*scene.Geometry
	var mats []*scene.Material
	first.Model.Traverse(func(n *scene.Node) {
		if n.IsMesh() {
			geos = append(geos, n.Geometry)
			mats = append(mats, n.Materials...)
		}
	})

	stats := f.c.ClearScene()
	assert.Equal(t, DisposeStats{Meshes: firstMeshes, Geometries: firstMeshes, Materials: firstMeshes}, stats)
	for _, g := range geos {
		assert.True(t, g.Disposed())
	}
	for _, m := range mats {
		assert.True(t, m.Disposed())
	}
	assert.True(t, first.Panels.Destroyed())
	assert.Empty(t, f.c.Scene().Root.Children)

	require.NoError(t, f.load(t, "cube.obj", boxOBJ("Cube", 1)))
	second := f.c.State()
	assert.NotSame(t, first.Model, second.Model)
	assert.Nil(t, second.Mixer)
	require.Len(t, f.c.Scene().Root.Children, 1)
	assert.NotSame(t, first.Panels, second.Panels)
	assert.Len(t, second.Panels.Folders(), 1)
	assert.Equal(t, 0, f.c.Cache().Len())
}

func TestReplacingModelDisposesPrevious(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.load(t, "a.obj", boxOBJ("A", 1)))
	old := f.c.State().Model
	oldGeo := old.Children[0].Geometry
	oldMat := old.Children[0].Materials[0]

	require.NoError(t, f.load(t, "b.glb", triangleGLB(t, "b")))
	assert.True(t, oldGeo.Disposed())
	assert.True(t, oldMat.Disposed())
	assert.False(t, f.c.Scene().Contains(old))
	assert.Equal(t, 1, len(f.c.Scene().Root.Children))
}

func TestMTLThenOBJConsumesPending(t *testing.T) {
	f := newFixture(t)
	rev := f.c.Scene().Revision

	require.NoError(t, f.load(t, "panel.mtl", []byte(twoMaterialMTL)))
	assert.NotNil(t, f.c.State().Pending)
	assert.Nil(t, f.c.State().Model)
	assert.Equal(t, rev, f.c.Scene().Revision, "mtl upload leaves the scene alone")
	assert.Equal(t, []string{NoticeNeedOBJ}, f.notices.messages)
	assert.False(t, f.c.Status().Visible())

	require.NoError(t, f.load(t, "panel.obj", []byte(twoMaterialOBJ)))
	state := f.c.State()
	assert.Nil(t, state.Pending)
	mesh := state.Model.Children[0]
	require.Len(t, mesh.Materials, 2)
	assert.Equal(t, "#ff0000", mesh.Materials[0].ColorHex())
	assert.Equal(t, "#00ff00", mesh.Materials[1].ColorHex())

	folders := state.Panels.Folders()
	require.Len(t, folders, 2)
	assert.Equal(t, "Panel-0", folders[0].Name)
	assert.Equal(t, "Panel-1", folders[1].Name)

	// 再次上传 OBJ 时不再使用已消耗的 MTL
	require.NoError(t, f.load(t, "panel.obj", []byte(twoMaterialOBJ)))
	mesh = f.c.State().Model.Children[0]
	require.Len(t, mesh.Materials, 1)
	assert.Equal(t, "#8888ff", mesh.Materials[0].ColorHex())
}

func TestPendingMTLDiscardedByOtherFormat(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.load(t, "panel.mtl", []byte(twoMaterialMTL)))
	require.NoError(t, f.load(t, "tri.glb", triangleGLB(t, "tri")))
	assert.Nil(t, f.c.State().Pending)

	require.NoError(t, f.load(t, "panel.obj", []byte(twoMaterialOBJ)))
	mesh := f.c.State().Model.Children[0]
	require.Len(t, mesh.Materials, 1, "stale mtl must not apply")
	assert.Equal(t, "#8888ff", mesh.Materials[0].ColorHex())
}

func TestMixerPolicy(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.load(t, "still.gltf", animatedGLTF(0)))
	assert.Nil(t, f.c.State().Mixer)

	require.NoError(t, f.load(t, "moving.gltf", animatedGLTF(3)))
	mixer := f.c.State().Mixer
	require.NotNil(t, mixer)
	require.Len(t, mixer.Actions(), 1)
	running := mixer.Running()
	require.Len(t, running, 1)
	assert.Equal(t, "clip0", running[0].Clip().Name)
	assert.Same(t, f.c.State().Model, mixer.Root())

	f.c.Tick()
	f.c.Tick()
	assert.InDelta(t, 2.0/60, running[0].Time(), 1e-9)
	assert.Equal(t, 2, f.renderer.frames)

	require.NoError(t, f.load(t, "cube.obj", boxOBJ("Cube", 1)))
	assert.Nil(t, f.c.State().Mixer)
	assert.False(t, running[0].IsRunning(), "old mixer stopped")
}

func TestFBXFigureWithClip(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.load(t, "figure.fbx", fbxtest.Triangle(7400, true)))
	mixer := f.c.State().Mixer
	require.NotNil(t, mixer)
	running := mixer.Running()
	require.Len(t, running, 1)
	assert.InDelta(t, 2.0, running[0].Clip().Duration, 1e-9)
	assert.False(t, f.c.Status().Visible())
}

func TestUnsupportedFormat(t *testing.T) {
	f := newFixture(t)
	err := f.load(t, "notes.txt", []byte("hello"))
	assert.ErrorIs(t, err, loader.ErrUnsupportedFormat)
	assert.Equal(t, []string{NoticeUnsupported}, f.notices.messages)
	assert.False(t, f.c.Status().Visible())
	assert.Nil(t, f.c.State().Model)
}

func TestParseFailures(t *testing.T) {
	cases := []struct {
		name   string
		data   []byte
		prefix string
	}{
		{"broken.glb", []byte("glTF\x02\x00\x00\x00garbage"), "GLTF加载错误: "},
		{"broken.gltf", []byte("{not json"), "GLTF加载错误: "},
		{"broken.fbx", []byte("; FBX 7.4.0 project file"), "FBX解析错误: "},
		{"broken.obj", []byte("v 0 0 0\nf 1 2 3\n"), "模型加载失败: "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			rev := f.c.Scene().Revision
			err := f.load(t, tc.name, tc.data)
			require.Error(t, err)

			var le *LoadError
			require.ErrorAs(t, err, &le)
			require.Len(t, f.notices.messages, 1)
			assert.True(t, strings.HasPrefix(f.notices.messages[0], tc.prefix), f.notices.messages[0])
			assert.False(t, f.c.Status().Visible())
			assert.Nil(t, f.c.State().Model)
			assert.Empty(t, f.c.Scene().Root.Children)
			assert.Equal(t, rev, f.c.Scene().Revision)
		})
	}
}

// malformedGLTF embeds one triangle buffer and takes the accessors, buffer
// views and material section from the caller.
func malformedGLTF(accessor, views, primitive, extra string) []byte {
	buf := make([]byte, 0, 36)
	for _, f := range []float32{0, 0, 0, 1, 0, 0, 0, 1, 0} {
		bits := math.Float32bits(f)
		buf = append(buf, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
	}
	return []byte(`{
  "asset": {"version": "2.0"},
  "scenes": [{"nodes": [0]}],
  "nodes": [{"name": "tri", "mesh": 0}],
  "meshes": [{"primitives": [{"attributes": {"POSITION": 0}` + primitive + `}]}],
  "buffers": [{"byteLength": 36, "uri": "data:application/octet-stream;base64,` + base64.StdEncoding.EncodeToString(buf) + `"}],
  "bufferViews": ` + views + `,
  "accessors": [` + accessor + `]` + extra + `
}`)
}

func TestMalformedGLTFIsReported(t *testing.T) {
	const (
		okAccessor = `{"bufferView": 0, "componentType": 5126, "count": 3, "type": "VEC3"}`
		views      = `[{"buffer": 0, "byteLength": 36}, {"buffer": 7, "byteLength": 4}]`
		texture    = `,
  "materials": [{"pbrMetallicRoughness": {"baseColorTexture": {"index": 0}}}],
  "textures": [{"source": 0}],
  "images": [{"bufferView": 1, "mimeType": "image/png"}]`
	)
	cases := []struct {
		name string
		data []byte
	}{
		{"image-buffer.gltf", malformedGLTF(okAccessor, views, `, "material": 0`, texture)},
		{"accessor-view.gltf", malformedGLTF(`{"bufferView": 5, "componentType": 5126, "count": 3, "type": "VEC3"}`, views, "", "")},
		{"accessor-buffer.gltf", malformedGLTF(`{"bufferView": 1, "componentType": 5126, "count": 3, "type": "VEC3"}`, views, "", "")},
		{"huge-count.gltf", malformedGLTF(`{"bufferView": 0, "componentType": 5126, "count": 4000000000, "type": "VEC3"}`, views, "", "")},
		{"huge-count-no-view.gltf", malformedGLTF(`{"componentType": 5126, "count": 4000000000, "type": "VEC3"}`, views, "", "")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			err := f.load(t, tc.name, tc.data)
			require.Error(t, err)
			assert.False(t, f.c.Status().Visible())
			require.Len(t, f.notices.messages, 1)
			assert.True(t, strings.HasPrefix(f.notices.messages[0], "GLTF加载错误: "), f.notices.messages[0])
			assert.Nil(t, f.c.State().Model)
			assert.Equal(t, "hide", f.statuses[len(f.statuses)-1])
		})
	}
}

func TestReadFailure(t *testing.T) {
	f := newFixture(t)
	err := f.c.LoadModelFromFile(context.Background(), failingFile{name: "model.fbx"})
	require.Error(t, err)
	assert.Equal(t, []string{"模型加载失败: permission denied"}, f.notices.messages)
	assert.False(t, f.c.Status().Visible())
}

func TestBadCompanionFails(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.load(t, "bad.mtl", []byte("newmtl a\nKd x y z\n")))
	err := f.load(t, "panel.obj", []byte(twoMaterialOBJ))
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(f.notices.messages[1], "模型加载失败: "))
	assert.Nil(t, f.c.State().Pending, "pending consumed even on failure")
}

func TestPanelEditsMaterialInPlace(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.load(t, "cube.obj", boxOBJ("Cube", 1)))
	state := f.c.State()
	ctrl := state.Panels.Folders()[0].Controllers[0]
	mat := state.Model.Children[0].Materials[0]

	rev := f.c.Scene().Revision
	require.NoError(t, state.Panels.SetValue(ctrl.ID, "#FF8800"))
	assert.Equal(t, "#ff8800", mat.ColorHex())
	assert.Greater(t, f.c.Scene().Revision, rev)

	assert.Error(t, state.Panels.SetValue(ctrl.ID, "orange"))
}

func TestExportWithoutModel(t *testing.T) {
	f := newFixture(t)
	err := f.c.ExportGLB(context.Background())
	assert.ErrorIs(t, err, ErrNoModel)
	assert.Equal(t, []string{NoticeNotReady}, f.notices.messages)
	assert.Empty(t, f.downloads.offers)
	assert.Empty(t, f.statuses)
}

func TestExportGLB(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.load(t, "cube.obj", boxOBJ("Cube", 1)))
	f.statuses = nil

	require.NoError(t, f.c.ExportGLB(context.Background()))
	require.Len(t, f.downloads.offers, 1)
	o := f.downloads.offers[0]
	assert.Equal(t, ExportFilename, o.name)
	assert.Equal(t, "exported_model.glb", o.name)
	assert.True(t, gltfio.IsBinary(o.data))

	// 延迟释放前状态仍然可见
	assert.True(t, f.c.Status().Visible())
	assert.Equal(t, "正在导出模型...", f.c.Status().Text())
	assert.Empty(t, f.downloads.revoked)
	assert.Equal(t, []time.Duration{DefaultReleaseDelay}, f.scheduler.delays)

	f.scheduler.flush()
	assert.Equal(t, []string{o.handle}, f.downloads.revoked)
	assert.False(t, f.c.Status().Visible())
	assert.Equal(t, []string{"show:正在导出模型...", "hide"}, f.statuses)

	// 导出的模型可以重新加载
	g := newFixture(t)
	require.NoError(t, g.load(t, ExportFilename, o.data))
	assert.Equal(t, 1, g.c.State().Model.MeshCount())
}

func TestResize(t *testing.T) {
	f := newFixture(t)
	f.c.Resize(1600, 800)
	assert.Equal(t, float32(2), f.c.Camera().Aspect)
	assert.Equal(t, 1600, f.renderer.width)
	assert.Equal(t, 800, f.renderer.height)

	f.c.Resize(0, 100)
	assert.Equal(t, float32(2), f.c.Camera().Aspect)
}

func TestNewDefaults(t *testing.T) {
	c := New(Options{FPS: 30})
	assert.InDelta(t, 1.0/30, c.FrameStep(), 1e-12)
	assert.Equal(t, vec3.T{0, 2, 10}, c.Camera().Position)
	assert.True(t, c.Controls().EnableDamping)
	assert.Equal(t, 4, len(c.Scene().Lights))
}

func memCube() loader.File {
	return loader.NewMemFile("cube.obj", boxOBJ("Cube", 1))
}
