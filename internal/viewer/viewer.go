// Package viewer implements the model lifecycle: replacing the displayed
// model, normalizing it into view, binding material panels and exporting
// the result as GLB.
//
// A Controller is not safe for concurrent use. Every call, including panel
// callbacks and scheduled releases, must run on one goroutine; Loop
// provides that goroutine.
package viewer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/flywave/go3d/vec3"

	"github.com/flywave/meshview/internal/anim"
	"github.com/flywave/meshview/internal/gui"
	"github.com/flywave/meshview/internal/loader"
	"github.com/flywave/meshview/internal/scene"
)

const (
	// ExportFilename is the name offered for every export.
	ExportFilename = "exported_model.glb"
	ExportMimeType = "application/octet-stream"

	DefaultFPS          = 60
	DefaultReleaseDelay = time.Second
)

var ErrNoModel = errors.New("no model loaded")

// Notifier surfaces a blocking user notice.
type Notifier interface {
	Notify(msg string)
}

// Downloader hands a payload to the user and returns a handle that stays
// valid until Revoke.
type Downloader interface {
	Offer(name, mimeType string, data []byte) string
	Revoke(handle string)
}

// Scheduler runs fn once after d, on the controller's goroutine.
type Scheduler interface {
	After(d time.Duration, fn func())
}

// Renderer draws frames. The controller never inspects what it draws.
type Renderer interface {
	Render(s *scene.Scene, cam *scene.PerspectiveCamera)
	SetSize(width, height int)
}

// State is everything that lives and dies with the loaded model.
type State struct {
	Model   *scene.Node
	Pending loader.File
	Mixer   *anim.Mixer
	Clips   []*anim.Clip
	Panels  *gui.GUI
}

// DisposeStats counts the resources released by one clear.
type DisposeStats struct {
	Meshes     int
	Geometries int
	Materials  int
}

type Options struct {
	Scene        *scene.Scene
	Camera       *scene.PerspectiveCamera
	Controls     *scene.OrbitControls
	Cache        *scene.Cache
	Notifier     Notifier
	Downloader   Downloader
	Scheduler    Scheduler
	Renderer     Renderer
	Logger       *slog.Logger
	FPS          int
	ReleaseDelay time.Duration
}

type loadFunc func(ctx context.Context, f loader.File) (*loader.Result, error)

// Controller owns the scene, the camera and the loaded model state.
type Controller struct {
	scene    *scene.Scene
	camera   *scene.PerspectiveCamera
	controls *scene.OrbitControls
	cache    *scene.Cache

	notifier   Notifier
	downloader Downloader
	scheduler  Scheduler
	renderer   Renderer
	logger     *slog.Logger

	frameStep    float64
	releaseDelay time.Duration

	status   *Status
	state    State
	dispatch map[loader.Format]loadFunc
}

type discardNotifier struct{}

func (discardNotifier) Notify(string) {}

type nopRenderer struct{}

func (nopRenderer) Render(*scene.Scene, *scene.PerspectiveCamera) {}
func (nopRenderer) SetSize(int, int)                              {}

// timerScheduler runs callbacks on their own goroutine. It only suits
// callers that drive the controller from a single goroutine themselves.
type timerScheduler struct{}

func (timerScheduler) After(d time.Duration, fn func()) {
	time.AfterFunc(d, fn)
}

// NewCamera returns the viewer's initial camera: 75 degree fov, positioned
// at (0, 2, 10).
func NewCamera(aspect float32) *scene.PerspectiveCamera {
	cam := scene.NewPerspectiveCamera(75, aspect, 0.1, 1000)
	cam.Position = vec3.T{0, 2, 10}
	return cam
}

func New(opts Options) *Controller {
	c := &Controller{
		scene:        opts.Scene,
		camera:       opts.Camera,
		controls:     opts.Controls,
		cache:        opts.Cache,
		notifier:     opts.Notifier,
		downloader:   opts.Downloader,
		scheduler:    opts.Scheduler,
		renderer:     opts.Renderer,
		logger:       opts.Logger,
		releaseDelay: opts.ReleaseDelay,
		status:       &Status{},
	}
	if c.scene == nil {
		c.scene = scene.NewDefault()
	}
	if c.camera == nil {
		c.camera = NewCamera(1)
	}
	if c.controls == nil {
		c.controls = scene.NewOrbitControls(c.camera)
		c.controls.EnableDamping = true
	}
	if c.cache == nil {
		c.cache = scene.NewCache()
	}
	if c.notifier == nil {
		c.notifier = discardNotifier{}
	}
	if c.scheduler == nil {
		c.scheduler = timerScheduler{}
	}
	if c.renderer == nil {
		c.renderer = nopRenderer{}
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	fps := opts.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}
	c.frameStep = 1 / float64(fps)
	if c.releaseDelay <= 0 {
		c.releaseDelay = DefaultReleaseDelay
	}

	c.dispatch = map[loader.Format]loadFunc{
		loader.FormatMTL:  c.loadMTL,
		loader.FormatOBJ:  c.loadOBJ,
		loader.FormatGLTF: c.loadGLTF,
		loader.FormatFBX:  c.loadFBX,
	}
	return c
}

func (c *Controller) Scene() *scene.Scene { return c.scene }

func (c *Controller) Camera() *scene.PerspectiveCamera { return c.camera }

func (c *Controller) Controls() *scene.OrbitControls { return c.controls }

func (c *Controller) Status() *Status { return c.status }

// State returns a copy of the current model state.
func (c *Controller) State() State { return c.state }

func (c *Controller) Cache() *scene.Cache { return c.cache }

// FrameStep is the fixed mixer step applied on every Tick.
func (c *Controller) FrameStep() float64 { return c.frameStep }
