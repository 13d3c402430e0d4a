package viewer

import (
	"context"
	"errors"
	"fmt"

	"github.com/flywave/meshview/internal/anim"
	"github.com/flywave/meshview/internal/loader"
	"github.com/flywave/meshview/internal/scene"
)

// User-facing notices.
const (
	NoticeNeedOBJ     = "请接着上传对应的 .obj 文件"
	NoticeUnsupported = "暂不支持该文件类型"
	NoticeNotReady    = "模型还没加载完成！"

	statusLoading   = "正在加载 %s..."
	statusExporting = "正在导出模型..."
)

type loadStage int

const (
	stageRead loadStage = iota
	stageParse
)

// LoadError is returned when reading or parsing a model file fails.
type LoadError struct {
	File   string
	Format loader.Format
	stage  loadStage
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Notice is the message shown to the user. Parser failures of the binary
// formats carry their own prefix; everything else is a generic load failure.
func (e *LoadError) Notice() string {
	if e.stage == stageParse {
		switch e.Format {
		case loader.FormatGLTF:
			return "GLTF加载错误: " + e.Err.Error()
		case loader.FormatFBX:
			return "FBX解析错误: " + e.Err.Error()
		}
	}
	return "模型加载失败: " + e.Err.Error()
}

func readError(f loader.File, format loader.Format, err error) error {
	return &LoadError{File: f.Name(), Format: format, stage: stageRead, Err: err}
}

func parseError(f loader.File, format loader.Format, err error) error {
	return &LoadError{File: f.Name(), Format: format, stage: stageParse, Err: err}
}

// LoadModelFromFile replaces the loaded model with the content of f. The
// previous model is always cleared first, whatever f turns out to be. An
// MTL file is held until the next OBJ and loads nothing.
func (c *Controller) LoadModelFromFile(ctx context.Context, f loader.File) error {
	c.status.Show(fmt.Sprintf(statusLoading, f.Name()))
	c.ClearScene()

	format := loader.FormatOf(f.Name())
	load, ok := c.dispatch[format]
	if !ok {
		c.state.Pending = nil
		c.status.Hide()
		c.notifier.Notify(NoticeUnsupported)
		return fmt.Errorf("%s: %w", f.Name(), loader.ErrUnsupportedFormat)
	}

	res, err := load(ctx, f)
	if err != nil {
		c.logger.Error("model load failed", "file", f.Name(), "format", format.String(), "error", err)
		c.status.Hide()
		var le *LoadError
		if errors.As(err, &le) {
			c.notifier.Notify(le.Notice())
		} else {
			c.notifier.Notify("模型加载失败: " + err.Error())
		}
		return err
	}
	if res == nil {
		return nil
	}

	c.state.Model = res.Root
	c.state.Clips = res.Clips
	c.scene.Add(res.Root)
	if len(res.Clips) > 0 {
		// only the first clip plays
		c.state.Mixer = anim.NewMixer(res.Root)
		c.state.Mixer.ClipAction(res.Clips[0]).Play()
	}
	c.setupModel(res.Root)
	c.status.Hide()
	c.logger.Info("model loaded", "file", f.Name(), "format", format.String(), "meshes", res.Root.MeshCount(), "clips", len(res.Clips))
	return nil
}

func (c *Controller) loadMTL(_ context.Context, f loader.File) (*loader.Result, error) {
	c.state.Pending = f
	c.status.Hide()
	c.notifier.Notify(NoticeNeedOBJ)
	return nil, nil
}

func (c *Controller) loadOBJ(ctx context.Context, f loader.File) (*loader.Result, error) {
	mtl := c.state.Pending
	c.state.Pending = nil

	text, err := loader.ReadText(ctx, f)
	if err != nil {
		return nil, readError(f, loader.FormatOBJ, err)
	}
	var creator *loader.MaterialCreator
	if mtl != nil {
		mtlText, err := loader.ReadText(ctx, mtl)
		if err != nil {
			return nil, readError(mtl, loader.FormatMTL, err)
		}
		if creator, err = loader.ParseMTL(mtlText); err != nil {
			return nil, parseError(mtl, loader.FormatMTL, err)
		}
		creator.Preload()
	}
	root, err := loader.ParseOBJ(text, creator)
	if err != nil {
		return nil, parseError(f, loader.FormatOBJ, err)
	}
	return &loader.Result{Root: root}, nil
}

func (c *Controller) loadGLTF(ctx context.Context, f loader.File) (*loader.Result, error) {
	c.state.Pending = nil
	data, err := loader.ReadBinary(ctx, f)
	if err != nil {
		return nil, readError(f, loader.FormatGLTF, err)
	}
	res, err := loader.ParseGLTF(data, c.cache)
	if err != nil {
		return nil, parseError(f, loader.FormatGLTF, err)
	}
	return res, nil
}

func (c *Controller) loadFBX(ctx context.Context, f loader.File) (*loader.Result, error) {
	c.state.Pending = nil
	data, err := loader.ReadBinary(ctx, f)
	if err != nil {
		return nil, readError(f, loader.FormatFBX, err)
	}
	res, err := loader.ParseFBX(data, c.cache)
	if err != nil {
		return nil, parseError(f, loader.FormatFBX, err)
	}
	return res, nil
}

// ClearScene detaches the loaded model, disposes its geometries and
// materials, destroys the panels, stops the mixer and empties the cache.
// The pending MTL file is kept.
func (c *Controller) ClearScene() DisposeStats {
	var stats DisposeStats
	if m := c.state.Model; m != nil {
		c.scene.Remove(m)
		m.Traverse(func(n *scene.Node) {
			if !n.IsMesh() {
				return
			}
			stats.Meshes++
			if n.Geometry != nil && n.Geometry.Dispose() {
				stats.Geometries++
			}
			for _, mat := range n.Materials {
				if mat != nil && mat.Dispose() {
					stats.Materials++
				}
			}
		})
		c.state.Model = nil
	}
	if c.state.Panels != nil {
		c.state.Panels.Destroy()
		c.state.Panels = nil
	}
	if c.state.Mixer != nil {
		c.state.Mixer.StopAllAction()
		c.state.Mixer = nil
	}
	c.state.Clips = nil
	c.cache.Clear()
	if stats.Meshes > 0 {
		c.logger.Debug("scene cleared", "meshes", stats.Meshes, "geometries", stats.Geometries, "materials", stats.Materials)
	}
	return stats
}
