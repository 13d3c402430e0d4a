package viewer

import (
	"fmt"
	"math"

	"github.com/flywave/go3d/vec3"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/flywave/meshview/internal/gui"
	"github.com/flywave/meshview/internal/scene"
)

const (
	defaultMaterialColor     = 0x8888FF
	defaultMaterialRoughness = 0.8
	defaultMaterialMetalness = 0.2

	panelName  = "材质"
	colorLabel = "颜色"
)

// NewDefaultMaterial is substituted on meshes that come without material.
func NewDefaultMaterial() *scene.Material {
	m := scene.NewStandardMaterial("")
	m.Color = scene.Hex(defaultMaterialColor)
	m.Roughness = defaultMaterialRoughness
	m.Metalness = defaultMaterialMetalness
	return m
}

// setupModel scales obj so its largest dimension is 2, centers it on the
// origin, frames the camera on it and prepares every mesh for display.
func (c *Controller) setupModel(obj *scene.Node) {
	box := scene.ComputeBox(obj)
	size := scene.BoxSize(&box)

	maxSize := math.Max(size[0], math.Max(size[1], size[2]))
	scaleFactor := 1.0
	if maxSize > 0 {
		scaleFactor = 2 / maxSize
	}
	obj.SetScalar(float32(scaleFactor))

	center := scene.BoxCenter(&box)
	obj.Position = vec3.T{
		obj.Position[0] - float32(center[0]*scaleFactor),
		obj.Position[1] - float32(center[1]*scaleFactor),
		obj.Position[2] - float32(center[2]*scaleFactor),
	}

	c.camera.Position = vec3.T{0, float32(size[1] * scaleFactor), float32(size[2] * scaleFactor * 1.5)}
	c.camera.LookAt(obj.Position)
	c.controls.Target = obj.Position
	c.controls.Update()

	c.logger.Info("model normalized",
		"name", obj.Name,
		"size", fmt.Sprintf("x=%.2f, y=%.2f, z=%.2f", size[0], size[1], size[2]),
		"scale", fmt.Sprintf("%.4f", scaleFactor))

	bound := make(map[*scene.Material]bool)
	obj.Traverse(func(n *scene.Node) {
		if !n.IsMesh() {
			return
		}
		n.CastShadow = true
		n.ReceiveShadow = true

		if len(n.Materials) == 0 {
			c.logger.Warn("mesh has no material, using default", "mesh", n.Name)
			n.Materials = []*scene.Material{NewDefaultMaterial()}
		}

		name := n.Name
		if name == "" {
			name = panelName
		}
		if len(n.Materials) == 1 {
			c.bindPanel(name, n.Materials[0], bound)
			return
		}
		for i, m := range n.Materials {
			c.bindPanel(fmt.Sprintf("%s-%d", name, i), m, bound)
		}
	})
	c.scene.Touch()
}

// bindPanel adds one folder whose color picker edits m in place. A material
// shared by several meshes gets a single folder.
func (c *Controller) bindPanel(name string, m *scene.Material, bound map[*scene.Material]bool) {
	if m == nil || !m.HasColor() || bound[m] {
		return
	}
	bound[m] = true
	if c.state.Panels == nil {
		c.state.Panels = gui.New()
	}
	c.state.Panels.AddFolder(name).Expand().AddColor(colorLabel, m.ColorHex(), func(col colorful.Color) {
		m.SetColor(col)
		c.scene.Touch()
	})
}
