package scene

import (
	"github.com/google/uuid"
	"github.com/lucasb-eyer/go-colorful"
)

// MaterialKind 材质类型
type MaterialKind int

const (
	MaterialBasic MaterialKind = iota
	MaterialLambert
	MaterialPhong
	MaterialStandard
	MaterialNormal
)

func (k MaterialKind) String() string {
	switch k {
	case MaterialBasic:
		return "basic"
	case MaterialLambert:
		return "lambert"
	case MaterialPhong:
		return "phong"
	case MaterialStandard:
		return "standard"
	case MaterialNormal:
		return "normal"
	}
	return "unknown"
}

// Material 网格材质。Lambert/Phong 使用 Specular/Shininess，Standard 使用 Roughness/Metalness
type Material struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Kind        MaterialKind   `json:"kind"`
	Color       colorful.Color `json:"color"`
	Emissive    colorful.Color `json:"emissive"`
	Specular    colorful.Color `json:"specular"`
	Shininess   float32        `json:"shininess"`
	Roughness   float32        `json:"roughness"`
	Metalness   float32        `json:"metalness"`
	Opacity     float32        `json:"opacity"`
	Transparent bool           `json:"transparent"`
	DoubleSided bool           `json:"doubleSided"`
	Map         *Texture       `json:"map,omitempty"`
	MapName     string         `json:"mapName,omitempty"`
	disposed    bool
}

func newMaterial(kind MaterialKind, name string) *Material {
	return &Material{
		ID:      uuid.NewString(),
		Name:    name,
		Kind:    kind,
		Color:   colorful.Color{R: 1, G: 1, B: 1},
		Opacity: 1,
	}
}

func NewBasicMaterial(name string) *Material {
	return newMaterial(MaterialBasic, name)
}

func NewLambertMaterial(name string) *Material {
	return newMaterial(MaterialLambert, name)
}

func NewPhongMaterial(name string) *Material {
	m := newMaterial(MaterialPhong, name)
	m.Specular = colorful.Color{R: 0x11 / 255.0, G: 0x11 / 255.0, B: 0x11 / 255.0}
	m.Shininess = 30
	return m
}

func NewStandardMaterial(name string) *Material {
	m := newMaterial(MaterialStandard, name)
	m.Roughness = 1
	return m
}

func NewNormalMaterial(name string) *Material {
	return newMaterial(MaterialNormal, name)
}

// HasColor 材质是否具有可编辑的颜色属性
func (m *Material) HasColor() bool {
	return m.Kind != MaterialNormal
}

func (m *Material) HasTexture() bool {
	return m.Map != nil
}

// SetColor 原地修改颜色，所有引用该材质的网格同时生效
func (m *Material) SetColor(c colorful.Color) {
	m.Color = c.Clamped()
}

func (m *Material) ColorHex() string {
	return m.Color.Clamped().Hex()
}

// Dispose 释放材质及其贴图，返回本次是否真正释放
func (m *Material) Dispose() bool {
	if m.disposed {
		return false
	}
	if m.Map != nil {
		m.Map.Dispose()
	}
	m.disposed = true
	return true
}

func (m *Material) Disposed() bool {
	return m.disposed
}
