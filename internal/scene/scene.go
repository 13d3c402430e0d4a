package scene

import (
	"github.com/flywave/go3d/vec3"
	"github.com/lucasb-eyer/go-colorful"
)

type LightKind int

const (
	LightAmbient LightKind = iota
	LightDirectional
	LightHemisphere
	LightPoint
)

type Light struct {
	Kind          LightKind
	Color         colorful.Color
	GroundColor   colorful.Color
	Intensity     float32
	Distance      float32
	Position      vec3.T
	CastShadow    bool
	ShadowMapSize [2]int
}

type Fog struct {
	Color colorful.Color
	Near  float32
	Far   float32
}

type Grid struct {
	Size        float32
	Divisions   int
	CenterColor colorful.Color
	LineColor   colorful.Color
}

// Scene 场景：根节点、背景、雾、灯光与辅助对象。Revision 在可见内容变化时递增
type Scene struct {
	Root       *Node
	Background colorful.Color
	Fog        *Fog
	Lights     []*Light
	Grid       *Grid
	AxesSize   float32
	Revision   uint64
}

func New() *Scene {
	return &Scene{Root: NewGroup("scene")}
}

// NewDefault 构建查看器的默认场景：深蓝背景、雾、四种灯光、网格地面与坐标轴
func NewDefault() *Scene {
	s := New()
	s.Background = Hex(0x1E3A5F)
	s.Fog = &Fog{Color: Hex(0x1A1A2E), Near: 10, Far: 100}
	s.Lights = []*Light{
		{Kind: LightAmbient, Color: Hex(0xFFFFFF), Intensity: 0.6},
		{Kind: LightDirectional, Color: Hex(0xFFFFFF), Intensity: 0.8, Position: vec3.T{5, 10, 7}, CastShadow: true, ShadowMapSize: [2]int{1024, 1024}},
		{Kind: LightHemisphere, Color: Hex(0xFFFFBB), GroundColor: Hex(0x080820), Intensity: 0.5},
		{Kind: LightPoint, Color: Hex(0xFF7F50), Intensity: 1, Distance: 100, Position: vec3.T{-5, 5, 5}, CastShadow: true},
	}
	s.Grid = &Grid{Size: 20, Divisions: 20, CenterColor: Hex(0x4ECDC4), LineColor: Hex(0x2A5A2A)}
	s.AxesSize = 5
	return s
}

func (s *Scene) Add(n *Node) {
	s.Root.Add(n)
	s.Touch()
}

func (s *Scene) Remove(n *Node) bool {
	if s.Root.Remove(n) {
		s.Touch()
		return true
	}
	return false
}

func (s *Scene) Contains(n *Node) bool {
	for _, c := range s.Root.Children {
		if c == n {
			return true
		}
	}
	return false
}

// Touch 标记场景已变化
func (s *Scene) Touch() {
	s.Revision++
}

// Hex 将 0xRRGGBB 转为颜色
func Hex(v uint32) colorful.Color {
	return colorful.Color{
		R: float64((v>>16)&0xff) / 255,
		G: float64((v>>8)&0xff) / 255,
		B: float64(v&0xff) / 255,
	}
}
