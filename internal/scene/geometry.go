package scene

import (
	"math"

	dvec3 "github.com/flywave/go3d/float64/vec3"

	"github.com/flywave/go3d/vec2"
	"github.com/flywave/go3d/vec3"
)

// Group 几何体的材质分组，Start/Count 以索引（无索引时以顶点）计
type Group struct {
	Start         int `json:"start"`
	Count         int `json:"count"`
	MaterialIndex int `json:"materialIndex"`
}

// Geometry 网格几何体，Indices 为空时按顶点顺序每三个组成一个三角形
type Geometry struct {
	Positions []vec3.T `json:"positions"`
	Normals   []vec3.T `json:"normals,omitempty"`
	UVs       []vec2.T `json:"uvs,omitempty"`
	Indices   []uint32 `json:"indices,omitempty"`
	Groups    []Group  `json:"groups,omitempty"`
	disposed  bool
}

func NewGeometry(positions []vec3.T) *Geometry {
	return &Geometry{Positions: positions}
}

func (g *Geometry) Indexed() bool {
	return len(g.Indices) > 0
}

// ElementCount 返回参与绘制的元素数（索引数或顶点数）
func (g *Geometry) ElementCount() int {
	if g.Indexed() {
		return len(g.Indices)
	}
	return len(g.Positions)
}

func (g *Geometry) TriangleCount() int {
	return g.ElementCount() / 3
}

func (g *Geometry) vertexAt(element int) uint32 {
	if g.Indexed() {
		return g.Indices[element]
	}
	return uint32(element)
}

// Triangle 返回第 i 个三角形的三个顶点下标
func (g *Geometry) Triangle(i int) [3]uint32 {
	return [3]uint32{g.vertexAt(i * 3), g.vertexAt(i*3 + 1), g.vertexAt(i*3 + 2)}
}

func (g *Geometry) AddGroup(start, count, materialIndex int) {
	g.Groups = append(g.Groups, Group{Start: start, Count: count, MaterialIndex: materialIndex})
}

// ComputeVertexNormals 以面法线加权累加求顶点法线
func (g *Geometry) ComputeVertexNormals() {
	normals := make([]vec3.T, len(g.Positions))
	for i := 0; i < g.TriangleCount(); i++ {
		tri := g.Triangle(i)
		pt1 := g.Positions[tri[0]]
		pt2 := g.Positions[tri[1]]
		pt3 := g.Positions[tri[2]]

		sub1 := vec3.Sub(&pt3, &pt2)
		sub2 := vec3.Sub(&pt1, &pt2)

		cro := vec3.Cross(&sub1, &sub2)
		l := cro.Length()
		if l == 0 {
			continue
		}
		weightedNormal := cro.Scale(1 / l)

		normals[tri[0]].Add(weightedNormal)
		normals[tri[1]].Add(weightedNormal)
		normals[tri[2]].Add(weightedNormal)
	}

	for i := range normals {
		if normals[i].Length() > 0 {
			normals[i].Normalize()
		}
	}

	g.Normals = normals
}

// BoundingBox 返回局部坐标下的包围盒，无顶点时返回 dvec3.MinBox
func (g *Geometry) BoundingBox() dvec3.Box {
	minX := math.MaxFloat64
	minY := math.MaxFloat64
	minZ := math.MaxFloat64
	maxX := -math.MaxFloat64
	maxY := -math.MaxFloat64
	maxZ := -math.MaxFloat64
	for i := range g.Positions {
		minX = math.Min(minX, float64(g.Positions[i][0]))
		minY = math.Min(minY, float64(g.Positions[i][1]))
		minZ = math.Min(minZ, float64(g.Positions[i][2]))

		maxX = math.Max(maxX, float64(g.Positions[i][0]))
		maxY = math.Max(maxY, float64(g.Positions[i][1]))
		maxZ = math.Max(maxZ, float64(g.Positions[i][2]))
	}
	return dvec3.Box{Min: dvec3.T{minX, minY, minZ}, Max: dvec3.T{maxX, maxY, maxZ}}
}

// Dispose 释放几何体占用的缓冲，重复调用无副作用
func (g *Geometry) Dispose() bool {
	if g.disposed {
		return false
	}
	g.Positions = nil
	g.Normals = nil
	g.UVs = nil
	g.Indices = nil
	g.Groups = nil
	g.disposed = true
	return true
}

func (g *Geometry) Disposed() bool {
	return g.disposed
}
