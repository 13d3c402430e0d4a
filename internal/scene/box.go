package scene

import (
	dvec3 "github.com/flywave/go3d/float64/vec3"
)

// ComputeBox 计算子树中所有网格在根坐标系下的轴对齐包围盒，包括节点自身及祖先的变换
func ComputeBox(n *Node) dvec3.Box {
	bbox := dvec3.MinBox
	n.Traverse(func(c *Node) {
		if !c.IsMesh() || c.Geometry == nil {
			return
		}
		for _, p := range c.Geometry.Positions {
			w := c.LocalToWorld(p)
			pt := dvec3.T{float64(w[0]), float64(w[1]), float64(w[2])}
			bbx := dvec3.Box{Min: pt, Max: pt}
			bbox.Join(&bbx)
		}
	})
	return bbox
}

func BoxEmpty(b *dvec3.Box) bool {
	return b.Max[0] < b.Min[0] || b.Max[1] < b.Min[1] || b.Max[2] < b.Min[2]
}

// BoxSize 空包围盒的尺寸为零
func BoxSize(b *dvec3.Box) dvec3.T {
	if BoxEmpty(b) {
		return dvec3.T{}
	}
	return dvec3.T{b.Max[0] - b.Min[0], b.Max[1] - b.Min[1], b.Max[2] - b.Min[2]}
}

func BoxCenter(b *dvec3.Box) dvec3.T {
	if BoxEmpty(b) {
		return dvec3.T{}
	}
	return dvec3.T{(b.Max[0] + b.Min[0]) / 2, (b.Max[1] + b.Min[1]) / 2, (b.Max[2] + b.Min[2]) / 2}
}
