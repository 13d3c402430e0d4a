package scene

import (
	"github.com/flywave/go3d/quaternion"
	"github.com/flywave/go3d/vec3"
	"github.com/google/uuid"
)

type NodeKind int

const (
	KindGroup NodeKind = iota
	KindMesh
)

// Node 场景树节点，Kind 为 KindMesh 时持有几何体与一个或多个材质
type Node struct {
	ID            string
	Name          string
	Kind          NodeKind
	Position      vec3.T
	Rotation      quaternion.T
	Scale         vec3.T
	Children      []*Node
	Geometry      *Geometry
	Materials     []*Material
	CastShadow    bool
	ReceiveShadow bool
	Props         Properties
	parent        *Node
}

func newNode(kind NodeKind, name string) *Node {
	return &Node{
		ID:       uuid.NewString(),
		Name:     name,
		Kind:     kind,
		Rotation: quaternion.Ident,
		Scale:    vec3.T{1, 1, 1},
	}
}

func NewGroup(name string) *Node {
	return newNode(KindGroup, name)
}

func NewMesh(name string, geo *Geometry, materials ...*Material) *Node {
	n := newNode(KindMesh, name)
	n.Geometry = geo
	n.Materials = materials
	return n
}

func (n *Node) IsMesh() bool {
	return n.Kind == KindMesh
}

func (n *Node) Parent() *Node {
	return n.parent
}

// Add 添加子节点，子节点已有父节点时先从原父节点移除
func (n *Node) Add(children ...*Node) {
	for _, c := range children {
		if c == nil || c == n {
			continue
		}
		if c.parent != nil {
			c.parent.Remove(c)
		}
		c.parent = n
		n.Children = append(n.Children, c)
	}
}

func (n *Node) Remove(child *Node) bool {
	for i, c := range n.Children {
		if c == child {
			n.Children = append(n.Children[:i], n.Children[i+1:]...)
			child.parent = nil
			return true
		}
	}
	return false
}

// Traverse 先序遍历子树（含自身）
func (n *Node) Traverse(fn func(*Node)) {
	fn(n)
	for _, c := range n.Children {
		c.Traverse(fn)
	}
}

func (n *Node) SetScalar(s float32) {
	n.Scale = vec3.T{s, s, s}
}

// LocalToParent 将本节点坐标系下的点变换到父节点坐标系：先缩放、再旋转、后平移
func (n *Node) LocalToParent(p vec3.T) vec3.T {
	scaled := vec3.T{p[0] * n.Scale[0], p[1] * n.Scale[1], p[2] * n.Scale[2]}
	rotated := RotateVec3(n.Rotation, scaled)
	return vec3.T{rotated[0] + n.Position[0], rotated[1] + n.Position[1], rotated[2] + n.Position[2]}
}

// RotateVec3 用单位四元数 q 旋转 v，不对结果归一化
func RotateVec3(q quaternion.T, v vec3.T) vec3.T {
	u := vec3.T{q[0], q[1], q[2]}
	w := q[3]
	t := vec3.Cross(&u, &v)
	t = vec3.T{2 * t[0], 2 * t[1], 2 * t[2]}
	c := vec3.Cross(&u, &t)
	return vec3.T{
		v[0] + w*t[0] + c[0],
		v[1] + w*t[1] + c[1],
		v[2] + w*t[2] + c[2],
	}
}

// LocalToWorld 沿父链变换到根坐标系
func (n *Node) LocalToWorld(p vec3.T) vec3.T {
	for cur := n; cur != nil; cur = cur.parent {
		p = cur.LocalToParent(p)
	}
	return p
}

func (n *Node) MeshCount() int {
	count := 0
	n.Traverse(func(c *Node) {
		if c.IsMesh() {
			count++
		}
	})
	return count
}
