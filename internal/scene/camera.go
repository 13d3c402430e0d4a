package scene

import (
	"math"

	"github.com/flywave/go3d/vec3"
)

// PerspectiveCamera 透视相机，Target 为 LookAt 的注视点
type PerspectiveCamera struct {
	Fov        float32
	Aspect     float32
	Near       float32
	Far        float32
	Position   vec3.T
	Target     vec3.T
	Projection [16]float32
}

func NewPerspectiveCamera(fov, aspect, near, far float32) *PerspectiveCamera {
	c := &PerspectiveCamera{Fov: fov, Aspect: aspect, Near: near, Far: far}
	c.UpdateProjectionMatrix()
	return c
}

func (c *PerspectiveCamera) LookAt(target vec3.T) {
	c.Target = target
}

func (c *PerspectiveCamera) SetAspect(aspect float32) {
	c.Aspect = aspect
	c.UpdateProjectionMatrix()
}

// UpdateProjectionMatrix 按 OpenGL 约定（列主序）生成投影矩阵
func (c *PerspectiveCamera) UpdateProjectionMatrix() {
	f := float32(1 / math.Tan(float64(c.Fov)*math.Pi/360))
	aspect := c.Aspect
	if aspect == 0 {
		aspect = 1
	}
	nf := 1 / (c.Near - c.Far)
	c.Projection = [16]float32{
		f / aspect, 0, 0, 0,
		0, f, 0, 0,
		0, 0, (c.Far + c.Near) * nf, -1,
		0, 0, 2 * c.Far * c.Near * nf, 0,
	}
}

// OrbitControls 轨道控制器，仅维护注视目标与阻尼参数，交互在客户端完成
type OrbitControls struct {
	Camera        *PerspectiveCamera
	Target        vec3.T
	EnableDamping bool
	DampingFactor float32
}

func NewOrbitControls(camera *PerspectiveCamera) *OrbitControls {
	return &OrbitControls{Camera: camera, DampingFactor: 0.05}
}

// Update 相机重新对准目标
func (o *OrbitControls) Update() {
	o.Camera.LookAt(o.Target)
}
