// Package gltfio 读写 glTF 2.0 (.gltf/.glb)，在场景树与 gltf.Document 之间转换
package gltfio

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/flywave/go3d/quaternion"
	"github.com/flywave/go3d/vec2"
	"github.com/flywave/go3d/vec3"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/qmuntal/gltf"

	"github.com/flywave/meshview/internal/anim"
	"github.com/flywave/meshview/internal/scene"
)

// 无 bufferView 的访问器按零值填充，限制其大小
const maxAccessorBytes = 1 << 24

var (
	identityMatrix = [16]float32{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
	emptyMatrix    = [16]float32{}

	ErrSparseAccessor = errors.New("sparse accessors are not supported")
	ErrAccessorType   = errors.New("unexpected accessor type")
	ErrAccessorBounds = errors.New("accessor exceeds buffer")
)

// Decode 解析 glTF/GLB 数据，返回模型根节点与动画片段。纹理经 cache 去重，cache 可为 nil
func Decode(data []byte, cache *scene.Cache) (*scene.Node, []*anim.Clip, error) {
	clips, err := prescan(data)
	if err != nil {
		return nil, nil, err
	}
	doc := new(gltf.Document)
	if err := gltf.NewDecoder(bytes.NewReader(data)).Decode(doc); err != nil {
		return nil, nil, err
	}
	c := &converter{
		doc:       doc,
		cache:     cache,
		materials: make(map[uint32]*scene.Material),
		textures:  make(map[uint32]*scene.Texture),
	}
	root, err := c.convert()
	if err != nil {
		return nil, nil, err
	}
	return root, clips, nil
}

type converter struct {
	doc       *gltf.Document
	cache     *scene.Cache
	materials map[uint32]*scene.Material
	textures  map[uint32]*scene.Texture
}

func (c *converter) convert() (*scene.Node, error) {
	root := scene.NewGroup("Scene")
	if len(c.doc.Scenes) == 0 {
		return root, nil
	}
	sceneIndex := uint32(0)
	if c.doc.Scene != nil && int(*c.doc.Scene) < len(c.doc.Scenes) {
		sceneIndex = *c.doc.Scene
	}
	sc := c.doc.Scenes[sceneIndex]
	if sc.Name != "" {
		root.Name = sc.Name
	}
	visited := make(map[uint32]bool)
	for _, ni := range sc.Nodes {
		n, err := c.convertNode(ni, visited)
		if err != nil {
			return nil, err
		}
		root.Add(n)
	}
	return root, nil
}

func (c *converter) convertNode(index uint32, visited map[uint32]bool) (*scene.Node, error) {
	if int(index) >= len(c.doc.Nodes) {
		return nil, fmt.Errorf("node %d out of range", index)
	}
	if visited[index] {
		return nil, fmt.Errorf("node %d referenced twice", index)
	}
	visited[index] = true
	nd := c.doc.Nodes[index]

	var n *scene.Node
	if nd.Mesh != nil {
		meshes, err := c.convertMesh(*nd.Mesh)
		if err != nil {
			return nil, err
		}
		if len(meshes) == 1 {
			n = meshes[0]
		} else {
			n = scene.NewGroup("")
			n.Add(meshes...)
		}
	} else {
		n = scene.NewGroup("")
	}
	n.Name = nd.Name
	applyTransform(n, nd)

	if extras, ok := nd.Extras.(map[string]interface{}); ok {
		if props, err := scene.PropertiesOf(extras); err == nil {
			n.Props = props
		}
	}

	for _, ci := range nd.Children {
		child, err := c.convertNode(ci, visited)
		if err != nil {
			return nil, err
		}
		n.Add(child)
	}
	return n, nil
}

func applyTransform(n *scene.Node, nd *gltf.Node) {
	if nd.Matrix != identityMatrix && nd.Matrix != emptyMatrix {
		n.Position, n.Rotation, n.Scale = decompose(nd.Matrix)
		return
	}
	for i, v := range nd.Translation {
		n.Position[i] = float32(v)
	}
	for i, v := range nd.Rotation {
		n.Rotation[i] = float32(v)
	}
	for i, v := range nd.Scale {
		n.Scale[i] = float32(v)
	}
}

// decompose 将列主序矩阵分解为平移、旋转、缩放
func decompose(m [16]float32) (vec3.T, quaternion.T, vec3.T) {
	t := vec3.T{m[12], m[13], m[14]}
	sx := vec3.T{m[0], m[1], m[2]}
	sy := vec3.T{m[4], m[5], m[6]}
	sz := vec3.T{m[8], m[9], m[10]}
	s := vec3.T{sx.Length(), sy.Length(), sz.Length()}

	// 行列式为负时翻转 x 轴缩放
	det := m[0]*(m[5]*m[10]-m[6]*m[9]) - m[4]*(m[1]*m[10]-m[2]*m[9]) + m[8]*(m[1]*m[6]-m[2]*m[5])
	if det < 0 {
		s[0] = -s[0]
	}
	if s[0] == 0 || s[1] == 0 || s[2] == 0 {
		return t, quaternion.Ident, s
	}

	r00, r10, r20 := m[0]/s[0], m[1]/s[0], m[2]/s[0]
	r01, r11, r21 := m[4]/s[1], m[5]/s[1], m[6]/s[1]
	r02, r12, r22 := m[8]/s[2], m[9]/s[2], m[10]/s[2]

	var q quaternion.T
	trace := r00 + r11 + r22
	switch {
	case trace > 0:
		k := 0.5 / float32(math.Sqrt(float64(trace+1)))
		q = quaternion.T{(r21 - r12) * k, (r02 - r20) * k, (r10 - r01) * k, 0.25 / k}
	case r00 > r11 && r00 > r22:
		k := 2 * float32(math.Sqrt(float64(1+r00-r11-r22)))
		q = quaternion.T{0.25 * k, (r01 + r10) / k, (r02 + r20) / k, (r21 - r12) / k}
	case r11 > r22:
		k := 2 * float32(math.Sqrt(float64(1+r11-r00-r22)))
		q = quaternion.T{(r01 + r10) / k, 0.25 * k, (r12 + r21) / k, (r02 - r20) / k}
	default:
		k := 2 * float32(math.Sqrt(float64(1+r22-r00-r11)))
		q = quaternion.T{(r02 + r20) / k, (r12 + r21) / k, 0.25 * k, (r10 - r01) / k}
	}
	q.Normalize()
	return t, q, s
}

// convertMesh 每个三角形图元生成一个网格节点
func (c *converter) convertMesh(index uint32) ([]*scene.Node, error) {
	if int(index) >= len(c.doc.Meshes) {
		return nil, fmt.Errorf("mesh %d out of range", index)
	}
	mh := c.doc.Meshes[index]
	var out []*scene.Node
	for pi, ps := range mh.Primitives {
		if ps.Mode != gltf.PrimitiveTriangles {
			continue
		}
		geo, err := c.convertPrimitive(ps)
		if err != nil {
			return nil, fmt.Errorf("mesh %q primitive %d: %w", mh.Name, pi, err)
		}
		if geo == nil {
			continue
		}
		var mtl *scene.Material
		if ps.Material != nil {
			if mtl, err = c.convertMaterial(*ps.Material); err != nil {
				return nil, err
			}
		} else {
			mtl = scene.NewStandardMaterial("")
		}
		out = append(out, scene.NewMesh(mh.Name, geo, mtl))
	}
	return out, nil
}

func (c *converter) convertPrimitive(ps *gltf.Primitive) (*scene.Geometry, error) {
	posIndex, ok := ps.Attributes["POSITION"]
	if !ok {
		return nil, nil
	}
	positions, err := c.readVec3(posIndex)
	if err != nil {
		return nil, err
	}
	geo := scene.NewGeometry(positions)

	if idx, ok := ps.Attributes["NORMAL"]; ok {
		if geo.Normals, err = c.readVec3(idx); err != nil {
			return nil, err
		}
	}
	if idx, ok := ps.Attributes["TEXCOORD_0"]; ok {
		if geo.UVs, err = c.readVec2(idx); err != nil {
			return nil, err
		}
	}
	if ps.Indices != nil {
		if geo.Indices, err = c.readIndices(*ps.Indices); err != nil {
			return nil, err
		}
		for _, i := range geo.Indices {
			if int(i) >= len(positions) {
				return nil, fmt.Errorf("index %d out of range (%d)", i, len(positions))
			}
		}
	}
	if len(geo.UVs) != len(geo.Positions) {
		geo.UVs = nil
	}
	if len(geo.Normals) != len(geo.Positions) {
		geo.Normals = nil
		geo.ComputeVertexNormals()
	}
	return geo, nil
}

// accessorData 返回访问器每个元素的字节切片
func (c *converter) accessorData(index uint32, elemSize int) ([][]byte, *gltf.Accessor, error) {
	if int(index) >= len(c.doc.Accessors) {
		return nil, nil, fmt.Errorf("accessor %d out of range", index)
	}
	acc := c.doc.Accessors[index]
	if acc.Sparse != nil {
		return nil, nil, ErrSparseAccessor
	}
	count := int(acc.Count)
	if acc.BufferView == nil {
		if count*elemSize > maxAccessorBytes {
			return nil, nil, ErrAccessorBounds
		}
		out := make([][]byte, count)
		zero := make([]byte, elemSize)
		for i := range out {
			out[i] = zero
		}
		return out, acc, nil
	}
	if int(*acc.BufferView) >= len(c.doc.BufferViews) {
		return nil, nil, fmt.Errorf("buffer view %d out of range", *acc.BufferView)
	}
	view := c.doc.BufferViews[*acc.BufferView]
	if int(view.Buffer) >= len(c.doc.Buffers) {
		return nil, nil, fmt.Errorf("buffer %d out of range", view.Buffer)
	}
	data := c.doc.Buffers[view.Buffer].Data
	stride := int(view.ByteStride)
	if stride == 0 {
		stride = elemSize
	}
	start := int(view.ByteOffset) + int(acc.ByteOffset)
	end := int(view.ByteOffset) + int(view.ByteLength)
	if end > len(data) {
		return nil, nil, ErrAccessorBounds
	}
	// 分配前先确认最后一个元素仍在视图内
	if count > 0 && start+(count-1)*stride+elemSize > end {
		return nil, nil, ErrAccessorBounds
	}
	out := make([][]byte, count)
	for i := range out {
		off := start + i*stride
		out[i] = data[off : off+elemSize]
	}
	return out, acc, nil
}

func (c *converter) readVec3(index uint32) ([]vec3.T, error) {
	elems, acc, err := c.accessorData(index, 12)
	if err != nil {
		return nil, err
	}
	if acc.ComponentType != gltf.ComponentFloat || acc.Type != gltf.AccessorVec3 {
		return nil, fmt.Errorf("accessor %d: %w", index, ErrAccessorType)
	}
	out := make([]vec3.T, len(elems))
	for i, e := range elems {
		for k := 0; k < 3; k++ {
			out[i][k] = math.Float32frombits(binary.LittleEndian.Uint32(e[k*4:]))
		}
	}
	return out, nil
}

func (c *converter) readVec2(index uint32) ([]vec2.T, error) {
	elems, acc, err := c.accessorData(index, 8)
	if err != nil {
		return nil, err
	}
	if acc.ComponentType != gltf.ComponentFloat || acc.Type != gltf.AccessorVec2 {
		return nil, fmt.Errorf("accessor %d: %w", index, ErrAccessorType)
	}
	out := make([]vec2.T, len(elems))
	for i, e := range elems {
		out[i][0] = math.Float32frombits(binary.LittleEndian.Uint32(e))
		out[i][1] = math.Float32frombits(binary.LittleEndian.Uint32(e[4:]))
	}
	return out, nil
}

func (c *converter) readIndices(index uint32) ([]uint32, error) {
	if int(index) >= len(c.doc.Accessors) {
		return nil, fmt.Errorf("accessor %d out of range", index)
	}
	size := 0
	switch c.doc.Accessors[index].ComponentType {
	case gltf.ComponentUbyte:
		size = 1
	case gltf.ComponentUshort:
		size = 2
	case gltf.ComponentUint:
		size = 4
	default:
		return nil, fmt.Errorf("accessor %d: %w", index, ErrAccessorType)
	}
	elems, _, err := c.accessorData(index, size)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, len(elems))
	for i, e := range elems {
		switch size {
		case 1:
			out[i] = uint32(e[0])
		case 2:
			out[i] = uint32(binary.LittleEndian.Uint16(e))
		default:
			out[i] = binary.LittleEndian.Uint32(e)
		}
	}
	return out, nil
}

func (c *converter) convertMaterial(index uint32) (*scene.Material, error) {
	if m, ok := c.materials[index]; ok {
		return m, nil
	}
	if int(index) >= len(c.doc.Materials) {
		return nil, fmt.Errorf("material %d out of range", index)
	}
	mt := c.doc.Materials[index]
	m := scene.NewStandardMaterial(mt.Name)
	m.Metalness = 1
	m.DoubleSided = mt.DoubleSided
	m.Emissive = colorful.Color{R: float64(mt.EmissiveFactor[0]), G: float64(mt.EmissiveFactor[1]), B: float64(mt.EmissiveFactor[2])}
	if mt.AlphaMode == gltf.AlphaBlend {
		m.Transparent = true
	}

	if pbr := mt.PBRMetallicRoughness; pbr != nil {
		if pbr.BaseColorFactor != nil {
			var f [4]float64
			for i, v := range pbr.BaseColorFactor {
				f[i] = float64(v)
			}
			m.Color = colorful.Color{R: f[0], G: f[1], B: f[2]}
			m.Opacity = float32(f[3])
		}
		if pbr.MetallicFactor != nil {
			m.Metalness = float32(*pbr.MetallicFactor)
		}
		if pbr.RoughnessFactor != nil {
			m.Roughness = float32(*pbr.RoughnessFactor)
		}
		if pbr.BaseColorTexture != nil {
			tex, err := c.convertTexture(pbr.BaseColorTexture.Index)
			if err != nil {
				return nil, err
			}
			m.Map = tex
		}
	}
	c.materials[index] = m
	return m, nil
}

func (c *converter) convertTexture(index uint32) (*scene.Texture, error) {
	if t, ok := c.textures[index]; ok {
		return t, nil
	}
	if int(index) >= len(c.doc.Textures) {
		return nil, fmt.Errorf("texture %d out of range", index)
	}
	tx := c.doc.Textures[index]
	if tx.Source == nil || int(*tx.Source) >= len(c.doc.Images) {
		return nil, nil
	}
	img := c.doc.Images[*tx.Source]

	var data []byte
	mime := img.MimeType
	switch {
	case img.BufferView != nil:
		if int(*img.BufferView) >= len(c.doc.BufferViews) {
			return nil, fmt.Errorf("buffer view %d out of range", *img.BufferView)
		}
		view := c.doc.BufferViews[*img.BufferView]
		if int(view.Buffer) >= len(c.doc.Buffers) {
			return nil, fmt.Errorf("buffer %d out of range", view.Buffer)
		}
		buf := c.doc.Buffers[view.Buffer].Data
		end := int(view.ByteOffset) + int(view.ByteLength)
		if end > len(buf) {
			return nil, ErrAccessorBounds
		}
		data = buf[view.ByteOffset:end]
	case isDataURI(img.URI):
		var err error
		if data, mime, err = decodeDataURI(img.URI); err != nil {
			return nil, err
		}
	default:
		return nil, nil
	}

	tex, err := c.cache.Texture(img.Name, data, mime)
	if err != nil {
		return nil, fmt.Errorf("image %q: %w", img.Name, err)
	}
	tex.Repeated = true
	if tx.Sampler != nil && int(*tx.Sampler) < len(c.doc.Samplers) {
		sp := c.doc.Samplers[*tx.Sampler]
		tex.Repeated = sp.WrapS == gltf.WrapRepeat
	}
	c.textures[index] = tex
	return tex, nil
}

// decodeDataURI 解析 base64 编码的 data: URI
func decodeDataURI(uri string) ([]byte, string, error) {
	head, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, "", fmt.Errorf("malformed data uri")
	}
	mime, encoding, _ := strings.Cut(head, ";")
	if encoding != "base64" {
		return nil, "", fmt.Errorf("unsupported data uri encoding %q", encoding)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", err
	}
	return data, mime, nil
}
