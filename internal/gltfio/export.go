package gltfio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/qmuntal/gltf"

	"github.com/flywave/meshview/internal/scene"
)

const (
	// GLTFVersion 定义GLTF规范版本
	GLTFVersion = "2.0"

	// PaddingChar 用于二进制填充的字符
	PaddingChar = 0x20

	generator = "meshview"
)

var ErrEmptyScene = errors.New("nothing to export")

// CreateDoc 创建一个新的GLTF文档
func CreateDoc() *gltf.Document {
	doc := &gltf.Document{
		Asset: gltf.Asset{
			Version:   GLTFVersion,
			Generator: generator,
		},
		Scenes:  []*gltf.Scene{{}},
		Buffers: []*gltf.Buffer{{}},
	}

	sceneIndex := uint32(0)
	doc.Scene = &sceneIndex

	return doc
}

// bufferWriter 用于计算缓冲区大小的写入器
type bufferWriter struct {
	writer io.Writer
	size   int
}

func (w *bufferWriter) Write(p []byte) (int, error) {
	n, err := w.writer.Write(p)
	w.size += n
	return n, err
}

func (w *bufferWriter) Bytes() []byte {
	return w.writer.(*bytes.Buffer).Bytes()
}

func newBufferWriter() *bufferWriter {
	return &bufferWriter{
		writer: bytes.NewBuffer(nil),
		size:   0,
	}
}

// calcPadding 计算需要的填充字节数
func calcPadding(offset, unit int) int {
	padding := offset % unit
	if padding != 0 {
		padding = unit - padding
	}
	return padding
}

// GetGltfBinary 将GLTF文档编码为二进制格式
func GetGltfBinary(doc *gltf.Document, paddingUnit int) ([]byte, error) {
	writer := newBufferWriter()

	encoder := gltf.NewEncoder(writer)
	encoder.AsBinary = true

	if err := encoder.Encode(doc); err != nil {
		return nil, err
	}

	data := writer.Bytes()
	padding := calcPadding(writer.size, paddingUnit)
	if padding == 0 || len(data) < 20 {
		return data, nil
	}

	// 填充计入最后一个数据块，块长度与文件头总长度同步更新
	last := 12
	for last+8 <= len(data) {
		n := int(binary.LittleEndian.Uint32(data[last:]))
		if last+8+n >= len(data) {
			break
		}
		last += 8 + n
	}
	if last+8 > len(data) {
		return data, nil
	}
	padChar := byte(0)
	if binary.LittleEndian.Uint32(data[last+4:]) == glbChunkJSON {
		padChar = PaddingChar
	}
	data = append(data, bytes.Repeat([]byte{padChar}, padding)...)
	chunkLen := binary.LittleEndian.Uint32(data[last:])
	binary.LittleEndian.PutUint32(data[last:], chunkLen+uint32(padding))
	binary.LittleEndian.PutUint32(data[8:], uint32(len(data)))

	return data, nil
}

// EncodeGLB 将节点子树（保留节点自身变换）导出为 GLB
func EncodeGLB(root *scene.Node) ([]byte, error) {
	if root == nil {
		return nil, ErrEmptyScene
	}
	doc := CreateDoc()
	b := &docBuilder{
		doc:       doc,
		materials: make(map[*scene.Material]uint32),
		textures:  make(map[*scene.Texture]uint32),
	}
	idx, err := b.buildNode(root)
	if err != nil {
		return nil, err
	}
	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, idx)
	doc.Buffers[0].ByteLength = uint32(len(doc.Buffers[0].Data))
	if doc.Buffers[0].ByteLength == 0 {
		doc.Buffers = nil
	}
	return GetGltfBinary(doc, 4)
}

// docBuilder 构建上下文，同一材质/纹理只写入一次
type docBuilder struct {
	doc       *gltf.Document
	materials map[*scene.Material]uint32
	textures  map[*scene.Texture]uint32
}

func (b *docBuilder) buildNode(n *scene.Node) (uint32, error) {
	nd := &gltf.Node{
		Name:        n.Name,
		Translation: [3]float32{n.Position[0], n.Position[1], n.Position[2]},
		Rotation:    [4]float32{n.Rotation[0], n.Rotation[1], n.Rotation[2], n.Rotation[3]},
		Scale:       [3]float32{n.Scale[0], n.Scale[1], n.Scale[2]},
		Matrix:      identityMatrix,
	}
	if extras := n.Props.ToMap(); extras != nil {
		nd.Extras = extras
	}
	index := uint32(len(b.doc.Nodes))
	b.doc.Nodes = append(b.doc.Nodes, nd)

	if n.IsMesh() && n.Geometry != nil && len(n.Geometry.Positions) > 0 {
		meshIndex, err := b.buildMesh(n)
		if err != nil {
			return 0, err
		}
		nd.Mesh = &meshIndex
	}

	for _, c := range n.Children {
		ci, err := b.buildNode(c)
		if err != nil {
			return 0, err
		}
		nd.Children = append(nd.Children, ci)
	}
	return index, nil
}

// appendView 追加一段缓冲区视图，数据按 4 字节对齐
func (b *docBuilder) appendView(data interface{}, target gltf.Target) uint32 {
	buffer := b.doc.Buffers[0]
	buf := bytes.NewBuffer(nil)
	binary.Write(buf, binary.LittleEndian, data)
	return b.appendBytes(buffer, buf.Bytes(), target)
}

func (b *docBuilder) appendBytes(buffer *gltf.Buffer, data []byte, target gltf.Target) uint32 {
	view := &gltf.BufferView{
		Buffer:     0,
		ByteOffset: uint32(len(buffer.Data)),
		ByteLength: uint32(len(data)),
		Target:     target,
	}
	buffer.Data = append(buffer.Data, data...)
	if pad := calcPadding(len(buffer.Data), 4); pad != 0 {
		buffer.Data = append(buffer.Data, make([]byte, pad)...)
	}
	buffer.ByteLength = uint32(len(buffer.Data))
	idx := uint32(len(b.doc.BufferViews))
	b.doc.BufferViews = append(b.doc.BufferViews, view)
	return idx
}

func (b *docBuilder) appendAccessor(acc *gltf.Accessor) uint32 {
	idx := uint32(len(b.doc.Accessors))
	b.doc.Accessors = append(b.doc.Accessors, acc)
	return idx
}

func (b *docBuilder) buildMesh(n *scene.Node) (uint32, error) {
	geo := n.Geometry

	// 顶点位置数据
	posView := b.appendView(geo.Positions, gltf.TargetArrayBuffer)
	bounds := geo.BoundingBox()
	attributes := gltf.Attribute{
		"POSITION": b.appendAccessor(&gltf.Accessor{
			BufferView:    &posView,
			ComponentType: gltf.ComponentFloat,
			Type:          gltf.AccessorVec3,
			Count:         uint32(len(geo.Positions)),
			Min:           []float32{float32(bounds.Min[0]), float32(bounds.Min[1]), float32(bounds.Min[2])},
			Max:           []float32{float32(bounds.Max[0]), float32(bounds.Max[1]), float32(bounds.Max[2])},
		}),
	}

	// 法线数据
	if len(geo.Normals) == len(geo.Positions) {
		view := b.appendView(geo.Normals, gltf.TargetArrayBuffer)
		attributes["NORMAL"] = b.appendAccessor(&gltf.Accessor{
			BufferView:    &view,
			ComponentType: gltf.ComponentFloat,
			Type:          gltf.AccessorVec3,
			Count:         uint32(len(geo.Normals)),
		})
	}

	// 纹理坐标数据
	if len(geo.UVs) == len(geo.Positions) {
		view := b.appendView(geo.UVs, gltf.TargetArrayBuffer)
		attributes["TEXCOORD_0"] = b.appendAccessor(&gltf.Accessor{
			BufferView:    &view,
			ComponentType: gltf.ComponentFloat,
			Type:          gltf.AccessorVec2,
			Count:         uint32(len(geo.UVs)),
		})
	}

	// 索引数据，无索引几何体按顶点顺序生成
	indices := geo.Indices
	if len(indices) == 0 {
		indices = make([]uint32, len(geo.Positions))
		for i := range indices {
			indices[i] = uint32(i)
		}
	}
	indexView := b.appendView(indices, gltf.TargetElementArrayBuffer)

	groups := geo.Groups
	if len(groups) == 0 {
		groups = []scene.Group{{Start: 0, Count: len(indices), MaterialIndex: 0}}
	}

	mesh := &gltf.Mesh{Name: n.Name}
	for _, g := range groups {
		if g.Count <= 0 || g.Start < 0 || g.Start+g.Count > len(indices) {
			continue
		}
		indexAccessor := b.appendAccessor(&gltf.Accessor{
			BufferView:    &indexView,
			ByteOffset:    uint32(g.Start) * 4,
			ComponentType: gltf.ComponentUint,
			Type:          gltf.AccessorScalar,
			Count:         uint32(g.Count),
		})
		primitive := &gltf.Primitive{
			Attributes: attributes,
			Indices:    &indexAccessor,
			Mode:       gltf.PrimitiveTriangles,
		}
		if g.MaterialIndex >= 0 && g.MaterialIndex < len(n.Materials) {
			mi, err := b.buildMaterial(n.Materials[g.MaterialIndex])
			if err != nil {
				return 0, err
			}
			primitive.Material = &mi
		}
		mesh.Primitives = append(mesh.Primitives, primitive)
	}

	idx := uint32(len(b.doc.Meshes))
	b.doc.Meshes = append(b.doc.Meshes, mesh)
	return idx, nil
}

func (b *docBuilder) buildMaterial(m *scene.Material) (uint32, error) {
	if idx, ok := b.materials[m]; ok {
		return idx, nil
	}

	c := m.Color.Clamped()
	gm := &gltf.Material{Name: m.Name, DoubleSided: m.DoubleSided, AlphaMode: gltf.AlphaOpaque}
	gm.PBRMetallicRoughness = &gltf.PBRMetallicRoughness{
		BaseColorFactor: &[4]float32{float32(c.R), float32(c.G), float32(c.B), m.Opacity},
	}
	metallic, roughness := float32(0.5), float32(0.5)
	if m.Kind == scene.MaterialStandard {
		metallic, roughness = m.Metalness, m.Roughness
	}
	gm.PBRMetallicRoughness.MetallicFactor = &metallic
	gm.PBRMetallicRoughness.RoughnessFactor = &roughness

	e := m.Emissive.Clamped()
	gm.EmissiveFactor[0] = float32(e.R)
	gm.EmissiveFactor[1] = float32(e.G)
	gm.EmissiveFactor[2] = float32(e.B)
	if m.Transparent || m.Opacity < 1 {
		gm.AlphaMode = gltf.AlphaBlend
	}

	if m.Map != nil && len(m.Map.Data) > 0 {
		texIndex := b.buildTexture(m.Map)
		gm.PBRMetallicRoughness.BaseColorTexture = &gltf.TextureInfo{Index: texIndex}
	}

	idx := uint32(len(b.doc.Materials))
	b.doc.Materials = append(b.doc.Materials, gm)
	b.materials[m] = idx
	return idx, nil
}

func (b *docBuilder) buildTexture(t *scene.Texture) uint32 {
	if idx, ok := b.textures[t]; ok {
		return idx
	}

	imgView := b.appendBytes(b.doc.Buffers[0], t.Data, 0)
	imIndex := uint32(len(b.doc.Images))
	b.doc.Images = append(b.doc.Images, &gltf.Image{
		Name:       t.Name,
		MimeType:   t.MimeType,
		BufferView: &imgView,
	})

	spIndex := uint32(len(b.doc.Samplers))
	sp := &gltf.Sampler{WrapS: gltf.WrapRepeat, WrapT: gltf.WrapRepeat}
	if !t.Repeated {
		sp = &gltf.Sampler{WrapS: gltf.WrapClampToEdge, WrapT: gltf.WrapClampToEdge}
	}
	b.doc.Samplers = append(b.doc.Samplers, sp)

	idx := uint32(len(b.doc.Textures))
	b.doc.Textures = append(b.doc.Textures, &gltf.Texture{Sampler: &spIndex, Source: &imIndex})
	b.textures[t] = idx
	return idx
}
