package fbx

import (
	"errors"
	"fmt"
	"math"
	"path"
	"sort"
	"strings"

	"github.com/flywave/go3d/quaternion"
	"github.com/flywave/go3d/vec2"
	"github.com/flywave/go3d/vec3"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/flywave/meshview/internal/anim"
	"github.com/flywave/meshview/internal/scene"
)

// KTimeSecond FBX 时间单位每秒的刻度数
const KTimeSecond = 46186158000

var ErrNoObjects = errors.New("fbx file has no Objects section")

type connection struct {
	kind   string
	child  int64
	parent int64
	prop   string
}

type builder struct {
	objects  map[int64]*Node
	children map[int64][]connection
	parents  map[int64][]connection
	cache    *scene.Cache

	materials map[int64]*scene.Material
	textures  map[int64]*scene.Texture
}

// Decode 解析二进制 FBX，返回模型根节点与动画片段。纹理经 cache 去重，cache 可为 nil
func Decode(data []byte, cache *scene.Cache) (*scene.Node, []*anim.Clip, error) {
	doc, err := Parse(data)
	if err != nil {
		return nil, nil, err
	}
	objects := doc.Child("Objects")
	if objects == nil {
		return nil, nil, ErrNoObjects
	}

	b := &builder{
		objects:   make(map[int64]*Node),
		children:  make(map[int64][]connection),
		parents:   make(map[int64][]connection),
		cache:     cache,
		materials: make(map[int64]*scene.Material),
		textures:  make(map[int64]*scene.Texture),
	}
	var order []int64
	for _, o := range objects.Children {
		id, ok := o.PropInt(0)
		if !ok {
			continue
		}
		b.objects[id] = o
		order = append(order, id)
	}
	for _, c := range doc.Child("Connections").ChildrenNamed("C") {
		conn := connection{kind: c.PropString(0), prop: c.PropString(3)}
		var ok1, ok2 bool
		conn.child, ok1 = c.PropInt(1)
		conn.parent, ok2 = c.PropInt(2)
		if !ok1 || !ok2 {
			continue
		}
		b.children[conn.parent] = append(b.children[conn.parent], conn)
		b.parents[conn.child] = append(b.parents[conn.child], conn)
	}

	root := scene.NewGroup("")
	models := make(map[int64]*scene.Node)
	for _, id := range order {
		if o := b.objects[id]; o.Name == "Model" {
			n, err := b.buildModel(id, o)
			if err != nil {
				return nil, nil, err
			}
			models[id] = n
		}
	}
	for _, id := range order {
		n, ok := models[id]
		if !ok {
			continue
		}
		parent := root
		for _, c := range b.parents[id] {
			if p, ok := models[c.parent]; ok && c.kind == "OO" {
				parent = p
				break
			}
		}
		parent.Add(n)
	}

	var clips []*anim.Clip
	for _, id := range order {
		if o := b.objects[id]; o.Name == "AnimationStack" {
			clips = append(clips, b.buildClip(id, o))
		}
	}
	return root, clips, nil
}

// objectName 去掉 "Name\x00\x01Class" 或 "Class::Name" 中的类名
func objectName(s string) string {
	if i := strings.Index(s, "\x00\x01"); i >= 0 {
		return s[:i]
	}
	if i := strings.Index(s, "::"); i >= 0 {
		return s[i+2:]
	}
	return s
}

// connected 返回以 id 为父、记录名为 name 的对象，按连接顺序
func (b *builder) connected(id int64, name string) []int64 {
	var out []int64
	for _, c := range b.children[id] {
		if o, ok := b.objects[c.child]; ok && o.Name == name {
			out = append(out, c.child)
		}
	}
	return out
}

// properties70 将 Properties70 的 P 记录按名称索引
func properties70(o *Node) map[string]*Node {
	out := make(map[string]*Node)
	for _, p := range o.Child("Properties70").ChildrenNamed("P") {
		out[p.PropString(0)] = p
	}
	return out
}

func propVec3(p *Node) (vec3.T, bool) {
	var v vec3.T
	for i := 0; i < 3; i++ {
		f, ok := p.PropFloat(4 + i)
		if !ok {
			return v, false
		}
		v[i] = float32(f)
	}
	return v, true
}

func propColor(p *Node) (colorful.Color, bool) {
	v, ok := propVec3(p)
	return colorful.Color{R: float64(v[0]), G: float64(v[1]), B: float64(v[2])}, ok
}

func (b *builder) buildModel(id int64, o *Node) (*scene.Node, error) {
	name := objectName(o.PropString(1))

	var n *scene.Node
	geos := b.connected(id, "Geometry")
	if len(geos) > 0 {
		var mats []*scene.Material
		for _, mid := range b.connected(id, "Material") {
			mats = append(mats, b.buildMaterial(mid))
		}
		if len(mats) == 0 {
			mats = append(mats, scene.NewPhongMaterial(""))
		}
		geo, err := buildGeometry(b.objects[geos[0]], len(mats))
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", name, err)
		}
		n = scene.NewMesh(name, geo, mats...)
	} else {
		n = scene.NewGroup(name)
	}

	props := properties70(o)
	if p, ok := props["Lcl Translation"]; ok {
		if v, ok := propVec3(p); ok {
			n.Position = v
		}
	}
	if p, ok := props["Lcl Rotation"]; ok {
		if v, ok := propVec3(p); ok {
			n.Rotation = eulerXYZ(v)
		}
	}
	if p, ok := props["Lcl Scaling"]; ok {
		if v, ok := propVec3(p); ok {
			n.Scale = v
		}
	}
	n.Props = userProperties(props)
	return n, nil
}

// eulerXYZ 由角度制欧拉角构造旋转，依次绕 X、Y、Z 轴
func eulerXYZ(deg vec3.T) quaternion.T {
	const toRad = math.Pi / 180
	qx := quaternion.FromXAxisAngle(deg[0] * toRad)
	qy := quaternion.FromYAxisAngle(deg[1] * toRad)
	qz := quaternion.FromZAxisAngle(deg[2] * toRad)
	zy := quaternion.Mul(&qz, &qy)
	return quaternion.Mul(&zy, &qx)
}

// userProperties 提取标记为用户自定义 (flags 含 U) 的属性
func userProperties(props map[string]*Node) scene.Properties {
	var out scene.Properties
	for name, p := range props {
		if !strings.Contains(p.PropString(3), "U") {
			continue
		}
		var v interface{}
		switch p.PropString(1) {
		case "KString":
			v = p.PropString(4)
		case "bool", "Bool":
			i, _ := p.PropInt(4)
			v = i != 0
		case "int", "Integer", "enum":
			v, _ = p.PropInt(4)
		case "double", "Number", "float", "Float":
			v, _ = p.PropFloat(4)
		default:
			continue
		}
		pv, err := scene.PropsValueOf(v)
		if err != nil {
			continue
		}
		if out == nil {
			out = make(scene.Properties)
		}
		out[name] = pv
	}
	return out
}

type layer struct {
	mapping string
	ref     string
	data    []float64
	index   []int
	size    int
}

func readLayer(geo *Node, element, dataName, indexName string, size int) *layer {
	e := geo.Child(element)
	if e == nil {
		return nil
	}
	l := &layer{
		mapping: e.ChildString("MappingInformationType"),
		ref:     e.ChildString("ReferenceInformationType"),
		data:    e.Child(dataName).Float64s(),
		index:   e.Child(indexName).Ints(),
		size:    size,
	}
	if len(l.data) == 0 {
		return nil
	}
	return l
}

// value 按映射方式取第 pv 个多边形顶点（顶点 v、多边形 p）的值
func (l *layer) value(pv, v, p int) ([]float64, bool) {
	if l == nil {
		return nil, false
	}
	i := 0
	switch l.mapping {
	case "ByPolygonVertex":
		i = pv
	case "ByVertice", "ByVertex", "ByControlPoint":
		i = v
	case "ByPolygon":
		i = p
	case "AllSame":
		i = 0
	default:
		return nil, false
	}
	if l.ref == "IndexToDirect" || l.ref == "Index" {
		if i >= len(l.index) {
			return nil, false
		}
		i = l.index[i]
	}
	if i < 0 || (i+1)*l.size > len(l.data) {
		return nil, false
	}
	return l.data[i*l.size : (i+1)*l.size], true
}

type corner struct {
	position vec3.T
	normal   vec3.T
	uv       vec2.T
}

// buildGeometry 将多边形扇形三角化并按材质索引分组
func buildGeometry(geo *Node, materialCount int) (*scene.Geometry, error) {
	vertices := geo.Child("Vertices").Float64s()
	polys := geo.Child("PolygonVertexIndex").Ints()
	if len(vertices)%3 != 0 {
		return nil, fmt.Errorf("vertex array length %d not a multiple of 3", len(vertices))
	}
	vertexCount := len(vertices) / 3

	normals := readLayer(geo, "LayerElementNormal", "Normals", "NormalsIndex", 3)
	uvs := readLayer(geo, "LayerElementUV", "UV", "UVIndex", 2)
	me := geo.Child("LayerElementMaterial")
	matMapping := me.ChildString("MappingInformationType")
	matIndex := me.Child("Materials").Ints()

	buckets := make(map[int][]corner)
	hasNormal, hasUV := normals != nil, uvs != nil

	var poly []int
	polygon := 0
	for pv, raw := range polys {
		v := raw
		last := raw < 0
		if last {
			v = ^raw
		}
		if v >= vertexCount {
			return nil, fmt.Errorf("vertex index %d out of range (%d)", v, vertexCount)
		}
		poly = append(poly, pv)
		if !last {
			continue
		}

		mi := 0
		if matMapping == "ByPolygon" && polygon < len(matIndex) {
			mi = matIndex[polygon]
		} else if len(matIndex) > 0 {
			mi = matIndex[0]
		}
		if mi < 0 || mi >= materialCount {
			mi = 0
		}

		makeCorner := func(pvi int) corner {
			vi := polys[pvi]
			if vi < 0 {
				vi = ^vi
			}
			c := corner{position: vec3.T{float32(vertices[vi*3]), float32(vertices[vi*3+1]), float32(vertices[vi*3+2])}}
			if n, ok := normals.value(pvi, vi, polygon); ok {
				c.normal = vec3.T{float32(n[0]), float32(n[1]), float32(n[2])}
			} else {
				hasNormal = false
			}
			if t, ok := uvs.value(pvi, vi, polygon); ok {
				c.uv = vec2.T{float32(t[0]), float32(t[1])}
			} else {
				hasUV = false
			}
			return c
		}
		for i := 1; i+1 < len(poly); i++ {
			buckets[mi] = append(buckets[mi], makeCorner(poly[0]), makeCorner(poly[i]), makeCorner(poly[i+1]))
		}
		poly = poly[:0]
		polygon++
	}

	keys := make([]int, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	out := scene.NewGeometry(nil)
	for _, k := range keys {
		start := len(out.Positions)
		for _, c := range buckets[k] {
			out.Positions = append(out.Positions, c.position)
			out.Normals = append(out.Normals, c.normal)
			out.UVs = append(out.UVs, c.uv)
		}
		if materialCount > 1 {
			out.AddGroup(start, len(out.Positions)-start, k)
		}
	}
	if !hasUV {
		out.UVs = nil
	}
	if !hasNormal {
		out.Normals = nil
		out.ComputeVertexNormals()
	}
	return out, nil
}

func (b *builder) buildMaterial(id int64) *scene.Material {
	if m, ok := b.materials[id]; ok {
		return m
	}
	o := b.objects[id]
	name := objectName(o.PropString(1))

	var m *scene.Material
	if strings.EqualFold(o.ChildString("ShadingModel"), "lambert") {
		m = scene.NewLambertMaterial(name)
	} else {
		m = scene.NewPhongMaterial(name)
	}

	props := properties70(o)
	for _, key := range []string{"DiffuseColor", "Diffuse"} {
		if c, ok := propColor(props[key]); ok {
			m.Color = c
			break
		}
	}
	for _, key := range []string{"EmissiveColor", "Emissive"} {
		if c, ok := propColor(props[key]); ok {
			m.Emissive = c
			break
		}
	}
	if m.Kind == scene.MaterialPhong {
		for _, key := range []string{"SpecularColor", "Specular"} {
			if c, ok := propColor(props[key]); ok {
				m.Specular = c
				break
			}
		}
		for _, key := range []string{"Shininess", "ShininessExponent"} {
			if f, ok := props[key].PropFloat(4); ok {
				m.Shininess = float32(f)
				break
			}
		}
	}
	if f, ok := props["Opacity"].PropFloat(4); ok {
		m.Opacity = float32(f)
	} else if f, ok := props["TransparencyFactor"].PropFloat(4); ok && f > 0 {
		m.Opacity = float32(1 - f)
	}
	m.Transparent = m.Opacity < 1

	for _, c := range b.children[id] {
		if c.kind == "OP" && c.prop == "DiffuseColor" {
			if t, ok := b.objects[c.child]; ok && t.Name == "Texture" {
				m.MapName, m.Map = b.buildTexture(c.child, t)
				break
			}
		}
	}
	b.materials[id] = m
	return m
}

// buildTexture 读取嵌入在 Video 记录 Content 中的图像，外部文件只保留文件名
func (b *builder) buildTexture(id int64, t *Node) (string, *scene.Texture) {
	file := t.ChildString("RelativeFilename")
	if file == "" {
		file = t.ChildString("FileName")
	}
	file = path.Base(strings.ReplaceAll(file, "\\", "/"))
	if tex, ok := b.textures[id]; ok {
		return file, tex
	}
	for _, vid := range b.connected(id, "Video") {
		content := b.objects[vid].Child("Content")
		if content == nil {
			continue
		}
		data, _ := content.prop(0).([]byte)
		if len(data) == 0 {
			continue
		}
		tex, err := b.cache.Texture(file, data, "")
		if err != nil {
			continue
		}
		tex.Repeated = true
		b.textures[id] = tex
		return file, tex
	}
	return file, nil
}

// buildClip 片段时长取 LocalStart/LocalStop，轨道数为挂在各动画层下的曲线节点数
func (b *builder) buildClip(id int64, o *Node) *anim.Clip {
	clip := &anim.Clip{Name: objectName(o.PropString(1))}
	props := properties70(o)
	start, _ := props["LocalStart"].PropInt(4)
	stop, ok := props["LocalStop"].PropInt(4)
	if !ok {
		start, _ = props["ReferenceStart"].PropInt(4)
		stop, _ = props["ReferenceStop"].PropInt(4)
	}
	if stop > start {
		clip.Duration = float64(stop-start) / KTimeSecond
	}
	for _, lid := range b.connected(id, "AnimationLayer") {
		clip.Tracks += len(b.connected(lid, "AnimationCurveNode"))
	}
	return clip
}
