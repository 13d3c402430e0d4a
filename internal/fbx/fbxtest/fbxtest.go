// Package fbxtest 生成测试用的二进制 FBX 数据
package fbxtest

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"math"
)

const headerMagic = "Kaydara FBX Binary  \x00"

// Node 待编码的 FBX 记录
type Node struct {
	Name     string
	Props    []interface{}
	Children []*Node
}

func N(name string, props ...interface{}) *Node {
	return &Node{Name: name, Props: props}
}

// With 追加子记录并返回自身
func (n *Node) With(children ...*Node) *Node {
	n.Children = append(n.Children, children...)
	return n
}

// P 构造 Properties70 中的一条属性
func P(name, typ, label, flags string, values ...interface{}) *Node {
	return N("P", append([]interface{}{name, typ, label, flags}, values...)...)
}

func Props70(ps ...*Node) *Node {
	return N("Properties70").With(ps...)
}

// ObjectName 按二进制格式拼接对象名与类名
func ObjectName(name, class string) string {
	return name + "\x00\x01" + class
}

// Encoder 将记录编码为二进制 FBX，版本号 >= 7500 时使用 64 位偏移
type Encoder struct {
	Version  uint32
	Compress bool
}

func (e *Encoder) Encode(nodes ...*Node) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(headerMagic)
	buf.Write([]byte{0x1A, 0x00})
	binary.Write(&buf, binary.LittleEndian, e.Version)
	for _, n := range nodes {
		if err := e.writeNode(&buf, n); err != nil {
			return nil, err
		}
	}
	e.writeNull(&buf)
	return buf.Bytes(), nil
}

func (e *Encoder) wide() bool {
	return e.Version >= 7500
}

func (e *Encoder) writeNull(buf *bytes.Buffer) {
	if e.wide() {
		buf.Write(make([]byte, 25))
	} else {
		buf.Write(make([]byte, 13))
	}
}

func (e *Encoder) writeNode(buf *bytes.Buffer, n *Node) error {
	start := buf.Len()
	headerLen := 13
	if e.wide() {
		headerLen = 25
	}
	buf.Write(make([]byte, headerLen-1))
	buf.WriteByte(byte(len(n.Name)))
	buf.WriteString(n.Name)

	propStart := buf.Len()
	for _, p := range n.Props {
		if err := e.writeProp(buf, p); err != nil {
			return fmt.Errorf("%s: %w", n.Name, err)
		}
	}
	propLen := buf.Len() - propStart

	for _, c := range n.Children {
		if err := e.writeNode(buf, c); err != nil {
			return err
		}
	}
	if len(n.Children) > 0 {
		e.writeNull(buf)
	}

	out := buf.Bytes()
	if e.wide() {
		binary.LittleEndian.PutUint64(out[start:], uint64(buf.Len()))
		binary.LittleEndian.PutUint64(out[start+8:], uint64(len(n.Props)))
		binary.LittleEndian.PutUint64(out[start+16:], uint64(propLen))
	} else {
		binary.LittleEndian.PutUint32(out[start:], uint32(buf.Len()))
		binary.LittleEndian.PutUint32(out[start+4:], uint32(len(n.Props)))
		binary.LittleEndian.PutUint32(out[start+8:], uint32(propLen))
	}
	return nil
}

func (e *Encoder) writeProp(buf *bytes.Buffer, p interface{}) error {
	le := binary.LittleEndian
	switch v := p.(type) {
	case int16:
		buf.WriteByte('Y')
		binary.Write(buf, le, v)
	case bool:
		buf.WriteByte('C')
		if v {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case int32:
		buf.WriteByte('I')
		binary.Write(buf, le, v)
	case int:
		buf.WriteByte('I')
		binary.Write(buf, le, int32(v))
	case float32:
		buf.WriteByte('F')
		binary.Write(buf, le, math.Float32bits(v))
	case float64:
		buf.WriteByte('D')
		binary.Write(buf, le, math.Float64bits(v))
	case int64:
		buf.WriteByte('L')
		binary.Write(buf, le, v)
	case string:
		buf.WriteByte('S')
		binary.Write(buf, le, uint32(len(v)))
		buf.WriteString(v)
	case []byte:
		buf.WriteByte('R')
		binary.Write(buf, le, uint32(len(v)))
		buf.Write(v)
	case []float32:
		return e.writeArray(buf, 'f', len(v), v)
	case []float64:
		return e.writeArray(buf, 'd', len(v), v)
	case []int64:
		return e.writeArray(buf, 'l', len(v), v)
	case []int32:
		return e.writeArray(buf, 'i', len(v), v)
	case []bool:
		raw := make([]byte, len(v))
		for i, b := range v {
			if b {
				raw[i] = 1
			}
		}
		return e.writeArray(buf, 'b', len(v), raw)
	default:
		return fmt.Errorf("unsupported property %T", p)
	}
	return nil
}

func (e *Encoder) writeArray(buf *bytes.Buffer, code byte, count int, data interface{}) error {
	var raw bytes.Buffer
	if err := binary.Write(&raw, binary.LittleEndian, data); err != nil {
		return err
	}
	payload := raw.Bytes()
	encoding := uint32(0)
	if e.Compress {
		var z bytes.Buffer
		zw := zlib.NewWriter(&z)
		zw.Write(payload)
		if err := zw.Close(); err != nil {
			return err
		}
		payload = z.Bytes()
		encoding = 1
	}
	buf.WriteByte(code)
	binary.Write(buf, binary.LittleEndian, uint32(count))
	binary.Write(buf, binary.LittleEndian, encoding)
	binary.Write(buf, binary.LittleEndian, uint32(len(payload)))
	buf.Write(payload)
	return nil
}

// Triangle 返回一个带材质与动画栈的单三角形模型
func Triangle(version uint32, compress bool) []byte {
	const (
		modelID    = int64(100)
		geometryID = int64(200)
		materialID = int64(300)
		stackID    = int64(400)
		layerID    = int64(500)
		curveID    = int64(600)
	)
	objects := N("Objects").With(
		N("Geometry", geometryID, ObjectName("TriGeo", "Geometry"), "Mesh").With(
			N("Vertices", []float64{0, 0, 0, 1, 0, 0, 0, 1, 0}),
			N("PolygonVertexIndex", []int32{0, 1, ^int32(2)}),
			N("LayerElementNormal", int32(0)).With(
				N("MappingInformationType", "ByPolygonVertex"),
				N("ReferenceInformationType", "Direct"),
				N("Normals", []float64{0, 0, 1, 0, 0, 1, 0, 0, 1}),
			),
			N("LayerElementMaterial", int32(0)).With(
				N("MappingInformationType", "AllSame"),
				N("ReferenceInformationType", "IndexToDirect"),
				N("Materials", []int32{0}),
			),
		),
		N("Model", modelID, ObjectName("Tri", "Model"), "Mesh").With(
			Props70(
				P("Lcl Translation", "Lcl Translation", "", "A", 1.0, 2.0, 3.0),
				P("Lcl Scaling", "Lcl Scaling", "", "A", 2.0, 2.0, 2.0),
				P("author", "KString", "", "U", "meshview"),
			),
		),
		N("Material", materialID, ObjectName("Red", "Material"), "").With(
			N("ShadingModel", "phong"),
			Props70(
				P("DiffuseColor", "Color", "", "A", 1.0, 0.0, 0.0),
				P("Shininess", "double", "Number", "", 50.0),
			),
		),
		N("AnimationStack", stackID, ObjectName("Take 001", "AnimStack"), "").With(
			Props70(
				P("LocalStart", "KTime", "Time", "", int64(0)),
				P("LocalStop", "KTime", "Time", "", int64(2*46186158000)),
			),
		),
		N("AnimationLayer", layerID, ObjectName("BaseLayer", "AnimLayer"), ""),
		N("AnimationCurveNode", curveID, ObjectName("T", "AnimCurveNode"), ""),
	)
	connections := N("Connections").With(
		N("C", "OO", modelID, int64(0)),
		N("C", "OO", geometryID, modelID),
		N("C", "OO", materialID, modelID),
		N("C", "OO", layerID, stackID),
		N("C", "OO", curveID, layerID),
	)
	enc := &Encoder{Version: version, Compress: compress}
	data, err := enc.Encode(
		N("FBXHeaderExtension").With(N("FBXVersion", int32(version))),
		objects,
		connections,
	)
	if err != nil {
		panic(err)
	}
	return data
}
