// Package fbx 读取二进制 FBX (Kaydara) 文件并构建场景树
package fbx

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	headerMagic = "Kaydara FBX Binary  \x00"
	headerSize  = 27

	// 单个数组属性解压后的上限
	maxArrayBytes = 1 << 28
)

var (
	ErrNotBinary = errors.New("not a binary fbx file")
	ErrTruncated = errors.New("fbx data truncated")
)

// Node FBX 记录：名称、属性值列表与子记录
type Node struct {
	Name     string
	Props    []interface{}
	Children []*Node
}

// Document 解析后的文件，Nodes 为顶层记录
type Document struct {
	Version uint32
	Nodes   []*Node
}

func (d *Document) Child(name string) *Node {
	for _, n := range d.Nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// Parse 解析二进制 FBX 数据
func Parse(data []byte) (*Document, error) {
	if len(data) < headerSize || string(data[:len(headerMagic)]) != headerMagic {
		return nil, ErrNotBinary
	}
	r := &reader{data: data, pos: headerSize}
	doc := &Document{Version: binary.LittleEndian.Uint32(data[23:27])}
	r.wide = doc.Version >= 7500

	for r.pos < len(data) {
		n, err := r.readNode()
		if err != nil {
			return nil, err
		}
		if n == nil {
			break
		}
		doc.Nodes = append(doc.Nodes, n)
	}
	return doc, nil
}

type reader struct {
	data []byte
	pos  int
	wide bool
}

func (r *reader) need(n int) error {
	if n < 0 || r.pos+n > len(r.data) {
		return ErrTruncated
	}
	return nil
}

func (r *reader) u8() byte {
	v := r.data[r.pos]
	r.pos++
	return v
}

func (r *reader) u32() uint32 {
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) u64() uint64 {
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v
}

// readNode 读取一条记录，遇到空记录返回 nil
func (r *reader) readNode() (*Node, error) {
	var end, numProps uint64
	if r.wide {
		if err := r.need(25); err != nil {
			return nil, err
		}
		end, numProps = r.u64(), r.u64()
		r.u64()
	} else {
		if err := r.need(13); err != nil {
			return nil, err
		}
		end, numProps = uint64(r.u32()), uint64(r.u32())
		r.u32()
	}
	nameLen := int(r.u8())
	if end == 0 {
		return nil, nil
	}
	if end > uint64(len(r.data)) || int(end) < r.pos {
		return nil, fmt.Errorf("record end %d: %w", end, ErrTruncated)
	}
	if err := r.need(nameLen); err != nil {
		return nil, err
	}
	n := &Node{Name: string(r.data[r.pos : r.pos+nameLen])}
	r.pos += nameLen

	for i := uint64(0); i < numProps; i++ {
		v, err := r.readProp()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", n.Name, err)
		}
		n.Props = append(n.Props, v)
	}

	for r.pos < int(end) {
		child, err := r.readNode()
		if err != nil {
			return nil, err
		}
		if child == nil {
			break
		}
		n.Children = append(n.Children, child)
	}
	r.pos = int(end)
	return n, nil
}

func (r *reader) readProp() (interface{}, error) {
	if err := r.need(1); err != nil {
		return nil, err
	}
	code := r.u8()
	switch code {
	case 'Y':
		if err := r.need(2); err != nil {
			return nil, err
		}
		v := int16(binary.LittleEndian.Uint16(r.data[r.pos:]))
		r.pos += 2
		return v, nil
	case 'C':
		if err := r.need(1); err != nil {
			return nil, err
		}
		return r.u8() != 0, nil
	case 'I':
		if err := r.need(4); err != nil {
			return nil, err
		}
		return int32(r.u32()), nil
	case 'F':
		if err := r.need(4); err != nil {
			return nil, err
		}
		return math.Float32frombits(r.u32()), nil
	case 'D':
		if err := r.need(8); err != nil {
			return nil, err
		}
		return math.Float64frombits(r.u64()), nil
	case 'L':
		if err := r.need(8); err != nil {
			return nil, err
		}
		return int64(r.u64()), nil
	case 'S', 'R':
		if err := r.need(4); err != nil {
			return nil, err
		}
		l := int(r.u32())
		if err := r.need(l); err != nil {
			return nil, err
		}
		raw := r.data[r.pos : r.pos+l]
		r.pos += l
		if code == 'S' {
			return string(raw), nil
		}
		return append([]byte(nil), raw...), nil
	case 'f', 'd', 'l', 'i', 'b':
		return r.readArray(code)
	}
	return nil, fmt.Errorf("unknown property type %q", code)
}

func (r *reader) readArray(code byte) (interface{}, error) {
	if err := r.need(12); err != nil {
		return nil, err
	}
	count := int(r.u32())
	encoding := r.u32()
	compressed := int(r.u32())
	if err := r.need(compressed); err != nil {
		return nil, err
	}
	raw := r.data[r.pos : r.pos+compressed]
	r.pos += compressed

	elem := 4
	switch code {
	case 'd', 'l':
		elem = 8
	case 'b':
		elem = 1
	}
	size := count * elem
	if count < 0 || size > maxArrayBytes {
		return nil, fmt.Errorf("array of %d elements too large", count)
	}

	switch encoding {
	case 0:
	case 1:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size)
		_, err = io.ReadFull(zr, buf)
		zr.Close()
		if err != nil {
			return nil, fmt.Errorf("inflate array: %w", err)
		}
		raw = buf
	default:
		return nil, fmt.Errorf("unknown array encoding %d", encoding)
	}
	if len(raw) < size {
		return nil, ErrTruncated
	}

	switch code {
	case 'f':
		out := make([]float32, count)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out, nil
	case 'd':
		out := make([]float64, count)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		}
		return out, nil
	case 'l':
		out := make([]int64, count)
		for i := range out {
			out[i] = int64(binary.LittleEndian.Uint64(raw[i*8:]))
		}
		return out, nil
	case 'i':
		out := make([]int32, count)
		for i := range out {
			out[i] = int32(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out, nil
	default:
		out := make([]bool, count)
		for i := range out {
			out[i] = raw[i] != 0
		}
		return out, nil
	}
}

// Child 返回第一个同名子记录
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (n *Node) ChildrenNamed(name string) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

func (n *Node) prop(i int) interface{} {
	if n == nil || i >= len(n.Props) {
		return nil
	}
	return n.Props[i]
}

// PropString 第 i 个属性的字符串值
func (n *Node) PropString(i int) string {
	switch v := n.prop(i).(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	return ""
}

func (n *Node) PropInt(i int) (int64, bool) {
	switch v := n.prop(i).(type) {
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func (n *Node) PropFloat(i int) (float64, bool) {
	switch v := n.prop(i).(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	if iv, ok := n.PropInt(i); ok {
		return float64(iv), true
	}
	return 0, false
}

// Float64s 返回第一个属性的浮点数组
func (n *Node) Float64s() []float64 {
	switch v := n.prop(0).(type) {
	case []float64:
		return v
	case []float32:
		out := make([]float64, len(v))
		for i, f := range v {
			out[i] = float64(f)
		}
		return out
	}
	return nil
}

// Ints 返回第一个属性的整数数组
func (n *Node) Ints() []int {
	switch v := n.prop(0).(type) {
	case []int32:
		out := make([]int, len(v))
		for i, x := range v {
			out[i] = int(x)
		}
		return out
	case []int64:
		out := make([]int, len(v))
		for i, x := range v {
			out[i] = int(x)
		}
		return out
	}
	return nil
}

// ChildString 返回同名子记录的字符串值
func (n *Node) ChildString(name string) string {
	return n.Child(name).PropString(0)
}
