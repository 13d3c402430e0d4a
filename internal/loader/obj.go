package loader

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/flywave/go3d/vec2"
	"github.com/flywave/go3d/vec3"

	"github.com/flywave/meshview/internal/scene"
)

type objMaterialRange struct {
	name  string
	start int
}

// objObject accumulates one o/g section as expanded (non-indexed) triangles.
type objObject struct {
	name      string
	positions []vec3.T
	normals   []vec3.T
	uvs       []vec2.T
	hasNormal bool
	hasUV     bool
	materials []objMaterialRange
}

func (o *objObject) useMaterial(name string) {
	n := len(o.materials)
	if n > 0 && o.materials[n-1].start == len(o.positions) {
		o.materials[n-1].name = name
		return
	}
	o.materials = append(o.materials, objMaterialRange{name: name, start: len(o.positions)})
}

type objParser struct {
	vertices []vec3.T
	normals  []vec3.T
	uvs      []vec2.T
	objects  []*objObject
	cur      *objObject
}

func (p *objParser) startObject(name string) {
	if p.cur != nil && len(p.cur.positions) == 0 {
		p.cur.name = name
		return
	}
	next := &objObject{name: name}
	if p.cur != nil && len(p.cur.materials) > 0 {
		// the active material carries over into the new section
		next.materials = []objMaterialRange{{name: p.cur.materials[len(p.cur.materials)-1].name}}
	}
	p.cur = next
	p.objects = append(p.objects, p.cur)
}

// ParseOBJ parses Wavefront OBJ text into a group with one mesh child per
// object section. When creator is non-nil, usemtl names are resolved through
// it; otherwise meshes carry no material.
func ParseOBJ(text string, creator *MaterialCreator) (*scene.Node, error) {
	p := &objParser{}
	p.startObject("")

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		for strings.HasSuffix(line, "\\") && scanner.Scan() {
			lineNum++
			line = strings.TrimSuffix(line, "\\") + " " + strings.TrimSpace(scanner.Text())
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := p.parseLine(line); err != nil {
			return nil, fmt.Errorf("obj line %d: %q: %w", lineNum, line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return p.build(creator), nil
}

func (p *objParser) parseLine(line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "v":
		v, err := parseFloats(fields[1:], 3)
		if err != nil {
			return err
		}
		p.vertices = append(p.vertices, vec3.T{v[0], v[1], v[2]})
	case "vn":
		v, err := parseFloats(fields[1:], 3)
		if err != nil {
			return err
		}
		p.normals = append(p.normals, vec3.T{v[0], v[1], v[2]})
	case "vt":
		v, err := parseFloats(fields[1:], 2)
		if err != nil {
			return err
		}
		p.uvs = append(p.uvs, vec2.T{v[0], v[1]})
	case "f":
		return p.parseFace(fields[1:])
	case "o", "g":
		p.startObject(strings.TrimSpace(strings.TrimPrefix(line, fields[0])))
	case "usemtl":
		p.cur.useMaterial(strings.TrimSpace(strings.TrimPrefix(line, "usemtl")))
	default:
		// mtllib, smoothing groups, lines, points and free-form statements are
		// not used
	}
	return nil
}

func parseFloats(fields []string, n int) ([]float32, error) {
	if len(fields) < n {
		return nil, fmt.Errorf("expected %d values, got %d", n, len(fields))
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v, err := strconv.ParseFloat(fields[i], 32)
		if err != nil {
			return nil, err
		}
		out[i] = float32(v)
	}
	return out, nil
}

// resolveIndex maps a 1-based (or negative, relative) OBJ index to 0-based.
func resolveIndex(s string, count int) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if i < 0 {
		i += count
	} else {
		i--
	}
	if i < 0 || i >= count {
		return 0, fmt.Errorf("index %s out of range (%d)", s, count)
	}
	return i, nil
}

type objCorner struct {
	v, vt, vn int
}

func (p *objParser) parseFace(fields []string) error {
	if len(fields) < 3 {
		return fmt.Errorf("face needs at least 3 vertices, got %d", len(fields))
	}
	corners := make([]objCorner, 0, len(fields))
	for _, field := range fields {
		parts := strings.Split(field, "/")
		c := objCorner{vt: -1, vn: -1}
		var err error
		if c.v, err = resolveIndex(parts[0], len(p.vertices)); err != nil {
			return err
		}
		if len(parts) > 1 && parts[1] != "" {
			if c.vt, err = resolveIndex(parts[1], len(p.uvs)); err != nil {
				return err
			}
		}
		if len(parts) > 2 && parts[2] != "" {
			if c.vn, err = resolveIndex(parts[2], len(p.normals)); err != nil {
				return err
			}
		}
		corners = append(corners, c)
	}
	for i := 1; i+1 < len(corners); i++ {
		p.addCorner(corners[0])
		p.addCorner(corners[i])
		p.addCorner(corners[i+1])
	}
	return nil
}

func (p *objParser) addCorner(c objCorner) {
	o := p.cur
	o.positions = append(o.positions, p.vertices[c.v])
	if c.vn >= 0 {
		o.hasNormal = true
		o.normals = append(o.normals, p.normals[c.vn])
	} else {
		o.normals = append(o.normals, vec3.T{})
	}
	if c.vt >= 0 {
		o.hasUV = true
		o.uvs = append(o.uvs, p.uvs[c.vt])
	} else {
		o.uvs = append(o.uvs, vec2.T{})
	}
}

func (p *objParser) build(creator *MaterialCreator) *scene.Node {
	root := scene.NewGroup("")
	for _, o := range p.objects {
		if len(o.positions) == 0 {
			continue
		}
		geo := scene.NewGeometry(o.positions)
		if o.hasUV {
			geo.UVs = o.uvs
		}
		if o.hasNormal {
			geo.Normals = o.normals
		} else {
			geo.ComputeVertexNormals()
		}

		mesh := scene.NewMesh(o.name, geo)
		ranges := o.materials
		if len(ranges) > 0 && ranges[0].start > 0 {
			ranges = append([]objMaterialRange{{start: 0}}, ranges...)
		}
		if creator != nil && len(ranges) > 0 {
			for i, r := range ranges {
				m := creator.Create(r.name)
				if m == nil {
					m = scene.NewPhongMaterial(r.name)
				}
				mesh.Materials = append(mesh.Materials, m)
				end := len(o.positions)
				if i+1 < len(ranges) {
					end = ranges[i+1].start
				}
				if len(ranges) > 1 {
					geo.AddGroup(r.start, end-r.start, i)
				}
			}
		}
		root.Add(mesh)
	}
	return root
}
