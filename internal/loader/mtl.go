package loader

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/flywave/meshview/internal/scene"
)

// mtlInfo is one newmtl block as read from the file.
type mtlInfo struct {
	Name    string
	Kd      *colorful.Color
	Ks      *colorful.Color
	Ke      *colorful.Color
	Ns      *float32
	Opacity *float32
	KdTex   string
}

// MaterialCreator turns parsed MTL definitions into scene materials.
type MaterialCreator struct {
	infos     map[string]*mtlInfo
	order     []string
	materials map[string]*scene.Material
}

// ParseMTL reads MTL text. Unknown statements are ignored; malformed values
// of known statements are errors.
func ParseMTL(text string) (*MaterialCreator, error) {
	mc := &MaterialCreator{
		infos:     make(map[string]*mtlInfo),
		materials: make(map[string]*scene.Material),
	}
	var cur *mtlInfo

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value := splitStatement(line)
		key = strings.ToLower(key)

		if key == "newmtl" {
			cur = &mtlInfo{Name: value}
			if _, ok := mc.infos[value]; !ok {
				mc.order = append(mc.order, value)
			}
			mc.infos[value] = cur
			continue
		}
		if cur == nil {
			continue
		}

		var err error
		switch key {
		case "kd":
			cur.Kd, err = parseMTLColor(value)
		case "ks":
			cur.Ks, err = parseMTLColor(value)
		case "ke":
			cur.Ke, err = parseMTLColor(value)
		case "ns":
			cur.Ns, err = parseMTLFloat(value)
		case "d":
			cur.Opacity, err = parseMTLFloat(value)
		case "tr":
			var tr *float32
			if tr, err = parseMTLFloat(value); err == nil {
				o := 1 - *tr
				cur.Opacity = &o
			}
		case "map_kd":
			fields := strings.Fields(value)
			if len(fields) > 0 {
				cur.KdTex = fields[len(fields)-1]
			}
		}
		if err != nil {
			return nil, fmt.Errorf("mtl line %d: %q: %w", lineNum, line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return mc, nil
}

func splitStatement(line string) (string, string) {
	i := strings.IndexAny(line, " \t")
	if i < 0 {
		return line, ""
	}
	return line[:i], strings.TrimSpace(line[i+1:])
}

func parseMTLColor(value string) (*colorful.Color, error) {
	fields := strings.Fields(value)
	if len(fields) < 3 {
		return nil, fmt.Errorf("expected 3 color components, got %d", len(fields))
	}
	var rgb [3]float64
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, err
		}
		rgb[i] = v
	}
	c := colorful.Color{R: rgb[0], G: rgb[1], B: rgb[2]}
	return &c, nil
}

func parseMTLFloat(value string) (*float32, error) {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return nil, fmt.Errorf("missing value")
	}
	v, err := strconv.ParseFloat(fields[0], 32)
	if err != nil {
		return nil, err
	}
	f := float32(v)
	return &f, nil
}

// Names returns material names in file order.
func (mc *MaterialCreator) Names() []string {
	return mc.order
}

// Preload creates every material up front.
func (mc *MaterialCreator) Preload() {
	for _, name := range mc.order {
		mc.Create(name)
	}
}

// Create returns the phong material named name, or nil when the file did not
// define it. Repeated calls return the same instance.
func (mc *MaterialCreator) Create(name string) *scene.Material {
	if m, ok := mc.materials[name]; ok {
		return m
	}
	info, ok := mc.infos[name]
	if !ok {
		return nil
	}
	m := scene.NewPhongMaterial(name)
	if info.Kd != nil {
		m.Color = *info.Kd
	}
	if info.Ks != nil {
		m.Specular = *info.Ks
	}
	if info.Ke != nil {
		m.Emissive = *info.Ke
	}
	if info.Ns != nil {
		m.Shininess = *info.Ns
	}
	if info.Opacity != nil {
		m.Opacity = *info.Opacity
		m.Transparent = *info.Opacity < 1
	}
	m.MapName = info.KdTex
	mc.materials[name] = m
	return m
}
