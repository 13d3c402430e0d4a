// Package loader dispatches user files to the format parsers and implements
// the Wavefront OBJ/MTL text formats.
package loader

import (
	"errors"
	"strings"

	"github.com/flywave/meshview/internal/anim"
	"github.com/flywave/meshview/internal/scene"
)

var ErrUnsupportedFormat = errors.New("unsupported file type")

// Format is the handling selected for a file by its extension.
type Format int

const (
	FormatUnsupported Format = iota
	FormatMTL
	FormatOBJ
	FormatGLTF
	FormatFBX
)

func (f Format) String() string {
	switch f {
	case FormatMTL:
		return "MTL"
	case FormatOBJ:
		return "OBJ"
	case FormatGLTF:
		return "GLTF"
	case FormatFBX:
		return "FBX"
	}
	return "unsupported"
}

// Extension returns the lowercase text after the last dot of name. A name
// without a dot is returned whole.
func Extension(name string) string {
	name = strings.ToLower(name)
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

func FormatOf(name string) Format {
	switch Extension(name) {
	case "mtl":
		return FormatMTL
	case "obj":
		return FormatOBJ
	case "glb", "gltf":
		return FormatGLTF
	case "fbx":
		return FormatFBX
	}
	return FormatUnsupported
}

// Result is a parsed model: the root node and its animation clips.
type Result struct {
	Root  *scene.Node
	Clips []*anim.Clip
}
