package gltfio

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/flywave/meshview/internal/anim"
)

const (
	glbMagic     = "glTF"
	glbChunkJSON = 0x4E4F534A
)

var (
	ErrExternalResource = errors.New("external resources are not supported")
	ErrInvalidGLB       = errors.New("invalid glb container")
)

// rawDocument 只包含预检所需的字段
type rawDocument struct {
	Buffers []struct {
		URI string `json:"uri"`
	} `json:"buffers"`
	Images []struct {
		URI string `json:"uri"`
	} `json:"images"`
	Accessors []struct {
		Max []float64 `json:"max"`
	} `json:"accessors"`
	Animations []struct {
		Name     string `json:"name"`
		Channels []struct {
			Sampler int `json:"sampler"`
		} `json:"channels"`
		Samplers []struct {
			Input int `json:"input"`
		} `json:"samplers"`
	} `json:"animations"`
}

// IsBinary 判断数据是否为 GLB 容器
func IsBinary(data []byte) bool {
	return len(data) >= 4 && string(data[:4]) == glbMagic
}

// jsonChunk 返回 GLB 的 JSON 块，文本 glTF 原样返回
func jsonChunk(data []byte) ([]byte, error) {
	if !IsBinary(data) {
		return data, nil
	}
	if len(data) < 20 {
		return nil, ErrInvalidGLB
	}
	length := binary.LittleEndian.Uint32(data[12:16])
	typ := binary.LittleEndian.Uint32(data[16:20])
	if typ != glbChunkJSON || int(length) > len(data)-20 {
		return nil, ErrInvalidGLB
	}
	return data[20 : 20+length], nil
}

// prescan 检查外部资源引用并提取动画片段
func prescan(data []byte) ([]*anim.Clip, error) {
	chunk, err := jsonChunk(data)
	if err != nil {
		return nil, err
	}
	var raw rawDocument
	if err := json.NewDecoder(bytes.NewReader(chunk)).Decode(&raw); err != nil {
		return nil, err
	}
	for _, b := range raw.Buffers {
		if b.URI != "" && !isDataURI(b.URI) {
			return nil, fmt.Errorf("buffer %q: %w", b.URI, ErrExternalResource)
		}
	}
	for _, im := range raw.Images {
		if im.URI != "" && !isDataURI(im.URI) {
			return nil, fmt.Errorf("image %q: %w", im.URI, ErrExternalResource)
		}
	}

	var clips []*anim.Clip
	for i, a := range raw.Animations {
		clip := &anim.Clip{Name: a.Name, Tracks: len(a.Channels)}
		if clip.Name == "" {
			clip.Name = fmt.Sprintf("animation_%d", i)
		}
		for _, ch := range a.Channels {
			if ch.Sampler < 0 || ch.Sampler >= len(a.Samplers) {
				continue
			}
			in := a.Samplers[ch.Sampler].Input
			if in < 0 || in >= len(raw.Accessors) || len(raw.Accessors[in].Max) == 0 {
				continue
			}
			if d := raw.Accessors[in].Max[0]; d > clip.Duration {
				clip.Duration = d
			}
		}
		clips = append(clips, clip)
	}
	return clips, nil
}

func isDataURI(uri string) bool {
	return strings.HasPrefix(uri, "data:")
}
