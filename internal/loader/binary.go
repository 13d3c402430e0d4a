package loader

import (
	"errors"
	"fmt"

	"github.com/flywave/meshview/internal/anim"
	"github.com/flywave/meshview/internal/fbx"
	"github.com/flywave/meshview/internal/gltfio"
	"github.com/flywave/meshview/internal/scene"
)

// ErrMalformed 解析器在损坏的输入上崩溃时返回
var ErrMalformed = errors.New("malformed file")

type decodeFunc func(data []byte, cache *scene.Cache) (*scene.Node, []*anim.Clip, error)

// guarded 将解析器中的 panic 转换为错误，保证调用方总能收到失败结果
func guarded(decode decodeFunc, data []byte, cache *scene.Cache) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("%w: %v", ErrMalformed, r)
		}
	}()
	root, clips, err := decode(data, cache)
	if err != nil {
		return nil, err
	}
	return &Result{Root: root, Clips: clips}, nil
}

// ParseGLTF 解析 .gltf/.glb 数据
func ParseGLTF(data []byte, cache *scene.Cache) (*Result, error) {
	return guarded(gltfio.Decode, data, cache)
}

// ParseFBX 解析二进制 .fbx 数据
func ParseFBX(data []byte, cache *scene.Cache) (*Result, error) {
	return guarded(fbx.Decode, data, cache)
}
