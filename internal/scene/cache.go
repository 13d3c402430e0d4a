package scene

import (
	"crypto/sha1"
	"encoding/hex"
	"sync"
)

// Cache 引擎级资源缓存，同一份纹理数据只解码一次
type Cache struct {
	mu      sync.Mutex
	files   map[string]interface{}
	Enabled bool
}

func NewCache() *Cache {
	return &Cache{files: make(map[string]interface{}), Enabled: true}
}

// Key 以内容摘要作为缓存键
func Key(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

func (c *Cache) Add(key string, v interface{}) {
	if c == nil || !c.Enabled {
		return
	}
	c.mu.Lock()
	c.files[key] = v
	c.mu.Unlock()
}

func (c *Cache) Get(key string) (interface{}, bool) {
	if c == nil || !c.Enabled {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.files[key]
	return v, ok
}

func (c *Cache) Remove(key string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.files, key)
	c.mu.Unlock()
}

func (c *Cache) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.files = make(map[string]interface{})
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.files)
}

// Texture 从缓存取纹理，未命中时创建并写入
func (c *Cache) Texture(name string, data []byte, mime string) (*Texture, error) {
	key := Key(data)
	if v, ok := c.Get(key); ok {
		if tex, ok := v.(*Texture); ok && !tex.Disposed() {
			return tex, nil
		}
	}
	tex, err := NewTexture(name, data, mime)
	if err != nil {
		return nil, err
	}
	c.Add(key, tex)
	return tex, nil
}
