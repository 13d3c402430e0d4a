package scene

import (
	"bytes"
	"errors"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var ErrUnknownImage = errors.New("unknown image format")

// Texture 纹理，保留原始编码数据以便导出时直接写回
type Texture struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	MimeType string    `json:"mimeType"`
	Size     [2]uint64 `json:"size"`
	Data     []byte    `json:"-"`
	Repeated bool      `json:"repeated"`
	disposed bool
}

// NewTexture 根据编码数据创建纹理，mime 为空时按文件头识别
func NewTexture(name string, data []byte, mime string) (*Texture, error) {
	if mime == "" {
		kind, err := filetype.Match(data)
		if err != nil || kind == filetype.Unknown || !filetype.IsImage(data) {
			return nil, ErrUnknownImage
		}
		mime = kind.MIME.Value
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &Texture{
		ID:       uuid.NewString(),
		Name:     name,
		MimeType: mime,
		Size:     [2]uint64{uint64(cfg.Width), uint64(cfg.Height)},
		Data:     data,
		Repeated: true,
	}, nil
}

func (t *Texture) Dispose() bool {
	if t.disposed {
		return false
	}
	t.Data = nil
	t.disposed = true
	return true
}

func (t *Texture) Disposed() bool {
	return t.disposed
}
