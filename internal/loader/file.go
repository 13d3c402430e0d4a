package loader

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
)

// File is a user-supplied file: a name and content that is read on demand.
type File interface {
	Name() string
	Open(ctx context.Context) (io.ReadCloser, error)
}

// ReadBinary reads the whole file.
func ReadBinary(ctx context.Context, f File) ([]byte, error) {
	rc, err := f.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func ReadText(ctx context.Context, f File) (string, error) {
	data, err := ReadBinary(ctx, f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// MemFile holds an uploaded file in memory.
type MemFile struct {
	name string
	data []byte
}

func NewMemFile(name string, data []byte) *MemFile {
	return &MemFile{name: name, data: data}
}

func (f *MemFile) Name() string { return f.name }

func (f *MemFile) Size() int { return len(f.data) }

func (f *MemFile) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

// PathFile reads from the local filesystem.
type PathFile struct {
	path string
}

func NewPathFile(path string) *PathFile {
	return &PathFile{path: path}
}

func (f *PathFile) Name() string { return filepath.Base(f.path) }

func (f *PathFile) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.Open(f.path)
}
