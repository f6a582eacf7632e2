package filestore

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"

	"classroom/internal/apperror"
)

// Memory keeps uploads in process memory.
type Memory struct {
	mu    sync.RWMutex
	files map[string]memFile
}

type memFile struct {
	contentType string
	data        []byte
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{files: make(map[string]memFile)}
}

func (m *Memory) Upload(ctx context.Context, path, contentType string, r io.Reader) (Object, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, r)
	if err != nil {
		return Object{}, errors.Wrap(err, "read upload")
	}
	m.mu.Lock()
	m.files[path] = memFile{contentType: contentType, data: buf.Bytes()}
	m.mu.Unlock()
	return Object{Path: path, URL: "memory://" + path, ContentType: contentType, Size: n}, nil
}

func (m *Memory) DownloadURL(ctx context.Context, path string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.files[path]; !ok {
		return "", apperror.ErrNotFound
	}
	return "memory://" + path, nil
}

// Delete removes path; a missing path is not an error.
func (m *Memory) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	delete(m.files, path)
	m.mu.Unlock()
	return nil
}

// Open returns the stored bytes of path.
func (m *Memory) Open(path string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[path]
	return f.data, ok
}
