// Package filestore stores uploaded files and hands out download URLs.
package filestore

import (
	"context"
	"io"
	"path"
	"strings"
)

// Object describes a stored file.
type Object struct {
	Path        string `json:"path"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Storage uploads files under slash-separated paths.
type Storage interface {
	Upload(ctx context.Context, path, contentType string, r io.Reader) (Object, error)
	DownloadURL(ctx context.Context, path string) (string, error)
	Delete(ctx context.Context, path string) error
}

// CleanName reduces a client-supplied file name to a safe final path element.
func CleanName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "file"
	}
	return out
}
