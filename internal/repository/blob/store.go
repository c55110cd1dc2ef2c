package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// Store defines operations over named byte blobs. Names are slash separated
// paths relative to the store root.
type Store interface {
	Exists(ctx context.Context, name string) (bool, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Save(ctx context.Context, name string, content []byte) (string, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// LocalPather is implemented by stores that keep blobs on the local filesystem.
type LocalPather interface {
	Path(name string) (string, error)
}

var ErrNotFound = errors.New("blob not found")

// ReadAll opens name and reads it fully.
func ReadAll(ctx context.Context, s Store, name string) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	rc, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// CleanName normalizes a blob name and rejects traversal and absolute paths.
func CleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("name is required")
	}
	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("invalid name: %s", name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return "", fmt.Errorf("invalid name: %s", name)
		}
	}
	return path.Clean(name), nil
}

// IsGzipName reports whether name is a gzip variant produced by the pipeline.
func IsGzipName(name string) bool {
	return strings.HasSuffix(name, ".gz") || strings.Contains(name, ".gz.")
}

func normalizePrefix(prefix string) string {
	return strings.TrimLeft(strings.TrimSpace(prefix), "/")
}
