package imagestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Compile-time interface check.
var _ Store = (*Local)(nil)

// Local stores images on the local filesystem as <root>/<name>.jpg.
type Local struct {
	root string
}

// NewLocal creates a local image store rooted at the given directory.
func NewLocal(root string) *Local {
	return &Local{root: root}
}

// Save writes the image and returns its path as the handle.
func (l *Local) Save(ctx context.Context, data []byte, name string) (string, error) {
	if err := os.MkdirAll(l.root, 0o755); err != nil {
		return "", fmt.Errorf("imagestore: create directory %s: %w", l.root, err)
	}

	path := filepath.Join(l.root, name+".jpg")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("imagestore: write %s: %w", path, err)
	}
	return path, nil
}
