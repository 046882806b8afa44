// Package local archives page markup on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// BlobStore writes archived markup under a root directory. Objects are
// replaced atomically, so a reader never sees a half-written page when the
// same URL is archived again.
type BlobStore struct {
	root string
}

// New prepares root, creating it if needed, and checks that it is writable.
func New(root string) (*BlobStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("blob.base_dir is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create archive root: %w", err)
	}
	check, err := os.CreateTemp(root, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("archive root %s is not writable: %w", root, err)
	}
	name := check.Name()
	if err := check.Close(); err != nil {
		return nil, fmt.Errorf("close write check: %w", err)
	}
	if err := os.Remove(name); err != nil {
		return nil, fmt.Errorf("remove write check: %w", err)
	}
	return &BlobStore{root: root}, nil
}

// PutObject writes data at the slash-separated object path and returns a
// file:// URI. Paths must stay inside the root.
func (s *BlobStore) PutObject(ctx context.Context, objectPath string, _ string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("archive %s: %w", objectPath, err)
	}
	rel := filepath.FromSlash(objectPath)
	if strings.TrimSpace(objectPath) == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("invalid object path %q", objectPath)
	}

	dest := filepath.Join(s.root, rel)
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return "", fmt.Errorf("create object dir: %w", err)
	}
	if err := writeAtomic(dest, data); err != nil {
		return "", err
	}

	abs, err := filepath.Abs(dest)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", dest, err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

func writeAtomic(dest string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp object: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("close object: %w", err)
	}
	if err := os.Rename(name, dest); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("publish object: %w", err)
	}
	return nil
}
