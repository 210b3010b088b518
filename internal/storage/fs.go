package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FSBackend keeps each area in its own directory under root
type FSBackend struct {
	root string
}

func NewFSBackend(root string) (*FSBackend, error) {
	for _, area := range []Area{AreaOriginals, AreaThumbnails} {
		if err := os.MkdirAll(filepath.Join(root, string(area)), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", area, err)
		}
	}
	return &FSBackend{root: root}, nil
}

func (b *FSBackend) path(area Area, key string) (string, error) {
	if !area.Valid() {
		return "", fmt.Errorf("unknown storage area %q", area)
	}
	if !ValidKey(key) {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(b.root, string(area), key), nil
}

// Put writes to a temporary file and renames it into place
func (b *FSBackend) Put(ctx context.Context, area Area, key string, r io.Reader, _ string) error {
	dst, err := b.path(area, key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s/%s: %w", area, key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to flush %s/%s: %w", area, key, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("failed to place %s/%s: %w", area, key, err)
	}
	return nil
}

func (b *FSBackend) Open(_ context.Context, area Area, key string) (io.ReadCloser, error) {
	p, err := b.path(area, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrObjectNotFound
	}
	return f, err
}

func (b *FSBackend) Delete(_ context.Context, area Area, key string) error {
	p, err := b.path(area, key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (b *FSBackend) Exists(_ context.Context, area Area, key string) (bool, error) {
	p, err := b.path(area, key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// List skips in-flight temp files
func (b *FSBackend) List(_ context.Context, area Area) ([]ObjectInfo, error) {
	if !area.Valid() {
		return nil, fmt.Errorf("unknown storage area %q", area)
	}
	entries, err := os.ReadDir(filepath.Join(b.root, string(area)))
	if err != nil {
		return nil, err
	}

	out := make([]ObjectInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || e.Name()[0] == '.' {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, ObjectInfo{Key: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	return out, nil
}
