// Package storage persists asset bytes and derived thumbnails. It has no
// knowledge of the relational ledger.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"backoffice/internal/errs"

	"github.com/google/uuid"
)

// Area is one of the two parallel key spaces
type Area string

const (
	AreaOriginals  Area = "originals"
	AreaThumbnails Area = "thumbnails"
)

func (a Area) Valid() bool {
	return a == AreaOriginals || a == AreaThumbnails
}

var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo describes one stored object
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Backend stores opaque bytes by (area, key)
type Backend interface {
	Put(ctx context.Context, area Area, key string, r io.Reader, contentType string) error
	Open(ctx context.Context, area Area, key string) (io.ReadCloser, error)
	// Delete is idempotent: removing a missing object is not an error.
	Delete(ctx context.Context, area Area, key string) error
	Exists(ctx context.Context, area Area, key string) (bool, error)
	List(ctx context.Context, area Area) ([]ObjectInfo, error)
}

var allowedExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// AllowedExtensions lists the accepted upload extensions
func AllowedExtensions() []string {
	return []string{".gif", ".jpeg", ".jpg", ".png", ".webp"}
}

// Extension validates the file name against the allow-list and returns the
// lower-cased extension including the dot.
func Extension(name string) (string, error) {
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		return "", errs.Validation("file %q has no extension; allowed: %s", name, strings.Join(AllowedExtensions(), ", "))
	}
	if _, ok := allowedExtensions[ext]; !ok {
		return "", errs.Validation("file type %q is not allowed; allowed: %s", ext, strings.Join(AllowedExtensions(), ", "))
	}
	return ext, nil
}

func ContentType(ext string) string {
	if ct, ok := allowedExtensions[strings.ToLower(ext)]; ok {
		return ct
	}
	return "application/octet-stream"
}

// NewStorageKey derives a fresh key from a random UUID; the original file
// name never takes part.
func NewStorageKey(ext string) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "") + ext
}

// ThumbnailKey names the PNG thumbnail for a storage key
func ThumbnailKey(storageKey string) string {
	return "thumb_" + strings.TrimSuffix(storageKey, path.Ext(storageKey)) + ".png"
}

// ValidKey rejects anything that could escape its area
func ValidKey(key string) bool {
	if key == "" || key == "." || key == ".." {
		return false
	}
	return !strings.ContainsAny(key, `/\`) && !strings.Contains(key, "..")
}
