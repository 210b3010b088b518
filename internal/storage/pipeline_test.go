package storage

import (
	"context"
	"errors"
	"io"
	"testing"

	"backoffice/internal/errs"
	"backoffice/internal/observability"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingThumbnailer struct{}

func (failingThumbnailer) Thumbnail([]byte, int) ([]byte, error) {
	return nil, errors.New("decoder exploded")
}

// brokenBackend fails every write
type brokenBackend struct {
	Backend
}

func (brokenBackend) Put(context.Context, Area, string, io.Reader, string) error {
	return errors.New("disk full")
}

func (brokenBackend) Delete(context.Context, Area, string) error {
	return nil
}

func newTestPipeline(t *testing.T, thumbs Thumbnailer) (*Pipeline, *FSBackend, *observability.Metrics) {
	t.Helper()
	backend, err := NewFSBackend(t.TempDir())
	require.NoError(t, err)
	metrics := observability.NewMetrics()
	return NewPipeline(backend, thumbs, 200, zerolog.Nop(), metrics), backend, metrics
}

func count(t *testing.T, b Backend, area Area) int {
	t.Helper()
	objs, err := b.List(context.Background(), area)
	require.NoError(t, err)
	return len(objs)
}

func TestStageWritesOriginalAndThumbnail(t *testing.T) {
	ctx := context.Background()
	p, backend, _ := newTestPipeline(t, ImagingThumbnailer{})

	staged, err := p.Stage(ctx, "photo.JPG", testPNG(t, 300, 300))
	require.NoError(t, err)

	assert.NotEqual(t, "photo.JPG", staged.StorageKey)
	assert.Equal(t, ".jpg", staged.StorageKey[len(staged.StorageKey)-4:])
	require.NotNil(t, staged.ThumbnailKey)
	assert.Equal(t, ThumbnailKey(staged.StorageKey), *staged.ThumbnailKey)

	ok, err := backend.Exists(ctx, AreaOriginals, staged.StorageKey)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = backend.Exists(ctx, AreaThumbnails, *staged.ThumbnailKey)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStageRejectsBeforeWriting(t *testing.T) {
	p, backend, metrics := newTestPipeline(t, ImagingThumbnailer{})

	_, err := p.Stage(context.Background(), "payload.exe", []byte("MZ"))
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
	assert.Zero(t, count(t, backend, AreaOriginals))
	assert.Zero(t, count(t, backend, AreaThumbnails))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Uploads.WithLabelValues("invalid")))

	_, err = p.Stage(context.Background(), "empty.png", nil)
	assert.True(t, errs.IsValidation(err))
}

func TestStageDegradesWhenThumbnailFails(t *testing.T) {
	p, backend, metrics := newTestPipeline(t, failingThumbnailer{})

	staged, err := p.Stage(context.Background(), "photo.png", []byte("not really a png"))
	require.NoError(t, err)
	assert.Nil(t, staged.ThumbnailKey)
	assert.Equal(t, 1, count(t, backend, AreaOriginals))
	assert.Zero(t, count(t, backend, AreaThumbnails))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ThumbnailFailures))
}

func TestStageReportsStorageErrors(t *testing.T) {
	p := NewPipeline(brokenBackend{}, ImagingThumbnailer{}, 200, zerolog.Nop(), observability.NewMetrics())

	_, err := p.Stage(context.Background(), "photo.png", testPNG(t, 10, 10))
	require.Error(t, err)
	assert.True(t, errs.IsStorage(err))
}

func TestDiscardRemovesBothObjects(t *testing.T) {
	ctx := context.Background()
	p, backend, _ := newTestPipeline(t, ImagingThumbnailer{})

	staged, err := p.Stage(ctx, "photo.png", testPNG(t, 10, 10))
	require.NoError(t, err)

	p.Discard(ctx, staged)
	assert.Zero(t, count(t, backend, AreaOriginals))
	assert.Zero(t, count(t, backend, AreaThumbnails))
}
