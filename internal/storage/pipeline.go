package storage

import (
	"bytes"
	"context"

	"backoffice/internal/errs"
	"backoffice/internal/observability"

	"github.com/rs/zerolog"
)

// Staged is the result of writing an upload's bytes before its ledger row
// exists. Exactly one of Commit-side bookkeeping or Discard must follow.
type Staged struct {
	OriginalName string
	StorageKey   string
	ThumbnailKey *string
	ContentType  string
	Size         int64
}

// Pipeline implements the file side of the upload and deletion protocol:
// bytes are written before the ledger commits, and unlinked only after the
// ledger deletion commits.
type Pipeline struct {
	backend Backend
	thumbs  Thumbnailer
	box     int
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewPipeline(backend Backend, thumbs Thumbnailer, box int, log zerolog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		backend: backend,
		thumbs:  thumbs,
		box:     box,
		log:     log.With().Str("component", "asset_pipeline").Logger(),
		metrics: metrics,
	}
}

func (p *Pipeline) Backend() Backend {
	return p.backend
}

// Validate checks an upload without touching storage
func (p *Pipeline) Validate(name string, data []byte) (string, error) {
	ext, err := Extension(name)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", errs.Validation("file %q is empty", name)
	}
	return ext, nil
}

// Stage validates, stores the original under a fresh key and tries to derive
// a thumbnail. A thumbnail failure is logged and leaves ThumbnailKey nil.
func (p *Pipeline) Stage(ctx context.Context, name string, data []byte) (*Staged, error) {
	ext, err := p.Validate(name, data)
	if err != nil {
		p.metrics.Uploads.WithLabelValues("invalid").Inc()
		return nil, err
	}

	staged := &Staged{
		OriginalName: name,
		StorageKey:   NewStorageKey(ext),
		ContentType:  ContentType(ext),
		Size:         int64(len(data)),
	}

	if err := p.backend.Put(ctx, AreaOriginals, staged.StorageKey, bytes.NewReader(data), staged.ContentType); err != nil {
		p.metrics.Uploads.WithLabelValues("storage_error").Inc()
		// A partial object may have been written.
		p.remove(ctx, AreaOriginals, staged.StorageKey)
		return nil, errs.Storage(err, "failed to store %q", name)
	}

	staged.ThumbnailKey = p.thumbnail(ctx, staged, data)
	return staged, nil
}

func (p *Pipeline) thumbnail(ctx context.Context, staged *Staged, data []byte) *string {
	logFailure := func(err error, msg string) {
		p.metrics.ThumbnailFailures.Inc()
		p.log.Warn().Err(err).
			Str("storage_key", staged.StorageKey).
			Str("original_name", staged.OriginalName).
			Msg(msg)
	}

	thumb, err := p.thumbs.Thumbnail(data, p.box)
	if err != nil {
		logFailure(err, "thumbnail generation failed; keeping upload without thumbnail")
		return nil
	}

	key := ThumbnailKey(staged.StorageKey)
	if err := p.backend.Put(ctx, AreaThumbnails, key, bytes.NewReader(thumb), "image/png"); err != nil {
		p.remove(ctx, AreaThumbnails, key)
		logFailure(err, "thumbnail write failed; keeping upload without thumbnail")
		return nil
	}
	return &key
}

// Discard removes the bytes of a staged upload whose ledger row never committed
func (p *Pipeline) Discard(ctx context.Context, s *Staged) {
	if s == nil {
		return
	}
	p.Unlink(ctx, s.StorageKey, s.ThumbnailKey)
}

// Unlink removes stored bytes after the ledger no longer references them.
// Failures leave orphans for the sweeper and are only logged.
func (p *Pipeline) Unlink(ctx context.Context, storageKey string, thumbnailKey *string) {
	p.remove(ctx, AreaOriginals, storageKey)
	if thumbnailKey != nil {
		p.remove(ctx, AreaThumbnails, *thumbnailKey)
	}
}

func (p *Pipeline) remove(ctx context.Context, area Area, key string) {
	if err := p.backend.Delete(ctx, area, key); err != nil {
		p.log.Error().Err(err).Str("area", string(area)).Str("storage_key", key).Msg("failed to remove stored object")
	}
}

// Commit records a staged upload as linked
func (p *Pipeline) Commit(s *Staged) {
	p.metrics.Uploads.WithLabelValues("created").Inc()
	p.log.Debug().Str("storage_key", s.StorageKey).Bool("thumbnail", s.ThumbnailKey != nil).Msg("upload linked")
}
