package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"backoffice/internal/observability"
	"backoffice/internal/repository"
	"backoffice/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type SweepReport struct {
	RemovedOriginals  int         `json:"removed_originals"`
	RemovedThumbnails int         `json:"removed_thumbnails"`
	WithinGrace       int         `json:"within_grace"`
	MissingOriginals  []uuid.UUID `json:"missing_originals"`
}

// Sweeper removes stored objects no live ledger row references. Objects
// younger than the grace period may belong to an upload whose row has not
// committed yet and are left alone.
type Sweeper struct {
	assets  repository.AssetRepository
	backend storage.Backend
	grace   time.Duration
	metrics *observability.Metrics
	log     zerolog.Logger
	now     func() time.Time
	mu      sync.Mutex
}

func NewSweeper(assets repository.AssetRepository, backend storage.Backend, grace time.Duration, deps Deps) *Sweeper {
	return &Sweeper{
		assets:  assets,
		backend: backend,
		grace:   grace,
		metrics: deps.Metrics,
		log:     deps.Log.With().Str("component", "sweeper").Logger(),
		now:     time.Now,
	}
}

// Run performs one sweep. Concurrent calls are serialized.
func (s *Sweeper) Run(ctx context.Context) (*SweepReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// List objects before reading the ledger so a row committed in between
	// is seen as live.
	originals, err := s.backend.List(ctx, storage.AreaOriginals)
	if err != nil {
		return nil, fmt.Errorf("failed to list originals: %w", err)
	}
	thumbnails, err := s.backend.List(ctx, storage.AreaThumbnails)
	if err != nil {
		return nil, fmt.Errorf("failed to list thumbnails: %w", err)
	}

	live, err := s.assets.LiveKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger keys: %w", err)
	}

	report := &SweepReport{MissingOriginals: make([]uuid.UUID, 0)}
	cutoff := s.now().Add(-s.grace)
	report.RemovedOriginals = s.sweepArea(ctx, storage.AreaOriginals, originals, live, cutoff, report)
	report.RemovedThumbnails = s.sweepArea(ctx, storage.AreaThumbnails, thumbnails, live, cutoff, report)

	stored := make(map[string]struct{}, len(originals))
	for _, o := range originals {
		stored[o.Key] = struct{}{}
	}
	assets, err := s.assets.ListLive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger rows: %w", err)
	}
	for _, a := range assets {
		if _, ok := stored[a.StorageKey]; ok {
			continue
		}
		// Rows created after the listing are not missing.
		if a.CreatedAt.After(cutoff) {
			continue
		}
		report.MissingOriginals = append(report.MissingOriginals, a.ID)
		s.log.Error().Str("asset_id", a.ID.String()).Str("storage_key", a.StorageKey).Msg("ledger row references a missing original")
	}

	s.log.Info().
		Int("removed_originals", report.RemovedOriginals).
		Int("removed_thumbnails", report.RemovedThumbnails).
		Int("within_grace", report.WithinGrace).
		Int("missing_originals", len(report.MissingOriginals)).
		Msg("orphan sweep finished")
	return report, nil
}

func (s *Sweeper) sweepArea(ctx context.Context, area storage.Area, objects []storage.ObjectInfo, live map[string]struct{}, cutoff time.Time, report *SweepReport) int {
	removed := 0
	for _, o := range objects {
		if _, ok := live[o.Key]; ok {
			continue
		}
		if o.ModTime.After(cutoff) {
			report.WithinGrace++
			continue
		}
		if err := s.backend.Delete(ctx, area, o.Key); err != nil {
			s.log.Warn().Err(err).Str("area", string(area)).Str("storage_key", o.Key).Msg("failed to remove orphan")
			continue
		}
		removed++
		s.metrics.OrphansRemoved.WithLabelValues(string(area)).Inc()
		s.log.Debug().Str("area", string(area)).Str("storage_key", o.Key).Msg("orphan removed")
	}
	return removed
}
