package service

import (
	"bytes"
	"testing"
	"time"

	"backoffice/internal/authz"
	"backoffice/internal/errs"
	"backoffice/internal/storage"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) putOrphan(area storage.Area, key string) {
	f.t.Helper()
	require.NoError(f.t, f.backend.Put(f.ctx, area, key, bytes.NewReader([]byte("stray")), "image/png"))
}

func (f *fixture) afterGrace() {
	f.sweeper.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
}

func TestSweepRemovesOrphansPastGrace(t *testing.T) {
	f := newFixture(t)
	live := f.upload(f.poster, "live.png")
	f.putOrphan(storage.AreaOriginals, "orphan.png")
	f.putOrphan(storage.AreaThumbnails, "thumb_orphan.png")
	f.afterGrace()

	report, err := f.assets.Sweep(f.ctx, f.admin)
	require.NoError(t, err)
	assert.Equal(t, 1, report.RemovedOriginals)
	assert.Equal(t, 1, report.RemovedThumbnails)
	assert.Zero(t, report.WithinGrace)
	assert.Empty(t, report.MissingOriginals)

	assert.Equal(t, []string{live.StorageKey}, f.stored(storage.AreaOriginals))
	assert.Equal(t, []string{*live.ThumbnailKey}, f.stored(storage.AreaThumbnails))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OrphansRemoved.WithLabelValues(string(storage.AreaOriginals))))
}

func TestSweepKeepsFreshOrphans(t *testing.T) {
	f := newFixture(t)
	f.putOrphan(storage.AreaOriginals, "inflight.png")

	report, err := f.sweeper.Run(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, report.RemovedOriginals)
	assert.Equal(t, 1, report.WithinGrace)
	assert.Equal(t, []string{"inflight.png"}, f.stored(storage.AreaOriginals))
}

func TestSweepTreatsSoftDeletedRowsAsDead(t *testing.T) {
	f := newFixture(t)
	gone := f.upload(f.poster, "gone.png")
	require.NoError(t, f.assetRepo.Delete(f.ctx, gone.ID))
	f.afterGrace()

	report, err := f.sweeper.Run(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.RemovedOriginals)
	assert.Equal(t, 1, report.RemovedThumbnails)
	assert.Empty(t, f.stored(storage.AreaOriginals))
}

func TestSweepReportsMissingOriginals(t *testing.T) {
	f := newFixture(t)
	lost := f.upload(f.poster, "lost.png")
	require.NoError(t, f.backend.Delete(f.ctx, storage.AreaOriginals, lost.StorageKey))

	report, err := f.sweeper.Run(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, report.MissingOriginals, "rows inside the grace window are not reported")

	f.afterGrace()
	report, err = f.sweeper.Run(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{lost.ID}, report.MissingOriginals)
	assert.Equal(t, []string{*lost.ThumbnailKey}, f.stored(storage.AreaThumbnails))
}

func TestSweepRequiresManageAll(t *testing.T) {
	f := newFixture(t)

	_, err := f.assets.Sweep(f.ctx, f.poster)
	assert.True(t, errs.IsPermission(err))
	_, err = f.assets.Sweep(f.ctx, authz.Anonymous())
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)
}
