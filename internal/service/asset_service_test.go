package service

import (
	"io"
	"strings"
	"testing"

	"backoffice/internal/authz"
	"backoffice/internal/errs"
	"backoffice/internal/model"
	"backoffice/internal/storage"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadStoresOriginalAndThumbnail(t *testing.T) {
	f := newFixture(t)

	a, err := f.assets.Upload(f.ctx, f.poster, f.png("photo.JPG"), "a red square")
	require.NoError(t, err)

	assert.NotEqual(t, "photo.JPG", a.StorageKey)
	assert.True(t, strings.HasSuffix(a.StorageKey, ".jpg"))
	require.NotNil(t, a.ThumbnailKey)
	require.NotNil(t, a.ThumbnailURL)
	assert.Equal(t, "photo.JPG", a.OriginalName)
	assert.Equal(t, "a red square", a.AltText)
	assert.Equal(t, f.poster.ID, a.OwnerID)
	assert.False(t, a.IsPrimary)

	assert.Equal(t, []string{a.StorageKey}, f.stored(storage.AreaOriginals))
	assert.Equal(t, []string{*a.ThumbnailKey}, f.stored(storage.AreaThumbnails))
	assert.Equal(t, int64(1), f.count(&model.Asset{}, ""))
	assert.Equal(t, []string{model.ActionUploadAsset}, f.auditActions())
	assert.Equal(t, []string{EventAssetUploaded}, f.notifier.names())
}

func TestUploadRejectsDisallowedExtensionBeforeWriting(t *testing.T) {
	f := newFixture(t)

	_, err := f.assets.Upload(f.ctx, f.poster, UploadFile{Name: "payload.exe", Data: []byte("MZ")}, "")
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))

	assert.Empty(t, f.stored(storage.AreaOriginals))
	assert.Empty(t, f.stored(storage.AreaThumbnails))
	assert.Zero(t, f.count(&model.Asset{}, ""))
}

func TestUploadSurvivesThumbnailFailure(t *testing.T) {
	f := newFixture(t, withThumbnailer(failingThumbnailer{}))

	a, err := f.assets.Upload(f.ctx, f.poster, f.png("scan.png"), "")
	require.NoError(t, err)

	assert.Nil(t, a.ThumbnailKey)
	assert.Nil(t, a.ThumbnailURL)
	assert.Len(t, f.stored(storage.AreaOriginals), 1)
	assert.Empty(t, f.stored(storage.AreaThumbnails))

	stored, err := f.assetRepo.FindByID(f.ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ThumbnailKey)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ThumbnailFailures))
}

func TestUploadStorageFailureLeavesNoLedgerRow(t *testing.T) {
	f := newFixture(t)

	_, err := f.assets.Upload(f.ctx, f.poster, UploadFile{Name: "x.png", Data: []byte("FAIL please")}, "")
	require.Error(t, err)
	assert.True(t, errs.IsStorage(err))
	assert.Zero(t, f.count(&model.Asset{}, ""))
	assert.Empty(t, f.stored(storage.AreaOriginals))
}

func TestUploadRequiresUploadCapability(t *testing.T) {
	f := newFixture(t)

	_, err := f.assets.Upload(f.ctx, f.reader, f.png("a.png"), "")
	assert.True(t, errs.IsPermission(err))
	assert.False(t, errs.IsValidation(err))

	_, err = f.assets.Upload(f.ctx, authz.Anonymous(), f.png("a.png"), "")
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)

	assert.Empty(t, f.stored(storage.AreaOriginals))
	assert.Zero(t, f.count(&model.Asset{}, ""))
	assert.Empty(t, f.auditActions())
}

func TestBulkUploadIsolatesFailures(t *testing.T) {
	f := newFixture(t)

	files := []UploadFile{
		f.png("one.png"),
		{Name: "notes.txt", Data: []byte("hello")},
		f.png("two.webp"),
		{Name: "broken.gif", Data: []byte("FAIL")},
		{Name: "empty.jpg"},
		f.png("three.jpeg"),
	}

	res, err := f.assets.BulkUpload(f.ctx, f.poster, files)
	require.NoError(t, err)

	require.Len(t, res.Created, 3)
	require.Len(t, res.Failed, 3)

	var created, failed []string
	for _, c := range res.Created {
		created = append(created, c.OriginalName)
	}
	for _, fl := range res.Failed {
		failed = append(failed, fl.Name)
		assert.NotEmpty(t, fl.Reason)
	}
	assert.Equal(t, []string{"one.png", "two.webp", "three.jpeg"}, created)
	assert.Equal(t, []string{"notes.txt", "broken.gif", "empty.jpg"}, failed)

	assert.Equal(t, int64(3), f.count(&model.Asset{}, ""))
	assert.Len(t, f.stored(storage.AreaOriginals), 3)
}

func TestBulkUploadRejectsEmptyBatch(t *testing.T) {
	f := newFixture(t)

	_, err := f.assets.BulkUpload(f.ctx, f.poster, nil)
	assert.True(t, errs.IsValidation(err))
}

func TestStorageKeysNeverRepeat(t *testing.T) {
	f := newFixture(t)

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		a := f.upload(f.poster, "same.png")
		assert.False(t, seen[a.StorageKey], "storage key reused")
		seen[a.StorageKey] = true
		require.NoError(t, f.assets.DeleteAsset(f.ctx, f.poster, a.ID.String()))
	}

	var keys []string
	require.NoError(t, f.db.Unscoped().Model(&model.Asset{}).Pluck("storage_key", &keys).Error)
	assert.Len(t, keys, 5)
}

func TestDeleteAssetReferencedAsPrimaryConflicts(t *testing.T) {
	f := newFixture(t)
	a := f.upload(f.poster, "lead.png")
	p := f.createPost(f.poster, PostInput{Title: "Launch day", PrimaryAssetID: a.ID.String()})

	err := f.assets.DeleteAsset(f.ctx, f.poster, a.ID.String())
	require.Error(t, err)
	assert.True(t, errs.IsConflict(err))
	assert.Contains(t, err.Error(), "Launch day")
	assert.Contains(t, err.Error(), p.ID.String())

	got, err := f.assets.GetAsset(f.ctx, f.poster, a.ID.String())
	require.NoError(t, err)
	assert.True(t, got.IsPrimary)
	assert.Len(t, f.stored(storage.AreaOriginals), 1)

	post, err := f.posts.GetPost(f.ctx, f.poster, p.ID.String())
	require.NoError(t, err)
	require.NotNil(t, post.PrimaryAsset)
	assert.Equal(t, a.ID, post.PrimaryAsset.ID)
}

func TestDeleteAssetReferencedAsSupplementaryConflicts(t *testing.T) {
	f := newFixture(t)
	a := f.upload(f.poster, "extra.png")
	f.createPost(f.poster, PostInput{Title: "Gallery", SupplementaryAssetIDs: []string{a.ID.String()}})

	err := f.assets.DeleteAsset(f.ctx, f.poster, a.ID.String())
	assert.True(t, errs.IsConflict(err))
	assert.Contains(t, err.Error(), "Gallery")
	assert.Equal(t, int64(1), f.count(&model.Asset{}, ""))
}

func TestDeleteAssetRemovesLedgerThenBytes(t *testing.T) {
	f := newFixture(t)
	a := f.upload(f.poster, "bye.png")

	require.NoError(t, f.assets.DeleteAsset(f.ctx, f.poster, a.ID.String()))

	_, err := f.assets.GetAsset(f.ctx, f.poster, a.ID.String())
	assert.True(t, errs.IsNotFound(err))
	assert.Empty(t, f.stored(storage.AreaOriginals))
	assert.Empty(t, f.stored(storage.AreaThumbnails))
	assert.Contains(t, f.auditActions(), model.ActionDeleteAsset)

	err = f.assets.DeleteAsset(f.ctx, f.poster, a.ID.String())
	assert.True(t, errs.IsNotFound(err))
}

func TestDeleteAssetSurvivesFailedUnlink(t *testing.T) {
	rec := &recordingBackend{}
	f := newFixture(t, withBackend(func(b storage.Backend) storage.Backend {
		rec.Backend = b
		return rec
	}))
	a := f.upload(f.poster, "stuck.png")
	rec.failDelete = true

	require.NoError(t, f.assets.DeleteAsset(f.ctx, f.poster, a.ID.String()))

	_, err := f.assets.GetAsset(f.ctx, f.poster, a.ID.String())
	assert.True(t, errs.IsNotFound(err))
	assert.Zero(t, f.count(&model.Asset{}, ""))
	assert.Len(t, f.stored(storage.AreaOriginals), 1)
}

func TestDeleteAssetOfAnotherAuthor(t *testing.T) {
	f := newFixture(t)
	a := f.upload(f.poster, "mine.png")

	err := f.assets.DeleteAsset(f.ctx, f.other, a.ID.String())
	assert.True(t, errs.IsPermission(err))
	assert.Equal(t, int64(1), f.count(&model.Asset{}, ""))

	require.NoError(t, f.assets.DeleteAsset(f.ctx, f.admin, a.ID.String()))
}

func TestListAssetsScopesToOwnerAndDerivesPrimary(t *testing.T) {
	f := newFixture(t)
	lead := f.upload(f.poster, "lead.png")
	f.upload(f.poster, "spare.png")
	f.upload(f.other, "theirs.png")
	p := f.createPost(f.poster, PostInput{Title: "Lead", PrimaryAssetID: lead.ID.String()})

	mine, total, err := f.assets.ListAssets(f.ctx, f.poster, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	for _, a := range mine {
		if a.ID == lead.ID {
			assert.True(t, a.IsPrimary)
			require.NotNil(t, a.PrimaryOf)
			assert.Equal(t, p.ID, *a.PrimaryOf)
		} else {
			assert.False(t, a.IsPrimary)
		}
	}

	_, total, err = f.assets.ListAssets(f.ctx, f.admin, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestOpenMediaStreamsOnlyLedgerKeys(t *testing.T) {
	f := newFixture(t)
	a := f.upload(f.poster, "pic.png")

	m, err := f.assets.OpenMedia(f.ctx, storage.AreaOriginals, a.StorageKey)
	require.NoError(t, err)
	body, err := io.ReadAll(m.Body)
	require.NoError(t, m.Body.Close())
	require.NoError(t, err)
	assert.NotEmpty(t, body)
	assert.Equal(t, "image/png", m.ContentType)

	thumb, err := f.assets.OpenMedia(f.ctx, storage.AreaThumbnails, *a.ThumbnailKey)
	require.NoError(t, err)
	require.NoError(t, thumb.Body.Close())

	_, err = f.assets.OpenMedia(f.ctx, storage.AreaThumbnails, a.StorageKey)
	assert.True(t, errs.IsNotFound(err))
	_, err = f.assets.OpenMedia(f.ctx, storage.AreaOriginals, "../etc/passwd")
	assert.True(t, errs.IsNotFound(err))

	require.NoError(t, f.assets.DeleteAsset(f.ctx, f.poster, a.ID.String()))
	_, err = f.assets.OpenMedia(f.ctx, storage.AreaOriginals, a.StorageKey)
	assert.True(t, errs.IsNotFound(err))
}
