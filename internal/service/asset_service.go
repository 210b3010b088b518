package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"backoffice/internal/authz"
	"backoffice/internal/errs"
	"backoffice/internal/model"
	"backoffice/internal/observability"
	"backoffice/internal/repository"
	"backoffice/internal/storage"
	"backoffice/pkg/pagination"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// UploadFile is one file received from a client
type UploadFile struct {
	Name string
	Data []byte
}

type AssetResponse struct {
	ID           uuid.UUID  `json:"id"`
	OriginalName string     `json:"original_name"`
	StorageKey   string     `json:"storage_key"`
	ThumbnailKey *string    `json:"thumbnail_key"`
	URL          string     `json:"url"`
	ThumbnailURL *string    `json:"thumbnail_url"` // nil when no thumbnail; fall back to URL
	AltText      string     `json:"alt_text"`
	ContentType  string     `json:"content_type"`
	Size         int64      `json:"size"`
	OwnerID      uuid.UUID  `json:"owner_id"`
	IsPrimary    bool       `json:"is_primary"`
	PrimaryOf    *uuid.UUID `json:"primary_of,omitempty"`
	CreatedAt    string     `json:"created_at"`
}

type UploadFailure struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

type BulkUploadResponse struct {
	Created []AssetResponse `json:"created"`
	Failed  []UploadFailure `json:"failed"`
}

// Media is an open stored object ready to stream
type Media struct {
	Body        io.ReadCloser
	ContentType string
	Name        string
}

type AssetService interface {
	// AuthorizeUpload runs the upload gate alone, before any bytes are read
	AuthorizeUpload(actor authz.Principal) error
	Upload(ctx context.Context, actor authz.Principal, file UploadFile, altText string) (*AssetResponse, error)
	BulkUpload(ctx context.Context, actor authz.Principal, files []UploadFile) (*BulkUploadResponse, error)
	ListAssets(ctx context.Context, actor authz.Principal, page, limit int) ([]AssetResponse, int64, error)
	GetAsset(ctx context.Context, actor authz.Principal, id string) (*AssetResponse, error)
	OpenMedia(ctx context.Context, area storage.Area, key string) (*Media, error)
	DeleteAsset(ctx context.Context, actor authz.Principal, id string) error
	Sweep(ctx context.Context, actor authz.Principal) (*SweepReport, error)
}

type assetService struct {
	assets    repository.AssetRepository
	audit     repository.AuditRepository
	txManager repository.TransactionManager
	pipeline  *storage.Pipeline
	sweeper   *Sweeper
	guard     guard
	notifier  Notifier
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewAssetService(
	assets repository.AssetRepository,
	audit repository.AuditRepository,
	txManager repository.TransactionManager,
	pipeline *storage.Pipeline,
	sweeper *Sweeper,
	g *authz.Gate,
	deps Deps,
) AssetService {
	return &assetService{
		assets:    assets,
		audit:     audit,
		txManager: txManager,
		pipeline:  pipeline,
		sweeper:   sweeper,
		guard:     guard{gate: g, metrics: deps.Metrics},
		notifier:  notifierOrNop(deps.Notifier),
		metrics:   deps.Metrics,
		log:       deps.Log.With().Str("component", "assets").Logger(),
	}
}

// MediaURL is the public path an original or thumbnail is streamed from
func MediaURL(area storage.Area, key string) string {
	return "/media/" + string(area) + "/" + key
}

func toAssetResponse(a *model.Asset, primaryOf *uuid.UUID) AssetResponse {
	resp := AssetResponse{
		ID:           a.ID,
		OriginalName: a.OriginalName,
		StorageKey:   a.StorageKey,
		ThumbnailKey: a.ThumbnailKey,
		URL:          MediaURL(storage.AreaOriginals, a.StorageKey),
		AltText:      a.AltText,
		ContentType:  a.ContentType,
		Size:         a.Size,
		OwnerID:      a.OwnerID,
		IsPrimary:    primaryOf != nil,
		PrimaryOf:    primaryOf,
		CreatedAt:    formatTime(a.CreatedAt),
	}
	if a.ThumbnailKey != nil {
		u := MediaURL(storage.AreaThumbnails, *a.ThumbnailKey)
		resp.ThumbnailURL = &u
	}
	return resp
}

// assetFromStaged builds the ledger row for bytes already written
func assetFromStaged(s *storage.Staged, owner uuid.UUID, altText string) *model.Asset {
	return &model.Asset{
		OriginalName: s.OriginalName,
		StorageKey:   s.StorageKey,
		ThumbnailKey: s.ThumbnailKey,
		OwnerID:      owner,
		AltText:      altText,
		ContentType:  s.ContentType,
		Size:         s.Size,
	}
}

// linkStaged inserts the ledger row and its audit entry for a staged upload.
// It joins the caller's transaction when there is one.
func linkStaged(ctx context.Context, assets repository.AssetRepository, audit repository.AuditRepository, actor authz.Principal, asset *model.Asset) error {
	if err := assets.Create(ctx, asset); err != nil {
		if repository.IsUniqueViolation(err) {
			return errs.Conflict("storage key %s is already recorded", asset.StorageKey)
		}
		return fmt.Errorf("failed to record asset: %w", err)
	}
	return audit.Log(ctx, auditEntry(actor, model.ActionUploadAsset, asset.ID.String(), asset.OriginalName, map[string]any{
		"storage_key": asset.StorageKey,
		"thumbnail":   asset.ThumbnailKey != nil,
	}))
}

// Upload writes the bytes, then links the ledger row. Bytes whose row never
// commits are discarded.
func (s *assetService) AuthorizeUpload(actor authz.Principal) error {
	return s.guard.require(actor, authz.CapAssetUpload)
}

func (s *assetService) Upload(ctx context.Context, actor authz.Principal, file UploadFile, altText string) (*AssetResponse, error) {
	if err := s.guard.require(actor, authz.CapAssetUpload); err != nil {
		return nil, err
	}
	return s.upload(ctx, actor, file, altText)
}

func (s *assetService) upload(ctx context.Context, actor authz.Principal, file UploadFile, altText string) (*AssetResponse, error) {
	staged, err := s.pipeline.Stage(ctx, file.Name, file.Data)
	if err != nil {
		return nil, err
	}

	asset := assetFromStaged(staged, actor.ID, altText)
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		return linkStaged(txCtx, s.assets, s.audit, actor, asset)
	})
	if err != nil {
		s.pipeline.Discard(ctx, staged)
		return nil, err
	}
	s.pipeline.Commit(staged)

	resp := toAssetResponse(asset, nil)
	s.notifier.Publish(EventAssetUploaded, resp)
	return &resp, nil
}

// BulkUpload processes every file independently; one failure never affects another
func (s *assetService) BulkUpload(ctx context.Context, actor authz.Principal, files []UploadFile) (*BulkUploadResponse, error) {
	if err := s.guard.require(actor, authz.CapAssetUpload); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errs.Validation("no files supplied")
	}

	res := &BulkUploadResponse{
		Created: make([]AssetResponse, 0, len(files)),
		Failed:  make([]UploadFailure, 0),
	}
	for _, f := range files {
		created, err := s.upload(ctx, actor, f, "")
		if err != nil {
			s.log.Warn().Err(err).Str("original_name", f.Name).Msg("bulk upload item failed")
			res.Failed = append(res.Failed, UploadFailure{Name: f.Name, Reason: err.Error()})
			continue
		}
		res.Created = append(res.Created, *created)
	}
	return res, nil
}

func (s *assetService) ListAssets(ctx context.Context, actor authz.Principal, page, limit int) ([]AssetResponse, int64, error) {
	if err := s.guard.require(actor, authz.CapAssetUpload); err != nil {
		return nil, 0, err
	}

	var owner *uuid.UUID
	if !s.guard.gate.Can(actor, authz.CapAssetManageAll) {
		id := actor.ID
		owner = &id
	}

	p := pagination.New(page, limit)
	assets, total, err := s.assets.List(ctx, owner, p.Offset, p.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list assets: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(assets))
	for _, a := range assets {
		ids = append(ids, a.ID)
	}
	primary, err := s.assets.PrimaryAssetIDs(ctx, ids)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to resolve primary images: %w", err)
	}

	res := make([]AssetResponse, 0, len(assets))
	for i := range assets {
		res = append(res, toAssetResponse(&assets[i], primaryOf(primary, assets[i].ID)))
	}
	return res, total, nil
}

func primaryOf(primary map[uuid.UUID]uuid.UUID, assetID uuid.UUID) *uuid.UUID {
	postID, ok := primary[assetID]
	if !ok {
		return nil
	}
	return &postID
}

func (s *assetService) GetAsset(ctx context.Context, actor authz.Principal, id string) (*AssetResponse, error) {
	if err := s.guard.require(actor, authz.CapAssetUpload); err != nil {
		return nil, err
	}
	assetID, err := parseID(id, "asset")
	if err != nil {
		return nil, err
	}

	asset, err := s.assets.FindByID(ctx, assetID)
	if err != nil {
		return nil, loadErr(err, "asset", assetID)
	}
	if err := s.guard.requireOwner(actor, &asset.OwnerID, authz.CapAssetManageAll, "asset "+assetID.String()); err != nil {
		return nil, err
	}

	primary, err := s.assets.PrimaryAssetIDs(ctx, []uuid.UUID{assetID})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve primary image: %w", err)
	}
	resp := toAssetResponse(asset, primaryOf(primary, assetID))
	return &resp, nil
}

// OpenMedia streams bytes only for keys a live ledger row references
func (s *assetService) OpenMedia(ctx context.Context, area storage.Area, key string) (*Media, error) {
	if !area.Valid() || !storage.ValidKey(key) {
		return nil, errs.NotFound("media %s/%s not found", area, key)
	}

	asset, err := s.assets.FindByStorageKey(ctx, key)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, errs.NotFound("media %s/%s not found", area, key)
		}
		return nil, fmt.Errorf("failed to look up media: %w", err)
	}

	contentType := asset.ContentType
	if area == storage.AreaThumbnails {
		if asset.ThumbnailKey == nil || *asset.ThumbnailKey != key {
			return nil, errs.NotFound("media %s/%s not found", area, key)
		}
		contentType = "image/png"
	} else if asset.StorageKey != key {
		return nil, errs.NotFound("media %s/%s not found", area, key)
	}

	body, err := s.pipeline.Backend().Open(ctx, area, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			s.log.Error().Str("asset_id", asset.ID.String()).Str("storage_key", key).Msg("ledger row points at missing bytes")
			return nil, errs.NotFound("media %s/%s not found", area, key)
		}
		return nil, errs.Storage(err, "failed to open media %s/%s", area, key)
	}
	return &Media{Body: body, ContentType: contentType, Name: asset.OriginalName}, nil
}

// DeleteAsset refuses while any post references the asset. The bytes are
// unlinked only after the ledger deletion commits; unlink failures are logged.
func (s *assetService) DeleteAsset(ctx context.Context, actor authz.Principal, id string) error {
	if err := s.guard.require(actor, authz.CapAssetUpload); err != nil {
		return err
	}
	assetID, err := parseID(id, "asset")
	if err != nil {
		return err
	}

	var deleted *model.Asset
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		asset, err := s.assets.FindByID(txCtx, assetID)
		if err != nil {
			return loadErr(err, "asset", assetID)
		}
		if err := s.guard.requireOwner(actor, &asset.OwnerID, authz.CapAssetManageAll, "asset "+assetID.String()); err != nil {
			return err
		}

		posts, err := s.assets.ReferencingPosts(txCtx, assetID, 1)
		if err != nil {
			return fmt.Errorf("failed to check asset references: %w", err)
		}
		if len(posts) > 0 {
			s.metrics.DeletionsBlocked.WithLabelValues("asset").Inc()
			return errs.Conflict("asset %s is still used by post %q (%s)", assetID, posts[0].Title, posts[0].ID)
		}

		if err := s.assets.Delete(txCtx, assetID); err != nil {
			return fmt.Errorf("failed to delete asset: %w", err)
		}
		deleted = asset
		return s.audit.Log(txCtx, auditEntry(actor, model.ActionDeleteAsset, assetID.String(), asset.OriginalName, map[string]any{
			"storage_key": asset.StorageKey,
		}))
	})
	if err != nil {
		return err
	}

	s.pipeline.Unlink(ctx, deleted.StorageKey, deleted.ThumbnailKey)
	return nil
}

func (s *assetService) Sweep(ctx context.Context, actor authz.Principal) (*SweepReport, error) {
	if err := s.guard.require(actor, authz.CapAssetManageAll); err != nil {
		return nil, err
	}
	return s.sweeper.Run(ctx)
}
