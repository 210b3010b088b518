package service

import (
	"context"
	"fmt"
	"strings"

	"backoffice/internal/authz"
	"backoffice/internal/config"
	"backoffice/internal/errs"
	"backoffice/internal/model"
	"backoffice/internal/repository"
	"backoffice/internal/storage"
	"backoffice/pkg/pagination"
	"backoffice/pkg/slug"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PostInput is the complete desired state of a post. Tag and supplementary
// sets replace what the post had before.
type PostInput struct {
	Title                 string      `json:"title" validate:"required,max=255"`
	Body                  string      `json:"body" validate:"max=100000"`
	Published             bool        `json:"published"`
	CategoryID            string      `json:"category_id"`
	TagIDs                []string    `json:"tag_ids"`
	TagNames              []string    `json:"tag_names" validate:"dive,max=50"`
	PrimaryAssetID        string      `json:"primary_asset_id"`
	PrimaryAltText        string      `json:"primary_alt_text" validate:"max=255"`
	SupplementaryAssetIDs []string    `json:"supplementary_asset_ids"`
	PrimaryFile           *UploadFile `json:"-"`
}

// PostQuery filters the public listing
type PostQuery struct {
	Search     string
	CategoryID string
	TagID      string
	Page       int
	Limit      int
}

type PostResponse struct {
	ID                  uuid.UUID         `json:"id"`
	Title               string            `json:"title"`
	Body                string            `json:"body"`
	Published           bool              `json:"published"`
	OwnerID             uuid.UUID         `json:"owner_id"`
	Category            *CategoryResponse `json:"category"`
	Tags                []TagResponse     `json:"tags"`
	PrimaryAsset        *AssetResponse    `json:"primary_asset"`
	SupplementaryAssets []AssetResponse   `json:"supplementary_assets"`
	CreatedAt           string            `json:"created_at"`
	UpdatedAt           string            `json:"updated_at"`
}

type PostService interface {
	// AuthorizeWrite runs the post gate alone, before a request body is read
	AuthorizeWrite(actor authz.Principal) error
	CreatePost(ctx context.Context, actor authz.Principal, in PostInput) (*PostResponse, error)
	UpdatePost(ctx context.Context, actor authz.Principal, id string, in PostInput) (*PostResponse, error)
	DeletePost(ctx context.Context, actor authz.Principal, id string) error
	SetPublished(ctx context.Context, actor authz.Principal, id string, published bool) (*PostResponse, error)
	GetPost(ctx context.Context, actor authz.Principal, id string) (*PostResponse, error)
	ListPublished(ctx context.Context, q PostQuery) ([]PostResponse, int64, error)
	ListMine(ctx context.Context, actor authz.Principal, page, limit int) ([]PostResponse, int64, error)
}

type postService struct {
	posts      repository.PostRepository
	assets     repository.AssetRepository
	categories repository.CategoryRepository
	tags       repository.TagRepository
	comments   repository.CommentRepository
	audit      repository.AuditRepository
	txManager  repository.TransactionManager
	pipeline   *storage.Pipeline
	guard      guard
	notifier   Notifier
	tagPolicy  string
	log        zerolog.Logger
}

func NewPostService(
	posts repository.PostRepository,
	assets repository.AssetRepository,
	categories repository.CategoryRepository,
	tags repository.TagRepository,
	comments repository.CommentRepository,
	audit repository.AuditRepository,
	txManager repository.TransactionManager,
	pipeline *storage.Pipeline,
	g *authz.Gate,
	deps Deps,
	tagPolicy string,
) PostService {
	return &postService{
		posts:      posts,
		assets:     assets,
		categories: categories,
		tags:       tags,
		comments:   comments,
		audit:      audit,
		txManager:  txManager,
		pipeline:   pipeline,
		guard:      guard{gate: g, metrics: deps.Metrics},
		notifier:   notifierOrNop(deps.Notifier),
		tagPolicy:  tagPolicy,
		log:        deps.Log.With().Str("component", "posts").Logger(),
	}
}

// postRefs is PostInput with every id parsed
type postRefs struct {
	categoryID    *uuid.UUID
	tagIDs        []uuid.UUID
	tagNames      []string
	primaryID     *uuid.UUID
	supplementary []uuid.UUID
}

func parsePostInput(in *PostInput) (*postRefs, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := validateInput(in); err != nil {
		return nil, err
	}

	refs := &postRefs{}
	if strings.TrimSpace(in.CategoryID) != "" {
		id, err := parseID(in.CategoryID, "category")
		if err != nil {
			return nil, err
		}
		refs.categoryID = &id
	}
	if strings.TrimSpace(in.PrimaryAssetID) != "" {
		id, err := parseID(in.PrimaryAssetID, "primary asset")
		if err != nil {
			return nil, err
		}
		refs.primaryID = &id
	}

	var err error
	if refs.tagIDs, err = parseIDSet(in.TagIDs, "tag"); err != nil {
		return nil, err
	}
	if refs.supplementary, err = parseIDSet(in.SupplementaryAssetIDs, "supplementary asset"); err != nil {
		return nil, err
	}
	for _, name := range in.TagNames {
		if name = strings.TrimSpace(name); name != "" {
			refs.tagNames = append(refs.tagNames, name)
		}
	}
	return refs, nil
}

func (s *postService) AuthorizeWrite(actor authz.Principal) error {
	return s.guard.require(actor, authz.CapPostWrite)
}

func (s *postService) CreatePost(ctx context.Context, actor authz.Principal, in PostInput) (*PostResponse, error) {
	if err := s.guard.require(actor, authz.CapPostWrite); err != nil {
		return nil, err
	}
	return s.save(ctx, actor, nil, in)
}

func (s *postService) UpdatePost(ctx context.Context, actor authz.Principal, id string, in PostInput) (*PostResponse, error) {
	if err := s.guard.require(actor, authz.CapPostWrite); err != nil {
		return nil, err
	}
	postID, err := parseID(id, "post")
	if err != nil {
		return nil, err
	}
	existing, err := s.posts.FindByID(ctx, postID)
	if err != nil {
		return nil, loadErr(err, "post", postID)
	}
	if err := s.guard.requireOwner(actor, &existing.OwnerID, authz.CapPostManageAll, "post "+postID.String()); err != nil {
		return nil, err
	}
	return s.save(ctx, actor, &postID, in)
}

// save composes a new post (postID nil) or rewrites an existing one.
// References are checked before anything is written. An inline primary file
// is staged before the transaction and discarded if it does not commit.
func (s *postService) save(ctx context.Context, actor authz.Principal, postID *uuid.UUID, in PostInput) (*PostResponse, error) {
	refs, err := parsePostInput(&in)
	if err != nil {
		return nil, err
	}

	var existing *model.Post
	if postID != nil {
		if existing, err = s.posts.FindByID(ctx, *postID); err != nil {
			return nil, loadErr(err, "post", *postID)
		}
	}
	tags, err := s.checkRefs(ctx, actor, existing, refs, in.PrimaryFile != nil)
	if err != nil {
		return nil, err
	}

	var staged *storage.Staged
	if in.PrimaryFile != nil {
		staged, err = s.pipeline.Stage(ctx, in.PrimaryFile.Name, in.PrimaryFile.Data)
		if err != nil {
			return nil, err
		}
	}

	var saved uuid.UUID
	var uploaded *model.Asset
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		post := &model.Post{OwnerID: actor.ID}
		action := model.ActionCreatePost
		if postID != nil {
			current, err := s.posts.FindByID(txCtx, *postID)
			if err != nil {
				return loadErr(err, "post", *postID)
			}
			post = stripRelations(current)
			action = model.ActionUpdatePost
		}

		post.Title = in.Title
		post.Body = in.Body
		post.Published = in.Published
		post.CategoryID = refs.categoryID

		tagIDs := tags.ids
		for _, name := range tags.create {
			tag, err := s.createTag(txCtx, actor, name)
			if err != nil {
				return err
			}
			tagIDs = append(tagIDs, tag.ID)
		}

		switch {
		case staged != nil:
			uploaded = assetFromStaged(staged, actor.ID, in.PrimaryAltText)
			if err := linkStaged(txCtx, s.assets, s.audit, actor, uploaded); err != nil {
				return err
			}
			post.PrimaryAssetID = &uploaded.ID
		default:
			post.PrimaryAssetID = refs.primaryID
		}

		if postID == nil {
			err = s.posts.Create(txCtx, post)
		} else {
			err = s.posts.Update(txCtx, post)
		}
		if err != nil {
			if repository.IsUniqueViolation(err) {
				return errs.Conflict("the primary image is already assigned to another post")
			}
			return fmt.Errorf("failed to save post: %w", err)
		}

		if err := s.posts.ReplaceTags(txCtx, post.ID, tagIDs); err != nil {
			return fmt.Errorf("failed to save post tags: %w", err)
		}
		if err := s.posts.ReplaceSupplementary(txCtx, post.ID, refs.supplementary); err != nil {
			return fmt.Errorf("failed to save supplementary images: %w", err)
		}

		saved = post.ID
		return s.audit.Log(txCtx, auditEntry(actor, action, post.ID.String(), post.Title, map[string]any{
			"primary_asset_id": post.PrimaryAssetID,
			"tags":             len(tagIDs),
			"supplementary":    len(refs.supplementary),
		}))
	})
	if err != nil {
		if staged != nil {
			s.pipeline.Discard(ctx, staged)
		}
		return nil, err
	}

	if staged != nil {
		s.pipeline.Commit(staged)
		s.notifier.Publish(EventAssetUploaded, toAssetResponse(uploaded, &saved))
	}
	return s.reload(ctx, saved)
}

// resolvedTags holds tag ids that exist and names to create on save
type resolvedTags struct {
	ids    []uuid.UUID
	create []string
}

// checkRefs validates every reference of the post without writing. Assets the
// post does not already carry must belong to the actor unless the actor holds
// assets.manage_all. inlinePrimary skips the primary id, which the file replaces.
func (s *postService) checkRefs(ctx context.Context, actor authz.Principal, existing *model.Post, refs *postRefs, inlinePrimary bool) (*resolvedTags, error) {
	if refs.categoryID != nil {
		if _, err := s.categories.FindByID(ctx, *refs.categoryID); err != nil {
			if repository.IsNotFound(err) {
				return nil, errs.Validation("category %s does not exist", *refs.categoryID)
			}
			return nil, fmt.Errorf("failed to load category: %w", err)
		}
	}

	tags, err := s.resolveTags(ctx, actor, refs.tagIDs, refs.tagNames)
	if err != nil {
		return nil, err
	}

	self := uuid.Nil
	attached := map[uuid.UUID]struct{}{}
	if existing != nil {
		self = existing.ID
		if existing.PrimaryAssetID != nil {
			attached[*existing.PrimaryAssetID] = struct{}{}
		}
		for _, a := range existing.SupplementaryAssets {
			attached[a.ID] = struct{}{}
		}
	}

	if len(refs.supplementary) > 0 {
		found, err := s.assets.FindByIDs(ctx, refs.supplementary)
		if err != nil {
			return nil, fmt.Errorf("failed to load supplementary assets: %w", err)
		}
		if missing := missingIDs(refs.supplementary, assetIDsOf(found)); len(missing) > 0 {
			return nil, errs.Validation("supplementary asset(s) do not exist: %s", joinIDs(missing))
		}
		for i := range found {
			if err := s.requireAssetOwner(actor, &found[i], attached); err != nil {
				return nil, err
			}
		}
	}

	if refs.primaryID != nil && !inlinePrimary {
		if err := s.checkPrimary(ctx, actor, *refs.primaryID, self, attached); err != nil {
			return nil, err
		}
	} else if inlinePrimary {
		refs.primaryID = nil
	}
	return tags, nil
}

func (s *postService) requireAssetOwner(actor authz.Principal, asset *model.Asset, attached map[uuid.UUID]struct{}) error {
	if _, ok := attached[asset.ID]; ok {
		return nil
	}
	return s.guard.requireOwner(actor, &asset.OwnerID, authz.CapAssetManageAll, "asset "+asset.ID.String())
}

// checkPrimary verifies the asset exists, may be used by the actor and leads
// no post other than self
func (s *postService) checkPrimary(ctx context.Context, actor authz.Principal, assetID, self uuid.UUID, attached map[uuid.UUID]struct{}) error {
	asset, err := s.assets.FindByID(ctx, assetID)
	if err != nil {
		if repository.IsNotFound(err) {
			return errs.Validation("primary asset %s does not exist", assetID)
		}
		return fmt.Errorf("failed to load primary asset: %w", err)
	}
	if err := s.requireAssetOwner(actor, asset, attached); err != nil {
		return err
	}

	holder, err := s.posts.FindByPrimaryAsset(ctx, assetID)
	switch {
	case repository.IsNotFound(err):
		return nil
	case err != nil:
		return fmt.Errorf("failed to check primary image: %w", err)
	case holder.ID != self:
		return errs.Validation("asset %s is already the primary image of post %q (%s)", assetID, holder.Title, holder.ID)
	}
	return nil
}

// resolveTags checks ids and maps free-text names onto tags. Unknown names
// are returned for creation only under the autocreate policy.
func (s *postService) resolveTags(ctx context.Context, actor authz.Principal, ids []uuid.UUID, names []string) (*resolvedTags, error) {
	if len(ids) > 0 {
		found, err := s.tags.FindByIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to load tags: %w", err)
		}
		if missing := missingIDs(ids, tagIDsOf(found)); len(missing) > 0 {
			return nil, errs.Validation("unknown tag id(s): %s", joinIDs(missing))
		}
	}

	out := &resolvedTags{ids: append([]uuid.UUID(nil), ids...)}
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	pending := map[string]struct{}{}

	var unknown []string
	for _, name := range names {
		tag, err := s.findTagByName(ctx, actor, name)
		if err != nil {
			return nil, err
		}
		if tag == nil {
			if s.tagPolicy != config.TagPolicyAutocreate {
				unknown = append(unknown, name)
				continue
			}
			if slug.Make(name) == "" {
				return nil, errs.Validation("tag name %q must contain letters or digits", name)
			}
			key := strings.ToLower(name)
			if _, dup := pending[key]; !dup {
				pending[key] = struct{}{}
				out.create = append(out.create, name)
			}
			continue
		}
		if _, dup := seen[tag.ID]; !dup {
			seen[tag.ID] = struct{}{}
			out.ids = append(out.ids, tag.ID)
		}
	}
	if len(unknown) > 0 {
		return nil, errs.Validation("unknown tag name(s) %s; tag policy %q only accepts existing tags", strings.Join(unknown, ", "), s.tagPolicy)
	}
	return out, nil
}

// findTagByName looks in the actor's own tags, then the shared ones
func (s *postService) findTagByName(ctx context.Context, actor authz.Principal, name string) (*model.Tag, error) {
	owner := actor.ID
	for _, scope := range []*uuid.UUID{&owner, nil} {
		tag, err := s.tags.FindByName(ctx, scope, name)
		if err == nil {
			return tag, nil
		}
		if !repository.IsNotFound(err) {
			return nil, fmt.Errorf("failed to look up tag %q: %w", name, err)
		}
	}
	return nil, nil
}

func (s *postService) createTag(ctx context.Context, actor authz.Principal, name string) (*model.Tag, error) {
	tagSlug := slug.Make(name)
	if tagSlug == "" {
		return nil, errs.Validation("tag name %q must contain letters or digits", name)
	}
	owner := actor.ID
	tag := &model.Tag{Name: name, Slug: tagSlug, OwnerID: &owner}
	if err := s.tags.Create(ctx, tag); err != nil {
		return nil, fmt.Errorf("failed to create tag %q: %w", name, err)
	}
	s.log.Debug().Str("tag", name).Msg("tag created from post")
	return tag, nil
}

// DeletePost removes the post with its comments and join rows. Assets stay.
func (s *postService) DeletePost(ctx context.Context, actor authz.Principal, id string) error {
	if err := s.guard.require(actor, authz.CapPostWrite); err != nil {
		return err
	}
	postID, err := parseID(id, "post")
	if err != nil {
		return err
	}

	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		post, err := s.posts.FindByID(txCtx, postID)
		if err != nil {
			return loadErr(err, "post", postID)
		}
		if err := s.guard.requireOwner(actor, &post.OwnerID, authz.CapPostManageAll, "post "+postID.String()); err != nil {
			return err
		}

		comments, err := s.comments.CountByPost(txCtx, postID)
		if err != nil {
			return fmt.Errorf("failed to count comments: %w", err)
		}
		if err := s.posts.Delete(txCtx, postID); err != nil {
			return fmt.Errorf("failed to delete post: %w", err)
		}
		return s.audit.Log(txCtx, auditEntry(actor, model.ActionDeletePost, postID.String(), post.Title, map[string]any{
			"comments_removed": comments,
			"primary_asset_id": post.PrimaryAssetID,
		}))
	})
}

func (s *postService) SetPublished(ctx context.Context, actor authz.Principal, id string, published bool) (*PostResponse, error) {
	if err := s.guard.require(actor, authz.CapPostWrite); err != nil {
		return nil, err
	}
	postID, err := parseID(id, "post")
	if err != nil {
		return nil, err
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		post, err := s.posts.FindByID(txCtx, postID)
		if err != nil {
			return loadErr(err, "post", postID)
		}
		if err := s.guard.requireOwner(actor, &post.OwnerID, authz.CapPostManageAll, "post "+postID.String()); err != nil {
			return err
		}

		post = stripRelations(post)
		post.Published = published
		if err := s.posts.Update(txCtx, post); err != nil {
			return fmt.Errorf("failed to update post: %w", err)
		}
		return s.audit.Log(txCtx, auditEntry(actor, model.ActionPublishPost, postID.String(), post.Title, map[string]any{
			"published": published,
		}))
	})
	if err != nil {
		return nil, err
	}
	return s.reload(ctx, postID)
}

// GetPost serves published posts to anyone; drafts only to their owner or a
// posts.manage_all holder. Hidden drafts read as not found.
func (s *postService) GetPost(ctx context.Context, actor authz.Principal, id string) (*PostResponse, error) {
	postID, err := parseID(id, "post")
	if err != nil {
		return nil, err
	}
	post, err := s.posts.FindByID(ctx, postID)
	if err != nil {
		return nil, loadErr(err, "post", postID)
	}
	if !post.Published && post.OwnerID != actor.ID && !s.guard.gate.Can(actor, authz.CapPostManageAll) {
		return nil, errs.NotFound("post %s not found", postID)
	}

	res, err := s.toResponses(ctx, []model.Post{*post})
	if err != nil {
		return nil, err
	}
	return &res[0], nil
}

func (s *postService) ListPublished(ctx context.Context, q PostQuery) ([]PostResponse, int64, error) {
	published := true
	filter := repository.PostFilter{Published: &published, Search: strings.TrimSpace(q.Search)}
	if q.CategoryID != "" {
		id, err := parseID(q.CategoryID, "category")
		if err != nil {
			return nil, 0, err
		}
		filter.CategoryID = &id
	}
	if q.TagID != "" {
		id, err := parseID(q.TagID, "tag")
		if err != nil {
			return nil, 0, err
		}
		filter.TagID = &id
	}
	return s.list(ctx, filter, q.Page, q.Limit)
}

func (s *postService) ListMine(ctx context.Context, actor authz.Principal, page, limit int) ([]PostResponse, int64, error) {
	if err := s.guard.require(actor, authz.CapPostWrite); err != nil {
		return nil, 0, err
	}
	owner := actor.ID
	return s.list(ctx, repository.PostFilter{OwnerID: &owner}, page, limit)
}

func (s *postService) list(ctx context.Context, filter repository.PostFilter, page, limit int) ([]PostResponse, int64, error) {
	p := pagination.New(page, limit)
	posts, total, err := s.posts.List(ctx, filter, p.Offset, p.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list posts: %w", err)
	}
	res, err := s.toResponses(ctx, posts)
	if err != nil {
		return nil, 0, err
	}
	return res, total, nil
}

func (s *postService) reload(ctx context.Context, id uuid.UUID) (*PostResponse, error) {
	post, err := s.posts.FindByID(ctx, id)
	if err != nil {
		return nil, loadErr(err, "post", id)
	}
	res, err := s.toResponses(ctx, []model.Post{*post})
	if err != nil {
		return nil, err
	}
	return &res[0], nil
}

// toResponses maps posts, deriving is_primary for supplementary images
func (s *postService) toResponses(ctx context.Context, posts []model.Post) ([]PostResponse, error) {
	var ids []uuid.UUID
	for _, p := range posts {
		for _, a := range p.SupplementaryAssets {
			ids = append(ids, a.ID)
		}
	}
	primary, err := s.assets.PrimaryAssetIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve primary images: %w", err)
	}

	res := make([]PostResponse, 0, len(posts))
	for i := range posts {
		p := &posts[i]
		resp := PostResponse{
			ID:                  p.ID,
			Title:               p.Title,
			Body:                p.Body,
			Published:           p.Published,
			OwnerID:             p.OwnerID,
			Tags:                make([]TagResponse, 0, len(p.Tags)),
			SupplementaryAssets: make([]AssetResponse, 0, len(p.SupplementaryAssets)),
			CreatedAt:           formatTime(p.CreatedAt),
			UpdatedAt:           formatTime(p.UpdatedAt),
		}
		if p.Category != nil {
			c := toCategoryResponse(p.Category)
			resp.Category = &c
		}
		for j := range p.Tags {
			resp.Tags = append(resp.Tags, toTagResponse(&p.Tags[j]))
		}
		if p.PrimaryAsset != nil {
			a := toAssetResponse(p.PrimaryAsset, &p.ID)
			resp.PrimaryAsset = &a
		}
		for j := range p.SupplementaryAssets {
			a := &p.SupplementaryAssets[j]
			resp.SupplementaryAssets = append(resp.SupplementaryAssets, toAssetResponse(a, primaryOf(primary, a.ID)))
		}
		res = append(res, resp)
	}
	return res, nil
}

// stripRelations drops preloaded associations so an update writes columns only
func stripRelations(p *model.Post) *model.Post {
	p.Category = nil
	p.Tags = nil
	p.PrimaryAsset = nil
	p.SupplementaryAssets = nil
	p.Owner = nil
	return p
}

func assetIDsOf(assets []model.Asset) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(assets))
	for _, a := range assets {
		out = append(out, a.ID)
	}
	return out
}

func tagIDsOf(tags []model.Tag) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(tags))
	for _, t := range tags {
		out = append(out, t.ID)
	}
	return out
}
