package service

import (
	"context"
	"fmt"
	"strings"

	"backoffice/internal/authz"
	"backoffice/internal/errs"
	"backoffice/internal/model"
	"backoffice/internal/repository"
	"backoffice/pkg/slug"

	"github.com/google/uuid"
)

type CategoryInput struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=1000"`
	// Shared categories have no owner and need taxonomy.manage_all
	Shared bool `json:"shared"`
}

type TagInput struct {
	Name   string `json:"name" validate:"required,max=50"`
	Shared bool   `json:"shared"`
}

type CategoryResponse struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Slug        string     `json:"slug"`
	Description string     `json:"description"`
	OwnerID     *uuid.UUID `json:"owner_id"`
	CreatedAt   string     `json:"created_at"`
}

type TagResponse struct {
	ID      uuid.UUID  `json:"id"`
	Name    string     `json:"name"`
	Slug    string     `json:"slug"`
	OwnerID *uuid.UUID `json:"owner_id"`
}

// TaxonomyService manages categories and tags. Deleting either detaches the
// affected posts: their category becomes empty, their tag link is dropped.
type TaxonomyService interface {
	ListCategories(ctx context.Context, ownerID string) ([]CategoryResponse, error)
	CreateCategory(ctx context.Context, actor authz.Principal, in CategoryInput) (*CategoryResponse, error)
	UpdateCategory(ctx context.Context, actor authz.Principal, id string, in CategoryInput) (*CategoryResponse, error)
	DeleteCategory(ctx context.Context, actor authz.Principal, id string) error

	ListTags(ctx context.Context, ownerID string) ([]TagResponse, error)
	CreateTag(ctx context.Context, actor authz.Principal, in TagInput) (*TagResponse, error)
	UpdateTag(ctx context.Context, actor authz.Principal, id string, in TagInput) (*TagResponse, error)
	DeleteTag(ctx context.Context, actor authz.Principal, id string) error
}

type taxonomyService struct {
	categories repository.CategoryRepository
	tags       repository.TagRepository
	posts      repository.PostRepository
	audit      repository.AuditRepository
	txManager  repository.TransactionManager
	guard      guard
}

func NewTaxonomyService(
	categories repository.CategoryRepository,
	tags repository.TagRepository,
	posts repository.PostRepository,
	audit repository.AuditRepository,
	txManager repository.TransactionManager,
	g *authz.Gate,
	deps Deps,
) TaxonomyService {
	return &taxonomyService{
		categories: categories,
		tags:       tags,
		posts:      posts,
		audit:      audit,
		txManager:  txManager,
		guard:      guard{gate: g, metrics: deps.Metrics},
	}
}

func toCategoryResponse(c *model.Category) CategoryResponse {
	return CategoryResponse{
		ID:          c.ID,
		Name:        c.Name,
		Slug:        c.Slug,
		Description: c.Description,
		OwnerID:     c.OwnerID,
		CreatedAt:   formatTime(c.CreatedAt),
	}
}

func toTagResponse(t *model.Tag) TagResponse {
	return TagResponse{ID: t.ID, Name: t.Name, Slug: t.Slug, OwnerID: t.OwnerID}
}

// ownerFor picks the owner of a new entry; shared entries need manageAll
func (s *taxonomyService) ownerFor(actor authz.Principal, shared bool) (*uuid.UUID, error) {
	if !shared {
		id := actor.ID
		return &id, nil
	}
	if err := s.guard.require(actor, authz.CapTaxonomyManageAll); err != nil {
		return nil, err
	}
	return nil, nil
}

func makeSlug(name string) (string, error) {
	sl := slug.Make(name)
	if sl == "" {
		return "", errs.Validation("name %q must contain letters or digits", name)
	}
	return sl, nil
}

func parseOwnerFilter(ownerID string) (*uuid.UUID, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, nil
	}
	id, err := parseID(ownerID, "owner")
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// --- Categories ---

func (s *taxonomyService) ListCategories(ctx context.Context, ownerID string) ([]CategoryResponse, error) {
	owner, err := parseOwnerFilter(ownerID)
	if err != nil {
		return nil, err
	}
	cats, err := s.categories.List(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	res := make([]CategoryResponse, 0, len(cats))
	for i := range cats {
		res = append(res, toCategoryResponse(&cats[i]))
	}
	return res, nil
}

func (s *taxonomyService) CreateCategory(ctx context.Context, actor authz.Principal, in CategoryInput) (*CategoryResponse, error) {
	if err := s.guard.require(actor, authz.CapTaxonomyWrite); err != nil {
		return nil, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := validateInput(in); err != nil {
		return nil, err
	}
	owner, err := s.ownerFor(actor, in.Shared)
	if err != nil {
		return nil, err
	}
	sl, err := makeSlug(in.Name)
	if err != nil {
		return nil, err
	}

	cat := &model.Category{Name: in.Name, Slug: sl, Description: in.Description, OwnerID: owner}
	if _, err := s.categories.FindByName(ctx, owner, in.Name); err == nil {
		return nil, errs.Conflict("category %q already exists", in.Name)
	}
	if err := s.categories.Create(ctx, cat); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, errs.Conflict("category %q already exists", in.Name)
		}
		return nil, fmt.Errorf("failed to create category: %w", err)
	}
	resp := toCategoryResponse(cat)
	return &resp, nil
}

func (s *taxonomyService) UpdateCategory(ctx context.Context, actor authz.Principal, id string, in CategoryInput) (*CategoryResponse, error) {
	if err := s.guard.require(actor, authz.CapTaxonomyWrite); err != nil {
		return nil, err
	}
	catID, err := parseID(id, "category")
	if err != nil {
		return nil, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := validateInput(in); err != nil {
		return nil, err
	}
	sl, err := makeSlug(in.Name)
	if err != nil {
		return nil, err
	}

	cat, err := s.categories.FindByID(ctx, catID)
	if err != nil {
		return nil, loadErr(err, "category", catID)
	}
	if err := s.guard.requireOwner(actor, cat.OwnerID, authz.CapTaxonomyManageAll, "category "+cat.Name); err != nil {
		return nil, err
	}
	if other, err := s.categories.FindByName(ctx, cat.OwnerID, in.Name); err == nil && other.ID != cat.ID {
		return nil, errs.Conflict("category %q already exists", in.Name)
	}

	cat.Name = in.Name
	cat.Slug = sl
	cat.Description = in.Description
	if err := s.categories.Update(ctx, cat); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, errs.Conflict("category %q already exists", in.Name)
		}
		return nil, fmt.Errorf("failed to update category: %w", err)
	}
	resp := toCategoryResponse(cat)
	return &resp, nil
}

// DeleteCategory removes the category and leaves its posts uncategorized
func (s *taxonomyService) DeleteCategory(ctx context.Context, actor authz.Principal, id string) error {
	if err := s.guard.require(actor, authz.CapTaxonomyWrite); err != nil {
		return err
	}
	catID, err := parseID(id, "category")
	if err != nil {
		return err
	}

	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		cat, err := s.categories.FindByID(txCtx, catID)
		if err != nil {
			return loadErr(err, "category", catID)
		}
		if err := s.guard.requireOwner(actor, cat.OwnerID, authz.CapTaxonomyManageAll, "category "+cat.Name); err != nil {
			return err
		}

		posts, err := s.posts.FindByCategory(txCtx, catID)
		if err != nil {
			return fmt.Errorf("failed to find posts of category: %w", err)
		}
		detached, err := s.posts.ClearCategory(txCtx, catID)
		if err != nil {
			return fmt.Errorf("failed to detach posts: %w", err)
		}
		if err := s.categories.Delete(txCtx, catID); err != nil {
			return fmt.Errorf("failed to delete category: %w", err)
		}
		return s.audit.Log(txCtx, auditEntry(actor, model.ActionDeleteCategory, catID.String(), cat.Name, map[string]any{
			"posts_detached": detached,
			"post_ids":       postIDsOf(posts),
		}))
	})
}

// --- Tags ---

func (s *taxonomyService) ListTags(ctx context.Context, ownerID string) ([]TagResponse, error) {
	owner, err := parseOwnerFilter(ownerID)
	if err != nil {
		return nil, err
	}
	tags, err := s.tags.List(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	res := make([]TagResponse, 0, len(tags))
	for i := range tags {
		res = append(res, toTagResponse(&tags[i]))
	}
	return res, nil
}

func (s *taxonomyService) CreateTag(ctx context.Context, actor authz.Principal, in TagInput) (*TagResponse, error) {
	if err := s.guard.require(actor, authz.CapTaxonomyWrite); err != nil {
		return nil, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := validateInput(in); err != nil {
		return nil, err
	}
	owner, err := s.ownerFor(actor, in.Shared)
	if err != nil {
		return nil, err
	}
	sl, err := makeSlug(in.Name)
	if err != nil {
		return nil, err
	}

	if _, err := s.tags.FindByName(ctx, owner, in.Name); err == nil {
		return nil, errs.Conflict("tag %q already exists", in.Name)
	}
	tag := &model.Tag{Name: in.Name, Slug: sl, OwnerID: owner}
	if err := s.tags.Create(ctx, tag); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, errs.Conflict("tag %q already exists", in.Name)
		}
		return nil, fmt.Errorf("failed to create tag: %w", err)
	}
	resp := toTagResponse(tag)
	return &resp, nil
}

func (s *taxonomyService) UpdateTag(ctx context.Context, actor authz.Principal, id string, in TagInput) (*TagResponse, error) {
	if err := s.guard.require(actor, authz.CapTaxonomyWrite); err != nil {
		return nil, err
	}
	tagID, err := parseID(id, "tag")
	if err != nil {
		return nil, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := validateInput(in); err != nil {
		return nil, err
	}
	sl, err := makeSlug(in.Name)
	if err != nil {
		return nil, err
	}

	tag, err := s.tags.FindByID(ctx, tagID)
	if err != nil {
		return nil, loadErr(err, "tag", tagID)
	}
	if err := s.guard.requireOwner(actor, tag.OwnerID, authz.CapTaxonomyManageAll, "tag "+tag.Name); err != nil {
		return nil, err
	}
	if other, err := s.tags.FindByName(ctx, tag.OwnerID, in.Name); err == nil && other.ID != tag.ID {
		return nil, errs.Conflict("tag %q already exists", in.Name)
	}

	tag.Name = in.Name
	tag.Slug = sl
	if err := s.tags.Update(ctx, tag); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, errs.Conflict("tag %q already exists", in.Name)
		}
		return nil, fmt.Errorf("failed to update tag: %w", err)
	}
	resp := toTagResponse(tag)
	return &resp, nil
}

// DeleteTag removes the tag and drops it from every post
func (s *taxonomyService) DeleteTag(ctx context.Context, actor authz.Principal, id string) error {
	if err := s.guard.require(actor, authz.CapTaxonomyWrite); err != nil {
		return err
	}
	tagID, err := parseID(id, "tag")
	if err != nil {
		return err
	}

	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		tag, err := s.tags.FindByID(txCtx, tagID)
		if err != nil {
			return loadErr(err, "tag", tagID)
		}
		if err := s.guard.requireOwner(actor, tag.OwnerID, authz.CapTaxonomyManageAll, "tag "+tag.Name); err != nil {
			return err
		}

		posts, err := s.posts.FindByTag(txCtx, tagID)
		if err != nil {
			return fmt.Errorf("failed to find posts of tag: %w", err)
		}
		detached, err := s.posts.DetachTag(txCtx, tagID)
		if err != nil {
			return fmt.Errorf("failed to detach tag: %w", err)
		}
		if err := s.tags.Delete(txCtx, tagID); err != nil {
			return fmt.Errorf("failed to delete tag: %w", err)
		}
		return s.audit.Log(txCtx, auditEntry(actor, model.ActionDeleteTag, tagID.String(), tag.Name, map[string]any{
			"posts_detached": detached,
			"post_ids":       postIDsOf(posts),
		}))
	})
}

func postIDsOf(posts []model.Post) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}
