package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"backoffice/internal/authz"
	"backoffice/internal/errs"
	"backoffice/internal/model"
	"backoffice/internal/repository"
	"backoffice/pkg/pagination"

	"github.com/google/uuid"
)

type CommentInput struct {
	Body string `json:"body" validate:"required,max=5000"`
}

type CommentResponse struct {
	ID            uuid.UUID  `json:"id"`
	Body          string     `json:"body"`
	PostID        uuid.UUID  `json:"post_id"`
	AuthorID      uuid.UUID  `json:"author_id"`
	AuthorName    string     `json:"author_name"`
	Approved      bool       `json:"approved"`
	State         string     `json:"state"`
	ModeratedByID *uuid.UUID `json:"moderated_by_id,omitempty"`
	ModeratedAt   *string    `json:"moderated_at,omitempty"`
	CreatedAt     string     `json:"created_at"`
}

// CommentService is the moderation queue. New comments start pending and
// only approved ones are ever shown publicly.
type CommentService interface {
	Submit(ctx context.Context, actor authz.Principal, postID string, in CommentInput) (*CommentResponse, error)
	Approve(ctx context.Context, actor authz.Principal, id string) (*CommentResponse, error)
	Reject(ctx context.Context, actor authz.Principal, id string) (*CommentResponse, error)
	Delete(ctx context.Context, actor authz.Principal, id string) error
	ListPublic(ctx context.Context, postID string, page, limit int) ([]CommentResponse, int64, error)
	ListQueue(ctx context.Context, actor authz.Principal, state string, page, limit int) ([]CommentResponse, int64, error)
}

type commentService struct {
	comments  repository.CommentRepository
	posts     repository.PostRepository
	audit     repository.AuditRepository
	txManager repository.TransactionManager
	guard     guard
	notifier  Notifier
	now       func() time.Time
}

func NewCommentService(
	comments repository.CommentRepository,
	posts repository.PostRepository,
	audit repository.AuditRepository,
	txManager repository.TransactionManager,
	g *authz.Gate,
	deps Deps,
) CommentService {
	return &commentService{
		comments:  comments,
		posts:     posts,
		audit:     audit,
		txManager: txManager,
		guard:     guard{gate: g, metrics: deps.Metrics},
		notifier:  notifierOrNop(deps.Notifier),
		now:       time.Now,
	}
}

func toCommentResponse(c *model.Comment) CommentResponse {
	resp := CommentResponse{
		ID:            c.ID,
		Body:          c.Body,
		PostID:        c.PostID,
		AuthorID:      c.AuthorID,
		Approved:      c.Approved,
		State:         c.State(),
		ModeratedByID: c.ModeratedByID,
		CreatedAt:     formatTime(c.CreatedAt),
	}
	if c.Author != nil {
		resp.AuthorName = c.Author.Username
	}
	if c.ModeratedAt != nil {
		at := formatTime(*c.ModeratedAt)
		resp.ModeratedAt = &at
	}
	return resp
}

// Submit queues a comment on a published post; it is never approved on creation
func (s *commentService) Submit(ctx context.Context, actor authz.Principal, postID string, in CommentInput) (*CommentResponse, error) {
	if err := s.guard.require(actor, authz.CapCommentSubmit); err != nil {
		return nil, err
	}
	pid, err := parseID(postID, "post")
	if err != nil {
		return nil, err
	}
	in.Body = strings.TrimSpace(in.Body)
	if err := validateInput(in); err != nil {
		return nil, err
	}

	post, err := s.posts.FindByID(ctx, pid)
	if err != nil {
		return nil, loadErr(err, "post", pid)
	}
	if !post.Published {
		return nil, errs.NotFound("post %s not found", pid)
	}

	comment := &model.Comment{
		Body:     in.Body,
		AuthorID: actor.ID,
		PostID:   pid,
		Approved: false,
	}
	if err := s.comments.Create(ctx, comment); err != nil {
		return nil, fmt.Errorf("failed to submit comment: %w", err)
	}

	resp := toCommentResponse(comment)
	resp.AuthorName = actor.Username
	s.notifier.Publish(EventCommentSubmitted, resp)
	return &resp, nil
}

func (s *commentService) Approve(ctx context.Context, actor authz.Principal, id string) (*CommentResponse, error) {
	return s.moderate(ctx, actor, id, true)
}

// Reject keeps the comment hidden and takes it out of the pending queue
func (s *commentService) Reject(ctx context.Context, actor authz.Principal, id string) (*CommentResponse, error) {
	return s.moderate(ctx, actor, id, false)
}

func (s *commentService) moderate(ctx context.Context, actor authz.Principal, id string, approve bool) (*CommentResponse, error) {
	if err := s.guard.require(actor, authz.CapCommentModerate); err != nil {
		return nil, err
	}
	commentID, err := parseID(id, "comment")
	if err != nil {
		return nil, err
	}

	action := model.ActionRejectComment
	if approve {
		action = model.ActionApproveComment
	}

	var comment *model.Comment
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		c, err := s.comments.FindByID(txCtx, commentID)
		if err != nil {
			return loadErr(err, "comment", commentID)
		}

		at := s.now()
		moderator := actor.ID
		c.Approved = approve
		c.ModeratedByID = &moderator
		c.ModeratedAt = &at
		if err := s.comments.Update(txCtx, c); err != nil {
			return fmt.Errorf("failed to moderate comment: %w", err)
		}
		comment = c
		return s.audit.Log(txCtx, auditEntry(actor, action, commentID.String(), "", map[string]any{
			"post_id": c.PostID,
		}))
	})
	if err != nil {
		return nil, err
	}

	resp := toCommentResponse(comment)
	return &resp, nil
}

func (s *commentService) Delete(ctx context.Context, actor authz.Principal, id string) error {
	if err := s.guard.require(actor, authz.CapCommentModerate); err != nil {
		return err
	}
	commentID, err := parseID(id, "comment")
	if err != nil {
		return err
	}

	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		c, err := s.comments.FindByID(txCtx, commentID)
		if err != nil {
			return loadErr(err, "comment", commentID)
		}
		if err := s.comments.Delete(txCtx, commentID); err != nil {
			return fmt.Errorf("failed to delete comment: %w", err)
		}
		return s.audit.Log(txCtx, auditEntry(actor, model.ActionDeleteComment, commentID.String(), "", map[string]any{
			"post_id": c.PostID,
			"state":   c.State(),
		}))
	})
}

// ListPublic returns approved comments of a published post
func (s *commentService) ListPublic(ctx context.Context, postID string, page, limit int) ([]CommentResponse, int64, error) {
	pid, err := parseID(postID, "post")
	if err != nil {
		return nil, 0, err
	}
	post, err := s.posts.FindByID(ctx, pid)
	if err != nil {
		return nil, 0, loadErr(err, "post", pid)
	}
	if !post.Published {
		return nil, 0, errs.NotFound("post %s not found", pid)
	}

	p := pagination.New(page, limit)
	comments, total, err := s.comments.ListApproved(ctx, pid, p.Offset, p.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list comments: %w", err)
	}
	return toCommentResponses(comments), total, nil
}

// ListQueue shows moderators every state; state is pending, approved,
// rejected, or empty/all
func (s *commentService) ListQueue(ctx context.Context, actor authz.Principal, state string, page, limit int) ([]CommentResponse, int64, error) {
	if err := s.guard.require(actor, authz.CapCommentModerate); err != nil {
		return nil, 0, err
	}

	state = strings.ToUpper(strings.TrimSpace(state))
	switch state {
	case "", "ALL":
		state = ""
	case model.CommentPending, model.CommentApproved, model.CommentRejected:
	default:
		return nil, 0, errs.Validation("unknown comment state %q; use pending, approved, rejected or all", state)
	}

	p := pagination.New(page, limit)
	comments, total, err := s.comments.ListQueue(ctx, state, p.Offset, p.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list comments: %w", err)
	}
	return toCommentResponses(comments), total, nil
}

func toCommentResponses(comments []model.Comment) []CommentResponse {
	res := make([]CommentResponse, 0, len(comments))
	for i := range comments {
		res = append(res, toCommentResponse(&comments[i]))
	}
	return res
}
