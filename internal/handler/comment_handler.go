package handler

import (
	"net/http"

	"backoffice/internal/middleware"
	"backoffice/internal/service"
	"backoffice/pkg/pagination"
	"backoffice/pkg/response"

	"github.com/gin-gonic/gin"
)

// CommentHandler serves the moderation queue. Public reads and submission
// hang off the post routes.
type CommentHandler struct {
	commentService service.CommentService
}

func NewCommentHandler(commentService service.CommentService) *CommentHandler {
	return &CommentHandler{commentService: commentService}
}

func (h *CommentHandler) RegisterRoutes(router *gin.RouterGroup) {
	comments := router.Group("/api/comments", middleware.RequireAuth())
	{
		comments.GET("", h.ListQueue)
		comments.PATCH("/:id/approve", h.Approve)
		comments.PATCH("/:id/reject", h.Reject)
		comments.DELETE("/:id", h.Delete)
	}
}

// ListQueue godoc
// @Summary      Moderation queue
// @Tags         comments
// @Security     BearerAuth
// @Produce      json
// @Param        state  query     string  false  "pending, approved, rejected or all"
// @Param        page   query     int     false  "Page number (default 1)"
// @Param        limit  query     int     false  "Items per page (default 20)"
// @Success      200    {object}  response.Response{data=response.Page}
// @Failure      403    {object}  response.Response
// @Router       /api/comments [get]
func (h *CommentHandler) ListQueue(c *gin.Context) {
	p := pagination.Parse(c)
	comments, total, err := h.commentService.ListQueue(c.Request.Context(), middleware.PrincipalFrom(c), c.DefaultQuery("state", "pending"), p.Page, p.Limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Paginated(http.StatusOK, comments, total, p.Page, p.Limit))
}

// Approve godoc
// @Summary      Approve comment
// @Tags         comments
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Comment ID"
// @Success      200  {object}  response.Response{data=service.CommentResponse}
// @Router       /api/comments/{id}/approve [patch]
func (h *CommentHandler) Approve(c *gin.Context) {
	comment, err := h.commentService.Approve(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, comment))
}

// Reject godoc
// @Summary      Reject comment
// @Tags         comments
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Comment ID"
// @Success      200  {object}  response.Response{data=service.CommentResponse}
// @Router       /api/comments/{id}/reject [patch]
func (h *CommentHandler) Reject(c *gin.Context) {
	comment, err := h.commentService.Reject(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, comment))
}

// Delete godoc
// @Summary      Delete comment
// @Tags         comments
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Comment ID"
// @Success      200  {object}  response.Response
// @Router       /api/comments/{id} [delete]
func (h *CommentHandler) Delete(c *gin.Context) {
	if err := h.commentService.Delete(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Comment deleted successfully"}))
}
