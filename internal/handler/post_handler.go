package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"backoffice/internal/middleware"
	"backoffice/internal/service"
	"backoffice/pkg/pagination"
	"backoffice/pkg/response"

	"github.com/gin-gonic/gin"
)

type PostHandler struct {
	postService    service.PostService
	commentService service.CommentService
	maxUploadBytes int64
}

func NewPostHandler(postService service.PostService, commentService service.CommentService, maxUploadBytes int64) *PostHandler {
	return &PostHandler{postService: postService, commentService: commentService, maxUploadBytes: maxUploadBytes}
}

func (h *PostHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/posts", h.ListPublished)
	router.GET("/posts/:id", h.GetPost)
	router.GET("/posts/:id/comments", h.ListComments)

	posts := router.Group("/api/posts", middleware.RequireAuth())
	{
		posts.GET("/mine", h.ListMine)
		posts.POST("", h.CreatePost)
		posts.PUT("/:id", h.UpdatePost)
		posts.DELETE("/:id", h.DeletePost)
		posts.PATCH("/:id/publish", h.SetPublished)
		posts.POST("/:id/comments", h.SubmitComment)
	}
}

type publishRequest struct {
	Published bool `json:"published"`
}

// bindPostInput accepts JSON, or multipart with the JSON document in a
// "post" field and an optional primary_file part.
func (h *PostHandler) bindPostInput(c *gin.Context) (service.PostInput, bool) {
	var in service.PostInput
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		if err := c.ShouldBindJSON(&in); err != nil {
			badRequest(c, "Invalid request payload: "+err.Error())
			return in, false
		}
		return in, true
	}

	if raw := c.PostForm("post"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &in); err != nil {
			badRequest(c, "Invalid post field: "+err.Error())
			return in, false
		}
	} else {
		in.Title = c.PostForm("title")
		in.Body = c.PostForm("body")
		in.Published = c.PostForm("published") == "true"
		in.CategoryID = c.PostForm("category_id")
		in.TagIDs = c.PostFormArray("tag_ids")
		in.TagNames = c.PostFormArray("tag_names")
		in.PrimaryAssetID = c.PostForm("primary_asset_id")
		in.PrimaryAltText = c.PostForm("primary_alt_text")
		in.SupplementaryAssetIDs = c.PostFormArray("supplementary_asset_ids")
	}

	if fh, err := c.FormFile("primary_file"); err == nil {
		file, err := readUpload(fh, h.maxUploadBytes)
		if err != nil {
			badRequest(c, err.Error())
			return in, false
		}
		in.PrimaryFile = &file
	}
	return in, true
}

// CreatePost godoc
// @Summary      Create post
// @Description  JSON body, or multipart with a primary_file upload stored in the same request
// @Tags         posts
// @Security     BearerAuth
// @Accept       json,mpfd
// @Produce      json
// @Param        payload  body      service.PostInput  true  "Post"
// @Success      201      {object}  response.Response{data=service.PostResponse}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/posts [post]
func (h *PostHandler) CreatePost(c *gin.Context) {
	if err := h.postService.AuthorizeWrite(middleware.PrincipalFrom(c)); err != nil {
		fail(c, err)
		return
	}
	in, ok := h.bindPostInput(c)
	if !ok {
		return
	}
	post, err := h.postService.CreatePost(c.Request.Context(), middleware.PrincipalFrom(c), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, post))
}

// UpdatePost godoc
// @Summary      Update post
// @Description  Replaces title, body, category, tag set and image sets
// @Tags         posts
// @Security     BearerAuth
// @Accept       json,mpfd
// @Produce      json
// @Param        id       path      string             true  "Post ID"
// @Param        payload  body      service.PostInput  true  "Post"
// @Success      200      {object}  response.Response{data=service.PostResponse}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Router       /api/posts/{id} [put]
func (h *PostHandler) UpdatePost(c *gin.Context) {
	if err := h.postService.AuthorizeWrite(middleware.PrincipalFrom(c)); err != nil {
		fail(c, err)
		return
	}
	in, ok := h.bindPostInput(c)
	if !ok {
		return
	}
	post, err := h.postService.UpdatePost(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("id"), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, post))
}

// DeletePost godoc
// @Summary      Delete post
// @Description  Removes the post with its comments and links; images stay in the library
// @Tags         posts
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Post ID"
// @Success      200  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /api/posts/{id} [delete]
func (h *PostHandler) DeletePost(c *gin.Context) {
	if err := h.postService.DeletePost(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Post deleted successfully"}))
}

// SetPublished godoc
// @Summary      Publish or unpublish
// @Tags         posts
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string          true  "Post ID"
// @Param        payload  body      publishRequest  true  "Published flag"
// @Success      200      {object}  response.Response{data=service.PostResponse}
// @Router       /api/posts/{id}/publish [patch]
func (h *PostHandler) SetPublished(c *gin.Context) {
	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload")
		return
	}
	post, err := h.postService.SetPublished(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("id"), req.Published)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, post))
}

// GetPost godoc
// @Summary      Get post
// @Description  Published posts are public; drafts only reach their owner
// @Tags         posts
// @Produce      json
// @Param        id   path      string  true  "Post ID"
// @Success      200  {object}  response.Response{data=service.PostResponse}
// @Failure      404  {object}  response.Response
// @Router       /posts/{id} [get]
func (h *PostHandler) GetPost(c *gin.Context) {
	post, err := h.postService.GetPost(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, post))
}

// ListPublished godoc
// @Summary      List published posts
// @Tags         posts
// @Produce      json
// @Param        search       query     string  false  "Case-insensitive match on title or body"
// @Param        category_id  query     string  false  "Category filter"
// @Param        tag_id       query     string  false  "Tag filter"
// @Param        page         query     int     false  "Page number (default 1)"
// @Param        limit        query     int     false  "Items per page (default 20)"
// @Success      200          {object}  response.Response{data=response.Page}
// @Router       /posts [get]
func (h *PostHandler) ListPublished(c *gin.Context) {
	p := pagination.Parse(c)
	posts, total, err := h.postService.ListPublished(c.Request.Context(), service.PostQuery{
		Search:     c.Query("search"),
		CategoryID: c.Query("category_id"),
		TagID:      c.Query("tag_id"),
		Page:       p.Page,
		Limit:      p.Limit,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Paginated(http.StatusOK, posts, total, p.Page, p.Limit))
}

// ListMine godoc
// @Summary      List own posts
// @Tags         posts
// @Security     BearerAuth
// @Produce      json
// @Param        page   query     int  false  "Page number (default 1)"
// @Param        limit  query     int  false  "Items per page (default 20)"
// @Success      200    {object}  response.Response{data=response.Page}
// @Router       /api/posts/mine [get]
func (h *PostHandler) ListMine(c *gin.Context) {
	p := pagination.Parse(c)
	posts, total, err := h.postService.ListMine(c.Request.Context(), middleware.PrincipalFrom(c), p.Page, p.Limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Paginated(http.StatusOK, posts, total, p.Page, p.Limit))
}

// ListComments godoc
// @Summary      List approved comments of a post
// @Tags         comments
// @Produce      json
// @Param        id     path      string  true   "Post ID"
// @Param        page   query     int     false  "Page number (default 1)"
// @Param        limit  query     int     false  "Items per page (default 20)"
// @Success      200    {object}  response.Response{data=response.Page}
// @Router       /posts/{id}/comments [get]
func (h *PostHandler) ListComments(c *gin.Context) {
	p := pagination.Parse(c)
	comments, total, err := h.commentService.ListPublic(c.Request.Context(), c.Param("id"), p.Page, p.Limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Paginated(http.StatusOK, comments, total, p.Page, p.Limit))
}

// SubmitComment godoc
// @Summary      Comment on a published post
// @Description  The comment waits in the moderation queue until approved
// @Tags         comments
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                true  "Post ID"
// @Param        payload  body      service.CommentInput  true  "Comment"
// @Success      201      {object}  response.Response{data=service.CommentResponse}
// @Failure      404      {object}  response.Response
// @Router       /api/posts/{id}/comments [post]
func (h *PostHandler) SubmitComment(c *gin.Context) {
	var in service.CommentInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid request payload: "+err.Error())
		return
	}
	comment, err := h.commentService.Submit(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("id"), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, comment))
}
