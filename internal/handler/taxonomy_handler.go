package handler

import (
	"net/http"

	"backoffice/internal/middleware"
	"backoffice/internal/service"
	"backoffice/pkg/response"

	"github.com/gin-gonic/gin"
)

type TaxonomyHandler struct {
	taxonomyService service.TaxonomyService
}

func NewTaxonomyHandler(taxonomyService service.TaxonomyService) *TaxonomyHandler {
	return &TaxonomyHandler{taxonomyService: taxonomyService}
}

func (h *TaxonomyHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/categories", h.ListCategories)
	router.GET("/tags", h.ListTags)

	categories := router.Group("/api/categories", middleware.RequireAuth())
	{
		categories.GET("", h.ListOwnCategories)
		categories.POST("", h.CreateCategory)
		categories.PUT("/:id", h.UpdateCategory)
		categories.DELETE("/:id", h.DeleteCategory)
	}

	tags := router.Group("/api/tags", middleware.RequireAuth())
	{
		tags.GET("", h.ListOwnTags)
		tags.POST("", h.CreateTag)
		tags.PUT("/:id", h.UpdateTag)
		tags.DELETE("/:id", h.DeleteTag)
	}
}

// ListCategories godoc
// @Summary      List categories
// @Tags         taxonomy
// @Produce      json
// @Param        owner_id  query     string  false  "Restrict to one author"
// @Success      200       {object}  response.Response{data=[]service.CategoryResponse}
// @Router       /categories [get]
func (h *TaxonomyHandler) ListCategories(c *gin.Context) {
	h.listCategories(c, c.Query("owner_id"))
}

// ListOwnCategories godoc
// @Summary      List own categories
// @Tags         taxonomy
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=[]service.CategoryResponse}
// @Router       /api/categories [get]
func (h *TaxonomyHandler) ListOwnCategories(c *gin.Context) {
	h.listCategories(c, middleware.PrincipalFrom(c).ID.String())
}

func (h *TaxonomyHandler) listCategories(c *gin.Context, ownerID string) {
	cats, err := h.taxonomyService.ListCategories(c.Request.Context(), ownerID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, cats))
}

// CreateCategory godoc
// @Summary      Create category
// @Tags         taxonomy
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CategoryInput  true  "Category"
// @Success      201      {object}  response.Response{data=service.CategoryResponse}
// @Failure      409      {object}  response.Response
// @Router       /api/categories [post]
func (h *TaxonomyHandler) CreateCategory(c *gin.Context) {
	var in service.CategoryInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid request payload: "+err.Error())
		return
	}
	cat, err := h.taxonomyService.CreateCategory(c.Request.Context(), middleware.PrincipalFrom(c), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, cat))
}

// UpdateCategory godoc
// @Summary      Update category
// @Tags         taxonomy
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                 true  "Category ID"
// @Param        payload  body      service.CategoryInput  true  "Category"
// @Success      200      {object}  response.Response{data=service.CategoryResponse}
// @Router       /api/categories/{id} [put]
func (h *TaxonomyHandler) UpdateCategory(c *gin.Context) {
	var in service.CategoryInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid request payload: "+err.Error())
		return
	}
	cat, err := h.taxonomyService.UpdateCategory(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("id"), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, cat))
}

// DeleteCategory godoc
// @Summary      Delete category
// @Description  Posts in the category are kept and lose their category
// @Tags         taxonomy
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Category ID"
// @Success      200  {object}  response.Response
// @Router       /api/categories/{id} [delete]
func (h *TaxonomyHandler) DeleteCategory(c *gin.Context) {
	if err := h.taxonomyService.DeleteCategory(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Category deleted successfully"}))
}

// ListTags godoc
// @Summary      List tags
// @Tags         taxonomy
// @Produce      json
// @Param        owner_id  query     string  false  "Restrict to one author"
// @Success      200       {object}  response.Response{data=[]service.TagResponse}
// @Router       /tags [get]
func (h *TaxonomyHandler) ListTags(c *gin.Context) {
	h.listTags(c, c.Query("owner_id"))
}

// ListOwnTags godoc
// @Summary      List own tags
// @Tags         taxonomy
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=[]service.TagResponse}
// @Router       /api/tags [get]
func (h *TaxonomyHandler) ListOwnTags(c *gin.Context) {
	h.listTags(c, middleware.PrincipalFrom(c).ID.String())
}

func (h *TaxonomyHandler) listTags(c *gin.Context, ownerID string) {
	tags, err := h.taxonomyService.ListTags(c.Request.Context(), ownerID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, tags))
}

// CreateTag godoc
// @Summary      Create tag
// @Tags         taxonomy
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.TagInput  true  "Tag"
// @Success      201      {object}  response.Response{data=service.TagResponse}
// @Failure      409      {object}  response.Response
// @Router       /api/tags [post]
func (h *TaxonomyHandler) CreateTag(c *gin.Context) {
	var in service.TagInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid request payload: "+err.Error())
		return
	}
	tag, err := h.taxonomyService.CreateTag(c.Request.Context(), middleware.PrincipalFrom(c), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, tag))
}

// UpdateTag godoc
// @Summary      Rename tag
// @Tags         taxonomy
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string            true  "Tag ID"
// @Param        payload  body      service.TagInput  true  "Tag"
// @Success      200      {object}  response.Response{data=service.TagResponse}
// @Router       /api/tags/{id} [put]
func (h *TaxonomyHandler) UpdateTag(c *gin.Context) {
	var in service.TagInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid request payload: "+err.Error())
		return
	}
	tag, err := h.taxonomyService.UpdateTag(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("id"), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, tag))
}

// DeleteTag godoc
// @Summary      Delete tag
// @Description  The tag is removed from every post that carried it
// @Tags         taxonomy
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Tag ID"
// @Success      200  {object}  response.Response
// @Router       /api/tags/{id} [delete]
func (h *TaxonomyHandler) DeleteTag(c *gin.Context) {
	if err := h.taxonomyService.DeleteTag(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Tag deleted successfully"}))
}
