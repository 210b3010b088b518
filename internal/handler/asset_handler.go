package handler

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"backoffice/internal/middleware"
	"backoffice/internal/service"
	"backoffice/internal/storage"
	"backoffice/pkg/pagination"
	"backoffice/pkg/response"

	"github.com/gin-gonic/gin"
)

type AssetHandler struct {
	assetService   service.AssetService
	maxUploadBytes int64
}

func NewAssetHandler(assetService service.AssetService, maxUploadBytes int64) *AssetHandler {
	return &AssetHandler{assetService: assetService, maxUploadBytes: maxUploadBytes}
}

func (h *AssetHandler) RegisterRoutes(router *gin.RouterGroup) {
	assets := router.Group("/api/assets", middleware.RequireAuth())
	{
		assets.GET("", h.ListAssets)
		assets.GET("/:id", h.GetAsset)
		assets.POST("", h.Upload)
		assets.POST("/bulk", h.BulkUpload)
		assets.POST("/sweep", h.Sweep)
		assets.DELETE("/:id", h.DeleteAsset)
	}

	router.GET("/media/originals/:key", h.media(storage.AreaOriginals))
	router.GET("/media/thumbnails/:key", h.media(storage.AreaThumbnails))
}

// readUpload loads one multipart part, refusing anything above the size cap
func readUpload(fh *multipart.FileHeader, limit int64) (service.UploadFile, error) {
	if fh.Size > limit {
		return service.UploadFile{}, fmt.Errorf("%s exceeds the %d byte upload limit", fh.Filename, limit)
	}
	f, err := fh.Open()
	if err != nil {
		return service.UploadFile{}, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return service.UploadFile{}, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
	}
	if int64(len(data)) > limit {
		return service.UploadFile{}, fmt.Errorf("%s exceeds the %d byte upload limit", fh.Filename, limit)
	}
	return service.UploadFile{Name: fh.Filename, Data: data}, nil
}

// Upload stores one image
// @Summary      Upload image
// @Description  Stores the original, derives a thumbnail and records the asset
// @Tags         assets
// @Security     BearerAuth
// @Accept       mpfd
// @Produce      json
// @Param        file      formData  file    true   "Image (gif, jpg, jpeg, png, webp)"
// @Param        alt_text  formData  string  false  "Alternative text"
// @Success      201  {object}  response.Response{data=service.AssetResponse}
// @Failure      400  {object}  response.Response
// @Failure      403  {object}  response.Response
// @Failure      500  {object}  response.Response
// @Router       /api/assets [post]
func (h *AssetHandler) Upload(c *gin.Context) {
	if err := h.assetService.AuthorizeUpload(middleware.PrincipalFrom(c)); err != nil {
		fail(c, err)
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "A file field is required")
		return
	}
	file, err := readUpload(fh, h.maxUploadBytes)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	asset, err := h.assetService.Upload(c.Request.Context(), middleware.PrincipalFrom(c), file, c.PostForm("alt_text"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, asset))
}

// BulkUpload stores each file independently
// @Summary      Bulk upload images
// @Description  Each file succeeds or fails on its own; failures are listed with a reason
// @Tags         assets
// @Security     BearerAuth
// @Accept       mpfd
// @Produce      json
// @Param        files[]  formData  file  true  "Images"
// @Success      200  {object}  response.Response{data=service.BulkUploadResponse}
// @Failure      400  {object}  response.Response
// @Failure      403  {object}  response.Response
// @Router       /api/assets/bulk [post]
func (h *AssetHandler) BulkUpload(c *gin.Context) {
	actor := middleware.PrincipalFrom(c)
	if err := h.assetService.AuthorizeUpload(actor); err != nil {
		fail(c, err)
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		badRequest(c, "Invalid multipart payload")
		return
	}
	headers := form.File["files[]"]
	if len(headers) == 0 {
		headers = form.File["files"]
	}

	files := make([]service.UploadFile, 0, len(headers))
	var oversized []service.UploadFailure
	for _, fh := range headers {
		f, err := readUpload(fh, h.maxUploadBytes)
		if err != nil {
			oversized = append(oversized, service.UploadFailure{Name: fh.Filename, Reason: err.Error()})
			continue
		}
		files = append(files, f)
	}
	if len(files) == 0 && len(oversized) > 0 {
		c.JSON(http.StatusOK, response.Success(http.StatusOK, service.BulkUploadResponse{
			Created: []service.AssetResponse{},
			Failed:  oversized,
		}))
		return
	}

	res, err := h.assetService.BulkUpload(c.Request.Context(), actor, files)
	if err != nil {
		fail(c, err)
		return
	}
	res.Failed = append(res.Failed, oversized...)
	c.JSON(http.StatusOK, response.Success(http.StatusOK, res))
}

// ListAssets godoc
// @Summary      List assets
// @Description  Administrators see every asset, others their own
// @Tags         assets
// @Security     BearerAuth
// @Produce      json
// @Param        page   query     int  false  "Page number (default 1)"
// @Param        limit  query     int  false  "Items per page (default 20)"
// @Success      200    {object}  response.Response{data=response.Page}
// @Router       /api/assets [get]
func (h *AssetHandler) ListAssets(c *gin.Context) {
	p := pagination.Parse(c)
	assets, total, err := h.assetService.ListAssets(c.Request.Context(), middleware.PrincipalFrom(c), p.Page, p.Limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Paginated(http.StatusOK, assets, total, p.Page, p.Limit))
}

// GetAsset godoc
// @Summary      Get asset
// @Tags         assets
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Asset ID"
// @Success      200  {object}  response.Response{data=service.AssetResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/assets/{id} [get]
func (h *AssetHandler) GetAsset(c *gin.Context) {
	asset, err := h.assetService.GetAsset(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, asset))
}

// DeleteAsset godoc
// @Summary      Delete asset
// @Description  Refused while any post uses the asset as primary or supplementary image
// @Tags         assets
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Asset ID"
// @Success      200  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/assets/{id} [delete]
func (h *AssetHandler) DeleteAsset(c *gin.Context) {
	if err := h.assetService.DeleteAsset(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Asset deleted successfully"}))
}

// Sweep godoc
// @Summary      Remove orphaned files
// @Tags         assets
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=service.SweepReport}
// @Failure      403  {object}  response.Response
// @Router       /api/assets/sweep [post]
func (h *AssetHandler) Sweep(c *gin.Context) {
	report, err := h.assetService.Sweep(c.Request.Context(), middleware.PrincipalFrom(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, report))
}

// media streams stored bytes for a live asset
func (h *AssetHandler) media(area storage.Area) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := h.assetService.OpenMedia(c.Request.Context(), area, c.Param("key"))
		if err != nil {
			fail(c, err)
			return
		}
		defer m.Body.Close()

		c.DataFromReader(http.StatusOK, -1, m.ContentType, m.Body, map[string]string{
			"Cache-Control":       "public, max-age=86400",
			"Content-Disposition": fmt.Sprintf("inline; filename=%q", m.Name),
		})
	}
}
