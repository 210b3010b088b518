package handler

import (
	"net/http"

	"backoffice/internal/database"
	"backoffice/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type HealthHandler struct {
	db *gorm.DB
}

func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

func (h *HealthHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/health", h.Health)
}

// Health godoc
// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  response.Response
// @Failure      503  {object}  response.Response
// @Router       /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	if err := database.HealthCheck(c.Request.Context(), h.db); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, response.Error(http.StatusServiceUnavailable, "database unavailable"))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"status": "ok"}))
}
