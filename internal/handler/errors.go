package handler

import (
	"net/http"

	"backoffice/internal/errs"
	"backoffice/pkg/response"

	"github.com/gin-gonic/gin"
)

// fail answers with the status the error kind maps to. Unclassified errors
// are recorded on the context for the request logger and answered generically.
func fail(c *gin.Context, err error) {
	status := errs.StatusCode(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "Internal server error"
	}
	c.JSON(status, response.Error(status, msg))
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, msg))
}
