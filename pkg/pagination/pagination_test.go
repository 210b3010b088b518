package pagination

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	assert.Equal(t, Params{Page: 1, Limit: 20, Offset: 0}, New(0, 0))
	assert.Equal(t, Params{Page: 3, Limit: 10, Offset: 20}, New(3, 10))
	assert.Equal(t, Params{Page: 2, Limit: 100, Offset: 100}, New(2, 5000))
}

func TestParse(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/posts?page=4&limit=abc", nil)

	assert.Equal(t, Params{Page: 4, Limit: 20, Offset: 60}, Parse(c))
}
