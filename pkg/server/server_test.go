package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"formlink/pkg/logging"
)

func TestSetupRouterAppliesCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := logging.NewLogger()
	router := SetupRouter(logger, "formlink")
	router.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSetupRouterSetsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := logging.NewLogger()
	router := SetupRouter(logger, "formlink")
	router.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	router.ServeHTTP(w, req)

	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestDefaultConfigPortOverride(t *testing.T) {
	t.Setenv("PORT", "9999")
	cfg := DefaultConfig("formlink", "3000")
	assert.Equal(t, "9999", cfg.Port)

	t.Setenv("PORT", "")
	cfg = DefaultConfig("formlink", "3000")
	assert.Equal(t, "3000", cfg.Port)
}
