package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"ringline/config"
	"ringline/internal/services"
	ringline_errors "ringline/pkg/errors"
	"ringline/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestAuthMiddleware(t *testing.T) {
	auth := services.NewAuthService(&config.Config{JWTSecret: "s", JWTExpiryHours: 1})
	id := services.Identity{UserID: uuid.New(), TenantID: uuid.New()}
	token, err := auth.IssueAccessToken(id)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", AuthMiddleware(auth), func(c *gin.Context) {
		got, ok := services.IdentityFromContext(c.Request.Context())
		require.True(t, ok)
		c.String(http.StatusOK, got.UserID.String())
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id.UserID.String(), w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me?token="+token, nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, w.Header().Get("X-Request-Id"), 32)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "abc")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Header().Get("X-Request-Id"))
}

func TestErrorHandler_MapsTaxonomy(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler(logger.Nop()), LoggingMiddleware(logger.Nop()))
	r.GET("/missing", func(c *gin.Context) { _ = c.Error(ringline_errors.ErrNotFound) })
	r.GET("/boom", func(c *gin.Context) { _ = c.Error(errors.New("boom")) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"NOT_FOUND"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestErrorHandler_TagsRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware(), ErrorHandler(logger.Nop()))
	r.GET("/conflict", func(c *gin.Context) { _ = c.Error(ringline_errors.ErrInvalidState) })

	req := httptest.NewRequest(http.MethodGet, "/conflict", nil)
	req.Header.Set("X-Request-Id", "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"request_id":"req-42"`)
}
