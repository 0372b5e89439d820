package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"eventcast/internal/core/domain"
	"eventcast/internal/core/services"
	"eventcast/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?access_token=q", nil)
	assert.Equal(t, "q", BearerToken(req))

	req.Header.Set("Authorization", "Bearer h")
	assert.Equal(t, "h", BearerToken(req))

	req.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, BearerToken(req))
}

func TestIdentityMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := services.NewAuthService("middleware-secret", time.Hour)

	router := gin.New()
	router.Use(IdentityMiddleware(auth))
	router.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, IdentityFrom(c))
	})
	router.GET("/private", RequireAuth(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/me", nil))
	var guest domain.Identity
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &guest))
	assert.False(t, guest.Authenticated)

	w = serve(router, httptest.NewRequest(http.MethodGet, "/private", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "UNAUTHORIZED")

	token, err := auth.GenerateToken(domain.Identity{UserID: "u1", Username: "ula", Authenticated: true})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = serve(router, req)
	var user domain.Identity
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))
	assert.True(t, user.Authenticated)
	assert.Equal(t, domain.UserID("u1"), user.UserID)

	req = httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusNoContent, serve(router, req).Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var seen string
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.GET("/", func(c *gin.Context) {
		seen = logger.RequestID(c.Request.Context())
		c.Status(http.StatusOK)
	})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	w = serve(router, req)
	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", w.Header().Get("X-Request-ID"))
}

func TestErrorHandlerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", domain.ErrEventNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"wrapped forbidden", fmt.Errorf("download: %w", domain.ErrForbidden), http.StatusForbidden, "FORBIDDEN"},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(RequestIDMiddleware(), ErrorHandlerMiddleware(zaptest.NewLogger(t).Sugar()))
			router.GET("/", func(c *gin.Context) {
				c.Error(tt.err)
			})

			w := serve(router, httptest.NewRequest(http.MethodGet, "/", nil))
			assert.Equal(t, tt.status, w.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body["error"])
			assert.NotEmpty(t, body["request_id"])
		})
	}
}

func TestRecoveryAndLoggingMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)

	router := gin.New()
	router.Use(
		RequestIDMiddleware(),
		LoggingMiddleware(logger.NewContextLogger(zap.New(core))),
		RecoveryMiddleware(zap.New(core).Sugar()),
	)
	router.GET("/boom", func(c *gin.Context) {
		panic("boom")
	})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	assert.Equal(t, 1, logs.FilterMessage("Panic recovered").Len())
	requests := logs.FilterMessage("http_request").All()
	require.Len(t, requests, 1)
	assert.Equal(t, "/boom", requests[0].ContextMap()["path"])
	assert.Equal(t, int64(http.StatusInternalServerError), requests[0].ContextMap()["status_code"])
	assert.NotEmpty(t, requests[0].ContextMap()["request_id"])
}
