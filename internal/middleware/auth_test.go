package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"familyhub/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newRouter(tokens *auth.Tokens) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(zerolog.Nop()))
	r.Use(JWTAuthMiddleware(tokens))
	r.GET("/protected", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": Identity(c).UserID})
	})
	return r
}

func TestJWTAuthMiddleware_Success(t *testing.T) {
	tokens := auth.NewTokens("s", "iss", "aud", time.Hour)
	r := newRouter(tokens)

	token, _, err := tokens.GenerateToken(5, "alice")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"user_id":5}`, w.Body.String())
	require.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestJWTAuthMiddleware_MissingHeader(t *testing.T) {
	r := newRouter(auth.NewTokens("s", "iss", "aud", time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.JSONEq(t, `{"message":"Unauthenticated."}`, w.Body.String())
}

func TestJWTAuthMiddleware_InvalidToken(t *testing.T) {
	r := newRouter(auth.NewTokens("s", "iss", "aud", time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer nope")
	req.Header.Set(RequestIDHeader, "req-1")
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "req-1", w.Header().Get(RequestIDHeader))
}
