package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/crmsync/internal/auth"
)

type routes struct{}

func (routes) Register(e *echo.Echo) {
	e.GET("/ping", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/sync/oauth/:provider/callback", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/sync/oauth/:provider/authorize", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
}

func TestPublicPathsSkipAuth(t *testing.T) {
	srv := NewServer(slog.Default(), "", "secret", routes{})
	tests := []struct {
		path string
		want int
	}{
		{"/ping", http.StatusOK},
		{"/sync/oauth/google/callback", http.StatusOK},
		{"/sync/oauth/google/authorize", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		assert.Equal(t, tt.want, rec.Code, tt.path)
	}

	tok, _, err := auth.GenerateToken("owner-1", "secret", time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/sync/oauth/google/authorize", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRedactToken(t *testing.T) {
	assert.Equal(t, "/sync/events", redactToken("/sync/events"))
	assert.Equal(t, "/sync/events?token=REDACTED", redactToken("/sync/events?token=abc"))
	assert.Equal(t, "/sync/events?token=REDACTED&x=1", redactToken("/sync/events?token=abc&x=1"))
}
