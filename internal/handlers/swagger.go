package handlers

// @title crmsync API
// @version 1.0.0
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

import (
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/labstack/echo/v4"
)

//go:generate go run github.com/swaggo/swag/cmd/swag@latest init -g swagger.go -o ../../docs --parseDependency --parseInternal

type SwaggerHandler struct {
	path   string
	once   sync.Once
	spec   []byte
	err    error
	logger *slog.Logger
}

// NewSwaggerHandler serves the generated spec at path (docs/swagger.json by default).
func NewSwaggerHandler(log *slog.Logger, path string) *SwaggerHandler {
	if path == "" {
		path = "docs/swagger.json"
	}
	return &SwaggerHandler{path: path, logger: log.With(slog.String("handler", "swagger"))}
}

func (h *SwaggerHandler) Register(e *echo.Echo) {
	e.GET("/api/swagger.json", h.Spec)
	e.GET("/api/docs", h.UI)
}

func (h *SwaggerHandler) Spec(c echo.Context) error {
	h.once.Do(func() {
		h.spec, h.err = os.ReadFile(h.path)
		if h.err != nil {
			h.logger.Warn("swagger spec unavailable", slog.String("path", h.path), slog.Any("error", h.err))
		}
	})
	if h.err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "api spec not generated")
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, h.spec)
}

func (h *SwaggerHandler) UI(c echo.Context) error {
	return c.HTML(http.StatusOK, swaggerUIHTML)
}

const swaggerUIHTML = `<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <title>crmsync API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
      window.onload = () => {
        window.ui = SwaggerUIBundle({ url: '/api/swagger.json', dom_id: '#swagger-ui' });
      };
    </script>
  </body>
</html>`
