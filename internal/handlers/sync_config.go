package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/crmsync/internal/contactsync"
)

type SyncConfigHandler struct {
	service *contactsync.ConfigService
	logger  *slog.Logger
}

// AuthorizationResponse carries the provider consent URL.
type AuthorizationResponse struct {
	URL string `json:"url"`
}

func NewSyncConfigHandler(log *slog.Logger, service *contactsync.ConfigService) *SyncConfigHandler {
	return &SyncConfigHandler{
		service: service,
		logger:  log.With(slog.String("handler", "sync_config")),
	}
}

func (h *SyncConfigHandler) Register(e *echo.Echo) {
	group := e.Group("/sync")
	group.GET("/configs", h.List)
	group.GET("/configs/:provider", h.Get)
	group.PUT("/configs/:provider", h.Upsert)
	group.DELETE("/configs/:provider", h.Disconnect)
	group.GET("/oauth/:provider/authorize", h.Authorize)
	group.GET("/oauth/:provider/callback", h.Callback)
}

func (h *SyncConfigHandler) List(c echo.Context) error {
	ownerID, err := RequireOwnerID(c)
	if err != nil {
		return err
	}
	items, err := h.service.List(c.Request().Context(), ownerID)
	if err != nil {
		return syncHTTPError(err)
	}
	return c.JSON(http.StatusOK, listOf(items))
}

func (h *SyncConfigHandler) Get(c echo.Context) error {
	ownerID, err := RequireOwnerID(c)
	if err != nil {
		return err
	}
	provider, err := requireParam(c, "provider", "provider")
	if err != nil {
		return err
	}
	cfg, err := h.service.Get(c.Request().Context(), ownerID, provider)
	if err != nil {
		return syncHTTPError(err)
	}
	return c.JSON(http.StatusOK, cfg)
}

// Upsert godoc
// @Summary Create or update a sync config
// @Tags sync
// @Security BearerAuth
// @Param provider path string true "Provider name"
// @Param payload body contactsync.ConfigUpdate true "Fields to change"
// @Success 200 {object} contactsync.Config
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /sync/configs/{provider} [put]
func (h *SyncConfigHandler) Upsert(c echo.Context) error {
	ownerID, err := RequireOwnerID(c)
	if err != nil {
		return err
	}
	provider, err := requireParam(c, "provider", "provider")
	if err != nil {
		return err
	}
	var req contactsync.ConfigUpdate
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cfg, err := h.service.CreateOrUpdate(c.Request().Context(), ownerID, provider, req)
	if err != nil {
		return syncHTTPError(err)
	}
	return c.JSON(http.StatusOK, cfg)
}

func (h *SyncConfigHandler) Disconnect(c echo.Context) error {
	ownerID, err := RequireOwnerID(c)
	if err != nil {
		return err
	}
	provider, err := requireParam(c, "provider", "provider")
	if err != nil {
		return err
	}
	cfg, err := h.service.Disconnect(c.Request().Context(), ownerID, provider)
	if err != nil {
		return syncHTTPError(err)
	}
	return c.JSON(http.StatusOK, cfg)
}

// Authorize godoc
// @Summary Provider consent URL
// @Tags sync
// @Security BearerAuth
// @Param provider path string true "Provider name"
// @Success 200 {object} AuthorizationResponse
// @Failure 404 {object} ErrorResponse
// @Router /sync/oauth/{provider}/authorize [get]
func (h *SyncConfigHandler) Authorize(c echo.Context) error {
	ownerID, err := RequireOwnerID(c)
	if err != nil {
		return err
	}
	provider, err := requireParam(c, "provider", "provider")
	if err != nil {
		return err
	}
	url, err := h.service.AuthorizationURL(ownerID, provider)
	if err != nil {
		return syncHTTPError(err)
	}
	return c.JSON(http.StatusOK, AuthorizationResponse{URL: url})
}

// Callback godoc
// @Summary OAuth redirect target
// @Description Public endpoint; the owner is carried in the signed state.
// @Tags sync
// @Param provider path string true "Provider name"
// @Param state query string true "Signed state"
// @Param code query string true "Authorization code"
// @Success 200 {object} contactsync.Config
// @Failure 400 {object} ErrorResponse
// @Router /sync/oauth/{provider}/callback [get]
func (h *SyncConfigHandler) Callback(c echo.Context) error {
	provider, err := requireParam(c, "provider", "provider")
	if err != nil {
		return err
	}
	if denied := strings.TrimSpace(c.QueryParam("error")); denied != "" {
		return echo.NewHTTPError(http.StatusBadRequest, "authorization denied: "+denied)
	}
	state := strings.TrimSpace(c.QueryParam("state"))
	code := strings.TrimSpace(c.QueryParam("code"))
	if state == "" || code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "state and code are required")
	}
	cfg, err := h.service.CompleteAuthorization(c.Request().Context(), provider, state, code)
	if err != nil {
		h.logger.Warn("oauth callback failed", slog.String("provider", provider), slog.Any("error", err))
		return syncHTTPError(err)
	}
	return c.JSON(http.StatusOK, cfg)
}
