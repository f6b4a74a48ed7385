package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/crmsync/internal/contactsync"
)

// RunStarter starts a run in the background; *contactsync.Engine satisfies it.
type RunStarter interface {
	Start(ctx context.Context, ownerID, configID string) (contactsync.Run, error)
}

type SyncHandler struct {
	starter RunStarter
	query   *contactsync.QueryService
	logger  *slog.Logger
}

// RunStartedResponse is returned when a run has been accepted.
type RunStartedResponse struct {
	RunID  string                `json:"run_id"`
	Status contactsync.RunStatus `json:"status"`
}

func NewSyncHandler(log *slog.Logger, starter RunStarter, query *contactsync.QueryService) *SyncHandler {
	return &SyncHandler{
		starter: starter,
		query:   query,
		logger:  log.With(slog.String("handler", "sync")),
	}
}

func (h *SyncHandler) Register(e *echo.Echo) {
	group := e.Group("/sync")
	group.POST("/configs/:id/runs", h.StartRun)
	group.GET("/runs", h.History)
	group.GET("/runs/:id", h.RunDetails)
	group.GET("/runs/:id/changes", h.RunChanges)
	group.GET("/contacts/:local_id/changes", h.ContactChanges)
	group.GET("/changes", h.OwnerChanges)
	group.GET("/stats", h.Stats)
}

// StartRun godoc
// @Summary Start a sync run
// @Description Starts a run in the background and returns immediately. A failure
// @Description after acceptance is reported only in the run history.
// @Tags sync
// @Security BearerAuth
// @Param id path string true "Sync config ID"
// @Success 202 {object} RunStartedResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /sync/configs/{id}/runs [post]
func (h *SyncHandler) StartRun(c echo.Context) error {
	ownerID, err := RequireOwnerID(c)
	if err != nil {
		return err
	}
	configID, err := requireParam(c, "id", "config id")
	if err != nil {
		return err
	}
	run, err := h.starter.Start(c.Request().Context(), ownerID, configID)
	if err != nil {
		return syncHTTPError(err)
	}
	h.logger.Info("sync run accepted", slog.String("run_id", run.ID), slog.String("config_id", configID))
	return c.JSON(http.StatusAccepted, RunStartedResponse{RunID: run.ID, Status: run.Status})
}

// History godoc
// @Summary Run history
// @Tags sync
// @Security BearerAuth
// @Param page query int false "1-based page"
// @Param limit query int false "Page size (max 100)"
// @Success 200 {object} contactsync.RunPage
// @Router /sync/runs [get]
func (h *SyncHandler) History(c echo.Context) error {
	ownerID, err := RequireOwnerID(c)
	if err != nil {
		return err
	}
	page, err := queryInt(c, "page")
	if err != nil {
		return err
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		return err
	}
	resp, err := h.query.History(c.Request().Context(), ownerID, page, limit)
	if err != nil {
		return syncHTTPError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *SyncHandler) RunDetails(c echo.Context) error {
	ownerID, err := RequireOwnerID(c)
	if err != nil {
		return err
	}
	runID, err := requireParam(c, "id", "run id")
	if err != nil {
		return err
	}
	run, err := h.query.RunDetails(c.Request().Context(), ownerID, runID)
	if err != nil {
		return syncHTTPError(err)
	}
	return c.JSON(http.StatusOK, run)
}

// RunChanges godoc
// @Summary Change log of one run
// @Tags sync
// @Security BearerAuth
// @Param id path string true "Run ID"
// @Param operation query string false "create_local, update_remote, ..."
// @Param change_type query string false "create, update or delete"
// @Success 200 {object} ListResponse[contactsync.ChangeLogEntry]
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /sync/runs/{id}/changes [get]
func (h *SyncHandler) RunChanges(c echo.Context) error {
	ownerID, err := RequireOwnerID(c)
	if err != nil {
		return err
	}
	runID, err := requireParam(c, "id", "run id")
	if err != nil {
		return err
	}
	filter := contactsync.ChangeLogFilter{
		Operation:  contactsync.Operation(strings.TrimSpace(c.QueryParam("operation"))),
		ChangeType: contactsync.ChangeType(strings.TrimSpace(c.QueryParam("change_type"))),
	}
	if filter.Operation != "" && !filter.Operation.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid operation")
	}
	if filter.ChangeType != "" && !filter.ChangeType.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid change_type")
	}
	items, err := h.query.ChangeLog(c.Request().Context(), ownerID, runID, filter)
	if err != nil {
		return syncHTTPError(err)
	}
	return c.JSON(http.StatusOK, listOf(items))
}

func (h *SyncHandler) ContactChanges(c echo.Context) error {
	ownerID, err := RequireOwnerID(c)
	if err != nil {
		return err
	}
	localID, err := requireParam(c, "local_id", "contact id")
	if err != nil {
		return err
	}
	items, err := h.query.ContactChanges(c.Request().Context(), ownerID, localID)
	if err != nil {
		return syncHTTPError(err)
	}
	return c.JSON(http.StatusOK, listOf(items))
}

func (h *SyncHandler) OwnerChanges(c echo.Context) error {
	ownerID, err := RequireOwnerID(c)
	if err != nil {
		return err
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		return err
	}
	items, err := h.query.OwnerChanges(c.Request().Context(), ownerID, limit)
	if err != nil {
		return syncHTTPError(err)
	}
	return c.JSON(http.StatusOK, listOf(items))
}

// Stats godoc
// @Summary Aggregated sync stats
// @Tags sync
// @Security BearerAuth
// @Success 200 {object} contactsync.OwnerStats
// @Router /sync/stats [get]
func (h *SyncHandler) Stats(c echo.Context) error {
	ownerID, err := RequireOwnerID(c)
	if err != nil {
		return err
	}
	stats, err := h.query.Stats(c.Request().Context(), ownerID)
	if err != nil {
		return syncHTTPError(err)
	}
	return c.JSON(http.StatusOK, stats)
}
