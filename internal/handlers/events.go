package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/crmsync/internal/event"
)

const defaultHeartbeat = 20 * time.Second

// SyncEventsHandler streams the caller's run events as server-sent events.
type SyncEventsHandler struct {
	events    event.Subscriber
	heartbeat time.Duration
	logger    *slog.Logger
}

func NewSyncEventsHandler(log *slog.Logger, events event.Subscriber) *SyncEventsHandler {
	return &SyncEventsHandler{
		events:    events,
		heartbeat: defaultHeartbeat,
		logger:    log.With(slog.String("handler", "sync_events")),
	}
}

func (h *SyncEventsHandler) Register(e *echo.Echo) {
	e.GET("/sync/events", h.Stream)
}

// Stream godoc
// @Summary Run event stream
// @Description Emits run_started and run_finished events with the run as data.
// @Description With run_id the stream ends after that run's run_finished event.
// @Tags sync
// @Security BearerAuth
// @Param config_id query string false "Only events of this sync config"
// @Param run_id query string false "Only events of this run"
// @Produce text/event-stream
// @Router /sync/events [get]
func (h *SyncEventsHandler) Stream(c echo.Context) error {
	ownerID, err := RequireOwnerID(c)
	if err != nil {
		return err
	}
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming not supported")
	}

	filter := event.Filter{
		ConfigID: strings.TrimSpace(c.QueryParam("config_id")),
		RunID:    strings.TrimSpace(c.QueryParam("run_id")),
	}
	_, stream, cancel := h.events.Subscribe(ownerID, filter, event.DefaultBufferSize)
	defer cancel()

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
	writer := bufio.NewWriter(c.Response().Writer)
	if err := writeSSEComment(writer, flusher, "connected"); err != nil {
		return nil
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case <-heartbeat.C:
			if err := writeSSEComment(writer, flusher, "ping"); err != nil {
				return nil
			}
		case evt, ok := <-stream:
			if !ok {
				return nil
			}
			if err := writeSSEEvent(writer, flusher, string(evt.Type), evt); err != nil {
				h.logger.Debug("event stream closed", slog.Any("error", err))
				return nil
			}
			if filter.Final(evt) {
				return nil
			}
		}
	}
}

func writeSSEEvent(writer *bufio.Writer, flusher http.Flusher, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(writer, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func writeSSEComment(writer *bufio.Writer, flusher http.Flusher, text string) error {
	if _, err := fmt.Fprintf(writer, ": %s\n\n", text); err != nil {
		return err
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
