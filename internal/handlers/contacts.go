package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/crmsync/internal/contacts"
)

// ContactStore is the CRM contact surface served over HTTP.
type ContactStore interface {
	FetchAll(ctx context.Context, ownerID string) ([]contacts.Contact, error)
	GetByID(ctx context.Context, contactID string) (contacts.Contact, error)
	Create(ctx context.Context, req contacts.CreateRequest) (contacts.Contact, error)
	Update(ctx context.Context, contactID string, req contacts.UpdateRequest) (contacts.Contact, error)
	SoftDelete(ctx context.Context, contactID string) error
}

type ContactsHandler struct {
	store ContactStore
}

func NewContactsHandler(store ContactStore) *ContactsHandler {
	return &ContactsHandler{store: store}
}

func (h *ContactsHandler) Register(e *echo.Echo) {
	group := e.Group("/contacts")
	group.GET("", h.List)
	group.GET("/:id", h.Get)
	group.POST("", h.Create)
	group.PATCH("/:id", h.Update)
	group.DELETE("/:id", h.Delete)
}

// List godoc
// @Summary List contacts
// @Tags contacts
// @Security BearerAuth
// @Success 200 {object} contacts.ListResponse
// @Failure 500 {object} ErrorResponse
// @Router /contacts [get]
func (h *ContactsHandler) List(c echo.Context) error {
	ownerID, err := RequireOwnerID(c)
	if err != nil {
		return err
	}
	items, err := h.store.FetchAll(c.Request().Context(), ownerID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []contacts.Contact{}
	}
	return c.JSON(http.StatusOK, contacts.ListResponse{Items: items})
}

func (h *ContactsHandler) Get(c echo.Context) error {
	item, err := h.owned(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, item)
}

// Create godoc
// @Summary Create contact
// @Tags contacts
// @Security BearerAuth
// @Param payload body contacts.CreateRequest true "Contact payload"
// @Success 201 {object} contacts.Contact
// @Failure 400 {object} ErrorResponse
// @Router /contacts [post]
func (h *ContactsHandler) Create(c echo.Context) error {
	ownerID, err := RequireOwnerID(c)
	if err != nil {
		return err
	}
	var req contacts.CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.DisplayName) == "" && strings.TrimSpace(req.Email) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "display_name or email is required")
	}
	req.OwnerID = ownerID
	item, err := h.store.Create(c.Request().Context(), req)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, item)
}

func (h *ContactsHandler) Update(c echo.Context) error {
	item, err := h.owned(c)
	if err != nil {
		return err
	}
	var req contacts.UpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.store.Update(c.Request().Context(), item.ID, req)
	if err != nil {
		return syncHTTPError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

// Delete soft-deletes; the next sync propagates it per the config's deletion handling.
func (h *ContactsHandler) Delete(c echo.Context) error {
	item, err := h.owned(c)
	if err != nil {
		return err
	}
	if err := h.store.SoftDelete(c.Request().Context(), item.ID); err != nil {
		return syncHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// owned loads the :id contact and hides other owners' contacts as 404.
func (h *ContactsHandler) owned(c echo.Context) (contacts.Contact, error) {
	ownerID, err := RequireOwnerID(c)
	if err != nil {
		return contacts.Contact{}, err
	}
	id, err := requireParam(c, "id", "contact id")
	if err != nil {
		return contacts.Contact{}, err
	}
	item, err := h.store.GetByID(c.Request().Context(), id)
	if err != nil {
		return contacts.Contact{}, syncHTTPError(err)
	}
	if item.OwnerID != ownerID {
		return contacts.Contact{}, echo.NewHTTPError(http.StatusNotFound, contacts.ErrNotFound.Error())
	}
	return item, nil
}
