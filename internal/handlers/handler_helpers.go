package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/memohai/crmsync/internal/auth"
	"github.com/memohai/crmsync/internal/contacts"
	"github.com/memohai/crmsync/internal/contactsync"
	"github.com/memohai/crmsync/internal/directory"
)

// RequireOwnerID extracts and validates the caller's owner ID from the JWT.
func RequireOwnerID(c echo.Context) (string, error) {
	ownerID, err := auth.UserIDFromContext(c)
	if err != nil {
		return "", err
	}
	if _, err := uuid.Parse(ownerID); err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid owner id")
	}
	return ownerID, nil
}

func requireParam(c echo.Context, name, label string) (string, error) {
	value := strings.TrimSpace(c.Param(name))
	if value == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, label+" is required")
	}
	return value, nil
}

// queryInt parses an optional positive integer query parameter.
func queryInt(c echo.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be a non-negative integer")
	}
	return v, nil
}

// syncHTTPError maps domain sentinels to HTTP errors.
func syncHTTPError(err error) error {
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &httpErr):
		return httpErr
	case errors.Is(err, contactsync.ErrConfigNotFound),
		errors.Is(err, contactsync.ErrRunNotFound),
		errors.Is(err, contacts.ErrNotFound),
		errors.Is(err, directory.ErrUnknown):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, contactsync.ErrRunInProgress),
		errors.Is(err, contactsync.ErrConfigInactive),
		errors.Is(err, contactsync.ErrMappingExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, contactsync.ErrRemoteAuthExpired),
		errors.Is(err, directory.ErrAuthExpired):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, contactsync.ErrInvalidState),
		errors.Is(err, contactsync.ErrInvalidConfig):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
