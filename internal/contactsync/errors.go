package contactsync

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound      = errors.New("sync config not found")
	ErrConfigInactive      = errors.New("sync config is inactive")
	ErrRunInProgress       = errors.New("sync run already in progress")
	ErrRunNotFound         = errors.New("sync run not found")
	ErrRemoteAuthExpired   = errors.New("remote authorization expired")
	ErrRemoteFetchFailed   = errors.New("remote fetch failed")
	ErrLocalFetchFailed    = errors.New("local fetch failed")
	ErrMappingExists       = errors.New("mapping already exists")
	ErrMappingNotFound     = errors.New("mapping not found")
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrPersistence         = errors.New("persistence error")
	ErrInvalidState        = errors.New("invalid authorization state")
	ErrInvalidConfig       = errors.New("invalid sync config")
)

// ItemError records one non-fatal per-item failure; the run continues.
type ItemError struct {
	LocalID   string    `json:"local_id,omitempty"`
	RemoteID  string    `json:"remote_id,omitempty"`
	Operation Operation `json:"operation"`
	Message   string    `json:"message"`
	Err       error     `json:"-"`
}

func (e *ItemError) Error() string {
	id := e.LocalID
	if id == "" {
		id = e.RemoteID
	}
	return fmt.Sprintf("%s %s: %s", e.Operation, id, e.Message)
}

func (e *ItemError) Unwrap() error { return e.Err }

func itemError(a Action, err error) *ItemError {
	return &ItemError{
		LocalID:   a.localID(),
		RemoteID:  a.remoteID(),
		Operation: a.Op,
		Message:   err.Error(),
		Err:       err,
	}
}

func persistenceError(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, what, err)
}
