package contacts

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a contact does not exist or is deleted.
var ErrNotFound = errors.New("contact not found")

// Contact is a CRM-side contact owned by one account.
type Contact struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	DisplayName  string    `json:"display_name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone"`
	Address      string    `json:"address"`
	Organization string    `json:"organization"`
	Title        string    `json:"title"`
	Notes        string    `json:"notes"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	DeletedAt    time.Time `json:"deleted_at,omitzero"`
}

type CreateRequest struct {
	OwnerID      string `json:"-"`
	DisplayName  string `json:"display_name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	Address      string `json:"address"`
	Organization string `json:"organization"`
	Title        string `json:"title"`
	Notes        string `json:"notes"`
}

// UpdateRequest changes only the non-nil fields.
type UpdateRequest struct {
	DisplayName  *string `json:"display_name,omitempty"`
	Email        *string `json:"email,omitempty"`
	Phone        *string `json:"phone,omitempty"`
	Address      *string `json:"address,omitempty"`
	Organization *string `json:"organization,omitempty"`
	Title        *string `json:"title,omitempty"`
	Notes        *string `json:"notes,omitempty"`
}

type ListResponse struct {
	Items []Contact `json:"items"`
}
