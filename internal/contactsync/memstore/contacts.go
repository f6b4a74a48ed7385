package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/crmsync/internal/contacts"
)

// Contacts is an in-memory contactsync.LocalStore.
type Contacts struct {
	mu    sync.RWMutex
	items map[string]contacts.Contact
	seq   int
	// Now stamps UpdatedAt on writes.
	Now func() time.Time
}

func NewContacts() *Contacts {
	return &Contacts{
		items: map[string]contacts.Contact{},
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

func (c *Contacts) FetchAll(_ context.Context, ownerID string) ([]contacts.Contact, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []contacts.Contact
	for _, item := range c.items {
		if item.OwnerID == ownerID && item.DeletedAt.IsZero() {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Get returns a contact even when it is soft-deleted.
func (c *Contacts) Get(id string) (contacts.Contact, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[id]
	return item, ok
}

func (c *Contacts) GetByID(_ context.Context, id string) (contacts.Contact, error) {
	item, ok := c.Get(id)
	if !ok || !item.DeletedAt.IsZero() {
		return contacts.Contact{}, contacts.ErrNotFound
	}
	return item, nil
}

func (c *Contacts) Create(_ context.Context, req contacts.CreateRequest) (contacts.Contact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.Now()
	c.seq++
	item := contacts.Contact{
		ID:           uuid.NewString(),
		OwnerID:      req.OwnerID,
		DisplayName:  strings.TrimSpace(req.DisplayName),
		Email:        strings.TrimSpace(req.Email),
		Phone:        strings.TrimSpace(req.Phone),
		Address:      strings.TrimSpace(req.Address),
		Organization: strings.TrimSpace(req.Organization),
		Title:        strings.TrimSpace(req.Title),
		Notes:        strings.TrimSpace(req.Notes),
		CreatedAt:    now.Add(time.Duration(c.seq)),
		UpdatedAt:    now,
	}
	c.items[item.ID] = item
	return item, nil
}

func (c *Contacts) Update(_ context.Context, id string, req contacts.UpdateRequest) (contacts.Contact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[id]
	if !ok || !item.DeletedAt.IsZero() {
		return contacts.Contact{}, contacts.ErrNotFound
	}
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	set(&item.DisplayName, req.DisplayName)
	set(&item.Email, req.Email)
	set(&item.Phone, req.Phone)
	set(&item.Address, req.Address)
	set(&item.Organization, req.Organization)
	set(&item.Title, req.Title)
	set(&item.Notes, req.Notes)
	item.UpdatedAt = c.Now()
	c.items[id] = item
	return item, nil
}

func (c *Contacts) SoftDelete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[id]
	if !ok || !item.DeletedAt.IsZero() {
		return contacts.ErrNotFound
	}
	now := c.Now()
	item.DeletedAt = now
	item.UpdatedAt = now
	c.items[id] = item
	return nil
}

func (c *Contacts) HardDelete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[id]; !ok {
		return contacts.ErrNotFound
	}
	delete(c.items, id)
	return nil
}
