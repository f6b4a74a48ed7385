package contactsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/memohai/crmsync/internal/contacts"
	"github.com/memohai/crmsync/internal/directory"
)

func TestFromRemotePrefersPrimaryEntries(t *testing.T) {
	updated := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	c := directory.Contact{
		ID:   "people/c1",
		ETag: "e1",
		Names: []directory.Name{
			{DisplayName: "Old Name"},
			{GivenName: "Jane", FamilyName: "Roe", Primary: true},
		},
		EmailAddresses: []directory.EmailAddress{{Value: "work@x.com"}, {Value: " jane@x.com ", Primary: true}},
		PhoneNumbers:   []directory.PhoneNumber{{Value: "+1 555"}},
		Addresses:      []directory.Address{{StreetAddress: "1 Main St", City: "Springfield", Country: "US"}},
		Organizations:  []directory.Organization{{Name: "Acme", Title: "CTO"}},
		Notes:          "  met at expo ",
		UpdatedAt:      updated,
	}
	got := FromRemote(c)
	assert.Equal(t, "people/c1", got.ID)
	assert.Equal(t, "e1", got.Version)
	assert.Equal(t, updated, got.UpdatedAt)
	assert.Equal(t, Fields{
		Name:         "Jane Roe",
		Email:        "jane@x.com",
		Phone:        "+1 555",
		Address:      "1 Main St, Springfield, US",
		Organization: "Acme",
		Title:        "CTO",
		Notes:        "met at expo",
	}, got.Fields)
}

func TestFromRemoteEmpty(t *testing.T) {
	got := FromRemote(directory.Contact{ID: "people/empty"})
	assert.Equal(t, Fields{}, got.Fields)
}

func TestFromLocal(t *testing.T) {
	got := FromLocal(contacts.Contact{ID: "l1", DisplayName: " John ", Email: "j@x.com"})
	assert.Equal(t, "l1", got.ID)
	assert.Equal(t, "John", got.Fields.Name)
	assert.Equal(t, "j@x.com", got.Fields.Email)
}

func TestChangedFieldsUsesTrimmedEqualityInOrder(t *testing.T) {
	a := Fields{Name: "John Doe", Email: "j@x.com", Notes: "a"}
	b := Fields{Name: " John Doe ", Email: "john@x.com", Title: "CEO", Notes: "b"}
	assert.Equal(t, []string{"email", "title", "notes"}, ChangedFields(a, b))
	assert.True(t, a.Equal(Fields{Name: "John Doe ", Email: " j@x.com", Notes: "a"}))
	assert.Empty(t, ChangedFields(a, a))
}

func TestToUpdateRequestOverwritesEveryField(t *testing.T) {
	req := Fields{Name: "Jon"}.toUpdateRequest()
	if assert.NotNil(t, req.Email) {
		assert.Equal(t, "", *req.Email)
	}
	if assert.NotNil(t, req.DisplayName) {
		assert.Equal(t, "Jon", *req.DisplayName)
	}
	assert.NotNil(t, req.Notes)
}
