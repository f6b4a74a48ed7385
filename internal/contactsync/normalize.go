package contactsync

import (
	"strings"

	"github.com/memohai/crmsync/internal/contacts"
	"github.com/memohai/crmsync/internal/directory"
)

// FieldNames is the ordered compared field set.
var FieldNames = []string{"name", "email", "phone", "address", "organization", "title", "notes"}

// Get returns the value of a named field.
func (f Fields) Get(name string) string {
	switch name {
	case "name":
		return f.Name
	case "email":
		return f.Email
	case "phone":
		return f.Phone
	case "address":
		return f.Address
	case "organization":
		return f.Organization
	case "title":
		return f.Title
	case "notes":
		return f.Notes
	}
	return ""
}

func (f Fields) Trimmed() Fields {
	return Fields{
		Name:         strings.TrimSpace(f.Name),
		Email:        strings.TrimSpace(f.Email),
		Phone:        strings.TrimSpace(f.Phone),
		Address:      strings.TrimSpace(f.Address),
		Organization: strings.TrimSpace(f.Organization),
		Title:        strings.TrimSpace(f.Title),
		Notes:        strings.TrimSpace(f.Notes),
	}
}

// ChangedFields lists, in FieldNames order, the fields whose trimmed values differ.
func ChangedFields(a, b Fields) []string {
	var out []string
	for _, name := range FieldNames {
		if strings.TrimSpace(a.Get(name)) != strings.TrimSpace(b.Get(name)) {
			out = append(out, name)
		}
	}
	return out
}

func (f Fields) Equal(other Fields) bool {
	return len(ChangedFields(f, other)) == 0
}

func (f Fields) toInput() directory.ContactInput {
	t := f.Trimmed()
	return directory.ContactInput{
		Name:         t.Name,
		Email:        t.Email,
		Phone:        t.Phone,
		Address:      t.Address,
		Organization: t.Organization,
		Title:        t.Title,
		Notes:        t.Notes,
	}
}

func (f Fields) toCreateRequest(ownerID string) contacts.CreateRequest {
	t := f.Trimmed()
	return contacts.CreateRequest{
		OwnerID:      ownerID,
		DisplayName:  t.Name,
		Email:        t.Email,
		Phone:        t.Phone,
		Address:      t.Address,
		Organization: t.Organization,
		Title:        t.Title,
		Notes:        t.Notes,
	}
}

// toUpdateRequest sets every field so the loser is overwritten wholesale.
func (f Fields) toUpdateRequest() contacts.UpdateRequest {
	t := f.Trimmed()
	return contacts.UpdateRequest{
		DisplayName:  &t.Name,
		Email:        &t.Email,
		Phone:        &t.Phone,
		Address:      &t.Address,
		Organization: &t.Organization,
		Title:        &t.Title,
		Notes:        &t.Notes,
	}
}

// FromLocal projects a CRM contact.
func FromLocal(c contacts.Contact) NormalizedContact {
	return NormalizedContact{
		ID: c.ID,
		Fields: Fields{
			Name:         c.DisplayName,
			Email:        c.Email,
			Phone:        c.Phone,
			Address:      c.Address,
			Organization: c.Organization,
			Title:        c.Title,
			Notes:        c.Notes,
		}.Trimmed(),
		UpdatedAt: c.UpdatedAt,
	}
}

// FromRemote projects a provider contact, taking the primary entry of each
// multi-valued field or the first one when none is primary.
func FromRemote(c directory.Contact) NormalizedContact {
	f := Fields{Notes: c.Notes}
	if n, ok := pick(c.Names, func(n directory.Name) bool { return n.Primary }); ok {
		f.Name = n.DisplayName
		if strings.TrimSpace(f.Name) == "" {
			f.Name = strings.TrimSpace(n.GivenName + " " + n.FamilyName)
		}
	}
	if e, ok := pick(c.EmailAddresses, func(e directory.EmailAddress) bool { return e.Primary }); ok {
		f.Email = e.Value
	}
	if p, ok := pick(c.PhoneNumbers, func(p directory.PhoneNumber) bool { return p.Primary }); ok {
		f.Phone = p.Value
	}
	if a, ok := pick(c.Addresses, func(a directory.Address) bool { return a.Primary }); ok {
		f.Address = formatAddress(a)
	}
	if o, ok := pick(c.Organizations, func(o directory.Organization) bool { return o.Primary }); ok {
		f.Organization = o.Name
		f.Title = o.Title
	}
	return NormalizedContact{
		ID:        c.ID,
		Version:   c.ETag,
		Fields:    f.Trimmed(),
		UpdatedAt: c.UpdatedAt,
	}
}

func pick[T any](items []T, primary func(T) bool) (T, bool) {
	for _, item := range items {
		if primary(item) {
			return item, true
		}
	}
	if len(items) > 0 {
		return items[0], true
	}
	var zero T
	return zero, false
}

func formatAddress(a directory.Address) string {
	if v := strings.TrimSpace(a.FormattedValue); v != "" {
		return v
	}
	parts := make([]string, 0, 5)
	for _, p := range []string{a.StreetAddress, a.City, a.Region, a.PostalCode, a.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
