package google

import (
	"strings"
	"time"

	"github.com/memohai/crmsync/internal/directory"
)

// Wire types of the People API v1, limited to the fields the sync touches.

type fieldMetadata struct {
	Primary bool `json:"primary,omitempty"`
}

type personSource struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	UpdateTime string `json:"updateTime,omitempty"`
}

type personMetadata struct {
	Sources []personSource `json:"sources,omitempty"`
	Deleted bool           `json:"deleted,omitempty"`
}

type personName struct {
	Metadata         *fieldMetadata `json:"metadata,omitempty"`
	DisplayName      string         `json:"displayName,omitempty"`
	GivenName        string         `json:"givenName,omitempty"`
	FamilyName       string         `json:"familyName,omitempty"`
	UnstructuredName string         `json:"unstructuredName,omitempty"`
}

type personValue struct {
	Metadata *fieldMetadata `json:"metadata,omitempty"`
	Value    string         `json:"value"`
	Type     string         `json:"type,omitempty"`
}

type personAddress struct {
	Metadata       *fieldMetadata `json:"metadata,omitempty"`
	FormattedValue string         `json:"formattedValue,omitempty"`
	StreetAddress  string         `json:"streetAddress,omitempty"`
	City           string         `json:"city,omitempty"`
	Region         string         `json:"region,omitempty"`
	PostalCode     string         `json:"postalCode,omitempty"`
	Country        string         `json:"country,omitempty"`
	Type           string         `json:"type,omitempty"`
}

type personOrganization struct {
	Metadata *fieldMetadata `json:"metadata,omitempty"`
	Name     string         `json:"name,omitempty"`
	Title    string         `json:"title,omitempty"`
}

type personBiography struct {
	Value       string `json:"value"`
	ContentType string `json:"contentType,omitempty"`
}

type personMembership struct {
	ContactGroupMembership *struct {
		ContactGroupResourceName string `json:"contactGroupResourceName"`
	} `json:"contactGroupMembership,omitempty"`
}

type person struct {
	ResourceName   string               `json:"resourceName,omitempty"`
	ETag           string               `json:"etag,omitempty"`
	Metadata       *personMetadata      `json:"metadata,omitempty"`
	Names          []personName         `json:"names"`
	EmailAddresses []personValue        `json:"emailAddresses"`
	PhoneNumbers   []personValue        `json:"phoneNumbers"`
	Addresses      []personAddress      `json:"addresses"`
	Organizations  []personOrganization `json:"organizations"`
	Biographies    []personBiography    `json:"biographies"`
	Memberships    []personMembership   `json:"memberships,omitempty"`
}

type listConnectionsResponse struct {
	Connections   []person `json:"connections"`
	NextPageToken string   `json:"nextPageToken"`
	TotalPeople   int      `json:"totalPeople"`
}

type modifyMembersRequest struct {
	ResourceNamesToAdd    []string `json:"resourceNamesToAdd,omitempty"`
	ResourceNamesToRemove []string `json:"resourceNamesToRemove,omitempty"`
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (p person) toContact() directory.Contact {
	c := directory.Contact{
		ID:        p.ResourceName,
		ETag:      p.ETag,
		UpdatedAt: p.updateTime(),
	}
	for _, n := range p.Names {
		display := n.DisplayName
		if display == "" {
			display = n.UnstructuredName
		}
		c.Names = append(c.Names, directory.Name{
			DisplayName: display,
			GivenName:   n.GivenName,
			FamilyName:  n.FamilyName,
			Primary:     n.Metadata.isPrimary(),
		})
	}
	for _, e := range p.EmailAddresses {
		c.EmailAddresses = append(c.EmailAddresses, directory.EmailAddress{Value: e.Value, Type: e.Type, Primary: e.Metadata.isPrimary()})
	}
	for _, ph := range p.PhoneNumbers {
		c.PhoneNumbers = append(c.PhoneNumbers, directory.PhoneNumber{Value: ph.Value, Type: ph.Type, Primary: ph.Metadata.isPrimary()})
	}
	for _, a := range p.Addresses {
		c.Addresses = append(c.Addresses, directory.Address{
			FormattedValue: a.FormattedValue,
			StreetAddress:  a.StreetAddress,
			City:           a.City,
			Region:         a.Region,
			PostalCode:     a.PostalCode,
			Country:        a.Country,
			Type:           a.Type,
			Primary:        a.Metadata.isPrimary(),
		})
	}
	for _, o := range p.Organizations {
		c.Organizations = append(c.Organizations, directory.Organization{Name: o.Name, Title: o.Title, Primary: o.Metadata.isPrimary()})
	}
	if len(p.Biographies) > 0 {
		c.Notes = p.Biographies[0].Value
	}
	for _, m := range p.Memberships {
		if m.ContactGroupMembership != nil && m.ContactGroupMembership.ContactGroupResourceName == starredGroup {
			c.Starred = true
		}
	}
	return c
}

// updateTime prefers the CONTACT source, which tracks edits to the contact itself.
func (p person) updateTime() time.Time {
	if p.Metadata == nil {
		return time.Time{}
	}
	var fallback time.Time
	for _, s := range p.Metadata.Sources {
		t, err := time.Parse(time.RFC3339Nano, s.UpdateTime)
		if err != nil {
			continue
		}
		if s.Type == "CONTACT" {
			return t.UTC()
		}
		if t.After(fallback) {
			fallback = t.UTC()
		}
	}
	return fallback
}

func (m *fieldMetadata) isPrimary() bool {
	return m != nil && m.Primary
}

// personFromInput always sends every synchronized field; an empty slice
// clears the field because it is listed in updatePersonFields.
func personFromInput(in directory.ContactInput) person {
	p := person{
		Names:          []personName{},
		EmailAddresses: []personValue{},
		PhoneNumbers:   []personValue{},
		Addresses:      []personAddress{},
		Organizations:  []personOrganization{},
		Biographies:    []personBiography{},
	}
	if v := strings.TrimSpace(in.Name); v != "" {
		p.Names = append(p.Names, personName{UnstructuredName: v})
	}
	if v := strings.TrimSpace(in.Email); v != "" {
		p.EmailAddresses = append(p.EmailAddresses, personValue{Value: v})
	}
	if v := strings.TrimSpace(in.Phone); v != "" {
		p.PhoneNumbers = append(p.PhoneNumbers, personValue{Value: v})
	}
	if v := strings.TrimSpace(in.Address); v != "" {
		p.Addresses = append(p.Addresses, personAddress{FormattedValue: v, StreetAddress: v})
	}
	org, title := strings.TrimSpace(in.Organization), strings.TrimSpace(in.Title)
	if org != "" || title != "" {
		p.Organizations = append(p.Organizations, personOrganization{Name: org, Title: title})
	}
	if v := strings.TrimSpace(in.Notes); v != "" {
		p.Biographies = append(p.Biographies, personBiography{Value: v, ContentType: "TEXT_PLAIN"})
	}
	return p
}

func firstEmail(values []personValue) string {
	for _, v := range values {
		if v.Metadata.isPrimary() {
			return v.Value
		}
	}
	if len(values) > 0 {
		return values[0].Value
	}
	return ""
}
