package directory

import "time"

// Name is one name entry on a provider contact.
type Name struct {
	DisplayName string `json:"display_name,omitempty"`
	GivenName   string `json:"given_name,omitempty"`
	FamilyName  string `json:"family_name,omitempty"`
	Primary     bool   `json:"primary,omitempty"`
}

// EmailAddress is one email entry on a provider contact.
type EmailAddress struct {
	Value   string `json:"value"`
	Type    string `json:"type,omitempty"`
	Primary bool   `json:"primary,omitempty"`
}

// PhoneNumber is one phone entry on a provider contact.
type PhoneNumber struct {
	Value   string `json:"value"`
	Type    string `json:"type,omitempty"`
	Primary bool   `json:"primary,omitempty"`
}

// Address is one postal address on a provider contact. FormattedValue wins
// over the structured parts when present.
type Address struct {
	FormattedValue string `json:"formatted_value,omitempty"`
	StreetAddress  string `json:"street_address,omitempty"`
	City           string `json:"city,omitempty"`
	Region         string `json:"region,omitempty"`
	PostalCode     string `json:"postal_code,omitempty"`
	Country        string `json:"country,omitempty"`
	Type           string `json:"type,omitempty"`
	Primary        bool   `json:"primary,omitempty"`
}

// Organization is one employer entry on a provider contact.
type Organization struct {
	Name    string `json:"name,omitempty"`
	Title   string `json:"title,omitempty"`
	Primary bool   `json:"primary,omitempty"`
}

// Contact is the provider-native shape of a remote contact. Multi-valued
// fields keep the provider's ordering.
type Contact struct {
	ID             string         `json:"id"`
	ETag           string         `json:"etag,omitempty"`
	Names          []Name         `json:"names,omitempty"`
	EmailAddresses []EmailAddress `json:"email_addresses,omitempty"`
	PhoneNumbers   []PhoneNumber  `json:"phone_numbers,omitempty"`
	Addresses      []Address      `json:"addresses,omitempty"`
	Organizations  []Organization `json:"organizations,omitempty"`
	Notes          string         `json:"notes,omitempty"`
	Starred        bool           `json:"starred,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ContactInput carries the synchronized field set written to a provider.
// Empty values clear the corresponding field remotely.
type ContactInput struct {
	Name         string
	Email        string
	Phone        string
	Address      string
	Organization string
	Title        string
	Notes        string
}

// Tokens are the OAuth credentials a provider client runs with.
type Tokens struct {
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitzero"`
	AccountEmail string    `json:"account_email,omitempty"`
}
