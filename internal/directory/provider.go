// Package directory defines the contract between the reconciliation engine and
// external contact directories. Each directory (Google People, ...) is a
// Provider registered by name; the engine never depends on a concrete one.
package directory

import (
	"context"
	"errors"
)

// Errors returned by providers and clients.
var (
	ErrNotFound     = errors.New("directory contact not found")
	ErrStaleVersion = errors.New("directory contact version is stale")
	ErrAuthExpired  = errors.New("directory authorization expired")
	ErrUnknown      = errors.New("directory provider not registered")
)

// TokenObserver is notified when a client refreshes its access token.
type TokenObserver func(Tokens)

// Provider authorizes owners and builds credential-bound clients.
type Provider interface {
	Name() string
	// AuthorizationURL returns the consent URL; state is echoed back to the callback.
	AuthorizationURL(state string) string
	// ExchangeCode trades an authorization code for tokens and resolves the remote account email.
	ExchangeCode(ctx context.Context, code string) (Tokens, error)
	// Client returns a client acting with tokens. onRefresh may be nil.
	Client(ctx context.Context, tokens Tokens, onRefresh TokenObserver) (Client, error)
}

// Client performs contact operations for one authorized account.
type Client interface {
	// FetchAll returns every contact; pagination is handled internally.
	FetchAll(ctx context.Context) ([]Contact, error)
	Create(ctx context.Context, input ContactInput) (Contact, error)
	// Update overwrites the synchronized fields. It fails with ErrStaleVersion
	// when etag no longer matches the provider's version.
	Update(ctx context.Context, id string, input ContactInput, etag string) (Contact, error)
	// SoftDelete uses the provider's non-destructive removal primitive.
	SoftDelete(ctx context.Context, id string) error
	HardDelete(ctx context.Context, id string) error
}
