package contactsync

import (
	"context"
	"time"

	"github.com/memohai/crmsync/internal/contacts"
)

// LocalStore is the CRM contact store collaborator; contacts.Service implements it.
type LocalStore interface {
	FetchAll(ctx context.Context, ownerID string) ([]contacts.Contact, error)
	Create(ctx context.Context, req contacts.CreateRequest) (contacts.Contact, error)
	Update(ctx context.Context, contactID string, req contacts.UpdateRequest) (contacts.Contact, error)
	SoftDelete(ctx context.Context, contactID string) error
	HardDelete(ctx context.Context, contactID string) error
}

type ConfigStore interface {
	// GetConfig returns ErrConfigNotFound when id is unknown.
	GetConfig(ctx context.Context, id string) (Config, error)
	GetConfigByProvider(ctx context.Context, ownerID, provider string) (Config, error)
	ListConfigs(ctx context.Context, ownerID string) ([]Config, error)
	// SaveConfig inserts or updates the config keyed by (owner, provider).
	SaveConfig(ctx context.Context, cfg Config) (Config, error)
	RecordRun(ctx context.Context, configID string, stats Stats, lastRunAt, nextRunAt time.Time) error
	// ListDueConfigs returns active auto-sync configs whose next run is at or before now.
	ListDueConfigs(ctx context.Context, now time.Time) ([]Config, error)
}

type CredentialStore interface {
	GetCredentials(ctx context.Context, id string) (Credentials, error)
	// SaveCredentials inserts when ID is empty, otherwise updates.
	SaveCredentials(ctx context.Context, creds Credentials) (Credentials, error)
	DeleteCredentials(ctx context.Context, id string) error
}

type MappingStore interface {
	// ListMappings returns the config's mappings, soft-deleted ones included.
	ListMappings(ctx context.Context, ownerID, configID string) ([]Mapping, error)
	// ActiveMappingForLocal returns the owner's active mapping of a local
	// contact under any config, or ErrMappingNotFound.
	ActiveMappingForLocal(ctx context.Context, ownerID, localID string) (Mapping, error)
	// CreateMapping fails with ErrMappingExists when either id is already actively mapped.
	CreateMapping(ctx context.Context, m Mapping) (Mapping, error)
	UpdateMapping(ctx context.Context, m Mapping) error
}

type RunStore interface {
	// CreateRun fails with ErrRunInProgress when the config already has a run in progress.
	CreateRun(ctx context.Context, run Run) (Run, error)
	FinishRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (Run, error)
	ListRuns(ctx context.Context, ownerID string, offset, limit int) ([]Run, int, error)
	// ReapStaleRuns fails in-progress runs started before the cutoff.
	ReapStaleRuns(ctx context.Context, startedBefore time.Time, failure string) (int, error)
}

type ChangeLogStore interface {
	AppendChange(ctx context.Context, entry ChangeLogEntry) (ChangeLogEntry, error)
	ListChangesByRun(ctx context.Context, runID string, filter ChangeLogFilter) ([]ChangeLogEntry, error)
	ListChangesByOwner(ctx context.Context, ownerID string, limit int) ([]ChangeLogEntry, error)
	ListChangesByLocal(ctx context.Context, ownerID, localID string) ([]ChangeLogEntry, error)
}

// Store is the full persistence surface of the engine.
type Store interface {
	ConfigStore
	CredentialStore
	MappingStore
	RunStore
	ChangeLogStore
}
