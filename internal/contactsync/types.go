package contactsync

import (
	"fmt"
	"time"
)

// Direction limits which side a config may mutate.
type Direction string

const (
	DirectionTwoWay     Direction = "two_way"
	DirectionImportOnly Direction = "import_only"
	DirectionExportOnly Direction = "export_only"
)

func (d Direction) Valid() bool {
	switch d {
	case DirectionTwoWay, DirectionImportOnly, DirectionExportOnly:
		return true
	}
	return false
}

// allowsLocalWrites reports whether the local store may be mutated.
func (d Direction) allowsLocalWrites() bool { return d != DirectionExportOnly }

// allowsRemoteWrites reports whether the directory provider may be mutated.
func (d Direction) allowsRemoteWrites() bool { return d != DirectionImportOnly }

// ConflictPolicy selects the winner of a divergent mapped pair.
type ConflictPolicy string

const (
	PolicyNewestWins   ConflictPolicy = "newest_wins"
	PolicyProviderWins ConflictPolicy = "provider_wins"
	PolicyLocalWins    ConflictPolicy = "local_wins"
)

func (p ConflictPolicy) Valid() bool {
	switch p {
	case PolicyNewestWins, PolicyProviderWins, PolicyLocalWins:
		return true
	}
	return false
}

// DeletionHandling governs how a one-sided deletion is propagated.
type DeletionHandling string

const (
	DeletionSoft DeletionHandling = "soft_delete"
	DeletionHard DeletionHandling = "hard_delete"
	DeletionSkip DeletionHandling = "skip"
)

func (d DeletionHandling) Valid() bool {
	switch d {
	case DeletionSoft, DeletionHard, DeletionSkip:
		return true
	}
	return false
}

type MappingStatus string

const (
	MappingSynced   MappingStatus = "synced"
	MappingPending  MappingStatus = "pending"
	MappingConflict MappingStatus = "conflict"
	MappingError    MappingStatus = "error"
)

type RunStatus string

const (
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
	RunPartial    RunStatus = "partial"
	RunFailed     RunStatus = "failed"
)

// Operation names one mutation decision.
type Operation string

const (
	OpCreateLocal  Operation = "create_local"
	OpCreateRemote Operation = "create_remote"
	OpUpdateLocal  Operation = "update_local"
	OpUpdateRemote Operation = "update_remote"
	OpDeleteLocal  Operation = "delete_local"
	OpDeleteRemote Operation = "delete_remote"
)

func (o Operation) Valid() bool {
	switch o {
	case OpCreateLocal, OpCreateRemote, OpUpdateLocal, OpUpdateRemote, OpDeleteLocal, OpDeleteRemote:
		return true
	}
	return false
}

func (o Operation) ChangeType() ChangeType {
	switch o {
	case OpCreateLocal, OpCreateRemote:
		return ChangeCreate
	case OpUpdateLocal, OpUpdateRemote:
		return ChangeUpdate
	default:
		return ChangeDelete
	}
}

func (o Operation) Direction() ChangeDirection {
	switch o {
	case OpCreateLocal, OpUpdateLocal, OpDeleteLocal:
		return ToLocal
	default:
		return ToRemote
	}
}

type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

func (c ChangeType) Valid() bool {
	return c == ChangeCreate || c == ChangeUpdate || c == ChangeDelete
}

type ChangeDirection string

const (
	ToLocal  ChangeDirection = "to_local"
	ToRemote ChangeDirection = "to_remote"
)

// Source identifies one side of a mapping.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// Stats is the rolling run accumulator kept on a Config.
type Stats struct {
	TotalRuns        int           `json:"total_runs"`
	SuccessfulRuns   int           `json:"successful_runs"`
	PartialRuns      int           `json:"partial_runs"`
	FailedRuns       int           `json:"failed_runs"`
	LastDuration     time.Duration `json:"last_duration"`
	TotalItemsSynced int64         `json:"total_items_synced"`
}

// Record folds one finished run into the totals.
func (s *Stats) Record(run Run) {
	s.TotalRuns++
	switch run.Status {
	case RunCompleted:
		s.SuccessfulRuns++
	case RunPartial:
		s.PartialRuns++
	case RunFailed:
		s.FailedRuns++
	}
	s.LastDuration = run.Duration
	s.TotalItemsSynced += int64(run.Counters.Mutations())
}

// Add merges other into s, used when aggregating stats across configs.
func (s *Stats) Add(other Stats) {
	s.TotalRuns += other.TotalRuns
	s.SuccessfulRuns += other.SuccessfulRuns
	s.PartialRuns += other.PartialRuns
	s.FailedRuns += other.FailedRuns
	s.TotalItemsSynced += other.TotalItemsSynced
	if other.LastDuration > 0 {
		s.LastDuration = other.LastDuration
	}
}

// Config is the per (owner, provider) sync configuration.
type Config struct {
	ID                  string            `json:"id"`
	OwnerID             string            `json:"owner_id"`
	Provider            string            `json:"provider"`
	Direction           Direction         `json:"direction"`
	ConflictPolicy      ConflictPolicy    `json:"conflict_policy"`
	DeletionHandling    DeletionHandling  `json:"deletion_handling"`
	Active              bool              `json:"active"`
	AutoSync            bool              `json:"auto_sync"`
	SyncIntervalMinutes int               `json:"sync_interval_minutes"`
	NextRunAt           time.Time         `json:"next_run_at,omitzero"`
	LastRunAt           time.Time         `json:"last_run_at,omitzero"`
	CredentialID        string            `json:"-"`
	RemoteAccountEmail  string            `json:"remote_account_email,omitempty"`
	FieldMapping        map[string]string `json:"field_mapping,omitempty"`
	Stats               Stats             `json:"stats"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// Credentials holds provider tokens referenced by Config.CredentialID.
type Credentials struct {
	ID           string
	OwnerID      string
	Provider     string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
	AccountEmail string
	UpdatedAt    time.Time
}

// Mapping links one local contact to one remote contact.
type Mapping struct {
	ID              string        `json:"id"`
	OwnerID         string        `json:"owner_id"`
	ConfigID        string        `json:"config_id"`
	LocalID         string        `json:"local_id"`
	RemoteID        string        `json:"remote_id"`
	RemoteVersion   string        `json:"remote_version"`
	LastSyncedAt    time.Time     `json:"last_synced_at,omitzero"`
	LocalUpdatedAt  time.Time     `json:"local_updated_at,omitzero"`
	RemoteUpdatedAt time.Time     `json:"remote_updated_at,omitzero"`
	Status          MappingStatus `json:"status"`
	IsDeleted       bool          `json:"is_deleted"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Counters are the per-run tallies.
type Counters struct {
	CreatedLocal  int `json:"created_local"`
	UpdatedLocal  int `json:"updated_local"`
	DeletedLocal  int `json:"deleted_local"`
	CreatedRemote int `json:"created_remote"`
	UpdatedRemote int `json:"updated_remote"`
	DeletedRemote int `json:"deleted_remote"`
	Skipped       int `json:"skipped"`
	Conflicts     int `json:"conflicts"`
	Errors        int `json:"errors"`
}

// Mutations is the number of create, update and delete operations applied.
func (c Counters) Mutations() int {
	return c.CreatedLocal + c.UpdatedLocal + c.DeletedLocal +
		c.CreatedRemote + c.UpdatedRemote + c.DeletedRemote
}

func (c Counters) Summary() string {
	return fmt.Sprintf("%d created, %d updated, %d deleted, %d skipped, %d conflicts, %d errors",
		c.CreatedLocal+c.CreatedRemote,
		c.UpdatedLocal+c.UpdatedRemote,
		c.DeletedLocal+c.DeletedRemote,
		c.Skipped, c.Conflicts, c.Errors)
}

func (c *Counters) countOperation(op Operation) {
	switch op {
	case OpCreateLocal:
		c.CreatedLocal++
	case OpCreateRemote:
		c.CreatedRemote++
	case OpUpdateLocal:
		c.UpdatedLocal++
	case OpUpdateRemote:
		c.UpdatedRemote++
	case OpDeleteLocal:
		c.DeletedLocal++
	case OpDeleteRemote:
		c.DeletedRemote++
	}
}

// Run is one execution of the reconciliation engine.
type Run struct {
	ID           string        `json:"id"`
	OwnerID      string        `json:"owner_id"`
	ConfigID     string        `json:"config_id"`
	Status       RunStatus     `json:"status"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at,omitzero"`
	Duration     time.Duration `json:"duration"`
	Counters     Counters      `json:"counters"`
	ErrorDetails []ItemError   `json:"error_details"`
	Failure      string        `json:"failure,omitempty"`
	Summary      string        `json:"summary,omitempty"`
}

// Fields is the compared field set of a contact.
type Fields struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	Address      string `json:"address"`
	Organization string `json:"organization"`
	Title        string `json:"title"`
	Notes        string `json:"notes"`
}

// NormalizedContact is the comparison-ready projection of either side.
type NormalizedContact struct {
	ID        string
	Version   string
	Fields    Fields
	UpdatedAt time.Time
}

// ChangeLogEntry is one immutable audit row.
type ChangeLogEntry struct {
	ID              string          `json:"id"`
	RunID           string          `json:"run_id"`
	OwnerID         string          `json:"owner_id"`
	LocalID         string          `json:"local_id,omitempty"`
	RemoteID        string          `json:"remote_id,omitempty"`
	Operation       Operation       `json:"operation"`
	ChangeType      ChangeType      `json:"change_type"`
	Direction       ChangeDirection `json:"direction"`
	Before          *Fields         `json:"before,omitempty"`
	After           *Fields         `json:"after,omitempty"`
	ChangedFields   []string        `json:"changed_fields"`
	ConflictReason  string          `json:"conflict_reason,omitempty"`
	Resolution      string          `json:"resolution,omitempty"`
	WinningSource   Source          `json:"winning_source,omitempty"`
	LocalUpdatedAt  time.Time       `json:"local_updated_at,omitzero"`
	RemoteUpdatedAt time.Time       `json:"remote_updated_at,omitzero"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ChangeLogFilter narrows a run's change log; zero values match everything.
type ChangeLogFilter struct {
	Operation  Operation
	ChangeType ChangeType
}

func (f ChangeLogFilter) Match(e ChangeLogEntry) bool {
	if f.Operation != "" && e.Operation != f.Operation {
		return false
	}
	if f.ChangeType != "" && e.ChangeType != f.ChangeType {
		return false
	}
	return true
}

// RunPage is one page of run history.
type RunPage struct {
	Items []Run `json:"items"`
	Total int   `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
}

// OwnerStats aggregates every config of an owner.
type OwnerStats struct {
	Stats
	Configs   int       `json:"configs"`
	LastRunAt time.Time `json:"last_run_at,omitzero"`
}
