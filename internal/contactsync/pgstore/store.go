// Package pgstore persists sync configs, credentials, mappings, runs and the
// change log in PostgreSQL.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/memohai/crmsync/internal/contactsync"
	"github.com/memohai/crmsync/internal/db"
)

const (
	constraintOneInProgress = "sync_runs_one_in_progress"
	constraintMappingRemote = "contact_mappings_owner_remote_active"
	constraintMappingLocal  = "contact_mappings_owner_local_active"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Store struct {
	conn   DBTX
	logger *slog.Logger
}

var _ contactsync.Store = (*Store)(nil)

func New(log *slog.Logger, conn DBTX) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		conn:   conn,
		logger: log.With(slog.String("store", "contactsync")),
	}
}

const configColumns = `id, owner_id, provider, direction, conflict_policy, deletion_handling, is_active, auto_sync,
  sync_interval_minutes, next_run_at, last_run_at, credential_id, remote_account_email, field_mapping,
  total_runs, successful_runs, partial_runs, failed_runs, last_duration_ms, total_items_synced, created_at, updated_at`

func (s *Store) GetConfig(ctx context.Context, id string) (contactsync.Config, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return contactsync.Config{}, contactsync.ErrConfigNotFound
	}
	return s.queryConfig(ctx, `SELECT `+configColumns+` FROM sync_configs WHERE id = $1`, pgID)
}

func (s *Store) GetConfigByProvider(ctx context.Context, ownerID, provider string) (contactsync.Config, error) {
	pgOwner, err := db.ParseUUID(ownerID)
	if err != nil {
		return contactsync.Config{}, contactsync.ErrConfigNotFound
	}
	return s.queryConfig(ctx, `SELECT `+configColumns+` FROM sync_configs WHERE owner_id = $1 AND provider = $2`, pgOwner, provider)
}

func (s *Store) queryConfig(ctx context.Context, sql string, args ...any) (contactsync.Config, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return contactsync.Config{}, err
	}
	cfg, err := pgx.CollectExactlyOneRow(rows, scanConfig)
	if errors.Is(err, pgx.ErrNoRows) {
		return contactsync.Config{}, contactsync.ErrConfigNotFound
	}
	return cfg, err
}

func (s *Store) ListConfigs(ctx context.Context, ownerID string) ([]contactsync.Config, error) {
	pgOwner, err := db.ParseUUID(ownerID)
	if err != nil {
		return nil, err
	}
	rows, err := s.conn.Query(ctx, `SELECT `+configColumns+` FROM sync_configs WHERE owner_id = $1 ORDER BY provider`, pgOwner)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanConfig)
}

// SaveConfig upserts on (owner_id, provider). Stats and last_run_at are
// owned by RecordRun and never overwritten here.
func (s *Store) SaveConfig(ctx context.Context, cfg contactsync.Config) (contactsync.Config, error) {
	pgOwner, err := db.ParseUUID(cfg.OwnerID)
	if err != nil {
		return contactsync.Config{}, err
	}
	credentialID := pgtype.UUID{}
	if cfg.CredentialID != "" {
		if credentialID, err = db.ParseUUID(cfg.CredentialID); err != nil {
			return contactsync.Config{}, err
		}
	}
	fieldMapping := cfg.FieldMapping
	if fieldMapping == nil {
		fieldMapping = map[string]string{}
	}
	mappingJSON, err := json.Marshal(fieldMapping)
	if err != nil {
		return contactsync.Config{}, err
	}
	return s.queryConfig(ctx, `INSERT INTO sync_configs (
  owner_id, provider, direction, conflict_policy, deletion_handling, is_active, auto_sync,
  sync_interval_minutes, next_run_at, credential_id, remote_account_email, field_mapping)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (owner_id, provider) DO UPDATE SET
  direction = EXCLUDED.direction,
  conflict_policy = EXCLUDED.conflict_policy,
  deletion_handling = EXCLUDED.deletion_handling,
  is_active = EXCLUDED.is_active,
  auto_sync = EXCLUDED.auto_sync,
  sync_interval_minutes = EXCLUDED.sync_interval_minutes,
  next_run_at = EXCLUDED.next_run_at,
  credential_id = EXCLUDED.credential_id,
  remote_account_email = EXCLUDED.remote_account_email,
  field_mapping = EXCLUDED.field_mapping,
  updated_at = now()
RETURNING `+configColumns,
		pgOwner,
		cfg.Provider,
		string(cfg.Direction),
		string(cfg.ConflictPolicy),
		string(cfg.DeletionHandling),
		cfg.Active,
		cfg.AutoSync,
		int32(cfg.SyncIntervalMinutes),
		db.TimeToPg(cfg.NextRunAt),
		credentialID,
		cfg.RemoteAccountEmail,
		mappingJSON,
	)
}

func (s *Store) RecordRun(ctx context.Context, configID string, stats contactsync.Stats, lastRunAt, nextRunAt time.Time) error {
	pgID, err := db.ParseUUID(configID)
	if err != nil {
		return err
	}
	tag, err := s.conn.Exec(ctx, `UPDATE sync_configs SET
  total_runs = $2,
  successful_runs = $3,
  partial_runs = $4,
  failed_runs = $5,
  last_duration_ms = $6,
  total_items_synced = $7,
  last_run_at = $8,
  next_run_at = $9,
  updated_at = now()
WHERE id = $1`,
		pgID,
		int32(stats.TotalRuns),
		int32(stats.SuccessfulRuns),
		int32(stats.PartialRuns),
		int32(stats.FailedRuns),
		stats.LastDuration.Milliseconds(),
		stats.TotalItemsSynced,
		db.TimeToPg(lastRunAt),
		db.TimeToPg(nextRunAt),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return contactsync.ErrConfigNotFound
	}
	return nil
}

func (s *Store) ListDueConfigs(ctx context.Context, now time.Time) ([]contactsync.Config, error) {
	rows, err := s.conn.Query(ctx, `SELECT `+configColumns+` FROM sync_configs
WHERE is_active AND auto_sync AND next_run_at IS NOT NULL AND next_run_at <= $1
ORDER BY next_run_at`, db.TimeToPg(now))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanConfig)
}

func scanConfig(row pgx.CollectableRow) (contactsync.Config, error) {
	var (
		cfg                                  contactsync.Config
		id, ownerID, credentialID            pgtype.UUID
		direction, policy, deletion          string
		interval, total, ok, partial, failed int32
		lastDurationMS                       int64
		nextRunAt, lastRunAt                 pgtype.Timestamptz
		createdAt, updatedAt                 pgtype.Timestamptz
		fieldMapping                         []byte
	)
	if err := row.Scan(
		&id, &ownerID, &cfg.Provider, &direction, &policy, &deletion, &cfg.Active, &cfg.AutoSync,
		&interval, &nextRunAt, &lastRunAt, &credentialID, &cfg.RemoteAccountEmail, &fieldMapping,
		&total, &ok, &partial, &failed, &lastDurationMS, &cfg.Stats.TotalItemsSynced, &createdAt, &updatedAt,
	); err != nil {
		return contactsync.Config{}, err
	}
	cfg.ID = db.UUIDToString(id)
	cfg.OwnerID = db.UUIDToString(ownerID)
	cfg.CredentialID = db.UUIDToString(credentialID)
	cfg.Direction = contactsync.Direction(direction)
	cfg.ConflictPolicy = contactsync.ConflictPolicy(policy)
	cfg.DeletionHandling = contactsync.DeletionHandling(deletion)
	cfg.SyncIntervalMinutes = int(interval)
	cfg.NextRunAt = db.TimeFromPg(nextRunAt)
	cfg.LastRunAt = db.TimeFromPg(lastRunAt)
	cfg.Stats.TotalRuns = int(total)
	cfg.Stats.SuccessfulRuns = int(ok)
	cfg.Stats.PartialRuns = int(partial)
	cfg.Stats.FailedRuns = int(failed)
	cfg.Stats.LastDuration = time.Duration(lastDurationMS) * time.Millisecond
	cfg.CreatedAt = db.TimeFromPg(createdAt)
	cfg.UpdatedAt = db.TimeFromPg(updatedAt)
	if len(fieldMapping) > 0 {
		if err := json.Unmarshal(fieldMapping, &cfg.FieldMapping); err != nil {
			return contactsync.Config{}, fmt.Errorf("decode field mapping: %w", err)
		}
	}
	return cfg, nil
}

func (s *Store) GetCredentials(ctx context.Context, id string) (contactsync.Credentials, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return contactsync.Credentials{}, contactsync.ErrCredentialsNotFound
	}
	rows, err := s.conn.Query(ctx, `SELECT id, owner_id, provider, access_token, refresh_token, token_type, expiry, account_email, updated_at
FROM sync_credentials WHERE id = $1`, pgID)
	if err != nil {
		return contactsync.Credentials{}, err
	}
	creds, err := pgx.CollectExactlyOneRow(rows, scanCredentials)
	if errors.Is(err, pgx.ErrNoRows) {
		return contactsync.Credentials{}, contactsync.ErrCredentialsNotFound
	}
	return creds, err
}

func (s *Store) SaveCredentials(ctx context.Context, creds contactsync.Credentials) (contactsync.Credentials, error) {
	pgOwner, err := db.ParseUUID(creds.OwnerID)
	if err != nil {
		return contactsync.Credentials{}, err
	}
	var rows pgx.Rows
	if creds.ID == "" {
		rows, err = s.conn.Query(ctx, `INSERT INTO sync_credentials (owner_id, provider, access_token, refresh_token, token_type, expiry, account_email)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, owner_id, provider, access_token, refresh_token, token_type, expiry, account_email, updated_at`,
			pgOwner, creds.Provider, creds.AccessToken, creds.RefreshToken, creds.TokenType, db.TimeToPg(creds.Expiry), creds.AccountEmail)
	} else {
		pgID, perr := db.ParseUUID(creds.ID)
		if perr != nil {
			return contactsync.Credentials{}, perr
		}
		rows, err = s.conn.Query(ctx, `UPDATE sync_credentials SET
  access_token = $2, refresh_token = $3, token_type = $4, expiry = $5, account_email = $6, updated_at = now()
WHERE id = $1
RETURNING id, owner_id, provider, access_token, refresh_token, token_type, expiry, account_email, updated_at`,
			pgID, creds.AccessToken, creds.RefreshToken, creds.TokenType, db.TimeToPg(creds.Expiry), creds.AccountEmail)
	}
	if err != nil {
		return contactsync.Credentials{}, err
	}
	saved, err := pgx.CollectExactlyOneRow(rows, scanCredentials)
	if errors.Is(err, pgx.ErrNoRows) {
		return contactsync.Credentials{}, contactsync.ErrCredentialsNotFound
	}
	return saved, err
}

func (s *Store) DeleteCredentials(ctx context.Context, id string) error {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return contactsync.ErrCredentialsNotFound
	}
	tag, err := s.conn.Exec(ctx, `DELETE FROM sync_credentials WHERE id = $1`, pgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return contactsync.ErrCredentialsNotFound
	}
	return nil
}

func scanCredentials(row pgx.CollectableRow) (contactsync.Credentials, error) {
	var (
		creds             contactsync.Credentials
		id, ownerID       pgtype.UUID
		expiry, updatedAt pgtype.Timestamptz
	)
	if err := row.Scan(&id, &ownerID, &creds.Provider, &creds.AccessToken, &creds.RefreshToken, &creds.TokenType, &expiry, &creds.AccountEmail, &updatedAt); err != nil {
		return contactsync.Credentials{}, err
	}
	creds.ID = db.UUIDToString(id)
	creds.OwnerID = db.UUIDToString(ownerID)
	creds.Expiry = db.TimeFromPg(expiry)
	creds.UpdatedAt = db.TimeFromPg(updatedAt)
	return creds, nil
}

func isConstraint(err error, names ...string) bool {
	if !db.IsUniqueViolation(err) {
		return false
	}
	violated := db.ConstraintName(err)
	for _, name := range names {
		if violated == name {
			return true
		}
	}
	return false
}
