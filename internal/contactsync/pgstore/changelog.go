package pgstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/memohai/crmsync/internal/contactsync"
	"github.com/memohai/crmsync/internal/db"
)

const changeColumns = `id, run_id, owner_id, local_id, remote_id, operation, change_type, direction,
  before_fields, after_fields, changed_fields, conflict_reason, resolution, winning_source,
  local_updated_at, remote_updated_at, created_at`

func (s *Store) AppendChange(ctx context.Context, e contactsync.ChangeLogEntry) (contactsync.ChangeLogEntry, error) {
	pgRun, err := db.ParseUUID(e.RunID)
	if err != nil {
		return contactsync.ChangeLogEntry{}, err
	}
	pgOwner, err := db.ParseUUID(e.OwnerID)
	if err != nil {
		return contactsync.ChangeLogEntry{}, err
	}
	pgLocal := pgtype.UUID{}
	if e.LocalID != "" {
		if pgLocal, err = db.ParseUUID(e.LocalID); err != nil {
			return contactsync.ChangeLogEntry{}, err
		}
	}
	before, err := fieldsJSON(e.Before)
	if err != nil {
		return contactsync.ChangeLogEntry{}, err
	}
	after, err := fieldsJSON(e.After)
	if err != nil {
		return contactsync.ChangeLogEntry{}, err
	}
	changed := e.ChangedFields
	if changed == nil {
		changed = []string{}
	}
	createdAt := db.TimeToPg(e.CreatedAt)
	rows, err := s.conn.Query(ctx, `INSERT INTO sync_change_log (
  run_id, owner_id, local_id, remote_id, operation, change_type, direction,
  before_fields, after_fields, changed_fields, conflict_reason, resolution, winning_source,
  local_updated_at, remote_updated_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, COALESCE($16, now()))
RETURNING `+changeColumns,
		pgRun, pgOwner, pgLocal, e.RemoteID,
		string(e.Operation), string(e.Operation.ChangeType()), string(e.Operation.Direction()),
		before, after, changed, e.ConflictReason, e.Resolution, string(e.WinningSource),
		db.TimeToPg(e.LocalUpdatedAt), db.TimeToPg(e.RemoteUpdatedAt), createdAt,
	)
	if err != nil {
		return contactsync.ChangeLogEntry{}, err
	}
	return pgx.CollectExactlyOneRow(rows, scanChange)
}

func (s *Store) ListChangesByRun(ctx context.Context, runID string, filter contactsync.ChangeLogFilter) ([]contactsync.ChangeLogEntry, error) {
	pgRun, err := db.ParseUUID(runID)
	if err != nil {
		return nil, contactsync.ErrRunNotFound
	}
	rows, err := s.conn.Query(ctx, `SELECT `+changeColumns+` FROM sync_change_log
WHERE run_id = $1
  AND ($2::text = '' OR operation = $2::text)
  AND ($3::text = '' OR change_type = $3::text)
ORDER BY created_at, id`, pgRun, string(filter.Operation), string(filter.ChangeType))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanChange)
}

func (s *Store) ListChangesByOwner(ctx context.Context, ownerID string, limit int) ([]contactsync.ChangeLogEntry, error) {
	pgOwner, err := db.ParseUUID(ownerID)
	if err != nil {
		return nil, err
	}
	rows, err := s.conn.Query(ctx, `SELECT `+changeColumns+` FROM sync_change_log
WHERE owner_id = $1
ORDER BY created_at DESC, id
LIMIT $2`, pgOwner, int64(limit))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanChange)
}

func (s *Store) ListChangesByLocal(ctx context.Context, ownerID, localID string) ([]contactsync.ChangeLogEntry, error) {
	pgOwner, err := db.ParseUUID(ownerID)
	if err != nil {
		return nil, err
	}
	pgLocal, err := db.ParseUUID(localID)
	if err != nil {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, `SELECT `+changeColumns+` FROM sync_change_log
WHERE owner_id = $1 AND local_id = $2
ORDER BY created_at DESC, id`, pgOwner, pgLocal)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanChange)
}

// fieldsJSON returns nil for a nil snapshot so the column stays NULL.
func fieldsJSON(f *contactsync.Fields) (any, error) {
	if f == nil {
		return nil, nil
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	return raw, nil
}

func decodeFields(raw []byte) (*contactsync.Fields, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var f contactsync.Fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return &f, nil
}

func scanChange(row pgx.CollectableRow) (contactsync.ChangeLogEntry, error) {
	var (
		e                                contactsync.ChangeLogEntry
		id, runID, ownerID, localID      pgtype.UUID
		operation, changeType, direction string
		winning                          string
		before, after                    []byte
		localUpdated, remoteUpdated      pgtype.Timestamptz
		createdAt                        pgtype.Timestamptz
	)
	if err := row.Scan(&id, &runID, &ownerID, &localID, &e.RemoteID, &operation, &changeType, &direction,
		&before, &after, &e.ChangedFields, &e.ConflictReason, &e.Resolution, &winning,
		&localUpdated, &remoteUpdated, &createdAt); err != nil {
		return contactsync.ChangeLogEntry{}, err
	}
	var err error
	if e.Before, err = decodeFields(before); err != nil {
		return contactsync.ChangeLogEntry{}, err
	}
	if e.After, err = decodeFields(after); err != nil {
		return contactsync.ChangeLogEntry{}, err
	}
	e.ID = db.UUIDToString(id)
	e.RunID = db.UUIDToString(runID)
	e.OwnerID = db.UUIDToString(ownerID)
	e.LocalID = db.UUIDToString(localID)
	e.Operation = contactsync.Operation(operation)
	e.ChangeType = contactsync.ChangeType(changeType)
	e.Direction = contactsync.ChangeDirection(direction)
	e.WinningSource = contactsync.Source(winning)
	e.LocalUpdatedAt = db.TimeFromPg(localUpdated)
	e.RemoteUpdatedAt = db.TimeFromPg(remoteUpdated)
	e.CreatedAt = db.TimeFromPg(createdAt)
	return e, nil
}
