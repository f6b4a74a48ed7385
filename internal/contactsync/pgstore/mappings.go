package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/memohai/crmsync/internal/contactsync"
	"github.com/memohai/crmsync/internal/db"
)

const mappingColumns = `id, owner_id, config_id, local_id, remote_id, remote_version, last_synced_at,
  local_updated_at, remote_updated_at, status, is_deleted, created_at, updated_at`

func (s *Store) ListMappings(ctx context.Context, ownerID, configID string) ([]contactsync.Mapping, error) {
	pgOwner, err := db.ParseUUID(ownerID)
	if err != nil {
		return nil, err
	}
	pgConfig, err := db.ParseUUID(configID)
	if err != nil {
		return nil, err
	}
	rows, err := s.conn.Query(ctx, `SELECT `+mappingColumns+` FROM contact_mappings
WHERE owner_id = $1 AND config_id = $2
ORDER BY created_at, id`, pgOwner, pgConfig)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanMapping)
}

func (s *Store) ActiveMappingForLocal(ctx context.Context, ownerID, localID string) (contactsync.Mapping, error) {
	pgOwner, err := db.ParseUUID(ownerID)
	if err != nil {
		return contactsync.Mapping{}, err
	}
	pgLocal, err := db.ParseUUID(localID)
	if err != nil {
		return contactsync.Mapping{}, contactsync.ErrMappingNotFound
	}
	rows, err := s.conn.Query(ctx, `SELECT `+mappingColumns+` FROM contact_mappings
WHERE owner_id = $1 AND local_id = $2 AND NOT is_deleted
LIMIT 1`, pgOwner, pgLocal)
	if err != nil {
		return contactsync.Mapping{}, err
	}
	m, err := pgx.CollectExactlyOneRow(rows, scanMapping)
	if errors.Is(err, pgx.ErrNoRows) {
		return contactsync.Mapping{}, contactsync.ErrMappingNotFound
	}
	return m, err
}

func (s *Store) CreateMapping(ctx context.Context, m contactsync.Mapping) (contactsync.Mapping, error) {
	ids, err := mappingIDs(m)
	if err != nil {
		return contactsync.Mapping{}, err
	}
	rows, err := s.conn.Query(ctx, `INSERT INTO contact_mappings (
  owner_id, config_id, local_id, remote_id, remote_version, last_synced_at,
  local_updated_at, remote_updated_at, status, is_deleted)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING `+mappingColumns,
		ids.owner, ids.config, ids.local, m.RemoteID, m.RemoteVersion,
		db.TimeToPg(m.LastSyncedAt), db.TimeToPg(m.LocalUpdatedAt), db.TimeToPg(m.RemoteUpdatedAt),
		string(mappingStatus(m.Status)), m.IsDeleted,
	)
	if err != nil {
		return contactsync.Mapping{}, err
	}
	created, err := pgx.CollectExactlyOneRow(rows, scanMapping)
	if isConstraint(err, constraintMappingRemote, constraintMappingLocal) {
		return contactsync.Mapping{}, contactsync.ErrMappingExists
	}
	return created, err
}

func (s *Store) UpdateMapping(ctx context.Context, m contactsync.Mapping) error {
	pgID, err := db.ParseUUID(m.ID)
	if err != nil {
		return contactsync.ErrMappingNotFound
	}
	pgLocal, err := db.ParseUUID(m.LocalID)
	if err != nil {
		return err
	}
	tag, err := s.conn.Exec(ctx, `UPDATE contact_mappings SET
  local_id = $2,
  remote_id = $3,
  remote_version = $4,
  last_synced_at = $5,
  local_updated_at = $6,
  remote_updated_at = $7,
  status = $8,
  is_deleted = $9,
  updated_at = now()
WHERE id = $1`,
		pgID, pgLocal, m.RemoteID, m.RemoteVersion,
		db.TimeToPg(m.LastSyncedAt), db.TimeToPg(m.LocalUpdatedAt), db.TimeToPg(m.RemoteUpdatedAt),
		string(mappingStatus(m.Status)), m.IsDeleted,
	)
	if isConstraint(err, constraintMappingRemote, constraintMappingLocal) {
		return contactsync.ErrMappingExists
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return contactsync.ErrMappingNotFound
	}
	return nil
}

type mappingKeys struct {
	owner, config, local pgtype.UUID
}

func mappingIDs(m contactsync.Mapping) (mappingKeys, error) {
	var (
		keys mappingKeys
		err  error
	)
	if keys.owner, err = db.ParseUUID(m.OwnerID); err != nil {
		return keys, err
	}
	if keys.config, err = db.ParseUUID(m.ConfigID); err != nil {
		return keys, err
	}
	if keys.local, err = db.ParseUUID(m.LocalID); err != nil {
		return keys, err
	}
	if m.RemoteID == "" {
		return keys, errors.New("remote id is required")
	}
	return keys, nil
}

func mappingStatus(status contactsync.MappingStatus) contactsync.MappingStatus {
	if status == "" {
		return contactsync.MappingSynced
	}
	return status
}

func scanMapping(row pgx.CollectableRow) (contactsync.Mapping, error) {
	var (
		m                                       contactsync.Mapping
		id, ownerID, configID, localID          pgtype.UUID
		lastSynced, localUpdated, remoteUpdated pgtype.Timestamptz
		createdAt, updatedAt                    pgtype.Timestamptz
		status                                  string
	)
	if err := row.Scan(&id, &ownerID, &configID, &localID, &m.RemoteID, &m.RemoteVersion, &lastSynced,
		&localUpdated, &remoteUpdated, &status, &m.IsDeleted, &createdAt, &updatedAt); err != nil {
		return contactsync.Mapping{}, err
	}
	m.ID = db.UUIDToString(id)
	m.OwnerID = db.UUIDToString(ownerID)
	m.ConfigID = db.UUIDToString(configID)
	m.LocalID = db.UUIDToString(localID)
	m.LastSyncedAt = db.TimeFromPg(lastSynced)
	m.LocalUpdatedAt = db.TimeFromPg(localUpdated)
	m.RemoteUpdatedAt = db.TimeFromPg(remoteUpdated)
	m.Status = contactsync.MappingStatus(status)
	m.CreatedAt = db.TimeFromPg(createdAt)
	m.UpdatedAt = db.TimeFromPg(updatedAt)
	return m, nil
}
