package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/memohai/crmsync/internal/contactsync"
	"github.com/memohai/crmsync/internal/db"
)

const runColumns = `id, owner_id, config_id, status, started_at, finished_at, duration_ms,
  created_local, updated_local, deleted_local, created_remote, updated_remote, deleted_remote,
  skipped, conflicts, errors, error_details, failure, summary`

func (s *Store) CreateRun(ctx context.Context, run contactsync.Run) (contactsync.Run, error) {
	pgOwner, err := db.ParseUUID(run.OwnerID)
	if err != nil {
		return contactsync.Run{}, err
	}
	pgConfig, err := db.ParseUUID(run.ConfigID)
	if err != nil {
		return contactsync.Run{}, err
	}
	status := run.Status
	if status == "" {
		status = contactsync.RunInProgress
	}
	startedAt := run.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	rows, err := s.conn.Query(ctx, `INSERT INTO sync_runs (owner_id, config_id, status, started_at)
VALUES ($1, $2, $3, $4)
RETURNING `+runColumns, pgOwner, pgConfig, string(status), db.TimeToPg(startedAt))
	if err != nil {
		return contactsync.Run{}, err
	}
	created, err := pgx.CollectExactlyOneRow(rows, scanRun)
	if isConstraint(err, constraintOneInProgress) {
		return contactsync.Run{}, contactsync.ErrRunInProgress
	}
	return created, err
}

func (s *Store) FinishRun(ctx context.Context, run contactsync.Run) error {
	pgID, err := db.ParseUUID(run.ID)
	if err != nil {
		return contactsync.ErrRunNotFound
	}
	details := run.ErrorDetails
	if details == nil {
		details = []contactsync.ItemError{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode error details: %w", err)
	}
	c := run.Counters
	tag, err := s.conn.Exec(ctx, `UPDATE sync_runs SET
  status = $2,
  finished_at = $3,
  duration_ms = $4,
  created_local = $5,
  updated_local = $6,
  deleted_local = $7,
  created_remote = $8,
  updated_remote = $9,
  deleted_remote = $10,
  skipped = $11,
  conflicts = $12,
  errors = $13,
  error_details = $14,
  failure = $15,
  summary = $16
WHERE id = $1`,
		pgID,
		string(run.Status),
		db.TimeToPg(run.FinishedAt),
		run.Duration.Milliseconds(),
		int32(c.CreatedLocal), int32(c.UpdatedLocal), int32(c.DeletedLocal),
		int32(c.CreatedRemote), int32(c.UpdatedRemote), int32(c.DeletedRemote),
		int32(c.Skipped), int32(c.Conflicts), int32(c.Errors),
		detailsJSON,
		run.Failure,
		run.Summary,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return contactsync.ErrRunNotFound
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (contactsync.Run, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return contactsync.Run{}, contactsync.ErrRunNotFound
	}
	rows, err := s.conn.Query(ctx, `SELECT `+runColumns+` FROM sync_runs WHERE id = $1`, pgID)
	if err != nil {
		return contactsync.Run{}, err
	}
	run, err := pgx.CollectExactlyOneRow(rows, scanRun)
	if errors.Is(err, pgx.ErrNoRows) {
		return contactsync.Run{}, contactsync.ErrRunNotFound
	}
	return run, err
}

// ListRuns returns one page of the owner's runs, newest first, plus the total count.
func (s *Store) ListRuns(ctx context.Context, ownerID string, offset, limit int) ([]contactsync.Run, int, error) {
	pgOwner, err := db.ParseUUID(ownerID)
	if err != nil {
		return nil, 0, err
	}
	rows, err := s.conn.Query(ctx, `SELECT count(*) FROM sync_runs WHERE owner_id = $1`, pgOwner)
	if err != nil {
		return nil, 0, err
	}
	total, err := pgx.CollectExactlyOneRow(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, 0, err
	}
	rows, err = s.conn.Query(ctx, `SELECT `+runColumns+` FROM sync_runs
WHERE owner_id = $1
ORDER BY started_at DESC, id
OFFSET $2 LIMIT $3`, pgOwner, int64(offset), int64(limit))
	if err != nil {
		return nil, 0, err
	}
	runs, err := pgx.CollectRows(rows, scanRun)
	if err != nil {
		return nil, 0, err
	}
	return runs, int(total), nil
}

func (s *Store) ReapStaleRuns(ctx context.Context, startedBefore time.Time, failure string) (int, error) {
	tag, err := s.conn.Exec(ctx, `UPDATE sync_runs SET
  status = 'failed',
  finished_at = now(),
  failure = $2,
  summary = $2
WHERE status = 'in_progress' AND started_at < $1`, db.TimeToPg(startedBefore), failure)
	if err != nil {
		return 0, err
	}
	n := int(tag.RowsAffected())
	if n > 0 {
		s.logger.Debug("reaped stale runs", slog.Int("count", n))
	}
	return n, nil
}

func scanRun(row pgx.CollectableRow) (contactsync.Run, error) {
	var (
		run                   contactsync.Run
		id, ownerID, configID pgtype.UUID
		status                string
		startedAt, finishedAt pgtype.Timestamptz
		durationMS            int64
		counts                [9]int32
		details               []byte
	)
	if err := row.Scan(&id, &ownerID, &configID, &status, &startedAt, &finishedAt, &durationMS,
		&counts[0], &counts[1], &counts[2], &counts[3], &counts[4], &counts[5],
		&counts[6], &counts[7], &counts[8], &details, &run.Failure, &run.Summary); err != nil {
		return contactsync.Run{}, err
	}
	run.ID = db.UUIDToString(id)
	run.OwnerID = db.UUIDToString(ownerID)
	run.ConfigID = db.UUIDToString(configID)
	run.Status = contactsync.RunStatus(status)
	run.StartedAt = db.TimeFromPg(startedAt)
	run.FinishedAt = db.TimeFromPg(finishedAt)
	run.Duration = time.Duration(durationMS) * time.Millisecond
	run.Counters = contactsync.Counters{
		CreatedLocal:  int(counts[0]),
		UpdatedLocal:  int(counts[1]),
		DeletedLocal:  int(counts[2]),
		CreatedRemote: int(counts[3]),
		UpdatedRemote: int(counts[4]),
		DeletedRemote: int(counts[5]),
		Skipped:       int(counts[6]),
		Conflicts:     int(counts[7]),
		Errors:        int(counts[8]),
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &run.ErrorDetails); err != nil {
			return contactsync.Run{}, fmt.Errorf("decode error details: %w", err)
		}
	}
	return run, nil
}
