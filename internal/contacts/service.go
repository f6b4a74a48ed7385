// Package contacts is the CRM's local contact store.
package contacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/memohai/crmsync/internal/db"
)

// DBTX is the subset of pgx used by the service; *pgxpool.Pool and pgx.Tx satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Service struct {
	db     DBTX
	logger *slog.Logger
}

func NewService(log *slog.Logger, conn DBTX) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		db:     conn,
		logger: log.With(slog.String("service", "contacts")),
	}
}

const contactColumns = `id, owner_id, display_name, email, phone, address, organization, title, notes, created_at, updated_at, deleted_at`

// FetchAll returns every live contact of the owner.
func (s *Service) FetchAll(ctx context.Context, ownerID string) ([]Contact, error) {
	if s.db == nil {
		return nil, fmt.Errorf("contacts db not configured")
	}
	pgOwnerID, err := db.ParseUUID(ownerID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `SELECT `+contactColumns+` FROM contacts
WHERE owner_id = $1 AND deleted_at IS NULL
ORDER BY created_at, id`, pgOwnerID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanContact)
}

func (s *Service) GetByID(ctx context.Context, contactID string) (Contact, error) {
	if s.db == nil {
		return Contact{}, fmt.Errorf("contacts db not configured")
	}
	pgID, err := db.ParseUUID(contactID)
	if err != nil {
		return Contact{}, err
	}
	rows, err := s.db.Query(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1 AND deleted_at IS NULL`, pgID)
	if err != nil {
		return Contact{}, err
	}
	item, err := pgx.CollectExactlyOneRow(rows, scanContact)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	return item, err
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (Contact, error) {
	if s.db == nil {
		return Contact{}, fmt.Errorf("contacts db not configured")
	}
	pgOwnerID, err := db.ParseUUID(req.OwnerID)
	if err != nil {
		return Contact{}, err
	}
	rows, err := s.db.Query(ctx, `INSERT INTO contacts (owner_id, display_name, email, phone, address, organization, title, notes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING `+contactColumns,
		pgOwnerID,
		strings.TrimSpace(req.DisplayName),
		strings.TrimSpace(req.Email),
		strings.TrimSpace(req.Phone),
		strings.TrimSpace(req.Address),
		strings.TrimSpace(req.Organization),
		strings.TrimSpace(req.Title),
		strings.TrimSpace(req.Notes),
	)
	if err != nil {
		return Contact{}, err
	}
	return pgx.CollectExactlyOneRow(rows, scanContact)
}

func (s *Service) Update(ctx context.Context, contactID string, req UpdateRequest) (Contact, error) {
	if s.db == nil {
		return Contact{}, fmt.Errorf("contacts db not configured")
	}
	pgID, err := db.ParseUUID(contactID)
	if err != nil {
		return Contact{}, err
	}
	rows, err := s.db.Query(ctx, `UPDATE contacts SET
  display_name = COALESCE($2, display_name),
  email        = COALESCE($3, email),
  phone        = COALESCE($4, phone),
  address      = COALESCE($5, address),
  organization = COALESCE($6, organization),
  title        = COALESCE($7, title),
  notes        = COALESCE($8, notes),
  updated_at   = now()
WHERE id = $1 AND deleted_at IS NULL
RETURNING `+contactColumns,
		pgID,
		trimmed(req.DisplayName),
		trimmed(req.Email),
		trimmed(req.Phone),
		trimmed(req.Address),
		trimmed(req.Organization),
		trimmed(req.Title),
		trimmed(req.Notes),
	)
	if err != nil {
		return Contact{}, err
	}
	item, err := pgx.CollectExactlyOneRow(rows, scanContact)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	return item, err
}

// SoftDelete hides the contact from FetchAll while keeping the row.
func (s *Service) SoftDelete(ctx context.Context, contactID string) error {
	return s.exec(ctx, `UPDATE contacts SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, contactID)
}

func (s *Service) HardDelete(ctx context.Context, contactID string) error {
	return s.exec(ctx, `DELETE FROM contacts WHERE id = $1`, contactID)
}

func (s *Service) exec(ctx context.Context, sql, contactID string) error {
	if s.db == nil {
		return fmt.Errorf("contacts db not configured")
	}
	pgID, err := db.ParseUUID(contactID)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, sql, pgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanContact(row pgx.CollectableRow) (Contact, error) {
	var (
		id, ownerID                       pgtype.UUID
		item                              Contact
		createdAt, updatedAt, deletedAtPg pgtype.Timestamptz
	)
	if err := row.Scan(
		&id,
		&ownerID,
		&item.DisplayName,
		&item.Email,
		&item.Phone,
		&item.Address,
		&item.Organization,
		&item.Title,
		&item.Notes,
		&createdAt,
		&updatedAt,
		&deletedAtPg,
	); err != nil {
		return Contact{}, err
	}
	item.ID = db.UUIDToString(id)
	item.OwnerID = db.UUIDToString(ownerID)
	item.CreatedAt = db.TimeFromPg(createdAt)
	item.UpdatedAt = db.TimeFromPg(updatedAt)
	item.DeletedAt = db.TimeFromPg(deletedAtPg)
	return item, nil
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	return &v
}
