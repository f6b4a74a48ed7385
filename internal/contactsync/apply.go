package contactsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/memohai/crmsync/internal/contacts"
	"github.com/memohai/crmsync/internal/directory"
)

// runState is the mutable state shared by the appliers of one run.
type runState struct {
	cfg    Config
	client directory.Client
	logger *slog.Logger

	mu        sync.Mutex
	run       Run
	creds     Credentials
	refreshed *directory.Tokens
}

func (rs *runState) observeTokens(t directory.Tokens) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.refreshed = &t
}

func (rs *runState) recordApplied(a Action) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.run.Counters.countOperation(a.Op)
	if a.Conflict {
		rs.run.Counters.Conflicts++
	}
}

func (rs *runState) recordSkip() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.run.Counters.Skipped++
}

func (rs *runState) recordError(ie *ItemError) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.run.Counters.Errors++
	rs.run.ErrorDetails = append(rs.run.ErrorDetails, *ie)
}

func (rs *runState) snapshot() Run {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	run := rs.run
	run.ErrorDetails = append([]ItemError{}, rs.run.ErrorDetails...)
	return run
}

// apply executes planned actions on a bounded pool. Each action owns one
// mapping key, so mutations of a key never interleave.
func (e *Engine) apply(ctx context.Context, rs *runState, actions []Action) {
	var g errgroup.Group
	g.SetLimit(e.workers)
	for _, a := range actions {
		if a.Skip {
			rs.recordSkip()
			continue
		}
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					rs.logger.Error("sync item panicked",
						slog.String("operation", string(a.Op)),
						slog.Any("panic", r),
						slog.String("stack", string(debug.Stack())),
					)
					rs.recordError(itemError(a, fmt.Errorf("panicked: %v", r)))
				}
			}()
			if err := ctx.Err(); err != nil {
				rs.recordError(itemError(a, err))
				return nil
			}
			if a.Sweep {
				e.sweepMapping(ctx, rs, a)
				return nil
			}
			if err := e.applyAction(ctx, rs, a); err != nil {
				ie := itemError(a, err)
				rs.logger.Warn("sync item failed",
					slog.String("operation", string(a.Op)),
					slog.String("local_id", ie.LocalID),
					slog.String("remote_id", ie.RemoteID),
					slog.Any("error", err),
				)
				rs.recordError(ie)
				return nil
			}
			rs.recordApplied(a)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) applyAction(ctx context.Context, rs *runState, a Action) error {
	switch a.Op {
	case OpCreateLocal:
		return e.createLocalFromRemote(ctx, rs, a)
	case OpCreateRemote:
		return e.createRemoteFromLocal(ctx, rs, a)
	case OpUpdateLocal:
		return e.updateLocalFromRemote(ctx, rs, a)
	case OpUpdateRemote:
		return e.updateRemoteFromLocal(ctx, rs, a)
	case OpDeleteLocal:
		return e.deleteLocal(ctx, rs, a)
	case OpDeleteRemote:
		return e.deleteRemote(ctx, rs, a)
	}
	return fmt.Errorf("unknown operation %q", a.Op)
}

func (e *Engine) createLocalFromRemote(ctx context.Context, rs *runState, a Action) error {
	r := a.Remote
	created, err := e.local.Create(ctx, r.Fields.toCreateRequest(rs.cfg.OwnerID))
	if err != nil {
		return fmt.Errorf("create local contact: %w", err)
	}
	if _, err := e.store.CreateMapping(ctx, Mapping{
		OwnerID:         rs.cfg.OwnerID,
		ConfigID:        rs.cfg.ID,
		LocalID:         created.ID,
		RemoteID:        r.ID,
		RemoteVersion:   r.Version,
		LastSyncedAt:    e.now(),
		LocalUpdatedAt:  created.UpdatedAt,
		RemoteUpdatedAt: r.UpdatedAt,
		Status:          MappingSynced,
	}); err != nil {
		return persistenceError("create mapping", err)
	}
	after := FromLocal(created).Fields
	return e.logChange(ctx, rs, ChangeLogEntry{
		LocalID:         created.ID,
		RemoteID:        r.ID,
		Operation:       OpCreateLocal,
		After:           &after,
		ChangedFields:   ChangedFields(Fields{}, after),
		WinningSource:   SourceRemote,
		LocalUpdatedAt:  created.UpdatedAt,
		RemoteUpdatedAt: r.UpdatedAt,
	})
}

func (e *Engine) createRemoteFromLocal(ctx context.Context, rs *runState, a Action) error {
	l := a.Local
	// Mappings are unique per owner; a contact already synced by another
	// config must not be pushed to a second directory.
	existing, err := e.store.ActiveMappingForLocal(ctx, rs.cfg.OwnerID, l.ID)
	switch {
	case err == nil:
		return fmt.Errorf("%w: local %s is synced by config %s", ErrMappingExists, l.ID, existing.ConfigID)
	case !errors.Is(err, ErrMappingNotFound):
		return persistenceError("find mapping", err)
	}
	created, err := rs.client.Create(ctx, l.Fields.toInput())
	if err != nil {
		return fmt.Errorf("create remote contact: %w", err)
	}
	remoteUpdatedAt := created.UpdatedAt
	if remoteUpdatedAt.IsZero() {
		remoteUpdatedAt = e.now()
	}
	if _, err := e.store.CreateMapping(ctx, Mapping{
		OwnerID:         rs.cfg.OwnerID,
		ConfigID:        rs.cfg.ID,
		LocalID:         l.ID,
		RemoteID:        created.ID,
		RemoteVersion:   created.ETag,
		LastSyncedAt:    e.now(),
		LocalUpdatedAt:  l.UpdatedAt,
		RemoteUpdatedAt: remoteUpdatedAt,
		Status:          MappingSynced,
	}); err != nil {
		return persistenceError("create mapping", err)
	}
	after := FromRemote(created).Fields
	return e.logChange(ctx, rs, ChangeLogEntry{
		LocalID:         l.ID,
		RemoteID:        created.ID,
		Operation:       OpCreateRemote,
		After:           &after,
		ChangedFields:   ChangedFields(Fields{}, after),
		WinningSource:   SourceLocal,
		LocalUpdatedAt:  l.UpdatedAt,
		RemoteUpdatedAt: remoteUpdatedAt,
	})
}

func (e *Engine) updateLocalFromRemote(ctx context.Context, rs *runState, a Action) error {
	m, l, r := *a.Mapping, a.Local, a.Remote
	updated, err := e.local.Update(ctx, l.ID, r.Fields.toUpdateRequest())
	if err != nil {
		e.markMapping(ctx, rs, m, MappingError)
		return fmt.Errorf("update local contact: %w", err)
	}
	m.RemoteVersion = r.Version
	m.LastSyncedAt = e.now()
	m.LocalUpdatedAt = updated.UpdatedAt
	m.RemoteUpdatedAt = r.UpdatedAt
	m.Status = MappingSynced
	if err := e.store.UpdateMapping(ctx, m); err != nil {
		return persistenceError("update mapping", err)
	}
	before, after := l.Fields, FromLocal(updated).Fields
	return e.logChange(ctx, rs, conflictEntry(a, ChangeLogEntry{
		LocalID:         l.ID,
		RemoteID:        r.ID,
		Operation:       OpUpdateLocal,
		Before:          &before,
		After:           &after,
		LocalUpdatedAt:  updated.UpdatedAt,
		RemoteUpdatedAt: r.UpdatedAt,
	}))
}

func (e *Engine) updateRemoteFromLocal(ctx context.Context, rs *runState, a Action) error {
	m, l, r := *a.Mapping, a.Local, a.Remote
	etag := r.Version
	if etag == "" {
		etag = m.RemoteVersion
	}
	updated, err := rs.client.Update(ctx, r.ID, l.Fields.toInput(), etag)
	if err != nil {
		status := MappingError
		if errors.Is(err, directory.ErrStaleVersion) {
			status = MappingConflict
		}
		e.markMapping(ctx, rs, m, status)
		return fmt.Errorf("update remote contact: %w", err)
	}
	remoteUpdatedAt := updated.UpdatedAt
	if remoteUpdatedAt.IsZero() {
		remoteUpdatedAt = e.now()
	}
	m.RemoteVersion = updated.ETag
	m.LastSyncedAt = e.now()
	m.LocalUpdatedAt = l.UpdatedAt
	m.RemoteUpdatedAt = remoteUpdatedAt
	m.Status = MappingSynced
	if err := e.store.UpdateMapping(ctx, m); err != nil {
		return persistenceError("update mapping", err)
	}
	before, after := r.Fields, FromRemote(updated).Fields
	return e.logChange(ctx, rs, conflictEntry(a, ChangeLogEntry{
		LocalID:         l.ID,
		RemoteID:        r.ID,
		Operation:       OpUpdateRemote,
		Before:          &before,
		After:           &after,
		LocalUpdatedAt:  l.UpdatedAt,
		RemoteUpdatedAt: remoteUpdatedAt,
	}))
}

// deleteRemote propagates a local deletion to the provider.
func (e *Engine) deleteRemote(ctx context.Context, rs *runState, a Action) error {
	m, r := *a.Mapping, a.Remote
	var err error
	if rs.cfg.DeletionHandling == DeletionHard {
		err = rs.client.HardDelete(ctx, r.ID)
	} else {
		err = rs.client.SoftDelete(ctx, r.ID)
	}
	if err != nil && !errors.Is(err, directory.ErrNotFound) {
		e.markMapping(ctx, rs, m, MappingError)
		return fmt.Errorf("delete remote contact: %w", err)
	}
	if err := e.retireMapping(ctx, m); err != nil {
		return err
	}
	before := r.Fields
	return e.logChange(ctx, rs, ChangeLogEntry{
		LocalID:         m.LocalID,
		RemoteID:        r.ID,
		Operation:       OpDeleteRemote,
		Before:          &before,
		ChangedFields:   ChangedFields(before, Fields{}),
		Resolution:      string(rs.cfg.DeletionHandling),
		WinningSource:   SourceLocal,
		LocalUpdatedAt:  m.LocalUpdatedAt,
		RemoteUpdatedAt: r.UpdatedAt,
	})
}

// deleteLocal propagates a provider deletion to the CRM.
func (e *Engine) deleteLocal(ctx context.Context, rs *runState, a Action) error {
	m, l := *a.Mapping, a.Local
	var err error
	if rs.cfg.DeletionHandling == DeletionHard {
		err = e.local.HardDelete(ctx, l.ID)
	} else {
		err = e.local.SoftDelete(ctx, l.ID)
	}
	if err != nil && !errors.Is(err, contacts.ErrNotFound) {
		e.markMapping(ctx, rs, m, MappingError)
		return fmt.Errorf("delete local contact: %w", err)
	}
	if err := e.retireMapping(ctx, m); err != nil {
		return err
	}
	before := l.Fields
	return e.logChange(ctx, rs, ChangeLogEntry{
		LocalID:         l.ID,
		RemoteID:        m.RemoteID,
		Operation:       OpDeleteLocal,
		Before:          &before,
		ChangedFields:   ChangedFields(before, Fields{}),
		Resolution:      string(rs.cfg.DeletionHandling),
		WinningSource:   SourceRemote,
		LocalUpdatedAt:  l.UpdatedAt,
		RemoteUpdatedAt: m.RemoteUpdatedAt,
	})
}

func (e *Engine) retireMapping(ctx context.Context, m Mapping) error {
	m.IsDeleted = true
	m.Status = MappingSynced
	m.LastSyncedAt = e.now()
	if err := e.store.UpdateMapping(ctx, m); err != nil {
		return persistenceError("retire mapping", err)
	}
	return nil
}

// sweepMapping retires a mapping whose both sides vanished. It is
// housekeeping: no counter, no change log row.
func (e *Engine) sweepMapping(ctx context.Context, rs *runState, a Action) {
	if err := e.retireMapping(ctx, *a.Mapping); err != nil {
		rs.logger.Warn("sweep orphan mapping failed", slog.String("mapping_id", a.Mapping.ID), slog.Any("error", err))
	}
}

// markMapping records a failed mutation on the mapping; failures are logged only.
func (e *Engine) markMapping(ctx context.Context, rs *runState, m Mapping, status MappingStatus) {
	m.Status = status
	if err := e.store.UpdateMapping(ctx, m); err != nil {
		rs.logger.Warn("mark mapping failed",
			slog.String("mapping_id", m.ID),
			slog.String("status", string(status)),
			slog.Any("error", err),
		)
	}
}

func (e *Engine) logChange(ctx context.Context, rs *runState, entry ChangeLogEntry) error {
	entry.RunID = rs.run.ID
	entry.OwnerID = rs.cfg.OwnerID
	entry.ChangeType = entry.Operation.ChangeType()
	entry.Direction = entry.Operation.Direction()
	entry.CreatedAt = e.now()
	if entry.ChangedFields == nil {
		entry.ChangedFields = []string{}
	}
	if _, err := e.store.AppendChange(ctx, entry); err != nil {
		return persistenceError("append change log", err)
	}
	return nil
}

func conflictEntry(a Action, entry ChangeLogEntry) ChangeLogEntry {
	entry.ChangedFields = a.Changed
	if a.Conflict {
		entry.ConflictReason = "both sides changed since last sync: " + strings.Join(a.Changed, ", ")
	} else {
		entry.ConflictReason = "fields differ: " + strings.Join(a.Changed, ", ")
	}
	if a.Decision != nil {
		entry.Resolution = a.Decision.Reason
		entry.WinningSource = a.Decision.Winner
	}
	return entry
}
