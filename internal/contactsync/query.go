package contactsync

import (
	"context"
	"strings"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// QueryService serves run history, change log and stats.
type QueryService struct {
	store Store
}

func NewQueryService(store Store) *QueryService {
	return &QueryService{store: store}
}

// History returns one page of the owner's runs, newest first. page is 1-based.
func (s *QueryService) History(ctx context.Context, ownerID string, page, limit int) (RunPage, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	items, total, err := s.store.ListRuns(ctx, strings.TrimSpace(ownerID), (page-1)*limit, limit)
	if err != nil {
		return RunPage{}, err
	}
	if items == nil {
		items = []Run{}
	}
	return RunPage{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// RunDetails returns a run owned by ownerID.
func (s *QueryService) RunDetails(ctx context.Context, ownerID, runID string) (Run, error) {
	run, err := s.store.GetRun(ctx, strings.TrimSpace(runID))
	if err != nil {
		return Run{}, err
	}
	if run.OwnerID != strings.TrimSpace(ownerID) {
		return Run{}, ErrRunNotFound
	}
	return run, nil
}

func (s *QueryService) ChangeLog(ctx context.Context, ownerID, runID string, filter ChangeLogFilter) ([]ChangeLogEntry, error) {
	run, err := s.RunDetails(ctx, ownerID, runID)
	if err != nil {
		return nil, err
	}
	return s.store.ListChangesByRun(ctx, run.ID, filter)
}

func (s *QueryService) OwnerChanges(ctx context.Context, ownerID string, limit int) ([]ChangeLogEntry, error) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return s.store.ListChangesByOwner(ctx, strings.TrimSpace(ownerID), limit)
}

func (s *QueryService) ContactChanges(ctx context.Context, ownerID, localID string) ([]ChangeLogEntry, error) {
	return s.store.ListChangesByLocal(ctx, strings.TrimSpace(ownerID), strings.TrimSpace(localID))
}

// Stats aggregates the rolling stats of every config of the owner.
func (s *QueryService) Stats(ctx context.Context, ownerID string) (OwnerStats, error) {
	configs, err := s.store.ListConfigs(ctx, strings.TrimSpace(ownerID))
	if err != nil {
		return OwnerStats{}, err
	}
	var out OwnerStats
	for _, cfg := range configs {
		out.Configs++
		out.Add(cfg.Stats)
		if cfg.LastRunAt.After(out.LastRunAt) {
			out.LastRunAt = cfg.LastRunAt
		}
	}
	return out, nil
}
