// Package memstore keeps sync state and local contacts in memory.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/crmsync/internal/contactsync"
)

// Store implements contactsync.Store.
type Store struct {
	mu          sync.RWMutex
	configs     map[string]contactsync.Config
	credentials map[string]contactsync.Credentials
	mappings    map[string]contactsync.Mapping
	runs        map[string]contactsync.Run
	changes     []contactsync.ChangeLogEntry
	now         func() time.Time
}

var _ contactsync.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		configs:     map[string]contactsync.Config{},
		credentials: map[string]contactsync.Credentials{},
		mappings:    map[string]contactsync.Mapping{},
		runs:        map[string]contactsync.Run{},
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) GetConfig(_ context.Context, id string) (contactsync.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[id]
	if !ok {
		return contactsync.Config{}, contactsync.ErrConfigNotFound
	}
	return cloneConfig(cfg), nil
}

func (s *Store) GetConfigByProvider(_ context.Context, ownerID, provider string) (contactsync.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cfg := range s.configs {
		if cfg.OwnerID == ownerID && cfg.Provider == provider {
			return cloneConfig(cfg), nil
		}
	}
	return contactsync.Config{}, contactsync.ErrConfigNotFound
}

func (s *Store) ListConfigs(_ context.Context, ownerID string) ([]contactsync.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []contactsync.Config
	for _, cfg := range s.configs {
		if cfg.OwnerID == ownerID {
			out = append(out, cloneConfig(cfg))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (s *Store) SaveConfig(_ context.Context, cfg contactsync.Config) (contactsync.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, existing := range s.configs {
		if existing.OwnerID == cfg.OwnerID && existing.Provider == cfg.Provider {
			cfg.ID = id
			cfg.CreatedAt = existing.CreatedAt
			cfg.Stats = existing.Stats
			cfg.LastRunAt = existing.LastRunAt
			break
		}
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	s.configs[cfg.ID] = cloneConfig(cfg)
	return cloneConfig(cfg), nil
}

func (s *Store) RecordRun(_ context.Context, configID string, stats contactsync.Stats, lastRunAt, nextRunAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[configID]
	if !ok {
		return contactsync.ErrConfigNotFound
	}
	cfg.Stats = stats
	cfg.LastRunAt = lastRunAt
	cfg.NextRunAt = nextRunAt
	cfg.UpdatedAt = s.now()
	s.configs[configID] = cfg
	return nil
}

func (s *Store) ListDueConfigs(_ context.Context, now time.Time) ([]contactsync.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []contactsync.Config
	for _, cfg := range s.configs {
		if cfg.Active && cfg.AutoSync && !cfg.NextRunAt.IsZero() && !cfg.NextRunAt.After(now) {
			out = append(out, cloneConfig(cfg))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRunAt.Before(out[j].NextRunAt) })
	return out, nil
}

func (s *Store) GetCredentials(_ context.Context, id string) (contactsync.Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	creds, ok := s.credentials[id]
	if !ok {
		return contactsync.Credentials{}, contactsync.ErrCredentialsNotFound
	}
	return creds, nil
}

func (s *Store) SaveCredentials(_ context.Context, creds contactsync.Credentials) (contactsync.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if creds.ID == "" {
		creds.ID = uuid.NewString()
	} else if _, ok := s.credentials[creds.ID]; !ok {
		return contactsync.Credentials{}, contactsync.ErrCredentialsNotFound
	}
	creds.UpdatedAt = s.now()
	s.credentials[creds.ID] = creds
	return creds, nil
}

func (s *Store) DeleteCredentials(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.credentials[id]; !ok {
		return contactsync.ErrCredentialsNotFound
	}
	delete(s.credentials, id)
	return nil
}

func (s *Store) ListMappings(_ context.Context, ownerID, configID string) ([]contactsync.Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []contactsync.Mapping
	for _, m := range s.mappings {
		if m.OwnerID == ownerID && m.ConfigID == configID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) ActiveMappingForLocal(_ context.Context, ownerID, localID string) (contactsync.Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.mappings {
		if m.OwnerID == ownerID && m.LocalID == localID && !m.IsDeleted {
			return m, nil
		}
	}
	return contactsync.Mapping{}, contactsync.ErrMappingNotFound
}

func (s *Store) CreateMapping(_ context.Context, m contactsync.Mapping) (contactsync.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.mappings {
		if existing.IsDeleted || existing.OwnerID != m.OwnerID {
			continue
		}
		if existing.LocalID == m.LocalID || existing.RemoteID == m.RemoteID {
			return contactsync.Mapping{}, fmt.Errorf("%w: local %s remote %s", contactsync.ErrMappingExists, m.LocalID, m.RemoteID)
		}
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := s.now()
	m.CreatedAt = now
	m.UpdatedAt = now
	s.mappings[m.ID] = m
	return m, nil
}

func (s *Store) UpdateMapping(_ context.Context, m contactsync.Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.mappings[m.ID]
	if !ok {
		return contactsync.ErrMappingNotFound
	}
	m.CreatedAt = existing.CreatedAt
	m.UpdatedAt = s.now()
	s.mappings[m.ID] = m
	return nil
}

// ActiveMappings lists every active mapping of the owner.
func (s *Store) ActiveMappings(ownerID string) []contactsync.Mapping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []contactsync.Mapping
	for _, m := range s.mappings {
		if m.OwnerID == ownerID && !m.IsDeleted {
			out = append(out, m)
		}
	}
	return out
}

func (s *Store) CreateRun(_ context.Context, run contactsync.Run) (contactsync.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.runs {
		if existing.Status == contactsync.RunInProgress && existing.OwnerID == run.OwnerID && existing.ConfigID == run.ConfigID {
			return contactsync.Run{}, contactsync.ErrRunInProgress
		}
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	s.runs[run.ID] = cloneRun(run)
	return cloneRun(run), nil
}

func (s *Store) FinishRun(_ context.Context, run contactsync.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return contactsync.ErrRunNotFound
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *Store) GetRun(_ context.Context, id string) (contactsync.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return contactsync.Run{}, contactsync.ErrRunNotFound
	}
	return cloneRun(run), nil
}

func (s *Store) ListRuns(_ context.Context, ownerID string, offset, limit int) ([]contactsync.Run, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []contactsync.Run
	for _, run := range s.runs {
		if run.OwnerID == ownerID {
			all = append(all, cloneRun(run))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.After(all[j].StartedAt) })
	total := len(all)
	if offset >= total {
		return []contactsync.Run{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *Store) ReapStaleRuns(_ context.Context, startedBefore time.Time, failure string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	now := s.now()
	for id, run := range s.runs {
		if run.Status != contactsync.RunInProgress || !run.StartedAt.Before(startedBefore) {
			continue
		}
		run.Status = contactsync.RunFailed
		run.Failure = failure
		run.FinishedAt = now
		run.Duration = now.Sub(run.StartedAt)
		run.Summary = run.Counters.Summary()
		s.runs[id] = run
		n++
	}
	return n, nil
}

func (s *Store) AppendChange(_ context.Context, entry contactsync.ChangeLogEntry) (contactsync.ChangeLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	s.changes = append(s.changes, entry)
	return entry, nil
}

func (s *Store) ListChangesByRun(_ context.Context, runID string, filter contactsync.ChangeLogFilter) ([]contactsync.ChangeLogEntry, error) {
	return s.filterChanges(func(e contactsync.ChangeLogEntry) bool {
		return e.RunID == runID && filter.Match(e)
	}), nil
}

func (s *Store) ListChangesByOwner(_ context.Context, ownerID string, limit int) ([]contactsync.ChangeLogEntry, error) {
	out := s.filterChanges(func(e contactsync.ChangeLogEntry) bool { return e.OwnerID == ownerID })
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListChangesByLocal(_ context.Context, ownerID, localID string) ([]contactsync.ChangeLogEntry, error) {
	return s.filterChanges(func(e contactsync.ChangeLogEntry) bool {
		return e.OwnerID == ownerID && e.LocalID == localID
	}), nil
}

func (s *Store) filterChanges(match func(contactsync.ChangeLogEntry) bool) []contactsync.ChangeLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []contactsync.ChangeLogEntry{}
	for _, e := range s.changes {
		if match(e) {
			out = append(out, e)
		}
	}
	return out
}

func cloneConfig(cfg contactsync.Config) contactsync.Config {
	if cfg.FieldMapping != nil {
		m := make(map[string]string, len(cfg.FieldMapping))
		for k, v := range cfg.FieldMapping {
			m[k] = v
		}
		cfg.FieldMapping = m
	}
	return cfg
}

func cloneRun(run contactsync.Run) contactsync.Run {
	run.ErrorDetails = append([]contactsync.ItemError{}, run.ErrorDetails...)
	return run
}
