package contactsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Starter starts a run in the background; *Engine implements it.
type Starter interface {
	Start(ctx context.Context, ownerID, configID string) (Run, error)
}

// Reaper fails runs abandoned in progress; *Engine implements it.
type Reaper interface {
	ReapStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Scheduler periodically starts runs for auto-sync configs that are due.
type Scheduler struct {
	store      ConfigStore
	starter    Starter
	reaper     Reaper
	staleAfter time.Duration
	cron       *cron.Cron
	pattern    string
	now        func() time.Time
	logger     *slog.Logger
}

func NewScheduler(log *slog.Logger, store ConfigStore, starter Starter, pattern string) (*Scheduler, error) {
	if log == nil {
		log = slog.Default()
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(pattern); err != nil {
		return nil, fmt.Errorf("invalid scheduler pattern: %w", err)
	}
	return &Scheduler{
		store:   store,
		starter: starter,
		cron:    cron.New(cron.WithParser(parser)),
		pattern: pattern,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  log.With(slog.String("service", "contactsync_scheduler")),
	}, nil
}

// ReapStaleRuns makes every tick fail runs left in progress longer than
// olderThan before starting due configs, so a run whose process died
// stops blocking its config without waiting for a restart.
func (s *Scheduler) ReapStaleRuns(r Reaper, olderThan time.Duration) *Scheduler {
	s.reaper = r
	s.staleAfter = olderThan
	return s
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.pattern, func() {
		s.Tick(context.Background())
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("sync scheduler started", slog.String("pattern", s.pattern))
	return nil
}

// Stop waits for a running tick to return or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick starts a run for every due config and returns how many were started.
func (s *Scheduler) Tick(ctx context.Context) int {
	if s.reaper != nil && s.staleAfter > 0 {
		if _, err := s.reaper.ReapStale(ctx, s.staleAfter); err != nil {
			s.logger.Error("reap stale sync runs failed", slog.Any("error", err))
		}
	}
	due, err := s.store.ListDueConfigs(ctx, s.now())
	if err != nil {
		s.logger.Error("list due sync configs failed", slog.Any("error", err))
		return 0
	}
	started := 0
	for _, cfg := range due {
		run, err := s.starter.Start(ctx, cfg.OwnerID, cfg.ID)
		switch {
		case errors.Is(err, ErrRunInProgress):
			s.logger.Debug("sync run still in progress", slog.String("config_id", cfg.ID))
		case err != nil:
			s.logger.Warn("start scheduled sync failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
		default:
			started++
			s.logger.Info("scheduled sync started", slog.String("config_id", cfg.ID), slog.String("run_id", run.ID))
		}
	}
	return started
}
