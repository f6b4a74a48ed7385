// Package contactsync reconciles a CRM's local contacts with an external
// directory provider. Identity between the two sides is defined only by
// Mapping rows; a run plans every decision up front and then applies them
// without a cross-system transaction, relying on the next run to repair drift.
package contactsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/memohai/crmsync/internal/directory"
	"github.com/memohai/crmsync/internal/event"
	"github.com/memohai/crmsync/internal/logger"
	"github.com/memohai/crmsync/internal/taskqueue"
)

const (
	DefaultWorkers         = 4
	DefaultIntervalMinutes = 60
	staleRunFailure        = "run interrupted before completion"
)

// ProviderLookup resolves a directory provider by name; *directory.Registry implements it.
type ProviderLookup interface {
	Get(name string) (directory.Provider, error)
}

type EngineOptions struct {
	// Workers bounds concurrent item mutations within one run.
	Workers int
	// DefaultIntervalMinutes applies to auto-sync configs without an interval.
	DefaultIntervalMinutes int
	Now                    func() time.Time
}

// Engine orchestrates sync runs.
type Engine struct {
	store     Store
	local     LocalStore
	providers ProviderLookup
	queue     *taskqueue.Queue
	events    event.Publisher
	logger    *slog.Logger
	workers   int
	interval  time.Duration
	now       func() time.Time

	mu      sync.Mutex
	running map[string]struct{}
}

func NewEngine(log *slog.Logger, store Store, local LocalStore, providers ProviderLookup, queue *taskqueue.Queue, events event.Publisher, opts EngineOptions) *Engine {
	if log == nil {
		log = slog.Default()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	interval := opts.DefaultIntervalMinutes
	if interval <= 0 {
		interval = DefaultIntervalMinutes
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		store:     store,
		local:     local,
		providers: providers,
		queue:     queue,
		events:    events,
		logger:    log.With(slog.String("service", "contactsync")),
		workers:   workers,
		interval:  time.Duration(interval) * time.Minute,
		now:       now,
		running:   map[string]struct{}{},
	}
}

// Start creates an in-progress run and executes it in the background. The
// returned run is the initial record; a fatal failure after Start returns
// is only visible through run history.
func (e *Engine) Start(ctx context.Context, ownerID, configID string) (Run, error) {
	run, _, err := e.start(ctx, ownerID, configID)
	return run, err
}

// Run starts a run and waits for it to finish. A fatal failure is returned
// together with the failed run record.
func (e *Engine) Run(ctx context.Context, ownerID, configID string) (Run, error) {
	run, handle, err := e.start(ctx, ownerID, configID)
	if err != nil {
		return run, err
	}
	runErr := handle.Wait(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return run, ctxErr
	}
	final, err := e.store.GetRun(ctx, run.ID)
	if err != nil {
		return run, err
	}
	return final, runErr
}

func (e *Engine) start(ctx context.Context, ownerID, configID string) (Run, *taskqueue.Handle, error) {
	if e.queue == nil {
		return Run{}, nil, errors.New("task queue not configured")
	}
	cfg, err := e.loadConfig(ctx, ownerID, configID)
	if err != nil {
		return Run{}, nil, err
	}
	key := cfg.OwnerID + "/" + cfg.ID
	if !e.acquire(key) {
		return Run{}, nil, ErrRunInProgress
	}
	run, err := e.store.CreateRun(ctx, Run{
		OwnerID:      cfg.OwnerID,
		ConfigID:     cfg.ID,
		Status:       RunInProgress,
		StartedAt:    e.now(),
		ErrorDetails: []ItemError{},
	})
	if err != nil {
		e.release(key)
		return Run{}, nil, err
	}
	e.publish(event.TypeRunStarted, run)

	handle, err := e.queue.SubmitWithDiscard("contactsync.run."+run.ID, func(taskCtx context.Context) error {
		defer e.release(key)
		return e.execute(taskCtx, cfg, run)
	}, func(cause error) {
		defer e.release(key)
		rs := &runState{cfg: cfg, run: run, logger: e.runLogger(run)}
		e.finalize(context.WithoutCancel(ctx), rs, cause)
	})
	if err != nil {
		e.release(key)
		rs := &runState{cfg: cfg, run: run, logger: e.runLogger(run)}
		e.finalize(context.WithoutCancel(ctx), rs, fmt.Errorf("schedule run: %w", err))
		return run, nil, err
	}
	return run, handle, nil
}

func (e *Engine) loadConfig(ctx context.Context, ownerID, configID string) (Config, error) {
	cfg, err := e.store.GetConfig(ctx, strings.TrimSpace(configID))
	if err != nil {
		return Config{}, err
	}
	if cfg.OwnerID != strings.TrimSpace(ownerID) {
		return Config{}, ErrConfigNotFound
	}
	if !cfg.Active {
		return Config{}, ErrConfigInactive
	}
	return cfg, nil
}

func (e *Engine) acquire(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.running[key]; ok {
		return false
	}
	e.running[key] = struct{}{}
	return true
}

func (e *Engine) release(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, key)
}

func (e *Engine) runLogger(run Run) *slog.Logger {
	return e.logger.With(
		slog.String("run_id", run.ID),
		slog.String("owner_id", run.OwnerID),
		slog.String("config_id", run.ConfigID),
	)
}

// execute performs one run. Any returned error is fatal and marks the run failed.
func (e *Engine) execute(ctx context.Context, cfg Config, run Run) (err error) {
	rs := &runState{cfg: cfg, run: run, logger: e.runLogger(run)}
	ctx = logger.WithContext(ctx, rs.logger)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("run panicked: %v", r)
			rs.logger.Error("sync run panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
		}
		e.finalize(context.WithoutCancel(ctx), rs, err)
	}()

	client, err := e.client(ctx, rs)
	if err != nil {
		return err
	}
	rs.client = client

	remote, err := client.FetchAll(ctx)
	if err != nil {
		if errors.Is(err, directory.ErrAuthExpired) {
			return fmt.Errorf("%w: %w", ErrRemoteAuthExpired, err)
		}
		return fmt.Errorf("%w: %w", ErrRemoteFetchFailed, err)
	}
	local, err := e.local.FetchAll(ctx, cfg.OwnerID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLocalFetchFailed, err)
	}
	mappings, err := e.store.ListMappings(ctx, cfg.OwnerID, cfg.ID)
	if err != nil {
		return persistenceError("list mappings", err)
	}

	in := PlanInput{
		Direction:        cfg.Direction,
		ConflictPolicy:   cfg.ConflictPolicy,
		DeletionHandling: cfg.DeletionHandling,
		Remote:           make([]NormalizedContact, 0, len(remote)),
		Local:            make([]NormalizedContact, 0, len(local)),
		Mappings:         mappings,
	}
	for _, c := range remote {
		in.Remote = append(in.Remote, FromRemote(c))
	}
	for _, c := range local {
		in.Local = append(in.Local, FromLocal(c))
	}
	actions := Plan(in)
	rs.logger.Debug("sync plan ready",
		slog.Int("remote", len(in.Remote)),
		slog.Int("local", len(in.Local)),
		slog.Int("mappings", len(mappings)),
		slog.Int("actions", len(actions)),
	)
	e.apply(ctx, rs, actions)
	return nil
}

func (e *Engine) client(ctx context.Context, rs *runState) (directory.Client, error) {
	if e.providers == nil {
		return nil, errors.New("directory providers not configured")
	}
	provider, err := e.providers.Get(rs.cfg.Provider)
	if err != nil {
		return nil, err
	}
	if rs.cfg.CredentialID == "" {
		return nil, fmt.Errorf("%w: provider not authorized", ErrRemoteAuthExpired)
	}
	creds, err := e.store.GetCredentials(ctx, rs.cfg.CredentialID)
	if err != nil {
		if errors.Is(err, ErrCredentialsNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrRemoteAuthExpired, err)
		}
		return nil, persistenceError("load credentials", err)
	}
	rs.creds = creds
	client, err := provider.Client(ctx, creds.Tokens(), rs.observeTokens)
	if err != nil {
		if errors.Is(err, directory.ErrAuthExpired) {
			return nil, fmt.Errorf("%w: %w", ErrRemoteAuthExpired, err)
		}
		return nil, err
	}
	return client, nil
}

// finalize writes the run record exactly once, then folds it into the
// config stats and persists refreshed tokens.
func (e *Engine) finalize(ctx context.Context, rs *runState, fatal error) {
	run := rs.snapshot()
	run.FinishedAt = e.now()
	run.Duration = run.FinishedAt.Sub(run.StartedAt)
	switch {
	case fatal != nil:
		run.Status = RunFailed
		run.Failure = fatal.Error()
	case run.Counters.Errors > 0:
		run.Status = RunPartial
	default:
		run.Status = RunCompleted
	}
	run.Summary = run.Counters.Summary()

	if err := e.store.FinishRun(ctx, run); err != nil {
		rs.logger.Error("finish sync run failed", slog.Any("error", err))
	}
	e.recordStats(ctx, rs, run)
	e.persistTokens(ctx, rs)
	e.publish(event.TypeRunFinished, run)

	attrs := []any{
		slog.String("status", string(run.Status)),
		slog.String("summary", run.Summary),
		slog.Duration("duration", run.Duration),
	}
	if fatal != nil {
		rs.logger.Error("sync run failed", append(attrs, slog.Any("error", fatal))...)
		return
	}
	rs.logger.Info("sync run finished", attrs...)
}

func (e *Engine) recordStats(ctx context.Context, rs *runState, run Run) {
	cfg, err := e.store.GetConfig(ctx, rs.cfg.ID)
	if err != nil {
		rs.logger.Error("reload sync config failed", slog.Any("error", err))
		return
	}
	stats := cfg.Stats
	stats.Record(run)
	var next time.Time
	if cfg.AutoSync && cfg.Active {
		next = run.FinishedAt.Add(e.intervalFor(cfg))
	}
	if err := e.store.RecordRun(ctx, cfg.ID, stats, run.FinishedAt, next); err != nil {
		rs.logger.Error("record sync stats failed", slog.Any("error", err))
	}
}

func (e *Engine) intervalFor(cfg Config) time.Duration {
	if cfg.SyncIntervalMinutes > 0 {
		return time.Duration(cfg.SyncIntervalMinutes) * time.Minute
	}
	return e.interval
}

func (e *Engine) persistTokens(ctx context.Context, rs *runState) {
	rs.mu.Lock()
	refreshed, creds := rs.refreshed, rs.creds
	rs.mu.Unlock()
	if refreshed == nil || creds.ID == "" {
		return
	}
	creds.AccessToken = refreshed.AccessToken
	if refreshed.RefreshToken != "" {
		creds.RefreshToken = refreshed.RefreshToken
	}
	creds.TokenType = refreshed.TokenType
	creds.Expiry = refreshed.Expiry
	if _, err := e.store.SaveCredentials(ctx, creds); err != nil {
		rs.logger.Error("persist refreshed tokens failed", slog.Any("error", err))
	}
}

func (e *Engine) publish(typ event.Type, run Run) {
	if e.events == nil {
		return
	}
	data, err := json.Marshal(run)
	if err != nil {
		e.logger.Warn("encode run event failed", slog.Any("error", err))
		return
	}
	e.events.Publish(event.Event{Type: typ, OwnerID: run.OwnerID, ConfigID: run.ConfigID, RunID: run.ID, Data: data})
}

// ReapStale fails runs left in progress by a previous process.
func (e *Engine) ReapStale(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := e.store.ReapStaleRuns(ctx, e.now().Add(-olderThan), staleRunFailure)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.Warn("reaped stale sync runs", slog.Int("count", n))
	}
	return n, nil
}

// Tokens converts stored credentials for a provider client.
func (c Credentials) Tokens() directory.Tokens {
	return directory.Tokens{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.Expiry,
		AccountEmail: c.AccountEmail,
	}
}
