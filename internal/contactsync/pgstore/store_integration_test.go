package pgstore_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/crmsync/internal/contactsync"
	"github.com/memohai/crmsync/internal/contactsync/pgstore"
)

func setupStoreIntegrationTest(t *testing.T) *pgstore.Store {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("skip integration test: TEST_POSTGRES_DSN is not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("skip integration test: cannot connect to database: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("skip integration test: database ping failed: %v", err)
	}
	t.Cleanup(pool.Close)
	return pgstore.New(nil, pool)
}

func saveTestConfig(t *testing.T, store *pgstore.Store, owner string) contactsync.Config {
	t.Helper()
	cfg, err := store.SaveConfig(context.Background(), contactsync.Config{
		OwnerID:             owner,
		Provider:            "google",
		Direction:           contactsync.DirectionTwoWay,
		ConflictPolicy:      contactsync.PolicyNewestWins,
		DeletionHandling:    contactsync.DeletionSoft,
		Active:              true,
		SyncIntervalMinutes: 30,
		FieldMapping:        map[string]string{"name": "names"},
	})
	require.NoError(t, err)
	return cfg
}

func TestIntegrationConfigUpsertKeepsStats(t *testing.T) {
	store := setupStoreIntegrationTest(t)
	ctx := context.Background()
	owner := uuid.NewString()

	cfg := saveTestConfig(t, store, owner)
	require.NotEmpty(t, cfg.ID)
	assert.Equal(t, "names", cfg.FieldMapping["name"])

	finished := time.Now().UTC().Truncate(time.Millisecond)
	stats := contactsync.Stats{TotalRuns: 2, SuccessfulRuns: 1, FailedRuns: 1, LastDuration: 1500 * time.Millisecond, TotalItemsSynced: 7}
	require.NoError(t, store.RecordRun(ctx, cfg.ID, stats, finished, finished.Add(30*time.Minute)))

	cfg.Direction = contactsync.DirectionImportOnly
	cfg.AutoSync = true
	again, err := store.SaveConfig(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.ID, again.ID)
	assert.Equal(t, contactsync.DirectionImportOnly, again.Direction)
	assert.Equal(t, stats, again.Stats)
	assert.True(t, again.LastRunAt.Equal(finished))

	due, err := store.ListDueConfigs(ctx, finished.Add(time.Hour))
	require.NoError(t, err)
	var found bool
	for _, c := range due {
		if c.ID == cfg.ID {
			found = true
		}
	}
	assert.False(t, found, "next_run_at was cleared by the upsert")
}

func TestIntegrationMappingUniqueness(t *testing.T) {
	store := setupStoreIntegrationTest(t)
	ctx := context.Background()
	owner := uuid.NewString()
	cfg := saveTestConfig(t, store, owner)

	local := uuid.NewString()
	m, err := store.CreateMapping(ctx, contactsync.Mapping{
		OwnerID: owner, ConfigID: cfg.ID, LocalID: local, RemoteID: "people/c1", RemoteVersion: "e1",
	})
	require.NoError(t, err)
	assert.Equal(t, contactsync.MappingSynced, m.Status)

	_, err = store.CreateMapping(ctx, contactsync.Mapping{
		OwnerID: owner, ConfigID: cfg.ID, LocalID: uuid.NewString(), RemoteID: "people/c1",
	})
	assert.True(t, errors.Is(err, contactsync.ErrMappingExists))

	active, err := store.ActiveMappingForLocal(ctx, owner, local)
	require.NoError(t, err)
	assert.Equal(t, m.ID, active.ID)

	m.IsDeleted = true
	require.NoError(t, store.UpdateMapping(ctx, m))
	_, err = store.ActiveMappingForLocal(ctx, owner, local)
	assert.True(t, errors.Is(err, contactsync.ErrMappingNotFound))

	_, err = store.CreateMapping(ctx, contactsync.Mapping{
		OwnerID: owner, ConfigID: cfg.ID, LocalID: local, RemoteID: "people/c1",
	})
	require.NoError(t, err)

	all, err := store.ListMappings(ctx, owner, cfg.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestIntegrationRunLifecycle(t *testing.T) {
	store := setupStoreIntegrationTest(t)
	ctx := context.Background()
	owner := uuid.NewString()
	cfg := saveTestConfig(t, store, owner)

	run, err := store.CreateRun(ctx, contactsync.Run{OwnerID: owner, ConfigID: cfg.ID, StartedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, contactsync.RunInProgress, run.Status)

	_, err = store.CreateRun(ctx, contactsync.Run{OwnerID: owner, ConfigID: cfg.ID})
	assert.True(t, errors.Is(err, contactsync.ErrRunInProgress))

	local := uuid.NewString()
	entry, err := store.AppendChange(ctx, contactsync.ChangeLogEntry{
		RunID:         run.ID,
		OwnerID:       owner,
		LocalID:       local,
		RemoteID:      "people/c9",
		Operation:     contactsync.OpCreateLocal,
		After:         &contactsync.Fields{Name: "Ann"},
		ChangedFields: []string{"name"},
	})
	require.NoError(t, err)
	assert.Nil(t, entry.Before)
	require.NotNil(t, entry.After)
	assert.Equal(t, "Ann", entry.After.Name)
	assert.Equal(t, contactsync.ChangeCreate, entry.ChangeType)
	assert.Equal(t, contactsync.ToLocal, entry.Direction)

	run.Status = contactsync.RunPartial
	run.FinishedAt = time.Now()
	run.Duration = 2 * time.Second
	run.Counters = contactsync.Counters{CreatedLocal: 1, Errors: 1}
	run.ErrorDetails = []contactsync.ItemError{{RemoteID: "people/c10", Operation: contactsync.OpCreateLocal, Message: "boom"}}
	run.Summary = run.Counters.Summary()
	require.NoError(t, store.FinishRun(ctx, run))

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, contactsync.RunPartial, got.Status)
	assert.Equal(t, run.Counters, got.Counters)
	require.Len(t, got.ErrorDetails, 1)
	assert.Equal(t, "boom", got.ErrorDetails[0].Message)

	runs, total, err := store.ListRuns(ctx, owner, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, runs, 1)

	changes, err := store.ListChangesByRun(ctx, run.ID, contactsync.ChangeLogFilter{ChangeType: contactsync.ChangeDelete})
	require.NoError(t, err)
	assert.Empty(t, changes)
	changes, err = store.ListChangesByLocal(ctx, owner, local)
	require.NoError(t, err)
	assert.Len(t, changes, 1)

	_, err = store.GetRun(ctx, uuid.NewString())
	assert.True(t, errors.Is(err, contactsync.ErrRunNotFound))
}

func TestIntegrationReapStaleRuns(t *testing.T) {
	store := setupStoreIntegrationTest(t)
	ctx := context.Background()
	owner := uuid.NewString()
	cfg := saveTestConfig(t, store, owner)

	run, err := store.CreateRun(ctx, contactsync.Run{OwnerID: owner, ConfigID: cfg.ID, StartedAt: time.Now().Add(-2 * time.Hour)})
	require.NoError(t, err)

	n, err := store.ReapStaleRuns(ctx, time.Now().Add(-time.Hour), "run interrupted before completion")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, contactsync.RunFailed, got.Status)
	assert.Equal(t, "run interrupted before completion", got.Failure)
}
