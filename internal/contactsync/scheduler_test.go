package contactsync_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/crmsync/internal/contactsync"
)

func TestSchedulerTickStartsDueConfigs(t *testing.T) {
	h := newHarness(t, func(c *contactsync.Config) {
		c.AutoSync = true
		c.SyncIntervalMinutes = 15
	})
	require.NoError(t, h.store.RecordRun(h.ctx, h.cfg.ID, contactsync.Stats{}, time.Time{}, time.Now().Add(-time.Minute)))
	h.addLocal("Alice", "")

	s, err := contactsync.NewScheduler(nil, h.store, h.engine, "@every 1m")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Tick(h.ctx))

	q := contactsync.NewQueryService(h.store)
	require.Eventually(t, func() bool {
		page, err := q.History(h.ctx, h.owner, 1, 1)
		return err == nil && len(page.Items) == 1 && page.Items[0].Status == contactsync.RunCompleted
	}, 5*time.Second, 10*time.Millisecond)

	cfg, err := h.store.GetConfig(h.ctx, h.cfg.ID)
	require.NoError(t, err)
	assert.True(t, cfg.NextRunAt.After(h.clock.Now()))
}

func TestSchedulerSkipsConfigsNotDue(t *testing.T) {
	h := newHarness(t, func(c *contactsync.Config) { c.AutoSync = true })
	require.NoError(t, h.store.RecordRun(h.ctx, h.cfg.ID, contactsync.Stats{}, time.Time{}, time.Now().Add(time.Hour)))

	s, err := contactsync.NewScheduler(nil, h.store, h.engine, "@every 1m")
	require.NoError(t, err)
	assert.Equal(t, 0, s.Tick(h.ctx))
}

func TestSchedulerTickReapsRunsThatGoStale(t *testing.T) {
	h := newHarness(t, func(c *contactsync.Config) { c.AutoSync = true })
	require.NoError(t, h.store.RecordRun(h.ctx, h.cfg.ID, contactsync.Stats{}, time.Time{}, time.Now().Add(-time.Minute)))
	abandoned, err := h.store.CreateRun(h.ctx, contactsync.Run{
		OwnerID:   h.owner,
		ConfigID:  h.cfg.ID,
		Status:    contactsync.RunInProgress,
		StartedAt: h.clock.Now(),
	})
	require.NoError(t, err)

	s, err := contactsync.NewScheduler(nil, h.store, h.engine, "@every 1m")
	require.NoError(t, err)
	s.ReapStaleRuns(h.engine, 2*time.Hour)

	assert.Equal(t, 0, s.Tick(h.ctx), "a fresh in-progress run still blocks its config")
	got, err := h.store.GetRun(h.ctx, abandoned.ID)
	require.NoError(t, err)
	assert.Equal(t, contactsync.RunInProgress, got.Status)

	h.clock.Advance(3 * time.Hour)
	assert.Equal(t, 1, s.Tick(h.ctx))
	got, err = h.store.GetRun(h.ctx, abandoned.ID)
	require.NoError(t, err)
	assert.Equal(t, contactsync.RunFailed, got.Status)
	assert.NotEmpty(t, got.Failure)

	require.Eventually(t, func() bool {
		page, err := contactsync.NewQueryService(h.store).History(h.ctx, h.owner, 1, 1)
		return err == nil && len(page.Items) == 1 && page.Items[0].Status == contactsync.RunCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSchedulerRejectsBadPattern(t *testing.T) {
	_, err := contactsync.NewScheduler(nil, nil, nil, "not a cron")
	assert.Error(t, err)
}
