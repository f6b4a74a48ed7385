package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/crmsync/internal/contacts"
	"github.com/memohai/crmsync/internal/contactsync"
)

func TestCreateMappingRejectsActiveDuplicates(t *testing.T) {
	ctx := context.Background()
	s := New()
	m, err := s.CreateMapping(ctx, contactsync.Mapping{OwnerID: "o", ConfigID: "c", LocalID: "l1", RemoteID: "people/1"})
	require.NoError(t, err)

	_, err = s.CreateMapping(ctx, contactsync.Mapping{OwnerID: "o", ConfigID: "c", LocalID: "l1", RemoteID: "people/2"})
	assert.ErrorIs(t, err, contactsync.ErrMappingExists)
	_, err = s.CreateMapping(ctx, contactsync.Mapping{OwnerID: "o", ConfigID: "c", LocalID: "l2", RemoteID: "people/1"})
	assert.ErrorIs(t, err, contactsync.ErrMappingExists)

	_, err = s.CreateMapping(ctx, contactsync.Mapping{OwnerID: "other", ConfigID: "c", LocalID: "l1", RemoteID: "people/1"})
	assert.NoError(t, err)

	m.IsDeleted = true
	require.NoError(t, s.UpdateMapping(ctx, m))
	_, err = s.CreateMapping(ctx, contactsync.Mapping{OwnerID: "o", ConfigID: "c", LocalID: "l1", RemoteID: "people/1"})
	assert.NoError(t, err)

	all, err := s.ListMappings(ctx, "o", "c")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Len(t, s.ActiveMappings("o"), 1)
}

func TestCreateRunOnePerConfig(t *testing.T) {
	ctx := context.Background()
	s := New()
	run, err := s.CreateRun(ctx, contactsync.Run{OwnerID: "o", ConfigID: "c", Status: contactsync.RunInProgress, StartedAt: time.Now()})
	require.NoError(t, err)
	_, err = s.CreateRun(ctx, contactsync.Run{OwnerID: "o", ConfigID: "c", Status: contactsync.RunInProgress})
	assert.ErrorIs(t, err, contactsync.ErrRunInProgress)

	run.Status = contactsync.RunCompleted
	require.NoError(t, s.FinishRun(ctx, run))
	_, err = s.CreateRun(ctx, contactsync.Run{OwnerID: "o", ConfigID: "c", Status: contactsync.RunInProgress})
	assert.NoError(t, err)
}

func TestSaveConfigUpsertsByOwnerAndProvider(t *testing.T) {
	ctx := context.Background()
	s := New()
	first, err := s.SaveConfig(ctx, contactsync.Config{OwnerID: "o", Provider: "google", Direction: contactsync.DirectionTwoWay})
	require.NoError(t, err)
	require.NoError(t, s.RecordRun(ctx, first.ID, contactsync.Stats{TotalRuns: 3}, time.Now(), time.Time{}))

	second, err := s.SaveConfig(ctx, contactsync.Config{OwnerID: "o", Provider: "google", Direction: contactsync.DirectionImportOnly})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 3, second.Stats.TotalRuns)
	assert.Equal(t, contactsync.DirectionImportOnly, second.Direction)
}

func TestListDueConfigs(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	_, err := s.SaveConfig(ctx, contactsync.Config{OwnerID: "a", Provider: "google", Active: true, AutoSync: true, NextRunAt: now.Add(-time.Minute)})
	require.NoError(t, err)
	_, err = s.SaveConfig(ctx, contactsync.Config{OwnerID: "b", Provider: "google", Active: true, AutoSync: true, NextRunAt: now.Add(time.Minute)})
	require.NoError(t, err)
	_, err = s.SaveConfig(ctx, contactsync.Config{OwnerID: "c", Provider: "google", Active: false, AutoSync: true, NextRunAt: now.Add(-time.Minute)})
	require.NoError(t, err)

	due, err := s.ListDueConfigs(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "a", due[0].OwnerID)
}

func TestContactsSoftDeleteHidesFromFetchAll(t *testing.T) {
	ctx := context.Background()
	c := NewContacts()
	item, err := c.Create(ctx, contacts.CreateRequest{OwnerID: "o", DisplayName: " Jane "})
	require.NoError(t, err)
	assert.Equal(t, "Jane", item.DisplayName)

	require.NoError(t, c.SoftDelete(ctx, item.ID))
	items, err := c.FetchAll(ctx, "o")
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.ErrorIs(t, c.SoftDelete(ctx, item.ID), contacts.ErrNotFound)

	_, ok := c.Get(item.ID)
	assert.True(t, ok)
	require.NoError(t, c.HardDelete(ctx, item.ID))
	_, ok = c.Get(item.ID)
	assert.False(t, ok)
}
