package contacts_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/crmsync/internal/contacts"
)

func setupContactsIntegrationTest(t *testing.T) *contacts.Service {
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
	return contacts.NewService(nil, pool)
}

func TestIntegrationContactLifecycle(t *testing.T) {
	svc := setupContactsIntegrationTest(t)
	ctx := context.Background()
	owner := uuid.NewString()

	created, err := svc.Create(ctx, contacts.CreateRequest{OwnerID: owner, DisplayName: " John Doe ", Email: "john@x.com"})
	require.NoError(t, err)
	assert.Equal(t, "John Doe", created.DisplayName)

	name := "Jon Doe"
	updated, err := svc.Update(ctx, created.ID, contacts.UpdateRequest{DisplayName: &name})
	require.NoError(t, err)
	assert.Equal(t, "Jon Doe", updated.DisplayName)
	assert.Equal(t, "john@x.com", updated.Email)
	assert.False(t, updated.UpdatedAt.Before(created.UpdatedAt))

	items, err := svc.FetchAll(ctx, owner)
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, svc.SoftDelete(ctx, created.ID))
	items, err = svc.FetchAll(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = svc.GetByID(ctx, created.ID)
	assert.True(t, errors.Is(err, contacts.ErrNotFound))

	require.NoError(t, svc.HardDelete(ctx, created.ID))
	assert.True(t, errors.Is(svc.HardDelete(ctx, created.ID), contacts.ErrNotFound))
}
