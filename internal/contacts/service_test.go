package contacts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrimmed(t *testing.T) {
	assert.Nil(t, trimmed(nil))
	v := "  Jane  "
	got := trimmed(&v)
	require.NotNil(t, got)
	assert.Equal(t, "Jane", *got)
	assert.Equal(t, "  Jane  ", v)
}

func TestServiceRequiresDB(t *testing.T) {
	svc := NewService(nil, nil)
	ctx := context.Background()

	_, err := svc.FetchAll(ctx, "550e8400-e29b-41d4-a716-446655440000")
	assert.Error(t, err)
	_, err = svc.Create(ctx, CreateRequest{OwnerID: "550e8400-e29b-41d4-a716-446655440000"})
	assert.Error(t, err)
	assert.Error(t, svc.SoftDelete(ctx, "550e8400-e29b-41d4-a716-446655440000"))
}
