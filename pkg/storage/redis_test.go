package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisAuthnRequestStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisAuthnRequestStoreWithClient(client), mr
}

func TestRedisAuthnRequestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t)

	pending := newPending(t)
	stored, err := store.Create(ctx, pending)
	require.NoError(t, err)

	loaded, err := store.FindByID(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.ID, loaded.ID)
	assert.Equal(t, "https://sp.example.com/acs", loaded.ACSLocation)

	_, err = store.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisAuthnRequestStoreConsumeByHashOnce(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t)

	pending := newPending(t).Complete("user-1").AttachHash()
	stored, err := store.Create(ctx, pending)
	require.NoError(t, err)

	consumed, err := store.ConsumeByHash(ctx, stored.Hash)
	require.NoError(t, err)
	assert.Equal(t, "user-1", consumed.UserID)
	assert.Empty(t, consumed.Hash)

	_, err = store.ConsumeByHash(ctx, stored.Hash)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisAuthnRequestStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)

	pending := newPending(t).AttachHash()
	stored, err := store.Create(ctx, pending)
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)

	_, err = store.ConsumeByHash(ctx, stored.Hash)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.FindByID(ctx, stored.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisAuthnRequestStoreRememberMeOutlivesExpiry(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)

	pending := newPending(t).Complete("user-1").WithRememberMe("opaque")
	stored, err := store.Create(ctx, pending)
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)

	loaded, err := store.FindByID(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", loaded.UserID)
}

func TestRedisAuthnRequestStoreUpdate(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t)

	stored, err := store.Create(ctx, newPending(t))
	require.NoError(t, err)

	require.NoError(t, store.Update(ctx, stored.Complete("user-2")))
	loaded, err := store.FindByID(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-2", loaded.UserID)

	err = store.Update(ctx, newPending(t))
	assert.ErrorIs(t, err, ErrNotFound)
}
