package valkey

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/kychandar/evwire/config"
	"github.com/kychandar/evwire/services"
)

func newTestStore(t *testing.T) *ValkeyStore {
	t.Helper()

	// Start an in-memory Redis-compatible server
	mr := miniredis.RunT(t)

	cfg := &config.Config{}
	cfg.Valkey.Addr = []string{mr.Addr()}
	cfg.Valkey.DisableCache = true
	store, err := NewValkeyStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
		mr.Close()
	})
	return store
}

func doc(t *testing.T, d bson.D) []byte {
	t.Helper()
	b, err := bson.Marshal(d)
	require.NoError(t, err)
	return b
}

func TestValkeyStore_CreateAndListBinders(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	existed, err := store.CreateBinder(ctx, "users")
	require.NoError(t, err)
	assert.False(t, existed)

	existed, err = store.CreateBinder(ctx, "users")
	require.NoError(t, err)
	assert.True(t, existed)

	_, err = store.CreateBinder(ctx, "accounts")
	require.NoError(t, err)

	binders, err := store.ListBinders(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"accounts", "users"}, binders)
}

func TestValkeyStore_EmptyBinderList(t *testing.T) {
	store := newTestStore(t)
	binders, err := store.ListBinders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, binders)
}

func TestValkeyStore_Documents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.CreateBinder(ctx, "users")
	require.NoError(t, err)

	// binary content with NUL bytes must survive unchanged
	alice := doc(t, bson.D{{Key: "name", Value: "alice"}, {Key: "age", Value: int32(30)}})
	bob := doc(t, bson.D{{Key: "name", Value: "bob"}})
	require.NoError(t, store.Put(ctx, "users", "u2", bob))
	require.NoError(t, store.Put(ctx, "users", "u1", alice))

	got, err := store.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, alice, got)

	_, err = store.Get(ctx, "users", "missing")
	assert.ErrorIs(t, err, services.ErrNoSuchDocument)

	docs, err := store.Scan(ctx, "users")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "u1", docs[0].ID)
	assert.Equal(t, alice, docs[0].Data)
	assert.Equal(t, "u2", docs[1].ID)
}

func TestValkeyStore_UnknownBinder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.Put(ctx, "nope", "d", []byte{5, 0, 0, 0, 0}), services.ErrNoSuchBinder)
	_, err := store.Get(ctx, "nope", "d")
	assert.ErrorIs(t, err, services.ErrNoSuchBinder)
	_, err = store.Scan(ctx, "nope")
	assert.ErrorIs(t, err, services.ErrNoSuchBinder)
}

func TestValkeyStore_DurablePositions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, found, err := store.LoadPosition(ctx, "orders", "billing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.SavePosition(ctx, "orders", "billing", 41))
	require.NoError(t, store.SavePosition(ctx, "orders", "billing", 42))
	pos, found, err := store.LoadPosition(ctx, "orders", "billing")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(42), pos)

	_, found, err = store.LoadPosition(ctx, "audit", "billing")
	require.NoError(t, err)
	assert.False(t, found, "positions are scoped per channel")

	require.NoError(t, store.DeletePosition(ctx, "orders", "billing"))
	_, found, err = store.LoadPosition(ctx, "orders", "billing")
	require.NoError(t, err)
	assert.False(t, found)
}
