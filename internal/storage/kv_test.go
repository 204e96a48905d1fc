package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runKVContract exercises the behaviour every backend must share
func runKVContract(t *testing.T, kv KV) {
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		v, ok, err := kv.Get(ctx, "absent-"+uuid.NewString())
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, v)
	})

	t.Run("set and get", func(t *testing.T) {
		key := "k-" + uuid.NewString()
		require.NoError(t, Set(ctx, kv, key, []byte("v1")))

		v, ok, err := kv.Get(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("v1"), v)

		require.NoError(t, Set(ctx, kv, key, []byte("v2")))
		v, _, err = kv.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), v)
	})

	t.Run("set many writes all keys", func(t *testing.T) {
		a, b := "a-"+uuid.NewString(), "b-"+uuid.NewString()
		require.NoError(t, kv.SetMany(ctx, map[string][]byte{a: []byte("1"), b: []byte("2")}))

		for key, want := range map[string]string{a: "1", b: "2"} {
			v, ok, err := kv.Get(ctx, key)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, want, string(v))
		}
	})

	t.Run("delete", func(t *testing.T) {
		key := "d-" + uuid.NewString()
		require.NoError(t, Set(ctx, kv, key, []byte("x")))
		require.NoError(t, kv.Delete(ctx, key, "never-existed-"+uuid.NewString()))

		ok, err := Has(ctx, kv, key)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		require.NoError(t, kv.SetMany(ctx, nil))
		require.NoError(t, kv.Delete(ctx))
	})
}

func TestMemory(t *testing.T) {
	runKVContract(t, NewMemory())
}

func TestMemory_CopiesValues(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	in := []byte("abc")
	require.NoError(t, Set(ctx, m, "k", in))
	in[0] = 'z'

	out, _, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(out))

	out[1] = 'z'
	again, _, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}

func TestMemory_Closed(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, Set(ctx, m, "k", []byte("v")))
	m.Close()

	_, _, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, Set(ctx, m, "k", []byte("v")), ErrClosed)
	assert.ErrorIs(t, m.Delete(ctx, "k"), ErrClosed)
}

func TestMemory_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := NewMemory().Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set")
	}

	ctx := context.Background()
	store, err := New(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Migrate(ctx)
	require.NoError(t, err)

	again, err := store.Migrate(ctx)
	require.NoError(t, err)
	assert.Empty(t, again, "migrations must not be re-applied")

	runKVContract(t, store)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx := context.Background()
	store, err := NewRedisStore(ctx, RedisOptions{
		Addr:   addr,
		Prefix: "wallet-test:" + uuid.NewString() + ":",
		TTL:    time.Minute,
	})
	require.NoError(t, err)
	defer store.Close()

	runKVContract(t, store)

	t.Run("entries expire", func(t *testing.T) {
		short := NewRedisStoreFromClient(store.client, store.prefix, 50*time.Millisecond)
		require.NoError(t, Set(ctx, short, "ephemeral", []byte("x")))

		require.Eventually(t, func() bool {
			ok, err := Has(ctx, short, "ephemeral")
			return err == nil && !ok
		}, 2*time.Second, 20*time.Millisecond)
	})
}

func TestMigrationFiles(t *testing.T) {
	files, err := migrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Equal(t, "0001_kv_records.up.sql", files[0])
}

func TestNewRedisStore_RequiresAddr(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis address is required")
}
