package wsbot

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStoreUnavailable = errors.New("store unavailable")

// memPageStore is an in-memory PageStore that can be made to fail
type memPageStore struct {
	mu      sync.Mutex
	values  map[string]string
	fail    bool
	upserts int
	selects int
}

func newMemPageStore() *memPageStore {
	return &memPageStore{values: map[string]string{}}
}

func (*memPageStore) Name() string {
	return "memory"
}

func (m *memPageStore) setFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

func (m *memPageStore) Upsert(_ context.Context, key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.fail {
		return errStoreUnavailable
	}
	m.values[key] = value
	return nil
}

func (m *memPageStore) SelectByKey(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selects++
	if m.fail {
		return "", false, errStoreUnavailable
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func testCacheConfig() CacheConfig {
	return CacheConfig{
		LocalTTL:      time.Hour,
		LocalSize:     100,
		RemoteTimeout: time.Second,
		BreakerTrip:   3,
		BreakerReset:  time.Minute,
	}
}

func testCachedPage() CachedPage {
	return CachedPage{
		UserID:     "U1",
		Title:      "Sura 2, The Heifer",
		Footer:     "Quran: The Final Testament",
		TotalPages: 3,
		Pages:      []string{"one", "two", "three"},
	}
}

func TestPageCache_Unconfigured(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cache := NewPageCache(nil, testCacheConfig(), nil)
	page := testCachedPage()

	err := cache.Put(ctx, "i1", page)
	var fallback *TierFallbackError
	require.ErrorAs(t, err, &fallback)
	assert.Equal(t, fallbackReasonUnconfigured, fallback.Reason)

	got, ok := cache.Get(ctx, "i1")
	require.True(t, ok)
	assert.Equal(t, page, got)

	_, ok = cache.Get(ctx, "missing")
	assert.False(t, ok)

	stats := cache.Stats()
	assert.Equal(t, cacheBackendNone, stats.Backend)
	assert.Empty(t, stats.BreakerState)
	assert.Equal(t, 1, stats.LocalEntries)
}

func TestPageCache_RemoteRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemPageStore()
	cache := NewPageCache(store, testCacheConfig(), nil)
	page := testCachedPage()

	require.NoError(t, cache.Put(ctx, "i1", page))
	assert.Contains(t, store.values["i1"], `"total_pages":3`)
	assert.Contains(t, store.values["i1"], `"content":["one","two","three"]`)

	got, ok := cache.Get(ctx, "i1")
	require.True(t, ok)
	assert.Equal(t, page, got)

	stats := cache.Stats()
	assert.Equal(t, "memory", stats.Backend)
	assert.Equal(t, "closed", stats.BreakerState)
	assert.Equal(t, 0, stats.LocalEntries)
}

func TestPageCache_RemoteFailureFallsBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemPageStore()
	store.setFail(true)
	cache := NewPageCache(store, testCacheConfig(), nil)
	page := testCachedPage()

	err := cache.Put(ctx, "i1", page)
	var fallback *TierFallbackError
	require.ErrorAs(t, err, &fallback)
	assert.Equal(t, fallbackReasonRemoteError, fallback.Reason)
	assert.ErrorIs(t, err, errStoreUnavailable)

	got, ok := cache.Get(ctx, "i1")
	require.True(t, ok)
	assert.Equal(t, page, got)
}

func TestPageCache_RemoteMissChecksLocal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemPageStore()
	store.setFail(true)
	cache := NewPageCache(store, testCacheConfig(), nil)
	page := testCachedPage()

	require.Error(t, cache.Put(ctx, "i1", page))

	// store recovered, but never received the write
	store.setFail(false)
	got, ok := cache.Get(ctx, "i1")
	require.True(t, ok)
	assert.Equal(t, page, got)
}

func TestPageCache_BreakerOpens(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemPageStore()
	store.setFail(true)
	cfg := testCacheConfig()
	cache := NewPageCache(store, cfg, nil)
	page := testCachedPage()

	for i := 0; i < int(cfg.BreakerTrip); i++ {
		require.Error(t, cache.Put(ctx, "i1", page))
	}
	assert.Equal(t, int(cfg.BreakerTrip), store.upserts)
	assert.Equal(t, "open", cache.Stats().BreakerState)

	err := cache.Put(ctx, "i2", page)
	var fallback *TierFallbackError
	require.ErrorAs(t, err, &fallback)
	assert.Equal(t, fallbackReasonBreakerOpen, fallback.Reason)
	assert.Equal(t, int(cfg.BreakerTrip), store.upserts)

	got, ok := cache.Get(ctx, "i2")
	require.True(t, ok)
	assert.Equal(t, page, got)
	assert.Equal(t, 0, store.selects)
}

func TestPageCache_InvalidPage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemPageStore()
	cache := NewPageCache(store, testCacheConfig(), nil)

	testCases := []struct {
		name string
		page CachedPage
	}{
		{
			name: "mismatched total",
			page: CachedPage{UserID: "U1", TotalPages: 2, Pages: []string{"one"}},
		},
		{
			name: "no pages",
			page: CachedPage{UserID: "U1"},
		},
	}
	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				err := cache.Put(ctx, tc.name, tc.page)
				require.ErrorIs(t, err, ErrInvalidCachedPage)
				var fallback *TierFallbackError
				assert.False(t, errors.As(err, &fallback))

				_, ok := cache.Get(ctx, tc.name)
				assert.False(t, ok)
			},
		)
	}
	assert.Equal(t, 0, store.upserts)
}

func TestPageCache_CorruptRemoteValue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemPageStore()
	cache := NewPageCache(store, testCacheConfig(), nil)

	store.values["i1"] = "{not json"
	_, ok := cache.Get(ctx, "i1")
	assert.False(t, ok)
}

func TestPageCache_LocalExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := testCacheConfig()
	cfg.LocalTTL = 50 * time.Millisecond
	cache := NewPageCache(nil, cfg, nil)

	_ = cache.Put(ctx, "i1", testCachedPage())
	_, ok := cache.Get(ctx, "i1")
	require.True(t, ok)

	time.Sleep(150 * time.Millisecond)
	_, ok = cache.Get(ctx, "i1")
	assert.False(t, ok)
}

func TestGormPageStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db, err := CreateDB(ctx, dbTypeSQLite, filepath.Join(t.TempDir(), "cache.sqlite3"))
	require.NoError(t, err)

	store := newGormPageStore(newDatabase(db, false))
	assert.Equal(t, cacheBackendDatabase, store.Name())

	_, found, err := store.SelectByKey(ctx, "i1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Upsert(ctx, "i1", "first"))
	value, found, err := store.SelectByKey(ctx, "i1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "first", value)

	require.NoError(t, store.Upsert(ctx, "i1", "second"))
	value, found, err = store.SelectByKey(ctx, "i1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "second", value)

	var count int64
	require.NoError(t, db.Model(&DiscordCache{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	cache := NewPageCache(store, testCacheConfig(), nil)
	page := testCachedPage()
	require.NoError(t, cache.Put(ctx, "i2", page))
	got, ok := cache.Get(ctx, "i2")
	require.True(t, ok)
	assert.Equal(t, page, got)
}

func TestGormPageStore_SelectExactKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db, err := CreateDB(ctx, dbTypeSQLite, filepath.Join(t.TempDir(), "cache.sqlite3"))
	require.NoError(t, err)

	store := newGormPageStore(newDatabase(db, false))
	require.NoError(t, store.Upsert(ctx, "i1", "first"))

	testCases := []struct {
		name  string
		key   string
		found bool
	}{
		{"stored key", "i1", true},
		{"empty key", "", false},
		{"other key", "i2", false},
	}
	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				value, found, err := store.SelectByKey(ctx, tc.key)
				require.NoError(t, err)
				assert.Equal(t, tc.found, found)
				if tc.found {
					assert.Equal(t, "first", value)
				} else {
					assert.Empty(t, value)
				}
			},
		)
	}
}

func TestRedisPageStore_Unreachable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newRedisPageStore(
		&redis.Options{
			Addr:        "127.0.0.1:1",
			DialTimeout: 100 * time.Millisecond,
			MaxRetries:  -1,
		},
		DefaultCacheRedisPrefix,
		DefaultCacheRedisTTL,
	)
	t.Cleanup(func() { _ = store.Close() })
	assert.Equal(t, cacheBackendRedis, store.Name())

	cache := NewPageCache(store, testCacheConfig(), nil)
	page := testCachedPage()

	err := cache.Put(ctx, "i1", page)
	var fallback *TierFallbackError
	require.ErrorAs(t, err, &fallback)
	assert.Equal(t, fallbackReasonRemoteError, fallback.Reason)

	got, ok := cache.Get(ctx, "i1")
	require.True(t, ok)
	assert.Equal(t, page, got)
}

func TestNewRedisPageStoreFromURL(t *testing.T) {
	t.Parallel()
	store, err := newRedisPageStoreFromURL("redis://localhost:6379/2", "p:", time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	assert.Equal(t, "p:", store.prefix)
	assert.Equal(t, 2, store.client.Options().DB)

	_, err = newRedisPageStoreFromURL("http://localhost", "p:", time.Minute)
	require.Error(t, err)
}
