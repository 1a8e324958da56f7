package db

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"basebox-backend/internal/common"
	"basebox-backend/internal/kv"
	"basebox-backend/internal/kv/kvtest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func openTestStore(t *testing.T) (*SQLStore, *fakeClock) {
	t.Helper()
	gdb, err := Open(common.StoreSQLite, filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	clock := &fakeClock{now: time.Date(2025, 11, 1, 12, 0, 0, 0, time.UTC)}
	store := NewSQLStore(gdb).WithClock(clock.Now)
	t.Cleanup(func() { store.Close() })
	return store, clock
}

func TestSQLStoreConformance(t *testing.T) {
	kvtest.RunConformance(t, func(t *testing.T) (kv.Store, func(time.Duration)) {
		store, clock := openTestStore(t)
		return store, clock.Advance
	})
}

// 测试数据库连接
func TestOpenRejectsUnknownEngine(t *testing.T) {
	_, err := Open("oracle", "whatever")
	assert.Error(t, err)
}

func TestSQLStorePing(t *testing.T) {
	store, _ := openTestStore(t)
	assert.NoError(t, store.Ping(context.Background()))
}

// 大字段：内联图片按 base64 存储
func TestSQLStoreLargeValue(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	big := make([]byte, 2*1024*1024)
	for i := range big {
		big[i] = 'a' + byte(i%26)
	}
	require.NoError(t, store.Set(ctx, "capsule:1-1", string(big), 0))

	got, ok, err := store.Get(ctx, "capsule:1-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, len(big), len(got))
}

// LIKE 通配符需要转义
func TestSQLStoreKeysEscapesWildcards(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a_b:1", "x", 0))
	require.NoError(t, store.Set(ctx, "axb:1", "x", 0))
	_, err := store.SAdd(ctx, "a_b:set", "m")
	require.NoError(t, err)

	keys, err := store.Keys(ctx, "a_b:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a_b:1", "a_b:set"}, keys)
}

// 删除集合和有序集合
func TestSQLStoreDelAcrossTypes(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	_, err := store.SAdd(ctx, "user:1:capsules", "1-1", "1-2")
	require.NoError(t, err)
	require.NoError(t, store.ZAdd(ctx, "season:s:leaderboard", "1", 10))

	n, err := store.Del(ctx, "user:1:capsules", "season:s:leaderboard", "nothing")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	members, err := store.SMembers(ctx, "user:1:capsules")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestTableNames(t *testing.T) {
	assert.Equal(t, "kv_strings", KVString{}.TableName())
	assert.Equal(t, "kv_set_members", KVSetMember{}.TableName())
	assert.Equal(t, "kv_zset_members", KVZSetMember{}.TableName())
}
