// Package kvtest 测试辅助：基于 miniredis 的存储，以及各引擎共用的一致性用例。
package kvtest

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"basebox-backend/internal/kv"
)

// NewRedis 启动一个 miniredis，测试结束自动关闭
func NewRedis(t testing.TB) (*kv.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := kv.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { store.Close() })
	return store, mr
}

// Factory 返回一个空存储以及推进时间的方法
type Factory func(t *testing.T) (kv.Store, func(time.Duration))

// RunConformance 所有引擎都必须通过的行为用例
func RunConformance(t *testing.T, factory Factory) {
	ctx := context.Background()

	t.Run("GetSetDel", func(t *testing.T) {
		s, _ := factory(t)
		_, ok, err := s.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.Set(ctx, "a", "1", 0))
		require.NoError(t, s.Set(ctx, "a", "2", 0))
		val, ok, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "2", val)

		n, err := s.Del(ctx, "a", "missing")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		_, ok, err = s.Get(ctx, "a")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("SetNX", func(t *testing.T) {
		s, _ := factory(t)
		stored, err := s.SetNX(ctx, "guard", "x", 0)
		require.NoError(t, err)
		assert.True(t, stored)

		stored, err = s.SetNX(ctx, "guard", "y", 0)
		require.NoError(t, err)
		assert.False(t, stored)

		val, _, err := s.Get(ctx, "guard")
		require.NoError(t, err)
		assert.Equal(t, "x", val)
	})

	t.Run("TTL", func(t *testing.T) {
		s, advance := factory(t)
		require.NoError(t, s.Set(ctx, "session", "1", time.Minute))
		stored, err := s.SetNX(ctx, "guard", "1", time.Minute)
		require.NoError(t, err)
		require.True(t, stored)

		advance(2 * time.Minute)

		_, ok, err := s.Get(ctx, "session")
		require.NoError(t, err)
		assert.False(t, ok, "过期后不可见")

		stored, err = s.SetNX(ctx, "guard", "2", time.Minute)
		require.NoError(t, err)
		assert.True(t, stored, "过期的 key 可以重新占用")
	})

	t.Run("Keys", func(t *testing.T) {
		s, _ := factory(t)
		require.NoError(t, s.Set(ctx, "capsule:1-1", "{}", 0))
		require.NoError(t, s.Set(ctx, "capsule:2-2", "{}", 0))
		require.NoError(t, s.Set(ctx, "user:1:stats", "{}", 0))

		keys, err := s.Keys(ctx, "capsule:")
		require.NoError(t, err)
		sort.Strings(keys)
		assert.Equal(t, []string{"capsule:1-1", "capsule:2-2"}, keys)
	})

	t.Run("Sets", func(t *testing.T) {
		s, _ := factory(t)
		added, err := s.SAdd(ctx, "set", "a", "b")
		require.NoError(t, err)
		assert.Equal(t, int64(2), added)

		added, err = s.SAdd(ctx, "set", "b", "c")
		require.NoError(t, err)
		assert.Equal(t, int64(1), added)

		ok, err := s.SIsMember(ctx, "set", "c")
		require.NoError(t, err)
		assert.True(t, ok)

		removed, err := s.SRem(ctx, "set", "a", "zzz")
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)

		members, err := s.SMembers(ctx, "set")
		require.NoError(t, err)
		sort.Strings(members)
		assert.Equal(t, []string{"b", "c"}, members)

		members, err = s.SMembers(ctx, "empty")
		require.NoError(t, err)
		assert.Empty(t, members)
	})

	t.Run("SortedSets", func(t *testing.T) {
		s, _ := factory(t)
		require.NoError(t, s.ZAdd(ctx, "lb", "1", 10))
		require.NoError(t, s.ZAdd(ctx, "lb", "2", 30))
		require.NoError(t, s.ZAdd(ctx, "lb", "3", 20))
		require.NoError(t, s.ZAdd(ctx, "lb", "1", 40))

		top, err := s.ZRevRange(ctx, "lb", 0, 1)
		require.NoError(t, err)
		assert.Equal(t, []kv.ZMember{{Member: "1", Score: 40}, {Member: "2", Score: 30}}, top)

		all, err := s.ZRevRange(ctx, "lb", 0, -1)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		rank, ok, err := s.ZRevRank(ctx, "lb", "3")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(2), rank)

		_, ok, err = s.ZRevRank(ctx, "lb", "404")
		require.NoError(t, err)
		assert.False(t, ok)

		score, ok, err := s.ZScore(ctx, "lb", "2")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, float64(30), score)

		card, err := s.ZCard(ctx, "lb")
		require.NoError(t, err)
		assert.Equal(t, int64(3), card)
	})

	t.Run("AtomicScores", func(t *testing.T) {
		s, _ := factory(t)
		score, err := s.ZIncrBy(ctx, "stats", "created", 1)
		require.NoError(t, err)
		assert.Equal(t, float64(1), score)
		score, err = s.ZIncrBy(ctx, "stats", "created", 2)
		require.NoError(t, err)
		assert.Equal(t, float64(3), score)

		require.NoError(t, s.ZAddMax(ctx, "stats", "longest", 7))
		require.NoError(t, s.ZAddMax(ctx, "stats", "longest", 3))
		got, _, err := s.ZScore(ctx, "stats", "longest")
		require.NoError(t, err)
		assert.Equal(t, float64(7), got, "较小的分数不覆盖")
		require.NoError(t, s.ZAddMax(ctx, "stats", "longest", 9))
		got, _, err = s.ZScore(ctx, "stats", "longest")
		require.NoError(t, err)
		assert.Equal(t, float64(9), got)
	})

	t.Run("ConcurrentIncr", func(t *testing.T) {
		s, _ := factory(t)
		const writers = 20
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.ZIncrBy(ctx, "counter", "n", 1)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		got, ok, err := s.ZScore(ctx, "counter", "n")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, float64(writers), got)
	})
}
