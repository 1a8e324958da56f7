// Package kv 定义键值存储接口，胶囊、连续打卡、成就等数据都通过它持久化。
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ZMember 有序集合成员
type ZMember struct {
	Member string
	Score  float64
}

// Store 键值存储，单个操作原子，多步操作需要调用方自己用 SetNX 做守卫
type Store interface {
	Ping(ctx context.Context) error

	Get(ctx context.Context, key string) (string, bool, error)
	// Set ttl 为 0 表示不过期
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX 只在 key 不存在时写入，返回是否写入成功
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	// Keys 按前缀列出 key，只用于后台与定时任务
	Keys(ctx context.Context, prefix string) ([]string, error)

	SAdd(ctx context.Context, key string, members ...string) (int64, error)
	SRem(ctx context.Context, key string, members ...string) (int64, error)
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)

	ZAdd(ctx context.Context, key, member string, score float64) error
	// ZRevRange 按分数从高到低，start/stop 为闭区间，stop 为 -1 表示到末尾
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]ZMember, error)
	ZRevRank(ctx context.Context, key, member string) (int64, bool, error)
	ZScore(ctx context.Context, key, member string) (float64, bool, error)
	ZCard(ctx context.Context, key string) (int64, error)
	// ZIncrBy 原子地给成员加分，成员不存在时从 0 开始，返回新分数
	ZIncrBy(ctx context.Context, key, member string, delta float64) (float64, error)
	// ZAddMax 只在新分数更大(或成员不存在)时写入
	ZAddMax(ctx context.Context, key, member string, score float64) error

	Close() error
}

// GetJSON 读取并反序列化，key 不存在时返回 false
func GetJSON(ctx context.Context, s Store, key string, v interface{}) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON 序列化后写入
func SetJSON(ctx context.Context, s Store, key string, v interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, string(raw), ttl)
}

// SetNXJSON 序列化后仅在不存在时写入
func SetNXJSON(ctx context.Context, s Store, key string, v interface{}, ttl time.Duration) (bool, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	return s.SetNX(ctx, key, string(raw), ttl)
}

var ErrUnsupportedURL = errors.New("unsupported store url")
