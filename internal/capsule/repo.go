package capsule

import (
	"context"
	"sort"
	"time"

	"basebox-backend/internal/kv"
)

// Repo 胶囊记录与用户索引的读写
type Repo struct {
	store kv.Store
}

func NewRepo(store kv.Store) *Repo {
	return &Repo{store: store}
}

// Load 读取记录并带出解锁通知标记
func (r *Repo) Load(ctx context.Context, id string) (*Capsule, bool, error) {
	var c Capsule
	ok, err := kv.GetJSON(ctx, r.store, kv.CapsuleKey(id), &c)
	if err != nil || !ok {
		return nil, false, err
	}
	if err := r.attachNotified(ctx, &c); err != nil {
		return nil, false, err
	}
	return &c, true, nil
}

func (r *Repo) attachNotified(ctx context.Context, c *Capsule) error {
	c.UnlockNotifiedAt = nil
	raw, ok, err := r.store.Get(ctx, kv.UnlockNotifiedKey(c.ID))
	if err != nil || !ok {
		return err
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return err
	}
	c.UnlockNotifiedAt = &at
	return nil
}

// markNotified 只写标记 key，不改胶囊记录
func (r *Repo) markNotified(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.store.SetNX(ctx, kv.UnlockNotifiedKey(id), at.UTC().Format(time.RFC3339Nano), 0)
}

func (r *Repo) Save(ctx context.Context, c *Capsule) error {
	return kv.SetJSON(ctx, r.store, kv.CapsuleKey(c.ID), c, 0)
}

// Reserve 仅在 id 未被占用时写入
func (r *Repo) Reserve(ctx context.Context, c *Capsule) (bool, error) {
	return kv.SetNXJSON(ctx, r.store, kv.CapsuleKey(c.ID), c, 0)
}

func (r *Repo) Remove(ctx context.Context, c *Capsule) error {
	if _, err := r.store.Del(ctx, kv.CapsuleKey(c.ID), kv.RevealGuardKey(c.ID), kv.UnlockNotifiedKey(c.ID)); err != nil {
		return err
	}
	_, err := r.store.SRem(ctx, kv.UserCapsulesKey(c.FID), c.ID)
	return err
}

func (r *Repo) Index(ctx context.Context, c *Capsule) error {
	_, err := r.store.SAdd(ctx, kv.UserCapsulesKey(c.FID), c.ID)
	return err
}

// ByOwner 索引里存在但记录已丢失的 id 直接跳过
func (r *Repo) ByOwner(ctx context.Context, fid int64) ([]*Capsule, error) {
	ids, err := r.store.SMembers(ctx, kv.UserCapsulesKey(fid))
	if err != nil {
		return nil, err
	}
	return r.loadAll(ctx, ids)
}

// All 全量扫描，只给后台和定时任务用
func (r *Repo) All(ctx context.Context) ([]*Capsule, error) {
	keys, err := r.store.Keys(ctx, kv.CapsulePrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		if id, ok := kv.CapsuleIDFromKey(key); ok {
			ids = append(ids, id)
		}
	}
	return r.loadAll(ctx, ids)
}

func (r *Repo) loadAll(ctx context.Context, ids []string) ([]*Capsule, error) {
	capsules := make([]*Capsule, 0, len(ids))
	for _, id := range ids {
		c, ok, err := r.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			capsules = append(capsules, c)
		}
	}
	SortNewestFirst(capsules)
	return capsules, nil
}

// SortNewestFirst 按创建时间倒序
func SortNewestFirst(capsules []*Capsule) {
	sort.SliceStable(capsules, func(i, j int) bool {
		if capsules[i].CreatedAt.Equal(capsules[j].CreatedAt) {
			return capsules[i].ID > capsules[j].ID
		}
		return capsules[i].CreatedAt.After(capsules[j].CreatedAt)
	})
}

func (r *Repo) claimReveal(ctx context.Context, id string) (bool, error) {
	return r.store.SetNX(ctx, kv.RevealGuardKey(id), "1", 0)
}

func (r *Repo) releaseReveal(ctx context.Context, id string) error {
	_, err := r.store.Del(ctx, kv.RevealGuardKey(id))
	return err
}
