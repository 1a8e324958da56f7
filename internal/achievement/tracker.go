package achievement

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"basebox-backend/internal/capsule"
	"basebox-backend/internal/common"
	"basebox-backend/internal/kv"
	"basebox-backend/internal/streak"
)

// Tracker 监听胶囊、打卡和邀请事件，更新统计并解锁成就
type Tracker struct {
	store kv.Store
}

var (
	_ capsule.Events = (*Tracker)(nil)
	_ streak.Events  = (*Tracker)(nil)
)

func NewTracker(store kv.Store) *Tracker {
	return &Tracker{store: store}
}

// user:{fid}:stats 是有序集合，每个统计项一个成员，分数即数值
const (
	statCapsulesCreated  = "capsulesCreated"
	statCapsulesRevealed = "capsulesRevealed"
	statImagesAttached   = "imagesAttached"
	statLongestLockDays  = "longestLockDays"
	statLongestStreak    = "longestStreak"
	statReferrals        = "referrals"
)

func (t *Tracker) Stats(ctx context.Context, fid int64) (Stats, error) {
	members, err := t.store.ZRevRange(ctx, kv.UserStatsKey(fid), 0, -1)
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	for _, m := range members {
		switch m.Member {
		case statCapsulesCreated:
			st.CapsulesCreated = int(m.Score)
		case statCapsulesRevealed:
			st.CapsulesRevealed = int(m.Score)
		case statImagesAttached:
			st.ImagesAttached = int(m.Score)
		case statLongestLockDays:
			st.LongestLockDays = m.Score
		case statLongestStreak:
			st.LongestStreak = int(m.Score)
		case statReferrals:
			st.Referrals = int(m.Score)
		}
	}
	return st, nil
}

func (t *Tracker) incr(ctx context.Context, fid int64, stat string) error {
	if _, err := t.store.ZIncrBy(ctx, kv.UserStatsKey(fid), stat, 1); err != nil {
		return fmt.Errorf("incr %s: %w", stat, err)
	}
	return nil
}

// raise 只增不减，用于最大值类的统计
func (t *Tracker) raise(ctx context.Context, fid int64, stat string, v float64) error {
	if err := t.store.ZAddMax(ctx, kv.UserStatsKey(fid), stat, v); err != nil {
		return fmt.Errorf("raise %s: %w", stat, err)
	}
	return nil
}

// check 统计写入后重新读取，判断成就
func (t *Tracker) check(ctx context.Context, fid int64) ([]string, error) {
	st, err := t.Stats(ctx, fid)
	if err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}
	return t.unlock(ctx, fid, Earned(st))
}

// unlock SAdd 保证重复解锁无副作用，只返回本次新增的
func (t *Tracker) unlock(ctx context.Context, fid int64, ids []string) ([]string, error) {
	unlocked := make([]string, 0)
	for _, id := range ids {
		added, err := t.store.SAdd(ctx, kv.UserAchievementsKey(fid), id)
		if err != nil {
			return unlocked, fmt.Errorf("unlock %s: %w", id, err)
		}
		if added > 0 {
			unlocked = append(unlocked, id)
		}
	}
	if len(unlocked) > 0 {
		common.WithFields(logrus.Fields{"fid": fid, "achievements": unlocked}).Info("achievements unlocked")
	}
	return unlocked, nil
}

func (t *Tracker) OnCapsuleCreated(ctx context.Context, c *capsule.Capsule) ([]string, error) {
	if err := t.incr(ctx, c.FID, statCapsulesCreated); err != nil {
		return nil, err
	}
	if c.HasImage() {
		if err := t.incr(ctx, c.FID, statImagesAttached); err != nil {
			return nil, err
		}
	}
	if err := t.raise(ctx, c.FID, statLongestLockDays, c.LockDays()); err != nil {
		return nil, err
	}
	return t.check(ctx, c.FID)
}

func (t *Tracker) OnCapsuleRevealed(ctx context.Context, c *capsule.Capsule) ([]string, error) {
	if err := t.incr(ctx, c.FID, statCapsulesRevealed); err != nil {
		return nil, err
	}
	return t.check(ctx, c.FID)
}

func (t *Tracker) OnStreakClaimed(ctx context.Context, p *streak.Participation) ([]string, error) {
	if err := t.raise(ctx, p.FID, statLongestStreak, float64(p.LongestStreak)); err != nil {
		return nil, err
	}
	return t.check(ctx, p.FID)
}

// OnReferral total 为邀请人当前的邀请总数
func (t *Tracker) OnReferral(ctx context.Context, referrer int64, total int) ([]string, error) {
	if err := t.raise(ctx, referrer, statReferrals, float64(total)); err != nil {
		return nil, err
	}
	return t.check(ctx, referrer)
}

// Item 目录项加上解锁状态
type Item struct {
	Definition
	Unlocked bool `json:"unlocked"`
}

type Summary struct {
	FID          int64  `json:"fid"`
	Achievements []Item `json:"achievements"`
	Unlocked     int    `json:"unlocked"`
	Total        int    `json:"total"`
	Stats        Stats  `json:"stats"`
}

func (t *Tracker) Summary(ctx context.Context, fid int64) (*Summary, error) {
	if fid <= 0 {
		return nil, common.NewInvalid("fid is required")
	}
	ids, err := t.store.SMembers(ctx, kv.UserAchievementsKey(fid))
	if err != nil {
		return nil, common.NewInternal("Failed to fetch achievements", err)
	}
	st, err := t.Stats(ctx, fid)
	if err != nil {
		return nil, common.NewInternal("Failed to fetch achievements", err)
	}

	have := make(map[string]bool, len(ids))
	for _, id := range ids {
		have[id] = true
	}
	sum := &Summary{FID: fid, Stats: st, Total: len(Catalog), Achievements: make([]Item, 0, len(Catalog))}
	for _, def := range Catalog {
		item := Item{Definition: def, Unlocked: have[def.ID]}
		if item.Unlocked {
			sum.Unlocked++
		}
		sum.Achievements = append(sum.Achievements, item)
	}
	return sum, nil
}
