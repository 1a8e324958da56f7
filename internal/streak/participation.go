// Package streak 每日打卡：连续天数、经验值、里程碑徽章和赛季排行榜。
package streak

import (
	"errors"
	"time"
)

// ErrStaleDay 天序号不晚于上次打卡
var ErrStaleDay = errors.New("claim day is not after the last claimed day")

// Participation 用户在某个赛季的进度，首次打卡时创建
type Participation struct {
	FID                int64     `json:"fid"`
	SeasonID           string    `json:"seasonId"`
	TotalXP            int       `json:"totalXp"`
	CurrentStreak      int       `json:"currentStreak"`
	LongestStreak      int       `json:"longestStreak"`
	FirstSuccessDayIdx int       `json:"firstSuccessDayIdx"`
	LastClaimedDayIdx  int       `json:"lastClaimedDayIdx"`
	Badges             []int     `json:"badges"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

func (p *Participation) HasBadge(milestone int) bool {
	for _, b := range p.Badges {
		if b == milestone {
			return true
		}
	}
	return false
}

// Advance 计算一次成功打卡后的进度，prev 为 nil 表示首次打卡。
// 只有当天连续天数恰好等于里程碑时才发徽章，跳过的不补发。
func Advance(prev *Participation, fid int64, seasonID string, dayIdx, xp int, milestones []int, now time.Time) (*Participation, []int, error) {
	var next Participation
	if prev == nil {
		next = Participation{
			FID:                fid,
			SeasonID:           seasonID,
			CurrentStreak:      1,
			FirstSuccessDayIdx: dayIdx,
			Badges:             []int{},
		}
	} else {
		if dayIdx <= prev.LastClaimedDayIdx {
			return nil, nil, ErrStaleDay
		}
		next = *prev
		next.Badges = append([]int{}, prev.Badges...)
		if dayIdx == prev.LastClaimedDayIdx+1 {
			next.CurrentStreak++
		} else {
			next.CurrentStreak = 1
		}
	}

	next.LastClaimedDayIdx = dayIdx
	next.TotalXP += xp
	if next.CurrentStreak > next.LongestStreak {
		next.LongestStreak = next.CurrentStreak
	}
	next.UpdatedAt = now

	granted := []int{}
	for _, m := range milestones {
		if next.CurrentStreak == m && !next.HasBadge(m) {
			next.Badges = append(next.Badges, m)
			granted = append(granted, m)
		}
	}
	return &next, granted, nil
}
