package legacy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"basebox-backend/internal/common"
	"basebox-backend/internal/kv"
	"basebox-backend/internal/season"
	"basebox-backend/internal/streak"
)

// BuildParticipation 按日期重放旧的打卡记录。
// 同一天多条只算一次，赛季外的记录丢弃；徽章取重放中恰好达成的和旧表里的并集。
func BuildParticipation(fid int64, claims []ClaimRow, badges []int, sn season.Season, xpPerClaim int) (*streak.Participation, error) {
	sorted := append([]ClaimRow(nil), claims...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ClaimDate.Before(sorted[j].ClaimDate) })

	var p *streak.Participation
	for _, c := range sorted {
		if c.ClaimDate.Before(sn.Start) {
			continue
		}
		dayIdx := sn.DayIndexAt(c.ClaimDate)
		if sn.Ended(dayIdx) {
			continue
		}
		if p != nil && dayIdx <= p.LastClaimedDayIdx {
			continue
		}
		xp := c.Points
		if xp <= 0 {
			xp = xpPerClaim
		}
		next, _, err := streak.Advance(p, fid, sn.ID, dayIdx, xp, common.StreakMilestones, c.ClaimDate.UTC())
		if err != nil {
			return nil, err
		}
		p = next
	}
	if p == nil {
		return nil, nil
	}

	for _, b := range badges {
		if isMilestone(b) && !p.HasBadge(b) {
			p.Badges = append(p.Badges, b)
		}
	}
	sort.Ints(p.Badges)
	return p, nil
}

func isMilestone(v int) bool {
	for _, m := range common.StreakMilestones {
		if m == v {
			return true
		}
	}
	return false
}

type Report struct {
	Users    int `json:"users"`
	Migrated int `json:"migrated"`
	Skipped  int `json:"skipped"`
	Empty    int `json:"empty"`
}

// Migrator 写入进度、最后一天的打卡守卫和排行榜分数
type Migrator struct {
	src       Source
	store     kv.Store
	cal       *season.Calendar
	cfg       common.StreakConfig
	overwrite bool
}

func NewMigrator(src Source, store kv.Store, cal *season.Calendar, cfg common.StreakConfig, overwrite bool) *Migrator {
	return &Migrator{src: src, store: store, cal: cal, cfg: cfg, overwrite: overwrite}
}

func (m *Migrator) Run(ctx context.Context, seasonID string) (*Report, error) {
	sn, err := m.cal.Lookup(seasonID)
	if err != nil {
		return nil, err
	}
	fids, err := m.src.FIDs(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{Users: len(fids)}
	for _, fid := range fids {
		done, err := m.migrateOne(ctx, sn, fid)
		if err != nil {
			return report, fmt.Errorf("migrate fid %d: %w", fid, err)
		}
		switch done {
		case outcomeMigrated:
			report.Migrated++
		case outcomeSkipped:
			report.Skipped++
		case outcomeEmpty:
			report.Empty++
		}
	}
	common.WithFields(logrus.Fields{
		"season":   sn.ID,
		"users":    report.Users,
		"migrated": report.Migrated,
		"skipped":  report.Skipped,
		"empty":    report.Empty,
	}).Info("legacy migration finished")
	return report, nil
}

type outcome int

const (
	outcomeMigrated outcome = iota
	outcomeSkipped
	outcomeEmpty
)

func (m *Migrator) migrateOne(ctx context.Context, sn season.Season, fid int64) (outcome, error) {
	key := kv.ParticipationKey(sn.ID, fid)
	if !m.overwrite {
		_, exists, err := m.store.Get(ctx, key)
		if err != nil {
			return 0, err
		}
		if exists {
			return outcomeSkipped, nil
		}
	}

	claims, err := m.src.Claims(ctx, fid)
	if err != nil {
		return 0, err
	}
	badges, err := m.src.Badges(ctx, fid)
	if err != nil {
		return 0, err
	}
	p, err := BuildParticipation(fid, claims, badges, sn, m.cfg.XPPerClaim)
	if err != nil {
		return 0, err
	}
	if p == nil {
		return outcomeEmpty, nil
	}
	p.UpdatedAt = time.Now().UTC()

	if err := kv.SetJSON(ctx, m.store, key, p, 0); err != nil {
		return 0, err
	}
	guard := kv.ClaimGuardKey(sn.ID, fid, p.LastClaimedDayIdx)
	if err := m.store.Set(ctx, guard, p.UpdatedAt.Format(time.RFC3339), m.cfg.ClaimGuardTTL); err != nil {
		return 0, err
	}
	if err := m.store.ZAdd(ctx, kv.LeaderboardKey(sn.ID), kv.FIDMember(fid), float64(p.TotalXP)); err != nil {
		return 0, err
	}
	return outcomeMigrated, nil
}
