// Package season 赛季日历：把墙上时间换算成赛季内从 0 开始的天序号。
package season

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"basebox-backend/internal/common"
)

const dayMillis = int64(24 * time.Hour / time.Millisecond)

var ErrUnknownSeason = errors.New("unknown season")

// Season Days 为 0 表示不设结束
type Season struct {
	ID    string    `json:"id"`
	Start time.Time `json:"start"`
	Days  int       `json:"days"`
}

// Ended 天序号超出赛季长度
func (s Season) Ended(dayIdx int) bool {
	return s.Days > 0 && dayIdx >= s.Days
}

type Calendar struct {
	seasons   map[string]Season
	defaultID string
}

// New 从配置构造日历，默认赛季必须存在
func New(specs []common.SeasonSpec, defaultID string) (*Calendar, error) {
	cal := &Calendar{seasons: make(map[string]Season, len(specs)), defaultID: defaultID}
	for _, spec := range specs {
		start, err := time.Parse(time.RFC3339, spec.Start)
		if err != nil {
			return nil, fmt.Errorf("season %s: invalid start: %w", spec.ID, err)
		}
		if _, dup := cal.seasons[spec.ID]; dup {
			return nil, fmt.Errorf("duplicate season id: %s", spec.ID)
		}
		cal.seasons[spec.ID] = Season{ID: spec.ID, Start: start.UTC(), Days: spec.Days}
	}
	if _, ok := cal.seasons[defaultID]; !ok {
		return nil, fmt.Errorf("default season %q is not configured", defaultID)
	}
	return cal, nil
}

// FromConfig 便捷构造
func FromConfig(cfg common.SeasonConfig) (*Calendar, error) {
	return New(cfg.Seasons, cfg.DefaultID)
}

func (c *Calendar) DefaultID() string {
	return c.defaultID
}

// Lookup 空 id 取默认赛季
func (c *Calendar) Lookup(seasonID string) (Season, error) {
	if seasonID == "" {
		seasonID = c.defaultID
	}
	s, ok := c.seasons[seasonID]
	if !ok {
		return Season{}, fmt.Errorf("%w: %s", ErrUnknownSeason, seasonID)
	}
	return s, nil
}

// Seasons 按开始时间排序
func (c *Calendar) Seasons() []Season {
	out := make([]Season, 0, len(c.seasons))
	for _, s := range c.seasons {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// DayIndex floor((now - start) / 1 天)，开赛前为 0
func (c *Calendar) DayIndex(seasonID string, now time.Time) (int, error) {
	s, err := c.Lookup(seasonID)
	if err != nil {
		return 0, err
	}
	return DayIndex(s.Start, now), nil
}

// DayStart 某天窗口的起始时间
func (c *Calendar) DayStart(seasonID string, dayIdx int) (time.Time, error) {
	s, err := c.Lookup(seasonID)
	if err != nil {
		return time.Time{}, err
	}
	return s.Start.Add(time.Duration(dayIdx) * 24 * time.Hour), nil
}

// DayIndexAt 用于迁移旧数据，按日期换算
func (s Season) DayIndexAt(t time.Time) int {
	return DayIndex(s.Start, t)
}

func DayIndex(start, now time.Time) int {
	elapsed := now.UnixMilli() - start.UnixMilli()
	if elapsed <= 0 {
		return 0
	}
	return int(elapsed / dayMillis)
}
