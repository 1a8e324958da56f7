package streak

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"basebox-backend/internal/common"
	"basebox-backend/internal/kv"
	"basebox-backend/internal/season"
)

// 业务拒绝文案，返回 200 + ok:false
const (
	ReasonAlreadyClaimed = "Already claimed today"
	ReasonNoCast         = "No qualifying cast found"
	ReasonSeasonEnded    = "Season has ended"
)

// Eligibility 打卡前置条件：当天发过符合要求的 cast
type Eligibility interface {
	HasQualifyingCast(ctx context.Context, fid int64, since time.Time) (bool, error)
}

// Publisher 打卡成功后推送给实时排行榜
type Publisher interface {
	PublishClaim(ev ClaimEvent)
}

// Events 打卡成功回调，返回新解锁的成就 id
type Events interface {
	OnStreakClaimed(ctx context.Context, p *Participation) ([]string, error)
}

type ClaimEvent struct {
	SeasonID      string    `json:"seasonId"`
	FID           int64     `json:"fid"`
	TotalXP       int       `json:"totalXp"`
	CurrentStreak int       `json:"currentStreak"`
	Rank          int       `json:"rank,omitempty"`
	At            time.Time `json:"at"`
}

// ClaimResult OK 为 false 时 Reason 给出拒绝原因
type ClaimResult struct {
	OK            bool
	Reason        string
	SeasonID      string
	DayIdx        int
	Points        int
	Participation *Participation
	GrantedBadges []int
	Achievements  []string
}

type Service struct {
	store       kv.Store
	cal         *season.Calendar
	cfg         common.StreakConfig
	eligibility Eligibility
	publisher   Publisher
	events      Events
	milestones  []int
	now         func() time.Time
}

func NewService(store kv.Store, cal *season.Calendar, cfg common.StreakConfig, eligibility Eligibility) *Service {
	return &Service{
		store:       store,
		cal:         cal,
		cfg:         cfg,
		eligibility: eligibility,
		milestones:  common.StreakMilestones,
		now:         time.Now,
	}
}

func (s *Service) SetPublisher(p Publisher) {
	s.publisher = p
}

func (s *Service) SetEvents(e Events) {
	s.events = e
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Calendar() *season.Calendar {
	return s.cal
}

func (s *Service) lookup(seasonID string) (season.Season, error) {
	sn, err := s.cal.Lookup(seasonID)
	if errors.Is(err, season.ErrUnknownSeason) {
		return season.Season{}, common.NewInvalid("Unknown season")
	}
	return sn, err
}

func rejected(seasonID string, dayIdx int, reason string) *ClaimResult {
	return &ClaimResult{OK: false, Reason: reason, SeasonID: seasonID, DayIdx: dayIdx}
}

// Claim 每日打卡：
// 读守卫快速拒绝 -> 资格检查 -> SetNX 抢守卫 -> 更新进度 -> 更新排行榜。
// 进度写失败时删除守卫，允许用户重试。
func (s *Service) Claim(ctx context.Context, fid int64, seasonID string) (*ClaimResult, error) {
	if fid <= 0 {
		return nil, common.NewInvalid("fid is required")
	}
	sn, err := s.lookup(seasonID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	dayIdx := sn.DayIndexAt(now)
	log := common.WithFields(logrus.Fields{"fid": fid, "season": sn.ID, "day": dayIdx})

	if sn.Ended(dayIdx) {
		return rejected(sn.ID, dayIdx, ReasonSeasonEnded), nil
	}

	guardKey := kv.ClaimGuardKey(sn.ID, fid, dayIdx)
	_, claimed, err := s.store.Get(ctx, guardKey)
	if err != nil {
		return nil, common.NewInternal("Failed to check claim", err)
	}
	if claimed {
		return rejected(sn.ID, dayIdx, ReasonAlreadyClaimed), nil
	}

	dayStart, _ := s.cal.DayStart(sn.ID, dayIdx)
	eligible, err := s.eligibility.HasQualifyingCast(ctx, fid, dayStart)
	if err != nil {
		return nil, common.NewInternal("Failed to verify cast", err)
	}
	if !eligible {
		return rejected(sn.ID, dayIdx, ReasonNoCast), nil
	}

	stored, err := s.store.SetNX(ctx, guardKey, now.Format(time.RFC3339), s.cfg.ClaimGuardTTL)
	if err != nil {
		return nil, common.NewInternal("Failed to record claim", err)
	}
	if !stored {
		log.Info("claim lost race on guard")
		return rejected(sn.ID, dayIdx, ReasonAlreadyClaimed), nil
	}

	release := func() {
		if _, err := s.store.Del(ctx, guardKey); err != nil {
			log.WithField("error", err).Error("release claim guard failed")
		}
	}

	prev, err := s.participation(ctx, sn.ID, fid)
	if err != nil {
		release()
		return nil, common.NewInternal("Failed to load participation", err)
	}
	next, granted, err := Advance(prev, fid, sn.ID, dayIdx, s.cfg.XPPerClaim, s.milestones, now)
	if err != nil {
		// 守卫过期后同一天重复请求
		log.WithField("error", err).Warn("stale claim day")
		return rejected(sn.ID, dayIdx, ReasonAlreadyClaimed), nil
	}
	if err := kv.SetJSON(ctx, s.store, kv.ParticipationKey(sn.ID, fid), next, 0); err != nil {
		release()
		return nil, common.NewInternal("Failed to save participation", err)
	}

	member := kv.FIDMember(fid)
	if err := s.store.ZAdd(ctx, kv.LeaderboardKey(sn.ID), member, float64(next.TotalXP)); err != nil {
		// 下次打卡会重新写入分数
		log.WithField("error", err).Error("update leaderboard failed")
	}

	log.WithFields(logrus.Fields{
		"streak":   next.CurrentStreak,
		"total_xp": next.TotalXP,
		"badges":   granted,
	}).Info("claim succeeded")

	res := &ClaimResult{
		OK:            true,
		SeasonID:      sn.ID,
		DayIdx:        dayIdx,
		Points:        s.cfg.XPPerClaim,
		Participation: next,
		GrantedBadges: granted,
	}

	if s.events != nil {
		unlocked, err := s.events.OnStreakClaimed(ctx, next)
		if err != nil {
			log.WithField("error", err).Warn("streak event hook failed")
		}
		res.Achievements = unlocked
	}

	if s.publisher != nil {
		ev := ClaimEvent{SeasonID: sn.ID, FID: fid, TotalXP: next.TotalXP, CurrentStreak: next.CurrentStreak, At: now}
		if rank, ok, err := s.store.ZRevRank(ctx, kv.LeaderboardKey(sn.ID), member); err == nil && ok {
			ev.Rank = int(rank) + 1
		}
		s.publisher.PublishClaim(ev)
	}
	return res, nil
}

func (s *Service) participation(ctx context.Context, seasonID string, fid int64) (*Participation, error) {
	var p Participation
	ok, err := kv.GetJSON(ctx, s.store, kv.ParticipationKey(seasonID, fid), &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

// Status 打卡页展示用
type Status struct {
	SeasonID      string         `json:"seasonId"`
	DayIdx        int            `json:"dayIdx"`
	ClaimedToday  bool           `json:"claimedToday"`
	SeasonEnded   bool           `json:"seasonEnded"`
	Participation *Participation `json:"participation"`
}

func (s *Service) Status(ctx context.Context, fid int64, seasonID string) (*Status, error) {
	if fid <= 0 {
		return nil, common.NewInvalid("fid is required")
	}
	sn, err := s.lookup(seasonID)
	if err != nil {
		return nil, err
	}
	dayIdx := sn.DayIndexAt(s.now().UTC())

	p, err := s.participation(ctx, sn.ID, fid)
	if err != nil {
		return nil, common.NewInternal("Failed to load participation", err)
	}
	_, claimed, err := s.store.Get(ctx, kv.ClaimGuardKey(sn.ID, fid, dayIdx))
	if err != nil {
		return nil, common.NewInternal("Failed to check claim", err)
	}
	if p == nil {
		p = &Participation{FID: fid, SeasonID: sn.ID, Badges: []int{}}
	} else if p.LastClaimedDayIdx == dayIdx {
		claimed = true
	}
	// 断签后展示为 0
	if p.CurrentStreak > 0 && dayIdx > p.LastClaimedDayIdx+1 {
		p.CurrentStreak = 0
	}
	return &Status{
		SeasonID:      sn.ID,
		DayIdx:        dayIdx,
		ClaimedToday:  claimed,
		SeasonEnded:   sn.Ended(dayIdx),
		Participation: p,
	}, nil
}

type LeaderboardItem struct {
	Rank          int   `json:"rank"`
	FID           int64 `json:"fid"`
	TotalXP       int   `json:"totalXp"`
	CurrentStreak int   `json:"currentStreak"`
	LongestStreak int   `json:"longestStreak"`
}

type Leaderboard struct {
	SeasonID string            `json:"seasonId"`
	Items    []LeaderboardItem `json:"items"`
	Me       *LeaderboardItem  `json:"me,omitempty"`
}

// ClampLimit 默认 50，最多 100
func ClampLimit(limit int) int {
	if limit <= 0 {
		return common.DefaultLeaderboardLimit
	}
	if limit > common.MaxLeaderboardLimit {
		return common.MaxLeaderboardLimit
	}
	return limit
}

// Leaderboard fid 大于 0 时附带本人排名
func (s *Service) Leaderboard(ctx context.Context, seasonID string, limit int, fid int64) (*Leaderboard, error) {
	sn, err := s.lookup(seasonID)
	if err != nil {
		return nil, err
	}
	key := kv.LeaderboardKey(sn.ID)
	members, err := s.store.ZRevRange(ctx, key, 0, int64(ClampLimit(limit)-1))
	if err != nil {
		return nil, common.NewInternal("Failed to fetch leaderboard", err)
	}

	board := &Leaderboard{SeasonID: sn.ID, Items: make([]LeaderboardItem, 0, len(members))}
	for i, m := range members {
		memberFID, err := strconv.ParseInt(m.Member, 10, 64)
		if err != nil {
			continue
		}
		item, err := s.item(ctx, sn.ID, memberFID, i+1, m.Score)
		if err != nil {
			return nil, err
		}
		board.Items = append(board.Items, item)
		if memberFID == fid {
			me := item
			board.Me = &me
		}
	}

	if fid > 0 && board.Me == nil {
		member := kv.FIDMember(fid)
		rank, ok, err := s.store.ZRevRank(ctx, key, member)
		if err != nil {
			return nil, common.NewInternal("Failed to fetch leaderboard", err)
		}
		if ok {
			score, _, err := s.store.ZScore(ctx, key, member)
			if err != nil {
				return nil, common.NewInternal("Failed to fetch leaderboard", err)
			}
			me, err := s.item(ctx, sn.ID, fid, int(rank)+1, score)
			if err != nil {
				return nil, err
			}
			board.Me = &me
		}
	}
	return board, nil
}

func (s *Service) item(ctx context.Context, seasonID string, fid int64, rank int, score float64) (LeaderboardItem, error) {
	item := LeaderboardItem{Rank: rank, FID: fid, TotalXP: int(score)}
	p, err := s.participation(ctx, seasonID, fid)
	if err != nil {
		return item, common.NewInternal("Failed to fetch leaderboard", err)
	}
	if p != nil {
		item.CurrentStreak = p.CurrentStreak
		item.LongestStreak = p.LongestStreak
	}
	return item, nil
}
