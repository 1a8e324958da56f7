package logic

import (
	"fmt"
	"net/http"
	"time"

	"basebox-backend/internal/achievement"
	"basebox-backend/internal/capsule"
	"basebox-backend/internal/common"
	"basebox-backend/internal/farcaster"
	"basebox-backend/internal/kv"
	"basebox-backend/internal/nft"
	"basebox-backend/internal/referral"
	"basebox-backend/internal/season"
	"basebox-backend/internal/streak"
)

// Options 可替换的外部依赖，测试时注入
type Options struct {
	Eligibility streak.Eligibility
	HTTPClient  *http.Client
	Now         func() time.Time
}

// Server 持有各业务服务，handler 都挂在它上面
type Server struct {
	cfg          *common.Config
	store        kv.Store
	capsules     *capsule.Service
	streaks      *streak.Service
	achievements *achievement.Tracker
	referrals    *referral.Service
	notifier     *farcaster.Notifier
	nft          *nft.Builder
	hub          *Hub
	now          func() time.Time
}

// NewServer 组装服务并连接事件回调
func NewServer(cfg *common.Config, store kv.Store, opts Options) (*Server, error) {
	cal, err := season.FromConfig(cfg.Season)
	if err != nil {
		return nil, fmt.Errorf("build season calendar: %w", err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	eligibility := opts.Eligibility
	if eligibility == nil {
		if cfg.Farcaster.RequireCast {
			if cfg.Farcaster.NeynarAPIKey == "" {
				common.Warn("farcaster.neynar_api_key is empty, cast checks will fail")
			}
			eligibility = farcaster.NewNeynarClient(cfg.Farcaster, cfg.App.BaseURL, opts.HTTPClient)
		} else {
			eligibility = farcaster.AllowAll{}
		}
	}

	tracker := achievement.NewTracker(store)
	capsules := capsule.NewService(capsule.NewRepo(store), cfg.Capsule).WithClock(now)
	capsules.SetEvents(tracker)
	streaks := streak.NewService(store, cal, cfg.Streak, eligibility).WithClock(now)
	streaks.SetEvents(tracker)

	hub := NewHub(streaks)
	streaks.SetPublisher(hub)

	return &Server{
		cfg:          cfg,
		store:        store,
		capsules:     capsules,
		streaks:      streaks,
		achievements: tracker,
		referrals:    referral.NewService(store, tracker),
		notifier:     farcaster.NewNotifier(store, cfg.App.BaseURL, opts.HTTPClient),
		nft:          nft.NewBuilder(cfg.App, cfg.Chain),
		hub:          hub,
		now:          now,
	}, nil
}

func (s *Server) Hub() *Hub {
	return s.hub
}
