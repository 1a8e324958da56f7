// Package referral 邀请码：每个用户一个码，每个用户只能被邀请一次。
package referral

import (
	"context"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"basebox-backend/internal/common"
	"basebox-backend/internal/kv"
)

const (
	codeLength   = 8
	codeAttempts = 5
)

// 业务拒绝文案
const (
	ReasonInvalidCode     = "Invalid referral code"
	ReasonSelfReferral    = "You cannot use your own referral code"
	ReasonAlreadyReferred = "Referral already redeemed"
)

// Rewarder 邀请成功后给邀请人发成就
type Rewarder interface {
	OnReferral(ctx context.Context, referrer int64, total int) ([]string, error)
}

type Service struct {
	store    kv.Store
	rewarder Rewarder
}

func NewService(store kv.Store, rewarder Rewarder) *Service {
	return &Service{store: store, rewarder: rewarder}
}

// NewCode 取 ULID 随机段的后 8 位
func NewCode() string {
	id := ulid.Make().String()
	return id[len(id)-codeLength:]
}

// Code 返回用户的邀请码，没有则生成
func (s *Service) Code(ctx context.Context, fid int64) (string, error) {
	if fid <= 0 {
		return "", common.NewInvalid("fid is required")
	}
	existing, ok, err := s.store.Get(ctx, kv.UserReferralCodeKey(fid))
	if err != nil {
		return "", common.NewInternal("Failed to fetch referral code", err)
	}
	if ok {
		return existing, nil
	}

	for attempt := 0; attempt < codeAttempts; attempt++ {
		code := NewCode()
		reserved, err := s.store.SetNX(ctx, kv.ReferralCodeKey(code), kv.FIDMember(fid), 0)
		if err != nil {
			return "", common.NewInternal("Failed to create referral code", err)
		}
		if !reserved {
			continue
		}
		assigned, err := s.store.SetNX(ctx, kv.UserReferralCodeKey(fid), code, 0)
		if err != nil {
			return "", common.NewInternal("Failed to create referral code", err)
		}
		if !assigned {
			// 并发请求已经分配过
			if _, err := s.store.Del(ctx, kv.ReferralCodeKey(code)); err != nil {
				common.WithFields(logrus.Fields{"code": code, "error": err}).Warn("drop unused referral code failed")
			}
			existing, _, err := s.store.Get(ctx, kv.UserReferralCodeKey(fid))
			if err != nil {
				return "", common.NewInternal("Failed to fetch referral code", err)
			}
			return existing, nil
		}
		common.WithFields(logrus.Fields{"fid": fid, "code": code}).Info("referral code created")
		return code, nil
	}
	return "", common.NewConflict("Could not allocate a referral code, please retry")
}

type RedeemResult struct {
	OK           bool
	Reason       string
	Referrer     int64
	Achievements []string
}

func reject(reason string) *RedeemResult {
	return &RedeemResult{OK: false, Reason: reason}
}

// Redeem 使用邀请码，被拒绝时返回 OK=false
func (s *Service) Redeem(ctx context.Context, fid int64, code string) (*RedeemResult, error) {
	if fid <= 0 {
		return nil, common.NewInvalid("fid is required")
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, common.NewInvalid("Referral code is required")
	}

	raw, ok, err := s.store.Get(ctx, kv.ReferralCodeKey(code))
	if err != nil {
		return nil, common.NewInternal("Failed to redeem referral code", err)
	}
	if !ok {
		return reject(ReasonInvalidCode), nil
	}
	referrer, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, common.NewInternal("Failed to redeem referral code", err)
	}
	if referrer == fid {
		return reject(ReasonSelfReferral), nil
	}

	stored, err := s.store.SetNX(ctx, kv.UserReferredByKey(fid), raw, 0)
	if err != nil {
		return nil, common.NewInternal("Failed to redeem referral code", err)
	}
	if !stored {
		return reject(ReasonAlreadyReferred), nil
	}
	if _, err := s.store.SAdd(ctx, kv.UserReferralsKey(referrer), kv.FIDMember(fid)); err != nil {
		// 邀请人没记上就释放标记，允许重试
		if _, delErr := s.store.Del(ctx, kv.UserReferredByKey(fid)); delErr != nil {
			common.WithFields(logrus.Fields{"fid": fid, "error": delErr}).Error("release referred-by marker failed")
		}
		return nil, common.NewInternal("Failed to redeem referral code", err)
	}

	res := &RedeemResult{OK: true, Referrer: referrer}
	common.WithFields(logrus.Fields{"fid": fid, "referrer": referrer}).Info("referral redeemed")

	if s.rewarder != nil {
		members, err := s.store.SMembers(ctx, kv.UserReferralsKey(referrer))
		if err != nil {
			return nil, common.NewInternal("Failed to redeem referral code", err)
		}
		unlocked, err := s.rewarder.OnReferral(ctx, referrer, len(members))
		if err != nil {
			common.WithFields(logrus.Fields{"referrer": referrer, "error": err}).Warn("referral reward failed")
		}
		res.Achievements = unlocked
	}
	return res, nil
}

type Summary struct {
	FID        int64  `json:"fid"`
	Code       string `json:"code,omitempty"`
	Referrals  int    `json:"referrals"`
	ReferredBy int64  `json:"referredBy,omitempty"`
}

func (s *Service) Summary(ctx context.Context, fid int64) (*Summary, error) {
	if fid <= 0 {
		return nil, common.NewInvalid("fid is required")
	}
	sum := &Summary{FID: fid}

	code, _, err := s.store.Get(ctx, kv.UserReferralCodeKey(fid))
	if err != nil {
		return nil, common.NewInternal("Failed to fetch referrals", err)
	}
	sum.Code = code

	members, err := s.store.SMembers(ctx, kv.UserReferralsKey(fid))
	if err != nil {
		return nil, common.NewInternal("Failed to fetch referrals", err)
	}
	sum.Referrals = len(members)

	by, ok, err := s.store.Get(ctx, kv.UserReferredByKey(fid))
	if err != nil {
		return nil, common.NewInternal("Failed to fetch referrals", err)
	}
	if ok {
		sum.ReferredBy, _ = strconv.ParseInt(by, 10, 64)
	}
	return sum, nil
}
