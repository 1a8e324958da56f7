package logic

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"basebox-backend/internal/streak"
)

type claimRequest struct {
	FID      json.Number `json:"fid"`
	SeasonID string      `json:"seasonId"`
}

// ClaimHandler 每日打卡，业务拒绝返回 200 + ok:false
func (s *Server) ClaimHandler(c *gin.Context) {
	var req claimRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, keyOK, err)
		return
	}
	fid, err := parseFID(req.FID.String())
	if err != nil {
		s.fail(c, keyOK, err)
		return
	}

	res, err := s.streaks.Claim(c.Request.Context(), fid, req.SeasonID)
	if err != nil {
		s.fail(c, keyOK, err)
		return
	}
	if !res.OK {
		reject(c, keyOK, res.Reason)
		return
	}
	p := res.Participation
	c.JSON(http.StatusOK, gin.H{
		keyOK:           true,
		"seasonId":      res.SeasonID,
		"dayIdx":        res.DayIdx,
		"points":        res.Points,
		"currentStreak": p.CurrentStreak,
		"longestStreak": p.LongestStreak,
		"totalXp":       p.TotalXP,
		"grantedBadges": nonNilInts(res.GrantedBadges),
		"achievements":  nonNil(res.Achievements),
	})
}

func nonNilInts(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}

// StreakHandler 打卡状态
func (s *Server) StreakHandler(c *gin.Context) {
	fid, err := queryFID(c)
	if err != nil {
		s.fail(c, keyOK, err)
		return
	}
	st, err := s.streaks.Status(c.Request.Context(), fid, c.Query("seasonId"))
	if err != nil {
		s.fail(c, keyOK, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		keyOK:           true,
		"seasonId":      st.SeasonID,
		"dayIdx":        st.DayIdx,
		"claimedToday":  st.ClaimedToday,
		"seasonEnded":   st.SeasonEnded,
		"participation": st.Participation,
	})
}

// LeaderboardHandler limit 非法时按默认值处理
func (s *Server) LeaderboardHandler(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	var fid int64
	if c.Query("fid") != "" {
		var err error
		if fid, err = queryFID(c); err != nil {
			s.fail(c, keyOK, err)
			return
		}
	}
	lb, err := s.streaks.Leaderboard(c.Request.Context(), c.Query("seasonId"), streak.ClampLimit(limit), fid)
	if err != nil {
		s.fail(c, keyOK, err)
		return
	}
	body := gin.H{keyOK: true, "seasonId": lb.SeasonID, "items": lb.Items}
	if lb.Me != nil {
		body["me"] = lb.Me
	}
	c.JSON(http.StatusOK, body)
}

// AchievementsHandler 成就目录和解锁状态
func (s *Server) AchievementsHandler(c *gin.Context) {
	fid, err := queryFID(c)
	if err != nil {
		s.fail(c, keySuccess, err)
		return
	}
	sum, err := s.achievements.Summary(c.Request.Context(), fid)
	if err != nil {
		s.fail(c, keySuccess, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		keySuccess:     true,
		"fid":          sum.FID,
		"achievements": sum.Achievements,
		"unlocked":     sum.Unlocked,
		"total":        sum.Total,
		"stats":        sum.Stats,
	})
}

func (s *Server) ReferralHandler(c *gin.Context) {
	fid, err := queryFID(c)
	if err != nil {
		s.fail(c, keySuccess, err)
		return
	}
	sum, err := s.referrals.Summary(c.Request.Context(), fid)
	if err != nil {
		s.fail(c, keySuccess, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{keySuccess: true, "referral": sum})
}

type referralRequest struct {
	FID  json.Number `json:"fid"`
	Code string      `json:"code"`
}

// ReferralCodeHandler 没有邀请码时生成一个
func (s *Server) ReferralCodeHandler(c *gin.Context) {
	var req referralRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, keySuccess, err)
		return
	}
	fid, err := parseFID(req.FID.String())
	if err != nil {
		s.fail(c, keySuccess, err)
		return
	}
	code, err := s.referrals.Code(c.Request.Context(), fid)
	if err != nil {
		s.fail(c, keySuccess, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{keySuccess: true, "code": code})
}

func (s *Server) RedeemReferralHandler(c *gin.Context) {
	var req referralRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, keySuccess, err)
		return
	}
	fid, err := parseFID(req.FID.String())
	if err != nil {
		s.fail(c, keySuccess, err)
		return
	}
	res, err := s.referrals.Redeem(c.Request.Context(), fid, req.Code)
	if err != nil {
		s.fail(c, keySuccess, err)
		return
	}
	if !res.OK {
		reject(c, keySuccess, res.Reason)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		keySuccess:     true,
		"referrer":     res.Referrer,
		"achievements": nonNil(res.Achievements),
	})
}
