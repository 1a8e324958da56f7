package kv

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	CapsulePrefix           = "capsule:"
	NotificationsEnabledKey = "notifications:enabled"
	adminSessionPrefix      = "admin:session:"
	referralCodePrefix      = "referral:code:"
	revealGuardPrefix       = "reveal:"
	unlockNotifiedPrefix    = "unlock-notified:"
)

func CapsuleKey(id string) string {
	return CapsulePrefix + id
}

// CapsuleIDFromKey 从 capsule:{id} 取出 id
func CapsuleIDFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, CapsulePrefix) {
		return "", false
	}
	id := strings.TrimPrefix(key, CapsulePrefix)
	return id, id != ""
}

// RevealGuardKey 揭晓只生效一次
func RevealGuardKey(id string) string {
	return revealGuardPrefix + id
}

// UnlockNotifiedKey 解锁通知标记，独立于胶囊记录
func UnlockNotifiedKey(id string) string {
	return unlockNotifiedPrefix + id
}

func UserCapsulesKey(fid int64) string {
	return userKey(fid, "capsules")
}

func UserAchievementsKey(fid int64) string {
	return userKey(fid, "achievements")
}

func UserStatsKey(fid int64) string {
	return userKey(fid, "stats")
}

func UserNotificationsKey(fid int64) string {
	return userKey(fid, "notifications")
}

func UserReferralCodeKey(fid int64) string {
	return userKey(fid, "referral:code")
}

func UserReferredByKey(fid int64) string {
	return userKey(fid, "referral:by")
}

func UserReferralsKey(fid int64) string {
	return userKey(fid, "referrals")
}

func ReferralCodeKey(code string) string {
	return referralCodePrefix + strings.ToUpper(code)
}

func ParticipationKey(seasonID string, fid int64) string {
	return fmt.Sprintf("season:%s:participation:%d", seasonID, fid)
}

func ClaimGuardKey(seasonID string, fid int64, dayIdx int) string {
	return fmt.Sprintf("season:%s:claim:%d:%d", seasonID, fid, dayIdx)
}

func LeaderboardKey(seasonID string) string {
	return fmt.Sprintf("season:%s:leaderboard", seasonID)
}

func AdminSessionKey(token string) string {
	return adminSessionPrefix + token
}

func FIDMember(fid int64) string {
	return strconv.FormatInt(fid, 10)
}

func userKey(fid int64, suffix string) string {
	return "user:" + strconv.FormatInt(fid, 10) + ":" + suffix
}
