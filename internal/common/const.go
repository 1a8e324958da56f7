package common

import "time"

const (
	AppName = "Base Box"

	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// 容量与默认值
const (
	DefaultMaxMessageChars = 1000
	DefaultMaxImageBytes   = 5 * 1024 * 1024
	DefaultMaxDurationDays = 3650

	DefaultXPPerClaim    = 10
	DefaultClaimGuardTTL = 72 * time.Hour

	DefaultAdminSessionTTL = 24 * time.Hour

	DefaultLeaderboardLimit = 50
	MaxLeaderboardLimit     = 100

	DefaultSeasonID    = "season_1"
	DefaultSeasonStart = "2025-11-01T00:00:00Z"

	DefaultUnlockCron   = "0 */5 * * * *"
	DefaultReminderCron = "0 30 20 * * *"

	DefaultNeynarBaseURL = "https://api.neynar.com"
	DefaultCastKeyword   = "basebox"
)

// StreakMilestones 连续打卡徽章，只在恰好达到时发放
var StreakMilestones = []int{7, 14, 21, 30}
