// Package achievement 成就目录与解锁记录，统计数据存放在有序集合 user:{fid}:stats。
package achievement

const (
	FirstCapsule     = "first_capsule"
	CapsuleCollector = "capsule_collector"
	PicturePerfect   = "picture_perfect"
	TimeTraveler     = "time_traveler"
	FirstReveal      = "first_reveal"
	Streak1          = "streak_1"
	Streak7          = "streak_7"
	Streak30         = "streak_30"
	Streak100        = "streak_100"
	Recruiter        = "recruiter"
)

const (
	CategoryCapsule  = "capsule"
	CategoryStreak   = "streak"
	CategoryReferral = "referral"
)

// Definition 成就定义，Rule 根据统计判断是否达成
type Definition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Category    string `json:"category"`
	rule        func(Stats) bool
}

// Stats 用户累计统计
type Stats struct {
	CapsulesCreated  int     `json:"capsulesCreated"`
	CapsulesRevealed int     `json:"capsulesRevealed"`
	ImagesAttached   int     `json:"imagesAttached"`
	LongestLockDays  float64 `json:"longestLockDays"`
	LongestStreak    int     `json:"longestStreak"`
	Referrals        int     `json:"referrals"`
}

func streakAtLeast(n int) func(Stats) bool {
	return func(s Stats) bool { return s.LongestStreak >= n }
}

// Catalog 顺序即展示顺序
var Catalog = []Definition{
	{ID: FirstCapsule, Name: "First Capsule", Description: "Create your first time capsule", Icon: "📦", Category: CategoryCapsule,
		rule: func(s Stats) bool { return s.CapsulesCreated >= 1 }},
	{ID: CapsuleCollector, Name: "Capsule Collector", Description: "Create 5 time capsules", Icon: "🗃️", Category: CategoryCapsule,
		rule: func(s Stats) bool { return s.CapsulesCreated >= 5 }},
	{ID: PicturePerfect, Name: "Picture Perfect", Description: "Attach an image to a capsule", Icon: "🖼️", Category: CategoryCapsule,
		rule: func(s Stats) bool { return s.ImagesAttached >= 1 }},
	{ID: TimeTraveler, Name: "Time Traveler", Description: "Lock a capsule for a year or more", Icon: "⏳", Category: CategoryCapsule,
		rule: func(s Stats) bool { return s.LongestLockDays >= 365 }},
	{ID: FirstReveal, Name: "First Reveal", Description: "Reveal your first capsule", Icon: "🔓", Category: CategoryCapsule,
		rule: func(s Stats) bool { return s.CapsulesRevealed >= 1 }},
	{ID: Streak1, Name: "Getting Started", Description: "Claim your first daily streak", Icon: "🔥", Category: CategoryStreak,
		rule: streakAtLeast(1)},
	{ID: Streak7, Name: "Week Warrior", Description: "Reach a 7 day streak", Icon: "📅", Category: CategoryStreak,
		rule: streakAtLeast(7)},
	{ID: Streak30, Name: "Monthly Master", Description: "Reach a 30 day streak", Icon: "🏆", Category: CategoryStreak,
		rule: streakAtLeast(30)},
	{ID: Streak100, Name: "Centurion", Description: "Reach a 100 day streak", Icon: "💯", Category: CategoryStreak,
		rule: streakAtLeast(100)},
	{ID: Recruiter, Name: "Recruiter", Description: "Refer a friend to Base Box", Icon: "🤝", Category: CategoryReferral,
		rule: func(s Stats) bool { return s.Referrals >= 1 }},
}

// Earned 当前统计下满足条件的成就
func Earned(st Stats) []string {
	ids := make([]string, 0)
	for _, def := range Catalog {
		if def.rule(st) {
			ids = append(ids, def.ID)
		}
	}
	return ids
}

func Lookup(id string) (Definition, bool) {
	for _, def := range Catalog {
		if def.ID == id {
			return def, true
		}
	}
	return Definition{}, false
}
